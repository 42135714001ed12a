package restore

import (
	"image"
	"math"

	"github.com/abworrall/skymodel/pkg/coord"
	"github.com/abworrall/skymodel/pkg/emath"
)

// A Resampler maps one image grid onto another. Over a radio field a
// tangent-plane reprojection is affine to well under a pixel, so a single
// Aff3 (target pixel -> source pixel) is used for the whole overlap.
type Resampler struct {
	Rect  image.Rectangle // overlap, in target pixels
	XForm emath.Aff3      // target pixel -> source pixel

	snx, sny int
}

// NewResampler returns nil when the two grids do not overlap.
func NewResampler(src *coord.FITSWCSpix, snx, sny int, dst *coord.FITSWCSpix, tnx, tny int) *Resampler {
	// source outline, in target pixels
	xmin, ymin := math.Inf(1), math.Inf(1)
	xmax, ymax := math.Inf(-1), math.Inf(-1)
	sx, sy := float64(snx-1), float64(sny-1)
	outline := [][2]float64{{0, 0}, {sx, 0}, {0, sy}, {sx, sy}, {sx / 2, 0}, {sx / 2, sy}, {0, sy / 2}, {sx, sy / 2}}
	for _, p := range outline {
		x, y := dst.LM(src.RaDec(p[0], p[1]))
		if math.IsNaN(x) || math.IsNaN(y) {
			continue
		}
		xmin, xmax = math.Min(xmin, x), math.Max(xmax, x)
		ymin, ymax = math.Min(ymin, y), math.Max(ymax, y)
	}
	if math.IsInf(xmin, 1) {
		return nil
	}
	rect := image.Rect(int(math.Floor(xmin)), int(math.Floor(ymin)), int(math.Ceil(xmax))+1, int(math.Ceil(ymax))+1)
	rect = rect.Intersect(image.Rect(0, 0, tnx, tny))
	if rect.Empty() {
		return nil
	}

	x0, y0 := float64(rect.Min.X), float64(rect.Min.Y)
	x1, y1 := math.Max(float64(rect.Max.X-1), x0+1), math.Max(float64(rect.Max.Y-1), y0+1)
	tpts := [3][2]float64{{x0, y0}, {x1, y0}, {x0, y1}}
	var spts [3][2]float64
	for i, p := range tpts {
		spts[i][0], spts[i][1] = src.LM(dst.RaDec(p[0], p[1]))
	}
	xform, ok := emath.AffineFromPoints(tpts, spts)
	if !ok {
		return nil
	}
	return &Resampler{Rect: rect, XForm: xform, snx: snx, sny: sny}
}

// edge pixels that land a rounding error off the grid still count as on it
const edgeTol = 1e-6

// Coords returns the source pixel position of every target pixel in Rect,
// row by row. Positions off the source grid are NaN.
func (r *Resampler) Coords() [][2]float64 {
	out := make([][2]float64, 0, r.Rect.Dx()*r.Rect.Dy())
	for y := r.Rect.Min.Y; y < r.Rect.Max.Y; y++ {
		for x := r.Rect.Min.X; x < r.Rect.Max.X; x++ {
			sx, sy := r.XForm.Apply(float64(x), float64(y))
			if sx < -edgeTol || sy < -edgeTol || sx > float64(r.snx-1)+edgeTol || sy > float64(r.sny-1)+edgeTol {
				sx, sy = math.NaN(), math.NaN()
			} else {
				sx, sy = emath.Clip(sx, 0, float64(r.snx-1)), emath.Clip(sy, 0, float64(r.sny-1))
			}
			out = append(out, [2]float64{sx, sy})
		}
	}
	return out
}

// PixelArea is the number of source pixels covered by one target pixel.
func (r *Resampler) PixelArea() float64 {
	return math.Abs(r.XForm[0]*r.XForm[4] - r.XForm[1]*r.XForm[3])
}

// Resample interpolates src onto a tnx x tny target grid. Pixels outside
// the overlap, or mapping off the source, are NaN.
func (r *Resampler) Resample(src *emath.FloatGrid, tnx, tny int) *emath.FloatGrid {
	out := emath.NewFloatGrid(tnx, tny)
	out.Fill(math.NaN())
	coords := r.Coords()
	i := 0
	for y := r.Rect.Min.Y; y < r.Rect.Max.Y; y++ {
		for x := r.Rect.Min.X; x < r.Rect.Max.X; x++ {
			c := coords[i]
			i++
			if math.IsNaN(c[0]) {
				continue
			}
			out.Set(x, y, src.Bilinear(c[0], c[1]))
		}
	}
	return &out
}
