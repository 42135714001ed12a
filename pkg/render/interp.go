package render

import (
	"math"

	"github.com/abworrall/skymodel/pkg/emath"
)

// A Viewport maps display pixel (i, j) to data pixel
// (X0 + i*DX, Y0 + j*DY). Display row 0 is the top, so DY is usually
// negative. Viewports are compared by value.
type Viewport struct {
	X0, Y0 float64
	DX, DY float64
	W, H   int
}

// FitViewport shows the whole w×h data plane in a display of dw×dh
// pixels, north up.
func FitViewport(w, h, dw, dh int) Viewport {
	s := math.Max(float64(w)/float64(dw), float64(h)/float64(dh))
	return Viewport{
		X0: (float64(w)-1)/2 - s*(float64(dw)-1)/2,
		Y0: (float64(h)-1)/2 + s*(float64(dh)-1)/2,
		DX: s, DY: -s,
		W: dw, H: dh,
	}
}

// ToDisplay is the inverse mapping, data pixel to display pixel.
func (v Viewport) ToDisplay(x, y float64) (float64, float64) {
	return (x - v.X0) / v.DX, (y - v.Y0) / v.DY
}

// Density is data pixels per display pixel along the coarser axis.
func (v Viewport) Density() float64 { return math.Max(math.Abs(v.DX), math.Abs(v.DY)) }

// UseSpline reports whether the density allows spline interpolation;
// heavy over- or undersampling uses nearest neighbour.
func (v Viewport) UseSpline() bool {
	d := v.Density()
	return d >= 1.0/3 && d <= 2
}

// quadratic B-spline pole
var splinePole = math.Sqrt(8) - 3

// Prefilter computes quadratic B-spline coefficients of g along both
// axes. Masked pixels count as zero.
func Prefilter(g *emath.FloatGrid) *emath.FloatGrid {
	w, h := g.Dx(), g.Dy()
	out := emath.NewFloatGrid(w, h)
	src, dst := g.Values(), out.Values()
	for i, v := range src {
		if !math.IsNaN(v) {
			dst[i] = v
		}
	}
	line := make([]float64, max(w, h))
	for y := 0; y < h; y++ {
		row := line[:w]
		copy(row, dst[y*w:(y+1)*w])
		filter1D(row)
		copy(dst[y*w:], row)
	}
	for x := 0; x < w; x++ {
		col := line[:h]
		for y := range col {
			col[y] = dst[y*w+x]
		}
		filter1D(col)
		for y := range col {
			dst[y*w+x] = col[y]
		}
	}
	return &out
}

// filter1D is the causal/anticausal recursive filter with mirror
// boundaries.
func filter1D(c []float64) {
	n := len(c)
	if n < 2 {
		return
	}
	z := splinePole
	gain := (1 - z) * (1 - 1/z)
	for i := range c {
		c[i] *= gain
	}

	// initial causal coefficient, mirror boundary
	if horizon := int(math.Ceil(math.Log(1e-12) / math.Log(math.Abs(z)))); horizon < n {
		zn, sum := z, c[0]
		for k := 1; k < horizon; k++ {
			sum += zn * c[k]
			zn *= z
		}
		c[0] = sum
	} else {
		zn, iz := z, 1/z
		z2n := math.Pow(z, float64(n-1))
		sum := c[0] + z2n*c[n-1]
		z2n *= z2n * iz
		for k := 1; k <= n-2; k++ {
			sum += (zn + z2n) * c[k]
			zn *= z
			z2n *= iz
		}
		c[0] = sum / (1 - zn*zn)
	}
	for k := 1; k < n; k++ {
		c[k] += z * c[k-1]
	}
	c[n-1] = z / (z*z - 1) * (z*c[n-2] + c[n-1])
	for k := n - 2; k >= 0; k-- {
		c[k] = z * (c[k+1] - c[k])
	}
}

func mirror(i, n int) int {
	if n == 1 {
		return 0
	}
	p := 2 * (n - 1)
	i %= p
	if i < 0 {
		i += p
	}
	if i >= n {
		i = p - i
	}
	return i
}

// splineAt evaluates quadratic B-spline coefficients at (x, y).
func splineAt(coef *emath.FloatGrid, x, y float64) float64 {
	w, h := coef.Dx(), coef.Dy()
	ix, iy := math.Floor(x+0.5), math.Floor(y+0.5)
	tx, ty := x-ix, y-iy
	wx := [3]float64{0.5 * (0.5 - tx) * (0.5 - tx), 0.75 - tx*tx, 0.5 * (0.5 + tx) * (0.5 + tx)}
	wy := [3]float64{0.5 * (0.5 - ty) * (0.5 - ty), 0.75 - ty*ty, 0.5 * (0.5 + ty) * (0.5 + ty)}
	var sum float64
	for j := 0; j < 3; j++ {
		yy := mirror(int(iy)+j-1, h)
		var rs float64
		for i := 0; i < 3; i++ {
			rs += wx[i] * coef.Get(mirror(int(ix)+i-1, w), yy)
		}
		sum += wy[j] * rs
	}
	return sum
}

// Resample evaluates g on the viewport grid. coef holds the spline
// coefficients of g, or nil for nearest neighbour. Samples outside g, or
// nearest to a masked pixel, are NaN.
func Resample(g, coef *emath.FloatGrid, vp Viewport) []float64 {
	w, h := g.Dx(), g.Dy()
	out := make([]float64, vp.W*vp.H)
	for j := 0; j < vp.H; j++ {
		y := vp.Y0 + float64(j)*vp.DY
		for i := 0; i < vp.W; i++ {
			x := vp.X0 + float64(i)*vp.DX
			nx, ny := int(math.Floor(x+0.5)), int(math.Floor(y+0.5))
			k := j*vp.W + i
			if nx < 0 || ny < 0 || nx >= w || ny >= h {
				out[k] = math.NaN()
				continue
			}
			nearest := g.Get(nx, ny)
			if coef == nil || math.IsNaN(nearest) {
				out[k] = nearest
				continue
			}
			out[k] = splineAt(coef, x, y)
		}
	}
	return out
}
