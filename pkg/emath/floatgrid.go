package emath

import (
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/fogleman/gg"
)

// A FloatGrid is a 2-D grid of floats, x fastest. NaN marks a masked
// (missing) value.
type FloatGrid struct {
	stride int
	values []float64
}

func NewFloatGrid(w, h int) FloatGrid {
	return FloatGrid{
		stride: w,
		values: make([]float64, w*h),
	}
}

// NewFloatGridFrom wraps vals (len w*h, x fastest) without copying.
func NewFloatGridFrom(w int, vals []float64) FloatGrid {
	return FloatGrid{stride: w, values: vals}
}

func (g1 *FloatGrid) NewFromThis() FloatGrid  { return NewFloatGrid(g1.Dx(), g1.Dy()) }
func (fg *FloatGrid) Set(x, y int, v float64) { fg.values[fg.stride*y+x] = v }
func (fg *FloatGrid) Get(x, y int) float64    { return fg.values[fg.stride*y+x] }
func (fg *FloatGrid) Add(x, y int, v float64) { fg.values[fg.stride*y+x] += v }
func (fg *FloatGrid) Dx() int                 { return fg.stride }
func (fg *FloatGrid) Values() []float64       { return fg.values }

func (fg *FloatGrid) Dy() int {
	if fg.stride == 0 {
		return 0
	}
	return len(fg.values) / fg.stride
}

func (fg *FloatGrid) In(x, y int) bool {
	return x >= 0 && y >= 0 && x < fg.Dx() && y < fg.Dy()
}

func (g1 *FloatGrid) Copy() *FloatGrid {
	g2 := FloatGrid{stride: g1.stride, values: make([]float64, len(g1.values))}
	copy(g2.values, g1.values)
	return &g2
}

// Fill sets every value.
func (fg *FloatGrid) Fill(v float64) {
	for i := range fg.values {
		fg.values[i] = v
	}
}

// Bilinear samples the grid at fractional pixel coords. Points outside the
// grid, or touching a masked value, return NaN.
func (fg *FloatGrid) Bilinear(x, y float64) float64 {
	w, h := fg.Dx(), fg.Dy()
	if x < 0 || y < 0 || x > float64(w-1) || y > float64(h-1) {
		return math.NaN()
	}
	x0, y0 := int(math.Floor(x)), int(math.Floor(y))
	x1, y1 := x0+1, y0+1
	if x1 >= w {
		x1 = x0
	}
	if y1 >= h {
		y1 = y0
	}
	fx, fy := x-float64(x0), y-float64(y0)
	v00, v10 := fg.Get(x0, y0), fg.Get(x1, y0)
	v01, v11 := fg.Get(x0, y1), fg.Get(x1, y1)
	return (v00*(1-fx)+v10*fx)*(1-fy) + (v01*(1-fx)+v11*fx)*fy
}

// MinMax ignores masked values; an all-masked grid gives (NaN, NaN).
func (fg *FloatGrid) MinMax() (float64, float64) {
	min, max := math.Inf(1), math.Inf(-1)
	for _, v := range fg.values {
		if math.IsNaN(v) {
			continue
		}
		if v > max {
			max = v
		}
		if v < min {
			min = v
		}
	}
	if min > max {
		return math.NaN(), math.NaN()
	}
	return min, max
}

func (fg *FloatGrid) Sum() float64 {
	s := 0.0
	for _, v := range fg.values {
		if !math.IsNaN(v) {
			s += v
		}
	}
	return s
}

func (fg *FloatGrid) Stats() string {
	min, max := fg.MinMax()
	return fmt.Sprintf("fg[%dx%d, vals{%f,%f}]", fg.Dx(), fg.Dy(), min, max)
}

// ToImg saves a simple grayscale, based on the range of values in the grid,
// gamma scaling the gray to look normal for human vision. Row 0 is drawn at
// the bottom, the way sky images are viewed. Masked values are transparent.
func (fg *FloatGrid) ToImg(title, filename string) error {
	min, max := fg.MinMax()
	span := max - min
	if span == 0 || math.IsNaN(span) {
		span = 1
	}

	h := fg.Dy()
	img := image.NewRGBA64(image.Rectangle{Max: image.Point{fg.Dx(), h}})
	for x := 0; x < fg.Dx(); x++ {
		for y := 0; y < h; y++ {
			lum := fg.Get(x, y)
			if math.IsNaN(lum) {
				continue
			}
			gray := uint16(GammaExpand_F64((lum-min)/span) * 65535.0)
			img.Set(x, h-1-y, color.RGBA64{gray, gray, gray, 0xFFFF})
		}
	}

	dc := gg.NewContextForImage(img)
	dc.SetRGB(1, 0.4, 0.4)
	dc.DrawString(title, 10, 20)
	return dc.SavePNG(filename)
}
