package emath

import (
	"math"
	"sort"
)

// Grid operations for gradient-domain dynamic range compression: a 1-2-1
// binomial blur, 2x down/up sampling, gradient magnitudes and percentile
// ranges.

// GaussianBlur is a separable 1-2-1 blur, edges weighted 3-1.
func (g1 *FloatGrid) GaussianBlur() FloatGrid {
	width, height := g1.Dx(), g1.Dy()
	g2 := g1.NewFromThis()
	if width < 2 || height < 2 {
		copy(g2.values, g1.values)
		return g2
	}
	T := g1.NewFromThis()

	for y := 0; y < height; y++ {
		for x := 1; x < width-1; x++ {
			T.Set(x, y, (2*g1.Get(x, y)+g1.Get(x-1, y)+g1.Get(x+1, y))/4)
		}
		T.Set(0, y, (3*g1.Get(0, y)+g1.Get(1, y))/4)
		T.Set(width-1, y, (3*g1.Get(width-1, y)+g1.Get(width-2, y))/4)
	}

	for x := 0; x < width; x++ {
		for y := 1; y < height-1; y++ {
			g2.Set(x, y, (2*T.Get(x, y)+T.Get(x, y-1)+T.Get(x, y+1))/4)
		}
		g2.Set(x, 0, (3*T.Get(x, 0)+T.Get(x, 1))/4)
		g2.Set(x, height-1, (3*T.Get(x, height-1)+T.Get(x, height-2))/4)
	}
	return g2
}

// DownSample averages 2x2 blocks into a grid of half the size.
func (g1 *FloatGrid) DownSample() FloatGrid {
	width, height := g1.Dx()/2, g1.Dy()/2
	g2 := NewFloatGrid(width, height)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			p := g1.Get(2*x, 2*y) + g1.Get(2*x+1, 2*y) + g1.Get(2*x, 2*y+1) + g1.Get(2*x+1, 2*y+1)
			g2.Set(x, y, p/4)
		}
	}
	return g2
}

// UpSampleInto fills B, about twice the size of A, by replicating each
// value of A into a 2x2 block.
func (A *FloatGrid) UpSampleInto(B *FloatGrid) {
	aw, ah := A.Dx(), A.Dy()
	for y := 0; y < B.Dy(); y++ {
		for x := 0; x < B.Dx(); x++ {
			B.Set(x, y, A.Get(min(x/2, aw-1), min(y/2, ah-1)))
		}
	}
}

// Gradients returns central-difference gradient magnitudes at pyramid
// level depth, and their mean.
func (H *FloatGrid) Gradients(depth int) (FloatGrid, float64) {
	G := H.NewFromThis()
	width, height := H.Dx(), H.Dy()
	divider := math.Pow(2, float64(depth)+1)
	sum := 0.0
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			w, e := max(x-1, 0), min(x+1, width-1)
			n, s := max(y-1, 0), min(y+1, height-1)
			gx := (H.Get(w, y) - H.Get(e, y)) / divider
			gy := (H.Get(x, s) - H.Get(x, n)) / divider
			G.Set(x, y, math.Sqrt(gx*gx+gy*gy))
			sum += G.Get(x, y)
		}
	}
	return G, sum / float64(width*height)
}

// PercentileRange returns the values at the lo and hi fractions of the
// sorted non-zero, unmasked values.
func (fg *FloatGrid) PercentileRange(lo, hi float64) (float64, float64) {
	var vals []float64
	for _, v := range fg.values {
		if v != 0 && !math.IsNaN(v) {
			vals = append(vals, v)
		}
	}
	if len(vals) == 0 {
		return 0, 0
	}
	sort.Float64s(vals)
	iMin := max(int(lo*float64(len(vals))), 0)
	iMax := min(int(hi*float64(len(vals))), len(vals)-1)
	return vals[iMin], vals[iMax]
}
