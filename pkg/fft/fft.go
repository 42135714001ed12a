// Package fft holds the 2-D transforms built on gonum's dsp/fourier: a
// direct-DCT Poisson solver with Neumann boundaries (used by the fattal02
// dynamic range compressor) and FFT convolution (used to convolve model
// images with a restoring beam).
package fft

import (
	"math"

	"gonum.org/v1/gonum/dsp/fourier"

	"github.com/abworrall/skymodel/pkg/emath"
)

// dct2D applies the unnormalized DCT-I along both axes. Axes shorter
// than 2 are left as they are.
func dct2D(A emath.FloatGrid) emath.FloatGrid {
	width, height := A.Dx(), A.Dy()
	T := *A.Copy()
	vals := T.Values()
	if width > 1 {
		t := fourier.NewDCT(width)
		row := make([]float64, width)
		for y := 0; y < height; y++ {
			t.Transform(row, vals[y*width:(y+1)*width])
			copy(vals[y*width:], row)
		}
	}
	if height > 1 {
		t := fourier.NewDCT(height)
		col, out := make([]float64, height), make([]float64, height)
		for x := 0; x < width; x++ {
			for y := range col {
				col[y] = vals[y*width+x]
			}
			t.Transform(out, col)
			for y := range out {
				vals[y*width+x] = out[y]
			}
		}
	}
	return T
}

// transformEV2Normal returns T = EVy A EVx^tr; A is modified.
func transformEV2Normal(A emath.FloatGrid) emath.FloatGrid {
	width, height := A.Dx(), A.Dy()

	// the DCT is not exactly the transform needed, so scale the input
	for y := 1; y < height-1; y++ {
		for x := 1; x < width-1; x++ {
			A.Set(x, y, A.Get(x, y)*0.25)
		}
	}
	for x := 1; x < width-1; x++ {
		A.Set(x, 0, A.Get(x, 0)*0.5)
		A.Set(x, height-1, A.Get(x, height-1)*0.5)
	}
	for y := 1; y < height-1; y++ {
		A.Set(0, y, A.Get(0, y)*0.5)
		A.Set(width-1, y, A.Get(width-1, y)*0.5)
	}
	return dct2D(A)
}

// transformNormal2EV returns T = EVy^-1 A (EVx^-1)^tr.
func transformNormal2EV(A emath.FloatGrid) emath.FloatGrid {
	width, height := A.Dx(), A.Dy()
	T := dct2D(A)

	scale := 1 / float64((height-1)*(width-1))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			T.Set(x, y, T.Get(x, y)*scale)
		}
	}
	for x := 0; x < width; x++ {
		T.Set(x, 0, T.Get(x, 0)*0.5)
		T.Set(x, height-1, T.Get(x, height-1)*0.5)
	}
	for y := 0; y < height; y++ {
		T.Set(0, y, T.Get(0, y)*0.5)
		T.Set(width-1, y, T.Get(width-1, y)*0.5)
	}
	return T
}

// laplaceEigenvalues of the 1-D Laplace operator.
func laplaceEigenvalues(n int) []float64 {
	v := make([]float64, n)
	for i := range v {
		u := math.Sin(float64(i) / float64(2*(n-1)) * math.Pi)
		v[i] = -4 * u * u
	}
	return v
}

// makeCompatibleBoundary shifts the boundary of F so the Neumann problem
// has a solution.
func makeCompatibleBoundary(F emath.FloatGrid) {
	width, height := F.Dx(), F.Dy()

	sum := 0.0
	for y := 1; y < height-1; y++ {
		for x := 1; x < width-1; x++ {
			sum += F.Get(x, y)
		}
	}
	for x := 1; x < width-1; x++ {
		sum += 0.5 * (F.Get(x, 0) + F.Get(x, height-1))
	}
	for y := 1; y < height-1; y++ {
		sum += 0.5 * (F.Get(0, y) + F.Get(width-1, y))
	}
	sum += 0.25 * (F.Get(0, 0) + F.Get(0, height-1) + F.Get(width-1, 0) + F.Get(width-1, height-1))

	add := -sum / float64(height+width-3)
	for x := 0; x < width; x++ {
		F.Set(x, 0, F.Get(x, 0)+add)
		F.Set(x, height-1, F.Get(x, height-1)+add)
	}
	for y := 1; y < height-1; y++ {
		F.Set(0, y, F.Get(0, y)+add)
		F.Set(width-1, y, F.Get(width-1, y)+add)
	}
}

// SolvePoisson solves Laplace U = F with Neumann boundary conditions.
// With adjustBound the boundary of F is first made compatible; otherwise
// a least-error solution is returned. The solution is shifted so its
// maximum is 0. F may be modified; both axes must be at least 2 long.
func SolvePoisson(F emath.FloatGrid, adjustBound bool) emath.FloatGrid {
	width, height := F.Dx(), F.Dy()
	if adjustBound {
		makeCompatibleBoundary(F)
	}

	Ftr := transformNormal2EV(F)
	Utr := Ftr.NewFromThis()
	l1, l2 := laplaceEigenvalues(height), laplaceEigenvalues(width)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			if x == 0 && y == 0 {
				continue // free constant
			}
			Utr.Set(x, y, Ftr.Get(x, y)/(l1[y]+l2[x]))
		}
	}
	U := transformEV2Normal(Utr)

	top := math.Inf(-1)
	for _, v := range U.Values() {
		top = math.Max(top, v)
	}
	vals := U.Values()
	for i := range vals {
		vals[i] -= top
	}
	return U
}

// nextFast rounds n up to a product of 2, 3 and 5.
func nextFast(n int) int {
	for ; ; n++ {
		m := n
		for _, p := range []int{2, 3, 5} {
			for m%p == 0 {
				m /= p
			}
		}
		if m == 1 {
			return n
		}
	}
}

// Convolve returns g convolved with kernel, the same size as g. The
// kernel centre is pixel (kw/2, kh/2). Masked pixels of g count as 0.
func Convolve(g, kernel *emath.FloatGrid) *emath.FloatGrid {
	w, h := g.Dx(), g.Dy()
	kw, kh := kernel.Dx(), kernel.Dy()
	pw, ph := nextFast(w+kw-1), nextFast(h+kh-1)

	a := make([]complex128, pw*ph)
	b := make([]complex128, pw*ph)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if v := g.Get(x, y); !math.IsNaN(v) {
				a[y*pw+x] = complex(v, 0)
			}
		}
	}
	for y := 0; y < kh; y++ {
		for x := 0; x < kw; x++ {
			b[y*pw+x] = complex(kernel.Get(x, y), 0)
		}
	}

	fft2D(a, pw, ph, false)
	fft2D(b, pw, ph, false)
	for i := range a {
		a[i] *= b[i]
	}
	fft2D(a, pw, ph, true)

	out := emath.NewFloatGrid(w, h)
	norm := 1 / float64(pw*ph)
	cx, cy := kw/2, kh/2
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			out.Set(x, y, real(a[(y+cy)*pw+x+cx])*norm)
		}
	}
	return &out
}

// fft2D transforms a row-major w×h array in place; the inverse is
// unnormalized.
func fft2D(a []complex128, w, h int, inverse bool) {
	row := fourier.NewCmplxFFT(w)
	buf := make([]complex128, max(w, h))
	for y := 0; y < h; y++ {
		line := a[y*w : (y+1)*w]
		if inverse {
			row.Sequence(buf[:w], line)
		} else {
			row.Coefficients(buf[:w], line)
		}
		copy(line, buf[:w])
	}
	col := fourier.NewCmplxFFT(h)
	line := make([]complex128, h)
	for x := 0; x < w; x++ {
		for y := range line {
			line[y] = a[y*w+x]
		}
		if inverse {
			col.Sequence(buf[:h], line)
		} else {
			col.Coefficients(buf[:h], line)
		}
		for y := range line {
			a[y*w+x] = buf[y]
		}
	}
}
