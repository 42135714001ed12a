package fft

import (
	"math"
	"testing"

	"github.com/abworrall/skymodel/pkg/emath"
)

func TestDCTRoundTrip(t *testing.T) {
	g := emath.NewFloatGrid(6, 5)
	for i := range g.Values() {
		g.Values()[i] = math.Sin(float64(i))
	}
	want := g.Copy()
	back := dct2D(dct2D(g))
	scale := float64(4 * (6 - 1) * (5 - 1))
	for i, v := range back.Values() {
		if math.Abs(v/scale-want.Values()[i]) > 1e-9 {
			t.Fatalf("value %d = %v, want %v", i, v/scale, want.Values()[i])
		}
	}
}

func TestSolvePoisson(t *testing.T) {
	// a zero right hand side has only the constant solution
	U := SolvePoisson(emath.NewFloatGrid(8, 8), true)
	for i, v := range U.Values() {
		if math.Abs(v) > 1e-12 {
			t.Fatalf("U[%d] = %v, want 0", i, v)
		}
	}

	F := emath.NewFloatGrid(9, 9)
	F.Set(4, 4, 1)
	F.Set(2, 6, -1)
	U = SolvePoisson(F, true)
	if top := maxOf(U.Values()); math.Abs(top) > 1e-12 {
		t.Errorf("max(U) = %v, want 0", top)
	}
	// the source is a local minimum of U and the sink a local maximum
	if !(U.Get(4, 4) < U.Get(3, 4) && U.Get(2, 6) > U.Get(3, 6)) {
		t.Errorf("U(4,4)=%v U(3,4)=%v U(2,6)=%v U(3,6)=%v", U.Get(4, 4), U.Get(3, 4), U.Get(2, 6), U.Get(3, 6))
	}
}

func maxOf(v []float64) float64 {
	m := math.Inf(-1)
	for _, x := range v {
		m = math.Max(m, x)
	}
	return m
}

func TestConvolve(t *testing.T) {
	g := emath.NewFloatGrid(10, 7)
	g.Set(4, 3, 2)
	g.Set(0, 0, math.NaN())
	k := emath.NewFloatGrid(3, 3)
	for i := range k.Values() {
		k.Values()[i] = float64(i + 1)
	}
	out := Convolve(&g, &k)
	if out.Dx() != 10 || out.Dy() != 7 {
		t.Fatalf("size = %dx%d", out.Dx(), out.Dy())
	}
	for dy := -1; dy <= 1; dy++ {
		for dx := -1; dx <= 1; dx++ {
			want := 2 * k.Get(1+dx, 1+dy)
			if got := out.Get(4+dx, 3+dy); math.Abs(got-want) > 1e-9 {
				t.Errorf("out(%d,%d) = %v, want %v", 4+dx, 3+dy, got, want)
			}
		}
	}
	if got := out.Sum(); math.Abs(got-2*45) > 1e-9 {
		t.Errorf("sum = %v, want 90", got)
	}
}

func TestNextFast(t *testing.T) {
	tests := []struct{ n, want int }{{1, 1}, {7, 8}, {11, 12}, {13, 15}, {17, 18}, {31, 32}}
	for _, tt := range tests {
		if got := nextFast(tt.n); got != tt.want {
			t.Errorf("nextFast(%d) = %d, want %d", tt.n, got, tt.want)
		}
	}
}
