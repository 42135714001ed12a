package fattal02

import (
	"math"
	"testing"

	"github.com/abworrall/skymodel/pkg/emath"
)

func TestCompress(t *testing.T) {
	g := emath.NewFloatGrid(32, 24)
	for y := 0; y < 24; y++ {
		for x := 0; x < 32; x++ {
			r2 := float64((x-16)*(x-16) + (y-12)*(y-12))
			g.Set(x, y, 0.01*float64(x)+1000*math.Exp(-r2/4))
		}
	}
	g.Set(0, 0, math.NaN())

	f02 := NewDefaultFattal02(&g)
	out, err := f02.Compress()
	if err != nil {
		t.Fatalf("Compress() error: %v", err)
	}
	if !math.IsNaN(out.Get(0, 0)) {
		t.Errorf("masked pixel = %v, want NaN", out.Get(0, 0))
	}
	for i, v := range out.Values()[1:] {
		if math.IsNaN(v) || v < 0 || v > 1 {
			t.Fatalf("pixel %d = %v, want [0,1]", i+1, v)
		}
	}
	if out.Get(16, 12) <= out.Get(2, 20) {
		t.Errorf("peak %v not brighter than background %v", out.Get(16, 12), out.Get(2, 20))
	}

	img := f02.Perform()
	if b := img.Bounds(); b.Dx() != 32 || b.Dy() != 24 {
		t.Errorf("Perform() bounds = %v", b)
	}
}

func TestCompressFlatPlane(t *testing.T) {
	g := emath.NewFloatGrid(8, 8)
	g.Fill(3)
	if _, err := NewDefaultFattal02(&g).Compress(); err == nil {
		t.Error("flat plane should fail")
	}
}
