package beam

import (
	"math"
	"testing"
)

func TestWSRTBeam(t *testing.T) {
	b, err := Compile(WSRT)
	if err != nil {
		t.Fatalf("Compile() error: %v", err)
	}
	tests := []struct {
		r, fq float64
	}{
		{0, 1.4e9},
		{0.005, 1.4e9},
		{0.02, 1.4e9},
		{0.1, 1.4e9},
	}
	for _, tt := range tests {
		want := math.Max(math.Pow(math.Cos(65*1e-9*tt.fq*tt.r), 6), 0.01)
		got, err := b.Gain(tt.r, tt.fq)
		if err != nil {
			t.Fatalf("Gain() error: %v", err)
		}
		if math.Abs(got-want) > 1e-12 {
			t.Errorf("Gain(%v, %v) = %v, want %v", tt.r, tt.fq, got, want)
		}
	}
}

func TestPythonPrefixes(t *testing.T) {
	b, err := Compile("numpy.sqrt(r) + math.cos(0)")
	if err != nil {
		t.Fatalf("Compile() error: %v", err)
	}
	if g := b.Func()(4, 0); g != 3 {
		t.Errorf("gain = %v, want 3", g)
	}
}

func TestBadExpression(t *testing.T) {
	if _, err := Compile("cos(r"); err == nil {
		t.Error("Compile() of unbalanced expression should fail")
	}
}
