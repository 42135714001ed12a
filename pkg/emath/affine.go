package emath

// Affine maps between pixel grids, used when one image is resampled onto
// another.

import (
	"fmt"
	"math"

	"golang.org/x/image/math/f64"
)

// Aff3 is a local type so we can hang methods off it. Layout matches
// f64.Aff3: x' = a0*x + a1*y + a2, y' = a3*x + a4*y + a5.
type Aff3 f64.Aff3

// Mult composes p after q. Same arithmetic as image/draw's matMul.
func (p Aff3) Mult(q Aff3) Aff3 {
	return Aff3{
		p[3*0+0]*q[3*0+0] + p[3*0+1]*q[3*1+0],
		p[3*0+0]*q[3*0+1] + p[3*0+1]*q[3*1+1],
		p[3*0+0]*q[3*0+2] + p[3*0+1]*q[3*1+2] + p[3*0+2],
		p[3*1+0]*q[3*0+0] + p[3*1+1]*q[3*1+0],
		p[3*1+0]*q[3*0+1] + p[3*1+1]*q[3*1+1],
		p[3*1+0]*q[3*0+2] + p[3*1+1]*q[3*1+2] + p[3*1+2],
	}
}

// Apply maps a point.
func (m Aff3) Apply(x, y float64) (float64, float64) {
	return m[0]*x + m[1]*y + m[2], m[3]*x + m[4]*y + m[5]
}

// Invert returns the inverse map, and false if m is singular.
func (m Aff3) Invert() (Aff3, bool) {
	det := m[0]*m[4] - m[1]*m[3]
	if det == 0 || math.IsNaN(det) {
		return Aff3{}, false
	}
	a, b, d, e := m[4]/det, -m[1]/det, -m[3]/det, m[0]/det
	return Aff3{a, b, -(a*m[2] + b*m[5]), d, e, -(d*m[2] + e*m[5])}, true
}

// AffineFromPoints solves for the map taking the three src points onto the
// three dst points. Collinear src points yield false.
func AffineFromPoints(src, dst [3][2]float64) (Aff3, bool) {
	// Map the unit basis onto each triangle, then compose dst * inv(src).
	basis := func(p [3][2]float64) Aff3 {
		return Aff3{
			p[1][0] - p[0][0], p[2][0] - p[0][0], p[0][0],
			p[1][1] - p[0][1], p[2][1] - p[0][1], p[0][1],
		}
	}
	inv, ok := basis(src).Invert()
	if !ok {
		return Aff3{}, false
	}
	return basis(dst).Mult(inv), true
}

func (m Aff3) String() string {
	return fmt.Sprintf("[%10f, %10f, %10f]\n[%10f, %10f, %10f]\n", m[0], m[1], m[2], m[3], m[4], m[5])
}
