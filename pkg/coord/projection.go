// Package coord maps between sky coordinates and tangent-plane (l,m)
// offsets, reading world coordinate systems from FITS headers.
package coord

import (
	"fmt"
	"math"
	"strings"
)

// Projection is a tangent-plane world coordinate system centred at
// (ra0, dec0). All angles are radians.
type Projection interface {
	LM(ra, dec float64) (l, m float64)
	RaDec(l, m float64) (ra, dec float64)
	// Offset converts small (dra, ddec) offsets from the centre to (l,m).
	Offset(dra, ddec float64) (l, m float64)
	XScale() float64
	YScale() float64
	Center() (ra0, dec0 float64)
	Equal(Projection) bool
	String() string
}

// LMs projects equal-length vectors.
func LMs(p Projection, ra, dec []float64) ([]float64, []float64, error) {
	if len(ra) != len(dec) {
		return nil, nil, fmt.Errorf("ra/dec length mismatch %d != %d", len(ra), len(dec))
	}
	l, m := make([]float64, len(ra)), make([]float64, len(ra))
	for i := range ra {
		l[i], m[i] = p.LM(ra[i], dec[i])
	}
	return l, m, nil
}

// RaDecs is the vector inverse of LMs.
func RaDecs(p Projection, l, m []float64) ([]float64, []float64, error) {
	if len(l) != len(m) {
		return nil, nil, fmt.Errorf("l/m length mismatch %d != %d", len(l), len(m))
	}
	ra, dec := make([]float64, len(l)), make([]float64, len(l))
	for i := range l {
		ra[i], dec[i] = p.RaDec(l[i], m[i])
	}
	return ra, dec, nil
}

// FITSWCS gives (l,m) in radians, axis 1 inverted so that l increases
// eastward, centred at the reference pixel.
type FITSWCS struct {
	W              *WCS
	xscale, yscale float64
}

func newFITSWCS(w *WCS) *FITSWCS {
	return &FITSWCS{W: w, xscale: -w.CD[0], yscale: w.CD[3]}
}

// NewFITSWCS reads the projection for the given 1-based axes.
func NewFITSWCS(h Header, xaxis, yaxis int) (*FITSWCS, error) {
	w, err := ParseWCS(h, xaxis, yaxis)
	if err != nil {
		return nil, err
	}
	return newFITSWCS(w), nil
}

func (p *FITSWCS) LM(ra, dec float64) (float64, float64) {
	x, y := p.W.WorldToPix(ra, dec)
	return (p.W.X0 - x) * p.xscale, (y - p.W.Y0) * p.yscale
}

func (p *FITSWCS) RaDec(l, m float64) (float64, float64) {
	return p.W.PixToWorld(p.W.X0-l/p.xscale, p.W.Y0+m/p.yscale)
}

func (p *FITSWCS) Offset(dra, ddec float64) (float64, float64) {
	return math.Sin(dra), math.Sin(ddec)
}

func (p *FITSWCS) XScale() float64 { return p.xscale }
func (p *FITSWCS) YScale() float64 { return p.yscale }

func (p *FITSWCS) Center() (float64, float64) { return p.W.RA0, p.W.Dec0 }

func (p *FITSWCS) Equal(o Projection) bool {
	q, ok := o.(*FITSWCS)
	return ok && p.W.equal(q.W)
}

func (p *FITSWCS) String() string { return describe("FITSWCS", p.W) }

// FITSWCSpix gives (l,m) as fractional 0-based pixel coordinates.
type FITSWCSpix struct {
	W *WCS
}

func NewFITSWCSpix(h Header, xaxis, yaxis int) (*FITSWCSpix, error) {
	w, err := ParseWCS(h, xaxis, yaxis)
	if err != nil {
		return nil, err
	}
	return &FITSWCSpix{W: w}, nil
}

func (p *FITSWCSpix) LM(ra, dec float64) (float64, float64) { return p.W.WorldToPix(ra, dec) }
func (p *FITSWCSpix) RaDec(x, y float64) (float64, float64) { return p.W.PixToWorld(x, y) }

func (p *FITSWCSpix) Offset(dra, ddec float64) (float64, float64) {
	return dra / p.XScale(), ddec / p.YScale()
}

func (p *FITSWCSpix) XScale() float64            { return -p.W.CD[0] }
func (p *FITSWCSpix) YScale() float64            { return p.W.CD[3] }
func (p *FITSWCSpix) Center() (float64, float64) { return p.W.RA0, p.W.Dec0 }

func (p *FITSWCSpix) Equal(o Projection) bool {
	q, ok := o.(*FITSWCSpix)
	return ok && p.W.equal(q.W)
}

func (p *FITSWCSpix) String() string { return describe("FITSWCSpix", p.W) }

// NoProjection is the fallback when a header carries no celestial
// projection: a linear sin-based approximation about the reference.
type NoProjection struct {
	RA0, Dec0 float64
	xscale    float64
	yscale    float64
}

func NewNoProjection(ra0, dec0, xscale, yscale float64) *NoProjection {
	return &NoProjection{RA0: ra0, Dec0: dec0, xscale: xscale, yscale: yscale}
}

func (p *NoProjection) LM(ra, dec float64) (float64, float64) {
	return math.Sin(WrapAngle(ra-p.RA0)) * math.Cos(p.Dec0), math.Sin(dec - p.Dec0)
}

func (p *NoProjection) RaDec(l, m float64) (float64, float64) {
	return wrapRA(p.RA0 + math.Asin(l/math.Cos(p.Dec0))), p.Dec0 + math.Asin(m)
}

func (p *NoProjection) Offset(dra, ddec float64) (float64, float64) {
	return math.Sin(dra), math.Sin(ddec)
}

func (p *NoProjection) XScale() float64            { return p.xscale }
func (p *NoProjection) YScale() float64            { return p.yscale }
func (p *NoProjection) Center() (float64, float64) { return p.RA0, p.Dec0 }

func (p *NoProjection) Equal(o Projection) bool {
	q, ok := o.(*NoProjection)
	return ok && *p == *q
}

func (p *NoProjection) String() string {
	return fmt.Sprintf("NoProjection(%s %s)", RAString(p.RA0, 2), DecString(p.Dec0, 1))
}

// SinWCS is a synthetic 1-arcminute SIN projection centred on (ra0, dec0),
// used when no FITS projection is available.
func SinWCS(ra0, dec0 float64) *FITSWCS {
	w, _ := newWCS(ra0, dec0, 0, 0, [4]float64{-ARCMIN, 0, 0, ARCMIN}, "SIN")
	return newFITSWCS(w)
}

// FromHeader locates the celestial axes of a header and builds the
// matching FITSWCS, or a NoProjection when no projection code is given.
// It returns the 1-based axis numbers used.
func FromHeader(h Header) (Projection, int, int, error) {
	naxis := 2
	if n, ok := HeaderFloat(h, "NAXIS"); ok && n >= 2 {
		naxis = int(n)
	}
	xaxis, yaxis := FindSkyAxes(h, naxis)
	w, err := ParseWCS(h, xaxis, yaxis)
	if err != nil {
		return nil, 0, 0, err
	}
	if w.Code == "" {
		return NewNoProjection(w.RA0, w.Dec0, -w.CD[0], w.CD[3]), xaxis, yaxis, nil
	}
	return newFITSWCS(w), xaxis, yaxis, nil
}

var (
	xPrefixes = []string{"RA", "GLON", "ELON", "HLON", "SLON", "L", "X", "LL", "U", "UU"}
	yPrefixes = []string{"DEC", "GLAT", "ELAT", "HLAT", "SLAT", "M", "Y", "MM", "V", "VV"}
)

// FindSkyAxes returns the 1-based X and Y sky axes, falling back to 1, 2.
func FindSkyAxes(h Header, naxis int) (int, int) {
	xaxis, yaxis := 0, 0
	for i := 1; i <= naxis; i++ {
		prefix, _ := SplitCtype(HeaderString(h, fmt.Sprintf("CTYPE%d", i)))
		if xaxis == 0 && inList(prefix, xPrefixes) {
			xaxis = i
		} else if yaxis == 0 && inList(prefix, yPrefixes) {
			yaxis = i
		}
	}
	if xaxis == 0 || yaxis == 0 {
		return 1, 2
	}
	return xaxis, yaxis
}

func inList(s string, list []string) bool {
	for _, p := range list {
		if s == p {
			return true
		}
	}
	return false
}

func describe(kind string, w *WCS) string {
	code := w.Code
	if code == "" {
		code = "linear"
	}
	return fmt.Sprintf("%s(%s %s %s, ref %.2f,%.2f)", kind, strings.ToLower(code),
		RAString(w.RA0, 2), DecString(w.Dec0, 1), w.X0, w.Y0)
}
