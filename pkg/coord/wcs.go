package coord

import (
	"fmt"
	"math"
	"strings"

	"github.com/charmbracelet/log"
)

// DEG converts degrees to radians.
const DEG = math.Pi / 180

// ARCMIN and ARCSEC are in radians.
const (
	ARCMIN = DEG / 60
	ARCSEC = DEG / 3600
)

// Header is the read side of a FITS header: keyword → value (float64,
// int, string or bool as the FITS reader typed it).
type Header interface {
	Get(key string) (any, bool)
}

// Cards is a plain map Header, handy for synthesised WCSs and tests.
type Cards map[string]any

func (c Cards) Get(key string) (any, bool) {
	v, ok := c[key]
	return v, ok
}

// HeaderFloat converts a numeric header value to float64.
func HeaderFloat(h Header, key string) (float64, bool) {
	v, ok := h.Get(key)
	if !ok {
		return 0, false
	}
	switch x := v.(type) {
	case float64:
		return x, true
	case float32:
		return float64(x), true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	case int32:
		return float64(x), true
	case string:
		var f float64
		if _, err := fmt.Sscan(x, &f); err == nil {
			return f, true
		}
	}
	return 0, false
}

// HeaderString returns a trimmed, upper-cased string value.
func HeaderString(h Header, key string) string {
	v, ok := h.Get(key)
	if !ok {
		return ""
	}
	if s, ok := v.(string); ok {
		return strings.ToUpper(strings.TrimSpace(s))
	}
	return strings.ToUpper(fmt.Sprint(v))
}

// SplitCtype splits "RA---SIN" into ("RA", "SIN").
func SplitCtype(ctype string) (string, string) {
	ctype = strings.ToUpper(strings.TrimSpace(ctype))
	i := strings.Index(ctype, "-")
	if i < 0 {
		return ctype, ""
	}
	return ctype[:i], strings.Trim(ctype[i:], "-")
}

// Zenithal projection codes understood by WCS.
var zenithal = map[string]bool{"SIN": true, "TAN": true, "ARC": true, "NCP": true, "STG": true, "ZEA": true}

// WCS is a two-axis celestial world coordinate system: pixel (0-based) ↔
// (ra, dec) in radians. An empty Code is the linear sin-based fallback.
type WCS struct {
	RA0, Dec0 float64
	X0, Y0    float64    // reference pixel, 0-based
	CD        [4]float64 // radians per pixel, row-major CD matrix
	Code      string

	icd [4]float64
}

func newWCS(ra0, dec0, x0, y0 float64, cd [4]float64, code string) (*WCS, error) {
	if code == "NCP" && math.Abs(math.Sin(dec0)) < 1e-9 {
		log.Warnf("NCP projection is undefined at dec %g, using SIN", dec0/DEG)
		code = "SIN"
	}
	w := &WCS{RA0: ra0, Dec0: dec0, X0: x0, Y0: y0, CD: cd, Code: code}
	det := cd[0]*cd[3] - cd[1]*cd[2]
	if det == 0 || math.IsNaN(det) {
		return nil, fmt.Errorf("singular CD matrix %v", cd)
	}
	w.icd = [4]float64{cd[3] / det, -cd[1] / det, -cd[2] / det, cd[0] / det}
	return w, nil
}

// ParseWCS reads the celestial WCS for the given 1-based axes.
func ParseWCS(h Header, xaxis, yaxis int) (*WCS, error) {
	key := func(k string, ax int) string { return fmt.Sprintf("%s%d", k, ax) }
	fl := func(k string, def float64) float64 {
		if v, ok := HeaderFloat(h, k); ok {
			return v
		}
		return def
	}

	_, code := SplitCtype(HeaderString(h, key("CTYPE", xaxis)))
	if code != "" && !zenithal[code] {
		log.Debugf("projection %q not supported, using linear approximation", code)
		code = ""
	}

	ra0 := fl(key("CRVAL", xaxis), 0) * DEG
	dec0 := fl(key("CRVAL", yaxis), 0) * DEG
	x0 := fl(key("CRPIX", xaxis), 1) - 1
	y0 := fl(key("CRPIX", yaxis), 1) - 1

	var cd [4]float64
	cdkey := func(i, j int) string { return fmt.Sprintf("CD%d_%d", i, j) }
	if _, ok := h.Get(cdkey(xaxis, xaxis)); ok {
		cd = [4]float64{
			fl(cdkey(xaxis, xaxis), 0), fl(cdkey(xaxis, yaxis), 0),
			fl(cdkey(yaxis, xaxis), 0), fl(cdkey(yaxis, yaxis), 0),
		}
	} else {
		dx := fl(key("CDELT", xaxis), 1)
		dy := fl(key("CDELT", yaxis), 1)
		pckey := func(i, j int) string { return fmt.Sprintf("PC%d_%d", i, j) }
		if _, ok := h.Get(pckey(xaxis, xaxis)); ok {
			cd = [4]float64{
				dx * fl(pckey(xaxis, xaxis), 1), dx * fl(pckey(xaxis, yaxis), 0),
				dy * fl(pckey(yaxis, xaxis), 0), dy * fl(pckey(yaxis, yaxis), 1),
			}
		} else {
			rot := fl(key("CROTA", yaxis), 0) * DEG
			c, s := math.Cos(rot), math.Sin(rot)
			cd = [4]float64{dx * c, -dy * s, dx * s, dy * c}
		}
	}
	for i := range cd {
		cd[i] *= DEG
	}
	return newWCS(ra0, dec0, x0, y0, cd, code)
}

// PlaneWCS maps directly between (ra, dec) and projection-plane
// coordinates in radians (l increasing with RA): WorldToPix gives (l, m).
// NEWSTAR offsets use it with "NCP", AIPS CC offsets with "SIN".
func PlaneWCS(code string, ra0, dec0 float64) *WCS {
	w, _ := newWCS(ra0, dec0, 0, 0, [4]float64{1, 0, 0, 1}, code)
	return w
}

// PixToWorld maps 0-based pixel coords to (ra, dec). Points off the
// projection's valid region give NaN.
func (w *WCS) PixToWorld(x, y float64) (float64, float64) {
	dx, dy := x-w.X0, y-w.Y0
	ix := w.CD[0]*dx + w.CD[1]*dy
	iy := w.CD[2]*dx + w.CD[3]*dy
	return w.planeToWorld(ix, iy)
}

// WorldToPix maps (ra, dec) to 0-based pixel coords.
func (w *WCS) WorldToPix(ra, dec float64) (float64, float64) {
	ix, iy := w.worldToPlane(ra, dec)
	return w.X0 + w.icd[0]*ix + w.icd[1]*iy, w.Y0 + w.icd[2]*ix + w.icd[3]*iy
}

// worldToPlane gives intermediate world coords (radians) on the projection
// plane, x in the sense of increasing RA.
func (w *WCS) worldToPlane(ra, dec float64) (float64, float64) {
	dra := WrapAngle(ra - w.RA0)
	sd, cd := math.Sincos(dec)
	sd0, cd0 := math.Sincos(w.Dec0)
	sa, ca := math.Sincos(dra)

	l := cd * sa
	m := sd*cd0 - cd*sd0*ca
	n := sd*sd0 + cd*cd0*ca

	switch w.Code {
	case "SIN":
		return l, m
	case "TAN":
		return l / n, m / n
	case "ARC":
		r := math.Hypot(l, m)
		if r == 0 {
			return 0, 0
		}
		f := math.Atan2(r, n) / r
		return l * f, m * f
	case "STG":
		f := 2 / (1 + n)
		return l * f, m * f
	case "ZEA":
		f := math.Sqrt(2 / (1 + n))
		return l * f, m * f
	case "NCP":
		return l, (cd0 - cd*ca) / sd0
	}
	// linear fallback
	return math.Sin(dra) * cd, math.Sin(dec - w.Dec0)
}

func (w *WCS) planeToWorld(ix, iy float64) (float64, float64) {
	sd0, cd0 := math.Sincos(w.Dec0)
	var l, m, n float64

	switch w.Code {
	case "SIN":
		l, m = ix, iy
		n = math.Sqrt(1 - l*l - m*m)
	case "TAN":
		n = 1 / math.Sqrt(1+ix*ix+iy*iy)
		l, m = ix*n, iy*n
	case "ARC", "STG", "ZEA":
		rho := math.Hypot(ix, iy)
		var dist float64
		switch w.Code {
		case "ARC":
			dist = rho
		case "STG":
			dist = 2 * math.Atan(rho/2)
		default:
			dist = 2 * math.Asin(rho/2)
		}
		f := 1.0
		if rho > 0 {
			f = math.Sin(dist) / rho
		}
		l, m, n = ix*f, iy*f, math.Cos(dist)
	case "NCP":
		c := cd0 - iy*sd0
		dra := math.Atan2(ix, c)
		cosd := math.Hypot(ix, c)
		dec := math.Acos(math.Min(cosd, 1))
		if w.Dec0 < 0 {
			dec = -dec
		}
		return wrapRA(w.RA0 + dra), dec
	default:
		dec := w.Dec0 + math.Asin(iy)
		return wrapRA(w.RA0 + math.Asin(ix/math.Cos(dec))), dec
	}

	dec := math.Atan2(m*cd0+n*sd0, math.Hypot(l, n*cd0-m*sd0))
	dra := math.Atan2(l, n*cd0-m*sd0)
	return wrapRA(w.RA0 + dra), dec
}

func (w *WCS) equal(o *WCS) bool {
	return w.RA0 == o.RA0 && w.Dec0 == o.Dec0 && w.X0 == o.X0 && w.Y0 == o.Y0 && w.CD == o.CD && w.Code == o.Code
}

// WrapAngle normalises into (-π, π].
func WrapAngle(a float64) float64 {
	a = math.Mod(a, 2*math.Pi)
	if a > math.Pi {
		a -= 2 * math.Pi
	} else if a <= -math.Pi {
		a += 2 * math.Pi
	}
	return a
}

// wrapRA normalises into [0, 2π).
func wrapRA(a float64) float64 {
	a = math.Mod(a, 2*math.Pi)
	if a < 0 {
		a += 2 * math.Pi
	}
	return a
}
