package coord

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// AngularDistPosAngle returns the angular distance between two points and
// the position angle (N through E) of the second as seen from the first.
func AngularDistPosAngle(ra1, dec1, ra2, dec2 float64) (float64, float64) {
	sd1, cd1 := math.Sincos(dec1)
	sd2, cd2 := math.Sincos(dec2)
	sa, ca := math.Sincos(ra2 - ra1)
	x := cd1*sd2 - sd1*cd2*ca
	y := cd2 * sa
	z := sd1*sd2 + cd1*cd2*ca
	return math.Atan2(math.Hypot(x, y), z), math.Atan2(y, x)
}

// Sexagesimal is a signed (units, minutes, seconds) triplet.
type Sexagesimal struct {
	Sign   int // -1 or +1
	Units  int
	Minute int
	Second float64
}

func sexagesimal(v float64, prec int) Sexagesimal {
	s := Sexagesimal{Sign: 1}
	if v < 0 {
		s.Sign, v = -1, -v
	}
	scale := math.Pow(10, float64(prec))
	total := math.Round(v*3600*scale) / scale
	s.Units = int(total / 3600)
	total -= float64(s.Units) * 3600
	s.Minute = int(total / 60)
	s.Second = math.Round((total-float64(s.Minute)*60)*scale) / scale
	if s.Second >= 60 {
		s.Second -= 60
		s.Minute++
	}
	if s.Minute >= 60 {
		s.Minute -= 60
		s.Units++
	}
	return s
}

// DMS converts an angle in radians to signed degrees, minutes, seconds
// with seconds rounded to prec decimals.
func DMS(angle float64, prec int) Sexagesimal { return sexagesimal(angle/DEG, prec) }

// HMS converts an angle in radians to hours, minutes, seconds. The angle is
// first wrapped into [0, 2π).
func HMS(angle float64, prec int) Sexagesimal {
	s := sexagesimal(wrapRA(angle)/DEG/15, prec)
	if s.Units >= 24 {
		s.Units -= 24
	}
	return s
}

func (s Sexagesimal) format(sep string, prec int, signed bool) string {
	sign := ""
	if s.Sign < 0 {
		sign = "-"
	} else if signed {
		sign = "+"
	}
	width := 2
	if prec > 0 {
		width = prec + 3
	}
	return fmt.Sprintf("%s%02d%s%02d%s%0*.*f", sign, s.Units, sep, s.Minute, sep, width, prec, s.Second)
}

// RAString formats an RA as hh:mm:ss.s.
func RAString(ra float64, prec int) string { return HMS(ra, prec).format(":", prec, false) }

// DecString formats a Dec as +dd:mm:ss.s.
func DecString(dec float64, prec int) string { return DMS(dec, prec).format(":", prec, true) }

// FormatSexagesimal formats with an arbitrary separator, e.g. "." for BBS
// declinations.
func FormatSexagesimal(s Sexagesimal, sep string, prec int, signed bool) string {
	return s.format(sep, prec, signed)
}

// ParseRA accepts "hh:mm:ss.s", "hh mm ss", "12h34m56.7s", "hh.mm.ss.s" or
// decimal degrees. The result is radians.
func ParseRA(s string) (float64, error) {
	v, sexa, err := parseSexagesimal(s)
	if err != nil {
		return 0, fmt.Errorf("bad RA %q: %v", s, err)
	}
	if sexa {
		return v * 15 * DEG, nil
	}
	return v * DEG, nil
}

// ParseDec accepts "dd:mm:ss.s", "+dd.mm.ss.s", "12d34m56s" or decimal
// degrees. The result is radians.
func ParseDec(s string) (float64, error) {
	v, _, err := parseSexagesimal(s)
	if err != nil {
		return 0, fmt.Errorf("bad Dec %q: %v", s, err)
	}
	return v * DEG, nil
}

// parseSexagesimal returns the value in units (hours or degrees) and whether
// the string was in sexagesimal form.
func parseSexagesimal(s string) (float64, bool, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, false, fmt.Errorf("empty value")
	}
	sign := 1.0
	if s[0] == '-' || s[0] == '+' {
		if s[0] == '-' {
			sign = -1
		}
		s = strings.TrimSpace(s[1:])
	}

	var parts []string
	switch {
	case strings.ContainsAny(s, ":hdms '\""):
		parts = strings.FieldsFunc(s, func(r rune) bool { return strings.ContainsRune(":hdms '\"", r) })
	case strings.Count(s, ".") >= 2:
		// dd.mm.ss[.s] (BBS declination style)
		p := strings.SplitN(s, ".", 3)
		parts = p
	default:
		v, err := strconv.ParseFloat(s, 64)
		return sign * v, false, err
	}
	if len(parts) == 0 || len(parts) > 3 {
		return 0, false, fmt.Errorf("expected 1-3 fields")
	}
	v, scale := 0.0, 1.0
	for _, p := range parts {
		f, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return 0, false, err
		}
		v += f / scale
		scale *= 60
	}
	return sign * v, true, nil
}
