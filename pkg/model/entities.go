package model

import (
	"fmt"
	"math"
)

func ptr(f float64) *float64 { return &f }

func copyPtr(p *float64) *float64 {
	if p == nil {
		return nil
	}
	return ptr(*p)
}

// Position is a sky position in radians.
type Position struct {
	RA, Dec       float64
	RAErr, DecErr *float64
}

func (p Position) TypeName() string  { return "Position" }
func (p Position) Mandatory() []Attr { return []Attr{{"ra", p.RA}, {"dec", p.Dec}} }
func (p Position) Extra() []Attr     { return nil }

func (p Position) Optional() []Attr {
	return optAttr(optAttr(nil, "ra_err", p.RAErr), "dec_err", p.DecErr)
}

func (p Position) Copy() Position {
	return Position{p.RA, p.Dec, copyPtr(p.RAErr), copyPtr(p.DecErr)}
}

// FluxKind is the markup class a Flux serialises as.
type FluxKind int

const (
	KindFlux FluxKind = iota
	KindPolarization
	KindPolarizationWithRM
)

// Flux is Stokes I, optionally Q/U/V, optionally a rotation measure.
// Errors are nil when unknown.
type Flux struct {
	Kind                   FluxKind
	I, Q, U, V             float64
	RM, Freq0              float64
	IErr, QErr, UErr, VErr *float64
	RMErr                  *float64
}

func NewFlux(i float64) *Flux { return &Flux{Kind: KindFlux, I: i} }

func NewPolarization(i, q, u, v float64) *Flux {
	return &Flux{Kind: KindPolarization, I: i, Q: q, U: u, V: v}
}

func NewPolarizationWithRM(i, q, u, v, rm, freq0 float64) *Flux {
	return &Flux{Kind: KindPolarizationWithRM, I: i, Q: q, U: u, V: v, RM: rm, Freq0: freq0}
}

func (f *Flux) TypeName() string {
	switch f.Kind {
	case KindPolarization:
		return "Polarization"
	case KindPolarizationWithRM:
		return "PolarizationWithRM"
	}
	return "Flux"
}

func (f *Flux) Mandatory() []Attr {
	attrs := []Attr{{"I", f.I}}
	if f.Kind >= KindPolarization {
		attrs = append(attrs, Attr{"Q", f.Q}, Attr{"U", f.U}, Attr{"V", f.V})
	}
	if f.Kind == KindPolarizationWithRM {
		attrs = append(attrs, Attr{"rm", f.RM}, Attr{"freq0", f.Freq0})
	}
	return attrs
}

func (f *Flux) Optional() []Attr {
	attrs := optAttr(nil, "I_err", f.IErr)
	if f.Kind >= KindPolarization {
		attrs = optAttr(attrs, "Q_err", f.QErr)
		attrs = optAttr(attrs, "U_err", f.UErr)
		attrs = optAttr(attrs, "V_err", f.VErr)
	}
	if f.Kind == KindPolarizationWithRM {
		attrs = optAttr(attrs, "rm_err", f.RMErr)
	}
	return attrs
}

func (f *Flux) Extra() []Attr { return nil }

// Stokes returns the named Stokes parameter: I, Q, U or V. Unpolarized
// fluxes report zero for Q/U/V.
func (f *Flux) Stokes(name string) (float64, bool) {
	switch name {
	case "I":
		return f.I, true
	case "Q":
		return f.Q, true
	case "U":
		return f.U, true
	case "V":
		return f.V, true
	}
	return 0, false
}

// Rescale multiplies all Stokes terms and their errors.
func (f *Flux) Rescale(s float64) {
	f.I, f.Q, f.U, f.V = f.I*s, f.Q*s, f.U*s, f.V*s
	for _, e := range []*float64{f.IErr, f.QErr, f.UErr, f.VErr} {
		if e != nil {
			*e *= s
		}
	}
}

func (f *Flux) Copy() *Flux {
	g := *f
	g.IErr, g.QErr, g.UErr, g.VErr = copyPtr(f.IErr), copyPtr(f.QErr), copyPtr(f.UErr), copyPtr(f.VErr)
	g.RMErr = copyPtr(f.RMErr)
	return &g
}

// Spectrum scales flux with frequency; unity at its reference frequency.
type Spectrum interface {
	Entity
	NormalizedIntensity(freq float64) float64
	RefFreq() float64
	CopySpectrum() Spectrum
}

// SpectralIndex is (f/f0)^(Σ spi_k · ln(f/f0)^k), k from 0.
type SpectralIndex struct {
	Spi    []float64
	Freq0  float64
	SpiErr []float64
}

func NewSpectralIndex(freq0 float64, spi ...float64) *SpectralIndex {
	return &SpectralIndex{Spi: spi, Freq0: freq0}
}

func (s *SpectralIndex) TypeName() string { return "SpectralIndex" }

func (s *SpectralIndex) Mandatory() []Attr {
	return []Attr{{"spi", spiValue(s.Spi)}, {"freq0", s.Freq0}}
}

func (s *SpectralIndex) Optional() []Attr {
	if len(s.SpiErr) == 0 {
		return nil
	}
	return []Attr{{"spi_err", spiValue(s.SpiErr)}}
}

func (s *SpectralIndex) Extra() []Attr { return nil }

// A single term is written as a scalar, curvature terms as a list.
func spiValue(v []float64) any {
	if len(v) == 1 {
		return v[0]
	}
	return Coerce(v)
}

func (s *SpectralIndex) RefFreq() float64 { return s.Freq0 }

func (s *SpectralIndex) NormalizedIntensity(freq float64) float64 {
	if s.Freq0 <= 0 || freq <= 0 {
		return 1
	}
	x := math.Log(freq / s.Freq0)
	exp, xk := 0.0, 1.0
	for _, c := range s.Spi {
		exp += c * xk
		xk *= x
	}
	return math.Pow(freq/s.Freq0, exp)
}

func (s *SpectralIndex) CopySpectrum() Spectrum {
	return &SpectralIndex{
		Spi:    append([]float64(nil), s.Spi...),
		Freq0:  s.Freq0,
		SpiErr: append([]float64(nil), s.SpiErr...),
	}
}

// Shape is an extended source shape. A point source has a nil Shape.
type Shape interface {
	Entity
	TypeCode() string
	// Extents returns (ex, ey, pa) in radians, pa N through E.
	Extents() (float64, float64, float64)
	CopyShape() Shape
}

// Gaussian is an elliptical Gaussian; ex, ey are FWHM extents.
type Gaussian struct {
	Ex, Ey, Pa          float64
	ExErr, EyErr, PaErr *float64
}

func NewGaussian(ex, ey, pa float64) *Gaussian { return &Gaussian{Ex: ex, Ey: ey, Pa: pa} }

func (g *Gaussian) TypeName() string { return "Gaussian" }
func (g *Gaussian) TypeCode() string { return "Gau" }
func (g *Gaussian) Extra() []Attr    { return nil }

func (g *Gaussian) Mandatory() []Attr {
	return []Attr{{"ex", g.Ex}, {"ey", g.Ey}, {"pa", g.Pa}}
}

func (g *Gaussian) Optional() []Attr {
	return optAttr(optAttr(optAttr(nil, "ex_err", g.ExErr), "ey_err", g.EyErr), "pa_err", g.PaErr)
}

func (g *Gaussian) Extents() (float64, float64, float64) { return g.Ex, g.Ey, g.Pa }

func (g *Gaussian) CopyShape() Shape {
	return &Gaussian{g.Ex, g.Ey, g.Pa, copyPtr(g.ExErr), copyPtr(g.EyErr), copyPtr(g.PaErr)}
}

// FITSImage is a source whose brightness distribution is a FITS image.
type FITSImage struct {
	Ex, Ey, Pa float64
	Filename   string
	Nx, Ny     int
	Pad        int
}

func (f *FITSImage) TypeName() string { return "FITSImage" }
func (f *FITSImage) TypeCode() string { return "FITS" }
func (f *FITSImage) Extra() []Attr    { return nil }

func (f *FITSImage) Mandatory() []Attr {
	return []Attr{{"ex", f.Ex}, {"ey", f.Ey}, {"pa", f.Pa}, {"filename", f.Filename}, {"nx", f.Nx}, {"ny", f.Ny}}
}

func (f *FITSImage) Optional() []Attr {
	if f.Pad != 2 {
		return []Attr{{"pad", f.Pad}}
	}
	return nil
}

func (f *FITSImage) Extents() (float64, float64, float64) { return f.Ex, f.Ey, f.Pa }

func (f *FITSImage) CopyShape() Shape {
	g := *f
	return &g
}

// class constructors, for markup decoding

func init() {
	RegisterClass("Position", func(pos []any, kw map[string]any) (any, error) {
		a, err := bindArgs("Position", []string{"ra", "dec", "ra_err", "dec_err"}, pos, kw)
		if err != nil {
			return nil, err
		}
		p := Position{}
		if p.RA, err = a.float("ra"); err != nil {
			return nil, err
		}
		if p.Dec, err = a.float("dec"); err != nil {
			return nil, err
		}
		if p.RAErr, err = a.optFloat("ra_err"); err != nil {
			return nil, err
		}
		p.DecErr, err = a.optFloat("dec_err")
		return p, err
	})

	fluxCtor := func(kind FluxKind) Constructor {
		params := []string{"I"}
		if kind >= KindPolarization {
			params = append(params, "Q", "U", "V")
		}
		if kind == KindPolarizationWithRM {
			params = append(params, "rm", "freq0")
		}
		return func(pos []any, kw map[string]any) (any, error) {
			a, err := bindArgs("Flux", params, pos, kw)
			if err != nil {
				return nil, err
			}
			f := &Flux{Kind: kind}
			dst := map[string]*float64{"I": &f.I, "Q": &f.Q, "U": &f.U, "V": &f.V, "rm": &f.RM, "freq0": &f.Freq0}
			for _, name := range params {
				if *dst[name], err = a.float(name); err != nil {
					return nil, err
				}
			}
			for _, p := range []struct {
				name string
				dst  **float64
			}{{"I_err", &f.IErr}, {"Q_err", &f.QErr}, {"U_err", &f.UErr}, {"V_err", &f.VErr}, {"rm_err", &f.RMErr}} {
				if *p.dst, err = a.optFloat(p.name); err != nil {
					return nil, err
				}
			}
			return f, nil
		}
	}
	RegisterClass("Flux", fluxCtor(KindFlux))
	RegisterClass("Polarization", fluxCtor(KindPolarization))
	RegisterClass("PolarizationWithRM", fluxCtor(KindPolarizationWithRM))

	RegisterClass("SpectralIndex", func(pos []any, kw map[string]any) (any, error) {
		a, err := bindArgs("SpectralIndex", []string{"spi", "freq0", "spi_err"}, pos, kw)
		if err != nil {
			return nil, err
		}
		s := &SpectralIndex{}
		v, ok := a.take("spi")
		if !ok {
			return nil, fmt.Errorf("missing argument \"spi\"")
		}
		if s.Spi, err = floatList(v); err != nil {
			return nil, err
		}
		if s.Freq0, err = a.float("freq0"); err != nil {
			return nil, err
		}
		if v, ok := a.take("spi_err"); ok {
			if s.SpiErr, err = floatList(v); err != nil {
				return nil, err
			}
		}
		return s, nil
	})

	RegisterClass("Gaussian", func(pos []any, kw map[string]any) (any, error) {
		a, err := bindArgs("Gaussian", []string{"ex", "ey", "pa", "ex_err", "ey_err", "pa_err"}, pos, kw)
		if err != nil {
			return nil, err
		}
		g := &Gaussian{}
		for _, p := range []struct {
			name string
			dst  *float64
		}{{"ex", &g.Ex}, {"ey", &g.Ey}, {"pa", &g.Pa}} {
			if *p.dst, err = a.float(p.name); err != nil {
				return nil, err
			}
		}
		for _, p := range []struct {
			name string
			dst  **float64
		}{{"ex_err", &g.ExErr}, {"ey_err", &g.EyErr}, {"pa_err", &g.PaErr}} {
			if *p.dst, err = a.optFloat(p.name); err != nil {
				return nil, err
			}
		}
		return g, nil
	})

	RegisterClass("FITSImage", func(pos []any, kw map[string]any) (any, error) {
		a, err := bindArgs("FITSImage", []string{"ex", "ey", "pa", "filename", "nx", "ny", "pad"}, pos, kw)
		if err != nil {
			return nil, err
		}
		f := &FITSImage{}
		if f.Ex, err = a.float("ex"); err != nil {
			return nil, err
		}
		if f.Ey, err = a.float("ey"); err != nil {
			return nil, err
		}
		if f.Pa, err = a.float("pa"); err != nil {
			return nil, err
		}
		if f.Filename, err = a.str("filename"); err != nil {
			return nil, err
		}
		if f.Nx, err = a.int("nx", 0); err != nil {
			return nil, err
		}
		if f.Ny, err = a.int("ny", 0); err != nil {
			return nil, err
		}
		f.Pad, err = a.int("pad", 2)
		return f, err
	})
}

func floatList(v any) ([]float64, error) {
	if f, ok := toFloat(v); ok {
		return []float64{f}, nil
	}
	var items []any
	switch x := v.(type) {
	case []any:
		items = x
	case Tuple:
		items = x
	default:
		return nil, fmt.Errorf("%v is not a number or list", v)
	}
	out := make([]float64, len(items))
	for i, it := range items {
		f, ok := toFloat(it)
		if !ok {
			return nil, fmt.Errorf("%v is not a number", it)
		}
		out[i] = f
	}
	return out, nil
}
