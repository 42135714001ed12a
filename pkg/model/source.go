package model

import (
	"fmt"
	"sort"
)

// Source is a single sky-model component. Shape is nil for a point source;
// Spectrum is nil for a flat spectrum.
type Source struct {
	Name     string
	Pos      Position
	Flux     *Flux
	Spectrum Spectrum
	Shape    Shape
	Tags     map[string]TagValue

	// Selected is volatile GUI state, never serialised.
	Selected bool
}

func NewSource(name string, pos Position, flux *Flux) *Source {
	return &Source{Name: name, Pos: pos, Flux: flux, Tags: map[string]TagValue{}}
}

// TypeCode is the shape's code, or "pnt" for a point source.
func (s *Source) TypeCode() string {
	if s.Shape == nil {
		return "pnt"
	}
	return s.Shape.TypeCode()
}

// Brightness is the apparent flux when known (tag Iapp), else I.
func (s *Source) Brightness() float64 {
	if t, ok := s.Tags["Iapp"]; ok {
		if f, ok := t.AsFloat(); ok {
			return f
		}
	}
	return s.Flux.I
}

func (s *Source) SetTag(name string, v TagValue) {
	if s.Tags == nil {
		s.Tags = map[string]TagValue{}
	}
	s.Tags[name] = v
}

func (s *Source) Tag(name string) (TagValue, bool) {
	t, ok := s.Tags[name]
	return t, ok
}

func (s *Source) DelTag(name string) { delete(s.Tags, name) }

// FloatTag returns a numeric tag, or def.
func (s *Source) FloatTag(name string, def float64) float64 {
	if t, ok := s.Tags[name]; ok {
		if f, ok := t.AsFloat(); ok {
			return f
		}
	}
	return def
}

// TagNames lists non-internal tag names, sorted.
func (s *Source) TagNames() []string {
	var out []string
	for k := range s.Tags {
		if !IsInternal(k) {
			out = append(out, k)
		}
	}
	sort.Strings(out)
	return out
}

// Copy is a deep copy sharing nothing with s.
func (s *Source) Copy() *Source {
	c := &Source{
		Name:     s.Name,
		Pos:      s.Pos.Copy(),
		Selected: s.Selected,
		Tags:     make(map[string]TagValue, len(s.Tags)),
	}
	if s.Flux != nil {
		c.Flux = s.Flux.Copy()
	}
	if s.Spectrum != nil {
		c.Spectrum = s.Spectrum.CopySpectrum()
	}
	if s.Shape != nil {
		c.Shape = s.Shape.CopyShape()
	}
	for k, v := range s.Tags {
		c.Tags[k] = v
	}
	return c
}

func (s *Source) TypeName() string { return "Source" }

func (s *Source) Mandatory() []Attr {
	return []Attr{{"name", s.Name}, {"pos", s.Pos}, {"flux", s.Flux}}
}

func (s *Source) Optional() []Attr {
	var attrs []Attr
	if s.Spectrum != nil {
		attrs = append(attrs, Attr{"spectrum", s.Spectrum})
	}
	if s.Shape != nil {
		attrs = append(attrs, Attr{"shape", s.Shape})
	}
	return attrs
}

// Extra attributes are the tags; internal ones stay in memory only.
func (s *Source) Extra() []Attr {
	var attrs []Attr
	for _, k := range s.TagNames() {
		attrs = append(attrs, Attr{k, s.Tags[k].Literal()})
	}
	return attrs
}

func (s *Source) String() string {
	return fmt.Sprintf("%s(%s, I=%g)", s.Name, s.TypeCode(), s.Flux.I)
}

func init() {
	RegisterClass("Source", func(pos []any, kw map[string]any) (any, error) {
		a, err := bindArgs("Source", []string{"name", "pos", "flux", "spectrum", "shape"}, pos, kw)
		if err != nil {
			return nil, err
		}
		src := &Source{Tags: map[string]TagValue{}}
		if src.Name, err = a.str("name"); err != nil {
			return nil, err
		}
		v, _ := a.take("pos")
		p, ok := v.(Position)
		if !ok {
			return nil, fmt.Errorf("pos: got %T, want Position", v)
		}
		src.Pos = p
		v, _ = a.take("flux")
		if src.Flux, ok = v.(*Flux); !ok {
			return nil, fmt.Errorf("flux: got %T, want Flux", v)
		}
		if v, ok := a.take("spectrum"); ok {
			if src.Spectrum, ok = v.(Spectrum); !ok {
				return nil, fmt.Errorf("spectrum: got %T", v)
			}
		}
		if v, ok := a.take("shape"); ok {
			if src.Shape, ok = v.(Shape); !ok {
				return nil, fmt.Errorf("shape: got %T", v)
			}
		}
		for k, v := range a.rest() {
			if v == nil {
				continue
			}
			t, err := TagFromLiteral(v)
			if err != nil {
				return nil, fmt.Errorf("attribute %q: %v", k, err)
			}
			src.Tags[k] = t
		}
		return src, nil
	})
}
