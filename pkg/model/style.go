package model

import "fmt"

// Show modes for ShowList / ShowPlot.
const (
	ShowNot     = 0
	ShowDefault = -1
	ShowAlways  = 1
)

// PlotStyle is a (possibly partial) set of display attributes attached to
// a grouping. Nil fields are unset and inherit from lower-priority styles.
type PlotStyle struct {
	Name            string
	ShowList        *int
	ShowPlot        *int
	Symbol          *string
	SymbolColor     *string
	SymbolSize      *int
	SymbolLinewidth *int
	Label           *string
	LabelColor      *string
	LabelSize       *int
	// Apply is the priority; styles with Apply <= 0 on non-default
	// groupings are not applied.
	Apply int
}

func Str(s string) *string { return &s }
func IntP(i int) *int      { return &i }

// DefaultStyle is the baseline every model's default grouping starts from.
func DefaultStyle() *PlotStyle {
	return &PlotStyle{
		Name:            "default",
		ShowList:        IntP(ShowAlways),
		ShowPlot:        IntP(ShowAlways),
		Symbol:          Str("plus"),
		SymbolColor:     Str("yellow"),
		SymbolSize:      IntP(2),
		SymbolLinewidth: IntP(0),
		Label:           Str("%N"),
		LabelColor:      Str("blue"),
		LabelSize:       IntP(6),
	}
}

// CurrentStyle highlights the current source.
func CurrentStyle() *PlotStyle {
	return &PlotStyle{
		Name:        "current",
		ShowList:    IntP(ShowAlways),
		ShowPlot:    IntP(ShowAlways),
		SymbolColor: Str("white"),
		LabelColor:  Str("white"),
		SymbolSize:  IntP(6),
		Apply:       9999,
	}
}

// SelectionStyle highlights selected sources.
func SelectionStyle() *PlotStyle {
	return &PlotStyle{
		Name:        "selected",
		ShowPlot:    IntP(ShowAlways),
		SymbolColor: Str("magenta"),
		LabelColor:  Str("magenta"),
		Apply:       9998,
	}
}

// Overlay fills every unset field of s from o.
func (s *PlotStyle) Overlay(o *PlotStyle) {
	if s.ShowList == nil {
		s.ShowList = o.ShowList
	}
	if s.ShowPlot == nil {
		s.ShowPlot = o.ShowPlot
	}
	if s.Symbol == nil {
		s.Symbol = o.Symbol
	}
	if s.SymbolColor == nil {
		s.SymbolColor = o.SymbolColor
	}
	if s.SymbolSize == nil {
		s.SymbolSize = o.SymbolSize
	}
	if s.SymbolLinewidth == nil {
		s.SymbolLinewidth = o.SymbolLinewidth
	}
	if s.Label == nil {
		s.Label = o.Label
	}
	if s.LabelColor == nil {
		s.LabelColor = o.LabelColor
	}
	if s.LabelSize == nil {
		s.LabelSize = o.LabelSize
	}
}

func (s *PlotStyle) Copy() *PlotStyle {
	c := *s
	// pointed-to values are never mutated in place, only replaced
	return &c
}

func (s *PlotStyle) TypeName() string  { return "PlotStyle" }
func (s *PlotStyle) Mandatory() []Attr { return []Attr{{"name", s.Name}} }
func (s *PlotStyle) Extra() []Attr     { return nil }

func (s *PlotStyle) Optional() []Attr {
	var attrs []Attr
	addI := func(n string, v *int) {
		if v != nil {
			attrs = append(attrs, Attr{n, *v})
		}
	}
	addS := func(n string, v *string) {
		if v != nil {
			attrs = append(attrs, Attr{n, *v})
		}
	}
	addI("show_list", s.ShowList)
	addI("show_plot", s.ShowPlot)
	addS("symbol", s.Symbol)
	addS("symbol_color", s.SymbolColor)
	addI("symbol_size", s.SymbolSize)
	addI("symbol_linewidth", s.SymbolLinewidth)
	addS("label", s.Label)
	addS("label_color", s.LabelColor)
	addI("label_size", s.LabelSize)
	if s.Apply != 0 {
		attrs = append(attrs, Attr{"apply", s.Apply})
	}
	return attrs
}

func (s *PlotStyle) String() string {
	str := func(p *string) string {
		if p == nil {
			return "-"
		}
		return *p
	}
	return fmt.Sprintf("PlotStyle(%s symbol=%s color=%s apply=%d)", s.Name, str(s.Symbol), str(s.SymbolColor), s.Apply)
}

func init() {
	ctor := func(pos []any, kw map[string]any) (any, error) {
		a, err := bindArgs("PlotStyle", []string{"name"}, pos, kw)
		if err != nil {
			return nil, err
		}
		s := &PlotStyle{}
		if s.Name, err = a.str("name"); err != nil {
			return nil, err
		}
		ints := map[string]**int{"show_list": &s.ShowList, "show_plot": &s.ShowPlot,
			"symbol_size": &s.SymbolSize, "symbol_linewidth": &s.SymbolLinewidth, "label_size": &s.LabelSize}
		strs := map[string]**string{"symbol": &s.Symbol, "symbol_color": &s.SymbolColor,
			"label": &s.Label, "label_color": &s.LabelColor}
		for k, dst := range ints {
			if a.has(k) {
				n, err := a.int(k, 0)
				if err != nil {
					return nil, err
				}
				*dst = IntP(n)
			}
		}
		for k, dst := range strs {
			if a.has(k) {
				v, err := a.str(k)
				if err != nil {
					return nil, err
				}
				*dst = Str(v)
			}
		}
		if s.Apply, err = a.int("apply", 0); err != nil {
			return nil, err
		}
		return s, nil
	}
	RegisterClass("PlotStyle", ctor)
	RegisterClass("ModelTag", ctor)
}
