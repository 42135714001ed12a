// Package model holds the sky-model object graph: sources, their
// positions, fluxes, spectra, shapes and tags, the groupings used for
// display, and the change bus observers use to follow edits.
package model

import (
	"fmt"
	"math"
	"sort"

	"github.com/charmbracelet/log"

	"github.com/abworrall/skymodel/pkg/coord"
)

// Grouping is a named predicate over sources, with a plot style.
type Grouping struct {
	Name  string
	Func  func(*Source) bool
	Style *PlotStyle
	Total int
}

func (g *Grouping) count(srcs []*Source) {
	g.Total = 0
	for _, s := range srcs {
		if g.Func(s) {
			g.Total++
		}
	}
}

// SkyModel is a list of sources plus model-level attributes.
type SkyModel struct {
	Sources []*Source
	Name    string
	PBExp   string  // primary beam expression, in terms of r and fq
	Freq0   float64 // Hz, 0 when unset

	// Custom holds codec-specific model attributes (literal values only),
	// e.g. the BBS format string.
	Custom map[string]any

	ra0, dec0 float64
	hasCenter bool

	current   *Source
	index     map[string]*Source
	tagnames  []string
	styles    map[string]*PlotStyle // user style overrides, by grouping name
	groupings []*Grouping

	bus *Bus
}

func NewSkyModel(sources ...*Source) *SkyModel {
	m := &SkyModel{
		Custom: map[string]any{},
		styles: map[string]*PlotStyle{},
		bus:    NewBus(),
	}
	m.setSources(sources)
	return m
}

func (m *SkyModel) Bus() *Bus { return m.bus }

// SetSources replaces the source list and announces it.
func (m *SkyModel) SetSources(sources []*Source, origin Origin) {
	m.setSources(sources)
	m.bus.PostUpdate(UpdateAll, origin)
}

func (m *SkyModel) setSources(sources []*Source) {
	m.Sources = sources
	m.index = make(map[string]*Source, len(sources))
	for _, s := range sources {
		if _, dup := m.index[s.Name]; dup {
			base := s.Name
			for k := 1; ; k++ {
				name := fmt.Sprintf("%s_%d", base, k)
				if _, taken := m.index[name]; !taken {
					log.Warnf("duplicate source name %q renamed to %q", base, name)
					s.Name = name
					break
				}
			}
		}
		m.index[s.Name] = s
	}
	if m.current != nil && m.index[m.current.Name] != m.current {
		m.current = nil
	}
	m.ScanTags()
}

// Reindex rebuilds the name index after sources were renamed in place.
func (m *SkyModel) Reindex() { m.setSources(m.Sources) }

func (m *SkyModel) FindSource(name string) (*Source, bool) {
	s, ok := m.index[name]
	return s, ok
}

// SetFieldCenter sets the tangent point for (l,m).
func (m *SkyModel) SetFieldCenter(ra, dec float64) {
	m.ra0, m.dec0, m.hasCenter = ra, dec, true
}

// FieldCenter returns the field centre. Without one, the mean position of
// the sources is used (RA averaged on the unit circle).
func (m *SkyModel) FieldCenter() (float64, float64, bool) {
	if m.hasCenter {
		return m.ra0, m.dec0, true
	}
	if len(m.Sources) == 0 {
		return 0, 0, false
	}
	var sx, sy, sd float64
	for _, s := range m.Sources {
		sx += math.Cos(s.Pos.RA)
		sy += math.Sin(s.Pos.RA)
		sd += s.Pos.Dec
	}
	ra := math.Atan2(sy, sx)
	if ra < 0 {
		ra += 2 * math.Pi
	}
	return ra, sd / float64(len(m.Sources)), false
}

func (m *SkyModel) HasFieldCenter() bool { return m.hasCenter }

// Projection is a SIN projection about the field centre.
func (m *SkyModel) Projection() coord.Projection {
	ra, dec, _ := m.FieldCenter()
	return coord.SinWCS(ra, dec)
}

// CenterOnBrightest moves the field centre to the brightest source.
func (m *SkyModel) CenterOnBrightest() {
	var best *Source
	for _, s := range m.Sources {
		if best == nil || s.Brightness() > best.Brightness() {
			best = s
		}
	}
	if best != nil {
		m.SetFieldCenter(best.Pos.RA, best.Pos.Dec)
	}
}

// ComputeRadius sets the r tag of every source: the angular distance from
// the field centre.
func (m *SkyModel) ComputeRadius() {
	ra0, dec0, _ := m.FieldCenter()
	for _, s := range m.Sources {
		d, _ := coord.AngularDistPosAngle(ra0, dec0, s.Pos.RA, s.Pos.Dec)
		s.SetTag("r", Float(d))
	}
	m.ScanTags()
}

// Current returns the current source, or nil.
func (m *SkyModel) Current() *Source { return m.current }

// SetCurrentSource makes src (which must belong to the model, or be nil)
// current.
func (m *SkyModel) SetCurrentSource(src *Source, origin Origin) error {
	if src != nil && m.index[src.Name] != src {
		return fmt.Errorf("source %q is not in the model", src.Name)
	}
	if src == m.current {
		return nil
	}
	m.current = src
	m.groupingNamed("current").count(m.Sources)
	m.bus.emitCurrent(src, origin)
	return nil
}

// NumSelected counts selected sources.
func (m *SkyModel) NumSelected() int {
	n := 0
	for _, s := range m.Sources {
		if s.Selected {
			n++
		}
	}
	return n
}

// Select sets each source's selection to pred(src). If anything changed,
// exactly one selected signal is emitted, carrying the new count.
func (m *SkyModel) Select(pred func(*Source) bool, origin Origin) int {
	changed := false
	for _, s := range m.Sources {
		sel := pred(s)
		if sel != s.Selected {
			s.Selected = sel
			changed = true
		}
	}
	nsel := m.NumSelected()
	if changed {
		m.groupingNamed("selected").count(m.Sources)
		m.bus.emitSelected(nsel, origin)
		m.bus.PostUpdate(UpdateSelectionOnly, origin)
	}
	return nsel
}

// TagNames is the union of non-internal tag names, sorted.
func (m *SkyModel) TagNames() []string { return m.tagnames }

// ScanTags rebuilds the tag list and the groupings.
func (m *SkyModel) ScanTags() {
	seen := map[string]bool{}
	for _, s := range m.Sources {
		for k := range s.Tags {
			if !IsInternal(k) {
				seen[k] = true
			}
		}
	}
	m.tagnames = make([]string, 0, len(seen))
	for k := range seen {
		m.tagnames = append(m.tagnames, k)
	}
	sort.Strings(m.tagnames)
	m.buildGroupings()
}

func (m *SkyModel) buildGroupings() {
	def := DefaultStyle()
	if o, ok := m.styles["default"]; ok {
		merged := o.Copy()
		merged.Overlay(def)
		merged.Apply = 0
		def = merged
	}
	m.groupings = []*Grouping{
		{Name: "default", Func: func(*Source) bool { return true }, Style: def},
		{Name: "current", Func: func(s *Source) bool { return s == m.current }, Style: m.styleFor("current", CurrentStyle())},
		{Name: "selected", Func: func(s *Source) bool { return s.Selected }, Style: m.styleFor("selected", SelectionStyle())},
	}

	types := map[string]bool{}
	for _, s := range m.Sources {
		types[s.TypeCode()] = true
	}
	var codes []string
	for t := range types {
		codes = append(codes, t)
	}
	sort.Strings(codes)
	for _, t := range codes {
		t := t
		name := "type:" + t
		m.groupings = append(m.groupings, &Grouping{
			Name:  name,
			Func:  func(s *Source) bool { return s.TypeCode() == t },
			Style: m.styleFor(name, &PlotStyle{Name: name}),
		})
	}
	for _, tag := range m.tagnames {
		tag := tag
		name := "tag:" + tag
		m.groupings = append(m.groupings, &Grouping{
			Name:  name,
			Func:  func(s *Source) bool { return tagSet(s, tag) },
			Style: m.styleFor(name, &PlotStyle{Name: name}),
		})
	}
	for _, g := range m.groupings {
		g.count(m.Sources)
	}
}

// tagSet is the tag:X predicate: present and not False (or zero).
func tagSet(s *Source, tag string) bool {
	t, ok := s.Tags[tag]
	if !ok {
		return false
	}
	switch t.Kind {
	case TagBool, TagInt, TagFloat:
		return t.Truthy()
	}
	return true
}

func (m *SkyModel) styleFor(name string, def *PlotStyle) *PlotStyle {
	if s, ok := m.styles[name]; ok {
		return s
	}
	return def
}

func (m *SkyModel) Groupings() []*Grouping { return m.groupings }

func (m *SkyModel) groupingNamed(name string) *Grouping {
	for _, g := range m.groupings {
		if g.Name == name {
			return g
		}
	}
	return &Grouping{Func: func(*Source) bool { return false }}
}

// Grouping finds a grouping by name.
func (m *SkyModel) Grouping(name string) (*Grouping, bool) {
	for _, g := range m.groupings {
		if g.Name == name {
			return g, true
		}
	}
	return nil, false
}

// DefaultGrouping is the all-sources grouping, whose style is fully
// populated.
func (m *SkyModel) DefaultGrouping() *Grouping { return m.groupings[0] }

// PlotStyles returns the user style overrides, keyed by grouping name.
func (m *SkyModel) PlotStyles() map[string]*PlotStyle { return m.styles }

// SetPlotStyles installs style overrides (as loaded from a file).
func (m *SkyModel) SetPlotStyles(styles map[string]*PlotStyle) {
	m.styles = map[string]*PlotStyle{}
	for k, v := range styles {
		m.styles[k] = v
	}
	m.buildGroupings()
}

// SetGroupingStyle replaces a grouping's style and announces it.
func (m *SkyModel) SetGroupingStyle(name string, style *PlotStyle, origin Origin) error {
	g, ok := m.Grouping(name)
	if !ok {
		return fmt.Errorf("no grouping %q", name)
	}
	style.Name = name
	m.styles[name] = style
	if name == "default" {
		m.buildGroupings()
		g = m.groupings[0]
	} else {
		g.Style = style
	}
	m.bus.groupStyle.EmitFrom(string(origin), g)
	m.bus.PostUpdate(UpdateGroupStyle, origin)
	return nil
}

// SetGroupingVisibility changes a grouping's show_list/show_plot votes.
func (m *SkyModel) SetGroupingVisibility(name string, showList, showPlot int, origin Origin) error {
	g, ok := m.Grouping(name)
	if !ok {
		return fmt.Errorf("no grouping %q", name)
	}
	style := g.Style.Copy()
	style.ShowList, style.ShowPlot = IntP(showList), IntP(showPlot)
	if name == "default" {
		m.styles[name] = style
		m.buildGroupings()
		g = m.groupings[0]
	} else {
		m.styles[name] = style
		g.Style = style
	}
	m.bus.groupVis.EmitFrom(string(origin), g)
	m.bus.PostUpdate(UpdateGroupVis, origin)
	return nil
}

// ResolveStyle computes the plot style for src: matching groupings with a
// positive apply priority are overlaid from highest priority down, and the
// default style fills what is left. The second result is false when the
// show_plot votes hide the source.
func (m *SkyModel) ResolveStyle(src *Source) (*PlotStyle, bool) {
	def := m.groupings[0].Style
	var matched []*PlotStyle
	for _, g := range m.groupings[1:] {
		if g.Style != nil && g.Style.Apply > 0 && g.Func(src) {
			matched = append(matched, g.Style)
		}
	}
	sort.SliceStable(matched, func(i, j int) bool { return matched[i].Apply > matched[j].Apply })

	out := &PlotStyle{Name: src.Name}
	always, never, votes := false, true, 0
	for _, s := range matched {
		out.Overlay(s)
		if s.ShowPlot != nil && *s.ShowPlot != ShowDefault {
			votes++
			if *s.ShowPlot == ShowAlways {
				always = true
			}
			if *s.ShowPlot != ShowNot {
				never = false
			}
		}
	}
	out.Overlay(def)
	out.ShowPlot = def.ShowPlot

	visible := *def.ShowPlot != ShowNot
	switch {
	case always:
		visible = true
	case votes > 0 && never:
		visible = false
	}
	if !visible {
		return nil, false
	}
	return out, true
}

// Copy deep-copies the model: sources, styles and custom attributes. The
// copy gets its own bus and no current source.
func (m *SkyModel) Copy() *SkyModel {
	srcs := make([]*Source, len(m.Sources))
	for i, s := range m.Sources {
		srcs[i] = s.Copy()
	}
	c := NewSkyModel()
	c.Name, c.PBExp, c.Freq0 = m.Name, m.PBExp, m.Freq0
	c.ra0, c.dec0, c.hasCenter = m.ra0, m.dec0, m.hasCenter
	for k, v := range m.Custom {
		c.Custom[k] = copyLiteral(v)
	}
	for k, v := range m.styles {
		c.styles[k] = v.Copy()
	}
	c.setSources(srcs)
	return c
}

func copyLiteral(v any) any {
	switch x := v.(type) {
	case []any:
		out := make([]any, len(x))
		for i, it := range x {
			out[i] = copyLiteral(it)
		}
		return out
	case Tuple:
		out := make(Tuple, len(x))
		for i, it := range x {
			out[i] = copyLiteral(it)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, it := range x {
			out[k] = copyLiteral(it)
		}
		return out
	}
	return v
}

func (m *SkyModel) TypeName() string  { return "SkyModel" }
func (m *SkyModel) Mandatory() []Attr { return nil }

// Optional model attributes; the source table is written separately by
// the native codec.
func (m *SkyModel) Optional() []Attr {
	var attrs []Attr
	if m.Name != "" {
		attrs = append(attrs, Attr{"name", m.Name})
	}
	if len(m.styles) > 0 {
		d := map[string]any{}
		for k, v := range m.styles {
			d[k] = v
		}
		attrs = append(attrs, Attr{"plotstyles", d})
	}
	if m.PBExp != "" {
		attrs = append(attrs, Attr{"pbexp", m.PBExp})
	}
	if m.Freq0 > 0 {
		attrs = append(attrs, Attr{"freq0", m.Freq0})
	}
	if m.hasCenter {
		attrs = append(attrs, Attr{"ra0", m.ra0}, Attr{"dec0", m.dec0})
	}
	return attrs
}

func (m *SkyModel) Extra() []Attr {
	keys := make([]string, 0, len(m.Custom))
	for k := range m.Custom {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var attrs []Attr
	for _, k := range keys {
		attrs = append(attrs, Attr{k, m.Custom[k]})
	}
	return attrs
}

// SetAttribute applies a decoded model-level attribute.
func (m *SkyModel) SetAttribute(name string, v any) error {
	switch name {
	case "name":
		s, ok := v.(string)
		if !ok {
			return fmt.Errorf("name: got %T", v)
		}
		m.Name = s
	case "pbexp":
		s, ok := v.(string)
		if !ok && v != nil {
			return fmt.Errorf("pbexp: got %T", v)
		}
		m.PBExp = s
	case "freq0":
		if v == nil {
			return nil
		}
		f, ok := toFloat(v)
		if !ok || f <= 0 {
			return fmt.Errorf("freq0: %v is not a positive frequency", v)
		}
		m.Freq0 = f
	case "ra0", "dec0":
		if v == nil {
			return nil
		}
		f, ok := toFloat(v)
		if !ok {
			return fmt.Errorf("%s: %v is not a number", name, v)
		}
		if name == "ra0" {
			m.ra0 = f
		} else {
			m.dec0 = f
		}
		m.hasCenter = true
	case "plotstyles":
		d, ok := v.(map[string]any)
		if !ok {
			return fmt.Errorf("plotstyles: got %T", v)
		}
		styles := map[string]*PlotStyle{}
		for k, sv := range d {
			ps, ok := sv.(*PlotStyle)
			if !ok {
				return fmt.Errorf("plotstyles[%s]: got %T", k, sv)
			}
			styles[k] = ps
		}
		m.SetPlotStyles(styles)
	default:
		m.Custom[name] = v
	}
	return nil
}
