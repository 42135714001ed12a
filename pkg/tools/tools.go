package tools

import (
	"github.com/charmbracelet/log"

	"github.com/abworrall/skymodel/pkg/beam"
	"github.com/abworrall/skymodel/pkg/coord"
	"github.com/abworrall/skymodel/pkg/errors"
	"github.com/abworrall/skymodel/pkg/model"
)

// PrimaryBeam compiles a gain expression in r (radians) and fq (Hz).
func PrimaryBeam(expr string) (func(r, fq float64) float64, error) {
	b, err := beam.Compile(expr)
	if err != nil {
		return nil, err
	}
	// catch a bad expression now rather than once per source
	if _, err := b.Gain(0, 1e9); err != nil {
		return nil, err
	}
	return b.Func(), nil
}

// Recenter moves the field to (ra, dec), keeping every source's (l,m)
// offset from the centre.
func Recenter(m *model.SkyModel, ra, dec float64) {
	from := m.Projection()
	to := coord.SinWCS(ra, dec)
	for _, s := range m.Sources {
		l, mm := from.LM(s.Pos.RA, s.Pos.Dec)
		s.Pos.RA, s.Pos.Dec = to.RaDec(l, mm)
	}
	m.SetFieldCenter(ra, dec)
	m.ComputeRadius()
	log.Infof("Recentered %d sources on %s %s", len(m.Sources), coord.RAString(ra, 2), coord.DecString(dec, 1))
}

// AppToInt turns apparent fluxes into intrinsic ones by dividing by the
// primary beam gain at each source, recording the apparent I as Iapp.
// freq is the reference frequency in Hz; a source spectrum's own
// reference frequency takes precedence.
func AppToInt(m *model.SkyModel, pb func(r, fq float64) float64, freq float64) error {
	if pb == nil {
		return errors.New(errors.ErrCodeInvalidInput, "no primary beam expression for apparent to intrinsic conversion")
	}
	m.ComputeRadius()
	for _, s := range m.Sources {
		fq := freq
		if s.Spectrum != nil && s.Spectrum.RefFreq() > 0 {
			fq = s.Spectrum.RefFreq()
		}
		gain := pb(s.FloatTag("r", 0), fq)
		if !(gain > 0) {
			log.Warnf("%s: primary beam gain %g, flux left apparent", s.Name, gain)
			continue
		}
		s.SetTag("Iapp", model.Float(s.Flux.I))
		s.Flux.Rescale(1 / gain)
	}
	m.ScanTags()
	return nil
}

// MinExtent turns Gaussians with both extents below ext into points.
func MinExtent(m *model.SkyModel, ext float64) int {
	n := 0
	for _, s := range m.Sources {
		if g, ok := s.Shape.(*model.Gaussian); ok && g.Ex < ext && g.Ey < ext {
			s.Shape = nil
			n++
		}
	}
	if n > 0 {
		log.Infof("%d Gaussians smaller than %.2f\" made into points", n, ext/coord.ARCSEC)
	}
	return n
}

// Tag sets each of tags to True on the sources matching pred.
func Tag(m *model.SkyModel, pred func(*model.Source) bool, tags ...string) int {
	n := 0
	for _, s := range m.Sources {
		if pred(s) {
			for _, t := range tags {
				s.SetTag(t, model.Bool(true))
			}
			n++
		}
	}
	m.ScanTags()
	return n
}

// Tagged keeps the sources with any of tags set (truthy). No tags keeps
// everything.
func Tagged(m *model.SkyModel, tags ...string) []*model.Source {
	if len(tags) == 0 {
		return m.Sources
	}
	var out []*model.Source
	for _, s := range m.Sources {
		for _, t := range tags {
			if v, ok := s.Tag(t); ok && v.Truthy() {
				out = append(out, s)
				break
			}
		}
	}
	return out
}
