// Package formats reads and writes sky models in the supported catalogue
// formats. Codecs register themselves with a process-wide registry keyed on
// name and file extension.
package formats

import (
	"fmt"
	"strings"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/abworrall/skymodel/pkg/errors"
	"github.com/abworrall/skymodel/pkg/model"
)

// LoadOptions are honoured by codecs where applicable.
type LoadOptions struct {
	// Freq0 is the default reference frequency (Hz) when the file has none.
	Freq0 float64
	// CenterOnBrightest puts the field centre on the brightest source.
	CenterOnBrightest bool
	// MinExtent (radians): Gaussians smaller than this become points.
	MinExtent float64

	// Format is an ASCII column format, "name ra_d dec_d i" or a JSON5
	// dict {name: 0, ra_d: 1, ...}.
	Format string
	// Center is an explicit field centre (ra, dec) for offset-based
	// formats such as AIPS CC.
	Center *[2]float64
	// FITSImage names an image whose header supplies the field centre.
	FITSImage string
}

// SaveOptions select what is written.
type SaveOptions struct {
	// Sources, when non-nil, is written instead of the model's list.
	Sources []*model.Source
	// Format overrides the codec's column format (BBS, ASCII).
	Format string
}

func (o SaveOptions) sources(m *model.SkyModel) []*model.Source {
	if o.Sources != nil {
		return o.Sources
	}
	return m.Sources
}

type LoadFunc func(filename string, opts LoadOptions) (*model.SkyModel, error)
type SaveFunc func(m *model.SkyModel, filename string, opts SaveOptions) error

// Format is one registered codec. Save may be nil for read-only formats.
type Format struct {
	Name        string
	Description string
	Extensions  []string
	Load        LoadFunc
	Save        SaveFunc
}

// DefaultExtension is the first listed extension.
func (f *Format) DefaultExtension() string {
	if len(f.Extensions) == 0 {
		return ""
	}
	return f.Extensions[0]
}

var registry struct {
	once    sync.Once
	mu      sync.Mutex
	formats []*Format
}

func ensureRegistry() {
	registry.once.Do(func() {
		for _, f := range builtinFormats() {
			registry.formats = append(registry.formats, f)
		}
	})
}

// Register adds a codec after the builtin ones. Extensions are matched in
// registration order, so register longer suffixes (".lsm.html") first.
func Register(f *Format) {
	ensureRegistry()
	registry.mu.Lock()
	defer registry.mu.Unlock()
	registry.formats = append(registry.formats, f)
}

// Formats lists registered codecs in registration order.
func Formats() []*Format {
	ensureRegistry()
	registry.mu.Lock()
	defer registry.mu.Unlock()
	return append([]*Format(nil), registry.formats...)
}

// Lookup finds a codec by name (case-insensitive).
func Lookup(name string) (*Format, error) {
	for _, f := range Formats() {
		if strings.EqualFold(f.Name, name) {
			return f, nil
		}
	}
	return nil, errors.New(errors.ErrCodeInvalidInput, "unknown format %q, known formats: %s", name, strings.Join(Names(), ", "))
}

func Names() []string {
	var out []string
	for _, f := range Formats() {
		out = append(out, f.Name)
	}
	return out
}

// Resolve picks the codec for filename: an explicit name wins, otherwise
// the first codec with a matching extension.
func Resolve(filename, name string) (*Format, error) {
	if name != "" {
		return Lookup(name)
	}
	lower := strings.ToLower(filename)
	for _, f := range Formats() {
		for _, ext := range f.Extensions {
			if strings.HasSuffix(lower, strings.ToLower(ext)) {
				return f, nil
			}
		}
	}
	return nil, errors.New(errors.ErrCodeInvalidInput, "can't determine format of %s from its extension", filename)
}

// Load reads a model with the named (or extension-resolved) codec and runs
// the common post-load steps.
func Load(filename, format string, opts LoadOptions) (*model.SkyModel, error) {
	f, err := Resolve(filename, format)
	if err != nil {
		return nil, err
	}
	if f.Load == nil {
		return nil, errors.New(errors.ErrCodeInvalidInput, "format %s can't be read", f.Name)
	}
	log.Infof("Loading %s (%s)", filename, f.Name)
	m, err := f.Load(filename, opts)
	if err != nil {
		return nil, err
	}
	postLoad(m, opts)
	log.Debugf("Loaded %d sources from %s", len(m.Sources), filename)
	return m, nil
}

// Save writes a model with the named (or extension-resolved) codec.
func Save(m *model.SkyModel, filename, format string, opts SaveOptions) error {
	f, err := Resolve(filename, format)
	if err != nil {
		return err
	}
	if f.Save == nil {
		return errors.New(errors.ErrCodeInvalidInput, "format %s can't be written", f.Name)
	}
	log.Infof("Saving %d sources to %s (%s)", len(opts.sources(m)), filename, f.Name)
	return f.Save(m, filename, opts)
}

// postLoad fills what every codec must provide: reference frequency
// default, field centre, the r tag, min-extent demotion and groupings.
func postLoad(m *model.SkyModel, opts LoadOptions) {
	if m.Freq0 <= 0 && opts.Freq0 > 0 {
		m.Freq0 = opts.Freq0
	}
	if opts.CenterOnBrightest {
		m.CenterOnBrightest()
	}
	if opts.MinExtent > 0 {
		n := 0
		for _, s := range m.Sources {
			if g, ok := s.Shape.(*model.Gaussian); ok && g.Ex < opts.MinExtent && g.Ey < opts.MinExtent {
				s.Shape = nil
				n++
			}
		}
		if n > 0 {
			log.Infof("%d Gaussians below the minimum extent were made point sources", n)
		}
	}
	m.ComputeRadius()
}

func warnf(file string, line int, format string, args ...any) {
	log.Warn(errors.Warning{File: file, Line: line, Reason: fmt.Sprintf(format, args...)}.String())
}

func builtinFormats() []*Format {
	return []*Format{
		{Name: "Tigger", Description: "native sky model (HTML markup)", Extensions: []string{".lsm.html", ".html"}, Load: LoadNative, Save: SaveNative},
		{Name: "NEWSTAR", Description: "NEWSTAR MDL binary model", Extensions: []string{".mdl", ".MDL"}, Load: LoadNewstar, Save: SaveNewstar},
		{Name: "BBS", Description: "BBS sky model text", Extensions: []string{".bbs", ".skymodel", ".catalog"}, Load: LoadBBS, Save: SaveBBS},
		{Name: "PyBDSM", Description: "PyBDSM Gaussian/source list", Extensions: []string{".gaul", ".srl"}, Load: LoadPyBDSM},
		{Name: "AIPSCC", Description: "AIPS clean components, ASCII", Extensions: []string{".cc"}, Load: LoadAIPSCC},
		{Name: "AIPSCCFITS", Description: "AIPS clean components, FITS table", Extensions: []string{".cc.fits", ".cc.fit"}, Load: LoadAIPSCCFITS},
		{Name: "ASCII", Description: "whitespace-separated columns", Extensions: []string{".txt", ".lsm"}, Load: LoadASCII, Save: SaveASCII},
	}
}
