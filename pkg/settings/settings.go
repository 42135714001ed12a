// Package settings persists per-image render settings and window
// geometry between runs. Files are YAML, or TOML for a .toml name.
package settings

import (
	"bytes"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/charmbracelet/log"
	"gopkg.in/yaml.v2"

	"github.com/abworrall/skymodel/pkg/errors"
	"github.com/abworrall/skymodel/pkg/render"
)

// CubeHelixParams are the parameters of a control's CubeHelix map.
type CubeHelixParams struct {
	Gamma  float64 `yaml:"gamma" toml:"gamma"`
	Colour float64 `yaml:"colour" toml:"colour"`
	Cycles float64 `yaml:"cycles" toml:"cycles"`
	Hue    float64 `yaml:"hue" toml:"hue"`
}

// Image is the remembered render state of one image.
type Image struct {
	ITF       string          `yaml:"itf" toml:"itf"`
	Colormap  string          `yaml:"cmap" toml:"cmap"`
	Range     []float64       `yaml:"range,omitempty" toml:"range,omitempty"` // lo, hi
	Slice     []int           `yaml:"slice,omitempty" toml:"slice,omitempty"`
	CubeHelix CubeHelixParams `yaml:"cubehelix" toml:"cubehelix"`
	Locked    bool            `yaml:"lock" toml:"lock"`
}

// Geometry is a window position and size.
type Geometry struct {
	X int `yaml:"x" toml:"x"`
	Y int `yaml:"y" toml:"y"`
	W int `yaml:"w" toml:"w"`
	H int `yaml:"h" toml:"h"`
}

// Settings is the whole file. Images are keyed by canonical path.
type Settings struct {
	Dialogs map[string]Geometry `yaml:"dialogs" toml:"dialogs"`
	Images  map[string]*Image   `yaml:"images" toml:"images"`

	file string
}

func New(file string) *Settings {
	return &Settings{Dialogs: map[string]Geometry{}, Images: map[string]*Image{}, file: file}
}

func isTOML(file string) bool { return strings.EqualFold(filepath.Ext(file), ".toml") }

// Load reads file. A missing or unreadable file gives empty settings.
func Load(file string) *Settings {
	s := New(file)
	b, err := os.ReadFile(file)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warnf("settings: %v", err)
		}
		return s
	}
	if isTOML(file) {
		err = toml.Unmarshal(b, s)
	} else {
		err = yaml.Unmarshal(b, s)
	}
	if err != nil {
		log.Warnf("settings: %s: %v, using defaults", file, err)
		return New(file)
	}
	if s.Dialogs == nil {
		s.Dialogs = map[string]Geometry{}
	}
	if s.Images == nil {
		s.Images = map[string]*Image{}
	}
	log.Debugf("settings: loaded %d images from %s", len(s.Images), file)
	return s
}

func (s *Settings) marshal() ([]byte, error) {
	if isTOML(s.file) {
		var buf bytes.Buffer
		err := toml.NewEncoder(&buf).Encode(s)
		return buf.Bytes(), err
	}
	return yaml.Marshal(s)
}

// AsYaml is for debug dumps.
func (s *Settings) AsYaml() string {
	b, err := yaml.Marshal(s)
	if err != nil {
		return fmt.Sprintf("can't marshal settings: %v", err)
	}
	return string(b)
}

// Save writes the file. Failures are logged, never returned: losing
// settings is not worth failing a run over.
func (s *Settings) Save() {
	if s.file == "" {
		return
	}
	b, err := s.marshal()
	if err == nil {
		if dir := filepath.Dir(s.file); dir != "" {
			err = os.MkdirAll(dir, 0o755)
		}
	}
	if err == nil {
		err = os.WriteFile(s.file, b, 0o644)
	}
	if err != nil {
		log.Warnf("settings: can't save %s: %v", s.file, err)
	}
}

// CanonicalPath resolves path to an absolute path without symlinks.
func CanonicalPath(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return path
	}
	if resolved, err := filepath.EvalSymlinks(abs); err == nil {
		return resolved
	}
	return abs
}

// Image returns the settings remembered for an image file.
func (s *Settings) Image(path string) (*Image, bool) {
	im, ok := s.Images[CanonicalPath(path)]
	return im, ok
}

// Remember records the state of rc under the path of its cube.
func (s *Settings) Remember(path string, rc *render.RenderControl) {
	im := &Image{
		ITF:      rc.ITF().Name(),
		Colormap: rc.Colormap().Name(),
		Slice:    rc.Cube.Slice(),
		Locked:   rc.IsDisplayRangeLocked(),
	}
	if lo, hi := rc.DisplayRange(); !math.IsNaN(lo) && !math.IsNaN(hi) {
		im.Range = []float64{lo, hi}
	}
	if ch := rc.CubeHelix(); ch != nil {
		im.CubeHelix = CubeHelixParams{ch.Gamma, ch.Colour, ch.Cycles, ch.Hue}
	}
	s.Images[CanonicalPath(path)] = im
}

// Apply restores the remembered state onto rc. Unknown names are
// reported and the rest is still applied.
func (im *Image) Apply(rc *render.RenderControl) error {
	var errs []string
	if ch := rc.CubeHelix(); ch != nil && im.CubeHelix.Gamma != 0 {
		p := im.CubeHelix
		ch.SetParams(p.Gamma, p.Colour, p.Cycles, p.Hue)
	}
	if im.ITF != "" {
		found := false
		for i, f := range rc.ITFs() {
			if strings.EqualFold(f.Name(), im.ITF) {
				rc.SetITF(i)
				found = true
			}
		}
		if !found {
			errs = append(errs, fmt.Sprintf("unknown intensity map %q", im.ITF))
		}
	}
	if im.Colormap != "" {
		if i, err := render.ColormapIndex(rc.Colormaps(), im.Colormap); err != nil {
			errs = append(errs, err.Error())
		} else {
			rc.SetColormap(i)
		}
	}
	if len(im.Slice) > 0 {
		if err := rc.SelectSlice(im.Slice); err != nil {
			errs = append(errs, err.Error())
		}
	}
	rc.LockDisplayRange(im.Locked)
	if len(im.Range) == 2 {
		rc.SetDisplayRange(im.Range[0], im.Range[1])
	}
	if len(errs) > 0 {
		return errors.New(errors.ErrCodeInvalidInput, "settings: %s", strings.Join(errs, "; "))
	}
	return nil
}
