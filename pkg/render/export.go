package render

import (
	"fmt"
	"image"
	"image/color"
	"image/png"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/mdouchement/hdr"
	"github.com/mdouchement/hdr/codec/rgbe"
	"github.com/mdouchement/hdr/hdrcolor"
	"github.com/mdouchement/hdr/tmo"
	"golang.org/x/image/tiff"

	"github.com/abworrall/skymodel/pkg/emath"
	"github.com/abworrall/skymodel/pkg/errors"
	"github.com/abworrall/skymodel/pkg/fattal02"
)

// PlaneImage presents a sky plane as an hdr.Image, north up. Values are
// offset by -Lo and clipped at 0; masked pixels are black.
type PlaneImage struct {
	Grid *emath.FloatGrid
	Lo   float64
}

// NewPlaneImage offsets by the plane minimum.
func NewPlaneImage(g *emath.FloatGrid) PlaneImage {
	lo, _ := g.MinMax()
	if math.IsNaN(lo) {
		lo = 0
	}
	return PlaneImage{Grid: g, Lo: lo}
}

func (p PlaneImage) ColorModel() color.Model { return hdrcolor.RGBModel }
func (p PlaneImage) Bounds() image.Rectangle { return image.Rect(0, 0, p.Grid.Dx(), p.Grid.Dy()) }
func (p PlaneImage) At(x, y int) color.Color { return p.HDRAt(x, y) }
func (p PlaneImage) Size() int               { return p.Grid.Dx() * p.Grid.Dy() }

func (p PlaneImage) HDRAt(x, y int) hdrcolor.Color {
	v := p.Grid.Get(x, p.Grid.Dy()-1-y) - p.Lo
	if math.IsNaN(v) || v < 0 {
		v = 0
	}
	return hdrcolor.RGB{R: v, G: v, B: v}
}

var Tonemappers = []string{"drago03", "durand", "fattal02", "icam06", "linear", "reinhard05"}

func ListTonemappers() string { return fmt.Sprintf("%v", Tonemappers) }

// A Tonemapper is anything with the tmo Perform method.
type Tonemapper interface {
	Perform() image.Image
}

// SetupTonemapper picks an operator by name. The photographic defaults
// blow out compact sources, so the bright end is held back.
func SetupTonemapper(name string, plane *emath.FloatGrid) (Tonemapper, error) {
	img := NewPlaneImage(plane)
	switch name {
	case "drago03":
		op := tmo.NewDefaultDrago03(img)
		op.Bias = 1.0
		return op, nil

	case "durand":
		return tmo.NewDefaultDurand(img), nil

	case "fattal02":
		return fattal02.NewDefaultFattal02(plane), nil

	case "icam06":
		op := tmo.NewDefaultICam06(img)
		op.Contrast = 0.65
		op.MaxClipping = 0.99999
		return op, nil

	case "linear":
		return tmo.NewLinear(img), nil

	case "reinhard05":
		op := tmo.NewDefaultReinhard05(img)
		op.Chromatic = 0.005
		op.Light = 0.005
		return op, nil
	}
	return nil, errors.New(errors.ErrCodeInvalidInput, "tonemapper %q not recognized, wanted %s", name, ListTonemappers())
}

// Tonemap renders the plane through the named operator.
func Tonemap(name string, plane *emath.FloatGrid) (image.Image, error) {
	op, err := SetupTonemapper(name, plane)
	if err != nil {
		return nil, err
	}
	log.Infof("Tonemapping: %s", name)
	return op.Perform(), nil
}

// WriteImage saves as PNG, or TIFF for a .tif/.tiff suffix.
func WriteImage(img image.Image, filename string) error {
	writer, err := os.Create(filename)
	if err != nil {
		return errors.Wrap(errors.ErrCodeInvalidInput, err, "open+w '%s'", filename)
	}
	defer writer.Close()
	switch strings.ToLower(filepath.Ext(filename)) {
	case ".tif", ".tiff":
		err = tiff.Encode(writer, img, &tiff.Options{Compression: tiff.Deflate})
	default:
		err = png.Encode(writer, img)
	}
	if err != nil {
		return errors.Wrap(errors.ErrCodeInternal, err, "encoding %s", filename)
	}
	return nil
}

// WriteHDR saves a Radiance RGBE file.
func WriteHDR(img hdr.Image, filename string) error {
	writer, err := os.Create(filename)
	if err != nil {
		return errors.Wrap(errors.ErrCodeInvalidInput, err, "open+w '%s'", filename)
	}
	defer writer.Close()
	return rgbe.Encode(writer, img)
}
