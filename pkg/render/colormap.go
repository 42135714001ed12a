package render

import (
	"fmt"
	"image"
	"image/color"
	"math"
	"strings"

	"github.com/lucasb-eyer/go-colorful"

	"github.com/abworrall/skymodel/pkg/signal"
)

// A Colormap turns a value in [0,1] into an opaque colour.
type Colormap interface {
	Name() string
	Color(v float64) color.NRGBA
}

const lutSize = 256

type lut [lutSize]color.NRGBA

func (l *lut) at(v float64) color.NRGBA {
	i := int(clip01(v)*(lutSize-1) + 0.5)
	return l[i]
}

// Tabulated is a colour map expanded from control points.
type Tabulated struct {
	name string
	lut  lut
}

func (t *Tabulated) Name() string                { return t.name }
func (t *Tabulated) Color(v float64) color.NRGBA { return t.lut.at(v) }

type stop struct {
	at      float64
	r, g, b float64
}

// newTabulated expands stops (sorted by position) into a LUT, blending in
// RGB, or holding each stop's colour when stepped.
func newTabulated(name string, stepped bool, stops []stop) *Tabulated {
	t := &Tabulated{name: name}
	for i := range t.lut {
		v := float64(i) / (lutSize - 1)
		k := 0
		for k < len(stops)-2 && v > stops[k+1].at {
			k++
		}
		a, b := stops[k], stops[min(k+1, len(stops)-1)]
		ca := colorful.Color{R: a.r, G: a.g, B: a.b}
		cb := colorful.Color{R: b.r, G: b.g, B: b.b}
		var c colorful.Color
		switch {
		case stepped && v >= b.at:
			c = cb
		case stepped || b.at <= a.at:
			c = ca
		default:
			c = ca.BlendRgb(cb, clip01((v-a.at)/(b.at-a.at)))
		}
		r, g, bl := c.Clamped().RGB255()
		t.lut[i] = color.NRGBA{R: r, G: g, B: bl, A: 255}
	}
	return t
}

// Greyscale runs black to white.
var Greyscale = newTabulated("Greyscale", false, []stop{{0, 0, 0, 0}, {1, 1, 1, 1}})

// karmaMaps approximate the Karma colour tables.
var karmaMaps = []*Tabulated{
	newTabulated("Background", false, []stop{{0, 0, 0, 0}, {0.5, 0.2, 0.2, 0.45}, {1, 0.95, 0.95, 1}}),
	newTabulated("Heat", false, []stop{{0, 0, 0, 0}, {0.35, 0.9, 0, 0}, {0.7, 1, 0.85, 0}, {1, 1, 1, 1}}),
	newTabulated("Isophot", true, []stop{
		{0, 0, 0, 0}, {0.125, 0, 0, 0.6}, {0.25, 0, 0.4, 1}, {0.375, 0, 0.8, 0.8}, {0.5, 0, 0.7, 0},
		{0.625, 0.7, 0.9, 0}, {0.75, 1, 0.6, 0}, {0.875, 1, 0, 0}, {1, 1, 1, 1}}),
	newTabulated("Mousse", false, []stop{{0, 0, 0, 0}, {0.3, 0.35, 0.1, 0.25}, {0.65, 0.85, 0.45, 0.35}, {1, 1, 0.95, 0.85}}),
	newTabulated("Rainbow", false, []stop{{0, 0.3, 0, 0.5}, {0.2, 0, 0, 1}, {0.4, 0, 1, 1}, {0.6, 0, 1, 0}, {0.8, 1, 1, 0}, {1, 1, 0, 0}}),
	newTabulated("RGB", false, []stop{{0, 1, 0, 0}, {0.5, 0, 1, 0}, {1, 0, 0, 1}}),
	newTabulated("RGB2", false, []stop{{0, 0, 0, 1}, {0.5, 0, 1, 0}, {1, 1, 0, 0}}),
	newTabulated("Smooth", false, []stop{{0, 0, 0, 0.5}, {0.25, 0, 0.5, 1}, {0.5, 0.5, 1, 0.5}, {0.75, 1, 0.5, 0}, {1, 0.5, 0, 0}}),
	newTabulated("Staircase", true, staircase()),
	newTabulated("Mirp", false, []stop{{0, 1, 0, 0}, {0.25, 1, 1, 0}, {0.5, 0, 1, 0}, {0.75, 0, 1, 1}, {1, 0, 0, 1}}),
	newTabulated("Random", true, randomStops(64)),
}

// staircase repeats a dark-to-bright ramp in five hues.
func staircase() []stop {
	hues := [][3]float64{{0, 0, 1}, {0, 1, 0}, {1, 0, 0}, {1, 1, 0}, {1, 1, 1}}
	var out []stop
	n := len(hues) * 3
	for i := 0; i < n; i++ {
		h := hues[i/3]
		lvl := float64(i%3+1) / 3
		out = append(out, stop{float64(i) / float64(n-1), h[0] * lvl, h[1] * lvl, h[2] * lvl})
	}
	return out
}

// randomStops is a fixed pseudo-random palette (a 32-bit LCG).
func randomStops(n int) []stop {
	seed := uint32(12345)
	next := func() float64 {
		seed = seed*1664525 + 1013904223
		return float64(seed>>8) / float64(1<<24)
	}
	out := make([]stop, n)
	for i := range out {
		out[i] = stop{float64(i) / float64(n-1), next(), next(), next()}
	}
	out[0] = stop{0, 0, 0, 0}
	return out
}

// CubeHelix is Green's (2011) monotonic-brightness helix. SetParams
// rebuilds the table and emits Changed.
type CubeHelix struct {
	Gamma, Colour, Cycles, Hue float64
	Changed                    signal.Signal[*CubeHelix]
	lut                        lut
}

func NewCubeHelix() *CubeHelix {
	c := &CubeHelix{Gamma: 1, Colour: 0.5, Cycles: -1.5, Hue: 1.2}
	c.build()
	return c
}

func (c *CubeHelix) Name() string                { return "CubeHelix" }
func (c *CubeHelix) Color(v float64) color.NRGBA { return c.lut.at(v) }

func (c *CubeHelix) SetParams(gamma, colour, cycles, hue float64) {
	if gamma == c.Gamma && colour == c.Colour && cycles == c.Cycles && hue == c.Hue {
		return
	}
	c.Gamma, c.Colour, c.Cycles, c.Hue = gamma, colour, cycles, hue
	c.build()
	c.Changed.Emit(c)
}

func (c *CubeHelix) build() {
	for i := range c.lut {
		l := math.Pow(float64(i)/(lutSize-1), c.Gamma)
		a := c.Hue * l * (1 - l) / 2
		phi := 2 * math.Pi * (c.Colour/3 + 1 + c.Cycles*float64(i)/(lutSize-1))
		cs, sn := math.Cos(phi), math.Sin(phi)
		col := colorful.Color{
			R: l + a*(-0.14861*cs+1.78277*sn),
			G: l + a*(-0.29227*cs-0.90649*sn),
			B: l + a*(1.97294*cs),
		}
		r, g, b := col.Clamped().RGB255()
		c.lut[i] = color.NRGBA{R: r, G: g, B: b, A: 255}
	}
}

// Colormaps returns the standard list: greyscale first, the Karma tables,
// then a fresh CubeHelix (CubeHelix is per control).
func Colormaps() []Colormap {
	out := []Colormap{Greyscale}
	for _, k := range karmaMaps {
		out = append(out, k)
	}
	return append(out, NewCubeHelix())
}

// ColormapIndex finds a colour map by case-insensitive name.
func ColormapIndex(maps []Colormap, name string) (int, error) {
	var names []string
	for i, m := range maps {
		if strings.EqualFold(m.Name(), name) {
			return i, nil
		}
		names = append(names, m.Name())
	}
	return 0, fmt.Errorf("colour map %q not recognized, wanted %v", name, names)
}

// Colorize converts values in [0,1] (NaN masked) into a w×h raster, row 0
// at the top. alpha, when non-nil, scales each pixel's opacity. Masked
// pixels are fully transparent.
func Colorize(cm Colormap, vals, alpha []float64, w, h int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := vals[y*w+x]
			if math.IsNaN(v) {
				continue
			}
			c := cm.Color(v)
			if alpha != nil {
				c.A = uint8(clip01(alpha[y*w+x])*255 + 0.5)
			}
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}
