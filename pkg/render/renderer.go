package render

import (
	"fmt"
	"image"
	"math"

	"github.com/charmbracelet/log"

	"github.com/abworrall/skymodel/pkg/emath"
)

// Stats counts the work done by each stage of a Renderer.
type Stats struct {
	Prefilters, Interpolations, Remaps, Colorizations int
}

type interpKey struct {
	slice string
	vp    Viewport
}

// Renderer produces rasters for a RenderControl, caching each stage.
// The caches are dropped by the control's signals.
type Renderer struct {
	rc *RenderControl

	prefilter map[string]*emath.FloatGrid
	interp    map[interpKey][]float64
	mapped    map[interpKey][]float64
	raster    map[interpKey]*image.NRGBA

	Stats Stats
}

func NewRenderer(rc *RenderControl) *Renderer {
	r := &Renderer{rc: rc}
	r.dropAll()
	owner := "renderer-" + rc.ID
	rc.DisplayRangeChanged.Connect(owner, func(Range) { r.dropMapped() })
	rc.ITFChanged.Connect(owner, func(ITF) { r.dropMapped() })
	rc.DataSubsetChanged.Connect(owner, func(s Subset) {
		if rc.ITF().Name() == "histeq" {
			r.dropMapped()
		}
	})
	rc.ColormapChanged.Connect(owner, func(Colormap) { r.dropRaster() })
	rc.DataModified.Connect(owner, func(struct{}) { r.dropAll() })
	return r
}

func (r *Renderer) dropAll() {
	r.prefilter = map[string]*emath.FloatGrid{}
	r.dropInterp()
}

func (r *Renderer) dropInterp() {
	r.interp = map[interpKey][]float64{}
	r.dropMapped()
}

func (r *Renderer) dropMapped() {
	r.mapped = map[interpKey][]float64{}
	r.dropRaster()
}

func (r *Renderer) dropRaster() { r.raster = map[interpKey]*image.NRGBA{} }

func (r *Renderer) sliceKey() string { return fmt.Sprint(r.rc.Cube.Slice()) }

// SetViewport keeps only the caches of vp, dropping other interpolations.
func (r *Renderer) SetViewport(vp Viewport) {
	for k := range r.interp {
		if k.vp != vp {
			r.dropInterp()
			return
		}
	}
}

func (r *Renderer) coefficients(key string) *emath.FloatGrid {
	if c, ok := r.prefilter[key]; ok {
		return c
	}
	c := Prefilter(r.rc.Cube.Image())
	r.Stats.Prefilters++
	r.prefilter[key] = c
	return c
}

// Interpolated is the current slice sampled on vp, NaN where masked.
func (r *Renderer) Interpolated(vp Viewport) []float64 {
	k := interpKey{r.sliceKey(), vp}
	if v, ok := r.interp[k]; ok {
		return v
	}
	var coef *emath.FloatGrid
	if vp.UseSpline() {
		coef = r.coefficients(k.slice)
	}
	v := Resample(r.rc.Cube.Image(), coef, vp)
	r.Stats.Interpolations++
	r.interp[k] = v
	return v
}

// Mapped is Interpolated put through the ITF; masked samples stay NaN.
func (r *Renderer) Mapped(vp Viewport) []float64 {
	k := interpKey{r.sliceKey(), vp}
	if v, ok := r.mapped[k]; ok {
		return v
	}
	src := r.Interpolated(vp)
	f := r.rc.ITF()
	out := make([]float64, len(src))
	for i, x := range src {
		if math.IsNaN(x) {
			out[i] = math.NaN()
		} else {
			out[i] = f.Remap(x)
		}
	}
	r.Stats.Remaps++
	r.mapped[k] = out
	return out
}

// Draw returns the colourised raster for vp. The image is shared with
// the cache and must not be modified.
func (r *Renderer) Draw(vp Viewport) *image.NRGBA {
	k := interpKey{r.sliceKey(), vp}
	if img, ok := r.raster[k]; ok {
		return img
	}
	vals := r.Mapped(vp)
	img := Colorize(r.rc.Colormap(), vals, nil, vp.W, vp.H)
	r.Stats.Colorizations++
	r.raster[k] = img
	log.Debugf("Rendered %dx%d (%s, %s, slice %s)", vp.W, vp.H, r.rc.ITF().Name(), r.rc.Colormap().Name(), k.slice)
	return img
}
