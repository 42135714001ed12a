package render

import (
	"image"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/abworrall/skymodel/pkg/coord"
	"github.com/abworrall/skymodel/pkg/emath"
	"github.com/abworrall/skymodel/pkg/fitsimage"
	"github.com/abworrall/skymodel/pkg/model"
)

func testCube(t *testing.T, dims ...int) *fitsimage.Cube {
	t.Helper()
	h := fitsimage.NewHeader()
	h.Set("CTYPE1", "RA---SIN")
	h.Set("CRVAL1", 30.0)
	h.Set("CDELT1", -1.0/3600)
	h.Set("CRPIX1", 9.0)
	h.Set("CTYPE2", "DEC--SIN")
	h.Set("CRVAL2", -45.0)
	h.Set("CDELT2", 1.0/3600)
	h.Set("CRPIX2", 9.0)
	if len(dims) > 2 {
		h.Set("CTYPE3", "FREQ")
		h.Set("CRVAL3", 1.4e9)
		h.Set("CDELT3", 1e6)
		h.Set("CRPIX3", 1.0)
		h.Set("CUNIT3", "Hz")
	}
	c, err := fitsimage.NewCube(dims, h)
	if err != nil {
		t.Fatalf("NewCube() error: %v", err)
	}
	for i := range c.Data {
		c.Data[i] = float64(i % 97)
	}
	return c
}

func TestDisplayRangeLock(t *testing.T) {
	locks := NewLockSet()
	a := NewRenderControl(testCube(t, 16, 16), locks)
	b := NewRenderControl(testCube(t, 16, 16), locks)
	a.LockDisplayRange(true)
	b.LockDisplayRange(true)

	fired := 0
	b.DisplayRangeChanged.Connect("test", func(Range) { fired++ })
	a.SetDisplayRange(10, 20)

	if lo, hi := b.DisplayRange(); lo != 10 || hi != 20 {
		t.Errorf("B range = %v,%v, want 10,20", lo, hi)
	}
	if fired != 1 {
		t.Errorf("B displayRangeChanged fired %d times, want 1", fired)
	}

	// a locked control keeps its range when the subset changes
	b.SetWindowSubset(image.Rect(0, 0, 2, 2))
	if lo, hi := b.DisplayRange(); lo != 10 || hi != 20 {
		t.Errorf("locked B range after subset = %v,%v, want 10,20", lo, hi)
	}

	b.LockDisplayRange(false)
	a.SetDisplayRange(1, 2)
	if lo, _ := b.DisplayRange(); lo != 10 {
		t.Errorf("unlocked B followed A: lo = %v", lo)
	}
}

func TestSubsetStates(t *testing.T) {
	c := testCube(t, 16, 16, 2)
	rc := NewRenderControl(c, nil)
	var kinds []SubsetKind
	rc.DataSubsetChanged.Connect("test", func(s Subset) { kinds = append(kinds, s.Kind) })

	if rc.Subset().Kind != SubsetSlice {
		t.Fatalf("initial subset = %s, want slice", rc.Subset().Kind)
	}
	lo, hi := c.DataMinMax([]int{0})
	if glo, ghi := rc.DisplayRange(); glo != lo || ghi != hi {
		t.Errorf("initial range = %v,%v, want %v,%v", glo, ghi, lo, hi)
	}

	rc.SetWindowSubset(image.Rect(0, 0, 3, 1))
	if s := rc.Subset(); s.Min != 0 || s.Max != 2 {
		t.Errorf("window subset = %v..%v, want 0..2", s.Min, s.Max)
	}

	rc.SetFullSubset()
	if s := rc.Subset(); s.Min != 0 || s.Max != 96 {
		t.Errorf("full subset = %v..%v, want 0..96", s.Min, s.Max)
	}
	if err := rc.SelectSlice([]int{1}); err != nil {
		t.Fatal(err)
	}
	if rc.Subset().Kind != SubsetFull {
		t.Error("slice change left the full subset")
	}

	rc.SetSliceSubset()
	if err := rc.SelectSlice([]int{0}); err != nil {
		t.Fatal(err)
	}
	want := []SubsetKind{SubsetRect, SubsetFull, SubsetSlice, SubsetSlice}
	if len(kinds) != len(want) {
		t.Fatalf("subset signals = %v, want %v", kinds, want)
	}
	for i := range want {
		if kinds[i] != want[i] {
			t.Errorf("signal %d = %s, want %s", i, kinds[i], want[i])
		}
	}
}

func TestDrawCaches(t *testing.T) {
	rc := NewRenderControl(testCube(t, 16, 16), nil)
	r := NewRenderer(rc)
	vp := FitViewport(16, 16, 16, 16)

	first := r.Draw(vp)
	second := r.Draw(vp)
	if first != second {
		t.Error("second Draw() did not hit the raster cache")
	}
	if s := r.Stats; s.Prefilters != 1 || s.Interpolations != 1 || s.Remaps != 1 || s.Colorizations != 1 {
		t.Errorf("stats after two draws = %+v", s)
	}

	if err := rc.SetColormap(1); err != nil {
		t.Fatal(err)
	}
	r.Draw(vp)
	if s := r.Stats; s.Remaps != 1 || s.Colorizations != 2 {
		t.Errorf("colour map change: stats = %+v, want 1 remap, 2 colourisations", s)
	}

	rc.SetDisplayRange(0, 5)
	r.Draw(vp)
	if s := r.Stats; s.Interpolations != 1 || s.Remaps != 2 || s.Colorizations != 3 {
		t.Errorf("range change: stats = %+v", s)
	}

	vp2 := FitViewport(16, 16, 8, 8)
	r.Draw(vp2)
	if s := r.Stats; s.Interpolations != 2 || s.Prefilters != 1 {
		t.Errorf("viewport change: stats = %+v", s)
	}

	rc.DataChanged()
	r.Draw(vp)
	if s := r.Stats; s.Prefilters != 2 {
		t.Errorf("data change: prefilters = %d, want 2", s.Prefilters)
	}
}

func TestAllMaskedPlane(t *testing.T) {
	c := testCube(t, 8, 8)
	for i := range c.Data {
		c.Data[i] = math.NaN()
	}
	rc := NewRenderControl(c, nil)
	if lo, hi := rc.DisplayRange(); !math.IsNaN(lo) || !math.IsNaN(hi) {
		t.Errorf("display range = %v,%v, want NaN,NaN", lo, hi)
	}
	img := NewRenderer(rc).Draw(FitViewport(8, 8, 8, 8))
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			if a := img.NRGBAAt(x, y).A; a != 0 {
				t.Fatalf("pixel %d,%d alpha = %d, want 0", x, y, a)
			}
		}
	}
}

func TestITFs(t *testing.T) {
	lin := &Linear{}
	lin.SetDataSubset([]float64{0, 10, math.NaN()})
	lg := &Log{Cycles: 2}
	lg.SetDataRange(0, 100)

	tests := []struct {
		name string
		f    ITF
		x    float64
		want float64
	}{
		{"linear mid", lin, 5, 0.5},
		{"linear clip low", lin, -3, 0},
		{"linear clip high", lin, 30, 1},
		{"log top", lg, 100, 1},
		{"log one decade down", lg, 10, 0.5},
		{"log floor", lg, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.f.Remap(tt.x); math.Abs(got-tt.want) > 1e-12 {
				t.Errorf("Remap(%v) = %v, want %v", tt.x, got, tt.want)
			}
		})
	}

	lin.SetDataRange(math.NaN(), 0)
	if lo, hi := lin.DataRange(); lo != 0 || hi != 10 {
		t.Errorf("cleared override: range = %v,%v, want 0,10", lo, hi)
	}
}

func TestHistEq(t *testing.T) {
	empty := &HistEq{}
	empty.SetDataSubset([]float64{math.NaN()})
	if got := empty.Remap(5); got != 0 {
		t.Errorf("empty histeq Remap() = %v, want 0", got)
	}

	h := &HistEq{}
	var vals []float64
	for i := 0; i <= 1000; i++ {
		vals = append(vals, float64(i))
	}
	h.SetDataSubset(vals)
	_, counts := h.Histogram()
	total := 0.0
	for _, c := range counts {
		total += c
	}
	if total != float64(len(vals)) {
		t.Errorf("histogram total = %v, want %d", total, len(vals))
	}
	if got := h.Remap(500); math.Abs(got-0.5) > 0.01 {
		t.Errorf("uniform data Remap(500) = %v, want ~0.5", got)
	}
	if h.Remap(0) != 0 || math.Abs(h.Remap(1000)-1) > 1e-12 {
		t.Errorf("ends = %v,%v, want 0,1", h.Remap(0), h.Remap(1000))
	}
}

func TestCubeHelixChanged(t *testing.T) {
	rc := NewRenderControl(testCube(t, 4, 4), nil)
	ch := rc.CubeHelix()
	idx, err := ColormapIndex(rc.Colormaps(), "cubehelix")
	if err != nil {
		t.Fatal(err)
	}
	fired := 0
	rc.ColormapChanged.Connect("test", func(Colormap) { fired++ })

	ch.SetParams(1, 0.5, -1.5, 1.2) // unchanged
	ch.SetParams(1, 1, -1, 1)       // not the current map
	if fired != 0 {
		t.Errorf("fired %d times before selecting cubehelix", fired)
	}
	if err := rc.SetColormap(idx); err != nil {
		t.Fatal(err)
	}
	ch.SetParams(2, 1, -1, 1)
	if fired != 2 {
		t.Errorf("fired %d times, want 2", fired)
	}
	if c := ch.Color(0); c.R != 0 || c.G != 0 || c.B != 0 {
		t.Errorf("cubehelix(0) = %v, want black", c)
	}
	if c := ch.Color(1); c.R != 255 || c.G != 255 || c.B != 255 {
		t.Errorf("cubehelix(1) = %v, want white", c)
	}
}

func TestColormaps(t *testing.T) {
	for _, cm := range Colormaps() {
		if c := cm.Color(0.5); c.A != 255 {
			t.Errorf("%s alpha = %d, want 255", cm.Name(), c.A)
		}
	}
	if c := Greyscale.Color(1); c.R != 255 {
		t.Errorf("greyscale(1) = %v", c)
	}
	img := Colorize(Greyscale, []float64{0, math.NaN(), 1, 1}, []float64{1, 1, 1, 0.5}, 2, 2)
	if a := img.NRGBAAt(1, 0).A; a != 0 {
		t.Errorf("masked alpha = %d, want 0", a)
	}
	if a := img.NRGBAAt(1, 1).A; a != 128 {
		t.Errorf("half alpha = %d, want 128", a)
	}
	if _, err := ColormapIndex(Colormaps(), "nope"); err == nil {
		t.Error("ColormapIndex(nope) should fail")
	}
}

func TestResample(t *testing.T) {
	g := emath.NewFloatGrid(32, 8)
	for y := 0; y < 8; y++ {
		for x := 0; x < 32; x++ {
			g.Set(x, y, float64(x)+10*float64(y))
		}
	}
	coef := Prefilter(&g)
	vp := Viewport{X0: 0, Y0: 0, DX: 1, DY: 1, W: 32, H: 8}
	out := Resample(&g, coef, vp)
	for i, v := range out {
		if want := g.Values()[i]; math.Abs(v-want) > 1e-6 {
			t.Fatalf("spline at node %d = %v, want %v", i, v, want)
		}
	}

	// off-grid samples are masked, and a masked nearest pixel stays masked
	g.Set(3, 3, math.NaN())
	vp = Viewport{X0: -2, Y0: 3, DX: 0.5, DY: 1, W: 12, H: 1}
	out = Resample(&g, Prefilter(&g), vp)
	if !math.IsNaN(out[0]) {
		t.Errorf("out of bounds sample = %v, want NaN", out[0])
	}
	if !math.IsNaN(out[10]) {
		t.Errorf("sample next to masked pixel = %v, want NaN", out[10])
	}
	if math.IsNaN(out[4]) {
		t.Error("in-bounds sample is NaN")
	}
}

func TestFitViewport(t *testing.T) {
	vp := FitViewport(16, 8, 32, 32)
	if vp.DX != 0.5 || vp.DY != -0.5 {
		t.Fatalf("scale = %v,%v, want 0.5,-0.5", vp.DX, vp.DY)
	}
	x, y := vp.ToDisplay(7.5, 3.5)
	if math.Abs(x-15.5) > 1e-9 || math.Abs(y-15.5) > 1e-9 {
		t.Errorf("centre on display = %v,%v, want 15.5,15.5", x, y)
	}
	if !vp.UseSpline() || (Viewport{DX: 3, DY: 3}).UseSpline() {
		t.Error("UseSpline() wrong")
	}
}

func TestOverlay(t *testing.T) {
	c := testCube(t, 16, 16)
	src := model.NewSource("S1", model.Position{RA: 30 * coord.DEG, Dec: -45 * coord.DEG}, model.NewFlux(1))
	m := model.NewSkyModel(src)
	vp := FitViewport(16, 16, 16, 16)

	base := image.NewNRGBA(image.Rect(0, 0, 16, 16))
	out := DrawOverlay(base, m, c, vp)
	hit := false
	for y := 6; y <= 8; y++ {
		for x := 7; x <= 9; x++ {
			if _, _, _, a := out.At(x, y).RGBA(); a > 0 {
				hit = true
			}
		}
	}
	if !hit {
		t.Error("no symbol drawn at the source position")
	}
}

func TestLabelsAndColors(t *testing.T) {
	src := model.NewSource("N5", model.Position{}, model.NewFlux(2.5))
	if got := FormatLabel("%N:%T %I 100%%", src); got != "N5:pnt 2.5 100%" {
		t.Errorf("FormatLabel() = %q", got)
	}
	if _, err := ParseColor("Yellow"); err != nil {
		t.Errorf("named colour: %v", err)
	}
	if _, err := ParseColor("#ff8000"); err != nil {
		t.Errorf("hex colour: %v", err)
	}
	if _, err := ParseColor("blurple"); err == nil {
		t.Error("ParseColor(blurple) should fail")
	}
}

func TestExports(t *testing.T) {
	c := testCube(t, 16, 16)
	rc := NewRenderControl(c, nil)
	dir := t.TempDir()

	if err := HistogramPlot(rc, filepath.Join(dir, "hist.png")); err != nil {
		t.Errorf("HistogramPlot() error: %v", err)
	}
	if err := WriteHDR(NewPlaneImage(c.Image()), filepath.Join(dir, "plane.hdr")); err != nil {
		t.Errorf("WriteHDR() error: %v", err)
	}
	img, err := Tonemap("linear", c.Image())
	if err != nil {
		t.Fatalf("Tonemap() error: %v", err)
	}
	if img.Bounds().Dx() != 16 {
		t.Errorf("tonemapped width = %d", img.Bounds().Dx())
	}
	if err := WriteImage(img, filepath.Join(dir, "tmo.tiff")); err != nil {
		t.Errorf("WriteImage() error: %v", err)
	}
	for _, f := range []string{"hist.png", "plane.hdr", "tmo.tiff"} {
		if st, err := os.Stat(filepath.Join(dir, f)); err != nil || st.Size() == 0 {
			t.Errorf("%s not written", f)
		}
	}
	if _, err := Tonemap("bogus", c.Image()); err == nil {
		t.Error("Tonemap(bogus) should fail")
	}
}
