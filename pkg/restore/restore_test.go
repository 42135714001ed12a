package restore

import (
	"math"
	"path/filepath"
	"testing"

	"github.com/abworrall/skymodel/pkg/coord"
	"github.com/abworrall/skymodel/pkg/emath"
	"github.com/abworrall/skymodel/pkg/errors"
	"github.com/abworrall/skymodel/pkg/fitsimage"
	"github.com/abworrall/skymodel/pkg/model"
)

// testHeader is a 1"/pixel SIN grid with the reference at 0-based
// pixel (crpix-1, crpix-1), plus one extra axis per ctype.
func testHeader(crpix float64, extra ...string) *fitsimage.Header {
	h := fitsimage.NewHeader()
	h.Set("CTYPE1", "RA---SIN")
	h.Set("CRVAL1", 30.0)
	h.Set("CDELT1", -1.0/3600)
	h.Set("CRPIX1", crpix)
	h.Set("CTYPE2", "DEC--SIN")
	h.Set("CRVAL2", -30.0)
	h.Set("CDELT2", 1.0/3600)
	h.Set("CRPIX2", crpix)
	for i, ctype := range extra {
		ax := i + 3
		h.Set(keyN("CTYPE", ax), ctype)
		h.Set(keyN("CRPIX", ax), 1.0)
		switch ctype {
		case "FREQ":
			h.Set(keyN("CRVAL", ax), 1e9)
			h.Set(keyN("CDELT", ax), 1e9)
		default:
			h.Set(keyN("CRVAL", ax), 1.0)
			h.Set(keyN("CDELT", ax), 1.0)
		}
	}
	return h
}

func keyN(k string, n int) string { return k + string(rune('0'+n)) }

func newCube(t *testing.T, h *fitsimage.Header, dims ...int) *fitsimage.Cube {
	t.Helper()
	c, err := fitsimage.NewCube(dims, h)
	if err != nil {
		t.Fatalf("NewCube() error: %v", err)
	}
	return c
}

func sourceAt(c *fitsimage.Cube, x, y float64, flux *model.Flux) *model.Source {
	ra, dec := c.PixProj.RaDec(x, y)
	return model.NewSource("src", model.Position{RA: ra, Dec: dec}, flux)
}

// rowFWHM measures the FWHM along row y from the second moment.
func rowFWHM(c *fitsimage.Cube, y int) float64 {
	var s0, s1, s2 float64
	for x := 0; x < c.Nx(); x++ {
		v := c.Data[c.Index(x, y, nil)]
		s0 += v
		s1 += v * float64(x)
		s2 += v * float64(x*x)
	}
	mean := s1 / s0
	return math.Sqrt(s2/s0-mean*mean) * emath.FWHM
}

func TestRestorePoint(t *testing.T) {
	c := newCube(t, testHeader(51), 100, 100)
	src := sourceAt(c, 50, 50, model.NewFlux(1.0))
	beam := Beam{2 * coord.ARCSEC, 2 * coord.ARCSEC, 0}
	if err := RestoreSources(c, []*model.Source{src}, beam, Options{}); err != nil {
		t.Fatalf("RestoreSources() error: %v", err)
	}
	if got := c.Data[c.Index(50, 50, nil)]; math.Abs(got-1) > 1e-9 {
		t.Errorf("data[50,50] = %v, want 1", got)
	}
	want := 2 * math.Sqrt(2*math.Ln2) * 2
	if got := rowFWHM(c, 50); math.Abs(got-want) > 0.01 {
		t.Errorf("FWHM along x = %v, want %v", got, want)
	}

	// the same along y, by symmetry of a circular beam
	var s0, s2 float64
	for y := 0; y < c.Ny(); y++ {
		v := c.Data[c.Index(50, y, nil)]
		s0 += v
		s2 += v * float64((y-50)*(y-50))
	}
	if got := math.Sqrt(s2/s0) * emath.FWHM; math.Abs(got-want) > 0.01 {
		t.Errorf("FWHM along y = %v, want %v", got, want)
	}
}

func TestRestoreGaussianConservesFlux(t *testing.T) {
	beam := Beam{2 * coord.ARCSEC, 2 * coord.ARCSEC, 0}

	point := newCube(t, testHeader(41), 80, 80)
	RestoreSources(point, []*model.Source{sourceAt(point, 40, 40, model.NewFlux(1))}, beam, Options{})

	gauss := newCube(t, testHeader(41), 80, 80)
	src := sourceAt(gauss, 40, 40, model.NewFlux(1))
	src.Shape = model.NewGaussian(2*coord.ARCSEC*emath.FWHM, 2*coord.ARCSEC*emath.FWHM, 0.4)
	RestoreSources(gauss, []*model.Source{src}, beam, Options{})

	// sigma doubles in area, so the peak halves
	if got := gauss.Data[gauss.Index(40, 40, nil)]; math.Abs(got-0.5) > 1e-9 {
		t.Errorf("peak = %v, want 0.5", got)
	}
	sp, sg := point.Image().Sum(), gauss.Image().Sum()
	if math.Abs(sp-sg)/sp > 1e-5 {
		t.Errorf("integrated flux %v != %v", sg, sp)
	}
}

func TestRestoreZeroBeam(t *testing.T) {
	c := newCube(t, testHeader(11), 20, 20)
	srcs := []*model.Source{
		sourceAt(c, 4.4, 7.6, model.NewFlux(2)),
		sourceAt(c, 40, 40, model.NewFlux(5)), // off the grid
	}
	if err := RestoreSources(c, srcs, Beam{}, Options{}); err != nil {
		t.Fatalf("RestoreSources() error: %v", err)
	}
	if got := c.Data[c.Index(4, 8, nil)]; math.Abs(got-2) > 1e-12 {
		t.Errorf("deposit = %v, want 2", got)
	}
	if got := c.Image().Sum(); math.Abs(got-2) > 1e-12 {
		t.Errorf("total = %v, want 2", got)
	}
}

func TestRestoreStokesAndScaling(t *testing.T) {
	c := newCube(t, testHeader(11, "FREQ", "STOKES"), 20, 20, 2, 4)
	pol := sourceAt(c, 10, 10, model.NewPolarization(1, 0.5, 0.25, 0.125))
	pol.Spectrum = model.NewSpectralIndex(1e9, -1)

	pb := func(r, fq float64) float64 { return 0.5 }
	if err := RestoreSources(c, []*model.Source{pol}, Beam{}, Options{PrimaryBeam: pb}); err != nil {
		t.Fatalf("RestoreSources() error: %v", err)
	}
	stokes := []float64{1, 0.5, 0.25, 0.125}
	for s, want := range stokes {
		if got := c.Data[c.Index(10, 10, []int{0, s})]; math.Abs(got-0.5*want) > 1e-12 {
			t.Errorf("1 GHz stokes %d = %v, want %v", s, got, 0.5*want)
		}
		// spi -1 halves the flux at 2 GHz
		if got := c.Data[c.Index(10, 10, []int{1, s})]; math.Abs(got-0.25*want) > 1e-12 {
			t.Errorf("2 GHz stokes %d = %v, want %v", s, got, 0.25*want)
		}
	}
}

func TestRestoreBeamTags(t *testing.T) {
	tests := []struct {
		name string
		tag  string
		val  model.TagValue
		opts Options
		want float64
	}{
		{"pb", "", model.TagValue{}, Options{PrimaryBeam: func(r, fq float64) float64 { return 0.5 }}, 0.5},
		{"nobeam", "nobeam", model.Bool(true), Options{PrimaryBeam: func(r, fq float64) float64 { return 0.5 }}, 1},
		{"beamgain", "beamgain", model.Float(0.25), Options{ApplyBeamGain: true}, 0.25},
		{"no beamgain tag", "", model.TagValue{}, Options{ApplyBeamGain: true}, 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newCube(t, testHeader(6), 10, 10)
			src := sourceAt(c, 5, 5, model.NewFlux(1))
			if tt.tag != "" {
				src.SetTag(tt.tag, tt.val)
			}
			if err := RestoreSources(c, []*model.Source{src}, Beam{}, tt.opts); err != nil {
				t.Fatalf("RestoreSources() error: %v", err)
			}
			if got := c.Data[c.Index(5, 5, nil)]; math.Abs(got-tt.want) > 1e-12 {
				t.Errorf("deposit = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestConvolveBeams(t *testing.T) {
	a := Beam{3, 1, 0.3}
	got := Convolve(a, Beam{})
	if math.Abs(got.SigmaMaj-3) > 1e-12 || math.Abs(got.SigmaMin-1) > 1e-12 || math.Abs(got.PA-0.3) > 1e-12 {
		t.Errorf("Convolve(a, 0) = %+v, want %+v", got, a)
	}
	got = Convolve(Beam{3, 3, 0}, Beam{4, 4, 1})
	if math.Abs(got.SigmaMaj-5) > 1e-12 || math.Abs(got.SigmaMin-5) > 1e-12 {
		t.Errorf("circular convolution = %+v, want sigma 5", got)
	}
	b := Beam{2, 0.5, 2.0}
	got = Convolve(b, Beam{})
	if math.Abs(got.PA-2.0) > 1e-12 {
		t.Errorf("PA = %v, want 2.0", got.PA)
	}
}

func TestResampler(t *testing.T) {
	dst := newCube(t, testHeader(11), 20, 20)
	h := testHeader(11)
	h.Set("CRPIX1", 14.0)
	h.Set("CRPIX2", 13.0)
	src := newCube(t, h, 20, 20)

	r := NewResampler(src.PixProj, 20, 20, dst.PixProj, 20, 20)
	if r == nil {
		t.Fatal("resampler is nil for overlapping grids")
	}
	want := emath.Aff3{1, 0, 3, 0, 1, 2}
	for i := range want {
		if math.Abs(r.XForm[i]-want[i]) > 1e-6 {
			t.Fatalf("XForm = %v, want %v", r.XForm, want)
		}
	}
	if r.Rect.Min.X != 0 || r.Rect.Min.Y != 0 {
		t.Errorf("overlap starts at %v, want 0,0", r.Rect.Min)
	}
	if math.Abs(r.PixelArea()-1) > 1e-6 {
		t.Errorf("PixelArea() = %v, want 1", r.PixelArea())
	}

	g := emath.NewFloatGrid(20, 20)
	for y := 0; y < 20; y++ {
		for x := 0; x < 20; x++ {
			g.Set(x, y, float64(x+100*y))
		}
	}
	out := r.Resample(&g, 20, 20)
	for y := 0; y < 15; y++ {
		for x := 0; x < 16; x++ {
			if got, want := out.Get(x, y), float64(x+3+100*(y+2)); math.Abs(got-want) > 1e-4 {
				t.Fatalf("out(%d,%d) = %v, want %v", x, y, got, want)
			}
		}
	}
	if !math.IsNaN(out.Get(18, 5)) || !math.IsNaN(out.Get(5, 19)) {
		t.Errorf("pixels off the source should be NaN: %v %v", out.Get(18, 5), out.Get(5, 19))
	}

	far := testHeader(11)
	far.Set("CRVAL1", 40.0)
	if r := NewResampler(newCube(t, far, 20, 20).PixProj, 20, 20, dst.PixProj, 20, 20); r != nil {
		t.Errorf("disjoint grids gave overlap %v", r.Rect)
	}
}

func TestRestoreImage(t *testing.T) {
	dir := t.TempDir()
	img := newCube(t, testHeader(11, "STOKES"), 20, 20, 1)
	img.Data[img.Index(7, 9, []int{0})] = 3
	file := filepath.Join(dir, "model.fits")
	if err := img.Save(file); err != nil {
		t.Fatalf("Save() error: %v", err)
	}

	c := newCube(t, testHeader(11, "FREQ", "STOKES"), 20, 20, 2, 1)
	src := sourceAt(c, 10, 10, model.NewFlux(1))
	src.Shape = &model.FITSImage{Filename: "model.fits", Nx: 20, Ny: 20, Pad: 2}
	if err := RestoreSources(c, []*model.Source{src}, Beam{}, Options{ImageDir: dir, Workers: 2}); err != nil {
		t.Fatalf("RestoreSources() error: %v", err)
	}
	for f := 0; f < 2; f++ {
		if got := c.Data[c.Index(7, 9, []int{f, 0})]; math.Abs(got-3) > 1e-6 {
			t.Errorf("plane %d: data[7,9] = %v, want 3", f, got)
		}
		if got := c.Plane([]int{f, 0}).Sum(); math.Abs(got-3) > 1e-6 {
			t.Errorf("plane %d: sum = %v, want 3", f, got)
		}
	}

	// with a beam the flux spreads but the peak stays
	c = newCube(t, testHeader(11, "FREQ", "STOKES"), 20, 20, 2, 1)
	beam := Beam{1.5 * coord.ARCSEC, 1 * coord.ARCSEC, 0.2}
	if err := RestoreSources(c, []*model.Source{src}, beam, Options{ImageDir: dir}); err != nil {
		t.Fatalf("RestoreSources() error: %v", err)
	}
	if got := c.Data[c.Index(7, 9, []int{1, 0})]; math.Abs(got-3) > 1e-6 {
		t.Errorf("convolved peak = %v, want 3", got)
	}
	if got := c.Data[c.Index(8, 9, []int{1, 0})]; !(got > 0 && got < 3) {
		t.Errorf("neighbour = %v, want in (0, 3)", got)
	}
}

func TestRestoreImageAxisMismatch(t *testing.T) {
	dir := t.TempDir()
	img := newCube(t, testHeader(11, "FREQ"), 20, 20, 3)
	file := filepath.Join(dir, "model.fits")
	if err := img.Save(file); err != nil {
		t.Fatalf("Save() error: %v", err)
	}
	c := newCube(t, testHeader(11, "FREQ"), 20, 20, 2)
	src := sourceAt(c, 10, 10, model.NewFlux(1))
	src.Shape = &model.FITSImage{Filename: file, Nx: 20, Ny: 20, Pad: 2}
	err := RestoreSources(c, []*model.Source{src}, Beam{}, Options{})
	if !errors.Is(err, errors.ErrCodeAxisMismatch) {
		t.Errorf("err = %v, want AXIS_MISMATCH", err)
	}
}

func psfGrid(sx, sy, theta float64) *emath.FloatGrid {
	g := emath.NewFloatGrid(64, 64)
	p := []float64{1, 32, 31, sx, sy, theta, 0}
	for y := 0; y < 64; y++ {
		for x := 0; x < 64; x++ {
			g.Set(x, y, gauss2D(p, float64(x), float64(y)))
		}
	}
	return &g
}

func checkPSF(t *testing.T, maj, min, pa float64) {
	t.Helper()
	wantMaj, wantMin := 3*coord.ARCSEC*emath.FWHM, 1.5*coord.ARCSEC*emath.FWHM
	wantPA := math.Mod(0.7-math.Pi/2+math.Pi, math.Pi)
	if math.Abs(maj-wantMaj)/wantMaj > 0.02 {
		t.Errorf("maj = %v, want %v", maj, wantMaj)
	}
	if math.Abs(min-wantMin)/wantMin > 0.02 {
		t.Errorf("min = %v, want %v", min, wantMin)
	}
	if math.Abs(pa-wantPA)/wantPA > 0.02 {
		t.Errorf("pa = %v, want %v", pa, wantPA)
	}
}

func TestFitPSF(t *testing.T) {
	maj, min, pa, err := FitPSFGrid(psfGrid(3, 1.5, 0.7), coord.ARCSEC, coord.ARCSEC)
	if err != nil {
		t.Fatalf("FitPSFGrid() error: %v", err)
	}
	checkPSF(t, maj, min, pa)

	// the same ellipse described with the axes swapped
	maj, min, pa, err = FitPSFGrid(psfGrid(1.5, 3, 0.7-math.Pi/2), coord.ARCSEC, coord.ARCSEC)
	if err != nil {
		t.Fatalf("FitPSFGrid() error: %v", err)
	}
	checkPSF(t, maj, min, pa)
}

func TestFitPSFFile(t *testing.T) {
	c := newCube(t, testHeader(33, "FREQ", "STOKES"), 64, 64, 1, 1)
	copy(c.Data, psfGrid(3, 1.5, 0.7).Values())
	file := filepath.Join(t.TempDir(), "psf.fits")
	if err := c.Save(file); err != nil {
		t.Fatalf("Save() error: %v", err)
	}
	maj, min, pa, err := FitPSF(file, true)
	if err != nil {
		t.Fatalf("FitPSF() error: %v", err)
	}
	checkPSF(t, maj, min, pa)
}

func TestFitPSFEmpty(t *testing.T) {
	g := emath.NewFloatGrid(8, 8)
	if _, _, _, err := FitPSFGrid(&g, 1, 1); !errors.Is(err, errors.ErrCodeInvalidInput) {
		t.Errorf("err = %v, want INVALID_INPUT", err)
	}
}

func TestAutoCrop(t *testing.T) {
	g := emath.NewFloatGrid(21, 21)
	g.Fill(1)
	g.Set(3, 10, -1)
	g.Set(10, 15, -0.5)
	out := AutoCrop(&g)
	if out.Dx() != 17 || out.Dy() != 15 {
		t.Errorf("cropped to %dx%d, want 17x15", out.Dx(), out.Dy())
	}
}
