package fitsimage

import (
	"math"
	"path/filepath"
	"testing"

	"github.com/abworrall/skymodel/pkg/coord"
)

func testHeader() *Header {
	h := NewHeader()
	h.Set("CTYPE1", "RA---SIN")
	h.Set("CRVAL1", 30.0)
	h.Set("CDELT1", -1.0/3600)
	h.Set("CRPIX1", 5.0)
	h.Set("CTYPE2", "DEC--SIN")
	h.Set("CRVAL2", -45.0)
	h.Set("CDELT2", 1.0/3600)
	h.Set("CRPIX2", 4.0)
	h.Set("CTYPE3", "FREQ")
	h.Set("CRVAL3", 1.4e9)
	h.Set("CDELT3", 1e6)
	h.Set("CRPIX3", 1.0)
	h.Set("CUNIT3", "Hz")
	h.Set("CTYPE4", "STOKES")
	h.Set("CRVAL4", 1.0)
	h.Set("CDELT4", 1.0)
	h.Set("CRPIX4", 1.0)
	return h
}

func TestCubeAxes(t *testing.T) {
	c, err := NewCube([]int{8, 6, 2, 4}, testHeader())
	if err != nil {
		t.Fatalf("NewCube() error: %v", err)
	}
	if c.XAxis != 0 || c.YAxis != 1 {
		t.Errorf("sky axes = %d,%d, want 0,1", c.XAxis, c.YAxis)
	}
	if len(c.Extra) != 2 {
		t.Fatalf("extra axes = %d, want 2", len(c.Extra))
	}
	if got := c.Extra[0].Labels[1]; got != "1: 1.401 GHz" {
		t.Errorf("freq label = %q, want %q", got, "1: 1.401 GHz")
	}
	want := []string{"I", "Q", "U", "V"}
	for i, w := range want {
		if got := c.Extra[1].Labels[i]; got != w {
			t.Errorf("stokes label %d = %q, want %q", i, got, w)
		}
	}
	if k, i, ok := c.StokesIndex("U"); !ok || k != 1 || i != 2 {
		t.Errorf("StokesIndex(U) = %d,%d,%v", k, i, ok)
	}
	if c.PSF != nil {
		t.Error("PSF should be nil without BMAJ/BMIN/BPA")
	}
	ra, dec := c.Proj.Center()
	if math.Abs(ra-30*coord.DEG) > 1e-12 || math.Abs(dec+45*coord.DEG) > 1e-12 {
		t.Errorf("centre = %v,%v", ra, dec)
	}
}

func TestNegativeStokesCodes(t *testing.T) {
	tests := []struct {
		code int
		want string
	}{{-1, "RR"}, {-2, "LL"}, {-5, "XX"}, {-8, "YX"}, {4, "V"}}
	for _, tt := range tests {
		if got := enumName(stokesNames, tt.code); got != tt.want {
			t.Errorf("enumName(%d) = %q, want %q", tt.code, got, tt.want)
		}
	}
}

func TestSliceIndexing(t *testing.T) {
	dims := []int{8, 6, 2, 4}
	c, err := NewCube(dims, testHeader())
	if err != nil {
		t.Fatal(err)
	}
	for i := range c.Data {
		c.Data[i] = float64(i)
	}
	var got []int
	c.SliceChanged.Connect("test", func(s []int) { got = s })
	if err := c.SelectSlice([]int{1, 3}); err != nil {
		t.Fatal(err)
	}
	if len(got) != 2 || got[0] != 1 || got[1] != 3 {
		t.Errorf("SliceChanged payload = %v", got)
	}
	img := c.Image()
	for _, p := range [][2]int{{0, 0}, {7, 5}, {3, 2}} {
		x, y := p[0], p[1]
		want := float64(x + 8*y + 8*6*1 + 8*6*2*3)
		if v := img.Get(x, y); v != want {
			t.Errorf("image[%d,%d] = %v, want %v", x, y, v, want)
		}
	}
	if err := c.SelectSlice([]int{2, 0}); err == nil {
		t.Error("out-of-range slice should fail")
	}
}

func TestMaskedMinMax(t *testing.T) {
	h := NewHeader()
	c, err := NewCube([]int{4, 4}, h)
	if err != nil {
		t.Fatal(err)
	}
	for i := range c.Data {
		c.Data[i] = math.NaN()
	}
	lo, hi := c.DataMinMax(nil)
	if !math.IsNaN(lo) || !math.IsNaN(hi) {
		t.Errorf("all-masked min/max = %v,%v, want NaN,NaN", lo, hi)
	}
	vals, mask := Ravel(c.Image())
	if len(vals) != 16 || len(mask) != 16 || !mask[5] {
		t.Errorf("Ravel: %d values, %d mask entries", len(vals), len(mask))
	}
}

func TestSaveLoad(t *testing.T) {
	h := testHeader()
	h.Set("BMAJ", 2.0/3600)
	h.Set("BMIN", 1.0/3600)
	h.Set("BPA", 30.0)
	c, err := NewCube([]int{8, 6, 2, 4}, h)
	if err != nil {
		t.Fatal(err)
	}
	for i := range c.Data {
		c.Data[i] = float64(i%17) * 0.5
	}
	c.Data[3] = math.NaN()

	file := filepath.Join(t.TempDir(), "cube.fits")
	if err := c.Save(file); err != nil {
		t.Fatalf("Save() error: %v", err)
	}
	d, err := Load(file)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if len(d.Data) != len(c.Data) {
		t.Fatalf("loaded %d pixels, want %d", len(d.Data), len(c.Data))
	}
	for i := range c.Data {
		if i == 3 {
			if !math.IsNaN(d.Data[i]) {
				t.Errorf("pixel 3 = %v, want NaN", d.Data[i])
			}
			continue
		}
		if d.Data[i] != c.Data[i] {
			t.Fatalf("pixel %d = %v, want %v", i, d.Data[i], c.Data[i])
		}
	}
	if d.PSF == nil || math.Abs(d.PSF.Maj/(2*coord.ARCSEC)-1) > 1e-6 || math.Abs(d.PSF.PA/(30*coord.DEG)-1) > 1e-6 {
		t.Errorf("PSF = %+v", d.PSF)
	}
	ra, dec := d.Proj.Center()
	if math.Abs(ra-30*coord.DEG) > 1e-9 || math.Abs(dec+45*coord.DEG) > 1e-9 {
		t.Errorf("loaded centre = %v,%v", ra, dec)
	}
}

func TestSIFormat(t *testing.T) {
	tests := []struct {
		v    float64
		unit string
		want string
	}{
		{1.4e9, "Hz", "1.4 GHz"},
		{250, "m/s", "250 m/s"},
		{0.002, "s", "2 ms"},
		{3, "", "3"},
	}
	for _, tt := range tests {
		if got := SIFormat(tt.v, tt.unit); got != tt.want {
			t.Errorf("SIFormat(%v, %q) = %q, want %q", tt.v, tt.unit, got, tt.want)
		}
	}
}
