package settings

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/abworrall/skymodel/pkg/fitsimage"
	"github.com/abworrall/skymodel/pkg/render"
)

func testControl(t *testing.T) *render.RenderControl {
	t.Helper()
	h := fitsimage.NewHeader()
	h.Set("CTYPE1", "RA---SIN")
	h.Set("CRVAL1", 30.0)
	h.Set("CDELT1", -1.0/3600)
	h.Set("CRPIX1", 5.0)
	h.Set("CTYPE2", "DEC--SIN")
	h.Set("CRVAL2", -45.0)
	h.Set("CDELT2", 1.0/3600)
	h.Set("CRPIX2", 5.0)
	h.Set("CTYPE3", "FREQ")
	h.Set("CRVAL3", 1.4e9)
	h.Set("CDELT3", 1e6)
	h.Set("CRPIX3", 1.0)
	c, err := fitsimage.NewCube([]int{8, 8, 3}, h)
	if err != nil {
		t.Fatalf("NewCube() error: %v", err)
	}
	for i := range c.Data {
		c.Data[i] = float64(i)
	}
	return render.NewRenderControl(c, nil)
}

func TestRoundTrip(t *testing.T) {
	for _, name := range []string{"skymodel.yaml", "skymodel.toml"} {
		t.Run(name, func(t *testing.T) {
			dir := t.TempDir()
			file := filepath.Join(dir, "conf", name)
			image := filepath.Join(dir, "img.fits")

			rc := testControl(t)
			rc.SetITF(2)
			i, _ := render.ColormapIndex(rc.Colormaps(), "cubehelix")
			rc.SetColormap(i)
			rc.CubeHelix().SetParams(0.8, 0.4, -1, 1.5)
			rc.SelectSlice([]int{2})
			rc.SetDisplayRange(3, 40)

			s := New(file)
			s.Dialogs["main"] = Geometry{10, 20, 800, 600}
			s.Remember(image, rc)
			s.Save()

			back := Load(file)
			if g := back.Dialogs["main"]; g != (Geometry{10, 20, 800, 600}) {
				t.Errorf("geometry = %+v", g)
			}
			im, ok := back.Image(image)
			if !ok {
				t.Fatalf("no settings for %s in %v", image, back.Images)
			}
			if im.ITF != "histeq" || im.Colormap != "CubeHelix" || len(im.Slice) != 1 || im.Slice[0] != 2 {
				t.Errorf("image settings = %+v", im)
			}

			fresh := testControl(t)
			if err := im.Apply(fresh); err != nil {
				t.Fatalf("Apply() error: %v", err)
			}
			if fresh.ITF().Name() != "histeq" || fresh.Colormap().Name() != "CubeHelix" {
				t.Errorf("applied itf %s cmap %s", fresh.ITF().Name(), fresh.Colormap().Name())
			}
			if lo, hi := fresh.DisplayRange(); lo != 3 || hi != 40 {
				t.Errorf("applied range = %v,%v", lo, hi)
			}
			if got := fresh.Cube.Slice(); got[0] != 2 {
				t.Errorf("applied slice = %v", got)
			}
			if ch := fresh.CubeHelix(); ch.Gamma != 0.8 || ch.Hue != 1.5 {
				t.Errorf("applied cubehelix = %+v", ch)
			}
		})
	}
}

func TestMissingAndBadFiles(t *testing.T) {
	dir := t.TempDir()
	s := Load(filepath.Join(dir, "nope.yaml"))
	if len(s.Images) != 0 || s.Dialogs == nil {
		t.Errorf("missing file should give empty settings: %+v", s)
	}

	bad := filepath.Join(dir, "bad.yaml")
	os.WriteFile(bad, []byte("images: [1, 2\n"), 0o644)
	if s := Load(bad); len(s.Images) != 0 {
		t.Errorf("bad file should give defaults: %+v", s)
	}

	// a directory in the way: Save logs and carries on
	blocked := filepath.Join(dir, "blocked")
	os.WriteFile(blocked, nil, 0o644)
	New(filepath.Join(blocked, "x.yaml")).Save()
}

func TestApplyUnknownNames(t *testing.T) {
	im := &Image{ITF: "sqrt", Colormap: "jet", Range: []float64{1, 2}}
	rc := testControl(t)
	if err := im.Apply(rc); err == nil {
		t.Error("unknown names should be reported")
	}
	if lo, hi := rc.DisplayRange(); lo != 1 || hi != 2 {
		t.Errorf("range should still apply, got %v,%v", lo, hi)
	}
}

func TestAsYaml(t *testing.T) {
	s := New("x.yaml")
	s.Dialogs["main"] = Geometry{1, 2, 3, 4}
	out := s.AsYaml()
	for _, want := range []string{"dialogs:", "main:", "w: 3"} {
		if !strings.Contains(out, want) {
			t.Errorf("AsYaml() = %q, missing %q", out, want)
		}
	}
}
