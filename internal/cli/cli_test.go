package cli

import (
	"bytes"
	"context"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"

	"github.com/abworrall/skymodel/pkg/coord"
	"github.com/abworrall/skymodel/pkg/fitsimage"
	"github.com/abworrall/skymodel/pkg/formats"
	"github.com/abworrall/skymodel/pkg/model"
	"github.com/abworrall/skymodel/pkg/settings"
	"github.com/abworrall/skymodel/pkg/tools"
)

func run(t *testing.T, cmd *cobra.Command, args ...string) (int, string) {
	t.Helper()
	var buf bytes.Buffer
	code := Run(context.Background(), cmd, args, &buf)
	return code, buf.String()
}

func writeFile(t *testing.T, path, content string) string {
	t.Helper()
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

const asciiModel = `#format: name ra_d dec_d i tags
A 30.0 -30.0 1.0 keep
B 30.01 -30.0 0.5 !keep
C 29.9 -29.95 0.25 keep,faint
`

// testImage writes a 32x32 1"/pixel image centred on 30,-30.
func testImage(t *testing.T, dir string) string {
	t.Helper()
	h := fitsimage.NewHeader()
	h.Set("CTYPE1", "RA---SIN")
	h.Set("CRVAL1", 30.0)
	h.Set("CDELT1", -1.0/3600)
	h.Set("CRPIX1", 17.0)
	h.Set("CTYPE2", "DEC--SIN")
	h.Set("CRVAL2", -30.0)
	h.Set("CDELT2", 1.0/3600)
	h.Set("CRPIX2", 17.0)
	c, err := fitsimage.NewCube([]int{32, 32}, h)
	if err != nil {
		t.Fatalf("NewCube() error: %v", err)
	}
	for i := range c.Data {
		c.Data[i] = float64(i%7) * 0.01
	}
	file := filepath.Join(dir, "image.fits")
	if err := c.Save(file); err != nil {
		t.Fatalf("Save() error: %v", err)
	}
	return file
}

func TestOutputName(t *testing.T) {
	dir := t.TempDir()
	native, _ := formats.Lookup("Tigger")
	text, _ := formats.Lookup("ASCII")
	in := writeFile(t, filepath.Join(dir, "sky.lsm.html"), "")

	tests := []struct {
		name   string
		output string
		ext    string
		force  bool
		want   string
		fail   bool
	}{
		{"replace suffix", "", ".txt", false, filepath.Join(dir, "sky.txt"), false},
		{"same format refused", "", ".lsm.html", false, "", true},
		{"same format forced", "", ".lsm.html", true, in, false},
		{"explicit output", "/tmp/x.mdl", ".mdl", false, "/tmp/x.mdl", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := outputName(in, tt.output, native, tt.ext, tt.force)
			if tt.fail {
				if err == nil {
					t.Errorf("outputName() = %q, want an error", got)
				}
				return
			}
			if err != nil || got != tt.want {
				t.Errorf("outputName() = %q, %v; want %q", got, err, tt.want)
			}
		})
	}
	if got := stripExtension("a.b.txt", text); got != "a.b" {
		t.Errorf("stripExtension() = %q", got)
	}
}

func TestParsers(t *testing.T) {
	if s, n, err := parseScale("0.5,3"); err != nil || s != 0.5 || n != 3 {
		t.Errorf("parseScale(0.5,3) = %v %v %v", s, n, err)
	}
	if s, n, err := parseScale("2"); err != nil || s != 2 || n != 0 {
		t.Errorf("parseScale(2) = %v %v %v", s, n, err)
	}
	for _, bad := range []string{"x", "1,2,3", "1,-2"} {
		if _, _, err := parseScale(bad); err == nil {
			t.Errorf("parseScale(%q) should fail", bad)
		}
	}

	maj, mn, pa, err := parseBeam("6,4,30")
	if err != nil || math.Abs(maj-6*coord.ARCSEC) > 1e-15 || math.Abs(mn-4*coord.ARCSEC) > 1e-15 || math.Abs(pa-30*coord.DEG) > 1e-15 {
		t.Errorf("parseBeam(6,4,30) = %v %v %v %v", maj, mn, pa, err)
	}
	if _, _, _, err := parseBeam("6,4"); err == nil {
		t.Error("parseBeam(6,4) should fail")
	}

	ra, dec, err := parseRecenter("J2000,2:00:00,-30:00:00")
	if err != nil || math.Abs(ra-30*coord.DEG) > 1e-12 || math.Abs(dec+30*coord.DEG) > 1e-12 {
		t.Errorf("parseRecenter() = %v %v %v", ra, dec, err)
	}
	for _, bad := range []string{"B1950,1,2", "J2000,1", "j2000,nope,1"} {
		if _, _, err := parseRecenter(bad); err == nil {
			t.Errorf("parseRecenter(%q) should fail", bad)
		}
	}
}

func TestConvert(t *testing.T) {
	dir := t.TempDir()
	in := writeFile(t, filepath.Join(dir, "sky.txt"), asciiModel)

	if code, out := run(t, NewConvertCmd(), in); code != 0 {
		t.Fatalf("convert exit %d: %s", code, out)
	}
	m, err := formats.Load(filepath.Join(dir, "sky.lsm.html"), "", formats.LoadOptions{})
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if len(m.Sources) != 3 {
		t.Errorf("%d sources, want 3", len(m.Sources))
	}

	code, out := run(t, NewConvertCmd(), "--text", in)
	if code != 1 || !strings.Contains(out, "-f") {
		t.Errorf("converting onto the input: exit %d, %q", code, out)
	}
	if code, out := run(t, NewConvertCmd(), "--text", "--newstar", in); code != 1 {
		t.Errorf("two output formats: exit %d, %q", code, out)
	}
	if code, out := run(t, NewConvertCmd(), "--input-format", "nope", in); code != 1 {
		t.Errorf("unknown input format: exit %d, %q", code, out)
	}
}

func TestConvertRenameRecenter(t *testing.T) {
	dir := t.TempDir()
	in := writeFile(t, filepath.Join(dir, "sky.txt"), asciiModel)
	outFile := filepath.Join(dir, "renamed.lsm.html")
	code, out := run(t, NewConvertCmd(), "--rename", "--recenter", "j2000,2:00:00,-30:00:00",
		"--primary-beam", "max(cos(65*1e-9*fq*r)**6, 0.01)", "--app-to-int", "--ref-freq", "1400", in, outFile)
	if code != 0 {
		t.Fatalf("convert exit %d: %s", code, out)
	}
	m, err := formats.Load(outFile, "", formats.LoadOptions{})
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	for _, s := range m.Sources {
		if !tools.COPARTName.MatchString(s.Name) {
			t.Errorf("name %q is not a COPART name", s.Name)
		}
		if _, ok := s.Tag("Iapp"); !ok {
			t.Errorf("%s: no Iapp after --app-to-int", s.Name)
		}
	}
	if m.PBExp == "" {
		t.Error("primary beam expression not kept on the model")
	}

	if code, _ := run(t, NewConvertCmd(), "--app-to-int", in, filepath.Join(dir, "x.lsm.html")); code != 1 {
		t.Error("--app-to-int without a primary beam should fail")
	}
}

func TestConvertBadClusterParams(t *testing.T) {
	dir := t.TempDir()
	in := writeFile(t, filepath.Join(dir, "sky.txt"), asciiModel)
	tests := [][]string{
		{"--rename", "--radial-step", "0"},
		{"--rename", "--radial-step", "-5"},
		{"--cluster-dist", "-1"},
	}
	for _, args := range tests {
		args = append(args, in, filepath.Join(dir, "out.lsm.html"))
		if code, out := run(t, NewConvertCmd(), args...); code != 1 || !strings.Contains(out, "must") {
			t.Errorf("convert %v: exit %d: %s", args, code, out)
		}
	}
	if _, err := os.Stat(filepath.Join(dir, "out.lsm.html")); err == nil {
		t.Errorf("output written despite bad parameters")
	}
}

func TestExport(t *testing.T) {
	dir := t.TempDir()
	in := writeFile(t, filepath.Join(dir, "sky.txt"), asciiModel)

	outFile := filepath.Join(dir, "kept.lsm.html")
	if code, out := run(t, NewExportCmd(), "-t", "faint", "-t", "nothing", in, outFile); code != 0 {
		t.Fatalf("export exit %d: %s", code, out)
	}
	m, err := formats.Load(outFile, "", formats.LoadOptions{})
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	if len(m.Sources) != 1 || m.Sources[0].Name != "C" {
		t.Errorf("exported %v, want just C", m.Sources)
	}

	if code, out := run(t, NewExportCmd(), "-N", "--ref-freq", "1400", "-t", "keep", in); code != 0 {
		t.Fatalf("export -N exit %d: %s", code, out)
	}
	back, err := formats.Load(filepath.Join(dir, "sky.mdl"), "", formats.LoadOptions{})
	if err != nil {
		t.Fatalf("Load(mdl) error: %v", err)
	}
	if len(back.Sources) != 2 {
		t.Errorf("%d sources in NEWSTAR export, want 2", len(back.Sources))
	}

	if code, _ := run(t, NewExportCmd(), "-t", "absent", in, filepath.Join(dir, "none.txt")); code != 1 {
		t.Error("export with no matching sources should fail")
	}
}

func TestRestoreCmd(t *testing.T) {
	dir := t.TempDir()
	image := testImage(t, dir)
	sky := writeFile(t, filepath.Join(dir, "one.txt"), "#format: name ra_d dec_d i\nA 30.0 -30.0 1.0\nB 30.002 -30.0 0.1\n")

	code, out := run(t, NewRestoreCmd(), image, sky)
	if code != 1 || !strings.Contains(out, "-b") {
		t.Errorf("no beam: exit %d, %q", code, out)
	}

	output := filepath.Join(dir, "image.restored.fits")
	if code, out := run(t, NewRestoreCmd(), "--clear", "-b", "3", "-n", "1", "-s", "2", image, sky); code != 0 {
		t.Fatalf("restore exit %d: %s", code, out)
	}
	c, err := fitsimage.Load(output)
	if err != nil {
		t.Fatalf("Load() error: %v", err)
	}
	g := c.Image()
	if v := g.Get(16, 16); math.Abs(v-2) > 1e-5 {
		t.Errorf("peak = %v, want 2 (flux 1 scaled by 2)", v)
	}
	if v := g.Get(0, 0); v != 0 {
		t.Errorf("corner = %v, want 0 after --clear", v)
	}
	if c.PSF == nil || math.Abs(c.PSF.Maj-3*coord.ARCSEC) > 1e-9 {
		t.Errorf("PSF = %+v, want 3\" recorded in the header", c.PSF)
	}

	if code, out := run(t, NewRestoreCmd(), "-b", "3", image, sky); code != 1 || !strings.Contains(out, "already exists") {
		t.Errorf("existing output: exit %d, %q", code, out)
	}
	if code, out := run(t, NewRestoreCmd(), "-f", "-b", "3", image, sky, output); code != 0 {
		t.Errorf("forced restore exit %d: %s", code, out)
	}
}

func TestRenderCmd(t *testing.T) {
	dir := t.TempDir()
	image := testImage(t, dir)
	sky := writeFile(t, filepath.Join(dir, "one.txt"), "#format: name ra_d dec_d i\nA 30.0 -30.0 1.0\n")
	conf := filepath.Join(dir, "settings.yaml")
	files := map[string]string{
		"png":  filepath.Join(dir, "out.png"),
		"hist": filepath.Join(dir, "hist.png"),
		"hdr":  filepath.Join(dir, "plane.hdr"),
	}

	code, out := run(t, NewRenderCmd(), "--itf", "log", "--cmap", "Heat", "--range", "0,0.05",
		"--model", sky, "--hist", files["hist"], "--hdr", files["hdr"], "--settings", conf, image, files["png"])
	if code != 0 {
		t.Fatalf("render exit %d: %s", code, out)
	}
	for what, f := range files {
		if st, err := os.Stat(f); err != nil || st.Size() == 0 {
			t.Errorf("%s output %s not written", what, f)
		}
	}
	im, ok := settings.Load(conf).Image(image)
	if !ok || im.ITF != "log" || im.Colormap != "Heat" || len(im.Range) != 2 || im.Range[1] != 0.05 {
		t.Errorf("remembered settings = %+v", im)
	}

	// the remembered settings apply on the next run
	if code, out := run(t, NewRenderCmd(), "--tonemap", "linear", "--settings", conf, image, filepath.Join(dir, "tmo.tiff")); code != 0 {
		t.Fatalf("tonemapped render exit %d: %s", code, out)
	}
	if code, _ := run(t, NewRenderCmd(), "--itf", "sqrt", image); code != 1 {
		t.Error("unknown ITF should fail")
	}
	if code, _ := run(t, NewRenderCmd(), "--range", "1", image); code != 1 {
		t.Error("one-value range should fail")
	}
}

func TestAppToIntNeedsBeam(t *testing.T) {
	m := model.NewSkyModel(model.NewSource("a", model.Position{RA: 0, Dec: 0}, model.NewFlux(1)))
	if err := appToInt(m); err == nil {
		t.Error("appToInt without PBExp should fail")
	}
}
