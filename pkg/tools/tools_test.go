package tools

import (
	"fmt"
	"math"
	"testing"

	"github.com/abworrall/skymodel/pkg/coord"
	"github.com/abworrall/skymodel/pkg/model"
)

var (
	ra0  = 60 * coord.DEG
	dec0 = -30 * coord.DEG
)

// offset places a source l, m radians from the field centre.
func offset(name string, l, m, flux float64) *model.Source {
	ra, dec := coord.SinWCS(ra0, dec0).RaDec(l, m)
	return model.NewSource(name, model.Position{RA: ra, Dec: dec}, model.NewFlux(flux))
}

func testModel() *model.SkyModel {
	srcs := []*model.Source{
		offset("bright", 15*coord.ARCMIN, 3*coord.ARCMIN, 10),
		offset("companion", 15*coord.ARCMIN+20*coord.ARCSEC, 3*coord.ARCMIN, 1),
		offset("faint", -2*coord.ARCMIN, 5*coord.ARCMIN, 0.5),
		offset("ext", 0, -25*coord.ARCMIN, 2),
	}
	srcs[3].Shape = model.NewGaussian(30*coord.ARCSEC, 20*coord.ARCSEC, 0.5)
	m := model.NewSkyModel(srcs...)
	m.SetFieldCenter(ra0, dec0)
	return m
}

func TestClusters(t *testing.T) {
	m := testModel()
	clusters := TagClusters(m, 60*coord.ARCSEC)
	if len(clusters) != 3 {
		t.Fatalf("%d clusters, want 3", len(clusters))
	}
	lead := clusters[0]
	if lead.Lead().Name != "bright" || len(lead.Members) != 2 {
		t.Fatalf("first cluster = %v led by %s", lead.Members, lead.Lead().Name)
	}
	comp, _ := m.FindSource("companion")
	if v, _ := comp.Tag("cluster"); v.AsString() != "bright" {
		t.Errorf("companion cluster = %v, want bright", v)
	}
	if _, ok := comp.Tag("cluster_lead"); ok {
		t.Error("companion should not be a cluster lead")
	}
	br, _ := m.FindSource("bright")
	if v, ok := br.Tag("cluster_lead"); !ok || !v.Truthy() {
		t.Error("bright should be the cluster lead")
	}
	if got := br.FloatTag("cluster_size", 0); got != 2 {
		t.Errorf("cluster_size = %v, want 2", got)
	}
	if got := br.FloatTag("cluster_flux", 0); math.Abs(got-11) > 1e-12 {
		t.Errorf("cluster_flux = %v, want 11", got)
	}
}

func TestRename(t *testing.T) {
	m := testModel()
	Rename(m, 10*coord.ARCMIN, 60*coord.ARCSEC)
	for _, s := range m.Sources {
		if !COPARTName.MatchString(s.Name) {
			t.Errorf("name %q does not match %s", s.Name, COPARTName)
		}
	}

	names := map[string]bool{}
	for _, s := range m.Sources {
		names[s.Name] = true
	}
	if len(names) != len(m.Sources) {
		t.Errorf("names not unique: %v", names)
	}
	lead := m.Sources[0]
	comp := m.Sources[1]
	if lead.Name[0] != 'B' || lead.Name[3] != '0' {
		t.Errorf("lead name %q: want radial tier B, rank 0", lead.Name)
	}
	if comp.Name != lead.Name+"a" {
		t.Errorf("companion = %q, want %q", comp.Name, lead.Name+"a")
	}
	if v, _ := comp.Tag("cluster"); v.AsString() != lead.Name {
		t.Errorf("cluster tag = %v, want %s", v, lead.Name)
	}
	ext := m.Sources[3]
	if ext.Name[0] != 'C' || ext.Name[len(ext.Name)-1] != 'G' {
		t.Errorf("extended name %q: want radial tier C, type G", ext.Name)
	}
	if _, ok := m.FindSource(lead.Name); !ok {
		t.Error("model index not rebuilt after rename")
	}
}

func TestRenameOverflow(t *testing.T) {
	var srcs []*model.Source
	for i := 0; i < 13; i++ {
		// all in radial tier A, PA tier 00
		srcs = append(srcs, offset(fmt.Sprint(i), 0.3*coord.ARCMIN, (5+0.2*float64(i))*coord.ARCMIN, float64(20-i)))
	}
	m := model.NewSkyModel(srcs...)
	m.SetFieldCenter(ra0, dec0)
	Rename(m, 60*coord.ARCMIN, 1*coord.ARCSEC)
	if got := m.Sources[12].Name; got != "A00xb" {
		t.Errorf("13th source = %q, want A00xb", got)
	}
	seen := map[string]bool{}
	for _, s := range m.Sources {
		if !COPARTName.MatchString(s.Name) {
			t.Errorf("name %q does not match", s.Name)
		}
		if seen[s.Name] {
			t.Errorf("duplicate name %q", s.Name)
		}
		seen[s.Name] = true
	}
}

func TestMemberSuffix(t *testing.T) {
	tests := []struct {
		k    int
		want string
	}{{0, "a"}, {1, "b"}, {25, "z"}, {26, "aa"}, {27, "ab"}, {52, "ba"}}
	for _, tt := range tests {
		if got := memberSuffix(tt.k); got != tt.want {
			t.Errorf("memberSuffix(%d) = %q, want %q", tt.k, got, tt.want)
		}
	}
}

func TestRecenter(t *testing.T) {
	m := testModel()
	before := m.Projection()
	var lms [][2]float64
	for _, s := range m.Sources {
		l, mm := before.LM(s.Pos.RA, s.Pos.Dec)
		lms = append(lms, [2]float64{l, mm})
	}
	Recenter(m, 120*coord.DEG, 45*coord.DEG)
	after := m.Projection()
	for i, s := range m.Sources {
		l, mm := after.LM(s.Pos.RA, s.Pos.Dec)
		if math.Abs(l-lms[i][0]) > 1e-12 || math.Abs(mm-lms[i][1]) > 1e-12 {
			t.Errorf("%s: lm %v,%v, want %v", s.Name, l, mm, lms[i])
		}
	}
	if ra, dec, ok := m.FieldCenter(); !ok || ra != 120*coord.DEG || dec != 45*coord.DEG {
		t.Errorf("field centre = %v,%v,%v", ra, dec, ok)
	}
}

func TestAppToInt(t *testing.T) {
	m := testModel()
	pb, err := PrimaryBeam("max(cos(65*1e-9*fq*r)**6, 0.01)")
	if err != nil {
		t.Fatalf("PrimaryBeam() error: %v", err)
	}
	if err := AppToInt(m, pb, 1.4e9); err != nil {
		t.Fatalf("AppToInt() error: %v", err)
	}
	for _, s := range m.Sources {
		app := s.FloatTag("Iapp", math.NaN())
		r := s.FloatTag("r", 0)
		gain := math.Max(math.Pow(math.Cos(65*1e-9*1.4e9*r), 6), 0.01)
		if math.Abs(s.Flux.I*gain-app) > 1e-9*app {
			t.Errorf("%s: I=%v gain=%v Iapp=%v", s.Name, s.Flux.I, gain, app)
		}
		if s.Brightness() != app {
			t.Errorf("%s: brightness %v, want Iapp %v", s.Name, s.Brightness(), app)
		}
	}
	if err := AppToInt(m, nil, 1.4e9); err == nil {
		t.Error("AppToInt without a beam should fail")
	}
}

func TestPrimaryBeamErrors(t *testing.T) {
	for _, expr := range []string{"cos(", "undefined_fn(r)"} {
		if _, err := PrimaryBeam(expr); err == nil {
			t.Errorf("PrimaryBeam(%q) should fail", expr)
		}
	}
	pb, err := PrimaryBeam("numpy.sqrt(fq) * 0 + min(1, 2)")
	if err != nil {
		t.Fatalf("PrimaryBeam() error: %v", err)
	}
	if got := pb(0, 4); got != 1 {
		t.Errorf("pb = %v, want 1", got)
	}
}

func TestMinExtentAndTags(t *testing.T) {
	m := testModel()
	if n := MinExtent(m, 10*coord.ARCSEC); n != 0 {
		t.Errorf("MinExtent(10\") = %d, want 0", n)
	}
	if n := MinExtent(m, 40*coord.ARCSEC); n != 1 || m.Sources[3].Shape != nil {
		t.Errorf("MinExtent(40\") = %d, shape %v", n, m.Sources[3].Shape)
	}

	n := Tag(m, func(s *model.Source) bool { return s.Flux.I > 1.5 }, "bright", "keep")
	if n != 2 {
		t.Errorf("Tag() = %d, want 2", n)
	}
	if got := Tagged(m, "keep"); len(got) != 2 {
		t.Errorf("Tagged(keep) = %v", got)
	}
	if got := Tagged(m); len(got) != len(m.Sources) {
		t.Errorf("Tagged() = %d sources, want all", len(got))
	}
}
