package formats

import (
	"bufio"
	"fmt"
	"io"
	"math"
	"os"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/abworrall/skymodel/pkg/coord"
	"github.com/abworrall/skymodel/pkg/errors"
	"github.com/abworrall/skymodel/pkg/model"
)

// Custom model attributes kept so that a saved file matches the one read.
const (
	customBBSFormat  = "bbs_format"
	customBBSPatches = "bbs_patches"
)

// Internal source tags recording how a record was written.
const (
	tagBBSRow   = "_bbs_row"
	tagBBSPol   = "_bbs_polfrac"
	tagBBSLogSI = "_bbs_logarithmicsi"
)

const defaultBBSFormat = "# (Name, Type, Patch, Ra, Dec, I, Q, U, V, ReferenceFrequency, SpectralIndex='[]', MajorAxis, MinorAxis, Orientation) = format"

var (
	bbsFormatHash = regexp.MustCompile(`^\s*#?\s*\((.*)\)\s*=\s*[Ff]ormat\s*$`)
	bbsFormatKW   = regexp.MustCompile(`^\s*#?\s*[Ff]ormat\s*=\s*(.*)$`)
)

type bbsField struct {
	Name    string
	Default string
	HasDef  bool
}

type bbsFormat struct {
	Line   string
	Fields []bbsField
	index  map[string]int // lower-case name
}

func (f *bbsFormat) has(name string) bool {
	_, ok := f.index[strings.ToLower(name)]
	return ok
}

// parseBBSFormat parses "# (Name, Type, ...) = format" or "format = Name, ...".
func parseBBSFormat(line string) (*bbsFormat, bool) {
	var body string
	if mm := bbsFormatHash.FindStringSubmatch(line); mm != nil {
		body = mm[1]
	} else if mm := bbsFormatKW.FindStringSubmatch(line); mm != nil {
		body = strings.Trim(strings.TrimSpace(mm[1]), "()")
	} else {
		return nil, false
	}
	f := &bbsFormat{Line: strings.TrimSpace(line), index: map[string]int{}}
	for _, item := range splitBBS(body) {
		fld := bbsField{Name: item}
		if k := strings.Index(item, "="); k >= 0 {
			fld.Name = strings.TrimSpace(item[:k])
			fld.Default = strings.Trim(strings.TrimSpace(item[k+1:]), `'"`)
			fld.HasDef = true
		}
		if fld.Name == "" {
			continue
		}
		f.index[strings.ToLower(fld.Name)] = len(f.Fields)
		f.Fields = append(f.Fields, fld)
	}
	return f, f.has("name") && f.has("type")
}

// splitBBS splits on commas outside brackets and quotes.
func splitBBS(s string) []string {
	var out []string
	depth, quote, start := 0, byte(0), 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '\'' || c == '"':
			quote = c
		case c == '[' || c == '(':
			depth++
		case c == ']' || c == ')':
			depth--
		case c == ',' && depth == 0:
			out = append(out, strings.TrimSpace(s[start:i]))
			start = i + 1
		}
	}
	return append(out, strings.TrimSpace(s[start:]))
}

// bbsRecord is one line's values by lower-case field name, defaults filled.
type bbsRecord map[string]string

func (f *bbsFormat) record(line string) bbsRecord {
	rec := bbsRecord{}
	vals := splitBBS(line)
	for i, fld := range f.Fields {
		v := ""
		if i < len(vals) {
			v = vals[i]
		}
		if v == "" && fld.HasDef {
			v = fld.Default
		}
		rec[strings.ToLower(fld.Name)] = v
	}
	return rec
}

func (r bbsRecord) float(name string, def float64) (float64, error) {
	v := strings.TrimSpace(r[strings.ToLower(name)])
	if v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: bad number %q", name, v)
	}
	return f, nil
}

func (r bbsRecord) floatList(name string) ([]float64, error) {
	v := strings.Trim(strings.TrimSpace(r[strings.ToLower(name)]), "[]")
	var out []float64
	for _, s := range strings.Split(v, ",") {
		if s = strings.TrimSpace(s); s == "" {
			continue
		}
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, fmt.Errorf("%s: bad number %q", name, s)
		}
		out = append(out, f)
	}
	return out, nil
}

// BBS declinations are written dd.mm.ss; RA hh:mm:ss.
func (r bbsRecord) position() (float64, float64, error) {
	ra, err := coord.ParseRA(r["ra"])
	if err != nil {
		return 0, 0, err
	}
	dec, err := coord.ParseDec(r["dec"])
	if err != nil {
		return 0, 0, err
	}
	return ra, dec, nil
}

var bbsKnown = map[string]bool{
	"name": true, "type": true, "patch": true, "ra": true, "dec": true,
	"i": true, "q": true, "u": true, "v": true, "referencefrequency": true,
	"spectralindex": true, "logarithmicsi": true, "majoraxis": true, "minoraxis": true,
	"orientation": true, "rotationmeasure": true, "polarizationangle": true, "polarizedfraction": true,
}

// LoadBBS reads a BBS sky model.
func LoadBBS(filename string, opts LoadOptions) (*model.SkyModel, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidInput, err, "can't open %s", filename)
	}
	defer f.Close()
	return readBBS(f, filename, opts)
}

func readBBS(r io.Reader, filename string, opts LoadOptions) (*model.SkyModel, error) {
	var format *bbsFormat
	if opts.Format != "" {
		ff, ok := parseBBSFormat(opts.Format)
		if !ok {
			return nil, errors.New(errors.ErrCodeInvalidInput, "bad BBS format string %q", opts.Format)
		}
		format = ff
	}

	var sources []*model.Source
	var patches []any
	haveCenter := false
	var ra0, dec0 float64

	sc := bufio.NewScanner(r)
	lineno, row := 0, 0
	for sc.Scan() {
		lineno++
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if ff, ok := parseBBSFormat(line); ok {
			if format == nil {
				format = ff
			}
			continue
		}
		if strings.HasPrefix(line, "#") {
			continue
		}
		if format == nil {
			return nil, errors.New(errors.ErrCodeFileFormat, "%s:%d: record before the format line", filename, lineno)
		}
		rec := format.record(line)
		row++

		if rec["name"] == "" {
			patch := rec["patch"]
			if patch == "" {
				warnf(filename, lineno, "record with neither name nor patch")
				continue
			}
			ra, dec, err := rec.position()
			if err != nil {
				warnf(filename, lineno, "patch %s: %v", patch, err)
				continue
			}
			patches = append(patches, model.Tuple{patch, ra, dec, row})
			if !haveCenter {
				ra0, dec0, haveCenter = ra, dec, true
			}
			continue
		}

		src, err := bbsSource(rec, opts.Freq0)
		if err != nil {
			warnf(filename, lineno, "%v", err)
			continue
		}
		// unknown columns become tags
		for _, fld := range format.Fields {
			key := strings.ToLower(fld.Name)
			if v := rec[key]; !bbsKnown[key] && v != "" {
				src.SetTag(fld.Name, model.ParseTag(v))
			}
		}
		src.SetTag(tagBBSRow, model.Int(int64(row)))
		sources = append(sources, src)
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Wrap(errors.ErrCodeFileFormat, err, "reading %s", filename)
	}
	if format == nil {
		return nil, errors.New(errors.ErrCodeFileFormat, "%s: no format line", filename)
	}

	m := model.NewSkyModel(sources...)
	m.Custom[customBBSFormat] = format.Line
	if len(patches) > 0 {
		m.Custom[customBBSPatches] = patches
	}
	if haveCenter {
		m.SetFieldCenter(ra0, dec0)
	}
	log.Debugf("%s: %d sources, %d patches", filename, len(sources), len(patches))
	return m, nil
}

func bbsSource(rec bbsRecord, defFreq float64) (*model.Source, error) {
	name := rec["name"]
	ra, dec, err := rec.position()
	if err != nil {
		return nil, fmt.Errorf("source %s: %v", name, err)
	}

	var vals [4]float64
	for k, st := range []string{"I", "Q", "U", "V"} {
		if vals[k], err = rec.float(st, 0); err != nil {
			return nil, fmt.Errorf("source %s: %v", name, err)
		}
	}
	if rec["polarizedfraction"] != "" {
		frac, err1 := rec.float("PolarizedFraction", 0)
		chi, err2 := rec.float("PolarizationAngle", 0)
		if err1 != nil || err2 != nil {
			return nil, fmt.Errorf("source %s: bad polarization", name)
		}
		vals[1] = vals[0] * frac * math.Cos(2*chi*coord.DEG)
		vals[2] = vals[0] * frac * math.Sin(2*chi*coord.DEG)
	}
	logSI := rec["logarithmicsi"]
	freq0, err := rec.float("ReferenceFrequency", 0)
	if err != nil {
		return nil, fmt.Errorf("source %s: %v", name, err)
	}
	rm, err := rec.float("RotationMeasure", 0)
	if err != nil {
		return nil, fmt.Errorf("source %s: %v", name, err)
	}

	var flux *model.Flux
	switch {
	case rm != 0:
		flux = model.NewPolarizationWithRM(vals[0], vals[1], vals[2], vals[3], rm, freq0)
	case vals[1] != 0 || vals[2] != 0 || vals[3] != 0:
		flux = model.NewPolarization(vals[0], vals[1], vals[2], vals[3])
	default:
		flux = model.NewFlux(vals[0])
	}
	src := model.NewSource(name, model.Position{RA: ra, Dec: dec}, flux)

	spi, err := rec.floatList("SpectralIndex")
	if err != nil {
		return nil, fmt.Errorf("source %s: %v", name, err)
	}
	if len(spi) > 0 {
		if freq0 <= 0 {
			freq0 = defFreq
		}
		if freq0 > 0 {
			src.Spectrum = model.NewSpectralIndex(freq0, spi...)
		}
	}

	switch strings.ToUpper(rec["type"]) {
	case "POINT":
	case "GAUSSIAN":
		maj, err1 := rec.float("MajorAxis", 0)
		minor, err2 := rec.float("MinorAxis", 0)
		pa, err3 := rec.float("Orientation", 0)
		if err1 != nil || err2 != nil || err3 != nil {
			return nil, fmt.Errorf("source %s: bad Gaussian extent", name)
		}
		src.Shape = model.NewGaussian(maj*coord.ARCSEC, minor*coord.ARCSEC, pa*coord.DEG)
	default:
		return nil, fmt.Errorf("source %s: unsupported type %q", name, rec["type"])
	}
	if p := rec["patch"]; p != "" {
		src.SetTag("patch", model.String(p))
	}
	if rec["polarizedfraction"] != "" {
		src.SetTag(tagBBSPol, model.Bool(true))
	}
	if logSI != "" {
		src.SetTag(tagBBSLogSI, model.String(logSI))
	}
	return src, nil
}

// SaveBBS writes a BBS sky model using opts.Format, the format the model
// was read with, or a default one.
func SaveBBS(m *model.SkyModel, filename string, opts SaveOptions) error {
	f, err := os.Create(filename)
	if err != nil {
		return errors.Wrap(errors.ErrCodeInvalidInput, err, "can't create %s", filename)
	}
	defer f.Close()
	w := bufio.NewWriter(f)
	if err := writeBBS(w, m, opts, filename); err != nil {
		return err
	}
	if err := w.Flush(); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidInput, err, "writing %s", filename)
	}
	return nil
}

func writeBBS(w io.Writer, m *model.SkyModel, opts SaveOptions, filename string) error {
	line := opts.Format
	if line == "" {
		line, _ = m.Custom[customBBSFormat].(string)
	}
	if line == "" {
		line = defaultBBSFormat
	}
	format, ok := parseBBSFormat(line)
	if !ok {
		return errors.New(errors.ErrCodeInvalidInput, "bad BBS format string %q", line)
	}

	var out []string
	emit := func(vals []string) { out = append(out, strings.Join(vals, ", ")) }
	out = append(out, format.Line)

	// Records go out in the order they were read. Sources without a row
	// follow their patch, or lead the file when unpatched.
	type bbsEntry struct {
		key   float64
		patch model.Tuple
		src   *model.Source
	}
	var entries []bbsEntry
	patchKey := map[string]float64{}
	patches, _ := m.Custom[customBBSPatches].([]any)
	for i, p := range patches {
		t, ok := p.(model.Tuple)
		if !ok || len(t) < 3 {
			continue
		}
		name, _ := t[0].(string)
		key := float64(i)
		if len(t) > 3 {
			if r, ok := tupleNumber(t[3]); ok {
				key = r
			}
		}
		if _, dup := patchKey[name]; !dup {
			patchKey[name] = key
		}
		entries = append(entries, bbsEntry{key: key, patch: t})
	}
	for _, src := range opts.sources(m) {
		key := -1.0
		patch := ""
		if p, ok := src.Tag("patch"); ok {
			patch = p.AsString()
		}
		if r, ok := src.Tag(tagBBSRow); ok {
			key = float64(r.AsInt())
		} else if patch != "" {
			if pk, ok := patchKey[patch]; ok {
				key = pk + 0.5
			} else {
				key = math.Inf(1)
			}
		}
		entries = append(entries, bbsEntry{key: key, src: src})
	}
	sort.SliceStable(entries, func(i, j int) bool { return entries[i].key < entries[j].key })

	for _, e := range entries {
		if e.src == nil {
			name, _ := e.patch[0].(string)
			ra, _ := tupleNumber(e.patch[1])
			dec, _ := tupleNumber(e.patch[2])
			emit(format.patchValues(name, ra, dec))
			continue
		}
		vals, err := format.sourceValues(e.src, m)
		if err != nil {
			warnf(filename, 0, "source %s: %v", e.src.Name, err)
			continue
		}
		emit(vals)
	}

	for _, l := range out {
		if _, err := fmt.Fprintln(w, l); err != nil {
			return errors.Wrap(errors.ErrCodeInvalidInput, err, "writing %s", filename)
		}
	}
	return nil
}

func tupleNumber(v any) (float64, bool) {
	switch x := v.(type) {
	case float64:
		return x, true
	case int:
		return float64(x), true
	case int64:
		return float64(x), true
	}
	return 0, false
}

func bbsRA(ra float64) string { return coord.RAString(ra, 3) }

func bbsDec(dec float64) string {
	return coord.FormatSexagesimal(coord.DMS(dec, 3), ".", 3, true)
}

// bbsFloat keeps 12 significant digits, hiding unit-conversion noise.
func bbsFloat(f float64) string { return strconv.FormatFloat(f, 'g', 12, 64) }

// patchValues lists fields up to Dec; later fields are omitted.
func (f *bbsFormat) patchValues(name string, ra, dec float64) []string {
	var vals []string
	last := 0
	for i, fld := range f.Fields {
		v := ""
		switch strings.ToLower(fld.Name) {
		case "patch":
			v = name
		case "ra":
			v = bbsRA(ra)
		case "dec":
			v = bbsDec(dec)
		}
		if v != "" {
			last = i
		}
		vals = append(vals, v)
	}
	return vals[:last+1]
}

func (f *bbsFormat) sourceValues(src *model.Source, m *model.SkyModel) ([]string, error) {
	var typ string
	var g *model.Gaussian
	switch sh := src.Shape.(type) {
	case nil:
		typ = "POINT"
	case *model.Gaussian:
		typ, g = "GAUSSIAN", sh
	default:
		return nil, errors.New(errors.ErrCodeUnsupportedShape, "shape %s has no BBS representation", src.TypeCode())
	}

	freq0 := m.Freq0
	var spi []float64
	if si, ok := src.Spectrum.(*model.SpectralIndex); ok {
		freq0, spi = si.Freq0, si.Spi
	} else if src.Flux.Kind == model.KindPolarizationWithRM && src.Flux.Freq0 > 0 {
		freq0 = src.Flux.Freq0
	}

	// A polarized fraction column carries Q and U unless they were given.
	polFrac := false
	if f.has("polarizedfraction") {
		if t, ok := src.Tag(tagBBSPol); ok {
			polFrac = t.Truthy()
		} else if !f.has("q") && !f.has("u") {
			q, _ := src.Flux.Stokes("Q")
			u, _ := src.Flux.Stokes("U")
			polFrac = q != 0 || u != 0
		}
	}

	vals := make([]string, len(f.Fields))
	for i, fld := range f.Fields {
		var v string
		switch strings.ToLower(fld.Name) {
		case "name":
			v = src.Name
		case "type":
			v = typ
		case "patch":
			if t, ok := src.Tag("patch"); ok {
				v = t.AsString()
			}
		case "ra":
			v = bbsRA(src.Pos.RA)
		case "dec":
			v = bbsDec(src.Pos.Dec)
		case "i", "q", "u", "v":
			st := strings.ToUpper(fld.Name)
			if polFrac && (st == "Q" || st == "U") {
				break
			}
			s, _ := src.Flux.Stokes(st)
			v = bbsFloat(s)
		case "polarizedfraction", "polarizationangle":
			if !polFrac {
				break
			}
			frac, chi := polarization(src.Flux)
			if strings.ToLower(fld.Name) == "polarizedfraction" {
				v = bbsFloat(frac)
			} else {
				v = bbsFloat(chi / coord.DEG)
			}
		case "logarithmicsi":
			if t, ok := src.Tag(tagBBSLogSI); ok {
				v = t.AsString()
			}
		case "referencefrequency":
			if freq0 > 0 {
				v = bbsFloat(freq0)
			}
		case "spectralindex":
			parts := make([]string, len(spi))
			for k, x := range spi {
				parts[k] = bbsFloat(x)
			}
			v = "[" + strings.Join(parts, ", ") + "]"
		case "rotationmeasure":
			if src.Flux.Kind == model.KindPolarizationWithRM {
				v = bbsFloat(src.Flux.RM)
			}
		case "majoraxis":
			if g != nil {
				v = bbsFloat(g.Ex / coord.ARCSEC)
			}
		case "minoraxis":
			if g != nil {
				v = bbsFloat(g.Ey / coord.ARCSEC)
			}
		case "orientation":
			if g != nil {
				v = bbsFloat(g.Pa / coord.DEG)
			}
		default:
			if t, ok := src.Tag(fld.Name); ok {
				v = t.String()
			}
		}
		if fld.HasDef && sameBBSValue(v, fld.Default) {
			v = ""
		}
		vals[i] = v
	}
	return vals, nil
}

// polarization returns the linear polarized fraction, and the angle in
// [0, pi).
func polarization(fl *model.Flux) (float64, float64) {
	i, _ := fl.Stokes("I")
	q, _ := fl.Stokes("Q")
	u, _ := fl.Stokes("U")
	if i == 0 {
		return 0, 0
	}
	chi := math.Atan2(u, q) / 2
	if chi < 0 {
		chi += math.Pi
	}
	return math.Hypot(q, u) / i, chi
}

func sameBBSValue(a, b string) bool {
	if a == b {
		return true
	}
	fa, err1 := strconv.ParseFloat(a, 64)
	fb, err2 := strconv.ParseFloat(b, 64)
	return err1 == nil && err2 == nil && fa == fb
}
