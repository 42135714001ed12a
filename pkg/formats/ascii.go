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

	json "github.com/KevinWang15/go-json5"
	"github.com/charmbracelet/log"

	"github.com/abworrall/skymodel/pkg/coord"
	"github.com/abworrall/skymodel/pkg/errors"
	"github.com/abworrall/skymodel/pkg/model"
)

const defaultASCIIFormat = "name ra_d dec_d i q u v spi rm freq0 emaj_s emin_s pa_d tags..."

// Angular keys are <quantity>[_err]_<unit>.
var asciiAngleKey = regexp.MustCompile(`^(ra|dec|emaj|emin|pa|pol_pa)(_err)?_(rad|d|h|m|s)$`)

var raUnits = map[string]float64{
	"rad": 1, "d": coord.DEG, "h": 15 * coord.DEG, "m": 15 * coord.DEG / 60, "s": 15 * coord.DEG / 3600,
}

var arcUnits = map[string]float64{
	"rad": 1, "d": coord.DEG, "m": coord.ARCMIN, "s": coord.ARCSEC,
}

// unit order for decomposition, coarsest first
var unitOrder = []string{"rad", "d", "h", "m", "s"}

// asciiFormat maps keys to column numbers. A "tags..." key claims its
// column and all the ones after it.
type asciiFormat struct {
	cols  map[string]int
	order []string
}

// parseASCIIFormat accepts "name ra_d dec_d i ..." or a JSON5 dict
// {name: 0, ra_d: 1, ...}.
func parseASCIIFormat(s string) (*asciiFormat, error) {
	f := &asciiFormat{cols: map[string]int{}}
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "{") {
		var d map[string]any
		if err := json.Unmarshal([]byte(s), &d); err != nil {
			return nil, errors.Wrap(errors.ErrCodeInvalidInput, err, "bad format dict %q", s)
		}
		for key, v := range d {
			n, ok := v.(float64)
			if !ok || n < 0 || n != math.Trunc(n) {
				return nil, errors.New(errors.ErrCodeInvalidInput, "format key %s: column %v is not an index", key, v)
			}
			f.add(key, int(n))
		}
		sort.Slice(f.order, func(i, j int) bool { return f.cols[f.order[i]] < f.cols[f.order[j]] })
		return f, nil
	}
	for i, key := range strings.Fields(s) {
		f.add(key, i)
	}
	if len(f.cols) == 0 {
		return nil, errors.New(errors.ErrCodeInvalidInput, "empty ASCII format")
	}
	return f, nil
}

func (f *asciiFormat) add(key string, col int) {
	f.cols[key] = col
	f.order = append(f.order, key)
}

// asciiRow is one record's tokens.
type asciiRow []string

func (f *asciiFormat) get(row asciiRow, key string) (string, bool) {
	i, ok := f.cols[key]
	if !ok || i >= len(row) {
		return "", false
	}
	return row[i], true
}

func (f *asciiFormat) float(row asciiRow, key string) (float64, bool, error) {
	s, ok := f.get(row, key)
	if !ok {
		return 0, false, nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, false, fmt.Errorf("%s: bad number %q", key, s)
	}
	return v, true, nil
}

// angle sums every present unit column for a quantity. Signed
// quantities take their sign from a leading "-" on the first column
// present or from a "<q>_sign" column.
func (f *asciiFormat) angle(row asciiRow, quantity string, units map[string]float64) (float64, bool, error) {
	var total float64
	found, negative := false, false
	for _, u := range unitOrder {
		scale, ok := units[u]
		if !ok {
			continue
		}
		s, ok := f.get(row, quantity+"_"+u)
		if !ok {
			continue
		}
		if !found && strings.HasPrefix(strings.TrimSpace(s), "-") {
			negative = true
		}
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false, fmt.Errorf("%s_%s: bad number %q", quantity, u, s)
		}
		total += math.Abs(v) * scale
		found = true
	}
	if sign, ok := f.get(row, quantity+"_sign"); ok && strings.HasPrefix(sign, "-") {
		negative = true
	}
	if negative {
		total = -total
	}
	return total, found, nil
}

var asciiKnown = map[string]bool{
	"name": true, "i": true, "q": true, "u": true, "v": true, "i_err": true, "q_err": true,
	"u_err": true, "v_err": true, "pol_frac": true, "rm": true, "rm_err": true, "freq0": true,
	"tags": true, "tags...": true, "dec_sign": true,
}

var spiKey = regexp.MustCompile(`^spi(\d*)(_err)?$`)

func (f *asciiFormat) isKnown(key string) bool {
	return asciiKnown[key] || asciiAngleKey.MatchString(key) || spiKey.MatchString(key) || strings.HasPrefix(key, ":")
}

// LoadASCII reads a whitespace-separated table. The column format comes
// from opts.Format or a "#format:" line in the file.
func LoadASCII(filename string, opts LoadOptions) (*model.SkyModel, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidInput, err, "can't open %s", filename)
	}
	defer f.Close()
	return readASCII(f, filename, opts)
}

var formatComment = regexp.MustCompile(`^#\s*format:\s*(.*)$`)

func readASCII(r io.Reader, filename string, opts LoadOptions) (*model.SkyModel, error) {
	var format *asciiFormat
	if opts.Format != "" {
		ff, err := parseASCIIFormat(opts.Format)
		if err != nil {
			return nil, err
		}
		format = ff
	}

	var sources []*model.Source
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for lineno := 1; sc.Scan(); lineno++ {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "#") {
			if mm := formatComment.FindStringSubmatch(line); mm != nil && format == nil {
				ff, err := parseASCIIFormat(mm[1])
				if err != nil {
					return nil, errors.Wrap(errors.ErrCodeFileFormat, err, "%s:%d", filename, lineno)
				}
				format = ff
			}
			continue
		}
		if format == nil {
			return nil, errors.New(errors.ErrCodeFileFormat, "%s:%d: no format given and no #format: line", filename, lineno)
		}
		src, err := format.source(asciiRow(strings.Fields(line)), len(sources), opts.Freq0)
		if err != nil {
			warnf(filename, lineno, "%v", err)
			continue
		}
		sources = append(sources, src)
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Wrap(errors.ErrCodeFileFormat, err, "reading %s", filename)
	}
	log.Debugf("%s: %d sources", filename, len(sources))
	return model.NewSkyModel(sources...), nil
}

func (f *asciiFormat) source(row asciiRow, n int, defFreq float64) (*model.Source, error) {
	name, ok := f.get(row, "name")
	if !ok {
		name = fmt.Sprintf("SRC%d", n)
	}
	fail := func(err error) (*model.Source, error) { return nil, fmt.Errorf("source %s: %v", name, err) }

	ra, okRA, err := f.angle(row, "ra", raUnits)
	if err != nil {
		return fail(err)
	}
	dec, okDec, err := f.angle(row, "dec", arcUnits)
	if err != nil {
		return fail(err)
	}
	if !okRA || !okDec {
		return fail(fmt.Errorf("missing position"))
	}
	pos := model.Position{RA: ra, Dec: dec}
	if e, ok, err := f.angle(row, "ra_err", raUnits); err != nil {
		return fail(err)
	} else if ok {
		pos.RAErr = &e
	}
	if e, ok, err := f.angle(row, "dec_err", arcUnits); err != nil {
		return fail(err)
	} else if ok {
		pos.DecErr = &e
	}

	var stokes [4]float64
	var stokesErr [4]*float64
	for k, st := range []string{"i", "q", "u", "v"} {
		v, _, err := f.float(row, st)
		if err != nil {
			return fail(err)
		}
		stokes[k] = v
		e, ok, err := f.float(row, st+"_err")
		if err != nil {
			return fail(err)
		}
		if ok {
			stokesErr[k] = &e
		}
	}
	if frac, ok, err := f.float(row, "pol_frac"); err != nil {
		return fail(err)
	} else if ok {
		chi, _, err := f.angle(row, "pol_pa", arcUnits)
		if err != nil {
			return fail(err)
		}
		stokes[1] = stokes[0] * frac * math.Cos(2*chi)
		stokes[2] = stokes[0] * frac * math.Sin(2*chi)
	}

	freq0, hasFreq, err := f.float(row, "freq0")
	if err != nil {
		return fail(err)
	}
	if !hasFreq {
		freq0 = defFreq
	}
	rm, hasRM, err := f.float(row, "rm")
	if err != nil {
		return fail(err)
	}

	var flux *model.Flux
	switch {
	case hasRM && rm != 0:
		flux = model.NewPolarizationWithRM(stokes[0], stokes[1], stokes[2], stokes[3], rm, freq0)
		if e, ok, _ := f.float(row, "rm_err"); ok {
			flux.RMErr = &e
		}
	case stokes[1] != 0 || stokes[2] != 0 || stokes[3] != 0:
		flux = model.NewPolarization(stokes[0], stokes[1], stokes[2], stokes[3])
	default:
		flux = model.NewFlux(stokes[0])
	}
	flux.IErr, flux.QErr, flux.UErr, flux.VErr = stokesErr[0], stokesErr[1], stokesErr[2], stokesErr[3]
	src := model.NewSource(name, pos, flux)

	if spi, spiErr, err := f.spectral(row); err != nil {
		return fail(err)
	} else if anyNonZero(spi) && freq0 > 0 {
		si := model.NewSpectralIndex(freq0, spi...)
		si.SpiErr = spiErr
		src.Spectrum = si
	}

	emaj, okMaj, err := f.angle(row, "emaj", arcUnits)
	if err != nil {
		return fail(err)
	}
	emin, okMin, err := f.angle(row, "emin", arcUnits)
	if err != nil {
		return fail(err)
	}
	pa, _, err := f.angle(row, "pa", arcUnits)
	if err != nil {
		return fail(err)
	}
	if okMaj && emaj > 0 {
		if !okMin {
			emin = emaj
		}
		g := model.NewGaussian(emaj, emin, pa)
		for _, e := range []struct {
			q   string
			dst **float64
		}{{"emaj_err", &g.ExErr}, {"emin_err", &g.EyErr}, {"pa_err", &g.PaErr}} {
			if v, ok, err := f.angle(row, e.q, arcUnits); err != nil {
				return fail(err)
			} else if ok {
				*e.dst = &v
			}
		}
		src.Shape = g
	}

	if err := f.tags(row, src); err != nil {
		return fail(err)
	}
	return src, nil
}

func anyNonZero(v []float64) bool {
	for _, x := range v {
		if x != 0 {
			return true
		}
	}
	return false
}

// spectral collects spi, spi2, spi3... and their errors.
func (f *asciiFormat) spectral(row asciiRow) ([]float64, []float64, error) {
	var spi, spiErr []float64
	hasErr := false
	for n := 1; ; n++ {
		key := "spi"
		if n > 1 {
			key = fmt.Sprintf("spi%d", n)
		}
		v, ok, err := f.float(row, key)
		if err != nil {
			return nil, nil, err
		}
		if !ok {
			break
		}
		e, okErr, err := f.float(row, key+"_err")
		if err != nil {
			return nil, nil, err
		}
		hasErr = hasErr || okErr
		spi = append(spi, v)
		spiErr = append(spiErr, e)
	}
	if !hasErr {
		spiErr = nil
	}
	return spi, spiErr, nil
}

// tags applies ":TYPE:ATTR" columns, tag-list columns and any unknown
// columns (as guessed-type tags).
func (f *asciiFormat) tags(row asciiRow, src *model.Source) error {
	for _, key := range f.order {
		col := f.cols[key]
		if col >= len(row) {
			continue
		}
		val := row[col]
		switch {
		case key == "tags...":
			for _, tok := range row[col:] {
				applyTagToken(src, tok)
			}
		case key == "tags":
			for _, tok := range strings.Split(val, ",") {
				applyTagToken(src, tok)
			}
		case strings.HasPrefix(key, ":"):
			parts := strings.SplitN(key[1:], ":", 2)
			if len(parts) != 2 || parts[1] == "" {
				return fmt.Errorf("bad typed column %q, want :TYPE:ATTR", key)
			}
			tv, err := model.ParseTypedTag(parts[0], val)
			if err != nil {
				return fmt.Errorf("%s: %v", parts[1], err)
			}
			src.SetTag(parts[1], tv)
		case !f.isKnown(key):
			src.SetTag(key, model.ParseTag(val))
		}
	}
	return nil
}

// applyTagToken handles "tag" (true), "!tag" (false) and "tag=value".
// A lone "-" is the placeholder written for no tags.
func applyTagToken(src *model.Source, tok string) {
	tok = strings.TrimSpace(tok)
	switch {
	case tok == "" || tok == "-":
	case strings.HasPrefix(tok, "!"):
		src.SetTag(tok[1:], model.Bool(false))
	case strings.Contains(tok, "="):
		kv := strings.SplitN(tok, "=", 2)
		src.SetTag(kv[0], model.ParseTag(kv[1]))
	default:
		src.SetTag(tok, model.Bool(true))
	}
}

// SaveASCII writes a table with a "#format:" header. opts.Format may give
// a space-separated key list.
func SaveASCII(m *model.SkyModel, filename string, opts SaveOptions) error {
	f, err := os.Create(filename)
	if err != nil {
		return errors.Wrap(errors.ErrCodeInvalidInput, err, "can't create %s", filename)
	}
	defer f.Close()
	w := bufio.NewWriter(f)
	if err := writeASCII(w, m, opts, filename); err != nil {
		return err
	}
	if err := w.Flush(); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidInput, err, "writing %s", filename)
	}
	return nil
}

func writeASCII(w io.Writer, m *model.SkyModel, opts SaveOptions, filename string) error {
	layout := opts.Format
	if layout == "" {
		layout = defaultASCIIFormat
	}
	format, err := parseASCIIFormat(layout)
	if err != nil {
		return err
	}
	var sb strings.Builder
	fmt.Fprintf(&sb, "#format: %s\n", strings.Join(format.order, " "))
	for _, src := range opts.sources(m) {
		if _, ok := src.Shape.(*model.FITSImage); ok {
			warnf(filename, 0, "source %s: FITS image shape written as its extents", src.Name)
		}
		var vals []string
		for _, key := range format.order {
			vals = append(vals, format.value(src, key, m.Freq0)...)
		}
		sb.WriteString(strings.Join(vals, " "))
		sb.WriteByte('\n')
	}
	if _, err := io.WriteString(w, sb.String()); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidInput, err, "writing %s", filename)
	}
	return nil
}

func asciiFloat(v float64) string { return strconv.FormatFloat(v, 'g', 12, 64) }

// value renders one column; "tags..." may expand to several tokens.
func (f *asciiFormat) value(src *model.Source, key string, freq0 float64) []string {
	one := func(s string) []string { return []string{s} }
	opt := func(p *float64) []string {
		if p == nil {
			return one("0")
		}
		return one(asciiFloat(*p))
	}
	switch key {
	case "name":
		return one(src.Name)
	case "dec_sign":
		if src.Pos.Dec < 0 {
			return one("-")
		}
		return one("+")
	case "i", "q", "u", "v":
		s, _ := src.Flux.Stokes(strings.ToUpper(key))
		return one(asciiFloat(s))
	case "i_err":
		return opt(src.Flux.IErr)
	case "q_err":
		return opt(src.Flux.QErr)
	case "u_err":
		return opt(src.Flux.UErr)
	case "v_err":
		return opt(src.Flux.VErr)
	case "rm":
		if src.Flux.Kind == model.KindPolarizationWithRM {
			return one(asciiFloat(src.Flux.RM))
		}
		return one("0")
	case "rm_err":
		return opt(src.Flux.RMErr)
	case "freq0":
		if src.Spectrum != nil {
			return one(asciiFloat(src.Spectrum.RefFreq()))
		}
		if src.Flux.Kind == model.KindPolarizationWithRM {
			return one(asciiFloat(src.Flux.Freq0))
		}
		return one(asciiFloat(freq0))
	case "pol_frac":
		if src.Flux.I == 0 {
			return one("0")
		}
		return one(asciiFloat(math.Hypot(src.Flux.Q, src.Flux.U) / src.Flux.I))
	case "tags...", "tags":
		var toks []string
		for _, name := range src.TagNames() {
			if name == "r" {
				continue
			}
			t := src.Tags[name]
			switch {
			case t.Kind == model.TagBool && t.AsBool():
				toks = append(toks, name)
			case t.Kind == model.TagBool:
				toks = append(toks, "!"+name)
			default:
				toks = append(toks, name+"="+t.String())
			}
		}
		if key == "tags" {
			if len(toks) == 0 {
				return one("-")
			}
			return one(strings.Join(toks, ","))
		}
		return toks
	}
	if mm := spiKey.FindStringSubmatch(key); mm != nil {
		n := 1
		if mm[1] != "" {
			n, _ = strconv.Atoi(mm[1])
		}
		si, ok := src.Spectrum.(*model.SpectralIndex)
		switch {
		case !ok || n < 1 || n > len(si.Spi):
			return one("0")
		case mm[2] != "":
			if n > len(si.SpiErr) {
				return one("0")
			}
			return one(asciiFloat(si.SpiErr[n-1]))
		}
		return one(asciiFloat(si.Spi[n-1]))
	}
	if strings.HasPrefix(key, ":") {
		parts := strings.SplitN(key[1:], ":", 2)
		if len(parts) == 2 {
			if t, ok := src.Tag(parts[1]); ok {
				return one(t.String())
			}
		}
		return one("0")
	}
	if mm := asciiAngleKey.FindStringSubmatch(key); mm != nil {
		return one(f.angleValue(src, mm[1], mm[2] != "", mm[3]))
	}
	if t, ok := src.Tag(key); ok {
		return one(t.String())
	}
	return one("0")
}

// angleValue decomposes a quantity across the unit columns present in the
// format: coarser columns get whole numbers, the finest the remainder.
func (f *asciiFormat) angleValue(src *model.Source, quantity string, isErr bool, unit string) string {
	var v float64
	units := arcUnits
	var g *model.Gaussian
	if sh, ok := src.Shape.(*model.Gaussian); ok {
		g = sh
	}
	get := func(p *float64) float64 {
		if p == nil {
			return 0
		}
		return *p
	}
	switch quantity {
	case "ra":
		units = raUnits
		v = src.Pos.RA
		if isErr {
			v = get(src.Pos.RAErr)
		}
	case "dec":
		v = src.Pos.Dec
		if isErr {
			v = get(src.Pos.DecErr)
		}
	case "emaj", "emin", "pa":
		if g == nil {
			return "0"
		}
		switch {
		case quantity == "emaj" && isErr:
			v = get(g.ExErr)
		case quantity == "emaj":
			v = g.Ex
		case quantity == "emin" && isErr:
			v = get(g.EyErr)
		case quantity == "emin":
			v = g.Ey
		case isErr:
			v = get(g.PaErr)
		default:
			v = g.Pa
		}
	case "pol_pa":
		v = math.Atan2(src.Flux.U, src.Flux.Q) / 2
	}

	prefix := quantity
	if isErr {
		prefix += "_err"
	}
	var present []string
	for _, u := range unitOrder {
		if _, ok := units[u]; !ok {
			continue
		}
		if _, ok := f.cols[prefix+"_"+u]; ok {
			present = append(present, u)
		}
	}
	_, hasSign := f.cols[prefix+"_sign"]
	negative := v < 0
	rem := math.Abs(v)
	for k, u := range present {
		scale := units[u]
		last := k == len(present)-1
		var part float64
		if last {
			part = rem / scale
		} else {
			part = math.Floor(rem/scale + 1e-9)
			rem = math.Max(rem-part*scale, 0)
		}
		if u != unit {
			continue
		}
		s := asciiFloat(part)
		if !last {
			s = strconv.Itoa(int(part))
		}
		if negative && k == 0 && !hasSign {
			s = "-" + s
		}
		return s
	}
	return "0"
}
