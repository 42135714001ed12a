package formats

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"math"
	"os"
	"regexp"
	"strconv"
	"time"

	"github.com/charmbracelet/log"

	"github.com/abworrall/skymodel/pkg/beam"
	"github.com/abworrall/skymodel/pkg/coord"
	"github.com/abworrall/skymodel/pkg/errors"
	"github.com/abworrall/skymodel/pkg/model"
)

// WU is the Westerbork flux unit in Jy.
const WU = 0.005

// NEWSTAR files are little-endian. The general file header is followed by
// the model header and then fixed-size source records.
type mdlGFH struct {
	Type     [4]byte
	Length   int32
	Version  int32
	CDate    [11]byte
	CTime    [5]byte
	RDate    [11]byte
	RTime    [5]byte
	RevCount int32
	_        [464]byte
}

type mdlMDH struct {
	Length  int32
	Version int32
	Link    [2]int32
	NSrc    int32
	Data    int32
	Type    int32 // 0 none, 1 apparent, 2 epoch
	Epoch   float32
	RA, Dec float64 // circles
	Freq    float64 // MHz
	_       [8]byte
}

type mdlRecord struct {
	I, L, M    float32 // WU; radians on the NCP plane
	ID         int32
	Q, U, V    float32 // fractions of I
	EX, EY, EP float32 // NMOEXT-encoded extent
	SI, RM     float32
	Bits       uint8
	_          uint8
	Flags      uint8
	_          [5]byte
}

const (
	gfhSize    = 512
	mdhSize    = 64
	recordSize = 56

	bitExtended = 1 << 0
	flagClean   = 1 << 0
	flagBeamed  = 1 << 3
)

// internal tags preserving the stored extent triplet
const (
	tagNMEx = "_newstar_ex"
	tagNMEy = "_newstar_ey"
	tagNMEp = "_newstar_ep"
)

// decodeExtent undoes NMOEXT: (eX, eY, eP) to major, minor, pa.
func decodeExtent(ex, ey, ep float64) (float64, float64, float64) {
	r1 := math.Sqrt(ep*ep + (ex-ey)*(ex-ey))
	r2 := ex + ey
	a := math.Sqrt(math.Max((r2+r1)/2, 0))
	b := math.Sqrt(math.Max((r2-r1)/2, 0))
	pa := math.Atan2(-ep, ey-ex) / 2
	return a, b, pa
}

// encodeExtent is NMOEXT: major, minor, pa to (eX, eY, eP).
func encodeExtent(a, b, pa float64) (float64, float64, float64) {
	r1 := a*a - b*b
	r2 := a*a + b*b
	c, s := math.Cos(2*pa), math.Sin(2*pa)
	return (r2 - r1*c) / 2, (r2 + r1*c) / 2, -r1 * s
}

// LoadNewstar reads a NEWSTAR .MDL model.
func LoadNewstar(filename string, opts LoadOptions) (*model.SkyModel, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidInput, err, "can't open %s", filename)
	}
	defer f.Close()
	return readNewstar(bufio.NewReader(f), filename)
}

func readNewstar(r io.Reader, filename string) (*model.SkyModel, error) {
	var gfh mdlGFH
	if err := binary.Read(r, binary.LittleEndian, &gfh); err != nil {
		return nil, errors.Wrap(errors.ErrCodeFileFormat, err, "%s: short file header", filename)
	}
	if string(gfh.Type[:]) != ".MDL" {
		return nil, errors.New(errors.ErrCodeFileFormat, "%s: not a NEWSTAR MDL file (type %q)", filename, gfh.Type[:])
	}
	if gfh.Length != gfhSize {
		return nil, errors.New(errors.ErrCodeFileFormat, "%s: unexpected header length %d", filename, gfh.Length)
	}
	var mdh mdlMDH
	if err := binary.Read(r, binary.LittleEndian, &mdh); err != nil {
		return nil, errors.Wrap(errors.ErrCodeFileFormat, err, "%s: short model header", filename)
	}
	if mdh.NSrc < 0 {
		return nil, errors.New(errors.ErrCodeFileFormat, "%s: negative source count", filename)
	}
	if skip := int64(mdh.Data) - gfhSize - mdhSize; skip > 0 {
		if _, err := io.CopyN(io.Discard, r, skip); err != nil {
			return nil, errors.Wrap(errors.ErrCodeFileFormat, err, "%s: bad data pointer", filename)
		}
	}

	ra0, dec0 := mdh.RA*2*math.Pi, mdh.Dec*2*math.Pi
	freq0 := mdh.Freq * 1e6
	wcs := coord.PlaneWCS("NCP", ra0, dec0)
	pb, _ := beam.Compile(beam.WSRT)

	sources := make([]*model.Source, 0, mdh.NSrc)
	for n := 0; n < int(mdh.NSrc); n++ {
		var rec mdlRecord
		if err := binary.Read(r, binary.LittleEndian, &rec); err != nil {
			return nil, errors.Wrap(errors.ErrCodeFileFormat, err, "%s: record %d of %d", filename, n, mdh.NSrc)
		}
		sources = append(sources, newstarSource(&rec, wcs, freq0, pb, ra0, dec0))
	}

	m := model.NewSkyModel(sources...)
	m.SetFieldCenter(ra0, dec0)
	if freq0 > 0 {
		m.Freq0 = freq0
	}
	m.PBExp = beam.WSRT
	m.Custom["newstar_type"] = int(mdh.Type)
	m.Custom["newstar_epoch"] = float64(mdh.Epoch)
	log.Debugf("%s: NEWSTAR v%d, %d sources, %.3f MHz", filename, gfh.Version, len(sources), mdh.Freq)
	return m, nil
}

func newstarSource(rec *mdlRecord, wcs *coord.WCS, freq0 float64, pb *beam.Beam, ra0, dec0 float64) *model.Source {
	ra, dec := wcs.PixToWorld(float64(rec.L), float64(rec.M))
	i := float64(rec.I) * WU
	q, u, v := float64(rec.Q)*i, float64(rec.U)*i, float64(rec.V)*i

	var flux *model.Flux
	switch {
	case rec.RM != 0:
		flux = model.NewPolarizationWithRM(i, q, u, v, float64(rec.RM), freq0)
	case q != 0 || u != 0 || v != 0:
		flux = model.NewPolarization(i, q, u, v)
	default:
		flux = model.NewFlux(i)
	}

	src := model.NewSource(fmt.Sprintf("N%d", rec.ID), model.Position{RA: ra, Dec: dec}, flux)
	src.SetTag("newstar_id", model.Int(int64(rec.ID)))
	if rec.SI != 0 {
		src.Spectrum = model.NewSpectralIndex(freq0, float64(rec.SI))
	}
	if rec.Bits&bitExtended != 0 {
		a, b, pa := decodeExtent(float64(rec.EX), float64(rec.EY), float64(rec.EP))
		src.Shape = model.NewGaussian(a, b, pa)
		src.SetTag(tagNMEx, model.Float(float64(rec.EX)))
		src.SetTag(tagNMEy, model.Float(float64(rec.EY)))
		src.SetTag(tagNMEp, model.Float(float64(rec.EP)))
	}
	if rec.Flags&flagClean != 0 {
		src.SetTag("newstar_cc", model.Bool(true))
	}
	if rec.Flags&flagBeamed != 0 {
		// stored flux is apparent
		src.SetTag("newstar_beamed", model.Bool(true))
		src.SetTag("Iapp", model.Float(i))
		r, _ := coord.AngularDistPosAngle(ra0, dec0, ra, dec)
		if g, err := pb.Gain(r, freq0); err == nil && g > 0 {
			flux.Rescale(1 / g)
		}
	}
	return src
}

var newstarName = regexp.MustCompile(`^N(\d+)(_\d+)?$`)

// SaveNewstar writes a NEWSTAR .MDL model. Sources whose shape NEWSTAR
// can't represent are skipped with a warning.
func SaveNewstar(m *model.SkyModel, filename string, opts SaveOptions) error {
	f, err := os.Create(filename)
	if err != nil {
		return errors.Wrap(errors.ErrCodeInvalidInput, err, "can't create %s", filename)
	}
	defer f.Close()
	w := bufio.NewWriter(f)
	if err := writeNewstar(w, m, opts.sources(m), filename); err != nil {
		return err
	}
	if err := w.Flush(); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidInput, err, "writing %s", filename)
	}
	return nil
}

func writeNewstar(w io.Writer, m *model.SkyModel, sources []*model.Source, filename string) error {
	ra0, dec0, _ := m.FieldCenter()
	freq0 := m.Freq0
	wcs := coord.PlaneWCS("NCP", ra0, dec0)

	var recs []mdlRecord
	nextID := int32(1)
	for _, src := range sources {
		if id := newstarID(src); id >= nextID {
			nextID = id + 1
		}
	}
	for _, src := range sources {
		rec, err := newstarRecord(src, wcs, freq0)
		if err != nil {
			warnf(filename, 0, "source %s: %v", src.Name, err)
			continue
		}
		if rec.ID = newstarID(src); rec.ID == 0 {
			rec.ID = nextID
			nextID++
		}
		recs = append(recs, rec)
	}

	now := time.Now()
	var gfh mdlGFH
	copy(gfh.Type[:], ".MDL")
	gfh.Length = gfhSize
	gfh.Version = 1
	copy(gfh.CDate[:], now.Format("02-Jan-2006"))
	copy(gfh.CTime[:], now.Format("15:04"))
	gfh.RDate, gfh.RTime = gfh.CDate, gfh.CTime

	mdh := mdlMDH{
		Length:  mdhSize,
		Version: 1,
		NSrc:    int32(len(recs)),
		Data:    gfhSize + mdhSize,
		RA:      ra0 / (2 * math.Pi),
		Dec:     dec0 / (2 * math.Pi),
		Freq:    freq0 / 1e6,
	}
	if t, ok := m.Custom["newstar_type"].(int); ok {
		mdh.Type = int32(t)
	}
	if e, ok := m.Custom["newstar_epoch"].(float64); ok {
		mdh.Epoch = float32(e)
	}

	for _, v := range []any{&gfh, &mdh, recs} {
		if err := binary.Write(w, binary.LittleEndian, v); err != nil {
			return errors.Wrap(errors.ErrCodeInvalidInput, err, "writing %s", filename)
		}
	}
	log.Debugf("%s: wrote %d NEWSTAR records", filename, len(recs))
	return nil
}

// newstarID is the stored id of a source, from its tag or an N<id> name;
// 0 when it has none.
func newstarID(src *model.Source) int32 {
	if t, ok := src.Tag("newstar_id"); ok && t.Kind == model.TagInt {
		return int32(t.AsInt())
	}
	if mm := newstarName.FindStringSubmatch(src.Name); mm != nil && mm[2] == "" {
		if id, err := strconv.Atoi(mm[1]); err == nil {
			return int32(id)
		}
	}
	return 0
}

func newstarRecord(src *model.Source, wcs *coord.WCS, freq0 float64) (mdlRecord, error) {
	var rec mdlRecord
	l, mm := wcs.WorldToPix(src.Pos.RA, src.Pos.Dec)
	rec.L, rec.M = float32(l), float32(mm)

	i := src.Flux.I
	if t, ok := src.Tag("newstar_beamed"); ok && t.Truthy() {
		rec.Flags |= flagBeamed
		i = src.Brightness()
	}
	rec.I = float32(i / WU)
	if src.Flux.I != 0 {
		rec.Q = float32(src.Flux.Q / src.Flux.I)
		rec.U = float32(src.Flux.U / src.Flux.I)
		rec.V = float32(src.Flux.V / src.Flux.I)
	}
	if src.Flux.Kind == model.KindPolarizationWithRM {
		rec.RM = float32(src.Flux.RM)
	}
	if si, ok := src.Spectrum.(*model.SpectralIndex); ok && len(si.Spi) > 0 {
		rec.SI = float32(si.Spi[0])
	}
	if t, ok := src.Tag("newstar_cc"); ok && t.Truthy() {
		rec.Flags |= flagClean
	}

	switch sh := src.Shape.(type) {
	case nil:
	case *model.Gaussian:
		rec.Bits |= bitExtended
		rec.EX, rec.EY, rec.EP = storedExtent(src, sh)
	default:
		return rec, errors.New(errors.ErrCodeUnsupportedShape, "shape %s has no NEWSTAR representation", src.TypeCode())
	}
	return rec, nil
}

// storedExtent reuses the triplet read from file while the shape is
// unchanged, so that a load/save cycle keeps the records bit-exact.
func storedExtent(src *model.Source, g *model.Gaussian) (float32, float32, float32) {
	ex, okx := src.Tag(tagNMEx)
	ey, oky := src.Tag(tagNMEy)
	ep, okp := src.Tag(tagNMEp)
	if okx && oky && okp {
		fx, _ := ex.AsFloat()
		fy, _ := ey.AsFloat()
		fp, _ := ep.AsFloat()
		a, b, pa := decodeExtent(fx, fy, fp)
		if a == g.Ex && b == g.Ey && pa == g.Pa {
			return float32(fx), float32(fy), float32(fp)
		}
	}
	x, y, p := encodeExtent(g.Ex, g.Ey, g.Pa)
	return float32(x), float32(y), float32(p)
}
