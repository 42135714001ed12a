package formats

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/astrogo/fitsio"
	"github.com/charmbracelet/log"

	"github.com/abworrall/skymodel/pkg/coord"
	"github.com/abworrall/skymodel/pkg/errors"
	"github.com/abworrall/skymodel/pkg/fitsimage"
	"github.com/abworrall/skymodel/pkg/model"
)

// AIPS clean components are offsets from the field centre, deprojected
// with the orthographic (SIN) formulae.

// ccCenter finds the field centre from opts.Center, then opts.FITSImage,
// then the fallback header (the CC file's own primary HDU).
func ccCenter(filename string, opts LoadOptions, fallback coord.Header) (float64, float64, error) {
	if opts.Center != nil {
		return opts.Center[0], opts.Center[1], nil
	}
	hdr := fallback
	if opts.FITSImage != "" {
		h, err := fitsimage.ReadHeader(opts.FITSImage)
		if err != nil {
			return 0, 0, err
		}
		hdr = h
	}
	if _, ok := coordKey(hdr, "CRVAL1"); ok {
		if proj, _, _, err := coord.FromHeader(hdr); err == nil {
			ra, dec := proj.Center()
			return ra, dec, nil
		}
	}
	return 0, 0, errors.New(errors.ErrCodeInvalidInput, "%s: clean components need a field centre (give a centre or a FITS image)", filename)
}

func coordKey(h coord.Header, key string) (float64, bool) {
	if h == nil {
		return 0, false
	}
	return coord.HeaderFloat(h, key)
}

func ccSource(num int, dx, dy, flux float64, wcs *coord.WCS) *model.Source {
	ra, dec := wcs.PixToWorld(dx, dy)
	src := model.NewSource(fmt.Sprintf("cc%d", num), model.Position{RA: ra, Dec: dec}, model.NewFlux(flux))
	src.SetTag("aips_cc", model.Bool(true))
	return src
}

// LoadAIPSCC reads an ASCII clean component list: num dx″ dy″ I Itot.
func LoadAIPSCC(filename string, opts LoadOptions) (*model.SkyModel, error) {
	ra0, dec0, err := ccCenter(filename, opts, nil)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(filename)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidInput, err, "can't open %s", filename)
	}
	defer f.Close()
	return readAIPSCC(f, filename, ra0, dec0)
}

func readAIPSCC(r io.Reader, filename string, ra0, dec0 float64) (*model.SkyModel, error) {
	wcs := coord.PlaneWCS("SIN", ra0, dec0)
	var sources []*model.Source
	sc := bufio.NewScanner(r)
	for lineno := 1; sc.Scan(); lineno++ {
		fields := strings.Fields(sc.Text())
		if len(fields) < 4 {
			continue
		}
		num, err := strconv.Atoi(fields[0])
		if err != nil {
			// header and page lines
			continue
		}
		var vals [3]float64
		bad := false
		for k := range vals {
			if vals[k], err = strconv.ParseFloat(fields[k+1], 64); err != nil {
				warnf(filename, lineno, "component %d: bad number %q", num, fields[k+1])
				bad = true
				break
			}
		}
		if bad {
			continue
		}
		sources = append(sources, ccSource(num, vals[0]*coord.ARCSEC, vals[1]*coord.ARCSEC, vals[2], wcs))
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Wrap(errors.ErrCodeFileFormat, err, "reading %s", filename)
	}
	m := model.NewSkyModel(sources...)
	m.SetFieldCenter(ra0, dec0)
	log.Debugf("%s: %d clean components", filename, len(sources))
	return m, nil
}

// ccRow is one row of an AIPS CC table.
type ccRow struct {
	Flux   float32 `fits:"FLUX"`
	DeltaX float32 `fits:"DELTAX"`
	DeltaY float32 `fits:"DELTAY"`
}

// LoadAIPSCCFITS reads the "AIPS CC" binary table of a FITS file. The
// field centre defaults to the file's own primary header.
func LoadAIPSCCFITS(filename string, opts LoadOptions) (*model.SkyModel, error) {
	r, err := os.Open(filename)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidInput, err, "can't open %s", filename)
	}
	defer r.Close()
	f, err := fitsio.Open(r)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeFileFormat, err, "%s: not a FITS file", filename)
	}
	defer f.Close()

	ra0, dec0, err := ccCenter(filename, opts, fitsimage.HeaderOf(f.HDU(0).Header()))
	if err != nil {
		return nil, err
	}

	var tbl *fitsio.Table
	for _, hdu := range f.HDUs() {
		if t, ok := hdu.(*fitsio.Table); ok && strings.EqualFold(strings.TrimSpace(t.Name()), "AIPS CC") {
			tbl = t
			break
		}
	}
	if tbl == nil {
		return nil, errors.New(errors.ErrCodeFileFormat, "%s: no AIPS CC table", filename)
	}

	scale := coord.DEG
	for _, col := range tbl.Cols() {
		if strings.EqualFold(col.Name, "DELTAX") {
			scale = ccUnit(col.Unit)
		}
	}

	rows, err := tbl.Read(0, tbl.NumRows())
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeFileFormat, err, "%s: reading CC table", filename)
	}
	defer rows.Close()

	wcs := coord.PlaneWCS("SIN", ra0, dec0)
	var sources []*model.Source
	for num := 1; rows.Next(); num++ {
		var row ccRow
		if err := rows.Scan(&row); err != nil {
			warnf(filename, num, "component %d: %v", num, err)
			continue
		}
		sources = append(sources, ccSource(num, float64(row.DeltaX)*scale, float64(row.DeltaY)*scale, float64(row.Flux), wcs))
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(errors.ErrCodeFileFormat, err, "%s: reading CC table", filename)
	}
	m := model.NewSkyModel(sources...)
	m.SetFieldCenter(ra0, dec0)
	log.Debugf("%s: %d clean components", filename, len(sources))
	return m, nil
}

// ccUnit converts a TUNIT value to radians per unit; AIPS writes DEGREES.
func ccUnit(unit string) float64 {
	switch strings.ToUpper(strings.TrimSpace(unit)) {
	case "RAD", "RADIANS":
		return 1
	case "ARCMIN":
		return coord.ARCMIN
	case "ARCSEC", "ASEC":
		return coord.ARCSEC
	}
	return coord.DEG
}
