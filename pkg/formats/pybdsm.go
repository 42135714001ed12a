package formats

import (
	"bufio"
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/abworrall/skymodel/pkg/errors"
	"github.com/abworrall/skymodel/pkg/model"
)

// pybdsmColumns maps PyBDSM column names to ASCII keys. Anything else is
// carried as an internal _pybdsm_<name> tag.
var pybdsmColumns = map[string]string{
	"Source_name":  "name",
	"RA":           "ra_d",
	"E_RA":         "ra_err_d",
	"DEC":          "dec_d",
	"E_DEC":        "dec_err_d",
	"Total_flux":   "i",
	"E_Total_flux": "i_err",
	"Total_Q":      "q",
	"E_Total_Q":    "q_err",
	"Total_U":      "u",
	"E_Total_U":    "u_err",
	"Total_V":      "v",
	"E_Total_V":    "v_err",
	"DC_Maj":       "emaj_d",
	"E_DC_Maj":     "emaj_err_d",
	"DC_Min":       "emin_d",
	"E_DC_Min":     "emin_err_d",
	"DC_PA":        "pa_d",
	"E_DC_PA":      "pa_err_d",
	"Spec_Indx":    "spi",
	"E_Spec_Indx":  "spi_err",
}

var pybdsmFreq = regexp.MustCompile(`(?i)reference frequency[^:]*:\s*([-+0-9.eE]+)\s*Hz`)

// LoadPyBDSM reads a PyBDSM Gaussian (.gaul) or source (.srl) list in its
// ASCII form.
func LoadPyBDSM(filename string, opts LoadOptions) (*model.SkyModel, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidInput, err, "can't open %s", filename)
	}
	defer f.Close()

	freq0 := opts.Freq0
	var header []string
	var format *asciiFormat
	idCol, idPrefix := "", "G"
	var sources []*model.Source

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	for lineno := 1; sc.Scan(); lineno++ {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, "#") {
			body := strings.TrimSpace(strings.TrimPrefix(line, "#"))
			if mm := pybdsmFreq.FindStringSubmatch(body); mm != nil {
				if v, err := strconv.ParseFloat(mm[1], 64); err == nil {
					freq0 = v
				}
				continue
			}
			// the last comment line before the data names the columns
			if fields := strings.Fields(body); len(fields) > 2 {
				header = fields
			}
			continue
		}
		if format == nil {
			if header == nil {
				return nil, errors.New(errors.ErrCodeFileFormat, "%s:%d: no column header", filename, lineno)
			}
			format, idCol, idPrefix = pybdsmFormat(header)
		}
		row := asciiRow(strings.Fields(line))
		src, err := format.source(row, len(sources), freq0)
		if err != nil {
			warnf(filename, lineno, "%v", err)
			continue
		}
		if _, named := format.cols["name"]; !named {
			if id, ok := format.get(row, idCol); ok {
				src.Name = idPrefix + id
			}
		}
		sources = append(sources, src)
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Wrap(errors.ErrCodeFileFormat, err, "reading %s", filename)
	}
	m := model.NewSkyModel(sources...)
	if freq0 > 0 {
		m.Freq0 = freq0
	}
	log.Debugf("%s: %d PyBDSM components", filename, len(sources))
	return m, nil
}

// pybdsmFormat builds the column format, and picks the id column used to
// name unnamed sources: Gaus_id for Gaussian lists, Source_id otherwise.
func pybdsmFormat(header []string) (*asciiFormat, string, string) {
	f := &asciiFormat{cols: map[string]int{}}
	idCol, prefix := "", "S"
	for i, name := range header {
		key, ok := pybdsmColumns[name]
		if !ok {
			key = fmt.Sprintf("_pybdsm_%s", name)
		}
		f.add(key, i)
		switch name {
		case "Gaus_id":
			idCol, prefix = key, "G"
		case "Source_id":
			if idCol == "" {
				idCol = key
			}
		}
	}
	return f, idCol, prefix
}
