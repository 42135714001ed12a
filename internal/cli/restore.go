package cli

import (
	"fmt"
	"math"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/abworrall/skymodel/pkg/coord"
	"github.com/abworrall/skymodel/pkg/errors"
	"github.com/abworrall/skymodel/pkg/fitsimage"
	"github.com/abworrall/skymodel/pkg/formats"
	"github.com/abworrall/skymodel/pkg/model"
	"github.com/abworrall/skymodel/pkg/restore"
)

type RestoreConfig struct {
	Image   string
	Model   string
	Output  string
	NSrc    int    `yaml:"nsrc"`
	Scale   string `yaml:"scale,omitempty"`
	Beam    string `yaml:"beamsize,omitempty"`
	PSFFile string `yaml:"psf_file,omitempty"`
	Clear   bool
	Force   bool
}

func NewRestoreCmd() *cobra.Command {
	var cfg RestoreConfig
	cmd := &cobra.Command{
		Use:   "tigger-restore image model [output]",
		Short: "Restore the sources of a sky model into a FITS image",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg.Image, cfg.Model = args[0], args[1]
			if len(args) > 2 {
				cfg.Output = args[2]
			}
			return runRestore(cfg)
		},
	}
	f := cmd.Flags()
	f.IntVarP(&cfg.NSrc, "nsrc", "n", 0, "restore only the NSRC brightest sources")
	f.StringVarP(&cfg.Scale, "scale", "s", "", "scale fluxes by SCALE, or only the N brightest with SCALE,N")
	f.StringVarP(&cfg.Beam, "beamsize", "b", "", `restoring beam FWHM in arcsec, "B" or "MAJ,MIN,PA" (PA in degrees)`)
	f.StringVarP(&cfg.PSFFile, "psf-file", "p", "", "fit the restoring beam to this PSF image")
	f.BoolVar(&cfg.Clear, "clear", false, "zero the image before restoring into it")
	f.BoolVarP(&cfg.Force, "force", "f", false, "overwrite the output file")
	return cmd
}

// parseScale reads "SCALE" or "SCALE,N". N is 0 for all sources.
func parseScale(s string) (float64, int, error) {
	parts := strings.Split(s, ",")
	if len(parts) > 2 {
		return 0, 0, errors.New(errors.ErrCodeInvalidInput, "-s wants SCALE[,N], got %q", s)
	}
	scale, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil {
		return 0, 0, errors.Wrap(errors.ErrCodeInvalidInput, err, "-s: bad scale %q", parts[0])
	}
	n := 0
	if len(parts) == 2 {
		if n, err = strconv.Atoi(strings.TrimSpace(parts[1])); err != nil || n < 0 {
			return 0, 0, errors.New(errors.ErrCodeInvalidInput, "-s: bad source count %q", parts[1])
		}
	}
	return scale, n, nil
}

// parseBeam reads "FWHM" or "MAJ,MIN,PA", arcsec and degrees. The result
// is FWHM radians.
func parseBeam(s string) (float64, float64, float64, error) {
	v, err := parseFloats(s)
	if err != nil {
		return 0, 0, 0, err
	}
	switch len(v) {
	case 1:
		return v[0] * coord.ARCSEC, v[0] * coord.ARCSEC, 0, nil
	case 3:
		return v[0] * coord.ARCSEC, v[1] * coord.ARCSEC, v[2] * coord.DEG, nil
	}
	return 0, 0, 0, errors.New(errors.ErrCodeInvalidInput, "-b wants BEAM or MAJ,MIN,PA, got %q", s)
}

// restoringBeam is -b, else the fitted -p PSF, else the image's own beam.
func restoringBeam(cfg RestoreConfig, cube *fitsimage.Cube) (float64, float64, float64, error) {
	switch {
	case cfg.Beam != "":
		return parseBeam(cfg.Beam)
	case cfg.PSFFile != "":
		maj, min, pa, err := restore.FitPSF(cfg.PSFFile, true)
		if err != nil {
			return 0, 0, 0, err
		}
		log.Infof("Fitted PSF %s: %.3g\" x %.3g\" at PA %.1f deg", cfg.PSFFile, maj/coord.ARCSEC, min/coord.ARCSEC, pa/coord.DEG)
		return maj, min, pa, nil
	case cube.PSF != nil:
		return cube.PSF.Maj, cube.PSF.Min, cube.PSF.PA, nil
	}
	return 0, 0, 0, errors.New(errors.ErrCodeInvalidInput, "%s has no restoring beam (BMAJ/BMIN/BPA), use -b or -p", cfg.Image)
}

// brightestFirst returns a sorted copy.
func brightestFirst(srcs []*model.Source) []*model.Source {
	out := append([]*model.Source(nil), srcs...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Brightness() > out[j].Brightness() })
	return out
}

func runRestore(cfg RestoreConfig) error {
	log.Debugf("Configuration:\n\n%s", asYaml(cfg))
	p := newProgress()

	output := cfg.Output
	if output == "" {
		output = strings.TrimSuffix(cfg.Image, filepath.Ext(cfg.Image)) + ".restored.fits"
	}
	if sameFile(cfg.Image, output) && !cfg.Force {
		return errors.New(errors.ErrCodeExists, "%s would overwrite the input image, use -f to force", output)
	}
	if err := refuseExisting(output, cfg.Force); err != nil {
		return err
	}

	cube, err := fitsimage.Load(cfg.Image)
	if err != nil {
		return err
	}
	m, err := formats.Load(cfg.Model, "", formats.LoadOptions{})
	if err != nil {
		return err
	}
	maj, min, pa, err := restoringBeam(cfg, cube)
	if err != nil {
		return err
	}

	srcs := brightestFirst(m.Sources)
	if cfg.NSrc > 0 && cfg.NSrc < len(srcs) {
		srcs = srcs[:cfg.NSrc]
	}
	if cfg.Scale != "" {
		scale, n, err := parseScale(cfg.Scale)
		if err != nil {
			return err
		}
		if n == 0 || n > len(srcs) {
			n = len(srcs)
		}
		for _, s := range srcs[:n] {
			s.Flux.Rescale(scale)
		}
		log.Infof("Scaled %d brightest sources by %g", n, scale)
	}

	if cfg.Clear {
		for i := range cube.Data {
			if !math.IsNaN(cube.Data[i]) {
				cube.Data[i] = 0
			}
		}
	}
	opts := restore.Options{ImageDir: filepath.Dir(cfg.Model)}
	if err := restore.RestoreSources(cube, srcs, restore.BeamFromFWHM(maj, min, pa), opts); err != nil {
		return err
	}

	// record the beam used
	cube.PSF = &fitsimage.PSF{Maj: maj, Min: min, PA: pa}
	cube.Header.Set("BMAJ", maj/coord.DEG)
	cube.Header.Set("BMIN", min/coord.DEG)
	cube.Header.Set("BPA", pa/coord.DEG)
	if err := cube.Save(output); err != nil {
		return err
	}
	p.done(fmt.Sprintf("Restored %d sources into %s", len(srcs), output))
	return nil
}
