package cli

import (
	"fmt"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/abworrall/skymodel/pkg/coord"
	"github.com/abworrall/skymodel/pkg/errors"
	"github.com/abworrall/skymodel/pkg/formats"
	"github.com/abworrall/skymodel/pkg/model"
	"github.com/abworrall/skymodel/pkg/tools"
)

// ConvertConfig is everything tigger-convert was asked to do.
type ConvertConfig struct {
	Input        string
	Output       string
	InputFormat  string `yaml:"input_format"`
	OutputFormat string `yaml:"output_format"`
	Format       string `yaml:"format,omitempty"`
	Force        bool

	AppToInt          bool    `yaml:"app_to_int"`
	Recenter          string  `yaml:"recenter,omitempty"`
	RefFreqMHz        float64 `yaml:"ref_freq_mhz"`
	PrimaryBeam       string  `yaml:"primary_beam,omitempty"`
	MinExtent         float64 `yaml:"min_extent_arcsec"`
	ClusterDist       float64 `yaml:"cluster_dist_arcsec"`
	Rename            bool
	RadialStep        float64 `yaml:"radial_step_arcmin"`
	CenterOnBrightest bool    `yaml:"center_on_brightest"`

	clusterSet bool
}

func NewConvertCmd() *cobra.Command {
	cfg := ConvertConfig{ClusterDist: 60, RadialStep: 10}
	var newstar, text, tigger bool

	cmd := &cobra.Command{
		Use:   "tigger-convert input [output]",
		Short: "Convert a sky model between formats, optionally renaming, recentering or rescaling it",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg.Input = args[0]
			if len(args) > 1 {
				cfg.Output = args[1]
			}
			n := 0
			for flag, name := range map[*bool]string{&newstar: "NEWSTAR", &text: "ASCII", &tigger: "Tigger"} {
				if *flag {
					cfg.OutputFormat = name
					n++
				}
			}
			if n > 1 {
				return errors.New(errors.ErrCodeInvalidInput, "only one of --newstar, --text, --tigger may be given")
			}
			cfg.clusterSet = cmd.Flags().Changed("cluster-dist")
			return runConvert(cfg)
		},
	}

	f := cmd.Flags()
	f.BoolVarP(&cfg.Force, "force", "f", false, "overwrite the output file even if it is the input")
	f.BoolVar(&newstar, "newstar", false, "write a NEWSTAR .mdl model")
	f.BoolVar(&text, "text", false, "write an ASCII text model")
	f.BoolVar(&tigger, "tigger", false, "write a native .lsm.html model (the default)")
	f.StringVar(&cfg.Format, "format", "", "ASCII column format, for reading or writing text models")
	f.StringVar(&cfg.InputFormat, "input-format", "", "input format, one of "+strings.Join(formats.Names(), ", ")+" (default: from the extension)")
	f.BoolVar(&cfg.AppToInt, "app-to-int", false, "convert apparent fluxes to intrinsic using the primary beam")
	f.StringVar(&cfg.Recenter, "recenter", "", `move the field centre to "J2000,RA,Dec" keeping source offsets`)
	f.Float64Var(&cfg.RefFreqMHz, "ref-freq", 0, "reference frequency in MHz, where the model has none")
	f.StringVar(&cfg.PrimaryBeam, "primary-beam", "", "primary beam expression in r (radians) and fq (Hz), e.g. "+fmt.Sprintf("%q", "cos(min(65*fq*1e-9*r,1.0881))**3"))
	f.Float64Var(&cfg.MinExtent, "min-extent", 0, "make Gaussians smaller than this (arcsec) into points")
	f.Float64Var(&cfg.ClusterDist, "cluster-dist", cfg.ClusterDist, "clustering distance in arcsec, for tagging and renaming")
	f.BoolVar(&cfg.Rename, "rename", false, "give sources COPART names")
	f.Float64Var(&cfg.RadialStep, "radial-step", cfg.RadialStep, "width of a radial tier in arcmin, for --rename")
	f.BoolVar(&cfg.CenterOnBrightest, "center-on-brightest", false, "put the field centre on the brightest source")
	return cmd
}

// parseRecenter reads "J2000,RA,Dec".
func parseRecenter(s string) (float64, float64, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return 0, 0, errors.New(errors.ErrCodeInvalidInput, "--recenter wants REF,RA,Dec, got %q", s)
	}
	if !strings.EqualFold(strings.TrimSpace(parts[0]), "j2000") {
		return 0, 0, errors.New(errors.ErrCodeInvalidInput, "--recenter: only J2000 coordinates are supported, got %q", parts[0])
	}
	ra, err := coord.ParseRA(parts[1])
	if err != nil {
		return 0, 0, errors.Wrap(errors.ErrCodeInvalidInput, err, "--recenter")
	}
	dec, err := coord.ParseDec(parts[2])
	if err != nil {
		return 0, 0, errors.Wrap(errors.ErrCodeInvalidInput, err, "--recenter")
	}
	return ra, dec, nil
}

func runConvert(cfg ConvertConfig) error {
	log.Debugf("Configuration:\n\n%s", asYaml(cfg))
	p := newProgress()
	if cfg.Rename && cfg.RadialStep <= 0 {
		return errors.New(errors.ErrCodeInvalidInput, "--radial-step must be positive, got %g", cfg.RadialStep)
	}
	if cfg.ClusterDist < 0 {
		return errors.New(errors.ErrCodeInvalidInput, "--cluster-dist must not be negative, got %g", cfg.ClusterDist)
	}

	in, err := formats.Resolve(cfg.Input, cfg.InputFormat)
	if err != nil {
		return err
	}
	out, err := outputFormat(cfg.Output, cfg.OutputFormat)
	if err != nil {
		return err
	}
	output, err := outputName(cfg.Input, cfg.Output, in, out.DefaultExtension(), cfg.Force)
	if err != nil {
		return err
	}

	var ra, dec float64
	if cfg.Recenter != "" {
		if ra, dec, err = parseRecenter(cfg.Recenter); err != nil {
			return err
		}
	}

	opts := formats.LoadOptions{
		Freq0:             cfg.RefFreqMHz * 1e6,
		CenterOnBrightest: cfg.CenterOnBrightest,
		MinExtent:         cfg.MinExtent * coord.ARCSEC,
		Format:            cfg.Format,
	}
	m, err := formats.Load(cfg.Input, in.Name, opts)
	if err != nil {
		return err
	}

	if cfg.Recenter != "" {
		tools.Recenter(m, ra, dec)
	}
	if cfg.PrimaryBeam != "" {
		if _, err := tools.PrimaryBeam(cfg.PrimaryBeam); err != nil {
			return err
		}
		m.PBExp = cfg.PrimaryBeam
	}
	if cfg.AppToInt {
		if err := appToInt(m); err != nil {
			return err
		}
	}
	switch {
	case cfg.Rename:
		tools.Rename(m, cfg.RadialStep*coord.ARCMIN, cfg.ClusterDist*coord.ARCSEC)
	case cfg.clusterSet:
		tools.TagClusters(m, cfg.ClusterDist*coord.ARCSEC)
	}

	if err := formats.Save(m, output, out.Name, formats.SaveOptions{Format: saveFormat(out, cfg.Format)}); err != nil {
		return err
	}
	p.done(fmt.Sprintf("Wrote %d sources to %s", len(m.Sources), output))
	return nil
}

// outputFormat is the explicit choice, else the output's extension, else
// the native format.
func outputFormat(output, name string) (*formats.Format, error) {
	if name != "" {
		return formats.Lookup(name)
	}
	if output != "" {
		return formats.Resolve(output, "")
	}
	return formats.Lookup("Tigger")
}

// saveFormat passes --format only to codecs that write column formats.
func saveFormat(f *formats.Format, format string) string {
	if f.Name == "ASCII" || f.Name == "BBS" {
		return format
	}
	return ""
}

func appToInt(m *model.SkyModel) error {
	if m.PBExp == "" {
		return errors.New(errors.ErrCodeInvalidInput, "--app-to-int needs a primary beam: the model has none, use --primary-beam")
	}
	pb, err := tools.PrimaryBeam(m.PBExp)
	if err != nil {
		return err
	}
	if m.Freq0 <= 0 {
		log.Warnf("no reference frequency, using per-source spectra only (set --ref-freq)")
	}
	return tools.AppToInt(m, pb, m.Freq0)
}
