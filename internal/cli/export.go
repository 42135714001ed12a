package cli

import (
	"fmt"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/abworrall/skymodel/pkg/errors"
	"github.com/abworrall/skymodel/pkg/formats"
	"github.com/abworrall/skymodel/pkg/tools"
)

type ExportConfig struct {
	Input      string
	Output     string
	Newstar    bool
	Tags       []string
	RefFreqMHz float64 `yaml:"ref_freq_mhz"`
	Force      bool
}

func NewExportCmd() *cobra.Command {
	var cfg ExportConfig
	cmd := &cobra.Command{
		Use:   "tigger-export input [output]",
		Short: "Export the sources of a sky model, or just the tagged ones, to another format",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg.Input = args[0]
			if len(args) > 1 {
				cfg.Output = args[1]
			}
			return runExport(cfg)
		},
	}
	f := cmd.Flags()
	f.BoolVarP(&cfg.Force, "force", "f", false, "overwrite the output file even if it is the input")
	f.BoolVarP(&cfg.Newstar, "newstar", "N", false, "write a NEWSTAR .mdl model")
	f.StringArrayVarP(&cfg.Tags, "tags", "t", nil, "export only sources with this tag set (repeatable)")
	f.Float64Var(&cfg.RefFreqMHz, "ref-freq", 0, "reference frequency in MHz, where the model has none")
	return cmd
}

func runExport(cfg ExportConfig) error {
	log.Debugf("Configuration:\n\n%s", asYaml(cfg))
	p := newProgress()

	in, err := formats.Resolve(cfg.Input, "")
	if err != nil {
		return err
	}
	name := ""
	if cfg.Newstar {
		name = "NEWSTAR"
	}
	out, err := outputFormat(cfg.Output, name)
	if err != nil {
		return err
	}
	output, err := outputName(cfg.Input, cfg.Output, in, out.DefaultExtension(), cfg.Force)
	if err != nil {
		return err
	}

	m, err := formats.Load(cfg.Input, in.Name, formats.LoadOptions{Freq0: cfg.RefFreqMHz * 1e6})
	if err != nil {
		return err
	}
	if cfg.RefFreqMHz > 0 {
		m.Freq0 = cfg.RefFreqMHz * 1e6
	}
	srcs := tools.Tagged(m, cfg.Tags...)
	if len(srcs) == 0 {
		return errors.New(errors.ErrCodeNotFound, "no sources in %s with tags %v", cfg.Input, cfg.Tags)
	}
	if len(cfg.Tags) > 0 {
		log.Infof("%d of %d sources tagged %v", len(srcs), len(m.Sources), cfg.Tags)
	}
	if err := formats.Save(m, output, out.Name, formats.SaveOptions{Sources: srcs}); err != nil {
		return err
	}
	p.done(fmt.Sprintf("Exported %d sources to %s", len(srcs), output))
	return nil
}
