package cli

import (
	"fmt"
	"image"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"

	"github.com/abworrall/skymodel/pkg/errors"
	"github.com/abworrall/skymodel/pkg/fitsimage"
	"github.com/abworrall/skymodel/pkg/formats"
	"github.com/abworrall/skymodel/pkg/render"
	"github.com/abworrall/skymodel/pkg/settings"
)

type RenderConfig struct {
	Image    string
	Output   string
	ITF      string `yaml:"itf,omitempty"`
	Colormap string `yaml:"cmap,omitempty"`
	Range    string `yaml:"range,omitempty"`
	Slice    string `yaml:"slice,omitempty"`
	Model    string `yaml:"model,omitempty"`
	Hist     string `yaml:"hist,omitempty"`
	HDR      string `yaml:"hdr,omitempty"`
	Tonemap  string `yaml:"tonemap,omitempty"`
	Settings string `yaml:"settings,omitempty"`
}

func NewRenderCmd() *cobra.Command {
	var cfg RenderConfig
	cmd := &cobra.Command{
		Use:   "tigger-render image [output.png]",
		Short: "Render a FITS image plane to PNG or TIFF, with an optional sky model overlay",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg.Image = args[0]
			if len(args) > 1 {
				cfg.Output = args[1]
			}
			return runRender(cfg)
		},
	}
	f := cmd.Flags()
	f.StringVar(&cfg.ITF, "itf", "", "intensity map: "+strings.Join(render.ITFNames, ", "))
	f.StringVar(&cfg.Colormap, "cmap", "", "colour map name")
	f.StringVar(&cfg.Range, "range", "", "display range LO,HI (default: the plane's data range)")
	f.StringVar(&cfg.Slice, "slice", "", "indices I,J.. into the non-celestial axes")
	f.StringVar(&cfg.Model, "model", "", "sky model to draw over the image")
	f.StringVar(&cfg.Hist, "hist", "", "write a histogram plot of the plane to this PNG")
	f.StringVar(&cfg.HDR, "hdr", "", "write the plane as a Radiance HDR file")
	f.StringVar(&cfg.Tonemap, "tonemap", "", "render through a tonemapper instead of the colour map: "+render.ListTonemappers())
	f.StringVar(&cfg.Settings, "settings", "", "YAML or TOML file of remembered render settings")
	return cmd
}

// configure applies remembered settings, then the flags on top.
func configure(rc *render.RenderControl, cfg RenderConfig, saved *settings.Image) error {
	if saved != nil {
		if err := saved.Apply(rc); err != nil {
			log.Warnf("%s: %s", cfg.Settings, errors.UserMessage(err))
		}
	}
	if cfg.Slice != "" {
		idx, err := parseInts(cfg.Slice)
		if err != nil {
			return err
		}
		if err := rc.SelectSlice(idx); err != nil {
			return errors.Wrap(errors.ErrCodeInvalidInput, err, "--slice")
		}
	}
	if cfg.ITF != "" {
		found := false
		for i, f := range rc.ITFs() {
			if strings.EqualFold(f.Name(), cfg.ITF) {
				rc.SetITF(i)
				found = true
			}
		}
		if !found {
			return errors.New(errors.ErrCodeInvalidInput, "unknown intensity map %q, wanted one of %s", cfg.ITF, strings.Join(render.ITFNames, ", "))
		}
	}
	if cfg.Colormap != "" {
		i, err := render.ColormapIndex(rc.Colormaps(), cfg.Colormap)
		if err != nil {
			return err
		}
		rc.SetColormap(i)
	}
	if cfg.Range != "" {
		r, err := parseFloats(cfg.Range)
		if err != nil {
			return err
		}
		if len(r) != 2 {
			return errors.New(errors.ErrCodeInvalidInput, "--range wants LO,HI, got %q", cfg.Range)
		}
		rc.SetDisplayRange(r[0], r[1])
	}
	return nil
}

func runRender(cfg RenderConfig) error {
	log.Debugf("Configuration:\n\n%s", asYaml(cfg))
	p := newProgress()
	if cfg.Output == "" {
		cfg.Output = strings.TrimSuffix(cfg.Image, filepath.Ext(cfg.Image)) + ".png"
	}

	cube, err := fitsimage.Load(cfg.Image)
	if err != nil {
		return err
	}
	rc := render.NewRenderControl(cube, nil)

	var st *settings.Settings
	var saved *settings.Image
	if cfg.Settings != "" {
		st = settings.Load(cfg.Settings)
		log.Debugf("Settings %s:\n\n%s", cfg.Settings, st.AsYaml())
		saved, _ = st.Image(cfg.Image)
	}
	if err := configure(rc, cfg, saved); err != nil {
		return err
	}
	lo, hi := rc.DisplayRange()
	log.Infof("%s %s: %s, %s, range %g..%g", cfg.Image, cube.SliceLabel(), rc.ITF().Name(), rc.Colormap().Name(), lo, hi)

	vp := render.FitViewport(cube.Nx(), cube.Ny(), cube.Nx(), cube.Ny())
	var img image.Image
	if cfg.Tonemap != "" {
		if img, err = render.Tonemap(cfg.Tonemap, cube.Image()); err != nil {
			return err
		}
	} else {
		img = render.NewRenderer(rc).Draw(vp)
	}

	if cfg.Model != "" {
		m, err := formats.Load(cfg.Model, "", formats.LoadOptions{})
		if err != nil {
			return err
		}
		img = render.DrawOverlay(img, m, cube, vp)
	}
	if err := render.WriteImage(img, cfg.Output); err != nil {
		return err
	}

	if cfg.Hist != "" {
		if err := render.HistogramPlot(rc, cfg.Hist); err != nil {
			return err
		}
	}
	if cfg.HDR != "" {
		if err := render.WriteHDR(render.NewPlaneImage(cube.Image()), cfg.HDR); err != nil {
			return err
		}
	}
	if st != nil {
		st.Remember(cfg.Image, rc)
		st.Save()
	}
	p.done(fmt.Sprintf("Rendered %s to %s", cfg.Image, cfg.Output))
	return nil
}
