// Package cli implements the tigger-* command-line programs.
//
// Each program is one cobra command built by a New*Cmd function; Run wires
// up logging and turns errors into a one-line message and exit status 1.
// Libraries log through the charmbracelet/log default logger, which Run
// replaces so that -v reaches them too.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/log"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v2"

	"github.com/abworrall/skymodel/pkg/errors"
	"github.com/abworrall/skymodel/pkg/formats"
)

// newLogger writes to w at level, with short timestamps.
func newLogger(w io.Writer, level log.Level) *log.Logger {
	return log.NewWithOptions(w, log.Options{
		ReportTimestamp: true,
		TimeFormat:      "15:04:05.00",
		Level:           level,
	})
}

// progress logs an operation's elapsed time when it is done.
type progress struct {
	start time.Time
}

func newProgress() *progress { return &progress{start: time.Now()} }

func (p *progress) done(msg string) {
	log.Infof("%s (%s)", msg, time.Since(p.start).Round(time.Millisecond))
}

// Run executes cmd with args and returns the process exit status.
func Run(ctx context.Context, cmd *cobra.Command, args []string, stderr io.Writer) int {
	var verbose bool
	cmd.SetArgs(args)
	cmd.SetErr(stderr)
	cmd.SilenceUsage = true
	cmd.SilenceErrors = true
	cmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose logging")
	cmd.PersistentPreRun = func(*cobra.Command, []string) {
		level := log.InfoLevel
		if verbose {
			level = log.DebugLevel
		}
		log.SetDefault(newLogger(stderr, level))
	}

	err := cmd.ExecuteContext(ctx)
	if err == nil {
		return 0
	}
	if verbose {
		if code := errors.GetCode(err); code != "" {
			log.Debugf("error code %s: %v", code, err)
		} else {
			log.Debugf("%+v", err)
		}
	}
	fmt.Fprintf(stderr, "%s: %s\n", cmd.Name(), errors.UserMessage(err))
	return 1
}

// asYaml dumps a config at debug verbosity.
func asYaml(v any) string {
	b, err := yaml.Marshal(v)
	if err != nil {
		return fmt.Sprintf("can't marshal config: %v", err)
	}
	return string(b)
}

// stripExtension removes the extension of f matched by filename, or the
// last dotted suffix when f has none that match.
func stripExtension(filename string, f *formats.Format) string {
	lower := strings.ToLower(filename)
	if f != nil {
		best := ""
		for _, ext := range f.Extensions {
			if strings.HasSuffix(lower, strings.ToLower(ext)) && len(ext) > len(best) {
				best = ext
			}
		}
		if best != "" {
			return filename[:len(filename)-len(best)]
		}
	}
	return strings.TrimSuffix(filename, filepath.Ext(filename))
}

// outputName resolves where to write. With no explicit output the input
// suffix is replaced by ext. Writing over the input needs force.
func outputName(input, output string, in *formats.Format, ext string, force bool) (string, error) {
	if output == "" {
		output = stripExtension(input, in) + ext
	}
	if !force && sameFile(input, output) {
		return "", errors.New(errors.ErrCodeExists, "%s would overwrite the input, use -f to force", output)
	}
	return output, nil
}

// refuseExisting fails when output exists and force is not set.
func refuseExisting(output string, force bool) error {
	if force {
		return nil
	}
	if _, err := os.Stat(output); err == nil {
		return errors.New(errors.ErrCodeExists, "output file %s already exists, use -f to overwrite", output)
	}
	return nil
}

func sameFile(a, b string) bool {
	if filepath.Clean(a) == filepath.Clean(b) {
		return true
	}
	sa, err1 := os.Stat(a)
	sb, err2 := os.Stat(b)
	return err1 == nil && err2 == nil && os.SameFile(sa, sb)
}

// parseFloats splits a comma-separated list.
func parseFloats(s string) ([]float64, error) {
	var out []float64
	for _, f := range strings.Split(s, ",") {
		v, err := strconv.ParseFloat(strings.TrimSpace(f), 64)
		if err != nil {
			return nil, errors.Wrap(errors.ErrCodeInvalidInput, err, "bad number %q in %q", f, s)
		}
		out = append(out, v)
	}
	return out, nil
}

func parseInts(s string) ([]int, error) {
	var out []int
	for _, f := range strings.Split(s, ",") {
		v, err := strconv.Atoi(strings.TrimSpace(f))
		if err != nil {
			return nil, errors.Wrap(errors.ErrCodeInvalidInput, err, "bad integer %q in %q", f, s)
		}
		out = append(out, v)
	}
	return out, nil
}
