// Package beam evaluates primary-beam gain expressions such as
// "max(cos(65*1e-9*fq*r)**6, 0.01)", written in terms of the distance
// from the pointing centre r (radians) and the frequency fq (Hz).
package beam

import (
	"math"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/abworrall/skymodel/pkg/errors"
)

// WSRT is the classic Westerbork beam, attached to NEWSTAR models.
const WSRT = "max(cos(65*1e-9*fq*r)**6, 0.01)"

// Beam is a compiled gain expression.
type Beam struct {
	Source  string
	program *vm.Program
}

func env(r, fq float64) map[string]any {
	return map[string]any{
		"r":     r,
		"fq":    fq,
		"pi":    math.Pi,
		"cos":   math.Cos,
		"sin":   math.Sin,
		"tan":   math.Tan,
		"sqrt":  math.Sqrt,
		"exp":   math.Exp,
		"log":   math.Log,
		"log10": math.Log10,
		"fabs":  math.Abs,
	}
}

// Compile parses an expression. Python module prefixes ("numpy.",
// "math.") are accepted and ignored.
func Compile(src string) (*Beam, error) {
	clean := src
	for _, prefix := range []string{"numpy.", "np.", "math.", "Numeric."} {
		clean = strings.ReplaceAll(clean, prefix, "")
	}
	program, err := expr.Compile(clean, expr.Env(env(0, 0)), expr.AsFloat64())
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeInvalidInput, err, "bad primary beam expression %q", src)
	}
	return &Beam{Source: src, program: program}, nil
}

// Gain evaluates the beam at distance r (radians) and frequency fq (Hz).
func (b *Beam) Gain(r, fq float64) (float64, error) {
	out, err := expr.Run(b.program, env(r, fq))
	if err != nil {
		return 0, errors.Wrap(errors.ErrCodeInvalidInput, err, "evaluating %q", b.Source)
	}
	f, _ := out.(float64)
	return f, nil
}

// Func adapts the beam to a pb(r, fq) callback; evaluation errors give a
// unity gain.
func (b *Beam) Func() func(r, fq float64) float64 {
	return func(r, fq float64) float64 {
		g, err := b.Gain(r, fq)
		if err != nil {
			return 1
		}
		return g
	}
}
