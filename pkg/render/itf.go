// Package render turns an image-cube slice into a colourised raster:
// interpolation onto a viewport, an intensity transfer function (ITF) into
// [0,1], then a colour map. Each stage is cached by value keys.
package render

import (
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// An ITF maps data values into [0,1]. The data subset feeds its
// statistics; SetDataRange overrides the subset extrema.
type ITF interface {
	Name() string
	SetDataSubset(vals []float64)
	SetDataRange(lo, hi float64)
	DataRange() (float64, float64)
	Remap(x float64) float64
}

var ITFNames = []string{"linear", "log", "histeq"}

// NewITF returns a fresh ITF by name.
func NewITF(name string) (ITF, error) {
	switch name {
	case "linear", "":
		return &Linear{}, nil
	case "log":
		return &Log{Cycles: DefaultLogCycles}, nil
	case "histeq":
		return &HistEq{}, nil
	}
	return nil, fmt.Errorf("intensity map %q not recognized, wanted %v", name, ITFNames)
}

// rangeBase holds the subset and the optional range override.
type rangeBase struct {
	subset      []float64
	sMin, sMax  float64
	hasSubset   bool
	lo, hi      float64
	hasOverride bool
}

func finite(vals []float64) []float64 {
	out := make([]float64, 0, len(vals))
	for _, v := range vals {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			out = append(out, v)
		}
	}
	return out
}

func (b *rangeBase) SetDataSubset(vals []float64) {
	b.subset = finite(vals)
	b.hasSubset = len(b.subset) > 0
	if b.hasSubset {
		b.sMin, b.sMax = floats.Min(b.subset), floats.Max(b.subset)
	}
}

// SetDataRange sets the (lo, hi) override; NaN for either clears it.
func (b *rangeBase) SetDataRange(lo, hi float64) {
	if math.IsNaN(lo) || math.IsNaN(hi) {
		b.hasOverride = false
		return
	}
	b.lo, b.hi, b.hasOverride = lo, hi, true
}

func (b *rangeBase) DataRange() (float64, float64) {
	switch {
	case b.hasOverride:
		return b.lo, b.hi
	case b.hasSubset:
		return b.sMin, b.sMax
	}
	return math.NaN(), math.NaN()
}

// Linear is (x-d0)/(d1-d0), clipped.
type Linear struct{ rangeBase }

func (f *Linear) Name() string { return "linear" }

func (f *Linear) Remap(x float64) float64 {
	d0, d1 := f.DataRange()
	if !(d1 > d0) || math.IsNaN(x) {
		return 0
	}
	return clip01((x - d0) / (d1 - d0))
}

const DefaultLogCycles = 6

// Log compresses Cycles decades below the top of the range.
type Log struct {
	rangeBase
	Cycles float64
}

func (f *Log) Name() string { return "log" }

func (f *Log) Remap(x float64) float64 {
	d0, d1 := f.DataRange()
	dmax := d1 - d0
	if !(dmax > 0) || math.IsNaN(x) || f.Cycles <= 0 {
		return 0
	}
	floor := dmax * math.Pow(10, -f.Cycles)
	v := math.Min(math.Max(x-d0, floor), dmax)
	return clip01((math.Log10(v) - math.Log10(floor)) / f.Cycles)
}

const histBins = 256

// HistEq equalises the subset histogram within the current range. With
// no data it maps everything to 0.
type HistEq struct {
	rangeBase
	edges []float64
	cdf   []float64
	built bool
}

func (f *HistEq) Name() string { return "histeq" }

func (f *HistEq) SetDataSubset(vals []float64) {
	f.rangeBase.SetDataSubset(vals)
	f.built = false
}

func (f *HistEq) SetDataRange(lo, hi float64) {
	f.rangeBase.SetDataRange(lo, hi)
	f.built = false
}

// Histogram returns the bin edges and counts of the subset within the
// current range; both are empty when there is nothing to count.
func (f *HistEq) Histogram() ([]float64, []float64) {
	d0, d1 := f.DataRange()
	if !f.hasSubset || !(d1 > d0) {
		return nil, nil
	}
	var in []float64
	for _, v := range f.subset {
		if v >= d0 && v <= d1 {
			in = append(in, v)
		}
	}
	if len(in) == 0 {
		return nil, nil
	}
	sort.Float64s(in)
	edges := floats.Span(make([]float64, histBins+1), d0, d1)
	// the top edge is exclusive in stat.Histogram
	top := edges[histBins]
	edges[histBins] = math.Nextafter(d1, math.Inf(1))
	counts := stat.Histogram(nil, edges, in, nil)
	edges[histBins] = top
	return edges, counts
}

func (f *HistEq) build() {
	f.built = true
	f.edges, f.cdf = nil, nil
	edges, counts := f.Histogram()
	if len(counts) == 0 {
		return
	}
	cdf := make([]float64, len(edges))
	floats.CumSum(cdf[1:], counts)
	total := cdf[len(cdf)-1]
	floats.Scale(1/total, cdf)
	f.edges, f.cdf = edges, cdf
}

func (f *HistEq) Remap(x float64) float64 {
	if !f.built {
		f.build()
	}
	if f.cdf == nil || math.IsNaN(x) {
		return 0
	}
	n := len(f.edges)
	switch {
	case x <= f.edges[0]:
		return f.cdf[0]
	case x >= f.edges[n-1]:
		return f.cdf[n-1]
	}
	i := sort.SearchFloat64s(f.edges, x)
	x0, x1 := f.edges[i-1], f.edges[i]
	y0, y1 := f.cdf[i-1], f.cdf[i]
	return y0 + (y1-y0)*(x-x0)/(x1-x0)
}

func clip01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}
