package render

import (
	"fmt"
	"image"
	"math"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/abworrall/skymodel/pkg/fitsimage"
	"github.com/abworrall/skymodel/pkg/signal"
)

// SubsetKind is the state of the display subset.
type SubsetKind int

const (
	SubsetNone SubsetKind = iota
	SubsetFull
	SubsetSlice
	SubsetRect
)

func (k SubsetKind) String() string {
	switch k {
	case SubsetFull:
		return "full"
	case SubsetSlice:
		return "slice"
	case SubsetRect:
		return "rect"
	}
	return "none"
}

// Subset describes the data that feeds the ITF statistics.
type Subset struct {
	Kind        SubsetKind
	Min, Max    float64
	Description string
	Rect        image.Rectangle // pixel box of a SubsetRect, in the current slice
}

// Range is a display range.
type Range struct{ Lo, Hi float64 }

// A LockSet ties the display ranges of the controls that join it: a
// range set on one locked member is applied to every other locked member.
type LockSet struct {
	members []*RenderControl
}

func NewLockSet() *LockSet { return &LockSet{} }

func (ls *LockSet) join(rc *RenderControl) {
	for _, m := range ls.members {
		if m == rc {
			return
		}
	}
	ls.members = append(ls.members, rc)
}

func (ls *LockSet) propagate(from *RenderControl, lo, hi float64) {
	for _, m := range ls.members {
		if m != from && m.locked {
			m.applyDisplayRange(lo, hi)
		}
	}
}

// RenderControl holds the render state of one image: intensity map,
// colour map, slice, display subset and display range.
type RenderControl struct {
	ID   string
	Cube *fitsimage.Cube

	itfs  []ITF
	itf   int
	cmaps []Colormap
	cmap  int

	subset     Subset
	subsetVals []float64
	rng        Range
	locked     bool
	lockSet    *LockSet
	updating   bool

	DataSubsetChanged   signal.Signal[Subset]
	DisplayRangeChanged signal.Signal[Range]
	ITFChanged          signal.Signal[ITF]
	ColormapChanged     signal.Signal[Colormap]
	ImageChanged        signal.Signal[[]int] // data or slice changed
	DataModified        signal.Signal[struct{}]
}

// NewRenderControl starts in the SLICE state on the cube's current
// slice. locks may be nil.
func NewRenderControl(cube *fitsimage.Cube, locks *LockSet) *RenderControl {
	rc := &RenderControl{
		ID:    uuid.NewString(),
		Cube:  cube,
		cmaps: Colormaps(),
		rng:   Range{math.NaN(), math.NaN()},
	}
	for _, name := range ITFNames {
		f, _ := NewITF(name)
		rc.itfs = append(rc.itfs, f)
	}
	if locks == nil {
		locks = NewLockSet()
	}
	rc.lockSet = locks
	locks.join(rc)
	for _, cm := range rc.cmaps {
		if ch, ok := cm.(*CubeHelix); ok {
			ch.Changed.Connect(rc.ID, func(c *CubeHelix) {
				if rc.cmaps[rc.cmap] == Colormap(c) {
					rc.ColormapChanged.Emit(c)
				}
			})
		}
	}
	cube.SliceChanged.Connect(rc.ID, func(s []int) {
		if rc.subset.Kind != SubsetFull {
			rc.SetSliceSubset()
		}
		rc.ImageChanged.Emit(s)
	})
	rc.SetSliceSubset()
	return rc
}

func (rc *RenderControl) ITF() ITF           { return rc.itfs[rc.itf] }
func (rc *RenderControl) ITFIndex() int      { return rc.itf }
func (rc *RenderControl) ITFs() []ITF        { return rc.itfs }
func (rc *RenderControl) Colormap() Colormap { return rc.cmaps[rc.cmap] }
func (rc *RenderControl) ColormapIndex() int { return rc.cmap }
func (rc *RenderControl) Colormaps() []Colormap {
	return rc.cmaps
}

// CubeHelix returns this control's parameterised colour map.
func (rc *RenderControl) CubeHelix() *CubeHelix {
	for _, cm := range rc.cmaps {
		if ch, ok := cm.(*CubeHelix); ok {
			return ch
		}
	}
	return nil
}

func (rc *RenderControl) SetITF(i int) error {
	if i < 0 || i >= len(rc.itfs) {
		return fmt.Errorf("intensity map %d out of range", i)
	}
	if i == rc.itf {
		return nil
	}
	rc.itf = i
	f := rc.itfs[i]
	f.SetDataSubset(rc.subsetVals)
	f.SetDataRange(rc.rng.Lo, rc.rng.Hi)
	rc.ITFChanged.Emit(f)
	return nil
}

func (rc *RenderControl) SetColormap(i int) error {
	if i < 0 || i >= len(rc.cmaps) {
		return fmt.Errorf("colour map %d out of range", i)
	}
	if i == rc.cmap {
		return nil
	}
	rc.cmap = i
	rc.ColormapChanged.Emit(rc.cmaps[i])
	return nil
}

// SetLogCycles adjusts the log ITF.
func (rc *RenderControl) SetLogCycles(c float64) {
	for _, f := range rc.itfs {
		if l, ok := f.(*Log); ok && l.Cycles != c {
			l.Cycles = c
			if rc.ITF() == f {
				rc.ITFChanged.Emit(f)
			}
		}
	}
}

func (rc *RenderControl) Subset() Subset { return rc.subset }

func (rc *RenderControl) DisplayRange() (float64, float64) { return rc.rng.Lo, rc.rng.Hi }

func (rc *RenderControl) setSubset(kind SubsetKind, vals []float64, desc string, rect image.Rectangle) {
	vals = finite(vals)
	lo, hi := math.NaN(), math.NaN()
	for _, v := range vals {
		if math.IsNaN(lo) || v < lo {
			lo = v
		}
		if math.IsNaN(hi) || v > hi {
			hi = v
		}
	}
	rc.subsetVals = vals
	rc.subset = Subset{Kind: kind, Min: lo, Max: hi, Description: desc, Rect: rect}
	for _, f := range rc.itfs {
		f.SetDataSubset(vals)
	}
	log.Debugf("Render subset %s: %s, range %g..%g", kind, desc, lo, hi)
	rc.DataSubsetChanged.Emit(rc.subset)
	if !rc.locked {
		rc.SetDisplayRange(lo, hi)
	}
}

// SetFullSubset uses every pixel of every plane.
func (rc *RenderControl) SetFullSubset() {
	var vals []float64
	for _, extra := range rc.Cube.Planes() {
		v, _ := fitsimage.Ravel(rc.Cube.Plane(extra))
		vals = append(vals, v...)
	}
	desc := "full cube"
	if len(rc.Cube.Extra) == 0 {
		desc = "full image"
	}
	rc.setSubset(SubsetFull, vals, desc, image.Rectangle{})
}

// SetSliceSubset uses the current plane.
func (rc *RenderControl) SetSliceSubset() {
	vals, _ := fitsimage.Ravel(rc.Cube.Image())
	desc := "current image"
	if lbl := rc.Cube.SliceLabel(); lbl != "" {
		desc = "plane " + lbl
	}
	rc.setSubset(SubsetSlice, vals, desc, image.Rectangle{})
}

// SetWindowSubset uses a pixel box of the current plane (clamped).
func (rc *RenderControl) SetWindowSubset(r image.Rectangle) {
	r = r.Canon().Intersect(image.Rect(0, 0, rc.Cube.Nx(), rc.Cube.Ny()))
	g := rc.Cube.Image()
	var vals []float64
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			vals = append(vals, g.Get(x, y))
		}
	}
	rc.setSubset(SubsetRect, vals, fmt.Sprintf("%dx%d window at (%d,%d)", r.Dx(), r.Dy(), r.Min.X, r.Min.Y), r)
}

// SetLMRectSubset uses an (l, m) box, projected into pixels.
func (rc *RenderControl) SetLMRectSubset(l0, m0, l1, m1 float64) {
	var r image.Rectangle
	first := true
	for _, c := range [][2]float64{{l0, m0}, {l1, m0}, {l0, m1}, {l1, m1}} {
		ra, dec := rc.Cube.Proj.RaDec(c[0], c[1])
		x, y := rc.Cube.PixProj.LM(ra, dec)
		p := image.Pt(int(math.Floor(x+0.5)), int(math.Floor(y+0.5)))
		if first {
			r = image.Rectangle{p, p.Add(image.Pt(1, 1))}
			first = false
		} else {
			r = r.Union(image.Rectangle{p, p.Add(image.Pt(1, 1))})
		}
	}
	rc.SetWindowSubset(r)
}

// ResetSubsetDisplayRange sets the display range back to the subset
// extrema, locked or not.
func (rc *RenderControl) ResetSubsetDisplayRange() {
	rc.SetDisplayRange(rc.subset.Min, rc.subset.Max)
}

// SetDisplayRange emits DisplayRangeChanged when the range changes, and
// pushes it to the other locked controls of the lock set.
func (rc *RenderControl) SetDisplayRange(lo, hi float64) {
	if rc.updating {
		return
	}
	if !rc.applyDisplayRange(lo, hi) {
		return
	}
	if rc.locked {
		rc.updating = true
		rc.lockSet.propagate(rc, lo, hi)
		rc.updating = false
	}
}

func sameFloat(a, b float64) bool { return a == b || (math.IsNaN(a) && math.IsNaN(b)) }

func (rc *RenderControl) applyDisplayRange(lo, hi float64) bool {
	if hi < lo {
		lo, hi = hi, lo
	}
	if sameFloat(lo, rc.rng.Lo) && sameFloat(hi, rc.rng.Hi) {
		return false
	}
	rc.rng = Range{lo, hi}
	for _, f := range rc.itfs {
		f.SetDataRange(lo, hi)
	}
	rc.DisplayRangeChanged.Emit(rc.rng)
	return true
}

func (rc *RenderControl) IsDisplayRangeLocked() bool { return rc.locked }

// LockDisplayRange joins or leaves the lock. Locking adopts the range of
// an already-locked member, if there is one.
func (rc *RenderControl) LockDisplayRange(lock bool) {
	if rc.locked == lock {
		return
	}
	rc.locked = lock
	if !lock {
		return
	}
	for _, m := range rc.lockSet.members {
		if m != rc && m.locked {
			rc.applyDisplayRange(m.rng.Lo, m.rng.Hi)
			return
		}
	}
}

// SelectSlice changes the cube slice; the subset follows unless it is
// the full cube.
func (rc *RenderControl) SelectSlice(indices []int) error {
	return rc.Cube.SelectSlice(indices)
}

// DataChanged is called after the cube's pixels were modified.
func (rc *RenderControl) DataChanged() {
	rc.Cube.Invalidate()
	switch rc.subset.Kind {
	case SubsetFull:
		rc.SetFullSubset()
	case SubsetRect:
		rc.SetWindowSubset(rc.subset.Rect)
	default:
		rc.SetSliceSubset()
	}
	rc.DataModified.Emit(struct{}{})
	rc.ImageChanged.Emit(rc.Cube.Slice())
}
