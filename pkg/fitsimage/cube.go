// Package fitsimage loads FITS image cubes into memory: data in native
// FITS order (x fastest), the celestial projection, labelled extra axes
// and the restoring beam when the header records one.
package fitsimage

import (
	"encoding/binary"
	"fmt"
	"math"
	"os"
	"strings"

	"github.com/astrogo/fitsio"
	"github.com/charmbracelet/log"

	"github.com/abworrall/skymodel/pkg/coord"
	"github.com/abworrall/skymodel/pkg/emath"
	"github.com/abworrall/skymodel/pkg/errors"
	"github.com/abworrall/skymodel/pkg/signal"
)

// Axis is a non-celestial axis (frequency, Stokes, ...).
type Axis struct {
	Index  int // 0-based FITS axis number
	Name   string
	Unit   string
	Size   int
	Values []float64 // world value at each pixel
	Labels []string
}

// PSF is the restoring beam: FWHM extents and PA (N through E), radians.
type PSF struct {
	Maj, Min, PA float64
}

// Cube is a FITS image held in memory. Masked pixels are NaN.
type Cube struct {
	Filename string
	Header   *Header
	Dims     []int // NAXIS1.. ; axis 0 varies fastest in Data
	Data     []float64

	XAxis, YAxis int // 0-based celestial axes
	Extra        []Axis
	Proj         coord.Projection
	PixProj      *coord.FITSWCSpix
	PSF          *PSF

	slice   []int
	minmax  map[string][2]float64
	strides []int

	// SliceChanged fires after SelectSlice with the new indices.
	SliceChanged signal.Signal[[]int]
}

// Load reads the primary HDU of a FITS file.
func Load(filename string) (*Cube, error) {
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

	img, ok := f.HDU(0).(fitsio.Image)
	if !ok {
		return nil, errors.New(errors.ErrCodeFileFormat, "%s: primary HDU is not an image", filename)
	}
	hdr := HeaderOf(img.Header())
	dims := img.Header().Axes()
	if len(dims) < 2 {
		return nil, errors.New(errors.ErrCodeFileFormat, "%s: image has %d axes, need at least 2", filename, len(dims))
	}
	data, err := decode(img.Raw(), img.Header().Bitpix(), hdr)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeFileFormat, err, "%s", filename)
	}
	c, err := newCube(dims, hdr, data)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeFileFormat, err, "%s", filename)
	}
	c.Filename = filename
	log.Debugf("%s: %v, sky axes %d,%d, %s", filename, dims, c.XAxis+1, c.YAxis+1, c.Proj)
	return c, nil
}

// decode converts big-endian raw pixels, applying BSCALE/BZERO. Non-finite
// and BLANK pixels are masked.
func decode(raw []byte, bitpix int, hdr *Header) ([]float64, error) {
	size := bitpix / 8
	if size < 0 {
		size = -size
	}
	if size == 0 || len(raw)%size != 0 {
		return nil, fmt.Errorf("bad BITPIX %d for %d data bytes", bitpix, len(raw))
	}
	bscale, ok := coord.HeaderFloat(hdr, "BSCALE")
	if !ok {
		bscale = 1
	}
	bzero, _ := coord.HeaderFloat(hdr, "BZERO")
	blank, hasBlank := coord.HeaderFloat(hdr, "BLANK")

	be := binary.BigEndian
	n := len(raw) / size
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		b := raw[i*size:]
		var v float64
		isInt := true
		switch bitpix {
		case 8:
			v = float64(b[0])
		case 16:
			v = float64(int16(be.Uint16(b)))
		case 32:
			v = float64(int32(be.Uint32(b)))
		case 64:
			v = float64(int64(be.Uint64(b)))
		case -32:
			v, isInt = float64(math.Float32frombits(be.Uint32(b))), false
		case -64:
			v, isInt = math.Float64frombits(be.Uint64(b)), false
		default:
			return nil, fmt.Errorf("unsupported BITPIX %d", bitpix)
		}
		if isInt && hasBlank && v == blank {
			out[i] = math.NaN()
			continue
		}
		v = bzero + bscale*v
		if math.IsInf(v, 0) {
			v = math.NaN()
		}
		out[i] = v
	}
	return out, nil
}

// NewCube makes a zero-filled cube with the given axes and header.
func NewCube(dims []int, hdr *Header) (*Cube, error) {
	n := 1
	for _, d := range dims {
		n *= d
	}
	if hdr == nil {
		hdr = NewHeader()
	}
	return newCube(dims, hdr, make([]float64, n))
}

func newCube(dims []int, hdr *Header, data []float64) (*Cube, error) {
	n := 1
	for _, d := range dims {
		if d <= 0 {
			return nil, errors.New(errors.ErrCodeInvalidInput, "bad axis size %d", d)
		}
		n *= d
	}
	if len(data) != n {
		return nil, errors.New(errors.ErrCodeInvalidInput, "%d pixels for axes %v", len(data), dims)
	}
	c := &Cube{Header: hdr, Dims: append([]int(nil), dims...), Data: data, minmax: map[string][2]float64{}}
	c.strides = make([]int, len(dims))
	s := 1
	for i, d := range dims {
		c.strides[i] = s
		s *= d
	}

	hdr.Set("NAXIS", len(dims))
	proj, xaxis, yaxis, err := coord.FromHeader(hdr)
	if err != nil {
		return nil, err
	}
	c.Proj, c.XAxis, c.YAxis = proj, xaxis-1, yaxis-1
	if c.PixProj, err = coord.NewFITSWCSpix(hdr, xaxis, yaxis); err != nil {
		return nil, err
	}

	for i := range dims {
		if i != c.XAxis && i != c.YAxis {
			c.Extra = append(c.Extra, makeAxis(hdr, i, dims[i]))
		}
	}
	c.slice = make([]int, len(c.Extra))

	maj, ok1 := coord.HeaderFloat(hdr, "BMAJ")
	bmin, ok2 := coord.HeaderFloat(hdr, "BMIN")
	pa, ok3 := coord.HeaderFloat(hdr, "BPA")
	if ok1 && ok2 && ok3 {
		c.PSF = &PSF{maj * coord.DEG, bmin * coord.DEG, pa * coord.DEG}
	}
	return c, nil
}

var (
	// indexed by Stokes code; negative codes count back from the end
	stokesNames  = []string{"", "I", "Q", "U", "V", "YX", "XY", "YY", "XX", "LR", "RL", "LL", "RR"}
	complexNames = []string{"", "real", "imag", "weight"}
)

func enumName(names []string, code int) string {
	if code < 0 {
		code += len(names)
	}
	if code <= 0 || code >= len(names) {
		return fmt.Sprint(code)
	}
	return names[code]
}

func makeAxis(hdr *Header, i, size int) Axis {
	key := func(k string) string { return fmt.Sprintf("%s%d", k, i+1) }
	ax := Axis{Index: i, Size: size}
	ax.Name, _ = coord.SplitCtype(coord.HeaderString(hdr, key("CTYPE")))
	if ax.Name == "" {
		ax.Name = fmt.Sprintf("axis %d", i+1)
	}
	if u, ok := hdr.Get(key("CUNIT")); ok {
		ax.Unit = strings.TrimSpace(fmt.Sprint(u))
	}
	crval, _ := coord.HeaderFloat(hdr, key("CRVAL"))
	cdelt, ok := coord.HeaderFloat(hdr, key("CDELT"))
	if !ok {
		cdelt = 1
	}
	crpix, ok := coord.HeaderFloat(hdr, key("CRPIX"))
	if !ok {
		crpix = 1
	}
	for p := 0; p < size; p++ {
		v := crval + (float64(p+1)-crpix)*cdelt
		ax.Values = append(ax.Values, v)
		switch ax.Name {
		case "STOKES":
			ax.Labels = append(ax.Labels, enumName(stokesNames, int(math.Round(v))))
		case "COMPLEX":
			ax.Labels = append(ax.Labels, enumName(complexNames, int(math.Round(v))))
		default:
			ax.Labels = append(ax.Labels, fmt.Sprintf("%d: %s", p, SIFormat(v, ax.Unit)))
		}
	}
	return ax
}

var siPrefixes = []struct {
	scale  float64
	prefix string
}{{1e12, "T"}, {1e9, "G"}, {1e6, "M"}, {1e3, "k"}, {1, ""}, {1e-3, "m"}, {1e-6, "u"}, {1e-9, "n"}}

// SIFormat picks an SI prefix so the mantissa is in [1, 1000).
func SIFormat(v float64, unit string) string {
	a := math.Abs(v)
	if a == 0 || unit == "" {
		return strings.TrimSpace(fmt.Sprintf("%g %s", v, unit))
	}
	for _, p := range siPrefixes {
		if a >= p.scale {
			return fmt.Sprintf("%.4g %s%s", v/p.scale, p.prefix, unit)
		}
	}
	last := siPrefixes[len(siPrefixes)-1]
	return fmt.Sprintf("%.4g %s%s", v/last.scale, last.prefix, unit)
}

func (c *Cube) Nx() int { return c.Dims[c.XAxis] }
func (c *Cube) Ny() int { return c.Dims[c.YAxis] }

// Index is the offset in Data of pixel (x, y) on the plane given by one
// index per extra axis.
func (c *Cube) Index(x, y int, extra []int) int {
	i := x*c.strides[c.XAxis] + y*c.strides[c.YAxis]
	for k, ax := range c.Extra {
		if k < len(extra) {
			i += extra[k] * c.strides[ax.Index]
		}
	}
	return i
}

// Slice is the current extra-axis indices.
func (c *Cube) Slice() []int { return append([]int(nil), c.slice...) }

// SelectSlice changes the current plane and emits SliceChanged.
func (c *Cube) SelectSlice(indices []int) error {
	if len(indices) != len(c.Extra) {
		return errors.New(errors.ErrCodeInvalidInput, "slice %v: cube has %d extra axes", indices, len(c.Extra))
	}
	for k, idx := range indices {
		if idx < 0 || idx >= c.Extra[k].Size {
			return errors.New(errors.ErrCodeInvalidInput, "slice index %d out of range for %s", idx, c.Extra[k].Name)
		}
	}
	c.slice = append(c.slice[:0], indices...)
	c.SliceChanged.Emit(c.Slice())
	return nil
}

// SliceLabel describes the current plane, e.g. "STOKES=I FREQ=0: 1.4 GHz".
func (c *Cube) SliceLabel() string {
	var parts []string
	for k, ax := range c.Extra {
		if ax.Size > 1 {
			parts = append(parts, fmt.Sprintf("%s=%s", ax.Name, ax.Labels[c.slice[k]]))
		}
	}
	return strings.Join(parts, " ")
}

// contiguous reports whether the sky plane is the first two axes.
func (c *Cube) contiguous() bool { return c.XAxis == 0 && c.YAxis == 1 }

// Plane returns the given plane as a grid. When the sky axes are the
// first two the grid shares memory with Data.
func (c *Cube) Plane(extra []int) *emath.FloatGrid {
	nx, ny := c.Nx(), c.Ny()
	if c.contiguous() {
		off := c.Index(0, 0, extra)
		g := emath.NewFloatGridFrom(nx, c.Data[off:off+nx*ny])
		return &g
	}
	g := emath.NewFloatGrid(nx, ny)
	for y := 0; y < ny; y++ {
		for x := 0; x < nx; x++ {
			g.Set(x, y, c.Data[c.Index(x, y, extra)])
		}
	}
	return &g
}

// Image is the current plane.
func (c *Cube) Image() *emath.FloatGrid { return c.Plane(c.slice) }

// SetPlane writes a grid back into the cube; a no-op for shared planes.
func (c *Cube) SetPlane(extra []int, g *emath.FloatGrid) {
	if c.contiguous() && &c.Data[c.Index(0, 0, extra)] == &g.Values()[0] {
		return
	}
	for y := 0; y < c.Ny(); y++ {
		for x := 0; x < c.Nx(); x++ {
			c.Data[c.Index(x, y, extra)] = g.Get(x, y)
		}
	}
	c.Invalidate()
}

// Planes enumerates every combination of extra-axis indices.
func (c *Cube) Planes() [][]int {
	out := [][]int{{}}
	for _, ax := range c.Extra {
		var next [][]int
		for _, prefix := range out {
			for i := 0; i < ax.Size; i++ {
				next = append(next, append(append([]int(nil), prefix...), i))
			}
		}
		out = next
	}
	return out
}

// Ravel returns a grid's samples in memory order plus the mask (nil when
// nothing is masked).
func Ravel(g *emath.FloatGrid) ([]float64, []bool) {
	vals := g.Values()
	var mask []bool
	for i, v := range vals {
		if math.IsNaN(v) {
			if mask == nil {
				mask = make([]bool, len(vals))
			}
			mask[i] = true
		}
	}
	return vals, mask
}

// DataMinMax is memoized per plane; an all-masked plane gives NaN, NaN.
func (c *Cube) DataMinMax(extra []int) (float64, float64) {
	key := fmt.Sprint(extra)
	if mm, ok := c.minmax[key]; ok {
		return mm[0], mm[1]
	}
	lo, hi := c.Plane(extra).MinMax()
	c.minmax[key] = [2]float64{lo, hi}
	return lo, hi
}

// Invalidate drops memoized statistics after Data was modified.
func (c *Cube) Invalidate() { c.minmax = map[string][2]float64{} }

// StokesIndex finds the position of a Stokes parameter on the STOKES
// axis: (extra-axis number, index), or ok=false.
func (c *Cube) StokesIndex(name string) (int, int, bool) {
	for k, ax := range c.Extra {
		if ax.Name != "STOKES" {
			continue
		}
		for i, l := range ax.Labels {
			if l == name {
				return k, i, true
			}
		}
		return k, 0, false
	}
	return -1, 0, false
}

// Save writes the cube as a 32-bit float FITS image.
func (c *Cube) Save(filename string) error {
	w, err := os.Create(filename)
	if err != nil {
		return errors.Wrap(errors.ErrCodeInvalidInput, err, "can't create %s", filename)
	}
	defer w.Close()
	f, err := fitsio.Create(w)
	if err != nil {
		return errors.Wrap(errors.ErrCodeInternal, err, "writing %s", filename)
	}
	img := fitsio.NewImage(-32, c.Dims)
	defer img.Close()
	if err := img.Header().Append(c.Header.fitsCards()...); err != nil {
		return errors.Wrap(errors.ErrCodeInternal, err, "%s: header", filename)
	}
	pix := make([]float32, len(c.Data))
	for i, v := range c.Data {
		pix[i] = float32(v)
	}
	if err := img.Write(pix); err != nil {
		return errors.Wrap(errors.ErrCodeInternal, err, "%s: data", filename)
	}
	if err := f.Write(img); err != nil {
		return errors.Wrap(errors.ErrCodeInternal, err, "writing %s", filename)
	}
	if err := f.Close(); err != nil {
		return errors.Wrap(errors.ErrCodeInternal, err, "writing %s", filename)
	}
	log.Infof("Wrote %s (%v)", filename, c.Dims)
	return nil
}
