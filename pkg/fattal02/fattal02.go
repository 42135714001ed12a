package fattal02

// Fattal '02, "Gradient Domain High Dynamic Range Compression", applied to
// a single-channel sky plane. Bright compact sources and faint diffuse
// emission end up in the same [0,1] range without a hard stretch.

import (
	"fmt"
	"image"
	"image/color"
	"math"

	"github.com/charmbracelet/log"

	"github.com/abworrall/skymodel/pkg/emath"
	"github.com/abworrall/skymodel/pkg/fft"
)

// Fattal02 follows the PFSTMO parameterisation. It solves the Poisson
// equation with the DCT solver in pkg/fft.
type Fattal02 struct {
	DetailLevel int
	Noise       float64
	Alpha       float64
	Beta        float64
	Gamma       float64
	BlackPoint  float64 // percent of pixels clipped to black
	WhitePoint  float64 // percent of pixels clipped to white

	// Lo, Hi is the input data range; NaN means the plane extrema.
	Lo, Hi float64

	DumpGrids bool // write PNGs of the intermediate grids

	Input  *emath.FloatGrid // masked pixels are NaN
	Output *emath.FloatGrid // in [0,1], NaN where the input is masked

	logLuminance emath.FloatGrid   // H
	pyramid      []emath.FloatGrid // Gaussian pyramid of H
	gradients    []emath.FloatGrid
	avgGrad      []float64
	attenuation  emath.FloatGrid // PHI
	divG         emath.FloatGrid
	u            emath.FloatGrid // solution of laplace(U) = divG
}

func (f02 *Fattal02) Width() int     { return f02.Input.Dx() }
func (f02 *Fattal02) Height() int    { return f02.Input.Dy() }
func (f02 *Fattal02) NumLevels() int { return len(f02.pyramid) }

func NewDefaultFattal02(plane *emath.FloatGrid) *Fattal02 {
	return &Fattal02{
		DetailLevel: 3,
		Noise:       0.002,
		Alpha:       1.0,
		Beta:        0.9,
		Gamma:       0.8,
		BlackPoint:  0.1,
		WhitePoint:  0.5,
		Lo:          math.NaN(),
		Hi:          math.NaN(),
		Input:       plane,
	}
}

// Compress runs the whole pipeline and returns Output.
func (f02 *Fattal02) Compress() (*emath.FloatGrid, error) {
	if f02.Width() < 2 || f02.Height() < 2 {
		return nil, fmt.Errorf("fattal02: %dx%d plane is too small", f02.Width(), f02.Height())
	}
	if err := f02.CreateLogLuminanceGrid(); err != nil {
		return nil, err
	}
	f02.CreateGaussianPyramid()
	f02.CalculateGradients()
	f02.CalculateAttenuationMatrix()
	f02.CalculateDivergence()

	f02.u = fft.SolvePoisson(f02.divG, false)
	f02.maybeDumpGrid(f02.u, "solved PDE", "fattal02-6-pde.png")

	f02.CreateExponentiatedLuminance()
	return f02.Output, nil
}

// Perform makes Fattal02 usable as a tone mapping operator: the
// compressed plane as a greyscale image, north up.
func (f02 *Fattal02) Perform() image.Image {
	out, err := f02.Compress()
	img := image.NewGray16(image.Rect(0, 0, f02.Width(), f02.Height()))
	if err != nil {
		log.Warnf("%v", err)
		return img
	}
	h := out.Dy()
	for y := 0; y < h; y++ {
		for x := 0; x < out.Dx(); x++ {
			if v := out.Get(x, y); !math.IsNaN(v) {
				img.SetGray16(x, h-1-y, color.Gray16{Y: uint16(emath.GammaExpand_F64(v) * 0xFFFF)})
			}
		}
	}
	return img
}

func (f02 *Fattal02) maybeDumpGrid(g emath.FloatGrid, comment, filename string) {
	if f02.DumpGrids {
		log.Debugf("%s: %s", comment, g.Stats())
		if err := g.ToImg(comment, filename); err != nil {
			log.Warnf("can't dump %s: %v", filename, err)
		}
	}
}

func (f02 *Fattal02) CreateLogLuminanceGrid() error {
	lo, hi := f02.Lo, f02.Hi
	if math.IsNaN(lo) || math.IsNaN(hi) {
		lo, hi = f02.Input.MinMax()
	}
	if math.IsNaN(lo) || !(hi > lo) {
		return fmt.Errorf("fattal02: no dynamic range in the plane (%g..%g)", lo, hi)
	}
	width, height := f02.Width(), f02.Height()
	H := emath.NewFloatGrid(width, height)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			v := f02.Input.Get(x, y)
			if math.IsNaN(v) {
				v = lo
			}
			v = emath.Clip(v, lo, hi)
			H.Set(x, y, math.Log(100*(v-lo)/(hi-lo)+1e-4))
		}
	}
	log.Debugf("fattal02: log luminance over %g..%g", lo, hi)
	f02.maybeDumpGrid(H, "log(luminance)", "fattal02-1-loglum.png")
	f02.logLuminance = H
	return nil
}

func (f02 *Fattal02) CreateGaussianPyramid() {
	nLevels := 0
	for d := min(f02.Width(), f02.Height()); d >= 8; d /= 2 {
		nLevels++
	}
	nLevels = max(nLevels, 1)

	pyramid := make([]emath.FloatGrid, nLevels)
	pyramid[0] = *f02.logLuminance.Copy()
	for k := 1; k < nLevels; k++ {
		blurred := pyramid[k-1].GaussianBlur()
		pyramid[k] = blurred.DownSample()
	}
	f02.pyramid = pyramid
}

func (f02 *Fattal02) CalculateGradients() {
	f02.gradients = make([]emath.FloatGrid, f02.NumLevels())
	f02.avgGrad = make([]float64, f02.NumLevels())
	for k := range f02.pyramid {
		f02.gradients[k], f02.avgGrad[k] = f02.pyramid[k].Gradients(k)
	}
}

func (f02 *Fattal02) CalculateAttenuationMatrix() {
	nLevels := f02.NumLevels()
	phi := make([]emath.FloatGrid, nLevels)
	phi[nLevels-1] = f02.gradients[nLevels-1].NewFromThis()
	phi[nLevels-1].Fill(1)

	// walk down the pyramid from the top layer
	for k := nLevels - 1; k >= 0; k-- {
		g := f02.gradients[k]
		// only attenuate levels >= DetailLevel, but at least the coarsest
		if k >= f02.DetailLevel || k == nLevels-1 {
			a := f02.Alpha * f02.avgGrad[k]
			for y := 0; y < g.Dy(); y++ {
				for x := 0; x < g.Dx(); x++ {
					grad := g.Get(x, y)
					value := 1.0
					if grad > 1e-4 && a > 0 {
						value = a / (grad + f02.Noise) * math.Pow((grad+f02.Noise)/a, f02.Beta)
					}
					phi[k].Set(x, y, phi[k].Get(x, y)*value)
				}
			}
		}
		if k > 0 {
			up := f02.gradients[k-1].NewFromThis()
			phi[k].UpSampleInto(&up)
			phi[k-1] = up.GaussianBlur()
		}
	}
	f02.maybeDumpGrid(phi[0], "attenuation", "fattal02-4-phi.png")
	f02.attenuation = phi[0]
}

func (f02 *Fattal02) CalculateDivergence() {
	width, height := f02.Width(), f02.Height()
	H, PHI := f02.logLuminance, f02.attenuation
	Gx, Gy := H.NewFromThis(), H.NewFromThis()

	// the solver assumes U(-1) = U(1), so the right hand side uses
	// H(N+1) = H(N-1) at the far edges
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			yp1, xp1 := y+1, x+1
			if yp1 >= height {
				yp1 = height - 2
			}
			if xp1 >= width {
				xp1 = width - 2
			}
			Gx.Set(x, y, (H.Get(xp1, y)-H.Get(x, y))*0.5*(PHI.Get(xp1, y)+PHI.Get(x, y)))
			Gy.Set(x, y, (H.Get(x, yp1)-H.Get(x, y))*0.5*(PHI.Get(x, yp1)+PHI.Get(x, y)))
		}
	}

	divG := H.NewFromThis()
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			val := Gx.Get(x, y) + Gy.Get(x, y)
			if x > 0 {
				val -= Gx.Get(x-1, y)
			} else {
				val += Gx.Get(x, y)
			}
			if y > 0 {
				val -= Gy.Get(x, y-1)
			} else {
				val += Gy.Get(x, y)
			}
			divG.Set(x, y, val)
		}
	}
	f02.maybeDumpGrid(divG, "divergence", "fattal02-5-divg.png")
	f02.divG = divG
}

func (f02 *Fattal02) CreateExponentiatedLuminance() {
	L := f02.u.NewFromThis()
	vals, uvals := L.Values(), f02.u.Values()
	for i, u := range uvals {
		vals[i] = math.Exp(f02.Gamma*u) - 1e-4
	}

	minLum, maxLum := L.PercentileRange(0.01*f02.BlackPoint, 1-0.01*f02.WhitePoint)
	span := maxLum - minLum
	in := f02.Input.Values()
	for i, v := range vals {
		switch {
		case math.IsNaN(in[i]):
			vals[i] = math.NaN()
		case span <= 0:
			vals[i] = 0
		default:
			vals[i] = emath.Clip((v-minLum)/span, 0, 1)
		}
	}
	f02.maybeDumpGrid(L, "compressed", "fattal02-7-out.png")
	f02.Output = &L
}
