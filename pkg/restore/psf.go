package restore

import (
	"math"

	"github.com/charmbracelet/log"
	"gonum.org/v1/gonum/optimize"

	"github.com/abworrall/skymodel/pkg/emath"
	"github.com/abworrall/skymodel/pkg/errors"
	"github.com/abworrall/skymodel/pkg/fitsimage"
)

// FitPSF loads a PSF image and fits a Gaussian to it: (FWHM major, FWHM
// minor, PA N through E), radians.
func FitPSF(filename string, autoCrop bool) (float64, float64, float64, error) {
	log.Infof("Fitting PSF %s", filename)
	cube, err := fitsimage.Load(filename)
	if err != nil {
		return 0, 0, 0, err
	}
	for _, ax := range cube.Extra {
		if ax.Size > 1 {
			log.Warnf("%s: %s axis has %d planes, fitting the first", filename, ax.Name, ax.Size)
		}
	}
	g := cube.Plane(make([]int, len(cube.Extra)))
	if autoCrop {
		g = AutoCrop(g)
	}
	return FitPSFGrid(g, math.Abs(cube.PixProj.XScale()), math.Abs(cube.PixProj.YScale()))
}

// AutoCrop grows a box out from the centre of g, along each axis, until
// it meets a negative pixel, and returns that part of g.
func AutoCrop(g *emath.FloatGrid) *emath.FloatGrid {
	cx, cy := g.Dx()/2, g.Dy()/2
	neg := func(x, y int) bool { v := g.Get(x, y); return math.IsNaN(v) || v < 0 }
	x0, x1, y0, y1 := cx, cx, cy, cy
	for x0 > 0 && !neg(x0-1, cy) {
		x0--
	}
	for x1 < g.Dx()-1 && !neg(x1+1, cy) {
		x1++
	}
	for y0 > 0 && !neg(cx, y0-1) {
		y0--
	}
	for y1 < g.Dy()-1 && !neg(cx, y1+1) {
		y1++
	}
	out := emath.NewFloatGrid(x1-x0+1, y1-y0+1)
	for y := y0; y <= y1; y++ {
		for x := x0; x <= x1; x++ {
			out.Set(x-x0, y-y0, g.Get(x, y))
		}
	}
	log.Debugf("psf: cropped %dx%d to %dx%d", g.Dx(), g.Dy(), out.Dx(), out.Dy())
	return &out
}

// gauss2D evaluates the 7-parameter model [amp, x0, y0, sx, sy, theta,
// offset]; sx lies at theta from +x towards +y.
func gauss2D(p []float64, x, y float64) float64 {
	cs, sn := math.Cos(p[5]), math.Sin(p[5])
	dx, dy := x-p[1], y-p[2]
	u, v := dx*cs+dy*sn, -dx*sn+dy*cs
	return p[0]*math.Exp(-0.5*(u*u/(p[3]*p[3])+v*v/(p[4]*p[4]))) + p[6]
}

// momentEstimate gives starting parameters for the fit.
func momentEstimate(g *emath.FloatGrid) ([]float64, error) {
	lo, hi := g.MinMax()
	if math.IsNaN(lo) || !(hi > lo) {
		return nil, errors.New(errors.ErrCodeInvalidInput, "PSF image has no signal")
	}
	var sw, sx, sy float64
	for y := 0; y < g.Dy(); y++ {
		for x := 0; x < g.Dx(); x++ {
			if w := g.Get(x, y) - lo; w > 0 {
				sw += w
				sx += w * float64(x)
				sy += w * float64(y)
			}
		}
	}
	mx, my := sx/sw, sy/sw
	var mxx, myy, mxy float64
	for y := 0; y < g.Dy(); y++ {
		for x := 0; x < g.Dx(); x++ {
			if w := g.Get(x, y) - lo; w > 0 {
				dx, dy := float64(x)-mx, float64(y)-my
				mxx += w * dx * dx
				myy += w * dy * dy
				mxy += w * dx * dy
			}
		}
	}
	mxx, myy, mxy = mxx/sw, myy/sw, mxy/sw
	d := math.Hypot(mxx-myy, 2*mxy)
	l1, l2 := (mxx+myy+d)/2, (mxx+myy-d)/2
	theta := math.Atan2(2*mxy, mxx-myy) / 2
	return []float64{hi - lo, mx, my, math.Sqrt(math.Max(l1, 0.01)), math.Sqrt(math.Max(l2, 0.01)), theta, lo}, nil
}

// FitPSFGrid fits a Gaussian to g, whose pixels are xscale by yscale
// radians. Returns (FWHM major, FWHM minor, PA N through E).
func FitPSFGrid(g *emath.FloatGrid, xscale, yscale float64) (float64, float64, float64, error) {
	start, err := momentEstimate(g)
	if err != nil {
		return 0, 0, 0, err
	}
	problem := optimize.Problem{
		Func: func(p []float64) float64 {
			var chi2 float64
			for y := 0; y < g.Dy(); y++ {
				for x := 0; x < g.Dx(); x++ {
					v := g.Get(x, y)
					if math.IsNaN(v) {
						continue
					}
					r := v - gauss2D(p, float64(x), float64(y))
					chi2 += r * r
				}
			}
			return chi2
		},
	}
	result, err := optimize.Minimize(problem, start, &optimize.Settings{FuncEvaluations: 20000}, &optimize.NelderMead{})
	if result == nil {
		return 0, 0, 0, errors.Wrap(errors.ErrCodeInternal, err, "PSF fit failed")
	}
	if err != nil {
		log.Warnf("PSF fit: %v", err)
	}
	p := result.X
	log.Debugf("psf: moments %.4g, fit %.4g (%s)", start, p, result.Status)

	sx, sy, theta := math.Abs(p[3]), math.Abs(p[4]), p[5]
	if sx < sy {
		sx, sy = sy, sx
		theta += math.Pi / 2
	}
	cs, sn := math.Cos(theta), math.Sin(theta)
	maj := sx * math.Hypot(xscale*cs, yscale*sn)
	min := sy * math.Hypot(xscale*sn, yscale*cs)
	pa := math.Mod(theta-math.Pi/2, math.Pi)
	if pa < 0 {
		pa += math.Pi
	}
	return maj * emath.FWHM, min * emath.FWHM, pa, nil
}
