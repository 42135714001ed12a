// Package restore adds model sources into a FITS image cube, convolved
// with a restoring beam, and fits restoring beams to PSF images.
package restore

import (
	"math"
	"path/filepath"
	"sync"

	"github.com/charmbracelet/log"

	"github.com/abworrall/skymodel/pkg/coord"
	"github.com/abworrall/skymodel/pkg/emath"
	"github.com/abworrall/skymodel/pkg/errors"
	"github.com/abworrall/skymodel/pkg/fft"
	"github.com/abworrall/skymodel/pkg/fitsimage"
	"github.com/abworrall/skymodel/pkg/model"
)

// Beam is a restoring beam: sigma extents in radians, PA N through E.
type Beam struct {
	SigmaMaj, SigmaMin, PA float64
}

// BeamFromFWHM converts FWHM extents to a Beam.
func BeamFromFWHM(maj, min, pa float64) Beam {
	return Beam{maj / emath.FWHM, min / emath.FWHM, pa}
}

func (b Beam) IsZero() bool { return b.SigmaMaj == 0 && b.SigmaMin == 0 }

func (b Beam) covariance() cov2 { return ellipseCov(b.SigmaMaj, b.SigmaMin, b.PA) }

// Options control flux scaling.
type Options struct {
	Freq          float64                     // Hz; 0 uses each plane's FREQ value
	PrimaryBeam   func(r, fq float64) float64 // nil for none
	ApplyBeamGain bool                        // use the beamgain tag instead of PrimaryBeam
	ImageDir      string                      // relative FITSImage filenames resolve against this
	Workers       int                         // for FITS image components; 0 means 8
}

// cov2 is a symmetric 2x2 covariance [[a b] [b c]].
type cov2 struct{ a, b, c float64 }

// ellipseCov builds the covariance in the (west, north) frame. The major
// axis lies at PA+pi/2 counted from west through north.
func ellipseCov(smaj, smin, pa float64) cov2 {
	phi := pa + math.Pi/2
	cs, sn := math.Cos(phi), math.Sin(phi)
	M, m := smaj*smaj, smin*smin
	return cov2{M*cs*cs + m*sn*sn, (M - m) * sn * cs, M*sn*sn + m*cs*cs}
}

func (s cov2) add(o cov2) cov2 { return cov2{s.a + o.a, s.b + o.b, s.c + o.c} }
func (s cov2) det() float64    { return s.a*s.c - s.b*s.b }

// transform returns J S J^T for a row-major 2x2 J.
func (s cov2) transform(J [4]float64) cov2 {
	// rows of J*S
	r0 := [2]float64{J[0]*s.a + J[1]*s.b, J[0]*s.b + J[1]*s.c}
	r1 := [2]float64{J[2]*s.a + J[3]*s.b, J[2]*s.b + J[3]*s.c}
	return cov2{
		r0[0]*J[0] + r0[1]*J[1],
		r0[0]*J[2] + r0[1]*J[3],
		r1[0]*J[2] + r1[1]*J[3],
	}
}

// Axes returns the (major sigma, minor sigma, PA N through E) of s.
func (s cov2) Axes() (float64, float64, float64) {
	d := math.Hypot(s.a-s.c, 2*s.b)
	lp, lm := (s.a+s.c+d)/2, math.Max((s.a+s.c-d)/2, 0)
	phi := math.Atan2(2*s.b, s.a-s.c) / 2
	pa := math.Mod(phi-math.Pi/2+2*math.Pi, math.Pi)
	return math.Sqrt(lp), math.Sqrt(lm), pa
}

// Convolve returns the Gaussian resulting from convolving two elliptical
// Gaussians, all as (sigma maj, sigma min, PA).
func Convolve(g1, g2 Beam) Beam {
	maj, min, pa := g1.covariance().add(g2.covariance()).Axes()
	return Beam{maj, min, pa}
}

// jacobian is d(pixel)/d(west, north) at (ra, dec), per radian.
func jacobian(p *coord.FITSWCSpix, ra, dec float64) [4]float64 {
	delta := math.Abs(p.XScale())
	if delta == 0 {
		delta = 1e-6
	}
	cosd := math.Max(math.Cos(dec), 1e-9)
	x0, y0 := p.LM(ra, dec)
	xw, yw := p.LM(ra-delta/cosd, dec)
	xn, yn := p.LM(ra, dec+delta)
	return [4]float64{(xw - x0) / delta, (xn - x0) / delta, (yw - y0) / delta, (yn - y0) / delta}
}

// plane is one sky plane of the target cube.
type plane struct {
	extra  []int
	stokes string
	freq   float64
	grid   *emath.FloatGrid
}

func cubePlanes(cube *fitsimage.Cube, freq float64) []*plane {
	var out []*plane
	for _, extra := range cube.Planes() {
		p := &plane{extra: extra, stokes: "I", freq: freq}
		for k, ax := range cube.Extra {
			switch ax.Name {
			case "STOKES":
				p.stokes = ax.Labels[extra[k]]
			case "FREQ":
				if freq == 0 {
					p.freq = ax.Values[extra[k]]
				}
			}
		}
		p.grid = cube.Plane(extra)
		out = append(out, p)
	}
	return out
}

// fluxScale is the spectral and primary beam factor for src at freq.
func fluxScale(cube *fitsimage.Cube, src *model.Source, freq float64, opts Options) float64 {
	s := 1.0
	if src.Spectrum != nil && freq > 0 {
		s = src.Spectrum.NormalizedIntensity(freq)
	}
	if t, ok := src.Tag("nobeam"); ok && t.Truthy() {
		return s
	}
	switch {
	case opts.ApplyBeamGain:
		s *= src.FloatTag("beamgain", 1)
	case opts.PrimaryBeam != nil:
		r := src.FloatTag("r", math.NaN())
		if math.IsNaN(r) {
			ra0, dec0 := cube.Proj.Center()
			r, _ = coord.AngularDistPosAngle(ra0, dec0, src.Pos.RA, src.Pos.Dec)
		}
		s *= opts.PrimaryBeam(r, freq)
	}
	return s
}

// RestoreSources adds the sources into every plane of cube. Point and
// Gaussian sources are convolved with beam in closed form; FITS image
// components are resampled onto the cube and convolved by FFT.
func RestoreSources(cube *fitsimage.Cube, sources []*model.Source, beam Beam, opts Options) error {
	planes := cubePlanes(cube, opts.Freq)
	log.Infof("Restoring %d sources into %s (%d planes)", len(sources), cube.Filename, len(planes))

	var images []*model.Source
	for _, src := range sources {
		if _, ok := src.Shape.(*model.FITSImage); ok {
			images = append(images, src)
			continue
		}
		if src.Shape != nil {
			if _, ok := src.Shape.(*model.Gaussian); !ok {
				log.Warnf("%s: shape %s can't be restored, skipping", src.Name, src.Shape.TypeName())
				continue
			}
		}
		restoreComponent(cube, planes, src, beam, opts)
	}
	if len(images) > 0 {
		if err := restoreImages(cube, planes, images, beam, opts); err != nil {
			return err
		}
	}

	for _, p := range planes {
		cube.SetPlane(p.extra, p.grid)
	}
	cube.Invalidate()
	return nil
}

func restoreComponent(cube *fitsimage.Cube, planes []*plane, src *model.Source, beam Beam, opts Options) {
	if src.Flux == nil {
		return
	}
	x, y := cube.PixProj.LM(src.Pos.RA, src.Pos.Dec)
	if math.IsNaN(x) || math.IsNaN(y) {
		log.Warnf("%s: no pixel position, skipping", src.Name)
		return
	}

	amps := make([]float64, len(planes))
	for i, p := range planes {
		if v, ok := src.Flux.Stokes(p.stokes); ok {
			amps[i] = v * fluxScale(cube, src, p.freq, opts)
		}
	}

	if beam.IsZero() {
		ix, iy := int(math.Round(x)), int(math.Round(y))
		for i, p := range planes {
			if p.grid.In(ix, iy) {
				p.grid.Add(ix, iy, amps[i])
			}
		}
		return
	}

	sky := beam.covariance()
	norm := 1.0
	if src.Shape != nil {
		ex, ey, pa := src.Shape.Extents()
		conv := sky.add(ellipseCov(ex/emath.FWHM, ey/emath.FWHM, pa))
		norm = math.Sqrt(sky.det() / conv.det())
		sky = conv
	}

	pix := sky.transform(jacobian(cube.PixProj, src.Pos.RA, src.Pos.Dec))
	det := pix.det()
	if !(det > 0) {
		log.Warnf("%s: degenerate restoring beam, skipping", src.Name)
		return
	}
	ia, ib, ic := pix.c/det, -pix.b/det, pix.a/det
	hx, hy := 5*math.Sqrt(pix.a), 5*math.Sqrt(pix.c)
	x0, x1 := max(int(math.Floor(x-hx)), 0), min(int(math.Ceil(x+hx)), cube.Nx()-1)
	y0, y1 := max(int(math.Floor(y-hy)), 0), min(int(math.Ceil(y+hy)), cube.Ny()-1)

	for iy := y0; iy <= y1; iy++ {
		dy := float64(iy) - y
		for ix := x0; ix <= x1; ix++ {
			dx := float64(ix) - x
			g := norm * math.Exp(-0.5*(ia*dx*dx+2*ib*dx*dy+ic*dy*dy))
			for i, p := range planes {
				if amps[i] != 0 {
					p.grid.Add(ix, iy, amps[i]*g)
				}
			}
		}
	}
}

// BeamKernel samples beam on the pixel grid of p at (ra, dec), peak 1,
// out to 5 sigma. The kernel centre is pixel (w/2, h/2).
func BeamKernel(p *coord.FITSWCSpix, ra, dec float64, beam Beam) *emath.FloatGrid {
	pix := beam.covariance().transform(jacobian(p, ra, dec))
	det := pix.det()
	hw, hh := int(math.Ceil(5*math.Sqrt(pix.a))), int(math.Ceil(5*math.Sqrt(pix.c)))
	k := emath.NewFloatGrid(2*hw+1, 2*hh+1)
	if !(det > 0) {
		k.Set(hw, hh, 1)
		return &k
	}
	ia, ib, ic := pix.c/det, -pix.b/det, pix.a/det
	for y := -hh; y <= hh; y++ {
		for x := -hw; x <= hw; x++ {
			dx, dy := float64(x), float64(y)
			k.Set(x+hw, y+hh, math.Exp(-0.5*(ia*dx*dx+2*ib*dx*dy+ic*dy*dy)))
		}
	}
	return &k
}

// matchAxes maps a target plane's extra-axis indices onto the model
// image's. Axes match by name: equal sizes index in step, a size-1 image
// axis broadcasts, and target axes the image lacks are ignored.
func matchAxes(target, img *fitsimage.Cube) (func([]int) []int, error) {
	from := make([]int, len(img.Extra))
	for j, iax := range img.Extra {
		from[j] = -1
		for k, tax := range target.Extra {
			if tax.Name == iax.Name {
				from[j] = k
			}
		}
		switch {
		case iax.Size == 1:
			from[j] = -1
		case from[j] < 0:
			return nil, errors.New(errors.ErrCodeAxisMismatch, "%s: %s axis (%d planes) is not in the target image",
				img.Filename, iax.Name, iax.Size)
		case target.Extra[from[j]].Size != iax.Size:
			return nil, errors.New(errors.ErrCodeAxisMismatch, "%s: %s axis has %d planes, target has %d",
				img.Filename, iax.Name, iax.Size, target.Extra[from[j]].Size)
		}
	}
	return func(extra []int) []int {
		out := make([]int, len(from))
		for j, k := range from {
			if k >= 0 {
				out[j] = extra[k]
			}
		}
		return out
	}, nil
}

type imageJob struct {
	// Inputs
	Plane  int
	Src    *emath.FloatGrid
	Scale  float64
	Resamp *Resampler
	Kernel *emath.FloatGrid

	// Output
	Result *emath.FloatGrid
}

func restoreImages(cube *fitsimage.Cube, planes []*plane, images []*model.Source, beam Beam, opts Options) error {
	var kernel *emath.FloatGrid
	if !beam.IsZero() {
		ra0, dec0 := cube.Proj.Center()
		kernel = BeamKernel(cube.PixProj, ra0, dec0, beam)
	}

	for _, src := range images {
		shape := src.Shape.(*model.FITSImage)
		filename := shape.Filename
		if opts.ImageDir != "" && !filepath.IsAbs(filename) {
			filename = filepath.Join(opts.ImageDir, filename)
		}
		log.Infof("Loading model image %s", filename)
		img, err := fitsimage.Load(filename)
		if err != nil {
			return err
		}
		axmap, err := matchAxes(cube, img)
		if err != nil {
			return err
		}
		resamp := NewResampler(img.PixProj, img.Nx(), img.Ny(), cube.PixProj, cube.Nx(), cube.Ny())
		if resamp == nil {
			log.Warnf("%s: %s does not overlap the image, skipping", src.Name, filename)
			continue
		}

		jobs := make([]imageJob, len(planes))
		for i, p := range planes {
			jobs[i] = imageJob{
				Plane:  i,
				Src:    img.Plane(axmap(p.extra)),
				Scale:  fluxScale(cube, src, p.freq, opts) * resamp.PixelArea(),
				Resamp: resamp,
				Kernel: kernel,
			}
		}
		for _, job := range convolveConcurrently(jobs, cube.Nx(), cube.Ny(), opts.Workers) {
			out, dst := job.Result.Values(), planes[job.Plane].grid
			for pi, v := range out {
				if !math.IsNaN(v) && v != 0 {
					dst.Values()[pi] += v * job.Scale
				}
			}
		}
	}
	return nil
}

// convolveConcurrently resamples and convolves each plane with a pool of
// goroutines. Results come back in job order.
func convolveConcurrently(jobs []imageJob, nx, ny, nWorkers int) []imageJob {
	var wg sync.WaitGroup
	jobsChan := make(chan imageJob, len(jobs))
	resultsChan := make(chan imageJob, len(jobs))

	if nWorkers <= 0 {
		nWorkers = 8
	}
	for i := 0; i < nWorkers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for job := range jobsChan {
				job.Result = job.Resamp.Resample(job.Src, nx, ny)
				if job.Kernel != nil {
					job.Result = fft.Convolve(job.Result, job.Kernel)
				}
				resultsChan <- job
			}
		}()
	}

	for _, job := range jobs {
		jobsChan <- job
	}
	close(jobsChan)
	wg.Wait()
	close(resultsChan)

	out := make([]imageJob, len(jobs))
	for job := range resultsChan {
		out[job.Plane] = job
	}
	return out
}
