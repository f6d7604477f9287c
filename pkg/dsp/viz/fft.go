package viz

import (
	"bytes"
	"math"
	"sync"

	"gonum.org/v1/gonum/dsp/fourier"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"

	"github.com/quietpanel/masker/pkg/dsp/window"
)

// smoothing factor for the running average of per-bin magnitudes
const fftAvg = 0.10

// FFTPlotter renders the power spectrum of the most recent window of a
// float sample stream.
type FFTPlotter struct {
	// mu guards buf and averagePower: the control loop appends while
	// the viz server renders.
	mu           sync.Mutex
	buf          []float32
	sampleRate   int
	len          int
	averagePower []float64
	win          []float64
	name         string
	plotOptions  []PlotOptions
}

func NewFFTPlotter(name string, length, sampleRate int) *FFTPlotter {
	return &FFTPlotter{
		buf:          make([]float32, length),
		averagePower: make([]float64, length/2+1),
		win:          window.Blackman(length),
		len:          length,
		sampleRate:   sampleRate,
		name:         name,
	}
}

func (p *FFTPlotter) Name() string {
	return p.name
}

func (p *FFTPlotter) AppendFloat(s []float32) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if len(s) > p.len {
		copy(p.buf, s[len(s)-p.len:])
	} else {
		p.buf = append(p.buf, s...)
		p.buf = p.buf[len(s):]
	}
}

func (p *FFTPlotter) AddPlotOption(opt PlotOptions) {
	p.plotOptions = append(p.plotOptions, opt)
}

func (pb *FFTPlotter) GetImage() *ImageContainer {

	p := plotWithDefaults()
	p.Title.Text = pb.name
	p.Y.Label.Text = "Power (dB)"
	p.X.Label.Text = "Frequency (Hz)"
	p.Y.Max = 0
	p.Y.Min = -120

	for _, opt := range pb.plotOptions {
		opt(p)
	}

	f := fourier.NewFFT(pb.len)
	data := make([]float64, pb.len)

	pb.mu.Lock()
	for i, v := range pb.buf {
		data[i] = float64(v) * pb.win[i] / (0.42 * float64(pb.len))
	}
	coeffs := f.Coefficients(nil, data)

	pts := make(plotter.XYs, len(coeffs))
	for i := range coeffs {
		freq := f.Freq(i) * float64(pb.sampleRate)
		mag := math.Hypot(real(coeffs[i]), imag(coeffs[i]))
		pb.averagePower[i] = (1.0-fftAvg)*pb.averagePower[i] + fftAvg*mag

		y := -120.0
		if pb.averagePower[i] > 0 {
			y = 20 * math.Log10(pb.averagePower[i])
		}
		pts[i] = plotter.XY{X: freq, Y: y}
	}
	pb.mu.Unlock()

	plotutil.AddLines(p, "power", pts)

	var imageData bytes.Buffer
	w, err := p.WriterTo(8*vg.Inch, 6*vg.Inch, "png")
	if err != nil {
		panic(err)
	}
	w.WriteTo(&imageData)
	return &ImageContainer{name: pb.name, data: imageData.Bytes()}
}
