package viz

import (
	"bytes"
	"sync"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/plotutil"
	"gonum.org/v1/plot/vg"
)

type PlotType int

const (
	PlotTypeDefault PlotType = iota
	PlotTypeScatter
	PlotTypeLines
)

// TimeDomainPlotter renders the most recent window of a sample stream or
// a scalar trace (gain, smoothed RMS) appended one value per iteration.
type TimeDomainPlotter struct {
	// mu guards buf: the control loop appends while the viz server
	// renders.
	mu          sync.Mutex
	buf         []float32
	size        int
	name        string
	yMin, yMax  float64
	plotFunc    func(*plot.Plot, ...interface{}) error
	plotOptions []PlotOptions
}

func NewTimeDomainPlotter(name string, size int) *TimeDomainPlotter {
	return &TimeDomainPlotter{
		buf:      make([]float32, 0, size),
		size:     size,
		name:     name,
		yMin:     -1,
		yMax:     1,
		plotFunc: plotutil.AddLines,
	}
}

func (t *TimeDomainPlotter) Name() string {
	return t.name
}

func (t *TimeDomainPlotter) SetPlotType(tp PlotType) {
	switch tp {
	case PlotTypeScatter:
		t.plotFunc = plotutil.AddScatters
	default:
		t.plotFunc = plotutil.AddLines
	}
}

// SetYRange overrides the default [-1, 1] axis, e.g. [0, 1] for a gain
// trace.
func (t *TimeDomainPlotter) SetYRange(min, max float64) {
	t.yMin, t.yMax = min, max
}

func (tp *TimeDomainPlotter) AppendFloat(f []float32) {
	tp.mu.Lock()
	defer tp.mu.Unlock()

	tp.buf = append(tp.buf, f...)

	if len(tp.buf) > tp.size {
		tp.buf = tp.buf[len(tp.buf)-tp.size:]
	}
}

// AppendValue records one scalar per control iteration.
func (tp *TimeDomainPlotter) AppendValue(v float64) {
	tp.AppendFloat([]float32{float32(v)})
}

func (tp *TimeDomainPlotter) AddPlotOption(opt PlotOptions) {
	tp.plotOptions = append(tp.plotOptions, opt)
}

func (tp *TimeDomainPlotter) GetImage() *ImageContainer {
	tp.mu.Lock()
	pts := make(plotter.XYs, len(tp.buf))
	for i := range tp.buf {
		pts[i] = plotter.XY{X: float64(i), Y: float64(tp.buf[i])}
	}
	tp.mu.Unlock()

	if len(pts) == 0 {
		return nil
	}

	p := plotWithDefaults()

	p.Title.Text = tp.name
	p.Y.Label.Text = "Amplitude"
	p.Y.Min = tp.yMin
	p.Y.Max = tp.yMax
	p.X.Label.Text = "t"

	for _, opt := range tp.plotOptions {
		opt(p)
	}

	tp.plotFunc(p, "f(t)", pts)

	var imageData bytes.Buffer
	w, err := p.WriterTo(8*vg.Inch, 6*vg.Inch, "png")
	if err != nil {
		panic(err)
	}
	w.WriteTo(&imageData)
	return &ImageContainer{name: tp.name, data: imageData.Bytes()}
}
