// Package masker wires the sensing-to-actuation loop together: ambient
// capture, loudness estimation, gain control, noise synthesis, and
// emission, at a fixed cadence.
package masker

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync/atomic"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go"
	"github.com/influxdata/influxdb-client-go/api"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/quietpanel/masker/pkg/dsp/chain"
	"github.com/quietpanel/masker/pkg/dsp/gain"
	"github.com/quietpanel/masker/pkg/dsp/gainctl"
	"github.com/quietpanel/masker/pkg/dsp/level"
	"github.com/quietpanel/masker/pkg/dsp/noise"
	"github.com/quietpanel/masker/pkg/dsp/pink"
	"github.com/quietpanel/masker/pkg/dsp/viz"
	"github.com/quietpanel/masker/pkg/masker/source"
	"github.com/quietpanel/masker/pkg/pcm"
	"github.com/quietpanel/masker/pkg/util"
)

// Emitter accepts scaled noise blocks bound for the actuation path.
type Emitter interface {
	// Start runs until ctx closes or the sink fails.
	Start(ctx context.Context) error
	// Receive returns the channel blocks are pushed into.
	Receive() chan<- *pcm.Block
}

type Options struct {
	SampleRate int
	BlockSize  int
	Controller gainctl.Config

	// SPL guard: when MaxSPL > 0, the applied gain is capped so the
	// estimated emitted level stays at or below it. SPLOffsetDB maps
	// full-scale output to dB SPL at the panel.
	SPLOffsetDB float64
	MaxSPL      float64

	Emitters []Emitter

	// NoiseSeed fixes the white excitation for reproducible runs. Zero
	// seeds from the clock.
	NoiseSeed int64
}

type MaskerOption func(m *Masker) error

func WithInfluxDB(writeAPI api.WriteAPI) MaskerOption {
	return func(m *Masker) error {
		m.writeAPI = writeAPI
		return nil
	}
}

func WithVizServer(server *viz.Server) MaskerOption {
	return func(m *Masker) error {
		m.vizServer = server
		return nil
	}
}

func WithLogger(logger zerolog.Logger) MaskerOption {
	return func(m *Masker) error {
		m.logger = logger
		return nil
	}
}

// WithSynthChain replaces the default pink -> gain -> clip synthesis
// chain. The chain must contain the masker's gain stage for the
// controller output to take effect.
func WithSynthChain(c *chain.Chain) MaskerOption {
	return func(m *Masker) error {
		m.synth = c
		return nil
	}
}

// Masker owns the single control loop. Controller state and filter state
// are each mutated only from that loop; the watchdog and health probe
// read one atomic timestamp.
type Masker struct {
	opts       Options
	source     source.Source
	controller *gainctl.Controller
	white      *noise.White
	synth      *chain.Chain
	stage      *gain.Stage
	ambientIn  chan *pcm.Block

	meter     *level.Meter
	pinkMeter *level.Meter

	writeAPI  api.WriteAPI
	vizServer *viz.Server
	logger    zerolog.Logger

	ambientFFT *viz.FFTPlotter
	outputFFT  *viz.FFTPlotter
	gainTrace  *viz.TimeDomainPlotter
	rmsTrace   *viz.TimeDomainPlotter

	lastIterationNanos int64
	iterations         uint64
	splCapped          bool

	ctx    context.Context
	cancel context.CancelFunc
}

func New(src source.Source, opts Options, maskerOpts ...MaskerOption) (*Masker, error) {
	if opts.SampleRate <= 0 || opts.BlockSize <= 0 {
		return nil, fmt.Errorf("must specify sample rate and block size")
	}
	if opts.MaxSPL < 0 {
		return nil, fmt.Errorf("max SPL must not be negative, got %v", opts.MaxSPL)
	}

	controller, err := gainctl.New(opts.Controller)
	if err != nil {
		return nil, err
	}

	seed := opts.NoiseSeed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	m := &Masker{
		opts:       opts,
		source:     src,
		controller: controller,
		white:      noise.NewWhite(rand.New(rand.NewSource(seed))),
		stage:      gain.NewStage(controller.Gain()),
		ambientIn:  make(chan *pcm.Block, 1),
		meter:      level.NewMeter(0.1),
		pinkMeter:  level.NewMeter(0.05),
		writeAPI:   &util.MockWriteAPI{}, // overwritten with option
		logger:     log.Logger,
	}

	for _, opt := range maskerOpts {
		if err := opt(m); err != nil {
			return nil, err
		}
	}

	if m.synth == nil {
		c := chain.New("synth")
		c.Add("pink_filter", pink.NewFilter(), nil)
		c.Add("gain_stage", m.stage, nil)
		c.Add("safety_clip", gain.NewClip(), nil)
		m.synth = c
	}

	if m.vizServer != nil {
		m.ambientFFT = viz.NewFFTPlotter("01. Ambient Spectrum", 1024, opts.SampleRate)
		m.outputFFT = viz.NewFFTPlotter("02. Masking Output Spectrum", 1024, opts.SampleRate)
		m.gainTrace = viz.NewTimeDomainPlotter("03. Applied Gain", 512)
		m.gainTrace.SetYRange(0, 1)
		m.rmsTrace = viz.NewTimeDomainPlotter("04. Ambient RMS (smoothed)", 512)
		m.rmsTrace.SetYRange(0, 0.2)

		m.vizServer.Register("masking", m.ambientFFT)
		m.vizServer.Register("masking", m.outputFFT)
		m.vizServer.Register("masking", m.gainTrace)
		m.vizServer.Register("masking", m.rmsTrace)
		m.vizServer.SetLivenessProbe(m.livenessErr)
	}

	return m, nil
}

func (m *Masker) Stop() error {
	if m.cancel != nil {
		m.cancel()
	}
	if m.vizServer != nil {
		m.vizServer.Stop(context.TODO())
	}
	return m.source.Stop()
}

func (m *Masker) Start(ctx context.Context) error {
	eg, ctx := errgroup.WithContext(ctx)
	m.ctx, m.cancel = context.WithCancel(ctx)

	eg.Go(func() error {
		return m.source.Start(m.ctx, m.opts.SampleRate, m.opts.BlockSize, m.ambientIn)
	})

	if m.vizServer != nil {
		eg.Go(func() error {
			return m.vizServer.Run(m.ctx)
		})
	}

	for _, emitter := range m.opts.Emitters {
		thisEmitter := emitter
		eg.Go(func() error {
			return thisEmitter.Start(m.ctx)
		})
	}

	eg.Go(m.runControlLoop)
	eg.Go(m.watchdog)

	m.logger.Info().
		Int("sample_rate", m.opts.SampleRate).
		Int("block_size", m.opts.BlockSize).
		Float64("target_rms", m.opts.Controller.Target).
		Float64("gain_min", m.opts.Controller.GainMin).
		Float64("gain_max", m.opts.Controller.GainMax).
		Msg("starting masking loop")

	return eg.Wait()
}

// runControlLoop is the single thread of control: it blocks on the next
// ambient block, then senses, decides, and actuates within the
// iteration. It only returns on shutdown.
func (m *Masker) runControlLoop() error {
	whiteBuf := make([]float32, m.opts.BlockSize)

	for {
		select {
		case <-m.ctx.Done():
			return m.ctx.Err()
		case blk := <-m.ambientIn:
			m.iterate(blk, whiteBuf)
		}
	}
}

func (m *Masker) iterate(blk *pcm.Block, whiteBuf []float32) {
	metrics := map[string]interface{}{}

	var rms float64
	metrics["rms_duration"] = util.TimeOperationMicroseconds(func() {
		rms = level.BlockRMS(blk.Data)
	})

	applied, err := m.controller.Update(rms)
	faulted := errors.Is(err, gainctl.ErrInvalidEstimate)
	if faulted {
		// Sensing fault: hold the last valid gain and keep masking.
		m.logger.Warn().
			Int("block", blk.Seq).
			Float64("held_gain", applied).
			Msg("invalid loudness estimate, holding gain")
		m.writeAPI.WritePoint(influxdb2.NewPoint("masking.fault",
			map[string]string{"kind": "sensing"},
			map[string]interface{}{"held_gain": applied},
			time.Now()))
	}

	applied = m.capToSPL(applied)
	m.stage.Set(applied)

	m.white.Fill(whiteBuf)
	out, synthErr := m.synth.Process(whiteBuf, metrics)
	if synthErr != nil {
		// Fail-safe degrade: this iteration emits silence instead of
		// crashing the loop. Controller and filter state are untouched.
		m.logger.Error().Err(synthErr).Int("block", blk.Seq).
			Msg("synthesis failed, emitting silence for this iteration")
		m.writeAPI.WritePoint(influxdb2.NewPoint("masking.fault",
			map[string]string{"kind": "synthesis"},
			map[string]interface{}{"gain_min": m.opts.Controller.GainMin},
			time.Now()))
		for i := range whiteBuf {
			whiteBuf[i] = 0
		}
		out = whiteBuf
	} else {
		// Track the pre-gain shaped level for the SPL guard. The gain
		// stage is linear, so dividing it back out is exact.
		if applied > 0 {
			m.pinkMeter.Update(level.BlockRMS(out) / applied)
		}
	}

	// The chain reuses its buffers between iterations; emitters consume
	// asynchronously, so they get their own copy.
	outData := make([]float32, len(out))
	copy(outData, out)
	outBlk := &pcm.Block{
		SampleRate: m.opts.SampleRate,
		Seq:        blk.Seq,
		Data:       outData,
	}

	skipped := 0
	for _, emitter := range m.opts.Emitters {
		select {
		case emitter.Receive() <- outBlk:
			// We will not wait on blocked sinks.
		default:
			skipped++
		}
	}

	smoothed := m.meter.Update(rms)
	if m.vizServer != nil {
		m.ambientFFT.AppendFloat(blk.Data)
		m.outputFFT.AppendFloat(out)
		m.gainTrace.AppendValue(applied)
		m.rmsTrace.AppendValue(smoothed)
	}

	metrics["rms"] = rms
	metrics["rms_smoothed"] = smoothed
	metrics["gain"] = m.controller.Gain()
	metrics["applied_gain"] = applied
	metrics["sensing_faults"] = int64(m.controller.Faults())
	metrics["skipped_outputs"] = skipped
	m.writeAPI.WritePoint(influxdb2.NewPoint("masking.loop",
		map[string]string{"faulted": fmt.Sprintf("%t", faulted)},
		metrics, time.Now()))

	atomic.AddUint64(&m.iterations, 1)
	atomic.StoreInt64(&m.lastIterationNanos, time.Now().UnixNano())
}

// capToSPL lowers the applied gain when the estimated emitted level
// would exceed the configured cap. The controller's own state keeps the
// uncapped gain so recovery is immediate once the cap lifts.
func (m *Masker) capToSPL(gain float64) float64 {
	if m.opts.MaxSPL <= 0 {
		return gain
	}
	shapedRMS := m.pinkMeter.Value()
	if shapedRMS <= 0 {
		return gain
	}

	estimated := level.SPL(gain*shapedRMS, m.opts.SPLOffsetDB)
	if estimated <= m.opts.MaxSPL {
		if m.splCapped {
			m.splCapped = false
			m.logger.Info().Float64("gain", gain).Msg("output level cap released")
		}
		return gain
	}

	ceiling := math.Pow(10, (m.opts.MaxSPL-m.opts.SPLOffsetDB)/20) / shapedRMS
	if ceiling < m.opts.Controller.GainMin {
		ceiling = m.opts.Controller.GainMin
	}
	if !m.splCapped {
		m.splCapped = true
		m.logger.Warn().
			Float64("estimated_spl", estimated).
			Float64("max_spl", m.opts.MaxSPL).
			Float64("gain", gain).
			Float64("capped_gain", ceiling).
			Msg("output level cap engaged")
	}
	return ceiling
}

const watchdogFactor = 5

// watchdog flags a stalled loop. A capture stall shows up as the loop
// never receiving another block; it is reported, not repaired, so an
// external supervisor can act on it.
func (m *Masker) watchdog() error {
	interval := m.opts.Controller.Interval * watchdogFactor
	tick := time.NewTicker(interval)
	defer tick.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return m.ctx.Err()
		case <-tick.C:
			if err := m.livenessErr(); err != nil {
				m.logger.Warn().Err(err).Msg("control loop stalled")
				m.writeAPI.WritePoint(influxdb2.NewPoint("masking.stall",
					map[string]string{},
					map[string]interface{}{
						"iterations": int64(atomic.LoadUint64(&m.iterations)),
					}, time.Now()))
			}
		}
	}
}

func (m *Masker) livenessErr() error {
	last := atomic.LoadInt64(&m.lastIterationNanos)
	if last == 0 {
		if atomic.LoadUint64(&m.iterations) == 0 {
			// Still warming up.
			return nil
		}
		return errors.New("no iteration timestamp recorded")
	}
	age := time.Since(time.Unix(0, last))
	if age > m.opts.Controller.Interval*watchdogFactor {
		return fmt.Errorf("last iteration %s ago", age)
	}
	return nil
}
