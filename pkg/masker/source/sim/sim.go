// Package sim synthesizes an ambient input for bench runs and soak
// tests: white noise at a configurable RMS with optional stepped level
// changes and sensor dropouts.
package sim

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/quietpanel/masker/pkg/pcm"
)

// Step changes the simulated ambient RMS after a number of blocks have
// been produced.
type Step struct {
	AfterBlocks int
	RMS         float64
}

type SimSource struct {
	rng         *rand.Rand
	timeBetween time.Duration
	rms         float64
	steps       []Step
	// One dropout block (all-NaN, a dead sensor read) is injected per
	// DropoutEvery blocks when positive.
	dropoutEvery int
}

type Option func(*SimSource)

func WithSteps(steps []Step) Option {
	return func(s *SimSource) {
		s.steps = steps
	}
}

func WithDropoutEvery(blocks int) Option {
	return func(s *SimSource) {
		s.dropoutEvery = blocks
	}
}

func WithRand(rng *rand.Rand) Option {
	return func(s *SimSource) {
		s.rng = rng
	}
}

func NewSimSource(ambientRMS float64, timeBetween time.Duration, opts ...Option) *SimSource {
	ret := &SimSource{
		rng:         rand.New(rand.NewSource(time.Now().UnixNano())),
		timeBetween: timeBetween,
		rms:         ambientRMS,
	}
	for _, opt := range opts {
		opt(ret)
	}
	return ret
}

func (s *SimSource) Start(ctx context.Context, sampleRate, blockSize int, blocks chan<- *pcm.Block) error {
	tick := time.NewTicker(s.timeBetween)
	defer tick.Stop()

	seq := 0
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-tick.C:
			seq++
			for len(s.steps) > 0 && seq > s.steps[0].AfterBlocks {
				s.rms = s.steps[0].RMS
				s.steps = s.steps[1:]
			}

			blk := &pcm.Block{
				SampleRate: sampleRate,
				Seq:        seq,
				Data:       s.fill(make([]float32, blockSize), seq),
			}

			select {
			case <-ctx.Done():
				return ctx.Err()
			case blocks <- blk:
			}
		}
	}
}

func (s *SimSource) fill(buf []float32, seq int) []float32 {
	if s.dropoutEvery > 0 && seq%s.dropoutEvery == 0 {
		nan := float32(math.NaN())
		for i := range buf {
			buf[i] = nan
		}
		return buf
	}

	// Uniform white noise has RMS amplitude/sqrt(3); scale so the block
	// RMS lands on the configured ambient level.
	amp := float32(s.rms * math.Sqrt(3))
	for i := range buf {
		buf[i] = amp * float32(s.rng.Float64()*2-1)
	}
	return buf
}

func (s *SimSource) Stop() error {
	return nil
}
