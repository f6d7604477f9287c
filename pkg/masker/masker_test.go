package masker

import (
	"context"
	"math"
	"sync/atomic"
	"testing"
	"time"

	"github.com/quietpanel/masker/pkg/dsp/chain"
	"github.com/quietpanel/masker/pkg/dsp/gainctl"
	"github.com/quietpanel/masker/pkg/dsp/level"
	"github.com/quietpanel/masker/pkg/pcm"
)

type stubSource struct {
	sent uint64
}

func (s *stubSource) Start(ctx context.Context, sampleRate, blockSize int, blocks chan<- *pcm.Block) error {
	seq := 0
	for {
		seq++
		blk := &pcm.Block{SampleRate: sampleRate, Seq: seq, Data: constBlock(blockSize, 0.1)}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case blocks <- blk:
			atomic.AddUint64(&s.sent, 1)
		}
	}
}

func (s *stubSource) Stop() error { return nil }

type stubEmitter struct {
	ch chan *pcm.Block
}

func newStubEmitter() *stubEmitter {
	return &stubEmitter{ch: make(chan *pcm.Block, 1024)}
}

func (e *stubEmitter) Start(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func (e *stubEmitter) Receive() chan<- *pcm.Block { return e.ch }

func (e *stubEmitter) take(t *testing.T) *pcm.Block {
	t.Helper()
	select {
	case blk := <-e.ch:
		return blk
	default:
		t.Fatal("no emitted block")
		return nil
	}
}

func constBlock(n int, v float32) []float32 {
	d := make([]float32, n)
	for i := range d {
		d[i] = v
	}
	return d
}

func nanBlock(n int) []float32 {
	return constBlock(n, float32(math.NaN()))
}

func testOptions(em Emitter) Options {
	opts := Options{
		SampleRate: 16000,
		BlockSize:  256,
		Controller: gainctl.Config{
			Target:   0.0092,
			KP:       2.0,
			GainMin:  0.05,
			GainMax:  0.8,
			MaxStep:  0.02,
			Interval: 20 * time.Millisecond,
		},
		NoiseSeed: 7,
	}
	if em != nil {
		opts.Emitters = []Emitter{em}
	}
	return opts
}

func newTestMasker(t *testing.T, opts Options, mopts ...MaskerOption) *Masker {
	t.Helper()
	m, err := New(&stubSource{}, opts, mopts...)
	if err != nil {
		t.Fatal(err)
	}
	return m
}

func (m *Masker) run(blk *pcm.Block) {
	buf := make([]float32, m.opts.BlockSize)
	m.iterate(blk, buf)
}

func TestGainRisesWithLoudAmbient(t *testing.T) {
	em := newStubEmitter()
	m := newTestMasker(t, testOptions(em))

	loud := &pcm.Block{SampleRate: 16000, Seq: 1, Data: constBlock(256, 0.5)}
	prev := m.stage.Gain()
	if prev != 0.05 {
		t.Fatalf("startup gain = %v, want minimum 0.05", prev)
	}

	for i := 0; i < 100; i++ {
		loud.Seq = i + 1
		m.run(loud)
		g := m.stage.Gain()
		if g < prev-1e-12 {
			t.Fatalf("iteration %d: gain fell from %v to %v under loud ambient", i, prev, g)
		}
		if g < 0.05 || g > 0.8 {
			t.Fatalf("iteration %d: gain %v outside envelope", i, g)
		}
		if g-prev > 0.02+1e-12 {
			t.Fatalf("iteration %d: gain stepped %v, max 0.02", i, g-prev)
		}
		prev = g
	}
	if prev != 0.8 {
		t.Errorf("gain = %v after 100 loud blocks, want saturated 0.8", prev)
	}
}

func TestDropoutHoldsGain(t *testing.T) {
	em := newStubEmitter()
	m := newTestMasker(t, testOptions(em))

	for i := 0; i < 10; i++ {
		m.run(&pcm.Block{SampleRate: 16000, Seq: i + 1, Data: constBlock(256, 0.5)})
	}
	held := m.stage.Gain()

	m.run(&pcm.Block{SampleRate: 16000, Seq: 11, Data: nanBlock(256)})
	if got := m.stage.Gain(); got != held {
		t.Errorf("gain = %v after dropout, want held %v", got, held)
	}
	if m.controller.Faults() != 1 {
		t.Errorf("faults = %d, want 1", m.controller.Faults())
	}

	// The dropout iteration still emitted a masking block at the held
	// gain, and the next valid block resumes normal control.
	for i := 0; i < 11; i++ {
		em.take(t)
	}
	m.run(&pcm.Block{SampleRate: 16000, Seq: 12, Data: constBlock(256, 0.5)})
	if got := m.stage.Gain(); got < held || got > held+0.02+1e-12 {
		t.Errorf("post-dropout gain = %v, want rate-limited rise from %v", got, held)
	}
}

func TestSynthFailureEmitsSilence(t *testing.T) {
	em := newStubEmitter()
	m := newTestMasker(t, testOptions(em), WithSynthChain(chain.New("broken")))

	m.run(&pcm.Block{SampleRate: 16000, Seq: 1, Data: constBlock(256, 0.5)})

	blk := em.take(t)
	for i, v := range blk.Data {
		if v != 0 {
			t.Fatalf("sample %d = %v, want silence on synthesis failure", i, v)
		}
	}
}

func TestEmittedSamplesBounded(t *testing.T) {
	em := newStubEmitter()
	m := newTestMasker(t, testOptions(em))

	for i := 0; i < 200; i++ {
		m.run(&pcm.Block{SampleRate: 16000, Seq: i + 1, Data: constBlock(256, 0.5)})
	}
	seen := 0
	for {
		select {
		case blk := <-em.ch:
			seen++
			for i, v := range blk.Data {
				if v < -1 || v > 1 || v != v {
					t.Fatalf("block %d sample %d = %v, outside [-1, 1]", blk.Seq, i, v)
				}
			}
		default:
			if seen == 0 {
				t.Fatal("no blocks emitted")
			}
			return
		}
	}
}

func TestSPLGuardCapsGain(t *testing.T) {
	em := newStubEmitter()
	opts := testOptions(em)
	opts.SPLOffsetDB = 85
	opts.MaxSPL = 48
	m := newTestMasker(t, opts)

	for i := 0; i < 300; i++ {
		m.run(&pcm.Block{SampleRate: 16000, Seq: i + 1, Data: constBlock(256, 0.5)})
	}

	applied := m.stage.Gain()
	uncapped := m.controller.Gain()
	if applied >= uncapped {
		t.Fatalf("applied gain %v not capped below controller gain %v", applied, uncapped)
	}

	shapedRMS := m.pinkMeter.Value()
	if shapedRMS <= 0 {
		t.Fatal("pink meter never primed")
	}
	if got := level.SPL(applied*shapedRMS, opts.SPLOffsetDB); got > opts.MaxSPL+0.5 {
		t.Errorf("estimated SPL %v exceeds cap %v", got, opts.MaxSPL)
	}
}

func TestLivenessProbe(t *testing.T) {
	em := newStubEmitter()
	m := newTestMasker(t, testOptions(em))

	// No iterations yet: warming up, not stalled.
	if err := m.livenessErr(); err != nil {
		t.Errorf("livenessErr() before first iteration = %v, want nil", err)
	}

	m.run(&pcm.Block{SampleRate: 16000, Seq: 1, Data: constBlock(256, 0.1)})
	if err := m.livenessErr(); err != nil {
		t.Errorf("livenessErr() right after iteration = %v, want nil", err)
	}

	atomic.StoreInt64(&m.lastIterationNanos, time.Now().Add(-time.Minute).UnixNano())
	if err := m.livenessErr(); err == nil {
		t.Error("livenessErr() with stale iteration = nil, want stall error")
	}
}

func TestStartStop(t *testing.T) {
	em := newStubEmitter()
	src := &stubSource{}
	m, err := New(src, testOptions(em))
	if err != nil {
		t.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- m.Start(ctx)
	}()

	deadline := time.After(5 * time.Second)
	for atomic.LoadUint64(&m.iterations) < 10 {
		select {
		case <-deadline:
			t.Fatal("loop never iterated")
		case <-time.After(time.Millisecond):
		}
	}

	cancel()
	select {
	case err := <-done:
		if err != context.Canceled {
			t.Errorf("Start() = %v, want context.Canceled", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Start() did not return after cancel")
	}
}
