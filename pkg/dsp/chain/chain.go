// Package chain runs an ordered sequence of float sample-processing
// blocks over one buffer per control iteration, reusing output buffers
// and timing each block.
package chain

import (
	"fmt"
	"time"

	"github.com/quietpanel/masker/pkg/dsp/viz"
)

// Worker processes one block of float samples. WorkBuffer returns the
// number of output samples written; PredictOutputSize sizes the reusable
// output buffer.
type Worker interface {
	WorkBuffer(input, output []float32) int
	PredictOutputSize(inputSize int) int
}

type block struct {
	name       string
	worker     Worker
	outBuf     []float32
	timeDomain *viz.TimeDomainPlotter
}

// Chain is a named series of blocks. Blocks run strictly in order within
// the single control loop; nothing here is safe for concurrent use.
type Chain struct {
	name   string
	blocks []*block
}

func New(name string) *Chain {
	return &Chain{name: name}
}

// Add appends a block. If plotter is non-nil the block's output feeds it
// every iteration.
func (c *Chain) Add(name string, w Worker, plotter *viz.TimeDomainPlotter) {
	c.blocks = append(c.blocks, &block{
		name:       name,
		worker:     w,
		timeDomain: plotter,
	})
}

// Process runs the input through every block in order and returns the
// final output slice, which aliases an internal buffer valid until the
// next call. Per-block durations in microseconds are recorded into
// metrics under "<block>_duration" when metrics is non-nil.
func (c *Chain) Process(input []float32, metrics map[string]interface{}) ([]float32, error) {
	if len(c.blocks) == 0 {
		return nil, fmt.Errorf("chain %s: no blocks configured", c.name)
	}

	cur := input
	for _, b := range c.blocks {
		want := b.worker.PredictOutputSize(len(cur))
		if len(b.outBuf) < want {
			b.outBuf = make([]float32, want)
		}

		start := time.Now()
		n := b.worker.WorkBuffer(cur, b.outBuf[:want])
		if metrics != nil {
			metrics[fmt.Sprintf("%s_duration", b.name)] = time.Since(start).Microseconds()
		}
		if n < 0 || n > want {
			return nil, fmt.Errorf("chain %s: block %s wrote %d samples, predicted %d", c.name, b.name, n, want)
		}
		cur = b.outBuf[:n]

		if b.timeDomain != nil {
			b.timeDomain.AppendFloat(cur)
		}
	}
	return cur, nil
}
