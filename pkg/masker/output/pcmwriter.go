// Package output implements the emission boundary: sinks that accept
// scaled noise blocks bound for the DAC path.
package output

import (
	"bytes"
	"context"
	"io"
	"time"

	"github.com/quietpanel/masker/pkg/pcm"
)

const recvBufferLength = 8

// PCMWriterOutput encodes blocks as s16le and writes them to an
// io.Writer (a pipe into aplay, a file, stdout). Writes are batched so a
// slow writer sees fewer, larger writes.
type PCMWriterOutput struct {
	dest       io.Writer
	recvChan   chan *pcm.Block
	flushAfter int
	flushEvery time.Duration
}

func NewPCMWriterOutput(dest io.Writer) *PCMWriterOutput {
	return &PCMWriterOutput{
		dest:       dest,
		recvChan:   make(chan *pcm.Block, recvBufferLength),
		flushAfter: 4,
		flushEvery: 100 * time.Millisecond,
	}
}

func (o *PCMWriterOutput) Receive() chan<- *pcm.Block {
	return o.recvChan
}

func (o *PCMWriterOutput) Start(ctx context.Context) error {
	var buf bytes.Buffer
	var enc []byte
	pending := 0

	tick := time.NewTicker(o.flushEvery)
	defer tick.Stop()

	flush := func() error {
		if pending == 0 {
			return nil
		}
		if _, err := buf.WriteTo(o.dest); err != nil {
			return err
		}
		buf.Reset()
		pending = 0
		return nil
	}

	for {
		select {
		case <-ctx.Done():
			if err := flush(); err != nil {
				return err
			}
			return ctx.Err()

		case <-tick.C:
			if err := flush(); err != nil {
				return err
			}

		case blk := <-o.recvChan:
			enc = pcm.EncodeS16LE(blk.Data, enc)
			buf.Write(enc)
			pending++
			if pending >= o.flushAfter {
				if err := flush(); err != nil {
					return err
				}
			}
		}
	}
}
