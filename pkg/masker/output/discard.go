package output

import (
	"context"

	"github.com/quietpanel/masker/pkg/pcm"
)

// DiscardOutput drains blocks without emitting anything. Used for
// headless soak runs where only the telemetry matters.
type DiscardOutput struct {
	recvChan chan *pcm.Block
}

func NewDiscardOutput() *DiscardOutput {
	return &DiscardOutput{
		recvChan: make(chan *pcm.Block, recvBufferLength),
	}
}

func (o *DiscardOutput) Receive() chan<- *pcm.Block {
	return o.recvChan
}

func (o *DiscardOutput) Start(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-o.recvChan:
		}
	}
}
