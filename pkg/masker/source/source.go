// Package source defines the ambient capture boundary. A Source pushes
// one sample block per update interval into the control loop's channel;
// the loop blocks on that channel and never free-runs without fresh
// ambient data.
package source

import (
	"context"

	"github.com/quietpanel/masker/pkg/pcm"
)

type Source interface {
	Start(ctx context.Context, sampleRate, blockSize int, blocks chan<- *pcm.Block) error
	Stop() error
}
