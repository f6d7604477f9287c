// Package noise generates the raw white excitation that feeds the
// spectral shaping stage.
package noise

import "math/rand"

// White is a uniform white noise source in [-1, 1). The *rand.Rand is
// injected so tests and playback runs can be made deterministic.
type White struct {
	rng *rand.Rand
}

func NewWhite(rng *rand.Rand) *White {
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}
	return &White{rng: rng}
}

// Fill overwrites buf with fresh white noise samples.
func (w *White) Fill(buf []float32) {
	for i := range buf {
		buf[i] = float32(w.rng.Float64()*2 - 1)
	}
}
