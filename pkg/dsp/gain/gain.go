// Package gain holds the output-side amplitude blocks: the controlled
// gain stage and the hard safety clipper.
package gain

// Stage multiplies samples by the gain the controller last applied. It
// sits strictly after the spectral shaping filter so the filter state is
// never scaled.
type Stage struct {
	gain float64
}

func NewStage(initial float64) *Stage {
	return &Stage{gain: initial}
}

// Set updates the gain applied to subsequent blocks. The stage is only
// touched by the control loop, between blocks, so no locking.
func (s *Stage) Set(gain float64) {
	s.gain = gain
}

func (s *Stage) Gain() float64 {
	return s.gain
}

func (s *Stage) WorkBuffer(input, output []float32) int {
	g := float32(s.gain)
	for i := 0; i < len(input); i++ {
		output[i] = input[i] * g
	}
	return len(input)
}

func (s *Stage) PredictOutputSize(inputSize int) int {
	return inputSize
}

// Clip saturates samples to [-1, 1] as the last block before emission.
// With gain bounded well below 1 it normally never engages.
type Clip struct{}

func NewClip() *Clip {
	return &Clip{}
}

func (c *Clip) WorkBuffer(input, output []float32) int {
	for i, v := range input {
		if v > 1 {
			v = 1
		} else if v < -1 {
			v = -1
		}
		output[i] = v
	}
	return len(input)
}

func (c *Clip) PredictOutputSize(inputSize int) int {
	return inputSize
}
