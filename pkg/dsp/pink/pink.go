// Package pink shapes white noise into pink-spectrum noise with an
// approximately -3 dB/octave roll-off (equal energy per octave), which
// masks speech more smoothly than flat-spectrum noise.
package pink

// Filter is a bank of cascaded one-pole lowpass sections (Paul Kellet's
// refined coefficient set) summed to approximate a 1/f power spectrum
// across the audio band.
//
// The filter is stateful: it must advance exactly once per generated
// sample and is never reset while output is live, since a state reset is
// audible as a click. Output gain is applied downstream, after this
// block, so the internal state always carries the unscaled spectrum.
type Filter struct {
	b0, b1, b2, b3, b4, b5, b6 float64
}

func NewFilter() *Filter {
	return &Filter{}
}

// outScale keeps the summed sections roughly within [-1, 1] for unit
// white input.
const outScale = 0.11

// Next advances the filter by one white sample and returns one pink
// sample.
func (f *Filter) Next(white float64) float64 {
	f.b0 = 0.99886*f.b0 + white*0.0555179
	f.b1 = 0.99332*f.b1 + white*0.0750759
	f.b2 = 0.96900*f.b2 + white*0.1538520
	f.b3 = 0.86650*f.b3 + white*0.3104856
	f.b4 = 0.55000*f.b4 + white*0.5329522
	f.b5 = -0.7616*f.b5 - white*0.0168980
	pink := f.b0 + f.b1 + f.b2 + f.b3 + f.b4 + f.b5 + f.b6 + white*0.5362
	f.b6 = white * 0.115926
	return pink * outScale
}

// WorkBuffer shapes one block of white input into pink output. Input and
// output lengths match.
func (f *Filter) WorkBuffer(input, output []float32) int {
	for i := 0; i < len(input); i++ {
		output[i] = float32(f.Next(float64(input[i])))
	}
	return len(input)
}

func (f *Filter) PredictOutputSize(inputSize int) int {
	return inputSize
}
