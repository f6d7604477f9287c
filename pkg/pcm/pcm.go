// Package pcm holds the sample block type passed between the capture,
// control, and emission stages, plus s16le conversion helpers.
package pcm

import "encoding/binary"

// Block is one fixed-length run of mono samples at a fixed rate. Samples
// are normalized float32 in [-1, 1]. A block is produced once per control
// iteration and discarded after it is consumed.
type Block struct {
	SampleRate int
	Seq        int
	Data       []float32
}

// Duration of the block in seconds.
func (b *Block) Seconds() float64 {
	if b.SampleRate == 0 {
		return 0
	}
	return float64(len(b.Data)) / float64(b.SampleRate)
}

const fullScale = 32768.0

// DecodeS16LE converts little-endian signed 16-bit PCM bytes into
// normalized float32 samples. Trailing odd bytes are ignored.
func DecodeS16LE(raw []byte, out []float32) []float32 {
	n := len(raw) / 2
	if cap(out) < n {
		out = make([]float32, n)
	}
	out = out[:n]
	for i := 0; i < n; i++ {
		s := int16(binary.LittleEndian.Uint16(raw[i*2:]))
		out[i] = float32(s) / fullScale
	}
	return out
}

// EncodeS16LE converts normalized float32 samples to little-endian signed
// 16-bit PCM. Values outside [-1, 1] are saturated.
func EncodeS16LE(samples []float32, out []byte) []byte {
	n := len(samples) * 2
	if cap(out) < n {
		out = make([]byte, n)
	}
	out = out[:n]
	for i, f := range samples {
		v := int32(f * (fullScale - 1))
		if v > 32767 {
			v = 32767
		} else if v < -32768 {
			v = -32768
		}
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(v)))
	}
	return out
}
