// Package window provides cosine analysis windows for spectral
// estimation.
package window

import "math"

func cosWindow(ntaps int, c0, c1, c2 float64) []float64 {
	ret := make([]float64, ntaps)
	M := float64(ntaps - 1)

	for i := 0; i < ntaps; i++ {
		fi := float64(i)
		ret[i] = c0 - c1*math.Cos((2*math.Pi*fi)/M) +
			c2*math.Cos((4*math.Pi*fi)/M)
	}
	return ret
}

func Blackman(ntaps int) []float64 {
	return cosWindow(ntaps, 0.42, 0.5, 0.08)
}

func Hamming(ntaps int) []float64 {
	return cosWindow(ntaps, 0.54, 0.46, 0)
}

func Hann(ntaps int) []float64 {
	return cosWindow(ntaps, 0.5, 0.5, 0)
}
