// Package level computes loudness estimates from sample blocks.
package level

import "math"

// BlockRMS returns the root-mean-square magnitude of one block. The sum
// of squares accumulates in float64 so long blocks of full-scale input
// do not lose precision. An empty or silent block returns 0.
func BlockRMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		v := float64(s)
		sum += v * v
	}
	return math.Sqrt(sum / float64(len(samples)))
}

// Meter is an exponentially smoothed RMS tracker used for telemetry and
// plotting. The control loop itself consumes raw block RMS; the meter
// only smooths what the operator sees.
type Meter struct {
	alpha   float64
	beta    float64
	average float64
	primed  bool
}

func NewMeter(alpha float64) *Meter {
	return &Meter{
		alpha: alpha,
		beta:  1 - alpha,
	}
}

// Update folds one block RMS into the running average and returns the
// smoothed value. Invalid estimates are ignored and the previous value
// is returned.
func (m *Meter) Update(rms float64) float64 {
	if math.IsNaN(rms) || math.IsInf(rms, 0) || rms < 0 {
		return m.average
	}
	if !m.primed {
		m.average = rms
		m.primed = true
		return m.average
	}
	m.average = m.beta*m.average + m.alpha*rms
	return m.average
}

func (m *Meter) Value() float64 {
	return m.average
}

// DBFS converts an RMS magnitude in the normalized [-1, 1] domain to
// decibels relative to full scale. Zero input maps to -inf.
func DBFS(rms float64) float64 {
	return 20 * math.Log10(rms)
}

// SPL estimates the emitted sound pressure level from a normalized RMS
// magnitude and a per-installation calibration offset in dB. The offset
// maps full-scale output to the level measured at the panel.
func SPL(rms, calibrationOffset float64) float64 {
	return DBFS(rms) + calibrationOffset
}
