// Package config defines the startup configuration for the masking
// panel. It is read once in main and never re-read while the loop runs.
package config

import (
	"fmt"
	"time"
)

type Config struct {
	// Audio format shared by capture and emission.
	SampleRate int `yaml:"sample_rate"`
	BlockSize  int `yaml:"block_size"`

	// Control loop parameters.
	TargetRMS      float64       `yaml:"target_rms"`
	KP             float64       `yaml:"kp"`
	KI             float64       `yaml:"ki"`
	GainMin        float64       `yaml:"gain_min"`
	GainMax        float64       `yaml:"gain_max"`
	GainStepMax    float64       `yaml:"gain_step_max"`
	UpdateInterval time.Duration `yaml:"update_interval"`

	// Output level guard. MaxSPL 0 disables the guard.
	SPLOffsetDB float64 `yaml:"spl_offset_db"`
	MaxSPL      float64 `yaml:"max_spl_db"`

	// Ambient capture source: "file" or "sim".
	Source           string  `yaml:"source"`
	PlaybackLocation string  `yaml:"playback_location"`
	SimAmbientRMS    float64 `yaml:"sim_ambient_rms"`

	// Emission sink: "stdout" or "discard".
	Output string `yaml:"output"`

	VizServer struct {
		Port           int           `yaml:"port"`
		UpdateInterval time.Duration `yaml:"update_interval"`
	} `yaml:"viz_server"`

	InfluxDB struct {
		Host         string `yaml:"host"`
		Organization string `yaml:"organization"`
		Bucket       string `yaml:"bucket"`
	} `yaml:"influxdb"`
}

// Default matches the reference panel hardware: 16 kHz mono, 512-sample
// blocks, 20 ms updates, gain safety envelope [0.05, 0.8].
func Default() Config {
	var c Config
	c.SampleRate = 16000
	c.BlockSize = 512
	c.TargetRMS = 0.0092 // ~300 counts in the int16 domain
	c.KP = 20            // ~0.0006 per int16 count, rescaled to [-1, 1]
	c.GainMin = 0.05
	c.GainMax = 0.8
	c.GainStepMax = 0.02
	c.UpdateInterval = 20 * time.Millisecond
	c.SPLOffsetDB = 85
	c.Source = "sim"
	c.SimAmbientRMS = 0.02
	c.Output = "discard"
	c.VizServer.Port = 8089
	c.VizServer.UpdateInterval = time.Second
	return c
}

// Validate rejects configurations that cannot run safely. Controller
// parameters get a second, stricter pass inside gainctl.
func (c Config) Validate() error {
	switch {
	case c.SampleRate <= 0:
		return fmt.Errorf("config: sample_rate must be positive, got %d", c.SampleRate)
	case c.BlockSize <= 0:
		return fmt.Errorf("config: block_size must be positive, got %d", c.BlockSize)
	case c.UpdateInterval <= 0:
		return fmt.Errorf("config: update_interval must be positive, got %s", c.UpdateInterval)
	case c.GainMin > c.GainMax:
		return fmt.Errorf("config: gain_min %v exceeds gain_max %v", c.GainMin, c.GainMax)
	case c.MaxSPL < 0:
		return fmt.Errorf("config: max_spl_db must not be negative, got %v", c.MaxSPL)
	case c.Source == "file" && c.PlaybackLocation == "":
		return fmt.Errorf("config: file source requires playback_location")
	}
	return nil
}

// BlockDuration is the wall time one block spans, which paces the loop.
func (c Config) BlockDuration() time.Duration {
	return time.Duration(float64(c.BlockSize) / float64(c.SampleRate) * float64(time.Second))
}
