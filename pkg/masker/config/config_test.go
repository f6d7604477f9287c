package config

import (
	"testing"
	"time"

	"gopkg.in/yaml.v2"
)

const sampleYAML = `
sample_rate: 16000
block_size: 512
target_rms: 0.0092
kp: 0.0006
gain_min: 0.05
gain_max: 0.8
gain_step_max: 0.02
update_interval: 20000000
source: file
playback_location: ambient.raw
output: stdout
viz_server:
  port: 8089
  update_interval: 1000000000
influxdb:
  host: http://localhost:9999
  organization: quietpanel
  bucket: masker
`

func TestUnmarshal(t *testing.T) {
	var c Config
	if err := yaml.Unmarshal([]byte(sampleYAML), &c); err != nil {
		t.Fatal(err)
	}

	if c.SampleRate != 16000 {
		t.Errorf("SampleRate = %d, want 16000", c.SampleRate)
	}
	if c.UpdateInterval != 20*time.Millisecond {
		t.Errorf("UpdateInterval = %s, want 20ms", c.UpdateInterval)
	}
	if c.GainMax != 0.8 {
		t.Errorf("GainMax = %v, want 0.8", c.GainMax)
	}
	if c.InfluxDB.Bucket != "masker" {
		t.Errorf("InfluxDB.Bucket = %q, want masker", c.InfluxDB.Bucket)
	}
	if err := c.Validate(); err != nil {
		t.Errorf("Validate() = %v, want nil", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		ok     bool
	}{
		{"defaults", func(c *Config) {}, true},
		{"zero sample rate", func(c *Config) { c.SampleRate = 0 }, false},
		{"zero block size", func(c *Config) { c.BlockSize = 0 }, false},
		{"zero interval", func(c *Config) { c.UpdateInterval = 0 }, false},
		{"inverted gain envelope", func(c *Config) { c.GainMin, c.GainMax = 0.8, 0.05 }, false},
		{"negative spl cap", func(c *Config) { c.MaxSPL = -1 }, false},
		{"file source without path", func(c *Config) { c.Source = "file" }, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := Default()
			tt.mutate(&c)
			err := c.Validate()
			if (err == nil) != tt.ok {
				t.Errorf("Validate() = %v, want ok=%v", err, tt.ok)
			}
		})
	}
}

func TestBlockDuration(t *testing.T) {
	c := Default()
	if got := c.BlockDuration(); got != 32*time.Millisecond {
		t.Errorf("BlockDuration() = %s, want 32ms", got)
	}
}
