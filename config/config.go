// Package config loads the scanner configuration from a YAML file and fills
// in defaults for everything left out.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// IQ capture modes.
const (
	IQAuto = "auto" // use the capture branch when the facility is available
	IQOn   = "on"
	IQOff  = "off"
)

// Config is the complete scanner configuration.
type Config struct {
	Scan     ScanConfig     `yaml:"scan"`
	Detect   DetectConfig   `yaml:"detect"`
	Pipeline PipelineConfig `yaml:"pipeline"`
	Log      LogConfig      `yaml:"log"`
}

// ScanConfig describes the watched band and the sampling cadence. The knobs
// where zero is a meaningful value are pointers so an explicit zero in the
// file is kept apart from the field being absent.
type ScanConfig struct {
	CenterFreqHz      int64    `yaml:"center_freq_hz"`
	HalfWidthHz       int64    `yaml:"half_width_hz"`
	BinSizeHz         int64    `yaml:"bin_size_hz"`
	ThresholdDB       *float64 `yaml:"threshold_db"`
	HysteresisDB      *float64 `yaml:"hysteresis_db"`
	IntegrationMS     int      `yaml:"integration_ms"`
	SampleIntervalMS  int      `yaml:"sample_interval_ms"`
	MonitorIntervalMS int      `yaml:"monitor_interval_ms"`
	TimeoutMS         int      `yaml:"timeout_ms"`
}

// DetectConfig holds the dwell counts and the hot-frequency bias. Setting
// hot_bonus_db or hot_window_s to 0 disables the bias.
type DetectConfig struct {
	ActivateCount int      `yaml:"activate_count"`
	ReleaseCount  int      `yaml:"release_count"`
	HotWindowS    *int     `yaml:"hot_window_s"`
	HotBonusDB    *float64 `yaml:"hot_bonus_db"`
}

// PipelineConfig holds the decode chain settings.
type PipelineConfig struct {
	SaveDir    string `yaml:"save_dir"`
	SampleRate int    `yaml:"sample_rate"`
	GainDB     int    `yaml:"gain_db"`
	GraceMS    int    `yaml:"grace_ms"`
	// IQCapture is one of auto, on, off.
	IQCapture string `yaml:"iq_capture"`

	// Argv overrides for the external stages; empty uses the builtin
	// rtl_sdr / csdr / dsd-fme defaults.
	SourceCmd  []string   `yaml:"source_cmd"`
	DemodCmds  [][]string `yaml:"demod_cmds"`
	DecoderCmd []string   `yaml:"decoder_cmd"`
	CaptureCmd []string   `yaml:"capture_cmd"`
}

// LogConfig selects the call log backend.
type LogConfig struct {
	// Output is one of csv, sqlite, relay.
	Output     string `yaml:"output"`
	CSVPath    string `yaml:"csv_path"`
	SQLiteFile string `yaml:"sqlite_file"`
	Server     string `yaml:"server"`
}

// Load reads the YAML file at path and applies defaults. An empty path
// returns the pure defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}
	cfg.applyDefaults()
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Scan.CenterFreqHz == 0 {
		c.Scan.CenterFreqHz = 155825000 // 155.825 MHz
	}
	if c.Scan.HalfWidthHz == 0 {
		c.Scan.HalfWidthHz = 6250
	}
	if c.Scan.BinSizeHz == 0 {
		c.Scan.BinSizeHz = 12500
	}
	if c.Scan.ThresholdDB == nil {
		c.Scan.ThresholdDB = ptr(-50.0)
	}
	if c.Scan.HysteresisDB == nil {
		c.Scan.HysteresisDB = ptr(2.0)
	}
	if c.Scan.IntegrationMS == 0 {
		c.Scan.IntegrationMS = 120
	}
	if c.Scan.SampleIntervalMS == 0 {
		c.Scan.SampleIntervalMS = 200
	}
	if c.Scan.MonitorIntervalMS == 0 {
		c.Scan.MonitorIntervalMS = 1000
	}
	if c.Scan.TimeoutMS == 0 {
		c.Scan.TimeoutMS = 5000
	}

	if c.Detect.ActivateCount == 0 {
		c.Detect.ActivateCount = 2
	}
	if c.Detect.ReleaseCount == 0 {
		c.Detect.ReleaseCount = 3
	}
	if c.Detect.HotWindowS == nil {
		c.Detect.HotWindowS = ptr(30)
	}
	if c.Detect.HotBonusDB == nil {
		c.Detect.HotBonusDB = ptr(1.5)
	}

	if c.Pipeline.SaveDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			home = "."
		}
		c.Pipeline.SaveDir = filepath.Join(home, "dmr_audio")
	}
	if c.Pipeline.SampleRate == 0 {
		c.Pipeline.SampleRate = 2400000
	}
	if c.Pipeline.GainDB == 0 {
		c.Pipeline.GainDB = 40
	}
	if c.Pipeline.GraceMS == 0 {
		c.Pipeline.GraceMS = 2000
	}
	if c.Pipeline.IQCapture == "" {
		c.Pipeline.IQCapture = IQAuto
	}

	if c.Log.Output == "" {
		c.Log.Output = "csv"
	}
	if c.Log.CSVPath == "" {
		c.Log.CSVPath = filepath.Join(c.Pipeline.SaveDir, "dmr_log.csv")
	}
	if c.Log.SQLiteFile == "" {
		c.Log.SQLiteFile = filepath.Join(c.Pipeline.SaveDir, "dmr_log.sqlite")
	}
}

// Helpers converting the millisecond knobs to durations.

func (s ScanConfig) Integration() time.Duration {
	return time.Duration(s.IntegrationMS) * time.Millisecond
}

func (s ScanConfig) SampleInterval() time.Duration {
	return time.Duration(s.SampleIntervalMS) * time.Millisecond
}

func (s ScanConfig) MonitorInterval() time.Duration {
	return time.Duration(s.MonitorIntervalMS) * time.Millisecond
}

func (s ScanConfig) Timeout() time.Duration {
	return time.Duration(s.TimeoutMS) * time.Millisecond
}

func (p PipelineConfig) Grace() time.Duration {
	return time.Duration(p.GraceMS) * time.Millisecond
}

func (d DetectConfig) HotWindow() time.Duration {
	return time.Duration(*d.HotWindowS) * time.Second
}

func ptr[T any](v T) *T {
	return &v
}
