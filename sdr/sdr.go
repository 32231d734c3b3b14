package sdr

import (
	"context"
	"time"
)

// Target describes the fixed frequency a scan session watches.
// It is immutable for the lifetime of the session.
type Target struct {
	// CenterFreqHz is the frequency to watch in Hz.
	CenterFreqHz int64
	// HalfWidthHz is the half width of the band measured around the center in Hz.
	HalfWidthHz int64
	// ThresholdDB is the RSSI level in dBFS above which a transmission is assumed.
	ThresholdDB float64
	// HysteresisDB is subtracted from ThresholdDB to form the release level,
	// avoiding chatter when the signal hovers near the threshold.
	HysteresisDB float64
}

// LowFreqHz is the lower edge of the measured band in Hz.
func (t Target) LowFreqHz() int64 {
	return t.CenterFreqHz - t.HalfWidthHz
}

// HighFreqHz is the upper edge of the measured band in Hz.
func (t Target) HighFreqHz() int64 {
	return t.CenterFreqHz + t.HalfWidthHz
}

// ReleaseDB is the level below which a transmission is considered gone.
func (t Target) ReleaseDB() float64 {
	return t.ThresholdDB - t.HysteresisDB
}

// Sample is a single RSSI measurement around the target frequency.
// Samples are transient and not persisted individually.
type Sample struct {
	Time         time.Time
	FreqCenterHz int64
	// DB is the strongest in-band power reading in dBFS.
	DB float64
}

// PowerMeter produces RSSI samples for a target band.
type PowerMeter interface {
	Name() string

	// Check verifies the measurement tool is usable. It is run once at
	// controller startup; a failure there is fatal.
	Check() error

	// Measure takes a single RSSI sample. Implementations bound the call
	// with a timeout; an error means the sample is skipped, not that the
	// scan has to stop.
	Measure(ctx context.Context, target Target) (Sample, error)
}
