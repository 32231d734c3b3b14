// Package detect decides when a transmission starts and ends based on a
// stream of RSSI samples.
package detect

import (
	"github.com/sdrwatch/dmrscan/sdr"
)

// State is the detection state for a target frequency.
type State int

const (
	// Idle means no transmission is assumed on the target.
	Idle State = iota
	// Active means a transmission is assumed ongoing.
	Active
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Active:
		return "active"
	}
	return "unknown"
}

// Dwell defaults. Two consecutive hot samples arm the detector quickly while
// still riding out single-sample spikes; three quiet samples release it so a
// brief fade inside a call does not cut the capture short.
const (
	DefaultActivateCount = 2
	DefaultReleaseCount  = 3
)

// Detector applies threshold, hysteresis and dwell counts to RSSI samples.
// The decision itself has no side effects beyond the dwell counters, so the
// outcome is deterministic for a given sample sequence.
type Detector struct {
	// ActivateCount is the number of consecutive above-threshold samples
	// required for the Idle -> Active transition.
	ActivateCount int
	// ReleaseCount is the number of consecutive samples below
	// (threshold - hysteresis) required for the Active -> Idle transition.
	ReleaseCount int

	above int
	below int
}

// New returns a Detector with the given dwell counts. Counts below one fall
// back to the defaults.
func New(activate, release int) *Detector {
	if activate < 1 {
		activate = DefaultActivateCount
	}
	if release < 1 {
		release = DefaultReleaseCount
	}
	return &Detector{
		ActivateCount: activate,
		ReleaseCount:  release,
	}
}

// Reset clears the dwell counters.
func (d *Detector) Reset() {
	d.above = 0
	d.below = 0
}

// Step consumes one sample and returns the new state and whether a
// transition happened on this sample.
func (d *Detector) Step(state State, sample sdr.Sample, target sdr.Target) (State, bool) {
	switch state {
	case Idle:
		if sample.DB > target.ThresholdDB {
			d.above++
			if d.above >= d.ActivateCount {
				d.Reset()
				return Active, true
			}
		} else {
			d.above = 0
		}
		return Idle, false
	case Active:
		if sample.DB < target.ReleaseDB() {
			d.below++
			if d.below >= d.ReleaseCount {
				d.Reset()
				return Idle, true
			}
		} else {
			d.below = 0
		}
		return Active, false
	}
	return state, false
}
