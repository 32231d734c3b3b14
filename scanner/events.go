package scanner

import (
	"time"

	"github.com/sdrwatch/dmrscan/record"
	"github.com/sdrwatch/dmrscan/sdr"
)

// State is the controller state.
type State int

const (
	// Idle: constructed but not running.
	Idle State = iota
	// Detecting: sampling RSSI, no pipeline running.
	Detecting
	// Active: pipeline running, decoder output being parsed.
	Active
	// ShuttingDown: stop requested, cleanup in progress.
	ShuttingDown
	// Stopped: terminal.
	Stopped
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Detecting:
		return "detecting"
	case Active:
		return "active"
	case ShuttingDown:
		return "shutting down"
	case Stopped:
		return "stopped"
	}
	return "unknown"
}

// EventKind classifies controller events.
type EventKind int

const (
	// EventState signals a controller state transition.
	EventState EventKind = iota
	// EventRSSI carries one RSSI sample for live display.
	EventRSSI
	// EventCall carries a finalized call record.
	EventCall
	// EventWarning carries a recoverable problem (skipped sample, decoder
	// exit, termination timeout).
	EventWarning
	// EventError carries a reportable failure (pipeline launch, log write).
	EventError
)

// Event is the single notification type crossing the boundary to the
// presentation layer.
type Event struct {
	Kind  EventKind
	Time  time.Time
	State State

	// Sample is set for EventRSSI.
	Sample sdr.Sample
	// Record is set for EventCall.
	Record *record.CallRecord
	// Msg and Err are set for EventWarning and EventError.
	Msg string
	Err error
}

// Sink receives controller events. Notify must not block for long; the
// controller calls it from its control loop.
type Sink interface {
	Notify(Event)
}

type nopSink struct{}

func (nopSink) Notify(Event) {}
