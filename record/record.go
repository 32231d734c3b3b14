// Package record assembles and persists one structured record per detected
// transmission.
package record

import (
	"context"
	"time"

	"github.com/sdrwatch/dmrscan/meta"
)

// Field placeholders matching the historical log layout.
const (
	unsetField    = "N/A"
	unknownEncStr = "Unknown"
)

// CallRecord is one detected transmission. It is created at activation,
// filled incrementally while the call runs and never mutated after Finalize.
type CallRecord struct {
	DetectedAt time.Time `json:"detectedAt"`
	ReleasedAt time.Time `json:"releasedAt"`
	FreqHz     int64     `json:"freqHz"`
	PeakRSSI   float64   `json:"peakRssi"`

	TalkGroup string `json:"talkGroup"`
	SourceID  string `json:"sourceId"`
	TargetID  string `json:"targetId"`
	Slot      string `json:"slot"`
	CallType  string `json:"callType"`
	Encrypted string `json:"encrypted"`

	AudioFile string `json:"audioFile"`
	FMRawFile string `json:"fmRawFile"`
	IQFile    string `json:"iqFile,omitempty"`
	MetaLog   string `json:"metaLog,omitempty"`

	finalized bool
}

// Open creates a new in-progress record for a transmission detected at the
// given frequency and trigger RSSI.
func Open(detectedAt time.Time, freqHz int64, rssi float64) *CallRecord {
	return &CallRecord{
		DetectedAt: detectedAt,
		FreqHz:     freqHz,
		PeakRSSI:   rssi,
		TalkGroup:  unsetField,
		SourceID:   unsetField,
		TargetID:   unsetField,
		Slot:       unsetField,
		CallType:   unsetField,
		Encrypted:  unknownEncStr,
	}
}

// Apply merges one metadata update into the record. Updates after Finalize
// are dropped.
func (r *CallRecord) Apply(u meta.Update) {
	if r.finalized {
		return
	}
	if u.TalkGroup != "" {
		r.TalkGroup = u.TalkGroup
	}
	if u.SourceID != "" {
		r.SourceID = u.SourceID
	}
	if u.TargetID != "" {
		r.TargetID = u.TargetID
	}
	if u.Slot != "" {
		r.Slot = u.Slot
	}
	if u.CallType != "" {
		r.CallType = u.CallType
	}
	if u.Encrypted != "" {
		r.Encrypted = u.Encrypted
	}
}

// Observe tracks the peak RSSI seen over the call.
func (r *CallRecord) Observe(db float64) {
	if r.finalized {
		return
	}
	if db > r.PeakRSSI {
		r.PeakRSSI = db
	}
}

// Finalize seals the record at release time and returns a value copy for
// persisting.
func (r *CallRecord) Finalize(releasedAt time.Time) CallRecord {
	if !r.finalized {
		r.ReleasedAt = releasedAt
		r.finalized = true
	}
	return *r
}

// Recorder appends finalized call records to a durable log. A failed append
// is reported to the caller but must not stop the scan loop; the attempt is
// not retried.
type Recorder interface {
	Append(ctx context.Context, r CallRecord) error
}
