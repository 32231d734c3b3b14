package scanner

import (
	"context"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sdrwatch/dmrscan/pipeline"
	"github.com/sdrwatch/dmrscan/record"
	"github.com/sdrwatch/dmrscan/sdr"
)

var testTarget = sdr.Target{
	CenterFreqHz: 155825000,
	HalfWidthHz:  6250,
	ThresholdDB:  -45,
	HysteresisDB: 2,
}

var errScriptDone = errors.New("sample script exhausted")

// fakeMeter replays a scripted RSSI sequence and cancels the run context once
// the script is spent, so Run terminates deterministically.
type fakeMeter struct {
	samples  []float64
	idx      int
	checkErr error
	cancel   context.CancelFunc
}

func (m *fakeMeter) Name() string { return "fake" }

func (m *fakeMeter) Check() error { return m.checkErr }

func (m *fakeMeter) Measure(ctx context.Context, target sdr.Target) (sdr.Sample, error) {
	if m.idx >= len(m.samples) {
		m.cancel()
		return sdr.Sample{}, errScriptDone
	}
	db := m.samples[m.idx]
	m.idx++
	return sdr.Sample{Time: time.Now(), FreqCenterHz: target.CenterFreqHz, DB: db}, nil
}

// fakePipeline serves canned decoder output that ends in EOF, as if the
// decoder printed its lines and exited.
type fakePipeline struct {
	paths   pipeline.Paths
	out     io.ReadCloser
	stopped int
}

func newFakePipeline(dir, decoderOutput string) *fakePipeline {
	return &fakePipeline{
		paths: pipeline.Paths{
			Audio:   filepath.Join(dir, "call.wav"),
			FMRaw:   filepath.Join(dir, "call.raw"),
			MetaLog: filepath.Join(dir, "call_meta.txt"),
		},
		out: io.NopCloser(strings.NewReader(decoderOutput)),
	}
}

func (p *fakePipeline) Output() io.ReadCloser { return p.out }

func (p *fakePipeline) Paths() pipeline.Paths { return p.paths }

func (p *fakePipeline) Stop() { p.stopped++ }

type fakeLauncher struct {
	pipe   *fakePipeline
	err    error
	starts int
}

func (l *fakeLauncher) Start(ctx context.Context, target sdr.Target) (Pipeline, error) {
	l.starts++
	if l.err != nil {
		return nil, l.err
	}
	return l.pipe, nil
}

type fakeRecorder struct {
	records []record.CallRecord
	err     error
}

func (r *fakeRecorder) Append(ctx context.Context, rec record.CallRecord) error {
	if r.err != nil {
		return r.err
	}
	r.records = append(r.records, rec)
	return nil
}

type eventLog struct {
	events []Event
}

func (l *eventLog) Notify(e Event) { l.events = append(l.events, e) }

func (l *eventLog) find(kind EventKind, msg string) *Event {
	for i := range l.events {
		if l.events[i].Kind == kind && (msg == "" || l.events[i].Msg == msg) {
			return &l.events[i]
		}
	}
	return nil
}

func newTestController(t *testing.T, meter *fakeMeter, launcher *fakeLauncher, rec *fakeRecorder, sink Sink) (*Controller, context.Context) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	meter.cancel = cancel
	return New(Options{
		Target:          testTarget,
		Meter:           meter,
		Launcher:        launcher,
		Recorder:        rec,
		Sink:            sink,
		SampleInterval:  time.Millisecond,
		MonitorInterval: time.Millisecond,
	}), ctx
}

func TestCallRecordedWithMetadata(t *testing.T) {
	decoderOutput := "Sync: +DMR\n" +
		"Slot: 1\n" +
		"TG: 31001 SRC: 201\n" +
		"Call: Group\n"
	launcher := &fakeLauncher{pipe: newFakePipeline(t.TempDir(), decoderOutput)}
	meter := &fakeMeter{samples: []float64{-60, -40, -39}}
	rec := &fakeRecorder{}
	sink := &eventLog{}
	ctrl, ctx := newTestController(t, meter, launcher, rec, sink)

	if err := ctrl.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}

	if launcher.starts != 1 {
		t.Fatalf("launcher started %d pipelines, want 1", launcher.starts)
	}
	if launcher.pipe.stopped == 0 {
		t.Error("pipeline not stopped after call")
	}
	if len(rec.records) != 1 {
		t.Fatalf("recorded %d calls, want 1", len(rec.records))
	}
	got := rec.records[0]
	if got.TalkGroup != "31001" {
		t.Errorf("TalkGroup = %q, want 31001", got.TalkGroup)
	}
	if got.SourceID != "201" {
		t.Errorf("SourceID = %q, want 201", got.SourceID)
	}
	if got.Slot != "1" {
		t.Errorf("Slot = %q, want 1", got.Slot)
	}
	if got.CallType != "Group" {
		t.Errorf("CallType = %q, want Group", got.CallType)
	}
	if got.FreqHz != testTarget.CenterFreqHz {
		t.Errorf("FreqHz = %d, want %d", got.FreqHz, testTarget.CenterFreqHz)
	}
	if got.PeakRSSI != -39 {
		t.Errorf("PeakRSSI = %v, want -39", got.PeakRSSI)
	}
	if got.AudioFile != launcher.pipe.paths.Audio {
		t.Errorf("AudioFile = %q, want %q", got.AudioFile, launcher.pipe.paths.Audio)
	}
	if got.ReleasedAt.Before(got.DetectedAt) {
		t.Errorf("ReleasedAt %v before DetectedAt %v", got.ReleasedAt, got.DetectedAt)
	}

	// Decoder lines must be mirrored to the meta log file.
	mirror, err := os.ReadFile(launcher.pipe.paths.MetaLog)
	if err != nil {
		t.Fatalf("reading meta log mirror: %v", err)
	}
	if !strings.Contains(string(mirror), "TG: 31001") {
		t.Errorf("meta log mirror missing decoder line: %q", mirror)
	}

	if ctrl.State() != Stopped {
		t.Errorf("final state %s, want %s", ctrl.State(), Stopped)
	}
	if sink.find(EventCall, "") == nil {
		t.Error("no call event emitted")
	}
}

func TestMeterCheckFailureIsFatal(t *testing.T) {
	checkErr := errors.New("rtl_power not found")
	meter := &fakeMeter{checkErr: checkErr}
	rec := &fakeRecorder{}
	sink := &eventLog{}
	ctrl, ctx := newTestController(t, meter, &fakeLauncher{}, rec, sink)

	if err := ctrl.Run(ctx); !errors.Is(err, checkErr) {
		t.Fatalf("Run = %v, want %v", err, checkErr)
	}
	if len(rec.records) != 0 {
		t.Errorf("recorded %d calls, want 0", len(rec.records))
	}
	if ctrl.State() != Stopped {
		t.Errorf("final state %s, want %s", ctrl.State(), Stopped)
	}
	if sink.find(EventError, "measurement tool unavailable") == nil {
		t.Error("no error event for failed tool check")
	}
}

func TestPipelineLaunchFailureReturnsToDetecting(t *testing.T) {
	launcher := &fakeLauncher{err: errors.New("rtl_sdr: no device")}
	meter := &fakeMeter{samples: []float64{-40, -39, -60}}
	rec := &fakeRecorder{}
	sink := &eventLog{}
	ctrl, ctx := newTestController(t, meter, launcher, rec, sink)

	if err := ctrl.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if launcher.starts != 1 {
		t.Errorf("launcher started %d times, want 1", launcher.starts)
	}
	if len(rec.records) != 0 {
		t.Errorf("recorded %d calls, want 0 after launch failure", len(rec.records))
	}
	if sink.find(EventError, "pipeline launch failed") == nil {
		t.Error("no error event for launch failure")
	}
	if ctrl.State() != Stopped {
		t.Errorf("final state %s, want %s", ctrl.State(), Stopped)
	}
}

func TestFailedAppendDoesNotStopTheLoop(t *testing.T) {
	launcher := &fakeLauncher{pipe: newFakePipeline(t.TempDir(), "TG: 1\n")}
	meter := &fakeMeter{samples: []float64{-40, -39, -60}}
	rec := &fakeRecorder{err: errors.New("disk full")}
	sink := &eventLog{}
	ctrl, ctx := newTestController(t, meter, launcher, rec, sink)

	if err := ctrl.Run(ctx); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sink.find(EventError, "call log append failed") == nil {
		t.Error("no error event for failed append")
	}
	if sink.find(EventCall, "") == nil {
		t.Error("call event missing after failed append")
	}
}

func TestHotFrequencyBias(t *testing.T) {
	ctrl := New(Options{
		Target:     testTarget,
		Meter:      &fakeMeter{},
		Launcher:   &fakeLauncher{},
		Recorder:   &fakeRecorder{},
		HotWindow:  30 * time.Second,
		HotBonusDB: 1.5,
	})
	if got := ctrl.activationTarget().ThresholdDB; got != testTarget.ThresholdDB {
		t.Errorf("threshold with no prior call = %v, want %v", got, testTarget.ThresholdDB)
	}
	ctrl.lastCall = time.Now()
	if got, want := ctrl.activationTarget().ThresholdDB, testTarget.ThresholdDB-1.5; got != want {
		t.Errorf("threshold inside hot window = %v, want %v", got, want)
	}
	ctrl.lastCall = time.Now().Add(-time.Minute)
	if got := ctrl.activationTarget().ThresholdDB; got != testTarget.ThresholdDB {
		t.Errorf("threshold after hot window = %v, want %v", got, testTarget.ThresholdDB)
	}
}
