// Package scanner drives the scan-and-capture loop: RSSI sampling, the
// activation decision, the decode pipeline and the call log, as a single
// serialized state machine.
package scanner

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/golang/glog"

	"github.com/sdrwatch/dmrscan/detect"
	"github.com/sdrwatch/dmrscan/meta"
	"github.com/sdrwatch/dmrscan/pipeline"
	"github.com/sdrwatch/dmrscan/record"
	"github.com/sdrwatch/dmrscan/sdr"
)

const (
	defaultSampleInterval  = 200 * time.Millisecond
	defaultMonitorInterval = time.Second
	finalizeTimeout        = 5 * time.Second
	updateQueueLen         = 16
)

// Pipeline is a running decode chain as seen by the controller.
type Pipeline interface {
	Output() io.ReadCloser
	Paths() pipeline.Paths
	Stop()
}

// Launcher starts decode pipelines.
type Launcher interface {
	Start(ctx context.Context, target sdr.Target) (Pipeline, error)
}

// Launch adapts a pipeline.Launcher to the Launcher interface.
type Launch struct {
	*pipeline.Launcher
}

func (l Launch) Start(ctx context.Context, target sdr.Target) (Pipeline, error) {
	h, err := l.Launcher.Start(ctx, target)
	if err != nil {
		return nil, err
	}
	return h, nil
}

// Options configure a Controller. Target, Meter, Launcher and Recorder are
// required; everything else has defaults.
type Options struct {
	Target   sdr.Target
	Meter    sdr.PowerMeter
	Launcher Launcher
	Recorder record.Recorder
	Sink     Sink

	// Dwell counts for the detector; see detect defaults.
	ActivateCount int
	ReleaseCount  int

	// SampleInterval is the idle sampling cadence.
	SampleInterval time.Duration
	// MonitorInterval is the RSSI poll cadence while a pipeline runs.
	MonitorInterval time.Duration

	// HotWindow biases the activation threshold down by HotBonusDB for this
	// long after a call ended, favoring recently active frequencies.
	HotWindow  time.Duration
	HotBonusDB float64
}

// Controller owns the scan loop. At most one pipeline and one in-progress
// call record exist at any time; all state transitions happen on the Run
// goroutine.
type Controller struct {
	opts Options
	det  *detect.Detector

	state    State
	detState detect.State
	lastCall time.Time
}

// New builds a Controller. It does not touch any external tool yet; that
// happens in Run.
func New(opts Options) *Controller {
	if opts.Sink == nil {
		opts.Sink = nopSink{}
	}
	if opts.SampleInterval <= 0 {
		opts.SampleInterval = defaultSampleInterval
	}
	if opts.MonitorInterval <= 0 {
		opts.MonitorInterval = defaultMonitorInterval
	}
	return &Controller{
		opts:  opts,
		det:   detect.New(opts.ActivateCount, opts.ReleaseCount),
		state: Idle,
	}
}

// State returns the current controller state.
func (c *Controller) State() State {
	return c.state
}

// Run drives the scan loop until ctx is cancelled. A missing measurement
// tool is the only fatal startup error; every failure after that surfaces as
// an event and returns the loop to detecting.
func (c *Controller) Run(ctx context.Context) error {
	if err := c.opts.Meter.Check(); err != nil {
		c.notifyError("measurement tool unavailable", err)
		c.setState(Stopped)
		return err
	}

	c.setState(Detecting)
	for ctx.Err() == nil {
		trigger, activated := c.detectOnce(ctx)
		if activated {
			c.runCall(ctx, trigger)
			continue
		}
		select {
		case <-ctx.Done():
		case <-time.After(c.opts.SampleInterval):
		}
	}

	c.setState(ShuttingDown)
	c.setState(Stopped)
	return nil
}

// detectOnce takes one sample and steps the detector. It reports whether
// this sample completed the activation dwell.
func (c *Controller) detectOnce(ctx context.Context) (sdr.Sample, bool) {
	sample, err := c.opts.Meter.Measure(ctx, c.opts.Target)
	if err != nil {
		if ctx.Err() == nil {
			c.notifyWarning("sample skipped", err)
		}
		return sdr.Sample{}, false
	}
	c.notify(Event{Kind: EventRSSI, Sample: sample})

	state, transitioned := c.det.Step(c.detState, sample, c.activationTarget())
	c.detState = state
	return sample, transitioned && state == detect.Active
}

// activationTarget applies the hot-frequency bias: shortly after a call the
// activation threshold drops by the configured bonus.
func (c *Controller) activationTarget() sdr.Target {
	target := c.opts.Target
	if c.opts.HotWindow > 0 && !c.lastCall.IsZero() && time.Since(c.lastCall) < c.opts.HotWindow {
		target.ThresholdDB -= c.opts.HotBonusDB
	}
	return target
}

// runCall owns one activation: pipeline, metadata reader, release decision
// and the final log append.
func (c *Controller) runCall(ctx context.Context, trigger sdr.Sample) {
	handle, err := c.opts.Launcher.Start(ctx, c.opts.Target)
	if err != nil {
		c.notifyError("pipeline launch failed", err)
		c.detState = detect.Idle
		c.det.Reset()
		return // back to detecting, no call record
	}
	c.setState(Active)

	paths := handle.Paths()
	rec := record.Open(trigger.Time, c.opts.Target.CenterFreqHz, trigger.DB)
	rec.AudioFile = paths.Audio
	rec.FMRawFile = paths.FMRaw
	rec.IQFile = paths.IQ
	rec.MetaLog = paths.MetaLog

	updates := make(chan meta.Update, updateQueueLen)
	go readDecoder(handle.Output(), paths.MetaLog, updates)

	ticker := time.NewTicker(c.opts.MonitorInterval)
	defer ticker.Stop()

	releasing := false
	for !releasing {
		select {
		case <-ctx.Done():
			c.setState(ShuttingDown)
			releasing = true
		case u, ok := <-updates:
			if !ok {
				c.notifyWarning("decoder exited", nil)
				updates = nil
				releasing = true
				continue
			}
			rec.Apply(u)
		case <-ticker.C:
			sample, err := c.opts.Meter.Measure(ctx, c.opts.Target)
			if err != nil {
				if ctx.Err() == nil {
					c.notifyWarning("sample skipped", err)
				}
				continue
			}
			c.notify(Event{Kind: EventRSSI, Sample: sample})
			rec.Observe(sample.DB)
			state, transitioned := c.det.Step(c.detState, sample, c.opts.Target)
			c.detState = state
			if transitioned {
				releasing = true
			}
		}
	}

	handle.Stop()

	// The reader reaches EOF once the decoder is gone; drain what it still
	// has so late metadata lands in the record.
	if updates != nil {
		for u := range updates {
			rec.Apply(u)
		}
	}

	c.detState = detect.Idle
	c.det.Reset()
	c.lastCall = time.Now()

	final := rec.Finalize(time.Now())
	appendCtx, cancel := context.WithTimeout(context.Background(), finalizeTimeout)
	defer cancel()
	if err := c.opts.Recorder.Append(appendCtx, final); err != nil {
		c.notifyError("call log append failed", err)
	}
	c.notify(Event{Kind: EventCall, Record: &final})

	if ctx.Err() == nil {
		c.setState(Detecting)
	}
}

// readDecoder drains the decoder output, mirrors it to the meta log file and
// feeds recognized lines to the controller. It runs until EOF and closes
// updates when done.
func readDecoder(out io.ReadCloser, metaLogPath string, updates chan<- meta.Update) {
	defer close(updates)
	defer out.Close()

	var metaLog *os.File
	if metaLogPath != "" {
		f, err := os.Create(metaLogPath)
		if err != nil {
			glog.Warningf("unable to create meta log %q: %s\n", metaLogPath, err)
		} else {
			metaLog = f
			defer f.Close()
		}
	}

	scanner := bufio.NewScanner(out)
	for scanner.Scan() {
		line := scanner.Text()
		if metaLog != nil {
			fmt.Fprintln(metaLog, line)
		}
		if u, ok := meta.Feed(line); ok {
			updates <- u
		}
	}
}

func (c *Controller) setState(s State) {
	if c.state == s {
		return
	}
	c.state = s
	c.notify(Event{Kind: EventState})
}

func (c *Controller) notify(e Event) {
	e.Time = time.Now()
	e.State = c.state
	c.opts.Sink.Notify(e)
}

func (c *Controller) notifyWarning(msg string, err error) {
	c.notify(Event{Kind: EventWarning, Msg: msg, Err: err})
}

func (c *Controller) notifyError(msg string, err error) {
	c.notify(Event{Kind: EventError, Msg: msg, Err: err})
}
