package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"os/signal"
	"strings"
	"syscall"

	"github.com/golang/glog"
	"github.com/google/uuid"

	"github.com/sdrwatch/dmrscan/config"
	"github.com/sdrwatch/dmrscan/pipeline"
	"github.com/sdrwatch/dmrscan/record"
	"github.com/sdrwatch/dmrscan/rtlpower"
	"github.com/sdrwatch/dmrscan/scanner"
	"github.com/sdrwatch/dmrscan/sdr"

	// Blind import support for sqlite3 used by the sqlite recorder.
	_ "github.com/mattn/go-sqlite3"
)

// Flags
var (
	configPath = flag.String("config", "", "path of the YAML config file (optional, defaults apply)")
	identifier = flag.String("id", "", "unique identifier of this scanner instance (defaults to a random UUID)")
	centerFreq = flag.Int64("freq", 0, "center frequency in Hz, overrides the config value")
	threshold  = flag.Float64("threshold", 0, "detection threshold in dBFS, overrides the config value")
	output     = flag.String("output", "", "call log backend (one of: csv, sqlite, relay), overrides the config value")
	csvPath    = flag.String("csvPath", "", "file path of the CSV call log, overrides the config value")
	sqliteFile = flag.String("sqliteFile", "", "file path of the sqlite DB file, overrides the config value")
	server     = flag.String("server", "", "URL scheme, address and port of the collect server, overrides the config value")
)

type glogSink struct{}

func (glogSink) Notify(e scanner.Event) {
	switch e.Kind {
	case scanner.EventState:
		glog.Infof("scanner is now %s\n", e.State)
	case scanner.EventRSSI:
		glog.V(2).Infof("RSSI %.1f dBFS at %.6f MHz\n", e.Sample.DB, float64(e.Sample.FreqCenterHz)/1e6)
	case scanner.EventCall:
		r := e.Record
		glog.Infof("call logged: %.6f MHz TG=%s SRC=%s DST=%s slot=%s type=%s enc=%s\n",
			float64(r.FreqHz)/1e6, r.TalkGroup, r.SourceID, r.TargetID, r.Slot, r.CallType, r.Encrypted)
	case scanner.EventWarning:
		if e.Err != nil {
			glog.Warningf("%s: %s\n", e.Msg, e.Err)
		} else {
			glog.Warningf("%s\n", e.Msg)
		}
	case scanner.EventError:
		glog.Errorf("%s: %s\n", e.Msg, e.Err)
	}
}

// newRecorder builds the configured call log backend. Misconfiguration is
// caught here, at startup, not on the first finalized call.
func newRecorder(cfg *config.Config, identifier string) (record.Recorder, func(), error) {
	switch strings.ToLower(cfg.Log.Output) {
	case "csv":
		return &record.CSV{Path: cfg.Log.CSVPath}, func() {}, nil
	case "sqlite":
		db, err := sql.Open("sqlite3", cfg.Log.SQLiteFile)
		if err != nil {
			return nil, nil, fmt.Errorf("unable to open sqlite DB %q: %w", cfg.Log.SQLiteFile, err)
		}
		return &record.SQLite{DB: db}, func() { db.Close() }, nil
	case "relay":
		if cfg.Log.Server == "" {
			return nil, nil, errors.New("the relay backend needs a collect server URL, set -server or log.server")
		}
		return &record.Relay{
			Server:     cfg.Log.Server,
			Identifier: identifier,
		}, func() {}, nil
	default:
		return nil, nil, fmt.Errorf("%q is not a supported call log backend, pick one of: csv, sqlite, relay", cfg.Log.Output)
	}
}

func main() {
	// Set defaults for glog flags. Can be overridden via cmdline.
	flag.Set("logtostderr", "true")
	flag.Set("stderrthreshold", "WARNING")
	flag.Set("v", "1")
	// Parse flags globally.
	flag.Parse()

	if *identifier == "" {
		*identifier = uuid.NewString()
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		glog.Exitf("unable to load config: %s", err)
	}
	if *centerFreq > 0 {
		cfg.Scan.CenterFreqHz = *centerFreq
	}
	if *threshold != 0 {
		cfg.Scan.ThresholdDB = threshold
	}
	if *output != "" {
		cfg.Log.Output = *output
	}
	if *csvPath != "" {
		cfg.Log.CSVPath = *csvPath
	}
	if *sqliteFile != "" {
		cfg.Log.SQLiteFile = *sqliteFile
	}
	if *server != "" {
		cfg.Log.Server = *server
	}

	target := sdr.Target{
		CenterFreqHz: cfg.Scan.CenterFreqHz,
		HalfWidthHz:  cfg.Scan.HalfWidthHz,
		ThresholdDB:  *cfg.Scan.ThresholdDB,
		HysteresisDB: *cfg.Scan.HysteresisDB,
	}
	meter := &rtlpower.Meter{
		BinSizeHz:   cfg.Scan.BinSizeHz,
		Integration: cfg.Scan.Integration(),
		Timeout:     cfg.Scan.Timeout(),
	}

	// The duplicating-buffer capability is resolved once here and carried
	// in the launcher.
	var iqCapture bool
	switch strings.ToLower(cfg.Pipeline.IQCapture) {
	case config.IQOn:
		iqCapture = true
	case config.IQOff:
		iqCapture = false
	case config.IQAuto:
		captureBin := ""
		if len(cfg.Pipeline.CaptureCmd) > 0 {
			captureBin = cfg.Pipeline.CaptureCmd[0]
		}
		iqCapture = pipeline.IQCaptureAvailable(captureBin)
		if !iqCapture {
			glog.Infof("IQ capture disabled: duplicating-buffer facility unavailable\n")
		}
	default:
		glog.Exitf("%q is not a supported IQ capture mode, pick one of: auto, on, off", cfg.Pipeline.IQCapture)
	}

	launcher := &pipeline.Launcher{
		SaveDir:    cfg.Pipeline.SaveDir,
		SampleRate: cfg.Pipeline.SampleRate,
		GainDB:     cfg.Pipeline.GainDB,
		Grace:      cfg.Pipeline.Grace(),
		IQCapture:  iqCapture,
		SourceCmd:  cfg.Pipeline.SourceCmd,
		DemodCmds:  cfg.Pipeline.DemodCmds,
		DecoderCmd: cfg.Pipeline.DecoderCmd,
		CaptureCmd: cfg.Pipeline.CaptureCmd,
	}

	// Recorder setup
	recorder, closeRecorder, err := newRecorder(cfg, *identifier)
	if err != nil {
		glog.Exit(err)
	}
	defer closeRecorder()

	ctrl := scanner.New(scanner.Options{
		Target:          target,
		Meter:           meter,
		Launcher:        scanner.Launch{Launcher: launcher},
		Recorder:        recorder,
		Sink:            glogSink{},
		ActivateCount:   cfg.Detect.ActivateCount,
		ReleaseCount:    cfg.Detect.ReleaseCount,
		SampleInterval:  cfg.Scan.SampleInterval(),
		MonitorInterval: cfg.Scan.MonitorInterval(),
		HotWindow:       cfg.Detect.HotWindow(),
		HotBonusDB:      *cfg.Detect.HotBonusDB,
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	glog.Infof("scanner %s watching %.6f MHz (threshold %.1f dBFS)\n",
		*identifier, float64(target.CenterFreqHz)/1e6, target.ThresholdDB)
	if err := ctrl.Run(ctx); err != nil {
		glog.Exitf("scanner failed: %s", err)
	}

	glog.Flush()
}
