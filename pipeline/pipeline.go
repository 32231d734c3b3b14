// Package pipeline starts and stops the external decode chain for one
// detected transmission: raw sample source -> demodulator stages -> protocol
// decoder, with an optional IQ capture branch fed through a named pipe.
//
// Each stage is an explicit process handle wired with explicit pipes and
// stream-copy goroutines; no shell is involved.
package pipeline

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/golang/glog"
	"golang.org/x/sys/unix"

	"github.com/sdrwatch/dmrscan/sdr"
)

const (
	defaultSourceBin  = "rtl_sdr"
	defaultDemodBin   = "csdr"
	defaultDecoderBin = "dsd-fme"
	defaultCaptureBin = "cat"

	defaultSampleRate = 2400000
	defaultGainDB     = 40
	defaultGrace      = 2 * time.Second

	fifoOpenRetries  = 50
	fifoOpenInterval = 20 * time.Millisecond
)

// Paths are the filesystem artifacts of one capture. Files are named with a
// frequency+timestamp convention so sequential calls never collide.
type Paths struct {
	// Audio is the decoded audio file written by the decoder.
	Audio string
	// FMRaw is the demodulated stream as fed to the decoder.
	FMRaw string
	// IQ is the raw IQ capture; empty when the capture branch is skipped.
	IQ string
	// MetaLog is where the decoder's textual output is mirrored.
	MetaLog string
}

func newPaths(dir string, freqHz int64, ts time.Time, iq bool) Paths {
	base := fmt.Sprintf("DMR_%.6fMHz_%s", float64(freqHz)/1e6, ts.Format("2006-01-02_15-04-05.000"))
	p := Paths{
		Audio:   filepath.Join(dir, base+".wav"),
		FMRaw:   filepath.Join(dir, "FM_RAW_"+base+".raw"),
		MetaLog: filepath.Join(dir, "dsd_meta_"+base+".txt"),
	}
	if iq {
		p.IQ = filepath.Join(dir, "IQ_"+base+".cs8")
	}
	return p
}

// IQCaptureAvailable reports whether the duplicating-buffer facility is
// usable: named pipe support plus the capture tool on PATH. It is meant to
// be resolved once at startup and carried in configuration.
func IQCaptureAvailable(captureBin string) bool {
	if runtime.GOOS == "windows" {
		return false
	}
	if captureBin == "" {
		captureBin = defaultCaptureBin
	}
	_, err := exec.LookPath(captureBin)
	return err == nil
}

// Launcher builds and owns decode pipelines. The zero value uses the
// rtl_sdr / csdr / dsd-fme defaults.
type Launcher struct {
	// SaveDir is where capture artifacts are written.
	SaveDir string
	// SampleRate is the raw source sample rate in Hz.
	SampleRate int
	// GainDB is the tuner gain for the raw source.
	GainDB int
	// Grace bounds how long Stop waits per process before force-killing.
	Grace time.Duration
	// IQCapture enables the FIFO tee branch. Resolve the capability once at
	// startup via IQCaptureAvailable.
	IQCapture bool

	// Stage argv overrides. When empty the defaults below are used; the
	// external tools are opaque collaborators, so any argv will do as long
	// as it reads stdin and writes stdout as its stage requires.
	SourceCmd  []string   // default: rtl_sdr tuned to the target
	DemodCmds  [][]string // default: csdr convert/decimate/fmdemod chain
	DecoderCmd []string   // default: dsd-fme with the audio path appended
	CaptureCmd []string   // default: cat; the FIFO path is appended
}

func (l *Launcher) sourceArgv(target sdr.Target) []string {
	if len(l.SourceCmd) > 0 {
		return l.SourceCmd
	}
	rate := l.SampleRate
	if rate <= 0 {
		rate = defaultSampleRate
	}
	gain := l.GainDB
	if gain <= 0 {
		gain = defaultGainDB
	}
	return []string{
		defaultSourceBin,
		"-f", strconv.FormatInt(target.CenterFreqHz, 10),
		"-s", strconv.Itoa(rate),
		"-g", strconv.Itoa(gain),
		"-",
	}
}

func (l *Launcher) demodArgvs() [][]string {
	if len(l.DemodCmds) > 0 {
		return l.DemodCmds
	}
	// 2.4 MHz u8 IQ -> float -> 240 kHz -> 48 kHz -> FM demod.
	return [][]string{
		{defaultDemodBin, "convert_u8_f"},
		{defaultDemodBin, "fir_decimate_cc", "10", "0.05"},
		{defaultDemodBin, "fir_decimate_cc", "5", "0.05"},
		{defaultDemodBin, "fmdemod_quadri_cf"},
	}
}

func (l *Launcher) decoderArgv(audioPath string) []string {
	if len(l.DecoderCmd) > 0 {
		return l.DecoderCmd
	}
	return []string{defaultDecoderBin, "-i", "-", "-o", audioPath}
}

func (l *Launcher) captureArgv(fifo string) []string {
	base := l.CaptureCmd
	if len(base) == 0 {
		base = []string{defaultCaptureBin}
	}
	argv := append([]string{}, base...)
	return append(argv, fifo)
}

func (l *Launcher) grace() time.Duration {
	if l.Grace > 0 {
		return l.Grace
	}
	return defaultGrace
}

type proc struct {
	name string
	cmd  *exec.Cmd
	done chan error
}

// Handle owns the live processes and streams of one decode pipeline. All
// owned processes and files are released by Stop; no process outlives its
// handle.
type Handle struct {
	paths Paths
	grace time.Duration

	procs []*proc
	fifo  string
	out   *os.File

	copyWG   sync.WaitGroup
	stopOnce sync.Once
}

// Paths returns the artifact paths of this capture.
func (h *Handle) Paths() Paths {
	return h.paths
}

// Output is the decoder's merged stdout/stderr stream. It stays readable
// through Stop and reaches EOF once the decoder has exited, so a reader can
// drain remaining lines after the pipeline is stopped.
func (h *Handle) Output() io.ReadCloser {
	return h.out
}

// Start spawns the decode chain for the target frequency and returns a
// handle owning it. On any core-stage failure all processes started so far
// are stopped and an error is returned. A failure in the optional IQ branch
// only disables that branch.
func (l *Launcher) Start(ctx context.Context, target sdr.Target) (*Handle, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := os.MkdirAll(l.SaveDir, 0o755); err != nil {
		return nil, fmt.Errorf("unable to create save dir %q: %w", l.SaveDir, err)
	}

	h := &Handle{
		paths: newPaths(l.SaveDir, target.CenterFreqHz, time.Now(), l.IQCapture),
		grace: l.grace(),
	}
	if err := l.wire(h, target); err != nil {
		h.Stop()
		return nil, err
	}
	return h, nil
}

// wire builds and starts the process graph for h. On error every descriptor
// created so far is closed here; the caller stops any started process via
// h.Stop.
func (l *Launcher) wire(h *Handle, target sdr.Target) (err error) {
	var cleanup []io.Closer
	defer func() {
		if err != nil {
			closeAll(cleanup)
		}
	}()
	pipe := func() (*os.File, *os.File, error) {
		r, w, perr := os.Pipe()
		if perr != nil {
			return nil, nil, fmt.Errorf("pipe: %w", perr)
		}
		cleanup = append(cleanup, r, w)
		return r, w, nil
	}

	// Source stage.
	sourceOutR, sourceOutW, err := pipe()
	if err != nil {
		return err
	}
	source := command(l.sourceArgv(target))
	source.Stdout = sourceOutW

	// Demodulator stages, chained stdout -> stdin.
	demodArgvs := l.demodArgvs()
	demods := make([]*exec.Cmd, len(demodArgvs))
	demodInR, demodInW, err := pipe()
	if err != nil {
		return err
	}
	prevOut := demodInR
	for i, argv := range demodArgvs {
		demods[i] = command(argv)
		demods[i].Stdin = prevOut
		r, w, perr := pipe()
		if perr != nil {
			return perr
		}
		demods[i].Stdout = w
		prevOut = r
	}
	demodOutR := prevOut

	// Decoder stage, stderr merged into stdout like the usual 2>&1 setups.
	decInR, decInW, err := pipe()
	if err != nil {
		return err
	}
	decOutR, decOutW, err := pipe()
	if err != nil {
		return err
	}
	decoder := command(l.decoderArgv(h.paths.Audio))
	decoder.Stdin = decInR
	decoder.Stdout = decOutW
	decoder.Stderr = decOutW

	// The FM raw mirror file, created up front so a failure aborts the
	// launch before anything runs.
	fmRaw, err := os.Create(h.paths.FMRaw)
	if err != nil {
		return fmt.Errorf("unable to create %q: %w", h.paths.FMRaw, err)
	}
	cleanup = append(cleanup, fmRaw)

	// Start the core stages in order.
	stages := append([]*exec.Cmd{source}, demods...)
	stages = append(stages, decoder)
	for _, c := range stages {
		if err := h.startProc(c); err != nil {
			return err
		}
	}

	// Optional IQ capture branch: FIFO plus a capture process reading it.
	var fifoPath string
	if l.IQCapture {
		fifoPath = l.startCapture(h)
	}

	// Hand the child-side descriptors back to the kernel; the children hold
	// their own copies.
	for _, c := range stages {
		if f, ok := c.Stdin.(*os.File); ok {
			f.Close()
		}
		if f, ok := c.Stdout.(*os.File); ok {
			f.Close()
		}
	}

	// Tee the raw source output into the demodulator and, when enabled,
	// the FIFO feeding the capture process.
	h.copyWG.Add(1)
	go func() {
		defer h.copyWG.Done()
		defer sourceOutR.Close()
		defer demodInW.Close()
		var dst io.Writer = demodInW
		if fifoPath != "" {
			fifoW, ferr := openFIFOWriter(fifoPath)
			if ferr != nil {
				glog.Warningf("IQ tee disabled, unable to open FIFO writer: %s\n", ferr)
			} else {
				defer fifoW.Close()
				dst = io.MultiWriter(demodInW, fifoW)
			}
		}
		if _, cerr := io.Copy(dst, sourceOutR); cerr != nil {
			glog.V(2).Infof("source tee ended: %s\n", cerr)
		}
	}()

	// Mirror the demodulated stream into the decoder and the FM raw file.
	h.copyWG.Add(1)
	go func() {
		defer h.copyWG.Done()
		defer demodOutR.Close()
		defer decInW.Close()
		defer fmRaw.Close()
		if _, cerr := io.Copy(io.MultiWriter(decInW, fmRaw), demodOutR); cerr != nil {
			glog.V(2).Infof("demod tee ended: %s\n", cerr)
		}
	}()

	h.out = decOutR
	return nil
}

// startCapture sets up the FIFO and capture process. Failures here disable
// the branch instead of failing the pipeline: IQ capture degrades
// gracefully.
func (l *Launcher) startCapture(h *Handle) string {
	fifo := h.paths.IQ + ".fifo"
	if err := unix.Mkfifo(fifo, 0o600); err != nil {
		glog.Warningf("IQ capture disabled, mkfifo %q: %s\n", fifo, err)
		h.paths.IQ = ""
		return ""
	}
	iqFile, err := os.Create(h.paths.IQ)
	if err != nil {
		glog.Warningf("IQ capture disabled, unable to create %q: %s\n", h.paths.IQ, err)
		os.Remove(fifo)
		h.paths.IQ = ""
		return ""
	}
	capture := command(l.captureArgv(fifo))
	capture.Stdout = iqFile
	if err := h.startProc(capture); err != nil {
		glog.Warningf("IQ capture disabled: %s\n", err)
		iqFile.Close()
		os.Remove(fifo)
		h.paths.IQ = ""
		return ""
	}
	iqFile.Close() // the capture process holds its own copy
	h.fifo = fifo
	return fifo
}

func (h *Handle) startProc(cmd *exec.Cmd) error {
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("unable to launch %s: %w", cmd.Path, err)
	}
	p := &proc{
		name: filepath.Base(cmd.Path),
		cmd:  cmd,
		done: make(chan error, 1),
	}
	go func() {
		p.done <- cmd.Wait()
	}()
	h.procs = append(h.procs, p)
	glog.V(1).Infof("started %s (pid %d)\n", p.name, cmd.Process.Pid)
	return nil
}

// Stop terminates every owned process in reverse start order with a bounded
// grace period, force-killing stragglers, then waits for the copy tasks and
// removes the FIFO. It is idempotent and safe to call from cleanup paths.
func (h *Handle) Stop() {
	h.stopOnce.Do(h.stop)
}

func (h *Handle) stop() {
	for i := len(h.procs) - 1; i >= 0; i-- {
		p := h.procs[i]
		select {
		case <-p.done:
			continue // already gone
		default:
		}
		if err := p.cmd.Process.Signal(syscall.SIGTERM); err != nil {
			glog.V(2).Infof("signalling %s: %s\n", p.name, err)
		}
		select {
		case <-p.done:
		case <-time.After(h.grace):
			glog.Warningf("%s did not exit within %s, killing\n", p.name, h.grace)
			p.cmd.Process.Kill()
			<-p.done
		}
	}
	h.copyWG.Wait()
	if h.fifo != "" {
		if err := os.Remove(h.fifo); err != nil && !os.IsNotExist(err) {
			glog.Warningf("unable to remove FIFO %q: %s\n", h.fifo, err)
		}
		h.fifo = ""
	}
}

func command(argv []string) *exec.Cmd {
	return exec.Command(argv[0], argv[1:]...)
}

func closeAll(closers []io.Closer) {
	for _, c := range closers {
		c.Close()
	}
}

// openFIFOWriter opens the write side of a FIFO without blocking forever on
// a capture process that never opened the read side.
func openFIFOWriter(path string) (*os.File, error) {
	var lastErr error
	for i := 0; i < fifoOpenRetries; i++ {
		fd, err := unix.Open(path, unix.O_WRONLY|unix.O_NONBLOCK, 0)
		if err == nil {
			return os.NewFile(uintptr(fd), path), nil
		}
		lastErr = err
		if err != unix.ENXIO {
			break
		}
		time.Sleep(fifoOpenInterval)
	}
	return nil, fmt.Errorf("open %q for writing: %w", path, lastErr)
}
