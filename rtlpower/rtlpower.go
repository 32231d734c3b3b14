package rtlpower

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/golang/glog"

	"github.com/sdrwatch/dmrscan/sdr"
)

const (
	sourceName    = "rtl_power"
	defaultBinary = "rtl_power"

	// rtl_power rows carry date, time, freq low, freq high, bin width and
	// sample count before the dB readings start.
	dbFieldIdx = 6

	defaultBinSizeHz   = 12500
	defaultIntegration = 120 * time.Millisecond
	defaultTimeout     = 5 * time.Second
)

// ErrToolUnavailable indicates the rtl_power binary is not installed.
var ErrToolUnavailable = errors.New("rtl_power binary not found in PATH")

// ErrNoReading indicates the tool produced no parseable power reading.
var ErrNoReading = errors.New("no power reading in rtl_power output")

// Meter measures RSSI by running rtl_power once per call over a narrow band
// around the target frequency. No persistent process is kept between calls.
type Meter struct {
	// Binary overrides the rtl_power binary name. Mostly useful in tests.
	Binary string
	// BinSizeHz is the FFT bin width passed to rtl_power.
	BinSizeHz int64
	// Integration is the rtl_power integration window per invocation.
	Integration time.Duration
	// Timeout bounds a single invocation. Expiry skips the sample.
	Timeout time.Duration
}

func (m *Meter) Name() string {
	return sourceName
}

func (m *Meter) binary() string {
	if m.Binary != "" {
		return m.Binary
	}
	return defaultBinary
}

// Check verifies the rtl_power binary is present.
func (m *Meter) Check() error {
	if _, err := exec.LookPath(m.binary()); err != nil {
		return fmt.Errorf("%w: %s", ErrToolUnavailable, err)
	}
	return nil
}

// Measure runs one rtl_power sweep of [center-halfwidth, center+halfwidth]
// and returns the strongest in-band reading.
func (m *Meter) Measure(ctx context.Context, target sdr.Target) (sdr.Sample, error) {
	binSize := m.BinSizeHz
	if binSize <= 0 {
		binSize = defaultBinSizeHz
	}
	integration := m.Integration
	if integration <= 0 {
		integration = defaultIntegration
	}
	timeout := m.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	args := []string{
		"-f", fmt.Sprintf("%d:%d:%d", target.LowFreqHz(), target.HighFreqHz(), binSize),
		"-i", strconv.FormatFloat(integration.Seconds(), 'f', 2, 64),
		"-1", // single shot
		"-",  // dump readings to stdout
	}
	cmd := exec.CommandContext(ctx, m.binary(), args...)
	out, err := cmd.Output()
	if ctx.Err() != nil {
		return sdr.Sample{}, fmt.Errorf("rtl_power timed out: %w", ctx.Err())
	}
	if err != nil {
		return sdr.Sample{}, fmt.Errorf("rtl_power failed: %w", err)
	}

	db, err := maxPower(string(out))
	if err != nil {
		return sdr.Sample{}, err
	}
	return sdr.Sample{
		Time:         time.Now(),
		FreqCenterHz: target.CenterFreqHz,
		DB:           db,
	}, nil
}

// maxPower scans rtl_power output rows and returns the strongest dB value
// across all bins. Malformed rows are skipped, not fatal.
func maxPower(out string) (float64, error) {
	found := false
	max := 0.0
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		db, err := scanRow(line)
		if err != nil {
			glog.Warningf("skipping rtl_power row: %s\n", err)
			continue
		}
		if !found || db > max {
			max = db
			found = true
		}
	}
	if !found {
		return 0, ErrNoReading
	}
	return max, nil
}

func scanRow(line string) (float64, error) {
	row := strings.Split(line, ",")
	if len(row) <= dbFieldIdx {
		return 0, fmt.Errorf("row has %d fields, want more than %d", len(row), dbFieldIdx)
	}
	found := false
	max := 0.0
	for _, field := range row[dbFieldIdx:] {
		db, err := strconv.ParseFloat(strings.TrimSpace(field), 64)
		if err != nil {
			return 0, fmt.Errorf("bad dB field %q: %w", field, err)
		}
		if !found || db > max {
			max = db
			found = true
		}
	}
	if !found {
		return 0, errors.New("row has no dB fields")
	}
	return max, nil
}
