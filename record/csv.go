package record

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
)

const timestampFmt = "2006-01-02 15:04:05"

var csvHeader = []string{
	"Timestamp",
	"Frequency_MHz",
	"RSSI_dBFS",
	"TalkGroup",
	"SourceID",
	"TargetID",
	"Slot",
	"CallType",
	"Encrypted",
	"Audio_File",
	"FM_Raw_File",
	"IQ_File",
	"Meta_Log",
}

// CSV appends call records to a CSV file, writing the header row once when
// the file is created.
type CSV struct {
	Path string
}

// open opens the call log for appending. Creation and header ownership are
// decided by a single O_EXCL open, so concurrent first appends produce
// exactly one header row.
func (c *CSV) open() (*os.File, bool, error) {
	f, err := os.OpenFile(c.Path, os.O_APPEND|os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err == nil {
		return f, true, nil
	}
	if !os.IsExist(err) {
		return nil, false, err
	}
	f, err = os.OpenFile(c.Path, os.O_APPEND|os.O_WRONLY, 0o644)
	return f, false, err
}

func (c *CSV) Append(ctx context.Context, r CallRecord) error {
	f, writeHeader, err := c.open()
	if err != nil {
		return fmt.Errorf("unable to open call log %q: %w", c.Path, err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if writeHeader {
		if err := w.Write(csvHeader); err != nil {
			return fmt.Errorf("unable to write call log header: %w", err)
		}
	}
	if err := w.Write([]string{
		r.DetectedAt.Format(timestampFmt),
		fmt.Sprintf("%.6f", float64(r.FreqHz)/1e6),
		fmt.Sprintf("%.1f", r.PeakRSSI),
		r.TalkGroup,
		r.SourceID,
		r.TargetID,
		r.Slot,
		r.CallType,
		r.Encrypted,
		r.AudioFile,
		r.FMRawFile,
		r.IQFile,
		r.MetaLog,
	}); err != nil {
		return fmt.Errorf("unable to write call log row: %w", err)
	}

	w.Flush()
	return w.Error()
}
