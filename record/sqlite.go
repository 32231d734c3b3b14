package record

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
)

const (
	sqliteCreateTableTmpl = `CREATE TABLE IF NOT EXISTS calls (
		"ID"          INTEGER NOT NULL PRIMARY KEY AUTOINCREMENT,
		"DetectedAt"  INTEGER,
		"ReleasedAt"  INTEGER,
		"FreqHz"      INTEGER,
		"PeakRSSI"    REAL,
		"TalkGroup"   TEXT,
		"SourceID"    TEXT,
		"TargetID"    TEXT,
		"Slot"        TEXT,
		"CallType"    TEXT,
		"Encrypted"   TEXT,
		"AudioFile"   TEXT,
		"FMRawFile"   TEXT,
		"IQFile"      TEXT,
		"MetaLog"     TEXT
	);`
	sqliteInsertCallTmpl = `INSERT INTO calls (
		DetectedAt,
		ReleasedAt,
		FreqHz,
		PeakRSSI,
		TalkGroup,
		SourceID,
		TargetID,
		Slot,
		CallType,
		Encrypted,
		AudioFile,
		FMRawFile,
		IQFile,
		MetaLog
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?);`
)

// SQLite appends call records to a sqlite DB, creating the table on first
// use. Append is safe for concurrent use.
type SQLite struct {
	DB *sql.DB

	tableOnce sync.Once
	tableErr  error
}

func (s *SQLite) ensureTable(ctx context.Context) error {
	s.tableOnce.Do(func() {
		if _, err := s.DB.ExecContext(ctx, sqliteCreateTableTmpl); err != nil {
			s.tableErr = fmt.Errorf("unable to create calls table: %w", err)
		}
	})
	return s.tableErr
}

func (s *SQLite) Append(ctx context.Context, r CallRecord) error {
	if err := s.ensureTable(ctx); err != nil {
		return err
	}
	if _, err := s.DB.ExecContext(ctx, sqliteInsertCallTmpl,
		r.DetectedAt.UnixMilli(),
		r.ReleasedAt.UnixMilli(),
		r.FreqHz,
		r.PeakRSSI,
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
	); err != nil {
		return fmt.Errorf("unable to store call in sqlite DB: %w", err)
	}
	return nil
}
