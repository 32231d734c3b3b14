package record

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
)

const (
	mysqlCreateTableTmpl = `CREATE TABLE IF NOT EXISTS calls (
		ID          BIGINT NOT NULL PRIMARY KEY AUTO_INCREMENT,
		DetectedAt  BIGINT,
		ReleasedAt  BIGINT,
		FreqHz      BIGINT,
		PeakRSSI    DOUBLE,
		TalkGroup   VARCHAR(32),
		SourceID    VARCHAR(32),
		TargetID    VARCHAR(32),
		Slot        VARCHAR(8),
		CallType    VARCHAR(32),
		Encrypted   VARCHAR(8),
		AudioFile   TEXT,
		FMRawFile   TEXT,
		IQFile      TEXT,
		MetaLog     TEXT
	);`
	mysqlInsertCallTmpl = `INSERT INTO calls (
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

// MySQL appends call records to a MySQL DB, creating the table on first use.
// Append is safe for concurrent use.
type MySQL struct {
	DB *sql.DB

	tableOnce sync.Once
	tableErr  error
}

func (m *MySQL) ensureTable(ctx context.Context) error {
	m.tableOnce.Do(func() {
		if _, err := m.DB.ExecContext(ctx, mysqlCreateTableTmpl); err != nil {
			m.tableErr = fmt.Errorf("unable to create calls table: %w", err)
		}
	})
	return m.tableErr
}

func (m *MySQL) Append(ctx context.Context, r CallRecord) error {
	if err := m.ensureTable(ctx); err != nil {
		return err
	}
	if _, err := m.DB.ExecContext(ctx, mysqlInsertCallTmpl,
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
		return fmt.Errorf("unable to store call in MySQL DB: %w", err)
	}
	return nil
}
