package record

import (
	"context"
	"database/sql"
	"path/filepath"
	"sync"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("sqlite3", filepath.Join(t.TempDir(), "calls.sqlite"))
	if err != nil {
		t.Fatalf("opening sqlite DB: %v", err)
	}
	// A single connection keeps the file driver out of busy/locked errors.
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}

func TestSQLiteAppend(t *testing.T) {
	db := openTestDB(t)
	s := &SQLite{DB: db}
	ctx := context.Background()

	rec := Open(time.Date(2026, 8, 29, 10, 15, 0, 0, time.UTC), 155825000, -44.5)
	rec.TalkGroup = "31001"
	if err := s.Append(ctx, rec.Finalize(time.Now())); err != nil {
		t.Fatalf("Append: %v", err)
	}

	var tg string
	var freq int64
	if err := db.QueryRow("SELECT TalkGroup, FreqHz FROM calls").Scan(&tg, &freq); err != nil {
		t.Fatalf("reading back call: %v", err)
	}
	if tg != "31001" {
		t.Errorf("TalkGroup = %q, want 31001", tg)
	}
	if freq != 155825000 {
		t.Errorf("FreqHz = %d, want 155825000", freq)
	}
}

// The collect server appends from concurrent handler goroutines, so the lazy
// table creation must hold up when every worker hits it at once.
func TestSQLiteConcurrentAppend(t *testing.T) {
	db := openTestDB(t)
	s := &SQLite{DB: db}

	const workers = 32
	errs := make(chan error, workers)
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			rec := Open(time.Now(), 155825000+int64(n), -50)
			errs <- s.Append(context.Background(), rec.Finalize(time.Now()))
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Errorf("Append: %v", err)
		}
	}

	var count int
	if err := db.QueryRow("SELECT COUNT(*) FROM calls").Scan(&count); err != nil {
		t.Fatalf("counting calls: %v", err)
	}
	if count != workers {
		t.Errorf("stored %d calls, want %d", count, workers)
	}
}
