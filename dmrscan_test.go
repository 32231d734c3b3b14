package main

import (
	"path/filepath"
	"testing"

	"github.com/sdrwatch/dmrscan/config"
	"github.com/sdrwatch/dmrscan/record"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load("")
	if err != nil {
		t.Fatalf("loading defaults: %v", err)
	}
	return cfg
}

func TestNewRecorderBackends(t *testing.T) {
	dir := t.TempDir()

	t.Run("csv", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Log.Output = "csv"
		cfg.Log.CSVPath = filepath.Join(dir, "calls.csv")
		rec, cleanup, err := newRecorder(cfg, "scanner-1")
		if err != nil {
			t.Fatalf("newRecorder: %v", err)
		}
		defer cleanup()
		if _, ok := rec.(*record.CSV); !ok {
			t.Errorf("recorder is %T, want *record.CSV", rec)
		}
	})

	t.Run("sqlite", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Log.Output = "sqlite"
		cfg.Log.SQLiteFile = filepath.Join(dir, "calls.sqlite")
		rec, cleanup, err := newRecorder(cfg, "scanner-1")
		if err != nil {
			t.Fatalf("newRecorder: %v", err)
		}
		defer cleanup()
		if _, ok := rec.(*record.SQLite); !ok {
			t.Errorf("recorder is %T, want *record.SQLite", rec)
		}
	})

	t.Run("relay", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Log.Output = "relay"
		cfg.Log.Server = "https://collect.example.net:8443"
		rec, cleanup, err := newRecorder(cfg, "scanner-1")
		if err != nil {
			t.Fatalf("newRecorder: %v", err)
		}
		defer cleanup()
		relay, ok := rec.(*record.Relay)
		if !ok {
			t.Fatalf("recorder is %T, want *record.Relay", rec)
		}
		if relay.Identifier != "scanner-1" {
			t.Errorf("Identifier = %q, want scanner-1", relay.Identifier)
		}
	})

	t.Run("relay without server", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Log.Output = "relay"
		cfg.Log.Server = ""
		if _, _, err := newRecorder(cfg, "scanner-1"); err == nil {
			t.Error("newRecorder accepted a relay backend with no server URL, want error")
		}
	})

	t.Run("unknown backend", func(t *testing.T) {
		cfg := testConfig(t)
		cfg.Log.Output = "carrier-pigeon"
		if _, _, err := newRecorder(cfg, "scanner-1"); err == nil {
			t.Error("newRecorder accepted an unknown backend, want error")
		}
	})
}
