package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Addr != ":8080" {
		t.Errorf("Addr = %q", cfg.Server.Addr)
	}
	if cfg.Sync.Label != "INBOX" || cfg.Sync.WindowDays != 7 {
		t.Errorf("sync defaults = %+v", cfg.Sync)
	}
	if cfg.Sync.MaxListResults != 1000 || cfg.Sync.PageSize != 100 {
		t.Errorf("list defaults = %+v", cfg.Sync)
	}
	if cfg.Sync.CallTimeout != 30*time.Second {
		t.Errorf("CallTimeout = %v", cfg.Sync.CallTimeout)
	}
	if !cfg.Sync.AdvanceOnPartial {
		t.Error("AdvanceOnPartial should default to true")
	}
	if cfg.Log.Level != "info" {
		t.Errorf("Level = %q", cfg.Log.Level)
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	data := `
server:
  addr: ":9090"
sync:
  label: IMPORTANT
  window_days: 30
  mark_read: true
log:
  level: debug
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Addr != ":9090" {
		t.Errorf("Addr = %q", cfg.Server.Addr)
	}
	if cfg.Sync.Label != "IMPORTANT" || cfg.Sync.WindowDays != 30 || !cfg.Sync.MarkRead {
		t.Errorf("sync = %+v", cfg.Sync)
	}
	// Untouched keys keep their defaults.
	if cfg.Sync.FetchConcurrency != 10 {
		t.Errorf("FetchConcurrency = %d", cfg.Sync.FetchConcurrency)
	}
	if cfg.Log.Level != "debug" {
		t.Errorf("Level = %q", cfg.Log.Level)
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Sync.Label != "INBOX" {
		t.Errorf("Label = %q", cfg.Sync.Label)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("SERVER_ADDR", ":7070")
	t.Setenv("SYNC_LABEL", "STARRED")
	t.Setenv("SYNC_WINDOW_DAYS", "14")
	t.Setenv("SYNC_ADVANCE_ON_PARTIAL", "false")
	t.Setenv("SYNC_PAGE_SIZE", "50")
	t.Setenv("SYNC_CALL_TIMEOUT", "45s")
	t.Setenv("NATS_URL", "nats://localhost:4222")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}

	if cfg.Server.Addr != ":7070" {
		t.Errorf("Addr = %q", cfg.Server.Addr)
	}
	if cfg.Sync.Label != "STARRED" || cfg.Sync.WindowDays != 14 {
		t.Errorf("sync = %+v", cfg.Sync)
	}
	if cfg.Sync.AdvanceOnPartial {
		t.Error("AdvanceOnPartial override not applied")
	}
	if cfg.Sync.PageSize != 50 {
		t.Errorf("PageSize = %d", cfg.Sync.PageSize)
	}
	if cfg.Sync.CallTimeout != 45*time.Second {
		t.Errorf("CallTimeout = %v", cfg.Sync.CallTimeout)
	}
	if cfg.NATS.URL != "nats://localhost:4222" {
		t.Errorf("NATS URL = %q", cfg.NATS.URL)
	}
}
