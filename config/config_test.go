package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	chdir(t, t.TempDir())
	for _, k := range []string{"REDIS_ADDR", "GAP_THRESHOLD", "SYMBOLS", "SNAPSHOT_INTERVAL_SEC", "DECISION_LOG", "BAR_CACHE_TTL_SEC"} {
		t.Setenv(k, "")
	}

	cfg := Load()
	if cfg.RedisAddr != "localhost:6379" {
		t.Errorf("RedisAddr = %q", cfg.RedisAddr)
	}
	if cfg.GapThreshold != 4 {
		t.Errorf("GapThreshold = %d, want 4", cfg.GapThreshold)
	}
	if cfg.Symbols != nil {
		t.Errorf("Symbols = %v, want nil", cfg.Symbols)
	}
	if cfg.SnapshotInterval != time.Minute {
		t.Errorf("SnapshotInterval = %v", cfg.SnapshotInterval)
	}
	if cfg.DecisionLog || cfg.BarCacheTTL != 0 {
		t.Errorf("optional features should default off: %+v", cfg)
	}
}

func TestLoad_Overrides(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("SYMBOLS", " AAPL, MSFT,,AAPL ")
	t.Setenv("GAP_THRESHOLD", "2")
	t.Setenv("DECISION_LOG", "true")
	t.Setenv("BAR_CACHE_TTL_SEC", "300")

	cfg := Load()
	if len(cfg.Symbols) != 2 || cfg.Symbols[0] != "AAPL" || cfg.Symbols[1] != "MSFT" {
		t.Errorf("Symbols = %v", cfg.Symbols)
	}
	if cfg.GapThreshold != 2 || !cfg.DecisionLog || cfg.BarCacheTTL != 5*time.Minute {
		t.Errorf("unexpected config %+v", cfg)
	}
}

func TestLoad_InvalidNumbersFallBack(t *testing.T) {
	chdir(t, t.TempDir())
	t.Setenv("GAP_THRESHOLD", "0")
	t.Setenv("SNAPSHOT_INTERVAL_SEC", "soon")
	t.Setenv("DECISION_LOG", "maybe")

	cfg := Load()
	if cfg.GapThreshold != 4 {
		t.Errorf("GapThreshold = %d, want fallback 4", cfg.GapThreshold)
	}
	if cfg.SnapshotInterval != time.Minute {
		t.Errorf("SnapshotInterval = %v, want fallback", cfg.SnapshotInterval)
	}
	if cfg.DecisionLog {
		t.Error("DecisionLog should fall back to false")
	}
}

func TestLoad_DotEnv(t *testing.T) {
	dir := t.TempDir()
	chdir(t, dir)
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("HTTP_ADDR=:7070\nSNAPSHOT_KEY=from-file\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("HTTP_ADDR", "")
	t.Setenv("SNAPSHOT_KEY", "from-env")

	cfg := Load()
	if cfg.HTTPAddr != ":7070" {
		t.Errorf("HTTPAddr = %q, want value from .env", cfg.HTTPAddr)
	}
	if cfg.SnapshotKey != "from-env" {
		t.Errorf("SnapshotKey = %q, existing env should win", cfg.SnapshotKey)
	}
}

// chdir is a stand-in for testing.T.Chdir (Go 1.24+): it changes the working
// directory for the duration of the test and restores it on cleanup.
func chdir(t *testing.T, dir string) {
	t.Helper()
	old, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() {
		if err := os.Chdir(old); err != nil {
			t.Fatal(err)
		}
	})
}
