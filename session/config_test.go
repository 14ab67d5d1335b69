package session_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/inkmill/chronicle/session"
)

func TestLoadConfigDefaults(t *testing.T) {
	c, err := session.LoadConfig("")
	if err != nil {
		t.Fatal(err)
	}
	if c.DBPath != "chronicle.db" {
		t.Fatalf("got db_path %q", c.DBPath)
	}
	if c.LogLevel != "info" {
		t.Fatalf("got log_level %q", c.LogLevel)
	}
	if c.Snapshot.KeepSnapshots != 4 {
		t.Fatalf("got keep_snapshots %d, want 4", c.Snapshot.KeepSnapshots)
	}
}

func TestLoadConfigFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chronicle.yaml")
	data := []byte(`
db_path: /var/lib/app/store.db
telemetry_db_path: /var/lib/app/telemetry.db
log_level: debug
snapshot:
  base_interval: 100
  force_after: 5m
  keep_snapshots: 8
grouping:
  idle_timeout: 250ms
`)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		t.Fatal(err)
	}

	c, err := session.LoadConfig(path)
	if err != nil {
		t.Fatal(err)
	}
	if c.DBPath != "/var/lib/app/store.db" || c.LogLevel != "debug" {
		t.Fatalf("got %+v", c)
	}
	if c.Snapshot.BaseInterval != 100 || c.Snapshot.ForceAfter.Std() != 5*time.Minute {
		t.Fatalf("snapshot config wrong: %+v", c.Snapshot)
	}
	if c.Snapshot.KeepSnapshots != 8 {
		t.Fatalf("got keep_snapshots %d", c.Snapshot.KeepSnapshots)
	}
	if c.Grouping.IdleTimeout.Std() != 250*time.Millisecond {
		t.Fatalf("got idle_timeout %v", c.Grouping.IdleTimeout)
	}
}

func TestLoadConfigMissingFile(t *testing.T) {
	if _, err := session.LoadConfig(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatal("expected error for unreadable path")
	}
}
