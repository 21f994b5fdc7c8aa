package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "hostwatch.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadFile_FullConfig(t *testing.T) {
	path := writeConfig(t, `
intervals:
  report: 30m
  check: 1m
  login_watch: 5s
thresholds:
  cpu_percent: 85
  ram_percent: 95
  disk_percent: 80
alerts:
  on_login: true
  on_suspicious: true
  allow_processes: [folding-at-home]
collect:
  mounts: ["/", "/var", "/home"]
delivery:
  chunk_delay: 250ms
storage:
  channels_db: /tmp/ch.db
  retention_days: 7
status:
  addr: "127.0.0.1:9180"
`)

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.Intervals.Report != 30*time.Minute || cfg.Intervals.Check != time.Minute {
		t.Errorf("intervals = %+v", cfg.Intervals)
	}
	if cfg.Thresholds.CPUPercent != 85 || cfg.Thresholds.DiskPercent != 80 {
		t.Errorf("thresholds = %+v", cfg.Thresholds)
	}
	if !*cfg.Alerts.OnLogin || len(cfg.Alerts.AllowProcesses) != 1 {
		t.Errorf("alerts = %+v", cfg.Alerts)
	}
	if len(cfg.Collect.Mounts) != 3 {
		t.Errorf("mounts = %v", cfg.Collect.Mounts)
	}
	if cfg.Delivery.ChunkDelay != 250*time.Millisecond {
		t.Errorf("chunk delay = %v", cfg.Delivery.ChunkDelay)
	}
	if cfg.Storage.ChannelsDB != "/tmp/ch.db" || cfg.Storage.RetentionDays != 7 {
		t.Errorf("storage = %+v", cfg.Storage)
	}
	if cfg.Status.Addr != "127.0.0.1:9180" {
		t.Errorf("status = %+v", cfg.Status)
	}

	// Unset fields still get defaults.
	if cfg.Delivery.MaxAttempts != 3 || cfg.Intervals.ShutdownGrace != 10*time.Second {
		t.Errorf("defaults not applied: %+v", cfg.Delivery)
	}
}

func TestLoadFile_EmptyGetsDefaults(t *testing.T) {
	cfg, err := LoadFile(writeConfig(t, ""))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Intervals.Report != time.Hour || cfg.Intervals.Check != 5*time.Minute {
		t.Errorf("intervals = %+v", cfg.Intervals)
	}
	if cfg.Thresholds.CPUPercent != 90 {
		t.Errorf("thresholds = %+v", cfg.Thresholds)
	}
	if cfg.Collect.Mounts[0] != "/" {
		t.Errorf("mounts = %v", cfg.Collect.Mounts)
	}
	if cfg.Status.Addr != "" {
		t.Errorf("status endpoint should default to disabled, got %q", cfg.Status.Addr)
	}
}

func TestLoadFile_AlertTogglesDefaultOn(t *testing.T) {
	// A config omitting the alerts block must not silently disable the
	// login and suspicious categories.
	cfg, err := LoadFile(writeConfig(t, "intervals:\n  check: 1m\n"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !*cfg.Alerts.OnLogin || !*cfg.Alerts.OnSuspicious {
		t.Errorf("alert toggles = %v/%v, want both on",
			*cfg.Alerts.OnLogin, *cfg.Alerts.OnSuspicious)
	}

	// An explicit false is a choice and stays off.
	cfg, err = LoadFile(writeConfig(t, "alerts:\n  on_login: false\n"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if *cfg.Alerts.OnLogin {
		t.Error("explicit on_login: false was overridden")
	}
	if !*cfg.Alerts.OnSuspicious {
		t.Error("omitted on_suspicious should default on")
	}

	if def := Default(); !*def.Alerts.OnLogin || !*def.Alerts.OnSuspicious {
		t.Errorf("Default() toggles = %v/%v, want both on",
			*def.Alerts.OnLogin, *def.Alerts.OnSuspicious)
	}
}

func TestLoadFile_ExplicitThresholdsNotOverridden(t *testing.T) {
	// Setting only one threshold keeps the others disabled rather than
	// silently re-enabling the defaults.
	cfg, err := LoadFile(writeConfig(t, "thresholds:\n  cpu_percent: 50\n"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Thresholds.CPUPercent != 50 || cfg.Thresholds.RAMPercent != 0 {
		t.Errorf("thresholds = %+v", cfg.Thresholds)
	}
}

func TestLoadFile_Invalid(t *testing.T) {
	if _, err := LoadFile(writeConfig(t, "intervals: [not, a, map]")); err == nil {
		t.Fatal("malformed yaml accepted")
	}
	if _, err := LoadFile(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("missing file accepted")
	}
}

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.Storage.RetentionDays != 30 || cfg.Delivery.WatchPoll != time.Second {
		t.Errorf("defaults = %+v", cfg)
	}
}
