package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfigValidatesForSynthetic(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Stream.Synthetic = true
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestValidateRejectsMissingSource(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Stream.Source = "/nonexistent/path/for/rngwatch/tests"
	cfg.Stream.Synthetic = false
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected an error for a nonexistent device path")
	}
}

func TestValidateRejectsBadAlpha(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Stream.Synthetic = true
	cfg.Detector.Alpha = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected an error for alpha=0")
	}
}

func TestValidateRejectsZeroProcesses(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Stream.Synthetic = true
	cfg.Stream.Processes = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected an error for processes=0")
	}
}

func TestLoadMissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "does-not-exist.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Detector.Alpha != DefaultConfig().Detector.Alpha {
		t.Errorf("expected default alpha, got %v", cfg.Detector.Alpha)
	}
}

func TestLoadParsesYAMLAndAppliesEnvOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rngwatch.yaml")
	yamlBody := "stream:\n  synthetic: true\n  processes: 4\n  live_interval: 2s\ndetector:\n  alpha: 0.001\n"
	if err := os.WriteFile(path, []byte(yamlBody), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	t.Setenv("RNGWATCH_METRICS_LISTEN", ":9999")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Stream.Processes != 4 {
		t.Errorf("Processes = %d, want 4", cfg.Stream.Processes)
	}
	if cfg.Detector.Alpha != 0.001 {
		t.Errorf("Alpha = %v, want 0.001", cfg.Detector.Alpha)
	}
	if time.Duration(cfg.Stream.LiveInterval) != 2*time.Second {
		t.Errorf("LiveInterval = %v, want 2s", cfg.Stream.LiveInterval)
	}
	if cfg.Telemetry.MetricsListen != ":9999" {
		t.Errorf("MetricsListen = %q, want %q (env override)", cfg.Telemetry.MetricsListen, ":9999")
	}
}

func TestSaveRoundTrips(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Stream.Synthetic = true
	path := filepath.Join(t.TempDir(), "out.yaml")
	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save: %v", err)
	}
	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if loaded.Stream.Processes != cfg.Stream.Processes {
		t.Errorf("Processes after round trip = %d, want %d", loaded.Stream.Processes, cfg.Stream.Processes)
	}
}
