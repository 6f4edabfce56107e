package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefaultTuningConfig(t *testing.T) {
	cfg := DefaultTuningConfig()

	if cfg.LowSpeed == nil || *cfg.LowSpeed != 0.1 {
		t.Errorf("Expected LowSpeed 0.1, got %v", cfg.LowSpeed)
	}
	if cfg.StepTimeout == nil || *cfg.StepTimeout != "30s" {
		t.Errorf("Expected StepTimeout '30s', got %v", cfg.StepTimeout)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}

	if cfg.GetWindowSize() != 10 {
		t.Errorf("GetWindowSize() = %d, want 10", cfg.GetWindowSize())
	}
	if cfg.GetLanes() != 4 {
		t.Errorf("GetLanes() = %d, want 4", cfg.GetLanes())
	}
	if cfg.GetStepTimeout() != 30*time.Second {
		t.Errorf("GetStepTimeout() = %v, want 30s", cfg.GetStepTimeout())
	}
}

func TestEmptyConfigGetters(t *testing.T) {
	cfg := EmptyTuningConfig()
	def := DefaultTuningConfig()

	if cfg.GetLowSpeed() != *def.LowSpeed {
		t.Errorf("GetLowSpeed() = %v, want %v", cfg.GetLowSpeed(), *def.LowSpeed)
	}
	if cfg.GetCarLength() != *def.CarLength {
		t.Errorf("GetCarLength() = %v, want %v", cfg.GetCarLength(), *def.CarLength)
	}
	if cfg.GetQueueThreshold() != *def.QueueThreshold {
		t.Errorf("GetQueueThreshold() = %v, want %v", cfg.GetQueueThreshold(), *def.QueueThreshold)
	}
	if cfg.GetLaneWidth() != *def.LaneWidth {
		t.Errorf("GetLaneWidth() = %v, want %v", cfg.GetLaneWidth(), *def.LaneWidth)
	}
	if cfg.GetCorridorTolerance() != *def.CorridorTolerance {
		t.Errorf("GetCorridorTolerance() = %v, want %v", cfg.GetCorridorTolerance(), *def.CorridorTolerance)
	}
	if cfg.GetFixRoads() {
		t.Error("GetFixRoads() = true, want false")
	}
	if cfg.GetMaxStepLag() != 0 {
		t.Errorf("GetMaxStepLag() = %d, want 0", cfg.GetMaxStepLag())
	}
	if cfg.GetSweepInterval() != time.Second {
		t.Errorf("GetSweepInterval() = %v, want 1s", cfg.GetSweepInterval())
	}
	cal := cfg.GetCalibration()
	if cal.PixPerMetre != 1 || cal.TicksPerSecond != 1 {
		t.Errorf("GetCalibration() = %+v, want unit calibration", cal)
	}
}

func TestLoadTuningConfig(t *testing.T) {
	tmpDir := t.TempDir()
	configPath := filepath.Join(tmpDir, "test_config.json")

	testJSON := `{
  "pix_per_metre": 2.5,
  "ticks_per_second": 10,
  "lanes": 2,
  "fix_roads": true,
  "step_timeout": "5s",
  "max_step_lag": 50
}`
	if err := os.WriteFile(configPath, []byte(testJSON), 0644); err != nil {
		t.Fatalf("Failed to write test config: %v", err)
	}

	cfg, err := LoadTuningConfig(configPath)
	if err != nil {
		t.Fatalf("LoadTuningConfig failed: %v", err)
	}

	cal := cfg.GetCalibration()
	if cal.PixPerMetre != 2.5 || cal.TicksPerSecond != 10 {
		t.Errorf("calibration = %+v", cal)
	}
	if cfg.GetLanes() != 2 {
		t.Errorf("GetLanes() = %d, want 2", cfg.GetLanes())
	}
	if !cfg.GetFixRoads() {
		t.Error("GetFixRoads() = false, want true")
	}
	if cfg.GetStepTimeout() != 5*time.Second {
		t.Errorf("GetStepTimeout() = %v, want 5s", cfg.GetStepTimeout())
	}
	if cfg.GetMaxStepLag() != 50 {
		t.Errorf("GetMaxStepLag() = %d, want 50", cfg.GetMaxStepLag())
	}
	// Omitted fields keep defaults.
	if cfg.GetWindowSize() != 10 {
		t.Errorf("GetWindowSize() = %d, want 10", cfg.GetWindowSize())
	}
}

func TestLoadTuningConfigErrors(t *testing.T) {
	tmpDir := t.TempDir()

	write := func(name, body string) string {
		p := filepath.Join(tmpDir, name)
		if err := os.WriteFile(p, []byte(body), 0644); err != nil {
			t.Fatalf("write %s: %v", name, err)
		}
		return p
	}

	tests := []struct {
		name    string
		path    string
		wantErr string
	}{
		{"wrong extension", write("c.yaml", "{}"), ".json extension"},
		{"missing file", filepath.Join(tmpDir, "nope.json"), "failed to stat"},
		{"bad json", write("bad.json", "{"), "failed to parse"},
		{"negative lanes", write("lanes.json", `{"lanes": 0}`), "lanes must be at least 1"},
		{"bad duration", write("dur.json", `{"step_timeout": "soon"}`), "invalid step_timeout"},
		{"zero calibration", write("cal.json", `{"pix_per_metre": 0}`), "pix_per_metre must be positive"},
		{"positive tolerance", write("tol.json", `{"corridor_tolerance": 1}`), "corridor_tolerance"},
		{"negative lag", write("lag.json", `{"max_step_lag": -1}`), "max_step_lag"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadTuningConfig(tt.path)
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("error %q does not contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoadTuningConfigTooLarge(t *testing.T) {
	p := filepath.Join(t.TempDir(), "big.json")
	big := make([]byte, 1024*1024+1)
	for i := range big {
		big[i] = ' '
	}
	if err := os.WriteFile(p, big, 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := LoadTuningConfig(p); err == nil || !strings.Contains(err.Error(), "too large") {
		t.Errorf("expected too large error, got %v", err)
	}
}

func TestMustLoadDefaultConfigMatchesDefaults(t *testing.T) {
	cfg := MustLoadDefaultConfig()
	def := DefaultTuningConfig()

	if cfg.GetLowSpeed() != def.GetLowSpeed() ||
		cfg.GetWindowSize() != def.GetWindowSize() ||
		cfg.GetCarLength() != def.GetCarLength() ||
		cfg.GetLanes() != def.GetLanes() ||
		cfg.GetStepTimeout() != def.GetStepTimeout() {
		t.Errorf("defaults file drifted from DefaultTuningConfig: %+v", cfg)
	}
}
