package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/banshee-data/simstats/internal/units"
)

// DefaultConfigPath is the path to the canonical tuning defaults file.
const DefaultConfigPath = "config/tuning.defaults.json"

// TuningConfig holds the processing parameters shared by every simulation
// worker. All fields are optional; Get* methods supply defaults.
type TuningConfig struct {
	// Calibration
	PixPerMetre    *float64 `json:"pix_per_metre,omitempty"`
	TicksPerSecond *float64 `json:"ticks_per_second,omitempty"`

	// Statistics
	LowSpeed       *float64 `json:"low_speed,omitempty"`       // pixels/tick
	WindowSize     *int     `json:"window_size,omitempty"`     // samples per flow buffer
	CarLength      *float64 `json:"car_length,omitempty"`      // pixels
	QueueThreshold *float64 `json:"queue_threshold,omitempty"` // pixels between queued vehicles

	// Road network
	Lanes             *int     `json:"lanes,omitempty"`
	LaneWidth         *float64 `json:"lane_width,omitempty"`
	CorridorTolerance *float64 `json:"corridor_tolerance,omitempty"`
	FixRoads          *bool    `json:"fix_roads,omitempty"`

	// Step reconstruction
	StepTimeout   *string `json:"step_timeout,omitempty"`   // duration string like "30s"
	MaxStepLag    *int    `json:"max_step_lag,omitempty"`   // 0 disables lag eviction
	SweepInterval *string `json:"sweep_interval,omitempty"` // duration string like "1s"
}

func ptrFloat64(v float64) *float64 { return &v }
func ptrBool(v bool) *bool          { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }

// EmptyTuningConfig returns a TuningConfig with all fields set to nil.
func EmptyTuningConfig() *TuningConfig {
	return &TuningConfig{}
}

// DefaultTuningConfig returns a config with every field populated with its
// default value.
func DefaultTuningConfig() *TuningConfig {
	return &TuningConfig{
		PixPerMetre:       ptrFloat64(1.0),
		TicksPerSecond:    ptrFloat64(1.0),
		LowSpeed:          ptrFloat64(0.1),
		WindowSize:        ptrInt(10),
		CarLength:         ptrFloat64(8.0),
		QueueThreshold:    ptrFloat64(10.0),
		Lanes:             ptrInt(4),
		LaneWidth:         ptrFloat64(10.0),
		CorridorTolerance: ptrFloat64(-4.0),
		FixRoads:          ptrBool(false),
		StepTimeout:       ptrString("30s"),
		MaxStepLag:        ptrInt(0),
		SweepInterval:     ptrString("1s"),
	}
}

// LoadTuningConfig loads a TuningConfig from a JSON file.
// The file must have a .json extension and be under 1MB. Fields omitted from
// the JSON keep their defaults, so partial configs are safe.
func LoadTuningConfig(path string) (*TuningConfig, error) {
	cleanPath := filepath.Clean(path)
	if ext := filepath.Ext(cleanPath); ext != ".json" {
		return nil, fmt.Errorf("config file must have .json extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	const maxFileSize = 1 * 1024 * 1024 // 1MB
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := EmptyTuningConfig()
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

// MustLoadDefaultConfig loads the canonical tuning defaults from DefaultConfigPath.
// It searches the current directory and common parent directories.
// Panics if the file cannot be loaded, intended for test setup.
func MustLoadDefaultConfig() *TuningConfig {
	candidates := []string{
		DefaultConfigPath,
		"../../" + DefaultConfigPath,    // from internal/config/
		"../../../" + DefaultConfigPath, // from internal/storage/sqlite/
	}
	for _, path := range candidates {
		if cfg, err := LoadTuningConfig(path); err == nil {
			return cfg
		}
	}
	panic("cannot find " + DefaultConfigPath + " - run tests from repository root")
}

// Validate checks that the configuration values are valid.
func (c *TuningConfig) Validate() error {
	for name, v := range map[string]*float64{
		"pix_per_metre":    c.PixPerMetre,
		"ticks_per_second": c.TicksPerSecond,
		"car_length":       c.CarLength,
		"lane_width":       c.LaneWidth,
		"queue_threshold":  c.QueueThreshold,
	} {
		if v != nil && *v <= 0 {
			return fmt.Errorf("%s must be positive, got %f", name, *v)
		}
	}

	if c.LowSpeed != nil && *c.LowSpeed < 0 {
		return fmt.Errorf("low_speed must be non-negative, got %f", *c.LowSpeed)
	}
	if c.WindowSize != nil && *c.WindowSize < 1 {
		return fmt.Errorf("window_size must be at least 1, got %d", *c.WindowSize)
	}
	if c.Lanes != nil && *c.Lanes < 1 {
		return fmt.Errorf("lanes must be at least 1, got %d", *c.Lanes)
	}
	if c.CorridorTolerance != nil && *c.CorridorTolerance > 0 {
		return fmt.Errorf("corridor_tolerance must not be positive, got %f", *c.CorridorTolerance)
	}
	if c.MaxStepLag != nil && *c.MaxStepLag < 0 {
		return fmt.Errorf("max_step_lag must be non-negative, got %d", *c.MaxStepLag)
	}

	for name, v := range map[string]*string{
		"step_timeout":   c.StepTimeout,
		"sweep_interval": c.SweepInterval,
	} {
		if v == nil || *v == "" {
			continue
		}
		d, err := time.ParseDuration(*v)
		if err != nil {
			return fmt.Errorf("invalid %s '%s': %w", name, *v, err)
		}
		if d < 0 {
			return fmt.Errorf("%s must be non-negative, got %s", name, d)
		}
	}

	return nil
}

// GetCalibration returns the pixel/tick calibration.
func (c *TuningConfig) GetCalibration() units.Calibration {
	cal := units.DefaultCalibration()
	if c.PixPerMetre != nil {
		cal.PixPerMetre = *c.PixPerMetre
	}
	if c.TicksPerSecond != nil {
		cal.TicksPerSecond = *c.TicksPerSecond
	}
	return cal
}

// GetLowSpeed returns the low_speed value or the default.
func (c *TuningConfig) GetLowSpeed() float64 {
	if c.LowSpeed == nil {
		return 0.1
	}
	return *c.LowSpeed
}

// GetWindowSize returns the window_size value or the default.
func (c *TuningConfig) GetWindowSize() int {
	if c.WindowSize == nil {
		return 10
	}
	return *c.WindowSize
}

// GetCarLength returns the car_length value or the default.
func (c *TuningConfig) GetCarLength() float64 {
	if c.CarLength == nil {
		return 8.0
	}
	return *c.CarLength
}

// GetQueueThreshold returns the queue_threshold value or the default.
func (c *TuningConfig) GetQueueThreshold() float64 {
	if c.QueueThreshold == nil {
		return 10.0
	}
	return *c.QueueThreshold
}

// GetLanes returns the lanes value or the default.
func (c *TuningConfig) GetLanes() int {
	if c.Lanes == nil {
		return 4
	}
	return *c.Lanes
}

// GetLaneWidth returns the lane_width value or the default.
func (c *TuningConfig) GetLaneWidth() float64 {
	if c.LaneWidth == nil {
		return 10.0
	}
	return *c.LaneWidth
}

// GetCorridorTolerance returns the corridor_tolerance value or the default.
func (c *TuningConfig) GetCorridorTolerance() float64 {
	if c.CorridorTolerance == nil {
		return -4.0
	}
	return *c.CorridorTolerance
}

// GetFixRoads returns the fix_roads value or the default.
func (c *TuningConfig) GetFixRoads() bool {
	if c.FixRoads == nil {
		return false
	}
	return *c.FixRoads
}

// GetStepTimeout parses and returns the StepTimeout. Zero disables timeout
// eviction.
func (c *TuningConfig) GetStepTimeout() time.Duration {
	if c.StepTimeout == nil || *c.StepTimeout == "" {
		return 30 * time.Second
	}
	d, err := time.ParseDuration(*c.StepTimeout)
	if err != nil {
		return 30 * time.Second
	}
	return d
}

// GetMaxStepLag returns the max_step_lag value or the default.
func (c *TuningConfig) GetMaxStepLag() int {
	if c.MaxStepLag == nil {
		return 0
	}
	return *c.MaxStepLag
}

// GetSweepInterval parses and returns the SweepInterval.
func (c *TuningConfig) GetSweepInterval() time.Duration {
	if c.SweepInterval == nil || *c.SweepInterval == "" {
		return time.Second
	}
	d, err := time.ParseDuration(*c.SweepInterval)
	if err != nil || d <= 0 {
		return time.Second
	}
	return d
}
