package config

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"
)

// DefaultConfigPath is the path to the canonical calibration defaults file.
const DefaultConfigPath = "config/calibration.defaults.json"

// CalibrationConfig holds the calibration pipeline settings. Every field is
// optional; the Get* methods fall back to the production defaults, so
// partial configs are safe.
type CalibrationConfig struct {
	// Feature extraction
	Window *string  `json:"window,omitempty"` // duration string like "6s"
	Alpha  *float64 `json:"alpha,omitempty"`

	// State tagging
	States []int `json:"states,omitempty"`
	// Canonicalise is "mean" (highest mean mhp state is active) or "std"
	// (two-state decodes: higher mhp spread is active).
	Canonicalise *string `json:"canonicalise,omitempty"`

	// Search space
	ThresholdMin *float64 `json:"threshold_min,omitempty"`
	ThresholdMax *float64 `json:"threshold_max,omitempty"`
	FilterMin    *int     `json:"filter_min,omitempty"`
	FilterMax    *int     `json:"filter_max,omitempty"`

	// Fixed detector params (seconds)
	AndonUptimeThreshold *float64 `json:"andon_uptime_threshold,omitempty"`
	MinCycleTime         *float64 `json:"min_cycle_time,omitempty"`

	// Optimiser
	Calls         *int    `json:"calls,omitempty"`
	InitialPoints *int    `json:"initial_points,omitempty"`
	Seed          *uint64 `json:"seed,omitempty"`
}

func ptrFloat64(v float64) *float64 { return &v }
func ptrString(v string) *string    { return &v }
func ptrInt(v int) *int             { return &v }
func ptrUint64(v uint64) *uint64    { return &v }

// DefaultCalibrationConfig returns a config with every field set to its default.
func DefaultCalibrationConfig() *CalibrationConfig {
	return &CalibrationConfig{
		Window:               ptrString("6s"),
		Alpha:                ptrFloat64(0.8),
		States:               []int{2, 3},
		Canonicalise:         ptrString("mean"),
		ThresholdMin:         ptrFloat64(0.1),
		ThresholdMax:         ptrFloat64(4.0),
		FilterMin:            ptrInt(0),
		FilterMax:            ptrInt(120),
		AndonUptimeThreshold: ptrFloat64(5),
		MinCycleTime:         ptrFloat64(0),
		Calls:                ptrInt(30),
		InitialPoints:        ptrInt(10),
		Seed:                 ptrUint64(314156),
	}
}

// LoadCalibrationConfig loads a CalibrationConfig from a JSON file.
// The file must have a .json extension and be under 1MB.
func LoadCalibrationConfig(path string) (*CalibrationConfig, error) {
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

	cfg := &CalibrationConfig{}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config JSON: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks that the configuration values are valid.
func (c *CalibrationConfig) Validate() error {
	if c.Window != nil && *c.Window != "" {
		d, err := time.ParseDuration(*c.Window)
		if err != nil {
			return fmt.Errorf("invalid window '%s': %w", *c.Window, err)
		}
		if d <= 0 {
			return fmt.Errorf("window must be positive, got %s", d)
		}
	}
	if c.Alpha != nil && (*c.Alpha < 0 || *c.Alpha >= 1) {
		return fmt.Errorf("alpha must be in [0, 1), got %f", *c.Alpha)
	}
	for _, k := range c.States {
		if k < 2 {
			return fmt.Errorf("states must be at least 2, got %d", k)
		}
	}

	switch v := c.GetCanonicalise(); v {
	case "mean", "std":
	default:
		return fmt.Errorf("canonicalise must be \"mean\" or \"std\", got %q", v)
	}

	lo, hi := c.GetThresholdBounds()
	if math.IsNaN(lo) || math.IsNaN(hi) || lo <= 0 || lo > hi {
		return fmt.Errorf("threshold bounds must satisfy 0 < min <= max, got [%f, %f]", lo, hi)
	}
	flo, fhi := c.GetFilterBounds()
	if flo < 0 || flo > fhi {
		return fmt.Errorf("filter bounds must satisfy 0 <= min <= max, got [%d, %d]", flo, fhi)
	}

	if v := c.GetAndonUptimeThreshold(); v < 0 {
		return fmt.Errorf("andon_uptime_threshold must be non-negative, got %f", v)
	}
	if v := c.GetMinCycleTime(); v < 0 {
		return fmt.Errorf("min_cycle_time must be non-negative, got %f", v)
	}
	if n := c.GetCalls(); n <= 0 {
		return fmt.Errorf("calls must be positive, got %d", n)
	}
	if n := c.GetInitialPoints(); n <= 0 || n > c.GetCalls() {
		return fmt.Errorf("initial_points must be in [1, calls], got %d", n)
	}
	return nil
}

// GetWindow parses and returns the feature window.
func (c *CalibrationConfig) GetWindow() time.Duration {
	if c.Window == nil || *c.Window == "" {
		return 6 * time.Second // default
	}
	d, err := time.ParseDuration(*c.Window)
	if err != nil {
		return 6 * time.Second // default on parse error
	}
	return d
}

// GetAlpha returns the gravity filter smoothing factor or the default.
func (c *CalibrationConfig) GetAlpha() float64 {
	if c.Alpha == nil {
		return 0.8
	}
	return *c.Alpha
}

// GetStates returns the candidate hidden state counts or the default.
func (c *CalibrationConfig) GetStates() []int {
	if len(c.States) == 0 {
		return []int{2, 3}
	}
	return append([]int(nil), c.States...)
}

// GetCanonicalise returns the state canonicalisation or "mean".
func (c *CalibrationConfig) GetCanonicalise() string {
	if c.Canonicalise == nil || *c.Canonicalise == "" {
		return "mean"
	}
	return *c.Canonicalise
}

// GetThresholdBounds returns the mhp_threshold search interval.
func (c *CalibrationConfig) GetThresholdBounds() (float64, float64) {
	lo, hi := 0.1, 4.0
	if c.ThresholdMin != nil {
		lo = *c.ThresholdMin
	}
	if c.ThresholdMax != nil {
		hi = *c.ThresholdMax
	}
	return lo, hi
}

// GetFilterBounds returns the filter size search interval in seconds.
func (c *CalibrationConfig) GetFilterBounds() (int, int) {
	lo, hi := 0, 120
	if c.FilterMin != nil {
		lo = *c.FilterMin
	}
	if c.FilterMax != nil {
		hi = *c.FilterMax
	}
	return lo, hi
}

// GetAndonUptimeThreshold returns the fixed andon bridge in seconds.
func (c *CalibrationConfig) GetAndonUptimeThreshold() float64 {
	if c.AndonUptimeThreshold == nil {
		return 5
	}
	return *c.AndonUptimeThreshold
}

// GetMinCycleTime returns the fixed min cycle time in seconds.
func (c *CalibrationConfig) GetMinCycleTime() float64 {
	if c.MinCycleTime == nil {
		return 0
	}
	return *c.MinCycleTime
}

// GetCalls returns the optimiser evaluation budget.
func (c *CalibrationConfig) GetCalls() int {
	if c.Calls == nil {
		return 30
	}
	return *c.Calls
}

// GetInitialPoints returns the number of random initial evaluations.
func (c *CalibrationConfig) GetInitialPoints() int {
	if c.InitialPoints == nil {
		return 10
	}
	return *c.InitialPoints
}

// GetSeed returns the optimiser seed.
func (c *CalibrationConfig) GetSeed() uint64 {
	if c.Seed == nil {
		return 314156
	}
	return *c.Seed
}
