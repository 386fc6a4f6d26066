// Package mhpdt implements the magnitude high-pass downtime threshold
// detector: a threshold on mhp, an andon gap-bridging pass and two
// run-length hysteresis filters applied in a configurable order.
package mhpdt

import (
	"errors"
	"fmt"
	"math"
	"time"
)

// ModelType names the detector in calibration results.
const ModelType = "MHPDT"

// ErrInvalidParameter reports an out-of-range or negative parameter.
var ErrInvalidParameter = errors.New("invalid parameter")

// MaxSeconds is the longest duration parameter that fits a time.Duration.
const MaxSeconds = math.MaxInt64 / 1_000_000_000

// FilterOrder selects which run-length filter is applied first.
type FilterOrder string

const (
	DownFirst FilterOrder = "down"
	UpFirst   FilterOrder = "up"
)

// Params is a detector parameter snapshot. Durations are in seconds.
// Field order matches the model_params JSON shape.
type Params struct {
	MHPThreshold         float64     `json:"mhp_threshold"`
	MinCycleTime         float64     `json:"min_cycle_time"`
	AndonUptimeThreshold float64     `json:"andon_uptime_threshold"`
	UpFilterSize         int         `json:"up_filter_size"`
	DownFilterSize       int         `json:"down_filter_size"`
	FirstFilter          FilterOrder `json:"first_filter"`
}

// DefaultParams returns the manual-entry defaults of the dashboard.
func DefaultParams() Params {
	return Params{
		MHPThreshold:         0.1,
		MinCycleTime:         0,
		AndonUptimeThreshold: 5,
		UpFilterSize:         2,
		DownFilterSize:       2,
		FirstFilter:          DownFirst,
	}
}

// Validate checks value ranges.
func (p Params) Validate() error {
	if math.IsNaN(p.MHPThreshold) || math.IsInf(p.MHPThreshold, 0) || p.MHPThreshold <= 0 {
		return fmt.Errorf("%w: mhp_threshold must be a positive number, got %g", ErrInvalidParameter, p.MHPThreshold)
	}
	if err := checkSeconds("min_cycle_time", p.MinCycleTime); err != nil {
		return err
	}
	if err := checkSeconds("andon_uptime_threshold", p.AndonUptimeThreshold); err != nil {
		return err
	}
	if err := checkSeconds("up_filter_size", float64(p.UpFilterSize)); err != nil {
		return err
	}
	if err := checkSeconds("down_filter_size", float64(p.DownFilterSize)); err != nil {
		return err
	}
	switch p.FirstFilter {
	case DownFirst, UpFirst:
	default:
		return fmt.Errorf("%w: first_filter must be %q or %q, got %q", ErrInvalidParameter, DownFirst, UpFirst, p.FirstFilter)
	}
	return nil
}

func checkSeconds(name string, v float64) error {
	if math.IsNaN(v) || v < 0 {
		return fmt.Errorf("%w: %s must be non-negative, got %g", ErrInvalidParameter, name, v)
	}
	if v > MaxSeconds {
		return fmt.Errorf("%w: %s must be at most %d seconds, got %g", ErrInvalidParameter, name, int64(MaxSeconds), v)
	}
	return nil
}

// Seconds converts a duration in (fractional) seconds.
func Seconds(s float64) time.Duration {
	return time.Duration(math.Round(s * float64(time.Second)))
}
