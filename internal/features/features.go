// Package features derives per-timestamp vibration features from raw
// triaxial acceleration: magnitude, magnitude high-pass (mhp) and
// gravity-compensated magnitude.
package features

import (
	"errors"
	"fmt"
	"math"
	"time"

	"gonum.org/v1/gonum/floats"

	"github.com/banshee-data/downtime.report/internal/accel"
	"github.com/banshee-data/downtime.report/internal/monitoring"
)

const (
	// DefaultWindow is the trailing window of the mhp rolling mean.
	DefaultWindow = 3 * time.Second

	// CalibrationWindow is the mhp window used by the calibration pipeline.
	CalibrationWindow = 6 * time.Second

	// DefaultAlpha is the smoothing factor of the gravity estimate.
	DefaultAlpha = 0.8
)

// ErrInsufficientData is returned when the samples cannot fill one feature
// window, so no fully determined row can be produced.
var ErrInsufficientData = errors.New("insufficient data")

// Options configures feature extraction.
type Options struct {
	Window time.Duration
	Alpha  float64
}

// DefaultOptions returns the dashboard defaults (3s window, alpha 0.8).
func DefaultOptions() Options {
	return Options{Window: DefaultWindow, Alpha: DefaultAlpha}
}

// Record is one row of the feature table.
type Record struct {
	Timestamp time.Time
	Raw       accel.Vector
	Magnitude float64
	// MHP is NaN until the trailing window has filled.
	MHP       float64
	NoGravity float64
}

// Table is a time-ordered feature table. It is read-only once built.
type Table struct {
	Records []Record
	// Window is the mhp window the table was built with.
	Window time.Duration
}

// Len returns the number of rows.
func (t *Table) Len() int { return len(t.Records) }

// Timestamps returns the row timestamps.
func (t *Table) Timestamps() []time.Time {
	out := make([]time.Time, len(t.Records))
	for i, r := range t.Records {
		out[i] = r.Timestamp
	}
	return out
}

// MHP returns the mhp column.
func (t *Table) MHP() []float64 {
	out := make([]float64, len(t.Records))
	for i, r := range t.Records {
		out[i] = r.MHP
	}
	return out
}

// Extract builds the feature table for samples sorted by timestamp.
func Extract(samples []accel.Sample, opts Options) (*Table, error) {
	if opts.Window <= 0 {
		return nil, fmt.Errorf("%w: mhp window must be positive, got %s", accel.ErrSchema, opts.Window)
	}
	if opts.Alpha < 0 || opts.Alpha >= 1 {
		return nil, fmt.Errorf("%w: alpha must be in [0, 1), got %g", accel.ErrSchema, opts.Alpha)
	}
	if len(samples) == 0 {
		return nil, fmt.Errorf("%w: no samples", ErrInsufficientData)
	}
	if err := accel.Validate(samples); err != nil {
		return nil, err
	}

	monitoring.Logf("using parameters mhp_window_size: %s and alpha: %g", opts.Window, opts.Alpha)

	mhp := MagnitudeHighPass(samples, opts.Window)
	noGravity := GravityFreeMagnitude(samples, opts.Alpha)

	t := &Table{Records: make([]Record, len(samples)), Window: opts.Window}
	for i, s := range samples {
		t.Records[i] = Record{
			Timestamp: s.Timestamp,
			Raw:       s.Acceleration,
			Magnitude: s.Acceleration.Magnitude(),
			MHP:       mhp[i],
			NoGravity: noGravity[i],
		}
	}
	return t, nil
}

// MagnitudeHighPass subtracts from each axis its mean over the trailing time
// window (t-window, t] and returns the Euclidean norm of the residual. Rows
// earlier than first+window are NaN. Only past samples contribute to a row.
func MagnitudeHighPass(samples []accel.Sample, window time.Duration) []float64 {
	out := make([]float64, len(samples))
	if len(samples) == 0 {
		return out
	}
	first := samples[0].Timestamp

	var sum [3]float64
	lo := 0
	residual := make([]float64, 3)
	for i, s := range samples {
		for axis := 0; axis < 3; axis++ {
			sum[axis] += s.Acceleration.Axis(axis)
		}
		for lo < i && !samples[lo].Timestamp.After(s.Timestamp.Add(-window)) {
			for axis := 0; axis < 3; axis++ {
				sum[axis] -= samples[lo].Acceleration.Axis(axis)
			}
			lo++
		}
		if s.Timestamp.Sub(first) < window {
			out[i] = math.NaN()
			continue
		}
		n := float64(i - lo + 1)
		for axis := 0; axis < 3; axis++ {
			residual[axis] = s.Acceleration.Axis(axis) - sum[axis]/n
		}
		out[i] = floats.Norm(residual, 2)
	}
	return out
}

// GravityFreeMagnitude removes an exponentially smoothed gravity estimate,
// seeded at the first sample, from each axis and returns the norm of the
// remainder.
func GravityFreeMagnitude(samples []accel.Sample, alpha float64) []float64 {
	out := make([]float64, len(samples))
	if len(samples) == 0 {
		return out
	}
	var gravity [3]float64
	for axis := 0; axis < 3; axis++ {
		gravity[axis] = samples[0].Acceleration.Axis(axis)
	}
	linear := make([]float64, 3)
	for i, s := range samples {
		for axis := 0; axis < 3; axis++ {
			v := s.Acceleration.Axis(axis)
			if i > 0 {
				gravity[axis] = alpha*gravity[axis] + (1-alpha)*v
			}
			linear[axis] = v - gravity[axis]
		}
		out[i] = floats.Norm(linear, 2)
	}
	return out
}

// DropTransient removes every row earlier than first+window so that all
// retained mhp values are fully determined. It fails with ErrInsufficientData
// when nothing remains.
func (t *Table) DropTransient(window time.Duration) (*Table, error) {
	if len(t.Records) == 0 {
		return nil, fmt.Errorf("%w: empty feature table", ErrInsufficientData)
	}
	start := t.Records[0].Timestamp.Add(window)
	for i, r := range t.Records {
		if r.Timestamp.Before(start) {
			continue
		}
		kept := make([]Record, len(t.Records)-i)
		copy(kept, t.Records[i:])
		return &Table{Records: kept, Window: t.Window}, nil
	}
	return nil, fmt.Errorf("%w: %d samples span less than the %s feature window",
		ErrInsufficientData, len(t.Records), window)
}
