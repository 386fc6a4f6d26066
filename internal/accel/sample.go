// Package accel holds raw triaxial acceleration samples and the boundary
// codecs (JSON request bodies and dashboard CSV uploads) that produce them.
package accel

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/banshee-data/downtime.report/internal/monitoring"
)

// ErrSchema reports input samples that are missing required fields or carry
// non-finite values. Callers discriminate it with errors.Is.
var ErrSchema = errors.New("schema error")

// TimestampLayout is the microsecond timestamp format used by the gateway
// (%Y-%m-%dT%H:%M:%S.%f).
const TimestampLayout = "2006-01-02T15:04:05.000000"

// Vector is one acceleration reading in sensor units.
type Vector struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Axis returns the i-th component (0=x, 1=y, 2=z).
func (v Vector) Axis(i int) float64 {
	switch i {
	case 0:
		return v.X
	case 1:
		return v.Y
	default:
		return v.Z
	}
}

// Magnitude returns the Euclidean norm of the vector.
func (v Vector) Magnitude() float64 {
	return math.Sqrt(v.X*v.X + v.Y*v.Y + v.Z*v.Z)
}

// Sample is one timestamped acceleration reading.
type Sample struct {
	Timestamp    time.Time `json:"timestamp"`
	Acceleration Vector    `json:"acceleration"`
}

// Validate checks that every sample carries a timestamp and finite axes.
// It does not require timestamps to be strictly increasing; a decreasing
// timestamp is logged as a warning only.
func Validate(samples []Sample) error {
	warned := false
	for i, s := range samples {
		if s.Timestamp.IsZero() {
			return fmt.Errorf("%w: sample %d has no timestamp", ErrSchema, i)
		}
		for axis := 0; axis < 3; axis++ {
			v := s.Acceleration.Axis(axis)
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return fmt.Errorf("%w: sample %d axis %s is not finite", ErrSchema, i, axisName(axis))
			}
		}
		if !warned && i > 0 && s.Timestamp.Before(samples[i-1].Timestamp) {
			monitoring.Logf("WARNING: sample timestamps are not monotonically increasing (index %d)", i)
			warned = true
		}
	}
	return nil
}

// SelectRange returns the samples whose timestamps fall within [start, stop].
// A zero start or stop leaves that side open. Ranges outside the data or with
// start after stop are rejected.
func SelectRange(samples []Sample, start, stop time.Time) ([]Sample, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("%w: no samples to select from", ErrSchema)
	}
	first, last := samples[0].Timestamp, samples[len(samples)-1].Timestamp
	if start.IsZero() {
		start = first
	}
	if stop.IsZero() {
		stop = last
	}
	if start.Equal(stop) {
		return nil, fmt.Errorf("%w: start and stop are equal", ErrSchema)
	}
	if start.After(stop) {
		return nil, fmt.Errorf("%w: start %s is after stop %s", ErrSchema,
			start.Format(TimestampLayout), stop.Format(TimestampLayout))
	}
	if start.After(last) || stop.Before(first) {
		return nil, fmt.Errorf("%w: range [%s, %s] is outside the time series", ErrSchema,
			start.Format(TimestampLayout), stop.Format(TimestampLayout))
	}

	out := make([]Sample, 0, len(samples))
	for _, s := range samples {
		if s.Timestamp.Before(start) || s.Timestamp.After(stop) {
			continue
		}
		out = append(out, s)
	}
	return out, nil
}

func axisName(i int) string {
	return [...]string{"x", "y", "z"}[i]
}
