package features

import (
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/downtime.report/internal/accel"
	"github.com/banshee-data/downtime.report/internal/monitoring"
)

var t0 = time.Date(2021, 3, 4, 10, 0, 0, 0, time.UTC)

func constantSamples(n int, step time.Duration, v accel.Vector) []accel.Sample {
	out := make([]accel.Sample, n)
	for i := range out {
		out[i] = accel.Sample{Timestamp: t0.Add(time.Duration(i) * step), Acceleration: v}
	}
	return out
}

func TestExtract_Magnitude(t *testing.T) {
	defer monitoring.Quiet()()

	table, err := Extract(constantSamples(4, time.Second, accel.Vector{X: 3, Y: 4}), DefaultOptions())
	require.NoError(t, err)
	for _, r := range table.Records {
		assert.Equal(t, 5.0, r.Magnitude)
	}
}

func TestExtract_ConstantInputConvergesToZero(t *testing.T) {
	defer monitoring.Quiet()()

	samples := constantSamples(20, 500*time.Millisecond, accel.Vector{X: 0.2, Y: -0.1, Z: 9.81})
	table, err := Extract(samples, Options{Window: 3 * time.Second, Alpha: 0.8})
	require.NoError(t, err)

	for i, r := range table.Records {
		elapsed := r.Timestamp.Sub(t0)
		if elapsed < 3*time.Second {
			assert.True(t, math.IsNaN(r.MHP), "row %d should be NaN before the window fills", i)
			continue
		}
		assert.InDelta(t, 0, r.MHP, 1e-9, "row %d", i)
		assert.InDelta(t, 0, r.NoGravity, 1e-9, "row %d", i)
	}

	dropped, err := table.DropTransient(3 * time.Second)
	require.NoError(t, err)
	assert.Equal(t, 14, dropped.Len())
	for i, v := range dropped.MHP() {
		assert.False(t, math.IsNaN(v), "row %d still undefined after dropping transient", i)
	}
	assert.True(t, dropped.Records[0].Timestamp.Equal(t0.Add(3*time.Second)))
}

func TestMagnitudeHighPass_TrailingWindow(t *testing.T) {
	// x steps from 0 to 3 at t=4s; with a 2s window (t-2s, t] holds two
	// samples at 1Hz.
	samples := constantSamples(8, time.Second, accel.Vector{})
	for i := 4; i < len(samples); i++ {
		samples[i].Acceleration.X = 3
	}
	mhp := MagnitudeHighPass(samples, 2*time.Second)

	assert.True(t, math.IsNaN(mhp[0]))
	assert.True(t, math.IsNaN(mhp[1]))
	assert.InDelta(t, 0, mhp[2], 1e-12)
	assert.InDelta(t, 0, mhp[3], 1e-12)
	assert.InDelta(t, 1.5, mhp[4], 1e-12) // mean of {0, 3}
	assert.InDelta(t, 0, mhp[5], 1e-12)
}

func TestMagnitudeHighPass_IsCausal(t *testing.T) {
	samples := constantSamples(12, time.Second, accel.Vector{Z: 1})
	before := MagnitudeHighPass(samples, 3*time.Second)

	// A change in the future must not affect earlier rows.
	samples[10].Acceleration.Z = 50
	after := MagnitudeHighPass(samples, 3*time.Second)
	for i := 0; i < 10; i++ {
		if math.IsNaN(before[i]) {
			assert.True(t, math.IsNaN(after[i]))
			continue
		}
		assert.Equal(t, before[i], after[i], "row %d changed", i)
	}
}

func TestMagnitudeHighPass_IrregularSampling(t *testing.T) {
	offsets := []time.Duration{0, 100 * time.Millisecond, 3 * time.Second, 3100 * time.Millisecond, 3200 * time.Millisecond}
	samples := make([]accel.Sample, len(offsets))
	for i, off := range offsets {
		samples[i] = accel.Sample{Timestamp: t0.Add(off), Acceleration: accel.Vector{X: float64(i)}}
	}
	mhp := MagnitudeHighPass(samples, time.Second)
	// (2.2s, 3.2s] holds samples 2, 3 and 4 => mean 3.
	assert.InDelta(t, 1.0, mhp[4], 1e-12)
	// (2.0s, 3.0s] holds only sample 2.
	assert.InDelta(t, 0.0, mhp[2], 1e-12)
}

func TestGravityFreeMagnitude(t *testing.T) {
	samples := constantSamples(3, time.Second, accel.Vector{Z: 1})
	samples[1].Acceleration.Z = 2
	got := GravityFreeMagnitude(samples, 0.8)

	// gravity: 1, 0.8+0.4=1.2, 0.96+0.2=1.16
	assert.InDelta(t, 0, got[0], 1e-12)
	assert.InDelta(t, 0.8, got[1], 1e-12)
	assert.InDelta(t, 0.16, got[2], 1e-12)
}

func TestExtract_Errors(t *testing.T) {
	defer monitoring.Quiet()()

	_, err := Extract(nil, DefaultOptions())
	assert.True(t, errors.Is(err, ErrInsufficientData))

	_, err = Extract(constantSamples(3, time.Second, accel.Vector{}), Options{Window: 0, Alpha: 0.8})
	assert.ErrorIs(t, err, accel.ErrSchema)

	bad := constantSamples(3, time.Second, accel.Vector{})
	bad[2].Acceleration.X = math.NaN()
	_, err = Extract(bad, DefaultOptions())
	assert.ErrorIs(t, err, accel.ErrSchema)
}

func TestDropTransient_InsufficientData(t *testing.T) {
	defer monitoring.Quiet()()

	table, err := Extract(constantSamples(5, time.Second, accel.Vector{Z: 1}), Options{Window: 6 * time.Second, Alpha: 0.8})
	require.NoError(t, err)

	_, err = table.DropTransient(6 * time.Second)
	assert.ErrorIs(t, err, ErrInsufficientData)
}
