package calibration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/downtime.report/internal/accel"
	"github.com/banshee-data/downtime.report/internal/config"
	"github.com/banshee-data/downtime.report/internal/features"
	"github.com/banshee-data/downtime.report/internal/mhpdt"
	"github.com/banshee-data/downtime.report/internal/monitoring"
	"github.com/banshee-data/downtime.report/internal/tagging"
)

var t0 = time.Date(2021, 3, 4, 10, 0, 0, 0, time.UTC)

func tableFromMHP(mhp []float64) *features.Table {
	t := &features.Table{Records: make([]features.Record, len(mhp)), Window: features.CalibrationWindow}
	for i, v := range mhp {
		t.Records[i] = features.Record{Timestamp: t0.Add(time.Duration(i) * time.Second), MHP: v}
	}
	return t
}

// bursts returns 120 samples at 1Hz alternating idle and active blocks of 20.
func bursts() (*features.Table, []int) {
	mhp := make([]float64, 120)
	truth := make([]int, 120)
	for i := range mhp {
		if (i/20)%2 == 1 {
			mhp[i] = 2.0
			truth[i] = 1
		} else {
			mhp[i] = 0.05
		}
	}
	return tableFromMHP(mhp), truth
}

// machine simulates a 4Hz accelerometer on a machine that runs for 60s out
// of every 120s. Running vibration is a balanced three-phase 1Hz sine, so
// its high-passed magnitude is constant.
func machine(duration time.Duration) []accel.Sample {
	const rate = 4
	rng := rand.New(rand.NewPCG(11, 12))
	n := int(duration.Seconds() * rate)
	out := make([]accel.Sample, n)
	for i := range out {
		sec := float64(i) / rate
		v := accel.Vector{
			X: 0.02 * rng.NormFloat64(),
			Y: 0.02 * rng.NormFloat64(),
			Z: 9.81 + 0.02*rng.NormFloat64(),
		}
		if int(sec/60)%2 == 1 {
			const amp = 2.0
			phase := 2 * math.Pi * sec
			v.X += amp * math.Sin(phase)
			v.Y += amp * math.Sin(phase+2*math.Pi/3)
			v.Z += amp * math.Sin(phase+4*math.Pi/3)
		}
		out[i] = accel.Sample{
			Timestamp:    t0.Add(time.Duration(i) * time.Second / rate),
			Acceleration: v,
		}
	}
	return out
}

func quickOptions() Options {
	o := DefaultOptions()
	o.FilterHigh = 10
	o.Optimizer.Candidates = 200
	return o
}

func TestF1(t *testing.T) {
	tests := []struct {
		name        string
		truth, pred []int
		want        float64
	}{
		{"perfect", []int{0, 1, 1, 0}, []int{0, 1, 1, 0}, 1},
		{"half", []int{1, 1, 0, 0}, []int{1, 0, 1, 0}, 0.5},
		{"no positives", []int{0, 0}, []int{0, 0}, 0},
		{"all wrong", []int{1, 0}, []int{0, 1}, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, F1(tt.truth, tt.pred), 1e-12)
		})
	}
}

func TestAccuracy(t *testing.T) {
	assert.Equal(t, 0.75, Accuracy([]int{0, 1, 1, 0}, []int{0, 1, 1, 1}))
	assert.Equal(t, 0.0, Accuracy(nil, nil))
}

func TestRound(t *testing.T) {
	assert.Equal(t, 1.235, Round(1.23456, 3))
	assert.Equal(t, 0.1, Round(0.10049, 3))
}

func TestResult_JSONShape(t *testing.T) {
	r := Result{
		ModelType: mhpdt.ModelType,
		ModelParams: mhpdt.Params{
			MHPThreshold: 0.734, AndonUptimeThreshold: 5,
			UpFilterSize: 12, DownFilterSize: 40, FirstFilter: mhpdt.UpFirst,
		},
		Status: StatusSuccessful,
		Score:  0.912,
	}
	data, err := json.Marshal(r)
	require.NoError(t, err)
	want := `{"model_type":"MHPDT","model_params":{"mhp_threshold":0.734,"min_cycle_time":0,"andon_uptime_threshold":5,"up_filter_size":12,"down_filter_size":40,"first_filter":"up"},"calibration_status":"SUCCESSFUL","calibration_score":0.912}`
	assert.JSONEq(t, want, string(data))
}

func TestScore_AllIdleFails(t *testing.T) {
	defer monitoring.Quiet()()
	mhp := make([]float64, 60)
	truth := make([]int, 60)
	for i := range mhp {
		mhp[i] = 0.01
		truth[i] = i % 2
	}
	p := mhpdt.DefaultParams()
	p.MHPThreshold = 1.0

	res, pred, err := Score(tableFromMHP(mhp), truth, p)
	require.NoError(t, err)
	assert.Equal(t, StatusFailed, res.Status)
	assert.Equal(t, 0.0, res.Score)
	assert.Equal(t, 1, tagging.Distinct(pred.Labels()))
}

func TestScore_Bursts(t *testing.T) {
	table, truth := bursts()
	p := mhpdt.Params{MHPThreshold: 1, FirstFilter: mhpdt.DownFirst}
	res, _, err := Score(table, truth, p)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccessful, res.Status)
	assert.Equal(t, 1.0, res.Score)
	assert.Equal(t, mhpdt.ModelType, res.ModelType)
}

func TestScore_Errors(t *testing.T) {
	table, truth := bursts()
	_, _, err := Score(table, truth[:10], mhpdt.DefaultParams())
	assert.Error(t, err)

	bad := mhpdt.DefaultParams()
	bad.UpFilterSize = -1
	_, _, err = Score(table, truth, bad)
	assert.ErrorIs(t, err, mhpdt.ErrInvalidParameter)
}

func TestOptimize_Bursts(t *testing.T) {
	defer monitoring.Quiet()()
	table, truth := bursts()
	opts := quickOptions()

	params, raw, err := Optimize(context.Background(), table, truth, opts)
	require.NoError(t, err)
	require.Len(t, raw.Evaluations, opts.Optimizer.Calls)

	// The 5s andon bridge adds 5 false positives after each burst, so the
	// best achievable F1 is 120/135.
	assert.InDelta(t, 120.0/135.0, -raw.Fun, 1e-9)
	assert.Equal(t, 5.0, params.AndonUptimeThreshold)
	assert.Equal(t, 0.0, params.MinCycleTime)
	assert.Equal(t, Round(params.MHPThreshold, 3), params.MHPThreshold)
	assert.LessOrEqual(t, params.MHPThreshold, 2.0)

	res, _, err := Score(table, truth, params)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccessful, res.Status)
	assert.Equal(t, 0.889, res.Score)
}

func TestOptimize_LengthMismatch(t *testing.T) {
	table, truth := bursts()
	_, _, err := Optimize(context.Background(), table, truth[:3], quickOptions())
	assert.Error(t, err)
}

func TestOptions_Params(t *testing.T) {
	o := DefaultOptions()
	p := o.Params([]float64{0.5, 12, 40, 1})
	assert.Equal(t, mhpdt.Params{
		MHPThreshold: 0.5, MinCycleTime: 0, AndonUptimeThreshold: 5,
		UpFilterSize: 12, DownFilterSize: 40, FirstFilter: mhpdt.UpFirst,
	}, p)
	assert.NoError(t, o.Space().Validate())
}

func TestOptionsFromConfig(t *testing.T) {
	assert.Equal(t, DefaultOptions(), OptionsFromConfig(config.DefaultCalibrationConfig()))

	std := "std"
	cfg := &config.CalibrationConfig{States: []int{2}, Canonicalise: &std}
	o := OptionsFromConfig(cfg)
	assert.Equal(t, []int{2}, o.States)
	assert.Equal(t, tagging.ByStd, o.Canonicalise)
	assert.Equal(t, 30, o.Optimizer.Calls)

	p := NewPipeline(o)
	assert.Equal(t, tagging.ByStd, p.Tagger.Canonicalise)
	assert.Equal(t, []int{2}, p.Tagger.Candidates)
}

func TestPipeline_Calibrate(t *testing.T) {
	defer monitoring.Quiet()()
	samples := machine(10 * time.Minute)
	opts := DefaultOptions()
	opts.FilterHigh = 30
	opts.Optimizer.Candidates = 200
	p := NewPipeline(opts)

	out, err := p.Calibrate(context.Background(), samples)
	require.NoError(t, err)
	assert.Equal(t, StatusSuccessful, out.Result.Status)
	assert.GreaterOrEqual(t, out.Result.Score, 0.8)
	assert.Equal(t, 2, tagging.Distinct(out.Tagging.Labels))
	assert.Len(t, out.Prediction.StateFiltered, out.Table.Len())
	assert.Greater(t, out.Accuracy, 0.8)

	t.Run("reproducible", func(t *testing.T) {
		again, err := p.Calibrate(context.Background(), samples)
		require.NoError(t, err)
		if diff := cmp.Diff(out.Result, again.Result); diff != "" {
			t.Errorf("calibration differs between runs (-first +second):\n%s", diff)
		}
	})

	t.Run("rescoring reproduces the score", func(t *testing.T) {
		table, err := features.Extract(samples, opts.Features)
		require.NoError(t, err)
		table, err = table.DropTransient(opts.Features.Window)
		require.NoError(t, err)
		tagged, err := tagging.NewTagger().Tag(table.MHP())
		require.NoError(t, err)

		res, _, err := Score(table, tagged.Labels, out.Result.ModelParams)
		require.NoError(t, err)
		assert.Equal(t, out.Result.Score, res.Score)
		assert.Equal(t, out.Result.Status, res.Status)
	})
}

func oneHertz(n int) []accel.Sample {
	out := make([]accel.Sample, n)
	for i := range out {
		out[i] = accel.Sample{
			Timestamp:    t0.Add(time.Duration(i) * time.Second),
			Acceleration: accel.Vector{X: float64(i % 2), Z: 9.81},
		}
	}
	return out
}

type constDecoder struct{}

func (constDecoder) FitAndDecode(series []float64, k int) (tagging.Decoding, error) {
	return tagging.Decoding{States: k, Labels: make([]int, len(series)), LogLikelihood: -1, ParamCount: 1}, nil
}

func TestPipeline_Errors(t *testing.T) {
	defer monitoring.Quiet()()
	samples := machine(2 * time.Minute)

	t.Run("degenerate tagging", func(t *testing.T) {
		p := NewPipeline(quickOptions())
		p.Tagger = &tagging.Tagger{Decoder: constDecoder{}, Candidates: []int{2}}
		_, err := p.Calibrate(context.Background(), samples)
		assert.ErrorIs(t, err, tagging.ErrDegenerateTagging)
	})

	t.Run("insufficient data", func(t *testing.T) {
		_, err := NewPipeline(quickOptions()).Calibrate(context.Background(), samples[:8])
		assert.ErrorIs(t, err, features.ErrInsufficientData)
	})

	// At 1Hz these fill the 6s window but leave fewer rows than hidden states.
	for _, n := range []int{7, 8} {
		t.Run(fmt.Sprintf("%d rows at 1Hz", n), func(t *testing.T) {
			_, err := NewPipeline(quickOptions()).Calibrate(context.Background(), oneHertz(n))
			assert.ErrorIs(t, err, features.ErrInsufficientData)
		})
	}

	t.Run("schema", func(t *testing.T) {
		bad := append([]accel.Sample(nil), samples...)
		bad[3].Acceleration.X = math.NaN()
		_, err := NewPipeline(quickOptions()).Calibrate(context.Background(), bad)
		assert.ErrorIs(t, err, accel.ErrSchema)
	})

	t.Run("cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		_, err := NewPipeline(quickOptions()).Calibrate(ctx, machine(5*time.Minute))
		assert.True(t, errors.Is(err, context.Canceled))
	})

	t.Run("inverted range", func(t *testing.T) {
		_, err := NewPipeline(quickOptions()).CalibrateRange(context.Background(), samples, t0.Add(time.Minute), t0)
		assert.ErrorIs(t, err, accel.ErrSchema)
	})
}

func TestPipeline_Predict(t *testing.T) {
	defer monitoring.Quiet()()
	samples := machine(4 * time.Minute)
	p := NewPipeline(DefaultOptions())
	params := mhpdt.DefaultParams()
	params.MHPThreshold = 1

	pred, err := p.Predict(samples, params)
	require.NoError(t, err)
	changes := mhpdt.StateChanges(pred.Timestamps, pred.StateFiltered)
	require.NotEmpty(t, changes)
	// The first burst starts at 60s.
	var first time.Time
	for _, c := range changes {
		if c.State == 1 {
			first = c.Timestamp
			break
		}
	}
	assert.WithinDuration(t, t0.Add(time.Minute), first, time.Second)
}
