package calibration

import (
	"context"
	"fmt"

	"github.com/banshee-data/downtime.report/internal/bayesopt"
	"github.com/banshee-data/downtime.report/internal/config"
	"github.com/banshee-data/downtime.report/internal/features"
	"github.com/banshee-data/downtime.report/internal/mhpdt"
	"github.com/banshee-data/downtime.report/internal/monitoring"
	"github.com/banshee-data/downtime.report/internal/tagging"
)

// Search dimension names, in Point order.
const (
	dimThreshold = iota
	dimUpFilter
	dimDownFilter
	dimFirstFilter
)

// Options configures a calibration run.
type Options struct {
	Features features.Options
	// States are the candidate hidden state counts for the tagger.
	States []int
	// Canonicalise selects the tagger's idle/active mapping.
	Canonicalise tagging.Canonicalisation

	ThresholdLow, ThresholdHigh float64
	FilterLow, FilterHigh       int

	// Fixed detector parameters, not searched.
	AndonUptimeThreshold float64
	MinCycleTime         float64

	Optimizer bayesopt.Options
}

// DefaultOptions returns the production calibration settings.
func DefaultOptions() Options {
	return Options{
		Features:             features.Options{Window: features.CalibrationWindow, Alpha: features.DefaultAlpha},
		States:               []int{2, 3},
		Canonicalise:         tagging.ByMean,
		ThresholdLow:         0.1,
		ThresholdHigh:        4.0,
		FilterLow:            0,
		FilterHigh:           120,
		AndonUptimeThreshold: 5,
		MinCycleTime:         0,
		Optimizer:            bayesopt.DefaultOptions(),
	}
}

// OptionsFromConfig applies cfg over the defaults.
func OptionsFromConfig(cfg *config.CalibrationConfig) Options {
	o := DefaultOptions()
	o.Features.Window = cfg.GetWindow()
	o.Features.Alpha = cfg.GetAlpha()
	o.States = cfg.GetStates()
	o.Canonicalise = tagging.Canonicalisation(cfg.GetCanonicalise())
	o.ThresholdLow, o.ThresholdHigh = cfg.GetThresholdBounds()
	o.FilterLow, o.FilterHigh = cfg.GetFilterBounds()
	o.AndonUptimeThreshold = cfg.GetAndonUptimeThreshold()
	o.MinCycleTime = cfg.GetMinCycleTime()
	o.Optimizer.Calls = cfg.GetCalls()
	o.Optimizer.InitialPoints = cfg.GetInitialPoints()
	o.Optimizer.Seed = cfg.GetSeed()
	return o
}

// Space returns the detector search space.
func (o Options) Space() bayesopt.Space {
	return bayesopt.Space{
		dimThreshold:   bayesopt.Real("mhp_threshold", o.ThresholdLow, o.ThresholdHigh),
		dimUpFilter:    bayesopt.Integer("up_filter_size", o.FilterLow, o.FilterHigh),
		dimDownFilter:  bayesopt.Integer("down_filter_size", o.FilterLow, o.FilterHigh),
		dimFirstFilter: bayesopt.Categorical("first_filter", string(mhpdt.DownFirst), string(mhpdt.UpFirst)),
	}
}

// Params converts a search point into detector parameters.
func (o Options) Params(p bayesopt.Point) mhpdt.Params {
	return mhpdt.Params{
		MHPThreshold:         p.Float(dimThreshold),
		MinCycleTime:         o.MinCycleTime,
		AndonUptimeThreshold: o.AndonUptimeThreshold,
		UpFilterSize:         p.Int(dimUpFilter),
		DownFilterSize:       p.Int(dimDownFilter),
		FirstFilter:          mhpdt.FilterOrder(o.Space().Category(p, dimFirstFilter)),
	}
}

// Optimize searches for detector parameters maximising F1 against truth.
// The returned threshold is rounded to 3 decimals.
func Optimize(ctx context.Context, table *features.Table, truth []int, opts Options) (mhpdt.Params, *bayesopt.Result, error) {
	if table.Len() != len(truth) {
		return mhpdt.Params{}, nil, fmt.Errorf("calibration: %d feature rows but %d labels", table.Len(), len(truth))
	}
	objective := func(p bayesopt.Point) (float64, error) {
		pred, err := mhpdt.Predict(table, opts.Params(p))
		if err != nil {
			return 0, err
		}
		return -F1(truth, pred.Labels()), nil
	}

	res, err := bayesopt.Minimize(ctx, objective, opts.Space(), opts.Optimizer)
	if err != nil {
		return mhpdt.Params{}, nil, err
	}
	best := opts.Params(res.X)
	best.MHPThreshold = Round(best.MHPThreshold, 3)
	monitoring.Logf("optimiser best f1 %.4f after %d evaluations", -res.Fun, len(res.Evaluations))
	return best, res, nil
}

// Score re-runs the detector with params and classifies the outcome. The
// score is F1 rounded to 3 decimals; a prediction holding a single state is
// FAILED.
func Score(table *features.Table, truth []int, params mhpdt.Params) (Result, *mhpdt.Prediction, error) {
	if table.Len() != len(truth) {
		return Result{}, nil, fmt.Errorf("calibration: %d feature rows but %d labels", table.Len(), len(truth))
	}
	pred, err := mhpdt.Predict(table, params)
	if err != nil {
		return Result{}, nil, err
	}
	labels := pred.Labels()
	res := Result{
		ModelType:   mhpdt.ModelType,
		ModelParams: params,
		Status:      StatusFailed,
		Score:       Round(F1(truth, labels), 3),
	}
	switch n := tagging.Distinct(labels); n {
	case 2:
		res.Status = StatusSuccessful
	case 1:
		monitoring.Logf("calibration failed: prediction holds a single state")
	default:
		monitoring.Logf("calibration failed: prediction holds %d distinct states", n)
	}
	return res, pred, nil
}
