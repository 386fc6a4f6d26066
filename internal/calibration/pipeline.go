package calibration

import (
	"context"
	"time"

	"github.com/banshee-data/downtime.report/internal/accel"
	"github.com/banshee-data/downtime.report/internal/bayesopt"
	"github.com/banshee-data/downtime.report/internal/features"
	"github.com/banshee-data/downtime.report/internal/mhpdt"
	"github.com/banshee-data/downtime.report/internal/monitoring"
	"github.com/banshee-data/downtime.report/internal/tagging"
)

// Outcome is a calibration result with its diagnostics.
type Outcome struct {
	Result Result
	// Accuracy of the winning prediction against the tagged labels.
	Accuracy     float64
	Table        *features.Table
	Tagging      *tagging.Result
	Optimization *bayesopt.Result
	Prediction   *mhpdt.Prediction
	Elapsed      time.Duration
}

// Pipeline runs feature extraction, tagging, optimisation and scoring.
// A Pipeline holds no per-run state and may be shared.
type Pipeline struct {
	Options Options
	Tagger  *tagging.Tagger
}

// NewPipeline returns a pipeline with an HMM tagger over opts.States.
func NewPipeline(opts Options) *Pipeline {
	tg := tagging.NewTagger()
	if len(opts.States) > 0 {
		tg.Candidates = opts.States
	}
	tg.Canonicalise = opts.Canonicalise
	return &Pipeline{Options: opts, Tagger: tg}
}

// Calibrate fits detector parameters to samples.
func (p *Pipeline) Calibrate(ctx context.Context, samples []accel.Sample) (*Outcome, error) {
	start := time.Now()

	table, err := features.Extract(samples, p.Options.Features)
	if err != nil {
		return nil, err
	}
	table, err = table.DropTransient(p.Options.Features.Window)
	if err != nil {
		return nil, err
	}

	tagged, err := p.Tagger.Tag(table.MHP())
	if err != nil {
		return nil, err
	}
	if err := tagging.Check(tagged.Labels); err != nil {
		return nil, err
	}

	params, raw, err := Optimize(ctx, table, tagged.Labels, p.Options)
	if err != nil {
		return nil, err
	}
	res, pred, err := Score(table, tagged.Labels, params)
	if err != nil {
		return nil, err
	}

	out := &Outcome{
		Result:       res,
		Accuracy:     Accuracy(tagged.Labels, pred.Labels()),
		Table:        table,
		Tagging:      tagged,
		Optimization: raw,
		Prediction:   pred,
		Elapsed:      time.Since(start),
	}
	monitoring.Logf("calibration %s: score %.3f accuracy %.3f in %s",
		res.Status, res.Score, out.Accuracy, out.Elapsed.Round(time.Millisecond))
	return out, nil
}

// CalibrateRange calibrates over the samples within [from, to].
func (p *Pipeline) CalibrateRange(ctx context.Context, samples []accel.Sample, from, to time.Time) (*Outcome, error) {
	selected, err := accel.SelectRange(samples, from, to)
	if err != nil {
		return nil, err
	}
	return p.Calibrate(ctx, selected)
}

// Predict applies params to samples without calibrating: features are
// extracted with the pipeline's options and the transient is dropped.
func (p *Pipeline) Predict(samples []accel.Sample, params mhpdt.Params) (*mhpdt.Prediction, error) {
	table, err := features.Extract(samples, p.Options.Features)
	if err != nil {
		return nil, err
	}
	table, err = table.DropTransient(p.Options.Features.Window)
	if err != nil {
		return nil, err
	}
	return mhpdt.Predict(table, params)
}
