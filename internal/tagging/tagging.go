// Package tagging produces unsupervised binary idle/active labels for an
// mhp series by fitting candidate Gaussian HMMs, selecting the model order
// by BIC and canonicalising the decoded states by their mean feature value.
package tagging

import (
	"errors"
	"fmt"
	"math"
	"slices"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/downtime.report/internal/features"
	"github.com/banshee-data/downtime.report/internal/hmm"
	"github.com/banshee-data/downtime.report/internal/monitoring"
)

// ErrDegenerateTagging reports a winning decode with a single label, which
// makes automatic tagging impossible.
var ErrDegenerateTagging = errors.New("single state found, unable to tag calibration data automatically")

// StickyTransition is the off-diagonal transition probability imposed before
// decoding.
const StickyTransition = 1e-50

// Decoding is the output of one fit-and-decode run.
type Decoding struct {
	States        int
	Labels        []int
	LogLikelihood float64
	ParamCount    int
}

// Decoder fits a k-state model to a univariate series and decodes it.
type Decoder interface {
	FitAndDecode(series []float64, k int) (Decoding, error)
}

// HMMDecoder fits a diagonal Gaussian HMM, freezes its transitions to
// StickyTransition and re-decodes with Viterbi.
type HMMDecoder struct {
	MaxIter  int
	Tol      float64
	MinCovar float64
	Seed     uint64
}

// NewHMMDecoder returns a decoder with the hmm package defaults.
func NewHMMDecoder() *HMMDecoder {
	cfg := hmm.DefaultConfig(2)
	return &HMMDecoder{MaxIter: cfg.MaxIter, Tol: cfg.Tol, MinCovar: cfg.MinCovar, Seed: cfg.Seed}
}

// FitAndDecode implements Decoder.
func (d *HMMDecoder) FitAndDecode(series []float64, k int) (Decoding, error) {
	obs := hmm.Column(series)
	model, err := hmm.Fit(obs, hmm.Config{
		States:   k,
		MaxIter:  d.MaxIter,
		Tol:      d.Tol,
		MinCovar: d.MinCovar,
		Seed:     d.Seed,
	})
	if err != nil {
		return Decoding{}, err
	}

	model.SetStickyTransitions(StickyTransition)
	logprob, path, err := model.Decode(obs)
	if err != nil {
		return Decoding{}, err
	}
	return Decoding{
		States:        k,
		Labels:        path,
		LogLikelihood: logprob,
		ParamCount:    model.FreeParameters(true),
	}, nil
}

// Result is the tagger output.
type Result struct {
	// Labels holds one 0 (idle) or 1 (active) per input row.
	Labels []int
	// States is the selected model order.
	States int
	// BIC maps each evaluated model order to its criterion value.
	BIC map[int]float64
}

// Canonicalisation selects how decoded hidden states map to idle/active.
type Canonicalisation string

const (
	// ByMean marks the state with the highest mean feature value active.
	ByMean Canonicalisation = "mean"
	// ByStd marks the state with the larger feature spread active. It
	// applies to two-state decodes; larger decodes fall back to ByMean.
	ByStd Canonicalisation = "std"
)

// Tagger selects among candidate model orders.
type Tagger struct {
	Decoder      Decoder
	Candidates   []int
	Canonicalise Canonicalisation
}

// NewTagger returns a tagger evaluating 2 and 3 hidden states with an HMMDecoder.
func NewTagger() *Tagger {
	return &Tagger{Decoder: NewHMMDecoder(), Candidates: []int{2, 3}}
}

// BIC returns ln(n)*params - 2*loglik.
func BIC(n, params int, loglik float64) float64 {
	return math.Log(float64(n))*float64(params) - 2*loglik
}

// Tag labels series. The returned labels are binary; whether they contain
// both values is for the caller to check (see Distinct).
func (tg *Tagger) Tag(series []float64) (*Result, error) {
	candidates := tg.Candidates
	if len(candidates) == 0 {
		candidates = []int{2, 3}
	}
	if need := slices.Max(candidates); len(series) < need {
		return nil, fmt.Errorf("%w: %d rows to tag, %d hidden states need at least %d",
			features.ErrInsufficientData, len(series), need, need)
	}

	res := &Result{BIC: make(map[int]float64, len(candidates))}
	var best *Decoding
	bestBIC := math.Inf(1)
	for _, k := range candidates {
		dec, err := tg.Decoder.FitAndDecode(series, k)
		if err != nil {
			return nil, fmt.Errorf("tagging: fitting %d states: %w", k, err)
		}
		bic := BIC(len(series), dec.ParamCount, dec.LogLikelihood)
		res.BIC[k] = bic
		monitoring.Logf("hmm states=%d loglik=%.3f params=%d bic=%.3f", k, dec.LogLikelihood, dec.ParamCount, bic)
		if bic < bestBIC {
			bestBIC = bic
			d := dec
			best = &d
		}
	}
	if best == nil {
		// Every candidate produced a NaN criterion.
		return nil, fmt.Errorf("tagging: no candidate model produced a finite BIC")
	}

	if tg.Canonicalise == ByStd && best.States == 2 {
		res.Labels = FlipByStd(series, best.Labels)
	} else {
		res.Labels = CollapseToActive(RankByMean(series, best.Labels))
	}
	res.States = best.States
	monitoring.Logf("selected %d hidden states, %d distinct labels after relabelling", best.States, Distinct(res.Labels))
	return res, nil
}

// RankByMean relabels states so that label 0 is the state with the lowest
// mean feature value and label n-1 the highest, where n is the number of
// states present. Ties are broken by the original state index.
func RankByMean(feature []float64, states []int) []int {
	groups := map[int][]float64{}
	for i, s := range states {
		groups[s] = append(groups[s], feature[i])
	}
	type stateMean struct {
		state int
		mean  float64
	}
	means := make([]stateMean, 0, len(groups))
	for s, values := range groups {
		means = append(means, stateMean{state: s, mean: stat.Mean(values, nil)})
	}
	sort.Slice(means, func(i, j int) bool {
		if means[i].mean != means[j].mean {
			return means[i].mean < means[j].mean
		}
		return means[i].state < means[j].state
	})

	rank := make(map[int]int, len(means))
	for r, sm := range means {
		rank[sm.state] = r
	}
	out := make([]int, len(states))
	changed := false
	for i, s := range states {
		out[i] = rank[s]
		if out[i] != s {
			changed = true
		}
	}
	if changed {
		monitoring.Logf("modifying state labels based on mean feature values")
	}
	return out
}

// CollapseToActive maps the highest ranked label to 1 and every other label
// to 0.
func CollapseToActive(ranked []int) []int {
	top := math.MinInt
	for _, r := range ranked {
		if r > top {
			top = r
		}
	}
	out := make([]int, len(ranked))
	if top <= 0 {
		return out
	}
	for i, r := range ranked {
		if r == top {
			out[i] = 1
		}
	}
	return out
}

// FlipByStd canonicalises a two-state labelling by feature dispersion: the
// state whose feature has the larger standard deviation becomes 1.
func FlipByStd(feature []float64, states []int) []int {
	var a, b []float64
	for i, s := range states {
		if s == 0 {
			a = append(a, feature[i])
		} else if s == 1 {
			b = append(b, feature[i])
		}
	}
	activeState := 1
	if std(a) >= std(b) {
		activeState = 0
	}
	out := make([]int, len(states))
	for i, s := range states {
		if s == activeState {
			out[i] = 1
		}
	}
	return out
}

// Distinct returns the number of distinct labels.
func Distinct(labels []int) int {
	seen := map[int]struct{}{}
	for _, l := range labels {
		seen[l] = struct{}{}
	}
	return len(seen)
}

// Check returns ErrDegenerateTagging when labels hold fewer than two values.
func Check(labels []int) error {
	if n := Distinct(labels); n < 2 {
		return fmt.Errorf("%w (%d distinct labels)", ErrDegenerateTagging, n)
	}
	return nil
}

func std(values []float64) float64 {
	if len(values) < 2 {
		return math.NaN()
	}
	return stat.StdDev(values, nil)
}
