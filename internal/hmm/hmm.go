// Package hmm implements a Gaussian hidden Markov model with diagonal
// covariance: Baum-Welch (EM) fitting, Viterbi decoding and the free
// parameter count used for model order selection.
package hmm

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

var (
	// ErrTooFewObservations is returned when there are fewer observations
	// than hidden states.
	ErrTooFewObservations = errors.New("hmm: fewer observations than states")

	// ErrInvalidObservation is returned for ragged or non-finite observations.
	ErrInvalidObservation = errors.New("hmm: invalid observation")
)

// Config controls model fitting.
type Config struct {
	States   int
	MaxIter  int
	Tol      float64
	MinCovar float64
	Seed     uint64
}

// DefaultConfig returns the settings used for state tagging: at most 100 EM
// iterations, tolerance 1e-3, covariance floor 1e-3 and seed 1.
func DefaultConfig(states int) Config {
	return Config{
		States:   states,
		MaxIter:  100,
		Tol:      1e-3,
		MinCovar: 1e-3,
		Seed:     1,
	}
}

// Model is a fitted Gaussian HMM. Means and Covars are States x Dims.
type Model struct {
	Start  []float64
	Trans  [][]float64
	Means  [][]float64
	Covars [][]float64

	// LogLikelihood is the forward log-likelihood at the last EM iteration.
	LogLikelihood float64
	Iterations    int
	Converged     bool
}

// States returns the number of hidden states.
func (m *Model) States() int { return len(m.Start) }

// Dims returns the observation dimensionality.
func (m *Model) Dims() int {
	if len(m.Means) == 0 {
		return 0
	}
	return len(m.Means[0])
}

// Column converts a univariate series to the observation layout used by Fit.
func Column(series []float64) [][]float64 {
	obs := make([][]float64, len(series))
	for i, v := range series {
		obs[i] = []float64{v}
	}
	return obs
}

// Fit estimates a model from obs with Baum-Welch. Means are initialised by
// seeded k-means, covariances by the data variance, start and transition
// probabilities uniformly.
func Fit(obs [][]float64, cfg Config) (*Model, error) {
	if cfg.States < 1 {
		return nil, fmt.Errorf("hmm: states must be positive, got %d", cfg.States)
	}
	if err := checkObservations(obs); err != nil {
		return nil, err
	}
	if len(obs) < cfg.States {
		return nil, fmt.Errorf("%w: %d observations, %d states", ErrTooFewObservations, len(obs), cfg.States)
	}
	if cfg.MaxIter <= 0 {
		cfg.MaxIter = 100
	}

	m := initModel(obs, cfg)
	w := newWorkspace(len(obs), cfg.States)

	prev := math.Inf(-1)
	for iter := 0; iter < cfg.MaxIter; iter++ {
		m.emissionLogProbs(obs, w.logB)
		ll := w.forward(m)
		w.backward(m)
		m.LogLikelihood = ll
		m.Iterations = iter + 1
		if iter > 0 && ll-prev < cfg.Tol {
			m.Converged = true
			break
		}
		prev = ll
		w.maximise(m, obs, cfg.MinCovar)
	}
	return m, nil
}

// Decode returns the Viterbi log-probability and most likely state path.
func (m *Model) Decode(obs [][]float64) (float64, []int, error) {
	if err := checkObservations(obs); err != nil {
		return 0, nil, err
	}
	if len(obs) == 0 {
		return 0, nil, nil
	}
	k := m.States()
	n := len(obs)

	logB := newMatrix(n, k)
	m.emissionLogProbs(obs, logB)
	logA := logMatrix(m.Trans)

	delta := newMatrix(n, k)
	psi := make([][]int, n)
	for j := 0; j < k; j++ {
		delta[0][j] = safeLog(m.Start[j]) + logB[0][j]
	}
	for t := 1; t < n; t++ {
		psi[t] = make([]int, k)
		for j := 0; j < k; j++ {
			best, arg := math.Inf(-1), 0
			for i := 0; i < k; i++ {
				if v := delta[t-1][i] + logA[i][j]; v > best {
					best, arg = v, i
				}
			}
			delta[t][j] = best + logB[t][j]
			psi[t][j] = arg
		}
	}

	path := make([]int, n)
	last := floats.MaxIdx(delta[n-1])
	logprob := delta[n-1][last]
	path[n-1] = last
	for t := n - 1; t > 0; t-- {
		path[t-1] = psi[t][path[t]]
	}
	return logprob, path, nil
}

// SetStickyTransitions overwrites the transition matrix so that every
// off-diagonal entry is eps and the diagonal holds the remaining mass.
func (m *Model) SetStickyTransitions(eps float64) {
	k := m.States()
	for i := 0; i < k; i++ {
		for j := 0; j < k; j++ {
			if i == j {
				m.Trans[i][j] = 1 - float64(k-1)*eps
			} else {
				m.Trans[i][j] = eps
			}
		}
	}
}

// FreeParameters counts the fitted scalars: k-1 start probabilities,
// k*d means, k*d diagonal covariances and the transition matrix. A frozen
// transition matrix counts as a single degree of freedom instead of k*(k-1).
func (m *Model) FreeParameters(frozenTransitions bool) int {
	k, d := m.States(), m.Dims()
	trans := k * (k - 1)
	if frozenTransitions {
		trans = 1
	}
	return (k - 1) + trans + 2*k*d
}

func (m *Model) emissionLogProbs(obs [][]float64, logB [][]float64) {
	for j := range m.Means {
		dists := make([]distuv.Normal, len(m.Means[j]))
		for d := range dists {
			dists[d] = distuv.Normal{Mu: m.Means[j][d], Sigma: math.Sqrt(m.Covars[j][d])}
		}
		for t, x := range obs {
			var lp float64
			for d, dist := range dists {
				lp += dist.LogProb(x[d])
			}
			logB[t][j] = lp
		}
	}
}

func initModel(obs [][]float64, cfg Config) *Model {
	k, dims := cfg.States, len(obs[0])
	m := &Model{
		Start:  make([]float64, k),
		Trans:  newMatrix(k, k),
		Means:  kmeans(obs, k, cfg.Seed),
		Covars: newMatrix(k, dims),
	}
	column := make([]float64, len(obs))
	for d := 0; d < dims; d++ {
		for t, x := range obs {
			column[t] = x[d]
		}
		v := stat.PopVariance(column, nil) + cfg.MinCovar
		for j := 0; j < k; j++ {
			m.Covars[j][d] = v
		}
	}
	for i := 0; i < k; i++ {
		m.Start[i] = 1 / float64(k)
		for j := 0; j < k; j++ {
			m.Trans[i][j] = 1 / float64(k)
		}
	}
	return m
}

func checkObservations(obs [][]float64) error {
	if len(obs) == 0 {
		return nil
	}
	dims := len(obs[0])
	if dims == 0 {
		return fmt.Errorf("%w: zero-dimensional observation", ErrInvalidObservation)
	}
	for t, x := range obs {
		if len(x) != dims {
			return fmt.Errorf("%w: observation %d has %d dims, want %d", ErrInvalidObservation, t, len(x), dims)
		}
		for _, v := range x {
			if math.IsNaN(v) || math.IsInf(v, 0) {
				return fmt.Errorf("%w: observation %d is not finite", ErrInvalidObservation, t)
			}
		}
	}
	return nil
}

func newMatrix(rows, cols int) [][]float64 {
	backing := make([]float64, rows*cols)
	out := make([][]float64, rows)
	for i := range out {
		out[i] = backing[i*cols : (i+1)*cols : (i+1)*cols]
	}
	return out
}

func logMatrix(a [][]float64) [][]float64 {
	out := newMatrix(len(a), len(a))
	for i := range a {
		for j := range a[i] {
			out[i][j] = safeLog(a[i][j])
		}
	}
	return out
}

func safeLog(v float64) float64 {
	if v <= 0 {
		return math.Inf(-1)
	}
	return math.Log(v)
}
