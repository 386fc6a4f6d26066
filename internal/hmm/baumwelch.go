package hmm

import (
	"math"

	"gonum.org/v1/gonum/floats"
)

// workspace holds the per-iteration forward/backward lattices.
type workspace struct {
	logB     [][]float64
	logAlpha [][]float64
	logBeta  [][]float64
	logA     [][]float64
	buf      []float64
	ll       float64
}

func newWorkspace(n, k int) *workspace {
	return &workspace{
		logB:     newMatrix(n, k),
		logAlpha: newMatrix(n, k),
		logBeta:  newMatrix(n, k),
		buf:      make([]float64, k),
	}
}

func (w *workspace) forward(m *Model) float64 {
	k := m.States()
	n := len(w.logB)
	if n == 0 {
		return 0
	}
	w.logA = logMatrix(m.Trans)
	for j := 0; j < k; j++ {
		w.logAlpha[0][j] = safeLog(m.Start[j]) + w.logB[0][j]
	}
	for t := 1; t < n; t++ {
		for j := 0; j < k; j++ {
			for i := 0; i < k; i++ {
				w.buf[i] = w.logAlpha[t-1][i] + w.logA[i][j]
			}
			w.logAlpha[t][j] = floats.LogSumExp(w.buf) + w.logB[t][j]
		}
	}
	w.ll = floats.LogSumExp(w.logAlpha[n-1])
	return w.ll
}

func (w *workspace) backward(m *Model) {
	k := m.States()
	n := len(w.logB)
	if n == 0 {
		return
	}
	for j := 0; j < k; j++ {
		w.logBeta[n-1][j] = 0
	}
	for t := n - 2; t >= 0; t-- {
		for i := 0; i < k; i++ {
			for j := 0; j < k; j++ {
				w.buf[j] = w.logA[i][j] + w.logB[t+1][j] + w.logBeta[t+1][j]
			}
			w.logBeta[t][i] = floats.LogSumExp(w.buf)
		}
	}
}

// maximise re-estimates the model from the current lattices.
func (w *workspace) maximise(m *Model, obs [][]float64, minCovar float64) {
	k, dims, n := m.States(), m.Dims(), len(obs)

	gamma := newMatrix(n, k)
	for t := 0; t < n; t++ {
		for j := 0; j < k; j++ {
			gamma[t][j] = math.Exp(w.logAlpha[t][j] + w.logBeta[t][j] - w.ll)
		}
	}

	xi := newMatrix(k, k)
	for t := 0; t < n-1; t++ {
		for i := 0; i < k; i++ {
			for j := 0; j < k; j++ {
				xi[i][j] += math.Exp(w.logAlpha[t][i] + w.logA[i][j] + w.logB[t+1][j] + w.logBeta[t+1][j] - w.ll)
			}
		}
	}

	if s := floats.Sum(gamma[0]); s > 0 {
		for j := 0; j < k; j++ {
			m.Start[j] = gamma[0][j] / s
		}
	}
	for i := 0; i < k; i++ {
		s := floats.Sum(xi[i])
		if s <= 0 {
			continue
		}
		for j := 0; j < k; j++ {
			m.Trans[i][j] = xi[i][j] / s
		}
	}

	for j := 0; j < k; j++ {
		var weight float64
		for t := 0; t < n; t++ {
			weight += gamma[t][j]
		}
		if weight < 1e-12 {
			continue
		}
		for d := 0; d < dims; d++ {
			var mean float64
			for t := 0; t < n; t++ {
				mean += gamma[t][j] * obs[t][d]
			}
			mean /= weight
			var variance float64
			for t := 0; t < n; t++ {
				diff := obs[t][d] - mean
				variance += gamma[t][j] * diff * diff
			}
			m.Means[j][d] = mean
			m.Covars[j][d] = variance/weight + minCovar
		}
	}
}
