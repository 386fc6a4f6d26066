package bayesopt

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"

	"github.com/banshee-data/downtime.report/internal/monitoring"
)

// Objective evaluates a point. Lower is better.
type Objective func(Point) (float64, error)

// Options controls the search.
type Options struct {
	// Calls is the total evaluation budget.
	Calls int
	// InitialPoints are drawn uniformly before the surrogate is used.
	InitialPoints int
	Seed          uint64
	// Candidates is the number of random points scored by the acquisition
	// function at each step.
	Candidates int
	// Xi is the expected improvement exploration margin.
	Xi float64
	// Noise is the observation noise added to the kernel diagonal.
	Noise float64
}

// DefaultOptions returns a 30 call budget with 10 random initial points.
func DefaultOptions() Options {
	return Options{
		Calls:         30,
		InitialPoints: 10,
		Seed:          314156,
		Candidates:    1000,
		Xi:            0.01,
		Noise:         1e-6,
	}
}

// Evaluation records one objective call.
type Evaluation struct {
	X   Point   `json:"x"`
	Fun float64 `json:"fun"`
}

// Result is the raw optimiser output.
type Result struct {
	X           Point        `json:"x"`
	Fun         float64      `json:"fun"`
	Evaluations []Evaluation `json:"evaluations"`
	// Surrogate counts the evaluations proposed by the surrogate rather than
	// drawn at random.
	Surrogate int `json:"surrogate"`
}

// Minimize searches space for the point minimising f. Evaluations run
// sequentially; ctx is checked between evaluations, never during one. The
// same seed, space and objective reproduce the same result.
func Minimize(ctx context.Context, f Objective, space Space, opts Options) (*Result, error) {
	if err := space.Validate(); err != nil {
		return nil, err
	}
	if opts.Calls <= 0 {
		return nil, fmt.Errorf("bayesopt: calls must be positive, got %d", opts.Calls)
	}
	if opts.InitialPoints <= 0 || opts.InitialPoints > opts.Calls {
		opts.InitialPoints = min(opts.Calls, 10)
	}
	if opts.Candidates <= 0 {
		opts.Candidates = 1000
	}
	if opts.Noise <= 0 {
		opts.Noise = 1e-6
	}

	rng := rand.New(rand.NewPCG(opts.Seed, opts.Seed^0x9e3779b97f4a7c15))
	res := &Result{Fun: math.Inf(1)}
	xs := make([][]float64, 0, opts.Calls)
	ys := make([]float64, 0, opts.Calls)

	for call := 0; call < opts.Calls; call++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		var next Point
		if call >= opts.InitialPoints {
			next = propose(space, xs, ys, res.Fun, rng, opts)
			if next != nil {
				res.Surrogate++
			}
		}
		if next == nil {
			next = space.Sample(rng)
		}

		y, err := f(next)
		if err != nil {
			return nil, fmt.Errorf("bayesopt: evaluation %d: %w", call+1, err)
		}
		if math.IsNaN(y) {
			y = math.Inf(1)
		}
		res.Evaluations = append(res.Evaluations, Evaluation{X: next, Fun: y})
		xs = append(xs, space.encode(next))
		ys = append(ys, clampFinite(y))
		if y < res.Fun {
			res.Fun = y
			res.X = next
			monitoring.Logf("bayesopt call %d: new best %.4f at %s", call+1, y, space.Format(next))
		}
	}
	if res.X == nil {
		// Every evaluation returned +Inf.
		res.X = res.Evaluations[0].X
	}
	return res, nil
}

// propose returns the candidate with the highest expected improvement, or
// nil when the surrogate cannot be fitted.
func propose(space Space, xs [][]float64, ys []float64, best float64, rng *rand.Rand, opts Options) Point {
	gp, err := fitGP(xs, ys, opts.Noise)
	if err != nil {
		monitoring.Logf("bayesopt: surrogate fit failed, sampling at random: %v", err)
		return nil
	}
	best = clampFinite(best)

	var pick Point
	bestEI := math.Inf(-1)
	for i := 0; i < opts.Candidates; i++ {
		cand := space.Sample(rng)
		mu, sigma := gp.predict(space.encode(cand))
		if ei := expectedImprovement(mu, sigma, best, opts.Xi); ei > bestEI {
			bestEI = ei
			pick = cand
		}
	}
	return pick
}

func clampFinite(v float64) float64 {
	const limit = 1e12
	switch {
	case math.IsInf(v, 1) || v > limit:
		return limit
	case math.IsInf(v, -1) || v < -limit:
		return -limit
	}
	return v
}
