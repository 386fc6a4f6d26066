package hmm

import (
	"math"
	"math/rand/v2"
	"sort"
)

// kmeans returns k centroids of obs using k-means++ seeding from a PCG
// source seeded with seed, followed by Lloyd iterations. Centroids are
// returned in ascending order of their first coordinate.
func kmeans(obs [][]float64, k int, seed uint64) [][]float64 {
	rng := rand.New(rand.NewPCG(seed, seed))
	dims := len(obs[0])

	centroids := newMatrix(k, dims)
	copy(centroids[0], obs[rng.IntN(len(obs))])

	dist := make([]float64, len(obs))
	for c := 1; c < k; c++ {
		var total float64
		for t, x := range obs {
			dist[t] = math.Inf(1)
			for _, centre := range centroids[:c] {
				dist[t] = math.Min(dist[t], sqDist(x, centre))
			}
			total += dist[t]
		}
		pick := rng.IntN(len(obs))
		if total > 0 {
			target := rng.Float64() * total
			for t := range obs {
				target -= dist[t]
				if target <= 0 {
					pick = t
					break
				}
			}
		}
		copy(centroids[c], obs[pick])
	}

	assign := make([]int, len(obs))
	for i := range assign {
		assign[i] = -1
	}
	counts := make([]int, k)
	for iter := 0; iter < 100; iter++ {
		changed := false
		for t, x := range obs {
			best, arg := math.Inf(1), 0
			for c, centre := range centroids {
				if d := sqDist(x, centre); d < best {
					best, arg = d, c
				}
			}
			if assign[t] != arg {
				assign[t] = arg
				changed = true
			}
		}
		if !changed {
			break
		}
		sums := newMatrix(k, dims)
		for c := range counts {
			counts[c] = 0
		}
		for t, x := range obs {
			counts[assign[t]]++
			for d := range x {
				sums[assign[t]][d] += x[d]
			}
		}
		for c := 0; c < k; c++ {
			if counts[c] == 0 {
				continue
			}
			for d := 0; d < dims; d++ {
				centroids[c][d] = sums[c][d] / float64(counts[c])
			}
		}
	}

	sort.SliceStable(centroids, func(i, j int) bool { return centroids[i][0] < centroids[j][0] })
	return centroids
}

func sqDist(a, b []float64) float64 {
	var s float64
	for i := range a {
		d := a[i] - b[i]
		s += d * d
	}
	return s
}
