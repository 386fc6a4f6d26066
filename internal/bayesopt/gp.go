package bayesopt

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
	"gonum.org/v1/gonum/stat/distuv"
)

var errSingularKernel = errors.New("bayesopt: kernel matrix is not positive definite")

// defaultLengthScales are the candidate Matern length scales; the one with
// the highest log marginal likelihood is kept at each refit.
var defaultLengthScales = []float64{0.05, 0.1, 0.2, 0.5, 1, 2}

// gaussianProcess is a zero-mean GP on standardised targets with a unit
// amplitude Matern 5/2 kernel and fixed observation noise.
type gaussianProcess struct {
	x           [][]float64
	yMean, yStd float64
	lengthScale float64
	noise       float64
	chol        mat.Cholesky
	alpha       *mat.VecDense
	lml         float64
}

func matern52(a, b []float64, lengthScale float64) float64 {
	var d2 float64
	for i := range a {
		d := a[i] - b[i]
		d2 += d * d
	}
	r := math.Sqrt(d2) / lengthScale
	s5 := math.Sqrt(5) * r
	return (1 + s5 + 5*r*r/3) * math.Exp(-s5)
}

// fitGP fits a surrogate to (x, y), choosing the length scale by log
// marginal likelihood.
func fitGP(x [][]float64, y []float64, noise float64) (*gaussianProcess, error) {
	mean, std := stat.MeanStdDev(y, nil)
	if std == 0 || math.IsNaN(std) {
		std = 1
	}
	z := make([]float64, len(y))
	for i, v := range y {
		z[i] = (v - mean) / std
	}

	var best *gaussianProcess
	for _, l := range defaultLengthScales {
		gp := &gaussianProcess{x: x, yMean: mean, yStd: std, lengthScale: l, noise: noise}
		if err := gp.factorize(z); err != nil {
			continue
		}
		if best == nil || gp.lml > best.lml {
			best = gp
		}
	}
	if best == nil {
		return nil, errSingularKernel
	}
	return best, nil
}

func (g *gaussianProcess) factorize(z []float64) error {
	n := len(g.x)
	k := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			v := matern52(g.x[i], g.x[j], g.lengthScale)
			if i == j {
				v += g.noise
			}
			k.SetSym(i, j, v)
		}
	}
	if ok := g.chol.Factorize(k); !ok {
		return errSingularKernel
	}
	zv := mat.NewVecDense(n, z)
	g.alpha = mat.NewVecDense(n, nil)
	if err := g.chol.SolveVecTo(g.alpha, zv); err != nil {
		return err
	}
	g.lml = -0.5*mat.Dot(zv, g.alpha) - 0.5*g.chol.LogDet() - 0.5*float64(n)*math.Log(2*math.Pi)
	return nil
}

// predict returns the posterior mean and standard deviation at x in the
// original target scale.
func (g *gaussianProcess) predict(x []float64) (float64, float64) {
	n := len(g.x)
	ks := mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		ks.SetVec(i, matern52(x, g.x[i], g.lengthScale))
	}
	mu := mat.Dot(ks, g.alpha)

	v := mat.NewVecDense(n, nil)
	variance := 1.0
	if err := g.chol.SolveVecTo(v, ks); err == nil {
		variance -= mat.Dot(ks, v)
	}
	if variance < 1e-12 {
		variance = 1e-12
	}
	return mu*g.yStd + g.yMean, math.Sqrt(variance) * g.yStd
}

// expectedImprovement is the EI acquisition for minimisation with
// exploration margin xi.
func expectedImprovement(mu, sigma, best, xi float64) float64 {
	if sigma <= 0 {
		return 0
	}
	imp := best - mu - xi
	z := imp / sigma
	return imp*distuv.UnitNormal.CDF(z) + sigma*distuv.UnitNormal.Prob(z)
}
