// Package bayesopt minimises black-box objectives over mixed real, integer
// and categorical spaces with a Gaussian-process surrogate and the expected
// improvement acquisition function.
package bayesopt

import (
	"fmt"
	"math"
	"math/rand/v2"
)

// Kind is the type of a search dimension.
type Kind int

const (
	KindReal Kind = iota
	KindInteger
	KindCategorical
)

func (k Kind) String() string {
	switch k {
	case KindReal:
		return "real"
	case KindInteger:
		return "integer"
	case KindCategorical:
		return "categorical"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Dimension is one axis of the search space. Categorical values are
// represented by their index into Categories.
type Dimension struct {
	Name       string
	Kind       Kind
	Low, High  float64
	Categories []string
}

// Real returns a continuous dimension over [low, high].
func Real(name string, low, high float64) Dimension {
	return Dimension{Name: name, Kind: KindReal, Low: low, High: high}
}

// Integer returns an integer dimension over [low, high].
func Integer(name string, low, high int) Dimension {
	return Dimension{Name: name, Kind: KindInteger, Low: float64(low), High: float64(high)}
}

// Categorical returns a dimension over the given categories.
func Categorical(name string, categories ...string) Dimension {
	return Dimension{Name: name, Kind: KindCategorical, Low: 0, High: float64(len(categories) - 1), Categories: categories}
}

// Space is an ordered list of dimensions.
type Space []Dimension

// Validate checks the bounds of every dimension.
func (s Space) Validate() error {
	if len(s) == 0 {
		return fmt.Errorf("bayesopt: empty search space")
	}
	for _, d := range s {
		switch d.Kind {
		case KindReal, KindInteger:
			if math.IsNaN(d.Low) || math.IsNaN(d.High) || d.Low > d.High {
				return fmt.Errorf("bayesopt: dimension %q has invalid bounds [%g, %g]", d.Name, d.Low, d.High)
			}
		case KindCategorical:
			if len(d.Categories) == 0 {
				return fmt.Errorf("bayesopt: categorical dimension %q has no categories", d.Name)
			}
		default:
			return fmt.Errorf("bayesopt: dimension %q has unknown kind %v", d.Name, d.Kind)
		}
	}
	return nil
}

// Point is a location in a Space, one value per dimension. Integer and
// categorical values are whole numbers.
type Point []float64

// Float returns the i-th value.
func (p Point) Float(i int) float64 { return p[i] }

// Int returns the i-th value as an int.
func (p Point) Int(i int) int { return int(math.Round(p[i])) }

// Category returns the category name of the i-th value.
func (s Space) Category(p Point, i int) string {
	return s[i].Categories[p.Int(i)]
}

// Sample draws a uniformly random point.
func (s Space) Sample(rng *rand.Rand) Point {
	p := make(Point, len(s))
	for i, d := range s {
		switch d.Kind {
		case KindReal:
			p[i] = d.Low + rng.Float64()*(d.High-d.Low)
		case KindInteger:
			p[i] = d.Low + float64(rng.IntN(int(d.High-d.Low)+1))
		case KindCategorical:
			p[i] = float64(rng.IntN(len(d.Categories)))
		}
	}
	return p
}

// encodedDims is the width of the surrogate's input encoding.
func (s Space) encodedDims() int {
	n := 0
	for _, d := range s {
		if d.Kind == KindCategorical {
			n += len(d.Categories)
		} else {
			n++
		}
	}
	return n
}

// encode maps a point into the unit hypercube, with categorical dimensions
// one-hot encoded.
func (s Space) encode(p Point) []float64 {
	out := make([]float64, 0, s.encodedDims())
	for i, d := range s {
		switch d.Kind {
		case KindCategorical:
			for c := range d.Categories {
				v := 0.0
				if c == p.Int(i) {
					v = 1
				}
				out = append(out, v)
			}
		default:
			if d.High == d.Low {
				out = append(out, 0)
				continue
			}
			out = append(out, (p[i]-d.Low)/(d.High-d.Low))
		}
	}
	return out
}

// Format renders a point as name=value pairs for logging.
func (s Space) Format(p Point) string {
	out := ""
	for i, d := range s {
		if i > 0 {
			out += " "
		}
		switch d.Kind {
		case KindReal:
			out += fmt.Sprintf("%s=%.4f", d.Name, p[i])
		case KindInteger:
			out += fmt.Sprintf("%s=%d", d.Name, p.Int(i))
		case KindCategorical:
			out += fmt.Sprintf("%s=%s", d.Name, s.Category(p, i))
		}
	}
	return out
}
