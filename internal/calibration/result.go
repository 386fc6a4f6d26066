// Package calibration tunes the MHPDT detector against labels produced by
// the HMM state tagger and scores the winning parameter set.
package calibration

import (
	"math"

	"github.com/banshee-data/downtime.report/internal/mhpdt"
)

// Status is the calibration verdict.
type Status string

const (
	StatusSuccessful Status = "SUCCESSFUL"
	StatusFailed     Status = "FAILED"
)

// Result is the calibration artifact returned to callers.
type Result struct {
	ModelType   string       `json:"model_type"`
	ModelParams mhpdt.Params `json:"model_params"`
	Status      Status       `json:"calibration_status"`
	Score       float64      `json:"calibration_score"`
}

// F1 returns the F1 score of pred against truth with 1 as the positive
// label. When there are no true and no predicted positives the score is 0.
func F1(truth, pred []int) float64 {
	var tp, fp, fn int
	for i := range truth {
		switch {
		case truth[i] == 1 && pred[i] == 1:
			tp++
		case truth[i] != 1 && pred[i] == 1:
			fp++
		case truth[i] == 1 && pred[i] != 1:
			fn++
		}
	}
	if tp == 0 {
		return 0
	}
	return 2 * float64(tp) / float64(2*tp+fp+fn)
}

// Accuracy returns the fraction of positions where pred equals truth.
func Accuracy(truth, pred []int) float64 {
	if len(truth) == 0 {
		return 0
	}
	hits := 0
	for i := range truth {
		if truth[i] == pred[i] {
			hits++
		}
	}
	return float64(hits) / float64(len(truth))
}

// Round rounds v to the given number of decimal places.
func Round(v float64, places int) float64 {
	scale := math.Pow(10, float64(places))
	return math.Round(v*scale) / scale
}
