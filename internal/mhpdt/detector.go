package mhpdt

import (
	"fmt"
	"time"

	"github.com/banshee-data/downtime.report/internal/features"
)

// Prediction is a feature table extended with the detector stages. It is
// built fresh for each evaluation.
type Prediction struct {
	Timestamps []time.Time
	MHP        []float64
	// IsCycle is the raw threshold signal.
	IsCycle []bool
	// State is the signal after the optional min-cycle pass and the andon bridge.
	State []bool
	// StateFiltered is the final per-sample prediction.
	StateFiltered []bool
}

// Predict runs the detector over table with a snapshot of p.
func Predict(table *features.Table, p Params) (*Prediction, error) {
	if err := p.Validate(); err != nil {
		return nil, err
	}
	if table == nil {
		return nil, fmt.Errorf("%w: nil feature table", ErrInvalidParameter)
	}

	ts := table.Timestamps()
	mhp := table.MHP()
	isCycle := Threshold(mhp, p.MHPThreshold)

	cycle := isCycle
	if p.MinCycleTime > 0 {
		cycle = Bridge(ts, cycle, Seconds(p.MinCycleTime))
	}
	state := Bridge(ts, cycle, Seconds(p.AndonUptimeThreshold))

	filtered, err := Filter(ts, state, time.Duration(p.UpFilterSize)*time.Second,
		time.Duration(p.DownFilterSize)*time.Second, p.FirstFilter)
	if err != nil {
		return nil, err
	}

	return &Prediction{
		Timestamps:    ts,
		MHP:           mhp,
		IsCycle:       isCycle,
		State:         state,
		StateFiltered: filtered,
	}, nil
}

// Labels returns StateFiltered as 0/1 labels.
func (p *Prediction) Labels() []int {
	return Labels(p.StateFiltered)
}

// Threshold marks samples whose mhp is at or above threshold. NaN never
// qualifies.
func Threshold(mhp []float64, threshold float64) []bool {
	out := make([]bool, len(mhp))
	for i, v := range mhp {
		out[i] = v >= threshold
	}
	return out
}

// Bridge converts a cycle signal into a state signal by keeping idle samples
// active while they lie within gap of the last active sample. The first
// sample is always idle and does not start a bridge.
func Bridge(ts []time.Time, active []bool, gap time.Duration) []bool {
	out := make([]bool, len(active))
	if len(active) == 0 {
		return out
	}
	last := ts[0].Add(-gap)
	for i := 1; i < len(active); i++ {
		if active[i] {
			out[i] = true
			last = ts[i]
			continue
		}
		out[i] = !last.Add(gap).Before(ts[i])
	}
	return out
}

// Labels converts a boolean series to 0/1.
func Labels(b []bool) []int {
	out := make([]int, len(b))
	for i, v := range b {
		if v {
			out[i] = 1
		}
	}
	return out
}
