package mhpdt

import "time"

// StateChange marks the first sample of a new state.
type StateChange struct {
	Timestamp time.Time `json:"timestamp"`
	State     int       `json:"state"`
}

// StateChanges lists the samples where state differs from the previous
// sample. The first sample is always listed.
func StateChanges(ts []time.Time, state []bool) []StateChange {
	var out []StateChange
	for i, v := range state {
		if i > 0 && v == state[i-1] {
			continue
		}
		s := 0
		if v {
			s = 1
		}
		out = append(out, StateChange{Timestamp: ts[i], State: s})
	}
	return out
}
