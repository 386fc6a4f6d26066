package mhpdt

import (
	"fmt"
	"time"
)

// edges returns the indices where state rises (false to true) and falls
// (true to false), comparing each sample to its predecessor.
func edges(state []bool) (upStarts, downStarts []int) {
	for i := 1; i < len(state); i++ {
		switch {
		case state[i] && !state[i-1]:
			upStarts = append(upStarts, i)
		case !state[i] && state[i-1]:
			downStarts = append(downStarts, i)
		}
	}
	return upStarts, downStarts
}

// overwrite sets state[from..to] (inclusive) to v.
func overwrite(state []bool, from, to int, v bool) {
	for i := from; i <= to; i++ {
		state[i] = v
	}
}

// DownFilter forces idle runs shorter than size to active. An idle run spans
// a down-start and the next up-start; up-starts before the first down-start
// are dropped and surplus trailing down-starts (an unterminated idle run) are
// left alone. A zero size passes the series through.
func DownFilter(ts []time.Time, state []bool, size time.Duration) []bool {
	out := append([]bool(nil), state...)
	if size == 0 {
		return out
	}
	ups, downs := edges(state)
	if len(downs) > 0 {
		ups = after(ts, ups, ts[downs[0]])
	}
	if len(downs) > len(ups) {
		downs = downs[:len(ups)]
	}
	for i := range downs {
		ds, us := downs[i], ups[i]
		if ts[us].Sub(ts[ds]) < size {
			overwrite(out, ds, us, true)
		}
	}
	return out
}

// UpFilter forces active runs shorter than size to idle. An active run spans
// an up-start and the next down-start; down-starts before the first up-start
// are dropped and surplus trailing up-starts (an unterminated active run) are
// left alone. A zero size passes the series through.
func UpFilter(ts []time.Time, state []bool, size time.Duration) []bool {
	out := append([]bool(nil), state...)
	if size == 0 {
		return out
	}
	ups, downs := edges(state)
	if len(ups) == 0 {
		return out
	}
	if len(downs) > 0 {
		downs = after(ts, downs, ts[ups[0]])
	}
	if len(ups) > len(downs) {
		ups = ups[:len(downs)]
	}
	for i := range ups {
		us, ds := ups[i], downs[i]
		if ts[ds].Sub(ts[us]) < size {
			overwrite(out, us, ds, false)
		}
	}
	return out
}

// Filter applies both run-length filters in the given order.
func Filter(ts []time.Time, state []bool, up, down time.Duration, first FilterOrder) ([]bool, error) {
	if len(ts) != len(state) {
		return nil, fmt.Errorf("%w: %d timestamps for %d states", ErrInvalidParameter, len(ts), len(state))
	}
	if up < 0 || down < 0 {
		return nil, fmt.Errorf("%w: filter sizes must be non-negative", ErrInvalidParameter)
	}
	switch first {
	case DownFirst:
		return UpFilter(ts, DownFilter(ts, state, down), up), nil
	case UpFirst:
		return DownFilter(ts, UpFilter(ts, state, up), down), nil
	default:
		return nil, fmt.Errorf("%w: unknown first_filter %q", ErrInvalidParameter, first)
	}
}

// after keeps the indices whose timestamp is strictly after t.
func after(ts []time.Time, idx []int, t time.Time) []int {
	out := idx[:0:0]
	for _, i := range idx {
		if ts[i].After(t) {
			out = append(out, i)
		}
	}
	return out
}
