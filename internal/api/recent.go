package api

import (
	"sync"

	"github.com/banshee-data/downtime.report/internal/report"
)

// recentOutcomes keeps the chart inputs of the last few runs, newest last.
type recentOutcomes struct {
	mu    sync.Mutex
	size  int
	ids   []string
	input map[string]report.Input
}

func newRecentOutcomes(size int) *recentOutcomes {
	return &recentOutcomes{size: size, input: make(map[string]report.Input, size)}
}

func (c *recentOutcomes) add(id string, in report.Input) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.input[id]; !ok {
		c.ids = append(c.ids, id)
	}
	c.input[id] = in
	for len(c.ids) > c.size {
		delete(c.input, c.ids[0])
		c.ids = c.ids[1:]
	}
}

// get returns the input for id, or the newest one when id is empty.
func (c *recentOutcomes) get(id string) (report.Input, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if id == "" {
		if len(c.ids) == 0 {
			return report.Input{}, false
		}
		id = c.ids[len(c.ids)-1]
	}
	in, ok := c.input[id]
	return in, ok
}
