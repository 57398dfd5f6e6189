package metrics

import (
	"sort"
	"sync"
)

// Board keeps the most recent sealed run per flow. It implements SealFunc so
// recorders can feed it, and serves snapshots to late-joining stream
// subscribers.
type Board struct {
	mu     sync.RWMutex
	latest map[string]FlowRun
}

// NewBoard creates an empty board.
func NewBoard() *Board {
	return &Board{latest: make(map[string]FlowRun)}
}

// Observe records a sealed run as the latest for its flow.
func (b *Board) Observe(run FlowRun) {
	b.mu.Lock()
	b.latest[run.Flow] = run
	b.mu.Unlock()
}

// Snapshot returns the latest run of every flow, ordered by flow name.
func (b *Board) Snapshot() []FlowRun {
	b.mu.RLock()
	runs := make([]FlowRun, 0, len(b.latest))
	for _, run := range b.latest {
		runs = append(runs, run)
	}
	b.mu.RUnlock()

	sort.Slice(runs, func(i, j int) bool { return runs[i].Flow < runs[j].Flow })
	return runs
}
