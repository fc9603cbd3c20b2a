package series

import (
	"sort"
	"sync"
)

// Tracker is the set of series currently being watched, keyed by series UID.
// It is safe for the watcher and reporting goroutines to use concurrently.
type Tracker struct {
	mu     sync.RWMutex
	series map[string]*Status
}

// NewTracker creates an empty tracker
func NewTracker() *Tracker {
	return &Tracker{series: make(map[string]*Status)}
}

// Add starts tracking status unless its series is already tracked. It
// returns the tracked entry and whether it was added.
func (t *Tracker) Add(status *Status) (*Status, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	uid := status.SeriesUID()
	if existing, ok := t.series[uid]; ok {
		return existing, false
	}
	t.series[uid] = status
	return status, true
}

// Get returns the status of a tracked series
func (t *Tracker) Get(seriesUID string) (*Status, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	s, ok := t.series[seriesUID]
	return s, ok
}

// Remove stops tracking a series
func (t *Tracker) Remove(seriesUID string) {
	t.mu.Lock()
	delete(t.series, seriesUID)
	t.mu.Unlock()
}

// Len returns the number of tracked series
func (t *Tracker) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.series)
}

// List returns the tracked statuses ordered by series UID. The slice is a
// copy, so callers may Remove while iterating it.
func (t *Tracker) List() []*Status {
	t.mu.RLock()
	out := make([]*Status, 0, len(t.series))
	for _, s := range t.series {
		out = append(out, s)
	}
	t.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		return out[i].SeriesUID() < out[j].SeriesUID()
	})
	return out
}

// Snapshots returns read-only views of every tracked series
func (t *Tracker) Snapshots() []Snapshot {
	list := t.List()
	out := make([]Snapshot, 0, len(list))
	for _, s := range list {
		out = append(out, s.Snapshot())
	}
	return out
}
