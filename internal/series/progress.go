package series

import (
	"fmt"
	"sync"
)

// InstanceRef fills one slot of a Progress
type InstanceRef struct {
	Number      int
	InstanceUID string
}

// Progress records which instance numbers of a series have been seen.
// Slots are indexed by instance number; the declared count is only the
// initial capacity.
type Progress struct {
	mu     sync.RWMutex
	slots  []*InstanceRef
	filled int
}

// NewProgress creates a progress with capacity slots
func NewProgress(capacity int) *Progress {
	if capacity < 0 {
		capacity = 0
	}
	return &Progress{slots: make([]*InstanceRef, capacity)}
}

// Register fills the slot for ref.Number, growing the slot array when the
// number is beyond the current capacity. It reports whether the slot was
// previously empty.
func (p *Progress) Register(ref InstanceRef) (bool, error) {
	if ref.Number < 0 {
		return false, fmt.Errorf("invalid instance number %d", ref.Number)
	}
	p.mu.Lock()
	defer p.mu.Unlock()

	if ref.Number >= len(p.slots) {
		grown := make([]*InstanceRef, ref.Number+1)
		copy(grown, p.slots)
		p.slots = grown
	}

	isNew := p.slots[ref.Number] == nil
	r := ref
	p.slots[ref.Number] = &r
	if isNew {
		p.filled++
	}
	return isNew, nil
}

// IsComplete reports whether every slot is filled
func (p *Progress) IsComplete() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.slots) > 0 && p.filled == len(p.slots)
}

// CompletedCount returns the number of filled slots
func (p *Progress) CompletedCount() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.filled
}

// Capacity returns the current number of slots
func (p *Progress) Capacity() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.slots)
}

// Get returns the reference at slot n, if filled
func (p *Progress) Get(n int) (InstanceRef, bool) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if n < 0 || n >= len(p.slots) || p.slots[n] == nil {
		return InstanceRef{}, false
	}
	return *p.slots[n], true
}

// Missing lists the instance numbers not yet registered
func (p *Progress) Missing() []int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var missing []int
	for i, s := range p.slots {
		if s == nil {
			missing = append(missing, i)
		}
	}
	return missing
}
