package series

import (
	"sync"
	"time"
)

// State is the processing stage of a tracked series
type State int

const (
	StateNew State = iota
	StateInPipeline
	StateInGridPipeline
)

func (s State) String() string {
	switch s {
	case StateNew:
		return "NEW"
	case StateInPipeline:
		return "IN_PIPELINE"
	case StateInGridPipeline:
		return "IN_GRID_PIPELINE"
	default:
		return "UNKNOWN"
	}
}

// MarshalText renders the state name in JSON status reports
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// DefaultIdleTimeout is how long a series may go without activity before it
// is dropped from tracking
const DefaultIdleTimeout = 30 * time.Second

// Status is the mutable tracking entry of one series
type Status struct {
	Description *SeriesDescription
	Progress    *Progress

	mu           sync.RWMutex
	state        State
	pending      int
	lastActivity time.Time
	idleTimeout  time.Duration
	now          func() time.Time
}

// StatusOption configures a Status
type StatusOption func(*Status)

// WithIdleTimeout overrides DefaultIdleTimeout
func WithIdleTimeout(d time.Duration) StatusOption {
	return func(s *Status) {
		if d > 0 {
			s.idleTimeout = d
		}
	}
}

// WithClock replaces time.Now, used by tests
func WithClock(now func() time.Time) StatusOption {
	return func(s *Status) {
		if now != nil {
			s.now = now
		}
	}
}

// NewStatus creates a NEW status with activity registered now
func NewStatus(desc *SeriesDescription, opts ...StatusOption) *Status {
	s := &Status{
		Description: desc,
		Progress:    NewProgress(desc.InstanceCount),
		state:       StateNew,
		pending:     -1,
		idleTimeout: DefaultIdleTimeout,
		now:         time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.lastActivity = s.now()
	return s
}

// SeriesUID returns the tracked series UID
func (s *Status) SeriesUID() string {
	return s.Description.SeriesUID
}

// RegisterActivity resets the idle clock
func (s *Status) RegisterActivity() {
	s.mu.Lock()
	s.lastActivity = s.now()
	s.mu.Unlock()
}

// ObservePending records how many instances still await conversion and
// reports whether that number dropped since the last observation
func (s *Status) ObservePending(n int) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	drained := s.pending >= 0 && n < s.pending
	s.pending = n
	return drained
}

// State returns the current state
func (s *Status) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// SetState moves the series to state
func (s *Status) SetState(state State) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// LastActivity returns the time of the last registered activity
func (s *Status) LastActivity() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.lastActivity
}

// IsIdle reports whether no activity was registered for longer than the idle timeout
func (s *Status) IsIdle() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.now().Sub(s.lastActivity) > s.idleTimeout
}

// IsComplete reports whether every instance slot is filled
func (s *Status) IsComplete() bool {
	return s.Progress.IsComplete()
}

// IsDone is true once the series is complete or has gone idle
func (s *Status) IsDone() bool {
	return s.IsComplete() || s.IsIdle()
}

// Snapshot is a read-only view of a Status for reporting
type Snapshot struct {
	SeriesUID      string    `json:"series_uid"`
	StudyUID       string    `json:"study_uid"`
	PatientID      string    `json:"patient_id"`
	PatientName    string    `json:"patient_name"`
	InstanceCount  int       `json:"instance_count"`
	Capacity       int       `json:"capacity"`
	CompletedCount int       `json:"completed_count"`
	State          State     `json:"state"`
	Complete       bool      `json:"complete"`
	Idle           bool      `json:"idle"`
	LastActivity   time.Time `json:"last_activity"`
}

// Snapshot captures the current status
func (s *Status) Snapshot() Snapshot {
	d := s.Description
	return Snapshot{
		SeriesUID:      d.SeriesUID,
		StudyUID:       d.StudyUID,
		PatientID:      d.PatientID,
		PatientName:    d.PatientName,
		InstanceCount:  d.InstanceCount,
		Capacity:       s.Progress.Capacity(),
		CompletedCount: s.Progress.CompletedCount(),
		State:          s.State(),
		Complete:       s.IsComplete(),
		Idle:           s.IsIdle(),
		LastActivity:   s.LastActivity(),
	}
}
