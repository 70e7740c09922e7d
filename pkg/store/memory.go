// Package store keeps simulation runs submitted through the HTTP API.
package store

import (
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/psantana5/farmsim/internal/config"
	"github.com/psantana5/farmsim/internal/report"
)

var (
	ErrRunNotFound = errors.New("run not found")
	ErrRunFinished = errors.New("run already finished")
)

// RunStatus is the lifecycle state of a run
type RunStatus string

const (
	RunQueued    RunStatus = "queued"
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunFailed    RunStatus = "failed"
)

// Finished reports whether no further transitions are possible
func (s RunStatus) Finished() bool {
	return s == RunCompleted || s == RunFailed
}

// Run is one batch submitted for simulation
type Run struct {
	ID          string         `json:"id"`
	Status      RunStatus      `json:"status"`
	Config      *config.Config `json:"config"`
	CreatedAt   time.Time      `json:"created_at"`
	StartedAt   *time.Time     `json:"started_at,omitempty"`
	CompletedAt *time.Time     `json:"completed_at,omitempty"`
	Error       string         `json:"error,omitempty"`
	Report      *report.Report `json:"report,omitempty"`
}

// MemoryStore is an in-memory run store. When MaxRuns is reached the oldest
// finished run is evicted to make room.
type MemoryStore struct {
	runs    map[string]*Run
	order   []string // creation order
	maxRuns int
	mu      sync.RWMutex
}

// NewMemoryStore creates a store that retains at most maxRuns runs; 0 means unbounded
func NewMemoryStore(maxRuns int) *MemoryStore {
	return &MemoryStore{
		runs:    make(map[string]*Run),
		order:   make([]string, 0),
		maxRuns: maxRuns,
	}
}

// Create registers a queued run for cfg and returns a copy of it
func (s *MemoryStore) Create(cfg *config.Config) *Run {
	run := &Run{
		ID:        uuid.New().String(),
		Status:    RunQueued,
		Config:    cfg,
		CreatedAt: time.Now(),
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.maxRuns > 0 && len(s.order) >= s.maxRuns {
		s.evictLocked()
	}
	s.runs[run.ID] = run
	s.order = append(s.order, run.ID)
	return run.clone()
}

// evictLocked drops the oldest finished run, if any
func (s *MemoryStore) evictLocked() {
	for i, id := range s.order {
		if s.runs[id].Status.Finished() {
			delete(s.runs, id)
			s.order = append(s.order[:i], s.order[i+1:]...)
			return
		}
	}
}

// Get returns a copy of the run with the given ID
func (s *MemoryStore) Get(id string) (*Run, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[id]
	if !ok {
		return nil, ErrRunNotFound
	}
	return run.clone(), nil
}

// List returns copies of all runs, oldest first
func (s *MemoryStore) List() []*Run {
	s.mu.RLock()
	defer s.mu.RUnlock()

	runs := make([]*Run, 0, len(s.order))
	for _, id := range s.order {
		runs = append(runs, s.runs[id].clone())
	}
	return runs
}

// MarkRunning moves a queued run to running
func (s *MemoryStore) MarkRunning(id string) error {
	return s.update(id, func(run *Run) {
		now := time.Now()
		run.Status = RunRunning
		run.StartedAt = &now
	})
}

// Complete attaches the report and finishes the run
func (s *MemoryStore) Complete(id string, rep *report.Report) error {
	return s.update(id, func(run *Run) {
		now := time.Now()
		run.Status = RunCompleted
		run.CompletedAt = &now
		run.Report = rep
	})
}

// Fail finishes the run with an error
func (s *MemoryStore) Fail(id string, cause error) error {
	return s.update(id, func(run *Run) {
		now := time.Now()
		run.Status = RunFailed
		run.CompletedAt = &now
		run.Error = cause.Error()
	})
}

func (s *MemoryStore) update(id string, fn func(*Run)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	run, ok := s.runs[id]
	if !ok {
		return ErrRunNotFound
	}
	if run.Status.Finished() {
		return ErrRunFinished
	}
	fn(run)
	return nil
}

// clone copies the run record; the report is shared since it is never
// mutated once attached
func (r *Run) clone() *Run {
	c := *r
	return &c
}
