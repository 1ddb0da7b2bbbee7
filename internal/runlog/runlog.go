// Package runlog tracks the outcome of individual fetch calls within one
// pipeline run, so partial failures surface in the final report instead
// of aborting the run.
package runlog

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusRunning  Status = "running"
	StatusFinished Status = "finished"
	StatusError    Status = "error"
)

// Call records a single fetch attempt.
type Call struct {
	Label string    `json:"label"`
	When  time.Time `json:"when"`
	Err   string    `json:"error,omitempty"`
}

// Run is one pipeline execution: a unique ID plus every call it made.
type Run struct {
	ID        string    `json:"id"`
	Status    Status    `json:"status"`
	StartedAt time.Time `json:"started_at"`
	Calls     []Call    `json:"calls"`
}

// Manager tracks runs in-memory.
type Manager struct {
	mu   sync.RWMutex
	runs map[string]*Run
}

func NewManager() *Manager {
	return &Manager{runs: make(map[string]*Run)}
}

// Begin allocates a new run with a unique ID.
func (m *Manager) Begin() *Run {
	r := &Run{
		ID:        uuid.NewString(),
		Status:    StatusRunning,
		StartedAt: time.Now().UTC(),
	}

	m.mu.Lock()
	m.runs[r.ID] = r
	m.mu.Unlock()

	return r
}

// RecordSuccess logs a completed fetch call on a run.
func (m *Manager) RecordSuccess(id, label string) {
	m.update(id, Call{Label: label, When: time.Now().UTC()})
}

// RecordFailure logs a failed fetch call on a run. The run keeps going;
// failures only reduce how much data this run yields.
func (m *Manager) RecordFailure(id, label string, err error) {
	c := Call{Label: label, When: time.Now().UTC()}
	if err != nil {
		c.Err = err.Error()
	}
	m.update(id, c)
}

// Finish marks a run finished, or errored if any call failed.
func (m *Manager) Finish(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.runs[id]; ok {
		r.Status = StatusFinished
		for _, c := range r.Calls {
			if c.Err != "" {
				r.Status = StatusError
				break
			}
		}
	}
}

func (m *Manager) update(id string, c Call) {
	if c.Label == "" {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.runs[id]; ok {
		r.Calls = append(r.Calls, c)
	}
}

// Get returns a run by ID.
func (m *Manager) Get(id string) (*Run, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.runs[id]
	return r, ok
}

// Summary reports how many of a run's calls succeeded, e.g.
// "43 of 50 fetch calls succeeded".
func (m *Manager) Summary(id string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, ok := m.runs[id]
	if !ok {
		return "unknown run"
	}
	succeeded, total := 0, len(r.Calls)
	for _, c := range r.Calls {
		if c.Err == "" {
			succeeded++
		}
	}
	return fmt.Sprintf("%d of %d fetch calls succeeded", succeeded, total)
}
