package jobstore

import (
	"context"
	"sync"
)

// Memory is the in-process Store backing, suitable for single-instance
// deployments.
type Memory struct {
	mu   sync.RWMutex
	jobs map[string]JobStatus
}

var _ Store = (*Memory)(nil)

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{jobs: make(map[string]JobStatus)}
}

func (m *Memory) Get(ctx context.Context, jobID string) (JobStatus, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	status, ok := m.jobs[jobID]
	if !ok {
		return JobStatus{}, ErrNotFound
	}
	return status, nil
}

func (m *Memory) Set(ctx context.Context, jobID string, status JobStatus) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[jobID] = status
	return nil
}

func (m *Memory) Delete(ctx context.Context, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.jobs, jobID)
	return nil
}
