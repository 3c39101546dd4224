// Package jobstore holds the latest status snapshot per job. Each update
// overwrites the previous value; no history is retained, so a slow poller
// only ever observes the most recent state.
package jobstore

import (
	"context"
	"errors"
)

// Job lifecycle statuses visible to pollers.
const (
	StatusProcessing = "processing"
	StatusDone       = "done"
	StatusError      = "error"
)

// JobStatus is the single mutable status slot of one job.
type JobStatus struct {
	Status       string   `json:"status"`
	Message      string   `json:"message"`
	DownloadURL  string   `json:"download_url,omitempty"`
	QueryFields  []string `json:"query_fields,omitempty"`
	QueryTargets []string `json:"query_targets,omitempty"`
	// Details carries a diagnostic trace on terminal errors.
	Details string `json:"details,omitempty"`
}

// ErrNotFound reports an unknown job id.
var ErrNotFound = errors.New("jobstore: job not found")

// Store is the status-slot abstraction. Backings differ in durability
// only; semantics are always last-write-wins.
type Store interface {
	Get(ctx context.Context, jobID string) (JobStatus, error)
	Set(ctx context.Context, jobID string, status JobStatus) error
	Delete(ctx context.Context, jobID string) error
}
