package model

import "time"

// JobKind routes work inside the orchestrator, mirroring the separate
// "memory" and "maintenance" queues of the original deployment.
type JobKind string

const (
	JobExtraction  JobKind = "extraction"
	JobMaintenance JobKind = "maintenance"
)

// JobStatus is the extraction job state machine:
// pending -> running -> succeeded, or running -> failed -> pending (retry),
// or failed terminally once attempts are exhausted.
type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
	JobCanceled  JobStatus = "canceled"
)

// Terminal reports whether the job will make no further progress.
func (s JobStatus) Terminal() bool {
	return s == JobSucceeded || s == JobFailed || s == JobCanceled
}

// ExtractionJob is one unit of asynchronous work turning a conversation turn
// into graph updates. Owned by the orchestrator from creation to terminal
// state.
type ExtractionJob struct {
	ID        string    `json:"id"`
	Kind      JobKind   `json:"kind"`
	Scope     Scope     `json:"scope"`
	Turn      Turn      `json:"turn"`
	Status    JobStatus `json:"status"`
	Attempts  int       `json:"attempts"`
	LastError string    `json:"last_error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}
