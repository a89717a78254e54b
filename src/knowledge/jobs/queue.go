// Package jobs runs asynchronous knowledge extraction: a queue feeds a
// worker pool, failed jobs retry with backoff, and exhausted jobs land in a
// dead-letter archive.
package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/NeuroFlow-Labs/memory-engine/src/knowledge/model"
)

var (
	// ErrQueueClosed is returned by queue operations after Close.
	ErrQueueClosed = errors.New("job queue closed")

	// ErrJobNotFound is returned when a job id is unknown.
	ErrJobNotFound = errors.New("job not found")
)

// Queue hands extraction jobs from producers to workers. Dequeue blocks
// until a job is available or the context ends. Ack confirms completion;
// Nack redelivers after the delay. Cancel marks a queued job so workers
// drop it instead of running it.
type Queue interface {
	Enqueue(ctx context.Context, job model.ExtractionJob) error
	Dequeue(ctx context.Context) (model.ExtractionJob, error)
	Ack(ctx context.Context, jobID string) error
	Nack(ctx context.Context, job model.ExtractionJob, delay time.Duration) error
	Cancel(ctx context.Context, jobID string) error
	Close() error
}
