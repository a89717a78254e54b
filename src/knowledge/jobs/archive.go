package jobs

import (
	"context"
	"sync"
	"time"

	"github.com/NeuroFlow-Labs/memory-engine/src/knowledge/model"
)

// DeadLetterArchive stores jobs that exhausted their retries, preserving the
// turn so an operator can replay it after fixing the underlying fault.
type DeadLetterArchive interface {
	Archive(ctx context.Context, job model.ExtractionJob, failure error) error
}

// DeadLetter is one archived job record.
type DeadLetter struct {
	Job        model.ExtractionJob `json:"job"`
	Reason     string              `json:"reason"`
	ArchivedAt time.Time           `json:"archived_at"`
}

// MemoryArchive keeps dead letters in memory. The default for tests and
// deployments without Mongo.
type MemoryArchive struct {
	mu      sync.Mutex
	letters []DeadLetter
	nowFn   func() time.Time
}

var _ DeadLetterArchive = (*MemoryArchive)(nil)

func NewMemoryArchive() *MemoryArchive {
	return &MemoryArchive{nowFn: time.Now}
}

func (a *MemoryArchive) Archive(ctx context.Context, job model.ExtractionJob, failure error) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	reason := ""
	if failure != nil {
		reason = failure.Error()
	}
	a.letters = append(a.letters, DeadLetter{
		Job:        job,
		Reason:     reason,
		ArchivedAt: a.nowFn(),
	})
	return nil
}

// Letters returns a copy of the archived records.
func (a *MemoryArchive) Letters() []DeadLetter {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]DeadLetter, len(a.letters))
	copy(out, a.letters)
	return out
}
