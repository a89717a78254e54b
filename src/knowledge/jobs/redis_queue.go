package jobs

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	json "github.com/alpkeskin/gotoon"
	"github.com/redis/go-redis/v9"

	"github.com/NeuroFlow-Labs/memory-engine/src/knowledge/model"
)

// RedisQueue is the distributed Queue. Job ids travel through Redis lists
// (ready, processing) with payloads in a hash; delayed retries sit in a
// sorted set scored by their due time, and a janitor loop promotes them and
// reclaims jobs whose worker died mid-flight.
type RedisQueue struct {
	client            *redis.Client
	prefix            string
	visibilityTimeout time.Duration
	pollInterval      time.Duration

	janitorCancel context.CancelFunc
	janitorDone   chan struct{}
	closeOnce     sync.Once
	nowFn         func() time.Time
}

var _ Queue = (*RedisQueue)(nil)

// RedisQueueConfig tunes a RedisQueue.
type RedisQueueConfig struct {
	// Prefix namespaces the queue's keys; "neuroflow:jobs" when empty.
	Prefix string
	// VisibilityTimeout is how long a dequeued job may stay unacked before
	// the janitor requeues it.
	VisibilityTimeout time.Duration
	// PollInterval is the janitor sweep cadence.
	PollInterval time.Duration
}

// NewRedisQueue builds a queue over an existing client and starts the
// janitor.
func NewRedisQueue(client *redis.Client, cfg RedisQueueConfig) *RedisQueue {
	if cfg.Prefix == "" {
		cfg.Prefix = "neuroflow:jobs"
	}
	if cfg.VisibilityTimeout <= 0 {
		cfg.VisibilityTimeout = 5 * time.Minute
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = time.Second
	}
	q := &RedisQueue{
		client:            client,
		prefix:            cfg.Prefix,
		visibilityTimeout: cfg.VisibilityTimeout,
		pollInterval:      cfg.PollInterval,
		janitorDone:       make(chan struct{}),
		nowFn:             time.Now,
	}
	janitorCtx, cancel := context.WithCancel(context.Background())
	q.janitorCancel = cancel
	go q.janitor(janitorCtx)
	return q
}

func (q *RedisQueue) key(suffix string) string { return q.prefix + ":" + suffix }

func (q *RedisQueue) readyKey() string      { return q.key("ready") }
func (q *RedisQueue) processingKey() string { return q.key("processing") }
func (q *RedisQueue) payloadKey() string    { return q.key("payloads") }
func (q *RedisQueue) delayedKey() string    { return q.key("delayed") }
func (q *RedisQueue) leasesKey() string     { return q.key("leases") }
func (q *RedisQueue) canceledKey() string   { return q.key("canceled") }

func (q *RedisQueue) Enqueue(ctx context.Context, job model.ExtractionJob) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}
	pipe := q.client.TxPipeline()
	pipe.HSet(ctx, q.payloadKey(), job.ID, payload)
	pipe.LPush(ctx, q.readyKey(), job.ID)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("enqueue job %s: %w", job.ID, err)
	}
	return nil
}

// Dequeue blocks for the next non-canceled job, taking a lease on it.
func (q *RedisQueue) Dequeue(ctx context.Context) (model.ExtractionJob, error) {
	for {
		id, err := q.client.BLMove(ctx, q.readyKey(), q.processingKey(), "RIGHT", "LEFT", q.pollInterval).Result()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				if ctx.Err() != nil {
					return model.ExtractionJob{}, ctx.Err()
				}
				continue
			}
			if ctx.Err() != nil {
				return model.ExtractionJob{}, ctx.Err()
			}
			return model.ExtractionJob{}, fmt.Errorf("dequeue: %w", err)
		}

		canceled, err := q.client.SIsMember(ctx, q.canceledKey(), id).Result()
		if err == nil && canceled {
			q.discard(ctx, id)
			continue
		}

		payload, err := q.client.HGet(ctx, q.payloadKey(), id).Result()
		if err != nil {
			q.discard(ctx, id)
			if errors.Is(err, redis.Nil) {
				continue
			}
			return model.ExtractionJob{}, fmt.Errorf("load job %s: %w", id, err)
		}

		var job model.ExtractionJob
		if err := json.Unmarshal([]byte(payload), &job); err != nil {
			q.discard(ctx, id)
			return model.ExtractionJob{}, fmt.Errorf("decode job %s: %w", id, err)
		}

		deadline := float64(q.nowFn().Add(q.visibilityTimeout).UnixMilli())
		q.client.ZAdd(ctx, q.leasesKey(), redis.Z{Score: deadline, Member: id})
		return job, nil
	}
}

func (q *RedisQueue) Ack(ctx context.Context, jobID string) error {
	pipe := q.client.TxPipeline()
	pipe.LRem(ctx, q.processingKey(), 0, jobID)
	pipe.ZRem(ctx, q.leasesKey(), jobID)
	pipe.HDel(ctx, q.payloadKey(), jobID)
	pipe.SRem(ctx, q.canceledKey(), jobID)
	_, err := pipe.Exec(ctx)
	return err
}

// Nack parks the job in the delayed set until its retry is due.
func (q *RedisQueue) Nack(ctx context.Context, job model.ExtractionJob, delay time.Duration) error {
	payload, err := json.Marshal(job)
	if err != nil {
		return fmt.Errorf("encode job: %w", err)
	}
	due := float64(q.nowFn().Add(delay).UnixMilli())
	pipe := q.client.TxPipeline()
	pipe.LRem(ctx, q.processingKey(), 0, job.ID)
	pipe.ZRem(ctx, q.leasesKey(), job.ID)
	pipe.HSet(ctx, q.payloadKey(), job.ID, payload)
	pipe.ZAdd(ctx, q.delayedKey(), redis.Z{Score: due, Member: job.ID})
	_, err = pipe.Exec(ctx)
	return err
}

func (q *RedisQueue) Cancel(ctx context.Context, jobID string) error {
	pipe := q.client.TxPipeline()
	pipe.SAdd(ctx, q.canceledKey(), jobID)
	pipe.ZRem(ctx, q.delayedKey(), jobID)
	_, err := pipe.Exec(ctx)
	return err
}

// Close stops the janitor; the Redis client itself is owned by the caller.
func (q *RedisQueue) Close() error {
	q.closeOnce.Do(func() {
		q.janitorCancel()
		<-q.janitorDone
	})
	return nil
}

func (q *RedisQueue) discard(ctx context.Context, jobID string) {
	pipe := q.client.TxPipeline()
	pipe.LRem(ctx, q.processingKey(), 0, jobID)
	pipe.ZRem(ctx, q.leasesKey(), jobID)
	pipe.HDel(ctx, q.payloadKey(), jobID)
	pipe.SRem(ctx, q.canceledKey(), jobID)
	_, _ = pipe.Exec(ctx)
}

// janitor promotes due retries to the ready list and requeues jobs whose
// lease expired without an ack.
func (q *RedisQueue) janitor(ctx context.Context) {
	defer close(q.janitorDone)
	ticker := time.NewTicker(q.pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			q.promoteDelayed(ctx)
			q.reclaimExpired(ctx)
		}
	}
}

func (q *RedisQueue) promoteDelayed(ctx context.Context) {
	now := strconv.FormatInt(q.nowFn().UnixMilli(), 10)
	ids, err := q.client.ZRangeByScore(ctx, q.delayedKey(), &redis.ZRangeBy{Min: "-inf", Max: now}).Result()
	if err != nil || len(ids) == 0 {
		return
	}
	pipe := q.client.TxPipeline()
	for _, id := range ids {
		pipe.ZRem(ctx, q.delayedKey(), id)
		pipe.LPush(ctx, q.readyKey(), id)
	}
	_, _ = pipe.Exec(ctx)
}

func (q *RedisQueue) reclaimExpired(ctx context.Context) {
	now := strconv.FormatInt(q.nowFn().UnixMilli(), 10)
	ids, err := q.client.ZRangeByScore(ctx, q.leasesKey(), &redis.ZRangeBy{Min: "-inf", Max: now}).Result()
	if err != nil || len(ids) == 0 {
		return
	}
	pipe := q.client.TxPipeline()
	for _, id := range ids {
		pipe.ZRem(ctx, q.leasesKey(), id)
		pipe.LRem(ctx, q.processingKey(), 0, id)
		pipe.LPush(ctx, q.readyKey(), id)
	}
	_, _ = pipe.Exec(ctx)
}
