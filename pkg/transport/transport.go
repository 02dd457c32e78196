// Package transport moves assignment jobs between the matching engine and
// the worker processes over Redis lists.
//
// Delivery is at-least-once: a job is atomically moved (BLMove) from the
// pending list to a processing list while a worker executes it, and only
// acknowledged out of the processing list once the outcome has been
// handled. A worker crash leaves the job parked in the processing list for
// operators to inspect or requeue.
package transport

import (
	"context"
	"encoding/json"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mcollado/matchq/pkg/assign"
)

const (
	// JobsKey holds assignment jobs waiting for a worker.
	JobsKey = "assign:jobs"
	// ProcessingKey holds jobs currently being executed.
	ProcessingKey = "assign:processing"

	// dequeueBlock bounds each BLMove wait so consumers stay responsive
	// to shutdown.
	dequeueBlock = 1 * time.Second
)

// Queue is the Redis-backed job transport.
type Queue struct {
	rdb *redis.Client
}

// NewQueue wraps an existing Redis client.
func NewQueue(rdb *redis.Client) *Queue {
	return &Queue{rdb: rdb}
}

// Client exposes the underlying Redis client.
func (q *Queue) Client() *redis.Client {
	return q.rdb
}

// Enqueue appends an assignment job to the pending list. It returns as
// soon as Redis accepts the push; execution happens elsewhere.
func (q *Queue) Enqueue(ctx context.Context, job assign.Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return err
	}
	return q.rdb.RPush(ctx, JobsKey, data).Err()
}

// Dequeue atomically claims the oldest pending job, moving it to the
// processing list. Returns redis.Nil when nothing arrives within the
// blocking window; callers loop on that.
//
// The raw string returned alongside the job is the exact list member and
// must be passed back to Ack unchanged.
func (q *Queue) Dequeue(ctx context.Context) (*assign.Job, string, error) {
	raw, err := q.rdb.BLMove(ctx, JobsKey, ProcessingKey, "LEFT", "RIGHT", dequeueBlock).Result()
	if err != nil {
		return nil, "", err
	}
	var job assign.Job
	if err := json.Unmarshal([]byte(raw), &job); err != nil {
		return nil, raw, err
	}
	return &job, raw, nil
}

// Ack removes a claimed job from the processing list. Called on success,
// and on failure after the engine has applied its retry policy: either
// way the job itself is finished.
func (q *Queue) Ack(ctx context.Context, rawJob string) error {
	return q.rdb.LRem(ctx, ProcessingKey, 1, rawJob).Err()
}

// Depths returns the pending and processing list lengths.
func (q *Queue) Depths(ctx context.Context) map[string]int64 {
	depths := make(map[string]int64)
	for _, k := range []string{JobsKey, ProcessingKey} {
		if n, err := q.rdb.LLen(ctx, k).Result(); err == nil {
			depths[k] = n
		}
	}
	return depths
}
