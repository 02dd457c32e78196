// Package store implements the shared Redis state of the matching engine:
// the two FIFO membership queues, the bounded retry counters, and the
// dead-letter lists.
//
// The queues are Redis lists with a uniqueness guarantee layered on top:
// every insert goes through a Lua script that checks membership (LPOS) and
// pushes in the same atomic step, so two concurrent callers can never both
// observe "absent" and both push the same id.
//
// Multi-key decisions (pop a task and a user together, the retry-or-DLQ
// branch) are likewise single scripts so that a crash mid-decision can
// never strand an entity outside every queue.
package store

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mcollado/matchq/pkg/assign"
)

// Decision is the outcome of a retry-or-dead-letter evaluation.
type Decision string

const (
	// DecisionRetry: counter incremented, entity back in its queue.
	DecisionRetry Decision = "retry"
	// DecisionDeadLetter: retries exhausted, entity appended to its DLQ.
	DecisionDeadLetter Decision = "dead_letter"
	// DecisionRequeueExhausted: retries exhausted but the kind is never
	// dead-lettered; entity re-enters the back of its queue.
	DecisionRequeueExhausted Decision = "requeue_exhausted"
)

// Store provides atomic access to the engine's Redis collections.
type Store struct {
	rdb        *redis.Client
	maxRetries int
	retryTTL   time.Duration
}

// New wraps an existing Redis client with the engine's retry policy.
func New(rdb *redis.Client, maxRetries int, retryTTL time.Duration) *Store {
	return &Store{rdb: rdb, maxRetries: maxRetries, retryTTL: retryTTL}
}

// Client exposes the underlying Redis client for callers that need raw
// access (depth collectors, result recording).
func (s *Store) Client() *redis.Client {
	return s.rdb
}

// enqueueIfAbsent checks membership and pushes in one atomic step.
// KEYS[1] queue, ARGV[1] id, ARGV[2] "1" to push at the front.
// Returns 1 if added, 0 if the id was already present.
var enqueueIfAbsentScript = redis.NewScript(`
	local queue = KEYS[1]
	local id = ARGV[1]
	if redis.call('LPOS', queue, id) then
		return 0
	end
	if ARGV[2] == '1' then
		redis.call('LPUSH', queue, id)
	else
		redis.call('RPUSH', queue, id)
	end
	return 1
`)

// EnqueueIfAbsent inserts id into queue unless it is already a member.
// atFront pushes to the head, used when returning an entity whose turn
// was taken away. Reports whether the id was actually added.
func (s *Store) EnqueueIfAbsent(ctx context.Context, queue, id string, atFront bool) (bool, error) {
	front := "0"
	if atFront {
		front = "1"
	}
	n, err := enqueueIfAbsentScript.Run(ctx, s.rdb, []string{queue}, id, front).Int64()
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

// PopFront removes and returns the oldest id in queue. The second return
// is false when the queue is empty.
func (s *Store) PopFront(ctx context.Context, queue string) (string, bool, error) {
	id, err := s.rdb.LPop(ctx, queue).Result()
	if err == redis.Nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return id, true, nil
}

// Remove deletes the first occurrence of id from queue. Returns whether
// anything was removed; a missing id is not an error.
func (s *Store) Remove(ctx context.Context, queue, id string) (bool, error) {
	n, err := s.rdb.LRem(ctx, queue, 1, id).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// bulkEnqueue inserts every absent id at the back, all membership checks
// against the same snapshot. KEYS[1] queue, ARGV ids. Returns count added.
var bulkEnqueueScript = redis.NewScript(`
	local queue = KEYS[1]
	local added = 0
	for i = 1, #ARGV do
		if not redis.call('LPOS', queue, ARGV[i]) then
			redis.call('RPUSH', queue, ARGV[i])
			added = added + 1
		end
	end
	return added
`)

// BulkEnqueueIfAbsent appends every id not already present and returns how
// many were actually added. Existing members are skipped, not errors.
func (s *Store) BulkEnqueueIfAbsent(ctx context.Context, queue string, ids []string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return bulkEnqueueScript.Run(ctx, s.rdb, []string{queue}, args...).Int64()
}

// popPair pops the oldest task and the oldest user together. If a task is
// available but no user is, the task goes back to the FRONT of its queue so
// tasks added later cannot overtake it. KEYS[1] task queue, KEYS[2] user
// queue. Returns {} or {taskID, userID}.
var popPairScript = redis.NewScript(`
	local task = redis.call('LPOP', KEYS[1])
	if not task then
		return {}
	end
	local user = redis.call('LPOP', KEYS[2])
	if not user then
		redis.call('LPUSH', KEYS[1], task)
		return {}
	end
	return {task, user}
`)

// PopPair atomically claims the oldest waiting task together with the
// oldest waiting user. When no pair is available nothing is consumed:
// a task popped without a counterpart is restored to the head of the task
// queue inside the same script.
func (s *Store) PopPair(ctx context.Context, taskQueue, userQueue string) (taskID, userID string, ok bool, err error) {
	res, err := popPairScript.Run(ctx, s.rdb, []string{taskQueue, userQueue}).Slice()
	if err != nil {
		return "", "", false, err
	}
	if len(res) != 2 {
		return "", "", false, nil
	}
	taskID, _ = res[0].(string)
	userID, _ = res[1].(string)
	return taskID, userID, true, nil
}

// retryOrDeadLetter runs the whole failure decision for one entity in one
// atomic step: bump the counter, then either dead-letter, requeue
// exhausted, or requeue for another attempt. Requeueing is
// membership-checked so a duplicate failure report cannot create a
// duplicate queue entry; the counter is deleted on the exhausted branches
// so no dead counter lingers past the entity's circulation.
//
// KEYS: queue, retry counter, dlq.
// ARGV: id, max retries, counter TTL seconds, "1" to requeue at the front,
// "1" if the kind dead-letters on exhaustion.
// Returns {decision, attempt}.
var retryOrDeadLetterScript = redis.NewScript(`
	local queue = KEYS[1]
	local retryKey = KEYS[2]
	local dlq = KEYS[3]
	local id = ARGV[1]
	local maxRetries = tonumber(ARGV[2])
	local ttl = tonumber(ARGV[3])

	local attempt = redis.call('INCR', retryKey)
	if attempt >= maxRetries then
		redis.call('DEL', retryKey)
		if ARGV[5] == '1' then
			redis.call('RPUSH', dlq, id)
			return {'dead_letter', attempt}
		end
		if not redis.call('LPOS', queue, id) then
			redis.call('RPUSH', queue, id)
		end
		return {'requeue_exhausted', attempt}
	end

	redis.call('EXPIRE', retryKey, ttl)
	if not redis.call('LPOS', queue, id) then
		if ARGV[4] == '1' then
			redis.call('LPUSH', queue, id)
		else
			redis.call('RPUSH', queue, id)
		end
	end
	return {'retry', attempt}
`)

// RetryOrDeadLetter applies the failure policy to one blamed entity.
//
// Below the retry limit the counter is incremented, its expiry window
// refreshed, and the entity requeued: tasks at the front so a retried task
// keeps its seniority, users at the back. On the failure that reaches the
// limit a task is appended to the task DLQ and leaves circulation; a user
// is requeued at the back with a reset counter, because users are never
// dead-lettered.
//
// The attempt return is the consecutive failure count including this one.
func (s *Store) RetryOrDeadLetter(ctx context.Context, kind assign.Kind, id string) (Decision, int64, error) {
	front, deadLetter := "0", "0"
	if kind == assign.KindTask {
		front, deadLetter = "1", "1"
	}
	res, err := retryOrDeadLetterScript.Run(ctx, s.rdb,
		[]string{kind.Queue(), kind.RetryKey(id), kind.DLQ()},
		id, s.maxRetries, int(s.retryTTL.Seconds()), front, deadLetter,
	).Slice()
	if err != nil {
		return "", 0, err
	}
	if len(res) != 2 {
		return "", 0, nil
	}
	decision, _ := res[0].(string)
	attempt, _ := res[1].(int64)
	return Decision(decision), attempt, nil
}

// RetryCount reads the current retry counter for an entity. Expired or
// absent counters read as zero.
func (s *Store) RetryCount(ctx context.Context, kind assign.Kind, id string) (int64, error) {
	n, err := s.rdb.Get(ctx, kind.RetryKey(id)).Int64()
	if err == redis.Nil {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return n, nil
}

// Len returns the number of ids currently in queue.
func (s *Store) Len(ctx context.Context, queue string) (int64, error) {
	return s.rdb.LLen(ctx, queue).Result()
}

// Peek returns the first n ids of queue without removing them.
func (s *Store) Peek(ctx context.Context, queue string, n int64) ([]string, error) {
	return s.rdb.LRange(ctx, queue, 0, n-1).Result()
}

// Depths returns the current length of the four engine lists.
// Used by the inspection endpoint and the metrics collector.
func (s *Store) Depths(ctx context.Context) map[string]int64 {
	depths := make(map[string]int64)
	for _, q := range []string{assign.TaskQueue, assign.UserQueue, assign.TaskDLQ, assign.UserDLQ} {
		if n, err := s.rdb.LLen(ctx, q).Result(); err == nil {
			depths[q] = n
		}
	}
	return depths
}
