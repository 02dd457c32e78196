// Package engine pairs waiting tasks with waiting users and owns the
// failure policy for assignments that do not stick.
//
// Matching is first-available, strict FIFO on both sides: the oldest
// pending task always goes to the oldest pending user. Matched pairs are
// dispatched as asynchronous assignment jobs; the engine never blocks on
// job execution. When a worker reports a failure, the engine blames the
// task, the user, or (for unclassified errors) both, and each blamed
// entity goes through a bounded-retry decision backed by expiring
// counters: tasks dead-letter after the retry limit, users requeue
// indefinitely.
package engine

import (
	"context"

	"github.com/mcollado/matchq/pkg/assign"
	"github.com/mcollado/matchq/pkg/logger"
	"github.com/mcollado/matchq/pkg/store"
)

// maxDrainPerSweep caps how many matches a single reconcile sweep may
// drain, so a bulk load cannot pin one sweep forever. The next tick picks
// up where this one stopped.
const maxDrainPerSweep = 1024

// JobQueue is the transport the engine dispatches matched pairs on.
// Enqueue must be fire-and-forget: accepted for execution, not executed.
type JobQueue interface {
	Enqueue(ctx context.Context, job assign.Job) error
}

// Engine is the matching core. All methods are safe for concurrent use;
// every multi-step queue mutation happens atomically inside the store.
type Engine struct {
	store      *store.Store
	dispatcher *Dispatcher
}

// New builds an engine over the shared store and a job transport.
func New(s *store.Store, jobs JobQueue) *Engine {
	return &Engine{
		store:      s,
		dispatcher: NewDispatcher(s, jobs),
	}
}

// Dispatcher returns the engine's dispatcher, which the worker side uses
// to report assignment failures.
func (e *Engine) Dispatcher() *Dispatcher {
	return e.dispatcher
}

// AddUser parks userId in the user queue unless it is already waiting,
// then makes one synchronous match attempt: the new user may be exactly
// what an already-waiting task needs.
func (e *Engine) AddUser(ctx context.Context, userID string) error {
	added, err := e.store.EnqueueIfAbsent(ctx, assign.UserQueue, userID, false)
	if err != nil {
		return err
	}
	if added {
		logger.Log.Info().Str("user", userID).Msg("User added to queue")
	} else {
		logger.Log.Debug().Str("user", userID).Msg("User already in queue")
	}

	_, err = e.DrainOneMatch(ctx)
	return err
}

// AddTask tries to satisfy taskId immediately against the oldest waiting
// user. On a hit the task is dispatched without ever entering the task
// queue; otherwise it is parked at the back.
func (e *Engine) AddTask(ctx context.Context, taskID string) error {
	userID, ok, err := e.store.PopFront(ctx, assign.UserQueue)
	if err != nil {
		return err
	}
	if ok {
		return e.dispatcher.Dispatch(ctx, taskID, userID)
	}

	added, err := e.store.EnqueueIfAbsent(ctx, assign.TaskQueue, taskID, false)
	if err != nil {
		return err
	}
	if added {
		logger.Log.Info().Str("task", taskID).Msg("Task added to queue")
	} else {
		logger.Log.Debug().Str("task", taskID).Msg("Task already in queue")
	}
	return nil
}

// DrainOneMatch makes one atomic attempt to pair the oldest waiting task
// with the oldest waiting user. A task popped without an available user is
// restored to the front of the task queue inside the same store operation,
// so its position relative to later tasks is preserved. Reports whether a
// pair was dispatched.
func (e *Engine) DrainOneMatch(ctx context.Context) (bool, error) {
	taskID, userID, ok, err := e.store.PopPair(ctx, assign.TaskQueue, assign.UserQueue)
	if err != nil || !ok {
		return false, err
	}
	if err := e.dispatcher.Dispatch(ctx, taskID, userID); err != nil {
		return false, err
	}
	return true, nil
}

// Reconcile drains as many matches as are currently possible and returns
// how many pairs were dispatched. It is the safety net for match
// opportunities that no individual add call noticed, because adds to the
// two queues are not transactionally coupled.
func (e *Engine) Reconcile(ctx context.Context) (int, error) {
	for n := 0; n < maxDrainPerSweep; n++ {
		matched, err := e.DrainOneMatch(ctx)
		if err != nil {
			return n, err
		}
		if !matched {
			return n, nil
		}
	}
	return maxDrainPerSweep, nil
}

// Remove cancels a waiting entity. Returns whether anything was removed;
// asking to remove an id that is not queued is not an error.
func (e *Engine) Remove(ctx context.Context, kind assign.Kind, id string) (bool, error) {
	removed, err := e.store.Remove(ctx, kind.Queue(), id)
	if err != nil {
		return false, err
	}
	if removed {
		logger.Log.Info().Str("kind", string(kind)).Str("id", id).Msg("Removed from queue")
	}
	return removed, nil
}

// BulkAdd appends every absent id to the kind's queue and returns how many
// were actually added. It deliberately does not trigger matching; callers
// that want the batch drained immediately follow up with Reconcile.
func (e *Engine) BulkAdd(ctx context.Context, kind assign.Kind, ids []string) (int64, error) {
	added, err := e.store.BulkEnqueueIfAbsent(ctx, kind.Queue(), ids)
	if err != nil {
		return 0, err
	}
	logger.Log.Info().
		Str("kind", string(kind)).
		Int("requested", len(ids)).
		Int64("added", added).
		Msg("Bulk add")
	return added, nil
}

// Depths reports current queue and DLQ lengths for inspection.
func (e *Engine) Depths(ctx context.Context) map[string]int64 {
	return e.store.Depths(ctx)
}

// Peek returns the first n waiting ids of a queue without consuming them.
func (e *Engine) Peek(ctx context.Context, queue string, n int64) ([]string, error) {
	return e.store.Peek(ctx, queue, n)
}
