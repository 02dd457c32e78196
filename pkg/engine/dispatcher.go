package engine

import (
	"context"
	"errors"

	"github.com/mcollado/matchq/pkg/assign"
	"github.com/mcollado/matchq/pkg/logger"
	"github.com/mcollado/matchq/pkg/store"
)

// Dispatcher turns matched pairs into assignment jobs and absorbs the
// failures the job transport reports back.
type Dispatcher struct {
	store *store.Store
	jobs  JobQueue
}

func NewDispatcher(s *store.Store, jobs JobQueue) *Dispatcher {
	return &Dispatcher{store: s, jobs: jobs}
}

// Dispatch hands a matched pair to the job transport. The pair is out of
// both queues at this point; once Enqueue returns, the transport owns it
// until a worker reports an outcome.
//
// If the transport itself refuses the job, both entities are restored to
// the front of their queues so the pairing is retried by the next sweep
// instead of silently vanishing.
func (d *Dispatcher) Dispatch(ctx context.Context, taskID, userID string) error {
	job := assign.NewJob(taskID, userID)
	if err := d.jobs.Enqueue(ctx, job); err != nil {
		logger.Log.Error().Err(err).
			Str("task", taskID).
			Str("user", userID).
			Msg("Job transport rejected assignment, restoring pair")
		_, taskErr := d.store.EnqueueIfAbsent(ctx, assign.TaskQueue, taskID, true)
		_, userErr := d.store.EnqueueIfAbsent(ctx, assign.UserQueue, userID, true)
		return errors.Join(err, taskErr, userErr)
	}
	logger.Log.Info().
		Str("job", job.ID).
		Str("task", taskID).
		Str("user", userID).
		Msg("Task assigned to user")
	return nil
}

// OnFailure applies the blame policy for a failed assignment. A
// user-attributed error puts only the user through the retry decision, a
// task-attributed error only the task, and an unclassified error both
// independently: with no attribution the engine retries conservatively
// rather than guessing an innocent party.
//
// The transport delivers at least once, so this may run twice for the same
// nominal failure; the underlying decision requeues membership-checked and
// costs at most one extra counter increment on a duplicate report.
func (d *Dispatcher) OnFailure(ctx context.Context, taskID, userID string, kind assign.ErrorKind) error {
	switch kind {
	case assign.ErrorUser:
		return d.retryOrDeadLetter(ctx, assign.KindUser, userID)
	case assign.ErrorTask:
		return d.retryOrDeadLetter(ctx, assign.KindTask, taskID)
	default:
		return errors.Join(
			d.retryOrDeadLetter(ctx, assign.KindUser, userID),
			d.retryOrDeadLetter(ctx, assign.KindTask, taskID),
		)
	}
}

func (d *Dispatcher) retryOrDeadLetter(ctx context.Context, kind assign.Kind, id string) error {
	decision, attempt, err := d.store.RetryOrDeadLetter(ctx, kind, id)
	if err != nil {
		logger.Log.Error().Err(err).
			Str("kind", string(kind)).
			Str("id", id).
			Msg("Retry decision failed")
		return err
	}

	switch decision {
	case store.DecisionDeadLetter:
		logger.Log.Error().
			Str("kind", string(kind)).
			Str("id", id).
			Int64("retries", attempt).
			Msg("Max retries reached, moved to DLQ")
	case store.DecisionRequeueExhausted:
		logger.Log.Warn().
			Str("kind", string(kind)).
			Str("id", id).
			Int64("retries", attempt).
			Msg("Max retries reached, requeued at the back")
	default:
		logger.Log.Info().
			Str("kind", string(kind)).
			Str("id", id).
			Int64("attempt", attempt).
			Msg("Retrying entity")
	}
	return nil
}
