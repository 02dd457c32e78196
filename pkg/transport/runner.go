package transport

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/redis/go-redis/v9"

	"github.com/mcollado/matchq/pkg/assign"
	"github.com/mcollado/matchq/pkg/logger"
)

// Handler executes one assignment job. A nil return acknowledges the
// assignment; an error puts the pair through the engine's failure policy,
// classified via assign.Classify.
type Handler func(ctx context.Context, job assign.Job) error

// FailureReporter receives classified assignment failures. In a running
// system this is the engine's dispatcher.
type FailureReporter interface {
	OnFailure(ctx context.Context, taskID, userID string, kind assign.ErrorKind) error
}

// Runner consumes assignment jobs with a pool of worker goroutines.
type Runner struct {
	queue    *Queue
	handler  Handler
	reporter FailureReporter
	workers  int

	// OnDone, when set, is called after each job with the outcome kind
	// ("" on success). Used by the worker process for metrics.
	OnDone func(job assign.Job, kind assign.ErrorKind)
}

// NewRunner builds a consumer pool of the given size.
func NewRunner(q *Queue, workers int, handler Handler, reporter FailureReporter) *Runner {
	if workers <= 0 {
		workers = 1
	}
	return &Runner{queue: q, handler: handler, reporter: reporter, workers: workers}
}

// Run starts the consumer goroutines and blocks until ctx is cancelled.
func (r *Runner) Run(ctx context.Context) {
	done := make(chan struct{})
	for i := 0; i < r.workers; i++ {
		go func(id int) {
			defer func() { done <- struct{}{} }()
			r.consume(ctx, id)
		}(i)
	}
	for i := 0; i < r.workers; i++ {
		<-done
	}
}

func (r *Runner) consume(ctx context.Context, id int) {
	logger.Log.Info().Int("consumer", id).Msg("Assignment consumer started")
	for {
		select {
		case <-ctx.Done():
			logger.Log.Info().Int("consumer", id).Msg("Assignment consumer stopping")
			return
		default:
		}

		job, raw, err := r.queue.Dequeue(ctx)
		if err == redis.Nil {
			continue
		}
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Log.Error().Err(err).Int("consumer", id).Msg("Dequeue error")
			continue
		}

		r.process(ctx, id, *job, raw)
	}
}

func (r *Runner) process(ctx context.Context, id int, job assign.Job, raw string) {
	err := r.execute(ctx, job)
	if err == nil {
		if ackErr := r.queue.Ack(ctx, raw); ackErr != nil {
			logger.Log.Error().Err(ackErr).Str("job", job.ID).Msg("Ack failed")
		}
		if r.OnDone != nil {
			r.OnDone(job, "")
		}
		return
	}

	kind := assign.Classify(err)
	logger.Log.Warn().Err(err).
		Str("job", job.ID).
		Str("task", job.TaskID).
		Str("user", job.UserID).
		Str("error_kind", string(kind)).
		Int("consumer", id).
		Msg("Assignment failed")

	// Report before ack: if the report fails the job stays in the
	// processing list rather than disappearing unhandled.
	if repErr := r.reporter.OnFailure(ctx, job.TaskID, job.UserID, kind); repErr != nil {
		logger.Log.Error().Err(repErr).Str("job", job.ID).Msg("Failure report error, leaving job in processing")
		return
	}
	if ackErr := r.queue.Ack(ctx, raw); ackErr != nil {
		logger.Log.Error().Err(ackErr).Str("job", job.ID).Msg("Ack failed")
	}
	if r.OnDone != nil {
		r.OnDone(job, kind)
	}
}

// execute runs the handler with panic recovery so one bad assignment
// cannot take a consumer goroutine down.
func (r *Runner) execute(ctx context.Context, job assign.Job) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			logger.Log.Error().
				Str("job", job.ID).
				Interface("panic", rec).
				Str("stack", string(debug.Stack())).
				Msg("Handler panic recovered")
			err = fmt.Errorf("handler panic: %v", rec)
		}
	}()
	return r.handler(ctx, job)
}
