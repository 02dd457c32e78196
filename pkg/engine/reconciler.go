package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/mcollado/matchq/pkg/logger"
)

// Reconciler sweeps the waiting queues on a fixed interval, draining
// matches that did not happen synchronously with an add. It runs next to
// the inline fast path; both go through the same atomic pop primitive so
// a pair can never be dispatched twice.
type Reconciler struct {
	cron *cron.Cron
}

// NewReconciler schedules a sweep every interval.
func NewReconciler(e *Engine, interval time.Duration) (*Reconciler, error) {
	c := cron.New(cron.WithSeconds())
	_, err := c.AddFunc(fmt.Sprintf("@every %s", interval), func() {
		ctx, cancel := context.WithTimeout(context.Background(), interval)
		defer cancel()

		n, err := e.Reconcile(ctx)
		if err != nil {
			logger.Log.Error().Err(err).Msg("Reconcile sweep error")
			return
		}
		if n > 0 {
			logger.Log.Info().Int("matched", n).Msg("Reconcile sweep drained matches")
		}
	})
	if err != nil {
		return nil, err
	}
	return &Reconciler{cron: c}, nil
}

// Start begins the periodic sweeps in a background goroutine.
func (r *Reconciler) Start() {
	r.cron.Start()
	logger.Log.Info().Msg("Reconciler started")
}

// Stop halts scheduling and waits for an in-flight sweep to finish.
func (r *Reconciler) Stop() {
	<-r.cron.Stop().Done()
	logger.Log.Info().Msg("Reconciler stopped")
}
