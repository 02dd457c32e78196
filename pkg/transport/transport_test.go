package transport

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/mcollado/matchq/pkg/assign"
)

func setupTestQueue(t *testing.T) (*miniredis.Miniredis, *Queue) {
	t.Helper()
	s, err := miniredis.Run()
	if err != nil {
		t.Fatalf("Failed to start miniredis: %v", err)
	}
	t.Cleanup(s.Close)

	rdb := redis.NewClient(&redis.Options{Addr: s.Addr()})
	return s, NewQueue(rdb)
}

func TestEnqueueDequeueAck(t *testing.T) {
	s, q := setupTestQueue(t)
	ctx := context.Background()

	job := assign.NewJob("t1", "u1")
	if err := q.Enqueue(ctx, job); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	got, raw, err := q.Dequeue(ctx)
	if err != nil {
		t.Fatalf("Dequeue failed: %v", err)
	}
	if got.ID != job.ID || got.TaskID != "t1" || got.UserID != "u1" {
		t.Errorf("Expected job %+v, got %+v", job, got)
	}

	// Claimed, not lost: the job moved to the processing list.
	if n, _ := s.List(ProcessingKey); len(n) != 1 {
		t.Errorf("Expected 1 job in processing, got %v", n)
	}

	if err := q.Ack(ctx, raw); err != nil {
		t.Fatalf("Ack failed: %v", err)
	}
	depths := q.Depths(ctx)
	if depths[JobsKey] != 0 || depths[ProcessingKey] != 0 {
		t.Errorf("Expected empty transport after ack, got %v", depths)
	}
}

func TestDequeueEmpty(t *testing.T) {
	_, q := setupTestQueue(t)
	ctx := context.Background()

	_, _, err := q.Dequeue(ctx)
	if err != redis.Nil {
		t.Errorf("Expected redis.Nil on empty queue, got %v", err)
	}
}

// recordingReporter captures failure reports from the runner.
type recordingReporter struct {
	mu      sync.Mutex
	reports []assign.ErrorKind
}

func (r *recordingReporter) OnFailure(_ context.Context, taskID, userID string, kind assign.ErrorKind) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.reports = append(r.reports, kind)
	return nil
}

func (r *recordingReporter) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.reports)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatal("Condition not reached in time")
}

func TestRunnerSuccessAcks(t *testing.T) {
	_, q := setupTestQueue(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var handled sync.Map
	runner := NewRunner(q, 2, func(_ context.Context, job assign.Job) error {
		handled.Store(job.ID, true)
		return nil
	}, &recordingReporter{})

	go runner.Run(ctx)

	job := assign.NewJob("t1", "u1")
	if err := q.Enqueue(context.Background(), job); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	waitFor(t, func() bool {
		_, ok := handled.Load(job.ID)
		return ok
	})

	waitFor(t, func() bool {
		depths := q.Depths(context.Background())
		return depths[JobsKey] == 0 && depths[ProcessingKey] == 0
	})
}

func TestRunnerReportsClassifiedFailure(t *testing.T) {
	_, q := setupTestQueue(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reporter := &recordingReporter{}
	runner := NewRunner(q, 1, func(_ context.Context, job assign.Job) error {
		return assign.TaskErr(errors.New("broken task"))
	}, reporter)

	go runner.Run(ctx)

	if err := q.Enqueue(context.Background(), assign.NewJob("t1", "u1")); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	waitFor(t, func() bool { return reporter.count() > 0 })

	reporter.mu.Lock()
	kind := reporter.reports[0]
	reporter.mu.Unlock()
	if kind != assign.ErrorTask {
		t.Errorf("Expected TASK_ERROR report, got %s", kind)
	}

	waitFor(t, func() bool {
		return q.Depths(context.Background())[ProcessingKey] == 0
	})
}

func TestRunnerRecoversFromPanic(t *testing.T) {
	_, q := setupTestQueue(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reporter := &recordingReporter{}
	runner := NewRunner(q, 1, func(_ context.Context, job assign.Job) error {
		panic("handler exploded")
	}, reporter)

	go runner.Run(ctx)

	if err := q.Enqueue(context.Background(), assign.NewJob("t1", "u1")); err != nil {
		t.Fatalf("Enqueue failed: %v", err)
	}

	// A panicking handler is an unclassified failure, not a dead consumer.
	waitFor(t, func() bool { return reporter.count() > 0 })

	reporter.mu.Lock()
	kind := reporter.reports[0]
	reporter.mu.Unlock()
	if kind != assign.ErrorUnknown {
		t.Errorf("Expected UNKNOWN report after panic, got %s", kind)
	}
}
