// Package main implements the matchq assignment worker process.
// It consumes assignment jobs from Redis, applies them, and reports
// failures back to the matching engine's retry policy.
//
// Features:
//   - Concurrent job consumption with graceful shutdown
//   - Prometheus metrics exposed on :8080/metrics
//   - Failure injection via FAILURE_RATE for soak testing
//
// Usage:
//
//	go run cmd/worker/main.go
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/mcollado/matchq/pkg/assign"
	"github.com/mcollado/matchq/pkg/config"
	"github.com/mcollado/matchq/pkg/engine"
	"github.com/mcollado/matchq/pkg/logger"
	"github.com/mcollado/matchq/pkg/store"
	"github.com/mcollado/matchq/pkg/transport"
)

// Prometheus metrics for monitoring assignment processing.
var (
	// assignmentsProcessed counts completed assignment jobs.
	// Labels:
	//   - status: "success", "user_error", "task_error", or "unknown_error"
	assignmentsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "matchq_assignments_total",
		Help: "The total number of processed assignment jobs",
	}, []string{"status"})

	// assignmentDuration tracks end-to-end assignment latency, measured
	// from dispatch to completion.
	assignmentDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "matchq_assignment_duration_seconds",
		Help:    "Time from dispatch to assignment completion",
		Buckets: prometheus.DefBuckets,
	})

	// queueDepth tracks the number of ids in each engine and transport list.
	queueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "matchq_queue_depth",
		Help: "Number of entries in each queue",
	}, []string{"queue"})
)

// statusLabel maps an outcome kind to its metric label.
func statusLabel(kind assign.ErrorKind) string {
	switch kind {
	case "":
		return "success"
	case assign.ErrorUser:
		return "user_error"
	case assign.ErrorTask:
		return "task_error"
	default:
		return "unknown_error"
	}
}

// assignmentHandler records the assignment in Redis with a 24h TTL so its
// outcome can be inspected after the fact. When FAILURE_RATE is set it
// injects classified failures the way the upstream assignment service
// would report them, half user-attributed and half task-attributed.
func assignmentHandler(rdb *redis.Client, failureRate float64) transport.Handler {
	return func(ctx context.Context, job assign.Job) error {
		if failureRate > 0 {
			roll := rand.Float64()
			if roll < failureRate/2 {
				return assign.UserErr(fmt.Errorf("injected user failure for %s", job.UserID))
			}
			if roll < failureRate {
				return assign.TaskErr(fmt.Errorf("injected task failure for %s", job.TaskID))
			}
		}

		record, err := json.Marshal(map[string]interface{}{
			"task_id":     job.TaskID,
			"user_id":     job.UserID,
			"status":      "assigned",
			"assigned_at": time.Now().Unix(),
		})
		if err != nil {
			return err
		}
		return rdb.Set(ctx, "assign:result:"+job.ID, record, 24*time.Hour).Err()
	}
}

// collectQueueMetrics updates the depth gauges every 5 seconds.
func collectQueueMetrics(ctx context.Context, st *store.Store, jobs *transport.Queue) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for name, depth := range st.Depths(ctx) {
				queueDepth.WithLabelValues(name).Set(float64(depth))
			}
			for name, depth := range jobs.Depths(ctx) {
				queueDepth.WithLabelValues(name).Set(float64(depth))
			}
		}
	}
}

func main() {
	cfg := config.Load()

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		logger.Log.Fatal().Err(err).Str("addr", cfg.RedisAddr).Msg("Redis connect failed")
	}

	st := store.New(rdb, cfg.MaxRetries, cfg.RetryTTL)
	jobs := transport.NewQueue(rdb)
	eng := engine.New(st, jobs)

	failureRate := 0.0
	if v := os.Getenv("FAILURE_RATE"); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			failureRate = f
		}
	}

	runner := transport.NewRunner(jobs, cfg.Workers, assignmentHandler(rdb, failureRate), eng.Dispatcher())
	runner.OnDone = func(job assign.Job, kind assign.ErrorKind) {
		assignmentsProcessed.WithLabelValues(statusLabel(kind)).Inc()
		if kind == "" {
			assignmentDuration.Observe(time.Since(job.CreatedAt).Seconds())
		}
	}

	ctx, cancel := context.WithCancel(context.Background())

	// Start Prometheus metrics server
	go func() {
		http.Handle("/metrics", promhttp.Handler())
		logger.Log.Info().Str("port", cfg.MetricsPort).Msg("Metrics server listening")
		if err := http.ListenAndServe(":"+cfg.MetricsPort, nil); err != nil {
			logger.Log.Error().Err(err).Msg("Metrics server error")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		logger.Log.Info().Msg("Shutting down worker...")
		cancel()
	}()

	go collectQueueMetrics(ctx, st, jobs)

	logger.Log.Info().Int("workers", cfg.Workers).Msg("Worker started. Waiting for assignments...")
	runner.Run(ctx)
}
