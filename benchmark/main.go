// Package main provides a benchmark tool for matchq to measure matching throughput.
// It enqueues a large number of tasks and users concurrently and measures how long
// the engine plus a running worker take to drain both queues.
//
// Run the worker (and optionally the API server for its reconciler) first, then:
//
//	go run benchmark/main.go -pairs 100000
package main

import (
	"context"
	"flag"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mcollado/matchq/pkg/assign"
	"github.com/mcollado/matchq/pkg/config"
	"github.com/mcollado/matchq/pkg/engine"
	"github.com/mcollado/matchq/pkg/store"
	"github.com/mcollado/matchq/pkg/transport"
)

func main() {
	numPairs := flag.Int("pairs", 100000, "Number of task/user pairs to enqueue")
	numWorkers := flag.Int("workers", 10, "Number of concurrent enqueuers")
	flag.Parse()

	cfg := config.Load()
	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr, DB: cfg.RedisDB})
	st := store.New(rdb, cfg.MaxRetries, cfg.RetryTTL)
	jobs := transport.NewQueue(rdb)
	eng := engine.New(st, jobs)
	ctx := context.Background()

	fmt.Printf("matchq Benchmark\n")
	fmt.Printf("================\n")
	fmt.Printf("Pairs to enqueue: %d\n", *numPairs)
	fmt.Printf("Concurrent enqueuers: %d\n\n", *numWorkers)

	fmt.Printf("Starting enqueue phase...\n")
	startEnqueue := time.Now()

	var wg sync.WaitGroup
	var enqueued atomic.Int64
	pairsPerWorker := *numPairs / *numWorkers

	for i := 0; i < *numWorkers; i++ {
		wg.Add(1)
		go func(workerID int) {
			defer wg.Done()
			for j := 0; j < pairsPerWorker; j++ {
				taskID := fmt.Sprintf("bench-task-%d-%d", workerID, j)
				userID := fmt.Sprintf("bench-user-%d-%d", workerID, j)
				if err := eng.AddTask(ctx, taskID); err != nil {
					fmt.Printf("Error adding task: %v\n", err)
					return
				}
				if err := eng.AddUser(ctx, userID); err != nil {
					fmt.Printf("Error adding user: %v\n", err)
					return
				}
				enqueued.Add(2)
			}
		}(i)
	}

	wg.Wait()
	enqueueTime := time.Since(startEnqueue)

	fmt.Printf("Enqueued %d entities in %s\n", enqueued.Load(), enqueueTime)
	fmt.Printf("  Throughput: %.2f entities/sec\n\n", float64(enqueued.Load())/enqueueTime.Seconds())

	fmt.Printf("Waiting for queues to drain...\n")
	startProcess := time.Now()

	// Poll until waiting queues and the job transport are empty
	for {
		depths := st.Depths(ctx)
		jobDepths := jobs.Depths(ctx)
		remaining := depths[assign.TaskQueue] + depths[assign.UserQueue] +
			jobDepths[transport.JobsKey] + jobDepths[transport.ProcessingKey]

		if remaining == 0 {
			break
		}

		time.Sleep(2 * time.Second)
		fmt.Printf("  Remaining: %d entries\n", remaining)
	}

	processTime := time.Since(startProcess)

	fmt.Printf("\nAll pairs matched and assigned in %s\n", processTime)
	fmt.Printf("  Throughput: %.2f pairs/sec\n", float64(*numPairs)/processTime.Seconds())

	totalTime := enqueueTime + processTime
	fmt.Printf("\nTotal time: %s\n", totalTime)
	fmt.Printf("Overall throughput: %.2f pairs/sec\n", float64(*numPairs)/totalTime.Seconds())
}
