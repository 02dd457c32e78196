// Package main implements the matchq HTTP API server.
// It is the thin adapter in front of the matching engine: requests are
// validated here and translated into engine calls, and the periodic
// reconciler runs inside this process.
//
// API Endpoints:
//
//	POST /users         - adds a user to the waiting queue
//	POST /tasks         - adds a task, matching immediately when possible
//	POST /queues/remove - removes a waiting entity (manual cancellation)
//	POST /queues/bulk   - bulk-loads entities without triggering matching
//	GET  /queues        - queue and DLQ depths
//	GET  /queues/peek   - first entries of one queue
//
// Usage:
//
//	go run cmd/server/main.go
package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mcollado/matchq/pkg/assign"
	"github.com/mcollado/matchq/pkg/config"
	"github.com/mcollado/matchq/pkg/engine"
	"github.com/mcollado/matchq/pkg/logger"
	"github.com/mcollado/matchq/pkg/store"
	"github.com/mcollado/matchq/pkg/transport"
)

// authMiddleware wraps an http.HandlerFunc and enforces API Key authentication.
func authMiddleware(next http.HandlerFunc, requiredKey string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		// If no key is configured, allow all (dev mode)
		if requiredKey == "" {
			next(w, r)
			return
		}

		apiKey := r.Header.Get("X-API-Key")
		if apiKey != requiredKey {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		next(w, r)
	}
}

// enableCORS wraps an http.HandlerFunc and adds CORS headers.
func enableCORS(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "POST, GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Content-Type, Content-Length, Accept-Encoding, Authorization, X-API-Key")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next(w, r)
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// parseKind validates the kind field of removal/bulk requests.
func parseKind(s string) (assign.Kind, bool) {
	k := assign.Kind(s)
	return k, k.Valid()
}

// setupRouter configures the HTTP handlers and returns the mux.
func setupRouter(eng *engine.Engine, apiKey string) *http.ServeMux {
	mux := http.NewServeMux()

	// CORS runs before auth so preflight requests don't fail the key check.
	mux.HandleFunc("/users", enableCORS(authMiddleware(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var req struct {
			UserID string `json:"userId"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" {
			http.Error(w, "userId is required", http.StatusBadRequest)
			return
		}
		if err := eng.AddUser(r.Context(), req.UserID); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"message": "user " + req.UserID + " added"})
	}, apiKey)))

	mux.HandleFunc("/tasks", enableCORS(authMiddleware(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var req struct {
			TaskID string `json:"taskId"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.TaskID == "" {
			http.Error(w, "taskId is required", http.StatusBadRequest)
			return
		}
		if err := eng.AddTask(r.Context(), req.TaskID); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]string{"message": "task " + req.TaskID + " added"})
	}, apiKey)))

	mux.HandleFunc("/queues/remove", enableCORS(authMiddleware(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var req struct {
			Kind string `json:"kind"`
			ID   string `json:"id"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.ID == "" {
			http.Error(w, "kind and id are required", http.StatusBadRequest)
			return
		}
		kind, ok := parseKind(req.Kind)
		if !ok {
			http.Error(w, "kind must be task or user", http.StatusBadRequest)
			return
		}
		removed, err := eng.Remove(r.Context(), kind, req.ID)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]bool{"removed": removed})
	}, apiKey)))

	mux.HandleFunc("/queues/bulk", enableCORS(authMiddleware(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		var req struct {
			Kind string   `json:"kind"`
			IDs  []string `json:"ids"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || len(req.IDs) == 0 {
			http.Error(w, "kind and ids are required", http.StatusBadRequest)
			return
		}
		kind, ok := parseKind(req.Kind)
		if !ok {
			http.Error(w, "kind must be task or user", http.StatusBadRequest)
			return
		}
		added, err := eng.BulkAdd(r.Context(), kind, req.IDs)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]int64{"added": added})
	}, apiKey)))

	mux.HandleFunc("/queues", enableCORS(authMiddleware(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		writeJSON(w, http.StatusOK, eng.Depths(r.Context()))
	}, apiKey)))

	mux.HandleFunc("/queues/peek", enableCORS(authMiddleware(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		name := r.URL.Query().Get("name")
		switch name {
		case assign.TaskQueue, assign.UserQueue, assign.TaskDLQ, assign.UserDLQ:
		default:
			http.Error(w, "unknown queue", http.StatusBadRequest)
			return
		}
		n := int64(10)
		if v := r.URL.Query().Get("n"); v != "" {
			if parsed, err := strconv.ParseInt(v, 10, 64); err == nil && parsed > 0 {
				n = parsed
			}
		}
		ids, err := eng.Peek(r.Context(), name, n)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"queue": name, "ids": ids})
	}, apiKey)))

	return mux
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

	rec, err := engine.NewReconciler(eng, cfg.ReconcileInterval)
	if err != nil {
		logger.Log.Fatal().Err(err).Msg("Reconciler setup failed")
	}
	rec.Start()

	srv := &http.Server{
		Addr:    ":" + cfg.Port,
		Handler: setupRouter(eng, cfg.APIKey),
	}

	go func() {
		logger.Log.Info().Str("port", cfg.Port).Msg("API server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Log.Fatal().Err(err).Msg("Server error")
		}
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Log.Info().Msg("Shutting down...")
	rec.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Log.Error().Err(err).Msg("Shutdown error")
	}
}
