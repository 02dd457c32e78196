// Package main runs an embedded miniredis for local development, so the
// API server and worker can be exercised without a real Redis install.
// State is in-memory only and lost on exit.
package main

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/alicebob/miniredis/v2"

	"github.com/mcollado/matchq/pkg/logger"
)

func main() {
	s := miniredis.NewMiniRedis()
	if err := s.StartAddr("127.0.0.1:6379"); err != nil {
		logger.Log.Fatal().Err(err).Msg("Failed to start miniredis")
	}
	defer s.Close()

	logger.Log.Info().Str("addr", s.Addr()).Msg("MiniRedis server started")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Log.Info().Msg("Shutting down MiniRedis...")
}
