package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/itineradb/itinera/pkg/client"
	"github.com/itineradb/itinera/pkg/metrics"
	"github.com/itineradb/itinera/pkg/server"
	"github.com/itineradb/itinera/pkg/server/handlers"
	"github.com/itineradb/itinera/pkg/tm"
)

func main() {
	// Parse command-line flags
	host := flag.String("host", "localhost", "Server host address")
	port := flag.Int("port", 8090, "Server port")
	prepareTimeout := flag.Duration("prepare-timeout", 3*time.Second, "Per-participant prepare timeout")
	commitTimeout := flag.Duration("commit-timeout", 10*time.Second, "Commit decision budget before reporting IN_DOUBT")
	retryBase := flag.Duration("retry-base", 100*time.Millisecond, "Base delay for commit broadcast retries")
	maxRetries := flag.Int("max-retries", 6, "Maximum commit broadcast retries per participant")
	enableLogging := flag.Bool("logging", true, "Enable request logging")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil)).With("service", "tm")

	collector := metrics.NewCollector()
	cfg := tm.DefaultConfig()
	cfg.PrepareTimeout = *prepareTimeout
	cfg.CommitTimeout = *commitTimeout
	cfg.RetryBase = *retryBase
	cfg.MaxRetries = uint64(*maxRetries)
	cfg.Logger = logger
	cfg.Metrics = collector

	manager := tm.NewManager(client.NewParticipant(nil), cfg)

	config := server.DefaultConfig()
	config.Host = *host
	config.Port = *port
	config.EnableLogging = *enableLogging

	h := handlers.NewTM(manager, collector)
	srv := server.New(config, logger, func(r chi.Router) {
		h.Routes(r)
	})

	// Start server (blocks until shutdown)
	if err := srv.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "❌ Server error: %v\n", err)
		os.Exit(1)
	}
}
