package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/itineradb/itinera/pkg/metrics"
	"github.com/itineradb/itinera/pkg/server"
	"github.com/itineradb/itinera/pkg/server/handlers"
	"github.com/itineradb/itinera/pkg/wc"
)

func main() {
	// Parse command-line flags
	host := flag.String("host", "localhost", "Server host address")
	port := flag.Int("port", 8080, "Server port")
	tmURL := flag.String("tm-url", "http://localhost:8090", "Transaction manager base URL")
	flightsURL := flag.String("flights-url", "http://localhost:8081", "Flights resource manager base URL")
	hotelsURL := flag.String("hotels-url", "http://localhost:8082", "Hotels resource manager base URL")
	carsURL := flag.String("cars-url", "http://localhost:8083", "Cars resource manager base URL")
	customersURL := flag.String("customers-url", "http://localhost:8084", "Customers resource manager base URL")
	reservationsURL := flag.String("reservations-url", "http://localhost:8085", "Reservations resource manager base URL")
	commitTimeout := flag.Duration("commit-timeout", 15*time.Second, "Client-facing commit budget before reporting IN_DOUBT")
	requestTimeout := flag.Duration("request-timeout", 10*time.Second, "Per-downstream-call timeout")
	noAutoAbort := flag.Bool("no-auto-abort", false, "Disable automatic abort of failed transactions")
	enableLogging := flag.Bool("logging", true, "Enable request logging")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil)).With("service", "wc")

	controller := wc.NewController(wc.Config{
		TMURL:            *tmURL,
		FlightsURL:       *flightsURL,
		HotelsURL:        *hotelsURL,
		CarsURL:          *carsURL,
		CustomersURL:     *customersURL,
		ReservationsURL:  *reservationsURL,
		DisableAutoAbort: *noAutoAbort,
		CommitTimeout:    *commitTimeout,
		RequestTimeout:   *requestTimeout,
		Logger:           logger,
	})

	config := server.DefaultConfig()
	config.Host = *host
	config.Port = *port
	config.EnableLogging = *enableLogging

	h := handlers.NewWC(controller, metrics.NewCollector())
	srv := server.New(config, logger, func(r chi.Router) {
		h.Routes(r)
	})

	// Start server (blocks until shutdown)
	if err := srv.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "❌ Server error: %v\n", err)
		os.Exit(1)
	}
}
