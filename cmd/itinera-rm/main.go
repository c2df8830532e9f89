package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/itineradb/itinera/pkg/client"
	"github.com/itineradb/itinera/pkg/metrics"
	"github.com/itineradb/itinera/pkg/rm"
	"github.com/itineradb/itinera/pkg/server"
	"github.com/itineradb/itinera/pkg/server/handlers"
)

// buildIndex constructs the page index from the strategy flags.
func buildIndex(strategy string, keyWidth, suffixLen, bucketSize int, compositeWidths string, prefixCols int) (rm.PageIndex, error) {
	switch strategy {
	case "prefix":
		return rm.NewPrefixIndex(keyWidth, suffixLen)
	case "linear":
		return rm.NewLinearIndex(keyWidth, bucketSize)
	case "composite":
		parts := strings.Split(compositeWidths, ",")
		widths := make([]int, 0, len(parts))
		for _, p := range parts {
			var w int
			if _, err := fmt.Sscanf(strings.TrimSpace(p), "%d", &w); err != nil {
				return nil, fmt.Errorf("invalid composite width %q", p)
			}
			widths = append(widths, w)
		}
		return rm.NewCompositeIndex(widths, prefixCols)
	default:
		return nil, fmt.Errorf("unknown index strategy %q (prefix, linear, composite)", strategy)
	}
}

func main() {
	// Parse command-line flags
	host := flag.String("host", "localhost", "Server host address")
	port := flag.Int("port", 8081, "Server port")
	table := flag.String("table", "FLIGHTS", "Logical table this resource manager owns")
	endpoint := flag.String("endpoint", "", "Externally reachable base URL reported on enlistment (default http://<host>:<port>)")
	dataDir := flag.String("data-dir", "./data", "Data directory for the SQLite store and prepare journal")
	poolSize := flag.Int("pool-size", 64, "Committed page pool capacity in pages")
	tmURL := flag.String("tm-url", "", "Transaction manager base URL (empty runs standalone)")

	indexStrategy := flag.String("index", "prefix", "Page index strategy: prefix, linear or composite")
	keyWidth := flag.Int("key-width", 16, "Fixed key width for prefix and linear indexes")
	suffixLen := flag.Int("suffix-len", 8, "Suffix length for the prefix index")
	bucketSize := flag.Int("bucket-size", 100, "Bucket size for the linear index")
	compositeWidths := flag.String("composite-widths", "16,8,16", "Comma-separated column widths for the composite index")
	prefixCols := flag.Int("prefix-cols", 1, "Leading columns forming the page id for the composite index")

	enableLogging := flag.Bool("logging", true, "Enable request logging")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil)).With("service", "rm", "table", *table)

	if *endpoint == "" {
		*endpoint = fmt.Sprintf("http://%s:%d", *host, *port)
	}

	index, err := buildIndex(*indexStrategy, *keyWidth, *suffixLen, *bucketSize, *compositeWidths, *prefixCols)
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ Invalid index configuration: %v\n", err)
		os.Exit(1)
	}

	if err := os.MkdirAll(*dataDir, 0o755); err != nil {
		fmt.Fprintf(os.Stderr, "❌ Failed to create data directory: %v\n", err)
		os.Exit(1)
	}
	db, err := rm.OpenSQLite(filepath.Join(*dataDir, strings.ToLower(*table)+".db"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ Failed to open SQLite store: %v\n", err)
		os.Exit(1)
	}
	defer db.Close()
	pageIO, err := rm.NewSQLPageIO(db, *table, index)
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ Failed to initialize page store: %v\n", err)
		os.Exit(1)
	}

	var enlister rm.Enlister
	if *tmURL != "" {
		enlister = client.NewTMClient(*tmURL, nil)
	}

	collector := metrics.NewCollector()
	manager, err := rm.New(rm.Config{
		Table:        *table,
		Endpoint:     *endpoint,
		JournalPath:  filepath.Join(*dataDir, strings.ToLower(*table)+".journal"),
		PoolCapacity: *poolSize,
		Enlister:     enlister,
		Logger:       logger,
		Metrics:      collector,
	}, index, pageIO)
	if err != nil {
		fmt.Fprintf(os.Stderr, "❌ Failed to create resource manager: %v\n", err)
		os.Exit(1)
	}

	config := server.DefaultConfig()
	config.Host = *host
	config.Port = *port
	config.EnableLogging = *enableLogging

	h := handlers.NewRM(manager, collector)
	srv := server.New(config, logger, func(r chi.Router) {
		h.Routes(r)
	})

	// Start server (blocks until shutdown)
	if err := srv.Start(); err != nil {
		fmt.Fprintf(os.Stderr, "❌ Server error: %v\n", err)
		os.Exit(1)
	}
}
