package metrics

import (
	"fmt"
	"io"
	"sort"
)

// help texts per counter, emitted ahead of each metric.
var counterHelp = map[string]string{
	"reads_executed":    "Total successful record reads",
	"reads_failed":      "Total failed record reads",
	"writes_executed":   "Total successful record writes",
	"writes_failed":     "Total failed record writes",
	"txns_started":      "Total transactions started",
	"txns_committed":    "Total transactions committed",
	"txns_aborted":      "Total transactions aborted",
	"txns_in_doubt":     "Total commits reported in doubt",
	"prepares_ok":       "Total prepare calls that voted yes",
	"prepares_failed":   "Total prepare calls that voted no",
	"lock_conflicts":    "Total prepare failures due to row lock conflicts",
	"version_conflicts": "Total prepare failures due to version validation",
	"page_ins":          "Total pages loaded from the backend store",
	"page_outs":         "Total pages written to the backend store",
}

// WritePrometheus renders the collector's counters in Prometheus text
// exposition format, prefixed with itinera_.
func (c *Collector) WritePrometheus(w io.Writer) error {
	snap := c.Snapshot()
	names := make([]string, 0, len(snap))
	for name := range snap {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		full := "itinera_" + name + "_total"
		if help, ok := counterHelp[name]; ok {
			if _, err := fmt.Fprintf(w, "# HELP %s %s\n", full, help); err != nil {
				return err
			}
		}
		if _, err := fmt.Fprintf(w, "# TYPE %s counter\n%s %d\n", full, full, snap[name]); err != nil {
			return err
		}
	}

	_, err := fmt.Fprintf(w, "# HELP itinera_uptime_seconds Process uptime\n# TYPE itinera_uptime_seconds gauge\nitinera_uptime_seconds %.0f\n",
		c.Uptime().Seconds())
	return err
}
