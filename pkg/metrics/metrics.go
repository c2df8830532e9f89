// Package metrics collects runtime counters for the booking services
// and exposes them in Prometheus text format.
package metrics

import (
	"sync/atomic"
	"time"
)

// Collector accumulates counters for one process. All methods are safe
// for concurrent use; counters are plain atomics.
type Collector struct {
	// Record operations
	readsExecuted  uint64
	readsFailed    uint64
	writesExecuted uint64
	writesFailed   uint64

	// Transaction lifecycle
	txnsStarted   uint64
	txnsCommitted uint64
	txnsAborted   uint64
	txnsInDoubt   uint64

	// Prepare outcomes
	preparesOK       uint64
	preparesFailed   uint64
	lockConflicts    uint64
	versionConflicts uint64

	// Backend I/O
	pageIns  uint64
	pageOuts uint64

	startTime time.Time
}

// NewCollector creates a collector.
func NewCollector() *Collector {
	return &Collector{startTime: time.Now()}
}

func (c *Collector) RecordRead(ok bool) {
	if ok {
		atomic.AddUint64(&c.readsExecuted, 1)
	} else {
		atomic.AddUint64(&c.readsFailed, 1)
	}
}

func (c *Collector) RecordWrite(ok bool) {
	if ok {
		atomic.AddUint64(&c.writesExecuted, 1)
	} else {
		atomic.AddUint64(&c.writesFailed, 1)
	}
}

func (c *Collector) RecordTxnStarted()   { atomic.AddUint64(&c.txnsStarted, 1) }
func (c *Collector) RecordTxnCommitted() { atomic.AddUint64(&c.txnsCommitted, 1) }
func (c *Collector) RecordTxnAborted()   { atomic.AddUint64(&c.txnsAborted, 1) }
func (c *Collector) RecordTxnInDoubt()   { atomic.AddUint64(&c.txnsInDoubt, 1) }

func (c *Collector) RecordPrepare(ok bool) {
	if ok {
		atomic.AddUint64(&c.preparesOK, 1)
	} else {
		atomic.AddUint64(&c.preparesFailed, 1)
	}
}

func (c *Collector) RecordLockConflict()    { atomic.AddUint64(&c.lockConflicts, 1) }
func (c *Collector) RecordVersionConflict() { atomic.AddUint64(&c.versionConflicts, 1) }
func (c *Collector) RecordPageIn()          { atomic.AddUint64(&c.pageIns, 1) }
func (c *Collector) RecordPageOut()         { atomic.AddUint64(&c.pageOuts, 1) }

// Snapshot returns the current counter values.
func (c *Collector) Snapshot() map[string]uint64 {
	return map[string]uint64{
		"reads_executed":    atomic.LoadUint64(&c.readsExecuted),
		"reads_failed":      atomic.LoadUint64(&c.readsFailed),
		"writes_executed":   atomic.LoadUint64(&c.writesExecuted),
		"writes_failed":     atomic.LoadUint64(&c.writesFailed),
		"txns_started":      atomic.LoadUint64(&c.txnsStarted),
		"txns_committed":    atomic.LoadUint64(&c.txnsCommitted),
		"txns_aborted":      atomic.LoadUint64(&c.txnsAborted),
		"txns_in_doubt":     atomic.LoadUint64(&c.txnsInDoubt),
		"prepares_ok":       atomic.LoadUint64(&c.preparesOK),
		"prepares_failed":   atomic.LoadUint64(&c.preparesFailed),
		"lock_conflicts":    atomic.LoadUint64(&c.lockConflicts),
		"version_conflicts": atomic.LoadUint64(&c.versionConflicts),
		"page_ins":          atomic.LoadUint64(&c.pageIns),
		"page_outs":         atomic.LoadUint64(&c.pageOuts),
	}
}

// Uptime returns how long the collector has been running.
func (c *Collector) Uptime() time.Duration {
	return time.Since(c.startTime)
}
