package metrics

import (
	"bytes"
	"strings"
	"testing"
)

func TestCollectorCounters(t *testing.T) {
	c := NewCollector()

	c.RecordRead(true)
	c.RecordRead(true)
	c.RecordRead(false)
	c.RecordWrite(true)
	c.RecordTxnStarted()
	c.RecordTxnCommitted()
	c.RecordPrepare(true)
	c.RecordPrepare(false)
	c.RecordLockConflict()
	c.RecordVersionConflict()
	c.RecordPageIn()
	c.RecordPageOut()

	snap := c.Snapshot()
	expected := map[string]uint64{
		"reads_executed":    2,
		"reads_failed":      1,
		"writes_executed":   1,
		"writes_failed":     0,
		"txns_started":      1,
		"txns_committed":    1,
		"prepares_ok":       1,
		"prepares_failed":   1,
		"lock_conflicts":    1,
		"version_conflicts": 1,
		"page_ins":          1,
		"page_outs":         1,
	}
	for name, want := range expected {
		if snap[name] != want {
			t.Errorf("Expected %s = %d, got %d", name, want, snap[name])
		}
	}
}

func TestWritePrometheus(t *testing.T) {
	c := NewCollector()
	c.RecordTxnCommitted()
	c.RecordTxnCommitted()

	var buf bytes.Buffer
	if err := c.WritePrometheus(&buf); err != nil {
		t.Fatalf("WritePrometheus failed: %v", err)
	}
	out := buf.String()

	if !strings.Contains(out, "itinera_txns_committed_total 2") {
		t.Errorf("Expected committed counter in output:\n%s", out)
	}
	if !strings.Contains(out, "# TYPE itinera_txns_committed_total counter") {
		t.Error("Expected TYPE line for committed counter")
	}
	if !strings.Contains(out, "itinera_uptime_seconds") {
		t.Error("Expected uptime gauge")
	}
}
