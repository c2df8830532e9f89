package rm

import (
	"os"
	"path/filepath"
	"testing"
)

func testEntry(xid string) *JournalEntry {
	return &JournalEntry{
		Xid: xid,
		Shadow: map[string]*Record{
			"0000F100": {Key: "0000F100", Fields: map[string]any{"numAvail": int64(5)}, Version: 2},
		},
		StartVersion: map[string]uint64{"0000F100": 2},
		HeldKeys:     []string{"0000F100"},
	}
}

func TestJournalAppendAndReload(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.journal")

	j, err := OpenPrepareJournal(path)
	if err != nil {
		t.Fatalf("OpenPrepareJournal failed: %v", err)
	}
	if err := j.Append(testEntry("tx1")); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if err := j.Append(testEntry("tx2")); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	// A fresh journal on the same path must see both entries.
	j2, err := OpenPrepareJournal(path)
	if err != nil {
		t.Fatalf("Reload failed: %v", err)
	}
	entries := j2.Entries()
	if len(entries) != 2 {
		t.Fatalf("Expected 2 entries after reload, got %d", len(entries))
	}
	if entries[0].Xid != "tx1" || entries[1].Xid != "tx2" {
		t.Errorf("Expected sorted xids [tx1 tx2], got [%s %s]", entries[0].Xid, entries[1].Xid)
	}
	sh := entries[0].Shadow["0000F100"]
	if sh == nil || sh.Version != 2 {
		t.Error("Expected shadow record to survive the round trip")
	}
	if entries[0].StartVersion["0000F100"] != 2 {
		t.Error("Expected observed version to survive the round trip")
	}
}

func TestJournalRemove(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.journal")
	j, _ := OpenPrepareJournal(path)

	if err := j.Remove("unknown"); err != nil {
		t.Errorf("Expected removing an unknown xid to be a no-op, got %v", err)
	}

	j.Append(testEntry("tx1"))
	if err := j.Remove("tx1"); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}

	j2, _ := OpenPrepareJournal(path)
	if len(j2.Entries()) != 0 {
		t.Error("Expected empty journal after remove")
	}
}

func TestJournalMissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "does-not-exist.journal")
	j, err := OpenPrepareJournal(path)
	if err != nil {
		t.Fatalf("Expected missing file to open as empty, got %v", err)
	}
	if len(j.Entries()) != 0 {
		t.Error("Expected no entries")
	}
	if _, err := os.Stat(path); err == nil {
		t.Error("Expected no file to be created on open")
	}
}
