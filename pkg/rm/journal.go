package rm

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/klauspost/compress/zstd"
)

// JournalEntry is the durable snapshot of one prepared transaction.
// Validation already happened before the entry is written, so commit
// after recovery needs only the shadow, the observed versions and the
// locked keys.
type JournalEntry struct {
	Xid          string             `json:"xid"`
	Shadow       map[string]*Record `json:"shadow"`
	StartVersion map[string]uint64  `json:"start_version"`
	HeldKeys     []string           `json:"held_keys"`
}

// PrepareJournal persists the set of prepared transactions of one
// resource manager. Every change rewrites the whole file via
// write-to-temp + rename, so a crash leaves either the old or the new
// snapshot, never a torn one. The payload is zstd-compressed JSON.
type PrepareJournal struct {
	mu      sync.Mutex
	path    string
	entries map[string]*JournalEntry
}

// OpenPrepareJournal opens the journal at path, loading any snapshot a
// previous process left behind.
func OpenPrepareJournal(path string) (*PrepareJournal, error) {
	j := &PrepareJournal{
		path:    path,
		entries: make(map[string]*JournalEntry),
	}
	if err := j.load(); err != nil {
		return nil, err
	}
	return j, nil
}

func (j *PrepareJournal) load() error {
	f, err := os.Open(j.path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("open journal %s: %w", j.path, err)
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return fmt.Errorf("journal %s: init decoder: %w", j.path, err)
	}
	defer dec.Close()

	data, err := io.ReadAll(dec)
	if err != nil {
		return fmt.Errorf("journal %s: decompress: %w", j.path, err)
	}
	if len(data) == 0 {
		return nil
	}

	var entries []*JournalEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("journal %s: decode: %w", j.path, err)
	}
	for _, e := range entries {
		j.entries[e.Xid] = e
	}
	return nil
}

// Append records a prepared transaction and makes the snapshot durable
// before returning.
func (j *PrepareJournal) Append(entry *JournalEntry) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.entries[entry.Xid] = entry
	if err := j.rewrite(); err != nil {
		delete(j.entries, entry.Xid)
		return err
	}
	return nil
}

// Remove clears the entry for xid. Removing an unknown xid is a no-op,
// which makes commit and abort idempotent across crashes.
func (j *PrepareJournal) Remove(xid string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if _, ok := j.entries[xid]; !ok {
		return nil
	}
	delete(j.entries, xid)
	return j.rewrite()
}

// Entries returns the journal's prepared transactions sorted by xid.
func (j *PrepareJournal) Entries() []*JournalEntry {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]*JournalEntry, 0, len(j.entries))
	for _, e := range j.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(a, b int) bool { return out[a].Xid < out[b].Xid })
	return out
}

// rewrite atomically replaces the journal file with the current
// snapshot. Caller holds j.mu.
func (j *PrepareJournal) rewrite() error {
	entries := make([]*JournalEntry, 0, len(j.entries))
	for _, e := range j.entries {
		entries = append(entries, e)
	}
	sort.Slice(entries, func(a, b int) bool { return entries[a].Xid < entries[b].Xid })

	data, err := json.Marshal(entries)
	if err != nil {
		return fmt.Errorf("journal %s: encode: %w", j.path, err)
	}

	dir := filepath.Dir(j.path)
	tmp, err := os.CreateTemp(dir, filepath.Base(j.path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("journal %s: create temp: %w", j.path, err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	enc, err := zstd.NewWriter(tmp)
	if err != nil {
		tmp.Close()
		return fmt.Errorf("journal %s: init encoder: %w", j.path, err)
	}
	if _, err := enc.Write(data); err != nil {
		enc.Close()
		tmp.Close()
		return fmt.Errorf("journal %s: write: %w", j.path, err)
	}
	if err := enc.Close(); err != nil {
		tmp.Close()
		return fmt.Errorf("journal %s: flush: %w", j.path, err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("journal %s: sync: %w", j.path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("journal %s: close temp: %w", j.path, err)
	}
	if err := os.Rename(tmpPath, j.path); err != nil {
		return fmt.Errorf("journal %s: rename: %w", j.path, err)
	}
	return nil
}
