package rm

import (
	"context"
	"sync"
)

// MemPageIO is an in-memory PageIO used by tests and single-process
// demos. It keeps the flat committed key space and serves pages by
// filtering the index's key range, mirroring what the SQL backend does.
type MemPageIO struct {
	mu      sync.Mutex
	index   PageIndex
	records map[string]*Record
}

// NewMemPageIO creates an empty in-memory backend.
func NewMemPageIO(index PageIndex) *MemPageIO {
	return &MemPageIO{index: index, records: make(map[string]*Record)}
}

// PageIn returns all records in the page's key range.
func (io *MemPageIO) PageIn(ctx context.Context, pageID string) (*Page, error) {
	io.mu.Lock()
	defer io.mu.Unlock()
	start, end := io.index.KeyRange(pageID)
	page := NewPage(pageID)
	for key, rec := range io.records {
		if key >= start && key < end {
			page.Put(rec.Clone())
		}
	}
	return page, nil
}

// PageOut replaces the page's key domain with the page's records.
func (io *MemPageIO) PageOut(ctx context.Context, pageID string, page *Page) error {
	io.mu.Lock()
	defer io.mu.Unlock()
	start, end := io.index.KeyRange(pageID)
	for key := range io.records {
		if key >= start && key < end {
			if page.Get(key) == nil {
				delete(io.records, key)
			}
		}
	}
	for key, rec := range page.Records {
		io.records[key] = rec.Clone()
	}
	return nil
}

// Seed installs a committed record directly, bypassing the transactional
// path. Test helper.
func (io *MemPageIO) Seed(rec *Record) {
	io.mu.Lock()
	defer io.mu.Unlock()
	io.records[rec.Key] = rec.Clone()
}

// Committed returns the committed record for key, or nil. Test helper.
func (io *MemPageIO) Committed(key string) *Record {
	io.mu.Lock()
	defer io.mu.Unlock()
	return io.records[key].Clone()
}
