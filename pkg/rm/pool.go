package rm

import (
	"container/list"
	"sync"
)

// CommittedPagePool is a thread-safe LRU cache of committed pages.
// Pages pinned by prepared transactions are never evicted; everything
// else may be dropped and reloaded from the backend on demand.
type CommittedPagePool struct {
	mu        sync.Mutex
	capacity  int
	items     map[string]*poolEntry
	lruList   *list.List
	hits      uint64
	misses    uint64
	evictions uint64
}

type poolEntry struct {
	pageID  string
	page    *Page
	pins    int
	element *list.Element
}

// NewCommittedPagePool creates a pool holding at most capacity pages.
func NewCommittedPagePool(capacity int) *CommittedPagePool {
	if capacity <= 0 {
		capacity = 64
	}
	return &CommittedPagePool{
		capacity: capacity,
		items:    make(map[string]*poolEntry),
		lruList:  list.New(),
	}
}

// Get returns the cached page, or nil on a miss.
func (p *CommittedPagePool) Get(pageID string) *Page {
	p.mu.Lock()
	defer p.mu.Unlock()

	entry, ok := p.items[pageID]
	if !ok {
		p.misses++
		return nil
	}
	p.lruList.MoveToFront(entry.element)
	p.hits++
	return entry.page
}

// Put inserts or replaces a page, evicting the least recently used
// unpinned page when over capacity. Pin counts survive replacement.
func (p *CommittedPagePool) Put(pageID string, page *Page) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if entry, ok := p.items[pageID]; ok {
		entry.page = page
		p.lruList.MoveToFront(entry.element)
		return
	}

	entry := &poolEntry{pageID: pageID, page: page}
	entry.element = p.lruList.PushFront(entry)
	p.items[pageID] = entry

	for p.lruList.Len() > p.capacity {
		if !p.evictOldest() {
			break
		}
	}
}

// Pin increments the page's pin count so it cannot be evicted.
func (p *CommittedPagePool) Pin(pageID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if entry, ok := p.items[pageID]; ok {
		entry.pins++
	}
}

// Unpin decrements the page's pin count.
func (p *CommittedPagePool) Unpin(pageID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if entry, ok := p.items[pageID]; ok && entry.pins > 0 {
		entry.pins--
	}
}

// Remove drops a page from the pool regardless of pins.
func (p *CommittedPagePool) Remove(pageID string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if entry, ok := p.items[pageID]; ok {
		p.lruList.Remove(entry.element)
		delete(p.items, pageID)
	}
}

// evictOldest removes the least recently used unpinned page. Returns
// false when every page is pinned.
func (p *CommittedPagePool) evictOldest() bool {
	for e := p.lruList.Back(); e != nil; e = e.Prev() {
		entry := e.Value.(*poolEntry)
		if entry.pins == 0 {
			p.lruList.Remove(e)
			delete(p.items, entry.pageID)
			p.evictions++
			return true
		}
	}
	return false
}

// Size returns the number of cached pages.
func (p *CommittedPagePool) Size() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.items)
}

// Stats returns cache statistics.
func (p *CommittedPagePool) Stats() map[string]any {
	p.mu.Lock()
	defer p.mu.Unlock()
	return map[string]any{
		"capacity":  p.capacity,
		"size":      len(p.items),
		"hits":      p.hits,
		"misses":    p.misses,
		"evictions": p.evictions,
	}
}
