package rm

import (
	"fmt"
	"testing"
)

func TestPoolGetPut(t *testing.T) {
	pool := NewCommittedPagePool(4)

	if pool.Get("p1") != nil {
		t.Error("Expected miss for unknown page")
	}

	page := NewPage("p1")
	pool.Put("p1", page)
	if got := pool.Get("p1"); got != page {
		t.Error("Expected cached page back")
	}
	if pool.Size() != 1 {
		t.Errorf("Expected size 1, got %d", pool.Size())
	}
}

func TestPoolLRUEviction(t *testing.T) {
	pool := NewCommittedPagePool(2)

	pool.Put("p1", NewPage("p1"))
	pool.Put("p2", NewPage("p2"))
	pool.Get("p1") // p2 is now least recently used
	pool.Put("p3", NewPage("p3"))

	if pool.Get("p2") != nil {
		t.Error("Expected p2 to be evicted")
	}
	if pool.Get("p1") == nil {
		t.Error("Expected p1 to survive")
	}
	if pool.Get("p3") == nil {
		t.Error("Expected p3 to survive")
	}
}

func TestPoolPinnedPagesNotEvicted(t *testing.T) {
	pool := NewCommittedPagePool(2)

	pool.Put("p1", NewPage("p1"))
	pool.Pin("p1")
	pool.Put("p2", NewPage("p2"))
	pool.Put("p3", NewPage("p3"))

	if pool.Get("p1") == nil {
		t.Error("Expected pinned p1 to survive eviction")
	}
	if pool.Get("p2") != nil {
		t.Error("Expected unpinned p2 to be evicted")
	}

	pool.Unpin("p1")
	for i := 4; i < 8; i++ {
		pool.Put(fmt.Sprintf("p%d", i), NewPage(fmt.Sprintf("p%d", i)))
	}
	if pool.Get("p1") != nil {
		t.Error("Expected p1 to be evictable after unpin")
	}
}

func TestPoolReplaceKeepsPins(t *testing.T) {
	pool := NewCommittedPagePool(2)

	pool.Put("p1", NewPage("p1"))
	pool.Pin("p1")

	replacement := NewPage("p1")
	pool.Put("p1", replacement)
	pool.Put("p2", NewPage("p2"))
	pool.Put("p3", NewPage("p3"))

	if pool.Get("p1") != replacement {
		t.Error("Expected replaced page to stay pinned")
	}
}

func TestPoolStats(t *testing.T) {
	pool := NewCommittedPagePool(4)
	pool.Put("p1", NewPage("p1"))
	pool.Get("p1")
	pool.Get("missing")

	stats := pool.Stats()
	if stats["hits"].(uint64) != 1 {
		t.Errorf("Expected 1 hit, got %v", stats["hits"])
	}
	if stats["misses"].(uint64) != 1 {
		t.Errorf("Expected 1 miss, got %v", stats["misses"])
	}
}
