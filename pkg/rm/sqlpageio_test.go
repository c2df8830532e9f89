package rm

import (
	"context"
	"path/filepath"
	"testing"
)

func newSQLBackend(t *testing.T) (*SQLPageIO, *PrefixIndex) {
	t.Helper()
	index, err := NewPrefixIndex(8, 4)
	if err != nil {
		t.Fatal(err)
	}
	db, err := OpenSQLite(filepath.Join(t.TempDir(), "flights.db"))
	if err != nil {
		t.Fatalf("OpenSQLite failed: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	io, err := NewSQLPageIO(db, "FLIGHTS", index)
	if err != nil {
		t.Fatalf("NewSQLPageIO failed: %v", err)
	}
	return io, index
}

func TestSQLPageIORoundTrip(t *testing.T) {
	io, index := newSQLBackend(t)
	ctx := context.Background()

	key, _ := index.Normalize("F100")
	pageID := index.PageID(key)

	page := NewPage(pageID)
	page.Put(&Record{Key: key, Fields: map[string]any{"numAvail": int64(10)}, Version: 1})
	if err := io.PageOut(ctx, pageID, page); err != nil {
		t.Fatalf("PageOut failed: %v", err)
	}

	loaded, err := io.PageIn(ctx, pageID)
	if err != nil {
		t.Fatalf("PageIn failed: %v", err)
	}
	rec := loaded.Get(key)
	if rec == nil {
		t.Fatal("Expected record back")
	}
	if rec.Version != 1 || rec.Deleted {
		t.Errorf("Unexpected record state: version %d deleted %v", rec.Version, rec.Deleted)
	}
	if n, _ := FieldInt(rec.Fields, "numAvail"); n != 10 {
		t.Errorf("Expected numAvail 10, got %d", n)
	}
}

func TestSQLPageIODomainTrim(t *testing.T) {
	io, index := newSQLBackend(t)
	ctx := context.Background()

	k1, _ := index.Normalize("F100")
	k2, _ := index.Normalize("F200")
	pageID := index.PageID(k1)

	page := NewPage(pageID)
	page.Put(&Record{Key: k1, Version: 1})
	page.Put(&Record{Key: k2, Version: 1})
	if err := io.PageOut(ctx, pageID, page); err != nil {
		t.Fatal(err)
	}

	// Writing the page without k2 must drop it from the store.
	next := NewPage(pageID)
	next.Put(&Record{Key: k1, Version: 2})
	if err := io.PageOut(ctx, pageID, next); err != nil {
		t.Fatal(err)
	}

	loaded, err := io.PageIn(ctx, pageID)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Get(k2) != nil {
		t.Error("Expected k2 trimmed from the page domain")
	}
	if rec := loaded.Get(k1); rec == nil || rec.Version != 2 {
		t.Error("Expected k1 at version 2")
	}
}

func TestSQLPageIORangeIsolation(t *testing.T) {
	io, index := newSQLBackend(t)
	ctx := context.Background()

	k1, _ := index.Normalize("F100")
	other, _ := index.Normalize("AAAA0001")
	p1 := index.PageID(k1)
	p2 := index.PageID(other)

	page1 := NewPage(p1)
	page1.Put(&Record{Key: k1, Version: 1})
	page2 := NewPage(p2)
	page2.Put(&Record{Key: other, Version: 1})
	if err := io.PageOut(ctx, p1, page1); err != nil {
		t.Fatal(err)
	}
	if err := io.PageOut(ctx, p2, page2); err != nil {
		t.Fatal(err)
	}

	// Rewriting page1 empty must not touch page2's rows.
	if err := io.PageOut(ctx, p1, NewPage(p1)); err != nil {
		t.Fatal(err)
	}
	loaded, err := io.PageIn(ctx, p2)
	if err != nil {
		t.Fatal(err)
	}
	if loaded.Get(other) == nil {
		t.Error("Expected other page's record to survive")
	}
}

func TestSQLPageIOInvalidTable(t *testing.T) {
	_, index := newSQLBackend(t)
	db, err := OpenSQLite(filepath.Join(t.TempDir(), "x.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	if _, err := NewSQLPageIO(db, "bad name; drop", index); err == nil {
		t.Error("Expected error for invalid table name")
	}
}
