package rm

import (
	"strings"
	"testing"
)

func TestPrefixIndexNormalize(t *testing.T) {
	ix, err := NewPrefixIndex(8, 4)
	if err != nil {
		t.Fatalf("NewPrefixIndex failed: %v", err)
	}

	norm, err := ix.Normalize("F100")
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	if norm != "0000F100" {
		t.Errorf("Expected 0000F100, got %s", norm)
	}

	if _, err := ix.Normalize(""); err == nil {
		t.Error("Expected error for empty key")
	}
	if _, err := ix.Normalize("123456789"); err == nil {
		t.Error("Expected error for key longer than width")
	}
}

func TestPrefixIndexPageGrouping(t *testing.T) {
	ix, _ := NewPrefixIndex(8, 4)

	a, _ := ix.Normalize("F100")
	b, _ := ix.Normalize("F200")
	if ix.PageID(a) != ix.PageID(b) {
		t.Errorf("Expected same page for %s and %s", a, b)
	}

	c, _ := ix.Normalize("AAAA0001")
	if ix.PageID(a) == ix.PageID(c) {
		t.Errorf("Expected different pages for %s and %s", a, c)
	}
}

func TestPrefixIndexKeyRange(t *testing.T) {
	ix, _ := NewPrefixIndex(8, 4)

	norm, _ := ix.Normalize("F100")
	pageID := ix.PageID(norm)
	start, end := ix.KeyRange(pageID)
	if norm < start || norm >= end {
		t.Errorf("Key %s not in range [%s, %s)", norm, start, end)
	}

	other, _ := ix.Normalize("AAAA0001")
	if other >= start && other < end {
		t.Errorf("Key %s should not be in range [%s, %s)", other, start, end)
	}
}

func TestPrefixIndexZeroSuffix(t *testing.T) {
	// With suffixLen 0 every key gets its own page.
	ix, _ := NewPrefixIndex(8, 0)
	norm, _ := ix.Normalize("F100")
	if ix.PageID(norm) != norm {
		t.Errorf("Expected page id %s, got %s", norm, ix.PageID(norm))
	}

	// The page's range must still be non-empty and cover its one key.
	start, end := ix.KeyRange(ix.PageID(norm))
	if norm < start || norm >= end {
		t.Errorf("Key %s not in range [%s, %s)", norm, start, end)
	}
	other, _ := ix.Normalize("F101")
	if other >= start && other < end {
		t.Errorf("Key %s should not be in range [%s, %s)", other, start, end)
	}
}

func TestPrefixIndexRejectsUnsupportedCharacters(t *testing.T) {
	ix, _ := NewPrefixIndex(8, 4)

	// Characters below '0' sort before the zero padding and would fall
	// outside their own page range.
	if _, err := ix.Normalize("!abc"); err == nil {
		t.Error("Expected error for key with character below charset")
	}
	// The range ceiling itself sorts past the exclusive upper bound.
	if _, err := ix.Normalize("a~b"); err == nil {
		t.Error("Expected error for key containing the range ceiling")
	}
	if _, err := ix.Normalize("a b"); err == nil {
		t.Error("Expected error for key with a space")
	}
	if _, err := ix.Normalize("F100"); err != nil {
		t.Errorf("Expected alphanumeric key to pass, got %v", err)
	}
}

func TestPrefixIndexValidation(t *testing.T) {
	if _, err := NewPrefixIndex(0, 0); err == nil {
		t.Error("Expected error for zero key width")
	}
	if _, err := NewPrefixIndex(4, 5); err == nil {
		t.Error("Expected error for suffix longer than width")
	}
}

func TestLinearIndexBuckets(t *testing.T) {
	ix, err := NewLinearIndex(8, 100)
	if err != nil {
		t.Fatalf("NewLinearIndex failed: %v", err)
	}

	norm, err := ix.Normalize("123")
	if err != nil {
		t.Fatalf("Normalize failed: %v", err)
	}
	if norm != "00000123" {
		t.Errorf("Expected 00000123, got %s", norm)
	}
	if ix.PageID(norm) != "00000100" {
		t.Errorf("Expected bucket 00000100, got %s", ix.PageID(norm))
	}

	// Bucket boundaries.
	low, _ := ix.Normalize("100")
	high, _ := ix.Normalize("199")
	next, _ := ix.Normalize("200")
	if ix.PageID(low) != ix.PageID(high) {
		t.Error("Expected 100 and 199 in the same bucket")
	}
	if ix.PageID(high) == ix.PageID(next) {
		t.Error("Expected 199 and 200 in different buckets")
	}
}

func TestLinearIndexNonNumeric(t *testing.T) {
	ix, _ := NewLinearIndex(8, 100)
	if _, err := ix.Normalize("abc"); err == nil {
		t.Error("Expected error for non-numeric key")
	}
}

func TestLinearIndexKeyRange(t *testing.T) {
	ix, _ := NewLinearIndex(8, 100)

	start, end := ix.KeyRange("00000100")
	if start != "00000100" {
		t.Errorf("Expected start 00000100, got %s", start)
	}
	if end != "00000200" {
		t.Errorf("Expected end 00000200, got %s", end)
	}

	// The top bucket's end must still sort above every key in it.
	top, _ := ix.Normalize("99999999")
	tstart, tend := ix.KeyRange(ix.PageID(top))
	if top < tstart || top >= tend {
		t.Errorf("Key %s not in top bucket range [%s, %s)", top, tstart, tend)
	}
}

func TestCompositeIndexEncodeDecode(t *testing.T) {
	ix, err := NewCompositeIndex([]int{16, 8, 16}, 1)
	if err != nil {
		t.Fatalf("NewCompositeIndex failed: %v", err)
	}

	key, err := ix.Encode("alice", "FLIGHT", "F100")
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if len(key) != 40 {
		t.Errorf("Expected key length 40, got %d", len(key))
	}

	cols := ix.Decode(key)
	if len(cols) != 3 {
		t.Fatalf("Expected 3 columns, got %d", len(cols))
	}
	if cols[0] != "alice" || cols[1] != "FLIGHT" || cols[2] != "F100" {
		t.Errorf("Decode mismatch: %v", cols)
	}
}

func TestCompositeIndexPagePrefix(t *testing.T) {
	ix, _ := NewCompositeIndex([]int{16, 8, 16}, 1)

	prefix, err := ix.PagePrefix("alice")
	if err != nil {
		t.Fatalf("PagePrefix failed: %v", err)
	}

	k1, _ := ix.Encode("alice", "FLIGHT", "F100")
	k2, _ := ix.Encode("alice", "HOTEL", "rome")
	k3, _ := ix.Encode("bob", "FLIGHT", "F100")
	if ix.PageID(k1) != prefix || ix.PageID(k2) != prefix {
		t.Error("Expected alice's reservations on the alice page")
	}
	if ix.PageID(k3) == prefix {
		t.Error("Expected bob's reservation on a different page")
	}

	start, end := ix.KeyRange(prefix)
	if k1 < start || k1 >= end {
		t.Errorf("Key %s not in range [%s, %s)", k1, start, end)
	}
	if k3 >= start && k3 < end {
		t.Error("Expected bob's key outside alice's range")
	}
}

func TestCompositeIndexValidation(t *testing.T) {
	ix, _ := NewCompositeIndex([]int{16, 8, 16}, 1)

	if _, err := ix.Encode("alice", "FLIGHT"); err == nil {
		t.Error("Expected error for wrong column count")
	}
	if _, err := ix.Encode("", "FLIGHT", "F100"); err == nil {
		t.Error("Expected error for empty column")
	}
	if _, err := ix.Encode(strings.Repeat("x", 17), "FLIGHT", "F100"); err == nil {
		t.Error("Expected error for oversized column")
	}
	if _, err := ix.Normalize("short"); err == nil {
		t.Error("Expected error for wrong key length")
	}
	if _, err := ix.Encode("alice", "FLIGHT", "F~100"); err == nil {
		t.Error("Expected error for column containing the range ceiling")
	}
	if _, err := ix.Encode("al!ce", "FLIGHT", "F100"); err == nil {
		t.Error("Expected error for column with character below charset")
	}
	if _, err := NewCompositeIndex(nil, 1); err == nil {
		t.Error("Expected error for empty widths")
	}
	if _, err := NewCompositeIndex([]int{8}, 2); err == nil {
		t.Error("Expected error for prefix columns out of range")
	}
}

func TestCompositeIndexAllColumnsInPrefix(t *testing.T) {
	// Every column in the page id means one key per page; its range
	// must still be non-empty.
	ix, _ := NewCompositeIndex([]int{8, 8}, 2)

	key, err := ix.Encode("alice", "F100")
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if ix.PageID(key) != key {
		t.Errorf("Expected page id %s, got %s", key, ix.PageID(key))
	}
	start, end := ix.KeyRange(ix.PageID(key))
	if key < start || key >= end {
		t.Errorf("Key %s not in range [%s, %s)", key, start, end)
	}
}
