package rm

import (
	"fmt"
	"strconv"
	"strings"
)

// PageIndex maps record keys to logical pages. Implementations must be
// injective on normalized keys and define a contiguous key range per page
// so the backend can serve pages with a single range query.
type PageIndex interface {
	// Normalize canonicalizes a raw key into its fixed-width form.
	Normalize(key string) (string, error)
	// PageID maps a normalized key to its page id.
	PageID(key string) string
	// KeyRange returns the half-open [start, end) range of normalized
	// keys covered by a page.
	KeyRange(pageID string) (start, end string)
}

// rangeCeiling sorts after every character used in normalized keys
// (digits, letters), so pageID+rangeCeiling... is an exclusive upper
// bound for the page's key domain.
const rangeCeiling = "~"

// PrefixIndex shards a single-column ordered key space by prefix. Keys
// are left-padded with zeros to keyWidth; the page id is the key minus
// its last suffixLen characters, so each page holds at most
// charset^suffixLen distinct keys.
type PrefixIndex struct {
	keyWidth  int
	suffixLen int
}

// NewPrefixIndex creates a prefix-sharded index. suffixLen may be zero,
// in which case every key gets its own page.
func NewPrefixIndex(keyWidth, suffixLen int) (*PrefixIndex, error) {
	if keyWidth <= 0 {
		return nil, fmt.Errorf("prefix index: key width must be positive, got %d", keyWidth)
	}
	if suffixLen < 0 || suffixLen > keyWidth {
		return nil, fmt.Errorf("prefix index: suffix length %d out of range [0,%d]", suffixLen, keyWidth)
	}
	return &PrefixIndex{keyWidth: keyWidth, suffixLen: suffixLen}, nil
}

func (ix *PrefixIndex) Normalize(key string) (string, error) {
	if key == "" {
		return "", fmt.Errorf("prefix index: empty key")
	}
	if len(key) > ix.keyWidth {
		return "", fmt.Errorf("prefix index: key %q longer than width %d", key, ix.keyWidth)
	}
	if err := checkKeyCharset(key); err != nil {
		return "", fmt.Errorf("prefix index: %w", err)
	}
	return zfill(key, ix.keyWidth), nil
}

func (ix *PrefixIndex) PageID(key string) string {
	return key[:ix.keyWidth-ix.suffixLen]
}

func (ix *PrefixIndex) KeyRange(pageID string) (string, string) {
	if ix.suffixLen == 0 {
		// One key per page. Normalized keys are exactly keyWidth wide,
		// so the page id itself is the only key below pageID+ceiling.
		return pageID, pageID + rangeCeiling
	}
	start := pageID + strings.Repeat("0", ix.suffixLen)
	end := pageID + strings.Repeat(rangeCeiling, ix.suffixLen)
	return start, end
}

// CompositeIndex encodes multi-column keys into a fixed-width string:
// each column is left-padded to its declared width and the columns are
// concatenated. The page id is the prefix covering the leading
// prefixCols columns.
type CompositeIndex struct {
	widths     []int
	prefixCols int
	totalWidth int
	prefixLen  int
}

// NewCompositeIndex creates a composite fixed-width index.
func NewCompositeIndex(widths []int, prefixCols int) (*CompositeIndex, error) {
	if len(widths) == 0 {
		return nil, fmt.Errorf("composite index: no column widths")
	}
	if prefixCols < 1 || prefixCols > len(widths) {
		return nil, fmt.Errorf("composite index: prefix columns %d out of range [1,%d]", prefixCols, len(widths))
	}
	total, prefix := 0, 0
	for i, w := range widths {
		if w <= 0 {
			return nil, fmt.Errorf("composite index: column %d width must be positive", i)
		}
		total += w
		if i < prefixCols {
			prefix += w
		}
	}
	return &CompositeIndex{
		widths:     widths,
		prefixCols: prefixCols,
		totalWidth: total,
		prefixLen:  prefix,
	}, nil
}

// Encode builds the internal fixed-width key from its column values.
func (ix *CompositeIndex) Encode(cols ...string) (string, error) {
	if len(cols) != len(ix.widths) {
		return "", fmt.Errorf("composite index: got %d columns, want %d", len(cols), len(ix.widths))
	}
	var sb strings.Builder
	sb.Grow(ix.totalWidth)
	for i, col := range cols {
		if col == "" {
			return "", fmt.Errorf("composite index: column %d is empty", i)
		}
		if len(col) > ix.widths[i] {
			return "", fmt.Errorf("composite index: column %d value %q longer than width %d", i, col, ix.widths[i])
		}
		if err := checkKeyCharset(col); err != nil {
			return "", fmt.Errorf("composite index: column %d: %w", i, err)
		}
		sb.WriteString(zfill(col, ix.widths[i]))
	}
	return sb.String(), nil
}

// Decode splits a normalized key back into its columns with the padding
// stripped.
func (ix *CompositeIndex) Decode(key string) []string {
	cols := make([]string, len(ix.widths))
	off := 0
	for i, w := range ix.widths {
		cols[i] = strings.TrimLeft(key[off:off+w], "0")
		off += w
	}
	return cols
}

// PagePrefix returns the page id covering all keys whose leading columns
// equal the given values. Used for prefix scans such as listing every
// reservation of one customer.
func (ix *CompositeIndex) PagePrefix(cols ...string) (string, error) {
	if len(cols) != ix.prefixCols {
		return "", fmt.Errorf("composite index: got %d prefix columns, want %d", len(cols), ix.prefixCols)
	}
	var sb strings.Builder
	sb.Grow(ix.prefixLen)
	for i, col := range cols {
		if len(col) > ix.widths[i] {
			return "", fmt.Errorf("composite index: column %d value %q longer than width %d", i, col, ix.widths[i])
		}
		if err := checkKeyCharset(col); err != nil {
			return "", fmt.Errorf("composite index: column %d: %w", i, err)
		}
		sb.WriteString(zfill(col, ix.widths[i]))
	}
	return sb.String(), nil
}

func (ix *CompositeIndex) Normalize(key string) (string, error) {
	if len(key) != ix.totalWidth {
		return "", fmt.Errorf("composite index: key %q has length %d, want %d", key, len(key), ix.totalWidth)
	}
	if err := checkKeyCharset(key); err != nil {
		return "", fmt.Errorf("composite index: %w", err)
	}
	return key, nil
}

func (ix *CompositeIndex) PageID(key string) string {
	return key[:ix.prefixLen]
}

func (ix *CompositeIndex) KeyRange(pageID string) (string, string) {
	rest := ix.totalWidth - ix.prefixLen
	if rest == 0 {
		// Every column is part of the page id, one key per page.
		return pageID, pageID + rangeCeiling
	}
	start := pageID + strings.Repeat("0", rest)
	end := pageID + strings.Repeat(rangeCeiling, rest)
	return start, end
}

// LinearIndex buckets numeric keys into fixed-size ranges: bucket n
// covers keys [n*bucketSize, (n+1)*bucketSize). The page id is the
// zero-padded first key of the bucket, which keeps page domains
// expressible as string ranges.
type LinearIndex struct {
	keyWidth   int
	bucketSize int
}

// NewLinearIndex creates a linear bucket index. bucketSize is the number
// of distinct keys per page.
func NewLinearIndex(keyWidth, bucketSize int) (*LinearIndex, error) {
	if keyWidth <= 0 {
		return nil, fmt.Errorf("linear index: key width must be positive, got %d", keyWidth)
	}
	if bucketSize <= 0 {
		return nil, fmt.Errorf("linear index: bucket size must be positive, got %d", bucketSize)
	}
	return &LinearIndex{keyWidth: keyWidth, bucketSize: bucketSize}, nil
}

func (ix *LinearIndex) Normalize(key string) (string, error) {
	if key == "" {
		return "", fmt.Errorf("linear index: empty key")
	}
	n, err := strconv.ParseUint(key, 10, 64)
	if err != nil {
		return "", fmt.Errorf("linear index: key %q is not numeric: %w", key, err)
	}
	norm := strconv.FormatUint(n, 10)
	if len(norm) > ix.keyWidth {
		return "", fmt.Errorf("linear index: key %q longer than width %d", key, ix.keyWidth)
	}
	return zfill(norm, ix.keyWidth), nil
}

func (ix *LinearIndex) PageID(key string) string {
	n, _ := strconv.ParseUint(key, 10, 64)
	start := n - n%uint64(ix.bucketSize)
	return zfill(strconv.FormatUint(start, 10), ix.keyWidth)
}

func (ix *LinearIndex) KeyRange(pageID string) (string, string) {
	n, _ := strconv.ParseUint(pageID, 10, 64)
	end := strconv.FormatUint(n+uint64(ix.bucketSize), 10)
	if len(end) > ix.keyWidth {
		// Top bucket of the key space.
		return pageID, strings.Repeat(rangeCeiling, ix.keyWidth)
	}
	return pageID, zfill(end, ix.keyWidth)
}

// checkKeyCharset rejects characters that break the page range
// arithmetic: anything below '0' sorts before the zero padding, and
// rangeCeiling or above sorts past the exclusive upper bound.
func checkKeyCharset(s string) error {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] >= rangeCeiling[0] {
			return fmt.Errorf("key %q has unsupported character %q", s, s[i])
		}
	}
	return nil
}

func zfill(s string, width int) string {
	if len(s) >= width {
		return s
	}
	return strings.Repeat("0", width-len(s)) + s
}
