package rm

import "sort"

// Page is a bucket of records sharing a routing property decided by the
// page index. It is the unit of backend I/O: the set of keys held by a
// page equals the set returned by the backend range query for its id.
type Page struct {
	ID      string
	Records map[string]*Record
}

// NewPage creates an empty page.
func NewPage(id string) *Page {
	return &Page{ID: id, Records: make(map[string]*Record)}
}

// Get returns the record for key, or nil.
func (p *Page) Get(key string) *Record {
	return p.Records[key]
}

// Put inserts or replaces a record.
func (p *Page) Put(rec *Record) {
	p.Records[rec.Key] = rec
}

// Keys returns the page's keys in sorted order.
func (p *Page) Keys() []string {
	keys := make([]string, 0, len(p.Records))
	for k := range p.Records {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Clone returns a deep copy of the page. Commit works on a clone and
// swaps it into the committed pool so concurrent readers keep a stable
// snapshot.
func (p *Page) Clone() *Page {
	cp := NewPage(p.ID)
	for k, rec := range p.Records {
		cp.Records[k] = rec.Clone()
	}
	return cp
}
