package rm

import "encoding/json"

// Record is an immutable snapshot of a single row. The committed version
// for a key never decreases; a fresh key that has never been committed is
// modeled as {Version: 0, Deleted: true}.
type Record struct {
	Key     string         `json:"key"`
	Fields  map[string]any `json:"fields"`
	Version uint64         `json:"version"`
	Deleted bool           `json:"deleted"`
}

// Tombstone returns the record modeling a key that is absent from the
// committed view.
func Tombstone(key string) *Record {
	return &Record{Key: key, Version: 0, Deleted: true}
}

// Clone returns a deep copy of the record.
func (r *Record) Clone() *Record {
	if r == nil {
		return nil
	}
	return &Record{
		Key:     r.Key,
		Fields:  cloneFields(r.Fields),
		Version: r.Version,
		Deleted: r.Deleted,
	}
}

func cloneFields(fields map[string]any) map[string]any {
	if fields == nil {
		return nil
	}
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		out[k] = v
	}
	return out
}

// FieldInt reads an integer field, tolerating the numeric types JSON
// decoding produces.
func FieldInt(fields map[string]any, name string) (int64, bool) {
	switch v := fields[name].(type) {
	case int64:
		return v, true
	case int:
		return int64(v), true
	case float64:
		return int64(v), true
	case json.Number:
		n, err := v.Int64()
		if err != nil {
			return 0, false
		}
		return n, true
	default:
		return 0, false
	}
}
