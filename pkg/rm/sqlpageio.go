package rm

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	_ "modernc.org/sqlite"
)

var tableNameRE = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// SQLPageIO implements PageIO over a relational table with the record
// key as primary key. PageIn is a range-by-prefix query, PageOut is one
// SQL transaction per call (upserts plus in-domain deletes), matching
// the backend contract the resource manager relies on.
//
// Schema per table: rkey TEXT PRIMARY KEY, fields TEXT (JSON),
// version INTEGER, deleted INTEGER.
type SQLPageIO struct {
	db    *sql.DB
	table string
	index PageIndex
}

// OpenSQLite opens (or creates) a SQLite database at path for use as an
// RM backend store.
func OpenSQLite(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	// The RM serializes page-out calls per page; a single connection
	// avoids SQLITE_BUSY between concurrent writers.
	db.SetMaxOpenConns(1)
	return db, nil
}

// NewSQLPageIO creates a page I/O bound to one table, creating the table
// if it does not exist.
func NewSQLPageIO(db *sql.DB, table string, index PageIndex) (*SQLPageIO, error) {
	if !tableNameRE.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
		rkey    TEXT PRIMARY KEY,
		fields  TEXT NOT NULL,
		version INTEGER NOT NULL,
		deleted INTEGER NOT NULL
	)`, table)
	if _, err := db.Exec(ddl); err != nil {
		return nil, fmt.Errorf("create table %s: %w", table, err)
	}
	return &SQLPageIO{db: db, table: table, index: index}, nil
}

// PageIn loads every committed record in the page's key range.
func (io *SQLPageIO) PageIn(ctx context.Context, pageID string) (*Page, error) {
	start, end := io.index.KeyRange(pageID)
	query := fmt.Sprintf(
		`SELECT rkey, fields, version, deleted FROM %s WHERE rkey >= ? AND rkey < ?`, io.table)
	rows, err := io.db.QueryContext(ctx, query, start, end)
	if err != nil {
		return nil, fmt.Errorf("page in %s/%s: %w", io.table, pageID, err)
	}
	defer rows.Close()

	page := NewPage(pageID)
	for rows.Next() {
		var (
			key        string
			fieldsJSON string
			version    uint64
			deleted    int
		)
		if err := rows.Scan(&key, &fieldsJSON, &version, &deleted); err != nil {
			return nil, fmt.Errorf("page in %s/%s: scan: %w", io.table, pageID, err)
		}
		rec := &Record{Key: key, Version: version, Deleted: deleted != 0}
		if fieldsJSON != "" {
			if err := json.Unmarshal([]byte(fieldsJSON), &rec.Fields); err != nil {
				return nil, fmt.Errorf("page in %s/%s: decode fields of %s: %w", io.table, pageID, key, err)
			}
		}
		page.Put(rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("page in %s/%s: %w", io.table, pageID, err)
	}
	return page, nil
}

// PageOut persists the page in a single backend transaction.
func (io *SQLPageIO) PageOut(ctx context.Context, pageID string, page *Page) error {
	tx, err := io.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("page out %s/%s: begin: %w", io.table, pageID, err)
	}
	defer tx.Rollback()

	upsert := fmt.Sprintf(`INSERT INTO %s (rkey, fields, version, deleted) VALUES (?, ?, ?, ?)
		ON CONFLICT(rkey) DO UPDATE SET
			fields = excluded.fields,
			version = excluded.version,
			deleted = excluded.deleted`, io.table)
	for _, key := range page.Keys() {
		rec := page.Get(key)
		fieldsJSON, err := json.Marshal(rec.Fields)
		if err != nil {
			return fmt.Errorf("page out %s/%s: encode fields of %s: %w", io.table, pageID, key, err)
		}
		deleted := 0
		if rec.Deleted {
			deleted = 1
		}
		if _, err := tx.ExecContext(ctx, upsert, key, string(fieldsJSON), rec.Version, deleted); err != nil {
			return fmt.Errorf("page out %s/%s: upsert %s: %w", io.table, pageID, key, err)
		}
	}

	// Drop rows in the page's domain that the page no longer contains.
	start, end := io.index.KeyRange(pageID)
	del := fmt.Sprintf(`DELETE FROM %s WHERE rkey >= ? AND rkey < ?`, io.table)
	args := []any{start, end}
	if len(page.Records) > 0 {
		placeholders := strings.Repeat("?,", len(page.Records))
		del += fmt.Sprintf(" AND rkey NOT IN (%s)", placeholders[:len(placeholders)-1])
		for _, key := range page.Keys() {
			args = append(args, key)
		}
	}
	if _, err := tx.ExecContext(ctx, del, args...); err != nil {
		return fmt.Errorf("page out %s/%s: trim domain: %w", io.table, pageID, err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("page out %s/%s: commit: %w", io.table, pageID, err)
	}
	return nil
}
