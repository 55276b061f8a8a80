package services

import (
	"context"
	"database/sql"
	"net/url"
	"path/filepath"

	"github.com/cockroachdb/errors"
	_ "github.com/mattn/go-sqlite3"
	"github.com/tidwall/gjson"
	"howett.net/plist"
)

// ReadPlist decodes any property list format into maps, slices and scalars.
func (f *Facade) ReadPlist(data []byte) (any, error) {
	var v any
	if _, err := plist.Unmarshal(data, &v); err != nil {
		return nil, errors.Wrap(err, "decode plist")
	}
	return v, nil
}

// QueryJSON evaluates a gjson path. The second result is false when the
// path does not match.
func (f *Facade) QueryJSON(data []byte, path string) (any, bool) {
	r := gjson.GetBytes(data, path)
	if !r.Exists() {
		return nil, false
	}
	return r.Value(), true
}

// QuerySQLite opens path read-only and returns each row as a column map.
// BLOB and TEXT columns are returned as strings.
func (f *Facade) QuerySQLite(ctx context.Context, path, query string, args ...any) ([]map[string]any, error) {
	db, err := f.sqlite(path)
	if err != nil {
		return nil, err
	}
	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrapf(err, "query %s", filepath.Base(path))
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, errors.Wrap(err, "read columns")
	}
	var out []map[string]any
	for rows.Next() {
		vals := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, errors.Wrap(err, "scan row")
		}
		row := make(map[string]any, len(cols))
		for i, c := range cols {
			if b, ok := vals[i].([]byte); ok {
				row[c] = string(b)
				continue
			}
			row[c] = vals[i]
		}
		out = append(out, row)
	}
	return out, errors.Wrap(rows.Err(), "iterate rows")
}

func (f *Facade) sqlite(path string) (*sql.DB, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, errors.Wrap(err, "resolve database path")
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if db, ok := f.db[abs]; ok {
		return db, nil
	}
	dsn := (&url.URL{Scheme: "file", Path: abs, RawQuery: "mode=ro&immutable=1"}).String()
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "open database")
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, errors.Wrapf(err, "open database %s", filepath.Base(path))
	}
	f.db[abs] = db
	return db, nil
}
