package main

import (
	"context"
	"database/sql"
	"strconv"
	"strings"
	"time"
)

// Dialect selects the SQL backend.
type Dialect string

const (
	DialectSQLite   Dialect = "sqlite"
	DialectPostgres Dialect = "postgres"
)

// CompatDB wraps *sql.DB so queries can be written once with ? placeholders
// and run against both SQLite and Postgres; for Postgres the placeholders
// are rewritten to $N.
type CompatDB struct {
	DB      *sql.DB
	Dialect Dialect
}

func NewCompatDB(db *sql.DB, dialect Dialect) *CompatDB {
	return &CompatDB{DB: db, Dialect: dialect}
}

func (d *CompatDB) Close() error          { return d.DB.Close() }
func (d *CompatDB) SetMaxOpenConns(n int) { d.DB.SetMaxOpenConns(n) }
func (d *CompatDB) SetMaxIdleConns(n int) { d.DB.SetMaxIdleConns(n) }
func (d *CompatDB) IsPostgres() bool      { return d.Dialect == DialectPostgres }

// NowUTC returns the dialect's current-timestamp expression for use inside
// query text.
func (d *CompatDB) NowUTC() string {
	if d.Dialect == DialectPostgres {
		return "NOW() AT TIME ZONE 'utc'"
	}
	return "datetime('now')"
}

func (d *CompatDB) rewrite(query string) string {
	if d.Dialect == DialectSQLite {
		return query
	}
	return rewritePlaceholders(query)
}

func (d *CompatDB) Exec(query string, args ...interface{}) (sql.Result, error) {
	return d.DB.Exec(d.rewrite(query), args...)
}

func (d *CompatDB) ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error) {
	return d.DB.ExecContext(ctx, d.rewrite(query), args...)
}

func (d *CompatDB) Query(query string, args ...interface{}) (*sql.Rows, error) {
	return d.DB.Query(d.rewrite(query), args...)
}

func (d *CompatDB) QueryContext(ctx context.Context, query string, args ...interface{}) (*sql.Rows, error) {
	return d.DB.QueryContext(ctx, d.rewrite(query), args...)
}

func (d *CompatDB) QueryRow(query string, args ...interface{}) *sql.Row {
	return d.DB.QueryRow(d.rewrite(query), args...)
}

func (d *CompatDB) QueryRowContext(ctx context.Context, query string, args ...interface{}) *sql.Row {
	return d.DB.QueryRowContext(ctx, d.rewrite(query), args...)
}

// rewritePlaceholders converts ? to $1, $2, ... for Postgres.
// Respects single-quoted string literals and escaped quotes ('').
func rewritePlaceholders(query string) string {
	var buf strings.Builder
	buf.Grow(len(query) + 32)
	n := 1
	inStr := false
	for i := 0; i < len(query); i++ {
		c := query[i]
		if c == '\'' {
			if inStr && i+1 < len(query) && query[i+1] == '\'' {
				buf.WriteByte(c)
				buf.WriteByte(query[i+1])
				i++
				continue
			}
			inStr = !inStr
			buf.WriteByte(c)
			continue
		}
		if c == '?' && !inStr {
			buf.WriteString("$" + strconv.Itoa(n))
			n++
			continue
		}
		buf.WriteByte(c)
	}
	return buf.String()
}

// nowRFC3339 is the single timestamp format written from Go code.
func nowRFC3339() string {
	return time.Now().UTC().Format(time.RFC3339)
}
