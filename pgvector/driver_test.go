package pgvector

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"io"
	"sync"
	"testing"

	"github.com/cockroachdb/errors"
	"go.opentelemetry.io/otel"
)

// event is one call the database received.
type event struct {
	kind string // BEGIN, BEGIN READ ONLY, EXEC, QUERY, COMMIT or ROLLBACK
	sql  string
	args []any
}

// fakeBackend is an in-process database/sql driver that records every
// statement. Like pgx, it accepts any Go value as an argument.
type fakeBackend struct {
	mu     sync.Mutex
	events []event

	// query answers QUERY calls. A nil query returns no rows.
	query func(sql string, args []any) (columns []string, rows [][]driver.Value, err error)
	// exec fails EXEC calls when it returns an error.
	exec func(sql string, args []any) error
}

func (b *fakeBackend) record(e event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, e)
}

func (b *fakeBackend) recorded() []event {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]event(nil), b.events...)
}

func (b *fakeBackend) Connect(context.Context) (driver.Conn, error) { return &fakeConn{b: b}, nil }
func (b *fakeBackend) Driver() driver.Driver                        { return fakeDriver{b: b} }

type fakeDriver struct{ b *fakeBackend }

func (d fakeDriver) Open(string) (driver.Conn, error) { return &fakeConn{b: d.b}, nil }

type fakeConn struct{ b *fakeBackend }

func (c *fakeConn) Prepare(query string) (driver.Stmt, error) {
	return &fakeStmt{c: c, query: query}, nil
}

func (c *fakeConn) Close() error { return nil }

func (c *fakeConn) Begin() (driver.Tx, error) {
	return c.BeginTx(context.Background(), driver.TxOptions{})
}

func (c *fakeConn) BeginTx(_ context.Context, opts driver.TxOptions) (driver.Tx, error) {
	kind := "BEGIN"
	if opts.ReadOnly {
		kind = "BEGIN READ ONLY"
	}
	c.b.record(event{kind: kind})
	return fakeTx{b: c.b}, nil
}

func (c *fakeConn) CheckNamedValue(*driver.NamedValue) error { return nil }

func (c *fakeConn) ExecContext(_ context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	return c.exec(query, values(args))
}

func (c *fakeConn) exec(query string, args []any) (driver.Result, error) {
	c.b.record(event{kind: "EXEC", sql: query, args: args})
	if c.b.exec != nil {
		if err := c.b.exec(query, args); err != nil {
			return nil, err
		}
	}
	return driver.RowsAffected(1), nil
}

func (c *fakeConn) QueryContext(_ context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	vals := values(args)
	c.b.record(event{kind: "QUERY", sql: query, args: vals})
	if c.b.query == nil {
		return &fakeRows{}, nil
	}
	columns, rows, err := c.b.query(query, vals)
	if err != nil {
		return nil, err
	}
	return &fakeRows{columns: columns, rows: rows}, nil
}

type fakeStmt struct {
	c     *fakeConn
	query string
}

func (s *fakeStmt) Close() error  { return nil }
func (s *fakeStmt) NumInput() int { return -1 }

func (s *fakeStmt) Exec(args []driver.Value) (driver.Result, error) {
	vals := make([]any, len(args))
	for i, v := range args {
		vals[i] = v
	}
	return s.c.exec(s.query, vals)
}

func (s *fakeStmt) ExecContext(_ context.Context, args []driver.NamedValue) (driver.Result, error) {
	return s.c.exec(s.query, values(args))
}

func (s *fakeStmt) Query(args []driver.Value) (driver.Rows, error) {
	return nil, errors.New("fake driver: prepared queries are not supported")
}

type fakeTx struct{ b *fakeBackend }

func (t fakeTx) Commit() error   { t.b.record(event{kind: "COMMIT"}); return nil }
func (t fakeTx) Rollback() error { t.b.record(event{kind: "ROLLBACK"}); return nil }

type fakeRows struct {
	columns []string
	rows    [][]driver.Value
	pos     int
}

func (r *fakeRows) Columns() []string { return r.columns }
func (r *fakeRows) Close() error      { return nil }

func (r *fakeRows) Next(dest []driver.Value) error {
	if r.pos >= len(r.rows) {
		return io.EOF
	}
	copy(dest, r.rows[r.pos])
	r.pos++
	return nil
}

func values(args []driver.NamedValue) []any {
	vals := make([]any, len(args))
	for i, a := range args {
		vals[i] = a.Value
	}
	return vals
}

// newFakeClient returns a Client whose pool is backed by b.
func newFakeClient(t *testing.T, b *fakeBackend) *Client {
	t.Helper()
	db := sql.OpenDB(b)
	c := &Client{tracer: otel.Tracer("recallx-pgvector-test"), opened: db}
	c.getDB = func() (*sql.DB, error) { return db, nil }
	t.Cleanup(func() { _ = c.Close() })
	return c
}
