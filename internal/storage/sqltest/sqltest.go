// Package sqltest provides a scripted database/sql driver for repository tests.
//
// A test declares the exact sequence of statements it expects; the driver
// replays canned results in order and fails on any mismatch.
package sqltest

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
)

// OpType identifies the kind of driver call an Op expects.
type OpType int

const (
	OpExec OpType = iota
	OpQuery
	OpBegin
	OpCommit
	OpRollback
)

func (t OpType) String() string {
	switch t {
	case OpExec:
		return "exec"
	case OpQuery:
		return "query"
	case OpBegin:
		return "begin"
	case OpCommit:
		return "commit"
	case OpRollback:
		return "rollback"
	default:
		return fmt.Sprintf("OpType(%d)", int(t))
	}
}

// Op is one expected driver call.
type Op struct {
	Type   OpType
	Query  string
	Result Result
	Rows   Rows
	Err    error
	// Args, when non-nil, must equal the driver arguments of the call.
	Args []driver.Value
}

// WithArgs returns a copy of the op that also checks the call arguments.
func (o Op) WithArgs(args ...driver.Value) Op {
	o.Args = args
	return o
}

// WithErr returns a copy of the op that fails with err.
func (o Op) WithErr(err error) Op {
	o.Err = err
	return o
}

// Result is the canned result of an exec.
type Result struct {
	LastInsertID int64
	RowsAffected int64
}

// execResult adapts Result to driver.Result.
type execResult struct{ r Result }

func (e execResult) LastInsertId() (int64, error) { return e.r.LastInsertID, nil }
func (e execResult) RowsAffected() (int64, error) { return e.r.RowsAffected, nil }

// Rows is the canned result of a query.
type Rows struct {
	Columns []string
	Values  [][]driver.Value
}

// Exec expects an ExecContext call with the given statement.
func Exec(query string, result Result) Op {
	return Op{Type: OpExec, Query: query, Result: result}
}

// Query expects a QueryContext call with the given statement.
func Query(query string, rows Rows) Op {
	return Op{Type: OpQuery, Query: query, Rows: rows}
}

// Begin expects a transaction start.
func Begin() Op { return Op{Type: OpBegin} }

// Commit expects a transaction commit.
func Commit() Op { return Op{Type: OpCommit} }

// Rollback expects a transaction rollback.
func Rollback() Op { return Op{Type: OpRollback} }

// Driver replays a scripted sequence of operations.
type Driver struct {
	mu  sync.Mutex
	ops []Op
	idx int
}

var driverSeq atomic.Int32

// Open registers a fresh driver for ops and opens a single-connection pool on it.
func Open(t testing.TB, ops ...Op) (*sql.DB, *Driver) {
	t.Helper()

	drv := &Driver{ops: ops}
	name := fmt.Sprintf("sqltest-%d", driverSeq.Add(1))
	sql.Register(name, drv)

	db, err := sql.Open(name, "")
	if err != nil {
		t.Fatalf("open mock db failed: %v", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	t.Cleanup(func() { _ = db.Close() })
	return db, drv
}

// AssertConsumed fails the test when some scripted operations never ran.
func (d *Driver) AssertConsumed(t testing.TB) {
	t.Helper()
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.idx != len(d.ops) {
		t.Fatalf("not all operations consumed: %d/%d", d.idx, len(d.ops))
	}
}

// Open implements driver.Driver.
func (d *Driver) Open(string) (driver.Conn, error) {
	return &conn{driver: d}, nil
}

func (d *Driver) next(expected OpType, query string, args []driver.NamedValue) (*Op, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.idx >= len(d.ops) {
		return nil, fmt.Errorf("unexpected operation: %v %q", expected, Normalize(query))
	}
	op := &d.ops[d.idx]
	if op.Type != expected {
		return nil, fmt.Errorf("expected operation %v, got %v", op.Type, expected)
	}
	d.idx++
	if op.Query != "" {
		want, got := Normalize(op.Query), Normalize(query)
		if want != got {
			return nil, fmt.Errorf("unexpected query. want %q got %q", want, got)
		}
	}
	if op.Args != nil {
		if len(op.Args) != len(args) {
			return nil, fmt.Errorf("query %q: want %d args, got %d", Normalize(query), len(op.Args), len(args))
		}
		for i, arg := range args {
			if fmt.Sprint(op.Args[i]) != fmt.Sprint(arg.Value) {
				return nil, fmt.Errorf("query %q: arg %d want %v got %v", Normalize(query), i+1, op.Args[i], arg.Value)
			}
		}
	}
	return op, nil
}

type conn struct {
	driver *Driver
}

func (c *conn) Prepare(query string) (driver.Stmt, error) {
	return nil, fmt.Errorf("prepare not supported: %s", query)
}

func (c *conn) Close() error { return nil }

func (c *conn) Begin() (driver.Tx, error) {
	return c.BeginTx(context.Background(), driver.TxOptions{})
}

func (c *conn) BeginTx(context.Context, driver.TxOptions) (driver.Tx, error) {
	op, err := c.driver.next(OpBegin, "", nil)
	if err != nil {
		return nil, err
	}
	if op.Err != nil {
		return nil, op.Err
	}
	return &tx{driver: c.driver}, nil
}

func (c *conn) ExecContext(_ context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	op, err := c.driver.next(OpExec, query, args)
	if err != nil {
		return nil, err
	}
	if op.Err != nil {
		return nil, op.Err
	}
	return execResult{op.Result}, nil
}

func (c *conn) QueryContext(_ context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	op, err := c.driver.next(OpQuery, query, args)
	if err != nil {
		return nil, err
	}
	if op.Err != nil {
		return nil, op.Err
	}
	return &rows{columns: op.Rows.Columns, values: op.Rows.Values}, nil
}

func (c *conn) Ping(context.Context) error { return nil }

type tx struct {
	driver *Driver
}

func (t *tx) Commit() error {
	op, err := t.driver.next(OpCommit, "", nil)
	if err != nil {
		return err
	}
	return op.Err
}

func (t *tx) Rollback() error {
	op, err := t.driver.next(OpRollback, "", nil)
	if err != nil {
		return err
	}
	return op.Err
}

type rows struct {
	columns []string
	values  [][]driver.Value
	idx     int
}

func (r *rows) Columns() []string { return r.columns }
func (r *rows) Close() error      { return nil }

func (r *rows) Next(dest []driver.Value) error {
	if r.idx >= len(r.values) {
		return io.EOF
	}
	copy(dest, r.values[r.idx])
	r.idx++
	return nil
}

// Normalize collapses whitespace so statements compare independent of layout.
func Normalize(query string) string {
	return strings.Join(strings.Fields(query), " ")
}
