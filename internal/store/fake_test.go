package store

import (
	"context"
	"errors"
	"reflect"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

var errDB = errors.New("connection reset")

type stmt struct {
	sql  string
	args []any
}

// fakePool records statements and answers batches with sequential ids.
type fakePool struct {
	execs   []stmt
	execErr error

	query    stmt
	rows     [][]any
	queryErr error

	txs      []*fakeTx
	beginErr error

	nextID   int64
	failAt   int   // index of the batch statement that fails, -1 for none
	affected int64 // rows affected per batch Exec
}

func newFakePool() *fakePool {
	return &fakePool{nextID: 1, failAt: -1, affected: 1}
}

func (p *fakePool) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	p.execs = append(p.execs, stmt{sql, args})
	return pgconn.NewCommandTag("OK"), p.execErr
}

func (p *fakePool) Query(_ context.Context, sql string, args ...any) (pgx.Rows, error) {
	p.query = stmt{sql, args}
	if p.queryErr != nil {
		return nil, p.queryErr
	}
	return &fakeRows{data: p.rows}, nil
}

func (p *fakePool) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	p.query = stmt{sql, args}
	if len(p.rows) == 0 {
		return fakeRow{err: pgx.ErrNoRows}
	}
	return fakeRow{values: p.rows[0]}
}

func (p *fakePool) Begin(context.Context) (pgx.Tx, error) {
	if p.beginErr != nil {
		return nil, p.beginErr
	}
	tx := &fakeTx{pool: p}
	p.txs = append(p.txs, tx)
	return tx, nil
}

func (p *fakePool) lastTx() *fakeTx {
	if len(p.txs) == 0 {
		return nil
	}
	return p.txs[len(p.txs)-1]
}

type fakeTx struct {
	pgx.Tx
	pool       *fakePool
	batch      []stmt
	execs      []stmt
	committed  bool
	rolledBack bool
}

func (tx *fakeTx) SendBatch(_ context.Context, b *pgx.Batch) pgx.BatchResults {
	for _, q := range b.QueuedQueries {
		tx.batch = append(tx.batch, stmt{q.SQL, q.Arguments})
	}
	return &fakeBatch{tx: tx}
}

func (tx *fakeTx) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	tx.execs = append(tx.execs, stmt{sql, args})
	return pgconn.NewCommandTag("OK"), tx.pool.execErr
}

func (tx *fakeTx) Commit(context.Context) error {
	tx.committed = true
	return nil
}

func (tx *fakeTx) Rollback(context.Context) error {
	if !tx.committed {
		tx.rolledBack = true
	}
	return nil
}

type fakeBatch struct {
	tx *fakeTx
	i  int
}

func (b *fakeBatch) next() (int, bool) {
	i := b.i
	b.i++
	return i, i == b.tx.pool.failAt
}

func (b *fakeBatch) Exec() (pgconn.CommandTag, error) {
	if _, fail := b.next(); fail {
		return pgconn.CommandTag{}, errDB
	}
	if b.tx.pool.affected == 0 {
		return pgconn.NewCommandTag("UPDATE 0"), nil
	}
	return pgconn.NewCommandTag("UPDATE 1"), nil
}

func (b *fakeBatch) Query() (pgx.Rows, error) { return nil, errors.New("not supported") }

func (b *fakeBatch) QueryRow() pgx.Row {
	if _, fail := b.next(); fail {
		return fakeRow{err: errDB}
	}
	id := b.tx.pool.nextID
	b.tx.pool.nextID++
	return fakeRow{values: []any{id}}
}

func (b *fakeBatch) Close() error { return nil }

type fakeRow struct {
	values []any
	err    error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	return assign(dest, r.values)
}

type fakeRows struct {
	pgx.Rows
	data   [][]any
	i      int
	closed bool
}

func (r *fakeRows) Next() bool {
	if r.i >= len(r.data) {
		return false
	}
	r.i++
	return true
}

func (r *fakeRows) Scan(dest ...any) error { return assign(dest, r.data[r.i-1]) }
func (r *fakeRows) Err() error { return nil }
func (r *fakeRows) Close() { r.closed = true }

func assign(dest, values []any) error {
	if len(dest) != len(values) {
		return errors.New("scan: column count mismatch")
	}
	for i, d := range dest {
		reflect.ValueOf(d).Elem().Set(reflect.ValueOf(values[i]))
	}
	return nil
}
