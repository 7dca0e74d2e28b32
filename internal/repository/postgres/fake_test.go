package postgres

import (
	"context"
	"errors"
	"reflect"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

type fakeRow struct {
	values []any
	err    error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	if len(dest) != len(r.values) {
		return errors.New("fake row: column count mismatch")
	}
	for i, d := range dest {
		target := reflect.ValueOf(d).Elem()
		if r.values[i] == nil {
			target.Set(reflect.Zero(target.Type()))
			continue
		}
		target.Set(reflect.ValueOf(r.values[i]))
	}
	return nil
}

type execCall struct {
	sql  string
	args []any
}

type fakeBatchResults struct {
	remaining int
	execErr   error
	closeErr  error
}

func (b *fakeBatchResults) Exec() (pgconn.CommandTag, error) {
	if b.execErr != nil {
		return pgconn.CommandTag{}, b.execErr
	}
	b.remaining--
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func (b *fakeBatchResults) Query() (pgx.Rows, error) {
	return nil, errors.New("fake batch: query not supported")
}

func (b *fakeBatchResults) QueryRow() pgx.Row {
	return fakeRow{err: errors.New("fake batch: query row not supported")}
}

func (b *fakeBatchResults) Close() error {
	return b.closeErr
}

// fakeTx records what a single transaction was asked to do.
type fakeTx struct {
	pgx.Tx

	batchErr  error
	commitErr error
	execFn    func(sql string, args []any) (pgconn.CommandTag, error)
	rowFn     func(sql string, args []any) pgx.Row

	batchSizes []int
	execs      []execCall
	committed  bool
	rolledBack bool
}

func (t *fakeTx) SendBatch(_ context.Context, b *pgx.Batch) pgx.BatchResults {
	t.batchSizes = append(t.batchSizes, b.Len())
	return &fakeBatchResults{remaining: b.Len(), execErr: t.batchErr}
}

func (t *fakeTx) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	t.execs = append(t.execs, execCall{sql: sql, args: args})
	if t.execFn != nil {
		return t.execFn(sql, args)
	}
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func (t *fakeTx) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	if t.rowFn != nil {
		return t.rowFn(sql, args)
	}
	return fakeRow{err: pgx.ErrNoRows}
}

func (t *fakeTx) Commit(context.Context) error {
	if t.commitErr != nil {
		return t.commitErr
	}
	t.committed = true
	return nil
}

// Rollback after Commit is a no-op, as with a real transaction.
func (t *fakeTx) Rollback(context.Context) error {
	if !t.committed {
		t.rolledBack = true
	}
	return nil
}

type fakeDB struct {
	mu       sync.Mutex
	beginErr func(attempt int) error
	newTx    func(attempt int) *fakeTx
	rowFn    func(sql string, args []any) pgx.Row
	rowsErr  error

	begins int
	txs    []*fakeTx
	rows   []execCall
}

func (db *fakeDB) BeginTx(context.Context, pgx.TxOptions) (pgx.Tx, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	attempt := db.begins
	db.begins++
	if db.beginErr != nil {
		if err := db.beginErr(attempt); err != nil {
			return nil, err
		}
	}
	tx := &fakeTx{}
	if db.newTx != nil {
		tx = db.newTx(attempt)
	}
	db.txs = append(db.txs, tx)
	return tx, nil
}

func (db *fakeDB) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	return pgconn.CommandTag{}, errors.New("fake db: exec outside a transaction")
}

func (db *fakeDB) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	db.mu.Lock()
	db.rows = append(db.rows, execCall{sql: sql, args: args})
	db.mu.Unlock()
	if db.rowFn != nil {
		return db.rowFn(sql, args)
	}
	return fakeRow{err: pgx.ErrNoRows}
}

func (db *fakeDB) Query(context.Context, string, ...any) (pgx.Rows, error) {
	if db.rowsErr != nil {
		return nil, db.rowsErr
	}
	return nil, errors.New("fake db: query not supported")
}

type recordingTimer struct {
	waits []time.Duration
	c     chan time.Time
}

func newRecordingTimer() *recordingTimer {
	return &recordingTimer{c: make(chan time.Time, 1)}
}

func (t *recordingTimer) Start(d time.Duration) {
	t.waits = append(t.waits, d)
	t.c <- time.Now()
}

func (t *recordingTimer) Stop() {}

func (t *recordingTimer) C() <-chan time.Time {
	return t.c
}
