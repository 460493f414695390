package store

import (
	"context"
	"database/sql"
	"fmt"
)

// writeRequest is the message the single writer goroutine consumes: a
// transaction body plus a reply channel. Only one write transaction
// against the store is ever in flight.
type writeRequest struct {
	ctx   context.Context
	fn    func(*sql.Tx) error
	reply chan error
}

// writer owns the store's sole mutating *sql.DB connection and drains
// writeRequests sequentially. Readers never touch this connection.
type writer struct {
	db   *sql.DB
	in   chan writeRequest
	done chan struct{}
}

func newWriter(db *sql.DB) *writer {
	w := &writer{db: db, in: make(chan writeRequest), done: make(chan struct{})}
	go w.run()
	return w
}

func (w *writer) run() {
	defer close(w.done)
	for req := range w.in {
		req.reply <- w.exec(req.ctx, req.fn)
	}
}

func (w *writer) exec(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := w.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin write tx: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

// write enqueues fn to run inside the single writer transaction and
// blocks until it completes or ctx is cancelled.
func (w *writer) write(ctx context.Context, fn func(*sql.Tx) error) error {
	reply := make(chan error, 1)
	select {
	case w.in <- writeRequest{ctx: ctx, fn: fn, reply: reply}:
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// close stops accepting new writes and waits for the goroutine to exit.
// Callers must ensure no write is in flight that would block forever.
func (w *writer) close() {
	close(w.in)
	<-w.done
}
