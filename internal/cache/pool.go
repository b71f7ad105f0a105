package cache

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// connPool is a bounded lend/return arena for the embedded SQL backend: a
// small set of long-lived *sql.Conn handles, lent one at a time via a
// buffered channel so that "pool capacity == max in-flight transactions".
// Unlike a bare sync.Pool, it supports a bounded acquire timeout and
// replaces broken handles on error instead of silently dropping them.
type connPool struct {
	db    *sql.DB
	slots chan *sql.Conn
}

var ErrPoolAcquireTimeout = errors.New("cache: connection pool acquire timed out")

func newConnPool(ctx context.Context, db *sql.DB, size int, init func(context.Context, *sql.Conn) error) (*connPool, error) {
	p := &connPool{db: db, slots: make(chan *sql.Conn, size)}
	for i := 0; i < size; i++ {
		conn, err := db.Conn(ctx)
		if err != nil {
			p.closeAll()
			return nil, err
		}
		if init != nil {
			if err := init(ctx, conn); err != nil {
				conn.Close()
				p.closeAll()
				return nil, err
			}
		}
		p.slots <- conn
	}
	return p, nil
}

// acquire lends a connection, honoring an optional timeout. A timed-out
// acquire surfaces as a fetch-side error, never a crash.
func (p *connPool) acquire(ctx context.Context, timeout time.Duration) (*sql.Conn, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	select {
	case conn := <-p.slots:
		return conn, nil
	case <-ctx.Done():
		return nil, ErrPoolAcquireTimeout
	}
}

// release returns conn to the pool. If broken is true (the caller observed
// an error while using it), the handle is closed and replaced before the
// slot becomes available again.
func (p *connPool) release(ctx context.Context, conn *sql.Conn, broken bool) {
	if !broken {
		p.slots <- conn
		return
	}
	conn.Close()
	fresh, err := p.db.Conn(ctx)
	if err != nil {
		// Best effort: if we can't open a replacement, shrink the pool by
		// one slot rather than deadlock future acquires indefinitely.
		return
	}
	p.slots <- fresh
}

func (p *connPool) closeAll() {
	close(p.slots)
	for conn := range p.slots {
		conn.Close()
	}
}

// withConn runs fn with a leased connection, handling release/replace
// bookkeeping. fn's error return decides whether the handle is considered
// broken.
func (p *connPool) withConn(ctx context.Context, timeout time.Duration, fn func(*sql.Conn) error) error {
	conn, err := p.acquire(ctx, timeout)
	if err != nil {
		return err
	}
	err = fn(conn)
	p.release(ctx, conn, err != nil)
	return err
}
