package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/golang-migrate/migrate/v4"
	sqlitemigrate "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	_ "modernc.org/sqlite"

	"github.com/sts-resolver/daemon/internal/log"
	"github.com/sts-resolver/daemon/internal/resolver"
)

// SQLite is the embedded SQL backend: a small pool of long-lived
// connections shared across request handlers, WAL + synchronous=NORMAL at
// connection init, and two tables (policy cache keyed by domain, and a
// single-row metadata table for the proactive-fetch timestamp).
type SQLite struct {
	path       string
	poolSize   int
	acquireTTL time.Duration

	db   *sql.DB
	pool *connPool
}

const sqliteMigrationsDir = "sqlite_migrations"

// NewSQLite returns a backend rooted at path (a filesystem path), with a
// pool of poolSize connections and the given acquire timeout. Every pooled
// connection opens path on its own, so ":memory:" gives each connection a
// separate in-memory database.
func NewSQLite(path string, poolSize int, acquireTimeout time.Duration) *SQLite {
	return &SQLite{path: path, poolSize: poolSize, acquireTTL: acquireTimeout}
}

func (s *SQLite) Setup(ctx context.Context) error {
	dsn := s.path
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return fmt.Errorf("cache/sqlite: open: %w", err)
	}
	db.SetMaxOpenConns(s.poolSize + 1)
	s.db = db

	if err := s.migrate(); err != nil {
		return fmt.Errorf("cache/sqlite: migrate: %w", err)
	}

	pool, err := newConnPool(ctx, db, s.poolSize, func(ctx context.Context, c *sql.Conn) error {
		for _, pragma := range []string{
			"PRAGMA journal_mode=WAL;",
			"PRAGMA synchronous=NORMAL;",
		} {
			if _, err := c.ExecContext(ctx, pragma); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("cache/sqlite: pool init: %w", err)
	}
	s.pool = pool
	return nil
}

func (s *SQLite) migrate() error {
	driver, err := sqlitemigrate.WithInstance(s.db, &sqlitemigrate.Config{})
	if err != nil {
		return err
	}
	src, err := iofs.New(embeddedMigrations, sqliteMigrationsDir)
	if err != nil {
		return err
	}
	m, err := migrate.NewWithInstance("iofs", src, "sqlite3", driver)
	if err != nil {
		return err
	}
	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}
	return nil
}

func (s *SQLite) Teardown(ctx context.Context) error {
	if s.pool != nil {
		s.pool.closeAll()
	}
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

func (s *SQLite) Get(ctx context.Context, key string) (Entry, bool, error) {
	var entry Entry
	var found bool
	err := s.pool.withConn(ctx, s.acquireTTL, func(conn *sql.Conn) error {
		var body []byte
		row := conn.QueryRowContext(ctx,
			`SELECT ts, policy_id, policy_body FROM policy_cache WHERE domain = ?`, key)
		err := row.Scan(&entry.TS, &entry.PolicyID, &body)
		if errors.Is(err, sql.ErrNoRows) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		if len(body) > 0 {
			var pb resolver.PolicyBody
			if err := json.Unmarshal(body, &pb); err != nil {
				return err
			}
			entry.Body = &pb
		}
		return nil
	})
	if err != nil {
		return Entry{}, false, err
	}
	return entry, found, nil
}

func (s *SQLite) Set(ctx context.Context, key string, entry Entry) error {
	var bodyJSON []byte
	if entry.Body != nil {
		b, err := json.Marshal(entry.Body)
		if err != nil {
			return err
		}
		bodyJSON = b
	}

	return s.pool.withConn(ctx, s.acquireTTL, func(conn *sql.Conn) error {
		// Newest-wins conditional upsert.
		_, err := conn.ExecContext(ctx, `
			INSERT INTO policy_cache (domain, ts, policy_id, policy_body)
			VALUES (?, ?, ?, ?)
			ON CONFLICT(domain) DO UPDATE SET
				ts = excluded.ts,
				policy_id = excluded.policy_id,
				policy_body = excluded.policy_body
			WHERE policy_cache.ts < excluded.ts
		`, key, entry.TS, entry.PolicyID, bodyJSON)
		return err
	})
}

func (s *SQLite) SafeSet(ctx context.Context, key string, entry Entry) {
	if err := s.Set(ctx, key, entry); err != nil {
		log.Warnf("sqlite cache: set failed for %q: %v", key, err)
	}
}

func (s *SQLite) Scan(ctx context.Context, token []byte, hint int) (Page, error) {
	if hint <= 0 {
		hint = 100
	}
	var lastDomain string
	if token != nil {
		lastDomain = string(token)
	}

	var page Page
	err := s.pool.withConn(ctx, s.acquireTTL, func(conn *sql.Conn) error {
		rows, err := conn.QueryContext(ctx, `
			SELECT domain, ts, policy_id, policy_body FROM policy_cache
			WHERE domain > ?
			ORDER BY domain
			LIMIT ?
		`, lastDomain, hint)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var key string
			var entry Entry
			var body []byte
			if err := rows.Scan(&key, &entry.TS, &entry.PolicyID, &body); err != nil {
				return err
			}
			if len(body) > 0 {
				var pb resolver.PolicyBody
				if err := json.Unmarshal(body, &pb); err != nil {
					return err
				}
				entry.Body = &pb
			}
			page.Items = append(page.Items, ScanItem{Key: key, Entry: entry})
			lastDomain = key
		}
		return rows.Err()
	})
	if err != nil {
		return Page{}, err
	}
	if len(page.Items) == hint {
		page.NextToken = []byte(lastDomain)
	}
	return page, nil
}

func (s *SQLite) GetProactiveFetchTS(ctx context.Context) (time.Time, error) {
	var unix int64
	err := s.pool.withConn(ctx, s.acquireTTL, func(conn *sql.Conn) error {
		row := conn.QueryRowContext(ctx, `SELECT proactive_fetch_ts FROM meta WHERE id = 1`)
		err := row.Scan(&unix)
		if errors.Is(err, sql.ErrNoRows) {
			unix = 0
			return nil
		}
		return err
	})
	if err != nil {
		return time.Time{}, err
	}
	if unix == 0 {
		return time.Time{}, nil
	}
	return time.Unix(unix, 0), nil
}

func (s *SQLite) SetProactiveFetchTS(ctx context.Context, ts time.Time) error {
	return s.pool.withConn(ctx, s.acquireTTL, func(conn *sql.Conn) error {
		_, err := conn.ExecContext(ctx, `
			INSERT INTO meta (id, proactive_fetch_ts) VALUES (1, ?)
			ON CONFLICT(id) DO UPDATE SET proactive_fetch_ts = excluded.proactive_fetch_ts
		`, ts.Unix())
		return err
	})
}
