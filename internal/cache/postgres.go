package cache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/sts-resolver/daemon/internal/log"
	"github.com/sts-resolver/daemon/internal/resolver"
)

// Postgres is the external relational backend: the same policy_cache/meta
// schema as SQLite, but pooled by the driver itself (database/sql's own
// pool) rather than this package's connPool, since pq connections are cheap
// to multiplex through the standard driver pool.
type Postgres struct {
	dsn          string
	maxOpenConns int
	db           *sql.DB
}

func NewPostgres(dsn string, maxOpenConns int) *Postgres {
	return &Postgres{dsn: dsn, maxOpenConns: maxOpenConns}
}

func (p *Postgres) Setup(ctx context.Context) error {
	db, err := sql.Open("postgres", p.dsn)
	if err != nil {
		return fmt.Errorf("cache/postgres: open: %w", err)
	}
	if p.maxOpenConns > 0 {
		db.SetMaxOpenConns(p.maxOpenConns)
	}
	p.db = db

	_, err = db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS policy_cache (
			domain      TEXT PRIMARY KEY,
			ts          BIGINT NOT NULL,
			policy_id   TEXT NOT NULL,
			policy_body JSONB
		);
		CREATE TABLE IF NOT EXISTS meta (
			id                 INTEGER PRIMARY KEY CHECK (id = 1),
			proactive_fetch_ts BIGINT NOT NULL DEFAULT 0
		);
	`)
	return err
}

func (p *Postgres) Teardown(ctx context.Context) error {
	if p.db != nil {
		return p.db.Close()
	}
	return nil
}

func (p *Postgres) Get(ctx context.Context, key string) (Entry, bool, error) {
	var entry Entry
	var body []byte
	row := p.db.QueryRowContext(ctx,
		`SELECT ts, policy_id, policy_body FROM policy_cache WHERE domain = $1`, key)
	err := row.Scan(&entry.TS, &entry.PolicyID, &body)
	if errors.Is(err, sql.ErrNoRows) {
		return Entry{}, false, nil
	}
	if err != nil {
		return Entry{}, false, err
	}
	if len(body) > 0 {
		var pb resolver.PolicyBody
		if err := json.Unmarshal(body, &pb); err != nil {
			return Entry{}, false, err
		}
		entry.Body = &pb
	}
	return entry, true, nil
}

func (p *Postgres) Set(ctx context.Context, key string, entry Entry) error {
	var bodyJSON []byte
	if entry.Body != nil {
		b, err := json.Marshal(entry.Body)
		if err != nil {
			return err
		}
		bodyJSON = b
	}
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO policy_cache (domain, ts, policy_id, policy_body)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (domain) DO UPDATE SET
			ts = excluded.ts,
			policy_id = excluded.policy_id,
			policy_body = excluded.policy_body
		WHERE policy_cache.ts < excluded.ts
	`, key, entry.TS, entry.PolicyID, bodyJSON)
	return err
}

func (p *Postgres) SafeSet(ctx context.Context, key string, entry Entry) {
	if err := p.Set(ctx, key, entry); err != nil {
		log.Warnf("postgres cache: set failed for %q: %v", key, err)
	}
}

func (p *Postgres) Scan(ctx context.Context, token []byte, hint int) (Page, error) {
	if hint <= 0 {
		hint = 100
	}
	var lastDomain string
	if token != nil {
		lastDomain = string(token)
	}

	rows, err := p.db.QueryContext(ctx, `
		SELECT domain, ts, policy_id, policy_body FROM policy_cache
		WHERE domain > $1
		ORDER BY domain
		LIMIT $2
	`, lastDomain, hint)
	if err != nil {
		return Page{}, err
	}
	defer rows.Close()

	var page Page
	for rows.Next() {
		var key string
		var entry Entry
		var body []byte
		if err := rows.Scan(&key, &entry.TS, &entry.PolicyID, &body); err != nil {
			return Page{}, err
		}
		if len(body) > 0 {
			var pb resolver.PolicyBody
			if err := json.Unmarshal(body, &pb); err != nil {
				return Page{}, err
			}
			entry.Body = &pb
		}
		page.Items = append(page.Items, ScanItem{Key: key, Entry: entry})
		lastDomain = key
	}
	if err := rows.Err(); err != nil {
		return Page{}, err
	}
	if len(page.Items) == hint {
		page.NextToken = []byte(lastDomain)
	}
	return page, nil
}

func (p *Postgres) GetProactiveFetchTS(ctx context.Context) (time.Time, error) {
	var unix int64
	row := p.db.QueryRowContext(ctx, `SELECT proactive_fetch_ts FROM meta WHERE id = 1`)
	err := row.Scan(&unix)
	if errors.Is(err, sql.ErrNoRows) {
		return time.Time{}, nil
	}
	if err != nil {
		return time.Time{}, err
	}
	if unix == 0 {
		return time.Time{}, nil
	}
	return time.Unix(unix, 0), nil
}

func (p *Postgres) SetProactiveFetchTS(ctx context.Context, ts time.Time) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO meta (id, proactive_fetch_ts) VALUES (1, $1)
		ON CONFLICT (id) DO UPDATE SET proactive_fetch_ts = excluded.proactive_fetch_ts
	`, ts.Unix())
	return err
}
