// Package cache defines the pluggable policy-cache abstraction and its four
// backends: in-memory LRU, embedded sqlite, external Valkey/Redis, and
// external PostgreSQL.
package cache

import (
	"context"
	"time"

	"github.com/sts-resolver/daemon/internal/resolver"
)

// Entry is a cached policy, keyed by domain in every backend.
//
// Invariants: TS >= 0; PolicyID is the "id=" field from the last valid
// TXT record; Body is nil only for entries produced by a NOT_CHANGED
// refresh whose prior body was already nil.
type Entry struct {
	TS       int64
	PolicyID string
	Body     *resolver.PolicyBody
}

// Stale reports whether e should trigger a refresh: missing, older than
// cacheGrace, or past its own max_age.
func (e *Entry) Stale(now time.Time, cacheGrace time.Duration) bool {
	if e == nil {
		return true
	}
	nowUnix := now.Unix()
	if nowUnix-e.TS > int64(cacheGrace.Seconds()) {
		return true
	}
	if e.Body == nil {
		return true
	}
	if e.TS+int64(e.Body.MaxAge) < nowUnix {
		return true
	}
	return false
}

// Expired reports whether e can no longer serve as a fallback when a
// refresh attempt fails: it is expired once now has passed TS+MaxAge, and a
// nil entry or nil Body counts as expired.
func (e *Entry) Expired(now time.Time) bool {
	if e == nil || e.Body == nil {
		return true
	}
	return now.Unix() > e.TS+int64(e.Body.MaxAge)
}

// Page is one batch returned by Scan: a checkpoint token for the next call
// (nil denotes end-of-scan) and the (key, entry) pairs in this batch.
type Page struct {
	NextToken []byte
	Items     []ScanItem
}

// ScanItem is one (domain, entry) pair surfaced by Scan.
type ScanItem struct {
	Key   string
	Entry Entry
}

// Cache is the uniform backend interface. Implementations must honor the
// write-newest-wins contract for Set/SafeSet and must make Get safe to call
// concurrently with Set on the same key.
type Cache interface {
	Setup(ctx context.Context) error
	Teardown(ctx context.Context) error

	// Get returns the last value written for key, or (Entry{}, false) if
	// absent.
	Get(ctx context.Context, key string) (Entry, bool, error)

	// Set persists entry for key. If an existing entry for key has a
	// newer or equal TS, the write is a no-op (write-newest-wins).
	Set(ctx context.Context, key string, entry Entry) error

	// SafeSet is identical to Set but swallows and logs any error instead
	// of propagating it, since a cache-write failure must not fail the
	// request being served.
	SafeSet(ctx context.Context, key string, entry Entry)

	// Scan returns the next batch of a checkpointed iteration. token is
	// nil to start a new scan; a nil NextToken in the returned Page marks
	// end-of-scan. hint is a batch-size hint, not a hard cap.
	Scan(ctx context.Context, token []byte, hint int) (Page, error)

	GetProactiveFetchTS(ctx context.Context) (time.Time, error)
	SetProactiveFetchTS(ctx context.Context, ts time.Time) error
}
