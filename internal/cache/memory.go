package cache

import (
	"context"
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/sts-resolver/daemon/internal/log"
)

// unboundedCapacity backs a Memory cache configured with capacity<=0: no
// eviction, just the occasional huge hlru.Cache allocation-free until it is
// actually filled.
const unboundedCapacity = 1 << 30

// Memory is the in-process, capacity-bounded LRU backend. It is the
// simplest of the four cache backends and needs no external service; eviction
// and recency tracking are delegated to hashicorp/golang-lru/v2 (the
// retrieval pack's own in-process LRU, e.g. sshaplygin-as-cache's
// hlru.New[string, string]) rather than a hand-rolled container/list, since
// that hand-rolled version is also where Scan's cursor bug below lived.
type Memory struct {
	mu      sync.Mutex
	ll      *lru.Cache[string, Entry]
	fetchTS time.Time
}

// NewMemory returns an LRU cache bounded to capacity entries; capacity<=0
// means unbounded.
func NewMemory(capacity int) *Memory {
	if capacity <= 0 {
		capacity = unboundedCapacity
	}
	c, _ := lru.New[string, Entry](capacity)
	return &Memory{ll: c}
}

func (m *Memory) Setup(ctx context.Context) error    { return nil }
func (m *Memory) Teardown(ctx context.Context) error { return nil }

func (m *Memory) Get(ctx context.Context, key string) (Entry, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	entry, ok := m.ll.Get(key)
	return entry, ok, nil
}

func (m *Memory) Set(ctx context.Context, key string, entry Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.setLocked(key, entry)
	return nil
}

func (m *Memory) setLocked(key string, entry Entry) {
	if existing, ok := m.ll.Peek(key); ok && existing.TS >= entry.TS {
		// write-newest-wins: a stale write loses, but still counts as a
		// touch (Get() promotes without changing the stored value).
		m.ll.Get(key)
		return
	}
	m.ll.Add(key, entry)
}

func (m *Memory) SafeSet(ctx context.Context, key string, entry Entry) {
	if err := m.Set(ctx, key, entry); err != nil {
		log.Warnf("memory cache: set failed for %q: %v", key, err)
	}
}

// Scan returns entries in ascending key order, the same stable cursor scheme
// sqlite.go/postgres.go/redis.go use (resume from the last key returned),
// rather than a position in the LRU's recency ordering: that ordering is
// mutated by Get/Set as a cache runs, so a position-based cursor silently
// drops or repeats entries across pages. Scan reads each entry via Get, so
// every scanned key is promoted to most recently used.
func (m *Memory) Scan(ctx context.Context, token []byte, hint int) (Page, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if hint <= 0 {
		hint = 100
	}
	lastKey := ""
	if token != nil {
		lastKey = string(token)
	}

	keys := m.ll.Keys()
	sort.Strings(keys)

	start := sort.SearchStrings(keys, lastKey)
	if start < len(keys) && keys[start] == lastKey {
		start++
	}
	end := start + hint
	if end > len(keys) {
		end = len(keys)
	}

	items := make([]ScanItem, 0, end-start)
	for _, key := range keys[start:end] {
		if entry, ok := m.ll.Get(key); ok {
			items = append(items, ScanItem{Key: key, Entry: entry})
		}
	}

	var next []byte
	if end < len(keys) {
		next = []byte(keys[end-1])
	}

	return Page{NextToken: next, Items: items}, nil
}

func (m *Memory) GetProactiveFetchTS(ctx context.Context) (time.Time, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fetchTS, nil
}

func (m *Memory) SetProactiveFetchTS(ctx context.Context, ts time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fetchTS = ts
	return nil
}

// Len returns the current number of entries, used by tests to assert the
// LRU capacity bound.
func (m *Memory) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ll.Len()
}
