package proactive

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sts-resolver/daemon/internal/cache"
	"github.com/sts-resolver/daemon/internal/resolver"
)

// fakeCache is a minimal in-memory cache.Cache stub for sweep tests.
type fakeCache struct {
	mu      sync.Mutex
	entries map[string]cache.Entry
	fetchTS time.Time
}

func newFakeCache(entries map[string]cache.Entry) *fakeCache {
	return &fakeCache{entries: entries}
}

func (f *fakeCache) Setup(ctx context.Context) error    { return nil }
func (f *fakeCache) Teardown(ctx context.Context) error { return nil }

func (f *fakeCache) Get(ctx context.Context, key string) (cache.Entry, bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.entries[key]
	return e, ok, nil
}

func (f *fakeCache) Set(ctx context.Context, key string, entry cache.Entry) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.entries[key] = entry
	return nil
}

func (f *fakeCache) SafeSet(ctx context.Context, key string, entry cache.Entry) {
	_ = f.Set(ctx, key, entry)
}

func (f *fakeCache) Scan(ctx context.Context, token []byte, hint int) (cache.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if token != nil {
		return cache.Page{}, nil
	}
	var items []cache.ScanItem
	for k, v := range f.entries {
		items = append(items, cache.ScanItem{Key: k, Entry: v})
	}
	return cache.Page{Items: items}, nil
}

func (f *fakeCache) GetProactiveFetchTS(ctx context.Context) (time.Time, error) {
	return f.fetchTS, nil
}

func (f *fakeCache) SetProactiveFetchTS(ctx context.Context, ts time.Time) error {
	f.fetchTS = ts
	return nil
}

// fakeResolver records the domains it was asked to resolve and returns a
// canned status for each.
type fakeResolver struct {
	mu      sync.Mutex
	calls   []string
	status  resolver.Status
	result  *resolver.Result
}

func (r *fakeResolver) Resolve(ctx context.Context, domain, lastKnownID string) (resolver.Status, *resolver.Result, error) {
	r.mu.Lock()
	r.calls = append(r.calls, domain)
	r.mu.Unlock()
	return r.status, r.result, nil
}

func TestSweep_RefreshesStaleEntry(t *testing.T) {
	old := time.Now().Add(-2 * time.Hour).Unix()
	c := newFakeCache(map[string]cache.Entry{
		"example.com": {TS: old, PolicyID: "v1"},
	})
	r := &fakeResolver{
		status: resolver.StatusValid,
		result: &resolver.Result{ID: "v2", Body: &resolver.PolicyBody{Version: "STSv1", Mode: resolver.ModeEnforce, MaxAge: 86400, MX: []string{"mail.example.com"}}},
	}

	f := New(c, r, time.Hour, 4, 2.0)
	f.sweep(context.Background())

	assert.Contains(t, r.calls, "example.com")
	updated, ok, _ := c.Get(context.Background(), "example.com")
	assert.True(t, ok)
	assert.Equal(t, "v2", updated.PolicyID)
}

func TestSweep_SkipsRecentlyRefreshed(t *testing.T) {
	recent := time.Now().Unix()
	c := newFakeCache(map[string]cache.Entry{
		"fresh.com": {TS: recent, PolicyID: "v1"},
	})
	r := &fakeResolver{status: resolver.StatusValid}

	f := New(c, r, time.Hour, 4, 2.0)
	f.sweep(context.Background())

	assert.NotContains(t, r.calls, "fresh.com")
}

func TestSweep_SetsProactiveFetchTS(t *testing.T) {
	c := newFakeCache(map[string]cache.Entry{})
	r := &fakeResolver{status: resolver.StatusNone}

	f := New(c, r, time.Hour, 2, 2.0)
	before := time.Now()
	f.sweep(context.Background())

	assert.True(t, !c.fetchTS.Before(before))
}

func TestStartStop_CancelsLoop(t *testing.T) {
	c := newFakeCache(map[string]cache.Entry{})
	r := &fakeResolver{status: resolver.StatusNone}

	f := New(c, r, time.Hour, 2, 2.0)
	f.Start(context.Background())
	f.Stop()
}
