package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/sts-resolver/daemon/internal/resolver"
)

func TestEntry_StaleByGrace(t *testing.T) {
	now := time.Unix(10_000, 0)
	e := &Entry{TS: 10_000 - 120, Body: &resolver.PolicyBody{MaxAge: 86400}}
	assert.True(t, e.Stale(now, 60*time.Second))
}

func TestEntry_StaleByMaxAge(t *testing.T) {
	now := time.Unix(10_000, 0)
	e := &Entry{TS: 10_000 - 10, Body: &resolver.PolicyBody{MaxAge: 5}}
	assert.True(t, e.Stale(now, 60*time.Second))
}

func TestEntry_NotStale(t *testing.T) {
	now := time.Unix(10_000, 0)
	e := &Entry{TS: 10_000 - 10, Body: &resolver.PolicyBody{MaxAge: 86400}}
	assert.False(t, e.Stale(now, 60*time.Second))
}

func TestEntry_NilIsStale(t *testing.T) {
	var e *Entry
	assert.True(t, e.Stale(time.Now(), time.Minute))
}

func TestEntry_NilBodyIsStale(t *testing.T) {
	now := time.Unix(10_000, 0)
	e := &Entry{TS: 10_000 - 1}
	assert.True(t, e.Stale(now, 60*time.Second))
}

func TestEntry_Expired(t *testing.T) {
	now := time.Unix(10_000, 0)
	fresh := &Entry{TS: 10_000 - 10, Body: &resolver.PolicyBody{MaxAge: 86400}}
	assert.False(t, fresh.Expired(now))

	stale := &Entry{TS: 10_000 - 100, Body: &resolver.PolicyBody{MaxAge: 5}}
	assert.True(t, stale.Expired(now))
}
