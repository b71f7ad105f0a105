package responder

import (
	"context"
	"time"

	"github.com/sts-resolver/daemon/internal/resolver"
)

// Resolver is the subset of *resolver.Resolver the responder depends on,
// narrowed to an interface so tests can substitute a stub instead of
// driving real DNS/HTTPS traffic.
type Resolver interface {
	Resolve(ctx context.Context, domain, lastKnownID string) (resolver.Status, *resolver.Result, error)
}

// Zone is an immutable per-zone policy: strict-testing flag, a resolver
// instance built with this zone's timeout, require-SNI flag. One Zone is
// built per configured zone (plus "default"), and selected per request by
// the request's leading token.
type Zone struct {
	Name          string
	StrictTesting bool
	RequireSNI    bool
	Timeout       time.Duration
	Resolver      Resolver
}

// ZoneSet holds every configured zone plus the default, selected by exact
// name match with a fall back to default.
type ZoneSet struct {
	zones   map[string]*Zone
	Default *Zone
}

func NewZoneSet(def *Zone, named map[string]*Zone) *ZoneSet {
	return &ZoneSet{zones: named, Default: def}
}

// Select returns the zone named, or the default zone if name is empty or
// unknown.
func (zs *ZoneSet) Select(name string) *Zone {
	if zone, ok := zs.zones[name]; ok {
		return zone
	}
	return zs.Default
}
