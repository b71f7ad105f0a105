package cache

import (
	"fmt"
	"time"
)

// Options carries the backend-specific settings from the YAML
// "cache.options" config block. Unused fields for a given backend type are
// ignored.
type Options struct {
	// internal (LRU)
	Capacity int

	// sqlite / postgres
	Path           string
	DSN            string
	PoolSize       int
	AcquireTimeout time.Duration

	// redis
	Address  string
	Password string
	DB       int
	Prefix   string
}

// New builds the Cache backend named by typ ("internal", "sqlite",
// "redis", "postgres"), as configured by the cache.type configuration key.
func New(typ string, opts Options) (Cache, error) {
	switch typ {
	case "", "internal":
		capacity := opts.Capacity
		if capacity <= 0 {
			capacity = 10000
		}
		return NewMemory(capacity), nil
	case "sqlite":
		poolSize := opts.PoolSize
		if poolSize <= 0 {
			poolSize = 4
		}
		return NewSQLite(opts.Path, poolSize, opts.AcquireTimeout), nil
	case "redis":
		prefix := opts.Prefix
		if prefix == "" {
			prefix = "STS-"
		}
		return NewRedis(opts.Address, opts.Password, opts.DB, prefix)
	case "postgres":
		return NewPostgres(opts.DSN, opts.PoolSize), nil
	default:
		return nil, fmt.Errorf("cache: unknown backend type %q", typ)
	}
}
