// Package config loads the daemon's YAML configuration (§6) into the
// concrete types internal/responder, internal/cache, and internal/proactive
// build from: listening surface, cache backend selection, the default zone,
// and any named zones.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v2"

	"github.com/sts-resolver/daemon/internal/cache"
	"github.com/sts-resolver/daemon/internal/resolver"
)

// Defaults mirror the original daemon's defaults.py, translated to Go
// duration/bool/int types.
const (
	DefaultHost            = "127.0.0.1"
	DefaultPort            = 8461
	DefaultReusePort       = true
	DefaultShutdownTimeout = 20 * time.Second
	DefaultCacheGrace      = 60 * time.Second
	DefaultTimeout         = 4 * time.Second
	DefaultStrictTesting   = false
	DefaultRequireSNI      = true
	DefaultCacheType       = "internal"
	DefaultInternalSize    = 10000

	DefaultProactiveInterval    = 86400 * time.Second
	DefaultProactiveConcurrency = 100
	DefaultProactiveGraceRatio  = 2.0

	DefaultUserAgent = "mta-sts-resolverd"
)

// ZoneFields is the YAML shape shared by default_zone and each entry of
// zones; Config.Zone resolves it against the defaults of the zone it falls
// back to.
type ZoneFields struct {
	Timeout       *int  `yaml:"timeout"`
	StrictTesting *bool `yaml:"strict_testing"`
	RequireSNI    *bool `yaml:"require_sni"`
}

// ProactiveConfig is the YAML "proactive_policy_fetching" block.
type ProactiveConfig struct {
	Enabled          bool    `yaml:"enabled"`
	Interval         int     `yaml:"interval"`
	ConcurrencyLimit int     `yaml:"concurrency_limit"`
	GraceRatio       float64 `yaml:"grace_ratio"`
}

// CacheConfig is the YAML "cache" block: backend type plus its
// backend-specific options, passed through to cache.New verbatim.
type CacheConfig struct {
	Type    string        `yaml:"type"`
	Options CacheOptionsY `yaml:"options"`
}

// CacheOptionsY is the YAML form of cache.Options; field names match the
// union of every backend's options so one YAML map covers all four.
type CacheOptionsY struct {
	Capacity       int    `yaml:"capacity"`
	Path           string `yaml:"path"`
	DSN            string `yaml:"dsn"`
	PoolSize       int    `yaml:"pool_size"`
	AcquireTimeout int    `yaml:"acquire_timeout"`
	Address        string `yaml:"address"`
	Password       string `yaml:"password"`
	DB             int    `yaml:"db"`
	Prefix         string `yaml:"prefix"`
}

// Config is the top-level YAML document, §6.
type Config struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
	Path string `yaml:"path"`
	Mode string `yaml:"mode"`

	// DNSServer is the "host:port" resolver to query; empty means resolve
	// it from the system's /etc/resolv.conf at startup (see
	// resolver.SystemDNSServer).
	DNSServer string `yaml:"dns_server"`

	ReusePort       bool `yaml:"reuse_port"`
	ShutdownTimeout int  `yaml:"shutdown_timeout"`
	CacheGrace      int  `yaml:"cache_grace"`

	ProactivePolicyFetching ProactiveConfig `yaml:"proactive_policy_fetching"`
	Cache                   CacheConfig     `yaml:"cache"`

	DefaultZone ZoneFields            `yaml:"default_zone"`
	Zones       map[string]ZoneFields `yaml:"zones"`

	UserAgent string `yaml:"user_agent"`
}

// Load reads and parses the YAML config at path, filling in every default
// from §6 for omitted keys.
func Load(path string) (*Config, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}

// Default returns a Config populated with every §6 default, as if an empty
// YAML document had been loaded.
func Default() *Config {
	return &Config{
		Host:            DefaultHost,
		Port:            DefaultPort,
		ReusePort:       DefaultReusePort,
		ShutdownTimeout: int(DefaultShutdownTimeout.Seconds()),
		CacheGrace:      int(DefaultCacheGrace.Seconds()),
		ProactivePolicyFetching: ProactiveConfig{
			Enabled:          false,
			Interval:         int(DefaultProactiveInterval.Seconds()),
			ConcurrencyLimit: DefaultProactiveConcurrency,
			GraceRatio:       DefaultProactiveGraceRatio,
		},
		Cache: CacheConfig{Type: DefaultCacheType},
		DefaultZone: ZoneFields{
			Timeout:       intPtr(int(DefaultTimeout.Seconds())),
			StrictTesting: boolPtr(DefaultStrictTesting),
			RequireSNI:    boolPtr(DefaultRequireSNI),
		},
		UserAgent: DefaultUserAgent,
	}
}

func intPtr(v int) *int    { return &v }
func boolPtr(v bool) *bool { return &v }

// ShutdownTimeoutDuration, CacheGraceDuration convert the integer-seconds
// YAML fields to time.Duration for the responder/proactive constructors.
func (c *Config) ShutdownTimeoutDuration() time.Duration {
	return time.Duration(c.ShutdownTimeout) * time.Second
}

func (c *Config) CacheGraceDuration() time.Duration {
	return time.Duration(c.CacheGrace) * time.Second
}

// ProactiveIntervalDuration converts the proactive-fetch interval.
func (c *Config) ProactiveIntervalDuration() time.Duration {
	return time.Duration(c.ProactivePolicyFetching.Interval) * time.Second
}

// CacheOptions converts the YAML cache.options block into cache.Options.
func (c *Config) CacheOptions() cache.Options {
	o := c.Cache.Options
	return cache.Options{
		Capacity:       o.Capacity,
		Path:           o.Path,
		DSN:            o.DSN,
		PoolSize:       o.PoolSize,
		AcquireTimeout: time.Duration(o.AcquireTimeout) * time.Second,
		Address:        o.Address,
		Password:       o.Password,
		DB:             o.DB,
		Prefix:         o.Prefix,
	}
}

// resolveZone merges a named zone's fields over the default zone's,
// falling back to the package defaults for any field the default zone
// itself omitted.
func resolveZone(fields, base ZoneFields) ZoneFields {
	out := base
	if fields.Timeout != nil {
		out.Timeout = fields.Timeout
	}
	if fields.StrictTesting != nil {
		out.StrictTesting = fields.StrictTesting
	}
	if fields.RequireSNI != nil {
		out.RequireSNI = fields.RequireSNI
	}
	return out
}

// ResolvedZone is a fully-defaulted zone ready to build a *resolver.Resolver
// and responder.Zone from.
type ResolvedZone struct {
	Name          string
	Timeout       time.Duration
	StrictTesting bool
	RequireSNI    bool
}

// Zone resolves the zone named name against default_zone, applying §6
// defaults for any field present in neither.
func (c *Config) Zone(name string) ResolvedZone {
	base := resolveZone(c.DefaultZone, ZoneFields{
		Timeout:       intPtr(int(DefaultTimeout.Seconds())),
		StrictTesting: boolPtr(DefaultStrictTesting),
		RequireSNI:    boolPtr(DefaultRequireSNI),
	})
	fields := resolveZone(c.Zones[name], base)
	return ResolvedZone{
		Name:          name,
		Timeout:       time.Duration(*fields.Timeout) * time.Second,
		StrictTesting: *fields.StrictTesting,
		RequireSNI:    *fields.RequireSNI,
	}
}

// ResolvedDNSServer returns the configured dns_server, or the system
// resolver read from /etc/resolv.conf if that key was omitted — every
// resolver.New call site must use this instead of the raw DNSServer field,
// since an empty address fails to dial (§4.3).
func (c *Config) ResolvedDNSServer() string {
	if c.DNSServer != "" {
		return c.DNSServer
	}
	return resolver.SystemDNSServer(resolver.DefaultResolvConfPath)
}

// ZoneNames returns every configured zone name, excluding the default.
func (c *Config) ZoneNames() []string {
	names := make([]string, 0, len(c.Zones))
	for name := range c.Zones {
		names = append(names, name)
	}
	return names
}
