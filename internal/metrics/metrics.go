// Package metrics exposes the daemon's Prometheus counters and histograms:
// cache hit/miss, resolver fetch outcome, and proactive-sweep progress.
// Carried as ambient observability per SPEC_FULL.md even though TLSRPT
// reporting itself is a non-goal.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// CacheLookups counts cache.Get outcomes, labeled "hit" or "miss".
	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mta_sts_cache_lookups_total",
			Help: "Policy cache lookups by outcome.",
		},
		[]string{"outcome"},
	)

	// ResolveOutcomes counts resolver.Resolve results, labeled by the
	// resulting Status string ("NONE", "VALID", "NOT_CHANGED",
	// "FETCH_ERROR").
	ResolveOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mta_sts_resolve_outcomes_total",
			Help: "STS resolver outcomes by status.",
		},
		[]string{"status"},
	)

	// ResolveDuration observes wall-clock time spent inside
	// resolver.Resolve, mirroring the corpus's get-duration histogram
	// pattern for DNS/HTTPS-backed lookups.
	ResolveDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mta_sts_resolve_duration_seconds",
			Help:    "STS resolver Resolve call duration, including DNS and HTTPS round trips.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 4, 8, 16},
		},
		[]string{"status"},
	)

	// Responses counts socketmap replies by shape ("ok", "notfound").
	Responses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mta_sts_responses_total",
			Help: "Socketmap responses sent, by shape.",
		},
		[]string{"shape"},
	)

	// ProactiveSweepDomains counts domains processed by the proactive
	// fetcher, labeled by the action taken ("refreshed", "not_changed",
	// "skipped", "failed").
	ProactiveSweepDomains = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mta_sts_proactive_sweep_domains_total",
			Help: "Domains processed by the proactive fetcher, by action.",
		},
		[]string{"action"},
	)

	// ProactiveSweepDuration observes the wall-clock time of one full
	// proactive sweep.
	ProactiveSweepDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "mta_sts_proactive_sweep_duration_seconds",
			Help:    "Duration of one proactive-fetch sweep over the whole cache.",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12),
		},
	)
)
