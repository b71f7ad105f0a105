// Package proactive implements the periodic cache-warming sweep of §4.5: a
// background task that walks the policy cache and re-resolves each cached
// domain ahead of its expiry, so the request path rarely blocks on a cold
// resolver call.
package proactive

import (
	"context"
	"sync"
	"time"

	"github.com/sts-resolver/daemon/internal/cache"
	"github.com/sts-resolver/daemon/internal/log"
	"github.com/sts-resolver/daemon/internal/metrics"
	"github.com/sts-resolver/daemon/internal/resolver"
)

// minInterval floors the inter-sweep sleep so a clock skew or a far-past
// recorded timestamp never causes a tight loop.
const minInterval = 1 * time.Second

// scanBatchHint sizes both the cache.Scan batch and the bounded producer
// channel, so the producer blocks exactly at the scan's own pacing instead
// of racing arbitrarily far ahead of the workers.
const scanBatchHint = 100

// Resolver is the subset of *resolver.Resolver the fetcher depends on.
type Resolver interface {
	Resolve(ctx context.Context, domain, lastKnownID string) (resolver.Status, *resolver.Result, error)
}

// Fetcher runs the periodic sweep described in §4.5.
type Fetcher struct {
	cache      cache.Cache
	resolver   Resolver
	interval   time.Duration
	concurrent int
	graceRatio float64

	cancel context.CancelFunc
	done   chan struct{}
}

// New builds a Fetcher. interval is the target time between sweep starts;
// concurrency bounds the worker pool each sweep starts; graceRatio is the
// fraction of interval below which a cached entry is skipped as
// "recently refreshed enough" (§4.5 step 3: now-cached.ts < interval/graceRatio).
func New(c cache.Cache, r Resolver, interval time.Duration, concurrency int, graceRatio float64) *Fetcher {
	return &Fetcher{
		cache:      c,
		resolver:   r,
		interval:   interval,
		concurrent: concurrency,
		graceRatio: graceRatio,
	}
}

// Start launches the periodic-sweep goroutine. Stop must be called to
// release it.
func (f *Fetcher) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	f.cancel = cancel
	f.done = make(chan struct{})
	go f.loop(ctx)
}

// Stop cancels the periodic task and awaits it; any sweep in progress
// honors cancellation at its next suspension point.
func (f *Fetcher) Stop() {
	if f.cancel == nil {
		return
	}
	f.cancel()
	<-f.done
}

func (f *Fetcher) loop(ctx context.Context) {
	defer close(f.done)
	for {
		lastFetch, err := f.cache.GetProactiveFetchTS(ctx)
		if err != nil {
			log.Warnf("proactive: get fetch ts failed: %v", err)
			lastFetch = time.Time{}
		}
		nextFetch := lastFetch.Add(f.interval)
		sleepFor := time.Until(nextFetch) + time.Second
		if sleepFor < minInterval {
			sleepFor = minInterval
		}

		log.Debugf("proactive: sleeping %s until next sweep", sleepFor)
		select {
		case <-ctx.Done():
			return
		case <-time.After(sleepFor):
		}

		if err := ctx.Err(); err != nil {
			return
		}
		f.sweep(ctx)
	}
}

// sweep performs one full pass over the cache: a producer feeds
// (domain, entry) pairs from cache.Scan onto a bounded channel sized to the
// scan batch, while a fixed pool of workers resolves and refreshes each.
func (f *Fetcher) sweep(ctx context.Context) {
	start := time.Now()
	log.Info("proactive: sweep started")

	items := make(chan cache.ScanItem, scanBatchHint)

	var wg sync.WaitGroup
	workers := f.concurrent
	if workers <= 0 {
		workers = 1
	}
	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			f.worker(ctx, items)
		}()
	}

	f.produce(ctx, items)
	wg.Wait()

	if err := f.cache.SetProactiveFetchTS(ctx, time.Now()); err != nil {
		log.Warnf("proactive: set fetch ts failed: %v", err)
	}
	metrics.ProactiveSweepDuration.Observe(time.Since(start).Seconds())
	log.Infof("proactive: sweep finished in %s", time.Since(start))
}

func (f *Fetcher) produce(ctx context.Context, items chan<- cache.ScanItem) {
	defer close(items)

	var token []byte
	for {
		page, err := f.cache.Scan(ctx, token, scanBatchHint)
		if err != nil {
			log.Warnf("proactive: scan failed: %v", err)
			return
		}
		for _, item := range page.Items {
			select {
			case items <- item:
			case <-ctx.Done():
				return
			}
		}
		if page.NextToken == nil {
			return
		}
		token = page.NextToken

		if ctx.Err() != nil {
			return
		}
	}
}

func (f *Fetcher) worker(ctx context.Context, items <-chan cache.ScanItem) {
	for {
		select {
		case item, ok := <-items:
			if !ok {
				return
			}
			f.refresh(ctx, item)
		case <-ctx.Done():
			return
		}
	}
}

// refresh re-resolves one cached domain, subject to the grace-ratio skip,
// and writes the result back per §4.5 step 3.
func (f *Fetcher) refresh(ctx context.Context, item cache.ScanItem) {
	now := time.Now()
	if f.graceRatio > 0 {
		minGap := time.Duration(float64(f.interval) / f.graceRatio)
		if now.Sub(time.Unix(item.Entry.TS, 0)) < minGap {
			metrics.ProactiveSweepDomains.WithLabelValues("skipped").Inc()
			return
		}
	}

	status, result, err := f.resolver.Resolve(ctx, item.Key, item.Entry.PolicyID)
	switch status {
	case resolver.StatusValid:
		f.cache.SafeSet(ctx, item.Key, cache.Entry{TS: now.Unix(), PolicyID: result.ID, Body: result.Body})
		metrics.ProactiveSweepDomains.WithLabelValues("refreshed").Inc()
	case resolver.StatusNotChanged:
		f.cache.SafeSet(ctx, item.Key, cache.Entry{TS: now.Unix(), PolicyID: item.Entry.PolicyID, Body: item.Entry.Body})
		metrics.ProactiveSweepDomains.WithLabelValues("not_changed").Inc()
	default:
		if err != nil {
			log.Debugf("proactive: resolve failed for %q: %v", item.Key, err)
		}
		metrics.ProactiveSweepDomains.WithLabelValues("failed").Inc()
	}
}
