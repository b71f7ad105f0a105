// Package responder implements the socketmap line-protocol server: a
// listener that spawns a reader/sender goroutine pair per connection,
// preserving response ordering while overlapping resolves, and consulting
// the cache/resolver to answer each request.
package responder

import (
	"context"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/sts-resolver/daemon/internal/cache"
	"github.com/sts-resolver/daemon/internal/log"
	"github.com/sts-resolver/daemon/internal/metrics"
	"github.com/sts-resolver/daemon/internal/netstring"
	"github.com/sts-resolver/daemon/internal/resolver"
)

// maxRequestLen bounds the netstring payload length the responder will
// accept: a few KiB is ample for "<zone> <domain>".
const maxRequestLen = 4096

// connQueueDepth bounds per-connection in-flight requests: the reader
// blocks once this many responses are queued but not yet written.
const connQueueDepth = 100

// Responder is the socketmap server. One Responder owns one listener and
// the cache shared with the proactive fetcher.
type Responder struct {
	listener   net.Listener
	zones      *ZoneSet
	cache      cache.Cache
	cacheGrace time.Duration

	shutdownTimeout time.Duration

	mu       sync.Mutex
	conns    map[net.Conn]struct{}
	stopping bool
}

// New wraps an already-bound listener. zones selects per-request resolver
// settings; c is shared with any proactive fetcher.
func New(listener net.Listener, zones *ZoneSet, c cache.Cache, cacheGrace, shutdownTimeout time.Duration) *Responder {
	return &Responder{
		listener:        listener,
		zones:           zones,
		cache:           c,
		cacheGrace:      cacheGrace,
		shutdownTimeout: shutdownTimeout,
		conns:           make(map[net.Conn]struct{}),
	}
}

// Serve accepts connections until the listener is closed by Stop.
func (r *Responder) Serve() {
	for {
		conn, err := r.listener.Accept()
		if err != nil {
			r.mu.Lock()
			stopping := r.stopping
			r.mu.Unlock()
			if stopping {
				return
			}
			log.Warnf("responder: accept error: %v", err)
			continue
		}
		r.track(conn)
		go r.handleConn(conn)
	}
}

func (r *Responder) track(conn net.Conn) {
	r.mu.Lock()
	r.conns[conn] = struct{}{}
	r.mu.Unlock()
}

func (r *Responder) untrack(conn net.Conn) {
	r.mu.Lock()
	delete(r.conns, conn)
	r.mu.Unlock()
}

// pendingResponse couples a request's eventual reply with its position in
// the connection's request order.
type pendingResponse struct {
	done chan struct{}
	data []byte
}

// handleConn splits connection handling into a reader and a sender: the
// reader feeds the netstring decoder and, for each completed request,
// starts a request task whose future is enqueued on a bounded FIFO; the
// sender drains that FIFO in order, so response ordering equals request
// ordering even though requests may resolve out of order.
func (r *Responder) handleConn(conn net.Conn) {
	defer r.untrack(conn)
	defer conn.Close()

	queue := make(chan *pendingResponse, connQueueDepth)
	senderDone := make(chan struct{})

	go func() {
		defer close(senderDone)
		for p := range queue {
			<-p.done
			if p.data == nil {
				return
			}
			if _, err := conn.Write(p.data); err != nil {
				return
			}
		}
	}()

	dec := netstring.NewDecoder(conn, maxRequestLen)
	for {
		payload, err := dec.Decode()
		if err != nil {
			close(queue)
			break
		}

		resp := &pendingResponse{done: make(chan struct{})}
		queue <- resp
		go func(raw string) {
			resp.data = netstring.Encode([]byte(r.process(raw)))
			close(resp.done)
		}(string(payload))
	}

	<-senderDone
}

// process runs the request-processing pipeline, returning the unframed
// reply text (e.g. "NOTFOUND ", "OK secure match=...").
func (r *Responder) process(raw string) string {
	defer func() {
		if rec := recover(); rec != nil {
			log.Errorf("responder: panic while processing request: %v", rec)
		}
	}()

	zoneName, domainRaw, ok := splitRequest(raw)
	if !ok {
		return "NOTFOUND "
	}

	domain := NormalizeDomain(domainRaw)
	if IsShortCircuited(domain) {
		return "NOTFOUND "
	}

	zone := r.zones.Select(zoneName)

	ctx, cancel := context.WithTimeout(context.Background(), zone.Timeout)
	defer cancel()

	body := r.resolvePolicy(ctx, zone, domain)
	reply := formatReply(body, zone)
	if strings.HasPrefix(reply, "OK ") {
		metrics.Responses.WithLabelValues("ok").Inc()
	} else {
		metrics.Responses.WithLabelValues("notfound").Inc()
	}
	return reply
}

func splitRequest(raw string) (zone, domain string, ok bool) {
	idx := strings.IndexByte(raw, ' ')
	if idx < 0 {
		return "", "", false
	}
	return raw[:idx], raw[idx+1:], true
}

// resolvePolicy consults the cache and, if stale, the resolver, applying
// the cache-action/serve rules below. It returns the PolicyBody to serve,
// or nil when no policy is available.
func (r *Responder) resolvePolicy(ctx context.Context, zone *Zone, domain string) *resolver.PolicyBody {
	now := time.Now()
	cached, hit, err := r.cache.Get(ctx, domain)
	if err != nil {
		log.Warnf("responder: cache get failed for %q: %v", domain, err)
		hit = false
	}

	var cachedEntry *cache.Entry
	if hit {
		cachedEntry = &cached
	}

	if !cachedEntry.Stale(now, r.cacheGrace) {
		metrics.CacheLookups.WithLabelValues("hit").Inc()
		return cachedEntry.Body
	}
	metrics.CacheLookups.WithLabelValues("miss").Inc()

	lastKnownID := ""
	if cachedEntry != nil {
		lastKnownID = cachedEntry.PolicyID
	}

	start := time.Now()
	status, result, _ := zone.Resolver.Resolve(ctx, domain, lastKnownID)
	metrics.ResolveOutcomes.WithLabelValues(status.String()).Inc()
	metrics.ResolveDuration.WithLabelValues(status.String()).Observe(time.Since(start).Seconds())

	switch status {
	case resolver.StatusValid:
		entry := cache.Entry{TS: now.Unix(), PolicyID: result.ID, Body: result.Body}
		r.cache.SafeSet(ctx, domain, entry)
		return result.Body

	case resolver.StatusNotChanged:
		var body *resolver.PolicyBody
		policyID := ""
		if cachedEntry != nil {
			body = cachedEntry.Body
			policyID = cachedEntry.PolicyID
		}
		r.cache.SafeSet(ctx, domain, cache.Entry{TS: now.Unix(), PolicyID: policyID, Body: body})
		return body

	default: // FETCH_ERROR or NONE
		if cachedEntry != nil && !cachedEntry.Expired(now) {
			return cachedEntry.Body
		}
		return nil
	}
}

// formatReply renders the cached policy as a socketmap reply.
func formatReply(body *resolver.PolicyBody, zone *Zone) string {
	if body == nil {
		return "NOTFOUND "
	}
	if body.Mode == resolver.ModeNone {
		return "NOTFOUND "
	}
	if body.Mode == resolver.ModeTesting && !zone.StrictTesting {
		return "NOTFOUND "
	}

	mx := body.MatchingMX()
	reply := "OK secure match=" + strings.Join(mx, ":")
	if zone.RequireSNI {
		reply += " servername=hostname"
	}
	return reply
}

// Stop closes the listener, then waits for outstanding connections to
// drain, force-closing any remaining after shutdownTimeout. Once
// connections have drained, the cache is torn down.
func (r *Responder) Stop(ctx context.Context) error {
	r.mu.Lock()
	r.stopping = true
	r.mu.Unlock()

	r.listener.Close()

	deadline := time.Now().Add(r.shutdownTimeout)
	for time.Now().Before(deadline) {
		if r.activeConns() == 0 {
			break
		}
		time.Sleep(50 * time.Millisecond)
	}

	r.mu.Lock()
	remaining := make([]net.Conn, 0, len(r.conns))
	for c := range r.conns {
		remaining = append(remaining, c)
	}
	r.mu.Unlock()
	for _, c := range remaining {
		c.Close()
	}

	return r.cache.Teardown(ctx)
}

func (r *Responder) activeConns() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.conns)
}
