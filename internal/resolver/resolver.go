// Package resolver implements the MTA-STS domain-to-policy state machine of
// RFC 8461: DNS TXT discovery, id-based change detection, and the HTTPS
// policy fetch and parse.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/miekg/dns"
	"golang.org/x/net/idna"
	"golang.org/x/text/encoding/htmlindex"

	"github.com/sts-resolver/daemon/internal/log"
)

// Status is the closed set of outcomes a Resolve call can report.
type Status int

const (
	StatusNone Status = iota
	StatusValid
	StatusNotChanged
	StatusFetchError
)

func (s Status) String() string {
	switch s {
	case StatusNone:
		return "NONE"
	case StatusValid:
		return "VALID"
	case StatusNotChanged:
		return "NOT_CHANGED"
	case StatusFetchError:
		return "FETCH_ERROR"
	default:
		return "UNKNOWN"
	}
}

// Policy-shape errors returned by ParseAndValidatePolicy.
var (
	ErrUnknownVersion = errors.New("resolver: unknown policy version")
	ErrInvalidMaxAge  = errors.New("resolver: invalid max_age")
	ErrInvalidMode    = errors.New("resolver: invalid mode")
	ErrInvalidMX      = errors.New("resolver: invalid mx")
	// ErrInvalidMediaType is a fetch error: the response's Content-Type
	// media type was not text/plain.
	ErrInvalidMediaType = errors.New("resolver: response media type is not text/plain")
)

// maxPolicyBodyBytes is the hard limit on the fetched HTTPS response body.
const maxPolicyBodyBytes = 64 * 1024

// Result is the (policy_id, policy_body) pair returned on StatusValid and
// StatusNotChanged.
type Result struct {
	ID   string
	Body *PolicyBody
}

// Resolver is stateless across calls: it holds a DNS client and an HTTPS
// client timeout fixed at construction. One Resolver is built per zone
// (internal/config), since each zone may choose a different timeout.
type Resolver struct {
	dnsClient  *dns.Client
	dnsServer  string
	httpClient *http.Client
	timeout    time.Duration
	userAgent  string
}

// DefaultResolvConfPath is the system resolver config SystemDNSServer reads
// when no DNS server is configured explicitly (§6 dns_server).
const DefaultResolvConfPath = "/etc/resolv.conf"

// SystemDNSServer reads path the way the system resolver would (via
// miekg/dns's own /etc/resolv.conf parser, the same library New's caller
// already depends on for the TXT query) and returns its first nameserver as
// a "host:port" address suitable for dns.Client.Exchange. It falls back to
// "127.0.0.1:53" if the file is missing, empty, or unparsable.
func SystemDNSServer(path string) string {
	cc, err := dns.ClientConfigFromFile(path)
	if err != nil || cc == nil || len(cc.Servers) == 0 {
		return "127.0.0.1:53"
	}
	port := cc.Port
	if port == "" {
		port = "53"
	}
	return net.JoinHostPort(cc.Servers[0], port)
}

// New builds a Resolver with the given per-zone timeout, applied both to
// the DNS query and the HTTPS fetch. dnsServer is the resolver to query in
// "host:port" form; callers that have no configured dns_server should pass
// SystemDNSServer(DefaultResolvConfPath) rather than an empty string, since
// dns.Client.Exchange dials dnsServer literally and an empty address fails
// to dial.
func New(dnsServer string, timeout time.Duration, userAgent string) *Resolver {
	return &Resolver{
		dnsClient: &dns.Client{Timeout: timeout},
		dnsServer: dnsServer,
		httpClient: &http.Client{
			Timeout: timeout,
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
			Transport: &http.Transport{
				Proxy: http.ProxyFromEnvironment,
			},
		},
		timeout:   timeout,
		userAgent: userAgent,
	}
}

// Resolve runs discovery, change detection, and policy fetch/validation
// once for domain, given the policy id last cached for it (empty if none).
func (r *Resolver) Resolve(ctx context.Context, domain, lastKnownID string) (Status, *Result, error) {
	// Domain sanitize.
	if strings.HasPrefix(domain, ".") {
		return StatusNone, nil, nil
	}
	domain = strings.TrimSuffix(domain, ".")

	asciiDomain, err := idna.ToASCII(domain)
	if err != nil {
		return StatusNone, nil, nil
	}

	// TXT query, record selection, record parse.
	id, status, err := r.queryTXT(ctx, asciiDomain)
	if status != StatusValid {
		return status, nil, err
	}

	// Change detection: the same id as last time means the cached policy
	// is still current.
	if lastKnownID != "" && id == lastKnownID {
		return StatusNotChanged, &Result{ID: id}, nil
	}

	// HTTPS fetch.
	body, err := r.fetchPolicy(ctx, asciiDomain)
	if err != nil {
		log.Debugf("mta-sts: policy fetch failed for %q: %v", domain, err)
		return StatusFetchError, nil, err
	}

	// Policy parse and validate.
	policy, err := ParseAndValidatePolicy(body)
	if err != nil {
		log.Debugf("mta-sts: policy validation failed for %q: %v", domain, err)
		return StatusFetchError, nil, err
	}

	return StatusValid, &Result{ID: id, Body: policy}, nil
}

// queryTXT performs the TXT lookup of _mta-sts.<domain>, the v=STSv1
// record selection, and the key=value id parse.
func (r *Resolver) queryTXT(ctx context.Context, domain string) (string, Status, error) {
	m := new(dns.Msg)
	m.SetQuestion(dns.Fqdn("_mta-sts."+domain), dns.TypeTXT)
	m.RecursionDesired = true

	reply, _, err := r.exchangeContext(ctx, m)
	if err != nil {
		if isTimeout(err) {
			return "", StatusFetchError, err
		}
		// Other DNS errors (including NXDOMAIN/SERVFAIL transport
		// failures) are treated as "no policy".
		return "", StatusNone, nil
	}

	if reply.Rcode == dns.RcodeNameError {
		return "", StatusNone, nil
	}
	if reply.Rcode != dns.RcodeSuccess {
		return "", StatusNone, nil
	}
	if len(reply.Answer) == 0 {
		return "", StatusNone, nil
	}

	var candidates []string
	for _, ans := range reply.Answer {
		txt, ok := ans.(*dns.TXT)
		if !ok {
			continue
		}
		joined := strings.Join(txt.Txt, "")
		if !isASCII(joined) {
			continue
		}
		if strings.HasPrefix(joined, "v=STSv1") {
			candidates = append(candidates, joined)
		}
	}

	if len(candidates) != 1 {
		return "", StatusNone, nil
	}

	id, ok := parseTXTRecord(candidates[0])
	if !ok {
		return "", StatusNone, nil
	}

	return id, StatusValid, nil
}

// parseTXTRecord splits s on ";", trims whitespace, drops empty segments,
// and splits each on the first "=".
func parseTXTRecord(s string) (string, bool) {
	var version, id string
	for _, seg := range strings.Split(s, ";") {
		seg = strings.TrimSpace(seg)
		if seg == "" {
			continue
		}
		idx := strings.Index(seg, "=")
		if idx < 0 {
			continue
		}
		key := strings.TrimSpace(seg[:idx])
		val := strings.TrimSpace(seg[idx+1:])
		switch key {
		case "v":
			version = val
		case "id":
			id = val
		}
	}
	if version != "STSv1" || id == "" {
		return "", false
	}
	return id, true
}

func (r *Resolver) exchangeContext(ctx context.Context, m *dns.Msg) (*dns.Msg, time.Duration, error) {
	type result struct {
		reply *dns.Msg
		rtt   time.Duration
		err   error
	}
	ch := make(chan result, 1)
	go func() {
		reply, rtt, err := r.dnsClient.Exchange(m, r.dnsServer)
		ch <- result{reply, rtt, err}
	}()
	select {
	case <-ctx.Done():
		return nil, 0, ctx.Err()
	case res := <-ch:
		return res.reply, res.rtt, res.err
	}
}

func isTimeout(err error) bool {
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) {
		return netErr.Timeout()
	}
	return errors.Is(err, context.DeadlineExceeded)
}

func isASCII(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] > 127 {
			return false
		}
	}
	return true
}

// fetchPolicy GETs the well-known URL, no redirects, bounded by r.timeout,
// rejecting anything but a 200 with a text/plain media type and a body
// within maxPolicyBodyBytes.
func (r *Resolver) fetchPolicy(ctx context.Context, domain string) (string, error) {
	url := "https://mta-sts." + domain + "/.well-known/mta-sts.txt"

	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	if r.userAgent != "" {
		req.Header.Set("User-Agent", r.userAgent)
	}

	resp, err := r.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", errors.New("resolver: unexpected HTTP status " + strconv.Itoa(resp.StatusCode))
	}

	ct := resp.Header.Get("Content-Type")
	if ct == "" {
		return "", ErrInvalidMediaType
	}
	mt, params, err := mime.ParseMediaType(ct)
	if err != nil {
		return "", err
	}
	if mt != "text/plain" {
		return "", ErrInvalidMediaType
	}

	if cl := resp.ContentLength; cl > 0 && cl > maxPolicyBodyBytes {
		return "", errors.New("resolver: declared content-length exceeds limit")
	}

	limited := io.LimitReader(resp.Body, maxPolicyBodyBytes+1)
	raw, err := io.ReadAll(limited)
	if err != nil {
		return "", err
	}
	if len(raw) > maxPolicyBodyBytes {
		return "", errors.New("resolver: response body exceeds limit")
	}

	return decodeCharset(raw, params["charset"])
}

// decodeCharset transcodes raw to UTF-8 using the response's declared
// charset, defaulting to ASCII when absent (§4.3 step 6: "decode body with
// the response charset or ascii if absent").
func decodeCharset(raw []byte, charset string) (string, error) {
	if charset == "" {
		if !isASCII(string(raw)) {
			return "", errors.New("resolver: policy body is not ASCII and declares no charset")
		}
		return string(raw), nil
	}
	enc, err := htmlindex.Get(charset)
	if err != nil {
		return "", fmt.Errorf("resolver: unknown charset %q: %w", charset, err)
	}
	decoded, err := enc.NewDecoder().Bytes(raw)
	if err != nil {
		return "", fmt.Errorf("resolver: decoding charset %q: %w", charset, err)
	}
	return string(decoded), nil
}
