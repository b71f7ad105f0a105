package responder

import (
	"net"
	"strings"

	valid "github.com/asaskevich/govalidator/v11"
)

// NormalizeDomain canonicalizes a request domain: lowercase, strip IPv6
// brackets, drop a trailing ":port" suffix, then strip a trailing dot.
func NormalizeDomain(raw string) string {
	d := strings.ToLower(strings.TrimSpace(raw))

	if strings.HasPrefix(d, "[") {
		if idx := strings.Index(d, "]"); idx >= 0 {
			d = d[1:idx]
			return strings.TrimSuffix(d, ".")
		}
	} else if idx := strings.LastIndex(d, ":"); idx >= 0 && !strings.Contains(d[:idx], ":") {
		// A single trailing colon not part of an unbracketed IPv6
		// literal is a port suffix.
		if _, err := net.LookupPort("tcp", d[idx+1:]); err == nil || isAllDigits(d[idx+1:]) {
			d = d[:idx]
		}
	}

	d = strings.TrimSuffix(d, ".")
	return d
}

func isAllDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

// IsShortCircuited reports whether domain should be answered NOTFOUND
// without consulting cache or resolver: empty, leading-dot, or a numeric
// IP literal (MTA-STS policies are never published for bare IP addresses).
func IsShortCircuited(domain string) bool {
	if domain == "" || strings.HasPrefix(domain, ".") {
		return true
	}
	return valid.IsIPv4(domain) || valid.IsIPv6(domain)
}
