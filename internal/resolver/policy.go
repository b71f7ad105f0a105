package resolver

import (
	"strings"
	"unicode"
)

// MaxPolicyMaxAge is the upper bound RFC 8461 §3.2 places on max_age (one
// year, in seconds).
const MaxPolicyMaxAge = 31_557_600

// Mode is the enforcement mode carried by an MTA-STS policy.
type Mode string

const (
	ModeNone    Mode = "none"
	ModeTesting Mode = "testing"
	ModeEnforce Mode = "enforce"
)

// PolicyBody is the parsed, validated body fetched from
// https://mta-sts.<domain>/.well-known/mta-sts.txt.
type PolicyBody struct {
	Version string   `json:"version"`
	Mode    Mode     `json:"mode"`
	MaxAge  int      `json:"max_age"`
	MX      []string `json:"mx"`
}

// parsePolicyBody is a line-oriented parser: "key: value", right-trimmed on
// the line and left-trimmed on the value. Repeated "mx:" lines accumulate;
// every other key is single-valued with last-occurrence-wins.
func parsePolicyBody(raw string) map[string][]string {
	fields := map[string][]string{}
	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimRightFunc(line, unicode.IsSpace)
		idx := strings.Index(line, ":")
		if idx < 0 {
			continue
		}
		key := strings.TrimSpace(line[:idx])
		value := strings.TrimLeft(line[idx+1:], " \t")
		value = strings.TrimRight(value, "\r")
		if key == "" {
			continue
		}
		fields[key] = append(fields[key], value)
	}
	return fields
}

func lastOf(values []string) string {
	if len(values) == 0 {
		return ""
	}
	return values[len(values)-1]
}

// ParseAndValidatePolicy parses the line-oriented policy body and validates
// version/mode/max_age/mx. Any violation is reported via the returned
// error; a nil error means the PolicyBody is safe to cache and serve.
func ParseAndValidatePolicy(raw string) (*PolicyBody, error) {
	fields := parsePolicyBody(raw)

	p := &PolicyBody{
		Version: lastOf(fields["version"]),
		Mode:    Mode(lastOf(fields["mode"])),
		MX:      fields["mx"],
	}

	if p.Version != "STSv1" {
		return nil, ErrUnknownVersion
	}

	maxAge, ok := parseMaxAge(lastOf(fields["max_age"]))
	if !ok {
		return nil, ErrInvalidMaxAge
	}
	p.MaxAge = maxAge

	switch p.Mode {
	case ModeNone, ModeTesting, ModeEnforce:
	default:
		return nil, ErrInvalidMode
	}

	if p.Mode != ModeNone && len(p.MX) == 0 {
		return nil, ErrInvalidMX
	}

	return p, nil
}

func parseMaxAge(s string) (int, bool) {
	if s == "" {
		return 0, false
	}
	var n int
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + int(c-'0')
		if n > MaxPolicyMaxAge {
			return 0, false
		}
	}
	if n < 0 || n > MaxPolicyMaxAge {
		return 0, false
	}
	return n, true
}

// MatchingMX strips the leading "*" from each wildcard MX pattern and
// deduplicates, so "*.mail.example.com" and a literal duplicate both
// collapse to one ".mail.example.com" entry in the reply.
func (p *PolicyBody) MatchingMX() []string {
	seen := make(map[string]struct{}, len(p.MX))
	out := make([]string, 0, len(p.MX))
	for _, mx := range p.MX {
		stripped := strings.TrimPrefix(mx, "*")
		if _, ok := seen[stripped]; ok {
			continue
		}
		seen[stripped] = struct{}{}
		out = append(out, stripped)
	}
	return out
}
