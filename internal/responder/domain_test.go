package responder

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeDomain(t *testing.T) {
	cases := map[string]string{
		"Good.Loc.":     "good.loc",
		"GOOD.LOC":      "good.loc",
		"[192.0.2.1]":   "192.0.2.1",
		"[2001:db8::1]": "2001:db8::1",
		"good.loc:25":   "good.loc",
		"good.loc":      "good.loc",
		"  good.loc  ":  "good.loc",
	}
	for in, want := range cases {
		assert.Equal(t, want, NormalizeDomain(in), "input %q", in)
	}
}

func TestIsShortCircuited(t *testing.T) {
	assert.True(t, IsShortCircuited(""))
	assert.True(t, IsShortCircuited(".loc"))
	assert.True(t, IsShortCircuited("192.0.2.1"))
	assert.True(t, IsShortCircuited("2001:db8::1"))
	assert.False(t, IsShortCircuited("good.loc"))
}
