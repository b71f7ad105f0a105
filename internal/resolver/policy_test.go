package resolver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseAndValidatePolicy_Valid(t *testing.T) {
	raw := "version: STSv1\nmode: enforce\nmax_age: 86400\nmx: mail.loc\n"
	p, err := ParseAndValidatePolicy(raw)
	require.NoError(t, err)
	assert.Equal(t, "STSv1", p.Version)
	assert.Equal(t, ModeEnforce, p.Mode)
	assert.Equal(t, 86400, p.MaxAge)
	assert.Equal(t, []string{"mail.loc"}, p.MX)
}

func TestParseAndValidatePolicy_RepeatedMX(t *testing.T) {
	raw := "version: STSv1\nmode: enforce\nmax_age: 86400\nmx: mx1.loc\nmx: mx2.loc\n"
	p, err := ParseAndValidatePolicy(raw)
	require.NoError(t, err)
	assert.Equal(t, []string{"mx1.loc", "mx2.loc"}, p.MX)
}

func TestParseAndValidatePolicy_NoneModeAllowsEmptyMX(t *testing.T) {
	raw := "version: STSv1\nmode: none\nmax_age: 86400\n"
	p, err := ParseAndValidatePolicy(raw)
	require.NoError(t, err)
	assert.Empty(t, p.MX)
}

func TestParseAndValidatePolicy_WrongVersion(t *testing.T) {
	_, err := ParseAndValidatePolicy("version: STSv2\nmode: none\nmax_age: 1\n")
	assert.ErrorIs(t, err, ErrUnknownVersion)
}

func TestParseAndValidatePolicy_BadMaxAge(t *testing.T) {
	_, err := ParseAndValidatePolicy("version: STSv1\nmode: none\nmax_age: notanumber\n")
	assert.ErrorIs(t, err, ErrInvalidMaxAge)

	_, err = ParseAndValidatePolicy("version: STSv1\nmode: none\nmax_age: 99999999999\n")
	assert.ErrorIs(t, err, ErrInvalidMaxAge)
}

func TestParseAndValidatePolicy_MissingMode(t *testing.T) {
	_, err := ParseAndValidatePolicy("version: STSv1\nmax_age: 1\n")
	assert.ErrorIs(t, err, ErrInvalidMode)
}

func TestParseAndValidatePolicy_EnforceRequiresMX(t *testing.T) {
	_, err := ParseAndValidatePolicy("version: STSv1\nmode: enforce\nmax_age: 1\n")
	assert.ErrorIs(t, err, ErrInvalidMX)

	_, err = ParseAndValidatePolicy("version: STSv1\nmode: testing\nmax_age: 1\n")
	assert.ErrorIs(t, err, ErrInvalidMX)
}

func TestMatchingMX_WildcardDedup(t *testing.T) {
	// Spec scenario S5: mx: *.mail.loc repeated twice -> match=.mail.loc.
	p := &PolicyBody{MX: []string{"*.mail.loc", "*.mail.loc"}}
	assert.Equal(t, []string{".mail.loc"}, p.MatchingMX())
}

func TestMatchingMX_LiteralAndWildcardMixed(t *testing.T) {
	p := &PolicyBody{MX: []string{"mail.loc", "*.mail.loc", "mail.loc"}}
	assert.Equal(t, []string{"mail.loc", ".mail.loc"}, p.MatchingMX())
}
