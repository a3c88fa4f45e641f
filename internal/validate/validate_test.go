package validate_test

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smallnest/memorigo/internal/validate"
)

func TestIdentifier(t *testing.T) {
	cases := []struct {
		name string
		in   string
		ok   bool
	}{
		{"valid", "acme_namespace", true},
		{"leading_underscore", "_private", true},
		{"empty", "", false},
		{"leading_digit", "1namespace", false},
		{"dash_not_allowed", "acme-namespace", false},
		{"too_long", strings.Repeat("a", 65), false},
		{"exactly_max", strings.Repeat("a", 64), true},
		{"sql_injection_attempt", "ns; DROP TABLE chat_history;", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := validate.Identifier(tc.in)
			if tc.ok {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.ErrorIs(t, err, validate.ErrInvalidIdentifier)
			}
		})
	}
}

func TestClamp01(t *testing.T) {
	assert.Equal(t, 0.0, validate.Clamp01(-5))
	assert.Equal(t, 1.0, validate.Clamp01(5))
	assert.Equal(t, 0.42, validate.Clamp01(0.42))
}

func TestClampLimit(t *testing.T) {
	assert.Equal(t, validate.MinResultLimit, validate.ClampLimit(-10))
	assert.Equal(t, validate.MaxResultLimit, validate.ClampLimit(100000))
	assert.Equal(t, 5, validate.ClampLimit(5))
}

func TestJSONSize(t *testing.T) {
	assert.NoError(t, validate.JSONSize([]byte("{}")))
	oversized := make([]byte, validate.MaxProcessedJSONBytes+1)
	err := validate.JSONSize(oversized)
	require.Error(t, err)
	assert.ErrorIs(t, err, validate.ErrOversizedJSON)
}

func TestQueryLength(t *testing.T) {
	assert.NoError(t, validate.QueryLength("hello"))
	err := validate.QueryLength(strings.Repeat("a", validate.MaxQueryLength+1))
	require.Error(t, err)
	assert.ErrorIs(t, err, validate.ErrQueryTooLong)
}

func TestEscapeHTML(t *testing.T) {
	assert.Equal(t, "plain text", validate.EscapeHTML("plain text"))
	sanitized := validate.EscapeHTML(`<script>alert(1)</script>hello`)
	assert.NotContains(t, sanitized, "<script>")
	assert.Contains(t, sanitized, "hello")
}

func TestAuditQuery(t *testing.T) {
	cases := []struct {
		name string
		in   string
		ok   bool
	}{
		{"plain", "show me a decorator example", true},
		{"union_select", "1 UNION SELECT password FROM users", false},
		{"drop_table", "'; DROP TABLE long_term_memory; --", false},
		{"comment", "foo -- bar", false},
		{"block_comment", "foo /* bar */", false},
		{"tautology", "1 OR 1=1", false},
		{"script_tag", "<script>evil()</script>", false},
		{"javascript_uri", "javascript:alert(1)", false},
		{"stacked_delete", "x; delete from chat_history", false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := validate.AuditQuery(tc.in)
			if tc.ok {
				assert.NoError(t, err)
			} else {
				require.Error(t, err)
				assert.ErrorIs(t, err, validate.ErrSecurityPattern)
			}
		})
	}
}
