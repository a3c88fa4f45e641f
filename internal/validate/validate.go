// Package validate implements the write-path validation policy: identifier
// shape, score ranges, JSON size caps, HTML escaping, and SQL-injection
// pattern rejection.
package validate

import (
	"errors"
	"fmt"
	"regexp"

	"github.com/microcosm-cc/bluemonday"
)

// Error classes, matched with errors.Is by callers that need to decide whether to
// retry (never, for these) or surface immediately.
var (
	ErrInvalidIdentifier = errors.New("validate: invalid identifier")
	ErrOversizedJSON      = errors.New("validate: processed-data JSON exceeds size cap")
	ErrQueryTooLong       = errors.New("validate: query string exceeds length cap")
	ErrSecurityPattern    = errors.New("validate: input matches a disallowed security pattern")
)

const (
	// MaxIdentifierLength bounds namespace/chat-id/memory-id style identifiers.
	MaxIdentifierLength = 64
	// MaxProcessedJSONBytes is the 1 MiB cap on serialized ProcessedData.
	MaxProcessedJSONBytes = 1 << 20
	// MaxQueryLength is the hard cap on an incoming search query string.
	MaxQueryLength = 10_000
	// MaxResultLimit and MinResultLimit bound the clamped search result limit.
	MaxResultLimit = 1000
	MinResultLimit = 1
)

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Identifier rejects anything outside `[A-Za-z_][A-Za-z0-9_]*` with length <= 64
//).
func Identifier(s string) error {
	if s == "" || len(s) > MaxIdentifierLength || !identifierPattern.MatchString(s) {
		return fmt.Errorf("%w: %q", ErrInvalidIdentifier, s)
	}
	return nil
}

// Clamp01 clamps a score into [0,1]).
func Clamp01(v float64) float64 {
	switch {
	case v < 0:
		return 0
	case v > 1:
		return 1
	default:
		return v
	}
}

// ClampLimit forces a requested search-result limit into [MinResultLimit, MaxResultLimit].
func ClampLimit(n int) int {
	if n < MinResultLimit {
		return MinResultLimit
	}
	if n > MaxResultLimit {
		return MaxResultLimit
	}
	return n
}

// JSONSize rejects a serialized processed-data payload larger than the 1 MiB cap.
func JSONSize(b []byte) error {
	if len(b) > MaxProcessedJSONBytes {
		return fmt.Errorf("%w: %d bytes", ErrOversizedJSON, len(b))
	}
	return nil
}

// QueryLength rejects a query string longer than MaxQueryLength.
func QueryLength(q string) error {
	if len(q) > MaxQueryLength {
		return fmt.Errorf("%w: %d characters", ErrQueryTooLong, len(q))
	}
	return nil
}

// sanitizer is a strict bluemonday policy: it strips all markup, leaving plain text.
// It is package-level because UGCPolicy()/StrictPolicy() build internal regexes once
// and are safe for concurrent use.
var sanitizer = bluemonday.StrictPolicy()

// EscapeHTML strips/escapes markup from free text before it is persisted.
// Plain text (the overwhelming common case) passes through unchanged.
func EscapeHTML(s string) string {
	return sanitizer.Sanitize(s)
}

// injectionPatterns are the SQL-injection / scripting signatures rejected on
// every write and scanned for by AuditQuery on the search path.
var injectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)\bunion\s+select\b`),
	regexp.MustCompile(`(?i)\bdrop\s+table\b`),
	regexp.MustCompile(`(?i)\b(or|and)\s+['"]?\d+['"]?\s*=\s*['"]?\d+['"]?`),
	regexp.MustCompile(`--`),
	regexp.MustCompile(`/\*`),
	regexp.MustCompile(`;\s*(drop|delete|insert|update)\b`),
	regexp.MustCompile(`(?i)<script[\s>]`),
	regexp.MustCompile(`(?i)javascript:`),
}

// AuditQuery scans free text for injection/scripting signatures independent of the
// dialect-specific sanitizer. It is run on every incoming search query before the
// query reaches any storesql dialect.
func AuditQuery(s string) error {
	for _, p := range injectionPatterns {
		if p.MatchString(s) {
			return fmt.Errorf("%w: matched %q", ErrSecurityPattern, p.String())
		}
	}
	return nil
}
