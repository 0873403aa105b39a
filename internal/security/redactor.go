// Package security holds the redaction, audit, rate-limiting and input
// validation helpers shared by the node's surfaces.
package security

import (
	"regexp"
	"slices"
	"strings"
	"sync"
)

// RedactPlaceholder is the replacement string for redacted secrets.
const RedactPlaceholder = "***REDACTED***"

// secretKeyPattern matches map keys that likely contain secrets.
var secretKeyPattern = regexp.MustCompile(`(?i)(secret|token|password|private|nsec|key|credential)`)

// Redactor replaces secret values in strings and maps with a redaction placeholder.
// Known formats (ecash tokens, nostr secret keys, bearer headers) are
// matched by pattern; keys loaded at runtime are matched literally.
// All methods are safe for concurrent use.
type Redactor struct {
	mu       sync.RWMutex
	patterns []*regexp.Regexp
	literals []string
}

// NewRedactor creates a Redactor pre-loaded with DefaultPatterns.
func NewRedactor() *Redactor {
	return &Redactor{
		patterns: DefaultPatterns(),
	}
}

// AddPattern adds a compiled regex pattern to the redactor.
func (r *Redactor) AddPattern(pattern *regexp.Regexp) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.patterns = append(r.patterns, pattern)
}

// AddLiteral adds a literal secret value that should be redacted on sight.
// Empty strings and values already known are ignored.
func (r *Redactor) AddLiteral(secret string) {
	if secret == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if !slices.Contains(r.literals, secret) {
		r.literals = append(r.literals, secret)
	}
}

// Redact replaces all known secret patterns and literal values in s
// with RedactPlaceholder.
func (r *Redactor) Redact(s string) string {
	if s == "" {
		return s
	}

	r.mu.RLock()
	patterns := r.patterns
	literals := r.literals
	r.mu.RUnlock()

	// Literals first: a private key may be a substring of a longer match.
	for _, lit := range literals {
		s = strings.ReplaceAll(s, lit, RedactPlaceholder)
	}
	for _, p := range patterns {
		s = p.ReplaceAllString(s, RedactPlaceholder)
	}
	return s
}

// RedactMap redacts a decoded config tree in place. A scalar or list under
// a key naming a secret (secret, token, password, private, nsec, key,
// credential) is replaced whole; maps are always walked. Every other
// string is passed through Redact.
func (r *Redactor) RedactMap(m map[string]any) {
	for k, v := range m {
		m[k] = r.redactValue(secretKeyPattern.MatchString(k), v)
	}
}

func (r *Redactor) redactValue(secret bool, v any) any {
	switch val := v.(type) {
	case map[string]any:
		r.RedactMap(val)
		return val
	case nil:
		return nil
	case string:
		if secret && val != "" {
			return RedactPlaceholder
		}
		return r.Redact(val)
	case []any:
		if secret && len(val) > 0 {
			return RedactPlaceholder
		}
		for i, item := range val {
			val[i] = r.redactValue(false, item)
		}
		return val
	}
	if secret {
		return RedactPlaceholder
	}
	return v
}

// DefaultPatterns returns compiled regex patterns for the secrets this
// node handles.
func DefaultPatterns() []*regexp.Regexp {
	return []*regexp.Regexp{
		// Serialized ecash tokens (V3 cashuA, V4 cashuB).
		regexp.MustCompile(`cashu[AB][A-Za-z0-9_\-+/]{16,}={0,2}`),
		// Nostr bech32 secret keys.
		regexp.MustCompile(`nsec1[02-9ac-hj-np-z]{20,}`),
		// Authorization header values.
		regexp.MustCompile(`(?i)bearer\s+[A-Za-z0-9\-._~+/]{8,}=*`),
	}
}
