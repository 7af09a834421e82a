package logger

import (
	"regexp"
	"strings"
)

const redacted = "[REDACTED]"

// Redactor masks secrets in log messages and fields.
type Redactor struct {
	keys     []string
	patterns []*regexp.Regexp
}

var jwtPattern = regexp.MustCompile(`eyJ[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+`)

// DefaultRedactor masks credentials, tokens and anything shaped like a JWT.
func DefaultRedactor() *Redactor {
	return &Redactor{
		keys: []string{
			"password", "senha", "token", "secret", "authorization",
		},
		patterns: []*regexp.Regexp{jwtPattern},
	}
}

// Redact masks pattern matches in s.
func (r *Redactor) Redact(s string) string {
	for _, p := range r.patterns {
		s = p.ReplaceAllString(s, redacted)
	}
	return s
}

// RedactFields returns a copy of fields with sensitive keys masked and
// string values scrubbed. Key matching is case-insensitive and by substring,
// so "refreshToken" matches "token".
func (r *Redactor) RedactFields(fields map[string]any) map[string]any {
	if fields == nil {
		return nil
	}
	out := make(map[string]any, len(fields))
	for k, v := range fields {
		if r.sensitive(k) {
			out[k] = redacted
			continue
		}
		if s, ok := v.(string); ok {
			out[k] = r.Redact(s)
			continue
		}
		out[k] = v
	}
	return out
}

func (r *Redactor) sensitive(key string) bool {
	key = strings.ToLower(key)
	for _, k := range r.keys {
		if strings.Contains(key, k) {
			return true
		}
	}
	return false
}
