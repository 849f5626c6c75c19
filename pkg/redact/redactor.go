// Package redact scrubs sensitive values from events before they reach any
// store or consumer. Field redaction walks payloads recursively and replaces
// the value of every configured key; endpoint redaction blanks request and
// response bodies of network events whose URL matches a configured pattern;
// storage redaction covers storage-change events keyed by a sensitive name.
//
// Redaction always operates on a deep copy. The input event is never
// mutated, and redaction is not reversible from anything the hub retains.
package redact

import (
	"log/slog"
	"strings"

	"github.com/daibug/daibug/pkg/models"
	"github.com/daibug/daibug/pkg/urlglob"
)

const (
	// FieldMask replaces the value of a sensitive field.
	FieldMask = "[REDACTED]"
	// BodyMask replaces request/response bodies on sensitive endpoints.
	BodyMask = "[REDACTED - sensitive endpoint]"
)

// Redactor applies the configured redaction policy.
type Redactor struct {
	fields   map[string]struct{} // lowercase field names
	patterns []*urlglob.Matcher
}

// New compiles the policy. Field names are matched case-insensitively.
// Invalid URL patterns are logged and skipped so one bad pattern cannot
// disable the rest of the policy.
func New(fields []string, urlPatterns []string) *Redactor {
	r := &Redactor{fields: make(map[string]struct{}, len(fields))}
	for _, f := range fields {
		if f = strings.TrimSpace(f); f != "" {
			r.fields[strings.ToLower(f)] = struct{}{}
		}
	}
	for _, p := range urlPatterns {
		m, err := urlglob.Compile(p)
		if err != nil {
			slog.Error("Invalid redact URL pattern, skipping", "pattern", p, "error", err)
			continue
		}
		r.patterns = append(r.patterns, m)
	}
	return r
}

// Fields returns the configured sensitive field names, lowercased.
func (r *Redactor) Fields() []string {
	out := make([]string, 0, len(r.fields))
	for f := range r.fields {
		out = append(out, f)
	}
	return out
}

// IsSensitiveField reports whether key names a sensitive field.
func (r *Redactor) IsSensitiveField(key string) bool {
	_, ok := r.fields[strings.ToLower(key)]
	return ok
}

// Event returns a redacted deep copy of e.
func (r *Redactor) Event(e models.Event) models.Event {
	out := e.Clone()
	if out.Payload == nil {
		return out
	}
	r.redactMap(out.Payload)

	switch out.Source {
	case models.SourceBrowserNetwork:
		if url, ok := out.Payload["url"].(string); ok && r.matchesSensitiveEndpoint(url) {
			if _, ok := out.Payload["requestBody"]; ok {
				out.Payload["requestBody"] = BodyMask
			}
			if _, ok := out.Payload["responseBody"]; ok {
				out.Payload["responseBody"] = BodyMask
			}
		}
	case models.SourceBrowserStorage:
		if key, ok := out.Payload["key"].(string); ok && r.IsSensitiveField(key) {
			if _, ok := out.Payload["value"]; ok {
				out.Payload["value"] = FieldMask
			}
			if _, ok := out.Payload["previousValue"]; ok {
				out.Payload["previousValue"] = FieldMask
			}
		}
	}
	return out
}

// StorageMap returns a copy of a storage key/value map with sensitive keys'
// values masked. Used at the session export boundary.
func (r *Redactor) StorageMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	out := make(map[string]string, len(m))
	for k, v := range m {
		if r.IsSensitiveField(k) {
			out[k] = FieldMask
		} else {
			out[k] = v
		}
	}
	return out
}

func (r *Redactor) matchesSensitiveEndpoint(url string) bool {
	for _, m := range r.patterns {
		if m.MatchURL(url) {
			return true
		}
	}
	return false
}

func (r *Redactor) redactMap(m map[string]any) {
	for k, v := range m {
		if r.IsSensitiveField(k) {
			m[k] = FieldMask
			continue
		}
		r.redactValue(v)
	}
}

func (r *Redactor) redactValue(v any) {
	switch t := v.(type) {
	case map[string]any:
		r.redactMap(t)
	case []any:
		for _, e := range t {
			r.redactValue(e)
		}
	}
}
