// Package urlglob matches request URLs against glob patterns such as
// "/api/**" or "*/login". Matching is case-insensitive and anchored to the
// whole string; '*' and '**' both match any run of characters including '/'.
package urlglob

import (
	"net/url"
	"regexp"
	"strings"
)

// Matcher is a compiled pattern.
type Matcher struct {
	pattern string
	re      *regexp.Regexp
}

// Compile translates a glob pattern into a matcher.
func Compile(pattern string) (*Matcher, error) {
	var b strings.Builder
	b.WriteString("(?i)^")
	for i := 0; i < len(pattern); i++ {
		if pattern[i] != '*' {
			b.WriteString(regexp.QuoteMeta(string(pattern[i])))
			continue
		}
		// collapse a '**' pair; both forms match across '/'
		if i+1 < len(pattern) && pattern[i+1] == '*' {
			i++
		}
		b.WriteString(".*")
	}
	b.WriteString("$")

	re, err := regexp.Compile(b.String())
	if err != nil {
		return nil, err
	}
	return &Matcher{pattern: pattern, re: re}, nil
}

// Pattern returns the original glob.
func (m *Matcher) Pattern() string { return m.pattern }

// Match tests an already-normalized string against the pattern.
func (m *Matcher) Match(s string) bool { return m.re.MatchString(s) }

// MatchURL normalizes raw to path+query before matching: absolute URLs lose
// scheme and host, relative ones are matched as given. Unparseable input is
// matched raw rather than rejected.
func (m *Matcher) MatchURL(raw string) bool {
	return m.re.MatchString(Normalize(raw))
}

// Normalize reduces a URL to the part patterns are written against.
func Normalize(raw string) string {
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return raw
	}
	target := u.Path
	if u.RawQuery != "" {
		target += "?" + u.RawQuery
	}
	return target
}
