// Package config defines the hub configuration schema, its defaults,
// loading from a JSON file and validation. Precedence is CLI flags over
// file values over defaults; the merge preserves explicit false/zero from
// the file via pointer fields.
package config

import (
	"github.com/daibug/daibug/pkg/models"
)

// Config is the complete hub configuration. After Load/Resolve all pointer
// fields are non-nil.
type Config struct {
	Console ConsoleConfig     `json:"console"`
	Network NetworkConfig     `json:"network"`
	Watch   []WatchRuleConfig `json:"watch"`
	Redact  RedactConfig      `json:"redact"`
	Hub     HubConfig         `json:"hub"`
	Session SessionConfig     `json:"session"`
}

// ConsoleConfig selects which browser console levels are captured.
type ConsoleConfig struct {
	Include []string `json:"include"`
}

// NetworkConfig controls network event capture.
type NetworkConfig struct {
	CaptureBody *bool    `json:"captureBody"`
	MaxBodySize *int     `json:"maxBodySize"`
	Ignore      []string `json:"ignore"`
}

// BodyCapture reports whether request/response bodies are captured.
func (n NetworkConfig) BodyCapture() bool {
	return n.CaptureBody == nil || *n.CaptureBody
}

// BodyLimit returns the maximum captured body size in bytes.
func (n NetworkConfig) BodyLimit() int {
	if n.MaxBodySize == nil {
		return DefaultMaxBodySize
	}
	return *n.MaxBodySize
}

// WatchRuleConfig declares a watch rule in the config file.
type WatchRuleConfig struct {
	Label           string        `json:"label"`
	Source          models.Source `json:"source,omitempty"`
	StatusCodes     []int         `json:"statusCodes,omitempty"`
	URLPattern      string        `json:"urlPattern,omitempty"`
	Methods         []string      `json:"methods,omitempty"`
	Levels          []models.Level `json:"levels,omitempty"`
	MessageContains string        `json:"messageContains,omitempty"`
}

// Conditions converts the declaration into engine conditions.
func (w WatchRuleConfig) Conditions() models.WatchConditions {
	return models.WatchConditions{
		StatusCodes:     w.StatusCodes,
		URLPattern:      w.URLPattern,
		Methods:         w.Methods,
		Levels:          w.Levels,
		MessageContains: w.MessageContains,
	}
}

// RedactConfig lists sensitive field names and endpoint patterns.
type RedactConfig struct {
	Fields      []string `json:"fields"`
	URLPatterns []string `json:"urlPatterns"`
}

// HubConfig holds the preferred ports. The bind policy may move to nearby
// ports when these are taken.
type HubConfig struct {
	HTTPPort int `json:"httpPort"`
	WSPort   int `json:"wsPort"`
}

// SessionConfig controls the session recorder.
type SessionConfig struct {
	AutoStart      bool  `json:"autoStart"`
	CaptureStorage *bool `json:"captureStorage"`
}

// StorageCapture reports whether storage snapshots are recorded.
func (s SessionConfig) StorageCapture() bool {
	return s.CaptureStorage == nil || *s.CaptureStorage
}

// consoleAliases expand one include entry to a level set.
var consoleAliases = map[string][]string{
	"all":                 {"log", "debug", "warn", "error"},
	"verbose":             {"log", "debug", "warn", "error"},
	"errors":              {"error"},
	"errors-and-warnings": {"error", "warn"},
}

// consoleLevels is the closed vocabulary of browser console levels.
var consoleLevels = map[string]struct{}{
	"log": {}, "debug": {}, "warn": {}, "error": {},
}

// NormalizeConsoleInclude expands aliases, drops unknown names and
// de-duplicates, preserving first-mention order.
func NormalizeConsoleInclude(include []string) []string {
	var out []string
	seen := make(map[string]struct{}, 4)
	add := func(level string) {
		if _, known := consoleLevels[level]; !known {
			return
		}
		if _, dup := seen[level]; dup {
			return
		}
		seen[level] = struct{}{}
		out = append(out, level)
	}
	for _, entry := range include {
		if expansion, ok := consoleAliases[entry]; ok {
			for _, level := range expansion {
				add(level)
			}
			continue
		}
		add(entry)
	}
	return out
}

// ConsoleIncludesAllLevels reports whether the include set covers the whole
// vocabulary, in which case clients need no filter command.
func ConsoleIncludesAllLevels(include []string) bool {
	seen := make(map[string]struct{}, len(include))
	for _, l := range include {
		seen[l] = struct{}{}
	}
	for l := range consoleLevels {
		if _, ok := seen[l]; !ok {
			return false
		}
	}
	return true
}

// Clone returns a deep copy of the config.
func (c Config) Clone() Config {
	out := c
	out.Console.Include = append([]string(nil), c.Console.Include...)
	out.Network.Ignore = append([]string(nil), c.Network.Ignore...)
	if c.Network.CaptureBody != nil {
		v := *c.Network.CaptureBody
		out.Network.CaptureBody = &v
	}
	if c.Network.MaxBodySize != nil {
		v := *c.Network.MaxBodySize
		out.Network.MaxBodySize = &v
	}
	if c.Watch != nil {
		out.Watch = make([]WatchRuleConfig, len(c.Watch))
		for i, w := range c.Watch {
			cw := w
			cw.StatusCodes = append([]int(nil), w.StatusCodes...)
			cw.Methods = append([]string(nil), w.Methods...)
			cw.Levels = append([]models.Level(nil), w.Levels...)
			out.Watch[i] = cw
		}
	}
	out.Redact.Fields = append([]string(nil), c.Redact.Fields...)
	out.Redact.URLPatterns = append([]string(nil), c.Redact.URLPatterns...)
	if c.Session.CaptureStorage != nil {
		v := *c.Session.CaptureStorage
		out.Session.CaptureStorage = &v
	}
	return out
}
