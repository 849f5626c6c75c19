package config

import (
	"fmt"

	"github.com/daibug/daibug/pkg/urlglob"
)

// Validate checks the configuration and returns one message per problem.
// An empty result means the config is usable.
func Validate(cfg Config) []string {
	var errs []string

	if cfg.Network.MaxBodySize != nil && *cfg.Network.MaxBodySize < 0 {
		errs = append(errs, fmt.Sprintf("network.maxBodySize must be >= 0, got %d", *cfg.Network.MaxBodySize))
	}
	for i, pattern := range cfg.Network.Ignore {
		if _, err := urlglob.Compile(pattern); err != nil {
			errs = append(errs, fmt.Sprintf("network.ignore[%d]: invalid pattern %q: %v", i, pattern, err))
		}
	}

	errs = append(errs, validatePort("hub.httpPort", cfg.Hub.HTTPPort)...)
	errs = append(errs, validatePort("hub.wsPort", cfg.Hub.WSPort)...)

	for i, rule := range cfg.Watch {
		prefix := fmt.Sprintf("watch[%d]", i)
		if rule.Label == "" {
			errs = append(errs, prefix+": label is required")
		}
		if rule.Conditions().IsZero() {
			errs = append(errs, prefix+": at least one condition is required")
		}
		if rule.Source != "" && !rule.Source.IsValid() {
			errs = append(errs, fmt.Sprintf("%s: unknown source %q", prefix, rule.Source))
		}
		for _, level := range rule.Levels {
			if !level.IsValid() {
				errs = append(errs, fmt.Sprintf("%s: unknown level %q", prefix, level))
			}
		}
		if rule.URLPattern != "" {
			if _, err := urlglob.Compile(rule.URLPattern); err != nil {
				errs = append(errs, fmt.Sprintf("%s: invalid urlPattern %q: %v", prefix, rule.URLPattern, err))
			}
		}
	}

	for i, pattern := range cfg.Redact.URLPatterns {
		if _, err := urlglob.Compile(pattern); err != nil {
			errs = append(errs, fmt.Sprintf("redact.urlPatterns[%d]: invalid pattern %q: %v", i, pattern, err))
		}
	}

	return errs
}

func validatePort(name string, port int) []string {
	if port < 1 || port > 65535 {
		return []string{fmt.Sprintf("%s must be between 1 and 65535, got %d", name, port)}
	}
	return nil
}
