package config

// Default values applied wherever the config file and flags stay silent.
const (
	DefaultHTTPPort    = 5000
	DefaultWSPort      = 4999
	DefaultMaxBodySize = 51200
)

// DefaultConsoleInclude is the capture set used without configuration.
func DefaultConsoleInclude() []string { return []string{"error", "warn", "log"} }

// DefaultRedactFields are masked in every payload out of the box.
func DefaultRedactFields() []string {
	return []string{"password", "token", "authorization", "cookie"}
}

// DefaultConfig returns a fully populated configuration.
func DefaultConfig() Config {
	captureBody := true
	maxBodySize := DefaultMaxBodySize
	captureStorage := true
	return Config{
		Console: ConsoleConfig{Include: DefaultConsoleInclude()},
		Network: NetworkConfig{
			CaptureBody: &captureBody,
			MaxBodySize: &maxBodySize,
			Ignore:      []string{},
		},
		Watch: []WatchRuleConfig{},
		Redact: RedactConfig{
			Fields:      DefaultRedactFields(),
			URLPatterns: []string{},
		},
		Hub: HubConfig{
			HTTPPort: DefaultHTTPPort,
			WSPort:   DefaultWSPort,
		},
		Session: SessionConfig{
			AutoStart:      false,
			CaptureStorage: &captureStorage,
		},
	}
}
