package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"dario.cat/mergo"
)

// ErrInvalidFormat reports a config file that is not valid JSON for the
// schema.
var ErrInvalidFormat = errors.New("invalid config format")

// DefaultFileName is looked up in the working directory when no --config
// path is given.
const DefaultFileName = "daibug.config.json"

// Load reads a config file and resolves it over the defaults.
//
// Steps performed:
//  1. Read the JSON document
//  2. Merge file values over DefaultConfig (explicit false/0 survive via
//     the pointer fields)
//  3. Normalize console include aliases
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, err
	}

	var fileCfg Config
	if err := json.Unmarshal(data, &fileCfg); err != nil {
		return Config{}, fmt.Errorf("%w: %s: %v", ErrInvalidFormat, path, err)
	}

	return Resolve(fileCfg)
}

// LoadOptional resolves the config at path when it exists, otherwise the
// defaults. An empty path means look for DefaultFileName; noConfig skips
// file loading entirely.
func LoadOptional(path string, noConfig bool) (Config, error) {
	if noConfig {
		return Resolve(Config{})
	}
	explicit := path != ""
	if !explicit {
		path = DefaultFileName
	}

	cfg, err := Load(path)
	if err != nil {
		if !explicit && os.IsNotExist(err) {
			slog.Debug("No config file found, using defaults", "path", path)
			return Resolve(Config{})
		}
		return Config{}, err
	}
	slog.Info("Config loaded", "path", path)
	return cfg, nil
}

// Resolve merges partial over the defaults and normalizes it.
func Resolve(partial Config) (Config, error) {
	cfg := DefaultConfig()
	if err := mergo.Merge(&cfg, partial, mergo.WithOverride); err != nil {
		return Config{}, fmt.Errorf("failed to merge config: %w", err)
	}
	cfg.Console.Include = NormalizeConsoleInclude(cfg.Console.Include)
	if len(cfg.Console.Include) == 0 {
		cfg.Console.Include = DefaultConsoleInclude()
	}
	return cfg, nil
}
