package config

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"slices"

	"gopkg.in/yaml.v3"
)

// ValidProviderNames lists known provider names per provider kind.
// Used by [Validate] to warn about unrecognised provider names.
var ValidProviderNames = map[string][]string{
	"search": {"gemini", "openai", "mock"},
}

// Load reads the YAML configuration file at path and returns a validated [Config].
// It is a convenience wrapper around [LoadFromReader] and [Validate].
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r and validates the result.
// Useful in tests where configs are constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := &Config{}
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks that cfg contains a coherent set of values.
// It returns a joined error listing all validation failures found.
func Validate(cfg *Config) error {
	var errs []error

	// Server
	if cfg.Server.LogLevel != "" && !cfg.Server.LogLevel.IsValid() {
		errs = append(errs, fmt.Errorf("server.log_level %q is invalid; valid values: debug, info, warn, error", cfg.Server.LogLevel))
	}
	if !cfg.Server.Stdio && cfg.Server.ListenAddr == "" {
		errs = append(errs, errors.New("server: no transport configured; set server.stdio or server.listen_addr"))
	}

	// Provider name validation — warn for unknown provider names.
	validateProviderName("search", cfg.Providers.Search.Name)

	// Provider availability warnings
	if cfg.Providers.Search.Name == "" {
		slog.Warn("no search provider configured; the web_search tool will not be available")
	}
	if name := cfg.Providers.Search.Name; (name == "gemini" || name == "openai") && cfg.Providers.Search.APIKey == "" {
		slog.Warn("search provider has no api_key; set it in config or via the provider's environment variable",
			"provider", name,
		)
	}

	// Timeouts
	if cfg.Timeouts.DefaultMs < 0 {
		errs = append(errs, fmt.Errorf("timeouts.default_ms %d must not be negative", cfg.Timeouts.DefaultMs))
	}
	for name, ms := range cfg.Timeouts.PerToolMs {
		if ms <= 0 {
			errs = append(errs, fmt.Errorf("timeouts.per_tool_ms[%q] %d must be positive", name, ms))
		}
	}

	// Tools
	if cfg.Tools.CLI.Enabled && cfg.Tools.CLI.Command == "" {
		errs = append(errs, errors.New("tools.cli.command is required when tools.cli.enabled is true"))
	}
	if cfg.Tools.CLI.MaxOutputBytes < 0 {
		errs = append(errs, fmt.Errorf("tools.cli.max_output_bytes %d must not be negative", cfg.Tools.CLI.MaxOutputBytes))
	}
	if cfg.Tools.GitHub.Enabled && cfg.Tools.GitHub.Token == "" {
		slog.Warn("tools.github is enabled without a token; requests are rate-limited to 60/hour")
	}

	return errors.Join(errs...)
}

// validateProviderName logs a warning if name is non-empty and not found in
// the [ValidProviderNames] list for the given kind.
func validateProviderName(kind, name string) {
	if name == "" {
		return
	}
	known, ok := ValidProviderNames[kind]
	if !ok {
		return
	}
	if slices.Contains(known, name) {
		return
	}
	slog.Warn("unknown provider name — may be a typo or third-party provider",
		"kind", kind,
		"name", name,
		"known", known,
	)
}
