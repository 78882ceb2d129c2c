package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
)

// Environment variables recognised by [ApplyEnv]. File values win; the
// environment only fills in what the file leaves empty.
const (
	EnvGeminiAPIKey     = "GEMINI_API_KEY"
	EnvOpenAIAPIKey     = "OPENAI_API_KEY"
	EnvGitHubToken      = "GITHUB_TOKEN"
	EnvGitHubAPIBase    = "GITHUB_API_BASE"
	EnvDefaultTimeoutMs = "AUGUR_DEFAULT_TIMEOUT_MS"
)

// ApplyEnv overlays environment-derived settings onto cfg. Secrets usually
// arrive this way so they stay out of config files.
func ApplyEnv(cfg *Config) error {
	if cfg.Providers.Search.APIKey == "" {
		switch cfg.Providers.Search.Name {
		case "gemini":
			cfg.Providers.Search.APIKey = os.Getenv(EnvGeminiAPIKey)
		case "openai":
			cfg.Providers.Search.APIKey = os.Getenv(EnvOpenAIAPIKey)
		}
	}

	if cfg.Tools.GitHub.Token == "" {
		cfg.Tools.GitHub.Token = os.Getenv(EnvGitHubToken)
	}
	if cfg.Tools.GitHub.APIBase == "" {
		cfg.Tools.GitHub.APIBase = os.Getenv(EnvGitHubAPIBase)
	}

	if v := os.Getenv(EnvDefaultTimeoutMs); v != "" {
		ms, err := strconv.Atoi(v)
		if err != nil || ms < 0 {
			return fmt.Errorf("config: %s %q is not a non-negative integer", EnvDefaultTimeoutMs, v)
		}
		if cfg.Timeouts.DefaultMs != 0 && cfg.Timeouts.DefaultMs != ms {
			slog.Warn("default timeout overridden by environment",
				"file_ms", cfg.Timeouts.DefaultMs,
				"env_ms", ms,
			)
		}
		cfg.Timeouts.DefaultMs = ms
	}

	return nil
}
