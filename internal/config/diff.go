package config

import (
	"maps"
	"reflect"
)

// ConfigDiff describes what changed between two configs. The log level is the
// only setting applied live; everything else requires a restart and is
// tracked so the watcher can warn about it.
type ConfigDiff struct {
	LogLevelChanged bool
	NewLogLevel     LogLevel

	ProviderChanged bool
	TimeoutsChanged bool
	ToolsChanged    bool
	AuditChanged    bool
}

// RestartRequired reports whether any changed setting cannot be applied to
// the running process.
func (d ConfigDiff) RestartRequired() bool {
	return d.ProviderChanged || d.TimeoutsChanged || d.ToolsChanged || d.AuditChanged
}

// Diff compares old and new configs and returns what changed.
func Diff(old, new *Config) ConfigDiff {
	d := ConfigDiff{}

	if old.Server.LogLevel != new.Server.LogLevel {
		d.LogLevelChanged = true
		d.NewLogLevel = new.Server.LogLevel
	}

	d.ProviderChanged = !providerEntryEqual(old.Providers.Search, new.Providers.Search)
	d.TimeoutsChanged = !timeoutsEqual(old.Timeouts, new.Timeouts)
	d.ToolsChanged = !toolsEqual(old.Tools, new.Tools)
	d.AuditChanged = old.Audit != new.Audit

	return d
}

// providerEntryEqual compares entries. Options may hold nested maps from the
// YAML decoder, so they need deep comparison.
func providerEntryEqual(a, b ProviderEntry) bool {
	return a.Name == b.Name && a.APIKey == b.APIKey && a.BaseURL == b.BaseURL &&
		a.Model == b.Model && reflect.DeepEqual(a.Options, b.Options)
}

func timeoutsEqual(a, b TimeoutsConfig) bool {
	return a.DefaultMs == b.DefaultMs && maps.Equal(a.PerToolMs, b.PerToolMs)
}

func toolsEqual(a, b ToolsConfig) bool {
	if a.Demo != b.Demo || a.GitHub != b.GitHub {
		return false
	}
	ac, bc := a.CLI, b.CLI
	if ac.Enabled != bc.Enabled || ac.Command != bc.Command || ac.MaxOutputBytes != bc.MaxOutputBytes {
		return false
	}
	if len(ac.Args) != len(bc.Args) {
		return false
	}
	for i := range ac.Args {
		if ac.Args[i] != bc.Args[i] {
			return false
		}
	}
	return true
}
