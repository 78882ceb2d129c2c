package config_test

import (
	"testing"
	"time"

	"github.com/shuymn/augur/internal/config"
)

func TestLogLevel_IsValid(t *testing.T) {
	t.Parallel()
	for _, l := range []config.LogLevel{config.LogDebug, config.LogInfo, config.LogWarn, config.LogError} {
		if !l.IsValid() {
			t.Errorf("%q should be valid", l)
		}
	}
	for _, l := range []config.LogLevel{"", "trace", "INFO", "loud"} {
		if l.IsValid() {
			t.Errorf("%q should be invalid", l)
		}
	}
}

func TestTimeouts_Policy(t *testing.T) {
	t.Parallel()
	tc := config.TimeoutsConfig{
		DefaultMs: 30000,
		PerToolMs: map[string]int{"web_search": 60000},
	}

	p := tc.Policy()
	if p.Default != 30*time.Second {
		t.Errorf("Default = %v, want 30s", p.Default)
	}
	if p.PerTool["web_search"] != time.Minute {
		t.Errorf("PerTool[web_search] = %v, want 1m", p.PerTool["web_search"])
	}
}

func TestTimeouts_PolicyEmpty(t *testing.T) {
	t.Parallel()
	p := config.TimeoutsConfig{}.Policy()
	if p.Default != 0 {
		t.Errorf("Default = %v, want 0 (unbounded)", p.Default)
	}
	if p.PerTool != nil {
		t.Errorf("PerTool = %v, want nil", p.PerTool)
	}
}
