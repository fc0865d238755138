// Package logging picks the logger profile for the way glowlink is running
// and applies GLOWLINK_LOG_* overrides on top of it.
package logging

import (
	"os"
	"strconv"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/danmuck/glowlink/internal/logs"
)

const (
	EnvLogLevel     = "GLOWLINK_LOG_LEVEL"
	EnvLogTimestamp = "GLOWLINK_LOG_TIMESTAMP"
	EnvLogNoColor   = "GLOWLINK_LOG_NOCOLOR"
	EnvLogBypass    = "GLOWLINK_LOG_BYPASS"
)

type Profile int

const (
	// ProfileDaemon is a long-running node: info with timestamps.
	ProfileDaemon Profile = iota
	// ProfileTool is a one-shot glowd subcommand whose stdout is the result;
	// only warnings reach stderr.
	ProfileTool
	ProfileTest
)

func (p Profile) String() string {
	switch p {
	case ProfileDaemon:
		return "daemon"
	case ProfileTool:
		return "tool"
	case ProfileTest:
		return "test"
	default:
		return "profile(" + strconv.Itoa(int(p)) + ")"
	}
}

func profileConfig(p Profile) logs.Config {
	cfg := logs.DefaultConfig()
	switch p {
	case ProfileTool:
		cfg.Level = logs.WarnLevel
		cfg.Timestamp = false
	case ProfileTest:
		cfg.Level = logs.DebugLevel
		cfg.Timestamp = false
		cfg.NoColor = true
	}
	return cfg
}

var (
	mu         sync.Mutex
	configured bool
	active     = profileConfig(ProfileDaemon)
)

// Setup applies p plus env overrides. Only the first call per process counts,
// so a test binary keeps the test profile whatever the code under test asks for.
func Setup(p Profile) {
	mu.Lock()
	defer mu.Unlock()
	if configured {
		return
	}
	configured = true
	active = withEnv(profileConfig(p))
	logs.Configure(active)
}

func ConfigureTests() { Setup(ProfileTest) }

// ApplyLevel replaces the level of the active profile, e.g. from --log-level.
// The env level still wins.
func ApplyLevel(raw string) bool {
	lvl, ok := parseLevel(raw)
	if !ok {
		return false
	}
	mu.Lock()
	defer mu.Unlock()
	configured = true
	cfg := active
	cfg.Level = lvl
	active = withEnv(cfg)
	logs.Configure(active)
	return true
}

// Active returns the logger configuration in force.
func Active() logs.Config {
	mu.Lock()
	defer mu.Unlock()
	return active
}

func withEnv(cfg logs.Config) logs.Config {
	if lvl, ok := parseLevel(os.Getenv(EnvLogLevel)); ok {
		cfg.Level = lvl
	}
	flags := []struct {
		env string
		dst *bool
	}{
		{EnvLogTimestamp, &cfg.Timestamp},
		{EnvLogNoColor, &cfg.NoColor},
		{EnvLogBypass, &cfg.Bypass},
	}
	for _, f := range flags {
		if v, err := strconv.ParseBool(strings.TrimSpace(os.Getenv(f.env))); err == nil {
			*f.dst = v
		}
	}
	return cfg
}

func parseLevel(raw string) (logs.Level, bool) {
	s := strings.ToLower(strings.TrimSpace(raw))
	switch s {
	case "":
		return logs.InfoLevel, false
	case "warning":
		s = "warn"
	case "off", "none":
		s = "disabled"
	}
	lvl, err := zerolog.ParseLevel(s)
	if err != nil {
		return logs.InfoLevel, false
	}
	return lvl, true
}
