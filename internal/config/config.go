// Package config loads the TOML configuration file: detection tuning,
// logging, the optional transition recorder, and per-agent pattern
// overrides.
package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/termscope/termscope/internal/detect"
	"github.com/termscope/termscope/internal/logging"
	"github.com/termscope/termscope/internal/pattern"
	"github.com/termscope/termscope/internal/state"
)

// FileName is the TOML config file name, looked up in ~/.termscope by
// default.
const FileName = "termscope.toml"

// Config is the user-facing configuration.
type Config struct {
	Detection DetectionSettings `toml:"detection"`
	Logging   LoggingSettings   `toml:"logging"`
	Recorder  RecorderSettings  `toml:"recorder"`

	// Patterns holds per-agent signature customization, e.g.
	//
	//	[patterns.claude]
	//	extra_startup_markers = ["my corp banner"]
	Patterns map[string]PatternSettings `toml:"patterns"`
}

// DetectionSettings tunes the detection engine and state manager.
type DetectionSettings struct {
	DebounceMs      int  `toml:"debounce_ms"`
	CacheTTLMs      int  `toml:"cache_ttl_ms"`
	CacheCapacity   int  `toml:"cache_capacity"`
	MaxBufferSize   int  `toml:"max_buffer_size"`
	SkipMinimalData bool `toml:"skip_minimal_data"`

	GraceWindowMs int `toml:"grace_window_ms"`
	HeartbeatSecs int `toml:"heartbeat_secs"`
}

// LoggingSettings mirrors the logging package config.
type LoggingSettings struct {
	Dir    string `toml:"dir"`
	Level  string `toml:"level"`
	Format string `toml:"format"`
	Debug  bool   `toml:"debug"`
}

// RecorderSettings controls the optional sqlite transition recorder.
type RecorderSettings struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// PatternSettings customizes one agent's signatures. The plain fields
// replace the built-in defaults when present (even if empty); the extra_*
// fields append to them.
type PatternSettings struct {
	CommandPrefixes    []string `toml:"command_prefixes"`
	StartupMarkers     []string `toml:"startup_markers"`
	ActivityKeywords   []string `toml:"activity_keywords"`
	TerminationMarkers []string `toml:"termination_markers"`

	ExtraCommandPrefixes    []string `toml:"extra_command_prefixes"`
	ExtraStartupMarkers     []string `toml:"extra_startup_markers"`
	ExtraActivityKeywords   []string `toml:"extra_activity_keywords"`
	ExtraTerminationMarkers []string `toml:"extra_termination_markers"`
}

// Default returns the built-in configuration.
func Default() Config {
	d := detect.DefaultConfig()
	return Config{
		Detection: DetectionSettings{
			DebounceMs:      d.DebounceMs,
			CacheTTLMs:      d.CacheTTLMs,
			CacheCapacity:   d.CacheCapacity,
			MaxBufferSize:   d.MaxBufferSize,
			SkipMinimalData: d.SkipMinimalData,
			GraceWindowMs:   int(state.DefaultGraceWindow / time.Millisecond),
			HeartbeatSecs:   int(state.DefaultHeartbeatInterval / time.Second),
		},
		Logging: LoggingSettings{Level: "info", Format: "json"},
	}
}

// DefaultPath returns ~/.termscope/termscope.toml (falling back to the
// working directory when the home dir cannot be resolved).
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return FileName
	}
	return filepath.Join(home, ".termscope", FileName)
}

// Load reads the config at path, applying defaults for anything unset.
// A missing file is not an error: the defaults are returned.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		path = DefaultPath()
	}
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return Default(), err
	}
	return cfg, nil
}

// Save writes the config to path, creating parent directories.
func Save(path string, cfg Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return toml.NewEncoder(f).Encode(cfg)
}

// DetectConfig converts the detection section into the engine's record.
func (c Config) DetectConfig() detect.Config {
	d := detect.DefaultConfig()
	d.DebounceMs = c.Detection.DebounceMs
	d.CacheTTLMs = c.Detection.CacheTTLMs
	d.CacheCapacity = c.Detection.CacheCapacity
	d.MaxBufferSize = c.Detection.MaxBufferSize
	d.SkipMinimalData = c.Detection.SkipMinimalData
	return d
}

// StateConfig converts the detection section into the state manager's
// record.
func (c Config) StateConfig() state.Config {
	var s state.Config
	if c.Detection.GraceWindowMs > 0 {
		s.GraceWindow = time.Duration(c.Detection.GraceWindowMs) * time.Millisecond
	}
	return s
}

// HeartbeatInterval returns the configured heartbeat period.
func (c Config) HeartbeatInterval() time.Duration {
	if c.Detection.HeartbeatSecs <= 0 {
		return state.DefaultHeartbeatInterval
	}
	return time.Duration(c.Detection.HeartbeatSecs) * time.Second
}

// LoggingConfig converts the logging section.
func (c Config) LoggingConfig() logging.Config {
	return logging.Config{
		LogDir: c.Logging.Dir,
		Level:  c.Logging.Level,
		Format: c.Logging.Format,
		Debug:  c.Logging.Debug,
	}
}

// PatternOverrides splits the [patterns.*] tables into the override and
// extra maps consumed by pattern.NewRegistryWith. Unknown agent names are
// ignored.
func (c Config) PatternOverrides() (overrides, extras map[pattern.AgentType]*pattern.Raw) {
	overrides = make(map[pattern.AgentType]*pattern.Raw)
	extras = make(map[pattern.AgentType]*pattern.Raw)
	for name, ps := range c.Patterns {
		t := pattern.AgentType(name)
		if !t.Valid() {
			continue
		}
		if ps.CommandPrefixes != nil || ps.StartupMarkers != nil ||
			ps.ActivityKeywords != nil || ps.TerminationMarkers != nil {
			overrides[t] = &pattern.Raw{
				CommandPrefixes:    ps.CommandPrefixes,
				StartupMarkers:     ps.StartupMarkers,
				ActivityKeywords:   ps.ActivityKeywords,
				TerminationMarkers: ps.TerminationMarkers,
			}
		}
		if len(ps.ExtraCommandPrefixes) > 0 || len(ps.ExtraStartupMarkers) > 0 ||
			len(ps.ExtraActivityKeywords) > 0 || len(ps.ExtraTerminationMarkers) > 0 {
			extras[t] = &pattern.Raw{
				CommandPrefixes:    ps.ExtraCommandPrefixes,
				StartupMarkers:     ps.ExtraStartupMarkers,
				ActivityKeywords:   ps.ExtraActivityKeywords,
				TerminationMarkers: ps.ExtraTerminationMarkers,
			}
		}
	}
	return overrides, extras
}
