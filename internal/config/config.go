// Package config provides configuration loading for the ycmd client.
//
// Configuration files may be TOML or YAML; the loader is selected by file
// extension. Environment variables with the YCMD_ prefix override file
// values.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ExtraConfPolicy controls how unknown extra-conf files are handled.
type ExtraConfPolicy string

const (
	// PolicyAsk prompts the user for each unknown extra-conf file.
	PolicyAsk ExtraConfPolicy = "ask"
	// PolicyLoad loads unknown extra-conf files without prompting.
	PolicyLoad ExtraConfPolicy = "load"
	// PolicyIgnore ignores unknown extra-conf files without prompting.
	PolicyIgnore ExtraConfPolicy = "ignore"
)

// Duration wraps time.Duration so it can be written as "5s" in config files.
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler (used by TOML).
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	*d = Duration(parsed)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(time.Duration(d).String()), nil
}

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return err
	}
	return d.UnmarshalText([]byte(s))
}

// Std returns the wrapped time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// ServerConfig describes how to launch and supervise the ycmd server.
type ServerConfig struct {
	// Command is the server executable plus leading arguments.
	Command []string `toml:"command" yaml:"command"`
	// Args are extra arguments appended after the options file flag.
	Args []string `toml:"args" yaml:"args"`
	// Host the server binds to. The port is discovered at startup.
	Host string `toml:"host" yaml:"host"`
	// StartupTimeout bounds the wait for the server's readiness line.
	StartupTimeout Duration `toml:"startup_timeout" yaml:"startup_timeout"`
	// ShutdownGrace bounds the wait after an interrupt before a kill.
	ShutdownGrace Duration `toml:"shutdown_grace" yaml:"shutdown_grace"`
	// KeepaliveInterval is the period between /healthy probes.
	KeepaliveInterval Duration `toml:"keepalive_interval" yaml:"keepalive_interval"`
	// KeepLogfiles tells the server not to delete its logfiles on exit.
	KeepLogfiles bool `toml:"keep_logfiles" yaml:"keep_logfiles"`
}

// CompletionConfig holds identifier-completion thresholds.
type CompletionConfig struct {
	MinChars                int  `toml:"min_chars" yaml:"min_chars"`
	MinIdentifierChars      int  `toml:"min_identifier_chars" yaml:"min_identifier_chars"`
	MaxIdentifierCandidates int  `toml:"max_identifier_candidates" yaml:"max_identifier_candidates"`
	AutoTrigger             bool `toml:"auto_trigger" yaml:"auto_trigger"`
}

// ExtraConfConfig controls extra-conf whitelisting.
type ExtraConfConfig struct {
	// Policy applied when the globlist does not decide.
	Policy ExtraConfPolicy `toml:"policy" yaml:"policy"`
	// Globlist entries whitelist ("pattern") or blacklist ("!pattern")
	// extra-conf paths.
	Globlist []string `toml:"globlist" yaml:"globlist"`
	// GlobalPath is a fallback extra-conf script, or empty.
	GlobalPath string `toml:"global_path" yaml:"global_path"`
}

// ParseConfig holds the per-buffer reparse debounce settings.
type ParseConfig struct {
	IdleDebounce  Duration `toml:"idle_debounce" yaml:"idle_debounce"`
	FocusDebounce Duration `toml:"focus_debounce" yaml:"focus_debounce"`
}

// ToolsConfig holds optional external tool paths forwarded to the server.
type ToolsConfig struct {
	Gocode  string `toml:"gocode" yaml:"gocode"`
	Godef   string `toml:"godef" yaml:"godef"`
	RustSrc string `toml:"rust_src" yaml:"rust_src"`
	Python  string `toml:"python" yaml:"python"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `toml:"level" yaml:"level"`
}

// Config is the top-level client configuration.
type Config struct {
	Server     ServerConfig     `toml:"server" yaml:"server"`
	Completion CompletionConfig `toml:"completion" yaml:"completion"`
	ExtraConf  ExtraConfConfig  `toml:"extra_conf" yaml:"extra_conf"`
	Parse      ParseConfig      `toml:"parse" yaml:"parse"`
	Tools      ToolsConfig      `toml:"tools" yaml:"tools"`
	Logging    LoggingConfig    `toml:"logging" yaml:"logging"`
}

// Default returns the default configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Host:              "127.0.0.1",
			StartupTimeout:    Duration(5 * time.Second),
			ShutdownGrace:     Duration(3 * time.Second),
			KeepaliveInterval: Duration(30 * time.Second),
		},
		Completion: CompletionConfig{
			MinChars:                2,
			MinIdentifierChars:      0,
			MaxIdentifierCandidates: 10,
			AutoTrigger:             true,
		},
		ExtraConf: ExtraConfConfig{
			Policy: PolicyAsk,
		},
		Parse: ParseConfig{
			IdleDebounce:  Duration(500 * time.Millisecond),
			FocusDebounce: Duration(100 * time.Millisecond),
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	if len(c.Server.Command) == 0 {
		return fmt.Errorf("server.command must not be empty")
	}
	if c.Server.Host == "" {
		return fmt.Errorf("server.host must not be empty")
	}
	if c.Server.StartupTimeout <= 0 {
		return fmt.Errorf("server.startup_timeout must be positive")
	}
	if c.Server.ShutdownGrace <= 0 {
		return fmt.Errorf("server.shutdown_grace must be positive")
	}
	switch c.ExtraConf.Policy {
	case PolicyAsk, PolicyLoad, PolicyIgnore:
	default:
		return fmt.Errorf("extra_conf.policy must be ask, load, or ignore (got %q)", c.ExtraConf.Policy)
	}
	return nil
}

// Load reads a configuration file, applies environment overrides, and
// validates the result. A missing file is not an error: defaults plus
// environment overrides are returned.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		if err := loadFile(DefaultFS(), path, &cfg); err != nil {
			return cfg, err
		}
	}

	applyEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// applyEnv overrides configuration values from YCMD_* environment variables.
func applyEnv(cfg *Config) {
	if v, ok := os.LookupEnv("YCMD_SERVER_COMMAND"); ok && v != "" {
		cfg.Server.Command = strings.Fields(v)
	}
	if v, ok := os.LookupEnv("YCMD_SERVER_HOST"); ok && v != "" {
		cfg.Server.Host = v
	}
	if v, ok := os.LookupEnv("YCMD_STARTUP_TIMEOUT"); ok {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.StartupTimeout = Duration(d)
		}
	}
	if v, ok := os.LookupEnv("YCMD_KEEPALIVE_INTERVAL"); ok {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Server.KeepaliveInterval = Duration(d)
		}
	}
	if v, ok := os.LookupEnv("YCMD_EXTRA_CONF_POLICY"); ok && v != "" {
		cfg.ExtraConf.Policy = ExtraConfPolicy(v)
	}
	if v, ok := os.LookupEnv("YCMD_GLOBAL_EXTRA_CONF"); ok {
		cfg.ExtraConf.GlobalPath = v
	}
	if v, ok := os.LookupEnv("YCMD_AUTO_TRIGGER"); ok {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Completion.AutoTrigger = b
		}
	}
	if v, ok := os.LookupEnv("YCMD_LOG_LEVEL"); ok && v != "" {
		cfg.Logging.Level = v
	}
}
