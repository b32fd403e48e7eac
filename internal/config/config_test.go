package config

import (
	"errors"
	"io/fs"
	"testing"
	"time"
)

// fakeFS is an in-memory FileSystem for loader tests.
type fakeFS struct {
	files map[string][]byte
}

func (f fakeFS) Open(name string) (fs.File, error) {
	return nil, fs.ErrNotExist
}

func (f fakeFS) ReadFile(path string) ([]byte, error) {
	data, ok := f.files[path]
	if !ok {
		return nil, fs.ErrNotExist
	}
	return data, nil
}

func (f fakeFS) Stat(path string) (fs.FileInfo, error) {
	return nil, fs.ErrNotExist
}

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Server.Host != "127.0.0.1" {
		t.Errorf("expected default host 127.0.0.1, got %q", cfg.Server.Host)
	}
	if cfg.Server.StartupTimeout.Std() != 5*time.Second {
		t.Errorf("expected startup timeout 5s, got %v", cfg.Server.StartupTimeout.Std())
	}
	if cfg.Server.KeepaliveInterval.Std() != 30*time.Second {
		t.Errorf("expected keepalive interval 30s, got %v", cfg.Server.KeepaliveInterval.Std())
	}
	if cfg.ExtraConf.Policy != PolicyAsk {
		t.Errorf("expected default policy ask, got %q", cfg.ExtraConf.Policy)
	}
	if !cfg.Completion.AutoTrigger {
		t.Error("expected auto_trigger enabled by default")
	}
}

func TestLoadWithFS_TOML(t *testing.T) {
	fsys := fakeFS{files: map[string][]byte{
		"client.toml": []byte(`
[server]
command = ["python3", "/opt/ycmd"]
host = "localhost"
startup_timeout = "10s"

[extra_conf]
policy = "ignore"
globlist = ["~/work/*", "!~/work/vendor/*"]
`),
	}}

	cfg, err := LoadWithFS(fsys, "client.toml")
	if err != nil {
		t.Fatalf("LoadWithFS() error: %v", err)
	}

	if len(cfg.Server.Command) != 2 || cfg.Server.Command[0] != "python3" {
		t.Errorf("unexpected command: %v", cfg.Server.Command)
	}
	if cfg.Server.Host != "localhost" {
		t.Errorf("expected host localhost, got %q", cfg.Server.Host)
	}
	if cfg.Server.StartupTimeout.Std() != 10*time.Second {
		t.Errorf("expected startup timeout 10s, got %v", cfg.Server.StartupTimeout.Std())
	}
	if cfg.ExtraConf.Policy != PolicyIgnore {
		t.Errorf("expected policy ignore, got %q", cfg.ExtraConf.Policy)
	}
	if len(cfg.ExtraConf.Globlist) != 2 {
		t.Errorf("expected 2 globlist entries, got %v", cfg.ExtraConf.Globlist)
	}
	// Unset sections keep defaults.
	if cfg.Parse.IdleDebounce.Std() != 500*time.Millisecond {
		t.Errorf("expected default idle debounce, got %v", cfg.Parse.IdleDebounce.Std())
	}
}

func TestLoadWithFS_YAML(t *testing.T) {
	fsys := fakeFS{files: map[string][]byte{
		"client.yaml": []byte(`
server:
  command: ["ycmd"]
  keepalive_interval: "45s"
completion:
  min_chars: 3
  auto_trigger: true
`),
	}}

	cfg, err := LoadWithFS(fsys, "client.yaml")
	if err != nil {
		t.Fatalf("LoadWithFS() error: %v", err)
	}

	if cfg.Server.KeepaliveInterval.Std() != 45*time.Second {
		t.Errorf("expected keepalive 45s, got %v", cfg.Server.KeepaliveInterval.Std())
	}
	if cfg.Completion.MinChars != 3 {
		t.Errorf("expected min_chars 3, got %d", cfg.Completion.MinChars)
	}
}

func TestLoadWithFS_MissingFileUsesDefaults(t *testing.T) {
	t.Setenv("YCMD_SERVER_COMMAND", "ycmd --fallback")

	cfg, err := LoadWithFS(fakeFS{files: map[string][]byte{}}, "absent.toml")
	if err != nil {
		t.Fatalf("LoadWithFS() error: %v", err)
	}
	if len(cfg.Server.Command) != 2 || cfg.Server.Command[0] != "ycmd" {
		t.Errorf("expected env command, got %v", cfg.Server.Command)
	}
}

func TestLoadWithFS_ParseError(t *testing.T) {
	fsys := fakeFS{files: map[string][]byte{
		"bad.toml": []byte("[server\ncommand="),
	}}

	_, err := LoadWithFS(fsys, "bad.toml")
	if err == nil {
		t.Fatal("expected parse error")
	}
	var perr *ParseError
	if !errors.As(err, &perr) {
		t.Errorf("expected *ParseError, got %T", err)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("YCMD_SERVER_COMMAND", "/usr/bin/ycmd")
	t.Setenv("YCMD_SERVER_HOST", "0.0.0.0")
	t.Setenv("YCMD_STARTUP_TIMEOUT", "12s")
	t.Setenv("YCMD_EXTRA_CONF_POLICY", "load")
	t.Setenv("YCMD_AUTO_TRIGGER", "false")
	t.Setenv("YCMD_LOG_LEVEL", "debug")

	cfg := Default()
	applyEnv(&cfg)

	if cfg.Server.Command[0] != "/usr/bin/ycmd" {
		t.Errorf("unexpected command: %v", cfg.Server.Command)
	}
	if cfg.Server.Host != "0.0.0.0" {
		t.Errorf("unexpected host: %q", cfg.Server.Host)
	}
	if cfg.Server.StartupTimeout.Std() != 12*time.Second {
		t.Errorf("unexpected startup timeout: %v", cfg.Server.StartupTimeout.Std())
	}
	if cfg.ExtraConf.Policy != PolicyLoad {
		t.Errorf("unexpected policy: %q", cfg.ExtraConf.Policy)
	}
	if cfg.Completion.AutoTrigger {
		t.Error("expected auto_trigger disabled via env")
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("unexpected log level: %q", cfg.Logging.Level)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(c *Config) { c.Server.Command = []string{"ycmd"} }, false},
		{"empty command", func(c *Config) {}, true},
		{"empty host", func(c *Config) {
			c.Server.Command = []string{"ycmd"}
			c.Server.Host = ""
		}, true},
		{"zero startup timeout", func(c *Config) {
			c.Server.Command = []string{"ycmd"}
			c.Server.StartupTimeout = 0
		}, true},
		{"bad policy", func(c *Config) {
			c.Server.Command = []string{"ycmd"}
			c.ExtraConf.Policy = "maybe"
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr && err == nil {
				t.Error("expected error, got nil")
			}
			if !tt.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

func TestDuration_UnmarshalText(t *testing.T) {
	var d Duration
	if err := d.UnmarshalText([]byte("1500ms")); err != nil {
		t.Fatalf("UnmarshalText() error: %v", err)
	}
	if d.Std() != 1500*time.Millisecond {
		t.Errorf("expected 1.5s, got %v", d.Std())
	}

	if err := d.UnmarshalText([]byte("not-a-duration")); err == nil {
		t.Error("expected error for invalid duration")
	}
}
