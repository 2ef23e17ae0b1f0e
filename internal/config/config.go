package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/BurntSushi/toml"
)

// Duration wraps time.Duration so it can be written as "3s" in TOML.
type Duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler for TOML decoding.
func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

// MarshalText implements encoding.TextMarshaler for TOML encoding.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Config represents ~/.fitlobby/config.toml. Timing and retry values are
// tunables, not invariants; the defaults mirror the backend's own limits.
type Config struct {
	ServerURL string `toml:"server_url"`
	Token     string `toml:"token"`

	UserID      string `toml:"user_id"`
	DisplayName string `toml:"display_name"`
	GroupID     string `toml:"group_id"`

	PollInterval     Duration `toml:"poll_interval"`
	PushMaxRetries   int      `toml:"push_max_retries"`
	PollMaxFailures  int      `toml:"poll_max_failures"`
	RetryBaseBackoff Duration `toml:"retry_base_backoff"`

	InviteTTL           Duration `toml:"invite_ttl"`
	InviteSweepInterval Duration `toml:"invite_sweep_interval"`

	ChatEchoWindow Duration `toml:"chat_echo_window"`
	ChatPageSize   int      `toml:"chat_page_size"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		ServerURL:           "https://lobby.fitlobby.dev",
		PollInterval:        Duration{3 * time.Second},
		PushMaxRetries:      5,
		PollMaxFailures:     5,
		RetryBaseBackoff:    Duration{500 * time.Millisecond},
		InviteTTL:           Duration{5 * time.Minute},
		InviteSweepInterval: Duration{60 * time.Second},
		ChatEchoWindow:      Duration{5 * time.Second},
		ChatPageSize:        50,
	}
}

// Load reads config from path, layered over defaults. A missing file is not
// an error: the defaults are returned as-is.
func Load(path string) (*Config, error) {
	cfg := Default()
	_, err := toml.DecodeFile(path, cfg)
	if errors.Is(err, fs.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnv overlays FITLOBBY_* environment variables onto the config.
func (c *Config) ApplyEnv() {
	if v := os.Getenv("FITLOBBY_SERVER_URL"); v != "" {
		c.ServerURL = v
	}
	if v := os.Getenv("FITLOBBY_TOKEN"); v != "" {
		c.Token = v
	}
	if v := os.Getenv("FITLOBBY_USER_ID"); v != "" {
		c.UserID = v
	}
	if v := os.Getenv("FITLOBBY_GROUP_ID"); v != "" {
		c.GroupID = v
	}
}

// Save writes config to the given path, creating parent dirs as needed.
func Save(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0600)
	if err != nil {
		return err
	}
	encErr := toml.NewEncoder(f).Encode(cfg)
	if closeErr := f.Close(); closeErr != nil && encErr == nil {
		return closeErr
	}
	return encErr
}
