package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/BurntSushi/toml"
)

// Config represents the global ~/.carechat/config.toml.
type Config struct {
	DefaultProfile       string   `toml:"default_profile"`
	APIBaseURL           string   `toml:"api_base_url"`
	RealtimeURL          string   `toml:"realtime_url"`
	PollInterval         Duration `toml:"poll_interval"`
	RequestTimeout       Duration `toml:"request_timeout"`
	RequestsPerSecond    float64  `toml:"requests_per_second"`
	ReconnectBaseDelay   Duration `toml:"reconnect_base_delay"`
	ReconnectMaxDelay    Duration `toml:"reconnect_max_delay"`
	MaxReconnectAttempts int      `toml:"max_reconnect_attempts"`
	PollFailureThreshold int      `toml:"poll_failure_threshold"`
}

// Duration is a time.Duration that reads and writes as "10s" in TOML.
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		DefaultProfile:       "main",
		APIBaseURL:           "http://127.0.0.1:8085",
		RealtimeURL:          "ws://127.0.0.1:8085/realtime",
		PollInterval:         Duration{10 * time.Second},
		RequestTimeout:       Duration{15 * time.Second},
		RequestsPerSecond:    5,
		ReconnectBaseDelay:   Duration{time.Second},
		ReconnectMaxDelay:    Duration{30 * time.Second},
		MaxReconnectAttempts: 10,
		PollFailureThreshold: 3,
	}
}

// Load reads config from the given path on top of the defaults. Returns
// error if file missing.
func Load(path string) (*Config, error) {
	cfg := Default()
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOrDefault is Load that falls back to the defaults when the file does
// not exist.
func LoadOrDefault(path string) (*Config, error) {
	cfg, err := Load(path)
	if os.IsNotExist(err) {
		return Default(), nil
	}
	return cfg, err
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

// ApplyEnv overlays CARECHAT_* environment variables.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	if v := getenv("CARECHAT_PROFILE"); v != "" {
		c.DefaultProfile = v
	}
	if v := getenv("CARECHAT_API_BASE_URL"); v != "" {
		c.APIBaseURL = v
	}
	if v := getenv("CARECHAT_REALTIME_URL"); v != "" {
		c.RealtimeURL = v
	}
	if v := getenv("CARECHAT_POLL_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("CARECHAT_POLL_INTERVAL: %w", err)
		}
		c.PollInterval = Duration{d}
	}
	if v := getenv("CARECHAT_REQUESTS_PER_SECOND"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("CARECHAT_REQUESTS_PER_SECOND: %w", err)
		}
		c.RequestsPerSecond = f
	}
	return nil
}
