// Package config loads the YAML configuration shared by the server and
// client binaries. Missing keys keep their defaults, so a config file only
// has to name what it changes.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Duration wraps time.Duration so YAML can carry values like "300s" or "5m".
type Duration time.Duration

func (d Duration) Std() time.Duration {
	return time.Duration(d)
}

func (d Duration) MarshalYAML() (any, error) {
	return time.Duration(d).String(), nil
}

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return fmt.Errorf("config: duration must be a string: %w", err)
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("config: invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

type Config struct {
	Server ServerConfig `yaml:"server"`
	Client ClientConfig `yaml:"client"`
	Log    LogConfig    `yaml:"log"`
}

type ServerConfig struct {
	SocketPath        string          `yaml:"socketPath"`
	InactivityTimeout Duration        `yaml:"inactivityTimeout"`
	ReapInterval      Duration        `yaml:"reapInterval"`
	WriteTimeout      Duration        `yaml:"writeTimeout"`
	RateLimit         RateLimitConfig `yaml:"rateLimit"`
}

// RateLimitConfig throttles dispatches when Enabled; requests over the
// limit are dropped without a response.
type RateLimitConfig struct {
	Enabled   bool    `yaml:"enabled"`
	PerSecond float64 `yaml:"perSecond"`
	Burst     int     `yaml:"burst"`
}

type ClientConfig struct {
	SocketPath  string   `yaml:"socketPath"`
	CallTimeout Duration `yaml:"callTimeout"`
	PoolSize    int      `yaml:"poolSize"`
}

type LogConfig struct {
	Level      string `yaml:"level"`
	File       string `yaml:"file"` // rotating JSON sink, empty for console only
	MaxSizeMB  int    `yaml:"maxSizeMB"`
	MaxBackups int    `yaml:"maxBackups"`
	MaxAgeDays int    `yaml:"maxAgeDays"`
	Compress   bool   `yaml:"compress"`
}

func Default() Config {
	return Config{
		Server: ServerConfig{
			SocketPath:        "/tmp/udsrpc.sock",
			InactivityTimeout: Duration(300 * time.Second),
			ReapInterval:      Duration(60 * time.Second),
			WriteTimeout:      Duration(3 * time.Second),
			RateLimit: RateLimitConfig{
				Enabled:   false,
				PerSecond: 1000,
				Burst:     100,
			},
		},
		Client: ClientConfig{
			SocketPath:  "/tmp/udsrpc.sock",
			CallTimeout: Duration(5 * time.Second),
			PoolSize:    4,
		},
		Log: LogConfig{
			Level:      "info",
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 7,
		},
	}
}

// Load reads path and overlays it on Default.
func Load(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}
	cfg := Default()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}
	return cfg, nil
}
