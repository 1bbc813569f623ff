package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/goccy/go-yaml"
	"github.com/kelseyhightower/envconfig"
	"github.com/pelletier/go-toml/v2"
)

// Config holds all application configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server" toml:"server"`
	Logging   LogConfig       `yaml:"logging" toml:"logging"`
	RateLimit RateLimitConfig `yaml:"rate_limit" toml:"rate_limit"`
	Runtime   RuntimeConfig   `yaml:"runtime" toml:"runtime"`
	Fetch     FetchConfig     `yaml:"fetch" toml:"fetch"`
	Frames    FramesConfig    `yaml:"frames" toml:"frames"`
	Dev       DevConfig       `yaml:"dev" toml:"dev"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port string `envconfig:"PORT" default:"8000" yaml:"port" toml:"port"`
	Host string `envconfig:"HOST" default:"0.0.0.0" yaml:"host" toml:"host"`
}

// LogConfig holds logging configuration.
type LogConfig struct {
	Level       string `envconfig:"LOG_LEVEL" default:"info" yaml:"level" toml:"level"`
	Development bool   `envconfig:"LOG_DEV" default:"false" yaml:"development" toml:"development"`
}

// RateLimitConfig holds rate limiting configuration for the hosting surface.
type RateLimitConfig struct {
	RequestsPerSecond int  `envconfig:"RATE_LIMIT_RPS" default:"100" yaml:"requests_per_second" toml:"requests_per_second"`
	Burst             int  `envconfig:"RATE_LIMIT_BURST" default:"200" yaml:"burst" toml:"burst"`
	Enabled           bool `envconfig:"RATE_LIMIT_ENABLED" default:"true" yaml:"enabled" toml:"enabled"`
}

// RuntimeConfig bounds the gadget runtime.
type RuntimeConfig struct {
	// FrameTimeout bounds the wait for an isolated gadget's ready handshake.
	FrameTimeout  time.Duration `envconfig:"FRAME_TIMEOUT" default:"5s" yaml:"frame_timeout" toml:"-"`
	ScriptTimeout time.Duration `envconfig:"SCRIPT_TIMEOUT" default:"10s" yaml:"script_timeout" toml:"-"`
	// CallTimeout is the default deadline of channel calls; zero waits forever.
	CallTimeout time.Duration `envconfig:"CALL_TIMEOUT" default:"30s" yaml:"call_timeout" toml:"-"`
	UserAgent   string        `envconfig:"USER_AGENT" default:"gadgetry/1.0" yaml:"user_agent" toml:"user_agent"`
}

// FetchConfig holds the class and dependency fetcher configuration.
type FetchConfig struct {
	Timeout           time.Duration `envconfig:"FETCH_TIMEOUT" default:"10s" yaml:"timeout" toml:"-"`
	RetryCount        int           `envconfig:"FETCH_RETRIES" default:"3" yaml:"retry_count" toml:"retry_count"`
	RequestsPerSecond int           `envconfig:"FETCH_RPS" default:"50" yaml:"requests_per_second" toml:"requests_per_second"`
	Burst             int           `envconfig:"FETCH_BURST" default:"100" yaml:"burst" toml:"burst"`
}

// FramesConfig selects how isolated gadgets are hosted.
type FramesConfig struct {
	// Mode is "local" (child page in process) or "remote" (dial Endpoint).
	Mode     string `envconfig:"FRAMES_MODE" default:"local" yaml:"mode" toml:"mode"`
	Endpoint string `envconfig:"FRAMES_ENDPOINT" default:"ws://localhost:8000/frame" yaml:"endpoint" toml:"endpoint"`
}

// DevConfig holds development hosting options.
type DevConfig struct {
	GadgetDir string `envconfig:"GADGET_DIR" yaml:"gadget_dir" toml:"gadget_dir"`
	RootURL   string `envconfig:"ROOT_URL" yaml:"root_url" toml:"root_url"`
	Watch     bool   `envconfig:"DEV_WATCH" default:"false" yaml:"watch" toml:"watch"`
	Pattern   string `envconfig:"DEV_WATCH_PATTERN" default:"**/*.{html,js,css}" yaml:"pattern" toml:"pattern"`
}

// Load loads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return &cfg, nil
}

// LoadOrDefault loads configuration from environment or returns default.
func LoadOrDefault() *Config {
	cfg, err := Load()
	if err != nil {
		return Default()
	}
	return cfg
}

// LoadFile loads the environment configuration and overlays the YAML or TOML
// file at path. Keys present in the file win over the environment.
func LoadFile(path string) (*Config, error) {
	cfg, err := Load()
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	case ".toml":
		err = toml.Unmarshal(data, cfg)
	default:
		return nil, fmt.Errorf("unsupported config format %q", filepath.Ext(path))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return cfg, nil
}

// Default returns default configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port: "8000",
			Host: "0.0.0.0",
		},
		Logging: LogConfig{
			Level:       "info",
			Development: false,
		},
		RateLimit: RateLimitConfig{
			RequestsPerSecond: 100,
			Burst:             200,
			Enabled:           true,
		},
		Runtime: RuntimeConfig{
			FrameTimeout:  5 * time.Second,
			ScriptTimeout: 10 * time.Second,
			CallTimeout:   30 * time.Second,
			UserAgent:     "gadgetry/1.0",
		},
		Fetch: FetchConfig{
			Timeout:           10 * time.Second,
			RetryCount:        3,
			RequestsPerSecond: 50,
			Burst:             100,
		},
		Frames: FramesConfig{
			Mode:     "local",
			Endpoint: "ws://localhost:8000/frame",
		},
		Dev: DevConfig{
			Pattern: "**/*.{html,js,css}",
		},
	}
}
