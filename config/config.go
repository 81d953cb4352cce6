// Package config loads the YAML application config and applies environment
// overrides.
package config

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"

	"earshot/pipeline"
)

// Defaults for everything not set in the file.
const (
	DefaultBackendURL = "ws://127.0.0.1:8757/stream"
	DefaultHealthPort = 8758
	DefaultSocketPath = "/tmp/earshot.sock"
)

// Config is the full application configuration.
type Config struct {
	BackendURL     string  `yaml:"backend_url"`
	HealthPort     int     `yaml:"health_port"`
	SocketPath     string  `yaml:"socket_path"`
	Amplification  float64 `yaml:"amplification"`
	ForwardDivisor int     `yaml:"forward_divisor"`
	ArchivePath    string  `yaml:"archive_path"`
	LogPath        string  `yaml:"log_path"`
}

// Default returns a config with every field at its default.
func Default() *Config {
	return &Config{
		BackendURL:     DefaultBackendURL,
		HealthPort:     DefaultHealthPort,
		SocketPath:     DefaultSocketPath,
		Amplification:  pipeline.DefaultAmplification,
		ForwardDivisor: pipeline.DefaultForwardDivisor,
	}
}

// Load reads the YAML configuration file at path and returns a validated
// [Config]. A missing file is not an error: defaults plus environment
// overrides apply.
func Load(path string) (*Config, error) {
	f, err := os.Open(path)
	if errors.Is(err, os.ErrNotExist) {
		cfg := Default()
		applyEnv(cfg)
		return cfg, Validate(cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("config: open %q: %w", path, err)
	}
	defer f.Close()

	cfg, err := LoadFromReader(f)
	if err != nil {
		return nil, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// LoadFromReader decodes a YAML config from r, applies environment
// overrides, and validates the result. Useful in tests where configs are
// constructed from string literals.
func LoadFromReader(r io.Reader) (*Config, error) {
	cfg := Default()
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(cfg); err != nil && err != io.EOF {
		return nil, fmt.Errorf("config: decode yaml: %w", err)
	}
	applyEnv(cfg)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv lets EARSHOT_* variables override file values, for launchd and
// systemd units that cannot edit the config file.
func applyEnv(cfg *Config) {
	if v := os.Getenv("EARSHOT_BACKEND_URL"); v != "" {
		cfg.BackendURL = v
	}
	if v := os.Getenv("EARSHOT_HEALTH_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.HealthPort = port
		}
	}
	if v := os.Getenv("EARSHOT_SOCKET_PATH"); v != "" {
		cfg.SocketPath = v
	}
	if v := os.Getenv("EARSHOT_ARCHIVE_PATH"); v != "" {
		cfg.ArchivePath = v
	}
	if v := os.Getenv("EARSHOT_LOG_PATH"); v != "" {
		cfg.LogPath = v
	}
}

// Validate checks that cfg contains a coherent set of values. It returns a
// joined error listing all failures found.
func Validate(cfg *Config) error {
	var errs []error

	u, err := url.Parse(cfg.BackendURL)
	if err != nil {
		errs = append(errs, fmt.Errorf("backend_url %q is not a URL: %w", cfg.BackendURL, err))
	} else if u.Scheme != "ws" && u.Scheme != "wss" {
		errs = append(errs, fmt.Errorf("backend_url scheme %q is invalid; valid values: ws, wss", u.Scheme))
	}

	if cfg.HealthPort < 1 || cfg.HealthPort > 65535 {
		errs = append(errs, fmt.Errorf("health_port %d is out of range [1, 65535]", cfg.HealthPort))
	}
	if cfg.SocketPath == "" {
		errs = append(errs, errors.New("socket_path is required"))
	}
	if cfg.Amplification <= 0 {
		errs = append(errs, fmt.Errorf("amplification %.2f must be positive", cfg.Amplification))
	}
	if cfg.ForwardDivisor < 1 {
		errs = append(errs, fmt.Errorf("forward_divisor %d must be at least 1", cfg.ForwardDivisor))
	}

	return errors.Join(errs...)
}
