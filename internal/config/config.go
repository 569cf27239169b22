// Package config loads the YAML configuration shape: {server:{port,address},
// media:{server:{password}}}. main.go applies its -addr and -password flag
// overrides on top of the loaded values.
package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

const (
	DefaultPort     = 2333
	DefaultAddress  = "0.0.0.0"
	DefaultPassword = "youshallnotpass"
)

// Config is the root configuration document.
type Config struct {
	Server ServerConfig `yaml:"server"`
	Media  MediaConfig  `yaml:"media"`
}

// ServerConfig controls the client-facing listen address.
type ServerConfig struct {
	Port    int    `yaml:"port"`
	Address string `yaml:"address"`
}

// MediaConfig wraps the media server's admission settings.
type MediaConfig struct {
	Server MediaServerConfig `yaml:"server"`
}

// MediaServerConfig carries the admission password checked by
// internal/admission.
type MediaServerConfig struct {
	Password string `yaml:"password"`
}

// Default returns the documented defaults.
func Default() Config {
	return Config{
		Server: ServerConfig{Port: DefaultPort, Address: DefaultAddress},
		Media:  MediaConfig{Server: MediaServerConfig{Password: DefaultPassword}},
	}
}

// Load reads and parses a YAML config file, falling back to Default for any
// field the file omits.
func Load(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %q: %w", path, err)
	}
	return cfg, nil
}

// ListenAddr returns the host:port the client WebSocket should bind.
func (c Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Address, c.Server.Port)
}
