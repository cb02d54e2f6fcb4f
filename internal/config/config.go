// Package config loads process configuration from an optional YAML file and
// the environment. Environment variables use the EVENTFLOW_ prefix and
// override file values, e.g. EVENTFLOW_SERVER_PORT=9090.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

type Config struct {
	Server ServerConfig `koanf:"server"`
	Queue  QueueConfig  `koanf:"queue"`
	Store  StoreConfig  `koanf:"store"`
	Auth   AuthConfig   `koanf:"auth"`
}

type ServerConfig struct {
	Port           int           `koanf:"port"`
	RequestTimeout time.Duration `koanf:"request_timeout"`
}

type QueueConfig struct {
	// Path is the directory holding the durable queue's files.
	Path string `koanf:"path"`
}

type StoreConfig struct {
	// Path is the SQLite database file of the session chain store.
	Path string `koanf:"path"`
}

type AuthConfig struct {
	// Keys maps SDK API keys to the app_id they authenticate as. Key
	// issuance and rotation live outside this service.
	Keys map[string]string `koanf:"keys"`
}

// Load reads configuration from path (ignored if the file does not exist)
// and then from the environment.
func Load(path string) (*Config, error) {
	k := koanf.New(".")

	if path != "" {
		if _, err := os.Stat(path); err == nil {
			if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
				return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
			}
		}
	}

	if err := k.Load(env.Provider("EVENTFLOW_", ".", func(s string) string {
		return strings.Replace(strings.ToLower(strings.TrimPrefix(s, "EVENTFLOW_")), "_", ".", -1)
	}), nil); err != nil {
		return nil, err
	}

	// Default values
	if !k.Exists("server.port") {
		k.Set("server.port", 8080)
	}
	if !k.Exists("server.request_timeout") {
		k.Set("server.request_timeout", "30s")
	}
	if !k.Exists("queue.path") {
		k.Set("queue.path", "./data/queue")
	}
	if !k.Exists("store.path") {
		k.Set("store.path", "./data/eventflow.db")
	}

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}
