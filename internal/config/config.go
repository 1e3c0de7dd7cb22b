// cc4me - federated e2e encrypted messaging fabric for autonomous agents
// Copyright (C) 2026 cc4me-project
//
// This file is part of cc4me.
//
// cc4me is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// cc4me is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with cc4me. If not, see <https://www.gnu.org/licenses/>.

// Package config loads relay and agent process configuration from a
// YAML file, with environment variables (optionally from a .env file)
// overriding individual secrets. Grounded on the teacher's
// config/config.go YAML-with-defaults shape.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// RelayConfig is the top-level configuration for cmd/relay.
type RelayConfig struct {
	Environment string          `yaml:"environment"`
	HTTP        HTTPConfig      `yaml:"http"`
	Storage     StorageConfig   `yaml:"storage"`
	Logging     LoggingConfig   `yaml:"logging"`
	Metrics     MetricsConfig   `yaml:"metrics"`
	Admin       AdminConfig     `yaml:"admin"`
	RetryQueue  RetryQueueConfig `yaml:"retryQueue"`
}

// HTTPConfig configures the relay's public HTTP surface.
type HTTPConfig struct {
	Addr            string        `yaml:"addr"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
}

// StorageConfig configures the SQLite-backed store.
type StorageConfig struct {
	Path string `yaml:"path"`
}

// LoggingConfig mirrors the teacher's logging section.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig configures the Prometheus exposition endpoint.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// AdminConfig configures admin-bearer authentication. SecretEnv names
// the environment variable holding the HMAC signing secret; the
// secret itself is never written to the YAML file.
type AdminConfig struct {
	SecretEnv string `yaml:"secretEnv"`
}

// RetryQueueConfig configures the delivery retry scheduler.
type RetryQueueConfig struct {
	TickInterval time.Duration `yaml:"tickInterval"`
	MaxAttempts  int           `yaml:"maxAttempts"`
}

// AgentConfig is the top-level configuration for cmd/agent.
type AgentConfig struct {
	Environment string           `yaml:"environment"`
	Name        string           `yaml:"name"`
	RelayURL    string           `yaml:"relayUrl"`
	KeyPath     string           `yaml:"keyPath"`
	CacheDir    string           `yaml:"cacheDir"`
	Logging     LoggingConfig    `yaml:"logging"`
}

// LoadRelayConfig reads path as YAML, applies defaults, loads envPath
// (if non-empty) into the process environment. It does not read the admin
// secret; AdminSecret resolves that from AdminConfig.SecretEnv.
func LoadRelayConfig(path, envPath string) (*RelayConfig, error) {
	if envPath != "" {
		if err := godotenv.Load(envPath); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("config: load env file: %w", err)
		}
	}

	cfg := &RelayConfig{}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read relay config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse relay config: %w", err)
	}
	setRelayDefaults(cfg)
	return cfg, nil
}

// AdminSecret resolves the admin HMAC secret from the environment
// variable named by AdminConfig.SecretEnv.
func (c *RelayConfig) AdminSecret() ([]byte, error) {
	name := c.Admin.SecretEnv
	if name == "" {
		name = "FABRIC_ADMIN_SECRET"
	}
	secret := os.Getenv(name)
	if secret == "" {
		return nil, fmt.Errorf("config: environment variable %s is not set", name)
	}
	return []byte(secret), nil
}

// LoadAgentConfig reads path as YAML and applies defaults.
func LoadAgentConfig(path, envPath string) (*AgentConfig, error) {
	if envPath != "" {
		if err := godotenv.Load(envPath); err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("config: load env file: %w", err)
		}
	}

	cfg := &AgentConfig{}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read agent config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse agent config: %w", err)
	}
	setAgentDefaults(cfg)
	return cfg, nil
}

func setRelayDefaults(cfg *RelayConfig) {
	if cfg.Environment == "" {
		cfg.Environment = "development"
	}
	if cfg.HTTP.Addr == "" {
		cfg.HTTP.Addr = ":8443"
	}
	if cfg.HTTP.ShutdownTimeout == 0 {
		cfg.HTTP.ShutdownTimeout = 10 * time.Second
	}
	if cfg.Storage.Path == "" {
		cfg.Storage.Path = "fabric-relay.db"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
	if cfg.Metrics.Addr == "" {
		cfg.Metrics.Addr = ":9090"
	}
	if cfg.Admin.SecretEnv == "" {
		cfg.Admin.SecretEnv = "FABRIC_ADMIN_SECRET"
	}
	if cfg.RetryQueue.TickInterval == 0 {
		cfg.RetryQueue.TickInterval = 5 * time.Second
	}
	if cfg.RetryQueue.MaxAttempts == 0 {
		cfg.RetryQueue.MaxAttempts = 6
	}
}

func setAgentDefaults(cfg *AgentConfig) {
	if cfg.Environment == "" {
		cfg.Environment = "development"
	}
	if cfg.CacheDir == "" {
		cfg.CacheDir = ".fabric/cache"
	}
	if cfg.KeyPath == "" {
		cfg.KeyPath = ".fabric/agent.key"
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}
}
