// Copyright (C) 2025 Graphsheet Labs (eng@graphsheet.io)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package config loads and validates the planner service configuration.
//
// Configuration comes from three layers, later layers winning: Default(),
// an optional YAML file, and SERIESSYNC_* environment variables. Secrets
// (gateway bearer token, Influx token) are never stored in the file; the
// file names the environment variable that carries them.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/graphsheet/seriessync/services/planner/coverage"
	"github.com/graphsheet/seriessync/services/planner/executor"
	"github.com/graphsheet/seriessync/services/planner/storage/badgerstore"
	"github.com/graphsheet/seriessync/services/planner/storage/influxstore"
	"github.com/graphsheet/seriessync/services/planner/telemetry"
	"github.com/graphsheet/seriessync/services/planner/transport"
)

// validate is the shared validator instance for config structs.
var validate = validator.New()

// Config is the full planner service configuration.
type Config struct {
	Server    ServerConfig            `yaml:"server" json:"server"`
	Storage   StorageConfig           `yaml:"storage" json:"storage"`
	Registry  RegistryConfig          `yaml:"registry" json:"registry"`
	Maturity  coverage.MaturityPolicy `yaml:"maturity" json:"maturity"`
	Executor  ExecutorConfig          `yaml:"executor" json:"executor"`
	Transport TransportConfig         `yaml:"transport" json:"transport"`
	Telemetry telemetry.Config        `yaml:"telemetry" json:"telemetry"`
	Archive   ArchiveConfig           `yaml:"archive" json:"archive"`
}

// ServerConfig controls the HTTP listener.
type ServerConfig struct {
	// ListenAddr is the host:port the service binds.
	ListenAddr string `yaml:"listen_addr" json:"listen_addr" validate:"required"`

	// Mode is the gin mode: debug, release, or test.
	Mode string `yaml:"mode" json:"mode" validate:"oneof=debug release test"`

	// ShutdownGrace bounds how long in-flight requests get on SIGTERM.
	ShutdownGrace time.Duration `yaml:"shutdown_grace" json:"shutdown_grace"`
}

// StorageConfig selects and configures the cache backend. Only the section
// matching Backend is read.
type StorageConfig struct {
	Backend string `yaml:"backend" json:"backend" validate:"required,oneof=memory badger influx"`

	Badger badgerstore.Config `yaml:"badger" json:"badger"`

	// Influx is validated only when Backend is "influx", so an unused
	// section may stay empty.
	Influx influxstore.Config `yaml:"influx" json:"influx" validate:"-"`
}

// RegistryConfig locates the partition definitions file.
type RegistryConfig struct {
	// Path is the partitions YAML export. Empty means an empty registry,
	// which classifies every categorical constraint conservatively.
	Path string `yaml:"path" json:"path"`

	// Watch reloads the registry when the file changes.
	Watch bool `yaml:"watch" json:"watch"`
}

// ExecutorConfig sets execution defaults; requests may lower them.
type ExecutorConfig struct {
	Concurrency int `yaml:"concurrency" json:"concurrency" validate:"gte=0"`
}

// TransportConfig routes item keys to provider gateway endpoints.
type TransportConfig struct {
	// Rules map item-key prefixes to endpoint URLs; longest prefix wins.
	Rules []transport.Rule `yaml:"rules" json:"rules" validate:"dive"`

	// TokenEnv names the environment variable holding the bearer token.
	// The token itself never appears in the config file.
	TokenEnv string `yaml:"token_env" json:"token_env"`

	Gateway transport.GatewayConfig `yaml:"gateway" json:"gateway"`
}

// Token reads the gateway bearer token from the configured environment
// variable. Nil when unset or empty.
func (t TransportConfig) Token() []byte {
	if t.TokenEnv == "" {
		return nil
	}
	if v := os.Getenv(t.TokenEnv); v != "" {
		return []byte(v)
	}
	return nil
}

// ArchiveConfig controls the GCS report archive.
type ArchiveConfig struct {
	Enabled bool `yaml:"enabled" json:"enabled"`

	Bucket string `yaml:"bucket" json:"bucket"`

	// Prefix is the object-name prefix inside the bucket.
	Prefix string `yaml:"prefix" json:"prefix"`

	// CredentialsFile is a service-account JSON path. Empty uses
	// application default credentials.
	CredentialsFile string `yaml:"credentials_file" json:"credentials_file"`
}

// Default returns production defaults with an in-memory cache. A real
// deployment overrides storage and transport.
func Default() Config {
	return Config{
		Server: ServerConfig{
			ListenAddr:    ":8095",
			Mode:          "release",
			ShutdownGrace: 10 * time.Second,
		},
		Storage: StorageConfig{
			Backend: "memory",
			Badger:  badgerstore.DefaultConfig(),
		},
		Maturity: coverage.DefaultMaturityPolicy(),
		Executor: ExecutorConfig{
			Concurrency: executor.DefaultConcurrency,
		},
		Transport: TransportConfig{
			TokenEnv: "SERIESSYNC_GATEWAY_TOKEN",
			Gateway:  transport.DefaultGatewayConfig(),
		},
		Telemetry: telemetry.DefaultConfig(),
		Archive: ArchiveConfig{
			Prefix: "reports",
		},
	}
}

// Load builds the effective configuration: defaults, then the YAML file at
// path (skipped when path is empty), then environment overrides, then
// validation. Fails fast on unreadable files, bad YAML, or invalid values.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	FromEnv(&cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromEnv applies SERIESSYNC_* environment overrides in place. Unset
// variables leave the current value untouched.
func FromEnv(cfg *Config) {
	overrides := []struct {
		key string
		dst *string
	}{
		{"SERIESSYNC_LISTEN_ADDR", &cfg.Server.ListenAddr},
		{"SERIESSYNC_MODE", &cfg.Server.Mode},
		{"SERIESSYNC_STORAGE_BACKEND", &cfg.Storage.Backend},
		{"SERIESSYNC_BADGER_PATH", &cfg.Storage.Badger.Path},
		{"SERIESSYNC_INFLUX_URL", &cfg.Storage.Influx.URL},
		{"SERIESSYNC_INFLUX_TOKEN", &cfg.Storage.Influx.Token},
		{"SERIESSYNC_INFLUX_ORG", &cfg.Storage.Influx.Org},
		{"SERIESSYNC_INFLUX_BUCKET", &cfg.Storage.Influx.Bucket},
		{"SERIESSYNC_REGISTRY_PATH", &cfg.Registry.Path},
		{"SERIESSYNC_ARCHIVE_BUCKET", &cfg.Archive.Bucket},
	}
	for _, o := range overrides {
		if v := os.Getenv(o.key); v != "" {
			*o.dst = v
		}
	}
}

// Validate checks struct tags plus the cross-field rules the tags cannot
// express. The selected storage backend's section is validated; unselected
// sections may stay empty.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("config: %w", err)
	}

	switch c.Storage.Backend {
	case "badger":
		if !c.Storage.Badger.InMemory && c.Storage.Badger.Path == "" {
			return errors.New("config: storage.badger.path is required unless in_memory")
		}
	case "influx":
		if err := validate.Struct(c.Storage.Influx); err != nil {
			return fmt.Errorf("config: storage.influx: %w", err)
		}
	}

	if c.Registry.Watch && c.Registry.Path == "" {
		return errors.New("config: registry.watch requires registry.path")
	}
	if c.Archive.Enabled && c.Archive.Bucket == "" {
		return errors.New("config: archive.enabled requires archive.bucket")
	}
	return nil
}
