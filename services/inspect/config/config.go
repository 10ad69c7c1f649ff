// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the inspector configuration: embedded defaults,
// an optional YAML file, then INSPECT_* environment overrides.
package config

import (
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/AleutianAI/AleutianInspect/services/inspect/discover"
)

//go:embed defaults.yaml
var defaultsYAML []byte

// MaxFileSize is the largest configuration file accepted.
const MaxFileSize = 1 << 20

// EnvPrefix prefixes every environment override.
const EnvPrefix = "INSPECT_"

// ErrInvalidConfig is returned when a configuration fails validation.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the inspector configuration.
//
// Thread Safety: Immutable after loading; safe for concurrent use.
type Config struct {
	// Workers bounds the files in flight during a scan.
	Workers int `yaml:"workers" validate:"min=1,max=1024"`

	// MaxFileSize is the largest source file accepted, in bytes.
	MaxFileSize int64 `yaml:"max_file_size" validate:"min=1"`

	// Timeout bounds one scan. Zero disables it.
	Timeout time.Duration `yaml:"timeout" validate:"min=0"`

	// References are reference assembly files or directories.
	References []string `yaml:"references"`

	ReferenceCacheSize int `yaml:"reference_cache_size" validate:"min=0"`

	Projects []discover.Project `yaml:"projects" validate:"dive"`

	Exclude []string `yaml:"exclude"`

	Store StoreConfig `yaml:"store"`
	HTTP  HTTPConfig  `yaml:"http"`
	Neo4j Neo4jConfig `yaml:"neo4j"`
}

// StoreConfig configures the report store.
type StoreConfig struct {
	Path string `yaml:"path"`
}

// HTTPConfig configures the HTTP API.
type HTTPConfig struct {
	Addr      string  `yaml:"addr" validate:"required"`
	RateLimit float64 `yaml:"rate_limit" validate:"min=0"`
	Burst     int     `yaml:"burst" validate:"min=0"`
}

// Neo4jConfig configures call-graph export.
type Neo4jConfig struct {
	URI      string `yaml:"uri" validate:"omitempty,uri"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
}

// Enabled reports whether an export target is configured.
func (n Neo4jConfig) Enabled() bool {
	return n.URI != ""
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Default returns the built-in configuration.
func Default() *Config {
	cfg, err := Parse(defaultsYAML, nil)
	if err != nil {
		panic(fmt.Sprintf("config: embedded defaults: %v", err))
	}
	return cfg
}

// Parse decodes YAML over base, or over an empty configuration when base is
// nil, and validates the result. base is not modified.
func Parse(data []byte, base *Config) (*Config, error) {
	if len(data) > MaxFileSize {
		return nil, fmt.Errorf("%w: %d bytes exceeds %d", ErrInvalidConfig, len(data), MaxFileSize)
	}
	var cfg Config
	if base != nil {
		cfg = base.clone()
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("parsing YAML: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadFile reads a YAML file over the defaults.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config %s: %w", path, err)
	}
	cfg, err := Parse(data, Default())
	if err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

// Load builds the effective configuration.
//
// Description:
//
//	Starts from the defaults, applies the YAML file at path when path is
//	not empty, loads a .env file from the working directory when present,
//	then applies INSPECT_* environment variables. The result is validated.
//
// Inputs:
//
//	path - Optional configuration file.
//
// Outputs:
//
//	*Config - The effective configuration.
//	error - A read, parse or validation failure.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		var err error
		if cfg, err = LoadFile(path); err != nil {
			return nil, err
		}
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		slog.Warn("ignoring unreadable .env file", slog.String("error", err.Error()))
	}
	if err := cfg.ApplyEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	slog.Debug("configuration loaded",
		slog.String("file", path),
		slog.Int("workers", cfg.Workers),
		slog.Int("references", len(cfg.References)),
		slog.Int("projects", len(cfg.Projects)),
	)
	return cfg, nil
}

// ApplyEnv applies INSPECT_* overrides read through lookup.
//
// Lists use the platform path-list separator for INSPECT_REFERENCES and
// commas for INSPECT_EXCLUDE.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	get := func(key string) (string, bool) {
		v, ok := lookup(EnvPrefix + key)
		return strings.TrimSpace(v), ok
	}
	var errs []error
	if v, ok := get("WORKERS"); ok {
		n, err := strconv.Atoi(v)
		errs = append(errs, envErr("WORKERS", err))
		c.Workers = n
	}
	if v, ok := get("MAX_FILE_SIZE"); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		errs = append(errs, envErr("MAX_FILE_SIZE", err))
		c.MaxFileSize = n
	}
	if v, ok := get("TIMEOUT"); ok {
		d, err := time.ParseDuration(v)
		errs = append(errs, envErr("TIMEOUT", err))
		c.Timeout = d
	}
	if v, ok := get("REFERENCES"); ok {
		c.References = splitList(v, string(os.PathListSeparator))
	}
	if v, ok := get("EXCLUDE"); ok {
		c.Exclude = splitList(v, ",")
	}
	if v, ok := get("STORE_PATH"); ok {
		c.Store.Path = v
	}
	if v, ok := get("HTTP_ADDR"); ok {
		c.HTTP.Addr = v
	}
	if v, ok := get("HTTP_RATE_LIMIT"); ok {
		f, err := strconv.ParseFloat(v, 64)
		errs = append(errs, envErr("HTTP_RATE_LIMIT", err))
		c.HTTP.RateLimit = f
	}
	if v, ok := get("NEO4J_URI"); ok {
		c.Neo4j.URI = v
	}
	if v, ok := get("NEO4J_USER"); ok {
		c.Neo4j.User = v
	}
	if v, ok := lookup(EnvPrefix + "NEO4J_PASSWORD"); ok {
		c.Neo4j.Password = v
	}
	if v, ok := get("NEO4J_DATABASE"); ok {
		c.Neo4j.Database = v
	}
	return errors.Join(errs...)
}

func envErr(key string, err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s%s: %v", ErrInvalidConfig, EnvPrefix, key, err)
}

func splitList(v, sep string) []string {
	var out []string
	for _, p := range strings.Split(v, sep) {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate checks field constraints and that every glob pattern compiles.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if err := c.DiscoverOptions().Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// DiscoverOptions returns the discovery options of the configuration.
func (c *Config) DiscoverOptions() discover.Options {
	return discover.Options{Exclude: c.Exclude, Projects: c.Projects}
}

// StoreDir returns the report store directory, defaulting to a directory
// under the user cache directory.
func (c *Config) StoreDir() (string, error) {
	if c.Store.Path != "" {
		return c.Store.Path, nil
	}
	dir, err := os.UserCacheDir()
	if err != nil {
		return "", fmt.Errorf("locating cache directory: %w", err)
	}
	return filepath.Join(dir, "aleutian", "inspect", "reports"), nil
}

func (c *Config) clone() Config {
	out := *c
	out.References = append([]string(nil), c.References...)
	out.Exclude = append([]string(nil), c.Exclude...)
	out.Projects = append([]discover.Project(nil), c.Projects...)
	return out
}
