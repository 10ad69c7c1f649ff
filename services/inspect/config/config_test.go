// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	assert.Equal(t, 8, cfg.Workers)
	assert.Equal(t, int64(10*1024*1024), cfg.MaxFileSize)
	assert.Equal(t, 5*time.Minute, cfg.Timeout)
	assert.Equal(t, 256, cfg.ReferenceCacheSize)
	assert.Equal(t, ":8089", cfg.HTTP.Addr)
	assert.Equal(t, 10.0, cfg.HTTP.RateLimit)
	assert.Contains(t, cfg.Exclude, "{obj,**/obj}")
	assert.False(t, cfg.Neo4j.Enabled())
	assert.Empty(t, cfg.References)
	require.NoError(t, cfg.Validate())
}

func TestParse_OverBase(t *testing.T) {
	base := Default()
	cfg, err := Parse([]byte(`
workers: 2
timeout: 30s
exclude: ["legacy/**"]
projects:
  - assembly: Acme.Orders
    patterns: ["src/Orders/**"]
neo4j:
  uri: bolt://localhost:7687
`), base)
	require.NoError(t, err)

	assert.Equal(t, 2, cfg.Workers)
	assert.Equal(t, 30*time.Second, cfg.Timeout)
	assert.Equal(t, []string{"legacy/**"}, cfg.Exclude)
	require.Len(t, cfg.Projects, 1)
	assert.Equal(t, "Acme.Orders", cfg.Projects[0].Assembly)
	assert.True(t, cfg.Neo4j.Enabled())
	assert.Equal(t, "neo4j", cfg.Neo4j.User)

	// Unset keys keep the base values, and the base is untouched.
	assert.Equal(t, ":8089", cfg.HTTP.Addr)
	assert.Equal(t, 8, base.Workers)
	assert.Contains(t, base.Exclude, "{obj,**/obj}")
}

func TestParse_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"zero workers", "workers: 0\n"},
		{"negative file size", "max_file_size: -1\n"},
		{"project without patterns", "projects:\n  - assembly: A\n    patterns: []\n"},
		{"project without assembly", "projects:\n  - patterns: [\"src/**\"]\n"},
		{"bad exclude glob", "exclude: [\"[unterminated\"]\n"},
		{"bad neo4j uri", "neo4j:\n  uri: \"not a uri\"\n"},
		{"empty http addr", "http:\n  addr: \"\"\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml), Default())
			assert.ErrorIs(t, err, ErrInvalidConfig)
		})
	}

	_, err := Parse([]byte("workers: [1, 2]\n"), Default())
	assert.Error(t, err)
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "inspect.yaml")
	require.NoError(t, os.WriteFile(path, []byte("workers: 3\nreferences: [\"/opt/refs\"]\n"), 0o644))

	cfg, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 3, cfg.Workers)
	assert.Equal(t, []string{"/opt/refs"}, cfg.References)

	_, err = LoadFile(filepath.Join(dir, "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestApplyEnv(t *testing.T) {
	env := map[string]string{
		"INSPECT_WORKERS":         "16",
		"INSPECT_TIMEOUT":         "90s",
		"INSPECT_EXCLUDE":         "a/**, b/** ,",
		"INSPECT_REFERENCES":      "/r1" + string(os.PathListSeparator) + "/r2",
		"INSPECT_STORE_PATH":      "/var/lib/inspect",
		"INSPECT_HTTP_RATE_LIMIT": "2.5",
		"INSPECT_NEO4J_URI":       "neo4j://graph:7687",
		"INSPECT_NEO4J_PASSWORD":  " secret ",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	cfg := Default()
	require.NoError(t, cfg.ApplyEnv(lookup))
	assert.Equal(t, 16, cfg.Workers)
	assert.Equal(t, 90*time.Second, cfg.Timeout)
	assert.Equal(t, []string{"a/**", "b/**"}, cfg.Exclude)
	assert.Equal(t, []string{"/r1", "/r2"}, cfg.References)
	assert.Equal(t, "/var/lib/inspect", cfg.Store.Path)
	assert.Equal(t, 2.5, cfg.HTTP.RateLimit)
	assert.Equal(t, "neo4j://graph:7687", cfg.Neo4j.URI)
	assert.Equal(t, " secret ", cfg.Neo4j.Password)
	require.NoError(t, cfg.Validate())

	dir, err := cfg.StoreDir()
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/inspect", dir)
}

func TestApplyEnv_BadValues(t *testing.T) {
	env := map[string]string{"INSPECT_WORKERS": "many", "INSPECT_TIMEOUT": "soon"}
	cfg := Default()
	err := cfg.ApplyEnv(func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	})
	assert.ErrorIs(t, err, ErrInvalidConfig)
	assert.Contains(t, err.Error(), "INSPECT_WORKERS")
	assert.Contains(t, err.Error(), "INSPECT_TIMEOUT")
}

func TestLoad(t *testing.T) {
	t.Chdir(t.TempDir())
	t.Setenv("INSPECT_WORKERS", "5")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 5, cfg.Workers)

	require.NoError(t, os.WriteFile(".env", []byte("INSPECT_HTTP_ADDR=:9999\n"), 0o644))
	t.Setenv("INSPECT_HTTP_ADDR", "")
	os.Unsetenv("INSPECT_HTTP_ADDR")
	cfg, err = Load("")
	require.NoError(t, err)
	assert.Equal(t, ":9999", cfg.HTTP.Addr)
}

func TestStoreDir_Default(t *testing.T) {
	if _, err := os.UserCacheDir(); err != nil {
		t.Skip("no user cache directory")
	}
	dir, err := Default().StoreDir()
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(dir, filepath.Join("aleutian", "inspect", "reports")), dir)
}
