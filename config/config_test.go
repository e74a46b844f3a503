//
// Copyright (C) 2025 FlowBuilder Authors. All rights reserved.
//
// flowengine is licensed under the Apache License Version 2.0.
//

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, "info", cfg.LogLevel)
	assert.Equal(t, "bolt://localhost:7687", cfg.Neo4j.URI)
	assert.Equal(t, "neo4j", cfg.Neo4j.User)
	assert.Zero(t, cfg.VariableTimeout())
	assert.Zero(t, cfg.EvalTimeout())
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
addr: ":9090"
logLevel: debug
neo4j:
  uri: bolt://db:7687
  user: engine
  password: secret
  database: flows
variableTimeoutMs: 250
evalTimeoutMs: 2000
`), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":9090", cfg.Addr)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "bolt://db:7687", cfg.Neo4j.URI)
	assert.Equal(t, "engine", cfg.Neo4j.User)
	assert.Equal(t, "secret", cfg.Neo4j.Password)
	assert.Equal(t, "flows", cfg.Neo4j.Database)
	assert.Equal(t, 250*time.Millisecond, cfg.VariableTimeout())
	assert.Equal(t, 2*time.Second, cfg.EvalTimeout())
}

func TestEnvOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("addr: \":9090\"\n"), 0o600))

	t.Setenv("FLOWENGINE_ADDR", ":7070")
	t.Setenv("NEO4J_URI", "bolt://env:7687")
	t.Setenv("FLOWENGINE_VARIABLE_TIMEOUT_MS", "123")

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, ":7070", cfg.Addr)
	assert.Equal(t, "bolt://env:7687", cfg.Neo4j.URI)
	assert.Equal(t, 123*time.Millisecond, cfg.VariableTimeout())
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}

func TestLoadMalformedFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("addr: [unclosed"), 0o600))

	_, err := Load(path)
	assert.Error(t, err)
}
