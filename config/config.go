//
// Copyright (C) 2025 FlowBuilder Authors. All rights reserved.
//
// flowengine is licensed under the Apache License Version 2.0.
//

// Package config loads the process configuration from an optional YAML file
// with environment variable overrides.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the process configuration.
type Config struct {
	// Addr is the HTTP listen address.
	Addr string `yaml:"addr"`
	// LogLevel is one of debug, info, warn, error, fatal.
	LogLevel string `yaml:"logLevel"`

	Neo4j Neo4jConfig `yaml:"neo4j"`

	// VariableTimeoutMs bounds each variable evaluation.
	VariableTimeoutMs int `yaml:"variableTimeoutMs"`
	// EvalTimeoutMs bounds ad-hoc evaluator calls and structural queries.
	EvalTimeoutMs int `yaml:"evalTimeoutMs"`
}

// Neo4jConfig holds the graph store connection settings.
type Neo4jConfig struct {
	URI      string `yaml:"uri"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Addr:     ":8080",
		LogLevel: "info",
		Neo4j: Neo4jConfig{
			URI:  "bolt://localhost:7687",
			User: "neo4j",
		},
	}
}

// Load reads the configuration file at path (skipped when path is empty) and
// applies environment overrides on top.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}
	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	setString(&c.Addr, "FLOWENGINE_ADDR")
	setString(&c.LogLevel, "FLOWENGINE_LOG_LEVEL")
	setString(&c.Neo4j.URI, "NEO4J_URI")
	setString(&c.Neo4j.User, "NEO4J_USER")
	setString(&c.Neo4j.Password, "NEO4J_PASSWORD")
	setString(&c.Neo4j.Database, "NEO4J_DATABASE")
	setInt(&c.VariableTimeoutMs, "FLOWENGINE_VARIABLE_TIMEOUT_MS")
	setInt(&c.EvalTimeoutMs, "FLOWENGINE_EVAL_TIMEOUT_MS")
}

// VariableTimeout returns the configured variable budget, zero when unset.
func (c *Config) VariableTimeout() time.Duration {
	return time.Duration(c.VariableTimeoutMs) * time.Millisecond
}

// EvalTimeout returns the configured evaluator budget, zero when unset.
func (c *Config) EvalTimeout() time.Duration {
	return time.Duration(c.EvalTimeoutMs) * time.Millisecond
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}
