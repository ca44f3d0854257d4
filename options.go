// Copyright 2016 - 2025 The excelize Authors. All rights reserved. Use of
// this source code is governed by a BSD-style license that can be found in
// the LICENSE file.

package recalc

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config holds the engine settings.
type Config struct {
	// MaxColumns is the number of columns of the grid.
	MaxColumns int `json:"max_columns" yaml:"max_columns" validate:"gte=1,lte=16384"`
	// MaxRows is the number of rows of the grid.
	MaxRows int `json:"max_rows" yaml:"max_rows" validate:"gte=1,lte=1048576"`
	// ParseCacheSize bounds the number of memoized parse results of the
	// default parser. Zero disables memoization.
	ParseCacheSize int `json:"parse_cache_size" yaml:"parse_cache_size" validate:"gte=0"`
	// LogLevel is one of debug, info, warn or error.
	LogLevel string `json:"log_level" yaml:"log_level" validate:"oneof=debug info warn error"`
	// TracingEnabled turns on OpenTelemetry spans for engine operations.
	TracingEnabled bool `json:"tracing_enabled" yaml:"tracing_enabled"`
}

// DefaultConfig returns the default configuration: a full-size worksheet
// grid.
func DefaultConfig() Config {
	return Config{
		MaxColumns:     MaxColumns,
		MaxRows:        TotalRows,
		ParseCacheSize: 4096,
		LogLevel:       "info",
		TracingEnabled: true,
	}
}

var configValidate = validator.New()

// Validate checks the configuration values.
func (c Config) Validate() error {
	if err := configValidate.Struct(c); err != nil {
		return fmt.Errorf("%w: %w", ErrParameterInvalid, err)
	}
	return nil
}

// LoadConfig reads a YAML configuration file. Keys missing from the file
// keep their default values.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("parsing config file: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// ParseLogLevel converts a configured level name to a slog level.
func ParseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("%w: unknown log level %q", ErrParameterInvalid, level)
}

// NewLogger returns a JSON logger writing to w at the given level.
func NewLogger(level string, w io.Writer) (*slog.Logger, error) {
	lvl, err := ParseLogLevel(level)
	if err != nil {
		return nil, err
	}
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl})), nil
}
