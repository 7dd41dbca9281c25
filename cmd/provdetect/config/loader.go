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
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

var (
	// Global is the loaded configuration.
	Global  ProvConfig
	once    sync.Once
	loadErr error
)

// DefaultPath returns ~/.aleutian/provdetect.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("could not find the user's home directory: %w", err)
	}
	return filepath.Join(home, ".aleutian", "provdetect.yaml"), nil
}

// Load reads the config at path into Global, once. An empty path uses
// DefaultPath. A missing file is created with defaults.
func Load(path string) error {
	once.Do(func() {
		Global, loadErr = LoadFrom(path)
	})
	return loadErr
}

// LoadFrom reads and validates the config at path without touching
// Global. Keys absent from the file keep their defaults.
func LoadFrom(path string) (ProvConfig, error) {
	if path == "" {
		p, err := DefaultPath()
		if err != nil {
			return ProvConfig{}, err
		}
		path = p
	}
	path = expandHome(path)

	if _, err := os.Stat(path); os.IsNotExist(err) {
		if err := createDefault(path); err != nil {
			return ProvConfig{}, err
		}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return ProvConfig{}, fmt.Errorf("failed to read the config file: %w", err)
	}
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return ProvConfig{}, fmt.Errorf("failed to parse %s: %w", path, err)
	}

	cfg.Storage.Path = expandHome(cfg.Storage.Path)
	cfg.History.Path = expandHome(cfg.History.Path)
	cfg.Logging.Dir = expandHome(cfg.Logging.Dir)

	if err := Validate(cfg); err != nil {
		return ProvConfig{}, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate checks the struct tag constraints on cfg.
func Validate(cfg ProvConfig) error {
	return validator.New().Struct(cfg)
}

func createDefault(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create the config directory: %w", err)
	}
	data, err := yaml.Marshal(DefaultConfig())
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func expandHome(path string) string {
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
