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
	"time"

	"github.com/AleutianAI/AleutianProv/services/provenance/detect"
	"github.com/AleutianAI/AleutianProv/services/provenance/profile"
	"github.com/AleutianAI/AleutianProv/services/provenance/telemetry"
	"github.com/AleutianAI/AleutianProv/services/provenance/watch"
)

// CurrentConfigVersion is written to new config files.
const CurrentConfigVersion = "1"

// ProvConfig is the provdetect configuration file.
type ProvConfig struct {
	Meta MetaConfig `yaml:"meta"`

	// Detection holds the learning and classification parameters,
	// including the engine and clustering limits.
	Detection detect.Config `yaml:"detection"`

	// Storage is the badger profile store.
	Storage profile.StoreConfig `yaml:"storage"`

	// History is the SQLite verdict ledger.
	History HistoryConfig `yaml:"history"`

	Telemetry telemetry.Config `yaml:"telemetry"`
	Logging   LoggingConfig    `yaml:"logging"`
	Server    ServerConfig     `yaml:"server"`
	Watch     watch.Options    `yaml:"watch"`
	Ingest    IngestConfig     `yaml:"ingest"`
}

type MetaConfig struct {
	Version string `yaml:"version"`
}

type HistoryConfig struct {
	// Enabled records every verdict.
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path" validate:"required_if=Enabled true"`
}

type LoggingConfig struct {
	Level string `yaml:"level" validate:"oneof=debug info warn error"`

	// Format is "auto" (JSON when stderr is not a terminal), "text" or
	// "json".
	Format string `yaml:"format" validate:"oneof=auto text json"`

	// Dir enables JSON log files. Empty disables them.
	Dir string `yaml:"dir"`
}

type ServerConfig struct {
	Addr          string        `yaml:"addr" validate:"required"`
	Debug         bool          `yaml:"debug"`
	MaxBodyBytes  int64         `yaml:"max_body_bytes" validate:"gte=0"`
	ShutdownGrace time.Duration `yaml:"shutdown_grace" validate:"gte=0"`
}

type IngestConfig struct {
	// TruncateThreshold is the repeat run that ends `ingest truncate`.
	TruncateThreshold int `yaml:"truncate_threshold" validate:"gte=1"`
}

// dataDir is ~/.aleutian/provdetect, or a relative directory when the home
// directory is unknown.
func dataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".provdetect"
	}
	return filepath.Join(home, ".aleutian", "provdetect")
}

// DefaultConfig returns the configuration written on first run.
func DefaultConfig() ProvConfig {
	dir := dataDir()
	return ProvConfig{
		Meta:      MetaConfig{Version: CurrentConfigVersion},
		Detection: detect.DefaultConfig(),
		Storage:   profile.DefaultStoreConfig(filepath.Join(dir, "profiles")),
		History: HistoryConfig{
			Enabled: true,
			Path:    filepath.Join(dir, "history.db"),
		},
		Telemetry: telemetry.DefaultConfig(),
		Logging: LoggingConfig{
			Level:  "info",
			Format: "auto",
		},
		Server: ServerConfig{
			Addr:          "127.0.0.1:8089",
			MaxBodyBytes:  64 << 20,
			ShutdownGrace: 10 * time.Second,
		},
		Watch:  watch.DefaultOptions(),
		Ingest: IngestConfig{TruncateThreshold: 500},
	}
}
