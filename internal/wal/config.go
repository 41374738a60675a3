// Prodsync - Production Tracking Hierarchy Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/prodsync

package wal

import "time"

// Config holds BadgerDB store configuration. It is populated from the
// `store` section of the service configuration.
type Config struct {
	// Path is the directory where BadgerDB stores its files.
	Path string

	// InMemory keeps everything in RAM. Tests only.
	InMemory bool

	// SyncWrites forces fsync after every write. The backlog relies on it
	// to survive a crash between dequeue and completion.
	SyncWrites bool

	// CompactInterval is the time between compaction runs.
	CompactInterval time.Duration

	MemTableSize     int64
	ValueLogFileSize int64
	NumCompactors    int
	BlockCacheSize   int64

	// Compression enables Snappy compression of JSON values.
	Compression bool

	// GCRatio is the value-log GC discard ratio.
	GCRatio float64

	// CloseTimeout bounds Close.
	CloseTimeout time.Duration
}

// DefaultConfig favours durability over throughput.
func DefaultConfig() Config {
	return Config{
		Path:             "/data/prodsync",
		SyncWrites:       true,
		CompactInterval:  15 * time.Minute,
		MemTableSize:     16 * 1024 * 1024,
		ValueLogFileSize: 64 * 1024 * 1024,
		NumCompactors:    2,
		BlockCacheSize:   64 * 1024 * 1024,
		Compression:      true,
		GCRatio:          0.5,
		CloseTimeout:     30 * time.Second,
	}
}

// Validate checks that the configuration is usable.
func (c *Config) Validate() error {
	if c.Path == "" && !c.InMemory {
		return &ConfigError{Field: "Path", Message: "store path is required"}
	}
	if c.CompactInterval < time.Minute {
		return &ConfigError{Field: "CompactInterval", Message: "must be at least 1 minute"}
	}
	if c.MemTableSize < 1024*1024 {
		return &ConfigError{Field: "MemTableSize", Message: "must be at least 1MB"}
	}
	if c.ValueLogFileSize < 1024*1024 {
		return &ConfigError{Field: "ValueLogFileSize", Message: "must be at least 1MB"}
	}
	if c.NumCompactors < 2 {
		return &ConfigError{Field: "NumCompactors", Message: "must be at least 2 (BadgerDB requirement)"}
	}
	if c.GCRatio <= 0 || c.GCRatio >= 1 {
		return &ConfigError{Field: "GCRatio", Message: "must be between 0 and 1"}
	}
	return nil
}

// ConfigError represents a configuration validation error.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return "store config error: " + e.Field + ": " + e.Message
}
