// Prodsync - Production Tracking Hierarchy Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/prodsync

package config

import (
	"time"

	"github.com/tomtom215/prodsync/internal/fieldmap"
)

// Config holds all hub configuration.
//
// Configuration Loading Order (Koanf v2):
//  1. Defaults: built-in values for every optional setting
//  2. Config File: optional YAML file (CONFIG_PATH, config.yaml, /etc/prodsync/config.yaml)
//  3. Environment Variables: override any mapped setting
//
// Example:
//
//	cfg, err := config.Load()
//	if err != nil {
//	    log.Fatal("Failed to load config:", err)
//	}
//	db, err := wal.Open(&walCfg) // walCfg built from cfg.Store
//
// Config is immutable after Load and safe for concurrent reads.
type Config struct {
	Remote     RemoteConfig     `koanf:"remote"`
	Local      LocalConfig      `koanf:"local"`
	Ingest     IngestConfig     `koanf:"ingest"`
	Dispatch   DispatchConfig   `koanf:"dispatch"`
	Reconcile  ReconcileConfig  `koanf:"reconcile"`
	Store      StoreConfig      `koanf:"store"`
	Identity   IdentityConfig   `koanf:"identity"`
	Server     ServerConfig     `koanf:"server"`
	Logging    LoggingConfig    `koanf:"logging"`
	Supervisor SupervisorConfig `koanf:"supervisor"`

	// FieldMap declares the field equivalences. Empty uses fieldmap.DefaultPairs.
	FieldMap []fieldmap.Pair `koanf:"field_map" validate:"dive"`
}

// RemoteConfig configures the production-tracking store.
//
// Environment Variables:
//   - REMOTE_URL, REMOTE_TOKEN, REMOTE_ORIGIN
//   - REMOTE_AUTO_SYNC_FIELD (default: sg_ayon_auto_sync)
//   - REMOTE_PROJECT_KEY_FIELD (default: sg_ayon_id)
//   - REMOTE_SYNC_STATUS_FIELD (default: sg_ayon_sync_status, empty disables)
//   - REMOTE_RESERVED_FIELDS: comma-separated field names
type RemoteConfig struct {
	URL         string `koanf:"url" validate:"required"`
	Token       string `koanf:"token" validate:"required"`
	TokenHeader string `koanf:"token_header"`

	// Origin tags every hub write so the Remote poller can drop the echo.
	Origin string `koanf:"origin" validate:"required,max=64"`

	Timeout           time.Duration `koanf:"timeout" validate:"gte=0"`
	RequestsPerSecond float64       `koanf:"requests_per_second" validate:"gte=0"`
	Burst             int           `koanf:"burst" validate:"gte=0"`
	BreakerTimeout    time.Duration `koanf:"breaker_timeout" validate:"gte=0"`

	AutoSyncField   string `koanf:"auto_sync_field" validate:"required"`
	ProjectKeyField string `koanf:"project_key_field" validate:"required"`
	SyncStatusField string `koanf:"sync_status_field"`

	// ReservedFields are extra Remote fields owned by other integrations.
	// Changes to them are never synchronized.
	ReservedFields []string `koanf:"reserved_fields"`
}

// LocalConfig configures the pipeline store.
type LocalConfig struct {
	URL         string `koanf:"url" validate:"required"`
	Token       string `koanf:"token" validate:"required"`
	TokenHeader string `koanf:"token_header"`
	Origin      string `koanf:"origin" validate:"required,max=64"`

	Timeout           time.Duration `koanf:"timeout" validate:"gte=0"`
	RequestsPerSecond float64       `koanf:"requests_per_second" validate:"gte=0"`
	Burst             int           `koanf:"burst" validate:"gte=0"`
	BreakerTimeout    time.Duration `koanf:"breaker_timeout" validate:"gte=0"`

	// PushField is the project data flag that enables Local to Remote sync.
	PushField string `koanf:"push_field" validate:"required"`
}

// IngestConfig configures both pollers.
type IngestConfig struct {
	PollInterval time.Duration `koanf:"poll_interval" validate:"gte=0"`
	PageSize     int           `koanf:"page_size" validate:"gte=1,lte=1000"`
	MaxPages     int           `koanf:"max_pages" validate:"gte=1"`

	// EchoWindow bounds how long after a hub write an untagged change is
	// still compared against the written values.
	EchoWindow time.Duration `koanf:"echo_window" validate:"gte=0"`
}

// DispatchConfig configures the worker pool.
type DispatchConfig struct {
	Workers int `koanf:"workers" validate:"gte=1,lte=256"`
}

// ReconcileConfig configures retries and full resyncs.
type ReconcileConfig struct {
	MaxAttempts    int           `koanf:"max_attempts" validate:"gte=1"`
	InitialBackoff time.Duration `koanf:"initial_backoff" validate:"gte=0"`
	MaxBackoff     time.Duration `koanf:"max_backoff" validate:"gte=0"`
	ResyncDepth    int           `koanf:"resync_depth" validate:"gte=1,lte=5"`
}

// StoreConfig configures the BadgerDB database shared by the backlog, the
// identity map, watermarks and failure records.
type StoreConfig struct {
	Path             string        `koanf:"path"`
	InMemory         bool          `koanf:"in_memory"`
	SyncWrites       bool          `koanf:"sync_writes"`
	CompactInterval  time.Duration `koanf:"compact_interval"`
	MemTableSize     int64         `koanf:"mem_table_size"`
	ValueLogFileSize int64         `koanf:"value_log_file_size"`
	NumCompactors    int           `koanf:"num_compactors"`
	BlockCacheSize   int64         `koanf:"block_cache_size"`
	Compression      bool          `koanf:"compression"`
	GCRatio          float64       `koanf:"gc_ratio"`
	CloseTimeout     time.Duration `koanf:"close_timeout"`
}

// IdentityConfig configures tombstone purging.
type IdentityConfig struct {
	TombstoneGrace time.Duration `koanf:"tombstone_grace" validate:"gte=0"`
	PurgeInterval  time.Duration `koanf:"purge_interval" validate:"gte=0"`
}

// ServerConfig configures the admin HTTP server.
type ServerConfig struct {
	Host            string        `koanf:"host"`
	Port            int           `koanf:"port" validate:"gte=1,lte=65535"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`

	RateLimitRequests int           `koanf:"rate_limit_requests" validate:"gte=0"`
	RateLimitWindow   time.Duration `koanf:"rate_limit_window"`
	RateLimitDisabled bool          `koanf:"rate_limit_disabled"`
}

// LoggingConfig configures zerolog.
//
// Environment Variables:
//   - LOG_LEVEL: trace, debug, info, warn, error (default: info)
//   - LOG_FORMAT: json, console (default: json)
//   - LOG_CALLER: include caller file:line (default: false)
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn error"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// SupervisorConfig configures the suture tree.
type SupervisorConfig struct {
	FailureThreshold float64       `koanf:"failure_threshold" validate:"gte=0"`
	FailureDecay     float64       `koanf:"failure_decay" validate:"gte=0"`
	FailureBackoff   time.Duration `koanf:"failure_backoff"`
	ShutdownTimeout  time.Duration `koanf:"shutdown_timeout"`
}

// FieldPairs returns the configured field map, or the defaults when none is set.
func (c *Config) FieldPairs() []fieldmap.Pair {
	if len(c.FieldMap) == 0 {
		return fieldmap.DefaultPairs()
	}
	return c.FieldMap
}

// Load loads configuration using Koanf with layered sources.
func Load() (*Config, error) {
	return LoadWithKoanf()
}
