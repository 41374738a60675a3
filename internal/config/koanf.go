// Prodsync - Production Tracking Hierarchy Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/prodsync

package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// DefaultConfigPaths lists the paths searched for a config file, in order.
// The first file found is used.
var DefaultConfigPaths = []string{
	"config.yaml",
	"config.yml",
	"/etc/prodsync/config.yaml",
	"/etc/prodsync/config.yml",
}

// ConfigPathEnvVar overrides the config file path.
const ConfigPathEnvVar = "CONFIG_PATH"

// DefaultOrigin is the writer tag the hub puts on its own writes.
const DefaultOrigin = "prodsync"

// defaultConfig returns the built-in defaults. They are applied first, then
// overridden by the config file and environment variables.
func defaultConfig() *Config {
	return &Config{
		Remote: RemoteConfig{
			Origin:            DefaultOrigin,
			Timeout:           30 * time.Second,
			RequestsPerSecond: 10,
			Burst:             20,
			BreakerTimeout:    30 * time.Second,
			AutoSyncField:     "sg_ayon_auto_sync",
			ProjectKeyField:   "sg_ayon_id",
			SyncStatusField:   "sg_ayon_sync_status",
		},
		Local: LocalConfig{
			TokenHeader:       "X-Api-Key",
			Origin:            DefaultOrigin,
			Timeout:           30 * time.Second,
			RequestsPerSecond: 20,
			Burst:             40,
			BreakerTimeout:    30 * time.Second,
			PushField:         "shotgridPush",
		},
		Ingest: IngestConfig{
			PollInterval: 10 * time.Second,
			PageSize:     50,
			MaxPages:     20,
			EchoWindow:   2 * time.Minute,
		},
		Dispatch: DispatchConfig{
			Workers: 4,
		},
		Reconcile: ReconcileConfig{
			MaxAttempts:    5,
			InitialBackoff: 500 * time.Millisecond,
			MaxBackoff:     30 * time.Second,
			ResyncDepth:    5,
		},
		Store: StoreConfig{
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
		},
		Identity: IdentityConfig{
			TombstoneGrace: 72 * time.Hour,
			PurgeInterval:  time.Hour,
		},
		Server: ServerConfig{
			Host:              "0.0.0.0",
			Port:              8470,
			ReadTimeout:       15 * time.Second,
			WriteTimeout:      30 * time.Second,
			ShutdownTimeout:   10 * time.Second,
			RateLimitRequests: 100,
			RateLimitWindow:   time.Minute,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Supervisor: SupervisorConfig{
			FailureThreshold: 5,
			FailureDecay:     30,
			FailureBackoff:   15 * time.Second,
			ShutdownTimeout:  10 * time.Second,
		},
	}
}

// LoadWithKoanf loads configuration from defaults, an optional YAML file and
// environment variables, in increasing priority, then validates it.
func LoadWithKoanf() (*Config, error) {
	k := koanf.New(".")

	// Layer 1: defaults
	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	// Layer 2: config file (optional)
	if configPath := findConfigFile(); configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	// Layer 3: environment variables
	// REMOTE_URL -> remote.url
	// INGEST_POLL_INTERVAL -> ingest.poll_interval
	if err := k.Load(env.Provider("", ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	if err := processSliceFields(k); err != nil {
		return nil, fmt.Errorf("failed to process slice fields: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// findConfigFile returns the first existing config file, or "".
func findConfigFile() string {
	if envPath := os.Getenv(ConfigPathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	for _, path := range DefaultConfigPaths {
		if _, err := os.Stat(path); err == nil {
			return path
		}
	}

	return ""
}

// sliceConfigPaths are parsed as comma-separated lists when they arrive as strings.
var sliceConfigPaths = []string{
	"remote.reserved_fields",
}

// processSliceFields converts comma-separated env values into slices.
func processSliceFields(k *koanf.Koanf) error {
	for _, path := range sliceConfigPaths {
		strVal, ok := k.Get(path).(string)
		if !ok || strVal == "" {
			continue
		}
		parts := strings.Split(strVal, ",")
		trimmed := make([]string, 0, len(parts))
		for _, p := range parts {
			if p = strings.TrimSpace(p); p != "" {
				trimmed = append(trimmed, p)
			}
		}
		if len(trimmed) > 0 {
			if err := k.Set(path, trimmed); err != nil {
				return fmt.Errorf("failed to set %s: %w", path, err)
			}
		}
	}
	return nil
}

// envMappings maps environment variable names (lower-cased) to koanf paths.
var envMappings = map[string]string{
	"remote_url":                 "remote.url",
	"remote_token":               "remote.token",
	"remote_token_header":        "remote.token_header",
	"remote_origin":              "remote.origin",
	"remote_timeout":             "remote.timeout",
	"remote_requests_per_second": "remote.requests_per_second",
	"remote_burst":               "remote.burst",
	"remote_breaker_timeout":     "remote.breaker_timeout",
	"remote_auto_sync_field":     "remote.auto_sync_field",
	"remote_project_key_field":   "remote.project_key_field",
	"remote_sync_status_field":   "remote.sync_status_field",
	"remote_reserved_fields":     "remote.reserved_fields",

	"local_url":                 "local.url",
	"local_token":               "local.token",
	"local_token_header":        "local.token_header",
	"local_origin":              "local.origin",
	"local_timeout":             "local.timeout",
	"local_requests_per_second": "local.requests_per_second",
	"local_burst":               "local.burst",
	"local_breaker_timeout":     "local.breaker_timeout",
	"local_push_field":          "local.push_field",

	"ingest_poll_interval": "ingest.poll_interval",
	"ingest_page_size":     "ingest.page_size",
	"ingest_max_pages":     "ingest.max_pages",
	"ingest_echo_window":   "ingest.echo_window",

	"dispatch_workers": "dispatch.workers",

	"reconcile_max_attempts":    "reconcile.max_attempts",
	"reconcile_initial_backoff": "reconcile.initial_backoff",
	"reconcile_max_backoff":     "reconcile.max_backoff",
	"reconcile_resync_depth":    "reconcile.resync_depth",

	"store_path":             "store.path",
	"store_sync_writes":      "store.sync_writes",
	"store_compact_interval": "store.compact_interval",
	"store_compression":      "store.compression",
	"store_gc_ratio":         "store.gc_ratio",

	"identity_tombstone_grace": "identity.tombstone_grace",
	"identity_purge_interval":  "identity.purge_interval",

	"http_host":             "server.host",
	"http_port":             "server.port",
	"http_read_timeout":     "server.read_timeout",
	"http_write_timeout":    "server.write_timeout",
	"http_shutdown_timeout": "server.shutdown_timeout",
	"rate_limit_requests":   "server.rate_limit_requests",
	"rate_limit_window":     "server.rate_limit_window",
	"disable_rate_limit":    "server.rate_limit_disabled",

	"log_level":  "logging.level",
	"log_format": "logging.format",
	"log_caller": "logging.caller",

	"supervisor_failure_threshold": "supervisor.failure_threshold",
	"supervisor_failure_decay":     "supervisor.failure_decay",
	"supervisor_failure_backoff":   "supervisor.failure_backoff",
	"supervisor_shutdown_timeout":  "supervisor.shutdown_timeout",
}

// envTransformFunc maps an environment variable to its koanf path.
// Unmapped variables return "" and are skipped so that unrelated
// environment does not leak into the configuration.
//
// Examples:
//   - REMOTE_URL -> remote.url
//   - DISPATCH_WORKERS -> dispatch.workers
//   - HTTP_PORT -> server.port
func envTransformFunc(key string) string {
	return envMappings[strings.ToLower(key)]
}
