// Prodsync - Production Tracking Hierarchy Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/prodsync

package config

import (
	"fmt"
	"net/url"

	"github.com/tomtom215/prodsync/internal/fieldmap"
	"github.com/tomtom215/prodsync/internal/validation"
)

// ConfigError is a cross-field validation failure.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config error in %s: %s", e.Field, e.Message)
}

// Validate checks struct tags first, then the rules tags cannot express.
func (c *Config) Validate() error {
	if err := validation.ValidateStruct(c); err != nil {
		return err
	}

	if err := validateHTTPURL(c.Remote.URL, "REMOTE_URL"); err != nil {
		return err
	}
	if err := validateHTTPURL(c.Local.URL, "LOCAL_URL"); err != nil {
		return err
	}

	if err := c.validateRemoteFields(); err != nil {
		return err
	}
	if err := c.validateReconcile(); err != nil {
		return err
	}
	if err := c.validateStore(); err != nil {
		return err
	}

	if _, err := fieldmap.New(c.FieldPairs()); err != nil {
		return &ConfigError{Field: "field_map", Message: err.Error()}
	}
	return nil
}

func (c *Config) validateRemoteFields() error {
	r := c.Remote
	if r.AutoSyncField == r.ProjectKeyField {
		return &ConfigError{Field: "remote.auto_sync_field", Message: "must differ from remote.project_key_field"}
	}
	if r.SyncStatusField != "" && (r.SyncStatusField == r.ProjectKeyField || r.SyncStatusField == r.AutoSyncField) {
		return &ConfigError{Field: "remote.sync_status_field", Message: "must not reuse a link or gate field"}
	}
	return nil
}

func (c *Config) validateReconcile() error {
	if c.Reconcile.MaxBackoff < c.Reconcile.InitialBackoff {
		return &ConfigError{Field: "reconcile.max_backoff", Message: "must not be below reconcile.initial_backoff"}
	}
	return nil
}

func (c *Config) validateStore() error {
	s := c.Store
	if s.Path == "" && !s.InMemory {
		return &ConfigError{Field: "store.path", Message: "store path is required"}
	}
	if s.NumCompactors < 2 {
		return &ConfigError{Field: "store.num_compactors", Message: "must be at least 2 (BadgerDB requirement)"}
	}
	if s.GCRatio <= 0 || s.GCRatio >= 1 {
		return &ConfigError{Field: "store.gc_ratio", Message: "must be between 0 and 1"}
	}
	return nil
}

// validateHTTPURL accepts an http(s) base URL with a host and no query.
// A path prefix is allowed since both stores may sit behind a reverse proxy.
func validateHTTPURL(rawURL, fieldName string) error {
	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("%s failed to parse URL: %w", fieldName, err)
	}

	if parsedURL.Scheme != "http" && parsedURL.Scheme != "https" {
		return fmt.Errorf("%s scheme must be http or https, got: %s", fieldName, parsedURL.Scheme)
	}

	if parsedURL.Host == "" {
		return fmt.Errorf("%s host is required", fieldName)
	}

	if parsedURL.RawQuery != "" {
		return fmt.Errorf("%s should not contain query parameters, remove: ?%s", fieldName, parsedURL.RawQuery)
	}

	return nil
}
