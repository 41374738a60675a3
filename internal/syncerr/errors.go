// Prodsync - Production Tracking Hierarchy Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/prodsync

// Package syncerr defines the error taxonomy shared by the ingestors,
// reconciler and store adapters.
//
// Only TransientIOError is retried. ResolutionError and IdentityConflictError
// end a reconciliation in the Failed state. SchemaMismatchError is reported
// per field and never aborts a reconciliation.
package syncerr

import (
	"context"
	"errors"
	"fmt"
)

// ErrNotFound is returned by stores and the identity map for unknown ids.
var ErrNotFound = errors.New("not found")

// Kind labels used in failure records and metrics.
const (
	KindTransient        = "transient"
	KindResolution       = "resolution"
	KindSchemaMismatch   = "schema_mismatch"
	KindIdentityConflict = "identity_conflict"
	KindNotFound         = "not_found"
	KindCanceled         = "canceled"
	KindInternal         = "internal"
)

// TransientIOError is a retryable failure talking to a store
// (network error, timeout, rate limit, 5xx, open circuit).
type TransientIOError struct {
	Op         string
	StatusCode int
	Cause      error
}

// NewTransient wraps cause as a retryable error.
func NewTransient(op string, statusCode int, cause error) *TransientIOError {
	return &TransientIOError{Op: op, StatusCode: statusCode, Cause: cause}
}

func (e *TransientIOError) Error() string {
	msg := "transient I/O error during " + e.Op
	if e.StatusCode != 0 {
		msg += fmt.Sprintf(" (HTTP %d)", e.StatusCode)
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *TransientIOError) Unwrap() error { return e.Cause }

// ResolutionError means an entity or one of its ancestors could not be
// resolved in the source or created in the target.
type ResolutionError struct {
	ProjectKey string
	Ref        string
	Reason     string
	Cause      error
}

// NewResolution builds a ResolutionError.
func NewResolution(projectKey, ref, reason string, cause error) *ResolutionError {
	return &ResolutionError{ProjectKey: projectKey, Ref: ref, Reason: reason, Cause: cause}
}

func (e *ResolutionError) Error() string {
	msg := fmt.Sprintf("cannot resolve %s in project %s: %s", e.Ref, e.ProjectKey, e.Reason)
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

func (e *ResolutionError) Unwrap() error { return e.Cause }

// SchemaMismatchError reports a payload field without a configured equivalent
// in the target schema. The field is skipped.
type SchemaMismatchError struct {
	Target string
	Type   string
	Field  string
}

func (e *SchemaMismatchError) Error() string {
	return fmt.Sprintf("no %s equivalent for %s field %q", e.Target, e.Type, e.Field)
}

// IdentityConflictError means two different source entities resolve to the
// same target id. It needs manual intervention.
type IdentityConflictError struct {
	ProjectKey string
	EntityType string
	LocalID    string
	RemoteID   string
	Existing   string
}

func (e *IdentityConflictError) Error() string {
	return fmt.Sprintf("identity conflict in project %s: %s local=%s remote=%s already mapped to %s",
		e.ProjectKey, e.EntityType, e.LocalID, e.RemoteID, e.Existing)
}

// IsTransient reports whether err should be retried.
func IsTransient(err error) bool {
	var te *TransientIOError
	return errors.As(err, &te)
}

// IsNotFound reports whether err wraps ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// Kind returns the taxonomy label for err.
func Kind(err error) string {
	if err == nil {
		return ""
	}
	var (
		te *TransientIOError
		re *ResolutionError
		se *SchemaMismatchError
		ce *IdentityConflictError
	)
	switch {
	case errors.As(err, &ce):
		return KindIdentityConflict
	case errors.As(err, &re):
		return KindResolution
	case errors.As(err, &se):
		return KindSchemaMismatch
	case errors.As(err, &te):
		return KindTransient
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return KindCanceled
	default:
		return KindInternal
	}
}
