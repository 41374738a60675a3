// Prodsync - Production Tracking Hierarchy Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/prodsync

package normalize

import (
	"errors"
	"fmt"
)

// ErrIgnored marks a raw notification that produces no ChangeEvent.
// Ignored entries are logged and skipped; they never fail a batch.
var ErrIgnored = errors.New("ignored")

// ignored builds an error wrapping ErrIgnored with a reason.
func ignored(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrIgnored, fmt.Sprintf(format, args...))
}

// IsIgnored reports whether err classifies an entry as Ignored.
func IsIgnored(err error) bool {
	return errors.Is(err, ErrIgnored)
}
