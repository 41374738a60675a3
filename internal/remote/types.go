// Prodsync - Production Tracking Hierarchy Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/prodsync

package remote

import (
	"strconv"
	"strings"
	"time"

	"github.com/tomtom215/prodsync/internal/models"
)

// EntityLink is the {type, id} reference used throughout the Remote API.
type EntityLink struct {
	Type string `json:"type"`
	ID   int64  `json:"id"`
	Name string `json:"name,omitempty"`
}

// EventMeta carries the before and after values of a _Change entry.
type EventMeta struct {
	NewValue any `json:"new_value,omitempty"`
	OldValue any `json:"old_value,omitempty"`
}

// UserLink identifies the writer of an event log entry. Script writes by the
// hub report its origin tag as Name.
type UserLink struct {
	Type string `json:"type"`
	Name string `json:"name"`
}

// EventLogEntry is one row of the Remote change log.
type EventLogEntry struct {
	ID            int64       `json:"id"`
	EventType     string      `json:"event_type"`
	Project       *EntityLink `json:"project,omitempty"`
	Entity        *EntityLink `json:"entity,omitempty"`
	AttributeName string      `json:"attribute_name,omitempty"`
	Meta          EventMeta   `json:"meta"`
	CreatedAt     time.Time   `json:"created_at"`
	User          *UserLink   `json:"user,omitempty"`
}

// Project is a Remote project record.
type Project struct {
	ID     int64          `json:"id"`
	Name   string         `json:"name"`
	Fields map[string]any `json:"fields,omitempty"`
}

type entityDoc struct {
	ID     int64          `json:"id"`
	Type   string         `json:"type"`
	Name   string         `json:"name"`
	Parent *EntityLink    `json:"parent,omitempty"`
	Fields map[string]any `json:"fields,omitempty"`
}

type listResponse[T any] struct {
	Data []T `json:"data"`
}

type createBody struct {
	Project EntityLink     `json:"project"`
	Parent  *EntityLink    `json:"parent,omitempty"`
	Fields  map[string]any `json:"fields"`
}

type updateBody struct {
	Fields map[string]any `json:"fields"`
}

type idResponse struct {
	ID int64 `json:"id"`
}

// TypeName returns the Remote entity type for t ("Shot" for shot).
func TypeName(t models.EntityType) string {
	s := string(t)
	if s == "" {
		return ""
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// ParseTypeName maps a Remote entity type onto the closed set. Types outside
// it (Asset, Version, ...) are reported as unsupported.
func ParseTypeName(name string) (models.EntityType, bool) {
	t, err := models.ParseEntityType(name)
	if err != nil {
		return "", false
	}
	return t, true
}

// FormatID renders a Remote numeric id as the opaque string used in models.
func FormatID(id int64) string {
	return strconv.FormatInt(id, 10)
}

// ParseID is the inverse of FormatID.
func ParseID(id string) (int64, error) {
	return strconv.ParseInt(id, 10, 64)
}
