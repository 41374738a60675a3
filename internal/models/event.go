// Prodsync - Production Tracking Hierarchy Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/prodsync

package models

import (
	"fmt"
	"time"
)

// Operation is the kind of change a ChangeEvent carries.
// The set is closed; the reconciler switches over it exhaustively.
type Operation string

const (
	OpCreated    Operation = "created"
	OpUpdated    Operation = "updated"
	OpRemoved    Operation = "removed"
	OpRenamed    Operation = "renamed"
	OpFullResync Operation = "full-resync"
)

// Valid reports whether op is one of the known operations.
func (op Operation) Valid() bool {
	switch op {
	case OpCreated, OpUpdated, OpRemoved, OpRenamed, OpFullResync:
		return true
	}
	return false
}

func (op Operation) String() string { return string(op) }

// ChangeEvent is a unit of reconciliation work.
//
// ObservedAt is the position in the source change log and is strictly
// increasing per (Source, ProjectKey). OccurredAt is the wall-clock time the
// source recorded the change and is only used to order events across sources.
type ChangeEvent struct {
	ID         string         `json:"id"`
	Source     Source         `json:"source"`
	ProjectKey string         `json:"project_key"`
	EntityType EntityType     `json:"entity_type"`
	Operation  Operation      `json:"operation"`
	OriginID   string         `json:"origin_id"`
	ParentRef  *Ref           `json:"parent_ref,omitempty"`
	ObservedAt int64          `json:"observed_at"`
	OccurredAt time.Time      `json:"occurred_at"`
	Payload    map[string]any `json:"payload,omitempty"`

	// Origin is the writer tag recorded by the source store. Writes issued by
	// the hub carry its own tag so the opposite ingestor can recognise echoes.
	Origin string `json:"origin,omitempty"`

	// Synthetic events come from administrative triggers. They bypass the
	// observed_at dedup and never move the committed high-water mark.
	Synthetic bool `json:"synthetic,omitempty"`
}

// Target returns the store this event is reconciled into.
func (e *ChangeEvent) Target() Source { return e.Source.Opposite() }

// Validate checks the structural invariants every queued event must satisfy.
func (e *ChangeEvent) Validate() error {
	if !e.Source.Valid() {
		return fmt.Errorf("invalid source %q", e.Source)
	}
	if e.ProjectKey == "" {
		return fmt.Errorf("project key is required")
	}
	if !e.Operation.Valid() {
		return fmt.Errorf("invalid operation %q", e.Operation)
	}
	if e.Operation == OpFullResync {
		return nil
	}
	if !e.EntityType.Valid() {
		return fmt.Errorf("invalid entity type %q", e.EntityType)
	}
	if e.OriginID == "" {
		return fmt.Errorf("origin id is required")
	}
	return nil
}

// String renders a compact description for logs.
func (e *ChangeEvent) String() string {
	return fmt.Sprintf("%s/%s %s %s:%s@%d", e.Source, e.ProjectKey, e.Operation, e.EntityType, e.OriginID, e.ObservedAt)
}

// NewFullResync builds the synthetic event that asks the reconciler to diff
// an entire project tree from source into the opposite store.
func NewFullResync(id, projectKey string, source Source, now time.Time) ChangeEvent {
	return ChangeEvent{
		ID:         id,
		Source:     source,
		ProjectKey: projectKey,
		EntityType: EntityProject,
		Operation:  OpFullResync,
		OccurredAt: now,
		Synthetic:  true,
	}
}
