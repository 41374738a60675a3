// Prodsync - Production Tracking Hierarchy Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/prodsync

package models

import (
	"fmt"
	"strings"
)

// EntityType is one level of a project hierarchy. The set is closed.
type EntityType string

const (
	EntityProject  EntityType = "project"
	EntityEpisode  EntityType = "episode"
	EntitySequence EntityType = "sequence"
	EntityShot     EntityType = "shot"
	EntityTask     EntityType = "task"
)

// entityTypes lists the supported types in hierarchy order (root first).
var entityTypes = []EntityType{EntityProject, EntityEpisode, EntitySequence, EntityShot, EntityTask}

// allowedParents is the ordered parent-type constraint for every type.
var allowedParents = map[EntityType][]EntityType{
	EntityProject:  nil,
	EntityEpisode:  {EntityProject},
	EntitySequence: {EntityEpisode, EntityProject},
	EntityShot:     {EntitySequence, EntityEpisode, EntityProject},
	EntityTask:     {EntityShot, EntitySequence, EntityEpisode},
}

// MaxHierarchyDepth is the number of levels a chain of ancestors can span.
const MaxHierarchyDepth = 5

// EntityTypes returns the supported types in hierarchy order.
func EntityTypes() []EntityType {
	out := make([]EntityType, len(entityTypes))
	copy(out, entityTypes)
	return out
}

// ParseEntityType converts a case-insensitive name to an EntityType.
func ParseEntityType(s string) (EntityType, error) {
	t := EntityType(strings.ToLower(strings.TrimSpace(s)))
	if !t.Valid() {
		return "", fmt.Errorf("unsupported entity type %q", s)
	}
	return t, nil
}

// Valid reports whether t belongs to the closed set.
func (t EntityType) Valid() bool {
	_, ok := allowedParents[t]
	return ok
}

// Rank is the position of t in the hierarchy, project being 0.
// Unknown types rank after every known type.
func (t EntityType) Rank() int {
	for i, et := range entityTypes {
		if et == t {
			return i
		}
	}
	return len(entityTypes)
}

// AllowedParents returns the parent types t may hang under, most specific first.
func (t EntityType) AllowedParents() []EntityType {
	return allowedParents[t]
}

// CanParent reports whether a node of type parent may own a child of type t.
func (t EntityType) CanParent(parent EntityType) bool {
	for _, p := range allowedParents[t] {
		if p == parent {
			return true
		}
	}
	return false
}

// IsFolder reports whether t is stored as a folder by the Local store.
func (t EntityType) IsFolder() bool {
	return t == EntityEpisode || t == EntitySequence || t == EntityShot
}

func (t EntityType) String() string { return string(t) }

// Source identifies one of the two stores.
type Source string

const (
	SourceLocal  Source = "local"
	SourceRemote Source = "remote"
)

// ParseSource converts "local"/"remote" into a Source.
func ParseSource(s string) (Source, error) {
	switch Source(strings.ToLower(s)) {
	case SourceLocal:
		return SourceLocal, nil
	case SourceRemote:
		return SourceRemote, nil
	default:
		return "", fmt.Errorf("unknown source %q", s)
	}
}

// Opposite returns the store a change from s is reconciled into.
func (s Source) Opposite() Source {
	if s == SourceLocal {
		return SourceRemote
	}
	return SourceLocal
}

// Valid reports whether s is local or remote.
func (s Source) Valid() bool {
	return s == SourceLocal || s == SourceRemote
}

func (s Source) String() string { return string(s) }

// Ref points at an entity inside one store.
type Ref struct {
	Type EntityType `json:"type"`
	ID   string     `json:"id"`
}

// IsZero reports whether the ref is unset.
func (r Ref) IsZero() bool { return r.ID == "" }

func (r Ref) String() string { return string(r.Type) + ":" + r.ID }

// Entity is one node in a project hierarchy as seen from both stores.
// LocalID and RemoteID are populated once the entity exists on that side.
type Entity struct {
	Type       EntityType     `json:"type"`
	LocalID    string         `json:"local_id,omitempty"`
	RemoteID   string         `json:"remote_id,omitempty"`
	Name       string         `json:"name"`
	ParentRef  *Ref           `json:"parent_ref,omitempty"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// IDFor returns the entity's id in the given store.
func (e *Entity) IDFor(s Source) string {
	if s == SourceLocal {
		return e.LocalID
	}
	return e.RemoteID
}

// Node is a single store's view of an entity, as returned by read_tree and get.
// Attribute names are canonical (Local) field names.
type Node struct {
	ID         string         `json:"id"`
	Type       EntityType     `json:"type"`
	Name       string         `json:"name"`
	Parent     *Ref           `json:"parent,omitempty"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// Ref returns a reference to the node itself.
func (n *Node) Ref() Ref { return Ref{Type: n.Type, ID: n.ID} }

// ParentID returns the parent id or "" for roots.
func (n *Node) ParentID() string {
	if n.Parent == nil {
		return ""
	}
	return n.Parent.ID
}
