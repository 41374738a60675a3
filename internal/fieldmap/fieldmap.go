// Prodsync - Production Tracking Hierarchy Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/prodsync

// Package fieldmap translates attribute names between the two store schemas.
//
// Canonical names are the Local store's attribute names. The reserved
// canonical field "name" maps to the Remote name field of each type
// ("content" for tasks, "code" for everything else).
package fieldmap

import (
	"fmt"
	"sort"

	"github.com/tomtom215/prodsync/internal/models"
	"github.com/tomtom215/prodsync/internal/syncerr"
)

// NameField is the canonical attribute carrying an entity's name.
const NameField = "name"

// Pair declares one field equivalence. Types restricts it to the listed
// entity types; empty means every type.
type Pair struct {
	Local  string   `koanf:"local" validate:"required"`
	Remote string   `koanf:"remote" validate:"required"`
	Types  []string `koanf:"types"`
}

// DefaultPairs is used when no field map is configured.
func DefaultPairs() []Pair {
	return []Pair{
		{Local: "status", Remote: "sg_status_list"},
		{Local: "description", Remote: "description"},
		{Local: "frameStart", Remote: "sg_cut_in", Types: []string{"shot"}},
		{Local: "frameEnd", Remote: "sg_cut_out", Types: []string{"shot"}},
		{Local: "assignees", Remote: "task_assignees", Types: []string{"task"}},
	}
}

type typedField struct {
	t     models.EntityType
	field string
}

// Map is an immutable, bidirectional field-equivalence table.
type Map struct {
	toRemote map[typedField]string
	toLocal  map[typedField]string
}

// New builds a Map from pairs. Duplicated fields for the same type are rejected.
func New(pairs []Pair) (*Map, error) {
	m := &Map{
		toRemote: make(map[typedField]string),
		toLocal:  make(map[typedField]string),
	}

	for i, p := range pairs {
		if p.Local == "" || p.Remote == "" {
			return nil, fmt.Errorf("field_map[%d]: local and remote are required", i)
		}
		if p.Local == NameField {
			return nil, fmt.Errorf("field_map[%d]: %q is reserved", i, NameField)
		}

		types := models.EntityTypes()
		if len(p.Types) > 0 {
			types = types[:0]
			for _, raw := range p.Types {
				t, err := models.ParseEntityType(raw)
				if err != nil {
					return nil, fmt.Errorf("field_map[%d]: %w", i, err)
				}
				types = append(types, t)
			}
		}

		for _, t := range types {
			lk := typedField{t, p.Local}
			rk := typedField{t, p.Remote}
			if _, dup := m.toRemote[lk]; dup {
				return nil, fmt.Errorf("field_map[%d]: local field %q mapped twice for %s", i, p.Local, t)
			}
			if _, dup := m.toLocal[rk]; dup {
				return nil, fmt.Errorf("field_map[%d]: remote field %q mapped twice for %s", i, p.Remote, t)
			}
			m.toRemote[lk] = p.Remote
			m.toLocal[rk] = p.Local
		}
	}

	return m, nil
}

// MustNew is New for package-level defaults and tests.
func MustNew(pairs []Pair) *Map {
	m, err := New(pairs)
	if err != nil {
		panic(err)
	}
	return m
}

// RemoteNameField returns the Remote attribute holding the name of type t.
func RemoteNameField(t models.EntityType) string {
	if t == models.EntityTask {
		return "content"
	}
	return "code"
}

// ToRemote translates a canonical field name into the Remote schema.
func (m *Map) ToRemote(t models.EntityType, field string) (string, bool) {
	if field == NameField {
		return RemoteNameField(t), true
	}
	f, ok := m.toRemote[typedField{t, field}]
	return f, ok
}

// FromRemote translates a Remote field name into its canonical name.
func (m *Map) FromRemote(t models.EntityType, field string) (string, bool) {
	if field == RemoteNameField(t) {
		return NameField, true
	}
	f, ok := m.toLocal[typedField{t, field}]
	return f, ok
}

// Supported reports whether a canonical field has an equivalent on both sides.
func (m *Map) Supported(t models.EntityType, field string) bool {
	_, ok := m.ToRemote(t, field)
	return ok
}

// Filter keeps the canonical attributes that can be written to target and
// reports every skipped field as a SchemaMismatchError. The name field is
// always dropped from the result; names travel separately.
func (m *Map) Filter(target models.Source, t models.EntityType, attrs map[string]any) (map[string]any, []*syncerr.SchemaMismatchError) {
	if len(attrs) == 0 {
		return nil, nil
	}

	out := make(map[string]any, len(attrs))
	var mismatches []*syncerr.SchemaMismatchError

	for _, k := range sortedKeys(attrs) {
		if k == NameField {
			continue
		}
		if !m.Supported(t, k) {
			mismatches = append(mismatches, &syncerr.SchemaMismatchError{
				Target: string(target),
				Type:   string(t),
				Field:  k,
			})
			continue
		}
		out[k] = attrs[k]
	}

	return out, mismatches
}

// TranslateToRemote renames canonical keys to Remote keys. Unknown keys are dropped.
func (m *Map) TranslateToRemote(t models.EntityType, attrs map[string]any) map[string]any {
	out := make(map[string]any, len(attrs))
	for k, v := range attrs {
		if rk, ok := m.ToRemote(t, k); ok {
			out[rk] = v
		}
	}
	return out
}

// TranslateFromRemote renames Remote keys to canonical keys. Unknown keys are dropped.
func (m *Map) TranslateFromRemote(t models.EntityType, attrs map[string]any) map[string]any {
	out := make(map[string]any, len(attrs))
	for k, v := range attrs {
		if ck, ok := m.FromRemote(t, k); ok && ck != NameField {
			out[ck] = v
		}
	}
	return out
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
