// Prodsync - Production Tracking Hierarchy Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/prodsync

package normalize

import (
	"strconv"
	"strings"

	"github.com/tomtom215/prodsync/internal/fieldmap"
	"github.com/tomtom215/prodsync/internal/models"
	"github.com/tomtom215/prodsync/internal/remote"
)

const remoteEventPrefix = "Shotgun_"

// Remote converts Remote event-log entries into ChangeEvents.
type Remote struct {
	fields   *fieldmap.Map
	reserved map[string]struct{}
}

// NewRemote creates a Remote normalizer. reserved lists Remote fields the hub
// writes for its own bookkeeping (link id, sync status); changes to them are
// never synchronized.
func NewRemote(fields *fieldmap.Map, reserved ...string) *Remote {
	r := &Remote{fields: fields, reserved: make(map[string]struct{}, len(reserved))}
	for _, f := range reserved {
		if f != "" {
			r.reserved[f] = struct{}{}
		}
	}
	return r
}

// ParseEventType splits "Shotgun_<Type>_<Action>" into its parts.
func ParseEventType(eventType string) (typeName, action string, ok bool) {
	rest, found := strings.CutPrefix(eventType, remoteEventPrefix)
	if !found {
		return "", "", false
	}
	i := strings.LastIndexByte(rest, '_')
	if i <= 0 || i == len(rest)-1 {
		return "", "", false
	}
	return rest[:i], rest[i+1:], true
}

// Normalize converts one entry. projectKey is the shared key of the Remote
// project the entry belongs to, already resolved by the caller.
func (r *Remote) Normalize(entry remote.EventLogEntry, projectKey string) (models.ChangeEvent, error) {
	typeName, action, ok := ParseEventType(entry.EventType)
	if !ok {
		return models.ChangeEvent{}, ignored("malformed event type %q", entry.EventType)
	}
	t, ok := remote.ParseTypeName(typeName)
	if !ok || t == models.EntityProject {
		return models.ChangeEvent{}, ignored("unsupported entity type %q", typeName)
	}
	if entry.Entity == nil || entry.Entity.ID == 0 {
		return models.ChangeEvent{}, ignored("event %d has no entity", entry.ID)
	}

	ev := models.ChangeEvent{
		ID:         "remote-" + strconv.FormatInt(entry.ID, 10),
		Source:     models.SourceRemote,
		ProjectKey: projectKey,
		EntityType: t,
		OriginID:   remote.FormatID(entry.Entity.ID),
		ObservedAt: entry.ID,
		OccurredAt: entry.CreatedAt,
	}
	if entry.User != nil {
		ev.Origin = entry.User.Name
	}

	switch action {
	case "New", "Revival":
		ev.Operation = models.OpCreated
	case "Retirement":
		ev.Operation = models.OpRemoved
	case "Change":
		field, err := r.changedField(t, entry.AttributeName)
		if err != nil {
			return models.ChangeEvent{}, err
		}
		ev.Operation = models.OpUpdated
		ev.Payload = map[string]any{field: entry.Meta.NewValue}
	default:
		return models.ChangeEvent{}, ignored("unsupported action %q", action)
	}
	return ev, nil
}

func (r *Remote) changedField(t models.EntityType, attr string) (string, error) {
	if attr == "" {
		return "", ignored("change without attribute name")
	}
	if _, ok := r.reserved[attr]; ok {
		return "", ignored("bookkeeping field %q", attr)
	}
	field, ok := r.fields.FromRemote(t, attr)
	if !ok {
		return "", ignored("unmapped %s field %q", t, attr)
	}
	return field, nil
}
