// Prodsync - Production Tracking Hierarchy Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/prodsync

package normalize

import (
	"strings"

	"github.com/tomtom215/prodsync/internal/fieldmap"
	"github.com/tomtom215/prodsync/internal/local"
	"github.com/tomtom215/prodsync/internal/models"
)

// Local converts Local topic events into ChangeEvents.
type Local struct {
	fields *fieldmap.Map
}

// NewLocal creates a Local normalizer.
func NewLocal(fields *fieldmap.Map) *Local {
	return &Local{fields: fields}
}

// ParseTopic splits "entity.<category>.<action>".
func ParseTopic(topic string) (category, action string, ok bool) {
	parts := strings.Split(topic, ".")
	if len(parts) != 3 || parts[0] != "entity" || parts[1] == "" || parts[2] == "" {
		return "", "", false
	}
	return parts[1], parts[2], true
}

// Normalize converts one Local event.
func (l *Local) Normalize(ev local.Event) (models.ChangeEvent, error) {
	category, action, ok := ParseTopic(ev.Topic)
	if !ok {
		return models.ChangeEvent{}, ignored("unsupported topic %q", ev.Topic)
	}
	t, ok := local.ResolveType(category, ev.Summary.FolderType)
	if !ok {
		return models.ChangeEvent{}, ignored("unsupported %s type %q", category, ev.Summary.FolderType)
	}
	if ev.Project == "" || ev.Summary.EntityID == "" {
		return models.ChangeEvent{}, ignored("event %s has no project or entity", ev.ID)
	}

	out := models.ChangeEvent{
		ID:         "local-" + ev.ID,
		Source:     models.SourceLocal,
		ProjectKey: ev.Project,
		EntityType: t,
		OriginID:   ev.Summary.EntityID,
		ObservedAt: ev.Sequence,
		OccurredAt: ev.CreatedAt,
		Origin:     ev.SenderType,
	}

	switch action {
	case "created":
		out.Operation = models.OpCreated
	case "deleted":
		out.Operation = models.OpRemoved
	case "renamed":
		name, ok := ev.Payload.NewValue.(string)
		if !ok || name == "" {
			return models.ChangeEvent{}, ignored("rename of %s without new name", ev.Summary.EntityID)
		}
		out.Operation = models.OpUpdated
		out.Payload = map[string]any{fieldmap.NameField: name}
	case "status_changed":
		return l.single(out, "status", ev.Payload.NewValue)
	case "assignees_changed":
		return l.single(out, "assignees", ev.Payload.NewValue)
	case "attrib_changed":
		attrs := make(map[string]any, len(ev.Payload.Attribs))
		for k, v := range ev.Payload.Attribs {
			if l.fields.Supported(t, k) {
				attrs[k] = v
			}
		}
		if len(attrs) == 0 {
			return models.ChangeEvent{}, ignored("no mapped attributes changed on %s", ev.Summary.EntityID)
		}
		out.Operation = models.OpUpdated
		out.Payload = attrs
	default:
		return models.ChangeEvent{}, ignored("unsupported action %q", action)
	}
	return out, nil
}

func (l *Local) single(out models.ChangeEvent, field string, value any) (models.ChangeEvent, error) {
	if !l.fields.Supported(out.EntityType, field) {
		return models.ChangeEvent{}, ignored("unmapped %s field %q", out.EntityType, field)
	}
	out.Operation = models.OpUpdated
	out.Payload = map[string]any{field: value}
	return out, nil
}
