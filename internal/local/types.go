// Prodsync - Production Tracking Hierarchy Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/prodsync

package local

import (
	"strings"
	"time"

	"github.com/tomtom215/prodsync/internal/models"
)

// Event is one entry of the Local event log.
type Event struct {
	ID         string       `json:"id"`
	Sequence   int64        `json:"sequence"`
	Topic      string       `json:"topic"`
	Project    string       `json:"project"`
	Summary    EventSummary `json:"summary"`
	Payload    EventPayload `json:"payload"`
	Sender     string       `json:"sender,omitempty"`
	SenderType string       `json:"senderType,omitempty"`
	CreatedAt  time.Time    `json:"createdAt"`
}

// EventSummary identifies the entity an event is about.
type EventSummary struct {
	EntityID   string `json:"entityId"`
	ParentID   string `json:"parentId,omitempty"`
	FolderType string `json:"folderType,omitempty"`
}

// EventPayload carries changed values. Attribs is set by attrib_changed.
type EventPayload struct {
	NewValue any            `json:"newValue,omitempty"`
	OldValue any            `json:"oldValue,omitempty"`
	Attribs  map[string]any `json:"attribs,omitempty"`
}

// ProjectRecord is a Local project.
type ProjectRecord struct {
	Name string         `json:"name"`
	Data map[string]any `json:"data,omitempty"`
}

// entityDoc is a folder or a task as served by the Local API.
type entityDoc struct {
	ID         string         `json:"id"`
	EntityType string         `json:"entityType"`
	Name       string         `json:"name"`
	FolderType string         `json:"folderType,omitempty"`
	ParentID   string         `json:"parentId,omitempty"`
	ParentType string         `json:"parentType,omitempty"`
	Attrib     map[string]any `json:"attrib,omitempty"`
}

type eventsResponse struct {
	Events []Event `json:"events"`
}

type treeResponse struct {
	Items []entityDoc `json:"items"`
}

type createBody struct {
	Name       string         `json:"name"`
	FolderType string         `json:"folderType,omitempty"`
	ParentID   string         `json:"parentId,omitempty"`
	FolderID   string         `json:"folderId,omitempty"`
	Attrib     map[string]any `json:"attrib,omitempty"`
}

type updateBody struct {
	Name   string         `json:"name,omitempty"`
	Attrib map[string]any `json:"attrib,omitempty"`
}

type idResponse struct {
	ID string `json:"id"`
}

// Entity categories used in topics and URL paths.
const (
	CategoryFolder = "folder"
	CategoryTask   = "task"
)

// Category returns the Local entity category of t.
func Category(t models.EntityType) string {
	if t == models.EntityTask {
		return CategoryTask
	}
	return CategoryFolder
}

func collection(t models.EntityType) string {
	return Category(t) + "s"
}

// FolderTypeName returns the Local folderType for a folder entity type.
func FolderTypeName(t models.EntityType) string {
	s := string(t)
	if s == "" {
		return ""
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// ResolveType maps a Local category and folderType onto the closed set.
func ResolveType(category, folderType string) (models.EntityType, bool) {
	switch category {
	case CategoryTask:
		return models.EntityTask, true
	case CategoryFolder:
		t, err := models.ParseEntityType(folderType)
		if err != nil || !t.IsFolder() {
			return "", false
		}
		return t, true
	default:
		return "", false
	}
}
