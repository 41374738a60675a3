// Prodsync - Production Tracking Hierarchy Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/prodsync

package local

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"

	"github.com/goccy/go-json"

	"github.com/tomtom215/prodsync/internal/fieldmap"
	"github.com/tomtom215/prodsync/internal/models"
	"github.com/tomtom215/prodsync/internal/transport"
)

// Config holds Local store settings.
type Config struct {
	Transport transport.Config

	// PushField gates outbound sync on the project record.
	PushField string
}

// Client implements models.Store and models.ProjectLister for the Local
// pipeline store. Local attribute names are the canonical names.
type Client struct {
	http *transport.Client
	cfg  Config
}

// New creates a Local client.
func New(cfg Config) (*Client, error) {
	cfg.Transport.Name = "local"
	if cfg.Transport.OriginHeader == "" {
		cfg.Transport.OriginHeader = "X-Sender-Type"
	}
	hc, err := transport.New(cfg.Transport)
	if err != nil {
		return nil, err
	}
	return &Client{http: hc, cfg: cfg}, nil
}

// Source identifies this store.
func (c *Client) Source() models.Source { return models.SourceLocal }

// BreakerState exposes the circuit state for health reporting.
func (c *Client) BreakerState() string { return c.http.BreakerState() }

// ListProjects returns every Local project. The project name is both the
// key and the root id.
func (c *Client) ListProjects(ctx context.Context) ([]models.ProjectInfo, error) {
	var projects []ProjectRecord
	if err := c.http.Get(ctx, "/api/projects", nil, &projects); err != nil {
		return nil, err
	}
	out := make([]models.ProjectInfo, 0, len(projects))
	for _, p := range projects {
		enabled, _ := p.Data[c.cfg.PushField].(bool)
		out = append(out, models.ProjectInfo{Key: p.Name, RootID: p.Name, Enabled: enabled})
	}
	return out, nil
}

// Events returns up to limit entity events with sequence > after.
func (c *Client) Events(ctx context.Context, after int64, limit int) ([]Event, error) {
	q := url.Values{}
	q.Set("after", strconv.FormatInt(after, 10))
	q.Set("limit", strconv.Itoa(limit))
	q.Set("topic", "entity.*")

	var resp eventsResponse
	if err := c.http.Get(ctx, "/api/events", q, &resp); err != nil {
		return nil, err
	}
	return resp.Events, nil
}

func entityPath(projectKey string, ref models.Ref) string {
	return fmt.Sprintf("/api/projects/%s/%s/%s", url.PathEscape(projectKey), collection(ref.Type), url.PathEscape(ref.ID))
}

// Get reads one folder or task.
func (c *Client) Get(ctx context.Context, projectKey string, ref models.Ref) (*models.Node, error) {
	var doc entityDoc
	if err := c.http.Get(ctx, entityPath(projectKey, ref), nil, &doc); err != nil {
		return nil, err
	}
	if doc.EntityType == "" {
		doc.EntityType = Category(ref.Type)
	}
	node, ok := toNode(projectKey, doc)
	if !ok {
		return nil, fmt.Errorf("local %s has unsupported type %q/%q", ref, doc.EntityType, doc.FolderType)
	}
	return &node, nil
}

// ReadTree returns root and its descendants down to depth levels. The
// project root is addressed by its name.
func (c *Client) ReadTree(ctx context.Context, projectKey string, root models.Ref, depth int) ([]models.Node, error) {
	q := url.Values{}
	q.Set("depth", strconv.Itoa(depth))

	path := fmt.Sprintf("/api/projects/%s/tree", url.PathEscape(projectKey))
	if root.Type != models.EntityProject {
		path = entityPath(projectKey, root) + "/tree"
	}

	var resp treeResponse
	if err := c.http.Get(ctx, path, q, &resp); err != nil {
		return nil, err
	}

	nodes := make([]models.Node, 0, len(resp.Items)+1)
	if root.Type == models.EntityProject {
		nodes = append(nodes, models.Node{ID: projectKey, Type: models.EntityProject, Name: projectKey})
	}
	for _, doc := range resp.Items {
		if node, ok := toNode(projectKey, doc); ok {
			nodes = append(nodes, node)
		}
	}
	return nodes, nil
}

// Create creates a folder or a task. A 409 answer carries the id of the
// entity that already exists with this name under the parent.
func (c *Client) Create(ctx context.Context, req models.CreateRequest) (models.CreateResult, error) {
	body := createBody{Name: req.Name, Attrib: withoutName(req.Attributes)}
	if req.Type == models.EntityTask {
		body.FolderID = req.Parent.ID
	} else {
		body.FolderType = FolderTypeName(req.Type)
		if req.Parent.Type != models.EntityProject {
			body.ParentID = req.Parent.ID
		}
	}

	path := fmt.Sprintf("/api/projects/%s/%s", url.PathEscape(req.ProjectKey), collection(req.Type))
	var created idResponse
	_, err := c.http.Do(ctx, http.MethodPost, path, nil, body, &created)
	if se, ok := transport.IsConflict(err); ok {
		var existing idResponse
		if jerr := json.Unmarshal(se.Body, &existing); jerr != nil || existing.ID == "" {
			return models.CreateResult{}, fmt.Errorf("local create conflict without id: %w", err)
		}
		return models.CreateResult{ID: existing.ID, Existing: true}, nil
	}
	if err != nil {
		return models.CreateResult{}, err
	}
	return models.CreateResult{ID: created.ID}, nil
}

// Update writes the given canonical attributes; "name" renames.
func (c *Client) Update(ctx context.Context, projectKey string, ref models.Ref, attrs map[string]any) error {
	if len(attrs) == 0 {
		return nil
	}
	body := updateBody{Attrib: withoutName(attrs)}
	if name, ok := attrs[fieldmap.NameField].(string); ok {
		body.Name = name
	}
	_, err := c.http.Do(ctx, http.MethodPatch, entityPath(projectKey, ref), nil, body, nil)
	return err
}

func withoutName(attrs map[string]any) map[string]any {
	if len(attrs) == 0 {
		return nil
	}
	out := make(map[string]any, len(attrs))
	for k, v := range attrs {
		if k != fieldmap.NameField {
			out[k] = v
		}
	}
	return out
}

// toNode converts a Local document. Top-level folders have no parentId and
// hang under the project, which is addressed by its name.
func toNode(projectKey string, doc entityDoc) (models.Node, bool) {
	t, ok := ResolveType(doc.EntityType, doc.FolderType)
	if !ok {
		return models.Node{}, false
	}
	node := models.Node{ID: doc.ID, Type: t, Name: doc.Name, Attributes: doc.Attrib}
	if doc.ParentID == "" {
		node.Parent = &models.Ref{Type: models.EntityProject, ID: projectKey}
		return node, true
	}
	pt := models.EntityProject
	if doc.ParentType != "" {
		if parsed, err := models.ParseEntityType(doc.ParentType); err == nil {
			pt = parsed
		}
	}
	node.Parent = &models.Ref{Type: pt, ID: doc.ParentID}
	return node, true
}
