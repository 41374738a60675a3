// Prodsync - Production Tracking Hierarchy Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/prodsync

package remote

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"

	"github.com/goccy/go-json"

	"github.com/tomtom215/prodsync/internal/fieldmap"
	"github.com/tomtom215/prodsync/internal/models"
	"github.com/tomtom215/prodsync/internal/syncerr"
	"github.com/tomtom215/prodsync/internal/transport"
)

// Config holds Remote store settings.
type Config struct {
	Transport transport.Config

	// AutoSyncField gates inbound sync on the project record.
	AutoSyncField string
	// ProjectKeyField holds the Local project name on the Remote project.
	ProjectKeyField string
	// SyncStatusField receives "Synced"/"Failed" after a full resync.
	// Empty disables the write.
	SyncStatusField string
}

// Client implements models.Store and models.ProjectLister for the Remote
// production-tracking platform. Attributes cross this boundary in canonical
// (Local) names; translation happens here.
type Client struct {
	http   *transport.Client
	fields *fieldmap.Map
	cfg    Config

	mu       sync.RWMutex
	projects map[string]int64
}

// New creates a Remote client.
func New(cfg Config, fields *fieldmap.Map) (*Client, error) {
	cfg.Transport.Name = "remote"
	if cfg.Transport.OriginHeader == "" {
		cfg.Transport.OriginHeader = "X-Sync-Origin"
	}
	hc, err := transport.New(cfg.Transport)
	if err != nil {
		return nil, err
	}
	return &Client{http: hc, fields: fields, cfg: cfg, projects: make(map[string]int64)}, nil
}

// Source identifies this store.
func (c *Client) Source() models.Source { return models.SourceRemote }

// BreakerState exposes the circuit state for health reporting.
func (c *Client) BreakerState() string { return c.http.BreakerState() }

// ListProjects returns every Remote project that carries a project key.
func (c *Client) ListProjects(ctx context.Context) ([]models.ProjectInfo, error) {
	var resp listResponse[Project]
	if err := c.http.Get(ctx, "/api/v1/projects", nil, &resp); err != nil {
		return nil, err
	}

	out := make([]models.ProjectInfo, 0, len(resp.Data))
	keys := make(map[string]int64, len(resp.Data))
	for _, p := range resp.Data {
		key, _ := p.Fields[c.cfg.ProjectKeyField].(string)
		if key == "" {
			continue
		}
		enabled, _ := p.Fields[c.cfg.AutoSyncField].(bool)
		out = append(out, models.ProjectInfo{Key: key, RootID: FormatID(p.ID), Enabled: enabled})
		keys[key] = p.ID
	}

	c.mu.Lock()
	c.projects = keys
	c.mu.Unlock()
	return out, nil
}

func (c *Client) projectID(ctx context.Context, projectKey string) (int64, error) {
	c.mu.RLock()
	id, ok := c.projects[projectKey]
	c.mu.RUnlock()
	if ok {
		return id, nil
	}
	if _, err := c.ListProjects(ctx); err != nil {
		return 0, err
	}
	c.mu.RLock()
	id, ok = c.projects[projectKey]
	c.mu.RUnlock()
	if !ok {
		return 0, fmt.Errorf("remote project %q: %w", projectKey, syncerr.ErrNotFound)
	}
	return id, nil
}

// EventLog returns up to limit change-log entries with id > afterID, in
// ascending id order.
func (c *Client) EventLog(ctx context.Context, afterID int64, limit int) ([]EventLogEntry, error) {
	q := url.Values{}
	q.Set("after_id", strconv.FormatInt(afterID, 10))
	q.Set("limit", strconv.Itoa(limit))

	var resp listResponse[EventLogEntry]
	if err := c.http.Get(ctx, "/api/v1/event_log", q, &resp); err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// Get reads one entity.
func (c *Client) Get(ctx context.Context, projectKey string, ref models.Ref) (*models.Node, error) {
	var doc entityDoc
	path := fmt.Sprintf("/api/v1/entity/%s/%s", TypeName(ref.Type), url.PathEscape(ref.ID))
	if err := c.http.Get(ctx, path, nil, &doc); err != nil {
		return nil, err
	}
	node, ok := c.toNode(doc)
	if !ok {
		return nil, fmt.Errorf("remote %s has unsupported type %q", ref, doc.Type)
	}
	return &node, nil
}

// ReadTree returns root and its descendants down to depth levels.
func (c *Client) ReadTree(ctx context.Context, projectKey string, root models.Ref, depth int) ([]models.Node, error) {
	q := url.Values{}
	q.Set("depth", strconv.Itoa(depth))

	var resp listResponse[entityDoc]
	path := fmt.Sprintf("/api/v1/entity/%s/%s/tree", TypeName(root.Type), url.PathEscape(root.ID))
	if err := c.http.Get(ctx, path, q, &resp); err != nil {
		return nil, err
	}

	nodes := make([]models.Node, 0, len(resp.Data))
	for _, doc := range resp.Data {
		if node, ok := c.toNode(doc); ok {
			nodes = append(nodes, node)
		}
	}
	return nodes, nil
}

// Create creates an entity. A 409 answer means an entity with this name
// already exists under the parent; its id is adopted.
func (c *Client) Create(ctx context.Context, req models.CreateRequest) (models.CreateResult, error) {
	projectID, err := c.projectID(ctx, req.ProjectKey)
	if err != nil {
		return models.CreateResult{}, err
	}

	fields := c.fields.TranslateToRemote(req.Type, req.Attributes)
	fields[fieldmap.RemoteNameField(req.Type)] = req.Name

	body := createBody{
		Project: EntityLink{Type: TypeName(models.EntityProject), ID: projectID},
		Fields:  fields,
	}
	if req.Parent.Type != models.EntityProject {
		pid, err := ParseID(req.Parent.ID)
		if err != nil {
			return models.CreateResult{}, fmt.Errorf("remote parent id %q: %w", req.Parent.ID, err)
		}
		body.Parent = &EntityLink{Type: TypeName(req.Parent.Type), ID: pid}
	}

	var created idResponse
	_, err = c.http.Do(ctx, http.MethodPost, "/api/v1/entity/"+TypeName(req.Type), nil, body, &created)
	if se, ok := transport.IsConflict(err); ok {
		var existing idResponse
		if jerr := json.Unmarshal(se.Body, &existing); jerr != nil || existing.ID == 0 {
			return models.CreateResult{}, fmt.Errorf("remote create conflict without id: %w", err)
		}
		return models.CreateResult{ID: FormatID(existing.ID), Existing: true}, nil
	}
	if err != nil {
		return models.CreateResult{}, err
	}
	return models.CreateResult{ID: FormatID(created.ID)}, nil
}

// Update writes the given canonical attributes ("name" included).
func (c *Client) Update(ctx context.Context, projectKey string, ref models.Ref, attrs map[string]any) error {
	fields := c.fields.TranslateToRemote(ref.Type, attrs)
	if len(fields) == 0 {
		return nil
	}
	path := fmt.Sprintf("/api/v1/entity/%s/%s", TypeName(ref.Type), url.PathEscape(ref.ID))
	_, err := c.http.Do(ctx, http.MethodPut, path, nil, updateBody{Fields: fields}, nil)
	return err
}

// SetProjectSyncStatus records the outcome of a full resync on the project.
func (c *Client) SetProjectSyncStatus(ctx context.Context, projectKey, status string) error {
	if c.cfg.SyncStatusField == "" {
		return nil
	}
	projectID, err := c.projectID(ctx, projectKey)
	if err != nil {
		return err
	}
	path := "/api/v1/entity/Project/" + FormatID(projectID)
	_, err = c.http.Do(ctx, http.MethodPut, path, nil, updateBody{Fields: map[string]any{c.cfg.SyncStatusField: status}}, nil)
	return err
}

func (c *Client) toNode(doc entityDoc) (models.Node, bool) {
	t, ok := ParseTypeName(doc.Type)
	if !ok {
		return models.Node{}, false
	}
	node := models.Node{
		ID:         FormatID(doc.ID),
		Type:       t,
		Name:       doc.Name,
		Attributes: c.fields.TranslateFromRemote(t, doc.Fields),
	}
	if node.Name == "" {
		if n, ok := doc.Fields[fieldmap.RemoteNameField(t)].(string); ok {
			node.Name = n
		}
	}
	if doc.Parent != nil {
		if pt, ok := ParseTypeName(doc.Parent.Type); ok {
			node.Parent = &models.Ref{Type: pt, ID: FormatID(doc.Parent.ID)}
		}
	}
	return node, true
}
