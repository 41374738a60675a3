// Prodsync - Production Tracking Hierarchy Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/prodsync

package local

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/prodsync/internal/models"
	"github.com/tomtom215/prodsync/internal/syncerr"
	"github.com/tomtom215/prodsync/internal/transport"
)

func newTestClient(t *testing.T, mux *http.ServeMux) *Client {
	t.Helper()
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	c, err := New(Config{
		Transport: transport.Config{
			BaseURL: srv.URL,
			Token:   "tok",
			Origin:  "prodsync",
			Timeout: 5 * time.Second,
		},
		PushField: "shotgridPush",
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func TestListProjects(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/projects", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`[{"name":"demo","data":{"shotgridPush":true}},{"name":"quiet","data":{}}]`))
	})
	c := newTestClient(t, mux)

	projects, err := c.ListProjects(context.Background())
	if err != nil {
		t.Fatalf("ListProjects: %v", err)
	}
	if len(projects) != 2 {
		t.Fatalf("expected 2 projects, got %d", len(projects))
	}
	if projects[0].Key != "demo" || projects[0].RootID != "demo" || !projects[0].Enabled {
		t.Errorf("unexpected first project: %+v", projects[0])
	}
	if projects[1].Enabled {
		t.Errorf("expected push disabled, got %+v", projects[1])
	}
}

func TestEvents(t *testing.T) {
	var after, limit, topic string
	mux := http.NewServeMux()
	mux.HandleFunc("/api/events", func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		after, limit, topic = q.Get("after"), q.Get("limit"), q.Get("topic")
		_, _ = w.Write([]byte(`{"events":[{"id":"ev1","sequence":42,"topic":"entity.folder.created","project":"demo",
			"summary":{"entityId":"f1","parentId":"f0","folderType":"Shot"},"payload":{},
			"senderType":"artist","createdAt":"2026-01-02T03:04:05Z"}]}`))
	})
	c := newTestClient(t, mux)

	events, err := c.Events(context.Background(), 41, 100)
	if err != nil {
		t.Fatalf("Events: %v", err)
	}
	if after != "41" || limit != "100" || topic != "entity.*" {
		t.Errorf("unexpected query after=%s limit=%s topic=%s", after, limit, topic)
	}
	if len(events) != 1 || events[0].Sequence != 42 || events[0].Summary.FolderType != "Shot" {
		t.Errorf("unexpected events: %+v", events)
	}
}

func TestGetFolderAndTask(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/projects/demo/folders/f2", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"id":"f2","entityType":"folder","name":"sh010","folderType":"Shot",
			"parentId":"f1","parentType":"Sequence","attrib":{"frameStart":1001}}`))
	})
	mux.HandleFunc("/api/projects/demo/tasks/t1", func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"id":"t1","name":"anim","parentId":"f2","parentType":"shot"}`))
	})
	c := newTestClient(t, mux)

	shot, err := c.Get(context.Background(), "demo", models.Ref{Type: models.EntityShot, ID: "f2"})
	if err != nil {
		t.Fatalf("Get shot: %v", err)
	}
	if shot.Type != models.EntityShot || shot.Parent == nil || shot.Parent.Type != models.EntitySequence {
		t.Errorf("unexpected shot: %+v", shot)
	}

	task, err := c.Get(context.Background(), "demo", models.Ref{Type: models.EntityTask, ID: "t1"})
	if err != nil {
		t.Fatalf("Get task: %v", err)
	}
	if task.Type != models.EntityTask || task.Parent.ID != "f2" {
		t.Errorf("unexpected task: %+v", task)
	}
}

func TestGetNotFound(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/projects/demo/folders/nope", func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "no", http.StatusNotFound)
	})
	c := newTestClient(t, mux)

	_, err := c.Get(context.Background(), "demo", models.Ref{Type: models.EntityEpisode, ID: "nope"})
	if !syncerr.IsNotFound(err) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestReadProjectTree(t *testing.T) {
	var depth string
	mux := http.NewServeMux()
	mux.HandleFunc("/api/projects/demo/tree", func(w http.ResponseWriter, r *http.Request) {
		depth = r.URL.Query().Get("depth")
		_, _ = w.Write([]byte(`{"items":[
			{"id":"e1","entityType":"folder","name":"E1","folderType":"Episode"},
			{"id":"a1","entityType":"folder","name":"chars","folderType":"Asset"},
			{"id":"s1","entityType":"folder","name":"SQ1","folderType":"Sequence","parentId":"e1","parentType":"Episode"}
		]}`))
	})
	c := newTestClient(t, mux)

	nodes, err := c.ReadTree(context.Background(), "demo", models.Ref{Type: models.EntityProject, ID: "demo"}, 4)
	if err != nil {
		t.Fatalf("ReadTree: %v", err)
	}
	if depth != "4" {
		t.Errorf("expected depth 4, got %q", depth)
	}
	if len(nodes) != 3 {
		t.Fatalf("expected root plus 2 supported nodes, got %d", len(nodes))
	}
	if nodes[0].Type != models.EntityProject || nodes[0].ID != "demo" {
		t.Errorf("expected project root first, got %+v", nodes[0])
	}
	if nodes[1].Parent == nil || nodes[1].Parent.Type != models.EntityProject || nodes[1].Parent.ID != "demo" {
		t.Errorf("expected top-level episode under the project, got %+v", nodes[1].Parent)
	}
}

func TestCreateBodies(t *testing.T) {
	var mu sync.Mutex
	bodies := map[string]createBody{}
	senders := map[string]string{}
	handler := func(w http.ResponseWriter, r *http.Request) {
		var b createBody
		data, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(data, &b)
		mu.Lock()
		bodies[r.URL.Path] = b
		senders[r.URL.Path] = r.Header.Get("X-Sender-Type")
		mu.Unlock()
		if b.Name == "dup" {
			w.WriteHeader(http.StatusConflict)
			_, _ = w.Write([]byte(`{"id":"existing"}`))
			return
		}
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"new"}`))
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/projects/demo/folders", handler)
	mux.HandleFunc("/api/projects/demo/tasks", handler)
	c := newTestClient(t, mux)
	ctx := context.Background()

	res, err := c.Create(ctx, models.CreateRequest{
		ProjectKey: "demo",
		Type:       models.EntityEpisode,
		Name:       "E1",
		Parent:     models.Ref{Type: models.EntityProject, ID: "demo"},
		Attributes: map[string]any{"name": "E1", "status": "wtg"},
	})
	if err != nil {
		t.Fatalf("Create folder: %v", err)
	}
	if res.ID != "new" || res.Existing {
		t.Errorf("unexpected result %+v", res)
	}

	_, err = c.Create(ctx, models.CreateRequest{
		ProjectKey: "demo",
		Type:       models.EntityTask,
		Name:       "anim",
		Parent:     models.Ref{Type: models.EntityShot, ID: "f2"},
	})
	if err != nil {
		t.Fatalf("Create task: %v", err)
	}

	mu.Lock()
	folder := bodies["/api/projects/demo/folders"]
	task := bodies["/api/projects/demo/tasks"]
	sender := senders["/api/projects/demo/folders"]
	mu.Unlock()

	if folder.FolderType != "Episode" || folder.ParentID != "" {
		t.Errorf("unexpected folder body %+v", folder)
	}
	if _, ok := folder.Attrib["name"]; ok {
		t.Errorf("expected name to be stripped from attrib, got %v", folder.Attrib)
	}
	if task.FolderID != "f2" || task.FolderType != "" {
		t.Errorf("unexpected task body %+v", task)
	}
	if sender != "prodsync" {
		t.Errorf("expected sender type header, got %q", sender)
	}

	res, err = c.Create(ctx, models.CreateRequest{
		ProjectKey: "demo",
		Type:       models.EntityShot,
		Name:       "dup",
		Parent:     models.Ref{Type: models.EntitySequence, ID: "s1"},
	})
	if err != nil {
		t.Fatalf("Create dup: %v", err)
	}
	if res.ID != "existing" || !res.Existing {
		t.Errorf("expected adopted id, got %+v", res)
	}
}

func TestUpdateRename(t *testing.T) {
	var mu sync.Mutex
	var got updateBody
	var method string
	mux := http.NewServeMux()
	mux.HandleFunc("/api/projects/demo/folders/f2", func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		mu.Lock()
		method = r.Method
		_ = json.Unmarshal(data, &got)
		mu.Unlock()
		w.WriteHeader(http.StatusNoContent)
	})
	c := newTestClient(t, mux)

	err := c.Update(context.Background(), "demo", models.Ref{Type: models.EntityShot, ID: "f2"},
		map[string]any{"name": "sh020", "frameEnd": 1100})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	mu.Lock()
	defer mu.Unlock()
	if method != http.MethodPatch {
		t.Errorf("expected PATCH, got %s", method)
	}
	if got.Name != "sh020" {
		t.Errorf("expected rename, got %+v", got)
	}
	if _, ok := got.Attrib["frameEnd"]; !ok {
		t.Errorf("expected frameEnd in attrib, got %v", got.Attrib)
	}
}

func TestResolveType(t *testing.T) {
	tests := []struct {
		category   string
		folderType string
		want       models.EntityType
		ok         bool
	}{
		{"folder", "Episode", models.EntityEpisode, true},
		{"folder", "shot", models.EntityShot, true},
		{"folder", "Asset", "", false},
		{"folder", "Task", "", false},
		{"task", "", models.EntityTask, true},
		{"product", "", "", false},
	}
	for _, tt := range tests {
		got, ok := ResolveType(tt.category, tt.folderType)
		if got != tt.want || ok != tt.ok {
			t.Errorf("ResolveType(%q, %q): expected %v %v, got %v %v", tt.category, tt.folderType, tt.want, tt.ok, got, ok)
		}
	}
	if FolderTypeName(models.EntitySequence) != "Sequence" {
		t.Errorf("expected Sequence, got %s", FolderTypeName(models.EntitySequence))
	}
}
