// Prodsync - Production Tracking Hierarchy Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/prodsync

package remote

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/prodsync/internal/fieldmap"
	"github.com/tomtom215/prodsync/internal/models"
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
		AutoSyncField:   "sg_ayon_auto_sync",
		ProjectKeyField: "sg_ayon_id",
		SyncStatusField: "sg_ayon_sync_status",
	}, fieldmap.MustNew(fieldmap.DefaultPairs()))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return c
}

func projectsHandler(w http.ResponseWriter, _ *http.Request) {
	_, _ = w.Write([]byte(`{"data":[
		{"id":70,"name":"Demo","fields":{"sg_ayon_id":"demo","sg_ayon_auto_sync":true}},
		{"id":71,"name":"Off","fields":{"sg_ayon_id":"off","sg_ayon_auto_sync":false}},
		{"id":72,"name":"Unlinked","fields":{}}
	]}`))
}

func TestListProjects(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/projects", projectsHandler)
	c := newTestClient(t, mux)

	projects, err := c.ListProjects(context.Background())
	if err != nil {
		t.Fatalf("ListProjects: %v", err)
	}
	if len(projects) != 2 {
		t.Fatalf("expected 2 linked projects, got %d", len(projects))
	}
	if projects[0].Key != "demo" || projects[0].RootID != "70" || !projects[0].Enabled {
		t.Errorf("unexpected first project: %+v", projects[0])
	}
	if projects[1].Enabled {
		t.Errorf("expected second project disabled, got %+v", projects[1])
	}
}

func TestEventLogQuery(t *testing.T) {
	var gotAfter, gotLimit string
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/event_log", func(w http.ResponseWriter, r *http.Request) {
		gotAfter = r.URL.Query().Get("after_id")
		gotLimit = r.URL.Query().Get("limit")
		_, _ = w.Write([]byte(`{"data":[{"id":101,"event_type":"Shotgun_Shot_Change","project":{"type":"Project","id":70},
			"entity":{"type":"Shot","id":9},"attribute_name":"sg_status_list","meta":{"new_value":"ip"},
			"created_at":"2026-01-02T03:04:05Z","user":{"type":"HumanUser","name":"alice"}}]}`))
	})
	c := newTestClient(t, mux)

	entries, err := c.EventLog(context.Background(), 100, 50)
	if err != nil {
		t.Fatalf("EventLog: %v", err)
	}
	if gotAfter != "100" || gotLimit != "50" {
		t.Errorf("expected after_id=100 limit=50, got %s %s", gotAfter, gotLimit)
	}
	if len(entries) != 1 || entries[0].Entity.ID != 9 || entries[0].Meta.NewValue != "ip" {
		t.Errorf("unexpected entries: %+v", entries)
	}
}

func TestGetTranslatesFields(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/entity/Shot/9", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":9,"type":"Shot","name":"sh010","parent":{"type":"Sequence","id":3},
			"fields":{"code":"sh010","sg_status_list":"ip","sg_cut_in":1001,"sg_unmapped":"x"}}`))
	})
	c := newTestClient(t, mux)

	node, err := c.Get(context.Background(), "demo", models.Ref{Type: models.EntityShot, ID: "9"})
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if node.Name != "sh010" || node.Parent == nil || node.Parent.ID != "3" || node.Parent.Type != models.EntitySequence {
		t.Errorf("unexpected node: %+v", node)
	}
	if node.Attributes["status"] != "ip" {
		t.Errorf("expected canonical status, got %v", node.Attributes)
	}
	if _, ok := node.Attributes["frameStart"]; !ok {
		t.Errorf("expected frameStart, got %v", node.Attributes)
	}
	if _, ok := node.Attributes["sg_unmapped"]; ok {
		t.Errorf("expected unmapped field to be dropped, got %v", node.Attributes)
	}
}

func TestCreateAndAdoptExisting(t *testing.T) {
	var body createBody
	var origin string
	calls := 0
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/projects", projectsHandler)
	mux.HandleFunc("/api/v1/entity/Episode", func(w http.ResponseWriter, r *http.Request) {
		calls++
		origin = r.Header.Get("X-Sync-Origin")
		data, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(data, &body)
		if calls == 1 {
			w.WriteHeader(http.StatusCreated)
			_, _ = w.Write([]byte(`{"id":5}`))
			return
		}
		w.WriteHeader(http.StatusConflict)
		_, _ = w.Write([]byte(`{"id":5}`))
	})
	c := newTestClient(t, mux)

	req := models.CreateRequest{
		ProjectKey: "demo",
		Type:       models.EntityEpisode,
		Name:       "E1",
		Parent:     models.Ref{Type: models.EntityProject, ID: "70"},
		Attributes: map[string]any{"status": "wtg"},
	}
	res, err := c.Create(context.Background(), req)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if res.ID != "5" || res.Existing {
		t.Errorf("expected new id 5, got %+v", res)
	}
	if body.Project.ID != 70 || body.Parent != nil {
		t.Errorf("expected project link and no parent, got %+v", body)
	}
	if body.Fields["code"] != "E1" || body.Fields["sg_status_list"] != "wtg" {
		t.Errorf("expected translated fields, got %v", body.Fields)
	}
	if origin != "prodsync" {
		t.Errorf("expected origin header, got %q", origin)
	}

	res, err = c.Create(context.Background(), req)
	if err != nil {
		t.Fatalf("second Create: %v", err)
	}
	if res.ID != "5" || !res.Existing {
		t.Errorf("expected adopted id 5, got %+v", res)
	}
}

func TestUpdateAndSyncStatus(t *testing.T) {
	bodies := map[string]updateBody{}
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/projects", projectsHandler)
	handler := func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			t.Errorf("expected PUT, got %s", r.Method)
		}
		var b updateBody
		data, _ := io.ReadAll(r.Body)
		_ = json.Unmarshal(data, &b)
		bodies[r.URL.Path] = b
		w.WriteHeader(http.StatusNoContent)
	}
	mux.HandleFunc("/api/v1/entity/Task/12", handler)
	mux.HandleFunc("/api/v1/entity/Project/70", handler)
	c := newTestClient(t, mux)

	err := c.Update(context.Background(), "demo", models.Ref{Type: models.EntityTask, ID: "12"},
		map[string]any{"name": "anim", "assignees": []any{"bob"}})
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	task := bodies["/api/v1/entity/Task/12"]
	if task.Fields["content"] != "anim" {
		t.Errorf("expected task name in content, got %v", task.Fields)
	}
	if _, ok := task.Fields["task_assignees"]; !ok {
		t.Errorf("expected task_assignees, got %v", task.Fields)
	}

	if err := c.SetProjectSyncStatus(context.Background(), "demo", "Synced"); err != nil {
		t.Fatalf("SetProjectSyncStatus: %v", err)
	}
	if bodies["/api/v1/entity/Project/70"].Fields["sg_ayon_sync_status"] != "Synced" {
		t.Errorf("expected sync status write, got %v", bodies)
	}
}

func TestTypeNames(t *testing.T) {
	if TypeName(models.EntitySequence) != "Sequence" {
		t.Errorf("expected Sequence, got %s", TypeName(models.EntitySequence))
	}
	if _, ok := ParseTypeName("Asset"); ok {
		t.Error("expected Asset to be unsupported")
	}
	if et, ok := ParseTypeName("Shot"); !ok || et != models.EntityShot {
		t.Errorf("expected shot, got %v %v", et, ok)
	}
}
