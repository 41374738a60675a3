// Prodsync - Production Tracking Hierarchy Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/prodsync

package differ

import (
	"testing"

	"github.com/tomtom215/prodsync/internal/models"
)

var project = models.Ref{Type: models.EntityProject, ID: "70"}

func node(t models.EntityType, id, name string, parent models.Ref, attrs map[string]any) models.Node {
	p := parent
	return models.Node{ID: id, Type: t, Name: name, Parent: &p, Attributes: attrs}
}

func ref(t models.EntityType, id string) models.Ref { return models.Ref{Type: t, ID: id} }

func TestFullTreeOfThreeEpisodes(t *testing.T) {
	src := []models.Node{
		{ID: "70", Type: models.EntityProject, Name: "Demo"},
		node(models.EntityEpisode, "5", "E1", project, nil),
		node(models.EntityEpisode, "6", "E2", project, nil),
		node(models.EntityEpisode, "7", "E3", project, nil),
	}

	plan := DiffTree(Tree{
		Source:     src,
		Root:       project,
		RootTarget: "demo",
		Mapped:     map[models.Ref]string{project: "demo"},
	})

	if plan.Creates() != 3 || len(plan.Ops) != 3 {
		t.Fatalf("expected exactly 3 creates, got %+v", plan.Ops)
	}
	for i, op := range plan.Ops {
		if op.Kind != OpCreateNode || op.Parent.TargetID != "demo" {
			t.Errorf("op %d: expected create under demo, got %s", i, op)
		}
	}
	if plan.Ops[0].Name != "E1" || plan.Ops[2].Name != "E3" {
		t.Errorf("expected name order, got %s %s", plan.Ops[0].Name, plan.Ops[2].Name)
	}
	if err := CheckOrder(plan.Ops); err != nil {
		t.Error(err)
	}
}

func TestNestedCreatesAreParentFirst(t *testing.T) {
	// Listed child-first on purpose.
	src := []models.Node{
		node(models.EntityTask, "30", "anim", ref(models.EntityShot, "20"), nil),
		node(models.EntityShot, "20", "sh010", ref(models.EntitySequence, "10"), map[string]any{"frameStart": 1001}),
		node(models.EntitySequence, "10", "SQ1", ref(models.EntityEpisode, "5"), nil),
		node(models.EntityEpisode, "5", "E1", project, nil),
		{ID: "70", Type: models.EntityProject, Name: "Demo"},
	}

	plan := DiffTree(Tree{Source: src, Root: project, RootTarget: "demo"})
	if plan.Creates() != 4 {
		t.Fatalf("expected 4 creates, got %d", plan.Creates())
	}
	wantOrder := []models.EntityType{models.EntityEpisode, models.EntitySequence, models.EntityShot, models.EntityTask}
	for i, want := range wantOrder {
		if plan.Ops[i].Type != want {
			t.Errorf("op %d: expected %s, got %s", i, want, plan.Ops[i].Type)
		}
	}
	if plan.Ops[1].Parent.Pending == nil || *plan.Ops[1].Parent.Pending != ref(models.EntityEpisode, "5") {
		t.Errorf("expected sequence to wait for episode 5, got %+v", plan.Ops[1].Parent)
	}
	if plan.Ops[2].Attributes["frameStart"] != 1001 {
		t.Errorf("expected attributes on create, got %v", plan.Ops[2].Attributes)
	}
	if err := CheckOrder(plan.Ops); err != nil {
		t.Error(err)
	}
}

func TestMappedNodesOnlyEmitDifferences(t *testing.T) {
	ep := ref(models.EntityEpisode, "5")
	src := []models.Node{
		{ID: "70", Type: models.EntityProject, Name: "Demo"},
		node(models.EntityEpisode, "5", "E1-renamed", project, map[string]any{"status": "ip"}),
		node(models.EntitySequence, "10", "SQ1", ep, map[string]any{"status": "wtg"}),
	}
	target := map[string]models.Node{
		"le5":  node(models.EntityEpisode, "le5", "E1", ref(models.EntityProject, "demo"), map[string]any{"status": "ip"}),
		"ls10": node(models.EntitySequence, "ls10", "SQ1", ref(models.EntityEpisode, "le5"), map[string]any{"status": "ip"}),
		"lx":   node(models.EntityEpisode, "lx", "LocalOnly", ref(models.EntityProject, "demo"), nil),
	}

	plan := DiffTree(Tree{
		Source:     src,
		Root:       project,
		RootTarget: "demo",
		Mapped:     map[models.Ref]string{ep: "le5", ref(models.EntitySequence, "10"): "ls10"},
		Target:     target,
	})

	if len(plan.Ops) != 2 {
		t.Fatalf("expected rename + update, got %+v", plan.Ops)
	}
	if plan.Ops[0].Kind != OpRenameNode || plan.Ops[0].TargetID != "le5" || plan.Ops[0].Name != "E1-renamed" {
		t.Errorf("unexpected first op %s", plan.Ops[0])
	}
	if plan.Ops[1].Kind != OpUpdateAttributes || plan.Ops[1].TargetID != "ls10" || plan.Ops[1].Attributes["status"] != "wtg" {
		t.Errorf("unexpected second op %s", plan.Ops[1])
	}
	for _, op := range plan.Ops {
		if op.TargetID == "lx" {
			t.Errorf("expected target-only node to be left alone, got %s", op)
		}
	}
}

func TestSameNameUnmappedIsStillCreated(t *testing.T) {
	src := []models.Node{
		{ID: "70", Type: models.EntityProject, Name: "Demo"},
		node(models.EntityEpisode, "5", "E1", project, nil),
	}
	target := map[string]models.Node{
		"other": node(models.EntityEpisode, "other", "E1", ref(models.EntityProject, "demo"), nil),
	}
	plan := DiffTree(Tree{Source: src, Root: project, RootTarget: "demo", Target: target})
	if plan.Creates() != 1 {
		t.Errorf("expected identity by map not by name, got %+v", plan.Ops)
	}
}

func TestSkipAndInvalidSubtrees(t *testing.T) {
	e1 := ref(models.EntityEpisode, "5")
	src := []models.Node{
		{ID: "70", Type: models.EntityProject, Name: "Demo"},
		node(models.EntityEpisode, "5", "E1", project, nil),
		node(models.EntitySequence, "10", "SQ1", e1, nil),
		node(models.EntityTask, "40", "bad", project, nil),
		node(models.EntityEpisode, "6", "E2", project, nil),
	}
	plan := DiffTree(Tree{
		Source:     src,
		Root:       project,
		RootTarget: "demo",
		Skip:       map[models.Ref]bool{e1: true},
	})
	if plan.Creates() != 1 || plan.Ops[0].Name != "E2" {
		t.Errorf("expected only E2, got %+v", plan.Ops)
	}
	if len(plan.Invalid) != 1 || plan.Invalid[0] != ref(models.EntityTask, "40") {
		t.Errorf("expected task under project to be invalid, got %v", plan.Invalid)
	}
}

func TestIncludeRoot(t *testing.T) {
	seq := ref(models.EntitySequence, "10")
	src := []models.Node{
		node(models.EntitySequence, "10", "SQ1", ref(models.EntityEpisode, "5"), map[string]any{"status": "fin"}),
	}
	plan := DiffTree(Tree{
		Source:      src,
		Root:        seq,
		RootTarget:  "ls10",
		IncludeRoot: true,
		Target:      map[string]models.Node{"ls10": node(models.EntitySequence, "ls10", "SQ1", ref(models.EntityEpisode, "le5"), nil)},
	})
	if len(plan.Ops) != 1 || plan.Ops[0].Kind != OpUpdateAttributes || plan.Ops[0].TargetID != "ls10" {
		t.Errorf("expected root update, got %+v", plan.Ops)
	}
}

func TestDiffNode(t *testing.T) {
	shot := ref(models.EntityShot, "9")
	current := node(models.EntityShot, "f9", "sh010", ref(models.EntitySequence, "f1"), map[string]any{"status": "ip", "frameStart": float64(1001)})

	tests := []struct {
		name    string
		target  *models.Node
		payload map[string]any
		kinds   []OpKind
	}{
		{"no change", &current, map[string]any{"status": "ip", "frameStart": 1001}, nil},
		{"status", &current, map[string]any{"status": "fin"}, []OpKind{OpUpdateAttributes}},
		{"rename", &current, map[string]any{"name": "sh020"}, []OpKind{OpRenameNode}},
		{"same name", &current, map[string]any{"name": "sh010"}, nil},
		{"unknown target", nil, map[string]any{"name": "sh010", "status": "ip"}, []OpKind{OpRenameNode, OpUpdateAttributes}},
		{"empty name", &current, map[string]any{"name": ""}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ops := DiffNode(shot, "f9", tt.target, tt.payload)
			if len(ops) != len(tt.kinds) {
				t.Fatalf("expected %v, got %+v", tt.kinds, ops)
			}
			for i, k := range tt.kinds {
				if ops[i].Kind != k || ops[i].TargetID != "f9" {
					t.Errorf("op %d: expected %s on f9, got %s", i, k, ops[i])
				}
			}
		})
	}
}

func TestCheckOrderRejectsForwardReference(t *testing.T) {
	ep := ref(models.EntityEpisode, "5")
	ops := []Op{
		{Kind: OpCreateNode, Type: models.EntitySequence, Source: ref(models.EntitySequence, "10"), Parent: Parent{Pending: &ep}},
		{Kind: OpCreateNode, Type: models.EntityEpisode, Source: ep, Parent: Parent{TargetID: "demo"}},
	}
	if err := CheckOrder(ops); err == nil {
		t.Error("expected forward reference to be rejected")
	}
	if err := CheckOrder([]Op{{Kind: OpCreateNode, Source: ep}}); err == nil {
		t.Error("expected missing parent to be rejected")
	}
}
