// Prodsync - Production Tracking Hierarchy Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/prodsync

package testinfra

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/tomtom215/prodsync/internal/fieldmap"
	"github.com/tomtom215/prodsync/internal/models"
	"github.com/tomtom215/prodsync/internal/syncerr"
)

// Write kinds recorded by MemStore. There is no delete.
const (
	WriteCreate = "create"
	WriteUpdate = "update"
)

// Write is one call made against a MemStore.
type Write struct {
	Kind       string
	ProjectKey string
	Ref        models.Ref
	Name       string
	Parent     models.Ref
	Attributes map[string]any
	// Existing is set when a create adopted a node that was already there.
	Existing bool
}

// MemStore is an in-memory models.Store. Create is idempotent per
// (parent, name) and every write is recorded so tests can assert on the
// exact sequence of calls.
type MemStore struct {
	source models.Source
	prefix string

	mu     sync.Mutex
	seq    int
	nodes  map[string]models.Node
	order  []string
	writes []Write

	failures []error
	failOn   map[string]error
}

// NewMemStore creates an empty store for source. Generated ids are
// prefix-1, prefix-2 and so on.
func NewMemStore(source models.Source, prefix string) *MemStore {
	return &MemStore{
		source: source,
		prefix: prefix,
		nodes:  make(map[string]models.Node),
		failOn: make(map[string]error),
	}
}

// Source identifies the store.
func (s *MemStore) Source() models.Source { return s.source }

// Seed inserts a node without recording a write.
func (s *MemStore) Seed(nodes ...models.Node) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, n := range nodes {
		if _, ok := s.nodes[n.ID]; !ok {
			s.order = append(s.order, n.ID)
		}
		n.Attributes = copyAttrs(n.Attributes)
		s.nodes[n.ID] = n
	}
}

// SetAttributes overwrites attributes of a node without recording a write,
// the way an edit made directly in the store would.
func (s *MemStore) SetAttributes(id string, attrs map[string]any) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.nodes[id]
	if !ok {
		return
	}
	if n.Attributes == nil {
		n.Attributes = make(map[string]any, len(attrs))
	}
	for k, v := range attrs {
		if k == fieldmap.NameField {
			n.Name, _ = v.(string)
			continue
		}
		n.Attributes[k] = v
	}
	s.nodes[id] = n
}

// FailNext makes the next len(errs) calls fail with the given errors, in order.
func (s *MemStore) FailNext(errs ...error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures = append(s.failures, errs...)
}

// FailCreate makes every create of name fail with err.
func (s *MemStore) FailCreate(name string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failOn[name] = err
}

func (s *MemStore) nextFailure() error {
	if len(s.failures) == 0 {
		return nil
	}
	err := s.failures[0]
	s.failures = s.failures[1:]
	return err
}

// Node returns a copy of the node with id.
func (s *MemStore) Node(id string) (models.Node, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n, ok := s.nodes[id]
	if ok {
		n.Attributes = copyAttrs(n.Attributes)
	}
	return n, ok
}

// children returns the direct children of parentID ordered by creation.
func (s *MemStore) children(parentID string) []models.Node {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []models.Node
	for _, id := range s.order {
		n := s.nodes[id]
		if n.ParentID() == parentID {
			out = append(out, n)
		}
	}
	return out
}

// FindByName returns the child of parentID called name.
func (s *MemStore) FindByName(parentID, name string) (models.Node, bool) {
	for _, n := range s.children(parentID) {
		if n.Name == name {
			return n, true
		}
	}
	return models.Node{}, false
}

// Len returns the number of nodes, roots included.
func (s *MemStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.nodes)
}

// Writes returns every recorded write in call order.
func (s *MemStore) Writes() []Write {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Write, len(s.writes))
	copy(out, s.writes)
	return out
}

// CountWrites returns the number of recorded writes of kind.
func (s *MemStore) CountWrites(kind string) int {
	n := 0
	for _, w := range s.Writes() {
		if w.Kind == kind && !w.Existing {
			n++
		}
	}
	return n
}

// Get implements models.Store.
func (s *MemStore) Get(_ context.Context, _ string, ref models.Ref) (*models.Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.nextFailure(); err != nil {
		return nil, err
	}
	n, ok := s.nodes[ref.ID]
	if !ok || n.Type != ref.Type {
		return nil, fmt.Errorf("%s %s: %w", s.source, ref, syncerr.ErrNotFound)
	}
	n.Attributes = copyAttrs(n.Attributes)
	return &n, nil
}

// ReadTree implements models.Store. Nodes are returned parents first.
func (s *MemStore) ReadTree(_ context.Context, _ string, root models.Ref, depth int) ([]models.Node, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.nextFailure(); err != nil {
		return nil, err
	}
	rn, ok := s.nodes[root.ID]
	if !ok {
		return nil, fmt.Errorf("%s %s: %w", s.source, root, syncerr.ErrNotFound)
	}

	children := make(map[string][]string)
	for _, id := range s.order {
		if n := s.nodes[id]; n.ParentID() != "" {
			children[n.ParentID()] = append(children[n.ParentID()], id)
		}
	}

	out := []models.Node{rn}
	level := []string{root.ID}
	for d := 0; d < depth && len(level) > 0; d++ {
		var next []string
		for _, id := range level {
			for _, child := range children[id] {
				n := s.nodes[child]
				n.Attributes = copyAttrs(n.Attributes)
				out = append(out, n)
				next = append(next, child)
			}
		}
		level = next
	}
	return out, nil
}

// Create implements models.Store. A node with the same name under the same
// parent is adopted instead of duplicated.
func (s *MemStore) Create(_ context.Context, req models.CreateRequest) (models.CreateResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.nextFailure(); err != nil {
		return models.CreateResult{}, err
	}
	if err, ok := s.failOn[req.Name]; ok {
		return models.CreateResult{}, err
	}
	parent, ok := s.nodes[req.Parent.ID]
	if !ok || parent.Type != req.Parent.Type {
		return models.CreateResult{}, fmt.Errorf("%s parent %s: %w", s.source, req.Parent, syncerr.ErrNotFound)
	}

	w := Write{
		Kind:       WriteCreate,
		ProjectKey: req.ProjectKey,
		Name:       req.Name,
		Parent:     req.Parent,
		Attributes: copyAttrs(req.Attributes),
	}

	for _, id := range s.order {
		n := s.nodes[id]
		if n.ParentID() == req.Parent.ID && n.Name == req.Name && n.Type == req.Type {
			w.Ref = n.Ref()
			w.Existing = true
			s.writes = append(s.writes, w)
			return models.CreateResult{ID: n.ID, Existing: true}, nil
		}
	}

	s.seq++
	id := fmt.Sprintf("%s-%d", s.prefix, s.seq)
	parentRef := req.Parent
	s.nodes[id] = models.Node{
		ID:         id,
		Type:       req.Type,
		Name:       req.Name,
		Parent:     &parentRef,
		Attributes: copyAttrs(req.Attributes),
	}
	s.order = append(s.order, id)

	w.Ref = models.Ref{Type: req.Type, ID: id}
	s.writes = append(s.writes, w)
	return models.CreateResult{ID: id}, nil
}

// Update implements models.Store. The "name" key renames.
func (s *MemStore) Update(_ context.Context, projectKey string, ref models.Ref, attrs map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.nextFailure(); err != nil {
		return err
	}
	n, ok := s.nodes[ref.ID]
	if !ok || n.Type != ref.Type {
		return fmt.Errorf("%s %s: %w", s.source, ref, syncerr.ErrNotFound)
	}
	if n.Attributes == nil {
		n.Attributes = make(map[string]any, len(attrs))
	}
	for k, v := range attrs {
		if k == fieldmap.NameField {
			n.Name, _ = v.(string)
			continue
		}
		n.Attributes[k] = v
	}
	s.nodes[ref.ID] = n
	s.writes = append(s.writes, Write{
		Kind:       WriteUpdate,
		ProjectKey: projectKey,
		Ref:        ref,
		Name:       n.Name,
		Attributes: copyAttrs(attrs),
	})
	return nil
}

// CheckTree verifies that every node's parent exists and was inserted
// before it.
func (s *MemStore) CheckTree() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	pos := make(map[string]int, len(s.order))
	for i, id := range s.order {
		pos[id] = i
	}
	ids := make([]string, 0, len(s.nodes))
	for id := range s.nodes {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	for _, id := range ids {
		n := s.nodes[id]
		if n.Parent == nil {
			continue
		}
		pp, ok := pos[n.Parent.ID]
		if !ok {
			return fmt.Errorf("%s has dangling parent %s", n.Ref(), n.Parent)
		}
		if pp > pos[id] {
			return fmt.Errorf("%s was inserted before its parent %s", n.Ref(), n.Parent)
		}
	}
	return nil
}

func copyAttrs(attrs map[string]any) map[string]any {
	if attrs == nil {
		return nil
	}
	out := make(map[string]any, len(attrs))
	for k, v := range attrs {
		out[k] = v
	}
	return out
}
