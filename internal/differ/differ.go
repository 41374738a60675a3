// Prodsync - Production Tracking Hierarchy Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/prodsync

package differ

import (
	"fmt"
	"sort"

	"github.com/tomtom215/prodsync/internal/fieldmap"
	"github.com/tomtom215/prodsync/internal/models"
)

// OpKind is the kind of edit an Op applies to the target store.
// There is deliberately no delete.
type OpKind string

const (
	OpCreateNode       OpKind = "create"
	OpRenameNode       OpKind = "rename"
	OpUpdateAttributes OpKind = "update"
)

// Parent locates the target-side parent of a node to create. TargetID is
// set when the parent already exists in the target; otherwise Pending is
// the source ref of a parent created by an earlier op of the same plan.
type Parent struct {
	TargetID string
	Type     models.EntityType
	Pending  *models.Ref
}

// Op is one target-store edit.
type Op struct {
	Kind OpKind
	Type models.EntityType

	// Source is the source entity this op reconciles.
	Source models.Ref
	// TargetID is the counterpart id for rename and update.
	TargetID string
	// Name is the node name for create and the new name for rename.
	Name string
	// Parent is only set for create.
	Parent Parent
	// Attributes holds canonical attributes (create: all, update: changed).
	Attributes map[string]any
}

func (op Op) String() string {
	switch op.Kind {
	case OpCreateNode:
		return fmt.Sprintf("create %s %q from %s", op.Type, op.Name, op.Source)
	case OpRenameNode:
		return fmt.Sprintf("rename %s:%s to %q", op.Type, op.TargetID, op.Name)
	default:
		return fmt.Sprintf("update %s:%s %d fields", op.Type, op.TargetID, len(op.Attributes))
	}
}

// Tree is the input of DiffTree.
type Tree struct {
	// Source holds the source subtree, root included, in any order.
	Source []models.Node
	// Root is the source root of the subtree.
	Root models.Ref
	// RootTarget is the target id of Root.
	RootTarget string
	// Mapped is the Identity Map view: source ref to target id.
	Mapped map[models.Ref]string
	// Target holds the known target nodes by id. It may be partial.
	Target map[string]models.Node
	// Skip lists source refs whose subtree must be left alone.
	Skip map[models.Ref]bool
	// IncludeRoot also reconciles the root's own name and attributes.
	IncludeRoot bool
}

// Plan is the result of DiffTree.
type Plan struct {
	Ops []Op
	// Invalid lists source nodes dropped because their type may not hang
	// under their parent's type. Their subtrees are dropped with them.
	Invalid []models.Ref
}

// Creates returns the number of create ops in the plan.
func (p Plan) Creates() int {
	n := 0
	for _, op := range p.Ops {
		if op.Kind == OpCreateNode {
			n++
		}
	}
	return n
}

// DiffTree computes the edits aligning the target onto the source subtree.
// Nodes are visited breadth-first from the root so a create always precedes
// every op that names it as a parent. Identity is decided by the Identity
// Map, never by name: an unmapped source node is created even when a target
// sibling has the same name (the store adopts it if so).
func DiffTree(in Tree) Plan {
	children := make(map[models.Ref][]models.Node)
	for _, n := range in.Source {
		if n.Parent == nil || n.Ref() == in.Root {
			continue
		}
		children[*n.Parent] = append(children[*n.Parent], n)
	}
	for ref := range children {
		sortNodes(children[ref])
	}

	var plan Plan
	if in.IncludeRoot {
		for _, n := range in.Source {
			if n.Ref() == in.Root {
				plan.Ops = append(plan.Ops, diffMapped(n, in.RootTarget, in.Target)...)
				break
			}
		}
	}

	type item struct {
		ref    models.Ref
		target string
	}
	queue := []item{{ref: in.Root, target: in.RootTarget}}
	seen := map[models.Ref]bool{in.Root: true}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]

		for _, child := range children[cur.ref] {
			ref := child.Ref()
			if seen[ref] || in.Skip[ref] {
				continue
			}
			seen[ref] = true

			if !child.Type.CanParent(cur.ref.Type) {
				plan.Invalid = append(plan.Invalid, ref)
				continue
			}

			if targetID, ok := in.Mapped[ref]; ok && targetID != "" {
				plan.Ops = append(plan.Ops, diffMapped(child, targetID, in.Target)...)
				queue = append(queue, item{ref: ref, target: targetID})
				continue
			}

			parent := Parent{TargetID: cur.target, Type: cur.ref.Type}
			if cur.target == "" {
				pending := cur.ref
				parent = Parent{Type: cur.ref.Type, Pending: &pending}
			}
			plan.Ops = append(plan.Ops, Op{
				Kind:       OpCreateNode,
				Type:       child.Type,
				Source:     ref,
				Name:       child.Name,
				Parent:     parent,
				Attributes: copyAttrs(child.Attributes),
			})
			queue = append(queue, item{ref: ref})
		}
	}
	return plan
}

// diffMapped compares a mapped source node with its target counterpart.
// When the counterpart is not in the target snapshot every source value is
// written again; the writes are idempotent.
func diffMapped(src models.Node, targetID string, target map[string]models.Node) []Op {
	tn, known := target[targetID]
	var tp *models.Node
	if known {
		tp = &tn
	}
	payload := copyAttrs(src.Attributes)
	if payload == nil {
		payload = make(map[string]any, 1)
	}
	payload[fieldmap.NameField] = src.Name
	return DiffNode(src.Ref(), targetID, tp, payload)
}

// DiffNode computes the edits applying payload to one mapped target node.
// target is the current target snapshot, or nil when unknown. Only fields
// whose value differs from the snapshot are emitted; "name" becomes a rename.
func DiffNode(source models.Ref, targetID string, target *models.Node, payload map[string]any) []Op {
	var ops []Op

	if v, ok := payload[fieldmap.NameField]; ok {
		if name, isString := v.(string); isString && name != "" && (target == nil || target.Name != name) {
			ops = append(ops, Op{Kind: OpRenameNode, Type: source.Type, Source: source, TargetID: targetID, Name: name})
		}
	}

	changed := make(map[string]any)
	for k, v := range payload {
		if k == fieldmap.NameField {
			continue
		}
		if target != nil {
			if cur, ok := target.Attributes[k]; ok && models.SameValue(cur, v) {
				continue
			}
		}
		changed[k] = v
	}
	if len(changed) > 0 {
		ops = append(ops, Op{Kind: OpUpdateAttributes, Type: source.Type, Source: source, TargetID: targetID, Attributes: changed})
	}
	return ops
}

// CheckOrder verifies that every pending parent is created by an earlier op.
func CheckOrder(ops []Op) error {
	created := make(map[models.Ref]bool)
	for i, op := range ops {
		if op.Kind != OpCreateNode {
			continue
		}
		if op.Parent.Pending != nil && !created[*op.Parent.Pending] {
			return fmt.Errorf("op %d (%s) references parent %s before its creation", i, op, op.Parent.Pending)
		}
		if op.Parent.Pending == nil && op.Parent.TargetID == "" {
			return fmt.Errorf("op %d (%s) has no parent", i, op)
		}
		created[op.Source] = true
	}
	return nil
}

func sortNodes(nodes []models.Node) {
	sort.SliceStable(nodes, func(i, j int) bool {
		if ri, rj := nodes[i].Type.Rank(), nodes[j].Type.Rank(); ri != rj {
			return ri < rj
		}
		if nodes[i].Name != nodes[j].Name {
			return nodes[i].Name < nodes[j].Name
		}
		return nodes[i].ID < nodes[j].ID
	})
}

func copyAttrs(attrs map[string]any) map[string]any {
	if len(attrs) == 0 {
		return nil
	}
	out := make(map[string]any, len(attrs))
	for k, v := range attrs {
		out[k] = v
	}
	return out
}
