// Prodsync - Production Tracking Hierarchy Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/prodsync

package reconcile

import (
	"context"
	"fmt"

	"github.com/tomtom215/prodsync/internal/differ"
	"github.com/tomtom215/prodsync/internal/fieldmap"
	"github.com/tomtom215/prodsync/internal/identity"
	"github.com/tomtom215/prodsync/internal/metrics"
	"github.com/tomtom215/prodsync/internal/models"
	"github.com/tomtom215/prodsync/internal/syncerr"
)

func (x *run) ref() models.Ref {
	return models.Ref{Type: x.ev.EntityType, ID: x.ev.OriginID}
}

func (x *run) lockEntity(ref models.Ref) func() {
	return x.r.deps.Identity.Lock(identity.LockKey(x.ev.ProjectKey, ref.Type, x.source(), ref.ID))
}

// lookup returns the entry for a source ref, or nil when it was never
// reconciled.
func (x *run) lookup(ctx context.Context, ref models.Ref) (*identity.Entry, error) {
	entry, err := x.r.deps.Identity.Lookup(ctx, x.ev.ProjectKey, x.source(), ref.Type, ref.ID)
	if syncerr.IsNotFound(err) {
		return nil, nil
	}
	return entry, err
}

func (x *run) mapped(entry *identity.Entry) bool {
	return entry != nil && entry.Counterpart(x.source()) != ""
}

// pair orders a source id and a target id as (local, remote).
func (x *run) pair(sourceID, targetID string) (string, string) {
	if x.source() == models.SourceLocal {
		return sourceID, targetID
	}
	return targetID, sourceID
}

// snapshot reads a node from the source store.
func (x *run) snapshot(ctx context.Context, ref models.Ref) (*models.Node, error) {
	node, err := x.src.Get(ctx, x.ev.ProjectKey, ref)
	if syncerr.IsNotFound(err) {
		return nil, syncerr.NewResolution(x.ev.ProjectKey, ref.String(), "entity not found in "+string(x.source()), err)
	}
	return node, err
}

func (x *run) created(ctx context.Context) error {
	ref := x.ref()
	defer x.lockEntity(ref)()

	entry, err := x.lookup(ctx, ref)
	if err != nil {
		return err
	}
	if !x.mapped(entry) {
		return x.createFromSnapshot(ctx, ref)
	}

	if entry.Removed(x.source()) {
		return x.revive(ctx, ref, entry)
	}

	// A redelivered or echoed create of an entity already reconciled.
	if len(x.ev.Payload) == 0 {
		return x.skip("already reconciled")
	}
	return x.applyUpdate(ctx, entry, x.ev.Payload)
}

// revive copies the current state of a source entity that came back after a
// removal. The removal mark is cleared by the same save that records the
// written fields, so an attempt that fails part way leaves the entry marked
// and the retry takes this path again.
func (x *run) revive(ctx context.Context, ref models.Ref, entry *identity.Entry) error {
	node, err := x.snapshot(ctx, ref)
	if err != nil {
		return err
	}
	entry.Revive(x.source())
	x.reviving = true
	x.log.Info().Str("target_id", entry.Counterpart(x.source())).Msg("Entity revived in source, clearing removal mark")
	return x.applyUpdate(ctx, entry, nodeFields(node))
}

// skipUpdate commits without writing to the target. A revival still has to
// reach the Identity Map before the commit.
func (x *run) skipUpdate(ctx context.Context, entry *identity.Entry, reason string) error {
	if x.reviving {
		if err := x.r.deps.Identity.Revive(ctx, entry, x.source()); err != nil {
			return err
		}
	}
	return x.skip(reason)
}

func (x *run) updated(ctx context.Context) error {
	ref := x.ref()
	defer x.lockEntity(ref)()

	entry, err := x.lookup(ctx, ref)
	if err != nil {
		return err
	}
	if !x.mapped(entry) {
		x.log.Info().Msg("Update for an entity never reconciled, creating it from a source snapshot")
		return x.createFromSnapshot(ctx, ref)
	}
	return x.applyUpdate(ctx, entry, x.ev.Payload)
}

// removed never touches the target store. It marks the source side removed
// in the Identity Map, which tombstones the entry once both sides agree.
func (x *run) removed(ctx context.Context) error {
	ref := x.ref()
	defer x.lockEntity(ref)()

	entry, err := x.lookup(ctx, ref)
	if err != nil {
		return err
	}
	if entry == nil {
		return x.skip("removed entity was never reconciled")
	}

	marked, err := x.r.deps.Identity.MarkRemoved(ctx, x.ev.ProjectKey, x.source(), ref.Type, ref.ID)
	if err != nil {
		return err
	}
	x.log.Warn().
		Str("target_id", marked.Counterpart(x.source())).
		Bool("tombstoned", marked.Tombstoned).
		Msg("Entity removed in source, counterpart kept in target")
	return x.m.To(StateCommitted)
}

// createFromSnapshot creates the counterpart of an unmapped source entity,
// creating any unmapped ancestors first.
func (x *run) createFromSnapshot(ctx context.Context, ref models.Ref) error {
	node, err := x.snapshot(ctx, ref)
	if err != nil {
		return err
	}

	if err := x.m.To(StateDiffing); err != nil {
		return err
	}
	parent, err := x.resolveParent(ctx, node, 1)
	if err != nil {
		return err
	}

	if err := x.m.To(StateApplying); err != nil {
		return err
	}
	entry, written, err := x.createNode(ctx, node, parent)
	if err != nil {
		return err
	}
	if err := x.record(ctx, entry, written); err != nil {
		return err
	}
	return x.m.To(StateCommitted)
}

// resolveParent returns the target-side parent of node. Unmapped ancestors
// are created top-down, so a child is never created before its parent.
func (x *run) resolveParent(ctx context.Context, node *models.Node, depth int) (models.Ref, error) {
	ref := node.Ref()
	if node.Parent == nil {
		return models.Ref{}, syncerr.NewResolution(x.ev.ProjectKey, ref.String(), "source node has no parent", nil)
	}
	if depth >= models.MaxHierarchyDepth {
		return models.Ref{}, syncerr.NewResolution(x.ev.ProjectKey, ref.String(),
			fmt.Sprintf("ancestor chain deeper than %d levels", models.MaxHierarchyDepth), nil)
	}
	p := *node.Parent
	if !node.Type.CanParent(p.Type) {
		return models.Ref{}, syncerr.NewResolution(x.ev.ProjectKey, ref.String(),
			fmt.Sprintf("%s cannot hang under %s", node.Type, p.Type), nil)
	}
	if p.Type == models.EntityProject {
		return x.targetRoot(ctx)
	}

	entry, err := x.lookup(ctx, p)
	if err != nil {
		return models.Ref{}, err
	}
	if x.mapped(entry) {
		if entry.Removed(x.target()) {
			return models.Ref{}, syncerr.NewResolution(x.ev.ProjectKey, p.String(), "parent counterpart was removed in "+string(x.target()), nil)
		}
		return models.Ref{Type: p.Type, ID: entry.Counterpart(x.source())}, nil
	}

	pnode, err := x.snapshot(ctx, p)
	if err != nil {
		return models.Ref{}, err
	}
	grand, err := x.resolveParent(ctx, pnode, depth+1)
	if err != nil {
		return models.Ref{}, err
	}

	unlock := x.lockEntity(p)
	defer unlock()
	pentry, written, err := x.createNode(ctx, pnode, grand)
	if err != nil {
		return models.Ref{}, err
	}
	if err := x.record(ctx, pentry, written); err != nil {
		return models.Ref{}, err
	}
	x.log.Info().Str("ancestor", p.String()).Str("target_id", pentry.Counterpart(x.source())).Msg("Created missing ancestor")
	return models.Ref{Type: p.Type, ID: pentry.Counterpart(x.source())}, nil
}

// targetRoot returns the project root in the target store.
func (x *run) targetRoot(ctx context.Context) (models.Ref, error) {
	root, err := x.projectEntry(ctx)
	if err != nil {
		return models.Ref{}, err
	}
	id := root.IDFor(x.target())
	if id == "" {
		return models.Ref{}, syncerr.NewResolution(x.ev.ProjectKey, "project", "project root unknown in "+string(x.target()), nil)
	}
	return models.Ref{Type: models.EntityProject, ID: id}, nil
}

// projectEntry returns the project-level Identity Map entry, seeding it
// from the project directory when needed.
func (x *run) projectEntry(ctx context.Context) (*identity.Entry, error) {
	policy, ok := x.r.deps.Projects.Policy(x.ev.ProjectKey)
	if !ok || policy.LocalRootID == "" || policy.RemoteRootID == "" {
		return nil, syncerr.NewResolution(x.ev.ProjectKey, "project", "project is not linked in both stores", nil)
	}
	return x.r.deps.Identity.EnsureProject(ctx, x.ev.ProjectKey, policy.LocalRootID, policy.RemoteRootID)
}

// createNode creates the counterpart of node under parent and links the
// pair. A node already present with this name under this parent is adopted.
// It returns the entry and the fields written, name included.
func (x *run) createNode(ctx context.Context, node *models.Node, parent models.Ref) (*identity.Entry, map[string]any, error) {
	ref := node.Ref()
	if entry, err := x.lookup(ctx, ref); err != nil {
		return nil, nil, err
	} else if x.mapped(entry) {
		return entry, nil, nil
	}

	written := x.filter(node.Type, nodeFields(node))
	attrs := make(map[string]any, len(written))
	for k, v := range written {
		if k != fieldmap.NameField {
			attrs[k] = v
		}
	}

	res, err := x.dst.Create(ctx, models.CreateRequest{
		ProjectKey: x.ev.ProjectKey,
		Type:       node.Type,
		Name:       node.Name,
		Parent:     parent,
		Attributes: attrs,
	})
	if syncerr.IsNotFound(err) {
		return nil, nil, syncerr.NewResolution(x.ev.ProjectKey, ref.String(), "target parent "+parent.String()+" not found", err)
	}
	if err != nil {
		return nil, nil, err
	}
	x.writes++
	metrics.RecordApply(string(x.target()), string(differ.OpCreateNode))
	if res.Existing {
		x.log.Info().Str("source", ref.String()).Str("target_id", res.ID).Msg("Adopted existing node with the same name under the parent")
	}

	localID, remoteID := x.pair(ref.ID, res.ID)
	entry, err := x.r.deps.Identity.Link(ctx, x.ev.ProjectKey, node.Type, localID, remoteID, x.source(), x.r.now())
	if err != nil {
		return nil, nil, err
	}
	return entry, written, nil
}

// applyUpdate writes the payload fields that survive last-writer-wins and
// the field map to the mapped counterpart.
func (x *run) applyUpdate(ctx context.Context, entry *identity.Entry, payload map[string]any) error {
	if entry.Removed(x.target()) {
		x.log.Warn().Str("target_id", entry.Counterpart(x.source())).Msg("Counterpart was removed in target, update not applied")
		return x.skipUpdate(ctx, entry, "counterpart removed in target")
	}
	if err := x.m.To(StateDiffing); err != nil {
		return err
	}

	fields := x.filter(x.ev.EntityType, x.lastWriterWins(entry, payload))
	if len(fields) == 0 {
		return x.skipUpdate(ctx, entry, "no applicable fields")
	}

	targetRef := models.Ref{Type: x.ev.EntityType, ID: entry.Counterpart(x.source())}
	current, err := x.dst.Get(ctx, x.ev.ProjectKey, targetRef)
	if syncerr.IsNotFound(err) {
		return syncerr.NewResolution(x.ev.ProjectKey, targetRef.String(), "counterpart not found in "+string(x.target()), err)
	}
	if err != nil {
		return err
	}
	ops := differ.DiffNode(x.ref(), targetRef.ID, current, fields)

	if err := x.m.To(StateApplying); err != nil {
		return err
	}
	if err := x.apply(ctx, ops); err != nil {
		return err
	}
	if err := x.record(ctx, entry, fields); err != nil {
		return err
	}
	return x.m.To(StateCommitted)
}

// lastWriterWins drops every field the other store wrote later than this
// event occurred, and every field a later change of the same store already
// wrote.
func (x *run) lastWriterWins(entry *identity.Entry, payload map[string]any) map[string]any {
	out := make(map[string]any, len(payload))
	for k, v := range payload {
		if entry.Supersedes(k, x.source(), x.ev.OccurredAt, x.ev.ObservedAt) {
			x.log.Debug().
				Str("field", k).
				Time("written_at", entry.Stamps[k].At).
				Int64("written_observed_at", entry.Stamps[k].ObservedAt).
				Msg("Field superseded by a later write")
			continue
		}
		out[k] = v
	}
	return out
}

// filter keeps the attributes with an equivalent in the target schema and
// the name. Skipped fields are reported, never fatal.
func (x *run) filter(t models.EntityType, attrs map[string]any) map[string]any {
	out, mismatches := x.r.deps.Fields.Filter(x.target(), t, attrs)
	for _, m := range mismatches {
		metrics.SchemaMismatchTotal.WithLabelValues(string(x.target())).Inc()
		x.log.Warn().Err(m).Msg("Skipping field")
	}
	if name, ok := attrs[fieldmap.NameField]; ok {
		if out == nil {
			out = make(map[string]any, 1)
		}
		out[fieldmap.NameField] = name
	}
	return out
}

// apply issues rename and update ops against the target store.
func (x *run) apply(ctx context.Context, ops []differ.Op) error {
	for _, op := range ops {
		ref := models.Ref{Type: op.Type, ID: op.TargetID}
		var err error
		switch op.Kind {
		case differ.OpRenameNode:
			err = x.dst.Update(ctx, x.ev.ProjectKey, ref, map[string]any{fieldmap.NameField: op.Name})
		case differ.OpUpdateAttributes:
			err = x.dst.Update(ctx, x.ev.ProjectKey, ref, op.Attributes)
		default:
			err = fmt.Errorf("unexpected %s op for a mapped node", op.Kind)
		}
		if syncerr.IsNotFound(err) {
			return syncerr.NewResolution(x.ev.ProjectKey, ref.String(), "counterpart not found in "+string(x.target()), err)
		}
		if err != nil {
			return err
		}
		x.writes++
		metrics.RecordApply(string(x.target()), string(op.Kind))
	}
	return nil
}

// record stamps the written fields and the sync time on entry. The stamps
// drive last-writer-wins and let the opposite ingestor recognise echoes.
func (x *run) record(ctx context.Context, entry *identity.Entry, fields map[string]any) error {
	for k, v := range fields {
		entry.Stamp(k, x.source(), x.ev.OccurredAt, x.ev.ObservedAt, v)
	}
	entry.LastSyncedAt = x.r.now()
	entry.LastSyncedFrom = x.source()
	return x.r.deps.Identity.Save(ctx, entry)
}

// nodeFields returns the attributes of a snapshot plus its name.
func nodeFields(n *models.Node) map[string]any {
	out := make(map[string]any, len(n.Attributes)+1)
	for k, v := range n.Attributes {
		out[k] = v
	}
	out[fieldmap.NameField] = n.Name
	return out
}
