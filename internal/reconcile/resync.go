// Prodsync - Production Tracking Hierarchy Synchronization
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/prodsync

package reconcile

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/tomtom215/prodsync/internal/differ"
	"github.com/tomtom215/prodsync/internal/fieldmap"
	"github.com/tomtom215/prodsync/internal/models"
	"github.com/tomtom215/prodsync/internal/syncerr"
)

// fullResync diffs the whole source project tree onto the target. The root
// itself is left alone and subtrees whose counterpart was removed in the
// target are skipped. A transient error restarts the resync, which is safe
// because every node created so far is mapped. Other per-node errors are
// collected and the rest of the tree is still applied.
func (x *run) fullResync(ctx context.Context) error {
	root, err := x.projectEntry(ctx)
	if err != nil {
		return err
	}
	srcRoot := models.Ref{Type: models.EntityProject, ID: root.IDFor(x.source())}
	dstRoot := models.Ref{Type: models.EntityProject, ID: root.IDFor(x.target())}

	var srcNodes, dstNodes []models.Node
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		nodes, err := x.src.ReadTree(gctx, x.ev.ProjectKey, srcRoot, x.r.cfg.ResyncDepth)
		srcNodes = nodes
		return err
	})
	g.Go(func() error {
		nodes, err := x.dst.ReadTree(gctx, x.ev.ProjectKey, dstRoot, x.r.cfg.ResyncDepth)
		dstNodes = nodes
		return err
	})
	if err := g.Wait(); err != nil {
		if syncerr.IsNotFound(err) {
			return syncerr.NewResolution(x.ev.ProjectKey, "project", "project tree not readable", err)
		}
		return err
	}

	if err := x.m.To(StateDiffing); err != nil {
		return err
	}
	tree := differ.Tree{
		Source:     srcNodes,
		Root:       srcRoot,
		RootTarget: dstRoot.ID,
		Mapped:     make(map[models.Ref]string),
		Target:     make(map[string]models.Node, len(dstNodes)),
		Skip:       make(map[models.Ref]bool),
	}
	nodes := make(map[models.Ref]models.Node, len(srcNodes))
	for _, n := range srcNodes {
		ref := n.Ref()
		nodes[ref] = n
		if ref == srcRoot {
			continue
		}
		entry, err := x.lookup(ctx, ref)
		if err != nil {
			return err
		}
		if !x.mapped(entry) {
			continue
		}
		if entry.Removed(x.target()) {
			tree.Skip[ref] = true
			continue
		}
		tree.Mapped[ref] = entry.Counterpart(x.source())
	}
	for _, n := range dstNodes {
		tree.Target[n.ID] = n
	}

	plan := differ.DiffTree(tree)
	for _, ref := range plan.Invalid {
		x.log.Warn().Str("source", ref.String()).Msg("Source node has an invalid parent type, subtree skipped")
	}
	if err := differ.CheckOrder(plan.Ops); err != nil {
		return err
	}

	if err := x.m.To(StateApplying); err != nil {
		return err
	}
	created := make(map[models.Ref]string)
	var errs []error
	for _, op := range plan.Ops {
		err := x.applyTreeOp(ctx, op, nodes, created)
		if err == nil {
			continue
		}
		if syncerr.IsTransient(err) {
			return err
		}
		x.log.Warn().Err(err).Str("op", op.String()).Msg("Full resync op failed")
		errs = append(errs, err)
	}

	x.log.Info().
		Int("source_nodes", len(srcNodes)).
		Int("target_nodes", len(dstNodes)).
		Int("ops", len(plan.Ops)).
		Int("creates", plan.Creates()).
		Int("skipped_subtrees", len(tree.Skip)).
		Int("errors", len(errs)).
		Msg("Full resync applied")

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return x.m.To(StateCommitted)
}

// applyTreeOp applies one planned op under the lock of its source entity,
// like every other Identity Map read-modify-write.
func (x *run) applyTreeOp(ctx context.Context, op differ.Op, nodes map[models.Ref]models.Node, created map[models.Ref]string) error {
	defer x.lockEntity(op.Source)()

	switch op.Kind {
	case differ.OpCreateNode:
		parent := models.Ref{Type: op.Parent.Type, ID: op.Parent.TargetID}
		if op.Parent.Pending != nil {
			id, ok := created[*op.Parent.Pending]
			if !ok {
				return syncerr.NewResolution(x.ev.ProjectKey, op.Source.String(), "parent "+op.Parent.Pending.String()+" was not created", nil)
			}
			parent.ID = id
		}
		node, ok := nodes[op.Source]
		if !ok {
			return fmt.Errorf("create op for unknown source node %s", op.Source)
		}
		entry, written, err := x.createNode(ctx, &node, parent)
		if err != nil {
			return err
		}
		created[op.Source] = entry.Counterpart(x.source())
		if written == nil {
			return nil
		}
		return x.record(ctx, entry, written)

	case differ.OpRenameNode, differ.OpUpdateAttributes:
		fields := map[string]any{fieldmap.NameField: op.Name}
		if op.Kind == differ.OpUpdateAttributes {
			fields = x.filter(op.Type, op.Attributes)
			if len(fields) == 0 {
				return nil
			}
			op.Attributes = fields
		}
		if err := x.apply(ctx, []differ.Op{op}); err != nil {
			return err
		}
		entry, err := x.lookup(ctx, op.Source)
		if err != nil || entry == nil {
			return err
		}
		return x.record(ctx, entry, fields)

	default:
		return fmt.Errorf("unsupported op kind %q", op.Kind)
	}
}
