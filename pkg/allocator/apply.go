// Copyright 2024 The TabletDB Authors
// SPDX-License-Identifier: Apache-2.0

package allocator

import (
	"github.com/cockroachdb/errors"
	"github.com/tabletdb/tabletdb/pkg/tablet"
)

// ResizeListener is notified when a table's split finalizes and its
// tablet count doubles. Implementations hook cache invalidation and
// operator visibility.
type ResizeListener interface {
	OnResizeFinalized(table tablet.TableID, newTabletCount int)
}

// Apply mutates md to reflect the plan with every migration already
// completed: replica sets are rewritten directly and no transitions
// are installed. Callers use it inside a snapshot mutation. listener
// may be nil.
func Apply(md *tablet.Metadata, plan Plan, listener ResizeListener) error {
	for _, mig := range plan.Migrations {
		if err := applyReplicaChange(md, mig); err != nil {
			return err
		}
	}
	return applyResize(md, plan.Resize, listener)
}

// ApplyAsInProgress mutates md to reflect the plan with every
// migration left in flight at its initial stage. The executor then
// advances each transition stage by stage and clears it on
// completion. Resize decisions still apply immediately; only the data
// movement is staged.
func ApplyAsInProgress(md *tablet.Metadata, plan Plan, listener ResizeListener) error {
	for _, mig := range plan.Migrations {
		m := md.TableMap(mig.ID.Table)
		if _, inFlight := m.Transition(mig.ID.Tablet); inFlight {
			return errors.Newf("tablet %s already has a transition in flight", mig.ID)
		}
		info := m.Info(mig.ID.Tablet)
		if !info.Replicas.ContainsHost(mig.Src.Host) {
			return errors.Newf("tablet %s has no replica on %s", mig.ID, mig.Src.Host)
		}
		m.SetTransition(mig.ID.Tablet, MigrationTransition(info, mig))
	}
	return applyResize(md, plan.Resize, listener)
}

func applyReplicaChange(md *tablet.Metadata, mig MigrationInfo) error {
	m := md.TableMap(mig.ID.Table)
	info := m.Info(mig.ID.Tablet)
	if !info.Replicas.ContainsHost(mig.Src.Host) {
		return errors.Newf("tablet %s has no replica on %s", mig.ID, mig.Src.Host)
	}
	info.Replicas = info.Replicas.Replace(mig.Src, mig.Dst)
	m.SetInfo(mig.ID.Tablet, info)
	return nil
}

func applyResize(md *tablet.Metadata, rp ResizePlan, listener ResizeListener) error {
	for table, decision := range rp.Decisions {
		if !md.HasTable(table) {
			return errors.Newf("resize decision for unknown table %s", table)
		}
		md.TableMap(table).SetResizeDecision(decision)
	}
	for _, table := range rp.Finalize {
		if !md.HasTable(table) {
			return errors.Newf("split finalization for unknown table %s", table)
		}
		m := md.TableMap(table)
		if m.ResizeDecision().Kind != tablet.ResizeSplit {
			return errors.Newf("table %s has no pending split to finalize", table)
		}
		if len(m.Transitions()) != 0 {
			return errors.Newf("table %s cannot finalize a split with transitions in flight", table)
		}
		split := m.SplitMap()
		// The doubled map starts with a clean resize slate; the next
		// decision continues the sequence from where it left off.
		split.SetResizeDecision(tablet.ResizeDecision{
			Kind: tablet.ResizeNone,
			Seq:  m.ResizeDecision().Seq,
		})
		md.SetTableMap(table, split)
		if listener != nil {
			listener.OnResizeFinalized(table, split.Count())
		}
	}
	return nil
}
