// Copyright 2024 The TabletDB Authors
// SPDX-License-Identifier: Apache-2.0

package allocator

import (
	"fmt"

	"github.com/tabletdb/tabletdb/pkg/tablet"
)

// GlobalTabletID addresses one tablet across tables.
type GlobalTabletID struct {
	Table  tablet.TableID
	Tablet tablet.TabletID
}

func (g GlobalTabletID) String() string {
	return fmt.Sprintf("%s/%d", g.Table, g.Tablet)
}

// MigrationInfo is one planned tablet migration: the Src replica is
// replaced by Dst within the tablet's replica set. Migrations never
// change the replication factor; RF changes go through the replication
// package.
type MigrationInfo struct {
	ID   GlobalTabletID
	Src  tablet.Replica
	Dst  tablet.Replica
	Kind tablet.TransitionKind
}

// ResizePlan carries the resize side of a planning round: new
// decisions to install per table, and tables whose pending split is
// fully acknowledged and ready to finalize (double the tablet count
// and reset the decision).
type ResizePlan struct {
	Decisions map[tablet.TableID]tablet.ResizeDecision
	Finalize  []tablet.TableID
}

func (p ResizePlan) empty() bool {
	return len(p.Decisions) == 0 && len(p.Finalize) == 0
}

// Plan is the outcome of one planning round. Applying it and
// re-planning against the updated snapshot converges to an empty plan
// whenever a feasible balanced state exists.
type Plan struct {
	Migrations []MigrationInfo
	Resize     ResizePlan
}

// Empty reports whether the plan carries no work.
func (p Plan) Empty() bool {
	return len(p.Migrations) == 0 && p.Resize.empty()
}

// TableLoadStats is the per-table load report from the statistics
// collaborator. SplitReadySeq is the highest resize sequence number
// all replicas have acknowledged split readiness for.
type TableLoadStats struct {
	SizeInBytes   uint64
	SplitReadySeq int64
}

// InitialSplitReadySeq is the readiness sequence of a table that has
// acknowledged nothing yet; it compares below every issued decision.
const InitialSplitReadySeq int64 = -1 << 63

// LoadStats carries per-table load reports into a planning call.
// Staleness is tolerated; planning is best-effort on the data given.
type LoadStats struct {
	Tables map[tablet.TableID]TableLoadStats
}

// MigrationTransition builds the in-flight transition record that
// starting the migration installs on the tablet.
func MigrationTransition(info tablet.Info, mig MigrationInfo) tablet.Transition {
	return tablet.Transition{
		Stage: tablet.StageAllowWriteBothReadOld,
		Kind:  mig.Kind,
		Next:  info.Replicas.Replace(mig.Src, mig.Dst),
		Pivot: mig.Dst,
	}
}
