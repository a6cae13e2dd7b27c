// Copyright 2024 The TabletDB Authors
// SPDX-License-Identifier: Apache-2.0

// Package tablet holds the data-placement model of a replicated tablet
// store: each table's token ring is partitioned into a fixed,
// power-of-two count of tablets, every tablet carrying its own replica
// set and, while a migration is in flight, a transition record.
package tablet

import (
	"bytes"
	"fmt"

	"github.com/google/uuid"
)

type (
	// TableID is the unique identifier for a table.
	TableID uuid.UUID
	// HostID is the unique identifier for a cluster host.
	HostID uuid.UUID
	// ShardID identifies a shard within a host.
	ShardID int32
	// TabletID is the ordinal index of a tablet within its table,
	// 0..tabletCount-1.
	TabletID int64
	// SessionID correlates a transition with an external coordination
	// session. The zero value means no session.
	SessionID uuid.UUID
)

func (t TableID) String() string   { return uuid.UUID(t).String() }
func (h HostID) String() string    { return uuid.UUID(h).String() }
func (s SessionID) String() string { return uuid.UUID(s).String() }

// MakeTableID returns a fresh random table identifier.
func MakeTableID() TableID { return TableID(uuid.New()) }

// MakeHostID returns a fresh random host identifier.
func MakeHostID() HostID { return HostID(uuid.New()) }

// MakeSessionID returns a fresh random session identifier.
func MakeSessionID() SessionID { return SessionID(uuid.New()) }

// Less orders host ids by their byte representation. Used for
// deterministic tie-breaking in placement decisions.
func (h HostID) Less(other HostID) bool {
	return bytes.Compare(h[:], other[:]) < 0
}

// Replica is a single copy of a tablet's data, pinned to a shard of a
// host.
type Replica struct {
	Host  HostID  `json:"host"`
	Shard ShardID `json:"shard"`
}

func (r Replica) String() string {
	return fmt.Sprintf("%s:%d", r.Host, r.Shard)
}

// ReplicaSet is the ordered list of replicas of one tablet. Hosts do
// not repeat.
type ReplicaSet []Replica

// ContainsHost returns whether the set has a replica on the host.
func (rs ReplicaSet) ContainsHost(h HostID) bool {
	_, ok := rs.ShardOnHost(h)
	return ok
}

// ShardOnHost returns the shard of the replica on the given host, if
// any.
func (rs ReplicaSet) ShardOnHost(h HostID) (ShardID, bool) {
	for _, r := range rs {
		if r.Host == h {
			return r.Shard, true
		}
	}
	return 0, false
}

// Replace returns a copy of the set with src swapped for dst. The
// replica order is preserved. A set without src is returned unchanged.
func (rs ReplicaSet) Replace(src, dst Replica) ReplicaSet {
	out := make(ReplicaSet, len(rs))
	for i, r := range rs {
		if r == src {
			out[i] = dst
		} else {
			out[i] = r
		}
	}
	return out
}

// Clone returns a deep copy of the set.
func (rs ReplicaSet) Clone() ReplicaSet {
	if rs == nil {
		return nil
	}
	out := make(ReplicaSet, len(rs))
	copy(out, rs)
	return out
}

// Equal returns whether both sets hold the same replicas in the same
// order.
func (rs ReplicaSet) Equal(other ReplicaSet) bool {
	if len(rs) != len(other) {
		return false
	}
	for i := range rs {
		if rs[i] != other[i] {
			return false
		}
	}
	return true
}

// Info is the stable state of a tablet: its current replica set.
type Info struct {
	Replicas ReplicaSet `json:"replicas"`
}

// TransitionStage is the protocol stage of an in-flight tablet
// migration. It drives read/write routing: writes go to both replica
// sets from the start, reads switch from the old set to the next set
// at StageWriteBothReadNew.
type TransitionStage int8

const (
	// StageAllowWriteBothReadOld is the initial stage: writes reach both
	// old and new replicas while reads still use the old set.
	StageAllowWriteBothReadOld TransitionStage = iota
	// StageWriteBothReadNew switches reads to the next replica set.
	StageWriteBothReadNew
	// StageUseNew is the terminal marker before the transition record is
	// cleared and the stored replica set becomes the next set.
	StageUseNew
)

func (s TransitionStage) String() string {
	switch s {
	case StageAllowWriteBothReadOld:
		return "allow_write_both_read_old"
	case StageWriteBothReadNew:
		return "write_both_read_new"
	case StageUseNew:
		return "use_new"
	}
	return fmt.Sprintf("stage(%d)", int8(s))
}

// readsFromNext reports whether reads are served by the next replica
// set at this stage.
func (s TransitionStage) readsFromNext() bool {
	return s >= StageWriteBothReadNew
}

// TransitionKind distinguishes what caused a transition.
type TransitionKind int8

const (
	// KindMigration is an ordinary tablet migration between hosts.
	KindMigration TransitionKind = iota
	// KindIntraNodeMigration moves a replica between shards of one host.
	KindIntraNodeMigration
	// KindRebuild re-creates a replica from the surviving ones.
	KindRebuild
)

func (k TransitionKind) String() string {
	switch k {
	case KindMigration:
		return "migration"
	case KindIntraNodeMigration:
		return "intranode_migration"
	case KindRebuild:
		return "rebuild"
	}
	return fmt.Sprintf("kind(%d)", int8(k))
}

// Transition records an in-flight migration of one tablet. At most one
// transition is active per tablet. Next is the replica set that will
// hold after completion; Pivot is the single replica being added, the
// only difference between the current set and Next.
type Transition struct {
	Stage   TransitionStage `json:"stage"`
	Kind    TransitionKind  `json:"kind"`
	Next    ReplicaSet      `json:"next"`
	Pivot   Replica         `json:"pivot"`
	Session SessionID       `json:"session,omitempty"`
}

// ResizeKind is the pending resize for a table: none, split (double the
// tablet count) or merge (halve it).
type ResizeKind int8

const (
	// ResizeNone means no resize is pending.
	ResizeNone ResizeKind = iota
	// ResizeSplit doubles the table's tablet count once finalized.
	ResizeSplit
	// ResizeMerge halves the table's tablet count once finalized.
	ResizeMerge
)

func (k ResizeKind) String() string {
	switch k {
	case ResizeNone:
		return "none"
	case ResizeSplit:
		return "split"
	case ResizeMerge:
		return "merge"
	}
	return fmt.Sprintf("resize(%d)", int8(k))
}

// ResizeDecision is a table's pending split/merge proposal. Seq grows
// monotonically with every decision change; replicas acknowledge split
// readiness tagged with the Seq they prepared for.
type ResizeDecision struct {
	Kind ResizeKind `json:"kind"`
	Seq  int64      `json:"seq"`
}
