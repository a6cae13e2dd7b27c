// Copyright 2024 The TabletDB Authors
// SPDX-License-Identifier: Apache-2.0

package topology

import "github.com/tabletdb/tabletdb/pkg/tablet"

// Snapshot bundles the cluster topology with the tablet metadata it
// versions. Published snapshots are immutable: readers may hold one
// indefinitely and never observe a partial update. All mutation goes
// through SharedSnapshot.Mutate, which works on a clone.
type Snapshot struct {
	Topology *Topology
	Tablets  *tablet.Metadata
	// Version increments with every published mutation. The consensus
	// layer uses it to reject plans computed against stale snapshots.
	Version int64
}

// NewSnapshot returns an empty snapshot for the given local host.
func NewSnapshot(localHost tablet.HostID) *Snapshot {
	return &Snapshot{
		Topology: New(localHost),
		Tablets:  tablet.NewMetadata(),
	}
}

// clone returns a deep, unpublished copy with the version bumped.
func (s *Snapshot) clone() *Snapshot {
	return &Snapshot{
		Topology: s.Topology.Clone(),
		Tablets:  s.Tablets.Clone(),
		Version:  s.Version + 1,
	}
}
