// Copyright 2024 The TabletDB Authors
// SPDX-License-Identifier: Apache-2.0

// Package load derives per-host and per-shard tablet-replica counts
// from a placement snapshot. The sketch is a pure function of the
// snapshot: building one never mutates anything, and the allocator,
// tests and operators all read the same numbers.
package load

import (
	"github.com/cockroachdb/errors"
	"github.com/tabletdb/tabletdb/pkg/tablet"
	"github.com/tabletdb/tabletdb/pkg/topology"
)

// Sketch counts tablet replicas per host and per (host, shard).
// Tablets with an in-flight transition are counted at their next
// replica set, so a migration weighs on its destination from the
// moment it is planned; this is what keeps planning convergent while
// transitions are still executing.
type Sketch struct {
	hosts map[tablet.HostID]*hostLoad
}

type hostLoad struct {
	total    int
	perShard []int
}

// FromSnapshot builds a sketch over every table in the snapshot. Every
// topology host appears, including empty ones.
func FromSnapshot(snap *topology.Snapshot) *Sketch {
	s := &Sketch{hosts: make(map[tablet.HostID]*hostLoad)}
	for _, d := range snap.Topology.Hosts() {
		shards := d.ShardCount
		if shards < 1 {
			shards = 1
		}
		s.hosts[d.ID] = &hostLoad{perShard: make([]int, shards)}
	}
	for _, m := range snap.Tablets.Tables() {
		for _, id := range m.IDs() {
			replicas := m.Info(id).Replicas
			if tr, ok := m.Transition(id); ok {
				replicas = tr.Next
			}
			for _, r := range replicas {
				s.add(r)
			}
		}
	}
	return s
}

func (s *Sketch) add(r tablet.Replica) {
	hl, ok := s.hosts[r.Host]
	if !ok {
		// Replica on a host the topology no longer lists; count the
		// total so imbalance is still visible.
		hl = &hostLoad{perShard: make([]int, int(r.Shard)+1)}
		s.hosts[r.Host] = hl
	}
	hl.total++
	if int(r.Shard) < len(hl.perShard) {
		hl.perShard[r.Shard]++
	}
}

// Load returns the host's total replica count.
func (s *Sketch) Load(host tablet.HostID) int {
	if hl, ok := s.hosts[host]; ok {
		return hl.total
	}
	return 0
}

// ShardCount returns the number of shards the sketch tracks for the
// host.
func (s *Sketch) ShardCount(host tablet.HostID) int {
	if hl, ok := s.hosts[host]; ok {
		return len(hl.perShard)
	}
	return 0
}

// AvgShardLoad returns the host's replica count divided by its shard
// count.
func (s *Sketch) AvgShardLoad(host tablet.HostID) float64 {
	hl, ok := s.hosts[host]
	if !ok || len(hl.perShard) == 0 {
		return 0
	}
	return float64(hl.total) / float64(len(hl.perShard))
}

// ShardLoad returns the replica count of one shard of the host.
func (s *Sketch) ShardLoad(host tablet.HostID, shard tablet.ShardID) int {
	hl, ok := s.hosts[host]
	if !ok || int(shard) >= len(hl.perShard) {
		return 0
	}
	return hl.perShard[shard]
}

// LeastLoadedShard returns the shard of the host with the fewest
// replicas, lowest shard id winning ties. Asking about a host the
// sketch does not track is a programming error.
func (s *Sketch) LeastLoadedShard(host tablet.HostID) tablet.ShardID {
	hl, ok := s.hosts[host]
	if !ok || len(hl.perShard) == 0 {
		panic(errors.AssertionFailedf("no shard loads tracked for host %s", host))
	}
	best := 0
	for i, n := range hl.perShard {
		if n < hl.perShard[best] {
			best = i
		}
	}
	return tablet.ShardID(best)
}

// Add counts one more replica. The RF reallocator uses Add and Remove
// to keep the sketch current while it rewrites replica sets.
func (s *Sketch) Add(r tablet.Replica) {
	s.add(r)
}

// Remove uncounts a replica. Removing a replica the sketch never
// counted leaves the host at zero rather than going negative.
func (s *Sketch) Remove(r tablet.Replica) {
	hl, ok := s.hosts[r.Host]
	if !ok || hl.total == 0 {
		return
	}
	hl.total--
	if int(r.Shard) < len(hl.perShard) && hl.perShard[r.Shard] > 0 {
		hl.perShard[r.Shard]--
	}
}

// Move re-points one replica from src to dst inside the sketch. The
// allocator uses it to keep the sketch current while it accumulates a
// plan; it does not touch the snapshot.
func (s *Sketch) Move(src, dst tablet.Replica) {
	if hl, ok := s.hosts[src.Host]; ok {
		hl.total--
		if int(src.Shard) < len(hl.perShard) {
			hl.perShard[src.Shard]--
		}
	}
	s.add(dst)
}
