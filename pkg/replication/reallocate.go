// Copyright 2024 The TabletDB Authors
// SPDX-License-Identifier: Apache-2.0

package replication

import (
	"sort"

	"github.com/cockroachdb/errors"
	"github.com/tabletdb/tabletdb/pkg/allocator/load"
	"github.com/tabletdb/tabletdb/pkg/tablet"
	"github.com/tabletdb/tabletdb/pkg/topology"
)

// ErrNotEnoughNodes marks new-table allocation failures where a
// datacenter lacks enough eligible hosts for its replication factor.
var ErrNotEnoughNodes = errors.New("not enough nodes")

// placer holds one allocation call's working state: eligible hosts
// grouped per datacenter and a load sketch kept current with the
// replicas being assigned and removed.
type placer struct {
	snap   *topology.Snapshot
	sketch *load.Sketch
	byDC   map[string][]topology.HostDescriptor
}

func newPlacer(snap *topology.Snapshot) *placer {
	p := &placer{
		snap:   snap,
		sketch: load.FromSnapshot(snap),
		byDC:   make(map[string][]topology.HostDescriptor),
	}
	// Hosts() is sorted by id, which keeps placement deterministic.
	for _, d := range snap.Topology.Hosts() {
		if d.State != topology.StateNormal || d.ShardCount < 1 {
			continue
		}
		p.byDC[d.Locality.DC] = append(p.byDC[d.Locality.DC], d)
	}
	return p
}

// avgLoadLess compares two hosts by average shard load, by
// cross-multiplication so unequal shard counts compare exactly.
func (p *placer) avgLoadLess(a, b tablet.HostID) bool {
	return p.sketch.Load(a)*p.sketch.ShardCount(b) < p.sketch.Load(b)*p.sketch.ShardCount(a)
}

// pick returns the best host in the datacenter for one new replica:
// least used rack first, then least loaded host. Hosts in exclude
// already hold a replica of the tablet.
func (p *placer) pick(dc string, exclude map[tablet.HostID]struct{}, rackUse map[string]int) (topology.HostDescriptor, bool) {
	var best topology.HostDescriptor
	found := false
	for _, d := range p.byDC[dc] {
		if _, dup := exclude[d.ID]; dup {
			continue
		}
		if !found ||
			rackUse[d.Locality.Rack] < rackUse[best.Locality.Rack] ||
			(rackUse[d.Locality.Rack] == rackUse[best.Locality.Rack] && p.avgLoadLess(d.ID, best.ID)) {
			best = d
			found = true
		}
	}
	return best, found
}

// place assigns one replica on the host's least loaded shard and
// accounts for it.
func (p *placer) place(d topology.HostDescriptor) tablet.Replica {
	r := tablet.Replica{Host: d.ID, Shard: p.sketch.LeastLoadedShard(d.ID)}
	p.sketch.Add(r)
	return r
}

// AllocateForNewTable computes the initial replica sets of a fresh
// table, spreading each datacenter's replicas across racks and
// levelling load as it goes.
func (s *NetworkTopologyStrategy) AllocateForNewTable(
	snap *topology.Snapshot, tabletCount int,
) (*tablet.Map, error) {
	m, err := tablet.NewMap(tabletCount)
	if err != nil {
		return nil, err
	}
	p := newPlacer(snap)
	for _, id := range m.IDs() {
		var rs tablet.ReplicaSet
		exclude := make(map[tablet.HostID]struct{})
		for _, dc := range s.Datacenters() {
			rf := s.rfPerDC[dc]
			if rf > len(p.byDC[dc]) {
				return nil, errors.Mark(
					errors.Newf("datacenter %q has %d eligible hosts, need %d", dc, len(p.byDC[dc]), rf),
					ErrNotEnoughNodes)
			}
			rackUse := make(map[string]int)
			for i := 0; i < rf; i++ {
				d, ok := p.pick(dc, exclude, rackUse)
				if !ok {
					return nil, errors.Mark(
						errors.Newf("datacenter %q exhausted after %d of %d replicas", dc, i, rf),
						ErrNotEnoughNodes)
				}
				rs = append(rs, p.place(d))
				exclude[d.ID] = struct{}{}
				rackUse[d.Locality.Rack]++
			}
		}
		m.SetInfo(id, tablet.Info{Replicas: rs})
	}
	return m, nil
}

// Reallocate recomputes the map's replica sets for the strategy's
// factors. Surviving replicas stay where they are; only the factor
// delta is added or removed per datacenter. Datacenters reported
// StatusNotEnoughNodes keep their replica count unchanged.
func (s *NetworkTopologyStrategy) Reallocate(
	m *tablet.Map, snap *topology.Snapshot,
) (*tablet.Map, map[string]Status, error) {
	if len(m.Transitions()) != 0 {
		return nil, nil, errors.New("cannot reallocate replicas with transitions in flight")
	}

	p := newPlacer(snap)
	// The map under reallocation may not be registered in the
	// snapshot yet; weigh its replicas in so additions and removals
	// level the load it creates.
	for _, id := range m.IDs() {
		for _, r := range m.Info(id).Replicas {
			p.sketch.Add(r)
		}
	}
	out := m.Clone()

	// Consider every datacenter the strategy names plus every
	// datacenter currently holding replicas; an unnamed one has an
	// implicit factor of zero and drains.
	dcs := make(map[string]struct{})
	for dc := range s.rfPerDC {
		dcs[dc] = struct{}{}
	}
	for _, id := range m.IDs() {
		for _, r := range m.Info(id).Replicas {
			if d, ok := snap.Topology.Host(r.Host); ok {
				dcs[d.Locality.DC] = struct{}{}
			}
		}
	}
	ordered := make([]string, 0, len(dcs))
	for dc := range dcs {
		ordered = append(ordered, dc)
	}
	sort.Strings(ordered)

	statuses := make(map[string]Status, len(ordered))
	for _, dc := range ordered {
		if s.rfPerDC[dc] > len(p.byDC[dc]) {
			statuses[dc] = StatusNotEnoughNodes
		} else {
			statuses[dc] = StatusSuccess
		}
	}

	for _, id := range out.IDs() {
		info := out.Info(id)
		rs := info.Replicas.Clone()
		for _, dc := range ordered {
			if statuses[dc] != StatusSuccess {
				continue
			}
			rs = p.resizeDC(rs, dc, s.rfPerDC[dc])
		}
		info.Replicas = rs
		out.SetInfo(id, info)
	}
	return out, statuses, nil
}

// resizeDC grows or shrinks one datacenter's share of a replica set to
// the target factor.
func (p *placer) resizeDC(rs tablet.ReplicaSet, dc string, rf int) tablet.ReplicaSet {
	var cur []tablet.Replica
	for _, r := range rs {
		if d, ok := p.snap.Topology.Host(r.Host); ok && d.Locality.DC == dc {
			cur = append(cur, r)
		}
	}

	for len(cur) > rf {
		victim := p.pickRemoval(cur)
		p.sketch.Remove(cur[victim])
		rs = removeReplica(rs, cur[victim])
		cur = append(cur[:victim], cur[victim+1:]...)
	}

	if len(cur) < rf {
		exclude := make(map[tablet.HostID]struct{}, len(rs))
		for _, r := range rs {
			exclude[r.Host] = struct{}{}
		}
		rackUse := make(map[string]int)
		for _, r := range cur {
			rackUse[p.snap.Topology.MustHost(r.Host).Locality.Rack]++
		}
		for len(cur) < rf {
			d, ok := p.pick(dc, exclude, rackUse)
			if !ok {
				// Feasibility was checked per datacenter up front.
				panic(errors.AssertionFailedf("datacenter %q exhausted below its checked capacity", dc))
			}
			r := p.place(d)
			rs = append(rs, r)
			cur = append(cur, r)
			exclude[d.ID] = struct{}{}
			rackUse[d.Locality.Rack]++
		}
	}
	return rs
}

// pickRemoval chooses which replica of a datacenter to drop: hosts no
// longer accepting replicas go first, then the most loaded host.
func (p *placer) pickRemoval(cur []tablet.Replica) int {
	victim := 0
	for i := 1; i < len(cur); i++ {
		a, b := cur[i], cur[victim]
		aBad := p.snap.Topology.MustHost(a.Host).State != topology.StateNormal
		bBad := p.snap.Topology.MustHost(b.Host).State != topology.StateNormal
		switch {
		case aBad != bBad:
			if aBad {
				victim = i
			}
		case p.avgLoadLess(b.Host, a.Host):
			victim = i
		}
	}
	return victim
}

func removeReplica(rs tablet.ReplicaSet, r tablet.Replica) tablet.ReplicaSet {
	out := rs[:0]
	for _, x := range rs {
		if x != r {
			out = append(out, x)
		}
	}
	return out
}
