// Copyright 2024 The TabletDB Authors
// SPDX-License-Identifier: Apache-2.0

// Package allocator computes tablet migration and resize plans. Each
// call plans one bounded round against an immutable snapshot; the
// executor applies the plan through the consensus layer and calls
// again until the plan comes back empty.
package allocator

import (
	"context"

	"github.com/cockroachdb/errors"
	"github.com/google/btree"
	"github.com/tabletdb/tabletdb/pkg/allocator/load"
	"github.com/tabletdb/tabletdb/pkg/tablet"
	"github.com/tabletdb/tabletdb/pkg/topology"
	"go.uber.org/zap"
)

// ErrInfeasiblePlacement marks planning failures where a required
// migration (a decommission drain) has no eligible destination under
// the replication and rack constraints. No partial plan is returned;
// the operator must fix the topology and retry.
var ErrInfeasiblePlacement = errors.New("infeasible placement")

// Allocator is the load-balancing planner. It is stateless across
// rounds and safe for concurrent use; all round state lives in the
// snapshot and the plan.
type Allocator struct {
	settings Settings
	logger   *zap.Logger
}

// New returns an allocator with the given settings.
func New(settings Settings, logger *zap.Logger) *Allocator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Allocator{settings: settings, logger: logger}
}

// BalanceTablets plans one round: drain migrations for hosts leaving
// the cluster (these take priority), load-balancing migrations
// otherwise, and resize decisions for tables with load statistics.
// Planning reads the snapshot and mutates nothing; an abandoned plan
// has no side effects.
func (a *Allocator) BalanceTablets(
	ctx context.Context,
	snap *topology.Snapshot,
	stats *LoadStats,
	skiplist map[tablet.HostID]struct{},
) (Plan, error) {
	if err := ctx.Err(); err != nil {
		return Plan{}, err
	}
	if !snap.Tablets.BalancingEnabled() {
		a.logger.Debug("balancing disabled, returning empty plan")
		return Plan{}, nil
	}

	p := newPlanner(a, snap, skiplist)

	if err := p.planDrain(); err != nil {
		a.logger.Warn("planning failed", zap.Error(err))
		return Plan{}, err
	}
	// Drain migrations take priority over pure load-balancing moves;
	// balancing resumes once the cluster has no draining replicas left.
	if len(p.plan.Migrations) == 0 {
		p.planBalance()
	}
	if a.settings.Shuffle && len(p.plan.Migrations) == 0 {
		p.planShuffle()
	}
	p.planResize(stats)

	a.logger.Debug("planned round",
		zap.Int("migrations", len(p.plan.Migrations)),
		zap.Int("resize_decisions", len(p.plan.Resize.Decisions)),
		zap.Int("finalize", len(p.plan.Resize.Finalize)))
	return p.plan, nil
}

// tabletEntry is a migration candidate: a tablet with no transition in
// flight, tracked under each host its replica set touches.
type tabletEntry struct {
	id       GlobalTabletID
	replicas tablet.ReplicaSet
}

// hostLoadItem orders hosts by average shard load inside the
// planner's btree, ties broken by total load then host id. Loads are
// compared by cross-multiplication so hosts with unequal shard counts
// order exactly.
type hostLoadItem struct {
	id     tablet.HostID
	load   int
	shards int
}

func (h *hostLoadItem) Less(than btree.Item) bool {
	o := than.(*hostLoadItem)
	l, r := h.load*o.shards, o.load*h.shards
	if l != r {
		return l < r
	}
	if h.load != o.load {
		return h.load < o.load
	}
	return h.id.Less(o.id)
}

type planner struct {
	a        *Allocator
	snap     *topology.Snapshot
	sketch   *load.Sketch
	skiplist map[tablet.HostID]struct{}

	byLoad    *btree.BTree
	hostItems map[tablet.HostID]*hostLoadItem
	byHost    map[tablet.HostID]map[*tabletEntry]struct{}

	plan Plan
}

func newPlanner(a *Allocator, snap *topology.Snapshot, skiplist map[tablet.HostID]struct{}) *planner {
	p := &planner{
		a:         a,
		snap:      snap,
		sketch:    load.FromSnapshot(snap),
		skiplist:  skiplist,
		byLoad:    btree.New(8),
		hostItems: make(map[tablet.HostID]*hostLoadItem),
		byHost:    make(map[tablet.HostID]map[*tabletEntry]struct{}),
	}
	// Hosts in every lifecycle state are indexed: a drained or left
	// host still appears as a migration source, and destUsable keeps it
	// from being chosen as a destination.
	for _, d := range snap.Topology.Hosts() {
		item := &hostLoadItem{
			id:     d.ID,
			load:   p.sketch.Load(d.ID),
			shards: p.sketch.ShardCount(d.ID),
		}
		p.hostItems[d.ID] = item
		p.byLoad.ReplaceOrInsert(item)
		p.byHost[d.ID] = make(map[*tabletEntry]struct{})
	}
	for tableID, m := range snap.Tablets.Tables() {
		for _, id := range m.IDs() {
			if _, inFlight := m.Transition(id); inFlight {
				// One active transition per tablet; mid-migration
				// tablets are not candidates for another move.
				continue
			}
			entry := &tabletEntry{
				id:       GlobalTabletID{Table: tableID, Tablet: id},
				replicas: m.Info(id).Replicas.Clone(),
			}
			for _, r := range entry.replicas {
				if set, ok := p.byHost[r.Host]; ok {
					set[entry] = struct{}{}
				}
			}
		}
	}
	return p
}

// planDrain moves every movable replica off hosts that are being
// decommissioned or have left. Any replica without an eligible
// destination fails the whole round.
func (p *planner) planDrain() error {
	for _, d := range p.snap.Topology.Hosts() {
		if !d.State.Draining() {
			continue
		}
		for entry := range p.byHost[d.ID] {
			shard, ok := entry.replicas.ShardOnHost(d.ID)
			if !ok {
				continue
			}
			src := tablet.Replica{Host: d.ID, Shard: shard}
			dst, ok := p.pickDestination(entry, src)
			if !ok {
				return errors.Mark(
					errors.Newf("draining host %s: no eligible destination for tablet %s", d.ID, entry.id),
					ErrInfeasiblePlacement)
			}
			p.emitMove(entry, src, dst)
			if len(p.plan.Migrations) >= p.a.settings.MaxPlanSize {
				return nil
			}
		}
	}
	return nil
}

// planBalance greedily moves replicas from the most loaded host to the
// least loaded eligible one, stopping as soon as a move would not
// strictly shrink the imbalance.
func (p *planner) planBalance() {
	for len(p.plan.Migrations) < p.a.settings.MaxPlanSize {
		entry, src, dst, ok := p.findBalanceMove()
		if !ok {
			return
		}
		p.emitMove(entry, src, dst)
	}
}

func (p *planner) findBalanceMove() (*tabletEntry, tablet.Replica, tablet.Replica, bool) {
	var (
		foundEntry *tabletEntry
		foundSrc   tablet.Replica
		foundDst   tablet.Replica
		found      bool
	)
	p.byLoad.Descend(func(i btree.Item) bool {
		srcItem := i.(*hostLoadItem)
		if srcItem.load == 0 {
			// Descending by load: everything further is empty too.
			return false
		}
		srcDesc := p.snap.Topology.MustHost(srcItem.id)
		if srcDesc.State != topology.StateNormal {
			return true
		}
		p.byLoad.Ascend(func(j btree.Item) bool {
			dstItem := j.(*hostLoadItem)
			if dstItem.id == srcItem.id {
				return true
			}
			if !moveImproves(srcItem, dstItem) {
				// Ascending by load: no further destination improves.
				return false
			}
			dstDesc := p.snap.Topology.MustHost(dstItem.id)
			if !p.destUsable(dstDesc) {
				return true
			}
			for entry := range p.byHost[srcItem.id] {
				shard, ok := entry.replicas.ShardOnHost(srcItem.id)
				if !ok {
					continue
				}
				src := tablet.Replica{Host: srcItem.id, Shard: shard}
				if !p.placementOK(entry, src, dstDesc) {
					continue
				}
				foundEntry, foundSrc = entry, src
				foundDst = tablet.Replica{Host: dstDesc.ID, Shard: p.sketch.LeastLoadedShard(dstDesc.ID)}
				found = true
				return false
			}
			return true
		})
		return !found
	})
	return foundEntry, foundSrc, foundDst, found
}

// moveImproves reports whether moving one replica from src to dst
// strictly shrinks the per-shard load imbalance without overshooting:
// the destination may not end up above where the source lands. This
// is the planner's termination guarantee.
func moveImproves(src, dst *hostLoadItem) bool {
	if src.shards == 0 || dst.shards == 0 {
		return false
	}
	if src.load*dst.shards <= dst.load*src.shards {
		return false
	}
	return (dst.load+1)*src.shards <= (src.load-1)*dst.shards
}

// planShuffle proposes a migration even though the cluster is
// balanced. Exploration only; guarded by Settings.Shuffle.
func (p *planner) planShuffle() {
	p.byLoad.Descend(func(i btree.Item) bool {
		srcItem := i.(*hostLoadItem)
		srcDesc := p.snap.Topology.MustHost(srcItem.id)
		if srcDesc.State != topology.StateNormal {
			return true
		}
		for entry := range p.byHost[srcItem.id] {
			shard, ok := entry.replicas.ShardOnHost(srcItem.id)
			if !ok {
				continue
			}
			src := tablet.Replica{Host: srcItem.id, Shard: shard}
			if dst, ok := p.pickDestination(entry, src); ok {
				p.emitMove(entry, src, dst)
				return false
			}
		}
		return true
	})
}

// pickDestination returns the least loaded eligible destination for
// replacing src in the entry's replica set.
func (p *planner) pickDestination(entry *tabletEntry, src tablet.Replica) (tablet.Replica, bool) {
	var dst tablet.Replica
	found := false
	p.byLoad.Ascend(func(i btree.Item) bool {
		item := i.(*hostLoadItem)
		if item.id == src.Host {
			return true
		}
		d := p.snap.Topology.MustHost(item.id)
		if !p.destUsable(d) || !p.placementOK(entry, src, d) {
			return true
		}
		dst = tablet.Replica{Host: d.ID, Shard: p.sketch.LeastLoadedShard(d.ID)}
		found = true
		return false
	})
	return dst, found
}

// destUsable is the host-level eligibility check for migration
// destinations.
func (p *planner) destUsable(d topology.HostDescriptor) bool {
	if d.State != topology.StateNormal || d.ShardCount < 1 {
		return false
	}
	_, skipped := p.skiplist[d.ID]
	return !skipped
}

// placementOK is the tablet-level eligibility check: no duplicate
// host, and no rack holding more replicas than the datacenter's rack
// count forces. With at least as many racks as replicas this is strict
// rack uniqueness; with fewer racks the allowance grows just enough to
// stay placeable.
func (p *planner) placementOK(entry *tabletEntry, src tablet.Replica, d topology.HostDescriptor) bool {
	dcReplicas, rackReplicas := 1, 1
	for _, r := range entry.replicas {
		if r == src {
			continue
		}
		if r.Host == d.ID {
			return false
		}
		other, ok := p.snap.Topology.Host(r.Host)
		if !ok {
			continue
		}
		if other.Locality.DC != d.Locality.DC {
			continue
		}
		dcReplicas++
		if other.Locality.Rack == d.Locality.Rack {
			rackReplicas++
		}
	}
	racks := p.snap.Topology.RacksInDC(d.Locality.DC)
	if racks == 0 {
		return false
	}
	return rackReplicas <= ceilDiv(dcReplicas, racks)
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}

// emitMove records the migration and keeps the round's working state
// (sketch, load ordering, per-host candidate sets) consistent with it.
func (p *planner) emitMove(entry *tabletEntry, src, dst tablet.Replica) {
	p.plan.Migrations = append(p.plan.Migrations, MigrationInfo{
		ID:   entry.id,
		Src:  src,
		Dst:  dst,
		Kind: tablet.KindMigration,
	})
	p.sketch.Move(src, dst)

	for _, h := range []tablet.HostID{src.Host, dst.Host} {
		if item, ok := p.hostItems[h]; ok {
			p.byLoad.Delete(item)
			item.load = p.sketch.Load(h)
			p.byLoad.ReplaceOrInsert(item)
		}
	}

	entry.replicas = entry.replicas.Replace(src, dst)
	if set, ok := p.byHost[src.Host]; ok {
		delete(set, entry)
	}
	if set, ok := p.byHost[dst.Host]; ok {
		set[entry] = struct{}{}
	}

	p.a.logger.Debug("planned migration",
		zap.Stringer("tablet", entry.id),
		zap.Stringer("src", src),
		zap.Stringer("dst", dst))
}

// planResize emits split/merge decisions and finalizations for tables
// with load statistics.
func (p *planner) planResize(stats *LoadStats) {
	if stats == nil {
		return
	}
	for table, ts := range stats.Tables {
		if !p.snap.Tablets.HasTable(table) {
			continue
		}
		m := p.snap.Tablets.TableMap(table)
		cur := m.ResizeDecision()
		avgSize := ts.SizeInBytes / uint64(m.Count())

		desired := tablet.ResizeNone
		switch {
		case avgSize > p.a.settings.splitThreshold():
			desired = tablet.ResizeSplit
		case avgSize < p.a.settings.mergeThreshold() && m.Count() > 1:
			desired = tablet.ResizeMerge
		}

		if desired == tablet.ResizeSplit && cur.Kind == tablet.ResizeSplit {
			// Split already requested; finalize once every replica has
			// acknowledged readiness for it.
			if ts.SplitReadySeq >= cur.Seq {
				p.plan.Resize.Finalize = append(p.plan.Resize.Finalize, table)
				p.a.logger.Debug("finalizing split", zap.Stringer("table", table))
			}
			continue
		}
		if desired == cur.Kind {
			continue
		}
		if p.plan.Resize.Decisions == nil {
			p.plan.Resize.Decisions = make(map[tablet.TableID]tablet.ResizeDecision)
		}
		p.plan.Resize.Decisions[table] = tablet.ResizeDecision{Kind: desired, Seq: cur.Seq + 1}
		p.a.logger.Debug("resize decision",
			zap.Stringer("table", table),
			zap.Stringer("kind", desired),
			zap.Int64("seq", cur.Seq+1),
			zap.Uint64("avg_tablet_size", avgSize))
	}
}
