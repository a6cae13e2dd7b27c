// Copyright 2024 The TabletDB Authors
// SPDX-License-Identifier: Apache-2.0

// Package sharder answers token-routing questions for the local host:
// which local shard owns a token, and where along the ring the
// ownership next changes. It is a read-only view derived from a
// placement snapshot.
package sharder

import (
	"github.com/cockroachdb/errors"
	"github.com/tabletdb/tabletdb/pkg/tablet"
	"github.com/tabletdb/tabletdb/pkg/topology"
)

// Sharder routes tokens of one table to shards of the local host.
type Sharder struct {
	tmap  *tablet.Map
	local tablet.HostID
}

// New returns a sharder for the table, bound to the snapshot's local
// host.
func New(snap *topology.Snapshot, table tablet.TableID) (*Sharder, error) {
	if !snap.Tablets.HasTable(table) {
		return nil, errors.Newf("no tablet map for table %s", table)
	}
	return &Sharder{
		tmap:  snap.Tablets.TableMap(table),
		local: snap.Topology.LocalHost(),
	}, nil
}

// shardOfTablet returns the local shard owning the tablet, falling
// back to shard 0 when the local host holds no replica. The fallback
// is a routing convenience only: a token always routes somewhere
// deterministic, even on hosts without a replica.
func (s *Sharder) shardOfTablet(id tablet.TabletID) tablet.ShardID {
	if shard, ok := s.tmap.Shard(id, s.local); ok {
		return shard
	}
	return 0
}

// ShardOf returns the local shard owning the token. During a
// migration the effective replica set follows the transition stage
// (reads move to the next set at write_both_read_new).
func (s *Sharder) ShardOf(t tablet.Token) tablet.ShardID {
	return s.shardOfTablet(s.tmap.IDForToken(t))
}

// ShardBoundary is a point on the ring where local shard ownership
// changes: Token is the first token of the new owner's range.
type ShardBoundary struct {
	Token tablet.Token
	Shard tablet.ShardID
}

// NextShard returns the next boundary strictly after the tablet
// containing t at which the local shard differs from ShardOf(t), or
// false once the ring maximum is passed.
func (s *Sharder) NextShard(t tablet.Token) (ShardBoundary, bool) {
	cur := s.ShardOf(t)
	id := s.tmap.IDForToken(t)
	for {
		next, ok := s.tmap.Next(id)
		if !ok {
			return ShardBoundary{}, false
		}
		id = next
		if shard := s.shardOfTablet(id); shard != cur {
			return ShardBoundary{Token: s.tmap.FirstToken(id), Shard: shard}, true
		}
	}
}

// TokenForNextShard returns the first token, strictly after the
// tablet containing t, that is owned by the given local shard; false
// once the ring maximum is passed. Used by parallel range scans to
// plan per-shard sub-scans.
func (s *Sharder) TokenForNextShard(t tablet.Token, shard tablet.ShardID) (tablet.Token, bool) {
	id := s.tmap.IDForToken(t)
	for {
		next, ok := s.tmap.Next(id)
		if !ok {
			return 0, false
		}
		id = next
		if s.shardOfTablet(id) == shard {
			return s.tmap.FirstToken(id), true
		}
	}
}
