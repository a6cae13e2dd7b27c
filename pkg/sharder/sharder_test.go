// Copyright 2024 The TabletDB Authors
// SPDX-License-Identifier: Apache-2.0

package sharder

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/tabletdb/tabletdb/pkg/tablet"
	"github.com/tabletdb/tabletdb/pkg/topology"
)

// buildSharderFixture builds a 4-tablet table where, seen from h1, the
// per-tablet local shards are [3, 0 (missing), 1 (via migration), 0
// (missing)].
func buildSharderFixture(t *testing.T) (*Sharder, *tablet.Map) {
	t.Helper()
	h1, h2, h3 := tablet.MakeHostID(), tablet.MakeHostID(), tablet.MakeHostID()
	table := tablet.MakeTableID()

	m := tablet.MustNewMap(4)
	m.SetInfo(0, tablet.Info{Replicas: tablet.ReplicaSet{{Host: h1, Shard: 3}, {Host: h3, Shard: 5}}})
	m.SetInfo(1, tablet.Info{Replicas: tablet.ReplicaSet{{Host: h2, Shard: 3}, {Host: h3, Shard: 1}}})
	m.SetInfo(2, tablet.Info{Replicas: tablet.ReplicaSet{{Host: h3, Shard: 2}, {Host: h1, Shard: 1}}})
	m.SetTransition(2, tablet.Transition{
		Stage: tablet.StageUseNew,
		Kind:  tablet.KindMigration,
		Next:  tablet.ReplicaSet{{Host: h1, Shard: 1}, {Host: h2, Shard: 3}},
		Pivot: tablet.Replica{Host: h2, Shard: 3},
	})
	m.SetInfo(3, tablet.Info{Replicas: tablet.ReplicaSet{{Host: h3, Shard: 7}, {Host: h2, Shard: 3}}})

	snap := topology.NewSnapshot(h1)
	for _, h := range []tablet.HostID{h1, h2, h3} {
		snap.Topology.UpdateHost(topology.HostDescriptor{
			ID: h, Locality: topology.DefaultLocality, ShardCount: 8,
		})
	}
	snap.Tablets.SetTableMap(table, m)

	s, err := New(snap, table)
	require.NoError(t, err)
	return s, m
}

func TestSharderShardOf(t *testing.T) {
	s, m := buildSharderFixture(t)

	require.Equal(t, tablet.ShardID(3), s.ShardOf(m.LastToken(0)))
	require.Equal(t, tablet.ShardID(0), s.ShardOf(m.LastToken(1))) // missing
	require.Equal(t, tablet.ShardID(1), s.ShardOf(m.LastToken(2)))
	require.Equal(t, tablet.ShardID(0), s.ShardOf(m.LastToken(3))) // missing
}

func TestSharderTokenForNextShard(t *testing.T) {
	s, m := buildSharderFixture(t)

	for _, from := range []tablet.Token{m.LastToken(1), m.FirstToken(1)} {
		tok, ok := s.TokenForNextShard(from, 0)
		require.True(t, ok)
		require.Equal(t, m.FirstToken(3), tok)

		tok, ok = s.TokenForNextShard(from, 1)
		require.True(t, ok)
		require.Equal(t, m.FirstToken(2), tok)

		_, ok = s.TokenForNextShard(from, 3)
		require.False(t, ok)
	}
}

func TestSharderNextShard(t *testing.T) {
	s, m := buildSharderFixture(t)

	b, ok := s.NextShard(m.LastToken(0))
	require.True(t, ok)
	require.Equal(t, tablet.ShardID(0), b.Shard)
	require.Equal(t, m.FirstToken(1), b.Token)

	b, ok = s.NextShard(m.LastToken(1))
	require.True(t, ok)
	require.Equal(t, tablet.ShardID(1), b.Shard)
	require.Equal(t, m.FirstToken(2), b.Token)

	b, ok = s.NextShard(m.LastToken(2))
	require.True(t, ok)
	require.Equal(t, tablet.ShardID(0), b.Shard)
	require.Equal(t, m.FirstToken(3), b.Token)

	_, ok = s.NextShard(m.LastToken(3))
	require.False(t, ok)
}

func TestSharderUnknownTable(t *testing.T) {
	snap := topology.NewSnapshot(tablet.MakeHostID())
	_, err := New(snap, tablet.MakeTableID())
	require.Error(t, err)
}
