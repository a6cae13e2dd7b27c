// Copyright 2024 The TabletDB Authors
// SPDX-License-Identifier: Apache-2.0

package tablet

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTokenOwnershipSplitting(t *testing.T) {
	for _, count := range []int{1, 2, 4, 16, 1024} {
		m := MustNewMap(count)

		require.Equal(t, MinToken, m.FirstToken(m.First()))
		require.Equal(t, MaxToken, m.LastToken(m.Last()))

		prev := TabletID(-1)
		for _, id := range m.IDs() {
			require.Equal(t, id, m.IDForToken(m.FirstToken(id)))
			require.Equal(t, id, m.IDForToken(m.LastToken(id)))
			if prev >= 0 {
				// Ranges are contiguous: the token after the previous
				// tablet's last token starts this tablet.
				require.Equal(t, m.FirstToken(id), m.LastToken(prev).Next())
				require.Equal(t, id, m.IDForToken(m.LastToken(prev).Next()))
			}
			prev = id
		}
	}
}

func TestMapNextIteration(t *testing.T) {
	m := MustNewMap(4)
	var ids []TabletID
	id := m.First()
	for {
		ids = append(ids, id)
		next, ok := m.Next(id)
		if !ok {
			break
		}
		id = next
	}
	require.Equal(t, []TabletID{0, 1, 2, 3}, ids)
	require.Equal(t, ids, m.IDs())
}

func TestIDAndSideForToken(t *testing.T) {
	const count = 128
	m := MustNewMap(count)
	split := MustNewMap(count * 2)

	for id := TabletID(0); id < count; id++ {
		leftRange := split.TokenRange(2 * id)
		rightRange := split.TokenRange(2*id + 1)

		check := func(tok Token, wantSide RangeSide) {
			gotID, gotSide := m.IDAndSideForToken(tok)
			require.Equal(t, id, gotID)
			require.Equal(t, wantSide, gotSide)
		}

		// Both bounds of each post-split child resolve to the parent's
		// matching half.
		check(leftRange.First, SideLeft)
		check(leftRange.Last, SideLeft)
		check(rightRange.First, SideRight)
		check(rightRange.Last, SideRight)
	}
}

func TestMapShard(t *testing.T) {
	h1, h2, h3 := MakeHostID(), MakeHostID(), MakeHostID()

	m := MustNewMap(2)
	m.SetInfo(0, Info{Replicas: ReplicaSet{{h1, 0}, {h3, 5}}})
	m.SetInfo(1, Info{Replicas: ReplicaSet{{h1, 2}, {h3, 1}}})
	m.SetTransition(0, Transition{
		Stage: StageAllowWriteBothReadOld,
		Kind:  KindMigration,
		Next:  ReplicaSet{{h1, 0}, {h2, 3}},
		Pivot: Replica{h2, 3},
	})

	shard := func(id TabletID, h HostID) (ShardID, bool) {
		s, ok := m.Shard(id, h)
		return s, ok
	}

	s, ok := shard(1, h1)
	require.True(t, ok)
	require.Equal(t, ShardID(2), s)
	_, ok = shard(1, h2)
	require.False(t, ok)
	s, ok = shard(1, h3)
	require.True(t, ok)
	require.Equal(t, ShardID(1), s)

	// Tablet 0 is migrating: h2 is only in the next set but writes
	// already reach it, so it resolves.
	s, ok = shard(0, h1)
	require.True(t, ok)
	require.Equal(t, ShardID(0), s)
	s, ok = shard(0, h2)
	require.True(t, ok)
	require.Equal(t, ShardID(3), s)
	s, ok = shard(0, h3)
	require.True(t, ok)
	require.Equal(t, ShardID(5), s)
}

func TestMapShardReadSetSwitchesWithStage(t *testing.T) {
	h1, h2 := MakeHostID(), MakeHostID()

	// Intra-node shard move: h1 appears in both sets with different
	// shards, so the stage decides which one reads use.
	m := MustNewMap(1)
	m.SetInfo(0, Info{Replicas: ReplicaSet{{h1, 0}, {h2, 1}}})
	tr := Transition{
		Stage: StageAllowWriteBothReadOld,
		Kind:  KindIntraNodeMigration,
		Next:  ReplicaSet{{h1, 4}, {h2, 1}},
		Pivot: Replica{h1, 4},
	}

	m.SetTransition(0, tr)
	s, ok := m.Shard(0, h1)
	require.True(t, ok)
	require.Equal(t, ShardID(0), s)

	for _, stage := range []TransitionStage{StageWriteBothReadNew, StageUseNew} {
		tr.Stage = stage
		m.SetTransition(0, tr)
		s, ok = m.Shard(0, h1)
		require.True(t, ok)
		require.Equal(t, ShardID(4), s)
	}
}

func TestMapSplitAndMerge(t *testing.T) {
	h1, h2 := MakeHostID(), MakeHostID()
	m := MustNewMap(2)
	m.SetInfo(0, Info{Replicas: ReplicaSet{{h1, 0}}})
	m.SetInfo(1, Info{Replicas: ReplicaSet{{h2, 1}}})
	m.SetResizeDecision(ResizeDecision{Kind: ResizeSplit, Seq: 3})

	split := m.SplitMap()
	require.Equal(t, 4, split.Count())
	require.Equal(t, ResizeNone, split.ResizeDecision().Kind)
	require.Equal(t, int64(3), split.ResizeDecision().Seq)
	for _, id := range []TabletID{0, 1} {
		require.True(t, split.Info(id).Replicas.Equal(ReplicaSet{{h1, 0}}))
	}
	for _, id := range []TabletID{2, 3} {
		require.True(t, split.Info(id).Replicas.Equal(ReplicaSet{{h2, 1}}))
	}

	merged := split.MergeMap()
	require.Equal(t, 2, merged.Count())
	require.True(t, merged.Info(0).Replicas.Equal(ReplicaSet{{h1, 0}}))
	require.True(t, merged.Info(1).Replicas.Equal(ReplicaSet{{h2, 1}}))
}

func TestMapOutOfRangePanics(t *testing.T) {
	m := MustNewMap(2)
	require.Panics(t, func() { m.Info(2) })
	require.Panics(t, func() { m.Info(-1) })
	require.Panics(t, func() { m.SetInfo(7, Info{}) })
}

func TestNewMapRejectsNonPowerOfTwo(t *testing.T) {
	for _, count := range []int{0, -1, 3, 6, 1000} {
		_, err := NewMap(count)
		require.Error(t, err)
	}
}

func TestReplicaSetReplace(t *testing.T) {
	h1, h2, h3 := MakeHostID(), MakeHostID(), MakeHostID()
	rs := ReplicaSet{{h1, 0}, {h2, 1}}
	out := rs.Replace(Replica{h2, 1}, Replica{h3, 2})
	require.True(t, out.Equal(ReplicaSet{{h1, 0}, {h3, 2}}))
	// Original untouched.
	require.True(t, rs.Equal(ReplicaSet{{h1, 0}, {h2, 1}}))
}
