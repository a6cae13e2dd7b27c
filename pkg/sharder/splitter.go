// Copyright 2024 The TabletDB Authors
// SPDX-License-Identifier: Apache-2.0

package sharder

import (
	"sort"

	"github.com/tabletdb/tabletdb/pkg/tablet"
)

// SplitResult is one segment of a query range: the intersection of an
// input range with a tablet replicated on the target host, tagged with
// the replica's shard there.
type SplitResult struct {
	Shard tablet.ShardID
	Range tablet.TokenRange
}

// RangeSplitter decomposes a set of query token ranges by tablet
// ownership on a target host. It is a stateful cursor: each Next call
// produces the next (shard, sub-range) segment in ascending token
// order; tablets without a replica on the target host are silently
// skipped, trimming the input range around the gap. The sequence is
// finite and not restartable.
type RangeSplitter struct {
	tmap   *tablet.Map
	host   tablet.HostID
	ranges []tablet.TokenRange
	// cur is the unconsumed remainder of ranges[idx].
	idx      int
	cur      tablet.TokenRange
	curValid bool
}

// NewRangeSplitter returns a splitter over the given ranges for the
// target host. Input ranges need not be sorted or disjoint.
func NewRangeSplitter(
	tmap *tablet.Map, host tablet.HostID, ranges []tablet.TokenRange,
) *RangeSplitter {
	sorted := make([]tablet.TokenRange, len(ranges))
	copy(sorted, ranges)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].First < sorted[j].First })
	return &RangeSplitter{tmap: tmap, host: host, ranges: sorted}
}

// Next returns the next segment, or false when no intersections
// remain.
func (rs *RangeSplitter) Next() (SplitResult, bool) {
	for {
		if !rs.curValid {
			if rs.idx >= len(rs.ranges) {
				return SplitResult{}, false
			}
			rs.cur = rs.ranges[rs.idx]
			rs.idx++
			rs.curValid = rs.cur.First <= rs.cur.Last
			continue
		}

		id := rs.tmap.IDForToken(rs.cur.First)
		tabletRange := rs.tmap.TokenRange(id)

		// Consume the part of cur covered by this tablet.
		if tabletRange.Last >= rs.cur.Last {
			rs.curValid = false
		} else {
			remainder := rs.cur
			remainder.First = tabletRange.Last.Next()
			segment := rs.cur
			segment.Last = tabletRange.Last
			rs.cur = remainder
			if shard, ok := rs.tmap.Shard(id, rs.host); ok {
				return SplitResult{Shard: shard, Range: segment}, true
			}
			continue
		}

		if shard, ok := rs.tmap.Shard(id, rs.host); ok {
			return SplitResult{Shard: shard, Range: rs.cur}, true
		}
	}
}
