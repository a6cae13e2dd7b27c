// Copyright 2024 The TabletDB Authors
// SPDX-License-Identifier: Apache-2.0

package tablet

import (
	"fmt"
	"math/bits"

	"github.com/cockroachdb/errors"
)

// Map partitions one table's token ring into a fixed, power-of-two
// count of tablets. Tablet token ranges are derived from the count and
// never stored: tablet i owns the i-th equal subdivision of
// [MinToken, MaxToken], so they are contiguous, non-overlapping and
// exhaustive by construction. The power-of-two invariant makes splits
// an exact doubling and merges an exact halving.
type Map struct {
	log2Count   uint
	tablets     []Info
	transitions map[TabletID]Transition
	resize      ResizeDecision
}

// NewMap returns a map with the given tablet count. Count must be a
// power of two.
func NewMap(count int) (*Map, error) {
	if count <= 0 || count&(count-1) != 0 {
		return nil, errors.Newf("tablet count must be a power of two, got %d", count)
	}
	return &Map{
		log2Count:   uint(bits.TrailingZeros(uint(count))),
		tablets:     make([]Info, count),
		transitions: make(map[TabletID]Transition),
	}, nil
}

// MustNewMap is NewMap for counts known to be valid.
func MustNewMap(count int) *Map {
	m, err := NewMap(count)
	if err != nil {
		panic(err)
	}
	return m
}

// Count returns the number of tablets.
func (m *Map) Count() int {
	return 1 << m.log2Count
}

// First returns the id of the first tablet.
func (m *Map) First() TabletID {
	return 0
}

// Last returns the id of the last tablet.
func (m *Map) Last() TabletID {
	return TabletID(m.Count() - 1)
}

// Next returns the tablet following id, or false past the last one.
func (m *Map) Next(id TabletID) (TabletID, bool) {
	if id >= m.Last() {
		return 0, false
	}
	return id + 1, true
}

// IDs returns all tablet ids in ring order.
func (m *Map) IDs() []TabletID {
	out := make([]TabletID, m.Count())
	for i := range out {
		out[i] = TabletID(i)
	}
	return out
}

func (m *Map) checkID(id TabletID) {
	if id < 0 || id > m.Last() {
		panic(errors.AssertionFailedf("tablet id %d out of range [0, %d]", id, m.Last()))
	}
}

// shift is the number of low bits of the unsigned token coordinate
// that fall inside a single tablet.
func (m *Map) shift() uint {
	return 64 - m.log2Count
}

// IDForToken returns the tablet owning the token.
func (m *Map) IDForToken(t Token) TabletID {
	return TabletID(tokenToUnsigned(t) >> m.shift())
}

// IDAndSideForToken returns the owning tablet and whether the token
// falls in the left or right half of its range. After a split, the
// descendant at 2i covers the left half of parent i and the one at
// 2i+1 the right half, so the side links a key back to the descendant
// it will live in.
func (m *Map) IDAndSideForToken(t Token) (TabletID, RangeSide) {
	u := tokenToUnsigned(t)
	id := TabletID(u >> m.shift())
	side := RangeSide((u >> (m.shift() - 1)) & 1)
	return id, side
}

// FirstToken returns the first token owned by the tablet.
func (m *Map) FirstToken(id TabletID) Token {
	m.checkID(id)
	if id == 0 {
		return MinToken
	}
	return tokenFromUnsigned(uint64(id) << m.shift())
}

// LastToken returns the last token owned by the tablet.
func (m *Map) LastToken(id TabletID) Token {
	m.checkID(id)
	return tokenFromUnsigned((uint64(id)+1)<<m.shift() - 1)
}

// TokenRange returns the tablet's token range.
func (m *Map) TokenRange(id TabletID) TokenRange {
	return TokenRange{First: m.FirstToken(id), Last: m.LastToken(id)}
}

// Info returns the tablet's current state. An out-of-range id is a
// programming error and panics.
func (m *Map) Info(id TabletID) Info {
	m.checkID(id)
	return m.tablets[id]
}

// SetInfo replaces the tablet's current state.
func (m *Map) SetInfo(id TabletID, info Info) {
	m.checkID(id)
	m.tablets[id] = info
}

// Transition returns the tablet's in-flight transition, if any.
func (m *Map) Transition(id TabletID) (Transition, bool) {
	m.checkID(id)
	tr, ok := m.transitions[id]
	return tr, ok
}

// SetTransition installs the tablet's in-flight transition, replacing
// any previous one.
func (m *Map) SetTransition(id TabletID, tr Transition) {
	m.checkID(id)
	m.transitions[id] = tr
}

// ClearTransition removes the tablet's transition.
func (m *Map) ClearTransition(id TabletID) {
	m.checkID(id)
	delete(m.transitions, id)
}

// ClearTransitions removes every transition in the map.
func (m *Map) ClearTransitions() {
	m.transitions = make(map[TabletID]Transition)
}

// Transitions returns all in-flight transitions keyed by tablet id.
// The returned map must not be mutated.
func (m *Map) Transitions() map[TabletID]Transition {
	return m.transitions
}

// ResizeDecision returns the table's pending resize decision.
func (m *Map) ResizeDecision() ResizeDecision {
	return m.resize
}

// SetResizeDecision replaces the table's resize decision.
func (m *Map) SetResizeDecision(d ResizeDecision) {
	m.resize = d
}

// Shard returns the shard holding the tablet's replica on the given
// host. While a transition is in flight the read-selected set is
// consulted first (the old set before StageWriteBothReadNew, the next
// set at or after it); a host present only in the other set still
// resolves, since writes reach both sets for the whole transition.
func (m *Map) Shard(id TabletID, host HostID) (ShardID, bool) {
	info := m.Info(id)
	tr, inTransition := m.transitions[id]
	if !inTransition {
		return info.Replicas.ShardOnHost(host)
	}
	primary, secondary := info.Replicas, tr.Next
	if tr.Stage.readsFromNext() {
		primary, secondary = tr.Next, info.Replicas
	}
	if s, ok := primary.ShardOnHost(host); ok {
		return s, true
	}
	return secondary.ShardOnHost(host)
}

// SplitMap returns a new map with double the tablet count. Each tablet
// i becomes tablets 2i and 2i+1, both inheriting i's replica set. The
// resize decision resets to none. Splitting with transitions in flight
// is a programming error.
func (m *Map) SplitMap() *Map {
	if len(m.transitions) != 0 {
		panic(errors.AssertionFailedf("cannot split a tablet map with transitions in flight"))
	}
	out := MustNewMap(m.Count() * 2)
	for i, info := range m.tablets {
		out.tablets[2*i] = Info{Replicas: info.Replicas.Clone()}
		out.tablets[2*i+1] = Info{Replicas: info.Replicas.Clone()}
	}
	out.resize = ResizeDecision{Kind: ResizeNone, Seq: m.resize.Seq}
	return out
}

// MergeMap returns a new map with half the tablet count. Tablets 2i
// and 2i+1 collapse into tablet i, which keeps the left child's
// replica set. Merging a single-tablet map or a map with transitions
// in flight is a programming error.
func (m *Map) MergeMap() *Map {
	if m.Count() == 1 {
		panic(errors.AssertionFailedf("cannot merge a single-tablet map"))
	}
	if len(m.transitions) != 0 {
		panic(errors.AssertionFailedf("cannot merge a tablet map with transitions in flight"))
	}
	out := MustNewMap(m.Count() / 2)
	for i := range out.tablets {
		out.tablets[i] = Info{Replicas: m.tablets[2*i].Replicas.Clone()}
	}
	out.resize = ResizeDecision{Kind: ResizeNone, Seq: m.resize.Seq}
	return out
}

// Clone returns a deep copy of the map.
func (m *Map) Clone() *Map {
	out := MustNewMap(m.Count())
	for i, info := range m.tablets {
		out.tablets[i] = Info{Replicas: info.Replicas.Clone()}
	}
	for id, tr := range m.transitions {
		tr.Next = tr.Next.Clone()
		out.transitions[id] = tr
	}
	out.resize = m.resize
	return out
}

// Equal returns whether both maps hold identical state.
func (m *Map) Equal(other *Map) bool {
	if m.Count() != other.Count() || m.resize != other.resize ||
		len(m.transitions) != len(other.transitions) {
		return false
	}
	for i := range m.tablets {
		if !m.tablets[i].Replicas.Equal(other.tablets[i].Replicas) {
			return false
		}
	}
	for id, tr := range m.transitions {
		otr, ok := other.transitions[id]
		if !ok || tr.Stage != otr.Stage || tr.Kind != otr.Kind ||
			tr.Pivot != otr.Pivot || tr.Session != otr.Session ||
			!tr.Next.Equal(otr.Next) {
			return false
		}
	}
	return true
}

func (m *Map) String() string {
	return fmt.Sprintf("tablet.Map{count=%d, transitions=%d, resize=%s#%d}",
		m.Count(), len(m.transitions), m.resize.Kind, m.resize.Seq)
}
