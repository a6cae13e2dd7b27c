// Copyright 2024 The TabletDB Authors
// SPDX-License-Identifier: Apache-2.0

package tablet

import "github.com/cockroachdb/errors"

// Metadata maps every table to its tablet Map, together with the
// cluster-wide balancing switch. It is owned by the topology snapshot
// and versioned with it: published instances are immutable, mutation
// goes through Clone.
type Metadata struct {
	tables            map[TableID]*Map
	balancingDisabled bool
}

// NewMetadata returns empty metadata with balancing enabled.
func NewMetadata() *Metadata {
	return &Metadata{tables: make(map[TableID]*Map)}
}

// TableMap returns the tablet map of the table. Asking for an unknown
// table is a programming error and panics.
func (md *Metadata) TableMap(table TableID) *Map {
	m, ok := md.tables[table]
	if !ok {
		panic(errors.AssertionFailedf("no tablet map for table %s", table))
	}
	return m
}

// HasTable returns whether the table has a tablet map.
func (md *Metadata) HasTable(table TableID) bool {
	_, ok := md.tables[table]
	return ok
}

// SetTableMap installs or wholesale-replaces the table's tablet map.
func (md *Metadata) SetTableMap(table TableID, m *Map) {
	md.tables[table] = m
}

// DropTable removes the table's tablet map.
func (md *Metadata) DropTable(table TableID) {
	delete(md.tables, table)
}

// Tables returns all tables' maps keyed by id. The returned map must
// not be mutated.
func (md *Metadata) Tables() map[TableID]*Map {
	return md.tables
}

// BalancingEnabled returns whether the allocator may produce plans.
func (md *Metadata) BalancingEnabled() bool {
	return !md.balancingDisabled
}

// SetBalancingEnabled flips the cluster-wide balancing switch.
func (md *Metadata) SetBalancingEnabled(enabled bool) {
	md.balancingDisabled = !enabled
}

// Clone returns a deep copy. The balancing flag carries over verbatim.
func (md *Metadata) Clone() *Metadata {
	out := &Metadata{
		tables:            make(map[TableID]*Map, len(md.tables)),
		balancingDisabled: md.balancingDisabled,
	}
	for id, m := range md.tables {
		out.tables[id] = m.Clone()
	}
	return out
}

// Equal returns whether both metadata instances hold identical state.
func (md *Metadata) Equal(other *Metadata) bool {
	if md.balancingDisabled != other.balancingDisabled || len(md.tables) != len(other.tables) {
		return false
	}
	for id, m := range md.tables {
		om, ok := other.tables[id]
		if !ok || !m.Equal(om) {
			return false
		}
	}
	return true
}
