// Copyright 2024 The TabletDB Authors
// SPDX-License-Identifier: Apache-2.0

// Package replication models replication strategies and recomputes
// tablet replica sets when a table's replication factor changes.
package replication

import (
	"sort"

	"github.com/cockroachdb/errors"
	"github.com/tabletdb/tabletdb/pkg/tablet"
	"github.com/tabletdb/tabletdb/pkg/topology"
)

// Strategy is a table's replication policy. Only tablet-aware
// strategies participate in tablet allocation; callers type-assert to
// TabletAwareStrategy for that.
type Strategy interface {
	Name() string
	IsTabletAware() bool
}

// TabletAwareStrategy places and re-places tablet replicas.
type TabletAwareStrategy interface {
	Strategy

	// AllocateForNewTable computes replica sets for a fresh table with
	// the given tablet count. It fails outright if any datacenter
	// cannot satisfy its factor.
	AllocateForNewTable(snap *topology.Snapshot, tabletCount int) (*tablet.Map, error)

	// Reallocate recomputes the map's replica sets for the strategy's
	// current factors, keeping surviving replicas in place. Outcomes
	// are reported per datacenter; a datacenter that cannot satisfy
	// its factor keeps its replica count while the others proceed.
	Reallocate(m *tablet.Map, snap *topology.Snapshot) (*tablet.Map, map[string]Status, error)
}

// Status is one datacenter's outcome of a reallocation.
type Status int

const (
	StatusSuccess Status = iota
	StatusNotEnoughNodes
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusNotEnoughNodes:
		return "not enough nodes"
	default:
		return "unknown"
	}
}

// SimpleStrategy replicates without datacenter awareness. It predates
// tablets and is kept for compatibility; tables using it do not get
// tablet allocation.
type SimpleStrategy struct {
	RF int
}

func (SimpleStrategy) Name() string        { return "SimpleStrategy" }
func (SimpleStrategy) IsTabletAware() bool { return false }

// NetworkTopologyStrategy replicates with a per-datacenter factor and
// spreads each datacenter's replicas across its racks.
type NetworkTopologyStrategy struct {
	rfPerDC map[string]int
}

var _ TabletAwareStrategy = (*NetworkTopologyStrategy)(nil)

// NewNetworkTopologyStrategy validates and captures per-datacenter
// factors. A zero factor is allowed and means no replicas in that
// datacenter.
func NewNetworkTopologyStrategy(rfPerDC map[string]int) (*NetworkTopologyStrategy, error) {
	for dc, rf := range rfPerDC {
		if rf < 0 {
			return nil, errors.Newf("replication factor for datacenter %q must not be negative, got %d", dc, rf)
		}
	}
	copied := make(map[string]int, len(rfPerDC))
	for dc, rf := range rfPerDC {
		copied[dc] = rf
	}
	return &NetworkTopologyStrategy{rfPerDC: copied}, nil
}

func (*NetworkTopologyStrategy) Name() string        { return "NetworkTopologyStrategy" }
func (*NetworkTopologyStrategy) IsTabletAware() bool { return true }

// ReplicationFactor returns the factor configured for the datacenter,
// zero when unconfigured.
func (s *NetworkTopologyStrategy) ReplicationFactor(dc string) int {
	return s.rfPerDC[dc]
}

// Datacenters returns the configured datacenter names in sorted order.
func (s *NetworkTopologyStrategy) Datacenters() []string {
	out := make([]string, 0, len(s.rfPerDC))
	for dc := range s.rfPerDC {
		out = append(out, dc)
	}
	sort.Strings(out)
	return out
}
