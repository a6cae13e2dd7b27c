// Copyright 2024 The TabletDB Authors
// SPDX-License-Identifier: Apache-2.0

// Package topology models the cluster side of a placement snapshot:
// which hosts exist, where they sit in the failure-domain hierarchy
// (datacenter, rack), how many shards each runs and where in its
// lifecycle it is.
package topology

import (
	"sort"

	"github.com/cockroachdb/errors"
	"github.com/tabletdb/tabletdb/pkg/tablet"
)

// HostState is a host's lifecycle state as reported by the membership
// layer.
type HostState int8

const (
	// StateNormal is a fully joined, serving host.
	StateNormal HostState = iota
	// StateBeingDecommissioned marks a host whose replicas must be
	// drained before it leaves.
	StateBeingDecommissioned
	// StateLeft marks a host that has left the cluster.
	StateLeft
)

func (s HostState) String() string {
	switch s {
	case StateNormal:
		return "normal"
	case StateBeingDecommissioned:
		return "being_decommissioned"
	case StateLeft:
		return "left"
	}
	return "unknown"
}

// Draining reports whether replicas must be moved off the host.
func (s HostState) Draining() bool {
	return s == StateBeingDecommissioned || s == StateLeft
}

// Locality places a host in the failure-domain hierarchy.
type Locality struct {
	DC   string `json:"dc"`
	Rack string `json:"rack"`
}

// DefaultLocality is used by single-domain clusters and tests.
var DefaultLocality = Locality{DC: "dc1", Rack: "rack1"}

// HostDescriptor describes one cluster host.
type HostDescriptor struct {
	ID         tablet.HostID `json:"id"`
	Locality   Locality      `json:"locality"`
	State      HostState     `json:"state"`
	ShardCount int           `json:"shard_count"`
}

// Topology is the host set of a snapshot. Instances are immutable once
// published; UpdateHost mutates only unpublished copies.
type Topology struct {
	hosts map[tablet.HostID]HostDescriptor
	// localHost identifies this process's host, used by the sharder.
	localHost tablet.HostID
}

// New returns an empty topology with the given local host identity.
func New(localHost tablet.HostID) *Topology {
	return &Topology{
		hosts:     make(map[tablet.HostID]HostDescriptor),
		localHost: localHost,
	}
}

// LocalHost returns the identity of this process's host.
func (t *Topology) LocalHost() tablet.HostID {
	return t.localHost
}

// Host returns the descriptor of the host, if known.
func (t *Topology) Host(id tablet.HostID) (HostDescriptor, bool) {
	d, ok := t.hosts[id]
	return d, ok
}

// MustHost returns the descriptor of a host that must be known;
// unknown hosts are a programming error.
func (t *Topology) MustHost(id tablet.HostID) HostDescriptor {
	d, ok := t.hosts[id]
	if !ok {
		panic(errors.AssertionFailedf("unknown host %s", id))
	}
	return d
}

// UpdateHost installs or replaces a host descriptor.
func (t *Topology) UpdateHost(d HostDescriptor) {
	t.hosts[d.ID] = d
}

// SetHostState updates the lifecycle state of a known host.
func (t *Topology) SetHostState(id tablet.HostID, state HostState) {
	d := t.MustHost(id)
	d.State = state
	t.hosts[id] = d
}

// Hosts returns all host descriptors ordered by host id, so iteration
// order is deterministic across planning rounds.
func (t *Topology) Hosts() []HostDescriptor {
	out := make([]HostDescriptor, 0, len(t.hosts))
	for _, d := range t.hosts {
		out = append(out, d)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID.Less(out[j].ID) })
	return out
}

// RacksInDC counts the distinct racks of the datacenter over hosts
// that have not left. Decommissioning hosts still pin their rack: a
// rack emptying out does not loosen the uniqueness constraint until
// its hosts are gone.
func (t *Topology) RacksInDC(dc string) int {
	racks := make(map[string]struct{})
	for _, d := range t.hosts {
		if d.Locality.DC == dc && d.State != StateLeft {
			racks[d.Locality.Rack] = struct{}{}
		}
	}
	return len(racks)
}

// DCs returns the distinct datacenters of hosts that have not left.
func (t *Topology) DCs() []string {
	set := make(map[string]struct{})
	for _, d := range t.hosts {
		if d.State != StateLeft {
			set[d.Locality.DC] = struct{}{}
		}
	}
	out := make([]string, 0, len(set))
	for dc := range set {
		out = append(out, dc)
	}
	sort.Strings(out)
	return out
}

// Clone returns a deep copy.
func (t *Topology) Clone() *Topology {
	out := New(t.localHost)
	for id, d := range t.hosts {
		out.hosts[id] = d
	}
	return out
}
