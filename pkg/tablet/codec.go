// Copyright 2024 The TabletDB Authors
// SPDX-License-Identifier: Apache-2.0

package tablet

import (
	"encoding/json"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
)

// The durable wire format of tablet metadata belongs to the consensus
// layer and is out of scope here; this codec exists for snapshot
// inspection and for the round-trip guarantee that reloading metadata
// yields an equal structure.

type mapJSON struct {
	Count       int                      `json:"count"`
	Tablets     []Info                   `json:"tablets"`
	Transitions map[TabletID]*Transition `json:"transitions,omitempty"`
	Resize      ResizeDecision           `json:"resize"`
}

// MarshalJSON implements json.Marshaler.
func (m *Map) MarshalJSON() ([]byte, error) {
	enc := mapJSON{
		Count:   m.Count(),
		Tablets: m.tablets,
		Resize:  m.resize,
	}
	if len(m.transitions) > 0 {
		enc.Transitions = make(map[TabletID]*Transition, len(m.transitions))
		for id := range m.transitions {
			tr := m.transitions[id]
			enc.Transitions[id] = &tr
		}
	}
	return json.Marshal(enc)
}

// UnmarshalJSON implements json.Unmarshaler.
func (m *Map) UnmarshalJSON(data []byte) error {
	var dec mapJSON
	if err := json.Unmarshal(data, &dec); err != nil {
		return err
	}
	nm, err := NewMap(dec.Count)
	if err != nil {
		return errors.Wrap(err, "decoding tablet map")
	}
	if len(dec.Tablets) != dec.Count {
		return errors.Newf("tablet map declares %d tablets but carries %d", dec.Count, len(dec.Tablets))
	}
	copy(nm.tablets, dec.Tablets)
	for id, tr := range dec.Transitions {
		if id < 0 || id > nm.Last() {
			return errors.Newf("transition for tablet %d outside map of %d tablets", id, dec.Count)
		}
		nm.transitions[id] = *tr
	}
	nm.resize = dec.Resize
	*m = *nm
	return nil
}

type metadataJSON struct {
	Tables            map[string]*Map `json:"tables"`
	BalancingDisabled bool            `json:"balancing_disabled,omitempty"`
}

// MarshalJSON implements json.Marshaler.
func (md *Metadata) MarshalJSON() ([]byte, error) {
	enc := metadataJSON{
		Tables:            make(map[string]*Map, len(md.tables)),
		BalancingDisabled: md.balancingDisabled,
	}
	for id, m := range md.tables {
		enc.Tables[id.String()] = m
	}
	return json.Marshal(enc)
}

// UnmarshalJSON implements json.Unmarshaler.
func (md *Metadata) UnmarshalJSON(data []byte) error {
	var dec metadataJSON
	if err := json.Unmarshal(data, &dec); err != nil {
		return err
	}
	out := NewMetadata()
	out.balancingDisabled = dec.BalancingDisabled
	for key, m := range dec.Tables {
		id, err := uuid.Parse(key)
		if err != nil {
			return errors.Wrapf(err, "decoding table id %q", key)
		}
		out.tables[TableID(id)] = m
	}
	*md = *out
	return nil
}

// MarshalText/UnmarshalText let uuid-backed ids serve as JSON map keys
// and values.

func (t TableID) MarshalText() ([]byte, error)  { return uuid.UUID(t).MarshalText() }
func (h HostID) MarshalText() ([]byte, error)   { return uuid.UUID(h).MarshalText() }
func (s SessionID) MarshalText() ([]byte, error) { return uuid.UUID(s).MarshalText() }

func (t *TableID) UnmarshalText(b []byte) error  { return (*uuid.UUID)(t).UnmarshalText(b) }
func (h *HostID) UnmarshalText(b []byte) error   { return (*uuid.UUID)(h).UnmarshalText(b) }
func (s *SessionID) UnmarshalText(b []byte) error { return (*uuid.UUID)(s).UnmarshalText(b) }
