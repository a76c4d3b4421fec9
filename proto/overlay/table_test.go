// Overmesh - decentralized key-based routing
// Copyright 2026 The Overmesh Authors. All rights reserved.
//
// Overmesh is free software: you can redistribute it and/or modify it under
// the terms of the GNU General Public License as published by the Free
// Software Foundation, either version 3 of the License, or (at your option)
// any later version.
//
// Overmesh is distributed in the hope that it will be useful, but WITHOUT ANY
// WARRANTY; without even the implied warranty of MERCHANTABILITY or FITNESS
// FOR A PARTICULAR PURPOSE. See the GNU General Public License for more
// details.

package overlay

import (
	"testing"

	"github.com/overmesh/overmesh/config"
	"github.com/overmesh/overmesh/identity"
	"github.com/overmesh/overmesh/link"
)

// Builds an identifier with a fixed first and last byte, zero in between.
func makeID(first, last byte) identity.Identifier {
	var id identity.Identifier
	id[0], id[identity.Length-1] = first, last
	return id
}

func TestTableAddRemove(t *testing.T) {
	table := NewTable(link.Contact{ID: identity.Random()})

	contact := link.Contact{ID: identity.Random(), Addrs: []string{"10.0.0.1:4000"}}
	if !table.Add(contact) {
		t.Fatalf("fresh contact not reported inserted.")
	}
	if table.Add(contact) {
		t.Errorf("duplicate contact reported inserted.")
	}
	if size := table.Size(); size != 1 {
		t.Fatalf("table size mismatch: have %v, want %v.", size, 1)
	}
	if have, ok := table.Get(contact.ID); !ok || !have.Equal(contact) {
		t.Errorf("tracked contact mismatch: have %v/%v, want %v/true.", have, ok, contact)
	}
	table.Remove(contact.ID)
	if size := table.Size(); size != 0 {
		t.Errorf("table size after removal: have %v, want %v.", size, 0)
	}
}

func TestTableSelfInsert(t *testing.T) {
	local := link.Contact{ID: identity.Random()}
	table := NewTable(local)

	if table.Add(local) {
		t.Errorf("local contact reported inserted.")
	}
	if table.Add(link.Contact{}) {
		t.Errorf("null contact reported inserted.")
	}
	if size := table.Size(); size != 0 {
		t.Errorf("table size mismatch: have %v, want %v.", size, 0)
	}
}

func TestTableRefresh(t *testing.T) {
	table := NewTable(link.Contact{ID: makeID(0x00, 0x00)})

	id := makeID(0x80, 0x01)
	table.Add(link.Contact{ID: id, Addrs: []string{"10.0.0.1:4000"}})
	table.Add(link.Contact{ID: id, Addrs: []string{"10.0.0.9:4000"}})

	if size := table.Size(); size != 1 {
		t.Fatalf("table size mismatch: have %v, want %v.", size, 1)
	}
	have, _ := table.Get(id)
	if len(have.Addrs) != 1 || have.Addrs[0] != "10.0.0.9:4000" {
		t.Errorf("refreshed contact mismatch: have %v.", have.Addrs)
	}
}

func TestTableLookupOrder(t *testing.T) {
	local := link.Contact{ID: makeID(0x00, 0x00)}
	table := NewTable(local)

	// First byte distance to the all ones key shrinks as the byte grows
	for i := 0; i < 8; i++ {
		table.Add(link.Contact{ID: makeID(byte(0x80+i), byte(i))})
	}
	key := makeID(0xff, 0xff)
	results := table.Lookup(key, 4)
	if len(results) != 4 {
		t.Fatalf("result count mismatch: have %v, want %v.", len(results), 4)
	}
	for i := 1; i < len(results); i++ {
		if key.Closer(results[i].ID, results[i-1].ID) {
			t.Errorf("result %d out of order: %v before %v.", i, results[i-1].ID, results[i].ID)
		}
	}
	// The local node competes in lookups too
	all := table.Lookup(local.ID, table.Size()+1)
	if all[0].ID != local.ID {
		t.Errorf("local node not closest to own key: have %v.", all[0].ID)
	}
}

func TestTableSiblingSpill(t *testing.T) {
	table := NewTable(link.Contact{ID: makeID(0x00, 0x00)})

	// Overfill a single prefix bucket through the sibling neighbourhood
	total := config.OverlaySiblings + config.OverlayBucketSize + 4
	for i := 0; i < total; i++ {
		table.Add(link.Contact{ID: makeID(0x80, byte(i))})
	}
	// Capacity is the neighbourhood plus one full bucket
	if size, want := table.Size(), config.OverlaySiblings+config.OverlayBucketSize; size != want {
		t.Errorf("table size mismatch: have %v, want %v.", size, want)
	}
}

func TestTableIsSiblingFor(t *testing.T) {
	table := NewTable(link.Contact{ID: makeID(0x00, 0x00)})

	key := makeID(0xff, 0xff)
	if !table.IsSiblingFor(key) {
		t.Fatalf("lone node not sibling for every key.")
	}
	// Flood the table with peers closer to the key than the local node
	for i := 0; i < config.OverlaySiblings-1; i++ {
		table.Add(link.Contact{ID: makeID(0x80, byte(i))})
	}
	if !table.IsSiblingFor(key) {
		t.Fatalf("node evicted from neighbourhood too early.")
	}
	table.Add(link.Contact{ID: makeID(0x81, 0xee)})
	if table.IsSiblingFor(key) {
		t.Errorf("node still sibling with a full closer neighbourhood.")
	}
	// Keys next to the local node always stay local
	if !table.IsSiblingFor(makeID(0x00, 0x01)) {
		t.Errorf("node not sibling for an adjacent key.")
	}
}

func TestTableRejoinSignal(t *testing.T) {
	table := NewTable(link.Contact{ID: makeID(0x00, 0x00)})

	fired := 0
	table.OnRejoin(func() { fired++ })

	first := link.Contact{ID: makeID(0x80, 0x01)}
	second := link.Contact{ID: makeID(0x80, 0x02)}

	table.Add(first)
	table.Add(second)
	table.Remove(first.ID)
	if fired != 0 {
		t.Fatalf("rejoin fired with entries left: %v times.", fired)
	}
	table.Remove(second.ID)
	if fired != 1 {
		t.Fatalf("rejoin count mismatch: have %v, want %v.", fired, 1)
	}
	// Removing from an empty table must not re-fire the signal
	table.Remove(second.ID)
	if fired != 1 {
		t.Errorf("rejoin re-fired on empty removal: %v times.", fired)
	}
	// The signal is edge triggered across refills
	table.Add(first)
	table.Remove(first.ID)
	if fired != 2 {
		t.Errorf("rejoin count after refill: have %v, want %v.", fired, 2)
	}
}
