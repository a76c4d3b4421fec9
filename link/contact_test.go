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

package link

import (
	"testing"

	"github.com/overmesh/overmesh/identity"
)

func TestContactCodec(t *testing.T) {
	contacts := []Contact{
		{ID: identity.Random()},
		{ID: identity.Random(), Addrs: []string{"127.0.0.1:4000"}},
		{ID: identity.Random(), Addrs: []string{"127.0.0.1:4000", "[::1]:4001", "10.0.0.1:4002"}},
	}
	for i, contact := range contacts {
		blob, err := contact.MarshalBinary()
		if err != nil {
			t.Fatalf("test %d: failed to marshal contact: %v.", i, err)
		}
		back := new(Contact)
		if err := back.UnmarshalBinary(blob); err != nil {
			t.Fatalf("test %d: failed to unmarshal contact: %v.", i, err)
		}
		if back.ID != contact.ID {
			t.Errorf("test %d: identifier mismatch: have %v, want %v.", i, back.ID, contact.ID)
		}
		if len(back.Addrs) != len(contact.Addrs) {
			t.Fatalf("test %d: address count mismatch: have %v, want %v.", i, len(back.Addrs), len(contact.Addrs))
		}
		for j, addr := range contact.Addrs {
			if back.Addrs[j] != addr {
				t.Errorf("test %d: address %d mismatch: have %v, want %v.", i, j, back.Addrs[j], addr)
			}
		}
	}
}

func TestContactCodecCorrupt(t *testing.T) {
	contact := Contact{ID: identity.Random(), Addrs: []string{"127.0.0.1:4000"}}
	blob, err := contact.MarshalBinary()
	if err != nil {
		t.Fatalf("failed to marshal contact: %v.", err)
	}
	// Truncations at every boundary must be rejected
	for cut := 0; cut < len(blob); cut++ {
		if err := new(Contact).UnmarshalBinary(blob[:cut]); err == nil {
			t.Errorf("truncation at %d: decode succeeded, want failure.", cut)
		}
	}
	// Trailing garbage must be rejected too
	if err := new(Contact).UnmarshalBinary(append(blob, 0x00)); err == nil {
		t.Errorf("trailing data: decode succeeded, want failure.")
	}
}

func TestContactNull(t *testing.T) {
	if !(Contact{}).IsNull() {
		t.Errorf("zero value contact not reported null.")
	}
	if (Contact{ID: identity.Random()}).IsNull() {
		t.Errorf("addressed contact reported null.")
	}
}
