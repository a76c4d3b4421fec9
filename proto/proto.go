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

// Package proto defines the routed message envelope shared by the overlay
// router and the components riding on top of it.
package proto

import (
	"encoding/binary"
	"errors"

	"github.com/overmesh/overmesh/identity"
	"github.com/overmesh/overmesh/link"
)

// Link frame kinds used by the overlay protocols.
const (
	// Routed message envelope carrying a component payload.
	FrameRouted = 0x01
)

// Serialized envelope header size in bytes: two identifiers, two component
// fields, the hop budget and the payload type.
const headerSize = 2*identity.Length + 3*4 + 4

// RoutedMessage is the envelope wrapped around every payload traversing the
// overlay. The source and destination name both a node identifier and a
// logical component within the node.
type RoutedMessage struct {
	SourceNode identity.Identifier // Identifier of the originating node
	SourceComp uint32              // Component within the originator
	DestKey    identity.Identifier // Destination key routed towards
	DestComp   uint32              // Component within the destination
	Hops       uint32              // Remaining hop budget
	Type       uint32              // Payload type tag

	Payload []byte // Opaque component payload

	// Local routing state, never serialized
	OriginLink identity.Identifier // Direct peer the message arrived from
	DeliverVia link.Contact        // Explicit physical next hop override
}

// Valid reports whether the envelope is well formed enough to route: both
// endpoints named and hop budget left.
func (m *RoutedMessage) Valid() bool {
	return !m.SourceNode.IsNull() && !m.DestKey.IsNull() && m.Hops > 0
}

// DecHops burns one hop off the budget, saturating at zero.
func (m *RoutedMessage) DecHops() {
	if m.Hops > 0 {
		m.Hops--
	}
}

// Marshal serializes the envelope into its wire format.
func (m *RoutedMessage) Marshal() []byte {
	blob := make([]byte, headerSize+len(m.Payload))

	off := copy(blob, m.SourceNode[:])
	binary.BigEndian.PutUint32(blob[off:], m.SourceComp)
	off += 4
	off += copy(blob[off:], m.DestKey[:])
	binary.BigEndian.PutUint32(blob[off:], m.DestComp)
	off += 4
	binary.BigEndian.PutUint32(blob[off:], m.Hops)
	off += 4
	binary.BigEndian.PutUint32(blob[off:], m.Type)
	off += 4
	copy(blob[off:], m.Payload)

	return blob
}

// Parse deserializes an envelope off the wire. The remainder of the blob
// past the fixed header is the payload.
func Parse(blob []byte) (*RoutedMessage, error) {
	if len(blob) < headerSize {
		return nil, errors.New("routed message too short")
	}
	m := new(RoutedMessage)

	off := copy(m.SourceNode[:], blob)
	m.SourceComp = binary.BigEndian.Uint32(blob[off:])
	off += 4
	off += copy(m.DestKey[:], blob[off:])
	m.DestComp = binary.BigEndian.Uint32(blob[off:])
	off += 4
	m.Hops = binary.BigEndian.Uint32(blob[off:])
	off += 4
	m.Type = binary.BigEndian.Uint32(blob[off:])
	off += 4
	m.Payload = blob[off:]

	return m, nil
}
