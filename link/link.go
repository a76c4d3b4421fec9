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

// Package link defines the point-to-point connectivity layer the overlay
// router builds on: identifier keyed links carrying framed messages, with
// per-link FIFO delivery. Two managers are bundled, an in-process mesh for
// tests and simulations, and a framed TCP transport.
package link

import (
	"errors"

	"github.com/overmesh/overmesh/identity"
)

// Errors returned by the link managers.
var (
	ErrNoLink      = errors.New("link: no open link to peer")
	ErrUnreachable = errors.New("link: peer unreachable")
	ErrClosed      = errors.New("link: manager closed")
)

// Handler is invoked for every inbound frame, carrying the identifier of the
// directly connected peer the frame arrived from. Handlers on a single link
// are invoked in arrival order.
type Handler func(from identity.Identifier, kind uint8, payload []byte)

// Manager maintains the identifier keyed links of a single node and
// demultiplexes their inbound traffic.
type Manager interface {
	// LocalID returns the identifier the manager is bound to.
	LocalID() identity.Identifier

	// LocalContact returns the contact remote nodes can use to reach back.
	LocalContact() Contact

	// Contact returns the contact of a directly linked peer, or the null
	// contact if no link to it is open.
	Contact(id identity.Identifier) Contact

	// Links returns the identifiers of all currently open links.
	Links() []identity.Identifier

	// Send transmits a frame over an already open link.
	Send(to identity.Identifier, kind uint8, payload []byte) error

	// SendTo transmits a frame to the given contact, dialing a new link
	// first if none is open yet.
	SendTo(contact Contact, kind uint8, payload []byte) error

	// CloseLink tears down the link to the given peer, if any.
	CloseLink(id identity.Identifier) error

	// Subscribe registers a handler for inbound frames.
	Subscribe(handler Handler)

	// OnDisconnect registers a callback fired whenever a link goes down,
	// whichever side initiated it.
	OnDisconnect(fn func(id identity.Identifier))

	// Close tears down all links and stops the manager.
	Close() error
}
