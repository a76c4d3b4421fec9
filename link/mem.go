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

// Contains the in-process link manager used by the tests and simulations.
// Every directed link is a buffered channel drained by a dedicated pump
// goroutine, which preserves the per-link FIFO delivery guarantee.

package link

import (
	"sync"

	"github.com/overmesh/overmesh/identity"
)

// Buffered frames allowed per directed in-process link.
const memLinkBuffer = 64

// A single frame in flight between two in-process managers.
type memFrame struct {
	kind    uint8
	payload []byte
}

// One direction of an in-process link. The sender owns the channel and is
// the only side allowed to close it.
type memPipe struct {
	lock   sync.Mutex
	frames chan memFrame
	closed bool
}

// Queues a frame for delivery, unless the pipe was already torn down.
func (p *memPipe) send(frame memFrame) error {
	p.lock.Lock()
	defer p.lock.Unlock()

	if p.closed {
		return ErrNoLink
	}
	p.frames <- frame
	return nil
}

// Closes the sending end of the pipe, draining readers will terminate.
func (p *memPipe) close() {
	p.lock.Lock()
	defer p.lock.Unlock()

	if !p.closed {
		p.closed = true
		close(p.frames)
	}
}

// An established in-process link from the local manager to a peer.
type memLink struct {
	contact Contact
	out     *memPipe
}

// MemNetwork is a registry of in-process link managers that can dial each
// other by identifier.
type MemNetwork struct {
	lock  sync.Mutex
	nodes map[identity.Identifier]*MemManager
}

// NewMemNetwork creates an empty in-process network.
func NewMemNetwork() *MemNetwork {
	return &MemNetwork{
		nodes: make(map[identity.Identifier]*MemManager),
	}
}

// Join creates a new link manager bound to the given identifier and attaches
// it to the network.
func (n *MemNetwork) Join(id identity.Identifier) *MemManager {
	m := &MemManager{
		net:   n,
		id:    id,
		links: make(map[identity.Identifier]*memLink),
	}
	n.lock.Lock()
	n.nodes[id] = m
	n.lock.Unlock()

	return m
}

// Looks up an attached manager by identifier.
func (n *MemNetwork) node(id identity.Identifier) *MemManager {
	n.lock.Lock()
	defer n.lock.Unlock()
	return n.nodes[id]
}

// Detaches a manager from the network.
func (n *MemNetwork) leave(id identity.Identifier) {
	n.lock.Lock()
	delete(n.nodes, id)
	n.lock.Unlock()
}

// MemManager is the in-process implementation of the link manager contract.
type MemManager struct {
	net *MemNetwork
	id  identity.Identifier

	lock     sync.Mutex
	links    map[identity.Identifier]*memLink
	handlers []Handler
	downs    []func(id identity.Identifier)
	closed   bool
}

// LocalID returns the identifier the manager is bound to.
func (m *MemManager) LocalID() identity.Identifier {
	return m.id
}

// LocalContact returns the synthetic in-process contact of the manager.
func (m *MemManager) LocalContact() Contact {
	return Contact{ID: m.id, Addrs: []string{"mem/" + m.id.Hex()}}
}

// Contact returns the contact of a directly linked peer.
func (m *MemManager) Contact(id identity.Identifier) Contact {
	m.lock.Lock()
	defer m.lock.Unlock()

	if l, ok := m.links[id]; ok {
		return l.contact
	}
	return Contact{}
}

// Links returns the identifiers of all open links.
func (m *MemManager) Links() []identity.Identifier {
	m.lock.Lock()
	defer m.lock.Unlock()

	ids := make([]identity.Identifier, 0, len(m.links))
	for id := range m.links {
		ids = append(ids, id)
	}
	return ids
}

// Send transmits a frame over an already open link.
func (m *MemManager) Send(to identity.Identifier, kind uint8, payload []byte) error {
	m.lock.Lock()
	l, ok := m.links[to]
	m.lock.Unlock()

	if !ok {
		return ErrNoLink
	}
	return l.out.send(memFrame{kind: kind, payload: payload})
}

// SendTo transmits a frame to a contact, dialing first if needed.
func (m *MemManager) SendTo(contact Contact, kind uint8, payload []byte) error {
	if contact.IsNull() {
		return ErrUnreachable
	}
	m.lock.Lock()
	_, ok := m.links[contact.ID]
	closed := m.closed
	m.lock.Unlock()

	if closed {
		return ErrClosed
	}
	if !ok {
		peer := m.net.node(contact.ID)
		if peer == nil {
			return ErrUnreachable
		}
		m.connect(peer)
	}
	return m.Send(contact.ID, kind, payload)
}

// CloseLink tears down the link to the given peer.
func (m *MemManager) CloseLink(id identity.Identifier) error {
	m.lock.Lock()
	l, ok := m.links[id]
	if ok {
		delete(m.links, id)
	}
	m.lock.Unlock()

	if !ok {
		return ErrNoLink
	}
	l.out.close()
	m.disconnected(id)
	return nil
}

// Subscribe registers an inbound frame handler.
func (m *MemManager) Subscribe(handler Handler) {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.handlers = append(m.handlers, handler)
}

// OnDisconnect registers a link teardown callback.
func (m *MemManager) OnDisconnect(fn func(id identity.Identifier)) {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.downs = append(m.downs, fn)
}

// Close detaches the manager from the network and tears down all links.
func (m *MemManager) Close() error {
	m.lock.Lock()
	if m.closed {
		m.lock.Unlock()
		return nil
	}
	m.closed = true
	links := m.links
	m.links = make(map[identity.Identifier]*memLink)
	m.lock.Unlock()

	m.net.leave(m.id)
	for id, l := range links {
		l.out.close()
		m.disconnected(id)
	}
	return nil
}

// Establishes a bidirectional link between two managers, starting the pump
// goroutines for both directions.
func (m *MemManager) connect(peer *MemManager) {
	mp := &memPipe{frames: make(chan memFrame, memLinkBuffer)} // m -> peer
	pm := &memPipe{frames: make(chan memFrame, memLinkBuffer)} // peer -> m

	m.attach(peer, mp, pm)
	peer.attach(m, pm, mp)
}

// Registers one direction of a link and starts draining its inbound pipe.
func (m *MemManager) attach(peer *MemManager, out, in *memPipe) {
	m.lock.Lock()
	m.links[peer.id] = &memLink{contact: peer.LocalContact(), out: out}
	m.lock.Unlock()

	go m.pump(peer.id, in)
}

// Drains the inbound pipe of a single link, dispatching frames to the
// subscribed handlers in arrival order.
func (m *MemManager) pump(from identity.Identifier, in *memPipe) {
	for frame := range in.frames {
		m.lock.Lock()
		handlers := append([]Handler(nil), m.handlers...)
		m.lock.Unlock()

		for _, handler := range handlers {
			handler(from, frame.kind, frame.payload)
		}
	}
	// Remote side closed the pipe, tear down our direction too
	m.lock.Lock()
	l, ok := m.links[from]
	if ok {
		delete(m.links, from)
	}
	m.lock.Unlock()

	if ok {
		l.out.close()
		m.disconnected(from)
	}
}

// Notifies the disconnect subscribers of a lost link.
func (m *MemManager) disconnected(id identity.Identifier) {
	m.lock.Lock()
	downs := append([]func(identity.Identifier){}, m.downs...)
	m.lock.Unlock()

	for _, fn := range downs {
		fn(id)
	}
}
