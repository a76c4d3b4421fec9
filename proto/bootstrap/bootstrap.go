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

// Package bootstrap supplies the contacts a node needs to find its way into
// an existing overlay. Providers abstract where those contacts come from: a
// statically configured host, a late arriving discovery or a persisted set
// from a previous run.
package bootstrap

import (
	"errors"
	"sync"

	"github.com/overmesh/overmesh/link"
)

// Raised when a provider has no contact to hand out yet.
var ErrNoContact = errors.New("no bootstrap contact available")

// Provider hands out bootstrap contacts for join attempts.
type Provider interface {
	// Contact returns the next bootstrap contact to try. Successive calls
	// may cycle through multiple candidates.
	Contact() (link.Contact, error)

	// Ready returns a channel closed once the provider has contacts to
	// hand out. Providers with immediate contacts return a closed channel.
	Ready() <-chan struct{}

	// Close releases any resources held by the provider.
	Close() error
}

// Static is a provider cycling through a fixed contact list.
type Static struct {
	lock     sync.Mutex
	contacts []link.Contact
	next     int
	ready    chan struct{}
	armed    bool
}

// NewStatic creates a provider over a fixed contact list.
func NewStatic(contacts []link.Contact) *Static {
	ready := make(chan struct{})
	armed := len(contacts) > 0
	if armed {
		close(ready)
	}
	return &Static{contacts: contacts, ready: ready, armed: armed}
}

// Contact returns the next contact in the cycle.
func (s *Static) Contact() (link.Contact, error) {
	s.lock.Lock()
	defer s.lock.Unlock()

	if len(s.contacts) == 0 {
		return link.Contact{}, ErrNoContact
	}
	contact := s.contacts[s.next%len(s.contacts)]
	s.next++
	return contact, nil
}

// Ready reports contact availability. Closed from construction when the
// list is non empty.
func (s *Static) Ready() <-chan struct{} {
	return s.ready
}

// Close unblocks anybody still waiting on readiness.
func (s *Static) Close() error {
	s.lock.Lock()
	defer s.lock.Unlock()

	if !s.armed {
		s.armed = true
		close(s.ready)
	}
	return nil
}

// Delayed is a provider whose contacts arrive after construction, unblocking
// any join logic waiting on readiness.
type Delayed struct {
	lock     sync.Mutex
	contacts []link.Contact
	next     int
	ready    chan struct{}
	armed    bool
}

// NewDelayed creates a provider with no contacts yet.
func NewDelayed() *Delayed {
	return &Delayed{ready: make(chan struct{})}
}

// Supply hands the provider a batch of contacts, closing the readiness
// channel on the first non empty batch.
func (d *Delayed) Supply(contacts []link.Contact) {
	d.lock.Lock()
	defer d.lock.Unlock()

	d.contacts = append(d.contacts, contacts...)
	if len(d.contacts) > 0 && !d.armed {
		d.armed = true
		close(d.ready)
	}
}

// Contact returns the next supplied contact in the cycle.
func (d *Delayed) Contact() (link.Contact, error) {
	d.lock.Lock()
	defer d.lock.Unlock()

	if len(d.contacts) == 0 {
		return link.Contact{}, ErrNoContact
	}
	contact := d.contacts[d.next%len(d.contacts)]
	d.next++
	return contact, nil
}

// Ready reports contact availability, closed by the first supply.
func (d *Delayed) Ready() <-chan struct{} {
	return d.ready
}

// Close unblocks anybody still waiting on readiness.
func (d *Delayed) Close() error {
	d.lock.Lock()
	defer d.lock.Unlock()

	if !d.armed {
		d.armed = true
		close(d.ready)
	}
	return nil
}
