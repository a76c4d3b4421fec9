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

// Contains the periodic liveness maintenance of the routing table, probing
// every tracked peer on each heartbeat and discarding the unresponsive ones.

package overlay

import (
	"github.com/overmesh/overmesh/identity"
)

// Heartbeat callback sink of the overlay, turning beat and death events into
// routing table probes and evictions.
type heartMonitor struct {
	owner *Overlay
}

// Probes every peer currently tracked by the routing table. Responses arrive
// asynchronously and feed the liveness counters through PingContact.
func (m *heartMonitor) Beat() {
	for _, contact := range m.owner.table.Contacts() {
		m.owner.PingContact(contact)
	}
}

// Discards a peer that missed too many consecutive heartbeats, tearing down
// its direct link too.
func (m *heartMonitor) Dead(id identity.Identifier) {
	m.owner.log.Info("evicting unresponsive peer", "peer", id)
	m.owner.table.Remove(id)
	m.owner.net.CloseLink(id)
}
