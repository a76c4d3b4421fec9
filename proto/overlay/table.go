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

// Contains the routing table: a sibling neighbourhood of the closest known
// identifiers around the local node, surrounded by prefix indexed buckets of
// bounded size for the rest of the identifier space.

package overlay

import (
	"sort"
	"sync"
	"time"

	"github.com/overmesh/overmesh/config"
	"github.com/overmesh/overmesh/ext/mathext"
	"github.com/overmesh/overmesh/identity"
	"github.com/overmesh/overmesh/link"
)

// A single routing table slot with its freshness timestamp.
type tableEntry struct {
	contact link.Contact
	seen    time.Time
}

// Table is the peer state of the overlay: the sibling neighbourhood plus the
// longest common prefix indexed buckets. All methods are safe for concurrent
// use.
type Table struct {
	lock sync.RWMutex

	local    link.Contact
	entries  map[identity.Identifier]*tableEntry
	siblings []identity.Identifier                // Sorted by distance to the local node
	buckets  [8 * identity.Length][]identity.Identifier

	rejoins []func()
	inserts []func(id identity.Identifier)
	evicts  []func(id identity.Identifier)
}

// NewTable creates an empty routing table around the given local contact.
func NewTable(local link.Contact) *Table {
	return &Table{
		local:   local,
		entries: make(map[identity.Identifier]*tableEntry),
	}
}

// MaxSiblings returns the size of the sibling neighbourhood maintained for
// any key, the local node included.
func (t *Table) MaxSiblings() int {
	return config.OverlaySiblings
}

// Size returns the number of remote peers currently tracked.
func (t *Table) Size() int {
	t.lock.RLock()
	defer t.lock.RUnlock()
	return len(t.entries)
}

// OnRejoin registers a callback fired when the table drains completely. The
// signal is edge triggered: it fires once per transition to empty.
func (t *Table) OnRejoin(fn func()) {
	t.lock.Lock()
	defer t.lock.Unlock()
	t.rejoins = append(t.rejoins, fn)
}

// OnInsert registers a callback fired for every newly tracked peer.
func (t *Table) OnInsert(fn func(id identity.Identifier)) {
	t.lock.Lock()
	defer t.lock.Unlock()
	t.inserts = append(t.inserts, fn)
}

// OnEvict registers a callback fired for every peer dropped from the table.
func (t *Table) OnEvict(fn func(id identity.Identifier)) {
	t.lock.Lock()
	defer t.lock.Unlock()
	t.evicts = append(t.evicts, fn)
}

// Add inserts a contact into the table or refreshes an already tracked one.
// Returns whether the contact was newly inserted.
func (t *Table) Add(contact link.Contact) bool {
	if contact.IsNull() || contact.ID == t.local.ID {
		return false
	}
	t.lock.Lock()
	if old, ok := t.entries[contact.ID]; ok {
		old.contact = contact
		old.seen = time.Now()
		t.lock.Unlock()
		return false
	}
	t.entries[contact.ID] = &tableEntry{contact: contact, seen: time.Now()}

	// Try the sibling neighbourhood first, spilling the furthest sibling
	// into its bucket on overflow
	var victim identity.Identifier
	evicted := false
	if t.nearer(contact.ID) {
		t.siblings = append(t.siblings, contact.ID)
		sort.Slice(t.siblings, func(i, j int) bool {
			return t.local.ID.Closer(t.siblings[i], t.siblings[j])
		})
		if len(t.siblings) > config.OverlaySiblings {
			spill := t.siblings[len(t.siblings)-1]
			t.siblings = t.siblings[:len(t.siblings)-1]
			victim, evicted = t.bucketize(spill)
		}
	} else {
		victim, evicted = t.bucketize(contact.ID)
	}
	_, kept := t.entries[contact.ID]
	inserts := t.inserts
	evicts := t.evicts
	t.lock.Unlock()

	if kept {
		for _, fn := range inserts {
			fn(contact.ID)
		}
	}
	if evicted && victim != contact.ID {
		for _, fn := range evicts {
			fn(victim)
		}
	}
	return kept
}

// Remove drops a peer from the table, refilling the sibling neighbourhood
// from the buckets if needed. Fires the rejoin signal on a complete drain.
func (t *Table) Remove(id identity.Identifier) {
	t.lock.Lock()
	if _, ok := t.entries[id]; !ok {
		t.lock.Unlock()
		return
	}
	delete(t.entries, id)
	for i, sid := range t.siblings {
		if sid == id {
			t.siblings = append(t.siblings[:i], t.siblings[i+1:]...)
			t.refill()
			break
		}
	}
	bucket := t.local.ID.LCP(id)
	if bucket < len(t.buckets) {
		for i, bid := range t.buckets[bucket] {
			if bid == id {
				t.buckets[bucket] = append(t.buckets[bucket][:i], t.buckets[bucket][i+1:]...)
				break
			}
		}
	}
	drained := len(t.entries) == 0
	rejoins := t.rejoins
	evicts := t.evicts
	t.lock.Unlock()

	for _, fn := range evicts {
		fn(id)
	}
	if drained {
		for _, fn := range rejoins {
			fn()
		}
	}
}

// Get returns the tracked contact of a peer.
func (t *Table) Get(id identity.Identifier) (link.Contact, bool) {
	t.lock.RLock()
	defer t.lock.RUnlock()

	if entry, ok := t.entries[id]; ok {
		return entry.contact, true
	}
	return link.Contact{}, false
}

// Contacts returns every tracked contact, the local one excluded.
func (t *Table) Contacts() []link.Contact {
	t.lock.RLock()
	defer t.lock.RUnlock()

	contacts := make([]link.Contact, 0, len(t.entries))
	for _, entry := range t.entries {
		contacts = append(contacts, entry.contact)
	}
	return contacts
}

// Lookup returns the count known contacts closest to the key in distance
// order, the local node included.
func (t *Table) Lookup(key identity.Identifier, count int) []link.Contact {
	t.lock.RLock()
	contacts := make([]link.Contact, 0, len(t.entries)+1)
	contacts = append(contacts, t.local)
	for _, entry := range t.entries {
		contacts = append(contacts, entry.contact)
	}
	t.lock.RUnlock()

	sort.Slice(contacts, func(i, j int) bool {
		return key.Closer(contacts[i].ID, contacts[j].ID)
	})
	return contacts[:mathext.MinInt(len(contacts), count)]
}

// IsSiblingFor reports whether the local node belongs to the sibling
// neighbourhood of the given key against everything currently known.
func (t *Table) IsSiblingFor(key identity.Identifier) bool {
	t.lock.RLock()
	defer t.lock.RUnlock()

	closer := 0
	for id := range t.entries {
		if key.Closer(id, t.local.ID) {
			closer++
			if closer >= config.OverlaySiblings {
				return false
			}
		}
	}
	return true
}

// Reports whether an identifier belongs into the sibling neighbourhood of
// the local node. Callers must hold the lock.
func (t *Table) nearer(id identity.Identifier) bool {
	if len(t.siblings) < config.OverlaySiblings {
		return true
	}
	return t.local.ID.Closer(id, t.siblings[len(t.siblings)-1])
}

// Places an identifier into its prefix bucket, evicting and returning the
// stalest entry on overflow. Callers must hold the lock.
func (t *Table) bucketize(id identity.Identifier) (identity.Identifier, bool) {
	bucket := t.local.ID.LCP(id)
	if bucket >= len(t.buckets) {
		// Identical identifier, cannot happen past the insertion guards
		delete(t.entries, id)
		return id, true
	}
	t.buckets[bucket] = append(t.buckets[bucket], id)
	if len(t.buckets[bucket]) <= config.OverlayBucketSize {
		return identity.Identifier{}, false
	}
	stale, staleAt := 0, time.Now()
	for i, bid := range t.buckets[bucket] {
		if seen := t.entries[bid].seen; seen.Before(staleAt) {
			stale, staleAt = i, seen
		}
	}
	victim := t.buckets[bucket][stale]
	t.buckets[bucket] = append(t.buckets[bucket][:stale], t.buckets[bucket][stale+1:]...)
	delete(t.entries, victim)
	return victim, true
}

// Promotes the closest bucketed peer into a freed sibling slot. Callers must
// hold the lock.
func (t *Table) refill() {
	var best identity.Identifier
	found := false
	for b := len(t.buckets) - 1; b >= 0; b-- {
		for _, id := range t.buckets[b] {
			if !found || t.local.ID.Closer(id, best) {
				best, found = id, true
			}
		}
		if found {
			break
		}
	}
	if !found {
		return
	}
	bucket := t.local.ID.LCP(best)
	for i, bid := range t.buckets[bucket] {
		if bid == best {
			t.buckets[bucket] = append(t.buckets[bucket][:i], t.buckets[bucket][i+1:]...)
			break
		}
	}
	t.siblings = append(t.siblings, best)
	sort.Slice(t.siblings, func(i, j int) bool {
		return t.local.ID.Closer(t.siblings[i], t.siblings[j])
	})
}
