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

// Contains the call group, an aggregator that fires a single completion
// callback once every call issued under it has finished. All callbacks of
// grouped calls, and the group's own completion, run on the group's inbox.

package rpc

import (
	"sync"

	"github.com/Arceliar/phony"
)

// Group tracks a batch of in flight calls. The group holds one reference on
// behalf of its creator, each issued call holds another for its duration.
// The completion callback fires when the last reference is released, which
// requires the creator to close the group after issuing the final call.
type Group struct {
	phony.Inbox

	lock   sync.Mutex
	refs   int
	done   func()
	fired  bool
	parent *Group
}

// NewGroup creates a call group invoking done after the group is closed and
// all its calls have completed.
func NewGroup(done func()) *Group {
	return &Group{refs: 1, done: done}
}

// Subgroup creates a nested group counting as a single unit of the parent.
// The parent reference is released once the subgroup fully completes.
func (g *Group) Subgroup(done func()) *Group {
	g.add()
	return &Group{refs: 1, done: done, parent: g}
}

// Close releases the creator's reference, allowing the group to complete.
func (g *Group) Close() {
	g.release()
}

// Grabs a reference for a newly issued call.
func (g *Group) add() {
	g.lock.Lock()
	defer g.lock.Unlock()
	g.refs++
}

// Releases a reference, firing the completion callback on the last one.
func (g *Group) release() {
	g.lock.Lock()
	g.refs--
	fire := g.refs == 0 && !g.fired
	if fire {
		g.fired = true
	}
	g.lock.Unlock()

	if fire {
		g.Act(nil, func() {
			if g.done != nil {
				g.done()
			}
			if g.parent != nil {
				g.parent.release()
			}
		})
	}
}
