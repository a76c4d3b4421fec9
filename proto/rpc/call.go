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

// Contains the pending call state. Completion callbacks run on the call's
// own inbox, or on the owning group's inbox for grouped calls, keeping them
// serialized even when the response and the timeout race each other.

package rpc

import (
	"time"

	"github.com/Arceliar/phony"
)

// A single outstanding remote procedure call. Exactly one of the completion
// paths runs: whichever removes the call from the engine's pending map wins.
type call struct {
	phony.Inbox

	id     uint64
	method string
	timer  *time.Timer
	actor  phony.Actor

	onSuccess func(data []byte)
	onFailure func(err error)
}

// Delivers the response blob to the success callback.
func (c *call) succeed(data []byte) {
	c.timer.Stop()
	c.actor.Act(nil, func() {
		if c.onSuccess != nil {
			c.onSuccess(data)
		}
	})
}

// Delivers a failure to the failure callback.
func (c *call) fail(err error) {
	c.timer.Stop()
	c.actor.Act(nil, func() {
		if c.onFailure != nil {
			c.onFailure(err)
		}
	})
}
