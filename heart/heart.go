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

// Package heart implements a heartbeat mechanism, a timed loop scheduling
// the pinging of some monitored peers and reporting the unresponsive ones
// through callbacks.
package heart

import (
	"fmt"
	"sync"
	"time"

	"github.com/overmesh/overmesh/identity"
)

// Heartbeat callback interface to get notified of events.
type Callback interface {
	Beat()
	Dead(id identity.Identifier)
}

// Heartbeat mechanism to monitor the liveliness of some peers.
type Heart struct {
	mems map[identity.Identifier]int // Monitored peers with their last life tick
	tick int                         // Current monitoring cycle tick
	beat time.Duration               // Time duration of a beat cycle
	kill int                         // Number of missed ticks before a peer is reported dead

	call Callback // Application callback to notify of events

	quit chan chan error // Quit synchronizer to ensure cleanup
	lock sync.Mutex      // Lock protecting the state
}

// Creates and returns a new heartbeat mechanism beating once every beat,
// reporting peers as dead if not seen in kill beats.
func New(beat time.Duration, kill int, handler Callback) *Heart {
	return &Heart{
		mems: make(map[identity.Identifier]int),
		beat: beat,
		kill: kill,
		call: handler,
		quit: make(chan chan error),
	}
}

// Starts the beater and event notifier.
func (h *Heart) Start() {
	go h.beater()
}

// Terminates the heartbeat mechanism.
func (h *Heart) Terminate() error {
	errc := make(chan error)
	h.quit <- errc
	return <-errc
}

// Registers a new peer for the beater to monitor.
func (h *Heart) Monitor(id identity.Identifier) error {
	h.lock.Lock()
	defer h.lock.Unlock()

	if _, ok := h.mems[id]; ok {
		return fmt.Errorf("duplicate entry")
	}
	h.mems[id] = h.tick
	return nil
}

// Unregisters a peer from the monitored set.
func (h *Heart) Unmonitor(id identity.Identifier) error {
	h.lock.Lock()
	defer h.lock.Unlock()

	if _, ok := h.mems[id]; !ok {
		return fmt.Errorf("non-monitored peer")
	}
	delete(h.mems, id)
	return nil
}

// Updates the life tick of a peer.
func (h *Heart) Ping(id identity.Identifier) error {
	h.lock.Lock()
	defer h.lock.Unlock()

	if _, ok := h.mems[id]; !ok {
		return fmt.Errorf("non-monitored peer")
	}
	h.mems[id] = h.tick
	return nil
}

// Beater function meant to run as a separate go routine to keep pinging each
// monitored peer and report when some fail to respond within alloted time.
func (h *Heart) beater() {
	// Create the ticker to fire the beat events
	beat := time.NewTicker(h.beat)
	defer beat.Stop()

	dead := []identity.Identifier{}

	var errc chan error
	for errc == nil {
		select {
		case errc = <-h.quit:
			// Termination requested
			continue
		case <-beat.C:
			// Beat cycle: update tick and collect dead entries
			h.lock.Lock()
			h.tick++
			dead = dead[:0]
			for id, tick := range h.mems {
				if h.tick-tick >= h.kill {
					dead = append(dead, id)
				}
			}
			h.lock.Unlock()

			// Signal beat and dead peers after releasing the lock
			h.call.Beat()
			for _, id := range dead {
				h.call.Dead(id)
			}
		}
	}
	// Signal the requester of successful termination
	errc <- nil
}
