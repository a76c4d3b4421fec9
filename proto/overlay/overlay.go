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

// Package overlay implements the key based routing layer of a node: a
// routing table of distance sorted peers, a forwarding loop moving messages
// towards the node closest to their destination key and the maintenance
// calls keeping the whole construct converged.
package overlay

import (
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/overmesh/overmesh/config"
	"github.com/overmesh/overmesh/heart"
	"github.com/overmesh/overmesh/identity"
	"github.com/overmesh/overmesh/link"
	"github.com/overmesh/overmesh/proto"
	"github.com/overmesh/overmesh/proto/bootstrap"
	"github.com/overmesh/overmesh/proto/rpc"
	"gopkg.in/inconshreveable/log15.v2"
)

// Time between failed join attempts.
var joinRetryRate = time.Second

// Lifecycle states of an overlay node.
type Status int

const (
	StatusInit      Status = iota // Created, not part of any overlay
	StatusBootstrap               // Join in progress
	StatusJoined                  // Full member of the overlay
	StatusLeaving                 // Graceful departure in progress
)

var (
	// Raised when an operation does not apply to the current lifecycle state.
	ErrInvalidState = errors.New("operation invalid in current state")

	// Raised when a join discovers the local identifier already taken.
	ErrIdentityCollision = errors.New("identifier already present in the overlay")

	// Raised when a message cannot be moved closer to its destination.
	ErrNoRoute = errors.New("no route towards destination")
)

// Stats is a snapshot of the routing counters of a node.
type Stats struct {
	Delivered uint64 // Messages consumed by local components
	Forwarded uint64 // Messages passed on towards their key
	Dropped   uint64 // Messages discarded for any reason
}

// Overlay is a single node of the routed mesh, tying the link manager, the
// routing table and the call engine together.
type Overlay struct {
	net    link.Manager
	boot   bootstrap.Provider
	log    log15.Logger
	table  *Table
	engine *rpc.Engine
	heart  *heart.Heart

	lock    sync.Mutex
	status  Status
	pending map[identity.Identifier]link.Contact
	closed  bool

	delivers []func(msg *proto.RoutedMessage)
	forwards []func(msg *proto.RoutedMessage) bool
	joineds  []func(err error)

	delivered uint64
	forwarded uint64
	dropped   uint64
}

// New creates an overlay node on top of a link manager, wiring in the call
// engine and the built in maintenance methods.
func New(network link.Manager, boot bootstrap.Provider, logger log15.Logger) (*Overlay, error) {
	o := &Overlay{
		net:     network,
		boot:    boot,
		log:     logger.New("side", "overlay", "node", network.LocalID()),
		table:   NewTable(network.LocalContact()),
		pending: make(map[identity.Identifier]link.Contact),
	}
	engine, err := rpc.New(o, logger)
	if err != nil {
		return nil, err
	}
	o.engine = engine
	o.registerBuiltins()

	o.heart = heart.New(config.OverlayBeatPeriod, config.OverlayKillBeats, &heartMonitor{owner: o})
	o.table.OnInsert(func(id identity.Identifier) { o.heart.Monitor(id) })
	o.table.OnEvict(func(id identity.Identifier) { o.heart.Unmonitor(id) })
	o.heart.Start()

	o.table.OnRejoin(o.drained)
	network.Subscribe(o.linkFrame)
	network.OnDisconnect(o.linkDown)

	return o, nil
}

// Engine returns the call engine of the node for application methods.
func (o *Overlay) Engine() *rpc.Engine {
	return o.engine
}

// LocalID returns the identifier of the local node.
func (o *Overlay) LocalID() identity.Identifier {
	return o.net.LocalID()
}

// Table returns the routing table of the node.
func (o *Overlay) Table() *Table {
	return o.table
}

// Status returns the current lifecycle state of the node.
func (o *Overlay) Status() Status {
	o.lock.Lock()
	defer o.lock.Unlock()
	return o.status
}

// Stats returns a snapshot of the routing counters.
func (o *Overlay) Stats() Stats {
	return Stats{
		Delivered: atomic.LoadUint64(&o.delivered),
		Forwarded: atomic.LoadUint64(&o.forwarded),
		Dropped:   atomic.LoadUint64(&o.dropped),
	}
}

// OnDeliver registers a hook invoked for every locally delivered message.
func (o *Overlay) OnDeliver(fn func(msg *proto.RoutedMessage)) {
	o.lock.Lock()
	defer o.lock.Unlock()
	o.delivers = append(o.delivers, fn)
}

// OnForward registers a hook invoked for every message passing through. A
// false return drops the message.
func (o *Overlay) OnForward(fn func(msg *proto.RoutedMessage) bool) {
	o.lock.Lock()
	defer o.lock.Unlock()
	o.forwards = append(o.forwards, fn)
}

// OnJoined registers a callback fired when a join attempt concludes, with
// nil on success or the reason the join was abandoned.
func (o *Overlay) OnJoined(fn func(err error)) {
	o.lock.Lock()
	defer o.lock.Unlock()
	o.joineds = append(o.joineds, fn)
}

// Create starts a brand new overlay with the local node as its only member.
func (o *Overlay) Create() error {
	o.lock.Lock()
	defer o.lock.Unlock()

	if o.status != StatusInit {
		return ErrInvalidState
	}
	o.status = StatusJoined
	o.log.Info("overlay created")
	return nil
}

// Join starts merging the node into an existing overlay through the
// bootstrap provider. The outcome is reported through the joined callbacks.
// A join already in flight absorbs repeated requests.
func (o *Overlay) Join() error {
	o.lock.Lock()
	switch o.status {
	case StatusJoined, StatusLeaving:
		o.lock.Unlock()
		return ErrInvalidState
	case StatusBootstrap:
		// An attempt is already running itself to completion, absorb
		o.lock.Unlock()
		return nil
	}
	o.status = StatusBootstrap
	o.lock.Unlock()

	o.log.Info("joining overlay")
	go o.joinAttempt()
	return nil
}

// Runs a single join attempt: fetch a bootstrap contact and look up the
// local identifier through it. Reschedules itself on transient failures.
func (o *Overlay) joinAttempt() {
	o.lock.Lock()
	if o.status != StatusBootstrap || o.closed {
		o.lock.Unlock()
		return
	}
	o.lock.Unlock()

	seed, err := o.boot.Contact()
	if err != nil {
		// No contacts yet, re-arm on the provider's readiness signal
		o.log.Debug("no bootstrap contact, waiting", "error", err)
		go func() {
			<-o.boot.Ready()
			o.joinAttempt()
		}()
		return
	}
	req := &findNodeRequest{Count: uint32(o.table.MaxSiblings()), Origin: o.net.LocalContact()}
	_, err = o.engine.Call(o.LocalID(), methodFindNode, req.marshal(),
		o.joinSucceeded, o.joinFailed,
		&rpc.CallOptions{DeliverVia: seed})
	if err != nil {
		o.log.Warn("failed to issue join lookup", "seed", seed.ID, "error", err)
		time.AfterFunc(joinRetryRate, o.joinAttempt)
	}
}

// Completes a successful join lookup, probing the discovered neighbourhood
// so only responsive peers seed the routing table.
func (o *Overlay) joinSucceeded(data []byte) {
	o.lock.Lock()
	if o.status != StatusBootstrap {
		o.lock.Unlock()
		return
	}
	o.lock.Unlock()

	res, err := parseFindNodeResponse(data)
	if err != nil {
		o.log.Warn("malformed join response", "error", err)
		time.AfterFunc(joinRetryRate, o.joinAttempt)
		return
	}
	local := o.net.LocalContact()
	for _, contact := range res.Contacts {
		if contact.ID == o.LocalID() && !contact.Equal(local) {
			// Somebody else already answers to our identifier
			o.log.Error("identifier collision detected, aborting join")
			o.lock.Lock()
			o.status = StatusInit
			o.lock.Unlock()
			o.joined(ErrIdentityCollision)
			return
		}
	}
	o.lock.Lock()
	o.status = StatusJoined
	o.lock.Unlock()

	for _, contact := range res.Contacts {
		o.admit(contact)
	}

	o.log.Info("overlay joined", "neighbours", len(res.Contacts))
	o.joined(nil)
}

// Handles a failed join lookup by retrying with the next bootstrap contact.
func (o *Overlay) joinFailed(err error) {
	o.lock.Lock()
	retry := o.status == StatusBootstrap && !o.closed
	o.lock.Unlock()

	if retry {
		o.log.Warn("join lookup failed, retrying", "error", err)
		time.AfterFunc(joinRetryRate, o.joinAttempt)
	}
}

// Fires the join outcome callbacks.
func (o *Overlay) joined(err error) {
	o.lock.Lock()
	joineds := append([]func(error){}, o.joineds...)
	o.lock.Unlock()

	for _, fn := range joineds {
		fn(err)
	}
}

// Leave starts a graceful departure: every direct neighbour is told to
// discard the local node, after which the table drain resets the state.
func (o *Overlay) Leave() error {
	o.lock.Lock()
	if o.status != StatusJoined {
		o.lock.Unlock()
		return ErrInvalidState
	}
	o.status = StatusLeaving
	o.lock.Unlock()

	o.log.Info("leaving overlay")
	contacts := o.table.Contacts()
	if len(contacts) == 0 {
		o.lock.Lock()
		o.status = StatusInit
		o.lock.Unlock()
		return nil
	}
	for _, contact := range contacts {
		err := o.engine.Notify(contact.ID, methodLeaveNode, nil, &rpc.CallOptions{DeliverVia: contact})
		if err != nil {
			o.log.Debug("failed to notify departure", "peer", contact.ID, "error", err)
		}
		o.table.Remove(contact.ID)
	}
	return nil
}

// Close tears down the node, terminating the engine, the links and the
// bootstrap provider.
func (o *Overlay) Close() error {
	o.lock.Lock()
	if o.closed {
		o.lock.Unlock()
		return nil
	}
	o.closed = true
	o.status = StatusInit
	o.lock.Unlock()

	var errs []error
	if err := o.heart.Terminate(); err != nil {
		errs = append(errs, err)
	}
	if err := o.engine.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := o.net.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := o.boot.Close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// Route moves a locally originated message towards the node closest to its
// destination key.
func (o *Overlay) Route(msg *proto.RoutedMessage) error {
	o.lock.Lock()
	ok := o.status == StatusJoined || o.status == StatusLeaving || !msg.DeliverVia.IsNull()
	closed := o.closed
	o.lock.Unlock()

	if closed || !ok {
		return ErrInvalidState
	}
	return o.process(msg)
}

// Executes one step of the forwarding algorithm for a message: explicit
// next hop override, local delivery for sibling keys, or transmission to
// the closest known candidate.
func (o *Overlay) process(msg *proto.RoutedMessage) error {
	if !msg.Valid() {
		atomic.AddUint64(&o.dropped, 1)
		return ErrNoRoute
	}
	// An explicit next hop bypasses the distance metric once
	if via := msg.DeliverVia; !via.IsNull() {
		msg.DeliverVia = link.Contact{}
		if err := o.transmit(via, msg); err != nil {
			atomic.AddUint64(&o.dropped, 1)
			return err
		}
		atomic.AddUint64(&o.forwarded, 1)
		return nil
	}
	// Messages addressed to the local node terminate here outright
	if msg.DestKey == o.LocalID() {
		o.deliver(msg)
		return nil
	}
	// A known exact owner of the key beats the distance metric, unless it
	// is the link the message arrived through. Only messages in transit
	// face the forward hooks, locally originated ones were sanctioned
	// already.
	if contact, ok := o.table.Get(msg.DestKey); ok && contact.ID != msg.OriginLink {
		if !msg.OriginLink.IsNull() && !o.forward(msg) {
			atomic.AddUint64(&o.dropped, 1)
			return nil
		}
		if err := o.transmit(contact, msg); err == nil {
			atomic.AddUint64(&o.forwarded, 1)
			return nil
		}
		o.table.Remove(contact.ID)
		if o.forwardClosest(msg) {
			return nil
		}
		atomic.AddUint64(&o.dropped, 1)
		return ErrNoRoute
	}
	// Keys the local node is sibling for terminate here
	if o.table.IsSiblingFor(msg.DestKey) {
		o.deliver(msg)
		return nil
	}
	// Otherwise hand the message to the closest candidate, skipping the
	// link it arrived through
	if !msg.OriginLink.IsNull() && !o.forward(msg) {
		atomic.AddUint64(&o.dropped, 1)
		return nil
	}
	if o.forwardClosest(msg) {
		return nil
	}
	atomic.AddUint64(&o.dropped, 1)
	return ErrNoRoute
}

// Transmits a message to the closest reachable candidate for its key,
// evicting dead peers along the way. The candidate set excludes the local
// node and the link the message arrived through.
func (o *Overlay) forwardClosest(msg *proto.RoutedMessage) bool {
	candidates := o.table.Lookup(msg.DestKey, config.OverlayBucketSize)
	for _, candidate := range candidates {
		if candidate.ID == o.LocalID() || candidate.ID == msg.OriginLink {
			continue
		}
		if err := o.transmit(candidate, msg); err != nil {
			o.log.Debug("next hop unreachable, evicting", "peer", candidate.ID, "error", err)
			o.table.Remove(candidate.ID)
			continue
		}
		atomic.AddUint64(&o.forwarded, 1)
		return true
	}
	return false
}

// Hands a message to the local delivery hooks.
func (o *Overlay) deliver(msg *proto.RoutedMessage) {
	atomic.AddUint64(&o.delivered, 1)

	o.lock.Lock()
	delivers := append([]func(*proto.RoutedMessage){}, o.delivers...)
	o.lock.Unlock()

	for _, fn := range delivers {
		fn(msg)
	}
}

// Runs the forward hooks of a message in transit. A false return vetoes the
// transmission.
func (o *Overlay) forward(msg *proto.RoutedMessage) bool {
	o.lock.Lock()
	forwards := append([]func(*proto.RoutedMessage) bool{}, o.forwards...)
	o.lock.Unlock()

	for _, fn := range forwards {
		if !fn(msg) {
			return false
		}
	}
	return true
}

// Serializes a message onto the link towards a contact.
func (o *Overlay) transmit(contact link.Contact, msg *proto.RoutedMessage) error {
	return o.net.SendTo(contact, proto.FrameRouted, msg.Marshal())
}

// Processes a frame arriving over a direct link: routed messages burn one
// hop and re-enter the forwarding algorithm.
func (o *Overlay) linkFrame(from identity.Identifier, kind uint8, payload []byte) {
	if kind != proto.FrameRouted {
		return
	}
	msg, err := proto.Parse(payload)
	if err != nil {
		o.log.Debug("dropping malformed message", "from", from, "error", err)
		atomic.AddUint64(&o.dropped, 1)
		return
	}
	msg.OriginLink = from
	msg.DecHops()
	o.process(msg)
}

// Reacts to a lost direct link by discarding the peer from the table.
func (o *Overlay) linkDown(id identity.Identifier) {
	o.table.Remove(id)
}

// Handles a complete routing table drain: an expected one concludes a
// departure, an unexpected one triggers a rejoin through the bootstrap
// provider.
func (o *Overlay) drained() {
	o.lock.Lock()
	switch o.status {
	case StatusLeaving:
		o.status = StatusInit
		o.lock.Unlock()
		o.log.Info("overlay departed")

	case StatusJoined:
		o.status = StatusBootstrap
		o.lock.Unlock()
		o.log.Warn("routing table drained, rejoining")
		go o.joinAttempt()

	default:
		o.lock.Unlock()
	}
}

// PingContact probes a contact directly, admitting it into the routing
// table when it responds.
func (o *Overlay) PingContact(contact link.Contact) {
	req := &pingRequest{Timestamp: uint64(time.Now().UnixNano())}
	_, err := o.engine.Call(contact.ID, methodPing, req.marshal(),
		func(data []byte) {
			if _, err := parsePingResponse(data); err != nil {
				o.log.Debug("malformed ping response", "peer", contact.ID, "error", err)
				return
			}
			o.forgetPending(contact.ID)
			o.table.Add(contact)
			o.heart.Ping(contact.ID)
		},
		func(err error) {
			o.log.Debug("ping failed", "peer", contact.ID, "error", err)
			o.forgetPending(contact.ID)
		},
		&rpc.CallOptions{DeliverVia: contact})
	if err != nil {
		o.forgetPending(contact.ID)
	}
}

// Queues a freshly learned contact for admission, probing it once.
func (o *Overlay) admit(contact link.Contact) {
	if contact.IsNull() || contact.ID == o.LocalID() {
		return
	}
	if _, ok := o.table.Get(contact.ID); ok {
		return
	}
	o.lock.Lock()
	if _, ok := o.pending[contact.ID]; ok {
		o.lock.Unlock()
		return
	}
	o.pending[contact.ID] = contact
	o.lock.Unlock()

	o.PingContact(contact)
}

// Drops a contact from the pending admission set.
func (o *Overlay) forgetPending(id identity.Identifier) {
	o.lock.Lock()
	delete(o.pending, id)
	o.lock.Unlock()
}
