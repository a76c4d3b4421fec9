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

// Package rpc implements the remote procedure call engine riding on top of
// the overlay router. Calls are identified by random 64 bit values, matched
// back to their originators through a pending call map and guarded against
// loss by per call timers.
package rpc

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/hashicorp/golang-lru"
	"github.com/overmesh/overmesh/config"
	"github.com/overmesh/overmesh/identity"
	"github.com/overmesh/overmesh/link"
	"github.com/overmesh/overmesh/pool"
	"github.com/overmesh/overmesh/proto"
	"gopkg.in/inconshreveable/log15.v2"
)

// Router is the routing surface the engine runs on: message origination plus
// hooks into the local delivery and forwarding paths.
type Router interface {
	// LocalID returns the identifier of the local node.
	LocalID() identity.Identifier

	// Route hands a message to the overlay for key based forwarding.
	Route(msg *proto.RoutedMessage) error

	// OnDeliver registers a hook invoked for locally delivered messages.
	OnDeliver(fn func(msg *proto.RoutedMessage))

	// OnForward registers a hook invoked for messages passing through. A
	// false return drops the message instead of forwarding it.
	OnForward(fn func(msg *proto.RoutedMessage) bool)
}

// Context carries the per invocation details handed to method handlers.
type Context struct {
	ID     uint64              // Call identifier of the request
	Key    identity.Identifier // Key the carrier message was addressed to
	Source identity.Identifier // Node the request originated from
	Local  identity.Identifier // Identifier of the handling node
	Direct bool                // Arrived in one hop, straight from its source

	engine *Engine
}

// IsRecentCall reports whether the given call identifier was issued by the
// local engine recently. Used to authorize unsolicited pushes referencing a
// call in flight.
func (c *Context) IsRecentCall(id uint64) bool {
	return c.engine.IsRecentCall(id)
}

// Handler is a method implementation producing a response blob.
type Handler func(ctx *Context, data []byte) ([]byte, error)

// OneWayHandler is a method implementation without a success response. A
// returned error is still reported back to the caller.
type OneWayHandler func(ctx *Context, data []byte) error

// InterceptHandler observes requests passing through the local node on their
// way to the destination key. Forwarding continues regardless.
type InterceptHandler func(ctx *Context, msg *proto.RoutedMessage, data []byte)

// CallOptions tune a single outgoing call or notification.
type CallOptions struct {
	Timeout    time.Duration // Response deadline, engine default when zero
	DeliverVia link.Contact  // Explicit physical next hop for the request
	Group      *Group        // Call group to account the call against
}

// Engine implements the remote procedure call layer of a node.
type Engine struct {
	router Router
	log    log15.Logger

	workers *pool.ThreadPool

	lock       sync.Mutex
	calls      map[uint64]*call
	recent     *lru.Cache
	methods    map[string]Handler
	oneWays    map[string]OneWayHandler
	intercepts map[string]InterceptHandler
	closed     bool
}

// New creates a call engine on top of a router, hooking into its delivery
// and forwarding paths.
func New(router Router, logger log15.Logger) (*Engine, error) {
	recent, err := lru.New(config.RPCRecentCalls)
	if err != nil {
		return nil, err
	}
	e := &Engine{
		router:     router,
		log:        logger.New("side", "rpc"),
		workers:    pool.NewThreadPool(config.RPCWorkers),
		calls:      make(map[uint64]*call),
		recent:     recent,
		methods:    make(map[string]Handler),
		oneWays:    make(map[string]OneWayHandler),
		intercepts: make(map[string]InterceptHandler),
	}
	e.workers.Start()

	router.OnDeliver(e.deliver)
	router.OnForward(e.forward)

	return e, nil
}

// Register installs a method handler producing responses.
func (e *Engine) Register(method string, handler Handler) {
	e.lock.Lock()
	defer e.lock.Unlock()
	e.methods[method] = handler
}

// RegisterOneWay installs a method handler without a success response.
func (e *Engine) RegisterOneWay(method string, handler OneWayHandler) {
	e.lock.Lock()
	defer e.lock.Unlock()
	e.oneWays[method] = handler
}

// RegisterIntercept installs an observer for requests passing through.
func (e *Engine) RegisterIntercept(method string, handler InterceptHandler) {
	e.lock.Lock()
	defer e.lock.Unlock()
	e.intercepts[method] = handler
}

// Call issues a method invocation towards the node closest to the given key.
// Exactly one of the callbacks fires, on the call's own execution strand.
// The returned identifier may be used to cancel the call.
func (e *Engine) Call(key identity.Identifier, method string, data []byte,
	success func(data []byte), failure func(err error), opts *CallOptions) (uint64, error) {

	if opts == nil {
		opts = new(CallOptions)
	}
	timeout := opts.Timeout
	if timeout == 0 {
		timeout = config.RPCTimeout
	}
	id := randomID()
	if group := opts.Group; group != nil {
		group.add()
		succ, fail := success, failure
		success = func(data []byte) {
			if succ != nil {
				succ(data)
			}
			group.release()
		}
		failure = func(err error) {
			if fail != nil {
				fail(err)
			}
			group.release()
		}
	}
	c := &call{id: id, method: method, onSuccess: success, onFailure: failure}
	// Grouped calls share the group's strand, loners run on their own
	c.actor = c
	if opts.Group != nil {
		c.actor = opts.Group
	}

	e.lock.Lock()
	if e.closed {
		e.lock.Unlock()
		return 0, ErrCanceled
	}
	c.timer = time.AfterFunc(timeout, func() {
		if c := e.take(id); c != nil {
			c.fail(ErrTimeout)
		}
	})
	e.calls[id] = c
	e.recent.Add(id, struct{}{})
	e.lock.Unlock()

	req := &Request{ID: id, Method: method, Data: data}
	if err := e.transmit(key, TypeRequest, req.marshal(), opts.DeliverVia); err != nil {
		if c := e.take(id); c != nil {
			c.fail(err)
		}
		return 0, err
	}
	return id, nil
}

// CallSync issues a call and blocks until it completes one way or the other.
func (e *Engine) CallSync(key identity.Identifier, method string, data []byte, opts *CallOptions) ([]byte, error) {
	type outcome struct {
		data []byte
		err  error
	}
	done := make(chan outcome, 1)

	_, err := e.Call(key, method, data,
		func(data []byte) { done <- outcome{data: data} },
		func(err error) { done <- outcome{err: err} },
		opts)
	if err != nil {
		return nil, err
	}
	res := <-done
	return res.data, res.err
}

// Notify issues a method invocation without tracking a response.
func (e *Engine) Notify(key identity.Identifier, method string, data []byte, opts *CallOptions) error {
	if opts == nil {
		opts = new(CallOptions)
	}
	req := &Request{ID: randomID(), Method: method, Data: data}
	return e.transmit(key, TypeRequest, req.marshal(), opts.DeliverVia)
}

// Cancel tears down a pending call without firing either of its callbacks.
// A response arriving afterwards is dropped silently. Returns whether the
// call was still in flight.
func (e *Engine) Cancel(id uint64) bool {
	c := e.take(id)
	if c != nil {
		c.timer.Stop()
	}
	return c != nil
}

// IsRecentCall reports whether the engine issued the given call identifier
// recently.
func (e *Engine) IsRecentCall(id uint64) bool {
	e.lock.Lock()
	defer e.lock.Unlock()
	return e.recent.Contains(id)
}

// Close terminates the engine, failing every call still in flight.
func (e *Engine) Close() error {
	e.lock.Lock()
	if e.closed {
		e.lock.Unlock()
		return nil
	}
	e.closed = true
	calls := e.calls
	e.calls = make(map[uint64]*call)
	e.lock.Unlock()

	for _, c := range calls {
		c.fail(ErrCanceled)
	}
	e.workers.Terminate(true)
	return nil
}

// Removes and returns a pending call, or nil if it already completed. The
// map removal arbitrates between racing completion paths.
func (e *Engine) take(id uint64) *call {
	e.lock.Lock()
	defer e.lock.Unlock()

	c := e.calls[id]
	delete(e.calls, id)
	return c
}

// Wraps a payload into a routed message and hands it to the router.
func (e *Engine) transmit(key identity.Identifier, ptype uint32, payload []byte, via link.Contact) error {
	return e.router.Route(&proto.RoutedMessage{
		SourceNode: e.router.LocalID(),
		SourceComp: config.ComponentRPC,
		DestKey:    key,
		DestComp:   config.ComponentRPC,
		Hops:       config.OverlayHopCount,
		Type:       ptype,
		Payload:    payload,
		DeliverVia: via,
	})
}

// Dispatches a locally delivered message to the appropriate handler.
func (e *Engine) deliver(msg *proto.RoutedMessage) {
	if msg.DestComp != config.ComponentRPC {
		return
	}
	switch msg.Type {
	case TypeRequest:
		req, err := parseRequest(msg.Payload)
		if err != nil {
			e.log.Debug("dropping malformed request", "from", msg.SourceNode, "error", err)
			return
		}
		e.schedule(func() { e.handle(msg, req) })

	case TypeResponse:
		res, err := parseResponse(msg.Payload)
		if err != nil {
			e.log.Debug("dropping malformed response", "from", msg.SourceNode, "error", err)
			return
		}
		c := e.take(res.ID)
		if c == nil {
			// Late, forged or duplicate response
			e.log.Debug("dropping unsolicited response", "from", msg.SourceNode, "id", fmt.Sprintf("%016x", res.ID))
			return
		}
		if res.Error != nil {
			c.fail(res.Error)
		} else {
			c.succeed(res.Data)
		}

	default:
		e.log.Debug("dropping unknown payload type", "from", msg.SourceNode, "type", msg.Type)
	}
}

// Observes requests passing through the local node, invoking the registered
// intercept handlers. Never consumes the message.
func (e *Engine) forward(msg *proto.RoutedMessage) bool {
	if msg.DestComp != config.ComponentRPC || msg.Type != TypeRequest {
		return true
	}
	req, err := parseRequest(msg.Payload)
	if err != nil {
		return true
	}
	e.lock.Lock()
	handler, ok := e.intercepts[req.Method]
	e.lock.Unlock()

	if ok {
		ctx := e.context(msg, req)
		e.schedule(func() { handler(ctx, msg, req.Data) })
	}
	return true
}

// Executes a single inbound request, transmitting the outcome back to the
// originator where the method calls for it.
func (e *Engine) handle(msg *proto.RoutedMessage, req *Request) {
	e.lock.Lock()
	handler, okMethod := e.methods[req.Method]
	oneWay, okOneWay := e.oneWays[req.Method]
	e.lock.Unlock()

	ctx := e.context(msg, req)
	switch {
	case okMethod:
		data, err := handler(ctx, req.Data)
		if err != nil {
			e.respond(msg, &Response{ID: req.ID, Error: wireError(err)})
		} else {
			e.respond(msg, &Response{ID: req.ID, Data: data})
		}

	case okOneWay:
		if err := oneWay(ctx, req.Data); err != nil {
			e.respond(msg, &Response{ID: req.ID, Error: wireError(err)})
		}

	default:
		e.log.Debug("unknown method called", "from", msg.SourceNode, "method", req.Method)
		e.respond(msg, &Response{ID: req.ID, Error: ErrNotFound})
	}
}

// Assembles the invocation context for an inbound request. A request is
// flagged direct when the link it arrived on belongs to the very node that
// originated it.
func (e *Engine) context(msg *proto.RoutedMessage, req *Request) *Context {
	return &Context{
		ID:     req.ID,
		Key:    msg.DestKey,
		Source: msg.SourceNode,
		Local:  e.router.LocalID(),
		Direct: !msg.OriginLink.IsNull() && msg.OriginLink == msg.SourceNode,
		engine: e,
	}
}

// Transmits a response back to the originator of a request.
func (e *Engine) respond(msg *proto.RoutedMessage, res *Response) {
	err := e.router.Route(&proto.RoutedMessage{
		SourceNode: e.router.LocalID(),
		SourceComp: config.ComponentRPC,
		DestKey:    msg.SourceNode,
		DestComp:   msg.SourceComp,
		Hops:       config.OverlayHopCount,
		Type:       TypeResponse,
		Payload:    res.marshal(),
	})
	if err != nil {
		e.log.Debug("failed to transmit response", "to", msg.SourceNode, "error", err)
	}
}

// Queues a task onto the bounded worker pool, logging scheduling failures.
func (e *Engine) schedule(task func()) {
	if err := e.workers.Schedule(task); err != nil {
		e.log.Warn("failed to schedule handler", "error", err)
	}
}

// Draws a non zero random call identifier.
func randomID() uint64 {
	for {
		var blob [8]byte
		if _, err := rand.Read(blob[:]); err != nil {
			panic(fmt.Sprintf("failed to generate call id: %v", err))
		}
		if id := binary.BigEndian.Uint64(blob[:]); id != 0 {
			return id
		}
	}
}
