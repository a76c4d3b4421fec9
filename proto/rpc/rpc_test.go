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

package rpc

import (
	"bytes"
	"sync/atomic"
	"testing"
	"time"

	"github.com/overmesh/overmesh/config"
	"github.com/overmesh/overmesh/identity"
	"github.com/overmesh/overmesh/proto"
	"gopkg.in/inconshreveable/log15.v2"
)

// Minimal router loopback delivering every routed message straight back to
// the local node. Swallowing mode drops requests to provoke timeouts.
type testRouter struct {
	id      identity.Identifier
	deliver func(msg *proto.RoutedMessage)
	forward func(msg *proto.RoutedMessage) bool
	swallow bool
}

func (r *testRouter) LocalID() identity.Identifier { return r.id }

func (r *testRouter) Route(msg *proto.RoutedMessage) error {
	if !r.swallow {
		r.deliver(msg)
	}
	return nil
}

func (r *testRouter) OnDeliver(fn func(msg *proto.RoutedMessage)) { r.deliver = fn }

func (r *testRouter) OnForward(fn func(msg *proto.RoutedMessage) bool) { r.forward = fn }

func newTestEngine(t *testing.T, swallow bool) (*Engine, *testRouter) {
	t.Helper()

	logger := log15.New()
	logger.SetHandler(log15.DiscardHandler())

	router := &testRouter{id: identity.Random(), swallow: swallow}
	engine, err := New(router, logger)
	if err != nil {
		t.Fatalf("failed to create engine: %v.", err)
	}
	t.Cleanup(func() { engine.Close() })
	return engine, router
}

func TestCallRoundtrip(t *testing.T) {
	engine, router := newTestEngine(t, false)

	engine.Register("test.Echo", func(ctx *Context, data []byte) ([]byte, error) {
		if ctx.Source != router.id {
			t.Errorf("handler source mismatch: have %v, want %v.", ctx.Source, router.id)
		}
		return data, nil
	})
	reply, err := engine.CallSync(router.id, "test.Echo", []byte("marco"), nil)
	if err != nil {
		t.Fatalf("call failed: %v.", err)
	}
	if !bytes.Equal(reply, []byte("marco")) {
		t.Errorf("reply mismatch: have %v, want %v.", reply, []byte("marco"))
	}
}

func TestCallRemoteError(t *testing.T) {
	engine, router := newTestEngine(t, false)

	engine.Register("test.Deny", func(ctx *Context, data []byte) ([]byte, error) {
		return nil, ErrUnauthorized
	})
	_, err := engine.CallSync(router.id, "test.Deny", nil, nil)
	rerr, ok := err.(*Error)
	if !ok {
		t.Fatalf("error type mismatch: have %T, want *Error.", err)
	}
	if rerr.Code != CodeNoAuthorization {
		t.Errorf("error code mismatch: have %v, want %v.", rerr.Code, CodeNoAuthorization)
	}
}

func TestCallUnknownMethod(t *testing.T) {
	engine, router := newTestEngine(t, false)

	_, err := engine.CallSync(router.id, "test.Missing", nil, nil)
	rerr, ok := err.(*Error)
	if !ok {
		t.Fatalf("error type mismatch: have %T, want *Error.", err)
	}
	if rerr.Code != CodeMethodNotFound {
		t.Errorf("error code mismatch: have %v, want %v.", rerr.Code, CodeMethodNotFound)
	}
}

func TestCallTimeout(t *testing.T) {
	engine, router := newTestEngine(t, true)

	start := time.Now()
	_, err := engine.CallSync(router.id, "test.Void", nil, &CallOptions{Timeout: 50 * time.Millisecond})
	if err != ErrTimeout {
		t.Fatalf("error mismatch: have %v, want %v.", err, ErrTimeout)
	}
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Errorf("timeout fired too early: %v.", elapsed)
	}
}

func TestCallCancel(t *testing.T) {
	engine, router := newTestEngine(t, true)

	completed := make(chan struct{}, 2)
	id, err := engine.Call(router.id, "test.Void", nil,
		func(data []byte) { completed <- struct{}{} },
		func(err error) { completed <- struct{}{} },
		&CallOptions{Timeout: 50 * time.Millisecond})
	if err != nil {
		t.Fatalf("failed to issue call: %v.", err)
	}
	if !engine.Cancel(id) {
		t.Fatalf("cancel reported call not in flight.")
	}
	if engine.Cancel(id) {
		t.Errorf("second cancel reported call still in flight.")
	}
	// Neither callback may fire, not even when the timeout deadline passes
	// or a late response trickles in
	late := &Response{ID: id, Data: []byte("late")}
	router.deliver(&proto.RoutedMessage{
		SourceNode: identity.Random(), SourceComp: config.ComponentRPC,
		DestKey: router.id, DestComp: config.ComponentRPC,
		Hops: 1, Type: TypeResponse, Payload: late.marshal(),
	})
	select {
	case <-completed:
		t.Fatalf("callback fired after cancellation.")
	case <-time.After(150 * time.Millisecond):
	}
}

func TestCloseFailsPending(t *testing.T) {
	engine, router := newTestEngine(t, true)

	failure := make(chan error, 1)
	_, err := engine.Call(router.id, "test.Void", nil, nil,
		func(err error) { failure <- err },
		&CallOptions{Timeout: time.Minute})
	if err != nil {
		t.Fatalf("failed to issue call: %v.", err)
	}
	if err := engine.Close(); err != nil {
		t.Fatalf("failed to close engine: %v.", err)
	}
	select {
	case err := <-failure:
		if err != ErrCanceled {
			t.Errorf("failure mismatch: have %v, want %v.", err, ErrCanceled)
		}
	case <-time.After(time.Second):
		t.Fatalf("failure callback timed out.")
	}
}

func TestResponseArbitration(t *testing.T) {
	engine, router := newTestEngine(t, true)

	var successes, failures uint32
	done := make(chan struct{}, 4)

	id, err := engine.Call(router.id, "test.Void", nil,
		func(data []byte) { atomic.AddUint32(&successes, 1); done <- struct{}{} },
		func(err error) { atomic.AddUint32(&failures, 1); done <- struct{}{} },
		&CallOptions{Timeout: time.Minute})
	if err != nil {
		t.Fatalf("failed to issue call: %v.", err)
	}
	// A forged response must be ignored outright
	forged := &Response{ID: id + 1, Data: []byte("forged")}
	router.deliver(&proto.RoutedMessage{
		SourceNode: identity.Random(), SourceComp: config.ComponentRPC,
		DestKey: router.id, DestComp: config.ComponentRPC,
		Hops: 1, Type: TypeResponse, Payload: forged.marshal(),
	})
	// Duplicate genuine responses must complete the call exactly once
	genuine := &Response{ID: id, Data: []byte("genuine")}
	for i := 0; i < 3; i++ {
		router.deliver(&proto.RoutedMessage{
			SourceNode: identity.Random(), SourceComp: config.ComponentRPC,
			DestKey: router.id, DestComp: config.ComponentRPC,
			Hops: 1, Type: TypeResponse, Payload: genuine.marshal(),
		})
	}
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("completion timed out.")
	}
	select {
	case <-done:
		t.Fatalf("call completed more than once.")
	case <-time.After(50 * time.Millisecond):
	}
	if s := atomic.LoadUint32(&successes); s != 1 {
		t.Errorf("success count mismatch: have %v, want %v.", s, 1)
	}
	if f := atomic.LoadUint32(&failures); f != 0 {
		t.Errorf("failure count mismatch: have %v, want %v.", f, 0)
	}
}

func TestOneWayNotify(t *testing.T) {
	engine, router := newTestEngine(t, false)

	arrived := make(chan []byte, 1)
	engine.RegisterOneWay("test.Push", func(ctx *Context, data []byte) error {
		arrived <- data
		return nil
	})
	if err := engine.Notify(router.id, "test.Push", []byte("payload"), nil); err != nil {
		t.Fatalf("failed to notify: %v.", err)
	}
	select {
	case data := <-arrived:
		if !bytes.Equal(data, []byte("payload")) {
			t.Errorf("payload mismatch: have %v, want %v.", data, []byte("payload"))
		}
	case <-time.After(time.Second):
		t.Fatalf("notification timed out.")
	}
}

func TestOneWayError(t *testing.T) {
	engine, router := newTestEngine(t, false)

	engine.RegisterOneWay("test.Deny", func(ctx *Context, data []byte) error {
		return ErrUnauthorized
	})
	// A one way method still reports failures back to a tracked call
	_, err := engine.CallSync(router.id, "test.Deny", nil, &CallOptions{Timeout: time.Second})
	rerr, ok := err.(*Error)
	if !ok {
		t.Fatalf("error type mismatch: have %T, want *Error.", err)
	}
	if rerr.Code != CodeNoAuthorization {
		t.Errorf("error code mismatch: have %v, want %v.", rerr.Code, CodeNoAuthorization)
	}
}

func TestRecentCalls(t *testing.T) {
	engine, router := newTestEngine(t, true)

	first, err := engine.Call(router.id, "test.Void", nil, nil, nil, &CallOptions{Timeout: time.Minute})
	if err != nil {
		t.Fatalf("failed to issue call: %v.", err)
	}
	if !engine.IsRecentCall(first) {
		t.Fatalf("fresh call not reported recent.")
	}
	// Overflowing the ring evicts the oldest identifier
	for i := 0; i < config.RPCRecentCalls; i++ {
		if _, err := engine.Call(router.id, "test.Void", nil, nil, nil, &CallOptions{Timeout: time.Minute}); err != nil {
			t.Fatalf("call %d: failed to issue: %v.", i, err)
		}
	}
	if engine.IsRecentCall(first) {
		t.Errorf("evicted call still reported recent.")
	}
	if engine.IsRecentCall(0xbadc0ffee) {
		t.Errorf("unknown identifier reported recent.")
	}
}

func TestCallGroup(t *testing.T) {
	engine, router := newTestEngine(t, false)

	engine.Register("test.Echo", func(ctx *Context, data []byte) ([]byte, error) {
		return data, nil
	})
	fired := make(chan struct{})
	group := NewGroup(func() { close(fired) })

	var completions uint32
	for i := 0; i < 5; i++ {
		_, err := engine.Call(router.id, "test.Echo", nil,
			func(data []byte) { atomic.AddUint32(&completions, 1) }, nil,
			&CallOptions{Group: group})
		if err != nil {
			t.Fatalf("call %d: failed to issue: %v.", i, err)
		}
	}
	// The group must not complete while the creator reference is held
	select {
	case <-fired:
		t.Fatalf("group completed before close.")
	case <-time.After(50 * time.Millisecond):
	}
	group.Close()

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatalf("group completion timed out.")
	}
	if c := atomic.LoadUint32(&completions); c != 5 {
		t.Errorf("completion count mismatch: have %v, want %v.", c, 5)
	}
}

func TestCallGroupNested(t *testing.T) {
	engine, router := newTestEngine(t, false)

	engine.Register("test.Echo", func(ctx *Context, data []byte) ([]byte, error) {
		return data, nil
	})
	outer := make(chan struct{})
	inner := make(chan struct{})

	group := NewGroup(func() { close(outer) })
	sub := group.Subgroup(func() { close(inner) })

	if _, err := engine.Call(router.id, "test.Echo", nil, nil, nil, &CallOptions{Group: sub}); err != nil {
		t.Fatalf("failed to issue call: %v.", err)
	}
	sub.Close()
	select {
	case <-inner:
	case <-time.After(time.Second):
		t.Fatalf("subgroup completion timed out.")
	}
	// The parent waits for both the subgroup and its own closure
	select {
	case <-outer:
		t.Fatalf("parent group completed before close.")
	case <-time.After(50 * time.Millisecond):
	}
	group.Close()
	select {
	case <-outer:
	case <-time.After(time.Second):
		t.Fatalf("parent group completion timed out.")
	}
}

func TestCallGroupSerialized(t *testing.T) {
	engine, router := newTestEngine(t, true)

	fired := make(chan struct{})
	group := NewGroup(func() { close(fired) })

	// Both callbacks linger inside their critical section long enough that
	// concurrent execution would be caught by the overlap counter
	var active, overlaps int32
	callback := func(data []byte) {
		if atomic.AddInt32(&active, 1) > 1 {
			atomic.AddInt32(&overlaps, 1)
		}
		time.Sleep(25 * time.Millisecond)
		atomic.AddInt32(&active, -1)
	}
	ids := make([]uint64, 2)
	for i := range ids {
		id, err := engine.Call(router.id, "test.Void", nil, callback, nil,
			&CallOptions{Timeout: time.Minute, Group: group})
		if err != nil {
			t.Fatalf("call %d: failed to issue: %v.", i, err)
		}
		ids[i] = id
	}
	// Resolve both calls from concurrent goroutines
	for _, id := range ids {
		go func(id uint64) {
			res := &Response{ID: id}
			router.deliver(&proto.RoutedMessage{
				SourceNode: identity.Random(), SourceComp: config.ComponentRPC,
				DestKey: router.id, DestComp: config.ComponentRPC,
				Hops: 1, Type: TypeResponse, Payload: res.marshal(),
			})
		}(id)
	}
	group.Close()

	select {
	case <-fired:
	case <-time.After(time.Second):
		t.Fatalf("group completion timed out.")
	}
	if o := atomic.LoadInt32(&overlaps); o != 0 {
		t.Errorf("grouped callbacks overlapped %v times, want none.", o)
	}
}

func TestIntercept(t *testing.T) {
	engine, router := newTestEngine(t, false)

	observed := make(chan identity.Identifier, 1)
	engine.RegisterIntercept("test.Seek", func(ctx *Context, msg *proto.RoutedMessage, data []byte) {
		observed <- msg.DestKey
	})
	// Simulate a request passing through on its way elsewhere
	target := identity.Random()
	req := &Request{ID: randomID(), Method: "test.Seek", Data: nil}
	cont := router.forward(&proto.RoutedMessage{
		SourceNode: identity.Random(), SourceComp: config.ComponentRPC,
		DestKey: target, DestComp: config.ComponentRPC,
		Hops: 5, Type: TypeRequest, Payload: req.marshal(),
	})
	if !cont {
		t.Fatalf("intercepted request was consumed.")
	}
	select {
	case key := <-observed:
		if key != target {
			t.Errorf("observed key mismatch: have %v, want %v.", key, target)
		}
	case <-time.After(time.Second):
		t.Fatalf("intercept timed out.")
	}
}
