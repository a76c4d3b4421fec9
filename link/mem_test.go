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

package link

import (
	"bytes"
	"sync"
	"testing"
	"time"

	"github.com/overmesh/overmesh/identity"
)

// Collects inbound frames behind a lock for later inspection.
type frameSink struct {
	lock   sync.Mutex
	froms  []identity.Identifier
	kinds  []uint8
	blobs  [][]byte
	arrive chan struct{}
}

func newFrameSink() *frameSink {
	return &frameSink{arrive: make(chan struct{}, 128)}
}

func (s *frameSink) handle(from identity.Identifier, kind uint8, payload []byte) {
	s.lock.Lock()
	s.froms = append(s.froms, from)
	s.kinds = append(s.kinds, kind)
	s.blobs = append(s.blobs, payload)
	s.lock.Unlock()
	s.arrive <- struct{}{}
}

func (s *frameSink) wait(t *testing.T, count int) {
	t.Helper()
	for i := 0; i < count; i++ {
		select {
		case <-s.arrive:
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for frame %d of %d.", i+1, count)
		}
	}
}

func TestMemSendReceive(t *testing.T) {
	net := NewMemNetwork()
	alice := net.Join(identity.Random())
	bob := net.Join(identity.Random())
	defer alice.Close()
	defer bob.Close()

	sink := newFrameSink()
	bob.Subscribe(sink.handle)

	if err := alice.SendTo(bob.LocalContact(), 0x03, []byte("hello")); err != nil {
		t.Fatalf("failed to send frame: %v.", err)
	}
	sink.wait(t, 1)

	if sink.froms[0] != alice.LocalID() {
		t.Errorf("frame source mismatch: have %v, want %v.", sink.froms[0], alice.LocalID())
	}
	if sink.kinds[0] != 0x03 {
		t.Errorf("frame kind mismatch: have %v, want %v.", sink.kinds[0], 0x03)
	}
	if !bytes.Equal(sink.blobs[0], []byte("hello")) {
		t.Errorf("frame payload mismatch: have %v, want %v.", sink.blobs[0], []byte("hello"))
	}
}

func TestMemOrdering(t *testing.T) {
	net := NewMemNetwork()
	alice := net.Join(identity.Random())
	bob := net.Join(identity.Random())
	defer alice.Close()
	defer bob.Close()

	sink := newFrameSink()
	bob.Subscribe(sink.handle)

	count := 32
	for i := 0; i < count; i++ {
		if err := alice.SendTo(bob.LocalContact(), 0x01, []byte{byte(i)}); err != nil {
			t.Fatalf("frame %d: failed to send: %v.", i, err)
		}
	}
	sink.wait(t, count)

	for i := 0; i < count; i++ {
		if sink.blobs[i][0] != byte(i) {
			t.Fatalf("frame %d: order violation: have %v, want %v.", i, sink.blobs[i][0], byte(i))
		}
	}
}

func TestMemDisconnect(t *testing.T) {
	net := NewMemNetwork()
	alice := net.Join(identity.Random())
	bob := net.Join(identity.Random())
	defer alice.Close()
	defer bob.Close()

	downs := make(chan identity.Identifier, 2)
	bob.OnDisconnect(func(id identity.Identifier) { downs <- id })

	if err := alice.SendTo(bob.LocalContact(), 0x01, nil); err != nil {
		t.Fatalf("failed to establish link: %v.", err)
	}
	if err := alice.CloseLink(bob.LocalID()); err != nil {
		t.Fatalf("failed to close link: %v.", err)
	}
	select {
	case id := <-downs:
		if id != alice.LocalID() {
			t.Errorf("disconnect peer mismatch: have %v, want %v.", id, alice.LocalID())
		}
	case <-time.After(time.Second):
		t.Fatalf("disconnect notification timed out.")
	}
	// Sending over the torn down link must fail
	if err := alice.Send(bob.LocalID(), 0x01, nil); err != ErrNoLink {
		t.Errorf("send after close: error mismatch: have %v, want %v.", err, ErrNoLink)
	}
}

func TestMemUnreachable(t *testing.T) {
	net := NewMemNetwork()
	alice := net.Join(identity.Random())
	defer alice.Close()

	ghost := Contact{ID: identity.Random(), Addrs: []string{"mem/nowhere"}}
	if err := alice.SendTo(ghost, 0x01, nil); err != ErrUnreachable {
		t.Errorf("unknown peer: error mismatch: have %v, want %v.", err, ErrUnreachable)
	}
	if err := alice.SendTo(Contact{}, 0x01, nil); err != ErrUnreachable {
		t.Errorf("null contact: error mismatch: have %v, want %v.", err, ErrUnreachable)
	}
}
