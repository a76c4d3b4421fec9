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

// Contains the TCP link manager. Peers exchange their contacts during a short
// handshake after connecting, after which frames flow as length prefixed
// binary blobs in both directions.

package link

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/overmesh/overmesh/config"
	"github.com/overmesh/overmesh/identity"
	"gopkg.in/inconshreveable/log15.v2"
)

// Maximum frame size accepted off the wire.
const tcpMaxFrame = 1 << 20

// Rate at which the accepter polls for termination requests.
const acceptPollRate = 250 * time.Millisecond

// An established TCP link to a remote peer.
type tcpLink struct {
	contact Contact
	conn    net.Conn
	lock    sync.Mutex // Serializes frame writes
	dialed  bool       // Whether the local side initiated the connection
}

// TCPManager maintains TCP links to remote peers, implementing the link
// manager contract over real sockets.
type TCPManager struct {
	id      identity.Identifier
	contact Contact

	sock *net.TCPListener
	log  log15.Logger

	lock     sync.Mutex
	links    map[identity.Identifier]*tcpLink
	handlers []Handler
	downs    []func(id identity.Identifier)
	closed   bool

	quit chan chan error
	pend sync.WaitGroup
}

// NewTCPManager starts a TCP listener on the given address and returns a link
// manager bound to the given identifier. The advertised addresses are placed
// into the local contact handed to remote peers.
func NewTCPManager(id identity.Identifier, listen string, advertise []string, logger log15.Logger) (*TCPManager, error) {
	addr, err := net.ResolveTCPAddr("tcp", listen)
	if err != nil {
		return nil, err
	}
	sock, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return nil, err
	}
	if len(advertise) == 0 {
		advertise = []string{sock.Addr().String()}
	}
	m := &TCPManager{
		id:      id,
		contact: Contact{ID: id, Addrs: advertise},
		sock:    sock,
		log:     logger.New("side", "link"),
		links:   make(map[identity.Identifier]*tcpLink),
		quit:    make(chan chan error),
	}
	m.pend.Add(1)
	go m.accepter()

	m.log.Info("listening for peer links", "addr", sock.Addr().String())
	return m, nil
}

// LocalID returns the identifier the manager is bound to.
func (m *TCPManager) LocalID() identity.Identifier {
	return m.id
}

// LocalContact returns the advertised contact of the manager.
func (m *TCPManager) LocalContact() Contact {
	return m.contact
}

// Contact returns the contact of a directly linked peer.
func (m *TCPManager) Contact(id identity.Identifier) Contact {
	m.lock.Lock()
	defer m.lock.Unlock()

	if l, ok := m.links[id]; ok {
		return l.contact
	}
	return Contact{}
}

// Links returns the identifiers of all open links.
func (m *TCPManager) Links() []identity.Identifier {
	m.lock.Lock()
	defer m.lock.Unlock()

	ids := make([]identity.Identifier, 0, len(m.links))
	for id := range m.links {
		ids = append(ids, id)
	}
	return ids
}

// Send transmits a frame over an already open link.
func (m *TCPManager) Send(to identity.Identifier, kind uint8, payload []byte) error {
	m.lock.Lock()
	l, ok := m.links[to]
	m.lock.Unlock()

	if !ok {
		return ErrNoLink
	}
	if err := l.write(kind, payload); err != nil {
		m.drop(to, l)
		return err
	}
	return nil
}

// SendTo transmits a frame to a contact, dialing first if needed.
func (m *TCPManager) SendTo(contact Contact, kind uint8, payload []byte) error {
	if contact.IsNull() {
		return ErrUnreachable
	}
	m.lock.Lock()
	_, ok := m.links[contact.ID]
	closed := m.closed
	m.lock.Unlock()

	if closed {
		return ErrClosed
	}
	if !ok {
		if err := m.dial(contact); err != nil {
			return err
		}
	}
	return m.Send(contact.ID, kind, payload)
}

// CloseLink tears down the link to the given peer.
func (m *TCPManager) CloseLink(id identity.Identifier) error {
	m.lock.Lock()
	l, ok := m.links[id]
	m.lock.Unlock()

	if !ok {
		return ErrNoLink
	}
	m.drop(id, l)
	return nil
}

// Subscribe registers an inbound frame handler.
func (m *TCPManager) Subscribe(handler Handler) {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.handlers = append(m.handlers, handler)
}

// OnDisconnect registers a link teardown callback.
func (m *TCPManager) OnDisconnect(fn func(id identity.Identifier)) {
	m.lock.Lock()
	defer m.lock.Unlock()
	m.downs = append(m.downs, fn)
}

// Close terminates the listener and tears down all the open links.
func (m *TCPManager) Close() error {
	m.lock.Lock()
	if m.closed {
		m.lock.Unlock()
		return nil
	}
	m.closed = true
	links := m.links
	m.links = make(map[identity.Identifier]*tcpLink)
	m.lock.Unlock()

	errc := make(chan error)
	m.quit <- errc
	err := <-errc

	for id, l := range links {
		l.conn.Close()
		m.disconnected(id)
	}
	m.pend.Wait()
	return err
}

// Accepts inbound connections until the manager terminates, polling the quit
// channel between short listener deadlines.
func (m *TCPManager) accepter() {
	defer m.pend.Done()

	var errc chan error
	for errc == nil {
		m.sock.SetDeadline(time.Now().Add(acceptPollRate))
		conn, err := m.sock.Accept()
		if err == nil {
			m.pend.Add(1)
			go func() {
				defer m.pend.Done()
				if err := m.handshake(conn, false); err != nil {
					m.log.Debug("inbound handshake failed", "error", err)
					conn.Close()
				}
			}()
		} else if nerr, ok := err.(net.Error); !ok || !nerr.Timeout() {
			m.log.Warn("failed to accept peer link", "error", err)
		}
		select {
		case errc = <-m.quit:
		default:
		}
	}
	errc <- m.sock.Close()
}

// Dials the first reachable address of a contact and runs the handshake.
func (m *TCPManager) dial(contact Contact) error {
	var errs []error
	for _, addr := range contact.Addrs {
		conn, err := net.DialTimeout("tcp", addr, config.LinkDialTimeout)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if err := m.handshake(conn, true); err != nil {
			conn.Close()
			errs = append(errs, err)
			continue
		}
		return nil
	}
	if len(errs) == 0 {
		return ErrUnreachable
	}
	return errors.Join(errs...)
}

// Exchanges contacts over a fresh connection and registers the link. On a
// duplicate link the connection dialed by the lower identifier survives.
func (m *TCPManager) handshake(conn net.Conn, dialed bool) error {
	conn.SetDeadline(time.Now().Add(config.LinkHandshakeTimeout))

	blob, err := m.contact.MarshalBinary()
	if err != nil {
		return err
	}
	if err := writeFrame(conn, 0x00, blob); err != nil {
		return err
	}
	kind, payload, err := readFrame(conn)
	if err != nil {
		return err
	}
	if kind != 0x00 {
		return fmt.Errorf("invalid handshake frame kind: %v", kind)
	}
	contact := new(Contact)
	if err := contact.UnmarshalBinary(payload); err != nil {
		return err
	}
	if contact.ID == m.id {
		return errors.New("link to self rejected")
	}
	conn.SetDeadline(time.Time{})

	l := &tcpLink{contact: *contact, conn: conn, dialed: dialed}

	m.lock.Lock()
	if m.closed {
		m.lock.Unlock()
		return ErrClosed
	}
	if old, ok := m.links[contact.ID]; ok {
		// Simultaneous dial: keep the deterministically chosen connection
		keepOld := old.dialed == (m.id.Cmp(contact.ID) < 0)
		if keepOld {
			m.lock.Unlock()
			return errors.New("duplicate link rejected")
		}
		old.conn.Close()
	}
	m.links[contact.ID] = l
	m.lock.Unlock()

	m.log.Debug("peer link established", "peer", contact.ID, "dialed", dialed)

	m.pend.Add(1)
	go m.reader(contact.ID, l)
	return nil
}

// Reads frames off a link until it fails, dispatching them to the subscribed
// handlers in arrival order.
func (m *TCPManager) reader(from identity.Identifier, l *tcpLink) {
	defer m.pend.Done()

	for {
		kind, payload, err := readFrame(l.conn)
		if err != nil {
			m.drop(from, l)
			return
		}
		m.lock.Lock()
		handlers := append([]Handler(nil), m.handlers...)
		m.lock.Unlock()

		for _, handler := range handlers {
			handler(from, kind, payload)
		}
	}
}

// Removes a link from the registry, closing its connection and notifying the
// disconnect subscribers. Safe to invoke multiple times for the same link.
func (m *TCPManager) drop(id identity.Identifier, l *tcpLink) {
	m.lock.Lock()
	cur, ok := m.links[id]
	if ok && cur == l {
		delete(m.links, id)
	} else {
		ok = false
	}
	m.lock.Unlock()

	l.conn.Close()
	if ok {
		m.disconnected(id)
	}
}

// Notifies the disconnect subscribers of a lost link.
func (m *TCPManager) disconnected(id identity.Identifier) {
	m.lock.Lock()
	downs := append([]func(identity.Identifier){}, m.downs...)
	m.lock.Unlock()

	for _, fn := range downs {
		fn(id)
	}
}

// Serializes a frame onto the link.
func (l *tcpLink) write(kind uint8, payload []byte) error {
	l.lock.Lock()
	defer l.lock.Unlock()
	return writeFrame(l.conn, kind, payload)
}

// Writes a single length prefixed frame onto a connection.
func writeFrame(w io.Writer, kind uint8, payload []byte) error {
	head := make([]byte, 5)
	binary.BigEndian.PutUint32(head, uint32(1+len(payload)))
	head[4] = kind
	if _, err := w.Write(head); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

// Reads a single length prefixed frame off a connection.
func readFrame(r io.Reader) (uint8, []byte, error) {
	head := make([]byte, 4)
	if _, err := io.ReadFull(r, head); err != nil {
		return 0, nil, err
	}
	size := binary.BigEndian.Uint32(head)
	if size == 0 || size > tcpMaxFrame {
		return 0, nil, fmt.Errorf("invalid frame size: %v", size)
	}
	blob := make([]byte, size)
	if _, err := io.ReadFull(r, blob); err != nil {
		return 0, nil, err
	}
	return blob[0], blob[1:], nil
}
