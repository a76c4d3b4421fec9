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

// Contains the payload schemas of the built in overlay maintenance calls.

package overlay

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"

	"github.com/overmesh/overmesh/ext/mathext"
	"github.com/overmesh/overmesh/identity"
	"github.com/overmesh/overmesh/link"
)

// Method names of the built in overlay maintenance calls.
const (
	methodFindNode        = "Core.FindNode"
	methodExchangeEntries = "Core.ExchangeEntries"
	methodPing            = "Core.Ping"
	methodLeaveNode       = "Core.LeaveNode"
)

// Upper bound on the contacts accepted in a single message.
const maxSchemaContacts = 64

// findNodeRequest asks for the closest known contacts to the key the carrier
// message was addressed to, telling the responder who is asking and how many
// contacts it wants back.
type findNodeRequest struct {
	Count  uint32
	Origin link.Contact
}

func (r *findNodeRequest) marshal() []byte {
	buf := new(bytes.Buffer)
	var scratch [4]byte
	binary.BigEndian.PutUint32(scratch[:], r.Count)
	buf.Write(scratch[:])
	r.Origin.EncodeTo(buf)
	return buf.Bytes()
}

func parseFindNodeRequest(blob []byte) (*findNodeRequest, error) {
	reader := bytes.NewReader(blob)
	var scratch [4]byte
	if _, err := io.ReadFull(reader, scratch[:]); err != nil {
		return nil, err
	}
	origin, err := link.DecodeContact(reader)
	if err != nil {
		return nil, err
	}
	if reader.Len() != 0 {
		return nil, errors.New("trailing data in find node request")
	}
	return &findNodeRequest{Count: binary.BigEndian.Uint32(scratch[:]), Origin: origin}, nil
}

// findNodeResponse carries the closest contacts known to the responder.
type findNodeResponse struct {
	Contacts []link.Contact
}

func (r *findNodeResponse) marshal() []byte {
	return marshalContacts(r.Contacts)
}

func parseFindNodeResponse(blob []byte) (*findNodeResponse, error) {
	contacts, err := parseContacts(blob)
	if err != nil {
		return nil, err
	}
	return &findNodeResponse{Contacts: contacts}, nil
}

// exchangeEntries pushes routing table entries to a node that recently
// advertised interest through a passing lookup. The payload names the lookup
// it answers and the key being looked up, letting the recipient verify the
// push against its calls in flight.
type exchangeEntries struct {
	RPCID       uint64
	Destination identity.Identifier
	Contacts    []link.Contact
}

func (r *exchangeEntries) marshal() []byte {
	buf := new(bytes.Buffer)
	var scratch [8]byte
	binary.BigEndian.PutUint64(scratch[:], r.RPCID)
	buf.Write(scratch[:])
	buf.Write(r.Destination[:])
	buf.Write(marshalContacts(r.Contacts))
	return buf.Bytes()
}

func parseExchangeEntries(blob []byte) (*exchangeEntries, error) {
	reader := bytes.NewReader(blob)
	var scratch [8]byte
	if _, err := io.ReadFull(reader, scratch[:]); err != nil {
		return nil, err
	}
	push := &exchangeEntries{RPCID: binary.BigEndian.Uint64(scratch[:])}
	if _, err := io.ReadFull(reader, push.Destination[:]); err != nil {
		return nil, err
	}
	contacts, err := decodeContacts(reader)
	if err != nil {
		return nil, err
	}
	push.Contacts = contacts
	if reader.Len() != 0 {
		return nil, errors.New("trailing data in entry exchange")
	}
	return push, nil
}

// pingRequest probes a peer for liveness, carrying a sender timestamp the
// responder echoes back.
type pingRequest struct {
	Timestamp uint64
}

func (r *pingRequest) marshal() []byte {
	var scratch [8]byte
	binary.BigEndian.PutUint64(scratch[:], r.Timestamp)
	return scratch[:]
}

func parsePingRequest(blob []byte) (*pingRequest, error) {
	if len(blob) != 8 {
		return nil, errors.New("malformed ping request")
	}
	return &pingRequest{Timestamp: binary.BigEndian.Uint64(blob)}, nil
}

// pingResponse echoes the timestamp of the probe it answers.
type pingResponse struct {
	Timestamp uint64
}

func (r *pingResponse) marshal() []byte {
	var scratch [8]byte
	binary.BigEndian.PutUint64(scratch[:], r.Timestamp)
	return scratch[:]
}

func parsePingResponse(blob []byte) (*pingResponse, error) {
	if len(blob) != 8 {
		return nil, errors.New("malformed ping response")
	}
	return &pingResponse{Timestamp: binary.BigEndian.Uint64(blob)}, nil
}

// Serializes a bounded contact list.
func marshalContacts(contacts []link.Contact) []byte {
	contacts = contacts[:mathext.MinInt(len(contacts), maxSchemaContacts)]
	buf := new(bytes.Buffer)
	buf.WriteByte(byte(len(contacts)))
	for _, contact := range contacts {
		contact.EncodeTo(buf)
	}
	return buf.Bytes()
}

// Deserializes a bounded contact list occupying the whole blob.
func parseContacts(blob []byte) ([]link.Contact, error) {
	reader := bytes.NewReader(blob)
	contacts, err := decodeContacts(reader)
	if err != nil {
		return nil, err
	}
	if reader.Len() != 0 {
		return nil, errors.New("trailing data in contact list")
	}
	return contacts, nil
}

// Decodes a bounded contact list from a reader, leaving any trailing data.
func decodeContacts(reader *bytes.Reader) ([]link.Contact, error) {
	count, err := reader.ReadByte()
	if err != nil {
		return nil, err
	}
	if int(count) > maxSchemaContacts {
		return nil, errors.New("contact list too long")
	}
	contacts := make([]link.Contact, 0, count)
	for i := 0; i < int(count); i++ {
		contact, err := link.DecodeContact(reader)
		if err != nil {
			return nil, err
		}
		contacts = append(contacts, contact)
	}
	return contacts, nil
}
