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

// Contains the peer contact definition and its canonical wire codec. A
// contact is how nodes advertise each other across the overlay, so the
// encoding has to round-trip exactly between implementations.

package link

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"

	"github.com/overmesh/overmesh/identity"
)

// Upper bound on the addresses a single contact may advertise.
const maxContactAddrs = 8

// Contact describes how a remote node can be reached: its identifier plus
// zero or more transport endpoint addresses.
type Contact struct {
	ID    identity.Identifier
	Addrs []string
}

// IsNull reports whether the contact is the null value, carrying no valid
// node identifier.
func (c Contact) IsNull() bool {
	return c.ID.IsNull()
}

// Equal reports whether two contacts name the same node with the same
// endpoint addresses.
func (c Contact) Equal(other Contact) bool {
	if c.ID != other.ID || len(c.Addrs) != len(other.Addrs) {
		return false
	}
	for i, addr := range c.Addrs {
		if other.Addrs[i] != addr {
			return false
		}
	}
	return true
}

// EncodeTo appends the canonical wire form of the contact to a buffer.
func (c Contact) EncodeTo(buf *bytes.Buffer) {
	buf.Write(c.ID[:])
	buf.WriteByte(byte(len(c.Addrs)))
	for _, addr := range c.Addrs {
		var size [2]byte
		binary.BigEndian.PutUint16(size[:], uint16(len(addr)))
		buf.Write(size[:])
		buf.WriteString(addr)
	}
}

// DecodeContact parses a single contact off the front of a reader, leaving
// any trailing data untouched.
func DecodeContact(r *bytes.Reader) (Contact, error) {
	contact := Contact{}
	if _, err := io.ReadFull(r, contact.ID[:]); err != nil {
		return Contact{}, errors.New("link: truncated contact identifier")
	}
	count, err := r.ReadByte()
	if err != nil {
		return Contact{}, errors.New("link: truncated contact address count")
	}
	if count > maxContactAddrs {
		return Contact{}, errors.New("link: oversized contact address list")
	}
	for i := 0; i < int(count); i++ {
		var size [2]byte
		if _, err := io.ReadFull(r, size[:]); err != nil {
			return Contact{}, errors.New("link: truncated contact address size")
		}
		addr := make([]byte, binary.BigEndian.Uint16(size[:]))
		if _, err := io.ReadFull(r, addr); err != nil {
			return Contact{}, errors.New("link: truncated contact address")
		}
		contact.Addrs = append(contact.Addrs, string(addr))
	}
	return contact, nil
}

// MarshalBinary serializes the contact into its canonical wire form.
func (c Contact) MarshalBinary() ([]byte, error) {
	buf := new(bytes.Buffer)
	c.EncodeTo(buf)
	return buf.Bytes(), nil
}

// UnmarshalBinary parses a contact from its canonical wire form, rejecting
// any trailing junk.
func (c *Contact) UnmarshalBinary(data []byte) error {
	r := bytes.NewReader(data)
	contact, err := DecodeContact(r)
	if err != nil {
		return err
	}
	if r.Len() != 0 {
		return errors.New("link: trailing contact data")
	}
	*c = contact
	return nil
}
