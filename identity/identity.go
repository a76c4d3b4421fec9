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

// Package identity contains the identifier space definitions and operations
// for the overlay network: XOR distance between two identifiers, common
// prefix extraction and the various identifier constructors.
package identity

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"math/bits"

	"golang.org/x/crypto/blake2b"
)

// Length of a node identifier in bytes.
const Length = 20

// Identifier is a fixed length opaque node or key identifier. The all zero
// value is the null identifier, considered invalid by routers.
type Identifier [Length]byte

// Null is the invalid sentinel identifier.
var Null = Identifier{}

// Random generates a new identifier uniformly at random.
func Random() Identifier {
	var id Identifier
	if n, err := io.ReadFull(rand.Reader, id[:]); n != Length || err != nil {
		panic(fmt.Sprintf("failed to generate node identifier: %v", err))
	}
	return id
}

// Derive binds an identifier to a long term public key by hashing it down
// into the identifier space.
func Derive(pub []byte) Identifier {
	var id Identifier
	sum := blake2b.Sum256(pub)
	copy(id[:], sum[:Length])
	return id
}

// FromHex parses an identifier from its hexadecimal form.
func FromHex(s string) (Identifier, error) {
	var id Identifier
	if len(s) != 2*Length {
		return Null, fmt.Errorf("identity: invalid identifier length %d", len(s))
	}
	if _, err := hex.Decode(id[:], []byte(s)); err != nil {
		return Null, err
	}
	return id, nil
}

// FromBytes parses an identifier from its raw form.
func FromBytes(raw []byte) (Identifier, error) {
	var id Identifier
	if len(raw) != Length {
		return Null, fmt.Errorf("identity: invalid identifier length %d", len(raw))
	}
	copy(id[:], raw)
	return id, nil
}

// Hex returns the hexadecimal form of the identifier.
func (id Identifier) Hex() string {
	return hex.EncodeToString(id[:])
}

// String implements fmt.Stringer, returning a shortened hexadecimal form
// suitable for log output.
func (id Identifier) String() string {
	return hex.EncodeToString(id[:4])
}

// IsNull reports whether the identifier is the invalid sentinel value.
func (id Identifier) IsNull() bool {
	return id == Null
}

// Xor calculates the distance between two identifiers.
func (id Identifier) Xor(other Identifier) Identifier {
	var dist Identifier
	for i := 0; i < Length; i++ {
		dist[i] = id[i] ^ other[i]
	}
	return dist
}

// Cmp compares two identifiers interpreted as big endian unsigned integers,
// returning -1, 0 or +1. Applied to XOR results this yields the total
// distance order of the metric space.
func (id Identifier) Cmp(other Identifier) int {
	return bytes.Compare(id[:], other[:])
}

// Closer reports whether a is strictly closer to id than b under the XOR
// metric.
func (id Identifier) Closer(a, b Identifier) bool {
	return id.Xor(a).Cmp(id.Xor(b)) < 0
}

// LCP returns the length in bits of the longest common prefix of the two
// identifiers.
func (id Identifier) LCP(other Identifier) int {
	for i := 0; i < Length; i++ {
		if diff := id[i] ^ other[i]; diff != 0 {
			return 8*i + bits.LeadingZeros8(diff)
		}
	}
	return 8 * Length
}
