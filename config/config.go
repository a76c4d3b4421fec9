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

// Package config collects the static protocol constants shared by all the
// overmesh protocol packages. Runtime knobs belong into the respective
// constructors, compile time protocol parameters belong here.
package config

import (
	"time"
)

// Overlay routing parameters.
const (
	// Routing redundancy: the maximum number of peers kept per bucket, and
	// also the number of candidates examined during next hop selection.
	OverlayBucketSize = 20

	// Key storage redundancy: the number of closest known identifiers that
	// together form the sibling neighbourhood of a key.
	OverlaySiblings = 16

	// Hop budget assigned to freshly originated messages. Safe for overlay
	// networks of at least a million nodes.
	OverlayHopCount = 30

	// Number of missed heartbeat cycles before a tracked peer is written
	// off as dead.
	OverlayKillBeats = 3
)

// Time between two maintenance heartbeats probing the tracked peers.
var OverlayBeatPeriod = 30 * time.Second

// RPC engine parameters.
const (
	// Number of recently issued call identifiers remembered for authorizing
	// unsolicited push replies.
	RPCRecentCalls = 20

	// Concurrent handler executions allowed within a single engine.
	RPCWorkers = 16
)

// Time allowed for a remote procedure call to produce a response before the
// failure callback fires.
var RPCTimeout = 15 * time.Second

// Transport layer parameters.
var (
	// Time allowed for a TCP dial to complete.
	LinkDialTimeout = 5 * time.Second

	// Time allowed for the identifier exchange after a connection opens.
	LinkHandshakeTimeout = 5 * time.Second
)

// Logical component identifiers carried in the routed message envelope.
// Values up to ComponentReserved are reserved for system use.
const (
	ComponentRPC      = 0x01
	ComponentReserved = 0xFF
)
