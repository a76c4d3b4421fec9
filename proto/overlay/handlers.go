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

// Contains the built in maintenance methods of the overlay: neighbourhood
// lookups, opportunistic entry exchanges, liveness probes and departure
// notices.

package overlay

import (
	"github.com/overmesh/overmesh/ext/mathext"
	"github.com/overmesh/overmesh/proto"
	"github.com/overmesh/overmesh/proto/rpc"
)

// Installs the built in methods into the call engine.
func (o *Overlay) registerBuiltins() {
	o.engine.Register(methodFindNode, o.handleFindNode)
	o.engine.RegisterIntercept(methodFindNode, o.interceptFindNode)
	o.engine.RegisterOneWay(methodExchangeEntries, o.handleExchangeEntries)
	o.engine.Register(methodPing, o.handlePing)
	o.engine.RegisterOneWay(methodLeaveNode, o.handleLeaveNode)
}

// Answers a neighbourhood lookup with the closest known contacts to the
// target, learning the requester in the process.
func (o *Overlay) handleFindNode(ctx *rpc.Context, data []byte) ([]byte, error) {
	req, err := parseFindNodeRequest(data)
	if err != nil {
		return nil, err
	}
	// Insert the requester straight away so the response can route back to
	// a node nothing else knows about yet. An existing entry under the
	// same identifier is left untouched: if a different node already owns
	// it, the response must expose the conflict instead of hiding it.
	if _, ok := o.table.Get(req.Origin.ID); !ok {
		o.table.Add(req.Origin)
	}
	count := mathext.MinInt(int(req.Count), o.table.MaxSiblings())
	res := &findNodeResponse{Contacts: o.table.Lookup(ctx.Key, count)}
	return res.marshal(), nil
}

// Observes a lookup passing through, pushing the local view of the target's
// neighbourhood back to the requester under the lookup's own call id.
func (o *Overlay) interceptFindNode(ctx *rpc.Context, msg *proto.RoutedMessage, data []byte) {
	if ctx.Source == ctx.Local {
		return
	}
	req, err := parseFindNodeRequest(data)
	if err != nil {
		return
	}
	o.admit(req.Origin)

	count := mathext.MinInt(int(req.Count), o.table.MaxSiblings())
	push := &exchangeEntries{
		RPCID:       ctx.ID,
		Destination: msg.DestKey,
		Contacts:    o.table.Lookup(msg.DestKey, count),
	}
	err = o.engine.Notify(req.Origin.ID, methodExchangeEntries, push.marshal(),
		&rpc.CallOptions{DeliverVia: req.Origin})
	if err != nil {
		o.log.Debug("failed to push entries", "to", req.Origin.ID, "error", err)
	}
}

// Accepts a pushed batch of routing entries, but only when it references a
// lookup the local node issued recently.
func (o *Overlay) handleExchangeEntries(ctx *rpc.Context, data []byte) error {
	push, err := parseExchangeEntries(data)
	if err != nil {
		return err
	}
	if !ctx.IsRecentCall(push.RPCID) {
		o.log.Warn("unsolicited entry exchange", "from", ctx.Source, "call", push.RPCID)
		return rpc.ErrUnauthorized
	}
	for _, contact := range push.Contacts {
		o.admit(contact)
	}
	return nil
}

// Answers a liveness probe, echoing the timestamp back. A probe that arrived
// straight over the prober's own link also refreshes the prober's entry, but
// with the contact the link layer reports, never one the payload claims.
func (o *Overlay) handlePing(ctx *rpc.Context, data []byte) ([]byte, error) {
	req, err := parsePingRequest(data)
	if err != nil {
		return nil, err
	}
	if ctx.Direct {
		if contact := o.net.Contact(ctx.Source); !contact.IsNull() {
			o.table.Add(contact)
		}
	}
	res := &pingResponse{Timestamp: req.Timestamp}
	return res.marshal(), nil
}

// Processes a departure notice: the leaver is discarded from the table and
// its direct link torn down.
func (o *Overlay) handleLeaveNode(ctx *rpc.Context, data []byte) error {
	o.log.Debug("peer leaving", "peer", ctx.Source)
	o.table.Remove(ctx.Source)
	o.net.CloseLink(ctx.Source)
	return nil
}
