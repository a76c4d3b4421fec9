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

// Contains the remote procedure call request and response envelopes together
// with their binary codecs.

package rpc

import (
	"encoding/binary"
	"errors"
)

// Payload type tags carried in the routed message envelope.
const (
	TypeRequest  = 0x01
	TypeResponse = 0x02
)

// Request is a method invocation traveling towards the handling node.
type Request struct {
	ID     uint64 // Call identifier chosen by the originator
	Method string // Fully qualified method name
	Data   []byte // Method specific argument blob
}

// Response is the outcome of an invocation traveling back to the originator.
type Response struct {
	ID    uint64 // Call identifier echoed from the request
	Error *Error // Failure report, nil on success
	Data  []byte // Method specific result blob
}

// Serializes the request into its wire format.
func (r *Request) marshal() []byte {
	blob := make([]byte, 8+2+len(r.Method)+len(r.Data))

	binary.BigEndian.PutUint64(blob, r.ID)
	binary.BigEndian.PutUint16(blob[8:], uint16(len(r.Method)))
	off := 10 + copy(blob[10:], r.Method)
	copy(blob[off:], r.Data)

	return blob
}

// Deserializes a request off the wire.
func parseRequest(blob []byte) (*Request, error) {
	if len(blob) < 10 {
		return nil, errors.New("rpc request too short")
	}
	size := int(binary.BigEndian.Uint16(blob[8:]))
	if len(blob) < 10+size {
		return nil, errors.New("rpc request method truncated")
	}
	return &Request{
		ID:     binary.BigEndian.Uint64(blob),
		Method: string(blob[10 : 10+size]),
		Data:   blob[10+size:],
	}, nil
}

// Serializes the response into its wire format. Failed responses carry the
// serialized error in place of the result blob.
func (r *Response) marshal() []byte {
	data := r.Data
	flag := byte(0x00)
	if r.Error != nil {
		data = r.Error.marshal()
		flag = 0x01
	}
	blob := make([]byte, 8+1+len(data))
	binary.BigEndian.PutUint64(blob, r.ID)
	blob[8] = flag
	copy(blob[9:], data)

	return blob
}

// Deserializes a response off the wire.
func parseResponse(blob []byte) (*Response, error) {
	if len(blob) < 9 {
		return nil, errors.New("rpc response too short")
	}
	res := &Response{ID: binary.BigEndian.Uint64(blob)}
	switch blob[8] {
	case 0x00:
		res.Data = blob[9:]
	case 0x01:
		fail, err := parseError(blob[9:])
		if err != nil {
			return nil, err
		}
		res.Error = fail
	default:
		return nil, errors.New("rpc response flag invalid")
	}
	return res, nil
}
