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

// Contains the remote procedure call error type and its wire codec.

package rpc

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Failure codes carried inside error responses.
const (
	CodeMethodNotFound  = 1
	CodeRequestTimedOut = 2
	CodeBadRequest      = 3
	CodeNoAuthorization = 4
)

// Error is a remote procedure call failure, either produced locally (timeout)
// or reported by the remote handler.
type Error struct {
	Code    uint32
	Message string
}

// Prebuilt errors for the locally raised failure modes.
var (
	ErrTimeout      = &Error{Code: CodeRequestTimedOut, Message: "request timed out"}
	ErrNotFound     = &Error{Code: CodeMethodNotFound, Message: "method not found"}
	ErrUnauthorized = &Error{Code: CodeNoAuthorization, Message: "not authorized"}
)

// Raised when a pending call is torn down before completing.
var ErrCanceled = errors.New("call canceled")

// Implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Serializes the error into its wire format.
func (e *Error) marshal() []byte {
	blob := make([]byte, 4+len(e.Message))
	binary.BigEndian.PutUint32(blob, e.Code)
	copy(blob[4:], e.Message)
	return blob
}

// Deserializes an error off the wire.
func parseError(blob []byte) (*Error, error) {
	if len(blob) < 4 {
		return nil, errors.New("rpc error too short")
	}
	return &Error{
		Code:    binary.BigEndian.Uint32(blob),
		Message: string(blob[4:]),
	}, nil
}

// Coerces an arbitrary handler failure into a wire transmittable error.
// Plain errors are reported as bad requests.
func wireError(err error) *Error {
	if rerr, ok := err.(*Error); ok {
		return rerr
	}
	return &Error{Code: CodeBadRequest, Message: err.Error()}
}
