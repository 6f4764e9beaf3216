// Copyright 2024 Matt Schultz <schultz@sent.com>. All rights reserved.
// Use of this source code is governed by an ISC license that can be found in the LICENSE file.

package rcon

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConnected is returned when a session or connection is used after it has been closed,
	// either explicitly or as the result of a failed handshake or exchange.
	ErrNotConnected = errors.New("rcon: not connected")

	// ErrConnectionClosed is returned when the peer closes the connection before a full frame has
	// been received. Servers routinely do this after rejecting a password.
	ErrConnectionClosed = errors.New("rcon: connection closed by peer")

	// ErrReadTimeout is returned when a full frame is not received within the configured timeout.
	ErrReadTimeout = errors.New("rcon: read timeout")

	// ErrWriteTimeout is returned when a frame cannot be written within the configured timeout.
	ErrWriteTimeout = errors.New("rcon: write timeout")

	// ErrAuthFailed is returned when the server rejects the password by echoing an id of -1.
	ErrAuthFailed = errors.New("rcon: authentication failed")

	// ErrProtocol is returned when the server replies with something the handshake does not
	// expect, such as a response of the wrong type.
	ErrProtocol = errors.New("rcon: protocol error")

	// ErrPacketTooLarge is returned when an outbound packet exceeds [MaximumPacketSize].
	ErrPacketTooLarge = errors.New("rcon: packet too large")
)

// Kinds of [DecodeError].
var (
	ErrTruncated      = errors.New("rcon: truncated packet")
	ErrSizeMismatch   = errors.New("rcon: packet size mismatch")
	ErrSizeOutOfRange = errors.New("rcon: packet size out of range")
	ErrBadTerminator  = errors.New("rcon: packet incorrectly terminated")
)

// EncodeError reports a packet body that cannot be represented in the protocol's ASCII text
// encoding.
type EncodeError struct {
	// Offset is the byte offset of the offending rune within the body.
	Offset int

	// Rune is the offending rune.
	Rune rune
}

func (e *EncodeError) Error() string {
	return fmt.Sprintf("rcon: cannot encode %q at offset %d", e.Rune, e.Offset)
}

// DecodeError reports a malformed frame. Kind is one of [ErrTruncated], [ErrSizeMismatch],
// [ErrSizeOutOfRange] or [ErrBadTerminator] and can be tested with [errors.Is].
type DecodeError struct {
	Kind   error
	Detail string
}

func (e *DecodeError) Error() string {
	if e.Detail == "" {
		return e.Kind.Error()
	}
	return e.Kind.Error() + ": " + e.Detail
}

func (e *DecodeError) Unwrap() error { return e.Kind }

// ConnectError reports a failure to establish the underlying connection: the host was unreachable,
// refused the connection, could not be resolved, or did not answer within the timeout.
type ConnectError struct {
	Addr string
	Err  error
}

func (e *ConnectError) Error() string {
	return "rcon: connect " + e.Addr + ": " + e.Err.Error()
}

func (e *ConnectError) Unwrap() error { return e.Err }

// ExecutionError wraps any failure that occurs while a [Session] runs a command, including the
// connect and handshake steps of an idle session.
type ExecutionError struct {
	Command string
	Err     error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("rcon: execute %q: %s", e.Command, e.Err)
}

func (e *ExecutionError) Unwrap() error { return e.Err }
