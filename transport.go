// Copyright 2024 Matt Schultz <schultz@sent.com>. All rights reserved.
// Use of this source code is governed by an ISC license that can be found in the LICENSE file.

package rcon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"syscall"
	"time"
)

// DefaultTimeout is the default amount of time allowed for connecting and for each read or write
// of a single frame.
const DefaultTimeout = 15 * time.Second

// DialFunc establishes the underlying connection for a [Conn]. [net.Dialer.DialContext] satisfies
// it, as do TLS dialers and in-memory pipes used for testing.
type DialFunc func(ctx context.Context, network, addr string) (net.Conn, error)

// Conn is the transport for a single RCON connection. It owns its [net.Conn] exclusively: once a
// net.Conn is handed to a Conn it should not be read or written elsewhere.
//
// Every operation runs under a deadline of the configured timeout or the context deadline,
// whichever is sooner. Cancelling the context aborts the operation in flight.
type Conn struct {
	nc      net.Conn
	timeout time.Duration

	closeOnce sync.Once
	closeErr  error
	closed    chan struct{}
}

// Dial connects to addr and returns a [Conn] using it. The timeout bounds the connect call itself
// as well as every later read and write; a value of zero selects [DefaultTimeout]. When dial is
// nil a [net.Dialer] is used. Any failure is returned as a [*ConnectError].
func Dial(ctx context.Context, network, addr string, timeout time.Duration, dial DialFunc) (*Conn, error) {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if network == "" {
		network = "tcp"
	}
	if dial == nil {
		d := &net.Dialer{Timeout: timeout}
		dial = d.DialContext
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	nc, err := dial(ctx, network, addr)
	if err != nil {
		return nil, &ConnectError{Addr: addr, Err: err}
	}
	return NewConn(nc, timeout), nil
}

// NewConn returns a [Conn] that uses nc as its transport. A timeout of zero selects
// [DefaultTimeout].
func NewConn(nc net.Conn, timeout time.Duration) *Conn {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Conn{
		nc:      nc,
		timeout: timeout,
		closed:  make(chan struct{}),
	}
}

// Send writes b in full.
func (c *Conn) Send(ctx context.Context, b []byte) error {
	stop, err := c.arm(ctx)
	if err != nil {
		return err
	}
	defer stop()

	_, err = c.nc.Write(b)
	if err != nil {
		return c.mapErr(ctx, "send", err)
	}
	return nil
}

// ReceiveExact reads exactly n bytes. If the peer closes the connection first the returned error
// wraps [ErrConnectionClosed]; if the deadline passes it wraps [ErrReadTimeout].
func (c *Conn) ReceiveExact(ctx context.Context, n int) ([]byte, error) {
	stop, err := c.arm(ctx)
	if err != nil {
		return nil, err
	}
	defer stop()

	b := make([]byte, n)
	if err := readExact(c.nc, b); err != nil {
		return nil, c.mapErr(ctx, "receive", err)
	}
	return b, nil
}

// WritePacket encodes and sends p.
func (c *Conn) WritePacket(ctx context.Context, p Packet) error {
	b, err := p.MarshalBinary()
	if err != nil {
		return err
	}
	return c.Send(ctx, b)
}

// ReadPacket reads and decodes exactly one response frame.
func (c *Conn) ReadPacket(ctx context.Context) (Packet, error) {
	stop, err := c.arm(ctx)
	if err != nil {
		return Packet{}, err
	}
	defer stop()

	p, err := ReadPacket(c.nc, DirectionResponse)
	if err != nil {
		return Packet{}, c.mapErr(ctx, "receive", err)
	}
	return p, nil
}

// Close closes the underlying connection, unblocking any read or write in progress. Calling Close
// more than once is a no-op that returns the result of the first call.
func (c *Conn) Close() error {
	c.closeOnce.Do(func() {
		close(c.closed)
		c.closeErr = c.nc.Close()
	})
	return c.closeErr
}

// LocalAddr returns the local network address of the underlying connection.
func (c *Conn) LocalAddr() net.Addr { return c.nc.LocalAddr() }

// RemoteAddr returns the remote network address of the underlying connection.
func (c *Conn) RemoteAddr() net.Addr { return c.nc.RemoteAddr() }

// arm applies the operation deadline and ties it to ctx. The returned func must be called once the
// operation completes.
func (c *Conn) arm(ctx context.Context) (func(), error) {
	select {
	case <-c.closed:
		return nil, ErrNotConnected
	default:
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	deadline := time.Now().Add(c.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := c.nc.SetDeadline(deadline); err != nil {
		return nil, c.mapErr(ctx, "set deadline", err)
	}

	// A deadline in the past wakes up any blocked read or write.
	stop := context.AfterFunc(ctx, func() {
		_ = c.nc.SetDeadline(time.Unix(1, 0))
	})
	return func() { stop() }, nil
}

// mapErr translates errors from the underlying connection into the package's error kinds.
func (c *Conn) mapErr(ctx context.Context, op string, err error) error {
	select {
	case <-c.closed:
		return fmt.Errorf("%w: %s: %w", ErrNotConnected, op, err)
	default:
	}

	var de *DecodeError
	switch {
	case errors.As(err, &de), errors.Is(err, ErrConnectionClosed):
		return err
	}

	if errors.Is(err, net.ErrClosed) {
		return fmt.Errorf("%w: %s: %w", ErrNotConnected, op, err)
	}
	if errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EPIPE) {
		return fmt.Errorf("%w: %s: %w", ErrConnectionClosed, op, err)
	}

	var ne net.Error
	if errors.Is(err, os.ErrDeadlineExceeded) || (errors.As(err, &ne) && ne.Timeout()) {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("rcon: %s: %w", op, ctxErr)
		}
		if op == "send" {
			return fmt.Errorf("%w: %w", ErrWriteTimeout, err)
		}
		return fmt.Errorf("%w: %w", ErrReadTimeout, err)
	}

	return fmt.Errorf("rcon: %s: %w", op, err)
}
