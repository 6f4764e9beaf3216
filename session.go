// Copyright 2024 Matt Schultz <schultz@sent.com>. All rights reserved.
// Use of this source code is governed by an ISC license that can be found in the LICENSE file.

package rcon

import (
	"context"
	"encoding/hex"
	"errors"
	"log/slog"
	"math"
	"strings"
	"sync"
	"sync/atomic"
)

// BroadcastCommand is the one command whose argument has its spaces escaped. Some servers, Palworld
// among them, split a broadcast message on literal spaces and only announce the first word.
const BroadcastCommand = "Broadcast"

// BroadcastSpace is substituted for every literal space in a broadcast message.
const BroadcastSpace = '\x1f'

// Session is an RCON session over a single connection to an RCON server. A session is created
// idle; the connection is established and authenticated by [Session.Open], [Session.Authenticate],
// or the first [Session.Execute].
//
// RCON is strictly request then response, so calls on a session are serialized. Sessions are safe
// for concurrent use, but independent sessions should be used for parallel work.
//
// RCON does not specify any keep alive functionality, so a session may return an error wrapping
// [ErrConnectionClosed] when idle for an extended period. Failed exchanges close the session; there
// is no automatic reconnect once a session has been closed.
type Session struct {
	cfg Config

	// seq tracks the monotonically increasing packet ID that a session sends to servers with each
	// request. This will be a value between zero and [math.MaxInt32] inclusive.
	seq atomic.Int32

	// mu serializes handshakes and request and response exchanges.
	mu sync.Mutex

	// conn is the current connection, or nil when the session is idle or closed. It is published
	// before the handshake completes so that Close can interrupt it.
	conn atomic.Pointer[Conn]

	// closed is set once the session was closed and cleared by a fresh Open.
	closed atomic.Bool

	// sentinels holds the ids of multi-packet sentinels whose trailing frames may still arrive.
	// Guarded by mu.
	sentinels map[int32]struct{}

	logger *slog.Logger
}

// NewSession creates and returns an idle [Session] configured by cfg. No I/O is performed.
func NewSession(cfg Config) *Session {
	s := &Session{
		cfg:    cfg,
		logger: cfg.Logger,
	}
	seq := cfg.StartingSeq
	if seq < 1 {
		seq = 1
	}
	s.seq.Store(seq)
	return s
}

// Exec runs a single command on the server described by cfg: it connects, authenticates, executes,
// and closes the connection again.
func Exec(ctx context.Context, cfg Config, command string, args ...string) (string, error) {
	s := NewSession(cfg)
	defer s.Close()

	return s.Execute(ctx, command, args...)
}

// Open connects to the server and authenticates, replacing any connection the session already
// holds. On failure the session is left closed.
func (s *Session) Open(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if old := s.conn.Swap(nil); old != nil {
		_ = old.Close()
	}
	s.closed.Store(false)

	return s.open(ctx)
}

// Authenticate opens the session like [Session.Open] and reports whether the server accepted the
// password. A rejected password yields false and a nil error; any other failure is returned.
func (s *Session) Authenticate(ctx context.Context) (bool, error) {
	err := s.Open(ctx)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrAuthFailed):
		return false, nil
	}
	return false, err
}

// Execute runs command with args on the server and returns the response body. An idle session is
// opened first. Arguments are joined with single spaces; for [BroadcastCommand] spaces within the
// message are replaced with [BroadcastSpace].
//
// An empty response body is returned as an empty string with a nil error, leaving it to the caller
// to decide what no response means. Any failure is returned as an [*ExecutionError]. Failures other
// than an unencodable command close the session; a closed session returns an error wrapping
// [ErrNotConnected] without performing I/O.
func (s *Session) Execute(ctx context.Context, command string, args ...string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	conn := s.conn.Load()
	if conn == nil {
		if s.closed.Load() {
			return "", &ExecutionError{Command: command, Err: ErrNotConnected}
		}
		if err := s.open(ctx); err != nil {
			return "", &ExecutionError{Command: command, Err: err}
		}
		conn = s.conn.Load()
		if conn == nil {
			return "", &ExecutionError{Command: command, Err: ErrNotConnected}
		}
	}

	body, err := s.exchange(ctx, conn, BuildCommand(command, args...))
	if err != nil {
		// A command that cannot be encoded never reached the wire.
		var ee *EncodeError
		if !errors.As(err, &ee) && !errors.Is(err, ErrPacketTooLarge) {
			s.drop(conn)
		}
		return "", &ExecutionError{Command: command, Err: err}
	}
	return body, nil
}

// Close releases the session's connection. It is safe to call at any time, including while another
// goroutine is blocked in [Session.Execute], which is then unblocked with an error. Calling Close
// more than once is a no-op.
func (s *Session) Close() error {
	s.closed.Store(true)

	conn := s.conn.Swap(nil)
	if conn == nil {
		return nil
	}
	s.log(context.Background(), slog.LevelDebug, "closing session", slog.String("addr", s.cfg.Addr()))
	return conn.Close()
}

// BuildCommand returns the command text sent for command and args. Arguments are joined with
// single spaces. For [BroadcastCommand], matched case-insensitively, every literal space within the
// message is replaced with [BroadcastSpace]; this works around a server-side parsing limitation and
// applies to no other command.
func BuildCommand(command string, args ...string) string {
	if len(args) == 0 {
		return command
	}
	msg := strings.Join(args, " ")
	if strings.EqualFold(command, BroadcastCommand) {
		msg = strings.ReplaceAll(msg, " ", string(BroadcastSpace))
	}
	return command + " " + msg
}

// open dials and authenticates. It must be called with mu held.
func (s *Session) open(ctx context.Context) error {
	addr := s.cfg.Addr()
	conn, err := Dial(ctx, s.cfg.Network, addr, s.cfg.Timeout, s.cfg.Dial)
	if err != nil {
		s.closed.Store(true)
		s.log(ctx, slog.LevelError, "failed to connect", slog.String("addr", addr), slog.String("error", err.Error()))
		return err
	}
	s.log(ctx, slog.LevelDebug, "connected", slog.String("addr", addr))

	// Publish the connection before the handshake so Close can interrupt it.
	s.sentinels = nil
	s.conn.Store(conn)
	if s.closed.Load() {
		s.drop(conn)
		return ErrNotConnected
	}

	req := AuthRequest{
		ID:       s.loadAndIncrementSeq(),
		Password: s.cfg.Password,
		StrictID: s.cfg.StrictAuthID,
	}
	err = Authenticate(ctx, &loggingConn{conn, s}, req)
	if err != nil {
		s.drop(conn)
		s.log(ctx, slog.LevelError, "authentication failed", slog.String("addr", addr), slog.String("error", err.Error()))
		return err
	}
	if s.conn.Load() != conn {
		return ErrNotConnected
	}

	s.log(ctx, slog.LevelInfo, "authenticated", slog.String("addr", addr))
	return nil
}

// exchange sends cmd and reads its response over conn. It must be called with mu held.
func (s *Session) exchange(ctx context.Context, conn *Conn, cmd string) (string, error) {
	lc := &loggingConn{conn, s}

	req := Packet{ID: s.loadAndIncrementSeq(), Type: PacketTypeExecCommand, Body: cmd}
	if err := lc.WritePacket(ctx, req); err != nil {
		return "", err
	}

	if !s.cfg.MultiPacket {
		resp, err := s.readResponse(ctx, lc)
		if err != nil {
			return "", err
		}
		return resp.Body, nil
	}

	// Servers answer requests in order, so the mirrored sentinel marks the end of the response.
	sentinel := Packet{ID: s.loadAndIncrementSeq(), Type: packetTypeSentinel}
	if err := lc.WritePacket(ctx, sentinel); err != nil {
		return "", err
	}

	var body strings.Builder
	for {
		resp, err := s.readResponse(ctx, lc)
		if err != nil {
			return "", err
		}
		if resp.ID == sentinel.ID {
			// Source servers follow the mirrored sentinel with one more frame carrying the same id.
			if s.sentinels == nil {
				s.sentinels = make(map[int32]struct{})
			}
			s.sentinels[sentinel.ID] = struct{}{}
			return body.String(), nil
		}
		body.WriteString(resp.Body)
	}
}

// readResponse reads the next frame, skipping trailing frames of earlier sentinels.
func (s *Session) readResponse(ctx context.Context, conn PacketConn) (Packet, error) {
	for {
		resp, err := conn.ReadPacket(ctx)
		if err != nil {
			return Packet{}, err
		}
		if _, ok := s.sentinels[resp.ID]; ok {
			delete(s.sentinels, resp.ID)
			continue
		}
		return resp, nil
	}
}

// drop closes conn after a failed exchange and marks the session closed.
func (s *Session) drop(conn *Conn) {
	s.closed.Store(true)
	s.conn.CompareAndSwap(conn, nil)
	_ = conn.Close()
}

// log sends a record to the session's logger, if any.
func (s *Session) log(ctx context.Context, level slog.Level, msg string, attrs ...slog.Attr) {
	if s.logger == nil {
		return
	}
	s.logger.LogAttrs(ctx, level, msg, attrs...)
}

// loadAndIncrementSeq returns and then increments the receiving session's seq, wrapping around to
// zero when [math.MaxInt32] is reached.
func (s *Session) loadAndIncrementSeq() int32 {
	var seq int32
	swapped := false
	for !swapped {
		seq = s.seq.Load()
		switch {
		case seq < 0:
			swapped = s.seq.CompareAndSwap(seq, 1)
			seq = 0

		case seq == math.MaxInt32:
			swapped = s.seq.CompareAndSwap(seq, 0)

		default:
			swapped = s.seq.CompareAndSwap(seq, seq+1)
		}
	}
	return seq
}

// loggingConn logs every packet passing through a [Conn] to the session's logger.
type loggingConn struct {
	*Conn
	s *Session
}

func (lc *loggingConn) WritePacket(ctx context.Context, p Packet) error {
	lc.s.logPacket(ctx, "sending packet", p)
	return lc.Conn.WritePacket(ctx, p)
}

func (lc *loggingConn) ReadPacket(ctx context.Context) (Packet, error) {
	p, err := lc.Conn.ReadPacket(ctx)
	if err != nil {
		return p, err
	}
	lc.s.logPacket(ctx, "received packet", p)
	return p, nil
}

// logPacket sends a log record containing the provided log message and packet to the session's
// logger for handling. When the logger is nil or is not level set for debug records, this function
// is essentially a NOP. If the provided packet is an outbound authorization packet, its body and
// length are obfuscated to prevent leaking a plaintext password into logs.
func (s *Session) logPacket(ctx context.Context, logMsg string, packet Packet) {
	// NOP if the session logger is nil or is not level set for debug log messages.
	if s.logger == nil || !s.logger.Handler().Enabled(ctx, slog.LevelDebug) {
		return
	}

	// Unless the session is explicitly configured to log outbound authorization packets, scrub the
	// password when applicable.
	if packet.Type == PacketTypeAuth && !s.cfg.LogOutboundAuthPackets {
		packet.Body = "xxxxx"
	}

	bs, err := packet.MarshalBinary()
	if err != nil {
		// Response bodies may hold text the encoder refuses; log them without the hex dump.
		s.logger.LogAttrs(ctx, slog.LevelDebug, logMsg,
			slog.Int("id", int(packet.ID)),
			slog.String("type", packet.Type.String()),
			slog.Int("body_len", len(packet.Body)))
		return
	}

	s.logger.LogAttrs(ctx, slog.LevelDebug, logMsg, slog.String("packet", hex.EncodeToString(bs)))
}
