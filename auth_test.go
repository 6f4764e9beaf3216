package rcon_test

import (
	"context"
	"errors"
	"testing"

	"github.com/schultz-is/rcon-session"
)

// scriptedConn replies to every written packet with the next scripted reply.
type scriptedConn struct {
	sent    []rcon.Packet
	replies []rcon.Packet
	readErr error
}

func (c *scriptedConn) WritePacket(_ context.Context, p rcon.Packet) error {
	c.sent = append(c.sent, p)
	return nil
}

func (c *scriptedConn) ReadPacket(_ context.Context) (rcon.Packet, error) {
	if c.readErr != nil {
		return rcon.Packet{}, c.readErr
	}
	if len(c.replies) == 0 {
		return rcon.Packet{}, rcon.ErrConnectionClosed
	}
	p := c.replies[0]
	c.replies = c.replies[1:]
	return p, nil
}

func TestAuthenticate(t *testing.T) {
	tests := []struct {
		name    string
		strict  bool
		reply   rcon.Packet
		readErr error
		wantErr error
	}{
		{
			name:  "accepted",
			reply: rcon.Packet{ID: 7, Type: rcon.PacketTypeAuthResponse},
		},
		{
			name:    "rejected",
			reply:   rcon.Packet{ID: -1, Type: rcon.PacketTypeAuthResponse},
			wantErr: rcon.ErrAuthFailed,
		},
		{
			name:    "rejected regardless of strictness",
			strict:  true,
			reply:   rcon.Packet{ID: -1, Type: rcon.PacketTypeAuthResponse},
			wantErr: rcon.ErrAuthFailed,
		},
		{
			name:    "response value instead of auth response",
			reply:   rcon.Packet{ID: 7, Type: rcon.PacketTypeResponseValue},
			wantErr: rcon.ErrProtocol,
		},
		{
			name:    "rejection id on the wrong type",
			reply:   rcon.Packet{ID: -1, Type: rcon.PacketTypeResponseValue},
			wantErr: rcon.ErrProtocol,
		},
		{
			name:    "unknown type",
			reply:   rcon.Packet{ID: 7, Type: rcon.ParsePacketType(rcon.DirectionResponse, 9)},
			wantErr: rcon.ErrProtocol,
		},
		{
			name:  "mismatched id accepted",
			reply: rcon.Packet{ID: 99, Type: rcon.PacketTypeAuthResponse},
		},
		{
			name:    "mismatched id rejected when strict",
			strict:  true,
			reply:   rcon.Packet{ID: 99, Type: rcon.PacketTypeAuthResponse},
			wantErr: rcon.ErrProtocol,
		},
		{
			name:    "peer closed",
			readErr: rcon.ErrConnectionClosed,
			wantErr: rcon.ErrConnectionClosed,
		},
		{
			name:    "malformed reply",
			readErr: &rcon.DecodeError{Kind: rcon.ErrSizeMismatch},
			wantErr: rcon.ErrSizeMismatch,
		},
	}

	for _, tt := range tests {
		t.Run(
			tt.name,
			func(t *testing.T) {
				conn := &scriptedConn{replies: []rcon.Packet{tt.reply}, readErr: tt.readErr}

				err := rcon.Authenticate(
					context.Background(),
					conn,
					rcon.AuthRequest{ID: 7, Password: "secret", StrictID: tt.strict},
				)
				if !errors.Is(err, tt.wantErr) || (tt.wantErr == nil && err != nil) {
					t.Fatalf("Authenticate() returned %v, want %v", err, tt.wantErr)
				}

				// Exactly one request is sent, whatever the outcome.
				if len(conn.sent) != 1 {
					t.Fatalf("Authenticate() sent %d packets, want 1", len(conn.sent))
				}
				want := rcon.Packet{ID: 7, Type: rcon.PacketTypeAuth, Body: "secret"}
				if conn.sent[0] != want {
					t.Fatalf("Authenticate() sent %#v, want %#v", conn.sent[0], want)
				}
			},
		)
	}
}

func TestAuthenticateReservedID(t *testing.T) {
	conn := &scriptedConn{}
	err := rcon.Authenticate(context.Background(), conn, rcon.AuthRequest{ID: -1, Password: "secret"})
	if !errors.Is(err, rcon.ErrProtocol) {
		t.Fatalf("Authenticate() with id -1 returned %v, want %v", err, rcon.ErrProtocol)
	}
	if len(conn.sent) != 0 {
		t.Fatalf("Authenticate() with id -1 sent %d packets", len(conn.sent))
	}
}
