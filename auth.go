package rcon

import (
	"context"
	"fmt"
)

// authFailedID is the id a server echoes in place of the request id when it rejects a password.
const authFailedID = -1

// PacketConn is the transport an authentication handshake runs over. [*Conn] satisfies it.
type PacketConn interface {
	WritePacket(ctx context.Context, p Packet) error
	ReadPacket(ctx context.Context) (Packet, error)
}

// AuthRequest holds the parameters of a single authentication handshake.
type AuthRequest struct {
	// ID is the correlation id sent with the request. It must not be -1.
	ID int32

	// Password is the server's RCON password.
	Password string

	// StrictID rejects a successful reply whose id does not match ID. Several servers reply with
	// an unrelated id on success, so by default only -1 is treated as a rejection.
	StrictID bool
}

// Authenticate performs exactly one authentication exchange over conn: a single auth packet is
// sent and a single reply frame is read. It returns nil when the server accepts the password, an
// error wrapping [ErrAuthFailed] when the server rejects it, and an error wrapping [ErrProtocol] when
// the reply is not an auth response. Transport and decode errors are returned as is. There are no
// retries; a connection whose handshake failed must be closed.
func Authenticate(ctx context.Context, conn PacketConn, req AuthRequest) error {
	if req.ID == authFailedID {
		return fmt.Errorf("%w: request id %d is reserved", ErrProtocol, authFailedID)
	}

	err := conn.WritePacket(ctx, Packet{ID: req.ID, Type: PacketTypeAuth, Body: req.Password})
	if err != nil {
		return err
	}

	resp, err := conn.ReadPacket(ctx)
	if err != nil {
		return err
	}

	if resp.Type != PacketTypeAuthResponse {
		return fmt.Errorf("%w: expected %s, got %s", ErrProtocol, PacketTypeAuthResponse, resp.Type)
	}
	if resp.ID == authFailedID {
		return ErrAuthFailed
	}
	if req.StrictID && resp.ID != req.ID {
		return fmt.Errorf("%w: auth response id %d does not match request id %d", ErrProtocol, resp.ID, req.ID)
	}
	return nil
}
