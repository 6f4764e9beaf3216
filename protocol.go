package rcon

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"unicode/utf8"
)

// HeaderSize is the length of the fixed frame header: the packet size, ID, and type fields.
const HeaderSize = 4 + 4 + 4

// WrapperSize is the cumulative size of non-body bytes that contribute to calculation of the packet
// size that precedes a binary packet. Eight bytes are accounted for by the packet ID and type,
// while two bytes are accounted for by the null byte termination of the body and packet. The packet
// size itself is not included in the size calculation.
const WrapperSize = 8 + 2

// MaximumPacketSize is the largest packet size a client is allowed to send. This value is outlined
// in the protocol.
const MaximumPacketSize = 4096

// MaximumResponseSize is the largest packet size accepted from a server. Several servers exceed
// the documented 4096 byte limit in a single response, so reads are allowed more headroom than
// writes.
const MaximumResponseSize = 64 * 1024

// Direction tells whether a packet travels from client to server or the other way around. The wire
// type values overlap between directions, so a type is only meaningful together with its direction.
type Direction uint8

const (
	DirectionRequest Direction = iota
	DirectionResponse
)

func (d Direction) String() string {
	switch d {
	case DirectionRequest:
		return "request"
	case DirectionResponse:
		return "response"
	}
	return "direction(" + strconv.Itoa(int(d)) + ")"
}

// PacketType indicates the purpose of a packet. It is keyed by direction and wire value, so
// [PacketTypeAuthResponse] and [PacketTypeExecCommand] are distinct even though both are sent as 2.
type PacketType struct {
	dir   Direction
	value int32
}

var (
	// PacketTypeAuth represents a client authorization request packet. It indicates that the body
	// will contain the server password.
	PacketTypeAuth = PacketType{DirectionRequest, 3}

	// PacketTypeExecCommand represents a client request packet that contains a command to be executed
	// by the server.
	PacketTypeExecCommand = PacketType{DirectionRequest, 2}

	// PacketTypeAuthResponse represents a server authorization response packet. If authorization
	// failed, the packet ID will have a value of -1 rather than that of the matching client request
	// packet.
	PacketTypeAuthResponse = PacketType{DirectionResponse, 2}

	// PacketTypeResponseValue represents a server response packet that contains the output of a
	// server command initiated by a [PacketTypeExecCommand] client request packet.
	PacketTypeResponseValue = PacketType{DirectionResponse, 0}

	// packetTypeSentinel is an empty response value sent by a client to mark the end of a
	// multi-packet response. Servers mirror it back in order.
	packetTypeSentinel = PacketType{DirectionRequest, 0}
)

// ParsePacketType returns the packet type for a wire value travelling in direction dir. Unknown
// values are preserved rather than rejected; [PacketType.Known] reports false for them.
func ParsePacketType(dir Direction, value int32) PacketType {
	return PacketType{dir, value}
}

// Direction returns the direction the packet type travels in.
func (t PacketType) Direction() Direction { return t.dir }

// Value returns the wire value of the packet type.
func (t PacketType) Value() int32 { return t.value }

// Known reports whether t is one of the types defined by the protocol.
func (t PacketType) Known() bool {
	switch t {
	case PacketTypeAuth, PacketTypeExecCommand, PacketTypeAuthResponse, PacketTypeResponseValue,
		packetTypeSentinel:
		return true
	}
	return false
}

func (t PacketType) String() string {
	switch t {
	case PacketTypeAuth:
		return "SERVERDATA_AUTH"
	case PacketTypeExecCommand:
		return "SERVERDATA_EXECCOMMAND"
	case PacketTypeAuthResponse:
		return "SERVERDATA_AUTH_RESPONSE"
	case PacketTypeResponseValue, packetTypeSentinel:
		return "SERVERDATA_RESPONSE_VALUE"
	}
	return fmt.Sprintf("unknown %s type %d", t.dir, t.value)
}

// Packet is a singular RCON protocol packet, either as a request from a client or a response from
// a server.
type Packet struct {
	// Size is the byte length of everything following the size field on the wire. It is computed
	// when a packet is encoded and reported as read when a packet is decoded.
	Size int32

	// ID is a field chosen by the client which can be used to correlate request packets with
	// response packets. The singular case where a response will not match its request is
	// authorization failure, where the type will be [PacketTypeAuthResponse] and this field will
	// have a value of -1.
	ID int32

	// Type indicates the purpose of the packet.
	Type PacketType

	// Body contains the RCON password, the command to be executed, or the server's response to a
	// request. It's possible that the body is empty.
	Body string
}

// Encode returns the binary form of a packet with the given id, type, and body. The body must be
// 7-bit ASCII without embedded NUL bytes; anything else is reported as an [*EncodeError] rather
// than silently altered.
func Encode(id int32, t PacketType, body string) ([]byte, error) {
	for i := 0; i < len(body); i++ {
		if c := body[i]; c == 0 || c >= utf8.RuneSelf {
			r, _ := utf8.DecodeRuneInString(body[i:])
			return nil, &EncodeError{Offset: i, Rune: r}
		}
	}

	// Ensure the packet conforms to the maximum size defined in the protocol.
	size := len(body) + WrapperSize
	if size > MaximumPacketSize {
		return nil, ErrPacketTooLarge
	}

	b := make([]byte, 0, size+4)
	b = binary.LittleEndian.AppendUint32(b, uint32(size))
	b = binary.LittleEndian.AppendUint32(b, uint32(id))
	b = binary.LittleEndian.AppendUint32(b, uint32(t.value))
	b = append(b, body...)
	b = append(b, 0, 0)

	return b, nil
}

// Decode parses a complete frame b into a packet travelling in direction dir. The declared size
// must account for exactly the bytes supplied. Body bytes that are not valid UTF-8 are replaced
// with U+FFFD, since servers echo arbitrary player supplied text.
func Decode(dir Direction, b []byte) (Packet, error) {
	if len(b) < HeaderSize {
		return Packet{}, &DecodeError{
			Kind:   ErrTruncated,
			Detail: fmt.Sprintf("have %d bytes, need at least %d", len(b), HeaderSize),
		}
	}

	size := int32(binary.LittleEndian.Uint32(b[0:4]))
	if int64(size) != int64(len(b)-4) {
		return Packet{}, &DecodeError{
			Kind:   ErrSizeMismatch,
			Detail: fmt.Sprintf("declared %d, have %d", size, len(b)-4),
		}
	}
	if size < WrapperSize {
		return Packet{}, &DecodeError{
			Kind:   ErrSizeOutOfRange,
			Detail: fmt.Sprintf("declared %d, minimum is %d", size, WrapperSize),
		}
	}

	// Ensure the packet is properly terminated by two zero bytes.
	if b[len(b)-2] != 0 || b[len(b)-1] != 0 {
		return Packet{}, &DecodeError{Kind: ErrBadTerminator}
	}

	return Packet{
		Size: size,
		ID:   int32(binary.LittleEndian.Uint32(b[4:8])),
		Type: ParsePacketType(dir, int32(binary.LittleEndian.Uint32(b[8:12]))),
		Body: strings.ToValidUTF8(string(b[HeaderSize:len(b)-2]), string(utf8.RuneError)),
	}, nil
}

// ReadPacket reads exactly one frame from r: first the fixed header, then precisely the number of
// bytes the header declares. Framing is never inferred from the size of individual reads. If r
// reaches EOF before the frame is complete, the returned error wraps [ErrConnectionClosed].
func ReadPacket(r io.Reader, dir Direction) (Packet, error) {
	frame := make([]byte, HeaderSize, HeaderSize+64)
	if err := readExact(r, frame); err != nil {
		return Packet{}, err
	}

	size := int32(binary.LittleEndian.Uint32(frame[0:4]))
	if size < WrapperSize || size > MaximumResponseSize {
		return Packet{}, &DecodeError{
			Kind:   ErrSizeOutOfRange,
			Detail: fmt.Sprintf("declared %d, allowed %d to %d", size, WrapperSize, MaximumResponseSize),
		}
	}

	// The header already consumed the ID and type fields.
	rest := int(size) - 8
	frame = append(frame, make([]byte, rest)...)
	if err := readExact(r, frame[HeaderSize:]); err != nil {
		return Packet{}, err
	}

	return Decode(dir, frame)
}

// readExact fills b from r, treating an early EOF as the peer closing the connection.
func readExact(r io.Reader, b []byte) error {
	_, err := io.ReadFull(r, b)
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return fmt.Errorf("%w: %w", ErrConnectionClosed, err)
	}
	return err
}

// MarshalBinary encodes the receiving [Packet] into binary form and returns the result. This
// satisfies the [encoding.BinaryMarshaler] interface.
func (p Packet) MarshalBinary() ([]byte, error) {
	return Encode(p.ID, p.Type, p.Body)
}

// WriteTo writes a binary representation of the packet to [io.Writer] w. This method satisfies the
// [io.WriterTo] interface.
func (p Packet) WriteTo(w io.Writer) (int64, error) {
	bs, err := p.MarshalBinary()
	if err != nil {
		return 0, err
	}
	n, err := w.Write(bs)

	return int64(n), err
}
