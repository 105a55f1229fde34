package battleye

import (
	"encoding/binary"
	"hash/crc32"
)

// Packet is the closed tagged variant over the six concrete BattlEye
// wire messages. Exactly one of the typed fields is meaningful for any
// given packet; which one is determined by Type and, for Login and
// Message packets, by the role the packet came from (a client and a
// server packet of the same Type have different payload shapes).
//
// Wire layout: "BE" (2B) | CRC32 of the remainder (4B, little-endian) |
// 0xFF (1B) | type (1B) | payload.
type Packet struct {
	Type payloadType

	// FromClient disambiguates Login and Message packets, whose byte
	// shapes overlap between the client and server role.
	FromClient bool

	// Login fields.
	Password string // ClientLogin
	Success  bool   // ServerLogin

	// Command fields.
	Sequence byte   // ClientCommand, ServerCommand, ClientMessage, ServerMessage
	Command  string // ClientCommand

	// ServerCommand fields. Total/Index default to 1/0 when the
	// response was not split across multiple packets.
	Total    byte
	Index    byte
	Response []byte

	// ServerMessage field.
	Message []byte
}

// NewClientLogin returns a ClientLogin packet carrying password.
func NewClientLogin(password string) *Packet {
	return &Packet{Type: loginType, FromClient: true, Password: password}
}

// NewServerLogin returns a ServerLogin packet reporting success.
func NewServerLogin(success bool) *Packet {
	return &Packet{Type: loginType, FromClient: false, Success: success}
}

// NewClientCommand returns a ClientCommand packet for sequence carrying
// command.
func NewClientCommand(sequence byte, command string) *Packet {
	return &Packet{Type: commandType, FromClient: true, Sequence: sequence, Command: command}
}

// NewServerCommand returns a ServerCommand packet. When total is 1 the
// sub-header is omitted on the wire, per the protocol.
func NewServerCommand(sequence byte, total, index byte, response []byte) *Packet {
	return &Packet{
		Type: commandType, FromClient: false,
		Sequence: sequence, Total: total, Index: index, Response: response,
	}
}

// NewClientMessage returns a ClientMessage acknowledgement packet for
// sequence.
func NewClientMessage(sequence byte) *Packet {
	return &Packet{Type: serverMessageType, FromClient: true, Sequence: sequence}
}

// NewServerMessage returns a ServerMessage packet carrying message.
func NewServerMessage(sequence byte, message []byte) *Packet {
	return &Packet{Type: serverMessageType, FromClient: false, Sequence: sequence, Message: message}
}

// Encode serializes p into its wire representation.
func Encode(p *Packet) ([]byte, error) {
	payload, err := p.payload()
	if err != nil {
		return nil, err
	}

	out := make([]byte, 6, 6+len(payload))
	copy(out[0:2], headerPrefix)
	binary.LittleEndian.PutUint32(out[2:6], crc32.ChecksumIEEE(payload))
	out = append(out, payload...)

	if len(out) > maxPacketSize {
		return nil, ErrPacketTooLarge
	}
	return out, nil
}

// payload returns the packet body starting at the 0xFF byte, i.e. the
// slice the CRC32 is computed over.
func (p *Packet) payload() ([]byte, error) {
	switch p.Type {
	case loginType:
		if p.FromClient {
			if containsNUL(p.Password) {
				return nil, ErrNullByteInPassword
			}
			return append([]byte{endOfHeader, byte(loginType)}, []byte(p.Password)...), nil
		}
		success := byte(0)
		if p.Success {
			success = 1
		}
		return []byte{endOfHeader, byte(loginType), success}, nil

	case commandType:
		if p.FromClient {
			buf := append([]byte{endOfHeader, byte(commandType), p.Sequence}, []byte(p.Command)...)
			return buf, nil
		}
		total, index := p.Total, p.Index
		if total == 0 {
			total = 1
		}
		if index >= total {
			return nil, ErrMalformedCommandResponse
		}
		buf := []byte{endOfHeader, byte(commandType), p.Sequence}
		if total != 1 {
			buf = append(buf, multiPacketType, total, index)
		}
		return append(buf, p.Response...), nil

	case serverMessageType:
		if p.FromClient {
			return []byte{endOfHeader, byte(serverMessageType), p.Sequence}, nil
		}
		return append([]byte{endOfHeader, byte(serverMessageType), p.Sequence}, p.Message...), nil

	default:
		return nil, ErrUnknownPacketType
	}
}

func containsNUL(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] == 0 {
			return true
		}
	}
	return false
}

// Decode parses raw wire bytes into a Packet. fromClient disambiguates
// Login and Message packets, whose byte shapes overlap between roles.
func Decode(raw []byte, fromClient bool) (*Packet, error) {
	if len(raw) < minPacketSize {
		return nil, ErrInvalidPacketSize
	}
	if raw[0] != 'B' || raw[1] != 'E' {
		return nil, ErrInvalidHeader
	}
	if raw[6] != endOfHeader {
		return nil, ErrInvalidEndOfHeader
	}
	if crc32.ChecksumIEEE(raw[6:]) != binary.LittleEndian.Uint32(raw[2:6]) {
		return nil, ErrInvalidChecksum
	}

	typ := payloadType(raw[7])
	body := raw[8:]

	switch typ {
	case loginType:
		return decodeLogin(body, fromClient)
	case commandType:
		return decodeCommand(body, fromClient)
	case serverMessageType:
		return decodeMessage(body, fromClient)
	default:
		return nil, ErrUnknownPacketType
	}
}

func decodeLogin(body []byte, fromClient bool) (*Packet, error) {
	if fromClient {
		if containsNUL(string(body)) {
			return nil, ErrNullByteInPassword
		}
		return &Packet{Type: loginType, FromClient: true, Password: string(body)}, nil
	}

	if len(body) != 1 || (body[0] != 0 && body[0] != 1) {
		return nil, ErrInvalidLoginResponse
	}
	return &Packet{Type: loginType, FromClient: false, Success: body[0] == 1}, nil
}

func decodeCommand(body []byte, fromClient bool) (*Packet, error) {
	if len(body) == 0 {
		return nil, ErrInvalidPacketSize
	}
	seq := body[0]
	rest := body[1:]

	if fromClient {
		return &Packet{Type: commandType, FromClient: true, Sequence: seq, Command: string(rest)}, nil
	}

	total, index := byte(1), byte(0)
	response := rest
	if len(rest) >= 3 && rest[0] == multiPacketType {
		total, index = rest[1], rest[2]
		response = rest[3:]
	}
	if index >= total {
		return nil, ErrMalformedCommandResponse
	}
	return &Packet{
		Type: commandType, FromClient: false,
		Sequence: seq, Total: total, Index: index, Response: response,
	}, nil
}

func decodeMessage(body []byte, fromClient bool) (*Packet, error) {
	if len(body) == 0 {
		return nil, ErrInvalidPacketSize
	}
	seq := body[0]

	if fromClient {
		if len(body) != 1 {
			return nil, ErrInvalidPacketSize
		}
		return &Packet{Type: serverMessageType, FromClient: true, Sequence: seq}, nil
	}
	return &Packet{Type: serverMessageType, FromClient: false, Sequence: seq, Message: body[1:]}, nil
}
