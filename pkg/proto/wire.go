package proto

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"strings"
)

const (
	// HeaderSize is the fixed frame header size: type, routing length and
	// little-endian payload length.
	HeaderSize = 4
	// MaxPayloadSize is the largest payload accepted on the wire.
	MaxPayloadSize = 4096

	methodNamedFlag = 0x8000
)

// Marshal encodes a packet into a wire frame.
func Marshal(pkt *Packet) ([]byte, error) {
	if len(pkt.Routing) > MaxRouteLen {
		return nil, ErrRouteTooLong
	}
	ptype, payload, err := marshalPayload(pkt.Payload)
	if err != nil {
		return nil, err
	}
	if len(payload) > MaxPayloadSize {
		return nil, fmt.Errorf("payload too large: %d bytes", len(payload))
	}
	frame := make([]byte, 0, HeaderSize+len(payload)+len(pkt.Routing))
	frame = append(frame, byte(ptype), byte(len(pkt.Routing)))
	frame = binary.LittleEndian.AppendUint16(frame, uint16(len(payload)))
	frame = append(frame, payload...)
	frame = append(frame, pkt.Routing...)
	return frame, nil
}

func marshalPayload(p Payload) (PacketType, []byte, error) {
	switch v := p.(type) {
	case *RPCRequest:
		buf := make([]byte, 0, 4+len(v.Method)+len(v.Arg))
		buf = binary.LittleEndian.AppendUint16(buf, v.ID)
		if v.Method != "" {
			if len(v.Method) >= methodNamedFlag {
				return 0, nil, NewError("rpc method name too long")
			}
			buf = binary.LittleEndian.AppendUint16(buf, methodNamedFlag|uint16(len(v.Method)))
			buf = append(buf, v.Method...)
		} else {
			if v.MethodID >= methodNamedFlag {
				return 0, nil, NewError("rpc method id out of range")
			}
			buf = binary.LittleEndian.AppendUint16(buf, v.MethodID)
		}
		buf = append(buf, v.Arg...)
		return TypeRPCRequest, buf, nil
	case *RPCReply:
		buf := make([]byte, 0, 2+len(v.Reply))
		buf = binary.LittleEndian.AppendUint16(buf, v.ID)
		buf = append(buf, v.Reply...)
		return TypeRPCReply, buf, nil
	case *RPCError:
		buf := make([]byte, 0, 4+len(v.Extra))
		buf = binary.LittleEndian.AppendUint16(buf, v.ID)
		buf = binary.LittleEndian.AppendUint16(buf, uint16(v.Code))
		buf = append(buf, v.Extra...)
		return TypeRPCError, buf, nil
	case *StreamData:
		buf := make([]byte, 0, 4+len(v.Data))
		buf = binary.LittleEndian.AppendUint32(buf, v.FirstSample)
		buf = append(buf, v.Data...)
		return TypeStreamBase + PacketType(v.StreamID), buf, nil
	case *Heartbeat:
		return TypeHeartbeat, v.Raw, nil
	case *Other:
		return v.Type, v.Data, nil
	default:
		return 0, nil, NewError("unknown payload variant")
	}
}

// Unmarshal decodes a single wire frame into a packet.
func Unmarshal(frame []byte) (*Packet, error) {
	if len(frame) < HeaderSize {
		return nil, NewError("frame shorter than header")
	}
	ptype := PacketType(frame[0])
	routingLen := int(frame[1])
	payloadLen := int(binary.LittleEndian.Uint16(frame[2:4]))
	if routingLen > MaxRouteLen {
		return nil, NewError("routing too long")
	}
	if len(frame) != HeaderSize+payloadLen+routingLen {
		return nil, NewError("frame size mismatch")
	}
	payload := frame[HeaderSize : HeaderSize+payloadLen]
	routing := Route(frame[HeaderSize+payloadLen:]).Clone()
	p, err := unmarshalPayload(ptype, payload)
	if err != nil {
		return nil, err
	}
	return &Packet{Payload: p, Routing: routing}, nil
}

func unmarshalPayload(ptype PacketType, payload []byte) (Payload, error) {
	switch {
	case ptype == TypeRPCRequest:
		if len(payload) < 4 {
			return nil, NewError("rpc request too short")
		}
		req := &RPCRequest{ID: binary.LittleEndian.Uint16(payload[0:2])}
		method := binary.LittleEndian.Uint16(payload[2:4])
		rest := payload[4:]
		if method&methodNamedFlag != 0 {
			nameLen := int(method &^ methodNamedFlag)
			if len(rest) < nameLen {
				return nil, NewError("rpc method name truncated")
			}
			req.Method = string(rest[:nameLen])
			rest = rest[nameLen:]
		} else {
			req.MethodID = method
		}
		req.Arg = append([]byte(nil), rest...)
		return req, nil
	case ptype == TypeRPCReply:
		if len(payload) < 2 {
			return nil, NewError("rpc reply too short")
		}
		return &RPCReply{
			ID:    binary.LittleEndian.Uint16(payload[0:2]),
			Reply: append([]byte(nil), payload[2:]...),
		}, nil
	case ptype == TypeRPCError:
		if len(payload) < 4 {
			return nil, NewError("rpc error too short")
		}
		return &RPCError{
			ID:    binary.LittleEndian.Uint16(payload[0:2]),
			Code:  RPCErrorCode(binary.LittleEndian.Uint16(payload[2:4])),
			Extra: append([]byte(nil), payload[4:]...),
		}, nil
	case ptype == TypeHeartbeat:
		return &Heartbeat{Raw: append([]byte(nil), payload...)}, nil
	case ptype >= TypeStreamBase:
		if len(payload) < 4 {
			return nil, NewError("stream data too short")
		}
		return &StreamData{
			StreamID:    uint8(ptype - TypeStreamBase),
			FirstSample: binary.LittleEndian.Uint32(payload[0:4]),
			Data:        append([]byte(nil), payload[4:]...),
		}, nil
	case ptype == TypeLog || ptype == TypeTimebase || ptype == TypeSource:
		return &Other{Type: ptype, Data: append([]byte(nil), payload...)}, nil
	default:
		return nil, NewError(fmt.Sprintf("unknown packet type %d", ptype))
	}
}

// WritePacket encodes pkt and writes the frame to w.
func WritePacket(w io.Writer, pkt *Packet) error {
	frame, err := Marshal(pkt)
	if err != nil {
		return err
	}
	_, err = w.Write(frame)
	return err
}

// ReadPacket reads one frame from r and decodes it. A printable text line
// in place of a frame returns a text *Error; other malformed input returns
// a non-text *Error. I/O failures are returned as-is.
func ReadPacket(r *bufio.Reader) (*Packet, error) {
	first, err := r.Peek(1)
	if err != nil {
		return nil, err
	}
	if isTextByte(first[0]) {
		line, err := r.ReadString('\n')
		if err != nil && line == "" {
			return nil, err
		}
		return nil, NewTextError(strings.TrimRight(line, "\r\n"))
	}
	header := make([]byte, HeaderSize)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, err
	}
	payloadLen := int(binary.LittleEndian.Uint16(header[2:4]))
	routingLen := int(header[1])
	if payloadLen > MaxPayloadSize {
		return nil, NewError("payload too large")
	}
	if routingLen > MaxRouteLen {
		return nil, NewError("routing too long")
	}
	rest := make([]byte, payloadLen+routingLen)
	if _, err := io.ReadFull(r, rest); err != nil {
		return nil, err
	}
	return Unmarshal(append(header, rest...))
}

// Text lines start with printable ASCII; packet type bytes in that range are
// not assigned below TypeStreamBase.
func isTextByte(b byte) bool {
	return b >= 0x20 && b < 0x7f
}
