package proto

import "encoding/binary"

// PacketType is the on-wire packet type byte.
type PacketType uint8

const (
	// TypeInvalid is never sent on the wire.
	TypeInvalid PacketType = 0
	// TypeLog carries a device log message.
	TypeLog PacketType = 1
	// TypeRPCRequest carries an RPC request.
	TypeRPCRequest PacketType = 2
	// TypeRPCReply carries a successful RPC reply.
	TypeRPCReply PacketType = 3
	// TypeRPCError carries an RPC error.
	TypeRPCError PacketType = 4
	// TypeHeartbeat carries a periodic heartbeat, optionally with a session.
	TypeHeartbeat PacketType = 5
	// TypeTimebase carries timebase metadata.
	TypeTimebase PacketType = 6
	// TypeSource carries data-source metadata.
	TypeSource PacketType = 7
	// TypeStreamBase is the first stream-data packet type; stream N uses
	// TypeStreamBase+N.
	TypeStreamBase PacketType = 128
)

// PayloadKind classifies payload variants for forwarding decisions.
type PayloadKind int

const (
	// KindRPCRequest is an RPC request payload.
	KindRPCRequest PayloadKind = iota
	// KindRPCReply is an RPC reply payload.
	KindRPCReply
	// KindRPCError is an RPC error payload.
	KindRPCError
	// KindStreamData is a stream-data payload.
	KindStreamData
	// KindHeartbeat is a heartbeat payload.
	KindHeartbeat
	// KindOther is any other payload (log, timebase, source, unknown).
	KindOther
)

// String returns the string representation of the payload kind.
func (k PayloadKind) String() string {
	switch k {
	case KindRPCRequest:
		return "rpc-request"
	case KindRPCReply:
		return "rpc-reply"
	case KindRPCError:
		return "rpc-error"
	case KindStreamData:
		return "stream-data"
	case KindHeartbeat:
		return "heartbeat"
	case KindOther:
		return "other"
	default:
		return "unknown"
	}
}

// Payload is one of the packet payload variants.
type Payload interface {
	Kind() PayloadKind
}

// RPCRequest is a request to invoke an RPC on a device. A method is
// addressed either by name (Method != "") or by numeric id.
type RPCRequest struct {
	ID       uint16
	Method   string
	MethodID uint16
	Arg      []byte
}

// Kind implements Payload.
func (*RPCRequest) Kind() PayloadKind { return KindRPCRequest }

// RPCReply is a successful reply to a prior RPCRequest with the same ID.
type RPCReply struct {
	ID    uint16
	Reply []byte
}

// Kind implements Payload.
func (*RPCReply) Kind() PayloadKind { return KindRPCReply }

// RPCError is an error reply to a prior RPCRequest with the same ID.
type RPCError struct {
	ID    uint16
	Code  RPCErrorCode
	Extra []byte
}

// Kind implements Payload.
func (*RPCError) Kind() PayloadKind { return KindRPCError }

// StreamData carries a batch of samples from a device data stream.
type StreamData struct {
	StreamID    uint8
	FirstSample uint32
	Data        []byte
}

// Kind implements Payload.
func (*StreamData) Kind() PayloadKind { return KindStreamData }

// Heartbeat is a periodic liveness packet. Devices that track sessions send
// a 4-byte little-endian session number that changes across restarts.
type Heartbeat struct {
	Raw []byte
}

// Kind implements Payload.
func (*Heartbeat) Kind() PayloadKind { return KindHeartbeat }

// Session returns the session number carried by the heartbeat, if any.
func (h *Heartbeat) Session() (uint32, bool) {
	if len(h.Raw) != 4 {
		return 0, false
	}
	return binary.LittleEndian.Uint32(h.Raw), true
}

// Other is any payload the proxy forwards without interpreting.
type Other struct {
	Type PacketType
	Data []byte
}

// Kind implements Payload.
func (*Other) Kind() PayloadKind { return KindOther }

// Packet is a routed protocol packet.
type Packet struct {
	Payload Payload
	Routing Route
	TTL     uint8
}

// NewRPCRequest builds a named RPC request packet.
func NewRPCRequest(routing Route, id uint16, method string, arg []byte) *Packet {
	return &Packet{
		Payload: &RPCRequest{ID: id, Method: method, Arg: arg},
		Routing: routing,
	}
}

// NewRPCError builds an RPC error packet.
func NewRPCError(routing Route, id uint16, code RPCErrorCode) *Packet {
	return &Packet{
		Payload: &RPCError{ID: id, Code: code},
		Routing: routing,
	}
}

// NewHeartbeat builds a heartbeat packet for the root device.
func NewHeartbeat(raw []byte) *Packet {
	return &Packet{
		Payload: &Heartbeat{Raw: raw},
		Routing: RootRoute(),
	}
}

// NewSessionHeartbeat builds a root heartbeat carrying a session number.
func NewSessionHeartbeat(session uint32) *Packet {
	raw := make([]byte, 4)
	binary.LittleEndian.PutUint32(raw, session)
	return NewHeartbeat(raw)
}
