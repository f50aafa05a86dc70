package proto

import (
	"encoding/binary"
	"math"
)

// Fixed-size RPC argument and reply values are little-endian on the wire.
// These helpers cover the scalar types devices expose.

// EncodeUint8 encodes v as a 1-byte RPC value.
func EncodeUint8(v uint8) []byte {
	return []byte{v}
}

// EncodeUint16 encodes v as a 2-byte little-endian RPC value.
func EncodeUint16(v uint16) []byte {
	return binary.LittleEndian.AppendUint16(nil, v)
}

// EncodeUint32 encodes v as a 4-byte little-endian RPC value.
func EncodeUint32(v uint32) []byte {
	return binary.LittleEndian.AppendUint32(nil, v)
}

// EncodeUint64 encodes v as an 8-byte little-endian RPC value.
func EncodeUint64(v uint64) []byte {
	return binary.LittleEndian.AppendUint64(nil, v)
}

// EncodeFloat32 encodes v as a 4-byte little-endian RPC value.
func EncodeFloat32(v float32) []byte {
	return EncodeUint32(math.Float32bits(v))
}

// EncodeFloat64 encodes v as an 8-byte little-endian RPC value.
func EncodeFloat64(v float64) []byte {
	return EncodeUint64(math.Float64bits(v))
}

// DecodeUint8 decodes a 1-byte RPC value.
func DecodeUint8(b []byte) (uint8, error) {
	if len(b) < 1 {
		return 0, NewError("rpc value too short for uint8")
	}
	return b[0], nil
}

// DecodeUint16 decodes a 2-byte little-endian RPC value.
func DecodeUint16(b []byte) (uint16, error) {
	if len(b) < 2 {
		return 0, NewError("rpc value too short for uint16")
	}
	return binary.LittleEndian.Uint16(b), nil
}

// DecodeUint32 decodes a 4-byte little-endian RPC value.
func DecodeUint32(b []byte) (uint32, error) {
	if len(b) < 4 {
		return 0, NewError("rpc value too short for uint32")
	}
	return binary.LittleEndian.Uint32(b), nil
}

// DecodeUint64 decodes an 8-byte little-endian RPC value.
func DecodeUint64(b []byte) (uint64, error) {
	if len(b) < 8 {
		return 0, NewError("rpc value too short for uint64")
	}
	return binary.LittleEndian.Uint64(b), nil
}

// DecodeFloat32 decodes a 4-byte little-endian RPC value.
func DecodeFloat32(b []byte) (float32, error) {
	bits, err := DecodeUint32(b)
	if err != nil {
		return 0, err
	}
	return math.Float32frombits(bits), nil
}

// DecodeFloat64 decodes an 8-byte little-endian RPC value.
func DecodeFloat64(b []byte) (float64, error) {
	bits, err := DecodeUint64(b)
	if err != nil {
		return 0, err
	}
	return math.Float64frombits(bits), nil
}
