// File: protocol/frame_codec.go
// Package protocol implements incremental frame codec with frame size enforcement.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Implements WebSocket frame encoding/decoding with payload size limits
// to prevent resource exhaustion in high-load scenarios.

package protocol

import (
	"encoding/binary"
)

// FrameDecoder parses frames received by Role. A server decoder rejects
// unmasked frames, a client decoder rejects masked ones.
type FrameDecoder struct {
	Role       Role
	MaxPayload int64
}

// Decode parses one frame from the head of raw.
// Returns frame, consumed bytes, and error.
// If the frame is incomplete, returns (nil, 0, nil).
func (d FrameDecoder) Decode(raw []byte) (*WSFrame, int, error) {
	if len(raw) < 2 {
		return nil, 0, nil
	}
	fin := raw[0]&FinBit != 0
	rsv := raw[0] & RsvBits
	opcode := raw[0] & 0x0F
	masked := raw[1]&MaskBit != 0
	length := int64(raw[1] & 0x7F)
	offset := 2

	if rsv != 0 {
		return nil, 0, frameErr(CloseProtocolError, "reserved bits set without extension")
	}
	switch opcode {
	case OpcodeContinuation, OpcodeText, OpcodeBinary, OpcodeClose, OpcodePing, OpcodePong:
	default:
		return nil, 0, frameErr(CloseProtocolError, "unknown opcode %#x", opcode)
	}
	if opcode&0x08 != 0 {
		if !fin {
			return nil, 0, frameErr(CloseProtocolError, "fragmented control frame")
		}
		if length > MaxControlPayloadLen {
			return nil, 0, frameErr(CloseProtocolError, "control frame payload too long")
		}
	}
	if d.Role == RoleServer && !masked {
		return nil, 0, frameErr(CloseProtocolError, "client frame is not masked")
	}
	if d.Role == RoleClient && masked {
		return nil, 0, frameErr(CloseProtocolError, "server frame is masked")
	}

	switch length {
	case 126:
		if len(raw) < offset+2 {
			return nil, 0, nil
		}
		length = int64(binary.BigEndian.Uint16(raw[offset:]))
		offset += 2
	case 127:
		if len(raw) < offset+8 {
			return nil, 0, nil
		}
		u := binary.BigEndian.Uint64(raw[offset:])
		if u>>63 != 0 {
			return nil, 0, frameErr(CloseProtocolError, "payload length has the high bit set")
		}
		length = int64(u)
		offset += 8
	}

	limit := d.MaxPayload
	if limit <= 0 {
		limit = MaxFramePayload
	}
	if length > limit {
		return nil, 0, frameErr(CloseMessageTooBig, "frame payload of %d bytes exceeds %d", length, limit)
	}

	var maskKey [4]byte
	if masked {
		if len(raw) < offset+4 {
			return nil, 0, nil
		}
		copy(maskKey[:], raw[offset:offset+4])
		offset += 4
	}

	totalLen := offset + int(length)
	if len(raw) < totalLen {
		return nil, 0, nil
	}

	payload := make([]byte, length)
	copy(payload, raw[offset:totalLen])
	if masked {
		maskBytes(payload, maskKey, 0)
	}

	return &WSFrame{
		IsFinal:    fin,
		Rsv:        rsv,
		Opcode:     opcode,
		Masked:     masked,
		PayloadLen: length,
		MaskKey:    maskKey,
		Payload:    payload,
	}, totalLen, nil
}

// AppendFrame serializes a frame into dst. A nil maskKey produces an
// unmasked frame. payload is not modified.
func AppendFrame(dst []byte, fin bool, opcode byte, payload []byte, maskKey *[4]byte) []byte {
	var b0 byte
	if fin {
		b0 = FinBit
	}
	b0 |= opcode & 0x0F

	var maskBit byte
	if maskKey != nil {
		maskBit = MaskBit
	}

	plen := len(payload)
	switch {
	case plen <= 125:
		dst = append(dst, b0, byte(plen)|maskBit)
	case plen <= 0xFFFF:
		dst = append(dst, b0, 126|maskBit)
		dst = binary.BigEndian.AppendUint16(dst, uint16(plen))
	default:
		dst = append(dst, b0, 127|maskBit)
		dst = binary.BigEndian.AppendUint64(dst, uint64(plen))
	}

	if maskKey == nil {
		return append(dst, payload...)
	}
	dst = append(dst, maskKey[:]...)
	start := len(dst)
	dst = append(dst, payload...)
	maskBytes(dst[start:], *maskKey, 0)
	return dst
}

// EncodeFrameToBytes serializes f honouring its Masked flag and MaskKey.
func EncodeFrameToBytes(f *WSFrame) []byte {
	if f.Masked {
		key := f.MaskKey
		return AppendFrame(nil, f.IsFinal, f.Opcode, f.Payload, &key)
	}
	return AppendFrame(nil, f.IsFinal, f.Opcode, f.Payload, nil)
}
