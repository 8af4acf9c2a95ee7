// Package protocol
// Author: momentics <momentics@gmail.com>
//
// WebSocket frame model, masking and direction rules.

package protocol

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"unicode/utf8"
)

// WSFrame represents a decoded WebSocket frame.
type WSFrame struct {
	IsFinal    bool  // FIN bit
	Rsv        byte  // RSV1-3, must be zero without extensions
	Opcode     byte  // Operation code
	Masked     bool  // Whether the frame was masked
	PayloadLen int64 // Actual payload length
	MaskKey    [4]byte
	Payload    []byte // unmasked copy, owned by the frame
}

// IsControl reports whether the frame carries a control opcode.
func (f *WSFrame) IsControl() bool { return f.Opcode&0x08 != 0 }

// FrameError is a framing violation; Code is the close code to answer with.
type FrameError struct {
	Code int
	Msg  string
}

func (e *FrameError) Error() string {
	return fmt.Sprintf("websocket: %s (close %d)", e.Msg, e.Code)
}

func frameErr(code int, format string, args ...any) *FrameError {
	return &FrameError{Code: code, Msg: fmt.Sprintf(format, args...)}
}

// Role selects the masking direction rule: clients mask every frame they
// send, servers never do.
type Role int

const (
	RoleServer Role = iota
	RoleClient
)

// AppendFrame encodes one frame as the given role would send it.
func (r Role) AppendFrame(dst []byte, fin bool, opcode byte, payload []byte) []byte {
	if r == RoleServer {
		return AppendFrame(dst, fin, opcode, payload, nil)
	}
	var key [4]byte
	if _, err := rand.Read(key[:]); err != nil {
		binary.BigEndian.PutUint32(key[:], 0x9e3779b9)
	}
	return AppendFrame(dst, fin, opcode, payload, &key)
}

// maskBytes applies XOR masking starting at key offset pos.
func maskBytes(buf []byte, key [4]byte, pos int) {
	for i := range buf {
		buf[i] ^= key[(pos+i)&3]
	}
}

// AppendClosePayload builds the body of a close frame.
// Code 1005 and 1006 must never appear on the wire; they yield an empty body.
func AppendClosePayload(dst []byte, code int, reason string) []byte {
	if code == 0 || code == CloseNoStatusRcvd || code == CloseAbnormalClosure {
		return dst
	}
	dst = binary.BigEndian.AppendUint16(dst, uint16(code))
	if len(reason) > MaxControlPayloadLen-2 {
		reason = reason[:MaxControlPayloadLen-2]
	}
	return append(dst, reason...)
}

// ParseClosePayload validates a close frame body. An empty body reports 1005.
func ParseClosePayload(p []byte) (code int, reason string, err error) {
	switch {
	case len(p) == 0:
		return CloseNoStatusRcvd, "", nil
	case len(p) == 1:
		return 0, "", frameErr(CloseProtocolError, "close payload of one byte")
	}
	code = int(binary.BigEndian.Uint16(p))
	if !validCloseCode(code) {
		return 0, "", frameErr(CloseProtocolError, "invalid close code %d", code)
	}
	if !utf8.Valid(p[2:]) {
		return 0, "", frameErr(CloseInvalidPayloadData, "close reason is not valid UTF-8")
	}
	return code, string(p[2:]), nil
}

func validCloseCode(code int) bool {
	switch {
	case code >= 1000 && code <= 1003:
		return true
	case code >= 1007 && code <= 1011:
		return true
	case code >= 3000 && code <= 4999:
		return true
	}
	return false
}
