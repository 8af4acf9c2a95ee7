// File: protocol/handshake.go
// Package protocol implements HTTP→WebSocket handshake logic with strict validation.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package protocol

import (
	"crypto/sha1"
	"encoding/base64"
	"net/http"

	"github.com/momentics/hioload-http/api"
)

// RequiredWebSocketVersion is the only protocol version accepted.
const RequiredWebSocketVersion = "13"

// AcceptKey computes Sec-WebSocket-Accept for a client key.
func AcceptKey(key string) string {
	h := sha1.New()
	h.Write([]byte(key + WebSocketGUID))
	return base64.StdEncoding.EncodeToString(h.Sum(nil))
}

// CheckUpgrade validates a WebSocket opening handshake and returns the
// accept value. Failures carry the HTTP status to answer with; a bad
// version yields 426 so the caller can advertise the supported one.
func CheckUpgrade(req *api.Request) (string, error) {
	if req.Method != http.MethodGet {
		return "", handshakeErr(http.StatusMethodNotAllowed, "websocket upgrade must use GET")
	}
	if req.ProtoMinor < 1 {
		return "", handshakeErr(http.StatusBadRequest, "websocket upgrade requires HTTP/1.1")
	}
	if !req.Header.HasToken("Connection", "upgrade") || !req.Header.HasToken("Upgrade", "websocket") {
		return "", handshakeErr(http.StatusBadRequest, "invalid upgrade headers")
	}
	if req.Header.Get("Sec-WebSocket-Version") != RequiredWebSocketVersion {
		return "", handshakeErr(http.StatusUpgradeRequired, "unsupported WebSocket version; only '13' is supported")
	}
	key := req.Header.Get("Sec-WebSocket-Key")
	if key == "" {
		return "", handshakeErr(http.StatusBadRequest, "missing Sec-WebSocket-Key header")
	}
	if raw, err := base64.StdEncoding.DecodeString(key); err != nil || len(raw) != 16 {
		return "", handshakeErr(http.StatusBadRequest, "malformed Sec-WebSocket-Key header")
	}
	return AcceptKey(key), nil
}

func handshakeErr(status int, msg string) error {
	return api.NewError(api.ErrCodeProtocol, status, msg)
}

// AppendSwitchingProtocols writes the 101 response completing the handshake.
// Extra headers from the application follow the mandatory ones.
func AppendSwitchingProtocols(dst []byte, accept string, extra api.Header) []byte {
	dst = append(dst, "HTTP/1.1 101 Switching Protocols\r\n"...)
	dst = append(dst, "Upgrade: websocket\r\nConnection: Upgrade\r\nSec-WebSocket-Accept: "...)
	dst = append(dst, accept...)
	dst = append(dst, "\r\n"...)
	for _, f := range extra.Fields() {
		if isManagedHeader(f.Name) || equalFold(f.Name, "Upgrade") || equalFold(f.Name, "Sec-WebSocket-Accept") {
			continue
		}
		dst = appendField(dst, f.Name, f.Value)
	}
	return append(dst, "\r\n"...)
}
