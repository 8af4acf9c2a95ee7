// File: protocol/chunked.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Chunked transfer-coding encoder. Decoding lives in the request parser.

package protocol

import (
	"strconv"

	"github.com/momentics/hioload-http/api"
)

// AppendChunk appends one chunk. An empty p appends nothing, since a
// zero-size chunk terminates the body.
func AppendChunk(dst, p []byte) []byte {
	if len(p) == 0 {
		return dst
	}
	dst = strconv.AppendInt(dst, int64(len(p)), 16)
	dst = append(dst, "\r\n"...)
	dst = append(dst, p...)
	return append(dst, "\r\n"...)
}

// AppendLastChunk appends the terminating zero chunk and optional trailer.
func AppendLastChunk(dst []byte, trailer api.Header) []byte {
	dst = append(dst, "0\r\n"...)
	for _, f := range trailer.Fields() {
		dst = appendField(dst, f.Name, f.Value)
	}
	return append(dst, "\r\n"...)
}

// EncodeChunked frames body as chunks of at most chunkSize bytes.
func EncodeChunked(body []byte, chunkSize int) []byte {
	if chunkSize <= 0 {
		chunkSize = len(body)
	}
	out := make([]byte, 0, len(body)+32)
	for len(body) > 0 {
		n := chunkSize
		if n > len(body) {
			n = len(body)
		}
		out = AppendChunk(out, body[:n])
		body = body[n:]
	}
	return AppendLastChunk(out, api.Header{})
}
