// File: api/handler.go
// Package api defines the handler contract.
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package api

import (
	"bytes"
	"io"
)

// Request is the immutable snapshot handed to a Handler once parsing completes.
type Request struct {
	Method     string
	URI        string
	Proto      string // "HTTP/1.0" or "HTTP/1.1"
	ProtoMinor int
	Header     Header
	Trailer    Header
	Body       []byte
	RemoteAddr string
	KeepAlive  bool

	// Upgrade is the lower-cased protocol named by a valid upgrade request
	// ("websocket"), empty otherwise.
	Upgrade          string
	WebSocketKey     string
	WebSocketVersion string
}

// UpgradeRequested reports whether the peer asked to switch to WebSocket.
func (r *Request) UpgradeRequested() bool { return r.Upgrade == "websocket" }

// BodyReader returns a reader over the buffered body.
func (r *Request) BodyReader() io.Reader { return bytes.NewReader(r.Body) }

// ChunkSource is a lazy sequence of body chunks. NextChunk returns io.EOF
// after the last chunk. The server calls it from a worker and only runs a
// few chunks ahead of what the peer has consumed.
type ChunkSource interface {
	NextChunk() ([]byte, error)
}

// Response is produced by a Handler.
//
// Exactly one of Body, Stream and File is consulted, in that order of
// precedence: Stream if non-nil, then File if non-empty, then Body.
// A non-nil Channel turns the exchange into a WebSocket upgrade (when the
// request asked for one) or a long-polling channel otherwise.
type Response struct {
	Status  int
	Header  Header
	Body    []byte
	Stream  ChunkSource
	File    string
	Close   bool
	Channel *ChannelHandler
}

// Handler processes requests. It may block.
type Handler interface {
	Handle(req *Request) (*Response, error)
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(req *Request) (*Response, error)

// Handle calls f(req).
func (f HandlerFunc) Handle(req *Request) (*Response, error) { return f(req) }

// Text is a convenience constructor for a plain text response.
func Text(status int, body string) *Response {
	return &Response{
		Status: status,
		Header: NewHeader("Content-Type", "text/plain; charset=utf-8"),
		Body:   []byte(body),
	}
}

// SliceChunks is a ChunkSource over pre-built chunks.
type SliceChunks struct {
	chunks [][]byte
}

// NewSliceChunks returns a ChunkSource yielding chunks in order.
func NewSliceChunks(chunks ...[]byte) *SliceChunks {
	return &SliceChunks{chunks: chunks}
}

// NextChunk implements ChunkSource.
func (s *SliceChunks) NextChunk() ([]byte, error) {
	if len(s.chunks) == 0 {
		return nil, io.EOF
	}
	c := s.chunks[0]
	s.chunks = s.chunks[1:]
	return c, nil
}
