// File: server/stream.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Streamed response bodies. The worker that ran the handler keeps pulling
// chunks and posts them to the loop; it never runs more than streamWindow
// chunks ahead of the socket.

package server

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"

	"go.uber.org/zap"

	"github.com/momentics/hioload-http/api"
	"github.com/momentics/hioload-http/protocol"
)

const streamWindow = 4

type bodyStream struct {
	src     api.ChunkSource
	chunked bool
	// One credit per chunk handed to the loop and not yet on the wire.
	credit chan struct{}
	gone   chan struct{}
	once   sync.Once

	// Owned by the loop.
	parts   [][]byte
	ended   bool
	failed  bool
	unacked int
}

func newBodyStream(src api.ChunkSource, chunked bool) *bodyStream {
	return &bodyStream{
		src:     src,
		chunked: chunked,
		credit:  make(chan struct{}, streamWindow),
		gone:    make(chan struct{}),
	}
}

// cancel releases a worker blocked on credit.
func (st *bodyStream) cancel() { st.once.Do(func() { close(st.gone) }) }

// release returns the credits of every part already written.
func (st *bodyStream) release() {
	for ; st.unacked > 0; st.unacked-- {
		<-st.credit
	}
}

// streamable reports whether resp is sent as it is produced.
func streamable(req *api.Request, resp *api.Response) bool {
	if resp.Stream == nil || req.Method == http.MethodHead {
		return false
	}
	status := resp.Status
	if status == 0 {
		status = http.StatusOK
	}
	return protocol.BodyAllowed(status)
}

// startStream pulls the first chunk so an immediate failure still gets a
// clean 500, then serializes the head. Runs on a worker.
func (s *Server) startStream(req *api.Request, resp *api.Response, closeConn, upgradeReq bool) *result {
	first, err := resp.Stream.NextChunk()
	last := errors.Is(err, io.EOF)
	if err != nil && !last {
		return s.serializeFailed(req, fmt.Errorf("response stream: %w", err))
	}
	data, chunked := protocol.AppendStreamHead(s.bufs.Get(len(first)+512), req, resp, closeConn)
	data = protocol.AppendStreamPart(data, first, chunked)
	r := &result{data: data, closeConn: closeConn || !chunked, upgradeReq: upgradeReq}
	if last {
		r.data = protocol.AppendStreamEnd(r.data, chunked)
		return r
	}
	r.stream = newBodyStream(resp.Stream, chunked)
	return r
}

// pump runs on the worker once the head has been posted.
func (st *bodyStream) pump(c *conn) {
	s := c.l.srv
	defer func() {
		if p := recover(); p != nil {
			s.stats.HandlerErrors.Add(1)
			s.log.Error("response stream panicked", zap.Any("panic", p), zap.Stack("stack"))
			c.l.post(func() { c.streamFailed(st) })
		}
	}()
	for {
		select {
		case st.credit <- struct{}{}:
		case <-st.gone:
			return
		case <-c.l.exitCh:
			return
		}
		chunk, err := st.src.NextChunk()
		last := errors.Is(err, io.EOF)
		if err != nil && !last {
			s.stats.HandlerErrors.Add(1)
			s.log.Warn("response stream failed", zap.String("remote", c.remote), zap.Error(err))
			c.l.post(func() { c.streamFailed(st) })
			return
		}
		part := protocol.AppendStreamPart(s.bufs.Get(len(chunk)+16), chunk, st.chunked)
		if last {
			part = protocol.AppendStreamEnd(part, st.chunked)
		}
		if !c.l.post(func() { c.streamPart(st, part, last) }) {
			return
		}
		if last {
			return
		}
	}
}

func (c *conn) streamPart(st *bodyStream, part []byte, last bool) {
	if c.closed {
		st.cancel()
		return
	}
	st.parts = append(st.parts, part)
	st.ended = last
	c.advance()
	c.resume()
}

// streamFailed ends the body early. The head is already out, so the peer
// sees a truncated body followed by close.
func (c *conn) streamFailed(st *bodyStream) {
	if c.closed {
		return
	}
	st.ended = true
	st.failed = true
	c.advance()
	c.resume()
}

// drainStream writes what has arrived of a streamed body and reports
// whether the body is complete.
func (c *conn) drainStream(r *result, st *bodyStream) bool {
	if c.closeAfterWrite {
		st.cancel()
		return true
	}
	c.write(r.data)
	r.data = nil
	for _, p := range st.parts {
		c.write(p)
	}
	st.unacked += len(st.parts)
	st.parts = nil
	if c.out.Length() == 0 {
		// Only empty parts arrived.
		st.release()
	}
	if !st.ended {
		c.streaming = st
		return false
	}
	c.streaming = nil
	if st.failed {
		r.closeConn = true
	}
	return true
}
