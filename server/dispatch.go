// File: server/dispatch.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Hand-off between reactor loops and handler workers.

package server

import (
	"fmt"
	"net/http"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/momentics/hioload-http/api"
	"github.com/momentics/hioload-http/protocol"
)

// result is a serialized response plus what it does to the connection.
type result struct {
	data       []byte
	closeConn  bool
	upgradeReq bool
	channel    *api.ChannelHandler
	kind       api.ChannelKind
	// stream, if set, delivers the rest of the body after data.
	stream *bodyStream
}

// workItem is one request queued to the executor. Its completion is
// delivered exactly once, either by the worker or by the rejecting loop.
type workItem struct {
	srv  *Server
	conn *conn
	seq  uint64
	req  *api.Request
	done atomic.Bool
}

func (c *conn) dispatch(req *api.Request) {
	s := c.l.srv
	seq := c.nextSeq
	c.nextSeq++
	c.inFlight++
	if req.UpgradeRequested() {
		c.halted = true
	}
	w := &workItem{srv: s, conn: c, seq: seq, req: req}
	if err := s.exec.Submit(w.run); err != nil {
		s.stats.Rejected.Add(1)
		c.l.log.Debug("request rejected", zap.String("uri", req.URI), zap.Error(err))
		if w.done.CompareAndSwap(false, true) {
			c.complete(seq, s.rejected(req))
		}
	}
}

// run executes on a worker goroutine.
func (w *workItem) run() {
	r := w.srv.execute(w.req)
	if !w.done.CompareAndSwap(false, true) {
		return
	}
	c := w.conn
	posted := c.l.post(func() {
		c.complete(w.seq, r)
		c.resume()
	})
	if posted && r.stream != nil {
		r.stream.pump(c)
	}
}

func (s *Server) rejected(req *api.Request) *result {
	closeConn := !req.KeepAlive || s.draining.Load()
	return &result{
		data:       protocol.AppendError(nil, http.StatusServiceUnavailable, closeConn),
		closeConn:  closeConn,
		upgradeReq: req.UpgradeRequested(),
	}
}

// execute calls the handler and serializes its answer. It runs on a worker,
// so Stream and File bodies are pulled here rather than on the loop.
func (s *Server) execute(req *api.Request) *result {
	upgradeReq := req.UpgradeRequested()
	resp, err := s.callHandler(req)
	closeConn := !req.KeepAlive || s.draining.Load()
	if err == nil && resp == nil {
		err = api.ErrHandlerNoResult
	}
	if err != nil {
		s.stats.HandlerErrors.Add(1)
		status := api.StatusOf(err, http.StatusInternalServerError)
		s.log.Debug("handler failed", zap.String("uri", req.URI), zap.Int("status", status), zap.Error(err))
		return s.errorResult(req, status, closeConn, api.Header{})
	}

	if resp.Channel != nil {
		switch {
		case upgradeReq:
			if s.draining.Load() {
				return s.errorResult(req, http.StatusServiceUnavailable, true, api.Header{})
			}
			accept, err := protocol.CheckUpgrade(req)
			if err != nil {
				status := api.StatusOf(err, http.StatusBadRequest)
				var extra api.Header
				if status == http.StatusUpgradeRequired {
					extra = api.NewHeader("Sec-WebSocket-Version", protocol.RequiredWebSocketVersion)
				}
				return s.errorResult(req, status, closeConn, extra)
			}
			return &result{
				data:       protocol.AppendSwitchingProtocols(s.bufs.Get(256), accept, resp.Header),
				upgradeReq: true,
				channel:    resp.Channel,
				kind:       api.ChannelWebSocket,
			}
		case closeConn || protocol.ResponseWantsClose(resp):
			s.log.Debug("long-poll channel needs a persistent connection", zap.String("uri", req.URI))
		default:
			data, err := protocol.AppendResponse(s.bufs.Get(len(resp.Body)+512), req, resp, false)
			if err != nil {
				return s.serializeFailed(req, err)
			}
			return &result{data: data, channel: resp.Channel, kind: api.ChannelLongPoll}
		}
	}

	closeConn = closeConn || protocol.ResponseWantsClose(resp)
	if streamable(req, resp) {
		return s.startStream(req, resp, closeConn, upgradeReq)
	}
	data, err := protocol.AppendResponse(s.bufs.Get(len(resp.Body)+512), req, resp, closeConn)
	if err != nil {
		return s.serializeFailed(req, err)
	}
	return &result{data: data, closeConn: closeConn, upgradeReq: upgradeReq}
}

func (s *Server) callHandler(req *api.Request) (resp *api.Response, err error) {
	defer func() {
		if r := recover(); r != nil {
			s.log.Error("handler panicked", zap.String("uri", req.URI), zap.Any("panic", r), zap.Stack("stack"))
			resp, err = nil, fmt.Errorf("handler panic: %v", r)
		}
	}()
	return s.handler.Handle(req)
}

func (s *Server) errorResult(req *api.Request, status int, closeConn bool, extra api.Header) *result {
	h := extra.Clone()
	h.Set("Content-Type", "text/plain; charset=utf-8")
	resp := &api.Response{Status: status, Header: h, Body: []byte(protocol.StatusText(status))}
	data, err := protocol.AppendResponse(s.bufs.Get(len(resp.Body)+512), req, resp, closeConn)
	if err != nil {
		data = protocol.AppendError(nil, status, true)
		closeConn = true
	}
	return &result{data: data, closeConn: closeConn, upgradeReq: req.UpgradeRequested()}
}

// serializeFailed covers stream and file bodies that fail mid-way. Nothing
// has been written yet, so a clean 500 is still possible.
func (s *Server) serializeFailed(req *api.Request, err error) *result {
	s.stats.HandlerErrors.Add(1)
	s.log.Warn("response body failed", zap.String("uri", req.URI), zap.Error(err))
	return s.errorResult(req, http.StatusInternalServerError, true, api.Header{})
}
