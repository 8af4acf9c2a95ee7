// File: server/longpoll.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Long-poll side of a channel. After the opening exchange every request on
// the connection is a poll: its body (if any) is an inbound message and its
// response carries at most one outbound message.

package server

import (
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/momentics/hioload-http/api"
	"github.com/momentics/hioload-http/protocol"
)

type longPollState struct {
	parked   bool
	seq      uint64
	req      *api.Request
	deadline time.Time
}

func (c *conn) poll(req *api.Request) {
	seq := c.nextSeq
	c.nextSeq++
	c.inFlight++
	if len(req.Body) > 0 && c.ch.State() == api.ChannelOpen {
		c.ch.deliver(api.Message{Type: pollMessageType(req), Data: req.Body})
	}
	c.lp = longPollState{
		parked:   true,
		seq:      seq,
		req:      req,
		deadline: c.l.now.Add(c.l.srv.cfg.PollTimeout),
	}
	c.halted = true
	if c.ch.State() != api.ChannelOpen {
		c.answerPoll(nil)
		return
	}
	c.flushPoll()
}

func (c *conn) flushPoll() {
	if !c.lp.parked {
		return
	}
	if m, ok := c.ch.popOutbox(); ok {
		c.answerPoll(&m)
	}
}

// answerPoll completes the parked poll with msg, or 204 when msg is nil.
func (c *conn) answerPoll(msg *api.Message) {
	p := c.lp
	c.lp = longPollState{}
	c.halted = false

	closeConn := !p.req.KeepAlive || c.ch.State() != api.ChannelOpen
	resp := &api.Response{Status: http.StatusNoContent}
	if msg != nil {
		ct := "application/octet-stream"
		if msg.Type == api.MessageText {
			ct = "text/plain; charset=utf-8"
		}
		resp = &api.Response{Status: http.StatusOK, Header: api.NewHeader("Content-Type", ct), Body: msg.Data}
		c.l.srv.stats.MessagesOut.Add(1)
	}
	data, err := protocol.AppendResponse(nil, p.req, resp, closeConn)
	if err != nil {
		c.l.log.Warn("poll response", zap.Error(err))
		data, closeConn = protocol.AppendError(nil, http.StatusInternalServerError, true), true
	}
	c.complete(p.seq, &result{data: data, closeConn: closeConn})
}

func (c *conn) pollClose(code int) {
	c.closeCode = code
	if c.lp.parked {
		c.flushPoll()
	}
	if c.lp.parked {
		c.answerPoll(nil)
		return
	}
	if c.inFlight == 0 {
		c.closeAfterWrite = true
	}
}

func (c *conn) pollTick(now time.Time) {
	if c.lp.parked {
		if !now.Before(c.lp.deadline) {
			c.answerPoll(nil)
			c.resume()
		}
		return
	}
	idle := c.l.srv.cfg.IdleTimeout
	if idle > 0 && c.inFlight == 0 && c.out.Length() == 0 && now.Sub(c.lastActive) >= idle {
		c.l.log.Debug("long-poll channel idle", zap.Uint64("channel", c.ch.id))
		c.ch.markClosing()
		c.close(api.CloseGoingAway)
	}
}

func pollMessageType(req *api.Request) api.MessageType {
	ct := strings.ToLower(req.Header.Get("Content-Type"))
	if strings.HasPrefix(ct, "text/") || strings.Contains(ct, "json") {
		return api.MessageText
	}
	return api.MessageBinary
}
