// File: server/channel.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// channel implements api.Channel for both WebSocket and long-poll
// connections. Application goroutines only touch the outbox and state;
// everything else is done by the owning loop.

package server

import (
	"sync"
	"sync/atomic"

	"github.com/eapache/queue"

	"github.com/momentics/hioload-http/api"
	"github.com/momentics/hioload-http/internal/concurrency"
)

type channel struct {
	id     uint64
	kind   api.ChannelKind
	remote string
	h      *api.ChannelHandler
	srv    *Server
	l      *loop
	c      *conn // loop-owned
	serial *concurrency.Serial

	state    atomic.Int32
	finished atomic.Bool

	mu     sync.Mutex // guards outbox and Open->Closing
	outbox *queue.Queue
	kicked atomic.Bool
}

var _ api.Channel = (*channel)(nil)

func newChannel(c *conn, kind api.ChannelKind, h *api.ChannelHandler) *channel {
	s := c.l.srv
	return &channel{
		id:     s.chanIDs.Add(1),
		kind:   kind,
		remote: c.remote,
		h:      h,
		srv:    s,
		l:      c.l,
		c:      c,
		serial: concurrency.NewSerial(s.log),
		outbox: queue.New(),
	}
}

func (ch *channel) ID() uint64              { return ch.id }
func (ch *channel) Kind() api.ChannelKind   { return ch.kind }
func (ch *channel) RemoteAddr() string      { return ch.remote }
func (ch *channel) State() api.ChannelState { return api.ChannelState(ch.state.Load()) }

// Send queues msg for the loop. It fails once the channel left Open or the
// outbox is full.
func (ch *channel) Send(msg api.Message) bool {
	ch.mu.Lock()
	if ch.State() != api.ChannelOpen || ch.outbox.Length() >= ch.srv.cfg.OutboxLimit {
		ch.mu.Unlock()
		return false
	}
	ch.outbox.Add(msg)
	ch.mu.Unlock()
	ch.kick()
	return true
}

// Close starts an application close. Later calls are no-ops.
func (ch *channel) Close(code int) {
	if code == 0 {
		code = api.CloseNormal
	}
	if !ch.markClosing() {
		return
	}
	ok := ch.l.post(func() {
		ch.c.appClose(code)
		ch.c.resume()
	})
	if !ok {
		ch.finish(code)
	}
}

func (ch *channel) markClosing() bool {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	return ch.state.CompareAndSwap(int32(api.ChannelOpen), int32(api.ChannelClosing))
}

func (ch *channel) kick() {
	if !ch.kicked.CompareAndSwap(false, true) {
		return
	}
	ch.l.post(func() {
		ch.kicked.Store(false)
		ch.c.flushOutbox()
		ch.c.resume()
	})
}

func (ch *channel) popOutbox() (api.Message, bool) {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.outbox.Length() == 0 {
		return api.Message{}, false
	}
	return ch.outbox.Remove().(api.Message), true
}

func (ch *channel) drainOutbox() []api.Message {
	ch.mu.Lock()
	defer ch.mu.Unlock()
	n := ch.outbox.Length()
	if n == 0 {
		return nil
	}
	msgs := make([]api.Message, n)
	for i := range msgs {
		msgs[i] = ch.outbox.Remove().(api.Message)
	}
	return msgs
}

func (ch *channel) open() {
	ch.srv.stats.ChannelsOpened.Add(1)
	ch.srv.stats.ChannelsOpen.Add(1)
	if ch.h.OnOpen != nil {
		ch.serial.Post(func() { ch.h.OnOpen(ch) })
	}
}

func (ch *channel) deliver(msg api.Message) {
	ch.srv.stats.MessagesIn.Add(1)
	if ch.h.OnReceive != nil {
		ch.serial.Post(func() { ch.h.OnReceive(ch, msg) })
	}
}

// drain asks the application to wind the channel down. Without an OnDrain
// callback the channel is closed as going away.
func (ch *channel) drain() {
	if ch.h.OnDrain == nil {
		ch.Close(api.CloseGoingAway)
		return
	}
	ch.serial.Post(func() { ch.h.OnDrain(ch) })
}

// finish moves the channel to Closed and fires OnClose exactly once.
func (ch *channel) finish(code int) {
	if !ch.finished.CompareAndSwap(false, true) {
		return
	}
	ch.mu.Lock()
	ch.state.Store(int32(api.ChannelClosed))
	ch.mu.Unlock()
	ch.srv.stats.ChannelsOpen.Add(-1)
	if ch.h.OnClose != nil {
		ch.serial.Post(func() { ch.h.OnClose(ch, code) })
	}
}
