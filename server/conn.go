// File: server/conn.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Per-connection state machine. Every method runs on the owning loop.

package server

import (
	"time"

	"github.com/eapache/queue"
	"go.uber.org/zap"

	"github.com/momentics/hioload-http/api"
	"github.com/momentics/hioload-http/protocol"
	"github.com/momentics/hioload-http/reactor"
)

const closeAbnormal = api.CloseAbnormal

type conn struct {
	l      *loop
	fd     int
	remote string
	parser *protocol.RequestParser

	// Unconsumed input is buf[off:].
	buf []byte
	off int

	out      *queue.Queue // [][]byte
	outOff   int
	interest reactor.FDEventType

	// Pipelining: responses are flushed strictly in seq order.
	nextSeq   uint64
	nextFlush uint64
	pending   map[uint64]*result
	inFlight  int
	// halted stops parsing until an outstanding upgrade or poll resolves.
	halted bool
	// broken is set once the input stream could not be parsed.
	broken bool
	// lastRequest is set once a request without keep-alive was parsed.
	// Anything pipelined behind it is never read.
	lastRequest bool
	// streaming is the body currently being written, if it is streamed.
	streaming *bodyStream

	closeAfterWrite bool
	closeCode       int
	peerEOF         bool
	closed          bool
	lastActive      time.Time

	mode api.UpgradeMode
	ch   *channel
	ws   wsState
	lp   longPollState
}

func newConn(l *loop, fd int, remote string) *conn {
	return &conn{
		l:          l,
		fd:         fd,
		remote:     remote,
		parser:     protocol.NewRequestParser(l.srv.cfg.parserLimits()),
		out:        queue.New(),
		interest:   reactor.EventRead,
		pending:    make(map[uint64]*result),
		lastActive: l.now,
	}
}

func (c *conn) input() []byte { return c.buf[c.off:] }

func (c *conn) consume(n int) {
	c.off += n
	if c.off >= len(c.buf) {
		c.buf = c.buf[:0]
		c.off = 0
	}
}

func (c *conn) appendInput(p []byte) {
	if c.off > 0 {
		n := copy(c.buf, c.buf[c.off:])
		c.buf = c.buf[:n]
		c.off = 0
	}
	c.buf = append(c.buf, p...)
}

func (c *conn) onEvent(ev reactor.FDEventType) {
	switch {
	case ev.Has(reactor.EventError):
		c.l.log.Debug("connection error", zap.String("remote", c.remote))
		c.close(closeAbnormal)
	case ev.Has(reactor.EventRead):
		c.onReadable()
	default:
		c.resume()
	}
}

func (c *conn) onReadable() {
	n, err := reactor.Read(c.fd, c.l.buf)
	if n > 0 {
		c.appendInput(c.l.buf[:n])
		c.lastActive = c.l.now
	}
	switch {
	case err != nil && reactor.IsWouldBlock(err):
	case err != nil:
		c.l.log.Debug("read failed", zap.String("remote", c.remote), zap.Error(err))
		c.close(closeAbnormal)
		return
	case n == 0:
		c.peerEOF = true
	}
	c.resume()
}

// resume drives the connection forward after any state change.
func (c *conn) resume() {
	if c.closed {
		return
	}
	c.processInput()
	if c.closed {
		return
	}
	if c.peerEOF {
		c.onPeerEOF()
		if c.closed {
			return
		}
	}
	c.flush()
	if c.closed {
		return
	}
	if c.closeAfterWrite && c.out.Length() == 0 {
		c.close(c.closeCode)
		return
	}
	c.updateInterest()
}

func (c *conn) processInput() {
	cfg := c.l.srv.cfg
	for !c.closed && !c.closeAfterWrite && !c.halted && !c.broken && !c.lastRequest {
		in := c.input()
		if len(in) == 0 {
			break
		}
		if c.mode == api.UpgradeWebSocket {
			c.processFrames()
			break
		}
		if c.inFlight >= cfg.MaxPipelined {
			break
		}
		if c.l.draining && c.mode == api.UpgradeNone && c.parser.State() == protocol.StateAwaitingRequestLine {
			break
		}
		req, n, err := c.parser.Parse(in)
		c.consume(n)
		if err != nil {
			c.protocolError(err)
			break
		}
		if req == nil {
			break
		}
		req.RemoteAddr = c.remote
		c.l.srv.stats.Requests.Add(1)
		c.lastRequest = !req.KeepAlive
		if c.mode == api.UpgradeLongPoll {
			c.poll(req)
		} else {
			c.dispatch(req)
		}
	}
	c.maybeContinue()
	c.checkDrain()
}

// maybeContinue answers Expect: 100-continue once nothing is ahead of it.
func (c *conn) maybeContinue() {
	if c.closed || c.closeAfterWrite || c.inFlight > 0 || !c.parser.AwaitingContinue() {
		return
	}
	c.write(protocol.AppendContinue(nil))
	c.parser.ContinueSent()
}

// checkDrain stops keep-alive once the server is draining and the
// connection has nothing outstanding.
func (c *conn) checkDrain() {
	if !c.l.draining || c.closed || c.mode != api.UpgradeNone {
		return
	}
	if c.inFlight == 0 && c.parser.State() == protocol.StateAwaitingRequestLine {
		c.closeAfterWrite = true
	}
}

func (c *conn) onPeerEOF() {
	switch c.mode {
	case api.UpgradeWebSocket:
		code := closeAbnormal
		if c.ws.closeSent {
			code = c.closeCode
		}
		c.close(code)
	case api.UpgradeLongPoll:
		code := api.CloseNormal
		if c.ch.State() != api.ChannelOpen {
			code = c.closeCode
		}
		c.close(code)
	default:
		if c.inFlight == 0 {
			c.closeAfterWrite = true
		}
	}
}

// protocolError answers a malformed request and closes after the write.
func (c *conn) protocolError(err error) {
	status := api.StatusOf(err, 400)
	c.broken = true
	c.l.srv.stats.ProtocolErrors.Add(1)
	c.l.log.Debug("malformed request", zap.String("remote", c.remote), zap.Int("status", status), zap.Error(err))
	seq := c.nextSeq
	c.nextSeq++
	c.inFlight++
	c.complete(seq, &result{data: protocol.AppendError(nil, status, true), closeConn: true})
}

// complete records a finished response and flushes every response that is
// now next in line.
func (c *conn) complete(seq uint64, r *result) {
	if c.closed {
		if r.stream != nil {
			r.stream.cancel()
		}
		return
	}
	c.lastActive = c.l.now
	c.pending[seq] = r
	c.advance()
}

// advance writes completed responses in request order.
func (c *conn) advance() {
	for !c.closed {
		next, ok := c.pending[c.nextFlush]
		if !ok {
			return
		}
		if next.stream != nil && !c.drainStream(next, next.stream) {
			return
		}
		delete(c.pending, c.nextFlush)
		c.nextFlush++
		c.inFlight--
		c.apply(next)
	}
}

func (c *conn) apply(r *result) {
	if c.closeAfterWrite {
		// An earlier response already ended the connection.
		return
	}
	c.write(r.data)
	if r.upgradeReq {
		c.halted = false
	}
	if r.closeConn {
		c.closeAfterWrite = true
		return
	}
	if r.channel != nil {
		c.switchTo(r.kind, r.channel)
	}
}

func (c *conn) switchTo(kind api.ChannelKind, h *api.ChannelHandler) {
	c.halted = false
	c.closeCode = api.CloseNormal
	if kind == api.ChannelWebSocket {
		c.mode = api.UpgradeWebSocket
	} else {
		c.mode = api.UpgradeLongPoll
	}
	c.ch = newChannel(c, kind, h)
	c.ch.open()
	c.l.log.Debug("channel opened", zap.Uint64("channel", c.ch.id), zap.Stringer("kind", kind), zap.String("remote", c.remote))
}

func (c *conn) write(b []byte) {
	if c.closed || len(b) == 0 {
		return
	}
	c.out.Add(b)
}

func (c *conn) flush() {
	for c.out.Length() > 0 {
		head := c.out.Peek().([]byte)
		n, err := reactor.Write(c.fd, head[c.outOff:])
		c.outOff += n
		if c.outOff >= len(head) {
			c.out.Remove()
			c.outOff = 0
			c.l.srv.bufs.Put(head)
			if c.out.Length() == 0 && c.streaming != nil {
				c.streaming.release()
			}
		}
		if err != nil {
			if reactor.IsWouldBlock(err) {
				return
			}
			c.l.log.Debug("write failed", zap.String("remote", c.remote), zap.Error(err))
			c.close(closeAbnormal)
			return
		}
	}
}

func (c *conn) wantRead() bool {
	if c.peerEOF || c.closeAfterWrite || c.broken || c.lastRequest {
		return false
	}
	if len(c.input()) >= c.l.srv.cfg.inputLimit() {
		return false
	}
	if c.mode == api.UpgradeNone {
		return !c.halted && c.inFlight < c.l.srv.cfg.MaxPipelined
	}
	return true
}

func (c *conn) updateInterest() {
	var want reactor.FDEventType
	if c.wantRead() {
		want |= reactor.EventRead
	}
	if c.out.Length() > 0 {
		want |= reactor.EventWrite
	}
	if want == c.interest {
		return
	}
	if err := c.l.poller.Mod(c.fd, want); err != nil {
		c.l.log.Warn("update interest", zap.Error(err))
		c.close(closeAbnormal)
		return
	}
	c.interest = want
}

func (c *conn) onTick(now time.Time) {
	if c.closed {
		return
	}
	switch c.mode {
	case api.UpgradeWebSocket:
		c.wsTick(now)
	case api.UpgradeLongPoll:
		c.pollTick(now)
	default:
		idle := c.l.srv.cfg.IdleTimeout
		if idle > 0 && c.inFlight == 0 && c.out.Length() == 0 && now.Sub(c.lastActive) >= idle {
			c.l.log.Debug("idle connection closed", zap.String("remote", c.remote))
			c.close(0)
		}
	}
}

func (c *conn) startDrain() {
	if c.ch != nil {
		c.ch.drain()
		return
	}
	c.resume()
}

// close releases the descriptor. Results arriving afterwards are dropped.
func (c *conn) close(code int) {
	if c.closed {
		return
	}
	c.closed = true
	_ = c.l.poller.Del(c.fd)
	_ = reactor.CloseFd(c.fd)
	for _, r := range c.pending {
		if r.stream != nil {
			r.stream.cancel()
		}
	}
	c.pending = nil
	c.out = queue.New()
	if c.ch != nil {
		c.ch.finish(code)
	}
	c.l.forget(c)
}
