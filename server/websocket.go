// File: server/websocket.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// WebSocket side of an upgraded connection: frame intake, fragment
// reassembly, control frames and the close handshake.

package server

import (
	"errors"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/momentics/hioload-http/api"
	"github.com/momentics/hioload-http/protocol"
)

type wsState struct {
	closeSent     bool
	closeDeadline time.Time

	// Fragmented message being reassembled.
	msgActive bool
	msgType   api.MessageType
	msg       []byte
}

func (c *conn) processFrames() {
	cfg := c.l.srv.cfg
	dec := protocol.FrameDecoder{Role: protocol.RoleServer, MaxPayload: cfg.MaxFrameBytes}
	for !c.closed && !c.closeAfterWrite {
		in := c.input()
		if len(in) == 0 {
			return
		}
		f, n, err := dec.Decode(in)
		if err != nil {
			code := api.CloseProtocolError
			var fe *protocol.FrameError
			if errors.As(err, &fe) {
				code = fe.Code
			}
			c.l.log.Debug("websocket frame rejected", zap.String("remote", c.remote), zap.Error(err))
			c.wsFail(code)
			return
		}
		if f == nil {
			return
		}
		c.consume(n)
		c.handleFrame(f)
	}
}

func (c *conn) handleFrame(f *protocol.WSFrame) {
	switch f.Opcode {
	case protocol.OpcodePing:
		if !c.ws.closeSent {
			c.write(protocol.RoleServer.AppendFrame(nil, true, protocol.OpcodePong, f.Payload))
		}
	case protocol.OpcodePong:
	case protocol.OpcodeClose:
		code, _, err := protocol.ParseClosePayload(f.Payload)
		if err != nil {
			var fe *protocol.FrameError
			if errors.As(err, &fe) {
				c.wsFail(fe.Code)
				return
			}
			c.wsFail(api.CloseProtocolError)
			return
		}
		if c.ws.closeSent {
			// Echo of our own close.
			c.closeAfterWrite = true
			return
		}
		c.ch.markClosing()
		c.sendClose(code)
		c.closeAfterWrite = true
	case protocol.OpcodeText, protocol.OpcodeBinary:
		if c.ws.msgActive {
			c.wsFail(api.CloseProtocolError)
			return
		}
		c.ws.msgActive = true
		c.ws.msgType = api.MessageBinary
		if f.Opcode == protocol.OpcodeText {
			c.ws.msgType = api.MessageText
		}
		c.ws.msg = f.Payload
		c.endFragment(f.IsFinal)
	case protocol.OpcodeContinuation:
		if !c.ws.msgActive {
			c.wsFail(api.CloseProtocolError)
			return
		}
		c.ws.msg = append(c.ws.msg, f.Payload...)
		c.endFragment(f.IsFinal)
	}
}

func (c *conn) endFragment(fin bool) {
	if int64(len(c.ws.msg)) > c.l.srv.cfg.MaxMessageBytes {
		c.wsFail(api.CloseTooBig)
		return
	}
	if !fin {
		return
	}
	msg := api.Message{Type: c.ws.msgType, Data: c.ws.msg}
	c.ws.msgActive = false
	c.ws.msg = nil
	if msg.Type == api.MessageText && !utf8.Valid(msg.Data) {
		c.wsFail(api.CloseInvalidPayload)
		return
	}
	if c.ws.closeSent {
		return
	}
	c.ch.deliver(msg)
}

// sendClose queues a close frame and arms the handshake timeout.
func (c *conn) sendClose(code int) {
	if c.ws.closeSent {
		return
	}
	payload := protocol.AppendClosePayload(nil, code, "")
	c.write(protocol.RoleServer.AppendFrame(nil, true, protocol.OpcodeClose, payload))
	c.ws.closeSent = true
	c.ws.closeDeadline = c.l.now.Add(c.l.srv.cfg.CloseTimeout)
	c.closeCode = code
}

// wsFail closes the connection for a protocol violation.
func (c *conn) wsFail(code int) {
	c.l.srv.stats.ProtocolErrors.Add(1)
	c.ch.markClosing()
	c.sendClose(code)
	c.closeCode = code
	c.closeAfterWrite = true
	c.ch.finish(code)
}

func (c *conn) flushOutbox() {
	if c.closed || c.ch == nil {
		return
	}
	if c.mode == api.UpgradeLongPoll {
		c.flushPoll()
		return
	}
	if c.ws.closeSent {
		return
	}
	for _, m := range c.ch.drainOutbox() {
		op := byte(protocol.OpcodeBinary)
		if m.Type == api.MessageText {
			op = protocol.OpcodeText
		}
		c.write(protocol.RoleServer.AppendFrame(c.l.srv.bufs.Get(len(m.Data)+protocol.MaxFrameHeaderLen), true, op, m.Data))
		c.l.srv.stats.MessagesOut.Add(1)
	}
}

// appClose runs on the loop after channel.Close.
func (c *conn) appClose(code int) {
	if c.closed {
		return
	}
	if c.mode == api.UpgradeLongPoll {
		c.pollClose(code)
		return
	}
	c.flushOutbox()
	c.sendClose(code)
}

func (c *conn) wsTick(now time.Time) {
	if c.ws.closeSent {
		if now.After(c.ws.closeDeadline) {
			c.l.log.Debug("close handshake timed out", zap.String("remote", c.remote))
			c.close(c.closeCode)
		}
		return
	}
	idle := c.l.srv.cfg.ChannelIdleTimeout
	if idle > 0 && now.Sub(c.lastActive) >= idle {
		c.ch.markClosing()
		c.sendClose(api.CloseGoingAway)
		c.resume()
	}
}
