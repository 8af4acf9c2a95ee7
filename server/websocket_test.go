//go:build linux

package server_test

import (
	"context"
	"io"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gobwas/ws"
	"github.com/gobwas/ws/wsutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-http/api"
	"github.com/momentics/hioload-http/server"
)

// recorder captures channel callbacks.
type recorder struct {
	mu       sync.Mutex
	opened   chan api.Channel
	received chan api.Message
	closes   []int
	closed   chan int
}

func newRecorder() *recorder {
	return &recorder{
		opened:   make(chan api.Channel, 4),
		received: make(chan api.Message, 16),
		closed:   make(chan int, 4),
	}
}

func (r *recorder) handler(echo bool) *api.ChannelHandler {
	return &api.ChannelHandler{
		OnOpen: func(ch api.Channel) { r.opened <- ch },
		OnReceive: func(ch api.Channel, msg api.Message) {
			r.received <- msg
			if echo {
				ch.Send(msg)
			}
		},
		OnClose: func(ch api.Channel, code int) {
			r.mu.Lock()
			r.closes = append(r.closes, code)
			r.mu.Unlock()
			r.closed <- code
		},
	}
}

func (r *recorder) closeCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.closes)
}

func wsServer(t *testing.T, h *api.ChannelHandler, opts ...server.Option) *server.Server {
	return startServer(t, api.HandlerFunc(func(req *api.Request) (*api.Response, error) {
		if req.UpgradeRequested() {
			return &api.Response{Channel: h}, nil
		}
		return api.Text(http.StatusOK, "plain"), nil
	}), opts...)
}

type wsClient struct {
	conn net.Conn
	rw   io.ReadWriter
}

func wsDial(t *testing.T, s *server.Server) *wsClient {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	conn, br, _, err := ws.Dial(ctx, "ws://"+s.Addr().String()+"/ws")
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	require.NoError(t, conn.SetDeadline(time.Now().Add(5*time.Second)))
	var rd io.Reader = conn
	if br != nil {
		rd = br
	}
	return &wsClient{conn: conn, rw: struct {
		io.Reader
		io.Writer
	}{rd, conn}}
}

func recv[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for callback")
	}
	var zero T
	return zero
}

func TestWebSocketEcho(t *testing.T) {
	rec := newRecorder()
	s := wsServer(t, rec.handler(true))
	c := wsDial(t, s)
	ch := recv(t, rec.opened)
	assert.Equal(t, api.ChannelWebSocket, ch.Kind())
	assert.Equal(t, api.ChannelOpen, ch.State())

	require.NoError(t, wsutil.WriteClientText(c.conn, []byte("hello")))
	data, op, err := wsutil.ReadServerData(c.rw)
	require.NoError(t, err)
	assert.Equal(t, ws.OpText, op)
	assert.Equal(t, "hello", string(data))

	require.NoError(t, wsutil.WriteClientBinary(c.conn, []byte{1, 2, 3}))
	data, op, err = wsutil.ReadServerData(c.rw)
	require.NoError(t, err)
	assert.Equal(t, ws.OpBinary, op)
	assert.Equal(t, []byte{1, 2, 3}, data)
	assert.Equal(t, int64(1), s.Stats().ChannelsOpen)
}

func TestWebSocketPingAnsweredWithoutCallback(t *testing.T) {
	rec := newRecorder()
	s := wsServer(t, rec.handler(false))
	c := wsDial(t, s)
	recv(t, rec.opened)

	require.NoError(t, ws.WriteFrame(c.conn, ws.MaskFrame(ws.NewPingFrame([]byte("are you there")))))
	f, err := ws.ReadFrame(c.rw)
	require.NoError(t, err)
	assert.Equal(t, ws.OpPong, f.Header.OpCode)
	assert.False(t, f.Header.Masked)
	assert.Equal(t, "are you there", string(f.Payload))

	select {
	case m := <-rec.received:
		t.Fatalf("ping surfaced as a message: %q", m.Data)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestWebSocketFragmentReassembly(t *testing.T) {
	rec := newRecorder()
	s := wsServer(t, rec.handler(false))
	c := wsDial(t, s)
	recv(t, rec.opened)

	frames := []ws.Frame{
		ws.NewFrame(ws.OpText, false, []byte("Hel")),
		ws.NewFrame(ws.OpPing, true, []byte("mid")),
		ws.NewFrame(ws.OpContinuation, false, []byte("lo ")),
		ws.NewFrame(ws.OpContinuation, true, []byte("World")),
	}
	for _, f := range frames {
		require.NoError(t, ws.WriteFrame(c.conn, ws.MaskFrame(f)))
	}

	msg := recv(t, rec.received)
	assert.Equal(t, api.MessageText, msg.Type)
	assert.Equal(t, "Hello World", string(msg.Data))
	select {
	case m := <-rec.received:
		t.Fatalf("unexpected extra message %q", m.Data)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestWebSocketCloseIsIdempotent(t *testing.T) {
	rec := newRecorder()
	var sendAfterClose atomic.Bool
	h := rec.handler(false)
	h.OnOpen = func(ch api.Channel) {
		ch.Close(api.CloseNormal)
		ch.Close(api.CloseGoingAway)
		ch.Close(api.CloseNormal)
		sendAfterClose.Store(ch.Send(api.TextMessage("late")))
		rec.opened <- ch
	}
	s := wsServer(t, h)
	c := wsDial(t, s)
	ch := recv(t, rec.opened)
	assert.False(t, sendAfterClose.Load())

	f, err := ws.ReadFrame(c.rw)
	require.NoError(t, err)
	require.Equal(t, ws.OpClose, f.Header.OpCode)
	code, _ := ws.ParseCloseFrameData(f.Payload)
	assert.Equal(t, ws.StatusNormalClosure, code)

	// Complete the handshake from the client side.
	require.NoError(t, ws.WriteFrame(c.conn, ws.MaskFrame(ws.NewCloseFrame(f.Payload))))
	assert.Equal(t, api.CloseNormal, recv(t, rec.closed))
	assert.Eventually(t, func() bool { return ch.State() == api.ChannelClosed }, time.Second, 5*time.Millisecond)

	ch.Close(api.CloseNormal)
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, 1, rec.closeCount())
}

func TestWebSocketPeerClose(t *testing.T) {
	rec := newRecorder()
	s := wsServer(t, rec.handler(false))
	c := wsDial(t, s)
	recv(t, rec.opened)

	body := ws.NewCloseFrameBody(ws.StatusGoingAway, "bye")
	require.NoError(t, ws.WriteFrame(c.conn, ws.MaskFrame(ws.NewCloseFrame(body))))

	f, err := ws.ReadFrame(c.rw)
	require.NoError(t, err)
	require.Equal(t, ws.OpClose, f.Header.OpCode)
	code, _ := ws.ParseCloseFrameData(f.Payload)
	assert.Equal(t, ws.StatusGoingAway, code)
	assert.Equal(t, api.CloseGoingAway, recv(t, rec.closed))

	_, err = ws.ReadFrame(c.rw)
	assert.Error(t, err)
}

func TestWebSocketProtocolViolations(t *testing.T) {
	cases := map[string]struct {
		frame ws.Frame
		mask  bool
		code  int
	}{
		"unmasked":           {ws.NewTextFrame([]byte("x")), false, api.CloseProtocolError},
		"bad utf8":           {ws.NewTextFrame([]byte{0xff, 0xfe}), true, api.CloseInvalidPayload},
		"orphan continue":    {ws.NewFrame(ws.OpContinuation, true, []byte("x")), true, api.CloseProtocolError},
		"fragmented control": {ws.NewFrame(ws.OpPing, false, nil), true, api.CloseProtocolError},
		"too big":            {ws.NewBinaryFrame(make([]byte, 2048)), true, api.CloseTooBig},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			rec := newRecorder()
			s := wsServer(t, rec.handler(false), server.WithMaxFrameBytes(1024))
			c := wsDial(t, s)
			recv(t, rec.opened)

			f := tc.frame
			if tc.mask {
				f = ws.MaskFrame(f)
			}
			require.NoError(t, ws.WriteFrame(c.conn, f))

			reply, err := ws.ReadFrame(c.rw)
			require.NoError(t, err)
			require.Equal(t, ws.OpClose, reply.Header.OpCode)
			code, _ := ws.ParseCloseFrameData(reply.Payload)
			assert.Equal(t, ws.StatusCode(tc.code), code)
			assert.Equal(t, tc.code, recv(t, rec.closed))
		})
	}
}

func TestWebSocketMessageLimit(t *testing.T) {
	rec := newRecorder()
	s := wsServer(t, rec.handler(false), server.WithMaxMessageBytes(8))
	c := wsDial(t, s)
	recv(t, rec.opened)

	require.NoError(t, ws.WriteFrame(c.conn, ws.MaskFrame(ws.NewFrame(ws.OpBinary, false, []byte("12345")))))
	require.NoError(t, ws.WriteFrame(c.conn, ws.MaskFrame(ws.NewFrame(ws.OpContinuation, true, []byte("67890")))))
	reply, err := ws.ReadFrame(c.rw)
	require.NoError(t, err)
	code, _ := ws.ParseCloseFrameData(reply.Payload)
	assert.Equal(t, ws.StatusMessageTooBig, code)
	assert.Equal(t, api.CloseTooBig, recv(t, rec.closed))
}

func TestWebSocketIdleClose(t *testing.T) {
	rec := newRecorder()
	s := wsServer(t, rec.handler(false), server.WithChannelIdleTimeout(100*time.Millisecond))
	c := wsDial(t, s)
	recv(t, rec.opened)

	f, err := ws.ReadFrame(c.rw)
	require.NoError(t, err)
	require.Equal(t, ws.OpClose, f.Header.OpCode)
	code, _ := ws.ParseCloseFrameData(f.Payload)
	assert.Equal(t, ws.StatusGoingAway, code)
	require.NoError(t, ws.WriteFrame(c.conn, ws.MaskFrame(ws.NewCloseFrame(f.Payload))))
	assert.Equal(t, api.CloseGoingAway, recv(t, rec.closed))
}

func TestWebSocketCloseHandshakeTimeout(t *testing.T) {
	rec := newRecorder()
	h := rec.handler(false)
	h.OnOpen = func(ch api.Channel) {
		rec.opened <- ch
		ch.Close(4000)
	}
	s := wsServer(t, h, server.WithCloseTimeout(100*time.Millisecond))
	c := wsDial(t, s)
	recv(t, rec.opened)

	f, err := ws.ReadFrame(c.rw)
	require.NoError(t, err)
	require.Equal(t, ws.OpClose, f.Header.OpCode)
	// No echo: the server gives up after the close timeout.
	assert.Equal(t, 4000, recv(t, rec.closed))
	_, err = ws.ReadFrame(c.rw)
	assert.Error(t, err)
}

func TestWebSocketPeerDisconnect(t *testing.T) {
	rec := newRecorder()
	s := wsServer(t, rec.handler(false))
	c := wsDial(t, s)
	recv(t, rec.opened)
	require.NoError(t, c.conn.Close())
	assert.Equal(t, api.CloseAbnormal, recv(t, rec.closed))
}

func TestWebSocketServerPush(t *testing.T) {
	rec := newRecorder()
	s := wsServer(t, rec.handler(false))
	c := wsDial(t, s)
	ch := recv(t, rec.opened)

	for i := 0; i < 3; i++ {
		require.True(t, ch.Send(api.TextMessage("tick")))
	}
	for i := 0; i < 3; i++ {
		data, _, err := wsutil.ReadServerData(c.rw)
		require.NoError(t, err)
		assert.Equal(t, "tick", string(data))
	}
}

func TestUpgradeRejectedVersion(t *testing.T) {
	rec := newRecorder()
	s := wsServer(t, rec.handler(false))
	c := dial(t, s)
	c.send("GET /ws HTTP/1.1\r\nHost: x\r\nConnection: Upgrade\r\nUpgrade: websocket\r\n" +
		"Sec-WebSocket-Version: 8\r\nSec-WebSocket-Key: dGhlIHNhbXBsZSBub25jZQ==\r\n\r\n")
	resp, _ := c.read(http.MethodGet)
	assert.Equal(t, http.StatusUpgradeRequired, resp.StatusCode)
	assert.Equal(t, "13", resp.Header.Get("Sec-WebSocket-Version"))

	// The connection is still plain HTTP.
	c.send(get("/after"))
	_, body := c.read(http.MethodGet)
	assert.Equal(t, "plain", body)
}

func TestUpgradeHandshakeBytes(t *testing.T) {
	rec := newRecorder()
	s := wsServer(t, rec.handler(false))
	c := dial(t, s)
	c.send("GET /ws HTTP/1.1\r\nHost: x\r\nConnection: Upgrade\r\nUpgrade: websocket\r\n" +
		"Sec-WebSocket-Version: 13\r\nSec-WebSocket-Key: dGhlIHNhbXBsZSBub25jZQ==\r\n\r\n")
	resp, err := http.ReadResponse(c.br, nil)
	require.NoError(t, err)
	assert.Equal(t, http.StatusSwitchingProtocols, resp.StatusCode)
	assert.Equal(t, "websocket", resp.Header.Get("Upgrade"))
	assert.Equal(t, "s3pPLMBiTxaQ9kYGzzhZRbK+xOo=", resp.Header.Get("Sec-WebSocket-Accept"))
	recv(t, rec.opened)
}
