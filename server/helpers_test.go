//go:build linux

package server_test

import (
	"bufio"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/momentics/hioload-http/api"
	"github.com/momentics/hioload-http/server"
)

func startServer(t *testing.T, h api.Handler, opts ...server.Option) *server.Server {
	t.Helper()
	cfg := &server.Config{
		Addr:            "127.0.0.1:0",
		Loops:           2,
		Workers:         4,
		TimerResolution: 10 * time.Millisecond,
		Logger:          zaptest.NewLogger(t),
	}
	s, err := server.Start(h, cfg, opts...)
	require.NoError(t, err)
	t.Cleanup(s.Stop)
	return s
}

type client struct {
	t    *testing.T
	conn net.Conn
	br   *bufio.Reader
}

func dial(t *testing.T, s *server.Server) *client {
	t.Helper()
	c, err := net.Dial(s.Addr().Network(), s.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	require.NoError(t, c.SetDeadline(time.Now().Add(5*time.Second)))
	return &client{t: t, conn: c, br: bufio.NewReader(c)}
}

func (c *client) send(raw string) {
	c.t.Helper()
	_, err := io.WriteString(c.conn, raw)
	require.NoError(c.t, err)
}

func (c *client) read(method string) (*http.Response, string) {
	c.t.Helper()
	resp, err := http.ReadResponse(c.br, &http.Request{Method: method})
	require.NoError(c.t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(c.t, err)
	return resp, string(body)
}

// expectEOF asserts that the server closes the connection.
func (c *client) expectEOF() {
	c.t.Helper()
	_, err := c.br.ReadByte()
	require.Error(c.t, err)
}

func get(path string) string {
	return "GET " + path + " HTTP/1.1\r\nHost: test\r\n\r\n"
}

func echoPath() api.HandlerFunc {
	return func(req *api.Request) (*api.Response, error) {
		return api.Text(http.StatusOK, strings.TrimPrefix(req.URI, "/")), nil
	}
}
