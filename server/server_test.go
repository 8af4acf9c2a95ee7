//go:build linux

package server_test

import (
	"errors"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/momentics/hioload-http/api"
	"github.com/momentics/hioload-http/server"
	"github.com/momentics/hioload-http/transport"
)

func TestSimpleGet(t *testing.T) {
	s := startServer(t, api.HandlerFunc(func(req *api.Request) (*api.Response, error) {
		return &api.Response{Status: 200, Header: api.NewHeader("Content-Type", "text/plain"), Body: []byte("ok")}, nil
	}))
	c := dial(t, s)
	c.send("GET / HTTP/1.1\r\nHost: x\r\n\r\n")

	want := "HTTP/1.1 200 OK\r\nContent-Type: text/plain\r\nContent-Length: 2\r\n\r\nok"
	got := make([]byte, len(want))
	_, err := io.ReadFull(c.br, got)
	require.NoError(t, err)
	assert.Equal(t, want, string(got))

	// keep-alive: a second request on the same connection
	c.send("GET /again HTTP/1.1\r\nHost: x\r\n\r\n")
	resp, body := c.read(http.MethodGet)
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, "ok", body)
	assert.Equal(t, int64(2), s.Stats().Requests)
}

func TestPipelinedResponsesKeepRequestOrder(t *testing.T) {
	delays := map[string]time.Duration{"/a": 120 * time.Millisecond, "/b": 0, "/c": 40 * time.Millisecond}
	s := startServer(t, api.HandlerFunc(func(req *api.Request) (*api.Response, error) {
		time.Sleep(delays[req.URI])
		return api.Text(http.StatusOK, req.URI), nil
	}))
	c := dial(t, s)
	c.send(get("/a") + get("/b") + get("/c"))

	for _, want := range []string{"/a", "/b", "/c"} {
		resp, body := c.read(http.MethodGet)
		assert.Equal(t, 200, resp.StatusCode)
		assert.Equal(t, want, body)
	}
}

func TestPipelineLimitPausesReading(t *testing.T) {
	var peak, cur atomic.Int32
	s := startServer(t, api.HandlerFunc(func(req *api.Request) (*api.Response, error) {
		n := cur.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		cur.Add(-1)
		return api.Text(http.StatusOK, req.URI), nil
	}), server.WithMaxPipelined(2))
	c := dial(t, s)
	var sb strings.Builder
	for i := 0; i < 6; i++ {
		sb.WriteString(get("/" + string(rune('a'+i))))
	}
	c.send(sb.String())
	for i := 0; i < 6; i++ {
		_, body := c.read(http.MethodGet)
		assert.Equal(t, "/"+string(rune('a'+i)), body)
	}
	assert.LessOrEqual(t, peak.Load(), int32(2))
}

func TestQueueFullAnswers503(t *testing.T) {
	entered := make(chan struct{}, 2)
	release := make(chan struct{})
	s := startServer(t, api.HandlerFunc(func(req *api.Request) (*api.Response, error) {
		if req.URI == "/block" {
			entered <- struct{}{}
			<-release
		}
		return api.Text(http.StatusOK, "done"), nil
	}), server.WithWorkers(1), server.WithQueueCapacity(1))

	// One request occupies the only worker, the next fills the queue.
	blocker := dial(t, s)
	blocker.send(get("/block"))
	<-entered
	queued := dial(t, s)
	queued.send(get("/queued"))
	require.Eventually(t, func() bool {
		return s.DebugState()["pool"].(map[string]int64)["pending_tasks"] == 1
	}, 2*time.Second, 5*time.Millisecond)

	c := dial(t, s)
	begin := time.Now()
	c.send(get("/x"))
	resp, body := c.read(http.MethodGet)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
	assert.Equal(t, "Service Unavailable", body)
	assert.Less(t, time.Since(begin), time.Second)
	assert.False(t, resp.Close)

	close(release)
	resp, _ = blocker.read(http.MethodGet)
	assert.Equal(t, 200, resp.StatusCode)
	resp, _ = queued.read(http.MethodGet)
	assert.Equal(t, 200, resp.StatusCode)

	// The rejected connection stays usable once a worker is free.
	require.Eventually(t, func() bool {
		c.send(get("/y"))
		resp, _ := c.read(http.MethodGet)
		return resp.StatusCode == 200
	}, 2*time.Second, 20*time.Millisecond)
	assert.GreaterOrEqual(t, s.Stats().Rejected, int64(1))
}

func TestElasticWorkersReject(t *testing.T) {
	entered := make(chan struct{}, 1)
	release := make(chan struct{})
	s := startServer(t, api.HandlerFunc(func(req *api.Request) (*api.Response, error) {
		if req.URI == "/block" {
			entered <- struct{}{}
			<-release
		}
		return api.Text(http.StatusOK, "done"), nil
	}), server.WithElasticWorkers(1))
	defer close(release)

	blocker := dial(t, s)
	blocker.send(get("/block"))
	<-entered

	c := dial(t, s)
	c.send(get("/x"))
	resp, _ := c.read(http.MethodGet)
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)
}

func TestHandlerFailures(t *testing.T) {
	s := startServer(t, api.HandlerFunc(func(req *api.Request) (*api.Response, error) {
		switch req.URI {
		case "/panic":
			panic("handler exploded")
		case "/error":
			return nil, errors.New("backend unavailable")
		case "/teapot":
			return nil, api.NewError(api.ErrCodeHandler, http.StatusTeapot, "short and stout")
		case "/nil":
			return nil, nil
		}
		return api.Text(http.StatusOK, "fine"), nil
	}))
	c := dial(t, s)

	for uri, status := range map[string]int{"/panic": 500, "/error": 500, "/teapot": 418, "/nil": 500} {
		c.send(get(uri))
		resp, _ := c.read(http.MethodGet)
		assert.Equal(t, status, resp.StatusCode, uri)
	}
	c.send(get("/ok"))
	resp, body := c.read(http.MethodGet)
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, "fine", body)
	assert.Equal(t, int64(4), s.Stats().HandlerErrors)
}

func TestMalformedRequests(t *testing.T) {
	cases := map[string]struct {
		raw    string
		status int
	}{
		"bad header":      {"GET / HTTP/1.1\r\nBad Header\r\n\r\n", 400},
		"bad version":     {"GET / HTTP/2.0\r\n\r\n", 505},
		"te and cl":       {"POST / HTTP/1.1\r\nContent-Length: 3\r\nTransfer-Encoding: chunked\r\n\r\n", 400},
		"body too large":  {"POST / HTTP/1.1\r\nContent-Length: 100000\r\n\r\n", 413},
		"headers too big": {"GET / HTTP/1.1\r\nX-Big: " + strings.Repeat("a", 2048) + "\r\n\r\n", 431},
	}
	s := startServer(t, echoPath(), server.WithMaxHeaderBytes(1024), server.WithMaxBodyBytes(1024))
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			c := dial(t, s)
			c.send(tc.raw)
			resp, _ := c.read(http.MethodGet)
			assert.Equal(t, tc.status, resp.StatusCode)
			assert.True(t, resp.Close)
			c.expectEOF()
		})
	}
	assert.GreaterOrEqual(t, s.Stats().ProtocolErrors, int64(len(cases)))
}

func TestErrorAfterPipelinedRequestKeepsOrder(t *testing.T) {
	s := startServer(t, api.HandlerFunc(func(req *api.Request) (*api.Response, error) {
		time.Sleep(50 * time.Millisecond)
		return api.Text(http.StatusOK, "first"), nil
	}))
	c := dial(t, s)
	c.send(get("/first") + "NOT-HTTP\r\n\r\n")

	resp, body := c.read(http.MethodGet)
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, "first", body)
	resp, _ = c.read(http.MethodGet)
	assert.Equal(t, 400, resp.StatusCode)
	c.expectEOF()
}

func TestConnectionClose(t *testing.T) {
	s := startServer(t, echoPath())

	c := dial(t, s)
	c.send("GET /bye HTTP/1.1\r\nConnection: close\r\n\r\n")
	resp, body := c.read(http.MethodGet)
	assert.True(t, resp.Close)
	assert.Equal(t, "bye", body)
	c.expectEOF()

	legacy := dial(t, s)
	legacy.send("GET /old HTTP/1.0\r\n\r\n")
	_, body = legacy.read(http.MethodGet)
	assert.Equal(t, "old", body)
	legacy.expectEOF()
}

func TestRequestsAfterCloseAreNotHandled(t *testing.T) {
	var calls atomic.Int32
	s := startServer(t, api.HandlerFunc(func(req *api.Request) (*api.Response, error) {
		calls.Add(1)
		return api.Text(http.StatusOK, req.URI), nil
	}))

	for name, first := range map[string]string{
		"close":   "GET /a HTTP/1.1\r\nConnection: close\r\n\r\n",
		"http1.0": "GET /a HTTP/1.0\r\n\r\n",
	} {
		t.Run(name, func(t *testing.T) {
			calls.Store(0)
			c := dial(t, s)
			c.send(first + get("/b") + "POST /c HTTP/1.1\r\nContent-Length: 1\r\n\r\nx")
			resp, body := c.read(http.MethodGet)
			assert.True(t, resp.Close)
			assert.Equal(t, "/a", body)
			c.expectEOF()
			time.Sleep(50 * time.Millisecond)
			assert.EqualValues(t, 1, calls.Load())
		})
	}
}

func TestChunkedRequestAndStreamedResponse(t *testing.T) {
	s := startServer(t, api.HandlerFunc(func(req *api.Request) (*api.Response, error) {
		return &api.Response{
			Status: 200,
			Stream: api.NewSliceChunks([]byte("got "), req.Body),
		}, nil
	}))
	c := dial(t, s)
	c.send("POST /up HTTP/1.1\r\nTransfer-Encoding: chunked\r\n\r\n5\r\nhello\r\n6\r\n world\r\n0\r\n\r\n")
	resp, body := c.read(http.MethodPost)
	assert.Equal(t, []string{"chunked"}, resp.TransferEncoding)
	assert.Equal(t, "got hello world", body)
}

func TestExpectContinue(t *testing.T) {
	s := startServer(t, api.HandlerFunc(func(req *api.Request) (*api.Response, error) {
		return api.Text(http.StatusOK, string(req.Body)), nil
	}))
	c := dial(t, s)
	c.send("POST / HTTP/1.1\r\nContent-Length: 4\r\nExpect: 100-continue\r\n\r\n")

	line, err := c.br.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "HTTP/1.1 100 Continue\r\n", line)
	line, err = c.br.ReadString('\n')
	require.NoError(t, err)
	assert.Equal(t, "\r\n", line)

	c.send("data")
	resp, body := c.read(http.MethodPost)
	assert.Equal(t, 200, resp.StatusCode)
	assert.Equal(t, "data", body)
}

func TestHeadOmitsBody(t *testing.T) {
	s := startServer(t, echoPath())
	c := dial(t, s)
	c.send("HEAD /abc HTTP/1.1\r\n\r\n" + get("/next"))
	resp, body := c.read(http.MethodHead)
	assert.Equal(t, int64(3), resp.ContentLength)
	assert.Empty(t, body)
	_, body = c.read(http.MethodGet)
	assert.Equal(t, "next", body)
}

func TestIdleConnectionClosed(t *testing.T) {
	s := startServer(t, echoPath(), server.WithIdleTimeout(100*time.Millisecond))
	c := dial(t, s)
	c.send(get("/one"))
	_, body := c.read(http.MethodGet)
	assert.Equal(t, "one", body)

	begin := time.Now()
	c.expectEOF()
	assert.Less(t, time.Since(begin), 2*time.Second)
	assert.Eventually(t, func() bool { return s.Stats().Active == 0 }, time.Second, 10*time.Millisecond)
}

func TestUnixSocketListener(t *testing.T) {
	path := filepath.Join(t.TempDir(), "http.sock")
	s := startServer(t, echoPath(), server.WithListenerFactory(transport.NewUnix(path)))
	assert.Equal(t, "unix", s.Addr().Network())

	c := dial(t, s)
	c.send(get("/unix"))
	_, body := c.read(http.MethodGet)
	assert.Equal(t, "unix", body)
}

func TestCustomExecutor(t *testing.T) {
	var ran atomic.Int32
	exec := &countingExecutor{ran: &ran}
	s := startServer(t, echoPath(), server.WithExecutor(exec))
	c := dial(t, s)
	c.send(get("/x"))
	_, body := c.read(http.MethodGet)
	assert.Equal(t, "x", body)
	assert.Equal(t, int32(1), ran.Load())
	assert.Equal(t, 1, s.DebugState()["workers"])
}

type countingExecutor struct{ ran *atomic.Int32 }

func (e *countingExecutor) Submit(task func()) error {
	e.ran.Add(1)
	go task()
	return nil
}

func (e *countingExecutor) NumWorkers() int { return 1 }

func TestStartRejectsNilHandler(t *testing.T) {
	_, err := server.Start(nil, nil)
	assert.ErrorIs(t, err, api.ErrInvalidArgument)
}
