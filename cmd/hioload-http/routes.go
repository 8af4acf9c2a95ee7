// File: cmd/hioload-http/routes.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package main

import (
	"encoding/json"
	"net/http"
	"strings"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/momentics/hioload-http/api"
	"github.com/momentics/hioload-http/server"
)

// demo routes requests for the demo binary.
type demo struct {
	log  *zap.Logger
	file string
	srv  atomic.Pointer[server.Server]

	echo *api.ChannelHandler
}

func newDemo(log *zap.Logger, file string) *demo {
	d := &demo{log: log, file: file}
	d.echo = &api.ChannelHandler{
		OnOpen: func(ch api.Channel) {
			d.log.Info("channel open", zap.Uint64("id", ch.ID()), zap.Stringer("kind", ch.Kind()), zap.String("remote", ch.RemoteAddr()))
		},
		OnReceive: func(ch api.Channel, msg api.Message) {
			if !ch.Send(msg) {
				d.log.Debug("echo dropped", zap.Uint64("id", ch.ID()))
			}
		},
		OnClose: func(ch api.Channel, code int) {
			d.log.Info("channel closed", zap.Uint64("id", ch.ID()), zap.Int("code", code))
		},
		OnDrain: func(ch api.Channel) {
			ch.Send(api.TextMessage("server shutting down"))
			ch.Close(api.CloseGoingAway)
		},
	}
	return d
}

func (d *demo) attach(s *server.Server) { d.srv.Store(s) }

// Handle implements api.Handler.
func (d *demo) Handle(req *api.Request) (*api.Response, error) {
	path := req.URI
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	switch path {
	case "/healthz":
		return api.Text(http.StatusOK, "ok"), nil
	case "/echo":
		ct := req.Header.Get("Content-Type")
		if ct == "" {
			ct = "application/octet-stream"
		}
		return &api.Response{Status: http.StatusOK, Header: api.NewHeader("Content-Type", ct), Body: req.Body}, nil
	case "/stream":
		return &api.Response{
			Status: http.StatusOK,
			Header: api.NewHeader("Content-Type", "text/plain; charset=utf-8"),
			Stream: api.NewSliceChunks([]byte("hello\n"), []byte("from\n"), []byte("hioload-http\n")),
		}, nil
	case "/file":
		if d.file == "" {
			return api.Text(http.StatusNotFound, "no file configured"), nil
		}
		return &api.Response{Status: http.StatusOK, File: d.file}, nil
	case "/stats":
		s := d.srv.Load()
		if s == nil {
			return nil, api.NewError(api.ErrCodeInternal, http.StatusServiceUnavailable, "server not attached")
		}
		body, err := json.Marshal(s.Stats())
		if err != nil {
			return nil, err
		}
		return &api.Response{Status: http.StatusOK, Header: api.NewHeader("Content-Type", "application/json"), Body: body}, nil
	case "/ws":
		if !req.UpgradeRequested() {
			return api.Text(http.StatusBadRequest, "websocket upgrade required"), nil
		}
		return &api.Response{Channel: d.echo}, nil
	case "/poll":
		return &api.Response{Status: http.StatusOK, Body: []byte("channel open"), Channel: d.echo}, nil
	}
	return api.Text(http.StatusNotFound, "not found"), nil
}
