// control/metrics.go
// Author: momentics <momentics@gmail.com>
//
// Runtime counters collected by the server.

package control

import (
	"sync/atomic"
	"time"
)

// Counters holds the live server counters. The zero value is ready to use.
type Counters struct {
	Accepted       atomic.Int64
	Active         atomic.Int64
	Requests       atomic.Int64
	Rejected       atomic.Int64
	HandlerErrors  atomic.Int64
	ProtocolErrors atomic.Int64
	ChannelsOpened atomic.Int64
	ChannelsOpen   atomic.Int64
	MessagesIn     atomic.Int64
	MessagesOut    atomic.Int64

	started time.Time
}

// NewCounters creates counters stamped with the current time.
func NewCounters() *Counters {
	return &Counters{started: time.Now()}
}

// Snapshot is a point-in-time copy of Counters.
type Snapshot struct {
	Accepted       int64         `json:"accepted"`
	Active         int64         `json:"active"`
	Requests       int64         `json:"requests"`
	Rejected       int64         `json:"rejected"`
	HandlerErrors  int64         `json:"handler_errors"`
	ProtocolErrors int64         `json:"protocol_errors"`
	ChannelsOpened int64         `json:"channels_opened"`
	ChannelsOpen   int64         `json:"channels_open"`
	MessagesIn     int64         `json:"messages_in"`
	MessagesOut    int64         `json:"messages_out"`
	Uptime         time.Duration `json:"uptime"`
}

// Snapshot returns the latest values.
func (c *Counters) Snapshot() Snapshot {
	s := Snapshot{
		Accepted:       c.Accepted.Load(),
		Active:         c.Active.Load(),
		Requests:       c.Requests.Load(),
		Rejected:       c.Rejected.Load(),
		HandlerErrors:  c.HandlerErrors.Load(),
		ProtocolErrors: c.ProtocolErrors.Load(),
		ChannelsOpened: c.ChannelsOpened.Load(),
		ChannelsOpen:   c.ChannelsOpen.Load(),
		MessagesIn:     c.MessagesIn.Load(),
		MessagesOut:    c.MessagesOut.Load(),
	}
	if !c.started.IsZero() {
		s.Uptime = time.Since(c.started)
	}
	return s
}
