// File: server/config.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0

package server

import (
	"runtime"
	"time"

	"go.uber.org/zap"

	"github.com/momentics/hioload-http/protocol"
)

// Config holds all server-side configuration parameters. Zero values are
// replaced by the matching DefaultConfig value when the server starts.
type Config struct {
	// Network is "tcp" or "unix"; Addr is the address or socket path.
	Network string `mapstructure:"network"`
	Addr    string `mapstructure:"addr"`

	Loops         int  `mapstructure:"loops"`          // reactor loops
	Workers       int  `mapstructure:"workers"`        // handler workers, or the concurrency cap when Elastic
	QueueCapacity int  `mapstructure:"queue_capacity"` // pending handler tasks before 503, negative for none
	Elastic       bool `mapstructure:"elastic"`        // one goroutine per request instead of a fixed pool

	MaxHeaderBytes int   `mapstructure:"max_header_bytes"`
	MaxBodyBytes   int64 `mapstructure:"max_body_bytes"`
	MaxPipelined   int   `mapstructure:"max_pipelined"` // in-flight requests per connection
	MaxConns       int   `mapstructure:"max_conns"`     // 0 = unlimited
	ReadBufferSize int   `mapstructure:"read_buffer_size"`

	IdleTimeout        time.Duration `mapstructure:"idle_timeout"` // negative disables
	PollTimeout        time.Duration `mapstructure:"poll_timeout"`
	ChannelIdleTimeout time.Duration `mapstructure:"channel_idle_timeout"` // 0 disables
	CloseTimeout       time.Duration `mapstructure:"close_timeout"`
	TimerResolution    time.Duration `mapstructure:"timer_resolution"`

	MaxFrameBytes   int64 `mapstructure:"max_frame_bytes"`
	MaxMessageBytes int64 `mapstructure:"max_message_bytes"`
	OutboxLimit     int   `mapstructure:"outbox_limit"` // queued outbound messages per channel

	Logger *zap.Logger `mapstructure:"-"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() *Config {
	limits := protocol.DefaultParserLimits()
	return &Config{
		Network:         "tcp",
		Addr:            ":8080",
		Loops:           runtime.NumCPU(),
		Workers:         runtime.NumCPU() * 4,
		QueueCapacity:   1024,
		MaxHeaderBytes:  limits.MaxHeaderBytes,
		MaxBodyBytes:    limits.MaxBodyBytes,
		MaxPipelined:    16,
		ReadBufferSize:  64 * 1024,
		IdleTimeout:     60 * time.Second,
		PollTimeout:     30 * time.Second,
		CloseTimeout:    5 * time.Second,
		TimerResolution: 50 * time.Millisecond,
		MaxFrameBytes:   protocol.MaxFramePayload,
		MaxMessageBytes: 4 << 20,
		OutboxLimit:     1024,
		Logger:          zap.NewNop(),
	}
}

// withDefaults returns a copy of cfg with unset fields defaulted.
func (cfg *Config) withDefaults() *Config {
	d := DefaultConfig()
	if cfg == nil {
		return d
	}
	c := *cfg
	if c.Network == "" {
		c.Network = d.Network
	}
	if c.Addr == "" {
		c.Addr = d.Addr
	}
	if c.Loops <= 0 {
		c.Loops = d.Loops
	}
	if c.Workers <= 0 {
		c.Workers = d.Workers
	}
	switch {
	case c.QueueCapacity == 0:
		c.QueueCapacity = d.QueueCapacity
	case c.QueueCapacity < 0:
		c.QueueCapacity = 0
	}
	if c.MaxHeaderBytes <= 0 {
		c.MaxHeaderBytes = d.MaxHeaderBytes
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = d.MaxBodyBytes
	}
	if c.MaxPipelined <= 0 {
		c.MaxPipelined = d.MaxPipelined
	}
	if c.ReadBufferSize <= 0 {
		c.ReadBufferSize = d.ReadBufferSize
	}
	if c.IdleTimeout == 0 {
		c.IdleTimeout = d.IdleTimeout
	}
	if c.PollTimeout <= 0 {
		c.PollTimeout = d.PollTimeout
	}
	if c.CloseTimeout <= 0 {
		c.CloseTimeout = d.CloseTimeout
	}
	if c.TimerResolution <= 0 {
		c.TimerResolution = d.TimerResolution
	}
	if c.MaxFrameBytes <= 0 {
		c.MaxFrameBytes = d.MaxFrameBytes
	}
	if c.MaxMessageBytes <= 0 {
		c.MaxMessageBytes = d.MaxMessageBytes
	}
	if c.OutboxLimit <= 0 {
		c.OutboxLimit = d.OutboxLimit
	}
	if c.Logger == nil {
		c.Logger = d.Logger
	}
	return &c
}

func (cfg *Config) parserLimits() protocol.ParserLimits {
	return protocol.ParserLimits{MaxHeaderBytes: cfg.MaxHeaderBytes, MaxBodyBytes: cfg.MaxBodyBytes}
}

// inputLimit caps bytes buffered but not yet consumed on one connection.
func (cfg *Config) inputLimit() int {
	n := cfg.MaxHeaderBytes
	if f := int(cfg.MaxFrameBytes) + protocol.MaxFrameHeaderLen; f > n {
		n = f
	}
	return n + cfg.ReadBufferSize
}
