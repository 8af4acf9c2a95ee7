// File: api/types.go
// Author: momentics <momentics@gmail.com>
//
// Shared API-level type declarations and constants.

package api

// ChannelState enumerates the lifecycle of a Channel.
type ChannelState int32

const (
	ChannelOpen ChannelState = iota
	ChannelClosing
	ChannelClosed
)

func (s ChannelState) String() string {
	switch s {
	case ChannelOpen:
		return "open"
	case ChannelClosing:
		return "closing"
	case ChannelClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// UpgradeMode records what a connection has been switched to.
type UpgradeMode int

const (
	UpgradeNone UpgradeMode = iota
	UpgradeWebSocket
	UpgradeLongPoll
)

func (m UpgradeMode) String() string {
	switch m {
	case UpgradeWebSocket:
		return "websocket"
	case UpgradeLongPoll:
		return "long-poll"
	default:
		return "none"
	}
}
