// File: api/websocket.go
// Author: momentics <momentics@gmail.com>
//
// Unified asynchronous channel contract shared by WebSocket and long-polling
// connections.

package api

// MessageType distinguishes text from binary payloads.
type MessageType int

const (
	MessageBinary MessageType = iota
	MessageText
)

// Message is one logically complete unit exchanged over a Channel.
type Message struct {
	Type MessageType
	Data []byte
}

// TextMessage builds a text Message.
func TextMessage(s string) Message { return Message{Type: MessageText, Data: []byte(s)} }

// BinaryMessage builds a binary Message.
func BinaryMessage(b []byte) Message { return Message{Type: MessageBinary, Data: b} }

// ChannelKind names the transport behind a Channel.
type ChannelKind int

const (
	ChannelWebSocket ChannelKind = iota
	ChannelLongPoll
)

func (k ChannelKind) String() string {
	if k == ChannelLongPoll {
		return "long-poll"
	}
	return "websocket"
}

// Close codes reported to OnClose. Values follow RFC 6455 section 7.4.
const (
	CloseNormal          = 1000
	CloseGoingAway       = 1001
	CloseProtocolError   = 1002
	CloseUnsupported     = 1003
	CloseNoStatus        = 1005
	CloseAbnormal        = 1006
	CloseInvalidPayload  = 1007
	ClosePolicyViolation = 1008
	CloseTooBig          = 1009
	CloseInternalError   = 1011
)

// Channel is a long-lived bidirectional handle. Send and Close are safe for
// concurrent use from any goroutine.
type Channel interface {
	// ID is unique per server instance.
	ID() uint64
	Kind() ChannelKind
	RemoteAddr() string
	State() ChannelState
	// Send enqueues msg. It returns false once the channel is closing or closed.
	// Acceptance says nothing about delivery.
	Send(msg Message) bool
	// Close starts an application-initiated close. Closing a channel that is
	// already closing or closed is a no-op.
	Close(code int)
}

// ChannelHandler names the callbacks of an upgraded connection.
// Callbacks for one channel never run concurrently and fire in arrival order.
type ChannelHandler struct {
	OnOpen    func(ch Channel)
	OnReceive func(ch Channel, msg Message)
	// OnClose fires exactly once. Reason text from the peer is not surfaced.
	OnClose func(ch Channel, code int)
	// OnDrain, if set, fires when a graceful shutdown starts so the
	// application can say goodbye and Close.
	OnDrain func(ch Channel)
}
