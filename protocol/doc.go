// Package protocol
// Author: momentics <momentics@gmail.com>
//
// Stateless wire codecs: incremental HTTP/1.x request parsing, response
// serialization with Content-Length or chunked framing, and RFC 6455
// WebSocket framing and handshake. Nothing here performs I/O.
package protocol
