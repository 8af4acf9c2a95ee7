// File: protocol/request_parser.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Incremental HTTP/1.x request parser. Bytes arrive in arbitrary pieces; the
// parser consumes what it can and keeps its position between calls.

package protocol

import (
	"bytes"
	"net/http"
	"strconv"
	"strings"

	"github.com/momentics/hioload-http/api"
)

// ParseState is the request-level state of a connection.
type ParseState int

const (
	StateAwaitingRequestLine ParseState = iota
	StateReadingHeaders
	StateReadingBody
	StateRequestComplete
)

func (s ParseState) String() string {
	switch s {
	case StateAwaitingRequestLine:
		return "awaiting-request-line"
	case StateReadingHeaders:
		return "reading-headers"
	case StateReadingBody:
		return "reading-body"
	case StateRequestComplete:
		return "request-complete"
	default:
		return "unknown"
	}
}

// BodyFraming is how the body length of the current request is determined.
type BodyFraming int

const (
	BodyNone BodyFraming = iota
	BodyContentLength
	BodyChunked
)

type chunkPhase int

const (
	chunkSize chunkPhase = iota
	chunkData
	chunkDataEnd
	chunkTrailer
)

// maxChunkLine bounds a chunk-size line including extensions.
const maxChunkLine = 4096

// ParserLimits bounds what a single request may occupy.
type ParserLimits struct {
	// MaxHeaderBytes caps request line, header block and trailers together.
	MaxHeaderBytes int
	// MaxBodyBytes caps the decoded body.
	MaxBodyBytes int64
}

// DefaultParserLimits returns 8 KiB of headers and 4 MiB of body.
func DefaultParserLimits() ParserLimits {
	return ParserLimits{MaxHeaderBytes: 8 << 10, MaxBodyBytes: 4 << 20}
}

// RequestParser is the per-connection request state machine.
// It is not safe for concurrent use.
type RequestParser struct {
	limits ParserLimits

	state       ParseState
	framing     BodyFraming
	phase       chunkPhase
	remaining   int64
	headerBytes int
	req         *api.Request
	body        []byte

	expectContinue bool
}

// NewRequestParser creates a parser in StateAwaitingRequestLine.
func NewRequestParser(limits ParserLimits) *RequestParser {
	if limits.MaxHeaderBytes <= 0 {
		limits.MaxHeaderBytes = DefaultParserLimits().MaxHeaderBytes
	}
	if limits.MaxBodyBytes <= 0 {
		limits.MaxBodyBytes = DefaultParserLimits().MaxBodyBytes
	}
	return &RequestParser{limits: limits}
}

// State returns the current parse state.
func (p *RequestParser) State() ParseState { return p.state }

// Framing returns the body framing of the request being read.
func (p *RequestParser) Framing() BodyFraming { return p.framing }

// Reset discards any partial request.
func (p *RequestParser) Reset() {
	p.state = StateAwaitingRequestLine
	p.framing = BodyNone
	p.phase = chunkSize
	p.remaining = 0
	p.headerBytes = 0
	p.req = nil
	p.body = nil
	p.expectContinue = false
}

// AwaitingContinue reports whether headers announced "Expect: 100-continue"
// and the body has not started yet.
func (p *RequestParser) AwaitingContinue() bool {
	return p.expectContinue && p.state == StateReadingBody && len(p.body) == 0
}

// ContinueSent records that the interim response went out.
func (p *RequestParser) ContinueSent() { p.expectContinue = false }

// Parse consumes bytes from buf. It returns a request once one is complete,
// together with the number of bytes consumed. A nil request with a nil error
// means more input is needed; bytes[:n] have been absorbed and must not be
// fed again. Any error is final for the connection and carries the status
// to answer with (see api.StatusOf).
func (p *RequestParser) Parse(buf []byte) (*api.Request, int, error) {
	n := 0
	for {
		switch p.state {
		case StateAwaitingRequestLine:
			line, adv, ok := nextLine(buf[n:])
			if !ok {
				if p.headerBytes+len(buf)-n > p.limits.MaxHeaderBytes {
					return nil, n, protoErr(http.StatusRequestHeaderFieldsTooLarge, "request line too long")
				}
				return nil, n, nil
			}
			n += adv
			if err := p.countHeader(adv); err != nil {
				return nil, n, err
			}
			if len(line) == 0 {
				// Robustness: ignore empty lines ahead of a request line.
				continue
			}
			if err := p.parseRequestLine(line); err != nil {
				return nil, n, err
			}
			p.state = StateReadingHeaders

		case StateReadingHeaders:
			line, adv, ok := nextLine(buf[n:])
			if !ok {
				if p.headerBytes+len(buf)-n > p.limits.MaxHeaderBytes {
					return nil, n, protoErr(http.StatusRequestHeaderFieldsTooLarge, "header block too large")
				}
				return nil, n, nil
			}
			n += adv
			if err := p.countHeader(adv); err != nil {
				return nil, n, err
			}
			if len(line) == 0 {
				if err := p.finishHeaders(); err != nil {
					return nil, n, err
				}
				continue
			}
			if err := parseFieldLine(line, &p.req.Header); err != nil {
				return nil, n, err
			}

		case StateReadingBody:
			done, adv, err := p.readBody(buf[n:])
			n += adv
			if err != nil {
				return nil, n, err
			}
			if !done {
				return nil, n, nil
			}
			p.state = StateRequestComplete

		case StateRequestComplete:
			req := p.req
			req.Body = p.body
			p.Reset()
			return req, n, nil
		}
	}
}

func (p *RequestParser) countHeader(n int) error {
	p.headerBytes += n
	if p.headerBytes > p.limits.MaxHeaderBytes {
		return protoErr(http.StatusRequestHeaderFieldsTooLarge, "header block too large")
	}
	return nil
}

func (p *RequestParser) parseRequestLine(line []byte) error {
	sp1 := bytes.IndexByte(line, ' ')
	sp2 := bytes.LastIndexByte(line, ' ')
	if sp1 <= 0 || sp2 == sp1 || sp2 == len(line)-1 {
		return protoErr(http.StatusBadRequest, "malformed request line")
	}
	method := line[:sp1]
	target := line[sp1+1 : sp2]
	version := line[sp2+1:]
	if !isToken(method) {
		return protoErr(http.StatusBadRequest, "malformed method")
	}
	if len(target) == 0 || bytes.IndexByte(target, ' ') >= 0 || hasCTL(target) {
		return protoErr(http.StatusBadRequest, "malformed request target")
	}
	minor, err := parseVersion(version)
	if err != nil {
		return err
	}
	p.req = &api.Request{
		Method:     string(method),
		URI:        string(target),
		Proto:      string(version),
		ProtoMinor: minor,
	}
	return nil
}

// parseVersion accepts HTTP/1.0 and HTTP/1.1. Well-formed other versions
// are answered with 505, anything else with 400.
func parseVersion(v []byte) (int, error) {
	if len(v) != 8 || !bytes.HasPrefix(v, []byte("HTTP/")) || v[6] != '.' ||
		!isDigit(v[5]) || !isDigit(v[7]) {
		return 0, protoErr(http.StatusBadRequest, "malformed HTTP version")
	}
	if v[5] != '1' || (v[7] != '0' && v[7] != '1') {
		return 0, protoErr(http.StatusHTTPVersionNotSupported, "unsupported HTTP version "+string(v))
	}
	return int(v[7] - '0'), nil
}

func parseFieldLine(line []byte, h *api.Header) error {
	if line[0] == ' ' || line[0] == '\t' {
		return protoErr(http.StatusBadRequest, "obsolete header line folding")
	}
	colon := bytes.IndexByte(line, ':')
	if colon <= 0 {
		return protoErr(http.StatusBadRequest, "malformed header line")
	}
	name := line[:colon]
	if !isToken(name) {
		return protoErr(http.StatusBadRequest, "malformed header name")
	}
	value := bytes.Trim(line[colon+1:], " \t")
	if bytes.IndexByte(value, 0) >= 0 || bytes.IndexByte(value, '\r') >= 0 {
		return protoErr(http.StatusBadRequest, "invalid character in header value")
	}
	h.Add(string(name), string(value))
	return nil
}

// finishHeaders applies the body framing policy and request-level semantics.
func (p *RequestParser) finishHeaders() error {
	req := p.req
	h := req.Header

	if req.ProtoMinor >= 1 {
		req.KeepAlive = !h.HasToken("Connection", "close")
	} else {
		req.KeepAlive = h.HasToken("Connection", "keep-alive")
	}
	if h.HasToken("Connection", "upgrade") && h.HasToken("Upgrade", "websocket") {
		req.Upgrade = "websocket"
		req.WebSocketKey = h.Get("Sec-WebSocket-Key")
		req.WebSocketVersion = h.Get("Sec-WebSocket-Version")
	}

	te := h.Values("Transfer-Encoding")
	cl := h.Values("Content-Length")
	switch {
	case len(te) > 0:
		if len(cl) > 0 {
			return protoErr(http.StatusBadRequest, "both Transfer-Encoding and Content-Length present")
		}
		codings := strings.Split(strings.Join(te, ","), ",")
		if !strings.EqualFold(strings.TrimSpace(codings[len(codings)-1]), "chunked") {
			return protoErr(http.StatusBadRequest, "final transfer coding is not chunked")
		}
		p.framing = BodyChunked
		p.phase = chunkSize
	case len(cl) > 0:
		length, err := parseContentLength(cl)
		if err != nil {
			return err
		}
		if length > p.limits.MaxBodyBytes {
			return protoErr(http.StatusRequestEntityTooLarge, "declared body too large")
		}
		if length > 0 {
			p.framing = BodyContentLength
			p.remaining = length
			p.body = make([]byte, 0, length)
		}
	}

	if p.framing == BodyNone {
		p.state = StateRequestComplete
		return nil
	}
	p.expectContinue = req.ProtoMinor >= 1 && strings.EqualFold(h.Get("Expect"), "100-continue")
	p.state = StateReadingBody
	return nil
}

// parseContentLength requires every declared value to be the same decimal.
func parseContentLength(values []string) (int64, error) {
	length := int64(-1)
	for _, v := range values {
		for _, part := range strings.Split(v, ",") {
			part = strings.TrimSpace(part)
			if part == "" || strings.TrimLeft(part, "0123456789") != "" {
				return 0, protoErr(http.StatusBadRequest, "malformed Content-Length")
			}
			n, err := strconv.ParseInt(part, 10, 64)
			if err != nil {
				return 0, protoErr(http.StatusBadRequest, "malformed Content-Length")
			}
			if length >= 0 && n != length {
				return 0, protoErr(http.StatusBadRequest, "conflicting Content-Length values")
			}
			length = n
		}
	}
	return length, nil
}

func (p *RequestParser) readBody(buf []byte) (bool, int, error) {
	if p.framing == BodyContentLength {
		take := int64(len(buf))
		if take > p.remaining {
			take = p.remaining
		}
		p.body = append(p.body, buf[:take]...)
		p.remaining -= take
		return p.remaining == 0, int(take), nil
	}

	n := 0
	for {
		switch p.phase {
		case chunkSize:
			line, adv, ok := nextLine(buf[n:])
			if !ok {
				if len(buf)-n > maxChunkLine {
					return false, n, protoErr(http.StatusBadRequest, "chunk size line too long")
				}
				return false, n, nil
			}
			n += adv
			size, err := parseChunkSize(line)
			if err != nil {
				return false, n, err
			}
			if size == 0 {
				p.phase = chunkTrailer
				continue
			}
			if int64(len(p.body))+size > p.limits.MaxBodyBytes {
				return false, n, protoErr(http.StatusRequestEntityTooLarge, "chunked body too large")
			}
			p.remaining = size
			p.phase = chunkData

		case chunkData:
			take := int64(len(buf) - n)
			if take == 0 {
				return false, n, nil
			}
			if take > p.remaining {
				take = p.remaining
			}
			p.body = append(p.body, buf[n:n+int(take)]...)
			n += int(take)
			p.remaining -= take
			if p.remaining == 0 {
				p.phase = chunkDataEnd
			}

		case chunkDataEnd:
			line, adv, ok := nextLine(buf[n:])
			if !ok {
				if len(buf)-n >= 2 {
					return false, n, protoErr(http.StatusBadRequest, "missing CRLF after chunk data")
				}
				return false, n, nil
			}
			if len(line) != 0 {
				return false, n, protoErr(http.StatusBadRequest, "missing CRLF after chunk data")
			}
			n += adv
			p.phase = chunkSize

		case chunkTrailer:
			line, adv, ok := nextLine(buf[n:])
			if !ok {
				if p.headerBytes+len(buf)-n > p.limits.MaxHeaderBytes {
					return false, n, protoErr(http.StatusRequestHeaderFieldsTooLarge, "trailer too large")
				}
				return false, n, nil
			}
			n += adv
			if err := p.countHeader(adv); err != nil {
				return false, n, err
			}
			if len(line) == 0 {
				return true, n, nil
			}
			if err := parseFieldLine(line, &p.req.Trailer); err != nil {
				return false, n, err
			}
		}
	}
}

func parseChunkSize(line []byte) (int64, error) {
	if i := bytes.IndexByte(line, ';'); i >= 0 {
		line = line[:i]
	}
	line = bytes.Trim(line, " \t")
	if len(line) == 0 || len(line) > 15 {
		return 0, protoErr(http.StatusBadRequest, "malformed chunk size")
	}
	size, err := strconv.ParseInt(string(line), 16, 64)
	if err != nil || size < 0 {
		return 0, protoErr(http.StatusBadRequest, "malformed chunk size")
	}
	return size, nil
}

// nextLine returns the line at the head of buf without its CRLF (or bare LF).
func nextLine(buf []byte) (line []byte, advance int, ok bool) {
	i := bytes.IndexByte(buf, '\n')
	if i < 0 {
		return nil, 0, false
	}
	line = buf[:i]
	if len(line) > 0 && line[len(line)-1] == '\r' {
		line = line[:len(line)-1]
	}
	return line, i + 1, true
}

func protoErr(status int, msg string) error {
	return api.NewError(api.ErrCodeProtocol, status, msg)
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func hasCTL(b []byte) bool {
	for _, c := range b {
		if c < 0x20 || c == 0x7f {
			return true
		}
	}
	return false
}

// isToken reports whether b is a non-empty RFC 9110 token.
func isToken(b []byte) bool {
	if len(b) == 0 {
		return false
	}
	for _, c := range b {
		if !tokenTable[c] {
			return false
		}
	}
	return true
}

var tokenTable = func() [256]bool {
	var t [256]bool
	for c := '0'; c <= '9'; c++ {
		t[c] = true
	}
	for c := 'a'; c <= 'z'; c++ {
		t[c] = true
		t[c-'a'+'A'] = true
	}
	for _, c := range "!#$%&'*+-.^_`|~" {
		t[c] = true
	}
	return t
}()
