// File: protocol/response_writer.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Response serialization. Framing headers are owned by the writer: user
// supplied Content-Length, Transfer-Encoding and Connection are replaced by
// the values matching the bytes actually emitted.

package protocol

import (
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strconv"
	"strings"

	"github.com/momentics/hioload-http/api"
)

// ResponseWantsClose reports whether resp asks to close the connection.
func ResponseWantsClose(resp *api.Response) bool {
	return resp.Close || resp.Header.HasToken("Connection", "close")
}

// BodyAllowed reports whether status may carry a body.
func BodyAllowed(status int) bool {
	return status >= 200 && status != http.StatusNoContent && status != http.StatusNotModified
}

// AppendResponse serializes resp as the answer to req. req may be nil for
// responses synthesized before a request line was understood.
//
// Stream and File bodies are pulled to completion, so callers must not run
// this on a reactor goroutine. Servers that want a Stream body sent as it is
// produced use AppendStreamHead and AppendStreamPart instead.
func AppendResponse(dst []byte, req *api.Request, resp *api.Response, closeConn bool) ([]byte, error) {
	status := resp.Status
	if status == 0 {
		status = http.StatusOK
	}
	head := req != nil && req.Method == http.MethodHead
	legacy := req != nil && req.ProtoMinor == 0
	withBody := BodyAllowed(status)

	switch {
	case !withBody:
		return appendHead(dst, status, resp.Header, -1, false, closeConn, legacy), nil

	case resp.Stream != nil:
		if head {
			return appendHead(dst, status, resp.Header, -1, !legacy, closeConn || legacy, legacy), nil
		}
		if legacy {
			body, err := drain(resp.Stream)
			if err != nil {
				return dst, err
			}
			dst = appendHead(dst, status, resp.Header, int64(len(body)), false, closeConn, legacy)
			return append(dst, body...), nil
		}
		dst = appendHead(dst, status, resp.Header, -1, true, closeConn, legacy)
		for {
			chunk, err := resp.Stream.NextChunk()
			dst = AppendChunk(dst, chunk)
			if errors.Is(err, io.EOF) {
				return AppendLastChunk(dst, api.Header{}), nil
			}
			if err != nil {
				return dst, fmt.Errorf("response stream: %w", err)
			}
		}

	case resp.File != "":
		body, err := os.ReadFile(resp.File)
		if err != nil {
			return dst, fmt.Errorf("response file: %w", err)
		}
		dst = appendHead(dst, status, resp.Header, int64(len(body)), false, closeConn, legacy)
		if head {
			return dst, nil
		}
		return append(dst, body...), nil

	default:
		dst = appendHead(dst, status, resp.Header, int64(len(resp.Body)), false, closeConn, legacy)
		if head {
			return dst, nil
		}
		return append(dst, resp.Body...), nil
	}
}

// AppendStreamHead writes the head of a response whose body follows
// incrementally, and reports whether that body is chunk-encoded. HTTP/1.0
// peers get a close-delimited body, so when chunked is false the
// connection must close after the last part.
func AppendStreamHead(dst []byte, req *api.Request, resp *api.Response, closeConn bool) (out []byte, chunked bool) {
	status := resp.Status
	if status == 0 {
		status = http.StatusOK
	}
	if req != nil && req.ProtoMinor == 0 {
		return appendHead(dst, status, resp.Header, -1, false, true, true), false
	}
	return appendHead(dst, status, resp.Header, -1, true, closeConn, false), true
}

// AppendStreamPart frames one piece of a streamed body.
func AppendStreamPart(dst, p []byte, chunked bool) []byte {
	if chunked {
		return AppendChunk(dst, p)
	}
	return append(dst, p...)
}

// AppendStreamEnd terminates a streamed body.
func AppendStreamEnd(dst []byte, chunked bool) []byte {
	if chunked {
		return AppendLastChunk(dst, api.Header{})
	}
	return dst
}

// AppendError synthesizes a plain text error response.
func AppendError(dst []byte, status int, closeConn bool) []byte {
	body := StatusText(status)
	h := api.NewHeader("Content-Type", "text/plain; charset=utf-8")
	dst = appendHead(dst, status, h, int64(len(body)), false, closeConn, false)
	return append(dst, body...)
}

// AppendContinue appends the interim 100 response.
func AppendContinue(dst []byte) []byte {
	return append(dst, "HTTP/1.1 100 Continue\r\n\r\n"...)
}

// StatusText returns the reason phrase for status.
func StatusText(status int) string {
	if t := http.StatusText(status); t != "" {
		return t
	}
	return "Status " + strconv.Itoa(status)
}

// appendHead writes status line and headers. contentLength < 0 omits the
// Content-Length header.
func appendHead(dst []byte, status int, h api.Header, contentLength int64, chunked, closeConn, legacy bool) []byte {
	dst = append(dst, "HTTP/1.1 "...)
	dst = strconv.AppendInt(dst, int64(status), 10)
	dst = append(dst, ' ')
	dst = append(dst, StatusText(status)...)
	dst = append(dst, "\r\n"...)
	for _, f := range h.Fields() {
		if isManagedHeader(f.Name) {
			continue
		}
		dst = appendField(dst, f.Name, f.Value)
	}
	switch {
	case chunked:
		dst = append(dst, "Transfer-Encoding: chunked\r\n"...)
	case contentLength >= 0:
		dst = append(dst, "Content-Length: "...)
		dst = strconv.AppendInt(dst, contentLength, 10)
		dst = append(dst, "\r\n"...)
	}
	switch {
	case closeConn:
		dst = append(dst, "Connection: close\r\n"...)
	case legacy:
		dst = append(dst, "Connection: keep-alive\r\n"...)
	}
	return append(dst, "\r\n"...)
}

func appendField(dst []byte, name, value string) []byte {
	dst = append(dst, name...)
	dst = append(dst, ": "...)
	dst = append(dst, strings.Map(dropCRLF, value)...)
	return append(dst, "\r\n"...)
}

// dropCRLF keeps header values from splitting the response.
func dropCRLF(r rune) rune {
	if r == '\r' || r == '\n' {
		return -1
	}
	return r
}

func isManagedHeader(name string) bool {
	return equalFold(name, "Content-Length") || equalFold(name, "Transfer-Encoding") || equalFold(name, "Connection")
}

func equalFold(a, b string) bool { return strings.EqualFold(a, b) }

func drain(src api.ChunkSource) ([]byte, error) {
	var body []byte
	for {
		chunk, err := src.NextChunk()
		body = append(body, chunk...)
		if errors.Is(err, io.EOF) {
			return body, nil
		}
		if err != nil {
			return nil, fmt.Errorf("response stream: %w", err)
		}
	}
}
