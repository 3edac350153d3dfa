// Package envelope wraps in-flight HTTP messages with a monotonic request
// identifier and the body-state bookkeeping the host callback surface needs:
// a request can be handed to on_request/on_response verbatim, and a response
// body can be drained once, as a UTF-8 chunk stream, without losing the raw
// bytes needed to forward it upstream afterwards.
package envelope

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"unicode/utf8"

	"github.com/ehuff700/roxy/internal/upstream/buffer"
)

// invalidUTF8Placeholder is substituted, chunk by chunk, for any body bytes
// that don't decode as UTF-8 — kept byte-for-byte identical to the upstream
// behavior this proxy mirrors, since the end-to-end test suite asserts on
// the literal string.
const invalidUTF8Placeholder = "Invalid Utf-8 Sequence."

// errorBody is the literal body of a synthesized failure response.
const errorBody = "Error rendering response. See Debug logs for more information"

// Request wraps an inbound *http.Request with the id assigned at ingress.
// Ownership is exclusive: once handed to a hook or to the upstream client,
// the caller must not touch it again.
type Request struct {
	Inner *http.Request
	ID    uint64
}

// NewRequest builds a Request envelope for an inbound message.
func NewRequest(inner *http.Request, id uint64) *Request {
	return &Request{Inner: inner, ID: id}
}

// BodyState discriminates a Response's body representation.
type BodyState int

const (
	// StateStreaming means the body is still being read from upstream.
	StateStreaming BodyState = iota
	// StateBuffered means the body has been fully materialized.
	StateBuffered
	// StateEmpty means the response intentionally carries no body (a
	// CONNECT acknowledgement or a synthesized empty reply).
	StateEmpty
)

// Response wraps a response head plus a body in one of three states. The
// state only ever moves Streaming -> Buffered; Empty is set once at
// construction and never changes.
type Response struct {
	Inner *http.Response
	ID    uint64
	State BodyState

	buffered *buffer.Buffer
}

// NewResponse wraps an upstream *http.Response, starting in the Streaming
// state: the body has not yet been drained.
func NewResponse(inner *http.Response, id uint64) *Response {
	return &Response{Inner: inner, ID: id, State: StateStreaming}
}

// Empty builds a zero-length response envelope, used for CONNECT
// acknowledgements and other 200/204-style replies with no body.
func Empty(id uint64, status int) *Response {
	resp := &http.Response{
		StatusCode: status,
		Status:     http.StatusText(status),
		Proto:      "HTTP/1.1",
		ProtoMajor: 1,
		ProtoMinor: 1,
		Header:     make(http.Header),
		Body:       http.NoBody,
	}
	return &Response{Inner: resp, ID: id, State: StateEmpty}
}

// Error builds a synthesized 500 response carrying the original request id,
// used whenever a pre-send failure means the upstream was never reached.
// The body is the literal fallback string the original implementation
// returns, kept verbatim since it is an observable contract.
func Error(id uint64) *Response {
	body := []byte(errorBody)
	resp := &http.Response{
		StatusCode:    http.StatusInternalServerError,
		Status:        "500 Internal Server Error",
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        make(http.Header),
		Body:          io.NopCloser(bytes.NewReader(body)),
		ContentLength: int64(len(body)),
	}
	e := &Response{Inner: resp, ID: id, State: StateBuffered}
	e.buffered = buffer.NewWithData(body)
	return e
}

// Body drains the response body, forwarding each chunk read from the
// underlying stream to sink as a (lossily converted) UTF-8 string, while
// accumulating the raw bytes into a buffered copy. It is idempotent: once
// the body has been buffered, a second call replays the buffered bytes
// instead of touching the network again.
func (r *Response) Body(ctx context.Context, sink func(string) error) error {
	if r.State == StateBuffered && r.buffered != nil {
		return r.replay(sink)
	}
	if r.State == StateEmpty {
		return nil
	}

	chunk := make([]byte, 32*1024)
	buf := buffer.New(buffer.DefaultMemoryLimit)
	body := r.Inner.Body
	if body == nil {
		body = http.NoBody
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		n, err := body.Read(chunk)
		if n > 0 {
			data := chunk[:n]
			if _, werr := buf.Write(data); werr != nil {
				return werr
			}
			if serr := sink(toUTF8(data)); serr != nil {
				return serr
			}
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return err
		}
	}

	r.buffered = buf
	r.State = StateBuffered
	replacement, rerr := buf.Reader()
	if rerr != nil {
		return rerr
	}
	r.Inner.Body = replacement
	return nil
}

func (r *Response) replay(sink func(string) error) error {
	reader, err := r.buffered.Reader()
	if err != nil {
		return err
	}
	defer reader.Close()

	chunk := make([]byte, 32*1024)
	for {
		n, err := reader.Read(chunk)
		if n > 0 {
			if serr := sink(toUTF8(chunk[:n])); serr != nil {
				return serr
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// toUTF8 converts a chunk to a string, substituting the fixed placeholder
// whenever the bytes aren't valid UTF-8, matching the "lossy" conversion
// this proxy's body-streaming surface promises.
func toUTF8(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}
	return invalidUTF8Placeholder
}
