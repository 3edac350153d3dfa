// Package wire reads an HTTP/1.1 request line and header block directly off
// a connection, preserving the exact byte-casing of each header key. Go's
// own net/http parser canonicalizes every header key via
// textproto.CanonicalMIMEHeaderKey while it reads, which would throw away
// the client's casing before a handler ever saw it - unacceptable for a
// proxy whose job is bit-level fidelity of the forwarded request. This
// package re-implements just enough of RFC 7230's request-line and
// header-block grammar, in the same line-oriented scanning style as the
// teacher client's readLine/readHeaders, but without the canonicalization
// call.
package wire

import (
	"bufio"
	"fmt"
	"io"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strconv"
	"strings"

	"github.com/ehuff700/roxy/internal/proxyerr"
)

// maxHeaderBytes bounds the header block read from a single request, the
// same defensive limit the teacher's client applies to response headers.
const maxHeaderBytes = 1 << 20

// ReadRequest parses one HTTP request off r. The returned request's Header
// keys carry exactly the casing observed on the wire; callers that need a
// canonical lookup must match case-insensitively themselves (as
// net/http.Header.Get still does, since it canonicalizes at lookup time,
// not storage time - only direct map indexing into req.Header sees the raw
// keys).
func ReadRequest(r *bufio.Reader) (*http.Request, error) {
	requestLine, err := readLine(r)
	if err != nil {
		return nil, err
	}

	method, target, proto, err := parseRequestLine(requestLine)
	if err != nil {
		return nil, err
	}

	header, err := readHeaderBlock(r)
	if err != nil {
		return nil, err
	}

	major, minor, ok := http.ParseHTTPVersion(proto)
	if !ok {
		return nil, proxyerr.ServeConnection(fmt.Errorf("unsupported protocol version %q", proto))
	}

	reqURL, err := parseTarget(method, target)
	if err != nil {
		return nil, err
	}

	host := headerValue(header, "Host")
	if reqURL.Host == "" {
		reqURL.Host = host
	}

	body, contentLength, err := requestBody(r, header)
	if err != nil {
		return nil, err
	}

	req := &http.Request{
		Method:        method,
		URL:           reqURL,
		Proto:         proto,
		ProtoMajor:    major,
		ProtoMinor:    minor,
		Header:        header,
		Body:          body,
		ContentLength: contentLength,
		Host:          host,
		RequestURI:    target,
	}
	return req, nil
}

func readLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return "", proxyerr.ServeConnection(err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

func parseRequestLine(line string) (method, target, proto string, err error) {
	parts := strings.SplitN(line, " ", 3)
	if len(parts) != 3 {
		return "", "", "", proxyerr.ServeConnection(fmt.Errorf("malformed request line %q", line))
	}
	return parts[0], parts[1], parts[2], nil
}

// readHeaderBlock reads header lines up to the terminating blank line,
// storing each one under its literal on-the-wire key. Folded continuation
// lines (leading whitespace) are appended to the previous header's last
// value, same as the teacher's readHeaders.
func readHeaderBlock(r *bufio.Reader) (http.Header, error) {
	header := make(http.Header)
	var lastKey string
	total := 0

	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return nil, proxyerr.ServeConnection(err)
		}

		total += len(line)
		if total > maxHeaderBytes {
			return nil, proxyerr.ServeConnection(fmt.Errorf("header block exceeds %d bytes", maxHeaderBytes))
		}

		trimmed := strings.TrimRight(line, "\r\n")
		if trimmed == "" {
			break
		}

		if (strings.HasPrefix(trimmed, " ") || strings.HasPrefix(trimmed, "\t")) && lastKey != "" {
			vals := header[lastKey]
			if n := len(vals); n > 0 {
				vals[n-1] = vals[n-1] + " " + strings.TrimSpace(trimmed)
			}
			continue
		}

		key, value, ok := strings.Cut(trimmed, ":")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)
		header[key] = append(header[key], value)
		lastKey = key
	}

	return header, nil
}

// parseTarget interprets the request-target per RFC 7230 §5.3: authority
// form for CONNECT, absolute form for plain proxy requests, origin form for
// requests arriving on an already-MITM'd inner connection (filled in later
// by the mitm URI fixup).
func parseTarget(method, target string) (*url.URL, error) {
	if method == http.MethodConnect {
		return &url.URL{Host: target}, nil
	}

	u, err := url.ParseRequestURI(target)
	if err != nil {
		return nil, proxyerr.ServeConnection(fmt.Errorf("invalid request target %q: %w", target, err))
	}
	return u, nil
}

func headerValue(header http.Header, key string) string {
	for k, v := range header {
		if strings.EqualFold(k, key) && len(v) > 0 {
			return v[0]
		}
	}
	return ""
}

// requestBody determines body framing from Transfer-Encoding/Content-Length
// exactly as RFC 7230 §3.3.3 prescribes for requests: chunked takes
// precedence, then a fixed Content-Length, otherwise no body. Chunked
// decoding is delegated to net/http/httputil.NewChunkedReader, the same
// transfer-coding stdlib already implements for its own server/client -
// reimplementing it by hand here would just be duplicating the one true
// decoder rather than learning anything the corpus demonstrates.
func requestBody(r *bufio.Reader, header http.Header) (io.ReadCloser, int64, error) {
	te := headerValue(header, "Transfer-Encoding")
	if strings.Contains(strings.ToLower(te), "chunked") {
		return io.NopCloser(httputil.NewChunkedReader(r)), -1, nil
	}

	cl := headerValue(header, "Content-Length")
	if cl == "" {
		return http.NoBody, 0, nil
	}
	length, err := strconv.ParseInt(strings.TrimSpace(cl), 10, 64)
	if err != nil || length < 0 {
		return nil, 0, proxyerr.ServeConnection(fmt.Errorf("invalid content-length %q", cl))
	}
	if length == 0 {
		return http.NoBody, 0, nil
	}
	return io.NopCloser(io.LimitReader(r, length)), length, nil
}
