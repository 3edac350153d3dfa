package dispatch

import (
	"bufio"
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/ehuff700/roxy/internal/envelope"
	"github.com/ehuff700/roxy/internal/proxyservice"
	"github.com/ehuff700/roxy/internal/reqid"
	"github.com/ehuff700/roxy/internal/upstream"
)

func dialPipe(t *testing.T) (client, server net.Conn) {
	t.Helper()
	client, server = net.Pipe()
	t.Cleanup(func() {
		client.Close()
		server.Close()
	})
	return client, server
}

func TestServeConnForwardsPlainRequestAndClosesOnConnectionClose(t *testing.T) {
	upstreamSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Reply", "yes")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}))
	defer upstreamSrv.Close()

	u, err := url.Parse(upstreamSrv.URL)
	if err != nil {
		t.Fatalf("parse upstream url: %v", err)
	}

	dctx := Context{
		Hooks: proxyservice.Context{
			Upstream: upstream.NewHTTP(),
		},
		IDs: &reqid.Counter{},
	}

	client, server := dialPipe(t)

	done := make(chan struct{})
	go func() {
		defer close(done)
		ServeConn(context.Background(), dctx, server, nil)
	}()

	reqLine := "GET " + upstreamSrv.URL + "/ HTTP/1.1\r\nHost: " + u.Host + "\r\nConnection: close\r\n\r\n"
	if _, err := client.Write([]byte(reqLine)); err != nil {
		t.Fatalf("write request: %v", err)
	}

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	br := bufio.NewReader(client)
	resp, err := http.ReadResponse(br, nil)
	if err != nil {
		t.Fatalf("reading response: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
	if got := resp.Header.Get("X-Reply"); got != "yes" {
		t.Fatalf("X-Reply header = %q, want yes", got)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("ServeConn did not return after Connection: close")
	}
}

// TestServeConnConnectHandsOffConnOwnershipToTunnel guards against the
// connection being closed out from under the spawned tunnel goroutine: if
// ServeConn's deferred close fired unconditionally after writing the 200
// ack, the client's post-ack bytes below would race a closed socket and
// never reach the dialed-out echo server.
func TestServeConnConnectHandsOffConnOwnershipToTunnel(t *testing.T) {
	echo, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer echo.Close()

	go func() {
		conn, err := echo.Accept()
		if err != nil {
			return
		}
		defer conn.Close()
		buf := make([]byte, 64)
		n, _ := conn.Read(buf)
		_, _ = conn.Write(buf[:n])
	}()

	dctx := Context{
		Hooks: proxyservice.Context{Upstream: upstream.NewHTTP()},
		IDs:   &reqid.Counter{},
	}

	client, server := dialPipe(t)

	done := make(chan struct{})
	go func() {
		defer close(done)
		ServeConn(context.Background(), dctx, server, nil)
	}()

	target := echo.Addr().String()
	reqLine := "CONNECT " + target + " HTTP/1.1\r\nHost: " + target + "\r\n\r\n"
	if _, err := client.Write([]byte(reqLine)); err != nil {
		t.Fatalf("write CONNECT: %v", err)
	}

	client.SetReadDeadline(time.Now().Add(2 * time.Second))
	br := bufio.NewReader(client)
	resp, err := http.ReadResponse(br, &http.Request{Method: http.MethodConnect})
	if err != nil {
		t.Fatalf("reading CONNECT ack: %v", err)
	}
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("CONNECT ack status = %d, want 200", resp.StatusCode)
	}

	// The client only writes its payload after seeing the ack, same as a
	// real TLS ClientHello would only follow the 200. If ServeConn's
	// deferred close raced the tunnel goroutine, this write lands on a
	// conn the goroutine never got to read from.
	payload := "hello-tunnel"
	if _, err := client.Write([]byte(payload)); err != nil {
		t.Fatalf("write tunnel payload: %v", err)
	}

	buf := make([]byte, 64)
	n, err := client.Read(buf)
	if err != nil {
		t.Fatalf("reading echoed tunnel bytes: %v", err)
	}
	if string(buf[:n]) != payload {
		t.Fatalf("echoed = %q, want %q", buf[:n], payload)
	}

	client.Close()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("ServeConn did not return after client closed the pipe")
	}
}

func TestApplyFixupFillsMissingSchemeAndHost(t *testing.T) {
	req, err := http.NewRequest(http.MethodGet, "/path", nil)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	req.URL.Scheme = ""
	req.URL.Host = ""

	applyFixup(req, nil)
	if req.URL.Scheme != "" || req.URL.Host != "" {
		t.Fatalf("nil fixup should not touch URL: %+v", req.URL)
	}
}

func TestServeOneRequestShortCircuitsWebSocketUpgrade(t *testing.T) {
	dctx := Context{Hooks: proxyservice.Context{Upstream: upstream.NewHTTP()}}

	h := http.Header{}
	h["Connection"] = []string{"Upgrade"}
	h["Upgrade"] = []string{"websocket"}
	h["Sec-WebSocket-Key"] = []string{"dGhlIHNhbXBsZSBub25jZQ=="}

	req := &http.Request{Method: http.MethodGet, Header: h}
	env := envelope.NewRequest(req, 9)

	resp := ServeOneRequest(context.Background(), dctx, env)
	if resp.Inner.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200 (upgrade short-circuit)", resp.Inner.StatusCode)
	}
	if resp.ID != 9 {
		t.Fatalf("id = %d, want 9", resp.ID)
	}
}

func TestShouldCloseDetectsEitherSideConnectionClose(t *testing.T) {
	reqClose := &http.Request{Header: http.Header{"Connection": []string{"close"}}}
	respOK := &http.Response{Header: http.Header{}}
	if !shouldClose(reqClose, respOK) {
		t.Fatal("request Connection: close should force close")
	}

	reqKeep := &http.Request{Header: http.Header{}}
	respClose := &http.Response{Header: http.Header{"Connection": []string{"Close"}}}
	if !shouldClose(reqKeep, respClose) {
		t.Fatal("response Connection: close should force close")
	}

	reqOpen := &http.Request{Header: http.Header{}}
	respOpen := &http.Response{Header: http.Header{}}
	if shouldClose(reqOpen, respOpen) {
		t.Fatal("neither side requested close")
	}
}

func TestDrainBufferedReturnsAlreadyReadBytes(t *testing.T) {
	r := strings.NewReader("hello-world")
	br := bufio.NewReaderSize(r, 16)
	if _, err := br.Peek(5); err != nil {
		t.Fatalf("peek: %v", err)
	}

	got := drainBuffered(br)
	if string(got) != "hello-world" {
		t.Fatalf("drainBuffered = %q, want the whole buffered chunk", got)
	}
}
