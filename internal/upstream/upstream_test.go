package upstream

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
)

func TestSanitizeStripsHost(t *testing.T) {
	req := &http.Request{Header: http.Header{"Host": {"example.com"}}}
	req.Host = "example.com"

	sanitize(req)

	if req.Host != "" {
		t.Fatalf("Host = %q, want empty", req.Host)
	}
	if _, ok := req.Header["Host"]; ok {
		t.Fatalf("Host header survived sanitize: %v", req.Header)
	}
}

func TestSanitizeFoldsCookies(t *testing.T) {
	req := &http.Request{Header: http.Header{"Cookie": {"sid=abc", "theme=dark"}}}

	sanitize(req)

	got := req.Header["Cookie"]
	if len(got) != 1 {
		t.Fatalf("expected exactly one folded Cookie header, got %v", got)
	}
	if got[0] != "sid=abc; theme=dark" {
		t.Fatalf("Cookie = %q, want %q", got[0], "sid=abc; theme=dark")
	}
}

func TestSanitizePreservesOtherHeaderCase(t *testing.T) {
	req := &http.Request{Header: http.Header{"X-Custom-Header": {"v"}}}

	sanitize(req)

	if _, ok := req.Header["X-Custom-Header"]; !ok {
		t.Fatalf("expected literal-case header to survive sanitize, got %v", req.Header)
	}
}

func TestSendForwardsAndReturnsUpstreamResponse(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Host") != "" {
			t.Errorf("upstream observed a Host header value %q", r.Header.Get("Host"))
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("hi"))
	}))
	defer srv.Close()

	c := NewHTTP()
	u, _ := url.Parse(srv.URL)
	req := &http.Request{Method: http.MethodGet, URL: u, Header: http.Header{}}

	resp, err := c.Send(context.Background(), req)
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("status = %d, want 200", resp.StatusCode)
	}
}

func TestSendRejectsMissingAuthority(t *testing.T) {
	c := NewHTTP()
	req := &http.Request{Method: http.MethodGet, URL: &url.URL{}, Header: http.Header{}}

	_, err := c.Send(context.Background(), req)
	if err == nil || !strings.Contains(err.Error(), "missing scheme") {
		t.Fatalf("expected missing-authority error, got %v", err)
	}
}
