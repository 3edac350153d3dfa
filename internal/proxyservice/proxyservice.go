// Package proxyservice implements the plain-proxy request flow: run the
// host's on_request hook, forward upstream, run on_response, return.
// Grounded on the original's CoreProxyServer::proxy_http, which is exactly
// this three-step pipeline with nothing else in it - the CONNECT and
// WebSocket branches of proxy_service live in internal/dispatch instead,
// since they need the raw connection this package never sees.
package proxyservice

import (
	"context"
	"net"

	"github.com/ehuff700/roxy/internal/envelope"
	"github.com/ehuff700/roxy/internal/upstream"
)

// RequestHook is invoked after ingress, before the request is forwarded
// upstream. Its return replaces the request; an error is treated as a
// pre-send failure, synthesizing a 500 without invoking ResponseHook.
type RequestHook func(context.Context, *envelope.Request) (*envelope.Request, error)

// ResponseHook is invoked after the upstream reply, before it is returned
// to the client. Its return replaces the response.
type ResponseHook func(context.Context, *envelope.Response) (*envelope.Response, error)

// PassthroughRequestHook and PassthroughResponseHook are the default,
// no-op hooks cmd/roxy wires in when no host application overrides them.
func PassthroughRequestHook(_ context.Context, req *envelope.Request) (*envelope.Request, error) {
	return req, nil
}

func PassthroughResponseHook(_ context.Context, resp *envelope.Response) (*envelope.Response, error) {
	return resp, nil
}

// Context bundles what Serve needs to run the hook/upstream pipeline for
// one connection's worth of requests. It is cheap to copy by value (every
// field is a pointer, function value, or small struct), matching the
// "cheaply-cloneable per-connection context" the data model calls for.
type Context struct {
	OnRequest  RequestHook
	OnResponse ResponseHook
	ClientAddr net.Addr
	Upstream   *upstream.Client
}

// Serve runs the plain-proxy pipeline for req: on_request, upstream send,
// on_response. Any failure before the upstream reply is obtained
// synthesizes a 500 carrying req's id and skips the remaining hook(s), so
// the host never receives an on_response callback for a request it never
// saw succeed.
func Serve(ctx context.Context, sctx Context, req *envelope.Request) *envelope.Response {
	onRequest := sctx.OnRequest
	if onRequest == nil {
		onRequest = PassthroughRequestHook
	}
	onResponse := sctx.OnResponse
	if onResponse == nil {
		onResponse = PassthroughResponseHook
	}

	modified, err := onRequest(ctx, req)
	if err != nil {
		return envelope.Error(req.ID)
	}

	rawResp, err := sctx.Upstream.Send(ctx, modified.Inner)
	if err != nil {
		return envelope.Error(modified.ID)
	}

	resp := envelope.NewResponse(rawResp, modified.ID)
	final, err := onResponse(ctx, resp)
	if err != nil {
		return envelope.Error(modified.ID)
	}
	return final
}
