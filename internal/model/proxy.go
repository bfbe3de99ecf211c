// Package model defines shared types for the proxy.
package model

import (
	"context"
	"io"
)

// ProxyRequest is an inbound request asking the proxy to fetch TargetURL.
type ProxyRequest struct {
	Ctx       context.Context
	Method    string
	TargetURL string
}

// FetchResponse is the outbound response to be relayed back to the caller.
// Body must be closed by whoever receives the FetchResponse.
type FetchResponse struct {
	StatusCode    int
	ContentType   string
	ContentLength int64 // -1 when unknown
	Body          io.ReadCloser
}
