// Package client provides the outbound HTTP client used to fetch proxied images.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"image-proxy-go/internal/config"
	"image-proxy-go/internal/metrics"
	"image-proxy-go/internal/model"
	"image-proxy-go/internal/policy"
)

const (
	userAgent    = "image-proxy-go/1.0"
	maxRedirects = 10
)

// ImageClient issues the single outbound GET for each proxied request.
type ImageClient struct {
	httpClient     *http.Client
	logger         *slog.Logger
	metrics        *metrics.Metrics
	accept         string
	acceptLanguage string
}

// NewImageClient creates an ImageClient with connection pooling and explicit
// connect, response-header and overall timeouts. Every redirect hop and every
// dialed address is held to the target policy p.
// The metrics parameter is optional; pass nil to disable upstream metrics recording.
func NewImageClient(cfg *config.Config, p *policy.Policy, logger *slog.Logger, m *metrics.Metrics) *ImageClient {
	connectTimeout := time.Duration(cfg.Upstream.ConnectTimeoutSeconds) * time.Second

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          cfg.Upstream.IdleConnections,
		MaxIdleConnsPerHost:   cfg.Upstream.IdleConnections,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   connectTimeout,
		ResponseHeaderTimeout: time.Duration(cfg.Upstream.ReadTimeoutSeconds) * time.Second,
		// Relay bytes exactly as the origin sent them.
		DisableCompression: true,
		DialContext: (&net.Dialer{
			Timeout:   connectTimeout,
			KeepAlive: 30 * time.Second,
			Control:   p.Control,
		}).DialContext,
	}

	return newImageClient(cfg, p, logger, m, transport)
}

func newImageClient(cfg *config.Config, p *policy.Policy, logger *slog.Logger, m *metrics.Metrics, rt http.RoundTripper) *ImageClient {
	return &ImageClient{
		httpClient: &http.Client{
			Transport:     rt,
			Timeout:       time.Duration(cfg.Upstream.TimeoutSeconds) * time.Second,
			CheckRedirect: checkRedirect(p),
		},
		logger:         logger.With("component", "image_client"),
		metrics:        m,
		accept:         cfg.Upstream.Accept,
		acceptLanguage: cfg.Upstream.AcceptLanguage,
	}
}

// Fetch issues GET target with the fixed Accept and Accept-Language headers.
// The caller is responsible for closing the response body.
// The provided context controls the lifetime of the outbound request:
// when the context is canceled (e.g. client disconnects), the fetch is also canceled.
func (c *ImageClient) Fetch(ctx context.Context, target string) (*model.FetchResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	req.Header.Set("Accept", c.accept)
	req.Header.Set("Accept-Language", c.acceptLanguage)
	req.Header.Set("User-Agent", userAgent)

	c.logger.Debug("upstream request",
		"method", req.Method,
		"host", req.URL.Host,
	)

	start := time.Now()
	resp, err := c.httpClient.Do(req) //nolint:bodyclose // body ownership transfers to caller via FetchResponse
	duration := time.Since(start).Seconds()

	if c.metrics != nil {
		c.metrics.UpstreamDuration.WithLabelValues(http.MethodGet).Observe(duration)
	}
	if err != nil {
		return nil, fmt.Errorf("upstream request: %w", err)
	}
	if c.metrics != nil {
		c.metrics.UpstreamResponses.WithLabelValues(http.MethodGet, strconv.Itoa(resp.StatusCode)).Inc()
	}

	return &model.FetchResponse{
		StatusCode:    resp.StatusCode,
		ContentType:   resp.Header.Get("Content-Type"),
		ContentLength: resp.ContentLength,
		Body:          resp.Body,
	}, nil
}

// checkRedirect applies the target policy to each hop, keeping net/http's
// default hop limit.
func checkRedirect(p *policy.Policy) func(*http.Request, []*http.Request) error {
	return func(req *http.Request, via []*http.Request) error {
		if len(via) >= maxRedirects {
			return errors.New("stopped after 10 redirects")
		}
		if err := p.Check(req.URL); err != nil {
			return fmt.Errorf("redirect to %s: %w", req.URL.Redacted(), err)
		}
		return nil
	}
}

// CloseIdleConnections releases pooled upstream connections. Called on shutdown.
func (c *ImageClient) CloseIdleConnections() {
	c.httpClient.CloseIdleConnections()
}
