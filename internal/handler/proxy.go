package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"

	"image-proxy-go/internal/metrics"
	"image-proxy-go/internal/model"
	"image-proxy-go/internal/service"
)

// Fixed client-facing messages. Fetch failure causes are logged, never returned.
const (
	msgMethodNotSupported = "Method not supported"
	msgMissingURL         = "Missing 'url' query parameter"
	msgTargetForbidden    = "Target not allowed"
	msgProxyError         = "Error while proxying request"
)

// Fetcher performs the outbound fetch for a proxy request.
type Fetcher interface {
	Fetch(pr *model.ProxyRequest) (*model.FetchResponse, error)
}

// ProxyHandler relays a single outbound image fetch back to the caller.
type ProxyHandler struct {
	fetcher Fetcher
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// NewProxyHandler creates a ProxyHandler. The metrics parameter may be nil.
func NewProxyHandler(f Fetcher, logger *slog.Logger, m *metrics.Metrics) *ProxyHandler {
	return &ProxyHandler{
		fetcher: f,
		logger:  logger.With("component", "proxy_handler"),
		metrics: m,
	}
}

// Handle fetches the URL given in the "url" query parameter and streams the
// response status, Content-Type, Content-Length and body back to the client.
func (h *ProxyHandler) Handle(c echo.Context) error {
	req := c.Request()
	if orig, ok := c.Get(originalMethodKey).(string); ok {
		req.Method = orig
	}

	if !strings.EqualFold(req.Method, http.MethodGet) {
		h.logger.Warn("unsupported method", "method", req.Method, "path", req.URL.Path)
		c.Response().Header().Set(echo.HeaderAllow, http.MethodGet)
		return c.String(http.StatusMethodNotAllowed, msgMethodNotSupported)
	}

	target := c.QueryParam("url")
	if target == "" {
		h.logger.Warn("missing url query parameter", "path", req.URL.Path)
		return c.String(http.StatusBadRequest, msgMissingURL)
	}

	h.logger.Debug("proxying request", "target", target)

	start := time.Now()
	resp, err := h.fetcher.Fetch(&model.ProxyRequest{
		Ctx:       req.Context(),
		Method:    req.Method,
		TargetURL: target,
	})
	if err != nil {
		return h.mapError(c, err, target, start)
	}
	defer func() { _ = resp.Body.Close() }()

	header := c.Response().Header()
	if resp.ContentType != "" {
		header.Set(echo.HeaderContentType, resp.ContentType)
	}
	if resp.ContentLength >= 0 {
		header.Set(echo.HeaderContentLength, strconv.FormatInt(resp.ContentLength, 10))
	}
	c.Response().WriteHeader(resp.StatusCode)

	// The status is already on the wire, so a copy failure can only be logged;
	// the client sees a truncated body.
	n, err := io.Copy(c.Response(), resp.Body)
	if err != nil {
		h.recordFailure(metrics.ReasonStream)
		h.logger.Error("streaming response body",
			"err", err,
			"target", target,
			"bytes", n,
			"elapsed_ms", time.Since(start).Milliseconds(),
			"request_id", requestID(c),
		)
		return nil
	}

	h.logger.Info("proxied response",
		"target", target,
		"status", resp.StatusCode,
		"bytes", n,
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return nil
}

func (h *ProxyHandler) mapError(c echo.Context, err error, target string, start time.Time) error {
	reason := failureReason(err)
	h.recordFailure(reason)

	h.logger.Error("proxy error",
		"err", err,
		"reason", reason,
		"target", target,
		"elapsed_ms", time.Since(start).Milliseconds(),
		"request_id", requestID(c),
	)

	if errors.Is(err, service.ErrTargetForbidden) {
		return c.String(http.StatusForbidden, msgTargetForbidden)
	}
	return c.String(http.StatusInternalServerError, msgProxyError)
}

func (h *ProxyHandler) recordFailure(reason string) {
	if h.metrics != nil {
		h.metrics.FetchFailures.WithLabelValues(reason).Inc()
	}
}

// failureReason classifies a fetch error into a bounded metrics label.
func failureReason(err error) string {
	if errors.Is(err, service.ErrInvalidTarget) {
		return metrics.ReasonInvalidTarget
	}
	if errors.Is(err, service.ErrTargetForbidden) {
		return metrics.ReasonForbidden
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return metrics.ReasonTimeout
	}
	if errors.Is(err, context.Canceled) {
		return metrics.ReasonCanceled
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return metrics.ReasonTimeout
	}

	var dnsErr *net.DNSError
	var opErr *net.OpError
	if errors.As(err, &dnsErr) || errors.As(err, &opErr) {
		return metrics.ReasonUnreachable
	}

	return metrics.ReasonOther
}

func requestID(c echo.Context) string {
	return c.Response().Header().Get(echo.HeaderXRequestID)
}
