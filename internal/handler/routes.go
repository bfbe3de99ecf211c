package handler

import (
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"image-proxy-go/internal/config"
	"image-proxy-go/internal/metrics"
)

// originalMethodKey holds a method token the router could not match.
const originalMethodKey = "image_proxy.original_method"

// routedMethods are the method tokens echo's Any registers routes for.
var routedMethods = map[string]bool{
	http.MethodConnect: true,
	http.MethodDelete:  true,
	http.MethodGet:     true,
	http.MethodHead:    true,
	http.MethodOptions: true,
	http.MethodPatch:   true,
	http.MethodPost:    true,
	echo.PROPFIND:      true,
	http.MethodPut:     true,
	http.MethodTrace:   true,
	echo.REPORT:        true,
}

// RegisterRoutes wires all route handlers onto the Echo instance.
// The metrics endpoint is only registered when m is non-nil.
func RegisterRoutes(e *echo.Echo, cfg *config.Config, proxy *ProxyHandler, health *HealthHandler, m *metrics.Metrics) {
	e.GET("/healthz", health.Healthz)
	e.GET("/status", health.Status)

	// Every method reaches the handler so it can answer 405 itself.
	prefix := cfg.Proxy.PathPrefix
	e.Pre(routeAnyMethod(prefix))
	e.Any(prefix, proxy.Handle)
	e.Any(prefix+"/*", proxy.Handle)

	if m != nil {
		e.GET(cfg.Metrics.Path, echo.WrapHandler(promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{})))
	}
}

// routeAnyMethod makes method tokens echo's router does not know reach the
// proxy handler. Any case of GET becomes GET. Other unknown tokens are routed
// as POST, and the handler restores them from originalMethodKey.
func routeAnyMethod(prefix string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if routedMethods[req.Method] || !underPrefix(req.URL.Path, prefix) {
				return next(c)
			}
			if strings.EqualFold(req.Method, http.MethodGet) {
				req.Method = http.MethodGet
				return next(c)
			}
			c.Set(originalMethodKey, req.Method)
			req.Method = http.MethodPost
			return next(c)
		}
	}
}

func underPrefix(path, prefix string) bool {
	return path == prefix || strings.HasPrefix(path, prefix+"/")
}
