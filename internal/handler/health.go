package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"image-proxy-go/internal/config"
	"image-proxy-go/internal/policy"
)

// Version is a string type for dependency injection of the build version.
type Version string

// HealthHandler serves health and status endpoints.
type HealthHandler struct {
	cfg     *config.Config
	policy  *policy.Policy
	version Version
}

type statusResponse struct {
	Status     string         `json:"status"`
	Version    string         `json:"version"`
	PathPrefix string         `json:"path_prefix"`
	Target     targetStatus   `json:"target"`
	Upstream   upstreamStatus `json:"upstream"`
}

type targetStatus struct {
	Mode                 string `json:"mode"`
	AllowedHosts         int    `json:"allowed_hosts"`
	BlockPrivateNetworks bool   `json:"block_private_networks"`
}

type upstreamStatus struct {
	ConnectTimeoutSeconds int    `json:"connect_timeout_seconds"`
	ReadTimeoutSeconds    int    `json:"read_timeout_seconds"`
	TimeoutSeconds        int    `json:"timeout_seconds"`
	Accept                string `json:"accept"`
	AcceptLanguage        string `json:"accept_language"`
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(cfg *config.Config, p *policy.Policy, v Version) *HealthHandler {
	return &HealthHandler{cfg: cfg, policy: p, version: v}
}

// Healthz returns a simple OK response for liveness probes.
func (h *HealthHandler) Healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

// Status reports the build version, the proxy route and the effective
// target policy and upstream settings. Host names are not listed.
func (h *HealthHandler) Status(c echo.Context) error {
	up := h.cfg.Upstream
	return c.JSON(http.StatusOK, statusResponse{
		Status:     "ok",
		Version:    string(h.version),
		PathPrefix: h.cfg.Proxy.PathPrefix,
		Target: targetStatus{
			Mode:                 h.policy.Mode(),
			AllowedHosts:         len(h.cfg.Target.AllowedHosts),
			BlockPrivateNetworks: h.cfg.Target.BlockPrivateNetworks,
		},
		Upstream: upstreamStatus{
			ConnectTimeoutSeconds: up.ConnectTimeoutSeconds,
			ReadTimeoutSeconds:    up.ReadTimeoutSeconds,
			TimeoutSeconds:        up.TimeoutSeconds,
			Accept:                up.Accept,
			AcceptLanguage:        up.AcceptLanguage,
		},
	})
}
