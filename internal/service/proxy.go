// Package service implements the core proxy fetch logic.
package service

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"

	"image-proxy-go/internal/client"
	"image-proxy-go/internal/model"
	"image-proxy-go/internal/policy"
)

var (
	// ErrInvalidTarget is returned when the target is not an absolute http(s) URL.
	ErrInvalidTarget = errors.New("target is not an absolute http(s) URL")
	// ErrTargetForbidden is returned when the target, a redirect hop or a
	// dialed address violates the configured target policy.
	ErrTargetForbidden = policy.ErrForbidden
)

// ProxyService validates proxy targets and performs the outbound fetch.
type ProxyService struct {
	client *client.ImageClient
	policy *policy.Policy
	logger *slog.Logger
}

// NewProxyService creates a ProxyService.
func NewProxyService(c *client.ImageClient, p *policy.Policy, logger *slog.Logger) *ProxyService {
	return &ProxyService{
		client: c,
		policy: p,
		logger: logger.With("component", "proxy_service"),
	}
}

// Fetch parses the request target and issues the single outbound GET for it.
// The caller is responsible for closing the response body.
func (s *ProxyService) Fetch(pr *model.ProxyRequest) (*model.FetchResponse, error) {
	target, err := parseTarget(pr.TargetURL)
	if err != nil {
		return nil, err
	}

	if err := s.policy.Check(target); err != nil {
		return nil, fmt.Errorf("check target: %w", err)
	}

	s.logger.Debug("fetching target", "host", target.Host)

	resp, err := s.client.Fetch(pr.Ctx, target.String())
	if err != nil {
		return nil, fmt.Errorf("fetch target: %w", err)
	}
	return resp, nil
}

func parseTarget(raw string) (*url.URL, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidTarget, err)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTarget, raw)
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		return nil, fmt.Errorf("%w: unsupported scheme %q", ErrInvalidTarget, u.Scheme)
	}
	return u, nil
}
