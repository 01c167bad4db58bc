// Package service implements the proxy pipeline: validate the target, fetch
// it, and dispatch the response to the matching content handler.
package service

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"

	"webproxy-go/internal/model"
)

// Fetcher retrieves an upstream resource.
type Fetcher interface {
	Fetch(ctx context.Context, target string) (*model.UpstreamResponse, error)
}

// ProxyService runs one proxied request end to end.
type ProxyService struct {
	fetcher    Fetcher
	dispatcher *Dispatcher
	logger     *slog.Logger
}

// NewProxyService creates a ProxyService.
func NewProxyService(f Fetcher, d *Dispatcher, logger *slog.Logger) *ProxyService {
	return &ProxyService{
		fetcher:    f,
		dispatcher: d,
		logger:     logger.With("component", "proxy_service"),
	}
}

// Proxy validates rawTarget, fetches it and returns the rewritten or
// passed-through response. Errors wrap ErrInvalidURL or one of the
// client package's upstream failure kinds.
func (s *ProxyService) Proxy(ctx context.Context, rawTarget string) (*model.ProxyResponse, error) {
	target, err := ValidateTarget(rawTarget)
	if err != nil {
		return nil, err
	}
	base, err := url.Parse(target)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidURL, err)
	}

	s.logger.Debug("fetching", "url", target)

	resp, err := s.fetcher.Fetch(ctx, target)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", target, err)
	}

	out := s.dispatcher.Dispatch(resp, base)

	s.logger.Debug("proxied",
		"url", target,
		"status", out.StatusCode,
		"content_type", resp.ContentType,
		"bytes_in", len(resp.Body),
		"bytes_out", len(out.Body),
	)
	return out, nil
}
