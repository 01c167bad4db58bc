// Package client provides the upstream HTTP fetcher used to retrieve origin content.
package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"webproxy-go/internal/config"
	"webproxy-go/internal/metrics"
	"webproxy-go/internal/model"
)

// Upstream failure kinds. Each returned error wraps one of these together
// with the underlying cause.
var (
	ErrTimeout          = errors.New("upstream request timed out")
	ErrTooManyRedirects = errors.New("too many redirects")
	ErrPayloadTooLarge  = errors.New("upstream response too large")
	ErrRequestFailed    = errors.New("upstream request failed")
)

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36"

// browserHeaders mimic a common desktop browser.
var browserHeaders = http.Header{
	"Accept":                    {"text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8"},
	"Accept-Language":           {"en-US,en;q=0.5"},
	"Accept-Encoding":           {"gzip, deflate, br, zstd"},
	"Dnt":                       {"1"},
	"Connection":                {"keep-alive"},
	"Upgrade-Insecure-Requests": {"1"},
}

// Fetcher performs single-attempt GET requests against origin servers.
type Fetcher struct {
	httpClient *http.Client
	header     http.Header
	maxBody    int64
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// NewFetcher creates a Fetcher with connection pooling, a fixed timeout and a
// bounded redirect chain. TLS certificates are verified.
// The metrics parameter is optional; pass nil to disable upstream metrics recording.
func NewFetcher(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *Fetcher {
	transport := &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        cfg.Upstream.IdleConnections,
		MaxIdleConnsPerHost: cfg.Upstream.IdleConnections,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 10 * time.Second,
		ForceAttemptHTTP2:   true,
		DialContext: (&net.Dialer{
			Timeout:   30 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}

	maxRedirects := cfg.Upstream.MaxRedirects
	header := browserHeaders.Clone()
	header.Set("User-Agent", defaultUserAgent)
	if cfg.Upstream.UserAgent != "" {
		header.Set("User-Agent", cfg.Upstream.UserAgent)
	}

	return &Fetcher{
		httpClient: &http.Client{
			Transport: transport,
			Timeout:   time.Duration(cfg.Upstream.TimeoutSeconds) * time.Second,
			CheckRedirect: func(_ *http.Request, via []*http.Request) error {
				if len(via) > maxRedirects {
					return ErrTooManyRedirects
				}
				return nil
			},
		},
		header:  header,
		maxBody: cfg.Upstream.MaxBodyBytes,
		logger:  logger.With("component", "fetcher"),
		metrics: m,
	}
}

// Fetch retrieves target and returns the fully read, content-decoded response.
// The returned header no longer carries Content-Length, nor Content-Encoding
// when the body was decoded.
func (f *Fetcher) Fetch(ctx context.Context, target string) (*model.UpstreamResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("%w: build request: %w", ErrRequestFailed, err)
	}
	req.Header = f.header.Clone()

	f.logger.Debug("upstream request", "url", target)

	start := time.Now()
	resp, err := f.httpClient.Do(req)
	if err != nil {
		err = classify(err)
		f.observe(start, err, 0)
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := f.readBody(resp)
	if err != nil {
		err = classify(err)
		f.observe(start, err, resp.StatusCode)
		return nil, err
	}

	header := resp.Header.Clone()
	header.Del("Content-Length")
	decoded, ok, err := decodeBody(body, header.Values("Content-Encoding"), f.maxBody)
	if err != nil {
		err = classify(err)
		f.observe(start, err, resp.StatusCode)
		return nil, err
	}
	if ok {
		body = decoded
		header.Del("Content-Encoding")
	}

	f.observe(start, nil, resp.StatusCode)
	f.logger.Debug("upstream response",
		"url", target,
		"final_url", resp.Request.URL.String(),
		"status", resp.StatusCode,
		"bytes", len(body),
		"duration_ms", time.Since(start).Milliseconds(),
	)

	return &model.UpstreamResponse{
		StatusCode:  resp.StatusCode,
		Header:      header,
		ContentType: header.Get("Content-Type"),
		Body:        body,
		FinalURL:    resp.Request.URL.String(),
	}, nil
}

// readBody reads at most maxBody bytes and fails once the body is larger.
func (f *Fetcher) readBody(resp *http.Response) ([]byte, error) {
	if f.maxBody <= 0 {
		return io.ReadAll(resp.Body)
	}
	if resp.ContentLength > f.maxBody {
		return nil, fmt.Errorf("%w: content-length %d exceeds %d bytes", ErrPayloadTooLarge, resp.ContentLength, f.maxBody)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, f.maxBody+1))
	if err != nil {
		return nil, err
	}
	if int64(len(body)) > f.maxBody {
		return nil, fmt.Errorf("%w: body exceeds %d bytes", ErrPayloadTooLarge, f.maxBody)
	}
	return body, nil
}

func (f *Fetcher) observe(start time.Time, err error, status int) {
	if f.metrics == nil {
		return
	}
	f.metrics.UpstreamDuration.WithLabelValues(outcome(err)).Observe(time.Since(start).Seconds())
	if status != 0 {
		f.metrics.UpstreamResponses.WithLabelValues(strconv.Itoa(status)).Inc()
	}
}

// classify wraps a transport error with the failure kind it belongs to.
// Errors that already carry a kind are returned unchanged.
func classify(err error) error {
	switch {
	case errors.Is(err, ErrTooManyRedirects), errors.Is(err, ErrPayloadTooLarge),
		errors.Is(err, ErrTimeout), errors.Is(err, ErrRequestFailed):
		return err
	case isTimeout(err):
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	default:
		return fmt.Errorf("%w: %w", ErrRequestFailed, err)
	}
}

func isTimeout(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrTimeout):
		return "timeout"
	case errors.Is(err, ErrTooManyRedirects):
		return "too_many_redirects"
	case errors.Is(err, ErrPayloadTooLarge):
		return "too_large"
	default:
		return "error"
	}
}
