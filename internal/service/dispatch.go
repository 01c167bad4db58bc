package service

import (
	"fmt"
	"log/slog"
	"net/http"
	"net/textproto"
	"net/url"
	"strings"

	"webproxy-go/internal/metrics"
	"webproxy-go/internal/model"
	"webproxy-go/internal/rewrite"
)

// ContentHandler produces the client response for one family of content types.
//
// Handle must always return a response. When rewriting fails it returns the
// degraded response (the original body) together with the error, which the
// Dispatcher only logs.
type ContentHandler interface {
	Kind() string
	// Match reports whether the handler serves contentType, given in lower case.
	Match(contentType string) bool
	Handle(resp *model.UpstreamResponse, base *url.URL) (*model.ProxyResponse, error)
}

// Dispatcher routes an upstream response to the first handler that matches
// its content type. Anything unmatched is passed through.
type Dispatcher struct {
	handlers []ContentHandler
	logger   *slog.Logger
	metrics  *metrics.Metrics
}

// NewDispatcher creates a Dispatcher with the HTML, CSS and script handlers.
func NewDispatcher(rw *rewrite.Rewriter, logger *slog.Logger, m *metrics.Metrics) *Dispatcher {
	return NewDispatcherWith(logger, m, NewHTMLHandler(rw), NewCSSHandler(rw), NewScriptHandler())
}

// NewDispatcherWith creates a Dispatcher that tries handlers in order before
// falling back to pass-through. The metrics parameter is optional.
func NewDispatcherWith(logger *slog.Logger, m *metrics.Metrics, handlers ...ContentHandler) *Dispatcher {
	hs := make([]ContentHandler, 0, len(handlers)+1)
	hs = append(hs, handlers...)
	hs = append(hs, passthroughHandler{kind: "opaque"})
	return &Dispatcher{
		handlers: hs,
		logger:   logger.With("component", "dispatcher"),
		metrics:  m,
	}
}

// Dispatch converts resp into the response emitted to the client. The
// upstream status code is preserved on every path.
func (d *Dispatcher) Dispatch(resp *model.UpstreamResponse, base *url.URL) *model.ProxyResponse {
	contentType := strings.ToLower(resp.ContentType)

	for _, h := range d.handlers {
		if !h.Match(contentType) {
			continue
		}
		out, err := h.Handle(resp, base)
		outcome := "ok"
		if err != nil {
			outcome = "fallback"
			d.logger.Warn("rewrite failed, serving original body",
				"kind", h.Kind(),
				"url", base.String(),
				"err", err,
			)
		}
		if d.metrics != nil {
			d.metrics.RewritesTotal.WithLabelValues(h.Kind(), outcome).Inc()
		}
		return out
	}

	// Unreachable: the pass-through handler matches everything.
	return passthrough(resp)
}

type htmlHandler struct {
	rw *rewrite.Rewriter
}

// NewHTMLHandler rewrites text/html documents.
func NewHTMLHandler(rw *rewrite.Rewriter) ContentHandler {
	return htmlHandler{rw: rw}
}

func (htmlHandler) Kind() string { return "html" }

func (htmlHandler) Match(contentType string) bool {
	return strings.Contains(contentType, "text/html")
}

func (h htmlHandler) Handle(resp *model.UpstreamResponse, base *url.URL) (*model.ProxyResponse, error) {
	if err := checkDecoded(resp); err != nil {
		return original(resp), err
	}
	body, err := h.rw.RewriteHTML(resp.Body, resp.ContentType, base)
	if err != nil {
		return original(resp), err
	}
	return rewritten(resp.StatusCode, "text/html; charset=utf-8", body), nil
}

type cssHandler struct {
	rw *rewrite.Rewriter
}

// NewCSSHandler rewrites text/css stylesheets.
func NewCSSHandler(rw *rewrite.Rewriter) ContentHandler {
	return cssHandler{rw: rw}
}

func (cssHandler) Kind() string { return "css" }

func (cssHandler) Match(contentType string) bool {
	return strings.Contains(contentType, "text/css")
}

func (h cssHandler) Handle(resp *model.UpstreamResponse, base *url.URL) (*model.ProxyResponse, error) {
	if err := checkDecoded(resp); err != nil {
		return original(resp), err
	}
	css, err := h.rw.RewriteCSS(string(resp.Body), base)
	if err != nil {
		return original(resp), err
	}
	return rewritten(resp.StatusCode, "text/css; charset=utf-8", []byte(css)), nil
}

// NewScriptHandler passes JavaScript and JSON through untouched.
func NewScriptHandler() ContentHandler {
	return passthroughHandler{
		kind: "script",
		match: func(contentType string) bool {
			return strings.Contains(contentType, "javascript") || strings.Contains(contentType, "json")
		},
	}
}

type passthroughHandler struct {
	kind  string
	match func(string) bool // nil matches everything
}

func (h passthroughHandler) Kind() string { return h.kind }

func (h passthroughHandler) Match(contentType string) bool {
	return h.match == nil || h.match(contentType)
}

func (passthroughHandler) Handle(resp *model.UpstreamResponse, _ *url.URL) (*model.ProxyResponse, error) {
	return passthrough(resp), nil
}

// hopByHopHeaders are headers that must not be forwarded by proxies.
var hopByHopHeaders = map[string]bool{
	"Connection":          true,
	"Keep-Alive":          true,
	"Proxy-Authenticate":  true,
	"Proxy-Authorization": true,
	"Proxy-Connection":    true,
	"Te":                  true,
	"Trailer":             true,
	"Transfer-Encoding":   true,
	"Upgrade":             true,
	"Content-Length":      true,
}

// filterResponseHeaders copies src without hop-by-hop headers.
func filterResponseHeaders(src http.Header) http.Header {
	dst := make(http.Header, len(src))
	for key, vals := range src {
		if hopByHopHeaders[textproto.CanonicalMIMEHeaderKey(key)] {
			continue
		}
		dst[key] = append([]string(nil), vals...)
	}
	return dst
}

func passthrough(resp *model.UpstreamResponse) *model.ProxyResponse {
	return &model.ProxyResponse{
		StatusCode: resp.StatusCode,
		Header:     filterResponseHeaders(resp.Header),
		Body:       resp.Body,
	}
}

// checkDecoded fails when the fetcher left a Content-Encoding it could not
// decode; such a body cannot be parsed as text.
func checkDecoded(resp *model.UpstreamResponse) error {
	if ce := resp.Header.Get("Content-Encoding"); ce != "" {
		return fmt.Errorf("%w: body still has content-encoding %q", rewrite.ErrRewrite, ce)
	}
	return nil
}

// original serves the unmodified upstream body after a failed rewrite. The
// Content-Encoding is kept so a still-encoded body stays readable.
func original(resp *model.UpstreamResponse) *model.ProxyResponse {
	header := make(http.Header)
	if resp.ContentType != "" {
		header.Set("Content-Type", resp.ContentType)
	}
	for _, ce := range resp.Header.Values("Content-Encoding") {
		header.Add("Content-Encoding", ce)
	}
	return &model.ProxyResponse{
		StatusCode: resp.StatusCode,
		Header:     header,
		Body:       resp.Body,
	}
}

func rewritten(status int, contentType string, body []byte) *model.ProxyResponse {
	header := make(http.Header)
	header.Set("Content-Type", contentType)
	return &model.ProxyResponse{
		StatusCode: status,
		Header:     header,
		Body:       body,
	}
}
