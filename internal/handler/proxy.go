package handler

import (
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/labstack/echo/v4"

	"webproxy-go/internal/client"
	"webproxy-go/internal/service"
)

// ProxyHandler serves GET /proxy?url=<target>.
type ProxyHandler struct {
	service *service.ProxyService
	logger  *slog.Logger
}

// NewProxyHandler creates a ProxyHandler.
func NewProxyHandler(svc *service.ProxyService, logger *slog.Logger) *ProxyHandler {
	return &ProxyHandler{
		service: svc,
		logger:  logger.With("component", "proxy_handler"),
	}
}

// Handle fetches the target named by the url query parameter and writes the
// rewritten or passed-through response.
func (h *ProxyHandler) Handle(c echo.Context) error {
	target := targetFrom(c)
	if target == "" {
		return c.JSON(http.StatusBadRequest, map[string]string{
			"error": "URL parameter required",
		})
	}

	resp, err := h.service.Proxy(c.Request().Context(), target)
	if err != nil {
		return h.mapError(c, target, err)
	}

	// Upstream values replace any the middleware chain already set, so an
	// upstream CORS or nosniff header is never duplicated.
	header := c.Response().Header()
	for key, vals := range resp.Header {
		header.Del(key)
		for _, v := range vals {
			header.Add(key, v)
		}
	}
	c.Response().WriteHeader(resp.StatusCode)

	if _, err := c.Response().Write(resp.Body); err != nil {
		h.logger.Error("writing response body",
			"err", err,
			"url", target,
		)
	}
	return nil
}

// targetFrom extracts the target URL. A target pasted unencoded after
// "url=" keeps its own query string, so it is taken verbatim.
func targetFrom(c echo.Context) string {
	raw := c.Request().URL.RawQuery
	if rest, ok := strings.CutPrefix(raw, "url="); ok {
		lower := strings.ToLower(rest)
		if strings.HasPrefix(lower, "http://") || strings.HasPrefix(lower, "https://") {
			return rest
		}
	}
	return c.QueryParam("url")
}

func (h *ProxyHandler) mapError(c echo.Context, target string, err error) error {
	status, reason := http.StatusInternalServerError, err.Error()

	switch {
	case errors.Is(err, service.ErrInvalidURL):
		status, reason = http.StatusBadRequest, "Invalid URL format"
	case errors.Is(err, client.ErrTimeout):
		status, reason = http.StatusGatewayTimeout, "upstream request timed out"
	case errors.Is(err, client.ErrTooManyRedirects):
		status, reason = http.StatusLoopDetected, "too many redirects"
	case errors.Is(err, client.ErrPayloadTooLarge):
		status, reason = http.StatusBadGateway, "upstream response too large"
	case errors.Is(err, client.ErrRequestFailed):
		status, reason = http.StatusBadGateway, "upstream request failed"
	}

	level := slog.LevelError
	if status == http.StatusBadRequest {
		level = slog.LevelInfo
	}
	h.logger.Log(c.Request().Context(), level, "proxy error",
		"err", err,
		"url", target,
		"status", status,
	)

	return c.JSON(status, map[string]string{"error": reason})
}
