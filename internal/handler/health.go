package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"webproxy-go/internal/config"
)

// Version is a string type for dependency injection of the build version.
type Version string

// HealthHandler serves the index and health endpoints.
type HealthHandler struct {
	cfg     *config.Config
	version Version
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(cfg *config.Config, v Version) *HealthHandler {
	return &HealthHandler{cfg: cfg, version: v}
}

type indexResponse struct {
	Status    string            `json:"status"`
	Message   string            `json:"message"`
	Version   string            `json:"version"`
	Endpoints map[string]string `json:"endpoints"`
}

// Index describes the running proxy and how to use it.
func (h *HealthHandler) Index(c echo.Context) error {
	return c.JSON(http.StatusOK, indexResponse{
		Status:  "running",
		Message: "Web Proxy Server is running",
		Version: string(h.version),
		Endpoints: map[string]string{
			"proxy": h.cfg.Server.PublicURL + "/proxy?url=<target_url>",
		},
	})
}

// Health returns a fixed OK payload for liveness probes.
func (h *HealthHandler) Health(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "web-proxy",
	})
}
