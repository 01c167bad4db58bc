package handler

import (
	"github.com/labstack/echo/v4"
)

// RegisterRoutes wires all route handlers onto the Echo instance.
func RegisterRoutes(e *echo.Echo, proxy *ProxyHandler, health *HealthHandler) {
	e.GET("/", health.Index)
	e.GET("/health", health.Health)

	e.GET("/proxy", proxy.Handle)
	e.HEAD("/proxy", proxy.Handle)
}
