package middleware

import (
	"github.com/labstack/echo/v4"
)

// hopByHopHeaders are request headers that must not reach the handlers.
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Proxy-Connection",
	"TE",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// SecurityHeaders strips hop-by-hop request headers and hardens responses.
//
// Proxied pages are routinely embedded in frames, so no framing policy is
// set. The referrer policy keeps the proxied URL, which names the site being
// visited, out of Referer headers sent to third parties.
func SecurityHeaders() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			for _, h := range hopByHopHeaders {
				c.Request().Header.Del(h)
			}

			h := c.Response().Header()
			h.Set("X-Content-Type-Options", "nosniff")
			h.Set("Referrer-Policy", "same-origin")

			return next(c)
		}
	}
}
