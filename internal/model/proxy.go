// Package model defines shared types for the proxy.
package model

import (
	"net/http"
)

// UpstreamResponse is a fully read, content-decoded response from the origin.
type UpstreamResponse struct {
	StatusCode  int
	Header      http.Header
	ContentType string
	Body        []byte
	// FinalURL is the URL the response was served from after redirects.
	FinalURL string
}

// ProxyResponse is what the proxy emits back to the client.
type ProxyResponse struct {
	StatusCode int
	Header     http.Header
	Body       []byte
}
