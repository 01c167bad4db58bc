package service

import (
	"errors"
	"fmt"
	"net/url"
)

// ErrInvalidURL is returned when a target is missing, unparsable or not an
// absolute http(s) URL.
var ErrInvalidURL = errors.New("invalid URL")

// ValidateTarget checks that raw is an absolute http(s) URL with a host and
// returns it unchanged.
func ValidateTarget(raw string) (string, error) {
	if raw == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidURL)
	}
	u, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrInvalidURL, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("%w: %q has no scheme or host", ErrInvalidURL, raw)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return "", fmt.Errorf("%w: unsupported scheme %q", ErrInvalidURL, u.Scheme)
	}
	return raw, nil
}
