// Package rewrite turns references found in fetched documents into
// proxy-routed references that point back at the proxy endpoint.
package rewrite

import (
	"errors"
	"fmt"
	"net/url"
	"strings"
)

// ProxyPath is the route every rewritten reference points at.
const ProxyPath = "/proxy"

// ErrRewrite marks a failure to parse or rewrite a document. Callers recover
// from it by serving the original body.
var ErrRewrite = errors.New("rewrite failed")

// inlineSchemes carry their payload (or behavior) in the reference itself, so
// there is no network fetch for the proxy to intercept.
var inlineSchemes = []string{"data:", "javascript:", "mailto:", "tel:", "blob:", "about:"}

// Rewriter rewrites references in HTML and CSS documents. It holds no
// per-request state and is safe for concurrent use.
type Rewriter struct {
	prefix string
	banner string
}

// Option configures a Rewriter.
type Option func(*Rewriter)

// WithPublicURL makes every proxy reference absolute by prefixing it with the
// proxy's public origin, e.g. "https://proxy.example.com".
func WithPublicURL(publicURL string) Option {
	return func(r *Rewriter) {
		r.prefix = strings.TrimSuffix(publicURL, "/")
	}
}

// WithBanner sets the notice injected at the top of rewritten pages.
// An empty text disables the banner.
func WithBanner(text string) Option {
	return func(r *Rewriter) {
		r.banner = text
	}
}

// New creates a Rewriter. Without options references take the form
// "/proxy?url=<absolute-url>" and no banner is injected.
func New(opts ...Option) *Rewriter {
	r := &Rewriter{}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// IsInline reports whether ref uses a scheme that must never be proxied.
func IsInline(ref string) bool {
	ref = strings.TrimSpace(ref)
	for _, scheme := range inlineSchemes {
		if len(ref) >= len(scheme) && strings.EqualFold(ref[:len(scheme)], scheme) {
			return true
		}
	}
	return false
}

// Resolve returns the absolute form of ref relative to base (RFC 3986
// reference resolution, dot segments removed).
//
// Stray '%' signs and control characters, which browsers tolerate, are
// percent-encoded before parsing. Only references that stay unparsable
// after that, such as a malformed IPv6 host, return an error.
func Resolve(base *url.URL, ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	u, err := url.Parse(ref)
	if err != nil {
		var retryErr error
		if u, retryErr = url.Parse(escapeStray(ref)); retryErr != nil {
			return "", fmt.Errorf("parse reference %q: %w", ref, err)
		}
	}
	return base.ResolveReference(u).String(), nil
}

// escapeStray percent-encodes control characters and every '%' that does not
// start a valid escape sequence.
func escapeStray(ref string) string {
	const hex = "0123456789ABCDEF"
	var b strings.Builder
	b.Grow(len(ref) + 8)
	for i := 0; i < len(ref); i++ {
		c := ref[i]
		switch {
		case c == '%' && (i+2 >= len(ref) || !isHex(ref[i+1]) || !isHex(ref[i+2])):
			b.WriteString("%25")
		case c < 0x20 || c == 0x7f:
			b.WriteByte('%')
			b.WriteByte(hex[c>>4])
			b.WriteByte(hex[c&0xf])
		default:
			b.WriteByte(c)
		}
	}
	return b.String()
}

func isHex(c byte) bool {
	return '0' <= c && c <= '9' || 'a' <= c && c <= 'f' || 'A' <= c && c <= 'F'
}

// ProxyURL resolves ref against base and wraps the result in a proxy
// reference. Inline references such as data: URIs are returned unchanged.
func (r *Rewriter) ProxyURL(base *url.URL, ref string) (string, error) {
	if IsInline(ref) {
		return ref, nil
	}
	abs, err := Resolve(base, ref)
	if err != nil {
		return "", err
	}
	return r.prefix + ProxyPath + "?url=" + abs, nil
}

// Unwrap extracts the absolute target from a proxy reference produced by
// ProxyURL. The second result is false when ref is not a proxy reference.
func (r *Rewriter) Unwrap(ref string) (string, bool) {
	target, ok := strings.CutPrefix(ref, r.prefix+ProxyPath+"?url=")
	if !ok || target == "" {
		return "", false
	}
	return target, true
}
