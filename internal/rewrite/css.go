package rewrite

import (
	"net/url"
	"regexp"
	"strings"
)

// cssURLPattern matches url(...) with an optional single or double quote
// around the reference.
var cssURLPattern = regexp.MustCompile(`url\(\s*['"]?([^'")]+)['"]?\s*\)`)

// RewriteCSS replaces every url(...) reference in css with a double-quoted
// proxy reference. Inline references are left exactly as written, as is
// everything outside url(...).
func (r *Rewriter) RewriteCSS(css string, base *url.URL) (string, error) {
	matches := cssURLPattern.FindAllStringSubmatchIndex(css, -1)
	if len(matches) == 0 {
		return css, nil
	}

	var b strings.Builder
	b.Grow(len(css) + len(matches)*len(r.prefix+ProxyPath+"?url="))

	last := 0
	for _, m := range matches {
		start, end := m[0], m[1]
		ref := strings.Trim(strings.TrimSpace(css[m[2]:m[3]]), `'"`)

		b.WriteString(css[last:start])
		last = end

		if IsInline(ref) {
			b.WriteString(css[start:end])
			continue
		}
		proxied, err := r.ProxyURL(base, ref)
		if err != nil {
			return "", err
		}
		b.WriteString(`url("`)
		b.WriteString(proxied)
		b.WriteString(`")`)
	}
	b.WriteString(css[last:])

	return b.String(), nil
}
