package rewrite

import (
	"bytes"
	"fmt"
	"net/url"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
	"golang.org/x/net/html/charset"
)

// bannerStyle is the inline style of the injected notice.
const bannerStyle = "background:#1e40af;color:white;padding:10px;text-align:center;font-family:sans-serif;"

// attrRule selects elements whose attr holds a reference to rewrite.
type attrRule struct {
	selector string
	attr     string
}

var attrRules = []attrRule{
	{"a[href], link[href]", "href"},
	{"img[src], script[src], iframe[src], embed[src]", "src"},
	{"video[src], audio[src]", "src"},
	{"video source[src], audio source[src]", "src"},
	{"form[action]", "action"},
}

// RewriteHTML parses body, rewrites every reference-bearing attribute, inline
// style and style element, then injects a <base> tag and the banner. The
// output is always UTF-8; contentType is used to decode the input.
func (r *Rewriter) RewriteHTML(body []byte, contentType string, base *url.URL) (out []byte, err error) {
	defer func() {
		if p := recover(); p != nil {
			out, err = nil, fmt.Errorf("%w: panic: %v", ErrRewrite, p)
		}
	}()

	utf8Body, err := charset.NewReader(bytes.NewReader(body), contentType)
	if err != nil {
		return nil, fmt.Errorf("%w: decode charset: %w", ErrRewrite, err)
	}
	doc, err := goquery.NewDocumentFromReader(utf8Body)
	if err != nil {
		return nil, fmt.Errorf("%w: parse html: %w", ErrRewrite, err)
	}

	for _, rule := range attrRules {
		if err := r.rewriteAttr(doc.Find(rule.selector), rule.attr, base); err != nil {
			return nil, err
		}
	}
	if err := r.rewriteInlineStyles(doc, base); err != nil {
		return nil, err
	}
	if err := r.rewriteStyleElements(doc, base); err != nil {
		return nil, err
	}

	if doc.Find("base").Length() == 0 {
		doc.Find("head").First().PrependNodes(elementNode(atom.Base, html.Attribute{Key: "href", Val: base.String()}))
	}
	if r.banner != "" {
		banner := elementNode(atom.Div, html.Attribute{Key: "style", Val: bannerStyle})
		banner.AppendChild(&html.Node{
			Type: html.TextNode,
			Data: fmt.Sprintf("%s | Original URL: %s", r.banner, base.String()),
		})
		doc.Find("body").First().PrependNodes(banner)
	}

	rendered, err := doc.Html()
	if err != nil {
		return nil, fmt.Errorf("%w: render html: %w", ErrRewrite, err)
	}
	return []byte(rendered), nil
}

func (r *Rewriter) rewriteAttr(sel *goquery.Selection, attr string, base *url.URL) error {
	var err error
	sel.EachWithBreak(func(_ int, s *goquery.Selection) bool {
		val, _ := s.Attr(attr)
		var proxied string
		if proxied, err = r.ProxyURL(base, val); err != nil {
			err = fmt.Errorf("%w: <%s %s>: %w", ErrRewrite, goquery.NodeName(s), attr, err)
			return false
		}
		s.SetAttr(attr, proxied)
		return true
	})
	return err
}

func (r *Rewriter) rewriteInlineStyles(doc *goquery.Document, base *url.URL) error {
	var err error
	doc.Find("[style]").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		style, _ := s.Attr("style")
		var rewritten string
		if rewritten, err = r.RewriteCSS(style, base); err != nil {
			err = fmt.Errorf("%w: style attribute: %w", ErrRewrite, err)
			return false
		}
		s.SetAttr("style", rewritten)
		return true
	})
	return err
}

// rewriteStyleElements replaces the text of each non-empty <style> with its
// rewritten CSS. The text node is replaced directly because style content is
// raw text and must not be entity-escaped.
func (r *Rewriter) rewriteStyleElements(doc *goquery.Document, base *url.URL) error {
	var err error
	doc.Find("style").EachWithBreak(func(_ int, s *goquery.Selection) bool {
		css := s.Text()
		if css == "" {
			return true
		}
		var rewritten string
		if rewritten, err = r.RewriteCSS(css, base); err != nil {
			err = fmt.Errorf("%w: style element: %w", ErrRewrite, err)
			return false
		}
		n := s.Get(0)
		for c := n.FirstChild; c != nil; c = n.FirstChild {
			n.RemoveChild(c)
		}
		n.AppendChild(&html.Node{Type: html.TextNode, Data: rewritten})
		return true
	})
	return err
}

func elementNode(a atom.Atom, attrs ...html.Attribute) *html.Node {
	return &html.Node{
		Type:     html.ElementNode,
		DataAtom: a,
		Data:     a.String(),
		Attr:     attrs,
	}
}
