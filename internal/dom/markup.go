package dom

import (
	"errors"
	"fmt"
	"io"
	"net/url"
	"regexp"
	"strings"

	"github.com/antchfx/htmlquery"
	"golang.org/x/net/html"
)

// InterfaceRel is the link relation declaring an implemented interface
const InterfaceRel = "http://www.renderjs.org/rel/interface"

var (
	ErrRelativeURL = errors.New("url should be absolute")

	absoluteOrData = regexp.MustCompile(`(?i)^(?:[a-z]+:)?//|data:`)
)

// Script is one head script, external (Src) or inline (Code)
type Script struct {
	Src  string
	Code string
}

// ClassMarkup is what a gadget class definition declares in its document
type ClassMarkup struct {
	URL string
	// Base resolves relative references: <base href> when present, else URL
	Base       string
	Title      string
	Interfaces []string
	CSS        []string
	JS         []string
	// Scripts lists every runnable head script in order, inline ones included
	Scripts  []Script
	Template []*html.Node
}

// IsAbsoluteOrDataURL reports whether ref needs no base to resolve
func IsAbsoluteOrDataURL(ref string) bool {
	return absoluteOrData.MatchString(ref)
}

// AbsoluteURL resolves ref against base. Absolute and data: refs, and any
// ref without a base, are returned unchanged.
func AbsoluteURL(ref, base string) string {
	if ref == "" || base == "" || IsAbsoluteOrDataURL(ref) {
		return ref
	}
	b, err := url.Parse(base)
	if err != nil {
		return ref
	}
	r, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	return b.ResolveReference(r).String()
}

// ParseClassMarkup parses a class definition fetched from pageURL
func ParseClassMarkup(pageURL string, r io.Reader) (*ClassMarkup, error) {
	if !IsAbsoluteOrDataURL(pageURL) {
		return nil, fmt.Errorf("%w: %q", ErrRelativeURL, pageURL)
	}
	root, err := htmlquery.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("parse class markup: %w", err)
	}
	return ClassMarkupFromNode(pageURL, root)
}

// ClassMarkupFromNode extracts a class definition from a parsed document.
// The template holds detached clones of the body children.
func ClassMarkupFromNode(pageURL string, root *html.Node) (*ClassMarkup, error) {
	if !IsAbsoluteOrDataURL(pageURL) {
		return nil, fmt.Errorf("%w: %q", ErrRelativeURL, pageURL)
	}

	m := &ClassMarkup{URL: pageURL}

	base := pageURL
	if b := htmlquery.FindOne(root, "//head/base[@href]"); b != nil {
		base = AbsoluteURL(htmlquery.SelectAttr(b, "href"), pageURL)
	}
	m.Base = base

	if t := htmlquery.FindOne(root, "//title"); t != nil {
		m.Title = strings.TrimSpace(htmlquery.InnerText(t))
	}

	for _, el := range htmlquery.Find(root, "//head/*") {
		rel := strings.TrimSpace(htmlquery.SelectAttr(el, "rel"))
		switch {
		case el.Data == "link" && strings.EqualFold(rel, "stylesheet"):
			if href := htmlquery.SelectAttr(el, "href"); href != "" {
				m.CSS = append(m.CSS, AbsoluteURL(href, base))
			}
		case el.Data == "script" && isJavaScript(htmlquery.SelectAttr(el, "type")):
			if src := htmlquery.SelectAttr(el, "src"); src != "" {
				abs := AbsoluteURL(src, base)
				m.JS = append(m.JS, abs)
				m.Scripts = append(m.Scripts, Script{Src: abs})
			} else if code := htmlquery.InnerText(el); strings.TrimSpace(code) != "" {
				m.Scripts = append(m.Scripts, Script{Code: code})
			}
		case el.Data == "link" && rel == InterfaceRel:
			if href := htmlquery.SelectAttr(el, "href"); href != "" {
				m.Interfaces = append(m.Interfaces, AbsoluteURL(href, base))
			}
		}
	}

	if body := htmlquery.FindOne(root, "//body"); body != nil {
		for c := body.FirstChild; c != nil; c = c.NextSibling {
			m.Template = append(m.Template, CloneTree(c))
		}
	}
	return m, nil
}

func isJavaScript(typ string) bool {
	typ = strings.ToLower(strings.TrimSpace(typ))
	return typ == "" || typ == "text/javascript"
}
