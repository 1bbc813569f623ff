package dom

import (
	"fmt"
	"strings"

	"github.com/GriffinCanCode/gadgetry/internal/fetch"
	"github.com/PuerkitoBio/goquery"
)

// InlineDocument makes markup fetched from pageURL self-contained: a
// <base href=pageURL> becomes the first head child so relative links keep
// resolving, and the result is serialized as a base64 data URL.
func InlineDocument(pageURL string, markup string) (string, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(markup))
	if err != nil {
		return "", fmt.Errorf("parse inline document: %w", err)
	}

	base := NewElement("base")
	SetAttr(base, "href", pageURL)

	head := doc.Find("head").First()
	head.PrependNodes(base)

	serialized, err := goquery.OuterHtml(doc.Selection)
	if err != nil {
		return "", fmt.Errorf("serialize inline document: %w", err)
	}

	return fetch.EncodeDataURL("text/html;charset=utf-8", []byte(serialized)), nil
}
