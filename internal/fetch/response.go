package fetch

import (
	"bytes"
	"io"
	"mime"
	"regexp"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/saintfish/chardet"
	"golang.org/x/net/html/charset"
)

var markupType = regexp.MustCompile(`^text/html;?`)

// Response is a fetched resource
type Response struct {
	// URL is the final URL after redirects
	URL         string
	Status      int
	ContentType string
	Body        []byte
}

// IsMarkup reports whether the response is an HTML document. A missing
// Content-Type header falls back to sniffing the body.
func (r *Response) IsMarkup() bool {
	if r.ContentType != "" {
		return markupType.MatchString(strings.ToLower(strings.TrimSpace(r.ContentType)))
	}
	return mimetype.Detect(r.Body).Is("text/html")
}

// Text returns the body decoded to UTF-8. The Content-Type charset wins;
// otherwise the charset is detected from the bytes.
func (r *Response) Text() string {
	contentType := r.ContentType
	if _, params, err := mime.ParseMediaType(contentType); err != nil || params["charset"] == "" {
		contentType = "text/html; charset=" + DetectCharset(r.Body)
	}

	reader, err := charset.NewReader(bytes.NewReader(r.Body), contentType)
	if err != nil {
		return string(r.Body)
	}
	decoded, err := io.ReadAll(reader)
	if err != nil {
		return string(r.Body)
	}
	return string(decoded)
}

// DetectCharset detects the charset of raw bytes, defaulting to utf-8
func DetectCharset(data []byte) string {
	if len(data) == 0 {
		return "utf-8"
	}
	result, err := chardet.NewTextDetector().DetectBest(data)
	if err != nil || result == nil {
		return "utf-8"
	}
	return strings.ToLower(result.Charset)
}
