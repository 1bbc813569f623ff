package fetch

import (
	"encoding/base64"
	"errors"
	"fmt"
	"net/url"
	"strings"
)

var ErrMalformedDataURL = errors.New("malformed data url")

// EncodeDataURL serializes body as a base64 data URL
func EncodeDataURL(mediaType string, body []byte) string {
	return "data:" + mediaType + ";base64," + base64.StdEncoding.EncodeToString(body)
}

// DecodeDataURL decodes an RFC 2397 data URL into a Response. The media
// type defaults to text/plain;charset=US-ASCII.
func DecodeDataURL(raw string) (*Response, error) {
	rest, ok := strings.CutPrefix(raw, "data:")
	if !ok {
		return nil, ErrMalformedDataURL
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return nil, ErrMalformedDataURL
	}

	encoded := false
	if m, found := strings.CutSuffix(meta, ";base64"); found {
		meta, encoded = m, true
	}
	if meta == "" {
		meta = "text/plain;charset=US-ASCII"
	}

	var body []byte
	if encoded {
		decoded, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedDataURL, err)
		}
		body = decoded
	} else {
		unescaped, err := url.PathUnescape(payload)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedDataURL, err)
		}
		body = []byte(unescaped)
	}

	return &Response{
		URL:         raw,
		Status:      200,
		ContentType: meta,
		Body:        body,
	}, nil
}
