package dom

import (
	"encoding/base64"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const classMarkup = `<!DOCTYPE html>
<html>
<head>
  <title>Todo list</title>
  <link rel="stylesheet" href="todo.css">
  <link rel="stylesheet" href="/shared/base.css">
  <script src="renderjs.js"></script>
  <script type="text/javascript" src="todo.js"></script>
  <script type="text/x-template" src="ignored.tmpl"></script>
  <script>rJS(window).ready(function () {});</script>
  <link rel="http://www.renderjs.org/rel/interface" href="interface/list.html">
  <link rel="icon" href="favicon.ico">
</head>
<body><ul class="items"></ul><div data-gadget-url="item.html"></div></body></html>`

func TestParseClassMarkup(t *testing.T) {
	m, err := ParseClassMarkup("http://example.test/gadgets/todo.html", strings.NewReader(classMarkup))
	require.NoError(t, err)

	assert.Equal(t, "Todo list", m.Title)
	assert.Equal(t, []string{
		"http://example.test/gadgets/todo.css",
		"http://example.test/shared/base.css",
	}, m.CSS)
	assert.Equal(t, []string{
		"http://example.test/gadgets/renderjs.js",
		"http://example.test/gadgets/todo.js",
	}, m.JS)
	assert.Equal(t, []string{"http://example.test/gadgets/interface/list.html"}, m.Interfaces)

	require.Len(t, m.Scripts, 3)
	assert.Contains(t, m.Scripts[2].Code, "rJS(window)")

	require.Len(t, m.Template, 2)
	assert.Nil(t, m.Template[0].Parent)
	assert.Equal(t, `<ul class="items"></ul>`, OuterHTML(m.Template[0]))
}

func TestParseClassMarkupBase(t *testing.T) {
	markup := `<html><head><base href="../lib/"><script src="x.js"></script></head><body></body></html>`

	m, err := ParseClassMarkup("http://example.test/app/g.html", strings.NewReader(markup))
	require.NoError(t, err)
	assert.Equal(t, []string{"http://example.test/lib/x.js"}, m.JS)
}

func TestParseClassMarkupRelativeURL(t *testing.T) {
	_, err := ParseClassMarkup("gadgets/todo.html", strings.NewReader(classMarkup))
	assert.ErrorIs(t, err, ErrRelativeURL)
}

func TestAbsoluteURL(t *testing.T) {
	tests := []struct {
		ref, base, want string
	}{
		{"a.html", "http://x.test/dir/index.html", "http://x.test/dir/a.html"},
		{"../a.html", "http://x.test/dir/sub/", "http://x.test/dir/a.html"},
		{"http://y.test/a.html", "http://x.test/", "http://y.test/a.html"},
		{"//cdn.test/a.js", "https://x.test/", "//cdn.test/a.js"},
		{"data:text/html,hi", "http://x.test/", "data:text/html,hi"},
		{"a.html", "", "a.html"},
		{"", "http://x.test/", ""},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, AbsoluteURL(tt.ref, tt.base), tt.ref)
	}
}

func TestIsAbsoluteOrDataURL(t *testing.T) {
	assert.True(t, IsAbsoluteOrDataURL("HTTP://x.test/"))
	assert.True(t, IsAbsoluteOrDataURL("//x.test/"))
	assert.True(t, IsAbsoluteOrDataURL("data:,x"))
	assert.False(t, IsAbsoluteOrDataURL("/x.html"))
	assert.False(t, IsAbsoluteOrDataURL("x.html"))
}

func TestInlineDocument(t *testing.T) {
	uri, err := InlineDocument("http://example.test/g/frame.html",
		`<html><head><title>f</title></head><body><script src="f.js"></script></body></html>`)
	require.NoError(t, err)

	payload, ok := strings.CutPrefix(uri, "data:text/html;charset=utf-8;base64,")
	require.True(t, ok)
	decoded, err := base64.StdEncoding.DecodeString(payload)
	require.NoError(t, err)

	assert.Contains(t, string(decoded), `<head><base href="http://example.test/g/frame.html"/><title>f</title>`)
	assert.Contains(t, string(decoded), `<script src="f.js"></script>`)
}
