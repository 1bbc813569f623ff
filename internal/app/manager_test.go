package app

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/GriffinCanCode/gadgetry/internal/channel"
	"github.com/GriffinCanCode/gadgetry/internal/fetch"
	"github.com/GriffinCanCode/gadgetry/internal/gadget"
	"github.com/GriffinCanCode/gadgetry/internal/infrastructure/config"
	"github.com/GriffinCanCode/gadgetry/internal/infrastructure/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const frameHTML = `<!DOCTYPE html><html><head><title>Framed</title>
<script>rJS(window).declareMethod("double", function (n) { return n * 2; });</script>
</head><body></body></html>`

// serveGadgets serves files from a temp dir and returns its base URL
func serveGadgets(t *testing.T, files map[string]string) (string, string) {
	t.Helper()
	dir := t.TempDir()
	for name, body := range files {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
	}
	srv := httptest.NewServer(http.FileServer(http.Dir(dir)))
	t.Cleanup(srv.Close)
	return srv.URL + "/", dir
}

func testOptions() gadget.Options {
	runtime := config.Default().Runtime
	runtime.FrameTimeout = 3 * time.Second
	return gadget.Options{
		Runtime: runtime,
		Fetcher: fetch.NewClient(config.FetchConfig{Timeout: 5 * time.Second}, fetch.Options{}, logging.Nop()),
		Logger:  logging.Nop(),
	}
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

func TestRender(t *testing.T) {
	base, _ := serveGadgets(t, map[string]string{
		"index.html": `<!DOCTYPE html><html><head><title>Home</title></head><body><p>hello</p></body></html>`,
	})
	m := NewManager(testOptions())
	t.Cleanup(m.Close)

	t.Run("document", func(t *testing.T) {
		html, crashed, err := m.Render(testContext(t), base+"index.html")
		require.NoError(t, err)
		assert.False(t, crashed)
		assert.Contains(t, html, "<title>Home</title>")
		assert.Contains(t, html, "<p>hello</p>")
	})

	t.Run("crash report", func(t *testing.T) {
		html, crashed, err := m.Render(testContext(t), base+"missing.html")
		require.NoError(t, err)
		assert.True(t, crashed)
		assert.Contains(t, html, "Unhandled Error")
		assert.Contains(t, html, "status 404")
	})

	assert.Empty(t, m.List(nil))
}

func TestRootLifecycle(t *testing.T) {
	base, dir := serveGadgets(t, map[string]string{
		"index.html": `<!DOCTYPE html><html><head><title>One</title></head><body></body></html>`,
	})
	m := NewManager(testOptions())
	t.Cleanup(m.Close)
	ctx := testContext(t)

	assert.Nil(t, m.Root())
	assert.ErrorIs(t, m.Reload(ctx), ErrNoRoot)

	require.NoError(t, m.OpenRoot(ctx, base+"index.html"))
	first := m.Root()
	require.NotNil(t, first)
	assert.Equal(t, "One", first.Document().Title())

	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.html"),
		[]byte(`<!DOCTYPE html><html><head><title>Two</title></head><body></body></html>`), 0o644))
	require.NoError(t, m.Reload(ctx))

	second := m.Root()
	assert.NotEqual(t, first.ID(), second.ID())
	assert.Equal(t, "Two", second.Document().Title())
	select {
	case <-first.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("previous root page was not closed")
	}

	root := KindRoot
	infos := m.List(&root)
	require.Len(t, infos, 1)
	assert.Equal(t, second.ID(), infos[0].ID)
	assert.Equal(t, 1, m.Stats()[KindRoot])

	_, ok := m.Get(first.ID())
	assert.False(t, ok)
}

func TestCrashedRootIsKept(t *testing.T) {
	base, _ := serveGadgets(t, map[string]string{})
	m := NewManager(testOptions())
	t.Cleanup(m.Close)

	// FileServer redirects */index.html to the directory listing, so a
	// missing root must use another name to get a 404
	err := m.OpenRoot(testContext(t), base+"home.html")
	require.Error(t, err)
	root := m.Root()
	require.NotNil(t, root)
	assert.True(t, root.Crashed())
	assert.Equal(t, base+"home.html", root.URL())

	out, err := root.Render()
	require.NoError(t, err)
	assert.Contains(t, out, "status 404")

	infos := m.List(nil)
	require.Len(t, infos, 1)
	assert.True(t, infos[0].Crashed)
}

// hostEmbedder hosts isolated gadgets on a Manager over an in-memory pipe
type hostEmbedder struct {
	m *Manager
}

func (e hostEmbedder) Embed(_ context.Context, url string) (channel.Transport, error) {
	parent, child := channel.Pipe()
	e.m.HostFrame(url, "session-1", child)
	return parent, nil
}

func TestHostFrame(t *testing.T) {
	base, _ := serveGadgets(t, map[string]string{
		"index.html": `<!DOCTYPE html><html><head></head><body></body></html>`,
		"frame.html": frameHTML,
	})
	host := NewManager(testOptions())
	t.Cleanup(host.Close)
	ctx := testContext(t)

	opts := testOptions()
	opts.Embedder = hostEmbedder{m: host}
	parent := gadget.NewPage(opts)
	t.Cleanup(parent.Close)
	require.NoError(t, parent.Open(ctx, base+"index.html"))

	doc := parent.Document()
	el := doc.CreateElement("div")
	doc.AppendChild(doc.Body(), el)

	child, err := parent.Root().DeclareGadget(ctx, "frame.html", gadget.DeclareOptions{Element: el, Scope: "f", Sandbox: "iframe"})
	require.NoError(t, err)

	frames := KindFrame
	infos := host.List(&frames)
	require.Len(t, infos, 1)
	assert.Equal(t, "session-1", infos[0].Session)
	assert.Equal(t, base+"frame.html", infos[0].URL)

	got, err := child.Call(ctx, "double", 21)
	require.NoError(t, err)
	assert.EqualValues(t, 42, got)

	require.NoError(t, parent.Root().DropGadget("f"))
	require.Eventually(t, func() bool {
		return len(host.List(&frames)) == 0
	}, 5*time.Second, 10*time.Millisecond)
}
