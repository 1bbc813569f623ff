package server

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/GriffinCanCode/gadgetry/internal/gadget"
	"github.com/GriffinCanCode/gadgetry/internal/infrastructure/config"
	"github.com/GriffinCanCode/gadgetry/internal/infrastructure/logging"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func page(title, head, body string) string {
	return "<!DOCTYPE html><html><head><title>" + title + "</title>" + head + "</head><body>" + body + "</body></html>"
}

var gadgetFiles = map[string]string{
	"index.html": page("Home", "", `<p class="greeting">hello</p>`),
	"frame.html": page("Framed", `<script src="frame.js"></script>`, ""),
	"frame.js":   `rJS(window).declareMethod("double", function (n) { return n * 2; });`,
	"large.html": page("Large", "", strings.Repeat("<p>gadget</p>", 500)),
}

type fixture struct {
	srv *Server
	ts  *httptest.Server
	dir string
	cfg *config.Config
}

func (f *fixture) url(path string) string { return f.ts.URL + path }

func newFixture(t *testing.T, configure func(cfg *config.Config, base string)) *fixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	dir := t.TempDir()
	for name, body := range gadgetFiles {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(body), 0o644))
	}

	// The handler is bound after the listener exists so root URLs can
	// point back at this server.
	var handler http.Handler = http.NotFoundHandler()
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		handler.ServeHTTP(w, r)
	}))
	t.Cleanup(ts.Close)

	cfg := config.Default()
	cfg.Logging.Development = true
	cfg.RateLimit.Enabled = false
	cfg.Dev.GadgetDir = dir
	cfg.Runtime.FrameTimeout = 3 * time.Second
	cfg.Fetch.Timeout = 5 * time.Second
	cfg.Fetch.RetryCount = 0
	if configure != nil {
		configure(cfg, ts.URL)
	}

	srv, err := NewServer(cfg, logging.Nop(), nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Close(ctx)
	})
	handler = srv.Handler()

	return &fixture{srv: srv, ts: ts, dir: dir, cfg: cfg}
}

func get(t *testing.T, url string) (*http.Response, string) {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(body)
}

func TestHealth(t *testing.T) {
	f := newFixture(t, nil)

	resp, body := get(t, f.url("/health"))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, `"status":"healthy"`)
	assert.Contains(t, body, `"open":false`)
	assert.NotEmpty(t, resp.Header.Get("X-Trace-ID"))

	resp, body = get(t, f.url("/metrics"))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "gadgetry_http_requests_total")
}

func TestRender(t *testing.T) {
	f := newFixture(t, nil)

	t.Run("document", func(t *testing.T) {
		resp, body := get(t, f.url("/render?url="+f.url("/gadgets/index.html")))
		assert.Equal(t, http.StatusOK, resp.StatusCode)
		assert.Contains(t, resp.Header.Get("Content-Type"), "text/html")
		assert.Contains(t, body, `<p class="greeting">hello</p>`)
		assert.Empty(t, resp.Header.Get("X-Gadget-Crashed"))
	})

	t.Run("crash report", func(t *testing.T) {
		resp, body := get(t, f.url("/render?url="+f.url("/gadgets/missing.html")))
		assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
		assert.Equal(t, "true", resp.Header.Get("X-Gadget-Crashed"))
		assert.Contains(t, body, "Unhandled Error")
	})

	t.Run("invalid url", func(t *testing.T) {
		resp, body := get(t, f.url("/render?url=index.html"))
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
		assert.Contains(t, body, "error")
	})

	_, body := get(t, f.url("/pages"))
	assert.Contains(t, body, `"pages":null`)
}

func TestCompression(t *testing.T) {
	f := newFixture(t, nil)

	req, err := http.NewRequest(http.MethodGet, f.url("/gadgets/large.html"), nil)
	require.NoError(t, err)
	req.Header.Set("Accept-Encoding", "gzip")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "gzip", resp.Header.Get("Content-Encoding"))
}

func TestRootPage(t *testing.T) {
	f := newFixture(t, func(cfg *config.Config, base string) {
		cfg.Dev.RootURL = base + "/gadgets/index.html"
	})

	resp, _ := get(t, f.url("/page"))
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode)

	require.NoError(t, f.srv.Start())

	resp, body := get(t, f.url("/page"))
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "<title>Home</title>")

	require.NoError(t, os.WriteFile(filepath.Join(f.dir, "index.html"), []byte(page("Reloaded", "", "")), 0o644))
	resp, err := http.Post(f.url("/page/reload"), "text/plain", nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	reloaded, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(reloaded), "<title>Reloaded</title>")

	_, body = get(t, f.url("/health"))
	assert.Contains(t, body, `"open":true`)
}

func TestWatchReloadsRoot(t *testing.T) {
	f := newFixture(t, func(cfg *config.Config, base string) {
		cfg.Dev.RootURL = base + "/gadgets/index.html"
		cfg.Dev.Watch = true
	})
	require.NoError(t, f.srv.Start())

	first := f.srv.Pages().Root()
	require.NotNil(t, first)

	path := filepath.Join(f.dir, "index.html")
	require.NoError(t, os.WriteFile(path+".tmp", []byte(page("Edited", "", "")), 0o644))
	require.NoError(t, os.Rename(path+".tmp", path))

	require.Eventually(t, func() bool {
		root := f.srv.Pages().Root()
		return root != nil && root.ID() != first.ID() && root.Document().Title() == "Edited"
	}, 10*time.Second, 50*time.Millisecond)
}

func TestRemoteFrames(t *testing.T) {
	f := newFixture(t, nil)
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	parent := gadget.NewPage(gadget.Options{
		Runtime:  f.cfg.Runtime,
		Embedder: &gadget.RemoteEmbedder{Endpoint: "ws" + strings.TrimPrefix(f.ts.URL, "http") + "/frame"},
		Logger:   logging.Nop(),
	})
	defer parent.Close()
	require.NoError(t, parent.Open(ctx, f.url("/gadgets/index.html")))

	doc := parent.Document()
	el := doc.CreateElement("div")
	doc.AppendChild(doc.Body(), el)

	child, err := parent.Root().DeclareGadget(ctx, "frame.html", gadget.DeclareOptions{Element: el, Scope: "f", Sandbox: "iframe"})
	require.NoError(t, err)

	got, err := child.Call(ctx, "double", 21)
	require.NoError(t, err)
	assert.EqualValues(t, 42, got)

	got, err = child.Call(ctx, gadget.MethodGetTitle)
	require.NoError(t, err)
	assert.Equal(t, "Framed", got)

	_, body := get(t, f.url("/pages?kind=frame"))
	assert.Contains(t, body, f.url("/gadgets/frame.html"))

	require.NoError(t, parent.Root().DropGadget("f"))
	require.Eventually(t, func() bool {
		return f.srv.metrics.Snapshot().ActiveFrames == 0
	}, 5*time.Second, 20*time.Millisecond)
}

func TestNewServerRejectsUnknownFramesMode(t *testing.T) {
	cfg := config.Default()
	cfg.Frames.Mode = "carrier-pigeon"

	_, err := NewServer(cfg, logging.Nop(), nil)
	assert.Error(t, err)
}
