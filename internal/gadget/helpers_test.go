package gadget

import (
	"context"
	"path"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/GriffinCanCode/gadgetry/internal/fetch"
	"github.com/GriffinCanCode/gadgetry/internal/infrastructure/config"
	"github.com/GriffinCanCode/gadgetry/internal/infrastructure/logging"
	"github.com/dop251/goja"
	"github.com/stretchr/testify/require"
	"golang.org/x/net/html"
)

const base = "http://gadgets.test/"

const (
	testTimeout = 5 * time.Second
	testTick    = 10 * time.Millisecond
)

// stubFetcher serves documents from memory and counts requests
type stubFetcher struct {
	mu    sync.Mutex
	files map[string]string
	hits  map[string]int
}

func newStub(files map[string]string) *stubFetcher {
	s := &stubFetcher{files: make(map[string]string), hits: make(map[string]int)}
	for name, body := range files {
		s.files[base+name] = body
	}
	return s
}

func (s *stubFetcher) Get(_ context.Context, rawURL, _ string) (*fetch.Response, error) {
	if strings.HasPrefix(rawURL, "data:") {
		return fetch.DecodeDataURL(rawURL)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.hits[rawURL]++
	body, ok := s.files[rawURL]
	if !ok {
		return nil, &fetch.StatusError{URL: rawURL, Status: 404}
	}
	return &fetch.Response{
		URL:         rawURL,
		Status:      200,
		ContentType: contentType(rawURL),
		Body:        []byte(body),
	}, nil
}

func (s *stubFetcher) set(name, body string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.files[base+name] = body
}

func (s *stubFetcher) count(name string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.hits[base+name]
}

func contentType(rawURL string) string {
	switch path.Ext(rawURL) {
	case ".js":
		return "application/javascript; charset=utf-8"
	case ".css":
		return "text/css; charset=utf-8"
	case ".txt":
		return "text/plain; charset=utf-8"
	}
	return "text/html; charset=utf-8"
}

func testRuntime() config.RuntimeConfig {
	return config.RuntimeConfig{
		FrameTimeout:  3 * time.Second,
		ScriptTimeout: 3 * time.Second,
		CallTimeout:   5 * time.Second,
		UserAgent:     "gadgetry-test",
	}
}

func newTestPage(t *testing.T, fetcher fetch.Fetcher, classes map[string]func(*Klass)) *Page {
	t.Helper()
	p := NewPage(Options{
		Runtime: testRuntime(),
		Fetcher: fetcher,
		Logger:  logging.Nop(),
		Classes: classes,
	})
	t.Cleanup(p.Close)
	return p
}

// openPage serves files, opens index.html and returns the page
func openPage(t *testing.T, files map[string]string, classes map[string]func(*Klass)) (*Page, *stubFetcher) {
	t.Helper()
	stub := newStub(files)
	p := newTestPage(t, stub, classes)
	require.NoError(t, p.Open(testContext(t), base+"index.html"))
	return p, stub
}

func testContext(t *testing.T) context.Context {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// container appends a fresh <div> to the page body
func container(p *Page) *html.Node {
	doc := p.Document()
	el := doc.CreateElement("div")
	doc.AppendChild(doc.Body(), el)
	return el
}

func page(head, body string) string {
	return "<!DOCTYPE html><html><head>" + head + "</head><body>" + body + "</body></html>"
}

func recv[T any](t *testing.T, ch <-chan T) T {
	t.Helper()
	select {
	case v := <-ch:
		return v
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for value")
	}
	var zero T
	return zero
}

// scriptValue evaluates src in an Engine.Eval call
func scriptValue(src string) func(vm *goja.Runtime) (goja.Value, error) {
	return func(vm *goja.Runtime) (goja.Value, error) {
		return vm.RunString(src)
	}
}
