package main

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func gadgetServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/index.html", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		w.Write([]byte(`<!DOCTYPE html><html><head><title>Home</title></head><body><p>hi</p></body></html>`))
	})
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts
}

func execute(args ...string) (string, error) {
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestRenderCommand(t *testing.T) {
	ts := gadgetServer(t)

	out, err := execute("render", ts.URL+"/index.html")
	require.NoError(t, err)
	assert.Contains(t, out, "<title>Home</title>")
	assert.Contains(t, out, "<p>hi</p>")
}

func TestRenderCommandCrash(t *testing.T) {
	ts := gadgetServer(t)
	t.Setenv("FETCH_RETRIES", "0")

	out, err := execute("render", ts.URL+"/missing.html")
	assert.ErrorIs(t, err, errCrashed)
	assert.Contains(t, out, "Unhandled Error")
}

func TestRenderCommandRejectsBadURL(t *testing.T) {
	_, err := execute("render", "ftp://example.com/index.html")
	assert.Error(t, err)

	_, err = execute("render")
	assert.Error(t, err)
}

func TestMissingConfigFile(t *testing.T) {
	_, err := execute("--config", "does-not-exist.yaml", "render", "http://example.com/")
	assert.Error(t, err)
}
