package devwatch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/GriffinCanCode/gadgetry/internal/infrastructure/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const pattern = "**/*.{html,js,css}"

// write replaces name atomically the way editors save
func write(t *testing.T, dir, name, body string) {
	t.Helper()
	path := filepath.Join(dir, filepath.FromSlash(name))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path+".tmp", []byte(body), 0o644))
	require.NoError(t, os.Rename(path+".tmp", path))
}

// start runs w and returns the batches it delivers
func start(t *testing.T, w *Watcher) <-chan []Change {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	batches := make(chan []Change, 16)
	done := make(chan struct{})
	go func() {
		defer close(done)
		w.Run(ctx, func(changes []Change) { batches <- changes })
	}()
	t.Cleanup(func() {
		cancel()
		w.Close()
		<-done
	})
	return batches
}

// await collects batches until every path in want has been reported
func await(t *testing.T, batches <-chan []Change, want ...string) map[string]Op {
	t.Helper()
	seen := make(map[string]Op)
	deadline := time.After(5 * time.Second)
	for {
		complete := true
		for _, p := range want {
			if _, ok := seen[p]; !ok {
				complete = false
			}
		}
		if complete {
			return seen
		}
		select {
		case batch := <-batches:
			for _, c := range batch {
				seen[c.Path] = c.Op
			}
		case <-deadline:
			t.Fatalf("timed out waiting for %v, saw %v", want, seen)
		}
	}
}

func quiet(t *testing.T, batches <-chan []Change) {
	t.Helper()
	select {
	case batch := <-batches:
		t.Fatalf("unexpected changes %v", batch)
	case <-time.After(300 * time.Millisecond):
	}
}

func newWatcher(t *testing.T, dir string) *Watcher {
	t.Helper()
	w, err := New(dir, Options{Pattern: pattern, Debounce: 50 * time.Millisecond, Logger: logging.Nop()})
	require.NoError(t, err)
	return w
}

func TestNewScansMatchingFiles(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "index.html", "<p>index</p>")
	write(t, dir, "widgets/clock.js", "rJS(window)")
	write(t, dir, "widgets/clock.css", "p {}")
	write(t, dir, "notes.txt", "ignored")

	w := newWatcher(t, dir)
	defer w.Close()

	assert.Equal(t, []string{"index.html", "widgets/clock.css", "widgets/clock.js"}, w.Files())
	assert.Equal(t, 3, w.Len())
}

func TestNewRejectsBadInput(t *testing.T) {
	dir := t.TempDir()

	_, err := New(dir, Options{Pattern: "[", Logger: logging.Nop()})
	assert.Error(t, err)

	_, err = New(filepath.Join(dir, "missing"), Options{})
	assert.Error(t, err)

	write(t, dir, "file.html", "")
	_, err = New(filepath.Join(dir, "file.html"), Options{})
	assert.Error(t, err)
}

func TestRunReportsContentChanges(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "index.html", "<p>one</p>")
	write(t, dir, "gone.js", "var x;")

	w := newWatcher(t, dir)
	batches := start(t, w)

	write(t, dir, "index.html", "<p>two</p>")
	seen := await(t, batches, "index.html")
	assert.Equal(t, Modified, seen["index.html"])

	require.NoError(t, os.Remove(filepath.Join(dir, "gone.js")))
	seen = await(t, batches, "gone.js")
	assert.Equal(t, Removed, seen["gone.js"])
	assert.Equal(t, []string{"index.html"}, w.Files())
}

func TestRunIgnoresUnchangedRewrites(t *testing.T) {
	dir := t.TempDir()
	write(t, dir, "index.html", "<p>same</p>")

	w := newWatcher(t, dir)
	batches := start(t, w)

	write(t, dir, "index.html", "<p>same</p>")
	write(t, dir, "notes.txt", "not a gadget source")
	quiet(t, batches)
}

func TestRunWatchesNewDirectories(t *testing.T) {
	dir := t.TempDir()
	w := newWatcher(t, dir)
	batches := start(t, w)

	write(t, dir, "fresh/gadget.html", "<p>new</p>")
	await(t, batches, "fresh/gadget.html")

	write(t, dir, "fresh/gadget.js", "rJS(window)")
	await(t, batches, "fresh/gadget.js")
	assert.Equal(t, []string{"fresh/gadget.html", "fresh/gadget.js"}, w.Files())
}

func TestMerge(t *testing.T) {
	tests := []struct {
		prev, next, want Op
	}{
		{"", Modified, Modified},
		{Created, Modified, Created},
		{Removed, Created, Modified},
		{Modified, Removed, Removed},
		{Created, Removed, Removed},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, merge(tt.prev, tt.next), "%s then %s", tt.prev, tt.next)
	}
}
