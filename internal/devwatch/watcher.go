package devwatch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/GriffinCanCode/gadgetry/internal/infrastructure/logging"
	"github.com/GriffinCanCode/gadgetry/internal/shared/utils"
	"github.com/bmatcuk/doublestar/v4"
	"github.com/charlievieth/fastwalk"
	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// DefaultDebounce groups editor save bursts into one reload
const DefaultDebounce = 150 * time.Millisecond

// Op describes what happened to a watched file
type Op string

const (
	Created  Op = "created"
	Modified Op = "modified"
	Removed  Op = "removed"
)

// Change is one file whose content differs from the last scan. Path is
// slash-separated and relative to the watched directory.
type Change struct {
	Path string
	Op   Op
}

// Handler receives a debounced batch of changes sorted by path
type Handler func(changes []Change)

// Options configure a Watcher
type Options struct {
	// Pattern selects files by doublestar glob relative to the root
	Pattern  string
	Debounce time.Duration
	Hasher   *utils.Hasher
	Logger   *logging.Logger
}

// Watcher reports content changes of gadget sources under a directory.
// Writes that leave a file's hash unchanged are not reported.
type Watcher struct {
	root     string
	pattern  string
	debounce time.Duration
	hasher   *utils.Hasher
	logger   *logging.Logger
	fsw      *fsnotify.Watcher

	mu     sync.Mutex
	hashes map[string]string

	closeOnce sync.Once
}

// New scans root and starts watching every directory below it
func New(root string, opts Options) (*Watcher, error) {
	if opts.Pattern == "" {
		opts.Pattern = "**/*"
	}
	if !doublestar.ValidatePattern(opts.Pattern) {
		return nil, fmt.Errorf("invalid watch pattern %q", opts.Pattern)
	}
	if opts.Debounce <= 0 {
		opts.Debounce = DefaultDebounce
	}
	if opts.Hasher == nil {
		opts.Hasher = utils.DefaultHasher()
	}
	if opts.Logger == nil {
		opts.Logger = logging.Nop()
	}

	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("watch root %s: %w", root, err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("watch root %s: %w", root, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("watch root %s is not a directory", root)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}

	w := &Watcher{
		root:     abs,
		pattern:  opts.Pattern,
		debounce: opts.Debounce,
		hasher:   opts.Hasher,
		logger:   opts.Logger.Named("devwatch"),
		fsw:      fsw,
		hashes:   make(map[string]string),
	}

	if err := w.scan(abs, nil); err != nil {
		fsw.Close()
		return nil, err
	}
	w.logger.Info("watching gadget sources",
		zap.String("root", abs),
		zap.String("pattern", opts.Pattern),
		zap.Int("files", w.Len()))
	return w, nil
}

// Len returns the number of tracked files
func (w *Watcher) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.hashes)
}

// Files returns the tracked relative paths, sorted
func (w *Watcher) Files() []string {
	w.mu.Lock()
	defer w.mu.Unlock()

	files := make([]string, 0, len(w.hashes))
	for rel := range w.hashes {
		files = append(files, rel)
	}
	sort.Strings(files)
	return files
}

// scan walks dir, watching directories and hashing matching files. Files
// that are new to the watcher are appended to found when it is non-nil.
func (w *Watcher) scan(dir string, found *[]Change) error {
	var foundMu sync.Mutex
	conf := fastwalk.Config{Follow: false}

	if err := w.fsw.Add(dir); err != nil {
		return fmt.Errorf("watch %s: %w", dir, err)
	}

	return fastwalk.Walk(&conf, dir, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			// vanished between readdir and stat
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if d.IsDir() {
			if err := w.fsw.Add(p); err != nil {
				return fmt.Errorf("watch %s: %w", p, err)
			}
			return nil
		}

		rel, ok := w.match(p)
		if !ok {
			return nil
		}
		sum, err := w.hasher.HashFile(p)
		if err != nil {
			return nil
		}

		w.mu.Lock()
		_, known := w.hashes[rel]
		w.hashes[rel] = sum
		w.mu.Unlock()

		if found != nil && !known {
			foundMu.Lock()
			*found = append(*found, Change{Path: rel, Op: Created})
			foundMu.Unlock()
		}
		return nil
	})
}

func (w *Watcher) match(path string) (string, bool) {
	rel, err := filepath.Rel(w.root, path)
	if err != nil {
		return "", false
	}
	rel = filepath.ToSlash(rel)
	ok, err := doublestar.Match(w.pattern, rel)
	return rel, err == nil && ok
}

// Run delivers change batches to handle until ctx is done or the watcher is
// closed
func (w *Watcher) Run(ctx context.Context, handle Handler) error {
	pending := make(map[string]Op)
	timer := time.NewTimer(w.debounce)
	timer.Stop()
	defer timer.Stop()

	flush := func() {
		if len(pending) == 0 {
			return
		}
		changes := make([]Change, 0, len(pending))
		for rel, op := range pending {
			changes = append(changes, Change{Path: rel, Op: op})
		}
		sort.Slice(changes, func(i, j int) bool { return changes[i].Path < changes[j].Path })
		clear(pending)

		w.logger.Debug("gadget sources changed", zap.Int("count", len(changes)))
		handle(changes)
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case ev, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			for _, c := range w.apply(ev) {
				pending[c.Path] = merge(pending[c.Path], c.Op)
			}
			if len(pending) > 0 {
				timer.Reset(w.debounce)
			}

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", zap.Error(err))

		case <-timer.C:
			flush()
		}
	}
}

// merge folds a later op into an earlier pending one
func merge(prev, next Op) Op {
	switch {
	case prev == "":
		return next
	case prev == Created && next == Modified:
		return Created
	case prev == Removed && next != Removed:
		return Modified
	}
	return next
}

// apply updates the hash table for one event and returns the resulting
// content changes
func (w *Watcher) apply(ev fsnotify.Event) []Change {
	if ev.Has(fsnotify.Create) {
		if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
			var found []Change
			if err := w.scan(ev.Name, &found); err != nil {
				w.logger.Warn("watch new directory", zap.String("dir", ev.Name), zap.Error(err))
			}
			return found
		}
	}

	rel, ok := w.match(ev.Name)
	if !ok {
		return nil
	}

	if ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename) {
		if _, err := os.Stat(ev.Name); err != nil {
			return w.forget(rel)
		}
	}
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Rename) {
		return nil
	}

	sum, err := w.hasher.HashFile(ev.Name)
	if err != nil {
		return w.forget(rel)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	prev, known := w.hashes[rel]
	if known && prev == sum {
		return nil
	}
	w.hashes[rel] = sum
	if known {
		return []Change{{Path: rel, Op: Modified}}
	}
	return []Change{{Path: rel, Op: Created}}
}

func (w *Watcher) forget(rel string) []Change {
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, known := w.hashes[rel]; !known {
		return nil
	}
	delete(w.hashes, rel)
	return []Change{{Path: rel, Op: Removed}}
}

// Close stops watching; Run returns once the event channels close
func (w *Watcher) Close() error {
	var err error
	w.closeOnce.Do(func() {
		err = w.fsw.Close()
	})
	return err
}
