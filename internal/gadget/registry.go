package gadget

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/GriffinCanCode/gadgetry/internal/dom"
	"github.com/GriffinCanCode/gadgetry/internal/fetch"
	"github.com/GriffinCanCode/gadgetry/internal/infrastructure/logging"
	"github.com/GriffinCanCode/gadgetry/internal/infrastructure/monitoring"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Host is the execution context a Registry loads dependencies into
type Host interface {
	RunScript(ctx context.Context, url, src string) error
	AddStylesheet(url string)
}

// Registry loads, parses and caches gadget classes for one execution
// context. It also owns the script/stylesheet dedupe sets and the stack of
// classes whose scripts are being evaluated.
type Registry struct {
	fetcher fetch.Fetcher
	host    Host
	logger  *logging.Logger
	metrics *monitoring.Metrics
	base    *Klass

	loads singleflight.Group
	deps  singleflight.Group

	mu         sync.RWMutex
	classes    map[string]*Klass
	js         map[string]struct{}
	css        map[string]struct{}
	loading    []*Klass
	extensions map[string][]func(*Klass)

	// evalMu serializes script evaluation so the loading stack top is the
	// class whose script runs
	evalMu sync.Mutex
}

// NewRegistry creates an empty registry
func NewRegistry(fetcher fetch.Fetcher, host Host, logger *logging.Logger, metrics *monitoring.Metrics) *Registry {
	logger = logger.Named("registry")
	return &Registry{
		fetcher:    fetcher,
		host:       host,
		logger:     logger,
		metrics:    metrics,
		base:       newBaseKlass(logger),
		classes:    make(map[string]*Klass),
		js:         make(map[string]struct{}),
		css:        make(map[string]struct{}),
		extensions: make(map[string][]func(*Klass)),
	}
}

// Extend registers Go declarations applied to the class of url when it is
// built, before its scripts run. Extensions survive Reset.
func (r *Registry) Extend(url string, fn func(*Klass)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.extensions[url] = append(r.extensions[url], fn)
}

// DeclareClass returns the class defined at url, loading it on first use.
// Concurrent callers share one load; a failed load is not cached.
func (r *Registry) DeclareClass(ctx context.Context, url string) (*Klass, error) {
	if k, ok := r.Class(url); ok {
		return k, nil
	}
	return r.share(ctx, url)
}

// share joins or starts the load of url. The cache is checked again inside
// the group: a load that finished after the caller's miss has already been
// forgotten by it.
func (r *Registry) share(ctx context.Context, url string) (*Klass, error) {
	ch := r.loads.DoChan(url, func() (any, error) {
		if k, ok := r.Class(url); ok {
			return k, nil
		}
		return r.load(context.WithoutCancel(ctx), url)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*Klass), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (r *Registry) load(ctx context.Context, url string) (k *Klass, err error) {
	start := time.Now()
	defer func() {
		r.metrics.RecordClassLoad(err, time.Since(start))
		if err != nil {
			r.logger.Warn("class load failed", zap.String("url", url), zap.Error(err))
		}
	}()

	resp, err := r.fetchMarkup(ctx, url)
	if err != nil {
		return nil, err
	}

	markup, err := dom.ParseClassMarkup(url, strings.NewReader(resp.Text()))
	if err != nil {
		return nil, &ParseError{URL: url, Err: err}
	}

	k = r.newKlass(markup)

	for _, dep := range k.js {
		if err := r.loadJS(ctx, dep, k); err != nil {
			return nil, err
		}
	}
	for _, dep := range k.css {
		if err := r.DeclareCSS(ctx, dep); err != nil {
			return nil, err
		}
	}

	r.mu.Lock()
	r.classes[url] = k
	r.mu.Unlock()

	r.logger.Debug("class loaded",
		zap.String("url", url),
		zap.String("title", k.title),
		zap.Int("js", len(k.js)),
		zap.Int("css", len(k.css)))
	return k, nil
}

// fetchMarkup fetches url and requires an HTML response
func (r *Registry) fetchMarkup(ctx context.Context, url string) (*fetch.Response, error) {
	resp, err := r.fetcher.Get(ctx, url, fetch.AcceptMarkup)
	if err != nil {
		fe := &FetchError{URL: url, Err: err}
		var se *fetch.StatusError
		if errors.As(err, &se) {
			fe.Status = se.Status
		}
		return nil, fe
	}
	if !resp.IsMarkup() {
		return nil, &FetchError{URL: url, Status: resp.Status, ContentType: resp.ContentType}
	}
	return resp, nil
}

// newKlass clones the base descriptor for markup and applies extensions
func (r *Registry) newKlass(markup *dom.ClassMarkup) *Klass {
	k := r.base.extend(markup)

	r.mu.RLock()
	exts := slices.Clone(r.extensions[markup.URL])
	r.mu.RUnlock()

	for _, fn := range exts {
		fn(k)
	}
	return k
}

// rootKlass builds and caches the class of a page's own document. Its
// dependencies count as loaded since the page runs them itself.
func (r *Registry) rootKlass(markup *dom.ClassMarkup) (*Klass, error) {
	r.mu.Lock()
	if _, exists := r.classes[markup.URL]; exists {
		r.mu.Unlock()
		return nil, fmt.Errorf("bootstrap of %s should not run twice", markup.URL)
	}
	r.mu.Unlock()

	k := r.newKlass(markup)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.classes[markup.URL] = k
	for _, dep := range k.js {
		r.js[dep] = struct{}{}
	}
	for _, dep := range k.css {
		r.css[dep] = struct{}{}
	}
	return k, nil
}

// DeclareJS loads and runs a script once per registry
func (r *Registry) DeclareJS(ctx context.Context, url string) error {
	return r.loadJS(ctx, url, nil)
}

func (r *Registry) loadJS(ctx context.Context, url string, k *Klass) (err error) {
	if r.loaded("js", url) {
		return nil
	}
	defer func() { r.metrics.RecordDependencyLoad("js", err) }()

	resp, err := r.fetchDependency(ctx, "js", url)
	if err != nil {
		return err
	}

	r.evalMu.Lock()
	defer r.evalMu.Unlock()

	// another class may have run it while this one was fetching
	if r.loaded("js", url) {
		return nil
	}

	if err := r.evaluate(ctx, url, resp.Text(), k); err != nil {
		return fmt.Errorf("load script %s: %w", url, err)
	}

	r.mu.Lock()
	r.js[url] = struct{}{}
	r.mu.Unlock()
	return nil
}

// Evaluate runs src with k on top of the loading stack
func (r *Registry) Evaluate(ctx context.Context, name, src string, k *Klass) error {
	r.evalMu.Lock()
	defer r.evalMu.Unlock()
	return r.evaluate(ctx, name, src, k)
}

func (r *Registry) evaluate(ctx context.Context, name, src string, k *Klass) error {
	if k != nil {
		r.push(k)
		defer r.pop()
	}
	return r.host.RunScript(ctx, name, src)
}

// DeclareCSS loads a stylesheet once per registry and links it into the
// host document
func (r *Registry) DeclareCSS(ctx context.Context, url string) (err error) {
	if r.loaded("css", url) {
		return nil
	}
	defer func() { r.metrics.RecordDependencyLoad("css", err) }()

	if _, err := r.fetchDependency(ctx, "css", url); err != nil {
		return err
	}

	r.mu.Lock()
	if _, done := r.css[url]; done {
		r.mu.Unlock()
		return nil
	}
	r.css[url] = struct{}{}
	r.mu.Unlock()

	r.host.AddStylesheet(url)
	return nil
}

// fetchDependency shares one fetch between concurrent loads of url
func (r *Registry) fetchDependency(ctx context.Context, kind, url string) (*fetch.Response, error) {
	ch := r.deps.DoChan(kind+":"+url, func() (any, error) {
		resp, err := r.fetcher.Get(context.WithoutCancel(ctx), url, fetch.AcceptAny)
		if err != nil {
			return nil, &FetchError{URL: url, Err: err}
		}
		return resp, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*fetch.Response), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (r *Registry) loaded(kind, url string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	set := r.js
	if kind == "css" {
		set = r.css
	}
	_, ok := set[url]
	return ok
}

func (r *Registry) push(k *Klass) {
	r.mu.Lock()
	r.loading = append(r.loading, k)
	r.mu.Unlock()
}

func (r *Registry) pop() {
	r.mu.Lock()
	r.loading = r.loading[:len(r.loading)-1]
	r.mu.Unlock()
}

// Loading returns the class whose script is being evaluated, or nil
func (r *Registry) Loading() *Klass {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if len(r.loading) == 0 {
		return nil
	}
	return r.loading[len(r.loading)-1]
}

// Class returns a cached class
func (r *Registry) Class(url string) (*Klass, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	k, ok := r.classes[url]
	return k, ok
}

// Reset forgets every cached class and loaded dependency
func (r *Registry) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.classes = make(map[string]*Klass)
	r.js = make(map[string]struct{})
	r.css = make(map[string]struct{})
	r.logger.Info("registry reset")
}

// frameKlass returns a fresh class for the parent-side proxy of an
// isolated gadget
func (r *Registry) frameKlass(url string) *Klass {
	return r.base.extend(&dom.ClassMarkup{URL: url, Base: url})
}
