package gadget

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/GriffinCanCode/gadgetry/internal/channel"
	"github.com/GriffinCanCode/gadgetry/internal/dom"
	"github.com/GriffinCanCode/gadgetry/internal/fetch"
	"github.com/GriffinCanCode/gadgetry/internal/infrastructure/config"
	"github.com/GriffinCanCode/gadgetry/internal/infrastructure/logging"
	"github.com/GriffinCanCode/gadgetry/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/gadgetry/internal/script"
	"github.com/GriffinCanCode/gadgetry/internal/shared/id"
	"github.com/bytedance/sonic"
	"go.uber.org/zap"
	"golang.org/x/net/html"
)

// errStopping closes every crash history entry
var errStopping = errors.New("Stopping RenderJS")

// Options configure a Page
type Options struct {
	Runtime config.RuntimeConfig
	// Fetcher defaults to an HTTP client built from config.Default
	Fetcher fetch.Fetcher
	// Embedder hosts isolated gadgets; defaults to child pages in process
	Embedder Embedder
	Logger   *logging.Logger
	Metrics  *monitoring.Metrics
	// Classes attach Go declarations to the class at each URL
	Classes map[string]func(*Klass)
}

// Page is one execution context: a document, its class registry, a script
// engine and the root gadget bound to the document body.
type Page struct {
	id       id.PageID
	cfg      config.RuntimeConfig
	embedder Embedder
	logger   *logging.Logger
	metrics  *monitoring.Metrics

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	engine   *script.Engine
	registry *Registry
	terminal acquirer
	scopes   atomic.Int64

	mu        sync.RWMutex
	url       string
	doc       *dom.Document
	root      *Gadget
	frames    map[*frame]struct{}
	parent    *channel.Channel
	stopWatch func()

	historyMu sync.Mutex
	history   []error
	crashed   bool
	unloading atomic.Bool

	closeOnce sync.Once
}

// NewPage creates an empty page. Call Open to load a document into it, or
// Embed to run it as an isolated gadget.
func NewPage(opts Options) *Page {
	if opts.Runtime == (config.RuntimeConfig{}) {
		opts.Runtime = config.Default().Runtime
	}
	if opts.Fetcher == nil {
		cfg := config.Default()
		opts.Fetcher = fetch.NewClient(cfg.Fetch, fetch.Options{UserAgent: opts.Runtime.UserAgent}, opts.Logger)
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Page{
		id:      id.NewPageID(),
		cfg:     opts.Runtime,
		metrics: opts.Metrics,
		ctx:     ctx,
		cancel:  cancel,
		done:    make(chan struct{}),
		doc:     dom.NewDocument("about:blank"),
		frames:  make(map[*frame]struct{}),
	}
	p.logger = opts.Logger.Named("page").With(zap.String("page_id", p.id.String()))

	p.engine = script.New(script.Options{
		Name:       p.id.String(),
		Logger:     p.logger,
		Timeout:    opts.Runtime.ScriptTimeout,
		OnUncaught: p.record,
	})
	p.registry = NewRegistry(opts.Fetcher, p, p.logger, opts.Metrics)
	for url, fn := range opts.Classes {
		p.registry.Extend(url, fn)
	}
	p.terminal = terminalAcquirer(p)

	p.embedder = opts.Embedder
	if p.embedder == nil {
		p.embedder = NewLocalEmbedder(opts)
	}

	installAPI(p)
	p.metrics.AddPages(1)
	return p
}

// Open loads the document at url, evaluates its scripts, binds the root
// gadget to its body and starts it. Any failure crashes the page.
func (p *Page) Open(ctx context.Context, url string) error {
	err := p.bootstrap(ctx, url, p.terminal, nil)
	if err != nil {
		p.Crash(err)
	}
	return err
}

// bootstrap loads the page document. aq answers acquisitions nothing in
// the page claims; scriptsDone, when set, runs once the page scripts were
// evaluated and before the root pipeline.
func (p *Page) bootstrap(ctx context.Context, url string, aq acquirer, scriptsDone func(*Klass)) error {
	// set first so a failed fetch still reports its location
	p.mu.Lock()
	p.url = url
	p.mu.Unlock()

	resp, err := p.registry.fetchMarkup(ctx, url)
	if err != nil {
		return err
	}

	doc, err := dom.Parse(url, strings.NewReader(resp.Text()))
	if err != nil {
		return &ParseError{URL: url, Err: err}
	}
	markup, err := dom.ClassMarkupFromNode(url, doc.Root())
	if err != nil {
		return &ParseError{URL: url, Err: err}
	}

	p.mu.Lock()
	p.url = url
	p.doc = doc
	p.mu.Unlock()

	k, err := p.registry.rootKlass(markup)
	if err != nil {
		return err
	}

	for i, s := range markup.Scripts {
		name, src := s.Src, s.Code
		if s.Src == "" {
			name = url + "#script" + strconv.Itoa(i)
		} else {
			dep, err := p.registry.fetchDependency(ctx, "js", s.Src)
			if err != nil {
				return err
			}
			src = dep.Text()
		}
		if err := p.registry.Evaluate(ctx, name, src, k); err != nil {
			return fmt.Errorf("load script %s: %w", name, err)
		}
	}
	if scriptsDone != nil {
		scriptsDone(k)
	}

	root := newGadget(p, k, doc.Body(), SandboxPublic)
	root.aqParent = aq
	doc.SetData(root.element, gadgetKey, root)

	p.mu.Lock()
	p.root = root
	p.stopWatch = p.watch(doc)
	p.mu.Unlock()

	if _, err := sequence(ctx, root, root.pipeline()...); err != nil {
		return err
	}
	root.startService()

	p.logger.Info("page ready", zap.String("url", url), zap.Strings("children", root.Scopes()))
	return nil
}

// RunScript evaluates src in the page engine
func (p *Page) RunScript(ctx context.Context, url, src string) error {
	return p.engine.Run(ctx, url, src)
}

// AddStylesheet links url into the document head
func (p *Page) AddStylesheet(url string) {
	doc := p.Document()
	link := doc.CreateElement("link")
	doc.SetAttr(link, "rel", "stylesheet")
	doc.SetAttr(link, "type", "text/css")
	doc.SetAttr(link, "href", url)
	doc.AppendChild(doc.Head(), link)
}

func (p *Page) ID() id.PageID { return p.id }

func (p *Page) URL() string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.url
}

func (p *Page) Document() *dom.Document {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.doc
}

// Root returns the gadget bound to the document body, nil before Open
func (p *Page) Root() *Gadget {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.root
}

func (p *Page) Registry() *Registry      { return p.registry }
func (p *Page) Engine() *script.Engine   { return p.engine }
func (p *Page) Context() context.Context { return p.ctx }
func (p *Page) Done() <-chan struct{}    { return p.done }

// Extend attaches Go declarations to the class at url
func (p *Page) Extend(url string, fn func(*Klass)) {
	p.registry.Extend(url, fn)
}

// Render serializes the current document
func (p *Page) Render() (string, error) {
	return p.Document().Render()
}

func (p *Page) nextScope() string {
	return "RJS_" + strconv.FormatInt(p.scopes.Add(1)-1, 10)
}

// callContext bounds work started on behalf of a remote peer or a failure
// sink; it outlives the caller but not the page
func (p *Page) callContext() (context.Context, context.CancelFunc) {
	if p.cfg.CallTimeout > 0 {
		return context.WithTimeout(p.ctx, p.cfg.CallTimeout)
	}
	return context.WithCancel(p.ctx)
}

// record keeps an error for the crash report without crashing
func (p *Page) record(err error) {
	p.historyMu.Lock()
	p.history = append(p.history, err)
	p.historyMu.Unlock()
}

// Errors returns the recorded error history
func (p *Page) Errors() []error {
	p.historyMu.Lock()
	defer p.historyMu.Unlock()
	return slices.Clone(p.history)
}

// Crashed reports whether the crash report replaced the document body
func (p *Page) Crashed() bool {
	p.historyMu.Lock()
	defer p.historyMu.Unlock()
	return p.crashed
}

// Unload marks the page as going away; later failures are only logged
func (p *Page) Unload() {
	p.unloading.Store(true)
}

// Crash replaces the document body with a report of err and every error
// recorded before it
func (p *Page) Crash(err error) {
	if p.unloading.Load() {
		p.logger.Info("error dropped while unloading", zap.Error(err))
		return
	}

	p.historyMu.Lock()
	p.history = append(p.history, err, errStopping)
	history := slices.Clone(p.history)
	p.crashed = true
	p.historyMu.Unlock()

	p.metrics.IncCrashes()
	p.logger.Error("unhandled gadget error", zap.Error(err))

	doc := p.Document()
	doc.ReplaceChildren(doc.Body(), crashReport(p.URL(), p.cfg.UserAgent, history)...)
}

func crashReport(location, userAgent string, history []error) []*html.Node {
	link := dom.Build("a", []html.Attribute{{Key: "href", Val: location}}, dom.NewText(location))
	nodes := []*html.Node{dom.Build("section", nil,
		dom.Build("h1", nil, dom.NewText("Unhandled Error")),
		dom.Build("p", nil, dom.NewText("Please report this error to the support team")),
		dom.Build("p", nil, dom.NewText("Location: "), link),
		dom.Build("p", nil, dom.NewText("User-agent: "+userAgent)),
	)}

	for _, err := range history {
		section := []*html.Node{dom.Build("h2", nil, dom.NewText(err.Error()))}

		var fielded interface{ Fields() map[string]any }
		if errors.As(err, &fielded) {
			if data, merr := sonic.MarshalString(fielded.Fields()); merr == nil {
				section = append(section, dom.Build("p", nil, dom.NewText("Fields: "+data)))
			}
		}
		var traced interface{ StackTrace() string }
		if errors.As(err, &traced) && traced.StackTrace() != "" {
			section = append(section, dom.Build("pre", nil, dom.NewText("Stack: "+traced.StackTrace())))
		}
		nodes = append(nodes, dom.Build("section", nil, section...))
	}
	return nodes
}

// Close stops every gadget, closes isolated children and the channel to
// the embedding page, and stops the engine. It is idempotent.
func (p *Page) Close() {
	p.closeOnce.Do(func() {
		p.unloading.Store(true)

		p.mu.Lock()
		root := p.root
		stopWatch := p.stopWatch
		parent := p.parent
		frames := make([]*frame, 0, len(p.frames))
		for f := range p.frames {
			frames = append(frames, f)
		}
		p.mu.Unlock()

		if stopWatch != nil {
			stopWatch()
		}
		if root != nil {
			root.stop()
		}
		for _, f := range frames {
			f.close()
		}
		if parent != nil {
			_ = parent.Close()
		}

		p.cancel()
		p.engine.Close()
		p.metrics.AddPages(-1)
		close(p.done)
		p.logger.Debug("page closed")
	})
}

// stop cancels the monitors of g and its descendants
func (g *Gadget) stop() {
	if m := g.Monitor(); m != nil {
		m.Cancel()
	}
	for _, child := range g.childList() {
		child.stop()
	}
}
