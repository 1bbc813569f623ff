package gadget

import (
	"context"
	"maps"
	"sort"
	"sync"

	"golang.org/x/net/html"
)

// Gadget is one instantiated component of a page's gadget tree
type Gadget struct {
	page    *Page
	klass   *Klass
	element *html.Node
	path    string
	sandbox Sandbox

	// aqParent resolves capabilities this gadget does not claim itself
	aqParent acquirer
	// remote is set for the parent-side proxy of an isolated gadget
	remote *frame

	mu            sync.RWMutex
	state         map[string]any
	pendingMods   map[string]any
	children      map[string]*Gadget
	acquisitions  map[string]AcquisitionHandler
	monitor       *Monitor
	jobs          map[string]*jobRun
	jobQueue      []queuedJob
	jobsTriggered bool

	// stateSem serializes ChangeState
	stateSem chan struct{}
}

func newGadget(p *Page, k *Klass, element *html.Node, sandbox Sandbox) *Gadget {
	k.seal()
	return &Gadget{
		page:         p,
		klass:        k,
		element:      element,
		path:         k.URL(),
		sandbox:      sandbox,
		aqParent:     p.terminal,
		state:        k.newState(),
		children:     make(map[string]*Gadget),
		acquisitions: k.publicAcquisitions(),
		jobs:         make(map[string]*jobRun),
		stateSem:     make(chan struct{}, 1),
	}
}

// Page returns the page the gadget lives in
func (g *Gadget) Page() *Page { return g.page }

// Klass returns the gadget class
func (g *Gadget) Klass() *Klass { return g.klass }

// Sandbox returns the embodiment the gadget was declared with
func (g *Gadget) Sandbox() Sandbox { return g.sandbox }

func (g *Gadget) InterfaceList() []string   { return g.klass.Interfaces() }
func (g *Gadget) RequiredCSSList() []string { return g.klass.RequiredCSS() }
func (g *Gadget) RequiredJSList() []string  { return g.klass.RequiredJS() }
func (g *Gadget) Path() string              { return g.path }
func (g *Gadget) Title() string             { return g.klass.Title() }
func (g *Gadget) Element() *html.Node       { return g.element }

// State returns a copy of the gadget state
func (g *Gadget) State() map[string]any {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return maps.Clone(g.state)
}

// GetDeclaredGadget returns the child registered under scope
func (g *Gadget) GetDeclaredGadget(scope string) (*Gadget, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	child, ok := g.children[scope]
	if !ok {
		return nil, &UnknownScopeError{Scope: scope}
	}
	return child, nil
}

// DropGadget removes the child registered under scope. An isolated
// child's channel is closed.
func (g *Gadget) DropGadget(scope string) error {
	g.mu.Lock()
	child, ok := g.children[scope]
	if !ok {
		g.mu.Unlock()
		return &UnknownScopeError{Scope: scope}
	}
	delete(g.children, scope)
	g.mu.Unlock()

	if child.remote != nil {
		child.remote.close()
	}
	return nil
}

// Scopes lists the scopes of declared children
func (g *Gadget) Scopes() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	scopes := make([]string, 0, len(g.children))
	for scope := range g.children {
		scopes = append(scopes, scope)
	}
	sort.Strings(scopes)
	return scopes
}

// register adds child under scope, generating one when scope is empty
func (g *Gadget) register(scope string, child *Gadget) string {
	g.mu.Lock()
	defer g.mu.Unlock()

	if scope == "" {
		for {
			scope = g.page.nextScope()
			if _, used := g.children[scope]; !used {
				break
			}
		}
	}
	g.children[scope] = child
	return scope
}

// scopeOf returns child's scope in g, or "" when it is not registered
func (g *Gadget) scopeOf(child *Gadget) string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	for scope, c := range g.children {
		if c == child {
			return scope
		}
	}
	return ""
}

func (g *Gadget) childList() []*Gadget {
	g.mu.RLock()
	defer g.mu.RUnlock()

	list := make([]*Gadget, 0, len(g.children))
	for _, c := range g.children {
		list = append(list, c)
	}
	return list
}

// HasMethod reports whether Call can resolve name
func (g *Gadget) HasMethod(name string) bool {
	if g.remote != nil && g.remote.has(name) {
		return true
	}
	return g.klass.hasMethod(name)
}

// Call invokes a method by name. Methods announced by an isolated gadget
// win, then class methods, then acquired methods, then jobs (which return
// once started).
func (g *Gadget) Call(ctx context.Context, name string, args ...any) (any, error) {
	if g.remote != nil && g.remote.has(name) {
		return g.remote.call(ctx, name, args)
	}
	if m, ok := g.klass.method(name); ok {
		return m(ctx, g, args...)
	}
	if capability, ok := g.klass.acquiredCapability(name); ok {
		return g.Acquire(ctx, capability, args...)
	}
	if _, ok := g.klass.job(name); ok {
		return nil, g.RunJob(name, args...)
	}
	return nil, &UnknownMethodError{Method: name}
}

// Monitor returns the gadget's current monitor
func (g *Gadget) Monitor() *Monitor {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.monitor
}
