package gadget

import (
	"context"
	"maps"
	"slices"
	"sync"

	"github.com/GriffinCanCode/gadgetry/internal/dom"
	"github.com/GriffinCanCode/gadgetry/internal/infrastructure/logging"
	"go.uber.org/zap"
	"golang.org/x/net/html"
)

// Method is a declared gadget method
type Method func(ctx context.Context, g *Gadget, args ...any) (any, error)

// AcquisitionHandler serves a capability for descendants. scope is the
// requesting child's scope in g, empty while the child is still loading.
type AcquisitionHandler func(ctx context.Context, g *Gadget, args []any, scope string) (any, error)

// Hook runs once per instantiation, after child markers are declared
type Hook func(ctx context.Context, g *Gadget) error

// Service runs once per activation until its context ends
type Service func(ctx context.Context, g *Gadget) error

// Job is a named operation where a new call cancels the running one
type Job func(ctx context.Context, g *Gadget, args ...any) error

// EventHandler handles one occurrence of a DOM event on the gadget element
type EventHandler func(ctx context.Context, g *Gadget, ev dom.Event) error

type eventBinding struct {
	typ     string
	handler EventHandler
}

// StateCallback receives the fields a ChangeState actually modified
type StateCallback func(ctx context.Context, g *Gadget, changed map[string]any) error

// Built-in methods every gadget answers. The first five are announced to
// the embedding page by isolated gadgets.
const (
	MethodGetInterfaceList   = "getInterfaceList"
	MethodGetRequiredCSSList = "getRequiredCSSList"
	MethodGetRequiredJSList  = "getRequiredJSList"
	MethodGetPath            = "getPath"
	MethodGetTitle           = "getTitle"
	MethodGetElement         = "getElement"
	MethodDeclareGadget      = "declareGadget"
	MethodGetDeclaredGadget  = "getDeclaredGadget"
	MethodDropGadget         = "dropGadget"
	MethodChangeState        = "changeState"

	// CapabilityReportServiceError receives Monitor failures
	CapabilityReportServiceError = "reportServiceError"
)

var announcedBuiltins = []string{
	MethodGetInterfaceList,
	MethodGetRequiredCSSList,
	MethodGetRequiredJSList,
	MethodGetPath,
	MethodGetTitle,
}

// Klass is a gadget class: the parsed definition of one URL plus every
// declaration its scripts (or Go code) attached. It is sealed when the
// first instance is created; later declarations are ignored.
type Klass struct {
	url        string
	base       string
	title      string
	interfaces []string
	css        []string
	js         []string
	template   []*html.Node

	logger *logging.Logger

	mu            sync.RWMutex
	sealed        bool
	methods       map[string]Method
	own           []string
	acquired      map[string]string
	acquisitions  map[string]AcquisitionHandler
	readyHooks    []Hook
	services      []Service
	events        []eventBinding
	jobs          map[string]Job
	stateCallback StateCallback
	initialState  map[string]any
}

// newBaseKlass builds the descriptor every class is cloned from
func newBaseKlass(logger *logging.Logger) *Klass {
	k := &Klass{
		logger:       logger,
		methods:      make(map[string]Method),
		acquired:     make(map[string]string),
		acquisitions: make(map[string]AcquisitionHandler),
		jobs:         make(map[string]Job),
		initialState: make(map[string]any),
	}

	k.methods[MethodGetInterfaceList] = func(_ context.Context, g *Gadget, _ ...any) (any, error) {
		return g.InterfaceList(), nil
	}
	k.methods[MethodGetRequiredCSSList] = func(_ context.Context, g *Gadget, _ ...any) (any, error) {
		return g.RequiredCSSList(), nil
	}
	k.methods[MethodGetRequiredJSList] = func(_ context.Context, g *Gadget, _ ...any) (any, error) {
		return g.RequiredJSList(), nil
	}
	k.methods[MethodGetPath] = func(_ context.Context, g *Gadget, _ ...any) (any, error) {
		return g.Path(), nil
	}
	k.methods[MethodGetTitle] = func(_ context.Context, g *Gadget, _ ...any) (any, error) {
		return g.Title(), nil
	}
	k.methods[MethodGetElement] = func(_ context.Context, g *Gadget, _ ...any) (any, error) {
		return g.Element(), nil
	}
	k.methods[MethodDeclareGadget] = func(ctx context.Context, g *Gadget, args ...any) (any, error) {
		url, _ := arg[string](args, 0)
		opts, _ := arg[map[string]any](args, 1)
		return g.DeclareGadget(ctx, url, declareOptionsFromMap(opts))
	}
	k.methods[MethodGetDeclaredGadget] = func(_ context.Context, g *Gadget, args ...any) (any, error) {
		scope, _ := arg[string](args, 0)
		return g.GetDeclaredGadget(scope)
	}
	k.methods[MethodDropGadget] = func(_ context.Context, g *Gadget, args ...any) (any, error) {
		scope, _ := arg[string](args, 0)
		return nil, g.DropGadget(scope)
	}
	k.methods[MethodChangeState] = func(ctx context.Context, g *Gadget, args ...any) (any, error) {
		delta, _ := arg[map[string]any](args, 0)
		return nil, g.ChangeState(ctx, delta)
	}

	k.acquired["aq_"+CapabilityReportServiceError] = CapabilityReportServiceError
	k.sealed = true
	return k
}

// extend clones k for one class definition
func (k *Klass) extend(markup *dom.ClassMarkup) *Klass {
	k.mu.RLock()
	defer k.mu.RUnlock()

	return &Klass{
		url:          markup.URL,
		base:         markup.Base,
		title:        markup.Title,
		interfaces:   markup.Interfaces,
		css:          markup.CSS,
		js:           markup.JS,
		template:     markup.Template,
		logger:       k.logger,
		methods:      maps.Clone(k.methods),
		acquired:     maps.Clone(k.acquired),
		acquisitions: maps.Clone(k.acquisitions),
		readyHooks:   slices.Clone(k.readyHooks),
		services:     slices.Clone(k.services),
		events:       slices.Clone(k.events),
		jobs:         maps.Clone(k.jobs),
		initialState: maps.Clone(k.initialState),
	}
}

func (k *Klass) URL() string               { return k.url }
func (k *Klass) Title() string             { return k.title }
func (k *Klass) Interfaces() []string      { return slices.Clone(k.interfaces) }
func (k *Klass) RequiredCSS() []string     { return slices.Clone(k.css) }
func (k *Klass) RequiredJS() []string      { return slices.Clone(k.js) }
func (k *Klass) Template() []*html.Node    { return dom.CloneAll(k.template) }
func (k *Klass) resolve(ref string) string { return dom.AbsoluteURL(ref, k.base) }

// Sealed reports whether an instance has been created
func (k *Klass) Sealed() bool {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.sealed
}

func (k *Klass) seal() {
	k.mu.Lock()
	k.sealed = true
	k.mu.Unlock()
}

// declare applies fn under the lock unless the class is sealed
func (k *Klass) declare(what, name string, fn func()) *Klass {
	k.mu.Lock()
	defer k.mu.Unlock()

	if k.sealed {
		k.logger.Warn("declaration after instantiation ignored",
			zap.String("class", k.url),
			zap.String("declaration", what),
			zap.String("name", name))
		return k
	}
	fn()
	return k
}

// DeclareMethod adds a callable method
func (k *Klass) DeclareMethod(name string, m Method) *Klass {
	return k.declare("method", name, func() {
		if !slices.Contains(k.own, name) {
			k.own = append(k.own, name)
		}
		k.methods[name] = m
	})
}

// DeclareAcquiredMethod exposes name as a method that acquires capability
// from the gadget's ancestors
func (k *Klass) DeclareAcquiredMethod(name, capability string) *Klass {
	return k.declare("acquired method", name, func() {
		k.acquired[name] = capability
	})
}

// AllowPublicAcquisition lets descendants acquire name from instances of
// this class
func (k *Klass) AllowPublicAcquisition(name string, h AcquisitionHandler) *Klass {
	return k.declare("public acquisition", name, func() {
		k.acquisitions[name] = h
	})
}

// Ready appends a hook run after child markers are declared
func (k *Klass) Ready(h Hook) *Klass {
	return k.declare("ready hook", "", func() {
		k.readyHooks = append(k.readyHooks, h)
	})
}

// DeclareService adds a service started on every activation
func (k *Klass) DeclareService(s Service) *Klass {
	return k.declare("service", "", func() {
		k.services = append(k.services, s)
	})
}

// DeclareJob adds a named job
func (k *Klass) DeclareJob(name string, j Job) *Klass {
	return k.declare("job", name, func() {
		k.jobs[name] = j
	})
}

// OnEvent adds a service listening for typ on the gadget element. Each
// occurrence cancels the previous handler still running.
func (k *Klass) OnEvent(typ string, h EventHandler) *Klass {
	return k.declare("event", typ, func() {
		k.events = append(k.events, eventBinding{typ: typ, handler: h})
	})
}

// OnStateChange sets the callback receiving modified state fields
func (k *Klass) OnStateChange(cb StateCallback) *Klass {
	return k.declare("state callback", "", func() {
		k.stateCallback = cb
	})
}

// SetState merges fields into the initial state of new instances
func (k *Klass) SetState(state map[string]any) *Klass {
	return k.declare("state", "", func() {
		maps.Copy(k.initialState, state)
	})
}

// MethodNames lists methods declared for this class, built-ins excluded
func (k *Klass) MethodNames() []string {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return slices.Clone(k.own)
}

func (k *Klass) method(name string) (Method, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	m, ok := k.methods[name]
	return m, ok
}

func (k *Klass) acquiredCapability(name string) (string, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	c, ok := k.acquired[name]
	return c, ok
}

func (k *Klass) job(name string) (Job, bool) {
	k.mu.RLock()
	defer k.mu.RUnlock()
	j, ok := k.jobs[name]
	return j, ok
}

func (k *Klass) hooks() []Hook {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return slices.Clone(k.readyHooks)
}

func (k *Klass) serviceList() []Service {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return slices.Clone(k.services)
}

func (k *Klass) eventList() []eventBinding {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return slices.Clone(k.events)
}

func (k *Klass) onStateChange() StateCallback {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return k.stateCallback
}

func (k *Klass) publicAcquisitions() map[string]AcquisitionHandler {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return maps.Clone(k.acquisitions)
}

func (k *Klass) newState() map[string]any {
	k.mu.RLock()
	defer k.mu.RUnlock()
	return maps.Clone(k.initialState)
}

// hasMethod reports whether name resolves on instances of k
func (k *Klass) hasMethod(name string) bool {
	k.mu.RLock()
	defer k.mu.RUnlock()
	if _, ok := k.methods[name]; ok {
		return true
	}
	if _, ok := k.acquired[name]; ok {
		return true
	}
	_, ok := k.jobs[name]
	return ok
}

func arg[T any](args []any, i int) (T, bool) {
	var zero T
	if i >= len(args) {
		return zero, false
	}
	v, ok := args[i].(T)
	return v, ok
}
