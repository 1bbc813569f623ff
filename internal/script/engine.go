package script

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/GriffinCanCode/gadgetry/internal/infrastructure/logging"
	"github.com/dop251/goja"
	"go.uber.org/zap"
)

// Mapper converts values and errors across the Go/JavaScript boundary.
// The gadget runtime installs one that turns gadgets into script objects.
type Mapper interface {
	ToJS(vm *goja.Runtime, v any) goja.Value
	FromJS(vm *goja.Runtime, v goja.Value) any
	ErrorToJS(vm *goja.Runtime, err error) goja.Value
	ErrorFromJS(vm *goja.Runtime, v goja.Value) error
}

// Options configure an Engine
type Options struct {
	Name   string
	Logger *logging.Logger
	// Timeout bounds one Run; zero disables it
	Timeout time.Duration
	// OnUncaught receives exceptions nobody awaited (timer callbacks)
	OnUncaught func(error)
}

// Engine is one JavaScript execution context
type Engine struct {
	vm      *goja.Runtime
	loop    *Loop
	logger  *logging.Logger
	timeout time.Duration

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.RWMutex
	mapper     Mapper
	onUncaught func(error)

	timersMu  sync.Mutex
	timers    map[int64]*time.Timer
	nextTimer int64
}

// New creates an engine with console and timer globals installed
func New(opts Options) *Engine {
	ctx, cancel := context.WithCancel(context.Background())
	logger := opts.Logger.Named("script")
	if opts.Name != "" {
		logger = logger.With(zap.String("context", opts.Name))
	}

	e := &Engine{
		vm:         goja.New(),
		logger:     logger,
		timeout:    opts.Timeout,
		ctx:        ctx,
		cancel:     cancel,
		mapper:     DefaultMapper{},
		onUncaught: opts.OnUncaught,
		timers:     make(map[int64]*time.Timer),
	}
	e.vm.SetFieldNameMapper(goja.UncapFieldNameMapper())
	e.loop = NewLoop(func(v any) {
		if err, ok := v.(error); ok {
			e.uncaught(err)
		}
	})
	e.loop.Do(e.installGlobals)
	return e
}

// SetMapper replaces the value mapper
func (e *Engine) SetMapper(m Mapper) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.mapper = m
}

// SetOnUncaught replaces the uncaught exception sink
func (e *Engine) SetOnUncaught(fn func(error)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onUncaught = fn
}

func (e *Engine) m() Mapper {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.mapper
}

// Context is cancelled when the engine closes
func (e *Engine) Context() context.Context { return e.ctx }

// Do queues fn on the loop goroutine
func (e *Engine) Do(fn func(vm *goja.Runtime)) error {
	if !e.loop.Do(func() { fn(e.vm) }) {
		return ErrClosed
	}
	return nil
}

// Exec runs fn on the loop and waits for it. It must not be called from
// the loop goroutine.
func (e *Engine) Exec(ctx context.Context, fn func(vm *goja.Runtime) error) error {
	done := make(chan error, 1)
	if err := e.Do(func(vm *goja.Runtime) { done <- fn(vm) }); err != nil {
		return err
	}
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	case <-e.loop.Done():
		return ErrClosed
	}
}

// Run compiles and evaluates src. Exceptions come back as errors; the run
// is interrupted after the configured timeout or when ctx ends.
func (e *Engine) Run(ctx context.Context, name, src string) error {
	prg, err := goja.Compile(name, src, false)
	if err != nil {
		return fmt.Errorf("compile %s: %w", name, err)
	}

	return e.Exec(ctx, func(vm *goja.Runtime) error {
		disarm := e.arm(ctx)
		defer disarm()

		_, err := vm.RunProgram(prg)
		return e.exception(vm, err)
	})
}

// Eval runs fn on the loop; a returned promise is awaited. The settled
// value is converted with the mapper.
func (e *Engine) Eval(ctx context.Context, fn func(vm *goja.Runtime) (goja.Value, error)) (any, error) {
	type settled struct {
		v   any
		err error
	}
	res := make(chan settled, 1)
	report := func(v any, err error) {
		select {
		case res <- settled{v, err}:
		default:
		}
	}

	err := e.Do(func(vm *goja.Runtime) {
		val, err := fn(vm)
		if err != nil {
			report(nil, e.exception(vm, err))
			return
		}
		e.settle(vm, val, report)
	})
	if err != nil {
		return nil, err
	}

	select {
	case s := <-res:
		return s.v, s.err
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-e.loop.Done():
		return nil, ErrClosed
	}
}

// Async returns a promise settled by fn, which runs on its own goroutine.
// Call it from the loop goroutine.
func (e *Engine) Async(vm *goja.Runtime, fn func(ctx context.Context) (any, error)) goja.Value {
	p, resolve, reject := vm.NewPromise()
	go func() {
		v, err := fn(e.ctx)
		e.loop.Do(func() {
			if err != nil {
				_ = reject(e.m().ErrorToJS(vm, err))
				return
			}
			_ = resolve(e.m().ToJS(vm, v))
		})
	}()
	return vm.ToValue(p)
}

// ToJS converts a Go value with the mapper. Call it from the loop goroutine.
func (e *Engine) ToJS(vm *goja.Runtime, v any) goja.Value { return e.m().ToJS(vm, v) }

// FromJS converts a JavaScript value with the mapper
func (e *Engine) FromJS(vm *goja.Runtime, v goja.Value) any { return e.m().FromJS(vm, v) }

// ErrorFromJS converts a thrown or rejected value
func (e *Engine) ErrorFromJS(vm *goja.Runtime, v goja.Value) error {
	return e.m().ErrorFromJS(vm, v)
}

// ErrorToJS converts a Go error into a throwable value
func (e *Engine) ErrorToJS(vm *goja.Runtime, err error) goja.Value {
	return e.m().ErrorToJS(vm, err)
}

// Close stops timers and the loop
func (e *Engine) Close() {
	e.cancel()

	e.timersMu.Lock()
	for id, t := range e.timers {
		t.Stop()
		delete(e.timers, id)
	}
	e.timersMu.Unlock()

	e.loop.Stop()
}

func (e *Engine) settle(vm *goja.Runtime, val goja.Value, report func(any, error)) {
	if val == nil {
		report(nil, nil)
		return
	}
	p, ok := val.Export().(*goja.Promise)
	if !ok {
		report(e.m().FromJS(vm, val), nil)
		return
	}

	switch p.State() {
	case goja.PromiseStateFulfilled:
		report(e.m().FromJS(vm, p.Result()), nil)
	case goja.PromiseStateRejected:
		report(nil, e.m().ErrorFromJS(vm, p.Result()))
	default:
		obj := val.ToObject(vm)
		then, ok := goja.AssertFunction(obj.Get("then"))
		if !ok {
			report(nil, errors.New("promise without then"))
			return
		}
		onFulfilled := vm.ToValue(func(call goja.FunctionCall) goja.Value {
			report(e.m().FromJS(vm, call.Argument(0)), nil)
			return goja.Undefined()
		})
		onRejected := vm.ToValue(func(call goja.FunctionCall) goja.Value {
			report(nil, e.m().ErrorFromJS(vm, call.Argument(0)))
			return goja.Undefined()
		})
		if _, err := then(obj, onFulfilled, onRejected); err != nil {
			report(nil, e.exception(vm, err))
		}
	}
}

// arm interrupts the runtime on timeout or cancellation
func (e *Engine) arm(ctx context.Context) (disarm func()) {
	var timer *time.Timer
	if e.timeout > 0 {
		timer = time.AfterFunc(e.timeout, func() { e.vm.Interrupt(ErrScriptTimeout) })
	}
	stop := context.AfterFunc(ctx, func() { e.vm.Interrupt(ctx.Err()) })

	return func() {
		if timer != nil {
			timer.Stop()
		}
		stop()
		e.vm.ClearInterrupt()
	}
}

// exception converts goja failures into Go errors
func (e *Engine) exception(vm *goja.Runtime, err error) error {
	if err == nil {
		return nil
	}

	var interrupted *goja.InterruptedError
	if errors.As(err, &interrupted) {
		if cause, ok := interrupted.Value().(error); ok {
			return cause
		}
		return fmt.Errorf("interrupted: %v", interrupted.Value())
	}

	var ex *goja.Exception
	if errors.As(err, &ex) {
		converted := e.m().ErrorFromJS(vm, ex.Value())
		var jsErr *JSError
		if errors.As(converted, &jsErr) && jsErr.Stack == "" {
			jsErr.Stack = ex.String()
		}
		return converted
	}
	return err
}

func (e *Engine) uncaught(err error) {
	e.logger.Warn("uncaught script error", zap.Error(err))

	e.mu.RLock()
	fn := e.onUncaught
	e.mu.RUnlock()
	if fn != nil {
		fn(err)
	}
}

func (e *Engine) installGlobals() {
	vm := e.vm

	console := vm.NewObject()
	for _, level := range []string{"log", "info", "warn", "error", "debug"} {
		_ = console.Set(level, e.consoleFunc(level))
	}
	_ = vm.Set("console", console)

	_ = vm.Set("setTimeout", e.setTimeout)
	_ = vm.Set("clearTimeout", e.clearTimeout)

	_ = vm.Set("window", vm.GlobalObject())
}

func (e *Engine) consoleFunc(level string) func(goja.FunctionCall) goja.Value {
	return func(call goja.FunctionCall) goja.Value {
		parts := make([]string, len(call.Arguments))
		for i, arg := range call.Arguments {
			parts[i] = arg.String()
		}
		msg := strings.Join(parts, " ")

		switch level {
		case "error":
			e.logger.Error(msg, zap.String("source", "console"))
		case "warn":
			e.logger.Warn(msg, zap.String("source", "console"))
		case "debug":
			e.logger.Debug(msg, zap.String("source", "console"))
		default:
			e.logger.Info(msg, zap.String("source", "console"))
		}
		return goja.Undefined()
	}
}

func (e *Engine) setTimeout(call goja.FunctionCall) goja.Value {
	fn, ok := goja.AssertFunction(call.Argument(0))
	if !ok {
		panic(e.vm.NewTypeError("setTimeout: callback is not a function"))
	}
	delay := time.Duration(call.Argument(1).ToInteger()) * time.Millisecond
	var args []goja.Value
	if len(call.Arguments) > 2 {
		args = append(args, call.Arguments[2:]...)
	}

	e.timersMu.Lock()
	e.nextTimer++
	timerID := e.nextTimer
	e.timers[timerID] = time.AfterFunc(delay, func() {
		e.loop.Do(func() {
			e.timersMu.Lock()
			_, live := e.timers[timerID]
			delete(e.timers, timerID)
			e.timersMu.Unlock()
			if !live {
				return
			}
			if _, err := fn(goja.Undefined(), args...); err != nil {
				e.uncaught(e.exception(e.vm, err))
			}
		})
	})
	e.timersMu.Unlock()

	return e.vm.ToValue(timerID)
}

func (e *Engine) clearTimeout(call goja.FunctionCall) goja.Value {
	timerID := call.Argument(0).ToInteger()

	e.timersMu.Lock()
	if t, ok := e.timers[timerID]; ok {
		t.Stop()
		delete(e.timers, timerID)
	}
	e.timersMu.Unlock()
	return goja.Undefined()
}

// DefaultMapper exports values and wraps errors as GoError objects
type DefaultMapper struct{}

func (DefaultMapper) ToJS(vm *goja.Runtime, v any) goja.Value {
	if v == nil {
		return goja.Undefined()
	}
	return vm.ToValue(v)
}

func (DefaultMapper) FromJS(_ *goja.Runtime, v goja.Value) any {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil
	}
	return v.Export()
}

func (DefaultMapper) ErrorToJS(vm *goja.Runtime, err error) goja.Value {
	return vm.NewGoError(err)
}

func (DefaultMapper) ErrorFromJS(vm *goja.Runtime, v goja.Value) error {
	return ErrorValue(vm, v)
}

// ErrorValue converts a thrown value: Go errors wrapped by NewGoError come
// back unchanged, anything else becomes a *JSError.
func ErrorValue(vm *goja.Runtime, v goja.Value) error {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return &JSError{Name: "Error", Message: "undefined"}
	}
	if err, ok := v.Export().(error); ok {
		return err
	}

	obj, ok := v.(*goja.Object)
	if !ok {
		return &JSError{Name: "Error", Message: v.String()}
	}
	if inner := obj.Get("value"); inner != nil {
		if err, ok := inner.Export().(error); ok {
			return err
		}
	}

	jsErr := &JSError{Name: "Error", Message: v.String()}
	if name := obj.Get("name"); name != nil && !goja.IsUndefined(name) {
		jsErr.Name = name.String()
	}
	if msg := obj.Get("message"); msg != nil && !goja.IsUndefined(msg) {
		jsErr.Message = msg.String()
	}
	if stack := obj.Get("stack"); stack != nil && !goja.IsUndefined(stack) {
		jsErr.Stack = stack.String()
	}
	return jsErr
}
