package gadget

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/GriffinCanCode/gadgetry/internal/dom"
	"github.com/GriffinCanCode/gadgetry/internal/script"
	"github.com/dop251/goja"
	"golang.org/x/net/html"
)

// scriptAPI is the page's script surface: the rJS class declaration API,
// a minimal document, and stable JS objects for gadgets and elements.
// Its maps are only touched on the engine loop.
type scriptAPI struct {
	page *Page

	objects map[any]*goja.Object
	values  map[*goja.Object]any

	// aqProto is rJS.AcquisitionError.prototype
	aqProto *goja.Object
}

func installAPI(p *Page) {
	api := &scriptAPI{
		page:    p,
		objects: make(map[any]*goja.Object),
		values:  make(map[*goja.Object]any),
	}
	p.engine.SetMapper(api)
	_ = p.engine.Do(api.install)
}

func (api *scriptAPI) install(vm *goja.Runtime) {
	rjs := vm.ToValue(func(call goja.FunctionCall) goja.Value {
		selector := call.Argument(0)
		if !selector.SameAs(vm.GlobalObject()) {
			panic(vm.NewGoError(fmt.Errorf("Unknown selector '%s'", selector.String())))
		}
		k := api.page.registry.Loading()
		if k == nil {
			panic(vm.NewGoError(errors.New("rJS(window) is only available while a gadget class loads")))
		}
		return api.klassObject(vm, k)
	}).(*goja.Object)

	ctor := vm.ToValue(func(call goja.ConstructorCall) *goja.Object {
		msg := call.Argument(0)
		if goja.IsUndefined(msg) {
			return api.acquisitionError(vm, NewAcquisitionError(""))
		}
		if _, ok := msg.Export().(string); !ok {
			panic(vm.NewTypeError("You must pass a string."))
		}
		return api.acquisitionError(vm, NewAcquisitionError(msg.String()))
	}).(*goja.Object)

	proto, ok := ctor.Get("prototype").(*goja.Object)
	if !ok {
		proto = vm.NewObject()
		_ = ctor.Set("prototype", proto)
	}
	if errorCtor, ok := vm.Get("Error").(*goja.Object); ok {
		if errorProto, ok := errorCtor.Get("prototype").(*goja.Object); ok {
			_ = proto.SetPrototype(errorProto)
		}
	}
	_ = proto.Set("name", "AcquisitionError")
	api.aqProto = proto

	_ = rjs.Set("AcquisitionError", ctor)
	_ = rjs.Set("declareJS", func(url string) goja.Value {
		return api.page.engine.Async(vm, func(ctx context.Context) (any, error) {
			return nil, api.page.registry.DeclareJS(ctx, url)
		})
	})
	_ = rjs.Set("declareCSS", func(url string) goja.Value {
		return api.page.engine.Async(vm, func(ctx context.Context) (any, error) {
			return nil, api.page.registry.DeclareCSS(ctx, url)
		})
	})
	_ = rjs.Set("getAbsoluteURL", func(url, base string) string {
		return dom.AbsoluteURL(url, base)
	})

	_ = vm.Set("rJS", rjs)
	_ = vm.Set("document", vm.NewDynamicObject(&documentObject{api: api, vm: vm}))
}

// klassObject is the chainable declaration API returned by rJS(window)
func (api *scriptAPI) klassObject(vm *goja.Runtime, k *Klass) *goja.Object {
	obj := vm.NewObject()
	define := func(name string, fn func(call goja.FunctionCall)) {
		_ = obj.Set(name, func(call goja.FunctionCall) goja.Value {
			fn(call)
			return obj
		})
	}

	define("declareMethod", func(call goja.FunctionCall) {
		fn := callable(vm, call.Argument(1))
		k.DeclareMethod(call.Argument(0).String(), func(ctx context.Context, g *Gadget, args ...any) (any, error) {
			return api.call(ctx, fn, g, args...)
		})
	})
	define("declareAcquiredMethod", func(call goja.FunctionCall) {
		k.DeclareAcquiredMethod(call.Argument(0).String(), call.Argument(1).String())
	})
	define("allowPublicAcquisition", func(call goja.FunctionCall) {
		fn := callable(vm, call.Argument(1))
		k.AllowPublicAcquisition(call.Argument(0).String(), func(ctx context.Context, g *Gadget, args []any, scope string) (any, error) {
			return api.call(ctx, fn, g, args, scope)
		})
	})
	define("ready", func(call goja.FunctionCall) {
		fn := callable(vm, call.Argument(0))
		k.Ready(func(ctx context.Context, g *Gadget) error {
			_, err := api.call(ctx, fn, g, g)
			return err
		})
	})
	define("declareService", func(call goja.FunctionCall) {
		fn := callable(vm, call.Argument(0))
		k.DeclareService(func(ctx context.Context, g *Gadget) error {
			_, err := api.call(ctx, fn, g, g)
			return err
		})
	})
	define("declareJob", func(call goja.FunctionCall) {
		fn := callable(vm, call.Argument(1))
		k.DeclareJob(call.Argument(0).String(), func(ctx context.Context, g *Gadget, args ...any) error {
			_, err := api.call(ctx, fn, g, args...)
			return err
		})
	})
	define("onEvent", func(call goja.FunctionCall) {
		fn := callable(vm, call.Argument(1))
		k.OnEvent(call.Argument(0).String(), func(ctx context.Context, g *Gadget, ev dom.Event) error {
			_, err := api.call(ctx, fn, g, ev)
			return err
		})
	})
	define("onStateChange", func(call goja.FunctionCall) {
		fn := callable(vm, call.Argument(0))
		k.OnStateChange(func(ctx context.Context, g *Gadget, changed map[string]any) error {
			_, err := api.call(ctx, fn, g, changed)
			return err
		})
	})
	define("setState", func(call goja.FunctionCall) {
		state, _ := api.FromJS(vm, call.Argument(0)).(map[string]any)
		k.SetState(state)
	})
	return obj
}

// call runs fn with g as this and waits for the promise it may return
func (api *scriptAPI) call(ctx context.Context, fn goja.Callable, g *Gadget, args ...any) (any, error) {
	return api.page.engine.Eval(ctx, func(vm *goja.Runtime) (goja.Value, error) {
		jsArgs := make([]goja.Value, len(args))
		for i, a := range args {
			jsArgs[i] = api.ToJS(vm, a)
		}
		return fn(api.ToJS(vm, g), jsArgs...)
	})
}

func callable(vm *goja.Runtime, v goja.Value) goja.Callable {
	fn, ok := goja.AssertFunction(v)
	if !ok {
		panic(vm.NewTypeError("%s is not a function", v.String()))
	}
	return fn
}

func (api *scriptAPI) object(key any, create func() *goja.Object) *goja.Object {
	if obj, ok := api.objects[key]; ok {
		return obj
	}
	obj := create()
	api.objects[key] = obj
	api.values[obj] = key
	return obj
}

func (api *scriptAPI) ToJS(vm *goja.Runtime, v any) goja.Value {
	switch v := v.(type) {
	case nil:
		return goja.Undefined()
	case *Gadget:
		if v == nil {
			return goja.Null()
		}
		return api.object(v, func() *goja.Object {
			return vm.NewDynamicObject(&gadgetObject{api: api, vm: vm, g: v})
		})
	case *html.Node:
		if v == nil {
			return goja.Null()
		}
		return api.object(v, func() *goja.Object {
			return vm.NewDynamicObject(&elementObject{api: api, vm: vm, node: v})
		})
	case dom.Event:
		obj := vm.NewObject()
		_ = obj.Set("type", v.Type)
		_ = obj.Set("target", api.ToJS(vm, v.Target))
		_ = obj.Set("detail", api.ToJS(vm, v.Detail))
		return obj
	case []any:
		list := make([]any, len(v))
		for i, e := range v {
			list[i] = api.ToJS(vm, e)
		}
		return vm.NewArray(list...)
	case error:
		return api.ErrorToJS(vm, v)
	}
	return vm.ToValue(v)
}

func (api *scriptAPI) FromJS(_ *goja.Runtime, v goja.Value) any {
	if v == nil || goja.IsUndefined(v) || goja.IsNull(v) {
		return nil
	}
	if obj, ok := v.(*goja.Object); ok {
		if value, ok := api.values[obj]; ok {
			return value
		}
	}
	return unwrap(v.Export())
}

// unwrap replaces exported gadget and element objects nested in plain
// values with what they stand for
func unwrap(v any) any {
	switch v := v.(type) {
	case *gadgetObject:
		return v.g
	case *elementObject:
		return v.node
	case map[string]any:
		for key, e := range v {
			v[key] = unwrap(e)
		}
	case []any:
		for i, e := range v {
			v[i] = unwrap(e)
		}
	}
	return v
}

func (api *scriptAPI) ErrorToJS(vm *goja.Runtime, err error) goja.Value {
	if IsAcquisitionError(err) {
		return api.acquisitionError(vm, err)
	}
	obj := vm.NewGoError(err)
	var kinded interface{ Kind() string }
	if errors.As(err, &kinded) {
		_ = obj.Set("name", kinded.Kind())
	}
	return obj
}

func (api *scriptAPI) ErrorFromJS(vm *goja.Runtime, v goja.Value) error {
	err := script.ErrorValue(vm, v)
	var jsErr *script.JSError
	if errors.As(err, &jsErr) && jsErr.Name == "AcquisitionError" {
		return NewAcquisitionError(jsErr.Message)
	}
	return err
}

func (api *scriptAPI) acquisitionError(vm *goja.Runtime, err error) *goja.Object {
	obj := vm.NewGoError(err)
	if api.aqProto != nil {
		_ = obj.SetPrototype(api.aqProto)
	}
	_ = obj.Set("name", "AcquisitionError")
	return obj
}

// gadgetObject is the JS view of a gadget. Every method resolves
// through Gadget.Call and returns a promise; other properties scripts set
// are kept on the object.
type gadgetObject struct {
	api   *scriptAPI
	vm    *goja.Runtime
	g     *Gadget
	extra map[string]goja.Value
}

func (o *gadgetObject) Get(key string) goja.Value {
	switch key {
	case "state":
		return o.vm.ToValue(o.g.State())
	case "element":
		return o.api.ToJS(o.vm, o.g.Element())
	}
	if v, ok := o.extra[key]; ok {
		return v
	}
	if !o.g.HasMethod(key) {
		return nil
	}
	return o.vm.ToValue(func(call goja.FunctionCall) goja.Value {
		args := make([]any, len(call.Arguments))
		for i, a := range call.Arguments {
			args[i] = o.api.FromJS(o.vm, a)
		}
		return o.api.page.engine.Async(o.vm, func(ctx context.Context) (any, error) {
			return o.g.Call(ctx, key, args...)
		})
	})
}

func (o *gadgetObject) Set(key string, val goja.Value) bool {
	if key == "state" || key == "element" {
		return false
	}
	if o.extra == nil {
		o.extra = make(map[string]goja.Value)
	}
	o.extra[key] = val
	return true
}

func (o *gadgetObject) Has(key string) bool { return o.Get(key) != nil }

func (o *gadgetObject) Delete(key string) bool {
	delete(o.extra, key)
	return true
}

func (o *gadgetObject) Keys() []string {
	keys := []string{"state", "element"}
	for key := range o.extra {
		keys = append(keys, key)
	}
	return keys
}

// elementObject is the JS view of an element
type elementObject struct {
	api   *scriptAPI
	vm    *goja.Runtime
	node  *html.Node
	extra map[string]goja.Value
}

func (o *elementObject) doc() *dom.Document { return o.api.page.Document() }

func (o *elementObject) Get(key string) goja.Value {
	vm, doc := o.vm, o.doc()
	switch key {
	case "tagName", "nodeName":
		return vm.ToValue(strings.ToUpper(o.node.Data))
	case "innerHTML":
		return vm.ToValue(doc.InnerHTML(o.node))
	case "outerHTML":
		return vm.ToValue(doc.OuterHTML(o.node))
	case "textContent":
		return vm.ToValue(doc.TextContent(o.node))
	case "isConnected":
		return vm.ToValue(doc.Contains(o.node))
	case "getAttribute":
		return vm.ToValue(func(name string) goja.Value {
			if val, ok := doc.Attr(o.node, name); ok {
				return vm.ToValue(val)
			}
			return goja.Null()
		})
	case "setAttribute":
		return vm.ToValue(func(name, val string) {
			doc.SetAttr(o.node, name, val)
		})
	case "appendChild":
		return vm.ToValue(func(child goja.Value) goja.Value {
			n, ok := o.api.FromJS(vm, child).(*html.Node)
			if !ok {
				panic(vm.NewTypeError("appendChild expects an element"))
			}
			doc.AppendChild(o.node, n)
			return child
		})
	case "remove":
		return vm.ToValue(func() { doc.Remove(o.node) })
	case "querySelector":
		return vm.ToValue(func(selector string) goja.Value {
			found := doc.QueryAll(o.node, selector)
			if len(found) == 0 {
				return goja.Null()
			}
			return o.api.ToJS(vm, found[0])
		})
	case "querySelectorAll":
		return vm.ToValue(func(selector string) goja.Value {
			found := doc.QueryAll(o.node, selector)
			list := make([]any, len(found))
			for i, n := range found {
				list[i] = o.api.ToJS(vm, n)
			}
			return vm.NewArray(list...)
		})
	case "dispatchEvent":
		return vm.ToValue(func(call goja.FunctionCall) goja.Value {
			ev := dom.Event{}
			switch arg := call.Argument(0).(type) {
			case *goja.Object:
				ev.Type = arg.Get("type").String()
				ev.Detail = o.api.FromJS(vm, arg.Get("detail"))
			default:
				ev.Type = arg.String()
				ev.Detail = o.api.FromJS(vm, call.Argument(1))
			}
			doc.Dispatch(o.node, ev)
			return vm.ToValue(true)
		})
	}
	if v, ok := o.extra[key]; ok {
		return v
	}
	return nil
}

func (o *elementObject) Set(key string, val goja.Value) bool {
	switch key {
	case "innerHTML":
		if err := o.doc().SetInnerHTML(o.node, val.String()); err != nil {
			panic(o.vm.NewGoError(err))
		}
		return true
	case "textContent":
		o.doc().ReplaceChildren(o.node, dom.NewText(val.String()))
		return true
	}
	if o.extra == nil {
		o.extra = make(map[string]goja.Value)
	}
	o.extra[key] = val
	return true
}

func (o *elementObject) Has(key string) bool { return o.Get(key) != nil }

func (o *elementObject) Delete(key string) bool {
	delete(o.extra, key)
	return true
}

func (o *elementObject) Keys() []string {
	keys := make([]string, 0, len(o.extra))
	for key := range o.extra {
		keys = append(keys, key)
	}
	return keys
}

// documentObject is the JS document of the page
type documentObject struct {
	api *scriptAPI
	vm  *goja.Runtime
}

func (o *documentObject) Get(key string) goja.Value {
	vm, doc := o.vm, o.api.page.Document()
	switch key {
	case "body":
		return o.api.ToJS(vm, doc.Body())
	case "head":
		return o.api.ToJS(vm, doc.Head())
	case "title":
		return vm.ToValue(doc.Title())
	case "URL":
		return vm.ToValue(doc.URL())
	case "createElement":
		return vm.ToValue(func(tag string) goja.Value {
			return o.api.ToJS(vm, doc.CreateElement(tag))
		})
	case "querySelector":
		return vm.ToValue(func(selector string) goja.Value {
			found := doc.QueryAll(doc.Root(), selector)
			if len(found) == 0 {
				return goja.Null()
			}
			return o.api.ToJS(vm, found[0])
		})
	}
	return nil
}

func (o *documentObject) Set(string, goja.Value) bool { return false }
func (o *documentObject) Has(key string) bool          { return o.Get(key) != nil }
func (o *documentObject) Delete(string) bool           { return false }
func (o *documentObject) Keys() []string               { return []string{"body", "head", "title", "URL"} }
