package gadget

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/GriffinCanCode/gadgetry/internal/channel"
	"go.uber.org/zap"
)

// frame is the parent side of an isolated gadget's channel
type frame struct {
	url string
	ch  *channel.Channel

	mu      sync.RWMutex
	methods map[string]struct{}

	settleOnce sync.Once
	settled    chan struct{}
	err        error
}

func (f *frame) has(name string) bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	_, ok := f.methods[name]
	return ok
}

func (f *frame) declare(name string) {
	f.mu.Lock()
	f.methods[name] = struct{}{}
	f.mu.Unlock()
}

// settle resolves the handshake once; later handshakes are ignored
func (f *frame) settle(err error) bool {
	first := false
	f.settleOnce.Do(func() {
		first = true
		f.err = err
		close(f.settled)
	})
	return first
}

func (f *frame) call(ctx context.Context, name string, args []any) (any, error) {
	if args == nil {
		args = []any{}
	}
	return f.ch.Call(ctx, channel.OpMethodCall.String(), []any{name, wireArgs(args)})
}

func (f *frame) close() {
	_ = f.ch.Close()
}

// checkContainer rejects isolated declarations without an attached
// container before anything is created
func (g *Gadget) checkContainer(url string, opts DeclareOptions) error {
	if opts.Element == nil {
		return &PreconditionError{URL: url, Reason: "DOM element is required to create Iframe Gadget"}
	}
	if !g.page.doc.Contains(opts.Element) {
		return &PreconditionError{URL: url, Reason: "The parent element is not attached to the DOM"}
	}
	return nil
}

// declareIframe embeds src in an isolated page and waits for its ready
// handshake. url is the gadget path reported by the proxy. On failure the
// iframe is removed from the container again.
func (g *Gadget) declareIframe(ctx context.Context, url, src string, sandbox Sandbox, opts DeclareOptions) (*Gadget, error) {
	if err := g.checkContainer(url, opts); err != nil {
		return nil, err
	}

	p := g.page
	child := newGadget(p, p.registry.frameKlass(url), opts.Element, sandbox)
	child.aqParent = g.acquirerFor(child)

	iframe := p.doc.CreateElement("iframe")
	p.doc.SetAttr(iframe, "src", src)
	p.doc.AppendChild(opts.Element, iframe)

	transport, err := p.embedder.Embed(ctx, src)
	if err != nil {
		p.doc.Remove(iframe)
		return nil, fmt.Errorf("embed %s: %w", url, err)
	}

	f := &frame{
		url:     url,
		methods: make(map[string]struct{}),
		settled: make(chan struct{}),
	}
	f.ch = channel.New(transport, channel.Options{
		CallTimeout: p.cfg.CallTimeout,
		Logger:      p.logger,
		Metrics:     p.metrics,
		Handlers: map[string]channel.Handler{
			channel.OpDeclareMethod.String(): func(_ context.Context, _ *channel.Transaction, params any) (any, error) {
				name, ok := params.(string)
				if !ok {
					return nil, fmt.Errorf("declareMethod: invalid method name %v", params)
				}
				f.declare(name)
				return "OK", nil
			},
			channel.OpReady.String(): func(context.Context, *channel.Transaction, any) (any, error) {
				f.settle(nil)
				return "OK", nil
			},
			channel.OpFailed.String(): func(_ context.Context, _ *channel.Transaction, params any) (any, error) {
				f.settle(&channel.RemoteError{Kind: "Error", Message: fmt.Sprint(params)})
				return "OK", nil
			},
			channel.OpAcquire.String(): func(_ context.Context, tx *channel.Transaction, params any) (any, error) {
				name, args := callParams(params)
				tx.Delay()
				go func() {
					ctx, cancel := p.callContext()
					defer cancel()
					result, err := child.aqParent(ctx, name, args)
					if err != nil {
						_ = tx.Error(err)
						return
					}
					_ = tx.Complete(result)
				}()
				return nil, nil
			},
		},
	})
	child.remote = f

	timer := time.NewTimer(p.cfg.FrameTimeout)
	defer timer.Stop()

	select {
	case <-f.settled:
	case <-timer.C:
		f.settle(&LoadTimeoutError{URL: url, Timeout: p.cfg.FrameTimeout})
	case <-f.ch.Done():
		f.settle(fmt.Errorf("load %s: %w", url, f.ch.Err()))
	case <-ctx.Done():
		f.settle(ctx.Err())
	}

	if f.err != nil {
		f.close()
		p.doc.Remove(iframe)
		return nil, f.err
	}

	p.trackFrame(f)
	return child, nil
}

// callParams decodes [name, args] parameters
func callParams(params any) (string, []any) {
	list, _ := params.([]any)
	var name string
	var args []any
	if len(list) > 0 {
		name, _ = list[0].(string)
	}
	if len(list) > 1 {
		args, _ = list[1].([]any)
	}
	return name, args
}

// wireArgs makes arguments encodable; errors travel as their message
func wireArgs(args []any) []any {
	out := make([]any, len(args))
	for i, a := range args {
		if err, ok := a.(error); ok {
			out[i] = err.Error()
			continue
		}
		out[i] = a
	}
	return out
}

func (p *Page) trackFrame(f *frame) {
	p.metrics.AddFrames(1)

	p.mu.Lock()
	p.frames[f] = struct{}{}
	p.mu.Unlock()

	go func() {
		<-f.ch.Done()
		p.metrics.AddFrames(-1)
		p.mu.Lock()
		delete(p.frames, f)
		p.mu.Unlock()
		p.logger.Debug("frame closed", zap.String("url", f.url))
	}()
}
