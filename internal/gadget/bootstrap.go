package gadget

import (
	"context"
	"errors"
	"slices"
	"sync"

	"github.com/GriffinCanCode/gadgetry/internal/channel"
	"github.com/GriffinCanCode/gadgetry/internal/dom"
	"go.uber.org/zap"
	"golang.org/x/net/html"
)

var errNotReady = errors.New("gadget is not ready")

// Embed runs the page as an isolated gadget whose embedding page is on
// the other end of transport. The root gadget's methods are announced,
// unclaimed acquisitions are forwarded, and the handshake ends with ready
// or failed. The page closes when the channel does.
func (p *Page) Embed(ctx context.Context, url string, transport channel.Transport) error {
	ch := channel.New(transport, channel.Options{
		CallTimeout: p.cfg.CallTimeout,
		Logger:      p.logger,
		Metrics:     p.metrics,
		Handlers: map[string]channel.Handler{
			channel.OpMethodCall.String(): p.serveMethodCall,
		},
	})

	p.mu.Lock()
	p.parent = ch
	p.mu.Unlock()

	go func() {
		select {
		case <-ch.Done():
			p.Close()
		case <-p.done:
		}
	}()

	aq := func(ctx context.Context, name string, args []any) (any, error) {
		return ch.Call(ctx, channel.OpAcquire.String(), []any{name, wireArgs(args)})
	}

	var announcing sync.WaitGroup
	announce := func(k *Klass) {
		names := append(slices.Clone(announcedBuiltins), k.MethodNames()...)
		for _, name := range names {
			announcing.Add(1)
			go func() {
				defer announcing.Done()
				if _, err := ch.Call(ctx, channel.OpDeclareMethod.String(), name); err != nil {
					p.logger.Debug("method not announced", zap.String("method", name), zap.Error(err))
				}
			}()
		}
	}

	bootErr := p.bootstrap(ctx, url, aq, announce)
	if bootErr != nil {
		p.Crash(bootErr)
	}

	if err := ch.Ready(ctx); err != nil {
		if bootErr != nil {
			return bootErr
		}
		return err
	}

	if bootErr != nil {
		if err := ch.Notify(ctx, channel.OpFailed.String(), bootErr.Error()); err != nil {
			p.logger.Debug("failure not reported", zap.Error(err))
		}
		return bootErr
	}

	announcing.Wait()
	return ch.Notify(ctx, channel.OpReady.String(), nil)
}

// serveMethodCall answers the embedding page's calls on the root gadget
func (p *Page) serveMethodCall(_ context.Context, tx *channel.Transaction, params any) (any, error) {
	root := p.Root()
	if root == nil {
		return nil, errNotReady
	}

	name, args := callParams(params)
	tx.Delay()
	go func() {
		ctx, cancel := p.callContext()
		defer cancel()

		result, err := root.Call(ctx, name, args...)
		if err != nil {
			_ = tx.Error(err)
			return
		}
		_ = tx.Complete(wireValue(p.Document(), result))
	}()
	return nil, nil
}

// wireValue makes a method result encodable: elements travel as markup
// and gadgets as their path
func wireValue(doc *dom.Document, v any) any {
	switch v := v.(type) {
	case *html.Node:
		return doc.OuterHTML(v)
	case *Gadget:
		return v.Path()
	}
	return v
}
