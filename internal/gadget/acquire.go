package gadget

import (
	"context"
)

// acquirer resolves a capability on behalf of one gadget
type acquirer func(ctx context.Context, name string, args []any) (any, error)

// Acquire asks the gadget's ancestors for capability name. The closest
// ancestor whose class allows it wins; an unclaimed name fails with
// AcquisitionError.
func (g *Gadget) Acquire(ctx context.Context, name string, args ...any) (any, error) {
	return g.aqParent(ctx, name, args)
}

// acquirerFor returns the acquirer a child of g delegates to
func (g *Gadget) acquirerFor(child *Gadget) acquirer {
	return func(ctx context.Context, name string, args []any) (any, error) {
		return g.acquire(ctx, child, name, args)
	}
}

// acquire serves a request from child. A claimed handler's outcome is
// final unless it is an AcquisitionError, which keeps walking up.
func (g *Gadget) acquire(ctx context.Context, child *Gadget, name string, args []any) (any, error) {
	scope := g.scopeOf(child)

	g.mu.RLock()
	handler, ok := g.acquisitions[name]
	g.mu.RUnlock()

	if ok {
		result, err := handler(ctx, g, args, scope)
		if err == nil {
			g.page.metrics.RecordAcquisition("handled")
			return result, nil
		}
		if !IsAcquisitionError(err) {
			g.page.metrics.RecordAcquisition("failed")
			return nil, err
		}
	}
	return g.aqParent(ctx, name, args)
}

// terminalAcquirer is the delegation target of a top-level root
func terminalAcquirer(p *Page) acquirer {
	return func(_ context.Context, name string, _ []any) (any, error) {
		p.metrics.RecordAcquisition("unclaimed")
		return nil, NewAcquisitionError("No gadget provides " + name)
	}
}
