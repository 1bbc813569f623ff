package gadget

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// step is one stage of a gadget's instantiation pipeline
type step func(ctx context.Context, g *Gadget) error

// sequence runs steps in order and stops at the first failure. The
// gadget is the value of a completed sequence whatever the steps return.
func sequence(ctx context.Context, g *Gadget, steps ...step) (*Gadget, error) {
	for _, s := range steps {
		if err := s(ctx, g); err != nil {
			return nil, err
		}
	}
	return g, nil
}

// pipeline returns the instantiation steps: reset, declare child
// markers, then the class ready hooks in declaration order
func (g *Gadget) pipeline() []step {
	steps := []step{resetStep, declareMarkersStep}
	for _, hook := range g.klass.hooks() {
		steps = append(steps, step(hook))
	}
	return steps
}

func resetStep(_ context.Context, g *Gadget) error {
	g.mu.Lock()
	g.children = make(map[string]*Gadget)
	g.mu.Unlock()

	g.resetMonitor()
	return nil
}

// declareMarkersStep declares every [data-gadget-url] element below the
// gadget element as a child
func declareMarkersStep(ctx context.Context, g *Gadget) error {
	doc := g.page.doc
	markers := doc.QueryAll(g.element, "["+AttrURL+"]")
	if len(markers) == 0 {
		return nil
	}

	eg, ctx := errgroup.WithContext(ctx)
	for _, el := range markers {
		url, _ := doc.Attr(el, AttrURL)
		scope, _ := doc.Attr(el, AttrScope)
		sandbox, _ := doc.Attr(el, AttrSandbox)
		eg.Go(func() error {
			_, err := g.DeclareGadget(ctx, url, DeclareOptions{
				Element: el,
				Scope:   scope,
				Sandbox: sandbox,
			})
			return err
		})
	}
	return eg.Wait()
}

// Marker attributes of gadget containers
const (
	AttrURL     = "data-gadget-url"
	AttrScope   = "data-gadget-scope"
	AttrSandbox = "data-gadget-sandbox"
)
