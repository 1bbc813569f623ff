package gadget

import (
	"context"
	"fmt"
	"time"

	"github.com/GriffinCanCode/gadgetry/internal/dom"
	"go.uber.org/zap"
	"golang.org/x/net/html"
)

// Sandbox selects how a declared gadget is embodied
type Sandbox string

const (
	// SandboxPublic runs the gadget in its parent's page
	SandboxPublic Sandbox = "public"
	// SandboxIframe runs the gadget in an isolated child page
	SandboxIframe Sandbox = "iframe"
	// SandboxDataURL fetches the gadget and isolates it as a data: document
	SandboxDataURL Sandbox = "dataurl"
)

// ParseSandbox validates a sandbox mode; empty means public
func ParseSandbox(s string) (Sandbox, error) {
	switch Sandbox(s) {
	case "", SandboxPublic:
		return SandboxPublic, nil
	case SandboxIframe, SandboxDataURL:
		return Sandbox(s), nil
	}
	return "", &UnsupportedEmbodimentError{Sandbox: s}
}

// DeclareOptions configure DeclareGadget
type DeclareOptions struct {
	// Element is the container; public gadgets get a new <div> when nil
	Element *html.Node
	// Scope names the child in its parent; generated when empty
	Scope string
	// Sandbox is "public" (default), "iframe" or "dataurl"
	Sandbox string
}

func declareOptionsFromMap(m map[string]any) DeclareOptions {
	var opts DeclareOptions
	if el, ok := m["element"].(*html.Node); ok {
		opts.Element = el
	}
	if scope, ok := m["scope"].(string); ok {
		opts.Scope = scope
	}
	if sandbox, ok := m["sandbox"].(string); ok {
		opts.Sandbox = sandbox
	}
	return opts
}

// DeclareGadget instantiates the gadget class at url as a child of g,
// runs its pipeline, registers it and starts it when its container is in
// the document
func (g *Gadget) DeclareGadget(ctx context.Context, url string, opts DeclareOptions) (child *Gadget, err error) {
	sandbox, err := ParseSandbox(opts.Sandbox)
	if err != nil {
		return nil, err
	}
	url = g.klass.resolve(url)

	start := time.Now()
	defer func() {
		g.page.metrics.RecordGadgetDeclared(string(sandbox), err)
		if err != nil {
			g.page.logger.Debug("gadget declaration failed",
				zap.String("url", url),
				zap.String("sandbox", string(sandbox)),
				zap.Error(err))
		}
	}()

	switch sandbox {
	case SandboxIframe:
		child, err = g.declareIframe(ctx, url, url, SandboxIframe, opts)
	case SandboxDataURL:
		child, err = g.declareDataURL(ctx, url, opts)
	default:
		child, err = g.declarePublic(ctx, url, opts)
	}
	if err != nil {
		return nil, err
	}

	if child, err = sequence(ctx, child, child.pipeline()...); err != nil {
		return nil, err
	}

	scope := g.register(opts.Scope, child)

	doc := g.page.doc
	doc.SetAttr(child.element, AttrScope, scope)
	doc.SetAttr(child.element, AttrURL, url)
	doc.SetAttr(child.element, AttrSandbox, string(sandbox))
	doc.SetData(child.element, gadgetKey, child)

	if doc.Contains(child.element) {
		child.startService()
	}

	g.page.logger.Debug("gadget declared",
		zap.String("url", url),
		zap.String("scope", scope),
		zap.String("sandbox", string(sandbox)),
		zap.Duration("elapsed", time.Since(start)))
	return child, nil
}

// declarePublic clones the class template into the container
func (g *Gadget) declarePublic(ctx context.Context, url string, opts DeclareOptions) (*Gadget, error) {
	k, err := g.page.registry.DeclareClass(ctx, url)
	if err != nil {
		return nil, err
	}

	element := opts.Element
	if element == nil {
		element = g.page.doc.CreateElement("div")
	}

	child := newGadget(g.page, k, element, SandboxPublic)
	child.aqParent = g.acquirerFor(child)

	for _, node := range k.Template() {
		g.page.doc.AppendChild(element, node)
	}
	return child, nil
}

// declareDataURL fetches url and isolates it as a self-contained data:
// document whose relative links still resolve against url
func (g *Gadget) declareDataURL(ctx context.Context, url string, opts DeclareOptions) (*Gadget, error) {
	if err := g.checkContainer(url, opts); err != nil {
		return nil, err
	}

	resp, err := g.page.registry.fetchMarkup(ctx, url)
	if err != nil {
		return nil, err
	}

	dataURL, err := dom.InlineDocument(url, resp.Text())
	if err != nil {
		return nil, fmt.Errorf("inline %s: %w", url, err)
	}
	return g.declareIframe(ctx, url, dataURL, SandboxDataURL, opts)
}
