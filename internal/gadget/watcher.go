package gadget

import (
	"github.com/GriffinCanCode/gadgetry/internal/dom"
	"golang.org/x/net/html"
)

// gadgetKey is the element data key holding the gadget bound to a
// container
const gadgetKey = "gadget"

// gadgetOf returns the gadget bound to n, if any
func gadgetOf(doc *dom.Document, n *html.Node) *Gadget {
	g, _ := doc.Data(n, gadgetKey).(*Gadget)
	return g
}

// watch keeps gadget activity in step with the document: gadgets whose
// container leaves it get a fresh, idle monitor, and gadgets whose
// container enters it are started.
func (p *Page) watch(doc *dom.Document) (stop func()) {
	return doc.Observe(func(rec dom.MutationRecord) {
		for _, n := range rec.Removed {
			for _, g := range markedGadgets(doc, n) {
				g.resetMonitor()
			}
		}
		for _, n := range rec.Added {
			for _, g := range markedGadgets(doc, n) {
				if doc.Contains(g.element) {
					g.startService()
				}
			}
		}
	})
}

// markedGadgets returns the gadgets bound to n and to marked elements
// below it
func markedGadgets(doc *dom.Document, n *html.Node) []*Gadget {
	if n.Type != html.ElementNode {
		return nil
	}

	var list []*Gadget
	if _, ok := doc.Attr(n, AttrURL); ok {
		if g := gadgetOf(doc, n); g != nil {
			list = append(list, g)
		}
	}
	for _, el := range doc.QueryAll(n, "["+AttrURL+"]") {
		if g := gadgetOf(doc, el); g != nil {
			list = append(list, g)
		}
	}
	return list
}
