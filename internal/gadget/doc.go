// Package gadget is the gadget runtime.
//
// A Page loads an HTML document, evaluates its scripts and binds a root
// Gadget to its body. Elements marked with data-gadget-url become child
// gadgets, each an instance of the Klass defined by the document at that
// URL. Classes are declared from Go (Registry.Extend) or from script with
// rJS(window).
//
// A gadget is embodied publicly (its template is cloned into the parent's
// document) or isolated in a child Page reached over a channel, either by
// URL (iframe) or as an inlined data: document (dataurl). Capabilities are
// acquired up the tree: the closest ancestor that allows one answers.
//
// Services, jobs and event handlers run under a per-gadget Monitor that
// is reset whenever the gadget's container leaves the document and
// restarted when it comes back. The first failure crashes the page.
package gadget
