// Package app manages the lifecycle of gadget pages in a server process.
//
// Key Components:
//   - Manager: tracks every live page by its ID
//   - Root page: opened from the configured URL, reloaded with a fresh class
//     registry when gadget sources change
//   - Render pages: opened for one request and closed after serialization
//   - Hosted frames: isolated gadgets served to remote parents over a
//     websocket channel, closed when the channel does
//
// Example Usage:
//
//	manager := app.NewManager(gadget.Options{Runtime: cfg.Runtime, Logger: logger})
//	html, crashed, err := manager.Render(ctx, "http://localhost:8000/gadgets/index.html")
package app
