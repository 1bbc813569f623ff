// Package http provides the HTTP handlers of the gadget hosting surface.
//
// Endpoints:
//   - Health: / and /health
//   - Pages: /pages lists live pages (?kind=root|render|frame)
//   - Render: /render?url= opens a page and returns its document
//   - Root page: /page serves the long-lived root page, POST /page/reload
//     reopens it
//
// A document that was replaced by the crash report is served with status
// 500 and the X-Gadget-Crashed header.
//
// Example Usage:
//
//	handlers := http.NewHandlers(pages, metrics, tracer, fetcher)
//	router.GET("/render", handlers.Render)
package http
