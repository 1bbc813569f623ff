// Package main is the entry point for the gadgetry server.
//
// Commands:
//   - serve: runs the HTTP hosting surface (health, metrics, render, root
//     page, remote frames and, with --gadgets, static gadget sources)
//   - render URL: opens one page, prints its document and exits non-zero
//     when the page crashed
//
// Configuration:
//   - Environment variables (12-factor)
//   - --config: YAML or TOML file overlaid on the environment
//   - Command flags override both
//
// Usage:
//
//	# Serve a gadget tree and reload the root page on change
//	./server serve --gadgets ./gadgets --root http://localhost:8000/gadgets/index.html --watch
//
//	# Render once
//	./server render https://example.com/index.html
//
// Signals:
//   - SIGINT, SIGTERM: Graceful shutdown
package main
