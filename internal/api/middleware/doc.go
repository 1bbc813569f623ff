// Package middleware provides the HTTP middleware of the hosting surface.
//
// Middleware stack includes:
//   - CORS: lets other origins load rendered pages, gadget sources and the
//     frame websocket; exposes the trace headers
//   - RateLimit: per-IP token bucket with idle client eviction
//   - GlobalRateLimit: one bucket for all clients
//   - RequestLogger: one zap line per request
//
// Example Usage:
//
//	router.Use(middleware.CORS(middleware.DefaultCORSConfig()))
//	router.Use(middleware.RateLimit(middleware.DefaultRateLimitConfig()))
package middleware
