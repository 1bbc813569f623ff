// Package logging provides structured logging using uber/zap.
//
// Two modes:
//   - Production: JSON output for machine parsing
//   - Development: colored console output for human readability
//
// Runtime components take a *Logger and derive a named child with Named
// ("registry", "channel", "page", "script"). Script console output, crash
// diagnostics and dropped channel messages all land here.
//
// Example Usage:
//
//	logger := logging.NewDefault()
//	logger.Named("page").Info("page opened", zap.String("url", url))
package logging
