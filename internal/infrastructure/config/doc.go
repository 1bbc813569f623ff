// Package config provides 12-factor configuration management for the gadget runtime.
//
// Configuration is loaded from environment variables with sensible defaults.
// An optional YAML or TOML file (LoadFile) overlays the environment.
//
// Configuration Sections:
//   - Server: HTTP hosting settings (port, host)
//   - Logging: Log level and output format
//   - RateLimit: Per-IP rate limiting of the hosting surface
//   - Runtime: frame handshake, script and channel call bounds
//   - Fetch: class/dependency fetcher timeout, retries, rate
//   - Frames: local or remote hosting of isolated gadgets
//   - Dev: gadget directory, root page, hot reload
//
// Environment Variables:
//   - PORT, HOST, LOG_LEVEL, LOG_DEV
//   - RATE_LIMIT_RPS, RATE_LIMIT_BURST, RATE_LIMIT_ENABLED
//   - FRAME_TIMEOUT, SCRIPT_TIMEOUT, CALL_TIMEOUT, USER_AGENT
//   - FETCH_TIMEOUT, FETCH_RETRIES, FETCH_RPS, FETCH_BURST
//   - FRAMES_MODE, FRAMES_ENDPOINT
//   - GADGET_DIR, ROOT_URL, DEV_WATCH, DEV_WATCH_PATTERN
package config
