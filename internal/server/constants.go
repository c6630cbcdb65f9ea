// Package server exposes the soundboard over HTTP: REST for clips,
// triggers, settings, and profiles, plus a WebSocket pushing live session
// events and play commands.
package server

import "time"

const (
	// MaxClipBytes caps a single clip upload.
	MaxClipBytes = 5 << 20

	// broadcastTimeout bounds one websocket write; a subscriber slower
	// than this misses the message.
	broadcastTimeout = 5 * time.Second

	// Per-connection inbound rate limiting. External transcript events
	// arrive at speech pace, so the ceiling is generous.
	rateLimitMessages = 30
	rateLimitWindow   = time.Second
)
