package realtime

import "time"

// Security/performance limits.
const (
	// Max bytes per websocket frame read (hard limit).
	maxFrameBytes = 64 << 10 // 64 KiB

	// Max group message content length (runes). Over-limit sends are rejected
	// with ErrContentTooLong, never truncated.
	maxGroupMessageChars = 5000

	// Max messages returned in a group detail view. History starts at the
	// caller's joinedAt floor.
	groupHistoryLimit = 50
)

const (
	// Heartbeat defaults (can be overridden by env in gateway.go).
	heartbeatInterval = 25 * time.Second
	heartbeatTimeout  = 5 * time.Second

	// Per-connection rate limits (events per window).
	rateLimitEvents = 120
	rateLimitWindow = 10 * time.Second
)
