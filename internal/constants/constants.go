// Package constants provides shared constants for the DAPNET proxy.
package constants

import "time"

// Line protocol framing.
const (
	// MaxFrameLength is the largest accepted frame in bytes, counted
	// through the terminating line feed.
	MaxFrameLength = 1024

	// LineTerminator is appended to every outgoing frame.
	LineTerminator = "\r\n"
)

// Backend keepalive protocol.
const (
	// KeepAliveRequest is sent to the backend when it has been idle.
	KeepAliveRequest = "2:PING"

	// KeepAliveConfirm is the second line of the backend's acknowledgment.
	KeepAliveConfirm = "+"

	// HandshakePrefix marks the end of the backend handshake.
	HandshakePrefix = "2:"
)

// Connection defaults.
const (
	// DefaultDialTimeout bounds a single dial attempt.
	DefaultDialTimeout = 30 * time.Second

	// DefaultTCPKeepAlive is the OS level keep-alive period for dialed sockets.
	DefaultTCPKeepAlive = 30 * time.Second

	// DefaultCloseGrace is how long a graceful close may wait for queued
	// writes before the socket is closed forcibly.
	DefaultCloseGrace = 5 * time.Second

	// WriteQueueSize bounds queued writes per connection. The bridge keeps at
	// most one forwarded frame, one probe and one close marker outstanding.
	WriteQueueSize = 4
)
