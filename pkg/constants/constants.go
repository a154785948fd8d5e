// Package constants defines magic numbers and default values used throughout the proxy.
package constants

import "time"

// Listener and session defaults.
const (
	DefaultListenHost = "127.0.0.1"
	DefaultListenPort = 13080
	DefaultBackendPort = 3080
	DefaultBacklog     = 128
	DefaultOpenFileLimit = 4096

	// DefaultRecvBufSize is the default per-direction receive chunk size.
	DefaultRecvBufSize = 81920

	// IdleTimeout is the inactivity watchdog duration, measured from the
	// last successful read on either endpoint of a session. Hard-coded to
	// match the reference behaviour; not exposed in the configuration schema.
	IdleTimeout = 30 * time.Second

	// PollInterval is the tick used by the session's readiness-wait loop.
	PollInterval = 1 * time.Second

	// CloseDrainTimeout bounds how long Close() waits to drain a half-closed
	// peer before releasing the socket.
	CloseDrainTimeout = 1 * time.Second
)

// HTTP limits.
const (
	MaxContentLength = 1024 * 1024 * 1024 // 1GB, generous cap for a JSON REST API body
)

// Buffer limits for message bodies. pkg/buffer does not read these; it uses
// its own buffer.DefaultMemoryLimit.
const (
	DefaultBodyMemLimit = 4 * 1024 * 1024   // 4MB
	MaxRawBufferSize    = 100 * 1024 * 1024 // 100MB cap for raw buffer
)

// GNS3-specific literals the response filter and canonical responses depend on.
const (
	ConsoleHostGuardNeedle = `"console_host": "0.0.0.0",`
	RouteProjects          = "/v2/projects"
	RouteProjectsNodesSuffix = "/nodes"
	GNS3ServerHeader       = "Python/3.4 GNS3/2.1.11"
)
