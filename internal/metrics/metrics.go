// Package metrics provides interfaces and implementations for collecting
// login-proxy metrics. This package defines the Collector interface for
// recording metrics and the Server interface for exposing them.
package metrics

import "context"

// Collector defines the interface for recording login-proxy metrics. It
// has the same method set as proxy.Metrics, so a Collector can be handed
// straight to the proxy engine.
type Collector interface {
	// ConnectAttempt is called once per backend dial attempt, before the
	// outcome is known.
	ConnectAttempt()
	// ConnectSuccess is called once the TCP connection to the backend is
	// established, before any implicit TLS handshake.
	ConnectSuccess()
	// Reconnect is called each time the engine retries a failed attempt
	// against the same or a redirected destination.
	Reconnect()
	// Redirect is called each time the engine follows a redirect, with
	// loop false; redirects rejected as loops or for an exhausted proxy
	// TTL are not reported through it.
	Redirect(loop bool)
	// Detached is called when a proxy finishes its pre-login dialog and
	// hands off to the bidirectional pump.
	Detached()
	// Finished is called when a detached proxy's pump completes and its
	// resources are freed.
	Finished()
	// DisconnectDelayed records the seconds a paced bulk disconnect waited
	// before closing one more connection to a destination.
	DisconnectDelayed(seconds float64)
}

// Server defines the interface for a metrics HTTP server.
type Server interface {
	// Start begins serving metrics. It blocks until the context is
	// canceled or an error occurs.
	Start(ctx context.Context) error

	// Shutdown gracefully stops the metrics server.
	Shutdown(ctx context.Context) error
}
