package proxy

import "github.com/infodancer/loginproxy/internal/sasl"

// ClientInfo is the slice of Client the protocol Driver actually needs,
// copied out once per proxy so the driver never has to know about the
// engine's Client interface or its lifecycle.
type ClientInfo struct {
	Username      string
	MasterUser    string
	Password      string
	RemoteAddr    string
	RemotePort    int
	Untrusted     bool
	SessionID     string
	ForwardFields map[string]string
}

// Host is everything a protocol Driver needs from the engine's Proxy:
// backend writes, TLS upgrade, detach, redirect, and SASL construction.
// The driver never touches sockets, timers, or the health registry
// directly — only through this narrow seam, so the engine stays
// protocol-agnostic and the driver stays transport-agnostic.
type Host interface {
	// WriteServer sends a line (without CRLF) to the backend, appending
	// CRLF itself.
	WriteServer(line string) error
	// WriteClient forwards a line (without CRLF) to the client,
	// appending CRLF itself. Only valid before detach.
	WriteClient(line string) error

	// StartTLS performs the STARTTLS handshake on the current backend
	// connection.
	StartTLS() error

	// Detach completes the pre-login phase and hands both sides to the
	// bidirectional pump.
	Detach() error

	// Redirect switches the proxy's destination to ip:port, applying
	// loop detection and proxy_ttl bookkeeping. It always returns a
	// non-nil error: a RemoteConfig Failure when proxy_ttl is exhausted,
	// an InternalConfig Failure on a loop, and otherwise a redirect
	// signal that the driver returns unchanged so the engine reconnects
	// to the new destination.
	Redirect(ip string, port int) error

	// NewSASL constructs a fresh mechanism state for mechName using this
	// proxy's client credentials.
	NewSASL(mechName string) (sasl.State, error)

	Settings() Settings
	ClientInfo() ClientInfo
	RedirectPath() []RedirectEntry
	// LocalAddr is this proxy's own socket address, used by redirect loop
	// detection (a redirect to ourselves is always a loop).
	LocalAddr() (ip string, port int)
}

// Driver is the pluggable protocol state machine the engine drives
// through backend lines. infodancer/loginproxy/internal/pop3proxy
// implements this for POP3.
type Driver interface {
	// Reset returns the driver to its initial state for a fresh connect
	// attempt (called once per connect, including after a redirect).
	Reset()

	// ParseLine processes one line read from the backend. detached is
	// true once the driver has called h.Detach() successfully; err is a
	// *Failure when the dialog cannot continue.
	ParseLine(h Host, line string) (detached bool, err error)

	// OnTerminalFailure is invoked exactly once a failure has been
	// determined final (no further reconnect will be attempted), giving
	// the driver a chance to write any client-visible reply the protocol
	// requires (e.g. forwarding a delayed AuthTempfail message).
	OnTerminalFailure(h Host, f *Failure)
}
