// Package proxy implements the proxy engine: one instance per client
// connection being proxied to a backend POP3 server. It owns the TCP
// connect-with-retry, optional TLS upgrade, pre-login I/O (driven by a
// pluggable protocol Driver), detach to the bidirectional pump, and all
// engine-level lifecycle: redirects, reconnects, idle shutdown, admin
// kick, and paced bulk disconnect.
package proxy

import (
	"fmt"
	"io"

	"github.com/infodancer/loginproxy/internal/sasl"
)

// FailureKind is the stable enumeration the surrounding POP3 layer maps to
// user-visible replies.
type FailureKind int

const (
	Connect FailureKind = iota
	Internal
	InternalConfig
	Remote
	RemoteConfig
	Protocol
	AuthReplied
	AuthNotReplied
	AuthTempfail
	AuthRedirect
)

func (k FailureKind) String() string {
	switch k {
	case Connect:
		return "Connect"
	case Internal:
		return "Internal"
	case InternalConfig:
		return "InternalConfig"
	case Remote:
		return "Remote"
	case RemoteConfig:
		return "RemoteConfig"
	case Protocol:
		return "Protocol"
	case AuthReplied:
		return "AuthReplied"
	case AuthNotReplied:
		return "AuthNotReplied"
	case AuthTempfail:
		return "AuthTempfail"
	case AuthRedirect:
		return "AuthRedirect"
	default:
		return "Unknown"
	}
}

// Retryable reports whether this failure kind may be retried per the
// policy table in the spec's error handling design.
func (k FailureKind) Retryable() bool {
	switch k {
	case Connect, Remote, Protocol, AuthTempfail:
		return true
	default:
		return false
	}
}

// Failure is the error value carried through on_failure. It implements
// error so call sites can wrap/unwrap it with the standard library.
type Failure struct {
	Kind   FailureKind
	Reason string
}

func (f *Failure) Error() string {
	return fmt.Sprintf("%s: %s", f.Kind, f.Reason)
}

func fail(kind FailureKind, format string, args ...any) *Failure {
	return &Failure{Kind: kind, Reason: fmt.Sprintf(format, args...)}
}

// SSLFlag controls TLS enablement/permissiveness, mirroring ssl_flags.
type SSLFlag int

const (
	// SSLYes means connect with TLS immediately (implicit TLS).
	SSLYes SSLFlag = 1 << iota
	// SSLStartTLS means negotiate TLS via STLS after the plaintext banner.
	SSLStartTLS
	// SSLAnyCert disables backend certificate validation.
	SSLAnyCert
)

func (f SSLFlag) Has(bit SSLFlag) bool { return f&bit != 0 }

// RedirectEntry records one destination visited during this proxy's
// session, and how many times.
type RedirectEntry struct {
	IP    string
	Port  int
	Count int
}

// REDIRECT_LOOP_MIN from the spec: revisiting an entry this many times or
// more is a definite loop.
const RedirectLoopMin = 2

// Settings groups the per-proxy configuration passed to Engine.Start.
type Settings struct {
	Host     string
	IP       string
	Port     int
	SourceIP string

	ConnectTimeoutMS          int
	NotifyRefreshS            int
	HostImmediateFailAfterS   int
	MaxReconnects             int
	MaxDisconnectDelaySeconds int

	SSLFlags SSLFlag
	LocalName string // advertised in XCLIENT DESTNAME, must be a valid DNS name

	RawlogDir string

	ProxyTTL int // hop budget; must stay > 1 to issue the next connect/XCLIENT

	DisableReconnect bool
}

// Client is the out-of-scope "owning client" collaborator: the minimum
// surface the engine needs from whatever already-identified connection it
// is proxying. The client-facing POP3 parser itself lives outside this
// core (see spec.md OUT OF SCOPE).
type Client interface {
	// Username is the login name as presented by the client.
	Username() string
	// VirtualUser is the normalized key used for admin kick lookups.
	VirtualUser() string
	// AltUsernames lists any additional names this session should also be
	// reachable under (e.g. aliases), for the kick index.
	AltUsernames() []string
	// MasterUser, if non-empty, is used as the SASL authid instead of
	// Username (master/proxy user authenticating on behalf of Username).
	MasterUser() string
	Password() string
	// RemoteAddr is the client's own address, forwarded via XCLIENT.
	RemoteAddr() string
	RemotePort() int
	// Untrusted suppresses XCLIENT forwarding when true.
	Untrusted() bool
	SessionID() string
	// ForwardFields are passdb entries whose key begins "forward_",
	// base64-joined into XCLIENT's FORWARD= argument.
	ForwardFields() map[string]string

	Input() io.Reader
	Output() io.Writer

	// Disconnect tears down the client side; used when the engine must
	// abandon a pending (not yet detached) proxy directly, e.g. an admin
	// kick of a connection still mid-login.
	Disconnect(reason string)
}

// Callbacks are the engine's five event hooks back into the surrounding
// POP3 layer.
type Callbacks struct {
	// OnServerLine is a hook for informational server lines during detach
	// setup; the engine never invokes it.
	OnServerLine func(line string)
	// OnSideChannel is a hook for lines read from a multiplex side
	// channel; the engine has no side channel and never invokes it.
	OnSideChannel func(args []string) (teardown bool, err error)
	// OnFailure reports a terminal or retry-pending failure.
	OnFailure func(kind FailureKind, reason string, reconnecting bool)
	// OnRedirect reports a redirect event ("loop", "follow", ...).
	OnRedirect func(event string, reason string)
	// OnFinished reports normal (non-failure) completion of a detached
	// proxy: the pump ran and then stopped because one side closed. bytes
	// is however many bytes passed through the leg whose write actually
	// ended the session.
	OnFinished func(cause string, bytes int64)
}

func (c Callbacks) failure(kind FailureKind, reason string, reconnecting bool) {
	if c.OnFailure != nil {
		c.OnFailure(kind, reason, reconnecting)
	}
}

func (c Callbacks) redirect(event, reason string) {
	if c.OnRedirect != nil {
		c.OnRedirect(event, reason)
	}
}

func (c Callbacks) finished(cause string, bytes int64) {
	if c.OnFinished != nil {
		c.OnFinished(cause, bytes)
	}
}

// SASLCredentials builds the sasl.Settings used to authenticate against
// the backend: authid is the master user when configured, else the
// client's own username; authzid is always the client's username.
func SASLCredentials(c Client) sasl.Settings {
	authid := c.MasterUser()
	if authid == "" {
		authid = c.Username()
	}
	authz := c.Username()
	return sasl.Settings{
		AuthID:   authid,
		AuthzID:  &authz,
		Password: c.Password(),
	}
}
