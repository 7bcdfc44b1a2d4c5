// Package sasl implements the client side of a small set of SASL
// mechanisms used by the login-proxy's pre-login dialog: PLAIN, LOGIN,
// and EXTERNAL. It mirrors the mechanism-name constants
// infodancer-pop3d's own internal/pop3/sasl.go draws from
// github.com/emersion/go-sasl, but on the client side: the proxy is
// authenticating itself against the backend, not verifying a client
// against a local passdb.
package sasl

import (
	"fmt"

	gosasl "github.com/emersion/go-sasl"
)

// Mechanism names, matching the wire tokens sent in "AUTH <mech> ...".
const (
	Plain    = gosasl.Plain
	Login    = gosasl.Login
	External = "EXTERNAL"
)

// Flag describes a capability bit on a Mechanism.
type Flag int

const (
	// NoPassword marks mechanisms (EXTERNAL) that authenticate without a
	// password, e.g. via a TLS client certificate already presented.
	NoPassword Flag = 1 << iota
)

// Settings carries the immutable configuration given to a mechanism when
// it is instantiated. authid is required for PLAIN/LOGIN; password is
// required unless the mechanism is flagged NoPassword.
type Settings struct {
	AuthID string
	// AuthzID is a pointer so a NULL authzid (nil) can be distinguished
	// from an explicitly empty one (""); the PLAIN mechanism treats the
	// two differently (see plain.go).
	AuthzID  *string
	Password string
}

// authzString returns the authzid as written on the wire, or "" with ok
// false when it is NULL (unset).
func (s Settings) authzString() (string, bool) {
	if s.AuthzID == nil {
		return "", false
	}
	return *s.AuthzID, true
}

// ResultKind enumerates the outcomes a mechanism step can report. There is
// no sentinel nil result: every step returns a Result value.
type ResultKind int

const (
	OK ResultKind = iota
	AuthFailed
	ProtocolError
	InternalError
)

func (k ResultKind) String() string {
	switch k {
	case OK:
		return "OK"
	case AuthFailed:
		return "AuthFailed"
	case ProtocolError:
		return "ProtocolError"
	case InternalError:
		return "InternalError"
	default:
		return "Unknown"
	}
}

// Result is the sum type MechResult from the spec: exactly one of
// OK | AuthFailed(msg) | ProtocolError(msg) | InternalError(msg).
type Result struct {
	Kind    ResultKind
	Message string
}

func (r Result) Error() string {
	if r.Kind == OK {
		return ""
	}
	return fmt.Sprintf("%s: %s", r.Kind, r.Message)
}

func ok() Result                    { return Result{Kind: OK} }
func protocolErr(msg string) Result { return Result{Kind: ProtocolError, Message: msg} }

// State is a mechanism instance mid-exchange: MechState from the spec.
// input feeds the latest server-to-client token; output produces the next
// client-to-server token. Every call returns a Result.
type State interface {
	// Output returns the next client token to send, or a non-OK Result.
	Output() ([]byte, Result)
	// Input consumes a server token. Call with nil/empty for an empty
	// server challenge.
	Input(serverToken []byte) Result
}

// Mechanism is the registry entry: a name, capability flags, and a
// constructor for a fresh State bound to Settings.
type Mechanism struct {
	Name  string
	Flags Flag
	New   func(Settings) (State, error)
}

// HasFlag reports whether the mechanism carries the given flag.
func (m Mechanism) HasFlag(f Flag) bool { return m.Flags&f != 0 }

var registry = map[string]Mechanism{}

func register(m Mechanism) {
	registry[normalizeName(m.Name)] = m
}

func normalizeName(name string) string {
	// case-insensitive lookup without importing strings.ToUpper's full
	// machinery for a handful of ASCII mechanism names.
	b := []byte(name)
	for i, c := range b {
		if c >= 'a' && c <= 'z' {
			b[i] = c - 'a' + 'A'
		}
	}
	return string(b)
}

func init() {
	register(Mechanism{Name: Plain, New: newPlainState})
	register(Mechanism{Name: Login, New: newLoginState})
	register(Mechanism{Name: External, Flags: NoPassword, New: newExternalState})
}

// Lookup finds a mechanism by name, case-insensitively. ok is false for an
// unknown name.
func Lookup(name string) (Mechanism, bool) {
	m, found := registry[normalizeName(name)]
	return m, found
}

// New is a convenience that looks up a mechanism by name and constructs a
// fresh State bound to settings.
func New(name string, settings Settings) (State, error) {
	m, found := Lookup(name)
	if !found {
		return nil, fmt.Errorf("sasl: unknown mechanism %q", name)
	}
	return m.New(settings)
}
