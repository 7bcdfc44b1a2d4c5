package sasl

import "fmt"

// plainState implements the PLAIN mechanism (RFC 4616) from the client
// side: output() ∥ produce the initial response, then the exchange is
// over. Any server input before output() has been called, or any server
// input after it, is a protocol violation.
type plainState struct {
	settings Settings
	called   bool // output() has been invoked
}

func newPlainState(s Settings) (State, error) {
	if s.AuthID == "" {
		return nil, fmt.Errorf("sasl: PLAIN requires authid")
	}
	if s.Password == "" {
		return nil, fmt.Errorf("sasl: PLAIN requires password")
	}
	return &plainState{settings: s}, nil
}

// Output builds authzid ∥ NUL ∥ authid ∥ NUL ∥ password.
//
// Quirk preserved verbatim from the source implementation: when authzid is
// NULL (unset, not merely empty), the leading NUL is omitted entirely,
// yielding "authid\0password" rather than "\0authid\0password". This is a
// known oddity of the original code; it is kept rather than "fixed" per
// the spec's design notes.
func (p *plainState) Output() ([]byte, Result) {
	if p.called {
		return nil, Result{Kind: InternalError, Message: "output already produced"}
	}
	p.called = true

	authz, hasAuthz := p.settings.authzString()
	var buf []byte
	if hasAuthz {
		buf = append(buf, authz...)
		buf = append(buf, 0)
	}
	buf = append(buf, p.settings.AuthID...)
	buf = append(buf, 0)
	buf = append(buf, p.settings.Password...)
	return buf, ok()
}

func (p *plainState) Input(serverToken []byte) Result {
	if !p.called {
		if len(serverToken) != 0 {
			return protocolErr("non-empty initial response")
		}
		return ok()
	}
	// output() already produced the single client token; PLAIN never
	// expects another server round-trip.
	return protocolErr("server didn't finish authentication")
}
