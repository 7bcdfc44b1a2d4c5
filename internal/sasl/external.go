package sasl

// externalState implements EXTERNAL (RFC 4422 appendix A): a single
// exchange whose client token identifies who the already-established
// transport-layer credential (e.g. a TLS client certificate) speaks for.
// go-sasl does not provide a client-side EXTERNAL constructor — the
// mechanism is a one-liner — so this is hand-written rather than wrapped.
type externalState struct {
	settings Settings
	called   bool
}

func newExternalState(s Settings) (State, error) {
	return &externalState{settings: s}, nil
}

// Output returns authzid if set, else authid if set, else empty.
func (e *externalState) Output() ([]byte, Result) {
	if e.called {
		return nil, Result{Kind: InternalError, Message: "output already produced"}
	}
	e.called = true

	if authz, has := e.settings.authzString(); has && authz != "" {
		return []byte(authz), ok()
	}
	if e.settings.AuthID != "" {
		return []byte(e.settings.AuthID), ok()
	}
	return nil, ok()
}

func (e *externalState) Input(serverToken []byte) Result {
	if !e.called {
		if len(serverToken) != 0 {
			return protocolErr("non-empty initial response")
		}
		return ok()
	}
	return protocolErr("server didn't finish authentication")
}
