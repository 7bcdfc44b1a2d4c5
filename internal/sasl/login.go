package sasl

import "fmt"

// loginStep is the three-step state machine driving the (non-standard but
// widely deployed) LOGIN mechanism.
type loginStep int

const (
	loginStepInit loginStep = iota
	loginStepUser
	loginStepPass
	loginStepDone
)

// loginState implements LOGIN: INIT -> USER -> PASS, each step advanced by
// a server Input() call.
type loginState struct {
	settings Settings
	step     loginStep
}

func newLoginState(s Settings) (State, error) {
	if s.AuthID == "" {
		return nil, fmt.Errorf("sasl: LOGIN requires authid")
	}
	if s.Password == "" {
		return nil, fmt.Errorf("sasl: LOGIN requires password")
	}
	return &loginState{settings: s}, nil
}

// Output returns the next client token for the current step: empty in
// INIT, the authid in USER, the password in PASS.
func (l *loginState) Output() ([]byte, Result) {
	switch l.step {
	case loginStepInit:
		return nil, ok()
	case loginStepUser:
		return []byte(l.settings.AuthID), ok()
	case loginStepPass:
		return []byte(l.settings.Password), ok()
	default:
		return nil, protocolErr("server didn't finish authentication")
	}
}

// Input advances the state machine by one step regardless of the token
// content. Quirk preserved verbatim: a call while still in INIT simply
// advances to USER with no additional validation of serverToken; the
// original implementation does not distinguish "received the Username:
// prompt" from any other input shape.
func (l *loginState) Input(serverToken []byte) Result {
	switch l.step {
	case loginStepInit:
		l.step = loginStepUser
		return ok()
	case loginStepUser:
		l.step = loginStepPass
		return ok()
	case loginStepPass:
		l.step = loginStepDone
		return ok()
	default:
		return protocolErr("server didn't finish authentication")
	}
}
