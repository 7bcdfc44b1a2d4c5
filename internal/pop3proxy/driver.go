// Package pop3proxy implements the POP3-specific pre-login dialog plugged
// into the proxy engine: banner parsing, optional STARTTLS/XCLIENT,
// USER/PASS or SASL AUTH, and the REFERRAL/temp-fail/generic failure
// fall-through that the engine's retry and redirect machinery consumes.
package pop3proxy

import (
	"encoding/base64"
	"fmt"
	"strings"

	"github.com/infodancer/loginproxy/internal/proxy"
	"github.com/infodancer/loginproxy/internal/sasl"
)

type loginState int

const (
	stateBanner loginState = iota
	stateStartTLS
	stateXClient
	stateLogin1
	stateLogin2
)

// authFailedMsg and loginProxyFailureMsg are the two stock replies the
// driver substitutes when the backend's own reply isn't usable verbatim.
const (
	authFailedMsg        = "Authentication failed."
	loginProxyFailureMsg = "Temporary login failure, please try again."
)

// Driver is the proxy.Driver implementation for POP3. One Driver instance
// is reused across reconnects and redirects of the same Proxy; Reset
// returns it to Banner for each fresh connect attempt.
type Driver struct {
	state             loginState
	mechanism         string // "" selects plaintext USER/PASS
	advertisedXClient bool
	sasl              sasl.State
}

// New constructs a Driver that authenticates with mechanism, or with plain
// USER/PASS when mechanism is empty.
func New(mechanism string) *Driver {
	return &Driver{mechanism: mechanism}
}

func (d *Driver) Reset() {
	d.state = stateBanner
	d.advertisedXClient = false
	d.sasl = nil
}

func (d *Driver) ParseLine(h proxy.Host, line string) (bool, error) {
	switch d.state {
	case stateBanner:
		return d.parseBanner(h, line)
	case stateStartTLS:
		return d.parseStartTLS(h, line)
	case stateXClient:
		return d.parseXClient(h, line)
	case stateLogin1:
		return d.parseLogin1(h, line)
	case stateLogin2:
		return d.parseLogin2(h, line)
	default:
		return false, &proxy.Failure{Kind: proxy.Internal, Reason: fmt.Sprintf("[BUG] invalid pop3proxy state %d", d.state)}
	}
}

func (d *Driver) parseBanner(h proxy.Host, line string) (bool, error) {
	if !strings.HasPrefix(line, "+OK") {
		return false, &proxy.Failure{Kind: proxy.Protocol, Reason: "Invalid banner"}
	}
	d.advertisedXClient = strings.Contains(line, " [XCLIENT]")

	if h.Settings().SSLFlags.Has(proxy.SSLStartTLS) {
		if err := h.WriteServer("STLS"); err != nil {
			return false, internalErr(err)
		}
		d.state = stateStartTLS
		return false, nil
	}
	return d.sendLogin(h)
}

func (d *Driver) parseStartTLS(h proxy.Host, line string) (bool, error) {
	if !strings.HasPrefix(line, "+OK") {
		return false, &proxy.Failure{Kind: proxy.Remote, Reason: "STLS failed"}
	}
	if err := h.StartTLS(); err != nil {
		return false, internalErr(err)
	}
	return d.sendLogin(h)
}

func (d *Driver) parseXClient(h proxy.Host, line string) (bool, error) {
	if !strings.HasPrefix(line, "+OK") {
		return false, &proxy.Failure{Kind: proxy.Remote, Reason: "XCLIENT failed"}
	}
	return d.sendCredentials(h)
}

func (d *Driver) parseLogin1(h proxy.Host, line string) (bool, error) {
	if strings.HasPrefix(line, "+OK") {
		info := h.ClientInfo()
		if err := h.WriteServer("PASS " + info.Password); err != nil {
			return false, internalErr(err)
		}
		d.state = stateLogin2
		return false, nil
	}
	return d.handleLoginFailure(h, line)
}

func (d *Driver) parseLogin2(h proxy.Host, line string) (bool, error) {
	if d.sasl != nil && strings.HasPrefix(line, "+ ") {
		return d.stepSASL(h, line)
	}
	if strings.HasPrefix(line, "+OK") {
		if err := h.WriteClient(line); err != nil {
			return false, internalErr(err)
		}
		if err := h.Detach(); err != nil {
			return false, internalErr(err)
		}
		return true, nil
	}
	return d.handleLoginFailure(h, line)
}

// sendLogin is send_login from the spec, split across two call sites:
// here (from Banner/StartTLS) it issues XCLIENT when advertised, or falls
// straight through to credentials; the XClient state handler calls
// sendCredentials directly once XCLIENT's +OK has arrived.
func (d *Driver) sendLogin(h proxy.Host) (bool, error) {
	settings := h.Settings()
	if settings.ProxyTTL <= 1 {
		return false, &proxy.Failure{Kind: proxy.InternalConfig, Reason: "proxy_ttl exhausted before login"}
	}

	info := h.ClientInfo()
	if d.advertisedXClient && !info.Untrusted {
		line, err := buildXClientLine(h, settings, info)
		if err != nil {
			return false, internalErr(err)
		}
		if err := h.WriteServer(line); err != nil {
			return false, internalErr(err)
		}
		d.state = stateXClient
		return false, nil
	}
	return d.sendCredentials(h)
}

func (d *Driver) sendCredentials(h proxy.Host) (bool, error) {
	info := h.ClientInfo()

	if d.mechanism == "" {
		if err := h.WriteServer("USER " + info.Username); err != nil {
			return false, internalErr(err)
		}
		d.state = stateLogin1
		return false, nil
	}

	st, err := h.NewSASL(d.mechanism)
	if err != nil {
		return false, &proxy.Failure{Kind: proxy.Internal, Reason: err.Error()}
	}
	d.sasl = st

	tok, res := st.Output()
	if res.Kind != sasl.OK {
		return false, classifySASL(res)
	}
	if err := h.WriteServer(fmt.Sprintf("AUTH %s %s", d.mechanism, encodeToken(tok))); err != nil {
		return false, internalErr(err)
	}
	d.state = stateLogin2
	return false, nil
}

func (d *Driver) stepSASL(h proxy.Host, line string) (bool, error) {
	payload := strings.TrimPrefix(line, "+ ")
	serverTok, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return false, &proxy.Failure{Kind: proxy.Protocol, Reason: "invalid base64 in SASL challenge"}
	}

	if res := d.sasl.Input(serverTok); res.Kind != sasl.OK {
		return false, classifySASL(res)
	}

	tok, res := d.sasl.Output()
	if res.Kind != sasl.OK {
		return false, classifySASL(res)
	}
	if err := h.WriteServer(encodeToken(tok)); err != nil {
		return false, internalErr(err)
	}
	return false, nil
}

func encodeToken(tok []byte) string {
	if len(tok) == 0 {
		return "="
	}
	return base64.StdEncoding.EncodeToString(tok)
}

// classifySASL maps a non-OK mechanism result to its FailureKind per the
// error handling design: AuthFailed becomes AuthNotReplied (no proper
// server reply exists to forward), ProtocolError/InternalError keep their
// generic engine-level kinds.
func classifySASL(res sasl.Result) *proxy.Failure {
	switch res.Kind {
	case sasl.AuthFailed:
		return &proxy.Failure{Kind: proxy.AuthNotReplied, Reason: res.Message}
	case sasl.ProtocolError:
		return &proxy.Failure{Kind: proxy.Protocol, Reason: res.Message}
	default:
		return &proxy.Failure{Kind: proxy.Internal, Reason: res.Message}
	}
}

func internalErr(err error) *proxy.Failure {
	return &proxy.Failure{Kind: proxy.Internal, Reason: err.Error()}
}

// OnTerminalFailure implements proxy.Driver: writes whatever client-visible
// reply this failure kind calls for, once the engine has decided no
// further reconnect will happen.
func (d *Driver) OnTerminalFailure(h proxy.Host, f *proxy.Failure) {
	switch f.Kind {
	case proxy.AuthTempfail:
		h.WriteClient("-ERR [SYS/TEMP] " + f.Reason)
	case proxy.AuthReplied, proxy.AuthRedirect:
		// Already written to the client (AuthReplied) or handled entirely
		// through the redirect callback (AuthRedirect): nothing more to say.
	default:
		h.WriteClient("-ERR " + loginProxyFailureMsg)
	}
}
