package pop3proxy

import (
	"io"
	"testing"

	"github.com/infodancer/loginproxy/internal/proxy"
	"github.com/infodancer/loginproxy/internal/sasl"
)

// fakeHost is a minimal in-memory proxy.Host for unit-testing the driver's
// dispatch logic without a real engine or socket.
type fakeHost struct {
	settings     proxy.Settings
	info         proxy.ClientInfo
	serverWrites []string
	clientWrites []string
	startTLSErr  error
	detachErr    error
	redirectErr  error
	redirectedTo string
}

func (h *fakeHost) WriteServer(line string) error {
	h.serverWrites = append(h.serverWrites, line)
	return nil
}

func (h *fakeHost) WriteClient(line string) error {
	h.clientWrites = append(h.clientWrites, line)
	return nil
}

func (h *fakeHost) StartTLS() error { return h.startTLSErr }
func (h *fakeHost) Detach() error   { return h.detachErr }

func (h *fakeHost) Redirect(ip string, port int) error {
	if h.redirectErr != nil {
		return h.redirectErr
	}
	h.redirectedTo = ip
	return nil
}

func (h *fakeHost) NewSASL(mechName string) (sasl.State, error) {
	return sasl.New(mechName, proxy.SASLCredentials(fakeClientFor(h.info)))
}

func (h *fakeHost) Settings() proxy.Settings           { return h.settings }
func (h *fakeHost) ClientInfo() proxy.ClientInfo       { return h.info }
func (h *fakeHost) RedirectPath() []proxy.RedirectEntry { return nil }
func (h *fakeHost) LocalAddr() (string, int)           { return "127.0.0.1", 9999 }

// fakeClientFor adapts a ClientInfo back into a proxy.Client good enough
// to build SASL credentials from (Username/MasterUser/Password only).
type infoClient struct{ info proxy.ClientInfo }

func fakeClientFor(info proxy.ClientInfo) infoClient { return infoClient{info: info} }

func (c infoClient) Username() string                { return c.info.Username }
func (c infoClient) VirtualUser() string              { return c.info.Username }
func (c infoClient) AltUsernames() []string           { return nil }
func (c infoClient) MasterUser() string               { return c.info.MasterUser }
func (c infoClient) Password() string                 { return c.info.Password }
func (c infoClient) RemoteAddr() string               { return c.info.RemoteAddr }
func (c infoClient) RemotePort() int                  { return c.info.RemotePort }
func (c infoClient) Untrusted() bool                  { return c.info.Untrusted }
func (c infoClient) SessionID() string                { return c.info.SessionID }
func (c infoClient) ForwardFields() map[string]string { return c.info.ForwardFields }
func (c infoClient) Input() io.Reader  { return noopReader{} }
func (c infoClient) Output() io.Writer { return noopWriter{} }
func (c infoClient) Disconnect(string) {}

type noopReader struct{}

func (noopReader) Read([]byte) (int, error) { return 0, nil }

type noopWriter struct{}

func (noopWriter) Write(b []byte) (int, error) { return len(b), nil }

func mustXClientLine(t *testing.T) string {
	t.Helper()
	h := &fakeHost{
		settings: proxy.Settings{ProxyTTL: 5},
		info: proxy.ClientInfo{
			RemoteAddr: "192.0.2.1",
			RemotePort: 5000,
			SessionID:  "sess-1",
		},
	}
	line, err := buildXClientLine(h, h.settings, h.info)
	if err != nil {
		t.Fatalf("buildXClientLine: %v", err)
	}
	return line
}
