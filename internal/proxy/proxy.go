package proxy

import (
	"bufio"
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/infodancer/loginproxy/internal/health"
	"github.com/infodancer/loginproxy/internal/sasl"
)

// PROXY_MAX_OUTBUF from the spec: a cap on buffered-but-unsent bytes.
// Nothing in the package applies it; a detached proxy is not cut off for
// a slow peer.
const proxyMaxOutbuf = 1024

// Proxy is one client-to-backend session under construction or already
// detached to the pump. Every exported mutation goes through the Engine;
// Proxy itself only implements the narrow Host seam the protocol Driver
// uses during the pre-login dialog.
type Proxy struct {
	handle Handle
	engine *Engine

	client    Client
	settings  Settings
	callbacks Callbacks
	driver    Driver

	record         *health.Record
	activeRecorded bool

	created time.Time

	mu         sync.Mutex
	conn       net.Conn
	reader     *bufio.Reader
	tlsActive  bool
	connected  bool
	detached   bool
	reconnects int

	redirectPath []RedirectEntry

	saslState sasl.State

	// lastActivity is a unix-nano timestamp updated on every byte moved by
	// the pump, consulted by the engine's idle sweep. Zero until detach.
	lastActivity atomic.Int64

	// clientCloser/serverCloser let the idle sweep and admin kick force a
	// detached proxy's pump to finish by closing one side; nil until
	// Detach.
	clientCloser, serverCloser io.Closer

	// destroying guards free() against concurrent re-entry from the idle
	// sweep, an admin kick, and the pump's own finish callback.
	destroying atomic.Bool

	// notifyStop, once set by Detach, stops the periodic health-registry
	// notification for this proxy's user when closed by free().
	notifyStop chan struct{}
}

// Handle returns this proxy's stable identifier.
func (p *Proxy) Handle() Handle { return p.handle }

// Settings implements Host.
func (p *Proxy) Settings() Settings { return p.settings }

// RedirectPath implements Host.
func (p *Proxy) RedirectPath() []RedirectEntry {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]RedirectEntry, len(p.redirectPath))
	copy(out, p.redirectPath)
	return out
}

// ClientInfo implements Host.
func (p *Proxy) ClientInfo() ClientInfo {
	return ClientInfo{
		Username:      p.client.Username(),
		MasterUser:    p.client.MasterUser(),
		Password:      p.client.Password(),
		RemoteAddr:    p.client.RemoteAddr(),
		RemotePort:    p.client.RemotePort(),
		Untrusted:     p.client.Untrusted(),
		SessionID:     p.client.SessionID(),
		ForwardFields: p.client.ForwardFields(),
	}
}

// LocalAddr implements Host: the local endpoint of the current backend
// connection, used by redirect loop detection.
func (p *Proxy) LocalAddr() (string, int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.conn == nil {
		return "", 0
	}
	host, portStr, err := net.SplitHostPort(p.conn.LocalAddr().String())
	if err != nil {
		return "", 0
	}
	var port int
	fmt.Sscanf(portStr, "%d", &port)
	return host, port
}

// NewSASL implements Host.
func (p *Proxy) NewSASL(mechName string) (sasl.State, error) {
	st, err := sasl.New(mechName, SASLCredentials(p.client))
	if err != nil {
		return nil, err
	}
	p.mu.Lock()
	p.saslState = st
	p.mu.Unlock()
	return st, nil
}

// WriteServer implements Host.
func (p *Proxy) WriteServer(line string) error {
	p.mu.Lock()
	conn := p.conn
	p.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("proxy: write to server with no connection")
	}
	_, err := conn.Write([]byte(line + "\r\n"))
	return err
}

// WriteClient implements Host: forwards a line to the client, valid only
// before detach.
func (p *Proxy) WriteClient(line string) error {
	_, err := p.client.Output().Write([]byte(line + "\r\n"))
	return err
}

// StartTLS implements Host: upgrades the current backend connection in
// place and resets the line reader, since buffered plaintext must not leak
// into the encrypted session.
func (p *Proxy) StartTLS() error {
	p.mu.Lock()
	conn := p.conn
	p.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("proxy: starttls with no connection")
	}

	cfg := &tls.Config{ServerName: p.settings.Host}
	if p.settings.SSLFlags.Has(SSLAnyCert) {
		cfg.InsecureSkipVerify = true
	}
	tlsConn := tls.Client(conn, cfg)
	if err := tlsConn.HandshakeContext(context.Background()); err != nil {
		return fmt.Errorf("proxy: starttls handshake: %w", err)
	}

	p.mu.Lock()
	p.conn = tlsConn
	p.reader = bufio.NewReader(tlsConn)
	p.tlsActive = true
	p.mu.Unlock()
	return nil
}

// readLine reads one CRLF-terminated line from the backend, trimming the
// terminator.
func (p *Proxy) readLine() (string, error) {
	p.mu.Lock()
	r := p.reader
	p.mu.Unlock()
	if r == nil {
		return "", fmt.Errorf("proxy: read with no connection")
	}
	line, err := r.ReadString('\n')
	if err != nil {
		return "", err
	}
	for len(line) > 0 && (line[len(line)-1] == '\n' || line[len(line)-1] == '\r') {
		line = line[:len(line)-1]
	}
	return line, nil
}

func (p *Proxy) markConnected(conn net.Conn) {
	p.mu.Lock()
	p.conn = conn
	p.reader = bufio.NewReader(conn)
	p.connected = true
	p.tlsActive = false
	p.mu.Unlock()
}

func (p *Proxy) closeConn() {
	p.mu.Lock()
	conn := p.conn
	p.conn = nil
	p.reader = nil
	p.connected = false
	p.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}
