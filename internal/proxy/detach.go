package proxy

import (
	"fmt"
	"io"
	"time"

	"github.com/infodancer/loginproxy/internal/pump"
)

// clientConn adapts the engine's Client (an Input reader plus an Output
// writer, with a Disconnect callback instead of a Close method) to
// io.ReadWriteCloser so it can sit on one side of a pump.Pump.
type clientConn struct {
	c Client
}

func (cc clientConn) Read(b []byte) (int, error)  { return cc.c.Input().Read(b) }
func (cc clientConn) Write(b []byte) (int, error) { return cc.c.Output().Write(b) }
func (cc clientConn) Close() error {
	cc.c.Disconnect("pump finished")
	return nil
}

// activityConn stamps p.lastActivity on every byte moved, so the idle
// sweep can tell a quiet-but-live pump from an abandoned one.
type activityConn struct {
	io.ReadWriteCloser
	p *Proxy
}

func (ac activityConn) touch() { ac.p.lastActivity.Store(time.Now().UnixNano()) }

func (ac activityConn) Read(b []byte) (int, error) {
	n, err := ac.ReadWriteCloser.Read(b)
	if n > 0 {
		ac.touch()
	}
	return n, err
}

func (ac activityConn) Write(b []byte) (int, error) {
	n, err := ac.ReadWriteCloser.Write(b)
	if n > 0 {
		ac.touch()
	}
	return n, err
}

// Detach implements Host: ends the pre-login dialog and moves the proxy
// and its client to the bidirectional pump. Detach is only valid once;
// calling it twice is a caller bug and returns an error rather than
// starting a second pump over the same connection.
func (p *Proxy) Detach() error {
	p.mu.Lock()
	if p.detached {
		p.mu.Unlock()
		return fmt.Errorf("proxy: already detached")
	}
	if !p.connected || p.conn == nil {
		p.mu.Unlock()
		return fmt.Errorf("proxy: detach with no backend connection")
	}
	p.detached = true
	conn := p.conn
	buffered := p.reader.Buffered()
	p.mu.Unlock()

	var server io.ReadWriteCloser = conn
	if buffered > 0 {
		// Anything already read into the bufio.Reader (a pipelined banner
		// byte, a greedy TLS record) must reach the client before raw
		// socket bytes do, or the pump would silently drop it.
		leftover, err := p.reader.Peek(buffered)
		if err == nil {
			server = &prefixedConn{prefix: append([]byte(nil), leftover...), ReadWriteCloser: conn}
			p.reader.Discard(buffered)
		}
	}

	clientSide := activityConn{ReadWriteCloser: clientConn{c: p.client}, p: p}
	serverSide := activityConn{ReadWriteCloser: server, p: p}

	p.mu.Lock()
	p.clientCloser = clientSide
	p.serverCloser = serverSide
	p.mu.Unlock()
	p.lastActivity.Store(time.Now().UnixNano())

	p.engine.moveToDetached(p)

	pm := pump.New(clientSide, serverSide)
	pm.Start()
	go p.engine.awaitPumpFinish(p, pm)
	p.engine.startNotify(p)
	return nil
}

// startNotify arms a periodic "still proxied" notification for a newly
// detached proxy, firing every settings.NotifyRefreshS seconds until free()
// closes its stop channel. NotifyRefreshS <= 0 disables it.
func (e *Engine) startNotify(p *Proxy) {
	p.mu.Lock()
	refresh := p.settings.NotifyRefreshS
	user := p.client.VirtualUser()
	p.mu.Unlock()
	if refresh <= 0 || user == "" {
		return
	}

	stop := make(chan struct{})
	p.mu.Lock()
	p.notifyStop = stop
	p.mu.Unlock()

	go func() {
		ticker := time.NewTicker(time.Duration(refresh) * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				e.registry.Notify(user)
			case <-stop:
				return
			}
		}
	}()
}

// prefixedConn serves prefix before falling through to the wrapped
// connection's own Read calls.
type prefixedConn struct {
	prefix []byte
	io.ReadWriteCloser
}

func (pc *prefixedConn) Read(b []byte) (int, error) {
	if len(pc.prefix) > 0 {
		n := copy(b, pc.prefix)
		pc.prefix = pc.prefix[n:]
		return n, nil
	}
	return pc.ReadWriteCloser.Read(b)
}
