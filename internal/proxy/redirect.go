package proxy

import "fmt"

// recordRedirect appends ip:port to the path, returning the updated entry
// and whether this redirect constitutes a loop (RedirectLoopMin or more
// visits to the same destination, or a redirect back to our own local
// address).
func (p *Proxy) recordRedirect(ip string, port int) (entry RedirectEntry, loop bool) {
	localIP, localPort := p.LocalAddr()
	if localIP != "" && ip == localIP && port == localPort {
		return RedirectEntry{IP: ip, Port: port, Count: RedirectLoopMin}, true
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	for i := range p.redirectPath {
		e := &p.redirectPath[i]
		if e.IP == ip && e.Port == port {
			e.Count++
			return *e, e.Count >= RedirectLoopMin
		}
	}
	e := RedirectEntry{IP: ip, Port: port, Count: 1}
	p.redirectPath = append(p.redirectPath, e)
	return e, false
}

// redirectSignal is returned up through protocolLoop to tell run's retry
// loop "reconnect immediately against the already-updated settings", as
// opposed to a genuine Failure that goes through on_failure and the
// reconnect budget.
type redirectSignal struct{}

func (redirectSignal) Error() string { return "proxy: redirected" }

// Redirect implements Host. On success the proxy's destination has been
// switched in place and the driver should stop processing the current
// line by returning the error Redirect hands back.
func (p *Proxy) Redirect(ip string, port int) error {
	p.mu.Lock()
	ttl := p.settings.ProxyTTL
	p.mu.Unlock()

	if ttl <= 1 {
		p.callbacks.redirect("loop", "TTL reached zero")
		return fail(RemoteConfig, "TTL reached zero - loop?")
	}

	entry, loop := p.recordRedirect(ip, port)
	if loop {
		p.callbacks.redirect("loop", fmt.Sprintf("destination %s:%d revisited %d times", entry.IP, entry.Port, entry.Count))
		return fail(InternalConfig, "redirect loop detected at %s:%d", entry.IP, entry.Port)
	}

	p.mu.Lock()
	p.settings.IP = ip
	p.settings.Port = port
	p.settings.ProxyTTL = ttl - 1
	p.mu.Unlock()

	p.callbacks.redirect("follow", fmt.Sprintf("redirected to %s:%d", ip, port))
	return redirectSignal{}
}
