package proxy

// KickUser forcibly disconnects every proxy (detached or still mid-login)
// registered under user, returning how many it found. A detached proxy is
// closed directly, letting its pump finish naturally and free() run; a
// still-pending proxy is disconnected through its Client and marked
// destroying so the connect-retry loop's eventual on_failure is
// suppressed.
func (e *Engine) KickUser(user string) int {
	e.mu.Lock()
	targets := make([]*Proxy, 0, len(e.byUser[user]))
	for _, p := range e.byUser[user] {
		targets = append(targets, p)
	}
	var pending []*Proxy
	for _, p := range e.pending {
		if matchesUser(p, user) {
			pending = append(pending, p)
		}
	}
	e.mu.Unlock()

	for _, p := range targets {
		p.mu.Lock()
		cc, sc := p.clientCloser, p.serverCloser
		p.mu.Unlock()
		if cc != nil {
			cc.Close()
		}
		if sc != nil {
			sc.Close()
		}
	}

	for _, p := range pending {
		if p.destroying.CompareAndSwap(false, true) {
			p.client.Disconnect("kicked by admin")
			e.endActive(p)
			p.closeConn()
			e.removePending(p)
		}
	}

	return len(targets) + len(pending)
}

func matchesUser(p *Proxy, user string) bool {
	if p.client.VirtualUser() == user {
		return true
	}
	for _, alt := range p.client.AltUsernames() {
		if alt == user {
			return true
		}
	}
	return false
}
