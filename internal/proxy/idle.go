package proxy

import (
	"strings"
	"time"

	"github.com/infodancer/loginproxy/internal/pump"
)

// awaitPumpFinish blocks until pm reports completion, paces the teardown
// against the destination's disconnect batch, then frees p.
func (e *Engine) awaitPumpFinish(p *Proxy, pm *pump.Pump) {
	result := <-pm.Finished()
	e.paceDisconnect(p)
	e.free(p, result.Side.String(), result.Err, result.Bytes)
}

// paceDisconnect spreads a mass logout against one destination across
// settings.MaxDisconnectDelaySeconds rather than letting every detached
// proxy against it close at once; MaxDisconnectDelaySeconds == 0 (the
// default) disconnects immediately.
func (e *Engine) paceDisconnect(p *Proxy) {
	p.mu.Lock()
	record := p.record
	maxDelay := time.Duration(p.settings.MaxDisconnectDelaySeconds) * time.Second
	p.mu.Unlock()
	if record == nil || maxDelay <= 0 {
		return
	}

	delay := e.registry.ComputeDisconnectDelay(record, maxDelay)
	if delay <= 0 {
		return
	}
	e.metrics.DisconnectDelayed(delay.Seconds())
	time.Sleep(delay)
	record.DisconnectFinished()
}

// free tears a detached proxy down exactly once: stops its notify timer,
// releases its health record slot, removes it from the engine's indexes,
// and reports completion. Safe to call concurrently from the pump
// callback, the idle sweep, and an admin kick racing each other.
func (e *Engine) free(p *Proxy, cause string, causeErr error, bytes int64) {
	if !p.destroying.CompareAndSwap(false, true) {
		return
	}

	p.mu.Lock()
	notifyStop := p.notifyStop
	p.notifyStop = nil
	p.mu.Unlock()
	if notifyStop != nil {
		close(notifyStop)
	}

	p.closeConn()
	e.endActive(p)
	e.removeDetached(p)
	e.metrics.Finished()

	reason := cause
	if causeErr != nil {
		reason = causeErr.Error()
	}
	p.callbacks.finished(reason, bytes)
}

// KillIdle closes every detached proxy that has moved no bytes in either
// direction for at least dieIdleSecs. It is meant to be called
// periodically (e.g. once a second) by the process that owns the Engine.
func (e *Engine) KillIdle() {
	e.mu.Lock()
	victims := make([]*Proxy, 0)
	cutoff := time.Now().Add(-dieIdleSecs * time.Second).UnixNano()
	for _, p := range e.detached {
		if p.lastActivity.Load() <= cutoff {
			victims = append(victims, p)
		}
	}
	e.mu.Unlock()

	for _, p := range victims {
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
}

// isValidDNSName is a permissive RFC 1123 hostname check: dot-separated
// labels of letters, digits and hyphens, no label starting or ending with
// a hyphen, nothing empty.
func isValidDNSName(name string) bool {
	if name == "" || len(name) > 253 {
		return false
	}
	labels := strings.Split(name, ".")
	for _, label := range labels {
		if len(label) == 0 || len(label) > 63 {
			return false
		}
		if label[0] == '-' || label[len(label)-1] == '-' {
			return false
		}
		for _, c := range label {
			if !(c >= 'a' && c <= 'z' || c >= 'A' && c <= 'Z' || c >= '0' && c <= '9' || c == '-') {
				return false
			}
		}
	}
	return true
}
