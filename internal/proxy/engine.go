package proxy

import (
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/infodancer/loginproxy/internal/health"
)

// proxyConnectRetryMsecs is PROXY_CONNECT_RETRY_MSECS from the spec: the
// pause between a retryable failure and the next connect attempt.
const proxyConnectRetryMsecs = 1000

// dieIdleSecs is DIE_IDLE_SECS: how long a detached proxy may sit without
// traffic in either direction before the idle sweep closes it.
const dieIdleSecs = 2

// Engine owns every Proxy's lifecycle: the pending set (still in the
// pre-login dialog), the detached set (handed to the pump), and the
// by-user index admin kick uses to find a session without an open-coded
// linear scan of every connection in the process.
type Engine struct {
	mu       sync.Mutex
	pending  map[Handle]*Proxy
	detached map[Handle]*Proxy
	byUser   map[string]map[Handle]*Proxy

	registry *health.Registry
	metrics  Metrics
}

// NewEngine constructs an Engine bound to registry. metrics may be nil.
func NewEngine(registry *health.Registry, metrics Metrics) *Engine {
	if metrics == nil {
		metrics = noopMetrics{}
	}
	return &Engine{
		pending:  make(map[Handle]*Proxy),
		detached: make(map[Handle]*Proxy),
		byUser:   make(map[string]map[Handle]*Proxy),
		registry: registry,
		metrics:  metrics,
	}
}

// Start creates a Proxy for client and begins connecting to its
// destination in the background. Failures and lifecycle events arrive
// through callbacks; Start itself only fails on malformed settings.
func (e *Engine) Start(client Client, settings Settings, driver Driver, callbacks Callbacks) (*Proxy, error) {
	if settings.Host == "" || settings.IP == "" {
		return nil, fmt.Errorf("proxy: settings.IP/Host must be set")
	}
	if settings.Port <= 0 || settings.Port > 65535 {
		return nil, fmt.Errorf("proxy: invalid port %d", settings.Port)
	}
	if settings.ProxyTTL <= 0 {
		settings.ProxyTTL = 5
	}

	p := &Proxy{
		handle:    nextHandle(),
		engine:    e,
		client:    client,
		settings:  settings,
		callbacks: callbacks,
		driver:    driver,
		created:   time.Now(),
	}

	e.mu.Lock()
	e.pending[p.handle] = p
	e.mu.Unlock()

	go e.run(p)
	return p, nil
}

// run drives one Proxy through connect-with-retry and the pre-login
// dialog until it either detaches to the pump or fails terminally.
func (e *Engine) run(p *Proxy) {
	for {
		err := e.connect(p)
		if err == nil {
			p.driver.Reset()
			detached, derr := e.protocolLoop(p)
			if detached {
				return
			}
			err = derr
		}

		if _, redirected := err.(redirectSignal); redirected {
			// Settings already point at the new destination; reconnect
			// immediately without touching the reconnect budget or
			// on_failure, since no failure occurred.
			e.metrics.Redirect(false)
			e.endActive(p)
			p.closeConn()
			continue
		}

		if err == nil {
			err = fail(Protocol, "connection closed before login completed")
		}

		if p.destroying.Load() {
			// Already torn down by an admin kick racing this same
			// connection error; on_failure has nothing useful to report.
			return
		}

		failure, ok := err.(*Failure)
		if !ok {
			failure = fail(Internal, "%v", err)
		}

		retry := failure.Kind.Retryable() && p.tryReconnect()
		p.callbacks.failure(failure.Kind, failure.Reason, retry)

		if !retry {
			p.driver.OnTerminalFailure(p, failure)
			e.endActive(p)
			p.closeConn()
			e.removePending(p)
			return
		}

		e.metrics.Reconnect()
		e.endActive(p)
		p.closeConn()
		p.mu.Lock()
		p.reconnects++
		p.mu.Unlock()
		time.Sleep(proxyConnectRetryMsecs * time.Millisecond)
	}
}

// tryReconnect reports whether another connect attempt fits within this
// proxy's reconnect and time budget.
func (p *Proxy) tryReconnect() bool {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.settings.DisableReconnect {
		return false
	}
	if p.settings.MaxReconnects > 0 && p.reconnects >= p.settings.MaxReconnects {
		return false
	}
	if p.settings.ConnectTimeoutMS <= 0 {
		return true
	}
	budget := time.Duration(p.settings.ConnectTimeoutMS) * time.Millisecond
	remaining := budget - time.Since(p.created)
	needed := (proxyConnectRetryMsecs + 100) * time.Millisecond
	return remaining >= needed
}

// connect performs one dial attempt, consulting the destination health
// registry for fast-fail and recording the outcome there either way.
func (e *Engine) connect(p *Proxy) error {
	p.mu.Lock()
	settings := p.settings
	p.mu.Unlock()

	if settings.ProxyTTL <= 1 {
		return fail(RemoteConfig, "TTL reached zero - loop?")
	}
	if settings.LocalName != "" && !isValidDNSName(settings.LocalName) {
		return fail(Internal, "[BUG] Invalid local_name %q", settings.LocalName)
	}

	record := e.registry.Get(health.Key{IP: settings.IP, Port: settings.Port})
	p.mu.Lock()
	p.record = record
	p.mu.Unlock()

	e.registry.SeedFirstAttempt(record)

	immediateFailAfter := time.Duration(settings.HostImmediateFailAfterS) * time.Second
	if e.registry.ShouldFailFast(record, immediateFailAfter) {
		return fail(Connect, "destination %s:%d is failing fast", settings.IP, settings.Port)
	}

	e.metrics.ConnectAttempt()
	if !e.registry.TryBeginAttempt(record) {
		return fail(Connect, "too many concurrent attempts against %s:%d", settings.IP, settings.Port)
	}

	dialer := &net.Dialer{}
	if settings.ConnectTimeoutMS > 0 {
		dialer.Timeout = time.Duration(settings.ConnectTimeoutMS) * time.Millisecond
	}
	if settings.SourceIP != "" {
		if ip := net.ParseIP(settings.SourceIP); ip != nil {
			dialer.LocalAddr = &net.TCPAddr{IP: ip}
		}
	}

	addr := net.JoinHostPort(settings.IP, strconv.Itoa(settings.Port))
	conn, err := dialer.Dial("tcp", addr)
	if err != nil {
		e.registry.RecordAttemptEnd(record, p.created, health.AttemptFailure)
		return fail(Connect, "dial %s: %v", addr, err)
	}

	e.registry.RecordAttemptEnd(record, p.created, health.AttemptSuccess)
	p.mu.Lock()
	p.activeRecorded = true
	p.mu.Unlock()
	e.registry.ResetDisconnectBatch(record)
	e.metrics.ConnectSuccess()
	p.markConnected(conn)

	if settings.SSLFlags.Has(SSLYes) && !settings.SSLFlags.Has(SSLStartTLS) {
		if err := p.StartTLS(); err != nil {
			return fail(Remote, "implicit tls: %v", err)
		}
	}
	return nil
}

// protocolLoop feeds backend lines to the driver until it detaches or
// fails. detached is true once the driver has already called Detach
// successfully, in which case err is always nil and ownership of p has
// moved to the pump.
func (e *Engine) protocolLoop(p *Proxy) (detached bool, err error) {
	for {
		line, rerr := p.readLine()
		if rerr != nil {
			return false, fail(Protocol, "reading from backend: %v", rerr)
		}
		done, perr := p.driver.ParseLine(p, line)
		if perr != nil {
			return false, perr
		}
		if done {
			return true, nil
		}
	}
}

// endActive balances a successful connect recorded against p's current
// destination record. It is safe to call on every teardown path (redirect,
// reconnect, terminal failure, final free): activeRecorded is cleared the
// first time, so a record is never decremented twice for one connect.
func (e *Engine) endActive(p *Proxy) {
	p.mu.Lock()
	record := p.record
	recorded := p.activeRecorded
	p.activeRecorded = false
	p.mu.Unlock()
	if recorded && record != nil {
		e.registry.RecordActiveEnd(record)
	}
}

func (e *Engine) removePending(p *Proxy) {
	e.mu.Lock()
	delete(e.pending, p.handle)
	e.mu.Unlock()
}

func (e *Engine) moveToDetached(p *Proxy) {
	e.mu.Lock()
	delete(e.pending, p.handle)
	e.detached[p.handle] = p
	e.indexByUserLocked(p)
	e.mu.Unlock()
	e.metrics.Detached()
}

func (e *Engine) indexByUserLocked(p *Proxy) {
	names := append([]string{p.client.VirtualUser()}, p.client.AltUsernames()...)
	for _, n := range names {
		if n == "" {
			continue
		}
		set, ok := e.byUser[n]
		if !ok {
			set = make(map[Handle]*Proxy)
			e.byUser[n] = set
		}
		set[p.handle] = p
	}
}

func (e *Engine) removeDetached(p *Proxy) {
	e.mu.Lock()
	delete(e.detached, p.handle)
	names := append([]string{p.client.VirtualUser()}, p.client.AltUsernames()...)
	for _, n := range names {
		if set, ok := e.byUser[n]; ok {
			delete(set, p.handle)
			if len(set) == 0 {
				delete(e.byUser, n)
			}
		}
	}
	e.mu.Unlock()
}

