// Package health implements the destination health registry: a
// process-wide table of per-(ip,port) counters and timestamps that the
// proxy engine consults to decide whether a backend is healthy enough to
// try, and to coordinate pacing of mass disconnects across every proxy
// that happens to share a destination.
package health

import (
	"fmt"
	"sync"
	"time"

	"github.com/infodancer/loginproxy/internal/limit"
)

// Key identifies a destination by address. Ports are scoped per-ip so two
// services on the same host get independent health tracking.
type Key struct {
	IP   string
	Port int
}

func (k Key) String() string { return fmt.Sprintf("%s:%d", k.IP, k.Port) }

// Record is one per Key, shared by every Proxy that targets that
// destination. All fields are accessed only through Registry methods,
// which serialize mutation per-record via mu.
type Record struct {
	key Key
	mu  sync.Mutex

	waiting uint // in-flight connect attempts
	active  uint // established proxies

	lastSuccess time.Time
	lastFailure time.Time

	disconnectBatchStart time.Time
	disconnectsInBatch   uint
	delayedDisconnects   uint

	// attempts caps concurrent in-flight connect attempts against this
	// destination; zero (the default) is unbounded. Engine callers that
	// want a hard cap install one via Registry.SetAttemptLimit.
	attempts *limit.Counter
}

// Key returns the destination this record tracks.
func (r *Record) Key() Key { return r.key }

// Snapshot is a consistent, point-in-time copy of a Record's fields,
// returned so callers never see a record mid-mutation.
type Snapshot struct {
	Key                  Key
	Waiting              uint
	Active               uint
	LastSuccess          time.Time
	LastFailure          time.Time
	DisconnectBatchStart time.Time
	DisconnectsInBatch   uint
	DelayedDisconnects   uint
}

func (r *Record) snapshotLocked() Snapshot {
	return Snapshot{
		Key:                  r.key,
		Waiting:              r.waiting,
		Active:               r.active,
		LastSuccess:          r.lastSuccess,
		LastFailure:          r.lastFailure,
		DisconnectBatchStart: r.disconnectBatchStart,
		DisconnectsInBatch:   r.disconnectsInBatch,
		DelayedDisconnects:   r.delayedDisconnects,
	}
}

// Snapshot returns a consistent copy of the record's state.
func (r *Record) Snapshot() Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.snapshotLocked()
}

// Notifier propagates "user is still proxied" hints to an external
// listener, e.g. an anvil-style accounting sidecar. One line per
// notification, tab-separated fields beginning with the username — see
// Registry.Notify.
type Notifier interface {
	Notify(user string) error
}

// Registry is the process-wide map from Key to Record. Idempotent: Get
// creates a record on first reference and returns the same pointer on
// every subsequent call for that Key, for the life of the process.
type Registry struct {
	mu           sync.Mutex
	records      map[Key]*Record
	notifier     Notifier
	attemptLimit int // applied to newly-created records; 0 = unbounded
}

// NewRegistry creates an empty Registry. notifier may be nil, in which
// case Notify is a no-op.
func NewRegistry(notifier Notifier) *Registry {
	return &Registry{
		records:  make(map[Key]*Record),
		notifier: notifier,
	}
}

// SetAttemptLimit bounds how many concurrent connect attempts a single
// destination may have in flight; it only affects records created after
// this call. 0 means unbounded (the default).
func (reg *Registry) SetAttemptLimit(n int) {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	reg.attemptLimit = n
}

// Get returns the Record for key, creating it if this is the first
// reference. References are stable for the life of the process; records
// are never deleted while waiting or active is non-zero, and in practice
// this registry never deletes records at all (their footprint is a
// handful of scalars per distinct destination ever contacted).
func (reg *Registry) Get(key Key) *Record {
	reg.mu.Lock()
	defer reg.mu.Unlock()
	if r, found := reg.records[key]; found {
		return r
	}
	r := &Record{
		key:      key,
		attempts: limit.NewCounter(reg.attemptLimit),
	}
	reg.records[key] = r
	return r
}

// TryBeginAttempt combines the attempt-concurrency cap with
// RecordAttemptBegin: it returns false without mutating waiting if the
// per-destination concurrency limit is already saturated.
func (reg *Registry) TryBeginAttempt(r *Record) bool {
	if !r.attempts.TryAcquire() {
		return false
	}
	reg.RecordAttemptBegin(r)
	return true
}

// RecordAttemptBegin marks the start of a connect attempt: waiting += 1.
func (reg *Registry) RecordAttemptBegin(r *Record) {
	r.mu.Lock()
	r.waiting++
	r.mu.Unlock()
}

// AttemptOutcome is passed to RecordAttemptEnd.
type AttemptOutcome int

const (
	AttemptSuccess AttemptOutcome = iota
	AttemptFailure
)

// RecordAttemptEnd matches a prior RecordAttemptBegin. created is the time
// the connect attempt itself began (Proxy.created in the spec); it is used
// to demote an incidental failure when a success has landed since this
// attempt started.
func (reg *Registry) RecordAttemptEnd(r *Record, created time.Time, outcome AttemptOutcome) {
	r.attempts.Release()

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.waiting > 0 {
		r.waiting--
	}

	now := time.Now()
	switch outcome {
	case AttemptSuccess:
		r.active++
		r.lastSuccess = now
	case AttemptFailure:
		if created.After(r.lastSuccess) {
			r.lastFailure = now
		}
	}
}

// RecordActiveEnd decrements active on final teardown of a detached proxy.
func (reg *Registry) RecordActiveEnd(r *Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active > 0 {
		r.active--
	}
}

// ShouldFailFast reports whether a fresh attempt against r should be
// aborted immediately rather than even trying to connect: the last
// failure is more recent than the last success, the gap since that
// failure exceeds immediateFailAfter, and more than one attempt is
// already waiting (a sole probe is never fast-failed, so the destination
// gets a chance to recover).
func (reg *Registry) ShouldFailFast(r *Record, immediateFailAfter time.Duration) bool {
	if immediateFailAfter <= 0 {
		return false
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.lastFailure.After(r.lastSuccess) {
		return false
	}
	if time.Since(r.lastFailure) < immediateFailAfter {
		return false
	}
	return r.waiting > 1
}

// SeedFirstAttempt initializes lastSuccess to one second before now on a
// brand new record, so the very first attempt against a destination never
// trips ShouldFailFast before it has had a chance to succeed or fail.
func (reg *Registry) SeedFirstAttempt(r *Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.lastSuccess.IsZero() && r.lastFailure.IsZero() {
		r.lastSuccess = time.Now().Add(-time.Second)
	}
}

// ResetDisconnectBatch clears the per-destination "disconnects since batch
// start" counter; called on every successful connect completion.
func (reg *Registry) ResetDisconnectBatch(r *Record) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.disconnectBatchStart = time.Time{}
	r.disconnectsInBatch = 0
}

// Snapshot returns a consistent copy of every destination record the
// registry has created (every Get creates one), for the admin surface's
// destinations listing.
func (reg *Registry) Snapshot() []Snapshot {
	reg.mu.Lock()
	records := make([]*Record, 0, len(reg.records))
	for _, r := range reg.records {
		records = append(records, r)
	}
	reg.mu.Unlock()

	out := make([]Snapshot, len(records))
	for i, r := range records {
		out[i] = r.Snapshot()
	}
	return out
}

// Notify emits an external notification for user via the configured
// Notifier. A nil Notifier makes this a no-op — tests and standalone runs
// need not wire an anvil sidecar.
func (reg *Registry) Notify(user string) error {
	if reg.notifier == nil {
		return nil
	}
	return reg.notifier.Notify(user)
}
