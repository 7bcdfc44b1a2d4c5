package health

import (
	"testing"
	"time"
)

func TestGetIsIdempotent(t *testing.T) {
	reg := NewRegistry(nil)
	k := Key{IP: "10.0.0.1", Port: 110}
	r1 := reg.Get(k)
	r2 := reg.Get(k)
	if r1 != r2 {
		t.Fatal("Get should return the same record for the same key")
	}
}

func TestAttemptBeginEndCounters(t *testing.T) {
	reg := NewRegistry(nil)
	r := reg.Get(Key{IP: "10.0.0.1", Port: 110})

	created := time.Now()
	reg.RecordAttemptBegin(r)
	if got := r.Snapshot().Waiting; got != 1 {
		t.Fatalf("waiting = %d, want 1", got)
	}

	reg.RecordAttemptEnd(r, created, AttemptSuccess)
	snap := r.Snapshot()
	if snap.Waiting != 0 {
		t.Errorf("waiting = %d, want 0", snap.Waiting)
	}
	if snap.Active != 1 {
		t.Errorf("active = %d, want 1", snap.Active)
	}
	if snap.LastSuccess.IsZero() {
		t.Error("lastSuccess should be set")
	}
}

func TestWaitingNeverNegative(t *testing.T) {
	reg := NewRegistry(nil)
	r := reg.Get(Key{IP: "10.0.0.2", Port: 110})
	reg.RecordAttemptEnd(r, time.Now(), AttemptFailure)
	if r.Snapshot().Waiting != 0 {
		t.Error("waiting should clamp at 0, never go negative")
	}
}

func TestFailureDemotedBySuccessSinceAttemptStarted(t *testing.T) {
	reg := NewRegistry(nil)
	r := reg.Get(Key{IP: "10.0.0.3", Port: 110})

	// A success lands first...
	reg.RecordAttemptBegin(r)
	reg.RecordAttemptEnd(r, time.Now(), AttemptSuccess)

	// ...then an attempt that *started* before that success reports failure.
	staleCreated := time.Now().Add(-time.Hour)
	before := r.Snapshot().LastFailure
	reg.RecordAttemptBegin(r)
	reg.RecordAttemptEnd(r, staleCreated, AttemptFailure)

	after := r.Snapshot().LastFailure
	if !after.Equal(before) {
		t.Error("a failure from an attempt that started before the last success should not update lastFailure")
	}
}

func TestFailureRecordedWhenNewerThanSuccess(t *testing.T) {
	reg := NewRegistry(nil)
	r := reg.Get(Key{IP: "10.0.0.4", Port: 110})

	created := time.Now()
	reg.RecordAttemptBegin(r)
	reg.RecordAttemptEnd(r, created, AttemptFailure)

	if r.Snapshot().LastFailure.IsZero() {
		t.Error("lastFailure should be set when created is after lastSuccess (zero value)")
	}
}

func TestShouldFailFast(t *testing.T) {
	reg := NewRegistry(nil)

	t.Run("disabled when threshold is zero", func(t *testing.T) {
		r := reg.Get(Key{IP: "10.0.0.5", Port: 110})
		reg.RecordAttemptBegin(r)
		reg.RecordAttemptBegin(r)
		reg.RecordAttemptEnd(r, time.Now(), AttemptFailure)
		if reg.ShouldFailFast(r, 0) {
			t.Error("threshold 0 should disable fast-fail")
		}
	})

	t.Run("never fails a sole probe", func(t *testing.T) {
		r := reg.Get(Key{IP: "10.0.0.6", Port: 110})
		r.mu.Lock()
		r.lastFailure = time.Now().Add(-time.Hour)
		r.waiting = 1
		r.mu.Unlock()
		if reg.ShouldFailFast(r, time.Second) {
			t.Error("a sole waiting attempt should never be fast-failed")
		}
	})

	t.Run("fails fast past the window with concurrent waiters", func(t *testing.T) {
		r := reg.Get(Key{IP: "10.0.0.7", Port: 110})
		r.mu.Lock()
		r.lastFailure = time.Now().Add(-time.Hour)
		r.waiting = 2
		r.mu.Unlock()
		if !reg.ShouldFailFast(r, time.Second) {
			t.Error("expected fast-fail with stale failure and concurrent waiters")
		}
	})

	t.Run("success since failure clears fast-fail", func(t *testing.T) {
		r := reg.Get(Key{IP: "10.0.0.8", Port: 110})
		r.mu.Lock()
		r.lastFailure = time.Now().Add(-time.Hour)
		r.lastSuccess = time.Now()
		r.waiting = 2
		r.mu.Unlock()
		if reg.ShouldFailFast(r, time.Second) {
			t.Error("a success after the failure should clear fast-fail")
		}
	})
}

func TestSeedFirstAttemptAvoidsImmediateFastFail(t *testing.T) {
	reg := NewRegistry(nil)
	r := reg.Get(Key{IP: "10.0.0.9", Port: 110})
	reg.SeedFirstAttempt(r)
	snap := r.Snapshot()
	if snap.LastSuccess.IsZero() {
		t.Fatal("SeedFirstAttempt should set lastSuccess")
	}
	if !snap.LastSuccess.Before(time.Now()) {
		t.Fatal("seeded lastSuccess should be in the past")
	}
	// Seeding is a no-op on a record that has already recorded real
	// activity.
	reg.RecordAttemptBegin(r)
	reg.RecordAttemptEnd(r, time.Now(), AttemptSuccess)
	real := r.Snapshot().LastSuccess
	reg.SeedFirstAttempt(r)
	if !r.Snapshot().LastSuccess.Equal(real) {
		t.Error("SeedFirstAttempt should not override a real lastSuccess")
	}
}

func TestAttemptConcurrencyLimit(t *testing.T) {
	reg := NewRegistry(nil)
	reg.SetAttemptLimit(1)
	r := reg.Get(Key{IP: "10.0.0.10", Port: 110})

	if !reg.TryBeginAttempt(r) {
		t.Fatal("first attempt should be admitted")
	}
	if reg.TryBeginAttempt(r) {
		t.Fatal("second concurrent attempt should be refused at limit 1")
	}
	reg.RecordAttemptEnd(r, time.Now(), AttemptSuccess)
	if !reg.TryBeginAttempt(r) {
		t.Fatal("attempt should be admitted again after the first ended")
	}
}

type recordingNotifier struct {
	users []string
}

func (n *recordingNotifier) Notify(user string) error {
	n.users = append(n.users, user)
	return nil
}

func TestNotify(t *testing.T) {
	n := &recordingNotifier{}
	reg := NewRegistry(n)
	if err := reg.Notify("alice@example.com"); err != nil {
		t.Fatal(err)
	}
	if len(n.users) != 1 || n.users[0] != "alice@example.com" {
		t.Errorf("unexpected notify record: %v", n.users)
	}
}

func TestNotifyNilNotifierIsNoop(t *testing.T) {
	reg := NewRegistry(nil)
	if err := reg.Notify("alice"); err != nil {
		t.Errorf("nil notifier should be a no-op, got %v", err)
	}
}

func TestDisconnectDelayZeroMaxIsImmediate(t *testing.T) {
	reg := NewRegistry(nil)
	r := reg.Get(Key{IP: "10.0.0.11", Port: 110})
	if d := reg.ComputeDisconnectDelay(r, 0); d != 0 {
		t.Errorf("max_delay=0 should be immediate, got %v", d)
	}
}

func TestDisconnectDelaySpreadsWithinBatch(t *testing.T) {
	reg := NewRegistry(nil)
	r := reg.Get(Key{IP: "10.0.0.12", Port: 110})

	first := reg.ComputeDisconnectDelay(r, 2*time.Second)
	if first != 0 {
		t.Errorf("first disconnect in a fresh batch should be immediate, got %v", first)
	}
	second := reg.ComputeDisconnectDelay(r, 2*time.Second)
	if second < DisconnectIntervalStep {
		t.Errorf("second disconnect should be paced at least one step out, got %v", second)
	}
}
