package proxy

import (
	"sync"
	"testing"
	"time"

	"github.com/infodancer/loginproxy/internal/health"
)

type recordingNotifier struct {
	mu    sync.Mutex
	users []string
}

func (n *recordingNotifier) Notify(user string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.users = append(n.users, user)
	return nil
}

func (n *recordingNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.users)
}

// TestStartNotifyFiresPeriodically exercises review fix #4b: Detach must
// arm a periodic registry.Notify for the detached proxy's user, not leave
// it permanently unreached.
func TestStartNotifyFiresPeriodically(t *testing.T) {
	notifier := &recordingNotifier{}
	registry := health.NewRegistry(notifier)
	e := NewEngine(registry, nil)

	p := &Proxy{
		handle:   nextHandle(),
		engine:   e,
		client:   newFakeClient("carol"),
		settings: Settings{NotifyRefreshS: 1},
	}

	e.startNotify(p)
	defer func() {
		p.mu.Lock()
		stop := p.notifyStop
		p.mu.Unlock()
		if stop != nil {
			close(stop)
		}
	}()

	deadline := time.Now().Add(3 * time.Second)
	for notifier.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(20 * time.Millisecond)
	}
	if notifier.count() == 0 {
		t.Fatal("expected at least one Notify call from the periodic timer")
	}
}

// TestStartNotifyDisabledWithZeroRefresh confirms NotifyRefreshS <= 0
// leaves notifyStop unset, matching the "disabled" reading of the setting.
func TestStartNotifyDisabledWithZeroRefresh(t *testing.T) {
	registry := health.NewRegistry(&recordingNotifier{})
	e := NewEngine(registry, nil)

	p := &Proxy{
		handle:   nextHandle(),
		engine:   e,
		client:   newFakeClient("dave"),
		settings: Settings{NotifyRefreshS: 0},
	}

	e.startNotify(p)

	p.mu.Lock()
	stop := p.notifyStop
	p.mu.Unlock()
	if stop != nil {
		t.Error("expected no notify timer armed with NotifyRefreshS=0")
	}
}
