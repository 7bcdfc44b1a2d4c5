package admin

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/infodancer/loginproxy/internal/health"
)

// Kicker is the subset of proxy.Engine the HTTP admin surface needs.
// Declared locally so this package depends on a method set, not on
// proxy.Engine's concrete type.
type Kicker interface {
	KickUser(user string) int
}

// HTTPServer exposes /kick and /destinations over plain HTTP for
// operator tooling (curl, a fleet-management script, etc).
type HTTPServer struct {
	srv *http.Server
}

// NewHTTPServer builds an HTTPServer listening on address. engine may be
// nil only in tests that don't exercise /kick.
func NewHTTPServer(address string, engine Kicker, registry *health.Registry) *HTTPServer {
	mux := http.NewServeMux()
	mux.HandleFunc("/kick", handleKick(engine))
	mux.HandleFunc("/destinations", handleDestinations(registry))
	return &HTTPServer{srv: &http.Server{Addr: address, Handler: mux}}
}

// Start implements metrics.Server's shape.
func (s *HTTPServer) Start(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() { errCh <- s.srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		if err := s.Shutdown(context.Background()); err != nil {
			return err
		}
		return ctx.Err()
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// Shutdown implements metrics.Server's shape.
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	return s.srv.Shutdown(ctx)
}

func handleKick(engine Kicker) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		user := r.URL.Query().Get("user")
		if user == "" {
			http.Error(w, "missing user query parameter", http.StatusBadRequest)
			return
		}
		if engine == nil {
			http.Error(w, "kick not available", http.StatusServiceUnavailable)
			return
		}
		n := engine.KickUser(user)
		writeJSON(w, map[string]any{"user": user, "kicked": n})
	}
}

func handleDestinations(registry *health.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		snapshots := registry.Snapshot()
		out := make([]destinationView, len(snapshots))
		for i, snap := range snapshots {
			out[i] = toDestinationView(snap)
		}
		writeJSON(w, out)
	}
}

// destinationView is the JSON shape returned by /destinations; it
// flattens health.Key into the same object as the rest of the snapshot
// fields rather than nesting it, for a friendlier wire format.
type destinationView struct {
	IP                 string `json:"ip"`
	Port               int    `json:"port"`
	Waiting            uint   `json:"waiting"`
	Active             uint   `json:"active"`
	LastSuccess        string `json:"last_success,omitempty"`
	LastFailure        string `json:"last_failure,omitempty"`
	DisconnectsInBatch uint   `json:"disconnects_in_batch"`
	DelayedDisconnects uint   `json:"delayed_disconnects"`
}

func toDestinationView(snap health.Snapshot) destinationView {
	v := destinationView{
		IP:                 snap.Key.IP,
		Port:               snap.Key.Port,
		Waiting:            snap.Waiting,
		Active:             snap.Active,
		DisconnectsInBatch: snap.DisconnectsInBatch,
		DelayedDisconnects: snap.DelayedDisconnects,
	}
	if !snap.LastSuccess.IsZero() {
		v.LastSuccess = snap.LastSuccess.Format("2006-01-02T15:04:05Z07:00")
	}
	if !snap.LastFailure.IsZero() {
		v.LastFailure = snap.LastFailure.Format("2006-01-02T15:04:05Z07:00")
	}
	return v
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}
