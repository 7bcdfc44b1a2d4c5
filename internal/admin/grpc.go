// Package admin exposes the operator-facing surfaces that sit alongside
// the proxy data plane: a gRPC health service reflecting destination
// health, and an HTTP mux for kicking sessions and listing destinations.
package admin

import (
	"context"
	"errors"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"

	phealth "github.com/infodancer/loginproxy/internal/health"
)

// watchInterval is how often HealthServer recomputes the aggregate
// serving status from the destination registry.
const watchInterval = time.Second

// HealthServer serves grpc_health_v1, deriving the overall serving
// status from the destination registry: any destination whose most
// recent outcome is a failure older than failAfter flips the service to
// NOT_SERVING, mirroring the engine's own fast-fail threshold.
type HealthServer struct {
	address   string
	registry  *phealth.Registry
	failAfter time.Duration

	srv  *grpc.Server
	hsrv *health.Server
}

// NewHealthServer builds a HealthServer that will listen on address.
// failAfter should match the configured host_immediate_failure_after.
func NewHealthServer(address string, registry *phealth.Registry, failAfter time.Duration) *HealthServer {
	hsrv := health.NewServer()
	srv := grpc.NewServer()
	grpc_health_v1.RegisterHealthServer(srv, hsrv)

	return &HealthServer{
		address:   address,
		registry:  registry,
		failAfter: failAfter,
		srv:       srv,
		hsrv:      hsrv,
	}
}

// Start implements metrics.Server's shape: it blocks serving gRPC health
// checks until ctx is canceled or the listener fails.
func (h *HealthServer) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", h.address)
	if err != nil {
		return err
	}

	stop := make(chan struct{})
	go h.watch(ctx, stop)

	errCh := make(chan error, 1)
	go func() { errCh <- h.srv.Serve(ln) }()

	select {
	case <-ctx.Done():
		close(stop)
		h.srv.GracefulStop()
		return ctx.Err()
	case err := <-errCh:
		close(stop)
		if errors.Is(err, grpc.ErrServerStopped) {
			return nil
		}
		return err
	}
}

// Shutdown stops the gRPC server, waiting for in-flight RPCs to finish.
func (h *HealthServer) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		h.srv.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		h.srv.Stop()
		return ctx.Err()
	}
}

// watch periodically recomputes the aggregate serving status from the
// destination registry until ctx is canceled or stop fires.
func (h *HealthServer) watch(ctx context.Context, stop chan struct{}) {
	h.recompute()
	ticker := time.NewTicker(watchInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			h.recompute()
		}
	}
}

func (h *HealthServer) recompute() {
	status := grpc_health_v1.HealthCheckResponse_SERVING
	for _, snap := range h.registry.Snapshot() {
		if !snap.LastFailure.After(snap.LastSuccess) {
			continue
		}
		if h.failAfter > 0 && time.Since(snap.LastFailure) >= h.failAfter {
			status = grpc_health_v1.HealthCheckResponse_NOT_SERVING
			break
		}
	}
	h.hsrv.SetServingStatus("", status)
}
