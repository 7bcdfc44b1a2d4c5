// Command loginproxy runs the authenticating POP3 login-proxy: it
// accepts already-identified client connections, logs each one in to its
// destination with USER/PASS, and once logged in hands the
// connection off to a bidirectional byte pump.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/infodancer/loginproxy/internal/admin"
	"github.com/infodancer/loginproxy/internal/config"
	"github.com/infodancer/loginproxy/internal/health"
	"github.com/infodancer/loginproxy/internal/logging"
	"github.com/infodancer/loginproxy/internal/metrics"
	"github.com/infodancer/loginproxy/internal/pop3proxy"
	"github.com/infodancer/loginproxy/internal/proxy"
)

func main() {
	flags := config.ParseFlags()

	cfg, err := config.LoadWithFlags(flags)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error loading config: %v\n", err)
		os.Exit(1)
	}

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid configuration: %v\n", err)
		os.Exit(1)
	}

	logger := logging.NewLogger(cfg.LogLevel)

	if _, err := cfg.ParseSSLFlags(); err != nil {
		fmt.Fprintf(os.Stderr, "invalid ssl_flags: %v\n", err)
		os.Exit(1)
	}

	var collector metrics.Collector = &metrics.NoopCollector{}
	if cfg.Metrics.Enabled {
		collector = metrics.NewPrometheusCollector(prometheus.DefaultRegisterer)
	}

	registry := health.NewRegistry(nil)
	engine := proxy.NewEngine(registry, collector)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go runIdleSweep(ctx, engine)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		logger.Info("received signal, shutting down", "signal", sig.String())
		cancel()
	}()

	if cfg.Metrics.Enabled {
		metricsServer := metrics.NewPrometheusServer(cfg.Metrics.Address, cfg.Metrics.Path)
		go func() {
			if err := metricsServer.Start(ctx); err != nil && err != context.Canceled {
				logger.Error("metrics server error", "error", err)
			}
		}()
		logger.Info("metrics server started", "address", cfg.Metrics.Address, "path", cfg.Metrics.Path)
	}

	if cfg.Admin.GRPCAddress != "" {
		healthServer := admin.NewHealthServer(cfg.Admin.GRPCAddress, registry, cfg.HostImmediateFailAfterDuration())
		go func() {
			if err := healthServer.Start(ctx); err != nil && err != context.Canceled {
				logger.Error("admin grpc health server error", "error", err)
			}
		}()
		logger.Info("admin grpc health server started", "address", cfg.Admin.GRPCAddress)
	}

	if cfg.Admin.HTTPAddress != "" {
		httpServer := admin.NewHTTPServer(cfg.Admin.HTTPAddress, engine, registry)
		go func() {
			if err := httpServer.Start(ctx); err != nil && err != context.Canceled {
				logger.Error("admin http server error", "error", err)
			}
		}()
		logger.Info("admin http server started", "address", cfg.Admin.HTTPAddress)
	}

	logger.Info("starting loginproxy", "hostname", cfg.Hostname, "listen", cfg.Listen)

	if err := runFrontend(ctx, cfg, engine, logger); err != nil && err != context.Canceled {
		fmt.Fprintf(os.Stderr, "frontend listener error: %v\n", err)
		os.Exit(1)
	}

	logger.Info("loginproxy stopped")
}

// runIdleSweep periodically closes detached proxies that have moved no
// bytes in either direction, until ctx is canceled.
func runIdleSweep(ctx context.Context, engine *proxy.Engine) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			engine.KillIdle()
		case <-ctx.Done():
			return
		}
	}
}

// runFrontend accepts client connections on cfg.Listen, parses the demo
// framing line, and starts an Engine proxy for each one. It blocks until
// ctx is canceled.
func runFrontend(ctx context.Context, cfg config.Config, engine *proxy.Engine, logger *slog.Logger) error {
	ln, err := net.Listen("tcp", cfg.Listen)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", cfg.Listen, err)
	}
	defer ln.Close()

	go func() {
		<-ctx.Done()
		ln.Close()
	}()

	sslFlags, err := cfg.ParseSSLFlags()
	if err != nil {
		return err
	}

	for {
		conn, err := ln.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			default:
				return fmt.Errorf("accept: %w", err)
			}
		}
		go handleConn(conn, cfg, sslFlags, engine, logger)
	}
}

func handleConn(conn net.Conn, cfg config.Config, sslFlags proxy.SSLFlag, engine *proxy.Engine, logger *slog.Logger) {
	client, err := newDemoClient(conn)
	if err != nil {
		logger.Warn("rejecting connection", "remote", conn.RemoteAddr().String(), "error", err)
		conn.Close()
		return
	}

	host, port, err := client.destHostPort()
	if err != nil {
		logger.Warn("rejecting connection", "remote", conn.RemoteAddr().String(), "error", err)
		client.Disconnect("bad destination")
		return
	}

	ip := host
	if addr, err := net.ResolveIPAddr("ip", host); err == nil {
		ip = addr.String()
	}

	settings := proxy.Settings{
		Host:                      host,
		IP:                        ip,
		Port:                      port,
		SourceIP:                  cfg.SourceIP,
		ConnectTimeoutMS:          int(cfg.ConnectTimeoutDuration().Milliseconds()),
		NotifyRefreshS:            int(cfg.NotifyRefreshDuration().Seconds()),
		HostImmediateFailAfterS:   int(cfg.HostImmediateFailAfterDuration().Seconds()),
		MaxReconnects:             cfg.MaxReconnects,
		MaxDisconnectDelaySeconds: int(cfg.MaxDisconnectDelayDuration().Seconds()),
		SSLFlags:                  sslFlags,
		LocalName:                 cfg.Hostname,
		RawlogDir:                 cfg.RawlogDir,
		ProxyTTL:                  5,
	}

	driver := pop3proxy.New("")
	callbacks := proxy.Callbacks{
		OnFailure: func(kind proxy.FailureKind, reason string, reconnecting bool) {
			logger.Info("proxy failure", "user", client.Username(), "kind", kind.String(), "reason", reason, "reconnecting", reconnecting)
		},
		OnRedirect: func(event, reason string) {
			logger.Info("proxy redirect", "user", client.Username(), "event", event, "reason", reason)
		},
		OnFinished: func(cause string, bytes int64) {
			logger.Info("proxy finished", "user", client.Username(), "cause", cause, "bytes", bytes)
		},
	}

	if _, err := engine.Start(client, settings, driver, callbacks); err != nil {
		logger.Error("failed to start proxy", "user", client.Username(), "error", err)
		client.Disconnect("internal error")
	}
}
