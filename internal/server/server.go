// Package server assembles the distribution service from configuration and
// runs it until the context is cancelled.
package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"appupdate/internal/api"
	"appupdate/internal/artifact"
	"appupdate/internal/config"
	"appupdate/internal/logger"
	"appupdate/internal/models"
	"appupdate/internal/observability"
	"appupdate/internal/ratelimit"
	"appupdate/internal/storage"
	"appupdate/internal/update"
	"appupdate/internal/version"

	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 30 * time.Second

// Options come from the command line.
type Options struct {
	ConfigPath string
	EnvFile    string
	// ListenAddress overrides server.host and server.port when set.
	ListenAddress string
}

// Server is a fully wired service: registry, artifact store, update
// service and HTTP router.
type Server struct {
	Config   *models.Config
	Handler  http.Handler
	Service  *update.Service
	Registry storage.Storage

	provider *observability.Provider
	limiters *ratelimit.Tiers
	closers  []func(context.Context) error
}

// Option adjusts how New wires the service.
type Option func(*buildOptions)

type buildOptions struct {
	serviceOpts []update.Option
	provider    *observability.Provider
}

// WithServiceOptions passes options to update.NewService.
func WithServiceOptions(opts ...update.Option) Option {
	return func(b *buildOptions) {
		b.serviceOpts = append(b.serviceOpts, opts...)
	}
}

// WithProvider uses p for service metrics and the metrics endpoint.
func WithProvider(p *observability.Provider) Option {
	return func(b *buildOptions) {
		b.provider = p
	}
}

// New opens the registry and artifact store and builds the router.
// Close releases what New opened.
func New(ctx context.Context, cfg *models.Config, opts ...Option) (*Server, error) {
	b := &buildOptions{}
	for _, opt := range opts {
		opt(b)
	}

	s := &Server{Config: cfg, provider: b.provider}

	registry, err := storage.NewFactory().Create(ctx, cfg.Storage)
	if err != nil {
		return nil, fmt.Errorf("open %s registry: %w", cfg.Storage.Type, err)
	}
	s.closers = append(s.closers, func(context.Context) error { return registry.Close() })

	instrumented, err := observability.NewInstrumentedStorage(registry)
	if err != nil {
		_ = s.Close(ctx)
		return nil, fmt.Errorf("instrument registry: %w", err)
	}
	s.Registry = instrumented

	artifacts, err := artifact.NewStore(cfg.Artifacts)
	if err != nil {
		_ = s.Close(ctx)
		return nil, fmt.Errorf("open artifact store: %w", err)
	}

	serviceOpts := append([]update.Option{update.WithMeterProvider(b.provider.MeterProvider())}, b.serviceOpts...)
	svc, err := update.NewService(s.Registry, artifacts, serviceOpts...)
	if err != nil {
		_ = s.Close(ctx)
		return nil, fmt.Errorf("create update service: %w", err)
	}
	s.Service = svc

	routeOpts := []api.RouteOption{}
	if cfg.Observability.Tracing.Enabled {
		routeOpts = append(routeOpts, api.WithOTelMiddleware(cfg.Observability.ServiceName))
	}
	if cfg.Security.RateLimit.Enabled {
		s.limiters = ratelimit.NewTiers(cfg.Security.RateLimit)
		routeOpts = append(routeOpts, api.WithRateLimiter(ratelimit.Middleware(s.limiters,
			ratelimit.WithMeterProvider(b.provider.MeterProvider()),
			ratelimit.WithExemptPaths("/health", "/api/v1/health", "/api/v1/ping"),
		)))
	}

	s.Handler = api.SetupRoutes(api.NewHandlers(svc, cfg), cfg, routeOpts...)

	slog.Info("Service assembled",
		"storage", cfg.Storage.Type,
		"artifact_root", artifacts.Root(),
		"auth_enabled", cfg.Security.EnableAuth,
		"api_keys", len(cfg.Security.APIKeys),
		"rate_limit", cfg.Security.RateLimit.Enabled,
	)
	return s, nil
}

// Close stops the limiters and closes the registry.
func (s *Server) Close(ctx context.Context) error {
	if s.limiters != nil {
		s.limiters.Close()
	}
	var errs []error
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Run loads configuration, sets up logging and telemetry, then serves the
// API (and metrics, when enabled) until ctx is done.
func Run(ctx context.Context, opts *Options) error {
	cfg, err := config.LoadWithEnvFile(opts.ConfigPath, opts.EnvFile)
	if err != nil {
		return fmt.Errorf("load settings: %w", err)
	}

	info := version.GetInfo()
	log, logCloser, err := logger.Setup(cfg.Logging, info)
	if err != nil {
		return fmt.Errorf("initialise logger: %w", err)
	}
	if logCloser != nil {
		defer logCloser.Close()
	}
	slog.SetDefault(log)

	provider, err := observability.Setup(ctx, cfg.Metrics, cfg.Observability, info)
	if err != nil {
		return fmt.Errorf("initialise observability: %w", err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := provider.Shutdown(shutdownCtx); err != nil {
			slog.Error("Failed to shutdown observability", "error", err)
		}
	}()

	srv, err := New(ctx, cfg, WithProvider(provider))
	if err != nil {
		return err
	}
	defer func() {
		if err := srv.Close(context.Background()); err != nil {
			slog.Error("Failed to close registry", "error", err)
		}
	}()

	addr, err := listenAddress(cfg.Server, opts.ListenAddress)
	if err != nil {
		return err
	}

	httpServer := &http.Server{
		Addr:              addr,
		Handler:           srv.Handler,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	var metricsServer *observability.MetricsServer
	if cfg.Metrics.Enabled {
		metricsServer = observability.NewMetricsServer(cfg.Metrics.Port, cfg.Metrics.Path, provider)
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("Starting server", "addr", addr, "tls", cfg.Server.TLSEnabled)
		var err error
		if cfg.Server.TLSEnabled {
			err = httpServer.ListenAndServeTLS(cfg.Server.TLSCertFile, cfg.Server.TLSKeyFile)
		} else {
			err = httpServer.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("serve http: %w", err)
		}
		return nil
	})

	if metricsServer != nil {
		g.Go(func() error {
			if err := metricsServer.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("serve metrics: %w", err)
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutting down server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()

		var errs []error
		if metricsServer != nil {
			if err := metricsServer.Shutdown(shutdownCtx); err != nil {
				errs = append(errs, fmt.Errorf("metrics shutdown: %w", err))
			}
		}
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, fmt.Errorf("http shutdown: %w", err))
		}
		return errors.Join(errs...)
	})

	if err := g.Wait(); err != nil {
		return err
	}
	slog.Info("Server shutdown complete")
	return nil
}

// listenAddress prefers the override, then host:port from configuration.
func listenAddress(cfg models.ServerConfig, override string) (string, error) {
	if override == "" {
		return net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port)), nil
	}
	if _, _, err := net.SplitHostPort(override); err != nil {
		return "", fmt.Errorf("invalid listen address %q: %w", override, err)
	}
	return override, nil
}
