// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Patronly Contributors

package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/samber/oops"
	"github.com/spf13/cobra"

	"github.com/patronly/patronly/internal/auth"
	"github.com/patronly/patronly/internal/auth/postgres"
	"github.com/patronly/patronly/internal/config"
	"github.com/patronly/patronly/internal/observability"
	"github.com/patronly/patronly/internal/web"
)

func newServeCmd(deps *Deps) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Start the auth HTTP server",
		Long: `Start the auth HTTP server, the expired session reaper and the
metrics/health endpoints.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			return runServeWithDeps(cmd.Context(), cfg, cmd, deps)
		},
	}
}

// runServeWithDeps runs the server until a signal arrives, ctx is cancelled
// or a listener fails. If deps is nil, default implementations are used.
func runServeWithDeps(ctx context.Context, cfg *config.Config, cmd *cobra.Command, deps *Deps) error {
	deps = deps.withDefaults()
	logger := setupLogging(cmd, cfg)

	logger.Info("starting patronly",
		"http_addr", cfg.HTTP.Addr,
		"session_backend", cfg.Session.Backend,
		"environment", cfg.Environment,
	)

	pool, err := openPool(ctx, cfg, deps, logger)
	if err != nil {
		return err
	}
	defer pool.Close()

	if cfg.Database.AutoMigrate {
		if err := applyMigrations(deps, cfg.Database.URL, logger); err != nil {
			return err
		}
	}

	sessions, err := openSessionStore(ctx, cfg, pool, deps, logger)
	if err != nil {
		return err
	}
	defer sessions.close()

	checks := append([]observability.ReadinessChecker{pool.Ping}, sessions.checks...)
	obsServer := deps.ObservabilityServerFactory(cfg.Metrics.Addr, observability.AllReady(checks...), logger)
	authMetrics := auth.NewMetrics(obsServer.Registry())
	httpMetrics := observability.NewHTTPMetrics(obsServer.Registry())

	hasher := auth.NewArgon2idHasherWithParams(cfg.Argon2Params())
	hashes, err := auth.NewHashPool(hasher, cfg.Hasher.Workers, authMetrics)
	if err != nil {
		return err
	}
	params := hasher.Params()
	logger.Info("password hashing configured",
		"workers", hashes.Size(),
		"memory_kib", params.Memory,
		"iterations", params.Time,
		"threads", params.Threads)
	svc, err := auth.NewService(postgres.NewAccountRepository(pool), sessions.repo, hashes,
		auth.WithSessionTTL(cfg.Session.TTL),
		auth.WithLogger(logger),
		auth.WithMetrics(authMetrics),
		auth.WithSigninTimingEqualization(cfg.Auth.EqualizeSigninTiming),
	)
	if err != nil {
		return err
	}
	handler, err := web.NewHandler(svc,
		web.WithCookiePolicy(cfg.CookiePolicy()),
		web.WithLogger(logger),
		web.WithMetrics(httpMetrics),
		web.WithMaxBodyBytes(cfg.HTTP.MaxBodyBytes),
	)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	reaper, err := auth.NewExpiryReaper(cfg.ReaperConfig(), sessions.repo,
		auth.WithReaperLogger(logger),
		auth.WithReaperMetrics(authMetrics),
	)
	if err != nil {
		return err
	}
	if err := reaper.Start(ctx); err != nil {
		return err
	}
	defer reaper.Stop()

	listener, err := deps.ListenerFactory("tcp", cfg.HTTP.Addr)
	if err != nil {
		return oops.Code("HTTP_LISTEN_FAILED").With("addr", cfg.HTTP.Addr).Wrap(err)
	}
	httpServer := &http.Server{
		Handler:           handler.Router(),
		ReadHeaderTimeout: cfg.HTTP.ReadHeaderTimeout,
		ReadTimeout:       cfg.HTTP.ReadTimeout,
		WriteTimeout:      cfg.HTTP.WriteTimeout,
		IdleTimeout:       cfg.HTTP.IdleTimeout,
		ErrorLog:          slog.NewLogLogger(logger.Handler(), slog.LevelWarn),
	}

	httpErrCh := make(chan error, 1)
	go func() {
		defer close(httpErrCh)
		if serveErr := httpServer.Serve(listener); serveErr != nil && !errors.Is(serveErr, http.ErrServerClosed) {
			httpErrCh <- serveErr
		}
	}()
	logger.Info("auth HTTP server listening", "addr", listener.Addr().String())

	if cfg.Metrics.Addr != "" {
		obsErrCh, err := obsServer.Start()
		if err != nil {
			shutdownHTTP(httpServer, cfg, logger)
			return oops.With("operation", "start observability server").Wrap(err)
		}
		go monitorServerErrors(ctx, cancel, obsErrCh, "observability", logger)
		defer stopObservability(obsServer, cfg, logger)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	cmd.Println("patronly started")
	deps.OnReady(listener.Addr().String())

	select {
	case sig := <-sigChan:
		logger.Info("received shutdown signal", "signal", sig.String())
	case serveErr, ok := <-httpErrCh:
		if ok && serveErr != nil {
			return oops.Code("HTTP_SERVE_FAILED").Wrap(serveErr)
		}
	case <-ctx.Done():
		logger.Info("context cancelled, shutting down")
	}

	logger.Info("shutting down...")
	shutdownHTTP(httpServer, cfg, logger)
	return nil
}

func shutdownHTTP(srv *http.Server, cfg *config.Config, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn("error stopping auth HTTP server", "error", err)
	}
}

func stopObservability(srv ObservabilityServer, cfg *config.Config, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := srv.Stop(ctx); err != nil {
		logger.Warn("error stopping observability server", "error", err)
	}
}

// monitorServerErrors cancels ctx when errCh delivers an error. It exits
// when an error arrives, the channel is closed or ctx is cancelled.
func monitorServerErrors(ctx context.Context, cancel context.CancelFunc, errCh <-chan error, serverName string, logger *slog.Logger) {
	select {
	case err, ok := <-errCh:
		if !ok {
			return
		}
		if err != nil {
			logger.Error("server error, triggering shutdown",
				"server", serverName,
				"error", err,
			)
			cancel()
		}
	case <-ctx.Done():
	}
}
