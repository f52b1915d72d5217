package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/shineum/alertmail-lite/internal/api"
)

const shutdownTimeout = 10 * time.Second

func newServeCommand(rt *runtimeState) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the queue drainer and the status cleanup sweep",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), rt)
		},
	}
}

func runServe(parent context.Context, rt *runtimeState) error {
	cfg, logger := rt.cfg, rt.logger

	// Setup graceful shutdown
	ctx, cancel := context.WithCancel(parent)
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
	defer signal.Stop(sigCh)

	go func() {
		select {
		case sig := <-sigCh:
			logger.Info("received signal, initiating shutdown", "signal", sig)
			cancel()
		case <-ctx.Done():
		}
	}()

	a := newApp(cfg, logger)
	primary, _ := a.primaryConfig(true)
	if err := a.svc.Initialize(ctx, primary); err != nil {
		return fmt.Errorf("failed to initialize email service: %w", err)
	}
	a.configureFallbacks(ctx)

	server := &http.Server{
		Addr:              cfg.HTTP.Listen,
		Handler:           api.NewHandler(a.svc, a.hub, logger).Router(),
		ReadHeaderTimeout: 10 * time.Second,
		BaseContext:       func(net.Listener) context.Context { return ctx },
	}

	go a.drainQueue(ctx, cfg.Delivery.QueueInterval)
	go a.sweepStatuses(ctx, cfg.Delivery.CleanupInterval, cfg.Delivery.Retention)

	logger.Info("starting alertmail",
		"listen", cfg.HTTP.Listen,
		"provider", primary.Provider,
		"fallbacks", len(cfg.Fallbacks),
		"max_retries", a.engine.MaxRetries(),
	)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown incomplete", "error", err)
	}
	if n := a.engine.QueueSize(); n > 0 {
		logger.Warn("queued deliveries dropped at shutdown", "count", n)
	}

	logger.Info("alertmail stopped")
	return nil
}

// drainQueue processes the offline queue every interval until ctx is done.
func (a *app) drainQueue(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if a.engine.QueueSize() == 0 {
				continue
			}
			results := a.engine.ProcessQueue(ctx)
			failed := 0
			for _, r := range results {
				if !r.Success {
					failed++
				}
			}
			a.logger.Info("processed queued deliveries", "processed", len(results), "failed", failed)
		}
	}
}

// sweepStatuses purges old delivery records every interval until ctx is done.
func (a *app) sweepStatuses(ctx context.Context, interval, retention time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := a.engine.CleanupOldStatuses(retention); n > 0 {
				a.logger.Debug("purged delivery statuses", "count", n, "retention", retention)
			}
		}
	}
}
