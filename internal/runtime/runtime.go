// Package runtime assembles the recon process: telemetry, the event bus and
// journal, speech and language backends, the interview pipeline and the HTTP
// surface.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/loqalabs/recon/internal/config"
	"github.com/loqalabs/recon/internal/httpapi"
)

type Runtime struct {
	cfg         config.Config
	logger      *slog.Logger
	httpServer  *http.Server
	tracerClose func(context.Context) error
	ready       atomic.Bool
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

// Start runs the service until ctx is cancelled or a component fails.
func (r *Runtime) Start(ctx context.Context) error {
	shutdownTelemetry, metricsHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry

	comps, err := build(ctx, r.cfg, r.logger)
	if err != nil {
		r.closeTelemetry()
		return err
	}
	defer comps.Close()

	var journal httpapi.Journal
	if comps.journalEnabled() {
		journal = comps.journal
	}
	router := httpapi.NewRouter(httpapi.Options{
		Interview:   comps.service,
		Journal:     journal,
		StaticDir:   r.cfg.Storage.StaticDir,
		URLPrefix:   r.cfg.Storage.URLPrefix,
		MaxUploadMB: r.cfg.HTTP.MaxUploadMB,
		Metrics:     metricsHandler,
		MetricsPath: r.cfg.Telemetry.PrometheusPath,
		Ready:       r.ready.Load,
		Logger:      r.logger,
	})

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       time.Duration(r.cfg.HTTP.ReadTimeoutMS) * time.Millisecond,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if err := r.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		runSweeper(gctx, comps, r.sweepInterval(), r.logger)
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		r.ready.Store(false)
		r.logger.Info("runtime stopping")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
			r.logger.Error("http shutdown error", slog.String("error", err.Error()))
		}
		return nil
	})

	r.ready.Store(true)
	r.logger.Info("runtime started", slog.String("addr", addr))

	err = g.Wait()
	comps.Close()
	r.closeTelemetry()
	return err
}

func (r *Runtime) sweepInterval() time.Duration {
	if r.cfg.Storage.SweepIntervalMinutes <= 0 {
		return time.Hour
	}
	return time.Duration(r.cfg.Storage.SweepIntervalMinutes) * time.Minute
}

func (r *Runtime) closeTelemetry() {
	if r.tracerClose == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := r.tracerClose(ctx); err != nil {
		r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
	}
	r.tracerClose = nil
}
