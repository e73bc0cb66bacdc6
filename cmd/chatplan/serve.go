package main

import (
	"context"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mohammad-safakhou/chatplan/internal/pipeline"
	"github.com/mohammad-safakhou/chatplan/internal/runtime"
	"github.com/mohammad-safakhou/chatplan/internal/server"
	"github.com/mohammad-safakhou/chatplan/internal/store"
)

func serveCmd(a *app) *cobra.Command {
	var addr string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			if addr != "" {
				a.cfg.Server.Address = addr
			}
			return a.serve(cmd.Context())
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.address)")
	return cmd
}

func (a *app) serve(parent context.Context) error {
	cfg, logger := a.cfg, a.logger
	ctx, stop := runtime.SignalContext(parent, logger)
	defer stop()

	tel := runtime.SetupTelemetry(cfg.Telemetry)
	streamer, err := newStreamer(cfg.LLM, logger)
	if err != nil {
		return err
	}
	secret, err := runtime.LoadJWTSecret(cfg)
	if err != nil {
		return err
	}
	cat, closeCache := newCatalog(ctx, cfg, logger, tel.Registerer())
	defer closeCache()

	var (
		recorder pipeline.RunRecorder
		runs     server.RunLister
	)
	if cfg.Storage.Postgres.Enabled() {
		st, err := store.NewWithDSN(ctx, cfg.Storage.Postgres.DSN())
		if err != nil {
			return err
		}
		defer st.Close()
		recorder, runs = st, st
		logger.Info("run log enabled")
	}

	metrics := pipeline.NewMetrics(tel.Registerer())
	registry := pipeline.NewRegistry(func(subject string) *pipeline.Controller {
		return pipeline.NewController(streamer, pipelineOptions(cfg, subject),
			pipeline.WithLogger(logger),
			pipeline.WithMetrics(metrics),
			pipeline.WithRecorder(recorder),
		)
	})

	e := server.New(server.Options{
		Logger:         logger,
		Registry:       registry,
		Streamer:       streamer,
		Catalog:        cat,
		Runs:           runs,
		Metrics:        tel.Handler(),
		Secret:         secret,
		AllowAnonymous: cfg.Server.AllowAnonymous,
		DryRunEnabled:  cfg.Server.DryRunEnabled,
		CORSOrigins:    cfg.Server.CORSOrigins,
		BaseContext:    ctx,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return server.Run(gctx, e, cfg.Server.Address, cfg.Server.ShutdownTimeout, logger)
	})
	g.Go(func() error {
		models := cat.GetModels(gctx)
		logger.Info("model catalog loaded", zap.Int("models", len(models)))
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		registry.CancelAll()
		return nil
	})
	if idle := cfg.Planner.IdleTimeout; idle > 0 {
		g.Go(func() error {
			evictIdle(gctx, registry, idle, logger)
			return nil
		})
	}
	return g.Wait()
}

// evictIdle sweeps the registry until ctx is done, dropping callers idle for
// longer than idle.
func evictIdle(ctx context.Context, registry *pipeline.Registry, idle time.Duration, logger *zap.Logger) {
	ticker := time.NewTicker(max(idle/2, time.Second))
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if n := registry.EvictIdle(now, idle); n > 0 {
				logger.Debug("evicted idle pipelines", zap.Int("count", n), zap.Int("remaining", registry.Len()))
			}
		}
	}
}
