package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"carekeeper/internal/platform/httpserver"
	"carekeeper/internal/platform/metrics"
	"carekeeper/internal/platform/tracing"
	httptransport "carekeeper/internal/transport/http"
)

func serveCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API, the retention runner and the audit flusher",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, *configPath)
		},
	}
}

func serve(ctx context.Context, configPath string) error {
	a, err := newApp(ctx, configPath)
	if err != nil {
		return err
	}
	defer a.Close()

	tp, err := tracing.NewProvider(ctx, a.cfg.Tracing, a.logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := tp.Shutdown(context.WithoutCancel(ctx)); err != nil {
			a.logger.Warn("tracer shutdown failed", "error", err)
		}
	}()

	router := httptransport.NewRouter(httptransport.Deps{
		Logger:   a.logger,
		Observer: metrics.NewHTTP(a.registry),
		Metrics:  metrics.Handler(a.registry),
		Tracing:  tracing.Middleware,
		DPO:      a.cfg.Server.DPO,
		Health:   a.healthChecks(),
		Modules:  a.modules,
	})
	srv := httpserver.New(a.cfg.Server.Addr, router)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return httpserver.Serve(gctx, srv, a.cfg.Server.ShutdownTimeout, a.logger)
	})
	g.Go(func() error { return a.runner.Run(gctx) })
	g.Go(func() error { return a.trail.Run(gctx) })

	a.logger.Info("carekeeper started", "addr", a.cfg.Server.Addr)
	return g.Wait()
}
