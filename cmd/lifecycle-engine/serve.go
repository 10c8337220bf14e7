// cmd/lifecycle-engine/serve.go
package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"loan-lifecycle/internal/api"
	"loan-lifecycle/internal/common/camunda"
	"loan-lifecycle/internal/common/config"
	"loan-lifecycle/internal/common/database"
	"loan-lifecycle/internal/lifecycle/ingestion"
	paf "loan-lifecycle/internal/workers/lifecycle/persist-application-fields"
	ras "loan-lifecycle/internal/workers/lifecycle/reconcile-application-stage"
)

func serveCmd(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the ingestion pool, HTTP adapter and Zeebe workers",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			e, err := newEngine(ctx, *configPath)
			if err != nil {
				return err
			}
			defer e.Close()
			return serve(ctx, e)
		},
	}
}

func serve(ctx context.Context, e *engine) error {
	cfg := e.cfg

	dispatcher := ingestion.NewDispatcher(e.apply, cfg.Reconciler.Workers, cfg.Reconciler.QueueSize, e.log)
	runDone := make(chan error, 1)
	go func() { runDone <- dispatcher.Run(context.Background()) }()

	srv := api.NewServer(e.view, dispatcher, e.fields, cfg.HTTP.Diagnostics, e.log)
	srv.AddCheck("postgres", e.pg)
	srv.AddCheck("redis", e.redis)
	if e.es != nil {
		srv.AddCheck("elasticsearch", e.es)
	}

	var workers []*camunda.CamundaWorker
	if cfg.Camunda.Enabled {
		zc, err := camunda.NewClient(camunda.ConfigFrom(cfg.Camunda))
		if err != nil {
			return err
		}
		defer zc.Close()
		if err := database.WaitReady(ctx, "zeebe", zc, connectTimeout, e.log); err != nil {
			return err
		}
		srv.AddCheck("zeebe", zc)

		if config.IsWorkerEnabled(cfg, ras.TaskType) {
			wcfg := config.GetWorkerConfig(cfg, ras.TaskType)
			h := ras.NewHandler(ras.ConfigFrom(wcfg), dispatcher, e.log)
			workers = append(workers, camunda.NewWorker(zc.GetClient(), ras.TaskType, wcfg, h, e.log))
		}
		if config.IsWorkerEnabled(cfg, paf.TaskType) {
			wcfg := config.GetWorkerConfig(cfg, paf.TaskType)
			h := paf.NewHandler(paf.ConfigFrom(wcfg), e.fields, e.log)
			workers = append(workers, camunda.NewWorker(zc.GetClient(), paf.TaskType, wcfg, h, e.log))
		}
	}

	httpServer := &http.Server{
		Addr:              cfg.HTTP.Address,
		Handler:           srv.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	httpErr := make(chan error, 1)
	go func() {
		e.log.Info("HTTP server listening", map[string]interface{}{"address": cfg.HTTP.Address})
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			httpErr <- err
		}
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		e.log.Info("Shutdown signal received, stopping workers...", nil)
	case serveErr = <-httpErr:
		e.log.Error("HTTP server failed", map[string]interface{}{"error": serveErr})
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	for _, w := range workers {
		w.Stop()
	}
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		e.log.Error("HTTP shutdown failed", map[string]interface{}{"error": err})
	}

	// Drain what is already queued so accepted events are not lost.
	dispatcher.Close()
	select {
	case err := <-runDone:
		if err != nil {
			e.log.Error("ingestion pool stopped with error", map[string]interface{}{"error": err})
		}
	case <-shutdownCtx.Done():
		e.log.Warn("ingestion drain timed out", map[string]interface{}{"pending": dispatcher.Pending()})
	}

	e.log.Info("Lifecycle engine stopped gracefully", nil)
	return serveErr
}
