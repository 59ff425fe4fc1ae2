package main

import (
	"context"
	"errors"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"OpenMCP-Orchestrator/internal/api"
	"OpenMCP-Orchestrator/internal/job"
	"OpenMCP-Orchestrator/internal/observability/metrics"
	"OpenMCP-Orchestrator/pkg/logger"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API and the background job processor",
	RunE:  runServe,
}

func init() {
	serveCmd.Flags().Duration("stale-after", 0, "Requeue running jobs not updated within this window at startup (0 requeues all)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	ctx := cmd.Context()
	a, err := bootstrap(ctx, configPath(cmd))
	if err != nil {
		return err
	}
	defer a.Close()
	cfg := a.cfg

	store, queue, err := a.jobStack(ctx)
	if err != nil {
		return err
	}
	jobs := job.NewService(store, queue, cfg.Queue.MaxRetries)
	a.onClose(jobs.Close)

	staleAfter, _ := cmd.Flags().GetDuration("stale-after")
	recovered, err := job.RecoverStale(ctx, store, queue, staleAfter)
	if err != nil {
		logger.L().Warn("恢复遗留作业失败", "error", err)
	} else if recovered > 0 {
		logger.L().Info("已重新投递遗留作业", "count", recovered)
	}

	authSvc, err := authService(cfg.Auth)
	if err != nil {
		return err
	}

	processor := job.NewProcessor(a.runner, store, queue, queue,
		job.WithWorkerCount(cfg.Queue.Workers),
		job.WithAlertDispatcher(a.alerts),
	)
	server := api.NewServer(cfg.Server.Address, a.runner, a.orchestrator,
		api.WithJobs(jobs),
		api.WithAuth(authSvc),
		api.WithShutdownTimeout(cfg.Server.ShutdownTimeout),
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return server.Start(gctx) })
	g.Go(func() error { return processor.Start(gctx) })
	if addr := cfg.Server.MetricsAddress; addr != "" {
		g.Go(func() error { return metrics.StartServer(gctx, addr) })
	}

	logger.L().Info("orchestratord 已启动",
		"address", cfg.Server.Address,
		"queue", cfg.Queue.Driver,
		"auth", authSvc.Mode(),
	)
	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.L().Info("orchestratord 已停止")
	return nil
}
