// Package app wires configuration, storage, adapters, services and the
// HTTP server into one runnable unit.
package app

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/dbackup/dbackup/internal/adapter"
	"github.com/dbackup/dbackup/internal/config"
	"github.com/dbackup/dbackup/internal/domain"
	"github.com/dbackup/dbackup/internal/infrastructure/logger"
	"github.com/dbackup/dbackup/internal/infrastructure/scheduler"
	"github.com/dbackup/dbackup/internal/server"
	"github.com/dbackup/dbackup/internal/service"
	"github.com/dbackup/dbackup/internal/store"
	"github.com/dbackup/dbackup/internal/usecase"
)

type App struct {
	cfg       *config.Config
	logger    *logger.Logger
	store     *store.Store
	scheduler *scheduler.Scheduler
	server    *server.Server
	audit     *service.AuditService
	jobs      *service.JobService
}

func New(cfg *config.Config) (*App, error) {
	log, err := logger.New(cfg.App.LogLevel, cfg.App.LogFile)
	if err != nil {
		return nil, fmt.Errorf("failed to build logger: %w", err)
	}

	if err := os.MkdirAll(cfg.Engine.TempDir, 0700); err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}

	st, err := store.Open(cfg.Store.DataDir)
	if err != nil {
		return nil, err
	}

	registry := adapter.Default(log)
	queue := usecase.NewQueue(cfg.Engine.MaxConcurrentJobs, log.Named("queue"))
	retention := usecase.NewRetention(log.Named("retention"))
	runner := usecase.NewRunner(st, registry, queue, retention, log.Named("runner"), cfg.Engine.TempDir)
	restore := usecase.NewRestoreService(st, registry, queue, log.Named("restore"), cfg.Engine.TempDir)

	sched := scheduler.New(log.Named("scheduler"), func(job domain.Job) {
		if _, err := runner.Trigger(job); err != nil {
			log.Errorf("scheduled trigger for job %s failed: %v", job.Name, err)
		}
	})

	audit := service.NewAudit(st, log.Named("audit"))
	jobs := service.NewJobs(st, sched, runner, audit, log.Named("jobs"))
	configs := service.NewConfigs(st, registry, audit)
	apikeys := service.NewAPIKeys(st, audit, log.Named("apikeys"))

	srv := server.New(cfg.Server.Addr, cfg.Server.AdminToken, server.Deps{
		Store:   st,
		Jobs:    jobs,
		Configs: configs,
		APIKeys: apikeys,
		Audit:   audit,
		Restore: restore,
	}, log.Named("http"))

	return &App{
		cfg:       cfg,
		logger:    log,
		store:     st,
		scheduler: sched,
		server:    srv,
		audit:     audit,
		jobs:      jobs,
	}, nil
}

// Run starts the engine and blocks until ctx is cancelled, then shuts
// everything down in dependency order.
func (a *App) Run(ctx context.Context) error {
	// Executions left Running by a previous process are reconciled
	// before any new work is admitted.
	reconciled, err := a.store.ReconcileStaleExecutions(a.cfg.Engine.StaleExecutionAfter, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to reconcile stale executions: %w", err)
	}
	if reconciled > 0 {
		a.logger.Warnf("marked %d stale execution(s) as failed", reconciled)
	}

	a.jobs.RefreshScheduler()
	a.scheduler.Start()

	errCh := make(chan error, 1)
	go func() {
		errCh <- a.server.Start()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	a.logger.Infof("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := a.server.Shutdown(shutdownCtx); err != nil {
		a.logger.Errorf("http shutdown: %v", err)
	}
	a.scheduler.Stop()
	a.audit.Close()
	if err := a.store.Close(); err != nil {
		a.logger.Errorf("store close: %v", err)
	}
	return nil
}
