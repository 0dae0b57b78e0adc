// Package main запускает HTTP-сервер сервиса кредитных заявок и пул фоновых воркеров.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/avasiliev/proposal-system/internal/authorize"
	"github.com/avasiliev/proposal-system/internal/config"
	"github.com/avasiliev/proposal-system/internal/handler"
	"github.com/avasiliev/proposal-system/internal/jobs"
	"github.com/avasiliev/proposal-system/internal/notify"
	"github.com/avasiliev/proposal-system/internal/repository"
	"github.com/avasiliev/proposal-system/internal/scheduler"
	"github.com/avasiliev/proposal-system/internal/service"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	sugar := logger.Sugar()

	cfg, err := config.Parse()
	if err != nil {
		sugar.Fatalw("configuration error", "error", err.Error())
	}

	repo, err := repository.NewPostgresRepository(cfg.DatabaseURI)
	if err != nil {
		sugar.Fatalw("database initialization error", "error", err.Error())
	}
	defer repo.Close()

	authorizeClient := authorize.NewClient(cfg.AuthorizeAddress)
	notifyClient := notify.NewClient(cfg.NotifyAddress)

	sched := scheduler.New(repo, logger,
		scheduler.WithConcurrency(cfg.WorkerConcurrency),
	)
	sched.Register(jobs.NewRegisterProposalJob(repo, authorizeClient, logger))
	sched.Register(jobs.NewNotifyProposalJob(repo, notifyClient, logger))

	svc := service.NewService(repo, sched, logger)
	defer svc.Close()

	h := handler.NewHandler(svc, logger)

	r := h.SetupRouter()

	server := &http.Server{
		Addr:    cfg.RunAddress,
		Handler: r,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)

	// Запуск пула воркеров фоновых задач
	g.Go(func() error {
		sched.Run(ctx)
		return nil
	})

	// Запуск HTTP-сервера
	g.Go(func() error {
		sugar.Infow("starting proposal server", "addr", cfg.RunAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	// Graceful shutdown при отмене контекста (сигнал или ошибка в другой горутине)
	g.Go(func() error {
		<-ctx.Done()
		sugar.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}
		sugar.Info("server stopped gracefully")
		return nil
	})

	if err := g.Wait(); err != nil {
		sugar.Fatalw("application terminated with error", "error", err)
	}
}
