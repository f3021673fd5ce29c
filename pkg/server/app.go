package server

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"FinCast/internal/usecase"
	"FinCast/pkg/config"
	xhttp "FinCast/pkg/http"
	applogger "FinCast/pkg/logger"
	"FinCast/pkg/queue"
)

const startupTimeout = 30 * time.Second

// App encapsulates the entire application lifecycle.
type App struct {
	cfg         *config.Config
	logger      *applogger.Logger
	registry    *usecase.ModelRegistry
	engine      *usecase.PredictionEngine
	housekeeper *usecase.Housekeeper
	queue       *queue.RedisQueue
	httpServer  *xhttp.Server
}

// New creates a new App instance with all dependencies. q may be nil when the retrain
// queue is disabled.
func New(
	cfg *config.Config,
	l *applogger.Logger,
	registry *usecase.ModelRegistry,
	engine *usecase.PredictionEngine,
	housekeeper *usecase.Housekeeper,
	q *queue.RedisQueue,
	httpServer *xhttp.Server,
) *App {
	return &App{
		cfg:         cfg,
		logger:      l,
		registry:    registry,
		engine:      engine,
		housekeeper: housekeeper,
		queue:       q,
		httpServer:  httpServer,
	}
}

// Run starts the application and blocks until interrupted or the HTTP server fails.
func (a *App) Run() error {
	initCtx, cancel := context.WithTimeout(context.Background(), startupTimeout)
	err := a.registry.Init(initCtx)
	cancel()
	if err != nil {
		return fmt.Errorf("registry init: %w", err)
	}

	if a.queue != nil {
		if err := a.queue.Start(); err != nil {
			return fmt.Errorf("retrain queue: %w", err)
		}
		a.logger.Info("retrain queue started", applogger.Int("workers", a.cfg.Queue.Workers))
	}

	a.housekeeper.Start()

	if err := a.httpServer.Start(); err != nil {
		a.logger.Error("http server start error", applogger.Error(err))
		_ = a.shutdown()
		return err
	}
	a.logger.Info("http server started", applogger.Int("port", a.cfg.Server.Port))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	var runErr error
	select {
	case sig := <-sigCh:
		a.logger.Info("shutdown signal received", applogger.String("signal", sig.String()))
	case err := <-a.httpServer.Errors():
		a.logger.Error("http server error", applogger.Error(err))
		runErr = err
	}

	return errors.Join(runErr, a.shutdown())
}

// shutdown stops intake first, then background work, then waits for in-flight
// background tasks. Stores and clients are closed by the DI cleanup.
func (a *App) shutdown() error {
	a.logger.Info("shutting down...")

	ctx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()

	var errs []error
	if err := a.httpServer.Stop(ctx); err != nil {
		a.logger.Error("http shutdown error", applogger.Error(err))
		errs = append(errs, err)
	}

	if err := a.housekeeper.Stop(ctx); err != nil {
		a.logger.Warn("housekeeper stop error", applogger.Error(err))
	}

	if a.queue != nil {
		if err := a.queue.Stop(ctx); err != nil {
			a.logger.Warn("retrain queue stop error", applogger.Error(err))
		}
	}

	a.engine.Wait()

	a.logger.Info("shutdown complete")
	return errors.Join(errs...)
}
