// Package main wires together the extractor service binary.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/clipvault/extractor-api/internal/api"
	"github.com/clipvault/extractor-api/internal/app"
	"github.com/clipvault/extractor-api/internal/config"
	"github.com/clipvault/extractor-api/internal/logging"
	"github.com/clipvault/extractor-api/internal/metrics"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.Monitoring.Enabled {
		metrics.Init()
	}

	container, err := app.New(ctx, cfg, logger)
	if err != nil {
		logger.Error("app init failed", zap.Error(err))
		os.Exit(1)
	}
	container.Start(ctx)

	var metricsHandler http.Handler
	if cfg.Monitoring.Enabled {
		metricsHandler = metrics.Handler()
	}

	apiServer := api.NewServer(api.Deps{
		Logger:         logger.Named("api"),
		Validator:      container.GetValidator(),
		Dispatcher:     container.GetDispatcher(),
		Retrier:        container.GetRetrier(),
		Limiter:        container.GetLimiter(),
		Jobs:           container.GetJobStore(),
		Scheduler:      container.GetScheduler(),
		IDGen:          container.GetIDGenerator(),
		AuthGate:       container.GetAuthGate(),
		Readiness:      container.GetReadinessProbe(),
		Cookies:        container.GetCookies(),
		Reaper:         container.GetReaper(),
		HeaderName:     cfg.Security.HeaderName,
		MetricsHandler: metricsHandler,
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server started", zap.Int("port", cfg.Server.Port))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutdown initiated")

	graceSecs := cfg.Timeouts.ShutdownGraceSecs
	if graceSecs <= 0 {
		graceSecs = 30
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(graceSecs)*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}

	container.Wait()
	container.Close()
	logger.Info("shutdown complete")
}
