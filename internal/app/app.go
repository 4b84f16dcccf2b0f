// Package app wires every long-lived service into a single process-scoped
// container, constructed once at startup and torn down in reverse order on
// shutdown. It is the dependency injection root: internal/api and
// cmd/extractorapi depend on App, never the other way around.
package app

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/clipvault/extractor-api/internal/activefiles"
	"github.com/clipvault/extractor-api/internal/auditlog"
	"github.com/clipvault/extractor-api/internal/auth"
	"github.com/clipvault/extractor-api/internal/clock/system"
	"github.com/clipvault/extractor-api/internal/config"
	"github.com/clipvault/extractor-api/internal/cookie"
	"github.com/clipvault/extractor-api/internal/domain"
	"github.com/clipvault/extractor-api/internal/extractor"
	"github.com/clipvault/extractor-api/internal/hash/sha256"
	"github.com/clipvault/extractor-api/internal/id/uuid"
	memory "github.com/clipvault/extractor-api/internal/jobstore"
	"github.com/clipvault/extractor-api/internal/provider"
	"github.com/clipvault/extractor-api/internal/ratelimit"
	"github.com/clipvault/extractor-api/internal/readiness"
	"github.com/clipvault/extractor-api/internal/reaper"
	"github.com/clipvault/extractor-api/internal/redact"
	"github.com/clipvault/extractor-api/internal/retry"
	"github.com/clipvault/extractor-api/internal/scheduler"
	"github.com/clipvault/extractor-api/internal/startup"
	"github.com/clipvault/extractor-api/internal/template"
	"github.com/clipvault/extractor-api/internal/validator"
)

// App holds every singleton service the HTTP layer and background loops
// need. Fields are unexported; access is through the Get* methods so the
// container can evolve without disturbing its consumers.
type App struct {
	cfg    config.Config
	logger *zap.Logger
	clock  domain.Clock

	idGen      *uuid.Generator
	redactor   domain.Redactor
	validator  domain.Validator
	renderer   domain.TemplateRenderer
	dispatcher *provider.Dispatcher
	cookies    domain.CookieStore
	limiter    domain.Limiter
	active     domain.ActiveFileSet
	reaperSvc  domain.Reaper
	jobs       *memory.JobStore
	sched      *scheduler.Scheduler
	retrier    domain.RetryExecutor
	authGate   domain.AuthGate
	readyProbe domain.ReadinessProbe
	audit      *auditlog.Log

	startupResult startup.Result
}

// New builds every service, runs the one-time startup validation, and
// returns an App ready for Start. It fails fast unless degraded mode
// downgrades the failure to a disabled provider.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (*App, error) {
	clock := system.New()
	idGen := uuid.New()
	hasher := sha256.New()
	redactor := redact.New(hasher)

	bindings := make([]domain.ProviderBinding, 0, len(cfg.Providers))
	probeURLs := make(map[string]string, len(cfg.Providers))
	for _, p := range cfg.Providers {
		bindings = append(bindings, domain.ProviderBinding{
			Name:            p.Name,
			URLPatterns:     p.URLPatterns,
			Enabled:         true,
			MaxAttempts:     p.MaxAttempts,
			BackoffSchedule: p.BackoffSchedule(),
			CookiePath:      p.CookiePath,
		})
		if p.ProbeURL != "" {
			probeURLs[p.Name] = p.ProbeURL
		}
	}
	dispatcher := provider.New(bindings)
	bindingsByName := make(map[string]domain.ProviderBinding, len(bindings))
	for _, b := range bindings {
		bindingsByName[b.Name] = b
	}

	v := validator.New(dispatcher)
	renderer := template.New()

	inv := extractor.New(extractor.BinaryPaths{
		Extractor:        cfg.Server.ExtractorBin,
		ScriptingRuntime: cfg.Server.ScriptRuntime,
	}, redactor, logger)
	retrier := retry.New(inv, logger)

	prober := cookie.NewExtractorProber(retrier, bindingsByName, probeURLs)
	cookies := cookie.New(clock, prober)

	limits := map[domain.RateCategory]ratelimit.CategoryLimits{
		domain.CategoryMetadata: {RequestsPerMinute: cfg.RateLimiting.MetadataRPM, BurstCapacity: cfg.RateLimiting.BurstCapacity},
		domain.CategoryDownload: {RequestsPerMinute: cfg.RateLimiting.DownloadRPM, BurstCapacity: cfg.RateLimiting.BurstCapacity},
	}
	limiter := ratelimit.New(clock, limits)

	active := activefiles.New()
	reaperSvc := reaper.New(reaper.Config{
		OutputDir:        cfg.Storage.OutputDir,
		CleanupThreshold: cfg.Storage.CleanupThreshold,
		CleanupAge:       cfg.CleanupAge(),
	}, active, reaper.StatfsDiskUsage{}, clock, logger)

	jobs := memory.New(clock, cfg.JobTTL(), logger)

	queue := scheduler.NewPriorityQueue(cfg.Downloads.QueueCapacity, clock)
	sched := scheduler.New(scheduler.Config{
		QueueCapacity: cfg.Downloads.QueueCapacity,
		WorkerCount:   cfg.Downloads.WorkerCount,
		OutputDir:     cfg.Storage.OutputDir,
	}, queue, jobs, dispatcher, retrier, renderer, active, clock, logger)

	audit, err := auditlog.Open(cfg.Storage.AuditLogPath)
	if err != nil {
		return nil, fmt.Errorf("open audit log: %w", err)
	}
	sched.SetAuditRecorder(audit)

	authGate := auth.New(cfg.Security.APIKeys, redactor)

	readyProbe := readiness.New(readiness.Config{
		ExtractorBinary:       readiness.BinaryCheck{Name: "extractor", Command: []string{cfg.Server.ExtractorBin, "--version"}},
		MediaProcessingBinary: readiness.BinaryCheck{Name: "media", Command: []string{cfg.Server.MediaToolBin, "-version"}},
		ScriptingRuntime:      readiness.BinaryCheck{Name: "runtime", Command: []string{cfg.Server.ScriptRuntime, "--version"}},
		MinScriptingMajor:     cfg.Server.MinScriptingMajor,
		OutputDir:             cfg.Storage.OutputDir,
		MinFreeBytes:          cfg.Storage.MinFreeBytes,
		ConnectivityHost:      cfg.Server.ConnectivityHost,
	}, cookies, dispatcher, readiness.StatfsDiskUsage{})

	providerChecks := make([]startup.ProviderCheck, 0, len(cfg.Providers))
	for _, p := range cfg.Providers {
		providerChecks = append(providerChecks, startup.ProviderCheck{Name: p.Name, Path: p.CookiePath})
	}
	validatorSvc := startup.New(startup.Config{
		DegradedMode: cfg.Server.DegradedMode,
		Providers:    providerChecks,
	}, readyProbe, cookies, logger)

	result, err := validatorSvc.Run(ctx)
	if err != nil {
		audit.Close()
		return nil, fmt.Errorf("startup validation: %w", err)
	}
	for _, name := range result.DisabledProviders {
		dispatcher.Disable(name)
	}

	a := &App{
		cfg:           cfg,
		logger:        logger,
		clock:         clock,
		idGen:         idGen,
		redactor:      redactor,
		validator:     v,
		renderer:      renderer,
		dispatcher:    dispatcher,
		cookies:       cookies,
		limiter:       limiter,
		active:        active,
		reaperSvc:     reaperSvc,
		jobs:          jobs,
		sched:         sched,
		retrier:       retrier,
		authGate:      authGate,
		readyProbe:    readyProbe,
		audit:         audit,
		startupResult: result,
	}
	return a, nil
}

// Start launches the Scheduler's worker pool, the JobStore TTL sweeper, and
// the reaper's fixed-interval timer. Every loop is bound to ctx and stops
// when ctx is canceled.
func (a *App) Start(ctx context.Context) {
	a.sched.Start(ctx)
	a.jobs.StartSweeper(ctx, time.Hour)

	interval := time.Duration(a.cfg.Storage.ReapIntervalMins) * time.Minute
	if interval <= 0 {
		interval = time.Hour
	}
	go a.runReaperTimer(ctx, interval)
}

func (a *App) runReaperTimer(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			filesDeleted, bytesReclaimed, err := a.reaperSvc.Run(ctx, false, false)
			if err != nil {
				a.logger.Warn("scheduled reap failed", zap.Error(err))
				continue
			}
			a.logger.Info("scheduled reap complete",
				zap.Int("files_deleted", filesDeleted),
				zap.Int64("bytes_reclaimed", bytesReclaimed))
		}
	}
}

// Wait blocks until the scheduler's worker pool has drained in-flight jobs
// after shutdown begins.
func (a *App) Wait() {
	a.sched.Wait()
}

// Close tears down services in the reverse order they were acquired. Only
// the audit log holds an OS resource that must be released explicitly.
func (a *App) Close() {
	if err := a.audit.Close(); err != nil {
		a.logger.Warn("error closing audit log", zap.Error(err))
	}
	if err := a.logger.Sync(); err != nil {
		a.logger.Warn("error syncing logger on shutdown", zap.Error(err))
	}
}

func (a *App) GetLogger() *zap.Logger                   { return a.logger }
func (a *App) GetConfig() config.Config                 { return a.cfg }
func (a *App) GetClock() domain.Clock                   { return a.clock }
func (a *App) GetIDGenerator() *uuid.Generator           { return a.idGen }
func (a *App) GetValidator() domain.Validator           { return a.validator }
func (a *App) GetRenderer() domain.TemplateRenderer     { return a.renderer }
func (a *App) GetDispatcher() domain.ProviderDispatcher { return a.dispatcher }
func (a *App) GetCookies() domain.CookieStore           { return a.cookies }
func (a *App) GetLimiter() domain.Limiter               { return a.limiter }
func (a *App) GetActiveFiles() domain.ActiveFileSet     { return a.active }
func (a *App) GetReaper() domain.Reaper                 { return a.reaperSvc }
func (a *App) GetJobStore() domain.JobStore             { return a.jobs }
func (a *App) GetScheduler() *scheduler.Scheduler       { return a.sched }
func (a *App) GetRetrier() domain.RetryExecutor         { return a.retrier }
func (a *App) GetAuthGate() domain.AuthGate             { return a.authGate }
func (a *App) GetReadinessProbe() domain.ReadinessProbe { return a.readyProbe }
func (a *App) StartupResult() startup.Result            { return a.startupResult }
