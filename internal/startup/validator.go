// Package startup implements the StartupValidator (C14): the one-time,
// stricter readiness check run once at boot, with degraded-mode downgrade
// semantics.
package startup

import (
	"context"
	"fmt"

	"github.com/clipvault/extractor-api/internal/domain"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ProviderCheck names one provider's credential check, run concurrently
// with the others.
type ProviderCheck struct {
	Name string
	Path string
}

// Config lists the checks Validator runs.
type Config struct {
	DegradedMode bool
	Providers    []ProviderCheck
}

// Validator runs C13's component checks once at boot with stricter
// semantics: any failure aborts startup unless degraded mode is enabled.
type Validator struct {
	cfg     Config
	probe   domain.ReadinessProbe
	cookies domain.CookieStore
	logger  *zap.Logger
}

// New builds a Validator.
func New(cfg Config, probe domain.ReadinessProbe, cookies domain.CookieStore, logger *zap.Logger) *Validator {
	return &Validator{cfg: cfg, probe: probe, cookies: cookies, logger: logger.Named("startup")}
}

// Result is the outcome of a Run that did not abort: the probe's overall
// health, its component statuses, and which providers were disabled
// (degraded mode only). An abort is reported through Run's error instead.
type Result struct {
	Healthy          bool
	Components       []domain.ComponentStatus
	DisabledProviders []string
}

// Run executes each provider credential check concurrently via errgroup,
// then delegates to the ReadinessProbe for the remaining component checks.
// The provider checks carry no timeout of their own beyond ctx.
func (v *Validator) Run(ctx context.Context) (Result, error) {
	g, gctx := errgroup.WithContext(ctx)
	disabled := make(chan string, len(v.cfg.Providers))

	for _, p := range v.cfg.Providers {
		p := p
		g.Go(func() error {
			if err := v.cookies.Load(gctx, p.Name, p.Path); err != nil {
				return v.handleProviderFailure(p.Name, err, disabled)
			}
			if _, err := v.cookies.Validate(gctx, p.Name); err != nil {
				return v.handleProviderFailure(p.Name, err, disabled)
			}
			return nil
		})
	}

	groupErr := g.Wait()
	close(disabled)
	var disabledNames []string
	for name := range disabled {
		disabledNames = append(disabledNames, name)
	}

	if groupErr != nil && !v.cfg.DegradedMode {
		return Result{}, fmt.Errorf("startup check failed: %w", groupErr)
	}

	healthy, components := v.probe.Check(ctx)
	if !healthy && !v.cfg.DegradedMode {
		return Result{}, fmt.Errorf("startup readiness check failed")
	}

	v.logger.Info("startup validation complete",
		zap.Bool("healthy", healthy),
		zap.Strings("disabled_providers", disabledNames))

	return Result{Healthy: healthy, Components: components, DisabledProviders: disabledNames}, nil
}

func (v *Validator) handleProviderFailure(name string, err error, disabled chan<- string) error {
	if v.cfg.DegradedMode {
		v.logger.Warn("provider credential check failed, disabling in degraded mode",
			zap.String("provider", name), zap.Error(err))
		disabled <- name
		return nil
	}
	v.logger.Error("provider credential check failed", zap.String("provider", name), zap.Error(err))
	return fmt.Errorf("provider %s: %w", name, err)
}
