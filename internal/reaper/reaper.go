// Package reaper implements the StorageReaper (C6): disk-usage-triggered,
// age-based cleanup of the output directory with active-file pinning.
package reaper

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"time"

	"github.com/clipvault/extractor-api/internal/domain"
	"github.com/clipvault/extractor-api/internal/metrics"
	"github.com/dustin/go-humanize"
	"go.uber.org/zap"
)

// DiskUsage reports used/total bytes for a path's filesystem.
type DiskUsage interface {
	Usage(path string) (usedBytes, totalBytes uint64, err error)
}

// Config holds the reaper's tunables, sourced from the storage config
// section.
type Config struct {
	OutputDir        string
	CleanupThreshold int // percent, default 80
	CleanupAge       time.Duration // default 24h
}

// Reaper implements domain.Reaper.
type Reaper struct {
	cfg       Config
	active    domain.ActiveFileSet
	diskUsage DiskUsage
	clock     domain.Clock
	logger    *zap.Logger
}

// New builds a Reaper.
func New(cfg Config, active domain.ActiveFileSet, diskUsage DiskUsage, clock domain.Clock, logger *zap.Logger) *Reaper {
	if cfg.CleanupThreshold == 0 {
		cfg.CleanupThreshold = 80
	}
	if cfg.CleanupAge == 0 {
		cfg.CleanupAge = 24 * time.Hour
	}
	return &Reaper{cfg: cfg, active: active, diskUsage: diskUsage, clock: clock, logger: logger.Named("reaper")}
}

var _ domain.Reaper = (*Reaper)(nil)

// Run measures disk usage and, if over threshold (or explicit forces
// evaluation regardless of threshold), deletes regular files older than
// CleanupAge that are not in the ActiveFileSet. dryRun independently
// controls whether matching files are actually removed or only counted.
// It never follows symlinks out of the output directory.
func (r *Reaper) Run(ctx context.Context, dryRun, explicit bool) (int, int64, error) {
	usedBytes, totalBytes, err := r.diskUsage.Usage(r.cfg.OutputDir)
	if err != nil {
		return 0, 0, domain.Wrap(domain.ErrStorageFull, "measure disk usage", err)
	}

	var usedPct int
	if totalBytes > 0 {
		usedPct = int(usedBytes * 100 / totalBytes)
	}
	r.logger.Debug("disk usage measured",
		zap.String("used", humanize.Bytes(usedBytes)),
		zap.String("total", humanize.Bytes(totalBytes)),
		zap.Int("used_pct", usedPct))

	if usedPct < r.cfg.CleanupThreshold && !explicit {
		return 0, 0, nil
	}

	filesDeleted := 0
	var bytesReclaimed int64
	now := r.clock.Now()

	walkErr := filepath.WalkDir(r.cfg.OutputDir, func(path string, d fs.DirEntry, err error) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err != nil {
			return nil
		}
		if d.IsDir() {
			return nil
		}
		if d.Type()&os.ModeSymlink != 0 {
			return nil
		}

		rel, err := filepath.Rel(r.cfg.OutputDir, path)
		if err != nil {
			return nil
		}
		if r.active.Contains(rel) {
			return nil
		}

		info, err := d.Info()
		if err != nil {
			return nil
		}
		if now.Sub(info.ModTime()) < r.cfg.CleanupAge {
			return nil
		}

		filesDeleted++
		bytesReclaimed += info.Size()
		if !dryRun {
			if rmErr := os.Remove(path); rmErr != nil {
				r.logger.Warn("failed to remove stale file", zap.String("path", rel), zap.Error(rmErr))
				filesDeleted--
				bytesReclaimed -= info.Size()
			}
		}
		return nil
	})
	if walkErr != nil {
		return filesDeleted, bytesReclaimed, domain.Wrap(domain.ErrStorageFull, "walk output directory", walkErr)
	}

	r.logger.Info("reaper pass complete",
		zap.Int("files_deleted", filesDeleted),
		zap.String("bytes_reclaimed", humanize.Bytes(uint64(bytesReclaimed))),
		zap.Bool("dry_run", dryRun))
	if !dryRun {
		metrics.ObserveReap(filesDeleted, bytesReclaimed)
	}

	return filesDeleted, bytesReclaimed, nil
}
