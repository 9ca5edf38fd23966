// Package lifecycle decides, per domain, when a new backup period needs a
// clean change-tracking slate and when the previous period's backups can be
// pruned.
//
// All decisions are made from the directory tree under the backup root and
// an explicit reference instant; nothing here reads the system clock.
package lifecycle

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/rs/zerolog"

	"github.com/blackwell-systems/vmsnap/internal/fsprobe"
	"github.com/blackwell-systems/vmsnap/internal/period"
)

// Engine makes lifecycle decisions against a backup root.
type Engine struct {
	fs  fsprobe.FS
	log zerolog.Logger
}

// New creates an Engine.
func New(fsys fsprobe.FS, log zerolog.Logger) *Engine {
	if fsys == nil {
		fsys = fsprobe.New()
	}
	return &Engine{
		fs:  fsys,
		log: log.With().Str("component", "lifecycle").Logger(),
	}
}

// BackupPath is where this period's backups for domain are written. With an
// invalid frequency period grouping is disabled and the domain directory
// itself is used.
func (e *Engine) BackupPath(domain string, f period.Frequency, at time.Time, root string) string {
	current, err := period.Current(f, at)
	if err != nil {
		return filepath.Join(root, domain)
	}
	return filepath.Join(root, domain, current.DirName())
}

// NeedsPreBackupCleanup reports whether the current period's directory is
// missing for domain, meaning a period boundary was crossed and existing
// checkpoints and bitmaps belong to the previous chain.
//
// An invalid frequency disables the check: a warning is logged and false
// returned.
func (e *Engine) NeedsPreBackupCleanup(domain string, f period.Frequency, at time.Time, root string) (bool, error) {
	current, err := period.Current(f, at)
	if err != nil {
		e.log.Warn().Err(err).Str("domain", domain).Msg("period grouping disabled, skipping pre-backup cleanup check")
		return false, nil
	}

	dir := filepath.Join(root, domain, current.DirName())
	exists, err := e.fs.Exists(dir)
	if err != nil {
		return false, fmt.Errorf("failed to check backup directory %s: %w", dir, err)
	}

	if !exists {
		e.log.Debug().Str("domain", domain).Str("bucket", current.DirName()).Msg("current period directory missing")
	}
	return !exists, nil
}

// NeedsPruning reports whether the previous period's directory for domain
// should be removed: pruning is enabled, the directory exists, and the
// current period is at least the frequency's threshold days old.
//
// An invalid frequency disables pruning with a warning.
func (e *Engine) NeedsPruning(domain string, f period.Frequency, enabled bool, at time.Time, root string) (bool, error) {
	if !enabled {
		return false, nil
	}

	current, err := period.Current(f, at)
	if err != nil {
		e.log.Warn().Err(err).Str("domain", domain).Msg("pruning disabled")
		return false, nil
	}
	previous := current.Previous()

	dir := filepath.Join(root, domain, previous.DirName())
	exists, err := e.fs.Exists(dir)
	if err != nil {
		return false, fmt.Errorf("failed to check previous backup directory %s: %w", dir, err)
	}
	if !exists {
		return false, nil
	}

	elapsed := current.ElapsedDays(at)
	threshold := f.PruneThresholdDays()
	if elapsed < threshold {
		e.log.Debug().
			Str("domain", domain).
			Int("elapsed_days", elapsed).
			Int("threshold_days", threshold).
			Msg("previous period kept until threshold")
		return false, nil
	}

	return true, nil
}

// Prune removes the previous period's directory tree for domain and returns
// the removed path. Callers must check NeedsPruning first.
func (e *Engine) Prune(domain string, f period.Frequency, at time.Time, root string) (string, error) {
	previous, err := period.Resolve(f, at, true)
	if err != nil {
		return "", fmt.Errorf("failed to resolve previous period: %w", err)
	}

	dir := filepath.Join(root, domain, previous.DirName())
	if err := e.fs.RemoveTree(dir); err != nil {
		return "", fmt.Errorf("failed to remove %s: %w", dir, err)
	}

	e.log.Info().Str("domain", domain).Str("path", dir).Msg("pruned previous backup period")
	return dir, nil
}
