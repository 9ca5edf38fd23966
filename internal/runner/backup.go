package runner

import (
	"context"
	"fmt"
	"time"

	"github.com/blackwell-systems/vmsnap/internal/lifecycle"
	"github.com/blackwell-systems/vmsnap/internal/nbdbackup"
	"github.com/blackwell-systems/vmsnap/internal/period"
	"github.com/blackwell-systems/vmsnap/internal/scrub"
)

// BackupOptions configures a backup invocation.
type BackupOptions struct {
	Root      string
	Frequency period.Frequency
	Prune     bool
	Tool      nbdbackup.Options
}

// DomainResult is what happened to one domain during Backup.
type DomainResult struct {
	Domain     string
	State      lifecycle.State
	OutputPath string
	Cleaned    bool
	Scrub      *scrub.Report
	ExitCode   int
	PrunedPath string
	Duration   time.Duration
	Err        error
}

// OK reports whether the domain's backup succeeded.
func (d DomainResult) OK() bool {
	return d.Err == nil
}

// Backup runs one lifecycle pass per domain while holding the lock:
// pre-backup cleanup when a new period began, the backup itself, then
// pruning of the previous period when due. Failures are isolated per
// domain; ErrDomainFailed is returned if any domain failed.
func (r *Runner) Backup(ctx context.Context, domains []string, opts BackupOptions) ([]DomainResult, error) {
	if r.backup == nil {
		return nil, fmt.Errorf("no backup tool configured")
	}

	var results []DomainResult

	err := r.withLock(ctx, func() error {
		at := r.Now()
		failed := 0
		for _, domain := range domains {
			if r.Progress != nil {
				r.Progress.Begin(domain)
			}
			start := time.Now()
			res := r.backupDomain(ctx, domain, opts, at)
			res.Duration = time.Since(start)
			if r.Progress != nil {
				r.Progress.Done()
			}
			if !res.OK() {
				failed++
				r.log.Error().Err(res.Err).Str("domain", domain).Msg("domain backup failed")
			}
			results = append(results, res)
		}
		if failed > 0 {
			return fmt.Errorf("%w (%d of %d)", ErrDomainFailed, failed, len(domains))
		}
		return nil
	})

	return results, err
}

func (r *Runner) backupDomain(ctx context.Context, domain string, opts BackupOptions, at time.Time) DomainResult {
	res := DomainResult{Domain: domain, State: lifecycle.NoActionNeeded}
	log := r.log.With().Str("domain", domain).Logger()

	exists, err := r.hv.DomainExists(ctx, domain)
	if err != nil {
		res.Err = err
		return res
	}
	if !exists {
		res.Err = fmt.Errorf("domain %s does not exist", domain)
		return res
	}

	pass, err := r.engine.Begin(domain, opts.Frequency, at, opts.Root)
	if err != nil {
		res.Err = err
		return res
	}
	res.State = pass.State

	if pass.State == lifecycle.CleanupRequired {
		log.Info().Msg("new backup period, scrubbing checkpoints and bitmaps")
		rep, err := r.scrubber.Scrub(ctx, domain, scrub.Both)
		if err != nil {
			res.Err = fmt.Errorf("pre-backup cleanup failed: %w", err)
			return res
		}
		res.Scrub = &rep
		// Leftover items are reported but do not block the new chain.
		if failed := rep.Failed(); len(failed) > 0 {
			log.Warn().Int("failed", len(failed)).Msg("pre-backup cleanup incomplete")
		}
		if err := pass.MarkCleaned(); err != nil {
			res.Err = err
			return res
		}
		res.Cleaned = true
	}

	res.OutputPath = r.engine.BackupPath(domain, opts.Frequency, at, opts.Root)
	result, err := r.backup.Run(ctx, domain, res.OutputPath, opts.Tool)
	res.ExitCode = result.ExitCode
	if err != nil {
		res.Err = err
		return res
	}
	if !result.Succeeded() {
		res.Err = fmt.Errorf("backup tool exited with status %d", result.ExitCode)
		return res
	}

	if err := pass.BackupFinished(); err != nil {
		res.Err = err
		return res
	}
	res.State = pass.State

	if err := r.engine.Finish(pass, opts.Frequency, opts.Prune, at, opts.Root); err != nil {
		res.Err = err
		return res
	}
	res.State = pass.State

	if pass.State == lifecycle.PruneRequired {
		path, err := r.engine.Prune(domain, opts.Frequency, at, opts.Root)
		if err != nil {
			res.Err = err
			return res
		}
		if err := pass.MarkPruned(path); err != nil {
			res.Err = err
			return res
		}
		res.PrunedPath = path
		res.State = pass.State
	}

	return res
}
