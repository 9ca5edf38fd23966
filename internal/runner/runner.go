// Package runner drives backup, status and scrub across a list of domains.
//
// Domains are processed one at a time in the order given. A failure for one
// domain is recorded in its result and the next domain is still processed.
package runner

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/blackwell-systems/vmsnap/internal/consistency"
	"github.com/blackwell-systems/vmsnap/internal/fsprobe"
	"github.com/blackwell-systems/vmsnap/internal/lifecycle"
	"github.com/blackwell-systems/vmsnap/internal/lock"
	"github.com/blackwell-systems/vmsnap/internal/nbdbackup"
	"github.com/blackwell-systems/vmsnap/internal/period"
	"github.com/blackwell-systems/vmsnap/internal/scrub"
)

var (
	// ErrLockRelease wraps a failure to release the invocation lock.
	ErrLockRelease = errors.New("failed to release lock")

	// ErrScrubFailed is returned when any checkpoint or bitmap could not be
	// removed.
	ErrScrubFailed = errors.New("scrub failed")

	// ErrDomainFailed is returned when at least one domain's backup failed.
	ErrDomainFailed = errors.New("backup failed for one or more domains")
)

// Hypervisor is everything the runner needs from the hypervisor adapter.
type Hypervisor interface {
	scrub.Hypervisor
	ListDomains(ctx context.Context) ([]string, error)
	DomainExists(ctx context.Context, domain string) (bool, error)
}

// DiskImage is everything the runner needs from the disk-image adapter.
type DiskImage interface {
	scrub.DiskImage
}

// Backupper runs the external backup tool.
type Backupper interface {
	Run(ctx context.Context, domain, outputPath string, opts nbdbackup.Options) (nbdbackup.Result, error)
}

// Progress is told when each domain's backup begins and ends.
type Progress interface {
	Begin(domain string)
	Done()
}

// LockConfig controls the invocation lock.
type LockConfig struct {
	Path    string
	Retries int
	Delay   time.Duration
}

// Runner wires the adapters to the lifecycle and consistency engines.
type Runner struct {
	hv     Hypervisor
	img    DiskImage
	backup Backupper
	log    zerolog.Logger

	engine    *lifecycle.Engine
	collector *consistency.Collector
	scrubber  *scrub.Scrubber

	// Now supplies the reference instant for every decision.
	Now  func() time.Time
	Lock LockConfig

	// Progress is optional.
	Progress Progress
}

// New creates a Runner. backup may be nil for runners that only query
// status or scrub.
func New(hv Hypervisor, img DiskImage, backup Backupper, fsys fsprobe.FS, log zerolog.Logger) *Runner {
	if fsys == nil {
		fsys = fsprobe.New()
	}
	return &Runner{
		hv:        hv,
		img:       img,
		backup:    backup,
		log:       log,
		engine:    lifecycle.New(fsys, log),
		collector: consistency.NewCollector(hv, img, fsys, log),
		scrubber:  scrub.New(hv, img, log),
		Now:       time.Now,
		Lock:      LockConfig{Path: lock.DefaultPath, Retries: 10, Delay: 2 * time.Second},
	}
}

// SetMarkerDir overrides the checkpoint marker subdirectory used by Status.
func (r *Runner) SetMarkerDir(name string) {
	r.collector.SetMarkerDir(name)
}

// withLock runs fn while holding the invocation lock. The lock is always
// released; a release failure is joined with fn's error.
func (r *Runner) withLock(ctx context.Context, fn func() error) (err error) {
	l, err := lock.Acquire(ctx, r.Lock.Path, lock.Options{
		Retries: r.Lock.Retries,
		Delay:   r.Lock.Delay,
		Log:     r.log,
	})
	if err != nil {
		return err
	}

	defer func() {
		if relErr := l.Release(); relErr != nil {
			r.log.Error().Err(relErr).Str("path", l.Path()).Msg("failed to release lock")
			err = errors.Join(err, fmt.Errorf("%w: %w", ErrLockRelease, relErr))
		}
	}()

	return fn()
}

// ExpandDomains replaces a "*" entry with every domain the hypervisor knows.
func (r *Runner) ExpandDomains(ctx context.Context, domains []string) ([]string, error) {
	for _, d := range domains {
		if d == "*" {
			all, err := r.hv.ListDomains(ctx)
			if err != nil {
				return nil, err
			}
			return all, nil
		}
	}
	return domains, nil
}

// Status returns the StatusRecord of every domain, keyed by domain. root may
// be empty to skip the backup directory check. A domain whose status cannot
// be collected is left out of the map and its error joined into the result;
// the remaining domains are still collected.
func (r *Runner) Status(ctx context.Context, domains []string, root string, f period.Frequency) (map[string]consistency.StatusRecord, error) {
	at := r.Now()
	out := make(map[string]consistency.StatusRecord, len(domains))

	var errs []error
	for _, domain := range domains {
		rec, err := r.collector.Status(ctx, domain, root, f, at)
		if err != nil {
			r.log.Error().Err(err).Str("domain", domain).Msg("status collection failed")
			errs = append(errs, fmt.Errorf("%s: %w", domain, err))
			continue
		}
		out[domain] = rec
	}
	return out, errors.Join(errs...)
}

// Scrub removes checkpoints and/or bitmaps from each domain under the lock.
func (r *Runner) Scrub(ctx context.Context, domains []string, t scrub.Type) ([]scrub.Report, error) {
	var reports []scrub.Report

	err := r.withLock(ctx, func() error {
		failed := false
		for _, domain := range domains {
			rep, err := r.scrubber.Scrub(ctx, domain, t)
			if err != nil {
				r.log.Error().Err(err).Str("domain", domain).Msg("scrub aborted")
				rep.Items = append(rep.Items, scrub.ItemResult{Kind: scrub.KindDomain, ID: domain, Err: err})
			}
			if len(rep.Failed()) > 0 {
				failed = true
			}
			reports = append(reports, rep)
		}
		if failed {
			return ErrScrubFailed
		}
		return nil
	})

	return reports, err
}
