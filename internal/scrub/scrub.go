// Package scrub removes a domain's checkpoints and disk bitmaps so the next
// backup starts a fresh incremental chain.
//
// Scrubbing is best effort. Every checkpoint and bitmap is attempted and the
// outcome of each is returned in a Report rather than stopping at the first
// failure.
package scrub

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"github.com/rs/zerolog"
)

// Type selects what Scrub removes.
type Type string

const (
	Checkpoints Type = "checkpoint"
	Bitmaps     Type = "bitmap"
	Both        Type = "both"
)

// ParseType parses a scrub type name.
func ParseType(s string) (Type, error) {
	switch Type(s) {
	case Checkpoints, Bitmaps, Both:
		return Type(s), nil
	case "checkpoints":
		return Checkpoints, nil
	case "bitmaps":
		return Bitmaps, nil
	case "", "all":
		return Both, nil
	}
	return "", fmt.Errorf("invalid scrub type %q (want checkpoint, bitmap or both)", s)
}

func (t Type) checkpoints() bool { return t == Checkpoints || t == Both }
func (t Type) bitmaps() bool     { return t == Bitmaps || t == Both }

// Hypervisor is what Scrub needs from the hypervisor adapter.
type Hypervisor interface {
	ListCheckpoints(ctx context.Context, domain string) ([]string, error)
	DeleteCheckpoint(ctx context.Context, domain, id string) error
	ListDisks(ctx context.Context, domain string) (map[string]string, error)
}

// DiskImage is what Scrub needs from the disk-image adapter.
type DiskImage interface {
	ListBitmaps(ctx context.Context, path string) ([]string, error)
	RemoveBitmap(ctx context.Context, path, id string) error
}

// Kind of item a result refers to.
type Kind string

const (
	KindCheckpoint Kind = "checkpoint"
	KindBitmap     Kind = "bitmap"
	// KindDisk marks a disk whose bitmaps could not be listed.
	KindDisk Kind = "disk"
	// KindDomain marks a domain that could not be scrubbed at all.
	KindDomain Kind = "domain"
)

// ItemResult is the outcome for one checkpoint, bitmap or disk.
type ItemResult struct {
	Kind Kind
	Disk string
	ID   string
	Err  error
}

// OK reports whether the item was removed.
func (r ItemResult) OK() bool {
	return r.Err == nil
}

// Report is the fold of every item Scrub attempted for one domain.
type Report struct {
	Domain string
	Items  []ItemResult
}

// Failed returns the items that could not be removed.
func (r Report) Failed() []ItemResult {
	var failed []ItemResult
	for _, it := range r.Items {
		if !it.OK() {
			failed = append(failed, it)
		}
	}
	return failed
}

// Removed counts successful removals of kind.
func (r Report) Removed(kind Kind) int {
	n := 0
	for _, it := range r.Items {
		if it.Kind == kind && it.OK() {
			n++
		}
	}
	return n
}

// Err joins every item failure, or returns nil.
func (r Report) Err() error {
	var errs []error
	for _, it := range r.Failed() {
		errs = append(errs, it.Err)
	}
	return errors.Join(errs...)
}

// Scrubber removes checkpoints and bitmaps.
type Scrubber struct {
	hv  Hypervisor
	img DiskImage
	log zerolog.Logger
}

// New creates a Scrubber.
func New(hv Hypervisor, img DiskImage, log zerolog.Logger) *Scrubber {
	return &Scrubber{
		hv:  hv,
		img: img,
		log: log.With().Str("component", "scrub").Logger(),
	}
}

// Scrub removes what t selects from domain. The returned error is only set
// when nothing could be attempted (the checkpoint or disk listing failed);
// per-item failures are in the Report.
func (s *Scrubber) Scrub(ctx context.Context, domain string, t Type) (Report, error) {
	rep := Report{Domain: domain}
	log := s.log.With().Str("domain", domain).Logger()

	if t.checkpoints() {
		ids, err := s.hv.ListCheckpoints(ctx, domain)
		if err != nil {
			return rep, fmt.Errorf("failed to list checkpoints for %s: %w", domain, err)
		}
		for _, id := range ids {
			err := s.hv.DeleteCheckpoint(ctx, domain, id)
			if err != nil {
				log.Warn().Err(err).Str("checkpoint", id).Msg("failed to delete checkpoint, continuing")
			} else {
				log.Debug().Str("checkpoint", id).Msg("deleted checkpoint")
			}
			rep.Items = append(rep.Items, ItemResult{Kind: KindCheckpoint, ID: id, Err: err})
		}
	}

	if t.bitmaps() {
		disks, err := s.hv.ListDisks(ctx, domain)
		if err != nil {
			return rep, fmt.Errorf("failed to list disks for %s: %w", domain, err)
		}

		aliases := make([]string, 0, len(disks))
		for alias := range disks {
			aliases = append(aliases, alias)
		}
		sort.Strings(aliases)

		for _, alias := range aliases {
			rep.Items = append(rep.Items, s.scrubDisk(ctx, log, alias, disks[alias])...)
		}
	}

	log.Info().
		Int("checkpoints", rep.Removed(KindCheckpoint)).
		Int("bitmaps", rep.Removed(KindBitmap)).
		Int("failed", len(rep.Failed())).
		Msg("scrub finished")
	return rep, nil
}

func (s *Scrubber) scrubDisk(ctx context.Context, log zerolog.Logger, alias, path string) []ItemResult {
	bitmaps, err := s.img.ListBitmaps(ctx, path)
	if err != nil {
		log.Warn().Err(err).Str("disk", alias).Msg("failed to list bitmaps, skipping disk")
		return []ItemResult{{Kind: KindDisk, Disk: alias, ID: path, Err: err}}
	}

	results := make([]ItemResult, 0, len(bitmaps))
	for _, id := range bitmaps {
		err := s.img.RemoveBitmap(ctx, path, id)
		if err != nil {
			log.Warn().Err(err).Str("disk", alias).Str("bitmap", id).Msg("failed to remove bitmap, continuing")
		}
		results = append(results, ItemResult{Kind: KindBitmap, Disk: alias, ID: id, Err: err})
	}
	return results
}
