package consistency

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/rs/zerolog"

	"github.com/blackwell-systems/vmsnap/internal/dirstats"
	"github.com/blackwell-systems/vmsnap/internal/fsprobe"
	"github.com/blackwell-systems/vmsnap/internal/period"
)

// DefaultMarkerDir is the backup subdirectory holding one file per
// checkpoint.
const DefaultMarkerDir = "checkpoints"

// Hypervisor is the subset of the hypervisor adapter the collector reads.
type Hypervisor interface {
	ListCheckpoints(ctx context.Context, domain string) ([]string, error)
	ListDisks(ctx context.Context, domain string) (map[string]string, error)
}

// DiskImage lists the bitmaps stored in a disk image.
type DiskImage interface {
	ListBitmaps(ctx context.Context, path string) ([]string, error)
}

// Collector gathers the live facts for a domain and evaluates them.
type Collector struct {
	hv        Hypervisor
	img       DiskImage
	fs        fsprobe.FS
	log       zerolog.Logger
	markerDir string
}

// NewCollector creates a Collector.
func NewCollector(hv Hypervisor, img DiskImage, fsys fsprobe.FS, log zerolog.Logger) *Collector {
	if fsys == nil {
		fsys = fsprobe.New()
	}
	return &Collector{
		hv:        hv,
		img:       img,
		fs:        fsys,
		log:       log.With().Str("component", "consistency").Logger(),
		markerDir: DefaultMarkerDir,
	}
}

// SetMarkerDir overrides the marker subdirectory name.
func (c *Collector) SetMarkerDir(name string) {
	if name != "" {
		c.markerDir = name
	}
}

// Status returns the StatusRecord for domain. Disks whose bitmaps cannot be
// listed are logged and left out. When root is non-empty the current
// period's backup directory is also inspected.
func (c *Collector) Status(ctx context.Context, domain, root string, f period.Frequency, at time.Time) (StatusRecord, error) {
	checkpoints, err := c.hv.ListCheckpoints(ctx, domain)
	if err != nil {
		return StatusRecord{}, fmt.Errorf("failed to list checkpoints for %s: %w", domain, err)
	}

	diskMap, err := c.hv.ListDisks(ctx, domain)
	if err != nil {
		return StatusRecord{}, fmt.Errorf("failed to list disks for %s: %w", domain, err)
	}

	aliases := make([]string, 0, len(diskMap))
	for alias := range diskMap {
		aliases = append(aliases, alias)
	}
	sort.Strings(aliases)

	disks := make([]DiskStatus, 0, len(aliases))
	for _, alias := range aliases {
		path := diskMap[alias]
		bitmaps, err := c.img.ListBitmaps(ctx, path)
		if err != nil {
			c.log.Warn().Err(err).Str("domain", domain).Str("disk", alias).Msg("skipping disk, could not list bitmaps")
			continue
		}
		if bitmaps == nil {
			bitmaps = []string{}
		}
		disks = append(disks, DiskStatus{Disk: alias, Path: path, Bitmaps: bitmaps})
	}

	var stats *dirstats.Stats
	if root != "" {
		dir := c.backupDir(domain, root, f, at)
		s, err := dirstats.Collect(c.fs, dir, c.markerDir, c.log)
		if err != nil {
			return StatusRecord{}, fmt.Errorf("failed to collect backup directory stats for %s: %w", domain, err)
		}
		stats = &s
	}

	rec := Evaluate(checkpoints, disks, stats)
	if !rec.Consistent() {
		c.log.Debug().Str("domain", domain).Interface("detail", rec.Detail).Msg("domain inconsistent")
	}
	return rec, nil
}

func (c *Collector) backupDir(domain, root string, f period.Frequency, at time.Time) string {
	current, err := period.Current(f, at)
	if err != nil {
		c.log.Warn().Err(err).Str("domain", domain).Msg("period grouping disabled, inspecting domain directory")
		return filepath.Join(root, domain)
	}
	return filepath.Join(root, domain, current.DirName())
}
