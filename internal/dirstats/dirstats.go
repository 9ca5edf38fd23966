// Package dirstats summarizes a domain's backup directory: how many files it
// holds, how many bytes, and how many checkpoint marker files.
package dirstats

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/blackwell-systems/vmsnap/internal/fsprobe"
)

// MaxDepth bounds how deep Collect descends below the root directory.
const MaxDepth = 10

// ErrMaxDepthExceeded is returned when a tree is deeper than MaxDepth,
// which in practice means a symlink cycle.
var ErrMaxDepthExceeded = errors.New("maximum directory depth exceeded")

// Stats is a point-in-time summary of one backup directory.
type Stats struct {
	Path        string `json:"path" yaml:"path"`
	TotalFiles  int    `json:"totalFiles" yaml:"totalFiles"`
	TotalSize   int64  `json:"totalSize" yaml:"totalSize"`
	MarkerFiles int    `json:"checkpoints" yaml:"checkpoints"`
}

// Collect walks path and returns its stats. Files directly inside the
// markerDir subdirectory are counted as markers and seed the totals; the
// rest of the tree is added by a recursive walk.
//
// A missing path returns zeroed stats and no error. Entries that vanish or
// point nowhere, such as dangling symlinks, are skipped.
func Collect(fsys fsprobe.FS, path, markerDir string, log zerolog.Logger) (Stats, error) {
	stats := Stats{Path: path}

	exists, err := fsys.Exists(path)
	if err != nil {
		return stats, fmt.Errorf("failed to check %s: %w", path, err)
	}
	if !exists {
		return stats, nil
	}

	if markerDir != "" {
		if err := countMarkers(fsys, filepath.Join(path, markerDir), &stats, log); err != nil {
			return Stats{Path: path}, err
		}
	}

	if err := walk(fsys, path, markerDir, 0, &stats, log); err != nil {
		return Stats{Path: path}, err
	}

	return stats, nil
}

func countMarkers(fsys fsprobe.FS, dir string, stats *Stats, log zerolog.Logger) error {
	exists, err := fsys.Exists(dir)
	if err != nil {
		return fmt.Errorf("failed to check %s: %w", dir, err)
	}
	if !exists {
		return nil
	}

	entries, err := fsys.ListDir(dir)
	if err != nil {
		return fmt.Errorf("failed to list %s: %w", dir, err)
	}

	for _, e := range entries {
		if e.IsDir {
			continue
		}
		full := filepath.Join(dir, e.Name)
		info, ok, err := statFile(fsys, full, log)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		stats.MarkerFiles++
		stats.TotalFiles++
		stats.TotalSize += info.Size
	}

	return nil
}

// walk adds every file below dir to stats. The top-level directory named
// skip has already been counted by countMarkers.
func walk(fsys fsprobe.FS, dir, skip string, depth int, stats *Stats, log zerolog.Logger) error {
	if depth > MaxDepth {
		return fmt.Errorf("%w (%d) at %s", ErrMaxDepthExceeded, MaxDepth, dir)
	}

	entries, err := fsys.ListDir(dir)
	if err != nil {
		return fmt.Errorf("failed to list %s: %w", dir, err)
	}

	for _, e := range entries {
		full := filepath.Join(dir, e.Name)

		if e.IsDir {
			if depth == 0 && skip != "" && e.Name == skip {
				continue
			}
			if err := walk(fsys, full, skip, depth+1, stats, log); err != nil {
				return err
			}
			continue
		}

		info, ok, err := statFile(fsys, full, log)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		stats.TotalFiles++
		stats.TotalSize += info.Size
	}

	return nil
}

// statFile stats path. ok is false when the entry no longer resolves.
func statFile(fsys fsprobe.FS, path string, log zerolog.Logger) (fsprobe.FileInfo, bool, error) {
	info, err := fsys.Stat(path)
	if errors.Is(err, fs.ErrNotExist) {
		log.Debug().Str("path", path).Msg("skipping unresolvable entry")
		return fsprobe.FileInfo{}, false, nil
	}
	if err != nil {
		return fsprobe.FileInfo{}, false, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	return info, true, nil
}
