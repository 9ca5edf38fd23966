// Package watcher re-runs a callback whenever a backup tree changes.
//
// fsnotify watches are not recursive, so every directory below each root is
// registered up front and directories created later are added as they
// appear. Bursts of events, such as a backup writing dozens of files, are
// collapsed into a single callback once the tree has been quiet for the
// debounce window.
package watcher

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"

	"github.com/blackwell-systems/vmsnap/internal/dirstats"
	"github.com/blackwell-systems/vmsnap/internal/fsprobe"
)

// DefaultDebounce is how long the tree must be quiet before onChange runs.
const DefaultDebounce = 2 * time.Second

// ErrNothingToWatch is returned by Run when none of the roots exist.
var ErrNothingToWatch = errors.New("no watchable directories")

// Watcher observes one or more backup roots.
type Watcher struct {
	roots    []string
	fs       fsprobe.FS
	log      zerolog.Logger
	Debounce time.Duration
}

// New creates a watcher for roots.
func New(fsys fsprobe.FS, log zerolog.Logger, roots ...string) *Watcher {
	return &Watcher{
		roots:    roots,
		fs:       fsys,
		log:      log,
		Debounce: DefaultDebounce,
	}
}

// Run blocks until ctx is cancelled, calling onChange after each quiet
// period that followed at least one filesystem event. onChange runs on the
// Run goroutine, so events arriving while it works are coalesced.
func (w *Watcher) Run(ctx context.Context, onChange func()) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer fw.Close()

	watched := 0
	for _, root := range w.roots {
		n, err := w.addTree(fw, root, 0)
		if err != nil {
			return err
		}
		if n == 0 {
			w.log.Warn().Str("path", root).Msg("backup root does not exist, not watching it")
		}
		watched += n
	}
	if watched == 0 {
		return ErrNothingToWatch
	}
	w.log.Debug().Int("dirs", watched).Msg("watching backup tree")

	timer := time.NewTimer(w.Debounce)
	timer.Stop()
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			w.log.Trace().Str("name", ev.Name).Str("op", ev.Op.String()).Msg("event")

			if ev.Has(fsnotify.Create) {
				if info, err := w.fs.Stat(ev.Name); err == nil && info.IsDir {
					if _, err := w.addTree(fw, ev.Name, 0); err != nil {
						w.log.Warn().Err(err).Str("path", ev.Name).Msg("failed to watch new directory")
					}
				}
			}
			timer.Reset(w.Debounce)

		case <-timer.C:
			onChange()

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn().Err(err).Msg("watch error")
		}
	}
}

// addTree registers dir and its subdirectories, returning how many were
// added. A missing dir adds nothing.
func (w *Watcher) addTree(fw *fsnotify.Watcher, dir string, depth int) (int, error) {
	if depth > dirstats.MaxDepth {
		return 0, fmt.Errorf("%s: %w", dir, dirstats.ErrMaxDepthExceeded)
	}

	exists, err := w.fs.Exists(dir)
	if err != nil {
		return 0, fmt.Errorf("failed to check %s: %w", dir, err)
	}
	if !exists {
		return 0, nil
	}

	if err := fw.Add(dir); err != nil {
		return 0, fmt.Errorf("failed to watch %s: %w", dir, err)
	}
	n := 1

	entries, err := w.fs.ListDir(dir)
	if err != nil {
		return n, fmt.Errorf("failed to list %s: %w", dir, err)
	}
	for _, e := range entries {
		if !e.IsDir {
			continue
		}
		added, err := w.addTree(fw, filepath.Join(dir, e.Name), depth+1)
		n += added
		if err != nil {
			return n, err
		}
	}
	return n, nil
}
