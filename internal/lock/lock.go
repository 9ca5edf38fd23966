// Package lock provides the cross-process mutual-exclusion lock that guards
// a whole vmsnap invocation.
//
// The lock is a file created with O_EXCL holding the owner's PID. A lock file
// whose PID no longer runs is considered stale and is removed once.
package lock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"
)

var (
	// ErrLocked is returned when the lock is still held after every retry.
	ErrLocked = errors.New("lock is held by another process")

	// ErrAcquire is returned when acquisition fails for any reason other
	// than contention, such as an unwritable directory or cancellation.
	ErrAcquire = errors.New("failed to acquire lock")

	// ErrReleased is returned by a second Release.
	ErrReleased = errors.New("lock already released")
)

// DefaultPath is used when no lock path is configured.
const DefaultPath = "/tmp/vmsnap.lock"

// Options controls acquisition.
type Options struct {
	// Retries is how many more attempts follow the first one.
	Retries int
	// Delay is the fixed wait between attempts.
	Delay time.Duration
	Log   zerolog.Logger
}

// DefaultOptions returns 10 retries, 2 seconds apart.
func DefaultOptions() Options {
	return Options{Retries: 10, Delay: 2 * time.Second, Log: zerolog.Nop()}
}

// Lock is a held lock file.
type Lock struct {
	path     string
	mu       sync.Mutex
	released bool
}

// Path returns the lock file path.
func (l *Lock) Path() string {
	return l.path
}

// Acquire takes the lock at path, retrying while another live process
// holds it.
func Acquire(ctx context.Context, path string, opts Options) (*Lock, error) {
	if path == "" {
		path = DefaultPath
	}
	if opts.Retries < 0 {
		opts.Retries = 0
	}

	staleChecked := false
	for attempt := 0; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %s: %w", ErrAcquire, path, err)
		}

		err := tryCreate(path)
		if err == nil {
			opts.Log.Debug().Str("path", path).Int("attempt", attempt+1).Msg("lock acquired")
			return &Lock{path: path}, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("%w: cannot create %s: %w", ErrAcquire, path, err)
		}

		if !staleChecked {
			staleChecked = true
			if pid, stale := staleOwner(path); stale {
				opts.Log.Warn().Str("path", path).Int("pid", pid).Msg("removing stale lock")
				if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
					return nil, fmt.Errorf("%w: cannot remove stale lock %s: %w", ErrAcquire, path, err)
				}
				continue
			}
		}

		if attempt >= opts.Retries {
			return nil, fmt.Errorf("%w: %s after %d attempts", ErrLocked, path, attempt+1)
		}

		opts.Log.Info().Str("path", path).Int("attempt", attempt+1).Dur("retry_in", opts.Delay).Msg("lock busy, waiting")
		if !sleep(ctx, opts.Delay) {
			return nil, fmt.Errorf("%w: %s: %w", ErrAcquire, path, ctx.Err())
		}
	}
}

// Release removes the lock file. It may only be called once.
func (l *Lock) Release() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.released {
		return ErrReleased
	}
	l.released = true

	if err := os.Remove(l.path); err != nil {
		return fmt.Errorf("failed to remove lock file %s: %w", l.path, err)
	}
	return nil
}

func tryCreate(path string) error {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	if _, err := fmt.Fprintf(f, "%d\n", os.Getpid()); err != nil {
		f.Close()
		os.Remove(path)
		return err
	}
	return f.Close()
}

// staleOwner reports whether the lock at path belongs to a process that no
// longer runs. Unreadable or half-written files are never stale.
func staleOwner(path string) (int, bool) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, false
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || pid <= 0 {
		return 0, false
	}
	return pid, !processAlive(pid)
}

func processAlive(pid int) bool {
	process, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = process.Signal(syscall.Signal(0))
	if err == nil {
		return true
	}
	// Owned by another user, but running.
	return errors.Is(err, syscall.EPERM)
}

func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
