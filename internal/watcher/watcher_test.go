package watcher

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/blackwell-systems/vmsnap/internal/dirstats"
	"github.com/blackwell-systems/vmsnap/internal/fsprobe"
)

func newTestWatcher(roots ...string) *Watcher {
	w := New(fsprobe.New(), zerolog.New(&bytes.Buffer{}), roots...)
	w.Debounce = 50 * time.Millisecond
	return w
}

// runWatcher starts w and returns a channel receiving one value per
// callback, plus a stop function that waits for Run to return.
func runWatcher(t *testing.T, w *Watcher) (<-chan struct{}, func() error) {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	calls := make(chan struct{}, 16)
	errCh := make(chan error, 1)
	go func() {
		errCh <- w.Run(ctx, func() { calls <- struct{}{} })
	}()

	// Give the watcher time to register its directories.
	time.Sleep(100 * time.Millisecond)

	return calls, func() error {
		cancel()
		return <-errCh
	}
}

func waitCall(t *testing.T, calls <-chan struct{}) {
	t.Helper()
	select {
	case <-calls:
	case <-time.After(3 * time.Second):
		t.Fatal("onChange was not called")
	}
}

func TestRun_DebouncesBurst(t *testing.T) {
	root := t.TempDir()
	w := newTestWatcher(root)

	var count atomic.Int32
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- w.Run(ctx, func() { count.Add(1) })
	}()
	time.Sleep(100 * time.Millisecond)

	for i := 0; i < 10; i++ {
		path := filepath.Join(root, "f"+string(rune('a'+i)))
		if err := os.WriteFile(path, []byte("x"), 0644); err != nil {
			t.Fatal(err)
		}
	}

	time.Sleep(400 * time.Millisecond)
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if got := count.Load(); got != 1 {
		t.Errorf("onChange called %d times, want 1", got)
	}
}

func TestRun_WatchesNestedAndNewDirectories(t *testing.T) {
	root := t.TempDir()
	nested := filepath.Join(root, "vm1", "vmsnap-backup-monthly-2024-03")
	if err := os.MkdirAll(nested, 0755); err != nil {
		t.Fatal(err)
	}

	w := newTestWatcher(root)
	calls, stop := runWatcher(t, w)

	if err := os.WriteFile(filepath.Join(nested, "vda.full.data"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	waitCall(t, calls)

	markers := filepath.Join(nested, "checkpoints")
	if err := os.Mkdir(markers, 0755); err != nil {
		t.Fatal(err)
	}
	waitCall(t, calls)

	// Give the new directory's watch time to register.
	time.Sleep(100 * time.Millisecond)
	if err := os.WriteFile(filepath.Join(markers, "virtnbdbackup.0.xml"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	waitCall(t, calls)

	if err := stop(); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
}

func TestRun_NothingToWatch(t *testing.T) {
	w := newTestWatcher(filepath.Join(t.TempDir(), "missing"))
	err := w.Run(context.Background(), func() {})
	if !errors.Is(err, ErrNothingToWatch) {
		t.Errorf("Run() error = %v, want ErrNothingToWatch", err)
	}
}

func TestRun_SkipsMissingRoot(t *testing.T) {
	root := t.TempDir()
	w := newTestWatcher(filepath.Join(t.TempDir(), "missing"), root)
	calls, stop := runWatcher(t, w)

	if err := os.WriteFile(filepath.Join(root, "f"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	waitCall(t, calls)

	if err := stop(); err != nil {
		t.Fatalf("Run() error = %v", err)
	}
}

func TestRun_SymlinkLoop(t *testing.T) {
	root := t.TempDir()
	if err := os.Symlink(root, filepath.Join(root, "loop")); err != nil {
		t.Skipf("symlinks unsupported: %v", err)
	}

	w := newTestWatcher(root)
	err := w.Run(context.Background(), func() {})
	if !errors.Is(err, dirstats.ErrMaxDepthExceeded) {
		t.Errorf("Run() error = %v, want ErrMaxDepthExceeded", err)
	}
}
