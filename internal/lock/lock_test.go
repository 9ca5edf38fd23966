package lock

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"
)

func fastOptions(retries int) Options {
	o := DefaultOptions()
	o.Retries = retries
	o.Delay = 10 * time.Millisecond
	return o
}

func TestAcquireRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vmsnap.lock")

	l, err := Acquire(context.Background(), path, fastOptions(0))
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read lock file: %v", err)
	}
	if strings.TrimSpace(string(data)) != strconv.Itoa(os.Getpid()) {
		t.Errorf("lock file = %q, want our PID", data)
	}

	if err := l.Release(); err != nil {
		t.Fatalf("Release() error = %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Errorf("lock file still present after Release")
	}
	if err := l.Release(); !errors.Is(err, ErrReleased) {
		t.Errorf("second Release() error = %v, want ErrReleased", err)
	}
}

func TestAcquire_HeldByLiveProcess(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vmsnap.lock")

	held, err := Acquire(context.Background(), path, fastOptions(0))
	if err != nil {
		t.Fatal(err)
	}
	defer held.Release()

	start := time.Now()
	_, err = Acquire(context.Background(), path, fastOptions(3))
	if !errors.Is(err, ErrLocked) {
		t.Fatalf("Acquire() error = %v, want ErrLocked", err)
	}
	if !strings.Contains(err.Error(), "4 attempts") {
		t.Errorf("error should report attempts: %v", err)
	}
	if elapsed := time.Since(start); elapsed < 30*time.Millisecond {
		t.Errorf("expected three retry delays, returned after %s", elapsed)
	}
}

func TestAcquire_WaitsForRelease(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vmsnap.lock")

	held, err := Acquire(context.Background(), path, fastOptions(0))
	if err != nil {
		t.Fatal(err)
	}
	go func() {
		time.Sleep(30 * time.Millisecond)
		held.Release()
	}()

	l, err := Acquire(context.Background(), path, fastOptions(50))
	if err != nil {
		t.Fatalf("Acquire() error = %v", err)
	}
	l.Release()
}

func TestAcquire_RemovesStaleLock(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vmsnap.lock")
	// Far above any real pid_max.
	if err := os.WriteFile(path, []byte(fmt.Sprintf("%d\n", 99999999)), 0644); err != nil {
		t.Fatal(err)
	}

	l, err := Acquire(context.Background(), path, fastOptions(0))
	if err != nil {
		t.Fatalf("Acquire() over stale lock error = %v", err)
	}
	defer l.Release()
}

func TestAcquire_GarbageLockIsNotStale(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vmsnap.lock")
	if err := os.WriteFile(path, []byte("not-a-pid"), 0644); err != nil {
		t.Fatal(err)
	}

	_, err := Acquire(context.Background(), path, fastOptions(1))
	if !errors.Is(err, ErrLocked) {
		t.Errorf("Acquire() error = %v, want ErrLocked", err)
	}
}

func TestAcquire_ContextCancelled(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vmsnap.lock")
	held, err := Acquire(context.Background(), path, fastOptions(0))
	if err != nil {
		t.Fatal(err)
	}
	defer held.Release()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = Acquire(ctx, path, fastOptions(5))
	if !errors.Is(err, context.Canceled) || !errors.Is(err, ErrAcquire) {
		t.Errorf("Acquire() error = %v, want ErrAcquire wrapping context.Canceled", err)
	}
}

func TestAcquire_MissingDirectory(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing-dir", "vmsnap.lock")

	_, err := Acquire(context.Background(), path, fastOptions(3))
	if !errors.Is(err, ErrAcquire) {
		t.Fatalf("Acquire() error = %v, want ErrAcquire", err)
	}
	if !errors.Is(err, os.ErrNotExist) {
		t.Errorf("Acquire() error = %v, should wrap the create error", err)
	}
	if errors.Is(err, ErrLocked) {
		t.Error("a create failure is not contention")
	}
}

func TestRelease_MissingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "vmsnap.lock")
	l, err := Acquire(context.Background(), path, fastOptions(0))
	if err != nil {
		t.Fatal(err)
	}
	os.Remove(path)

	if err := l.Release(); err == nil || errors.Is(err, ErrReleased) {
		t.Errorf("Release() of removed file error = %v, want removal error", err)
	}
}
