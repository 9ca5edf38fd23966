// Package command runs the external tools vmsnap wraps.
package command

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"
)

// ErrMissingDependency is returned when a required tool is not on PATH.
var ErrMissingDependency = errors.New("missing dependency")

// Runner executes external commands.
type Runner interface {
	// Output runs name with args and returns its stdout. A non-zero exit is
	// an error that carries stderr.
	Output(ctx context.Context, name string, args ...string) ([]byte, error)

	// Stream runs name with args, passing each output line to onLine as it
	// arrives, and returns the exit code. err is only set when the process
	// could not be started or waited for.
	Stream(ctx context.Context, onLine func(stream Stream, line string), name string, args ...string) (exitCode int, err error)
}

// Stream identifies which output a streamed line came from.
type Stream int

const (
	Stdout Stream = iota
	Stderr
)

func (s Stream) String() string {
	if s == Stderr {
		return "stderr"
	}
	return "stdout"
}

// Exec runs commands with os/exec.
type Exec struct {
	// Timeout bounds each Output call. Zero means no limit.
	Timeout time.Duration

	// StreamTimeout bounds each Stream call. Zero means no limit.
	StreamTimeout time.Duration
}

// NewExec returns an Exec that bounds short calls by timeout.
func NewExec(timeout time.Duration) *Exec {
	return &Exec{Timeout: timeout}
}

// Output implements Runner.
func (e *Exec) Output(ctx context.Context, name string, args ...string) ([]byte, error) {
	if e.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.Timeout)
		defer cancel()
	}

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, name, args...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = time.Second

	if err := cmd.Run(); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%s timed out after %s", Describe(name, args), e.Timeout)
		}
		return nil, fmt.Errorf("%s failed: %w (stderr: %s)", Describe(name, args), err, strings.TrimSpace(stderr.String()))
	}
	return stdout.Bytes(), nil
}

// Stream implements Runner.
func (e *Exec) Stream(ctx context.Context, onLine func(Stream, string), name string, args ...string) (int, error) {
	if e.StreamTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.StreamTimeout)
		defer cancel()
	}

	cmd := exec.CommandContext(ctx, name, args...)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return -1, fmt.Errorf("failed to attach stdout: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return -1, fmt.Errorf("failed to attach stderr: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return -1, fmt.Errorf("failed to start %s: %w", name, err)
	}

	// onLine is called from two goroutines; serialize it.
	var mu sync.Mutex
	emit := func(s Stream, line string) {
		mu.Lock()
		defer mu.Unlock()
		if onLine != nil {
			onLine(s, line)
		}
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		scanLines(stdout, Stdout, emit)
	}()
	go func() {
		defer wg.Done()
		scanLines(stderr, Stderr, emit)
	}()
	wg.Wait()

	err = cmd.Wait()
	if err == nil {
		return 0, nil
	}
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	return -1, fmt.Errorf("failed waiting for %s: %w", name, err)
}

func scanLines(r io.Reader, s Stream, emit func(Stream, string)) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	for scanner.Scan() {
		emit(s, scanner.Text())
	}
	// Drain on scanner error so the child never blocks on a full pipe.
	_, _ = io.Copy(io.Discard, r)
}

// Require checks that every named tool is on PATH. All missing tools are
// reported in one error wrapping ErrMissingDependency.
func Require(names ...string) error {
	var missing []string
	for _, name := range names {
		if _, err := exec.LookPath(name); err != nil {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: %s not found in PATH", ErrMissingDependency, strings.Join(missing, ", "))
	}
	return nil
}

// Describe renders a command line for logs and errors.
func Describe(name string, args []string) string {
	if len(args) == 0 {
		return name
	}
	return name + " " + strings.Join(args, " ")
}
