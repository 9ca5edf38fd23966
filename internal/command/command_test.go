package command

import (
	"context"
	"errors"
	"os/exec"
	"strings"
	"testing"
	"time"
)

func requireShell(t *testing.T) {
	t.Helper()
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
}

func TestExec_Output(t *testing.T) {
	requireShell(t)
	e := NewExec(5 * time.Second)

	out, err := e.Output(context.Background(), "sh", "-c", "echo hello")
	if err != nil {
		t.Fatalf("Output() error = %v", err)
	}
	if strings.TrimSpace(string(out)) != "hello" {
		t.Errorf("Output() = %q, want hello", out)
	}
}

func TestExec_OutputFailureIncludesStderr(t *testing.T) {
	requireShell(t)
	e := NewExec(5 * time.Second)

	_, err := e.Output(context.Background(), "sh", "-c", "echo broken >&2; exit 3")
	if err == nil {
		t.Fatal("expected error for non-zero exit")
	}
	if !strings.Contains(err.Error(), "broken") {
		t.Errorf("error should include stderr, got %v", err)
	}
}

func TestExec_OutputTimeout(t *testing.T) {
	requireShell(t)
	e := NewExec(50 * time.Millisecond)

	_, err := e.Output(context.Background(), "sh", "-c", "exec sleep 5")
	if err == nil || !strings.Contains(err.Error(), "timed out") {
		t.Errorf("expected timeout error, got %v", err)
	}
}

func TestExec_Stream(t *testing.T) {
	requireShell(t)
	e := &Exec{}

	var stdout, stderr []string
	code, err := e.Stream(context.Background(), func(s Stream, line string) {
		if s == Stderr {
			stderr = append(stderr, line)
			return
		}
		stdout = append(stdout, line)
	}, "sh", "-c", "echo one; echo two; echo warn >&2; exit 2")

	if err != nil {
		t.Fatalf("Stream() error = %v", err)
	}
	if code != 2 {
		t.Errorf("exit code = %d, want 2", code)
	}
	if strings.Join(stdout, ",") != "one,two" {
		t.Errorf("stdout lines = %v", stdout)
	}
	if strings.Join(stderr, ",") != "warn" {
		t.Errorf("stderr lines = %v", stderr)
	}
}

func TestExec_StreamStartFailure(t *testing.T) {
	e := &Exec{}
	code, err := e.Stream(context.Background(), nil, "vmsnap-definitely-not-a-binary")
	if err == nil {
		t.Fatal("expected start error")
	}
	if code != -1 {
		t.Errorf("exit code = %d, want -1", code)
	}
}

func TestRequire(t *testing.T) {
	requireShell(t)

	if err := Require("sh"); err != nil {
		t.Errorf("Require(sh) error = %v", err)
	}

	err := Require("sh", "vmsnap-missing-a", "vmsnap-missing-b")
	if !errors.Is(err, ErrMissingDependency) {
		t.Fatalf("Require() error = %v, want ErrMissingDependency", err)
	}
	if !strings.Contains(err.Error(), "vmsnap-missing-a, vmsnap-missing-b") {
		t.Errorf("error should list all missing tools: %v", err)
	}
}

func TestDescribe(t *testing.T) {
	if got := Describe("virsh", nil); got != "virsh" {
		t.Errorf("Describe() = %q", got)
	}
	if got := Describe("virsh", []string{"list", "--name"}); got != "virsh list --name" {
		t.Errorf("Describe() = %q", got)
	}
}
