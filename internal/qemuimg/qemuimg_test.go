package qemuimg

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/blackwell-systems/vmsnap/internal/command"
)

// Test data: qemu-img info --output=json for a qcow2 with two bitmaps
const mockInfoWithBitmaps = `{
    "virtual-size": 21474836480,
    "filename": "/var/lib/libvirt/images/vm1.qcow2",
    "cluster-size": 65536,
    "format": "qcow2",
    "actual-size": 3306192896,
    "format-specific": {
        "type": "qcow2",
        "data": {
            "compat": "1.1",
            "compression-type": "zlib",
            "lazy-refcounts": false,
            "bitmaps": [
                {"flags": ["auto"], "name": "virtnbdbackup.0", "granularity": 65536},
                {"flags": ["auto"], "name": "virtnbdbackup.1", "granularity": 65536}
            ],
            "refcount-bits": 16,
            "corrupt": false,
            "extended-l2": false
        }
    },
    "dirty-flag": false
}`

const mockInfoRaw = `{
    "virtual-size": 1073741824,
    "filename": "disk.raw",
    "format": "raw",
    "actual-size": 0,
    "dirty-flag": false
}`

type fakeRunner struct {
	out   []byte
	err   error
	calls []string
}

func (f *fakeRunner) Output(_ context.Context, name string, args ...string) ([]byte, error) {
	f.calls = append(f.calls, command.Describe(name, args))
	return f.out, f.err
}

func (f *fakeRunner) Stream(context.Context, func(command.Stream, string), string, ...string) (int, error) {
	return 0, nil
}

func TestParseBitmaps(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    []string
		wantErr bool
	}{
		{name: "qcow2 with bitmaps", input: mockInfoWithBitmaps, want: []string{"virtnbdbackup.0", "virtnbdbackup.1"}},
		{name: "raw image", input: mockInfoRaw, want: []string{}},
		{name: "garbage", input: "qemu-img: Could not open", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parseBitmaps([]byte(tt.input))
			if (err != nil) != tt.wantErr {
				t.Fatalf("parseBitmaps() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("parseBitmaps() mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestClient_ListBitmaps(t *testing.T) {
	run := &fakeRunner{out: []byte(mockInfoWithBitmaps)}
	c := New(run, "")

	got, err := c.ListBitmaps(context.Background(), "/img/vm1.qcow2")
	if err != nil {
		t.Fatalf("ListBitmaps() error = %v", err)
	}
	if len(got) != 2 {
		t.Errorf("ListBitmaps() = %v", got)
	}
	if run.calls[0] != "qemu-img info --force-share --output=json /img/vm1.qcow2" {
		t.Errorf("call = %q", run.calls[0])
	}
}

func TestClient_RemoveBitmap(t *testing.T) {
	run := &fakeRunner{}
	c := New(run, "/opt/qemu/bin/qemu-img")

	if err := c.RemoveBitmap(context.Background(), "/img/vm1.qcow2", "virtnbdbackup.0"); err != nil {
		t.Fatalf("RemoveBitmap() error = %v", err)
	}
	if run.calls[0] != "/opt/qemu/bin/qemu-img bitmap --remove /img/vm1.qcow2 virtnbdbackup.0" {
		t.Errorf("call = %q", run.calls[0])
	}

	run.err = errors.New("exit status 1")
	err := c.RemoveBitmap(context.Background(), "/img/vm1.qcow2", "gone")
	if err == nil || !strings.Contains(err.Error(), "gone") {
		t.Errorf("RemoveBitmap() error = %v", err)
	}
}
