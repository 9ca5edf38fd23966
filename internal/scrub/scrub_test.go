package scrub

import (
	"context"
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/rs/zerolog"
)

type fakeHV struct {
	checkpoints []string
	disks       map[string]string
	failDelete  map[string]bool
	listErr     error
	deleted     []string
}

func (f *fakeHV) ListCheckpoints(context.Context, string) ([]string, error) {
	return f.checkpoints, f.listErr
}

func (f *fakeHV) DeleteCheckpoint(_ context.Context, _ string, id string) error {
	if f.failDelete[id] {
		return errors.New("checkpoint in use")
	}
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeHV) ListDisks(context.Context, string) (map[string]string, error) {
	return f.disks, nil
}

type fakeImg struct {
	bitmaps  map[string][]string
	failList map[string]bool
	removed  []string
}

func (f *fakeImg) ListBitmaps(_ context.Context, path string) ([]string, error) {
	if f.failList[path] {
		return nil, errors.New("could not open image")
	}
	return f.bitmaps[path], nil
}

func (f *fakeImg) RemoveBitmap(_ context.Context, path, id string) error {
	f.removed = append(f.removed, path+":"+id)
	return nil
}

func TestParseType(t *testing.T) {
	for in, want := range map[string]Type{
		"checkpoint": Checkpoints, "checkpoints": Checkpoints,
		"bitmap": Bitmaps, "bitmaps": Bitmaps,
		"both": Both, "": Both, "all": Both,
	} {
		got, err := ParseType(in)
		if err != nil || got != want {
			t.Errorf("ParseType(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	if _, err := ParseType("disks"); err == nil {
		t.Error("ParseType(disks) should fail")
	}
}

func TestScrub_Both(t *testing.T) {
	hv := &fakeHV{
		checkpoints: []string{"c0", "c1"},
		disks:       map[string]string{"vdb": "/img/b", "vda": "/img/a"},
	}
	img := &fakeImg{bitmaps: map[string][]string{
		"/img/a": {"c0", "c1"},
		"/img/b": {"c0"},
	}}

	rep, err := New(hv, img, zerolog.Nop()).Scrub(context.Background(), "vm1", Both)
	if err != nil {
		t.Fatalf("Scrub() error = %v", err)
	}
	if len(rep.Failed()) != 0 || rep.Err() != nil {
		t.Errorf("unexpected failures: %+v", rep.Failed())
	}
	if rep.Removed(KindCheckpoint) != 2 || rep.Removed(KindBitmap) != 3 {
		t.Errorf("Removed = %d checkpoints, %d bitmaps", rep.Removed(KindCheckpoint), rep.Removed(KindBitmap))
	}
	if diff := cmp.Diff([]string{"/img/a:c0", "/img/a:c1", "/img/b:c0"}, img.removed); diff != "" {
		t.Errorf("removed order mismatch (-want +got):\n%s", diff)
	}
}

func TestScrub_ContinuesPastFailures(t *testing.T) {
	hv := &fakeHV{
		checkpoints: []string{"c0", "c1", "c2"},
		failDelete:  map[string]bool{"c1": true},
		disks:       map[string]string{"vda": "/img/a", "vdb": "/img/broken"},
	}
	img := &fakeImg{
		bitmaps:  map[string][]string{"/img/a": {"c0"}},
		failList: map[string]bool{"/img/broken": true},
	}

	rep, err := New(hv, img, zerolog.Nop()).Scrub(context.Background(), "vm1", Both)
	if err != nil {
		t.Fatalf("Scrub() error = %v", err)
	}

	if diff := cmp.Diff([]string{"c0", "c2"}, hv.deleted); diff != "" {
		t.Errorf("deleted mismatch (-want +got):\n%s", diff)
	}

	failed := rep.Failed()
	if len(failed) != 2 {
		t.Fatalf("Failed() = %+v, want 2 items", failed)
	}
	if failed[0].Kind != KindCheckpoint || failed[0].ID != "c1" {
		t.Errorf("first failure = %+v", failed[0])
	}
	if failed[1].Kind != KindDisk || failed[1].Disk != "vdb" {
		t.Errorf("second failure = %+v", failed[1])
	}
	if rep.Err() == nil {
		t.Error("Err() should join failures")
	}
}

func TestScrub_OnlySelectedType(t *testing.T) {
	hv := &fakeHV{checkpoints: []string{"c0"}, disks: map[string]string{"vda": "/img/a"}}
	img := &fakeImg{bitmaps: map[string][]string{"/img/a": {"c0"}}}

	rep, err := New(hv, img, zerolog.Nop()).Scrub(context.Background(), "vm1", Bitmaps)
	if err != nil {
		t.Fatal(err)
	}
	if len(hv.deleted) != 0 {
		t.Errorf("checkpoints deleted during bitmap scrub: %v", hv.deleted)
	}
	if rep.Removed(KindBitmap) != 1 {
		t.Errorf("Removed(bitmap) = %d", rep.Removed(KindBitmap))
	}
}

func TestScrub_ListFailureIsError(t *testing.T) {
	hv := &fakeHV{listErr: errors.New("domain not found")}
	_, err := New(hv, &fakeImg{}, zerolog.Nop()).Scrub(context.Background(), "vm1", Checkpoints)
	if err == nil {
		t.Error("expected error when checkpoints cannot be listed")
	}
}
