package consistency

import (
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/blackwell-systems/vmsnap/internal/dirstats"
)

func TestEvaluate(t *testing.T) {
	tests := []struct {
		name        string
		checkpoints []string
		disks       []DiskStatus
		stats       *dirstats.Stats
		want        Status
		detail      *Mismatch
	}{
		{
			name:        "bitmaps match checkpoints",
			checkpoints: []string{"a", "b"},
			disks:       []DiskStatus{{Disk: "sda", Bitmaps: []string{"x", "y"}}},
			want:        OK,
		},
		{
			name:        "disk missing a bitmap",
			checkpoints: []string{"a", "b"},
			disks:       []DiskStatus{{Disk: "sda", Bitmaps: []string{"x"}}},
			want:        Inconsistent,
			detail:      &Mismatch{Source: SourceBitmaps, Disk: "sda", Expected: 2, Actual: 1},
		},
		{
			name:        "zero disks",
			checkpoints: []string{"a"},
			want:        OK,
		},
		{
			name:        "first mismatching disk is reported",
			checkpoints: []string{"a"},
			disks: []DiskStatus{
				{Disk: "sda", Bitmaps: []string{"x"}},
				{Disk: "sdb", Bitmaps: nil},
				{Disk: "sdc", Bitmaps: []string{"x", "y", "z"}},
			},
			want:   Inconsistent,
			detail: &Mismatch{Source: SourceBitmaps, Disk: "sdb", Expected: 1, Actual: 0},
		},
		{
			name:        "marker files agree",
			checkpoints: []string{"a", "b"},
			disks:       []DiskStatus{{Disk: "sda", Bitmaps: []string{"x", "y"}}},
			stats:       &dirstats.Stats{Path: "/b", MarkerFiles: 2},
			want:        OK,
		},
		{
			name:        "marker files disagree",
			checkpoints: []string{"a", "b"},
			disks:       []DiskStatus{{Disk: "sda", Bitmaps: []string{"x", "y"}}},
			stats:       &dirstats.Stats{Path: "/b", MarkerFiles: 1},
			want:        Inconsistent,
			detail:      &Mismatch{Source: SourceBackupDir, Expected: 2, Actual: 1},
		},
		{
			name:        "bitmap mismatch wins over marker mismatch",
			checkpoints: []string{"a", "b"},
			disks:       []DiskStatus{{Disk: "vda", Bitmaps: []string{}}},
			stats:       &dirstats.Stats{MarkerFiles: 5},
			want:        Inconsistent,
			detail:      &Mismatch{Source: SourceBitmaps, Disk: "vda", Expected: 2, Actual: 0},
		},
		{
			name:   "zero disks with markers but no checkpoints",
			stats:  &dirstats.Stats{MarkerFiles: 1},
			want:   Inconsistent,
			detail: &Mismatch{Source: SourceBackupDir, Expected: 0, Actual: 1},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Evaluate(tt.checkpoints, tt.disks, tt.stats)
			if got.OverallStatus != tt.want {
				t.Errorf("OverallStatus = %s, want %s", got.OverallStatus, tt.want)
			}
			if diff := cmp.Diff(tt.detail, got.Detail); diff != "" {
				t.Errorf("Detail mismatch (-want +got):\n%s", diff)
			}
			if got.BackupDirStats != tt.stats {
				t.Errorf("BackupDirStats not carried through")
			}
		})
	}
}

func TestEvaluate_NilSlicesBecomeEmpty(t *testing.T) {
	got := Evaluate(nil, nil, nil)
	if got.Checkpoints == nil || got.Disks == nil {
		t.Errorf("expected empty, non-nil slices: %+v", got)
	}
	if !got.Consistent() {
		t.Errorf("empty domain should be consistent")
	}
}
