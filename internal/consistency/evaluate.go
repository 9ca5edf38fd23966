// Package consistency cross-checks a domain's checkpoints against the
// bitmaps on its disks and the checkpoint marker files in its backup
// directory.
//
// A mismatch is a health signal reported as INCONSISTENT, never an error.
package consistency

import (
	"github.com/blackwell-systems/vmsnap/internal/dirstats"
)

// Status is the overall verdict for a domain.
type Status string

const (
	OK           Status = "OK"
	Inconsistent Status = "INCONSISTENT"
)

// Sources of a mismatch.
const (
	SourceBitmaps   = "bitmaps"
	SourceBackupDir = "backupDir"
)

// DiskStatus lists the bitmaps found on one disk.
type DiskStatus struct {
	Disk    string   `json:"disk" yaml:"disk"`
	Path    string   `json:"path" yaml:"path"`
	Bitmaps []string `json:"bitmaps" yaml:"bitmaps"`
}

// Mismatch describes the first disagreement found.
type Mismatch struct {
	Source   string `json:"source" yaml:"source"`
	Disk     string `json:"disk,omitempty" yaml:"disk,omitempty"`
	Expected int    `json:"expected" yaml:"expected"`
	Actual   int    `json:"actual" yaml:"actual"`
}

// StatusRecord is the status of one domain.
type StatusRecord struct {
	Checkpoints    []string        `json:"checkpoints" yaml:"checkpoints"`
	Disks          []DiskStatus    `json:"disks" yaml:"disks"`
	OverallStatus  Status          `json:"overallStatus" yaml:"overallStatus"`
	BackupDirStats *dirstats.Stats `json:"backupDirStats,omitempty" yaml:"backupDirStats,omitempty"`
	Detail         *Mismatch       `json:"detail,omitempty" yaml:"detail,omitempty"`
}

// Consistent reports whether r is OK.
func (r StatusRecord) Consistent() bool {
	return r.OverallStatus == OK
}

// Evaluate builds the StatusRecord for a domain.
//
// Each disk must carry exactly as many bitmaps as there are checkpoints;
// comparison stops at the first disk that does not. If stats is non-nil and
// every disk agreed, the number of marker files in the backup directory must
// match as well. A domain with no disks is OK unless the marker check fails.
func Evaluate(checkpoints []string, disks []DiskStatus, stats *dirstats.Stats) StatusRecord {
	if checkpoints == nil {
		checkpoints = []string{}
	}
	if disks == nil {
		disks = []DiskStatus{}
	}

	rec := StatusRecord{
		Checkpoints:    checkpoints,
		Disks:          disks,
		OverallStatus:  OK,
		BackupDirStats: stats,
	}

	want := len(checkpoints)

	for _, d := range disks {
		if len(d.Bitmaps) != want {
			rec.OverallStatus = Inconsistent
			rec.Detail = &Mismatch{
				Source:   SourceBitmaps,
				Disk:     d.Disk,
				Expected: want,
				Actual:   len(d.Bitmaps),
			}
			return rec
		}
	}

	if stats != nil && stats.MarkerFiles != want {
		rec.OverallStatus = Inconsistent
		rec.Detail = &Mismatch{
			Source:   SourceBackupDir,
			Expected: want,
			Actual:   stats.MarkerFiles,
		}
	}

	return rec
}
