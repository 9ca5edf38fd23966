// Package period maps a point in time to the backup period bucket it falls in.
//
// A bucket is a small value (frequency, year, sub-period index). It is only
// turned into a string at the edges, when naming directories or printing.
package period

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Frequency is how often a new backup period starts.
type Frequency int

const (
	Invalid Frequency = iota
	Month
	Quarter
	BiAnnual
	Year
)

// DirPrefix is prepended to every bucket directory name.
const DirPrefix = "vmsnap-backup-"

// halfSplitDay is the day of year on which the second half of a year begins.
const halfSplitDay = 180

// ErrInvalidFrequency is returned for frequencies outside the known set.
var ErrInvalidFrequency = errors.New("invalid frequency")

// Frequencies returns every valid frequency in ascending period length.
func Frequencies() []Frequency {
	return []Frequency{Month, Quarter, BiAnnual, Year}
}

// ParseFrequency parses a user-supplied frequency name.
// Unknown names return Invalid and ErrInvalidFrequency.
func ParseFrequency(s string) (Frequency, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "month", "monthly":
		return Month, nil
	case "quarter", "quarterly":
		return Quarter, nil
	case "bi-annual", "bi-annually", "biannual", "semiannual":
		return BiAnnual, nil
	case "year", "yearly", "annual":
		return Year, nil
	}
	return Invalid, fmt.Errorf("%w: %q", ErrInvalidFrequency, s)
}

// Valid reports whether f is one of the known frequencies.
func (f Frequency) Valid() bool {
	return f >= Month && f <= Year
}

func (f Frequency) String() string {
	switch f {
	case Month:
		return "month"
	case Quarter:
		return "quarter"
	case BiAnnual:
		return "bi-annual"
	case Year:
		return "year"
	}
	return "invalid"
}

// Name is the adjective used inside bucket directory names.
func (f Frequency) Name() string {
	switch f {
	case Month:
		return "monthly"
	case Quarter:
		return "quarterly"
	case BiAnnual:
		return "bi-annually"
	case Year:
		return "yearly"
	}
	return "invalid"
}

// PruneThresholdDays is how far into a new period (in days) the previous
// period's backups become eligible for pruning. Zero for invalid frequencies.
func (f Frequency) PruneThresholdDays() int {
	switch f {
	case Month:
		return 15
	case Quarter:
		return 45
	case BiAnnual:
		return 90
	case Year:
		return 180
	}
	return 0
}

// Bucket identifies one backup period.
// Index is the month (1-12), quarter (1-4) or half (1-2); it is 0 for years.
type Bucket struct {
	Frequency Frequency
	Year      int
	Index     int
}

// Resolve returns the bucket containing at, or the one immediately before it
// when previous is set.
func Resolve(f Frequency, at time.Time, previous bool) (Bucket, error) {
	b, err := Current(f, at)
	if err != nil {
		return Bucket{}, err
	}
	if previous {
		return b.Previous(), nil
	}
	return b, nil
}

// Current returns the bucket containing at.
func Current(f Frequency, at time.Time) (Bucket, error) {
	year := at.Year()

	switch f {
	case Month:
		return Bucket{Frequency: f, Year: year, Index: int(at.Month())}, nil
	case Quarter:
		return Bucket{Frequency: f, Year: year, Index: (int(at.Month()) + 2) / 3}, nil
	case BiAnnual:
		half := 1
		if at.YearDay() >= halfSplitDay {
			half = 2
		}
		return Bucket{Frequency: f, Year: year, Index: half}, nil
	case Year:
		return Bucket{Frequency: f, Year: year}, nil
	}

	return Bucket{}, fmt.Errorf("%w: %d", ErrInvalidFrequency, int(f))
}

// Previous returns the bucket immediately before b, rolling over the year
// where needed.
func (b Bucket) Previous() Bucket {
	switch b.Frequency {
	case Month:
		return b.stepBack(12)
	case Quarter:
		return b.stepBack(4)
	case BiAnnual:
		return b.stepBack(2)
	case Year:
		return Bucket{Frequency: b.Frequency, Year: b.Year - 1}
	}
	return b
}

func (b Bucket) stepBack(perYear int) Bucket {
	if b.Index <= 1 {
		return Bucket{Frequency: b.Frequency, Year: b.Year - 1, Index: perYear}
	}
	return Bucket{Frequency: b.Frequency, Year: b.Year, Index: b.Index - 1}
}

// Start is midnight UTC of the first calendar day of the bucket.
func (b Bucket) Start() time.Time {
	jan1 := time.Date(b.Year, time.January, 1, 0, 0, 0, 0, time.UTC)

	switch b.Frequency {
	case Month:
		return time.Date(b.Year, time.Month(b.Index), 1, 0, 0, 0, 0, time.UTC)
	case Quarter:
		return time.Date(b.Year, time.Month((b.Index-1)*3+1), 1, 0, 0, 0, 0, time.UTC)
	case BiAnnual:
		if b.Index == 2 {
			return jan1.AddDate(0, 0, halfSplitDay-1)
		}
	}
	return jan1
}

// ElapsedDays is the 1-based ordinal of at's calendar day within b: the
// first day of the period is day 1. Only the calendar date of at is used.
func (b Bucket) ElapsedDays(at time.Time) int {
	day := time.Date(at.Year(), at.Month(), at.Day(), 0, 0, 0, 0, time.UTC)
	return int(day.Sub(b.Start()).Hours()/24) + 1
}

// Token is the period part of the bucket name, e.g. 2024-02, 2024-Q1,
// 2024-H2 or 2024.
func (b Bucket) Token() string {
	switch b.Frequency {
	case Month:
		return fmt.Sprintf("%04d-%02d", b.Year, b.Index)
	case Quarter:
		return fmt.Sprintf("%04d-Q%d", b.Year, b.Index)
	case BiAnnual:
		return fmt.Sprintf("%04d-H%d", b.Year, b.Index)
	case Year:
		return fmt.Sprintf("%04d", b.Year)
	}
	return ""
}

// DirName is the directory a bucket's backups are stored in,
// e.g. vmsnap-backup-monthly-2024-02.
func (b Bucket) DirName() string {
	return DirPrefix + b.Frequency.Name() + "-" + b.Token()
}

func (b Bucket) String() string {
	return b.Token()
}
