package app

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/blackwell-systems/vmsnap/internal/period"
)

var (
	bucketPrevious bool
	bucketAt       string

	bucketCmd = &cobra.Command{
		Use:   "bucket",
		Short: "Print the backup directory name for a period",
		Long: `Print the directory name backup would use, e.g.
vmsnap-backup-quarterly-2024-Q1. Useful in scripts that copy or verify
backups.`,
		Example: `  # This month
  vmsnap bucket

  # Previous quarter as of a given day
  vmsnap bucket --frequency quarter --previous --at 2024-04-02`,
		RunE: runBucket,
	}
)

func init() {
	bucketCmd.Flags().StringP("frequency", "f", "", "backup period: month, quarter, bi-annual or year (default month)")
	bucketCmd.Flags().BoolVar(&bucketPrevious, "previous", false, "print the period before the current one")
	bucketCmd.Flags().StringVar(&bucketAt, "at", "", "reference date as YYYY-MM-DD (default today)")

	RootCmd.AddCommand(bucketCmd)
}

func runBucket(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	b, err := resolveBucket(cfg.Frequency, bucketAt, bucketPrevious, time.Now())
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), b.DirName())
	return nil
}

// resolveBucket parses the frequency and optional date, falling back to now.
func resolveBucket(freq, at string, previous bool, now time.Time) (period.Bucket, error) {
	f, err := period.ParseFrequency(freq)
	if err != nil {
		return period.Bucket{}, err
	}

	ref := now
	if at != "" {
		ref, err = time.Parse("2006-01-02", at)
		if err != nil {
			return period.Bucket{}, fmt.Errorf("invalid --at date %q: %w", at, err)
		}
	}
	return period.Resolve(f, ref, previous)
}
