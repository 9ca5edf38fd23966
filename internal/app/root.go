package app

import (
	"errors"

	"github.com/spf13/cobra"

	"github.com/blackwell-systems/vmsnap/internal/command"
	"github.com/blackwell-systems/vmsnap/internal/lock"
	"github.com/blackwell-systems/vmsnap/internal/runner"
)

var (
	// ErrNoDomains is returned when neither flags nor config name a domain.
	ErrNoDomains = errors.New("no domains given (use --domains or set domains in the config file)")

	// ErrNoOutput is returned when a command needs the backup root and none
	// is configured.
	ErrNoOutput = errors.New("no output directory given (use --output or set output in the config file)")
)

var (
	configPath string
	logLevel   string
	logFormat  string

	// RootCmd is the root command for vmsnap
	RootCmd = &cobra.Command{
		Use:   "vmsnap",
		Short: "Period-based backups of libvirt domains with virtnbdbackup",
		Long: `vmsnap drives virtnbdbackup for libvirt domains and keeps one backup
directory per period (month, quarter, half year or year).

When a new period begins, the domain's checkpoints and dirty bitmaps are
scrubbed so the next backup starts a fresh chain, and once the previous
period is old enough its directory can be pruned.

Backup layout:
  <output>/<domain>/vmsnap-backup-monthly-2024-03/
  <output>/<domain>/vmsnap-backup-quarterly-2024-Q1/

Examples:
  # Back up two domains into the current monthly bucket
  vmsnap backup --domains vm1,vm2 --output /backups

  # Back up every domain quarterly and prune the previous quarter
  vmsnap backup --domains '*' --output /backups --frequency quarter --prune

  # Check that checkpoints and bitmaps agree
  vmsnap status --domains vm1 --output /backups

  # Remove all checkpoints and bitmaps from a domain
  vmsnap scrub --domains vm1

  # Show the directory name of last month's bucket
  vmsnap bucket --previous`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
)

func init() {
	RootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (default: ./vmsnap.yaml, ~/.config/vmsnap/config.yaml, /etc/vmsnap/config.yaml)")
	RootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level: trace, debug, info, warn, error")
	RootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "", "log format: console or json")

	RootCmd.SuggestionsMinimumDistance = 2
}

// Execute runs the root command
func Execute() error {
	return RootCmd.Execute()
}

// ExitCode maps an error returned by Execute to the process exit status.
func ExitCode(err error) int {
	switch {
	case err == nil:
		return 0
	case errors.Is(err, runner.ErrLockRelease):
		return 7
	case errors.Is(err, lock.ErrLocked), errors.Is(err, lock.ErrAcquire):
		return 6
	case errors.Is(err, runner.ErrScrubFailed):
		return 5
	case errors.Is(err, command.ErrMissingDependency):
		return 4
	case errors.Is(err, ErrNoOutput):
		return 3
	case errors.Is(err, ErrNoDomains):
		return 2
	}
	return 1
}
