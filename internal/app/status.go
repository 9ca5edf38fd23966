package app

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/blackwell-systems/vmsnap/internal/command"
	"github.com/blackwell-systems/vmsnap/internal/config"
	"github.com/blackwell-systems/vmsnap/internal/fsprobe"
	"github.com/blackwell-systems/vmsnap/internal/output"
	"github.com/blackwell-systems/vmsnap/internal/period"
	"github.com/blackwell-systems/vmsnap/internal/runner"
	"github.com/blackwell-systems/vmsnap/internal/watcher"
)

var (
	statusFormat   string
	statusWatch    bool
	statusDebounce time.Duration

	statusCmd = &cobra.Command{
		Use:   "status",
		Short: "Check that checkpoints, bitmaps and backup files agree",
		Long: `Report whether each domain's backup chain is consistent.

A domain is OK when every disk carries one bitmap per checkpoint and, when
--output is given, the current period's backup directory holds one
checkpoint file per checkpoint. The first disagreement found is shown.

An INCONSISTENT domain is not an error: the exit status stays 0. The next
backup in a new period scrubs the chain and starts over.

With --watch the report is refreshed whenever files under --output
change, until interrupted.`,
		Example: `  # Table for two domains
  vmsnap status --domains vm1,vm2 --output /backups

  # JSON for every domain, bitmaps only
  vmsnap status -d '*' --format json

  # Refresh while a backup runs elsewhere
  vmsnap status -d vm1 -o /backups --watch`,
		RunE: runStatus,
	}
)

func init() {
	addDomainFlags(statusCmd)
	addOutputFlags(statusCmd)
	statusCmd.Flags().StringVar(&statusFormat, "format", "table", "output format: table, json or yaml")
	statusCmd.Flags().BoolVarP(&statusWatch, "watch", "w", false, "refresh when the backup tree changes")
	statusCmd.Flags().DurationVar(&statusDebounce, "debounce", watcher.DefaultDebounce, "quiet period before a --watch refresh")

	RootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	format, err := output.ParseFormat(statusFormat)
	if err != nil {
		return err
	}

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if len(cfg.Domains) == 0 {
		return ErrNoDomains
	}
	if statusWatch && cfg.Output == "" {
		return ErrNoOutput
	}
	if err := command.Require(cfg.Commands.Virsh, cfg.Commands.QemuImg); err != nil {
		return err
	}

	log := newLogger(cfg)
	r := newRunner(cfg, log, false)
	f := frequency(cfg, log)

	domains, err := resolveDomains(cmd.Context(), r, cfg)
	if err != nil {
		return err
	}

	report := func(ctx context.Context) error {
		return printStatus(ctx, cmd.OutOrStdout(), cmd.ErrOrStderr(), r, domains, cfg, f, format)
	}

	if !statusWatch {
		return report(cmd.Context())
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := report(ctx); err != nil {
		log.Error().Err(err).Msg("status collection incomplete, watching anyway")
	}

	w := watcher.New(fsprobe.New(), log, cfg.Output)
	w.Debounce = statusDebounce
	return w.Run(ctx, func() {
		fmt.Fprintf(cmd.OutOrStdout(), "\n%s\n", time.Now().Format("2006-01-02 15:04:05"))
		if err := report(ctx); err != nil {
			log.Error().Err(err).Msg("status refresh failed")
		}
	})
}

func printStatus(ctx context.Context, out, errOut io.Writer, r *runner.Runner, domains []string, cfg *config.Config, f period.Frequency, format output.Format) error {
	var spinner *output.Spinner
	if format == output.FormatTable {
		spinner = output.NewSpinner(fmt.Sprintf("Checking %d domains", len(domains)))
		spinner.SetWriter(errOut)
		spinner.Start()
	}

	records, err := r.Status(ctx, domains, cfg.Output, f)

	if spinner != nil {
		spinner.Stop()
	}
	if err != nil {
		err = fmt.Errorf("failed to collect status: %w", err)
	}

	// Domains that were collected are shown even when others failed.
	if format == output.FormatTable {
		if len(records) > 0 || err == nil {
			fmt.Fprint(out, output.RenderStatusTable(records))
		}
		return err
	}
	if encErr := output.Encode(out, format, records); encErr != nil {
		return errors.Join(err, encErr)
	}
	return err
}
