package app

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/blackwell-systems/vmsnap/internal/command"
	"github.com/blackwell-systems/vmsnap/internal/nbdbackup"
	"github.com/blackwell-systems/vmsnap/internal/output"
	"github.com/blackwell-systems/vmsnap/internal/runner"
)

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Back up domains into the current period's directory",
	Long: `Back up each domain with virtnbdbackup into
<output>/<domain>/vmsnap-backup-<frequency>-<period>.

For every domain, in order:
  • If the current period's directory does not exist yet, all checkpoints
    and bitmaps are removed so the backup starts a new full chain
  • virtnbdbackup runs into the current period's directory
  • With --prune, the previous period's directory is removed once the
    current period is old enough (15 days monthly, 45 quarterly,
    90 bi-annually, 180 yearly)

Domains are processed one at a time under a lock, so overlapping runs
wait for each other. A failing domain does not stop the others.`,
	Example: `  # Monthly backup of two domains
  vmsnap backup --domains vm1,vm2 --output /backups

  # Quarterly backup of every domain, compressed, with pruning
  vmsnap backup -d '*' -o /backups --frequency quarter --compress --prune`,
	RunE: runBackup,
}

func init() {
	addDomainFlags(backupCmd)
	addOutputFlags(backupCmd)
	backupCmd.Flags().Bool("prune", false, "remove the previous period's backup once it is old enough")
	backupCmd.Flags().Bool("raw", false, "pass --raw to virtnbdbackup")
	backupCmd.Flags().Bool("compress", false, "pass --compress to virtnbdbackup")
	backupCmd.Flags().String("level", "", "virtnbdbackup level: full, inc, auto, copy or diff (default auto)")

	RootCmd.AddCommand(backupCmd)
}

func runBackup(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if cfg.Output == "" {
		return ErrNoOutput
	}
	if len(cfg.Domains) == 0 {
		return ErrNoDomains
	}
	if err := command.Require(cfg.Commands.Virsh, cfg.Commands.QemuImg, cfg.Commands.Backup); err != nil {
		return err
	}

	log := newLogger(cfg)
	r := newRunner(cfg, log, true)

	domains, err := resolveDomains(cmd.Context(), r, cfg)
	if err != nil {
		return err
	}

	progress := output.NewDomainProgress(len(domains))
	progress.SetWriter(cmd.ErrOrStderr())
	r.Progress = progress

	log.Info().Strs("domains", domains).Str("output", cfg.Output).Str("frequency", cfg.Frequency).Msg("backup started")

	results, err := r.Backup(cmd.Context(), domains, runner.BackupOptions{
		Root:      cfg.Output,
		Frequency: frequency(cfg, log),
		Prune:     cfg.Prune,
		Tool: nbdbackup.Options{
			Level:    cfg.Backup.Level,
			Raw:      cfg.Backup.Raw,
			Compress: cfg.Backup.Compress,
		},
	})
	progress.Finish()

	if len(results) > 0 {
		fmt.Fprint(cmd.OutOrStdout(), output.RenderBackupTable(results))
	}
	return err
}
