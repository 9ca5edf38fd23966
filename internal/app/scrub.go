package app

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/blackwell-systems/vmsnap/internal/command"
	"github.com/blackwell-systems/vmsnap/internal/output"
	"github.com/blackwell-systems/vmsnap/internal/scrub"
)

var (
	scrubType string

	scrubCmd = &cobra.Command{
		Use:   "scrub",
		Short: "Remove checkpoints and bitmaps from domains",
		Long: `Delete libvirt checkpoint metadata and/or the dirty bitmaps on each disk
image, the same cleanup backup performs when a new period begins.

Every item is attempted even if an earlier one fails. Failures are listed
and the command exits with status 5.`,
		Example: `  # Remove everything from vm1
  vmsnap scrub --domains vm1

  # Only drop stale bitmaps
  vmsnap scrub -d vm1 --type bitmap`,
		RunE: runScrub,
	}
)

func init() {
	addDomainFlags(scrubCmd)
	scrubCmd.Flags().StringVarP(&scrubType, "type", "t", "both", "what to remove: checkpoint, bitmap or both")

	RootCmd.AddCommand(scrubCmd)
}

func runScrub(cmd *cobra.Command, args []string) error {
	t, err := scrub.ParseType(scrubType)
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
	if err := command.Require(cfg.Commands.Virsh, cfg.Commands.QemuImg); err != nil {
		return err
	}

	log := newLogger(cfg)
	r := newRunner(cfg, log, false)

	domains, err := resolveDomains(cmd.Context(), r, cfg)
	if err != nil {
		return err
	}

	reports, err := r.Scrub(cmd.Context(), domains, t)
	if len(reports) > 0 {
		fmt.Fprint(cmd.OutOrStdout(), output.RenderScrubTable(reports))
	}
	return err
}
