package app

import (
	"context"
	"fmt"
	"strconv"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/blackwell-systems/vmsnap/internal/command"
	"github.com/blackwell-systems/vmsnap/internal/config"
	"github.com/blackwell-systems/vmsnap/internal/fsprobe"
	"github.com/blackwell-systems/vmsnap/internal/logging"
	"github.com/blackwell-systems/vmsnap/internal/nbdbackup"
	"github.com/blackwell-systems/vmsnap/internal/period"
	"github.com/blackwell-systems/vmsnap/internal/qemuimg"
	"github.com/blackwell-systems/vmsnap/internal/runner"
	"github.com/blackwell-systems/vmsnap/internal/virsh"
)

// flagKeys maps command-line flags to config keys. A flag only overrides the
// config when it was set explicitly.
var flagKeys = map[string]string{
	"domains":    "domains",
	"output":     "output",
	"frequency":  "frequency",
	"prune":      "prune",
	"raw":        "backup.raw",
	"compress":   "backup.compress",
	"level":      "backup.level",
	"log-level":  "logging.level",
	"log-format": "logging.format",
}

// addDomainFlags registers the flags shared by backup, status and scrub.
func addDomainFlags(cmd *cobra.Command) {
	cmd.Flags().StringSliceP("domains", "d", nil, "domains to operate on, comma separated; '*' means all")
}

func addOutputFlags(cmd *cobra.Command) {
	cmd.Flags().StringP("output", "o", "", "backup root directory")
	cmd.Flags().StringP("frequency", "f", "", "backup period: month, quarter, bi-annual or year (default month)")
}

// flagOverrides collects the explicitly set flags of cmd as config keys.
func flagOverrides(cmd *cobra.Command) (map[string]any, error) {
	overrides := make(map[string]any)
	for name, key := range flagKeys {
		if !cmd.Flags().Changed(name) {
			continue
		}
		f := cmd.Flags().Lookup(name)
		switch f.Value.Type() {
		case "bool":
			v, err := strconv.ParseBool(f.Value.String())
			if err != nil {
				return nil, fmt.Errorf("invalid --%s: %w", name, err)
			}
			overrides[key] = v
		case "stringSlice":
			v, err := cmd.Flags().GetStringSlice(name)
			if err != nil {
				return nil, err
			}
			overrides[key] = v
		default:
			overrides[key] = f.Value.String()
		}
	}
	return overrides, nil
}

func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	overrides, err := flagOverrides(cmd)
	if err != nil {
		return nil, err
	}
	return config.Load(configPath, overrides)
}

func newLogger(cfg *config.Config) zerolog.Logger {
	return logging.WithRun(logging.New(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	}))
}

// frequency parses the configured frequency. An unknown name is logged and
// returned as period.Invalid, which disables cleanup and pruning.
func frequency(cfg *config.Config, log zerolog.Logger) period.Frequency {
	f, err := cfg.ParsedFrequency()
	if err != nil {
		log.Warn().Err(err).Msg("unknown frequency, period handling disabled")
	}
	return f
}

// newRunner wires the external tool clients into a Runner.
func newRunner(cfg *config.Config, log zerolog.Logger, withBackup bool) *runner.Runner {
	exec := command.NewExec(cfg.Commands.Timeout)
	exec.StreamTimeout = cfg.Backup.Timeout

	hv := virsh.New(exec, cfg.Commands.Virsh)
	hv.ConnectURI = cfg.Commands.ConnectURI
	img := qemuimg.New(exec, cfg.Commands.QemuImg)

	var backup runner.Backupper
	if withBackup {
		backup = nbdbackup.New(exec, cfg.Commands.Backup, log)
	}

	r := runner.New(hv, img, backup, fsprobe.New(), log)
	r.Lock = runner.LockConfig{
		Path:    cfg.Lock.Path,
		Retries: cfg.Lock.Retries,
		Delay:   cfg.Lock.Delay,
	}
	r.SetMarkerDir(cfg.Status.MarkerDir)
	return r
}

// resolveDomains expands '*' and fails with ErrNoDomains on an empty list.
func resolveDomains(ctx context.Context, r *runner.Runner, cfg *config.Config) ([]string, error) {
	if len(cfg.Domains) == 0 {
		return nil, ErrNoDomains
	}
	domains, err := r.ExpandDomains(ctx, cfg.Domains)
	if err != nil {
		return nil, fmt.Errorf("failed to list domains: %w", err)
	}
	if len(domains) == 0 {
		return nil, ErrNoDomains
	}
	return domains, nil
}
