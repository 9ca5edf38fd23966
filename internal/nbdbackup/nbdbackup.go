// Package nbdbackup is the backup-execution adapter around virtnbdbackup.
package nbdbackup

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/blackwell-systems/vmsnap/internal/command"
)

// DefaultBinary is the virtnbdbackup executable name.
const DefaultBinary = "virtnbdbackup"

// Backup levels understood by virtnbdbackup.
var Levels = []string{"full", "inc", "auto", "copy", "diff"}

// Options controls a single backup run.
type Options struct {
	// Level is full, inc, auto, copy or diff. Empty means auto.
	Level string
	// Raw stores raw-format disks as well.
	Raw bool
	// Compress enables lz4 compression of the data stream.
	Compress bool
	// Extra is appended verbatim.
	Extra []string
}

// Result of a backup run.
type Result struct {
	ExitCode int
	Command  string
}

// Succeeded reports whether the tool exited cleanly.
func (r Result) Succeeded() bool {
	return r.ExitCode == 0
}

// Client runs virtnbdbackup.
type Client struct {
	run    command.Runner
	binary string
	log    zerolog.Logger
}

// New returns a Client. An empty binary means DefaultBinary.
func New(run command.Runner, binary string, log zerolog.Logger) *Client {
	if binary == "" {
		binary = DefaultBinary
	}
	return &Client{
		run:    run,
		binary: binary,
		log:    log.With().Str("tool", binary).Logger(),
	}
}

// Args builds the virtnbdbackup argument list.
func Args(domain, outputPath string, opts Options) []string {
	level := opts.Level
	if level == "" {
		level = "auto"
	}

	args := []string{"-d", domain, "-l", level, "-o", outputPath}
	if opts.Raw {
		args = append(args, "--raw")
	}
	if opts.Compress {
		args = append(args, "--compress")
	}
	return append(args, opts.Extra...)
}

// Run backs up domain into outputPath. Tool output is logged line by line,
// stdout at info and stderr at warn. A non-zero exit is reported in the
// Result; err is only set when the tool could not be run.
func (c *Client) Run(ctx context.Context, domain, outputPath string, opts Options) (Result, error) {
	args := Args(domain, outputPath, opts)
	res := Result{Command: command.Describe(c.binary, args)}

	log := c.log.With().Str("domain", domain).Logger()
	log.Info().Str("command", res.Command).Msg("starting backup")

	code, err := c.run.Stream(ctx, func(s command.Stream, line string) {
		line = strings.TrimRight(line, "\r")
		if line == "" {
			return
		}
		if s == command.Stderr {
			log.Warn().Msg(line)
			return
		}
		log.Info().Msg(line)
	}, c.binary, args...)
	if err != nil {
		return Result{ExitCode: -1, Command: res.Command}, fmt.Errorf("failed to run backup for %s: %w", domain, err)
	}

	res.ExitCode = code
	if code != 0 {
		log.Error().Int("exit_code", code).Msg("backup exited with non-zero status")
	} else {
		log.Info().Msg("backup finished")
	}
	return res, nil
}
