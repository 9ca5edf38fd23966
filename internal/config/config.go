// Package config loads vmsnap's configuration.
//
// Values are layered, later layers winning: built-in defaults, a YAML file,
// VMSNAP_* environment variables, then flags set on the command line.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"

	"github.com/blackwell-systems/vmsnap/internal/period"
)

// PathEnvVar overrides the config file search.
const PathEnvVar = "VMSNAP_CONFIG"

// EnvPrefix is the prefix of every environment override.
const EnvPrefix = "VMSNAP_"

// Config is the full vmsnap configuration.
type Config struct {
	Domains   []string       `koanf:"domains"`
	Output    string         `koanf:"output"`
	Frequency string         `koanf:"frequency"`
	Prune     bool           `koanf:"prune"`
	Backup    BackupConfig   `koanf:"backup"`
	Lock      LockConfig     `koanf:"lock"`
	Commands  CommandsConfig `koanf:"commands"`
	Logging   LoggingConfig  `koanf:"logging"`
	Status    StatusConfig   `koanf:"status"`
}

// BackupConfig is passed through to virtnbdbackup.
type BackupConfig struct {
	Raw      bool          `koanf:"raw"`
	Compress bool          `koanf:"compress"`
	Level    string        `koanf:"level" validate:"oneof=full inc auto copy diff"`
	Timeout  time.Duration `koanf:"timeout" validate:"min=0"`
}

// LockConfig controls the invocation lock.
type LockConfig struct {
	Path    string        `koanf:"path" validate:"required"`
	Retries int           `koanf:"retries" validate:"min=0"`
	Delay   time.Duration `koanf:"delay" validate:"min=0"`
}

// CommandsConfig names the external tools. ConnectURI is passed to
// virsh -c, e.g. qemu:///system.
type CommandsConfig struct {
	Virsh      string        `koanf:"virsh" validate:"required"`
	QemuImg    string        `koanf:"qemu_img" validate:"required"`
	Backup     string        `koanf:"backup" validate:"required"`
	Timeout    time.Duration `koanf:"timeout" validate:"min=0"`
	ConnectURI string        `koanf:"connect_uri"`
}

// LoggingConfig controls log output.
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=trace debug info warn warning error disabled off"`
	Format string `koanf:"format" validate:"oneof=json console"`
	Caller bool   `koanf:"caller"`
}

// StatusConfig controls status queries.
type StatusConfig struct {
	MarkerDir string `koanf:"marker_dir" validate:"required"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Frequency: "month",
		Backup: BackupConfig{
			Level: "auto",
		},
		Lock: LockConfig{
			Path:    "/tmp/vmsnap.lock",
			Retries: 10,
			Delay:   2 * time.Second,
		},
		Commands: CommandsConfig{
			Virsh:   "virsh",
			QemuImg: "qemu-img",
			Backup:  "virtnbdbackup",
			Timeout: 60 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
		Status: StatusConfig{
			MarkerDir: "checkpoints",
		},
	}
}

// Dir returns the vmsnap config directory, respecting XDG_CONFIG_HOME.
// Defaults to ~/.config/vmsnap if XDG_CONFIG_HOME is not set.
func Dir() (string, error) {
	base := os.Getenv("XDG_CONFIG_HOME")
	if base == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		base = filepath.Join(home, ".config")
	}
	return filepath.Join(base, "vmsnap"), nil
}

// SearchPaths lists the config files tried, in order, when no path is given.
func SearchPaths() []string {
	paths := []string{"vmsnap.yaml"}
	if dir, err := Dir(); err == nil {
		paths = append(paths, filepath.Join(dir, "config.yaml"))
	}
	return append(paths, "/etc/vmsnap/config.yaml")
}

// Load builds the configuration. path is an explicit config file and must
// exist when set. overrides are koanf keys set from command-line flags.
func Load(path string, overrides map[string]any) (*Config, error) {
	return load(path, SearchPaths(), overrides)
}

func load(path string, search []string, overrides map[string]any) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(Default(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	configPath, err := findConfigFile(path, search)
	if err != nil {
		return nil, err
	}
	if configPath != "" {
		if err := k.Load(file.Provider(configPath), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", configPath, err)
		}
	}

	if err := k.Load(env.Provider(EnvPrefix, ".", envTransformFunc), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment variables: %w", err)
	}

	for key, val := range overrides {
		if err := k.Set(key, val); err != nil {
			return nil, fmt.Errorf("failed to apply flag %s: %w", key, err)
		}
	}

	if err := splitDomains(k); err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func findConfigFile(explicit string, search []string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file %s: %w", explicit, err)
		}
		return explicit, nil
	}

	if envPath := os.Getenv(PathEnvVar); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath, nil
		}
	}

	for _, p := range search {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", nil
}

// splitDomains turns a comma-separated domains string (from env or flags)
// into a list.
func splitDomains(k *koanf.Koanf) error {
	val := k.Get("domains")
	str, ok := val.(string)
	if !ok {
		return nil
	}

	parts := strings.Split(str, ",")
	domains := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			domains = append(domains, p)
		}
	}
	if err := k.Set("domains", domains); err != nil {
		return fmt.Errorf("failed to set domains: %w", err)
	}
	return nil
}

var envMappings = map[string]string{
	"domains":         "domains",
	"output":          "output",
	"frequency":       "frequency",
	"prune":           "prune",
	"backup_raw":      "backup.raw",
	"backup_compress": "backup.compress",
	"backup_level":    "backup.level",
	"backup_timeout":  "backup.timeout",
	"lock_path":       "lock.path",
	"lock_retries":    "lock.retries",
	"lock_delay":      "lock.delay",
	"virsh":           "commands.virsh",
	"qemu_img":        "commands.qemu_img",
	"backup_command":  "commands.backup",
	"command_timeout": "commands.timeout",
	"connect_uri":     "commands.connect_uri",
	"log_level":       "logging.level",
	"log_format":      "logging.format",
	"log_caller":      "logging.caller",
	"marker_dir":      "status.marker_dir",
}

// envTransformFunc maps VMSNAP_* variables to koanf keys. Unknown variables
// map to "" and are ignored.
func envTransformFunc(key string) string {
	key = strings.ToLower(strings.TrimPrefix(key, EnvPrefix))
	return envMappings[key]
}

// Validate checks field constraints.
func (c *Config) Validate() error {
	v := validator.New(validator.WithRequiredStructEnabled())
	if err := v.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q (value %v)", fe.Namespace(), fe.Tag(), fe.Value()))
			}
			return errors.New(strings.Join(msgs, "; "))
		}
		return err
	}
	return nil
}

// ParsedFrequency returns the configured frequency. An unknown name returns
// period.Invalid together with period.ErrInvalidFrequency; callers treat
// that as recoverable.
func (c *Config) ParsedFrequency() (period.Frequency, error) {
	return period.ParseFrequency(c.Frequency)
}
