// Package config provides YAML configuration loading and validation for the
// frostwatch scanner.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/dustin/go-humanize"
	"gopkg.in/yaml.v3"
)

// Scan modes.
const (
	// ModeActive walks the directory for recently modified files.
	ModeActive = "active"
	// ModePassive watches the mount holding the directory with fanotify and
	// scans files as they are closed after writing.
	ModePassive = "passive"
	// ModeInotify watches the directory tree with inotify. It needs no
	// privileges but costs one watch per directory.
	ModeInotify = "inotify"
)

// SimplePieMD5 is the digest of a bundled simplepie.inc that trips the
// base64 heuristics while being harmless.
const SimplePieMD5 = "d1c8a277f0cc128b5610db721c70eabd"

// Config is the top-level configuration structure for frostwatch.
type Config struct {
	// Directory is the tree to inspect. Required.
	Directory string `yaml:"directory"`

	// Mode is one of "active", "passive" or "inotify". Defaults to "active".
	Mode string `yaml:"mode"`

	// Days limits active scans to files modified within this many days.
	// Defaults to 1.
	Days int `yaml:"days"`

	// Interval repeats active scans. Zero scans once and exits.
	Interval time.Duration `yaml:"interval"`

	// Freeze removes all permissions from files scoring at or above
	// FreezeThreshold.
	Freeze          bool `yaml:"freeze"`
	FreezeThreshold int  `yaml:"freeze_threshold"`

	// MaxFileSize skips files at or above this size, e.g. "3MiB". Defaults to
	// 3MiB.
	MaxFileSize ByteSize `yaml:"max_file_size"`

	// SkipSubstrings skips any path containing one of these substrings.
	// Defaults to ["/cache/"].
	SkipSubstrings []string `yaml:"skip_substrings"`

	// Exclude lists doublestar glob patterns matched against paths relative
	// to Directory.
	Exclude []string `yaml:"exclude"`

	// AllowMD5 lists digests of known-good files that are never scored.
	// Defaults to the simplepie digest.
	AllowMD5 []string `yaml:"allow_md5"`

	// LogLevel sets the minimum log severity: "debug", "info", "warn", or
	// "error". Defaults to "info" when omitted.
	LogLevel string `yaml:"log_level"`

	// HealthAddr is the listen address for /healthz and the findings API.
	// Empty disables the HTTP server.
	HealthAddr string `yaml:"health_addr"`

	// QueuePath is the SQLite database holding findings. Defaults to
	// "frostwatch.db".
	QueuePath string `yaml:"queue_path"`

	// AuditPath is the hash-chained JSONL log of freeze actions. Defaults to
	// "frostwatch-audit.jsonl".
	AuditPath string `yaml:"audit_path"`

	Postgres PostgresConfig `yaml:"postgres"`
	API      APIConfig      `yaml:"api"`
	Notify   NotifyConfig   `yaml:"notify"`
}

// PostgresConfig enables the optional central findings sink.
type PostgresConfig struct {
	// DSN is a libpq connection string. Empty disables the sink.
	DSN string `yaml:"dsn"`
	// BatchSize caps rows per insert batch. Defaults to 100.
	BatchSize int `yaml:"batch_size"`
	// FlushInterval bounds how long a finding waits in the batch. Defaults
	// to 1s.
	FlushInterval time.Duration `yaml:"flush_interval"`
}

// APIConfig protects the findings API with RS256 bearer tokens.
type APIConfig struct {
	// JWTPublicKeyPath is a PEM RSA public key. Empty serves the API without
	// authentication.
	JWTPublicKeyPath string `yaml:"jwt_public_key_path"`
	Issuer           string `yaml:"issuer"`
	Audience         string `yaml:"audience"`
}

// NotifyConfig tunes the kernel notification channel used by the passive and
// inotify modes.
type NotifyConfig struct {
	// Mask is a "|"-separated list of event names. Defaults to
	// FAN_CLOSE_WRITE in passive mode and IN_CLOSE_WRITE|IN_MOVED_TO in
	// inotify mode.
	Mask string `yaml:"mask"`
	// Buffer is the per-subscriber event buffer. Defaults to 256.
	Buffer int `yaml:"buffer"`
}

// ByteSize is a byte count that unmarshals from strings such as "3MiB" or
// "500kB" as well as plain integers.
type ByteSize uint64

// UnmarshalYAML implements yaml.Unmarshaler.
func (b *ByteSize) UnmarshalYAML(value *yaml.Node) error {
	n, err := humanize.ParseBytes(value.Value)
	if err != nil {
		return fmt.Errorf("invalid size %q: %w", value.Value, err)
	}
	*b = ByteSize(n)
	return nil
}

func (b ByteSize) String() string { return humanize.IBytes(uint64(b)) }

// validLogLevels is the set of accepted log level strings.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

var validModes = map[string]bool{
	ModeActive:  true,
	ModePassive: true,
	ModeInotify: true,
}

// LoadConfig reads the YAML file at path, unmarshals it into Config, applies
// defaults, and validates all required fields.
func LoadConfig(path string) (*Config, error) {
	cfg, err := Read(path)
	if err != nil {
		return nil, err
	}
	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("config: validation failed for %q: %w", path, err)
	}
	return cfg, nil
}

// Read is LoadConfig without validation, for callers that layer command-line
// overrides on top of the file before validating.
func Read(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: cannot read %q: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: cannot parse %q: %w", path, err)
	}

	ApplyDefaults(&cfg)
	return &cfg, nil
}

// Default returns a Config with every default applied and no directory set.
// It is used when frostwatch runs without a config file.
func Default() *Config {
	var cfg Config
	ApplyDefaults(&cfg)
	return &cfg
}

// ApplyDefaults fills in zero-value optional fields.
func ApplyDefaults(cfg *Config) {
	if cfg.Mode == "" {
		cfg.Mode = ModeActive
	}
	if cfg.Days == 0 {
		cfg.Days = 1
	}
	if cfg.FreezeThreshold == 0 {
		cfg.FreezeThreshold = 10
	}
	if cfg.MaxFileSize == 0 {
		cfg.MaxFileSize = 3 * humanize.MiByte
	}
	if cfg.SkipSubstrings == nil {
		cfg.SkipSubstrings = []string{"/cache/"}
	}
	if cfg.AllowMD5 == nil {
		cfg.AllowMD5 = []string{SimplePieMD5}
	}
	if cfg.LogLevel == "" {
		cfg.LogLevel = "info"
	}
	if cfg.QueuePath == "" {
		cfg.QueuePath = "frostwatch.db"
	}
	if cfg.AuditPath == "" {
		cfg.AuditPath = "frostwatch-audit.jsonl"
	}
	if cfg.Postgres.BatchSize == 0 {
		cfg.Postgres.BatchSize = 100
	}
	if cfg.Postgres.FlushInterval == 0 {
		cfg.Postgres.FlushInterval = time.Second
	}
	if cfg.Notify.Buffer == 0 {
		cfg.Notify.Buffer = 256
	}
}

// Validate checks that required fields are populated and that enumerated
// fields contain only valid values. All problems are reported together.
func Validate(cfg *Config) error {
	var errs []error

	if cfg.Directory == "" {
		errs = append(errs, errors.New("directory is required"))
	}
	if !validModes[cfg.Mode] {
		errs = append(errs, fmt.Errorf("mode %q must be one of: active, passive, inotify", cfg.Mode))
	}
	if cfg.Days < 0 {
		errs = append(errs, fmt.Errorf("days must not be negative, got %d", cfg.Days))
	}
	if cfg.Interval < 0 {
		errs = append(errs, fmt.Errorf("interval must not be negative, got %s", cfg.Interval))
	}
	if !validLogLevels[cfg.LogLevel] {
		errs = append(errs, fmt.Errorf("log_level %q must be one of: debug, info, warn, error", cfg.LogLevel))
	}
	for i, p := range cfg.Exclude {
		if _, err := doublestar.Match(p, "a"); err != nil {
			errs = append(errs, fmt.Errorf("exclude[%d]: invalid pattern %q: %w", i, p, err))
		}
	}
	for i, sum := range cfg.AllowMD5 {
		if len(sum) != 32 {
			errs = append(errs, fmt.Errorf("allow_md5[%d]: %q is not a hex MD5 digest", i, sum))
		}
	}
	if cfg.Postgres.BatchSize < 0 {
		errs = append(errs, fmt.Errorf("postgres.batch_size must not be negative, got %d", cfg.Postgres.BatchSize))
	}
	if cfg.Notify.Buffer < 0 {
		errs = append(errs, fmt.Errorf("notify.buffer must not be negative, got %d", cfg.Notify.Buffer))
	}

	return errors.Join(errs...)
}
