// Package loader handles configuration file loading, validation, and
// runtime resolution.
//
// This package is responsible for:
//   - Loading YAML configuration files
//   - Expanding environment variables
//   - Resolving the database path and retention from flags, environment,
//     the config file and platform defaults
//   - Converting between YAML and internal representations
package loader

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	defaults "github.com/xtxerr/aura/config"
	"github.com/xtxerr/aura/internal/errors"
	"github.com/xtxerr/aura/internal/logging"
	"github.com/xtxerr/aura/internal/scheduler"
	storageconfig "github.com/xtxerr/aura/internal/storage/config"
	"github.com/xtxerr/aura/internal/store"
)

// Environment variables consulted by Resolve.
const (
	EnvDBPath    = "AURA_DB_PATH"
	EnvRetention = "AURA_RETENTION_SECONDS"
)

// =============================================================================
// Load
// =============================================================================

// Load loads configuration from a YAML file. Environment variables in the
// file are expanded before parsing.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.NewIO("read config", err)
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	// Start with defaults
	cfg := DefaultConfig()

	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config: %v: %w", err, errors.ErrInvalidConfig)
	}
	if cfg.Storage == nil {
		cfg.Storage = storageconfig.DefaultConfig()
	}

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadOptional loads path when it is set and returns defaults otherwise.
func LoadOptional(path string) (*Config, error) {
	if strings.TrimSpace(path) == "" {
		return DefaultConfig(), nil
	}
	return Load(path)
}

// =============================================================================
// Validate
// =============================================================================

// Validate validates the configuration.
func Validate(cfg *Config) error {
	errs := errors.NewValidationErrors()

	if _, err := logging.ParseLevel(cfg.Logging.Level); err != nil {
		errs.AddField("logging.level", err.Error())
	}
	switch cfg.Logging.Format {
	case "", "text", "json":
	default:
		errs.AddField("logging.format", "must be text or json")
	}

	if cfg.Store.Retention.Duration() <= 0 {
		errs.AddField("store.retention", "must be > 0")
	}
	if cfg.Store.BusyTimeout.Duration() < 0 {
		errs.AddField("store.busy_timeout", "must be >= 0")
	}

	if _, err := scheduler.IntervalFromSeconds(cfg.Sampler.Interval.Seconds()); err != nil {
		errs.AddField("sampler.interval", "must be > 0")
	}
	if cfg.Sampler.LiveBuffer <= 0 {
		errs.AddField("sampler.live_buffer", "must be > 0")
	}
	if cfg.Sampler.Rollup.Duration() < 0 {
		errs.AddField("sampler.rollup", "must be >= 0")
	}

	if cfg.Timeline.Resolution < defaults.MinTimelineResolution {
		errs.AddField("timeline.resolution", fmt.Sprintf("must be >= %d", defaults.MinTimelineResolution))
	}

	if err := cfg.Probe.Validate(); err != nil {
		errs.Add(err)
	}
	if cfg.Storage != nil {
		// An empty data_dir is filled from the database path by StorageConfig.
		sc := *cfg.Storage
		if sc.DataDir == "" {
			sc.DataDir = "."
		}
		if err := sc.Validate(); err != nil {
			errs.Add(err)
		}
	}

	return errs.Err()
}

// =============================================================================
// Runtime Resolution
// =============================================================================

// DB path sources reported in Runtime.DBSource.
const (
	SourceCLI      = "cli"
	SourceEnv      = "env"
	SourceConfig   = "config"
	SourceAuto     = "auto"
	SourceDisabled = "disabled"
)

// Overrides are the command-line values that take precedence over
// everything else. Zero values mean "not given".
type Overrides struct {
	DBPath           string
	RetentionSeconds *float64
	NoPersist        bool
}

// Environment is the process context Resolve reads. The zero value means
// the real process environment.
type Environment struct {
	Getenv func(string) string
	GOOS   string
	Home   string
}

func (e Environment) getenv(key string) string {
	if e.Getenv != nil {
		return strings.TrimSpace(e.Getenv(key))
	}
	return strings.TrimSpace(os.Getenv(key))
}

func (e Environment) goos() string {
	if e.GOOS != "" {
		return e.GOOS
	}
	return runtime.GOOS
}

func (e Environment) home() string {
	if e.Home != "" {
		return e.Home
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}

// Runtime is the resolved storage setup of one process.
type Runtime struct {
	// DBPath is the store location. Empty when Persist is false.
	DBPath           string
	RetentionSeconds float64
	Persist          bool

	// DBSource names where DBPath came from: cli, env, config, auto or
	// disabled.
	DBSource string
}

// Explicit reports whether the path was chosen by the user. Failing to open
// an explicit path is fatal; failing to open an automatic one only disables
// persistence.
func (r Runtime) Explicit() bool {
	return r.DBSource == SourceCLI || r.DBSource == SourceEnv || r.DBSource == SourceConfig
}

// Resolve determines the store path and retention.
//
// Retention: flag, then AURA_RETENTION_SECONDS, then store.retention.
// Path: disabled by NoPersist, else flag, then AURA_DB_PATH, then
// store.path, then the platform default.
func Resolve(cfg *Config, o Overrides, env Environment) (Runtime, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	retention := cfg.Store.Retention.Seconds()
	switch {
	case o.RetentionSeconds != nil:
		retention = *o.RetentionSeconds
		if !positiveFinite(retention) {
			return Runtime{}, errors.NewInvalidConfig("retention_seconds", "must be a finite number greater than 0")
		}
	case env.getenv(EnvRetention) != "":
		v, err := strconv.ParseFloat(env.getenv(EnvRetention), 64)
		if err != nil || !positiveFinite(v) {
			return Runtime{}, errors.NewInvalidConfig(EnvRetention, "must be a finite number greater than 0")
		}
		retention = v
	}
	if !positiveFinite(retention) {
		return Runtime{}, errors.NewInvalidConfig("store.retention", "must be > 0")
	}

	rt := Runtime{RetentionSeconds: retention, Persist: true}
	switch {
	case o.NoPersist:
		rt.Persist = false
		rt.DBSource = SourceDisabled
	case strings.TrimSpace(o.DBPath) != "":
		rt.DBPath, rt.DBSource = strings.TrimSpace(o.DBPath), SourceCLI
	case env.getenv(EnvDBPath) != "":
		rt.DBPath, rt.DBSource = env.getenv(EnvDBPath), SourceEnv
	case strings.TrimSpace(cfg.Store.Path) != "":
		rt.DBPath, rt.DBSource = strings.TrimSpace(cfg.Store.Path), SourceConfig
	default:
		rt.DBPath, rt.DBSource = DefaultDBPath(env), SourceAuto
	}
	return rt, nil
}

// DefaultDBPath returns the per-user database location:
//
//	linux:   $XDG_DATA_HOME/Aura/telemetry.sqlite (~/.local/share)
//	darwin:  ~/Library/Application Support/Aura/telemetry.sqlite
//	windows: %APPDATA%\Aura\telemetry.sqlite (%LOCALAPPDATA%, ~/AppData/Roaming)
func DefaultDBPath(env Environment) string {
	var base string
	switch env.goos() {
	case "windows":
		base = env.getenv("APPDATA")
		if base == "" {
			base = env.getenv("LOCALAPPDATA")
		}
		if base == "" {
			base = filepath.Join(env.home(), "AppData", "Roaming")
		}
	case "darwin":
		base = filepath.Join(env.home(), "Library", "Application Support")
	default:
		base = env.getenv("XDG_DATA_HOME")
		if base == "" {
			base = filepath.Join(env.home(), ".local", "share")
		}
	}
	return filepath.Join(base, defaults.DefaultAppDirName, defaults.DefaultDBFileName)
}

func positiveFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0) && v > 0
}

// =============================================================================
// Conversion: Config → Internal Configs
// =============================================================================

// StoreConfig converts the store section and the resolved runtime into the
// retention store configuration. Non-persistent runtimes get an in-memory
// store so reads keep working for the session.
func (c *Config) StoreConfig(rt Runtime) store.Config {
	cfg := store.DefaultConfig()
	cfg.RetentionSeconds = rt.RetentionSeconds
	cfg.BusyTimeout = c.Store.BusyTimeout.Duration()
	if rt.Persist {
		cfg.Location = rt.DBPath
	}
	return cfg
}

// StorageConfig returns the archive configuration with its data directory
// defaulted to the directory of the database file.
func (c *Config) StorageConfig(rt Runtime) *storageconfig.Config {
	sc := storageconfig.DefaultConfig()
	if c.Storage != nil {
		copied := *c.Storage
		sc = &copied
	}
	if sc.DataDir == "" && rt.Persist && rt.DBPath != store.MemoryLocation {
		sc.DataDir = filepath.Dir(rt.DBPath)
	}
	return sc
}
