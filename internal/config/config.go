package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/viper"

	"github.com/loykin/agentvisor/internal/auth"
	"github.com/loykin/agentvisor/internal/logger"
	"github.com/loykin/agentvisor/internal/tls"
)

// EnvPrefix prefixes environment overrides, e.g. AGENTVISOR_ROOT or
// AGENTVISOR_SUPERVISOR_INTERVAL.
const EnvPrefix = "AGENTVISOR"

const (
	DefaultRoot             = ".agentvisor"
	DefaultWorkerInterval   = 5 * time.Second
	DefaultCheckInterval    = 5 * time.Second
	DefaultHeartbeatTimeout = 15 * time.Second
	DefaultRestartDelay     = time.Second
	DefaultUnitInterval     = time.Hour
	MaxEffectBudget         = 30 * time.Second
)

// Config is the whole agentvisor configuration. See Load for sources.
type Config struct {
	Root  string `toml:"root" mapstructure:"root"`
	Store string `toml:"store" mapstructure:"store"`

	// Environment given to spawned workers.
	Env      []string `toml:"env" mapstructure:"env"`
	EnvFiles []string `toml:"env_files" mapstructure:"env_files"`
	UseOSEnv bool     `toml:"use_os_env" mapstructure:"use_os_env"`

	Worker     WorkerConfig              `toml:"worker" mapstructure:"worker"`
	Supervisor SupervisorConfig          `toml:"supervisor" mapstructure:"supervisor"`
	Log        LogConfig                 `toml:"log" mapstructure:"log"`
	History    HistoryConfig             `toml:"history" mapstructure:"history"`
	WorkUnits  map[string]WorkUnitConfig `toml:"workunits" mapstructure:"workunits"`

	// Path is the file the configuration was read from, empty when none.
	Path string `toml:"-" mapstructure:"-"`
}

type WorkerConfig struct {
	Interval time.Duration `toml:"interval" mapstructure:"interval"`
}

type SupervisorConfig struct {
	Interval         time.Duration `toml:"interval" mapstructure:"interval"`
	HeartbeatTimeout time.Duration `toml:"heartbeat_timeout" mapstructure:"heartbeat_timeout"`
	RestartDelay     time.Duration `toml:"restart_delay" mapstructure:"restart_delay"`
	Listen           string        `toml:"listen" mapstructure:"listen"`
	// TLS secures the status API served on Listen.
	TLS tls.Config `toml:"tls" mapstructure:"tls"`
	// Auth guards every status API endpoint except /health.
	Auth auth.Config `toml:"auth" mapstructure:"auth"`
}

type LogConfig struct {
	Level      string `toml:"level" mapstructure:"level"`
	Format     string `toml:"format" mapstructure:"format"`
	Color      bool   `toml:"color" mapstructure:"color"`
	Dir        string `toml:"dir" mapstructure:"dir"`
	MaxSizeMB  int    `toml:"max_size_mb" mapstructure:"max_size_mb"`
	MaxBackups int    `toml:"max_backups" mapstructure:"max_backups"`
	MaxAgeDays int    `toml:"max_age_days" mapstructure:"max_age_days"`
	Compress   bool   `toml:"compress" mapstructure:"compress"`
}

type HistoryConfig struct {
	Enabled bool     `toml:"enabled" mapstructure:"enabled"`
	DSNs    []string `toml:"dsns" mapstructure:"dsns"`
}

// WorkUnitConfig tunes one work unit. Interval gates how often the unit's real
// effect runs; Endpoint, when set, receives a JSON POST per effect.
type WorkUnitConfig struct {
	Interval time.Duration `toml:"interval" mapstructure:"interval"`
	// Schedule, a cron expression or descriptor, replaces Interval when set.
	Schedule string        `toml:"schedule" mapstructure:"schedule"`
	Endpoint string        `toml:"endpoint" mapstructure:"endpoint"`
	// Timeout caps one call to Endpoint, retries included. Zero derives it
	// from the worker interval and heartbeat timeout, see EffectBudget.
	Timeout  time.Duration `toml:"timeout" mapstructure:"timeout"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("root", DefaultRoot)
	v.SetDefault("store", "")
	v.SetDefault("env", []string{})
	v.SetDefault("env_files", []string{})
	v.SetDefault("use_os_env", true)
	v.SetDefault("worker.interval", DefaultWorkerInterval)
	v.SetDefault("supervisor.interval", DefaultCheckInterval)
	v.SetDefault("supervisor.heartbeat_timeout", DefaultHeartbeatTimeout)
	v.SetDefault("supervisor.restart_delay", DefaultRestartDelay)
	v.SetDefault("supervisor.listen", "")
	v.SetDefault("supervisor.tls.enabled", false)
	v.SetDefault("supervisor.tls.cert_file", "")
	v.SetDefault("supervisor.tls.key_file", "")
	v.SetDefault("supervisor.tls.dir", "")
	v.SetDefault("supervisor.tls.auto_generate", false)
	v.SetDefault("supervisor.auth.enabled", false)
	v.SetDefault("supervisor.auth.username", "")
	v.SetDefault("supervisor.auth.password_hash", "")
	v.SetDefault("log.level", string(logger.LevelInfo))
	v.SetDefault("log.format", string(logger.FormatText))
	v.SetDefault("log.color", true)
	v.SetDefault("log.dir", "")
	v.SetDefault("log.max_size_mb", logger.DefaultMaxSizeMB)
	v.SetDefault("log.max_backups", logger.DefaultMaxBackups)
	v.SetDefault("log.max_age_days", logger.DefaultMaxAgeDays)
	v.SetDefault("log.compress", false)
	v.SetDefault("history.enabled", false)
	v.SetDefault("history.dsns", []string{})
}

// Load reads configuration from defaults, the optional TOML file at path and
// AGENTVISOR_* environment variables (highest precedence). Relative root and
// log directories are resolved against the working directory.
func Load(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigType("toml")
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	c.Path = path
	if err := c.normalize(); err != nil {
		return nil, err
	}
	return &c, nil
}

// Default returns the configuration used when no file is given and no
// environment overrides are set.
func Default() *Config {
	c, err := Load("")
	if err != nil {
		// defaults are static; failure means the process cannot resolve its cwd
		c = &Config{Root: DefaultRoot}
	}
	return c
}

func (c *Config) normalize() error {
	if strings.TrimSpace(c.Root) == "" {
		c.Root = DefaultRoot
	}
	root, err := filepath.Abs(c.Root)
	if err != nil {
		return fmt.Errorf("resolve root: %w", err)
	}
	c.Root = root
	if c.Log.Dir == "" {
		c.Log.Dir = filepath.Join(c.Root, "log")
	} else if c.Log.Dir, err = filepath.Abs(c.Log.Dir); err != nil {
		return fmt.Errorf("resolve log dir: %w", err)
	}

	if t := &c.Supervisor.TLS; t.Enabled && t.Dir == "" && (t.CertFile == "" || t.KeyFile == "") {
		t.Dir = filepath.Join(c.Root, "tls")
	}

	var errs []error
	if c.Worker.Interval <= 0 {
		errs = append(errs, errors.New("worker.interval must be positive"))
	}
	if c.Supervisor.Interval <= 0 {
		errs = append(errs, errors.New("supervisor.interval must be positive"))
	}
	if c.Supervisor.HeartbeatTimeout <= 0 {
		errs = append(errs, errors.New("supervisor.heartbeat_timeout must be positive"))
	}
	// a worker beats once per interval plus whatever its unit spends in a cycle
	slack := c.Supervisor.HeartbeatTimeout - c.Worker.Interval
	if c.Worker.Interval > 0 && c.Supervisor.HeartbeatTimeout > 0 && slack <= 0 {
		errs = append(errs, fmt.Errorf("worker.interval (%s) must be shorter than supervisor.heartbeat_timeout (%s)",
			c.Worker.Interval, c.Supervisor.HeartbeatTimeout))
	}
	if c.Supervisor.RestartDelay < 0 {
		errs = append(errs, errors.New("supervisor.restart_delay must not be negative"))
	}
	if err := c.Supervisor.Auth.Validate(); err != nil {
		errs = append(errs, fmt.Errorf("supervisor.auth: %w", err))
	}

	// viper lowercases map keys; work units are addressed by their upper-case name
	units := make(map[string]WorkUnitConfig, len(c.WorkUnits))
	for k, u := range c.WorkUnits {
		if u.Interval < 0 {
			errs = append(errs, fmt.Errorf("workunits.%s.interval must not be negative", k))
		}
		if u.Timeout < 0 {
			errs = append(errs, fmt.Errorf("workunits.%s.timeout must not be negative", k))
		} else if u.Timeout > 0 && slack > 0 && u.Timeout >= slack {
			errs = append(errs, fmt.Errorf("workunits.%s.timeout (%s) must be shorter than heartbeat_timeout minus worker.interval (%s)",
				k, u.Timeout, slack))
		}
		if u.Schedule != "" {
			if _, err := cron.ParseStandard(u.Schedule); err != nil {
				errs = append(errs, fmt.Errorf("workunits.%s.schedule: %w", k, err))
			}
		}
		units[strings.ToUpper(k)] = u
	}
	c.WorkUnits = units
	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

// WorkUnit returns the settings of unit with defaults applied.
func (c *Config) WorkUnit(unit string) WorkUnitConfig {
	u := c.WorkUnits[strings.ToUpper(unit)]
	if u.Interval == 0 {
		u.Interval = DefaultUnitInterval
	}
	if u.Timeout == 0 {
		u.Timeout = c.EffectBudget()
	}
	return u
}

// EffectBudget is how long one work-unit effect may take. Half the slack
// between the worker interval and the heartbeat timeout keeps the gap between
// two heartbeats below the timeout even when every cycle spends its budget.
func (c *Config) EffectBudget() time.Duration {
	b := (c.Supervisor.HeartbeatTimeout - c.Worker.Interval) / 2
	if b <= 0 {
		return time.Second
	}
	return min(b, MaxEffectBudget)
}

// LoggerConfig maps the [log] section onto the logger package.
func (c *Config) LoggerConfig() logger.Config {
	lc := logger.DefaultConfig()
	lc.Slog.Level = logger.Level(c.Log.Level)
	lc.Slog.Format = logger.Format(strings.ToLower(c.Log.Format))
	lc.Slog.Color = c.Log.Color && lc.Slog.Format != logger.FormatJSON
	lc.File = logger.FileConfig{
		Dir:        c.Log.Dir,
		MaxSizeMB:  c.Log.MaxSizeMB,
		MaxBackups: c.Log.MaxBackups,
		MaxAgeDays: c.Log.MaxAgeDays,
		Compress:   c.Log.Compress,
	}
	return lc
}

// LockPath is the supervisor singleton lock file.
func (c *Config) LockPath() string { return filepath.Join(c.Root, "supervisor.lock") }

// EnsureDirs creates the root and log directories.
func (c *Config) EnsureDirs() error {
	for _, d := range []string{c.Root, c.Log.Dir} {
		if err := os.MkdirAll(d, 0o750); err != nil {
			return fmt.Errorf("create %s: %w", d, err)
		}
	}
	return nil
}
