package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"

	"github.com/Iron-Ham/krenk/internal/instance/detect"
	"github.com/Iron-Ham/krenk/internal/logging"
	"github.com/Iron-Ham/krenk/internal/orchestrator"
	"github.com/Iron-Ham/krenk/internal/orchestrator/director"
)

// Config represents the complete krenk configuration
type Config struct {
	Engine     EngineConfig          `mapstructure:"engine"`
	Supervisor SupervisorConfig      `mapstructure:"supervisor"`
	Director   DirectorConfig        `mapstructure:"director"`
	Roles      map[string]RoleConfig `mapstructure:"roles"`
	Logging    LoggingConfig         `mapstructure:"logging"`
	Metrics    MetricsConfig         `mapstructure:"metrics"`
}

// EngineConfig controls the stage pipeline
type EngineConfig struct {
	// MaxParallel bounds concurrent builders when the plan defines modules (default: 3)
	MaxParallel int `mapstructure:"max_parallel"`
	// MaxRevisions bounds how often review stages can send the run back to coding (default: 2)
	MaxRevisions int `mapstructure:"max_revisions"`
	// Skip names stages to skip by id, role or label
	Skip []string `mapstructure:"skip"`
	// Supervised asks for approval before every stage
	Supervised bool `mapstructure:"supervised"`
	// AgentBinary is the external agent executable (default: "claude")
	AgentBinary string `mapstructure:"agent_binary"`
}

// SupervisorConfig controls the process watchdog
type SupervisorConfig struct {
	PollIntervalMs     int `mapstructure:"poll_interval_ms"`
	MaxMemoryMB        int `mapstructure:"max_memory_mb"`
	MaxRuntimeSeconds  int `mapstructure:"max_runtime_seconds"`
	HangTimeoutSeconds int `mapstructure:"hang_timeout_seconds"`
	HangWarningSeconds int `mapstructure:"hang_warning_seconds"`
	// KillGraceMs is the wait between SIGTERM and SIGKILL
	KillGraceMs int `mapstructure:"kill_grace_ms"`
}

// DirectorConfig controls review and intervention policy
type DirectorConfig struct {
	// MaxRedos is the per-role redo budget (default: 2)
	MaxRedos int `mapstructure:"max_redos"`
	// PhasedPromptThreshold is the prompt length above which builders run in phases
	PhasedPromptThreshold int `mapstructure:"phased_prompt_threshold"`
	// RedoOnFatalSignal turns fatal output signals into redo requests instead of log-only blockers
	RedoOnFatalSignal bool `mapstructure:"redo_on_fatal_signal"`
	// ConflictIgnore lists glob patterns excluded from file conflict detection
	ConflictIgnore []string `mapstructure:"conflict_ignore"`
}

// RoleConfig overrides the built-in catalog for one role
type RoleConfig struct {
	MaxTurns int    `mapstructure:"max_turns"`
	Model    string `mapstructure:"model"`
}

// LoggingConfig controls debug logging behavior
type LoggingConfig struct {
	// Enabled controls whether debug logging is enabled (default: true)
	Enabled bool `mapstructure:"enabled"`
	// Level is the log level: "debug", "info", "warn", "error" (default: "info")
	Level string `mapstructure:"level"`
	// MaxSizeMB is the maximum log file size in megabytes before rotation (default: 10)
	MaxSizeMB int `mapstructure:"max_size_mb"`
	// MaxBackups is the number of backup log files to keep (default: 3)
	MaxBackups int `mapstructure:"max_backups"`
	// Compress gzips rotated log files
	Compress bool `mapstructure:"compress"`
}

// MetricsConfig controls the Prometheus endpoint
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Addr    string `mapstructure:"addr"`
}

// Default returns a Config with sensible default values
func Default() *Config {
	th := detect.DefaultThresholds()
	pol := director.DefaultPolicy()
	return &Config{
		Engine: EngineConfig{
			MaxParallel:  3,
			MaxRevisions: orchestrator.DefaultMaxRevisions,
			Skip:         []string{},
			Supervised:   false,
			AgentBinary:  "claude",
		},
		Supervisor: SupervisorConfig{
			PollIntervalMs:     5000,
			MaxMemoryMB:        int(th.MaxMemoryBytes / (1024 * 1024)),
			MaxRuntimeSeconds:  int(th.MaxRuntime / time.Second),
			HangTimeoutSeconds: int(th.HangTimeout / time.Second),
			HangWarningSeconds: int(th.HangWarning / time.Second),
			KillGraceMs:        3000,
		},
		Director: DirectorConfig{
			MaxRedos:              pol.MaxRedos,
			PhasedPromptThreshold: pol.PhasedThreshold,
			RedoOnFatalSignal:     false, // blockers are logged, the worker keeps going
			ConflictIgnore:        pol.ConflictIgnore,
		},
		Roles: map[string]RoleConfig{},
		Logging: LoggingConfig{
			Enabled:    true,
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    "127.0.0.1:9464",
		},
	}
}

// PollInterval returns the supervisor poll interval as a time.Duration
func (c *SupervisorConfig) PollInterval() time.Duration {
	return time.Duration(c.PollIntervalMs) * time.Millisecond
}

// KillGrace returns the SIGTERM to SIGKILL grace period as a time.Duration
func (c *SupervisorConfig) KillGrace() time.Duration {
	return time.Duration(c.KillGraceMs) * time.Millisecond
}

// Thresholds converts the watchdog limits for the health evaluator.
func (c *SupervisorConfig) Thresholds() detect.Thresholds {
	th := detect.DefaultThresholds()
	th.MaxMemoryBytes = int64(c.MaxMemoryMB) * 1024 * 1024
	th.MaxRuntime = time.Duration(c.MaxRuntimeSeconds) * time.Second
	th.HangTimeout = time.Duration(c.HangTimeoutSeconds) * time.Second
	th.HangWarning = time.Duration(c.HangWarningSeconds) * time.Second
	return th
}

// Rotation returns the log rotation settings.
func (c *LoggingConfig) Rotation() logging.RotationConfig {
	return logging.RotationConfig{MaxSizeMB: c.MaxSizeMB, MaxBackups: c.MaxBackups, Compress: c.Compress}
}

// EngineOptions maps the configuration onto run options for workDir.
func (c *Config) EngineOptions(workDir string) orchestrator.Options {
	opts := orchestrator.DefaultOptions(workDir)
	opts.MaxParallel = c.Engine.MaxParallel
	opts.MaxRevisions = c.Engine.MaxRevisions
	opts.Skip = append([]string(nil), c.Engine.Skip...)
	opts.Supervised = c.Engine.Supervised
	opts.AgentBinary = c.Engine.AgentBinary
	opts.KillGrace = c.Supervisor.KillGrace()

	opts.Supervisor.PollInterval = c.Supervisor.PollInterval()
	opts.Supervisor.KillGrace = c.Supervisor.KillGrace()
	opts.Supervisor.Thresholds = c.Supervisor.Thresholds()

	opts.Director.MaxRedos = c.Director.MaxRedos
	opts.Director.PhasedThreshold = c.Director.PhasedPromptThreshold
	opts.Director.RedoOnFatalSignal = c.Director.RedoOnFatalSignal
	if len(c.Director.ConflictIgnore) > 0 {
		opts.Director.ConflictIgnore = append([]string(nil), c.Director.ConflictIgnore...)
	}

	if len(c.Roles) > 0 {
		opts.RoleTurns = make(map[string]int, len(c.Roles))
		opts.RoleModels = make(map[string]string, len(c.Roles))
		for name, rc := range c.Roles {
			if rc.MaxTurns > 0 {
				opts.RoleTurns[name] = rc.MaxTurns
			}
			if rc.Model != "" {
				opts.RoleModels[name] = rc.Model
			}
		}
	}
	return opts
}

// SetDefaults registers default values with viper
func SetDefaults() {
	defaults := Default()

	// Engine defaults
	viper.SetDefault("engine.max_parallel", defaults.Engine.MaxParallel)
	viper.SetDefault("engine.max_revisions", defaults.Engine.MaxRevisions)
	viper.SetDefault("engine.skip", defaults.Engine.Skip)
	viper.SetDefault("engine.supervised", defaults.Engine.Supervised)
	viper.SetDefault("engine.agent_binary", defaults.Engine.AgentBinary)

	// Supervisor defaults
	viper.SetDefault("supervisor.poll_interval_ms", defaults.Supervisor.PollIntervalMs)
	viper.SetDefault("supervisor.max_memory_mb", defaults.Supervisor.MaxMemoryMB)
	viper.SetDefault("supervisor.max_runtime_seconds", defaults.Supervisor.MaxRuntimeSeconds)
	viper.SetDefault("supervisor.hang_timeout_seconds", defaults.Supervisor.HangTimeoutSeconds)
	viper.SetDefault("supervisor.hang_warning_seconds", defaults.Supervisor.HangWarningSeconds)
	viper.SetDefault("supervisor.kill_grace_ms", defaults.Supervisor.KillGraceMs)

	// Director defaults
	viper.SetDefault("director.max_redos", defaults.Director.MaxRedos)
	viper.SetDefault("director.phased_prompt_threshold", defaults.Director.PhasedPromptThreshold)
	viper.SetDefault("director.redo_on_fatal_signal", defaults.Director.RedoOnFatalSignal)
	viper.SetDefault("director.conflict_ignore", defaults.Director.ConflictIgnore)

	viper.SetDefault("roles", map[string]any{})

	// Logging defaults
	viper.SetDefault("logging.enabled", defaults.Logging.Enabled)
	viper.SetDefault("logging.level", defaults.Logging.Level)
	viper.SetDefault("logging.max_size_mb", defaults.Logging.MaxSizeMB)
	viper.SetDefault("logging.max_backups", defaults.Logging.MaxBackups)
	viper.SetDefault("logging.compress", defaults.Logging.Compress)

	// Metrics defaults
	viper.SetDefault("metrics.enabled", defaults.Metrics.Enabled)
	viper.SetDefault("metrics.addr", defaults.Metrics.Addr)
}

// Load reads the configuration from viper into a Config struct and validates it
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// Get returns the current configuration (convenience function)
func Get() *Config {
	cfg, err := Load()
	if err != nil {
		// Fall back to defaults if unmarshaling fails
		return Default()
	}
	return cfg
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "krenk")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".krenk"
	}
	return filepath.Join(home, ".config", "krenk")
}

// ConfigFile returns the path to the config file
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}
