package config

import (
	"fmt"
	"net"
	"slices"
	"strings"

	"github.com/gobwas/glob"

	"github.com/Iron-Ham/krenk/internal/orchestrator/stage"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "engine.max_parallel")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "%d validation errors:\n", len(e))
	for i, err := range e {
		fmt.Fprintf(&sb, "  %d. %s\n", i+1, err.Error())
	}
	return sb.String()
}

// ValidLogLevels returns the list of valid log levels
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError
	errors = append(errors, c.validateEngine()...)
	errors = append(errors, c.validateSupervisor()...)
	errors = append(errors, c.validateDirector()...)
	errors = append(errors, c.validateRoles()...)
	errors = append(errors, c.validateLogging()...)
	errors = append(errors, c.validateMetrics()...)
	return errors
}

func (c *Config) validateEngine() []ValidationError {
	var errors []ValidationError

	const maxParallel = 16
	if c.Engine.MaxParallel < 1 || c.Engine.MaxParallel > maxParallel {
		errors = append(errors, ValidationError{
			Field:   "engine.max_parallel",
			Value:   c.Engine.MaxParallel,
			Message: fmt.Sprintf("must be between 1 and %d", maxParallel),
		})
	}
	if c.Engine.MaxRevisions < 0 {
		errors = append(errors, ValidationError{
			Field:   "engine.max_revisions",
			Value:   c.Engine.MaxRevisions,
			Message: "must be non-negative",
		})
	}
	for _, token := range c.Engine.Skip {
		if !namesStage(token) {
			errors = append(errors, ValidationError{
				Field:   "engine.skip",
				Value:   token,
				Message: "does not name a stage id, role or label",
			})
		}
	}
	if strings.TrimSpace(c.Engine.AgentBinary) == "" {
		errors = append(errors, ValidationError{
			Field:   "engine.agent_binary",
			Value:   c.Engine.AgentBinary,
			Message: "must not be empty",
		})
	}

	return errors
}

func (c *Config) validateSupervisor() []ValidationError {
	var errors []ValidationError
	s := c.Supervisor

	positive := []struct {
		field string
		value int
	}{
		{"supervisor.poll_interval_ms", s.PollIntervalMs},
		{"supervisor.max_memory_mb", s.MaxMemoryMB},
		{"supervisor.max_runtime_seconds", s.MaxRuntimeSeconds},
		{"supervisor.hang_timeout_seconds", s.HangTimeoutSeconds},
		{"supervisor.hang_warning_seconds", s.HangWarningSeconds},
		{"supervisor.kill_grace_ms", s.KillGraceMs},
	}
	for _, p := range positive {
		if p.value <= 0 {
			errors = append(errors, ValidationError{Field: p.field, Value: p.value, Message: "must be positive"})
		}
	}

	if s.HangWarningSeconds > 0 && s.HangTimeoutSeconds > 0 && s.HangWarningSeconds >= s.HangTimeoutSeconds {
		errors = append(errors, ValidationError{
			Field:   "supervisor.hang_warning_seconds",
			Value:   s.HangWarningSeconds,
			Message: fmt.Sprintf("must be less than hang_timeout_seconds (%d)", s.HangTimeoutSeconds),
		})
	}

	return errors
}

func (c *Config) validateDirector() []ValidationError {
	var errors []ValidationError

	if c.Director.MaxRedos < 0 {
		errors = append(errors, ValidationError{
			Field:   "director.max_redos",
			Value:   c.Director.MaxRedos,
			Message: "must be non-negative",
		})
	}
	if c.Director.PhasedPromptThreshold <= 0 {
		errors = append(errors, ValidationError{
			Field:   "director.phased_prompt_threshold",
			Value:   c.Director.PhasedPromptThreshold,
			Message: "must be positive",
		})
	}
	for _, pattern := range c.Director.ConflictIgnore {
		if _, err := glob.Compile(pattern, '/'); err != nil {
			errors = append(errors, ValidationError{
				Field:   "director.conflict_ignore",
				Value:   pattern,
				Message: fmt.Sprintf("invalid glob: %v", err),
			})
		}
	}

	return errors
}

func (c *Config) validateRoles() []ValidationError {
	var errors []ValidationError

	known := stage.Roles()
	for name, rc := range c.Roles {
		if !slices.Contains(known, name) {
			errors = append(errors, ValidationError{
				Field:   "roles." + name,
				Value:   name,
				Message: fmt.Sprintf("unknown role; must be one of: %s", strings.Join(known, ", ")),
			})
		}
		if rc.MaxTurns < 0 {
			errors = append(errors, ValidationError{
				Field:   "roles." + name + ".max_turns",
				Value:   rc.MaxTurns,
				Message: "must be non-negative",
			})
		}
	}

	return errors
}

func (c *Config) validateLogging() []ValidationError {
	var errors []ValidationError

	if c.Logging.Level != "" && !slices.Contains(ValidLogLevels(), c.Logging.Level) {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		})
	}

	if c.Logging.MaxSizeMB <= 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: "must be positive",
		})
	}

	const maxLogSizeMB = 1000
	if c.Logging.MaxSizeMB > maxLogSizeMB {
		errors = append(errors, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: fmt.Sprintf("exceeds maximum of %dMB", maxLogSizeMB),
		})
	}

	if c.Logging.MaxBackups < 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_backups",
			Value:   c.Logging.MaxBackups,
			Message: "must be non-negative",
		})
	}

	return errors
}

func (c *Config) validateMetrics() []ValidationError {
	if !c.Metrics.Enabled {
		return nil
	}
	if _, _, err := net.SplitHostPort(c.Metrics.Addr); err != nil {
		return []ValidationError{{
			Field:   "metrics.addr",
			Value:   c.Metrics.Addr,
			Message: "must be host:port",
		}}
	}
	return nil
}

func namesStage(token string) bool {
	for _, info := range stage.Workable() {
		if stage.ShouldSkip(info, []string{token}) {
			return true
		}
	}
	return false
}
