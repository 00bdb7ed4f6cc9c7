package config

import (
	"strings"
	"testing"
)

func TestValidationError_Error(t *testing.T) {
	err := ValidationError{
		Field:   "test.field",
		Value:   123,
		Message: "must be greater than zero",
	}

	expected := "test.field: must be greater than zero (got: 123)"
	if err.Error() != expected {
		t.Errorf("Error() = %q, want %q", err.Error(), expected)
	}
}

func TestValidationErrors_Error(t *testing.T) {
	t.Run("empty errors", func(t *testing.T) {
		var errs ValidationErrors
		if errs.Error() != "" {
			t.Errorf("Error() for empty = %q, want empty string", errs.Error())
		}
	})

	t.Run("single error", func(t *testing.T) {
		errs := ValidationErrors{
			{Field: "test.field", Value: 123, Message: "is invalid"},
		}
		expected := "test.field: is invalid (got: 123)"
		if errs.Error() != expected {
			t.Errorf("Error() = %q, want %q", errs.Error(), expected)
		}
	})

	t.Run("multiple errors", func(t *testing.T) {
		errs := ValidationErrors{
			{Field: "field1", Value: "bad", Message: "is invalid"},
			{Field: "field2", Value: -1, Message: "must be positive"},
		}
		result := errs.Error()
		if !strings.Contains(result, "2 validation errors") {
			t.Errorf("Error() should mention 2 errors: %s", result)
		}
		if !strings.Contains(result, "field1") || !strings.Contains(result, "field2") {
			t.Errorf("Error() should mention both fields: %s", result)
		}
	})
}

func TestConfig_Validate_DefaultConfig(t *testing.T) {
	if errs := Default().Validate(); len(errs) != 0 {
		t.Errorf("Default config should be valid, got %d errors: %v", len(errs), errs)
	}
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"zero parallel", func(c *Config) { c.Engine.MaxParallel = 0 }, "engine.max_parallel"},
		{"too much parallel", func(c *Config) { c.Engine.MaxParallel = 100 }, "engine.max_parallel"},
		{"negative revisions", func(c *Config) { c.Engine.MaxRevisions = -1 }, "engine.max_revisions"},
		{"unknown skip", func(c *Config) { c.Engine.Skip = []string{"linting"} }, "engine.skip"},
		{"empty binary", func(c *Config) { c.Engine.AgentBinary = " " }, "engine.agent_binary"},
		{"zero poll", func(c *Config) { c.Supervisor.PollIntervalMs = 0 }, "supervisor.poll_interval_ms"},
		{"zero memory", func(c *Config) { c.Supervisor.MaxMemoryMB = 0 }, "supervisor.max_memory_mb"},
		{"warning after timeout", func(c *Config) { c.Supervisor.HangWarningSeconds = 600 }, "supervisor.hang_warning_seconds"},
		{"negative redos", func(c *Config) { c.Director.MaxRedos = -2 }, "director.max_redos"},
		{"zero threshold", func(c *Config) { c.Director.PhasedPromptThreshold = 0 }, "director.phased_prompt_threshold"},
		{"bad glob", func(c *Config) { c.Director.ConflictIgnore = []string{"[unclosed"} }, "director.conflict_ignore"},
		{"unknown role", func(c *Config) { c.Roles = map[string]RoleConfig{"poet": {}} }, "roles.poet"},
		{"negative turns", func(c *Config) { c.Roles = map[string]RoleConfig{"builder": {MaxTurns: -1}} }, "roles.builder.max_turns"},
		{"bad level", func(c *Config) { c.Logging.Level = "verbose" }, "logging.level"},
		{"zero log size", func(c *Config) { c.Logging.MaxSizeMB = 0 }, "logging.max_size_mb"},
		{"huge log size", func(c *Config) { c.Logging.MaxSizeMB = 5000 }, "logging.max_size_mb"},
		{"negative backups", func(c *Config) { c.Logging.MaxBackups = -1 }, "logging.max_backups"},
		{"bad metrics addr", func(c *Config) { c.Metrics.Enabled = true; c.Metrics.Addr = "9464" }, "metrics.addr"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			errs := cfg.Validate()
			found := false
			for _, e := range errs {
				if e.Field == tt.field {
					found = true
				}
			}
			if !found {
				t.Errorf("Validate() errors = %v, want one for %s", errs, tt.field)
			}
		})
	}
}

func TestConfig_Validate_SkipForms(t *testing.T) {
	cfg := Default()
	cfg.Engine.Skip = []string{"qa-planning", "tester", "Documenting", " security "}
	if errs := cfg.Validate(); len(errs) != 0 {
		t.Errorf("stage ids, roles and labels should all be accepted: %v", errs)
	}
}
