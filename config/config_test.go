package config

import (
	"fmt"
	"testing"

	"github.com/hay-kot/criterio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shipitai/reviewbot/diff"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr bool
		check   func(*ProjectConfig) error
	}{
		{
			name:    "empty document keeps defaults",
			content: "",
			check: func(c *ProjectConfig) error {
				if !c.Review.Enabled {
					t.Error("Enabled should be true")
				}
				if c.Review.DiffFormat != diff.FormatAIFriendly {
					t.Errorf("DiffFormat = %v, want %v", c.Review.DiffFormat, diff.FormatAIFriendly)
				}
				if c.Review.MaxFiles != DefaultMaxFiles {
					t.Errorf("MaxFiles = %v, want %v", c.Review.MaxFiles, DefaultMaxFiles)
				}
				return nil
			},
		},
		{
			name:    "disabled",
			content: "review:\n  enabled: false",
			check: func(c *ProjectConfig) error {
				if c.Review.Enabled {
					t.Error("Enabled should be false")
				}
				if c.Review.MaxContentLength != DefaultMaxContentLength {
					t.Errorf("MaxContentLength = %v, want default", c.Review.MaxContentLength)
				}
				return nil
			},
		},
		{
			name:    "raw format",
			content: "review:\n  diff_format: raw\n  include_deleted_files: true",
			check: func(c *ProjectConfig) error {
				if c.Review.DiffFormat != diff.FormatRaw {
					t.Errorf("DiffFormat = %v, want raw", c.Review.DiffFormat)
				}
				if !c.Review.IncludeDeletedFiles {
					t.Error("IncludeDeletedFiles should be true")
				}
				return nil
			},
		},
		{
			name:    "events replace the default list",
			content: "trigger:\n  events: [push]\n  branches: [main, develop]",
			check: func(c *ProjectConfig) error {
				if len(c.Trigger.Events) != 1 || c.Trigger.Events[0] != EventPush {
					t.Errorf("Events = %v, want [push]", c.Trigger.Events)
				}
				if len(c.Trigger.Branches) != 2 {
					t.Errorf("Branches = %v", c.Trigger.Branches)
				}
				return nil
			},
		},
		{
			name:    "line matching overrides keep other defaults",
			content: "review:\n  line_matching:\n    max_distance: 2",
			check: func(c *ProjectConfig) error {
				m := c.Review.LineMatching
				if m.MaxDistance != 2 {
					t.Errorf("MaxDistance = %v, want 2", m.MaxDistance)
				}
				if !m.EnableSmartMatching || !m.EnableContentMatching {
					t.Error("matching switches should keep their defaults")
				}
				return nil
			},
		},
		{
			name: "with integrations and references",
			content: `integrations:
  - type: slack
    enabled: true
    webhook_url: https://hooks.slack.com/services/x
references:
  - name: style
    path: docs/STYLE.md
  - url: https://example.com/guide.md`,
			check: func(c *ProjectConfig) error {
				if len(c.Integrations) != 1 || c.Integrations[0].Type != "slack" {
					t.Errorf("Integrations = %+v", c.Integrations)
				}
				if len(c.References) != 2 || c.References[0].Path != "docs/STYLE.md" {
					t.Errorf("References = %+v", c.References)
				}
				return nil
			},
		},
		{
			name:    "with instructions",
			content: "review:\n  instructions: Focus on security",
			check: func(c *ProjectConfig) error {
				if c.Review.Instructions != "Focus on security" {
					t.Errorf("Instructions = %v, want 'Focus on security'", c.Review.Instructions)
				}
				return nil
			},
		},
		{
			name:    "invalid diff format",
			content: "review:\n  diff_format: fancy",
			wantErr: true,
		},
		{
			name:    "invalid YAML",
			content: "review: [invalid",
			wantErr: true,
		},
		{
			name:    "unknown event",
			content: "trigger:\n  events: [tag]",
			wantErr: true,
		},
		{
			name:    "unknown integration",
			content: "integrations:\n  - type: carrier-pigeon",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config, err := Parse([]byte(tt.content))
			if (err != nil) != tt.wantErr {
				t.Errorf("Parse() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if !tt.wantErr && tt.check != nil {
				if err := tt.check(config); err != nil {
					t.Errorf("check() failed: %v", err)
				}
			}
		})
	}
}

func TestValidate_FieldErrors(t *testing.T) {
	cfg := DefaultProjectConfig()
	cfg.Review.MaxFiles = 0
	cfg.Files.Exclude = []string{"[unclosed"}
	cfg.References = []Reference{{Name: "both", Path: "a.md", URL: "https://example.com"}}

	err := cfg.Validate()

	var fieldErrs criterio.FieldErrors
	require.ErrorAs(t, err, &fieldErrs)
	assert.Len(t, fieldErrs, 3)

	fields := make([]string, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		fields = append(fields, fe.Field)
	}
	assert.Contains(t, fields, "review.max_files")
	assert.Contains(t, fields, "files.exclude[0]")
	assert.Contains(t, fields, "references[0]")
}

func TestDefaultProjectConfig(t *testing.T) {
	config := DefaultProjectConfig()

	if !config.Review.Enabled {
		t.Error("Default Enabled should be true")
	}
	if config.Trigger.IncludeDraft {
		t.Error("Default IncludeDraft should be false")
	}
	if len(config.Trigger.Events) != 2 {
		t.Errorf("Default Events = %v, want pull_request and push", config.Trigger.Events)
	}
	if err := config.Validate(); err != nil {
		t.Errorf("defaults should validate: %v", err)
	}
}

func TestConfigParseError(t *testing.T) {
	t.Run("error message includes path and underlying error", func(t *testing.T) {
		underlying := fmt.Errorf("yaml: line 1: could not find expected ':'")
		parseErr := &ConfigParseError{
			Path: ".codereview.yml",
			Err:  underlying,
		}

		errMsg := parseErr.Error()
		if errMsg != "invalid config at .codereview.yml: yaml: line 1: could not find expected ':'" {
			t.Errorf("Error() = %q, want message containing path and underlying error", errMsg)
		}
	})

	t.Run("errors.Is works with Unwrap", func(t *testing.T) {
		underlying := fmt.Errorf("some parse error")
		parseErr := &ConfigParseError{
			Path: ".codereview.yml",
			Err:  underlying,
		}

		if parseErr.Unwrap() != underlying {
			t.Error("Unwrap() should return underlying error")
		}
	})
}
