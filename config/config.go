// Package config handles loading and parsing project review configuration and
// decides, from that configuration, whether an event warrants a review.
package config

import (
	"fmt"
	"slices"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/hay-kot/criterio"
	"gopkg.in/yaml.v3"

	"github.com/shipitai/reviewbot/diff"
	"github.com/shipitai/reviewbot/notify"
)

const (
	// DefaultConfigPath is where the project config file is looked up first.
	DefaultConfigPath = ".codereview.yml"
	// FallbackConfigPath is tried when DefaultConfigPath does not exist.
	FallbackConfigPath = ".github/codereview.yml"

	// EventPullRequest covers pull requests and merge requests.
	EventPullRequest = "pull_request"
	// EventPush covers branch pushes.
	EventPush = "push"

	DefaultMaxFiles         = 50
	DefaultMaxContentLength = 100000
)

// ConfigParseError indicates a configuration file exists but contains invalid content.
// This is distinct from "file not found" errors, which should use default config.
type ConfigParseError struct {
	Path string
	Err  error
}

func (e *ConfigParseError) Error() string {
	return fmt.Sprintf("invalid config at %s: %v", e.Path, e.Err)
}

func (e *ConfigParseError) Unwrap() error {
	return e.Err
}

// ProjectConfig is the per-repository review configuration. It is read once
// per event and treated as immutable afterwards.
type ProjectConfig struct {
	Review       ReviewConfig           `yaml:"review"`
	Files        FilesConfig            `yaml:"files"`
	Trigger      TriggerConfig          `yaml:"trigger"`
	Integrations []notify.ChannelConfig `yaml:"integrations"`
	References   []Reference            `yaml:"references"`
}

// ReviewConfig controls whether and how reviews run.
type ReviewConfig struct {
	Enabled             bool        `yaml:"enabled"`
	DiffFormat          diff.Format `yaml:"diff_format"`
	IncludeDeletedFiles bool        `yaml:"include_deleted_files"`
	// MaxFiles and MaxContentLength cap the size of a reviewable change set.
	MaxFiles         int `yaml:"max_files"`
	MaxContentLength int `yaml:"max_content_length"`
	// Instructions provides custom guidance for the reviewer.
	// Example: "Focus on security. We use sqlc for DB queries."
	Instructions string `yaml:"instructions"`
	// Language is the natural language the review is written in.
	Language     string            `yaml:"language"`
	LineMatching diff.MatchOptions `yaml:"line_matching"`
}

// FilesConfig narrows the set of reviewable files. Empty lists do not filter.
type FilesConfig struct {
	// Extensions such as ".go" or ".ts", compared case-insensitively.
	Extensions []string `yaml:"extensions"`
	// Include and Exclude are glob patterns.
	// Example: ["vendor/**", "*.gen.go", "docs/**"]
	Include []string `yaml:"include"`
	Exclude []string `yaml:"exclude"`
}

// TriggerConfig decides which events start a review.
type TriggerConfig struct {
	Events []string `yaml:"events"`
	// Branches is an allow-list, compared case-insensitively.
	Branches     []string    `yaml:"branches"`
	IncludeDraft bool        `yaml:"include_draft"`
	IgnoreRules  IgnoreRules `yaml:"ignore_rules"`
}

// IgnoreRules skip events by title or branch name.
type IgnoreRules struct {
	TitleContains []string `yaml:"title_contains"`
	// BranchMatches entries containing "*" are wildcards; others match exactly.
	BranchMatches []string `yaml:"branch_matches"`
}

// Reference is a document handed to the reviewer as background. Exactly one
// of Path (a file in the repository) or URL is set.
type Reference struct {
	Name string `yaml:"name"`
	Path string `yaml:"path"`
	URL  string `yaml:"url"`
}

// DefaultProjectConfig returns the configuration used when a repository has
// no config file or an invalid one.
func DefaultProjectConfig() *ProjectConfig {
	return &ProjectConfig{
		Review: ReviewConfig{
			Enabled:          true,
			DiffFormat:       diff.FormatAIFriendly,
			MaxFiles:         DefaultMaxFiles,
			MaxContentLength: DefaultMaxContentLength,
			LineMatching:     diff.DefaultMatchOptions(),
		},
		Trigger: TriggerConfig{
			Events: []string{EventPullRequest, EventPush},
		},
	}
}

// Parse parses a config from YAML content over the defaults.
func Parse(content []byte) (*ProjectConfig, error) {
	config := DefaultProjectConfig()
	if err := yaml.Unmarshal(content, config); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	if config.Review.DiffFormat == "" {
		config.Review.DiffFormat = diff.FormatAIFriendly
	}

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

// Validate validates the configuration.
func (c *ProjectConfig) Validate() error {
	return criterio.ValidateStruct(
		criterio.Run("review.diff_format", c.Review.DiffFormat, validDiffFormat),
		criterio.Run("review.max_files", c.Review.MaxFiles, positive),
		criterio.Run("review.max_content_length", c.Review.MaxContentLength, positive),
		criterio.Run("review.line_matching.max_distance", c.Review.LineMatching.MaxDistance, nonNegative),
		c.validateEvents(),
		c.validateGlobs(),
		c.validateReferences(),
		c.validateIntegrations(),
	)
}

func validDiffFormat(f diff.Format) error {
	switch f {
	case diff.FormatRaw, diff.FormatAIFriendly:
		return nil
	default:
		return fmt.Errorf("invalid diff format %q (must be %q or %q)", f, diff.FormatRaw, diff.FormatAIFriendly)
	}
}

func positive(n int) error {
	if n <= 0 {
		return fmt.Errorf("must be greater than 0, got %d", n)
	}
	return nil
}

func nonNegative(n int) error {
	if n < 0 {
		return fmt.Errorf("must not be negative, got %d", n)
	}
	return nil
}

func (c *ProjectConfig) validateEvents() error {
	var errs criterio.FieldErrorsBuilder
	for i, ev := range c.Trigger.Events {
		if ev != EventPullRequest && ev != EventPush {
			errs = errs.Append(fmt.Sprintf("trigger.events[%d]", i), fmt.Errorf("unknown event %q", ev))
		}
	}
	return errs.ToError()
}

func (c *ProjectConfig) validateGlobs() error {
	var errs criterio.FieldErrorsBuilder
	check := func(field string, patterns []string) {
		for i, p := range patterns {
			if !doublestar.ValidatePattern(p) {
				errs = errs.Append(fmt.Sprintf("%s[%d]", field, i), fmt.Errorf("invalid glob %q", p))
			}
		}
	}
	check("files.include", c.Files.Include)
	check("files.exclude", c.Files.Exclude)
	return errs.ToError()
}

func (c *ProjectConfig) validateReferences() error {
	var errs criterio.FieldErrorsBuilder
	for i, ref := range c.References {
		if (ref.Path == "") == (ref.URL == "") {
			errs = errs.Append(fmt.Sprintf("references[%d]", i), fmt.Errorf("exactly one of path or url is required"))
		}
	}
	return errs.ToError()
}

func (c *ProjectConfig) validateIntegrations() error {
	var errs criterio.FieldErrorsBuilder
	for i, ch := range c.Integrations {
		if !slices.Contains(notify.Types(), ch.Type) {
			errs = errs.Append(fmt.Sprintf("integrations[%d].type", i), fmt.Errorf("unknown channel type %q", ch.Type))
		}
	}
	return errs.ToError()
}
