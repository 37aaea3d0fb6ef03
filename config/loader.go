package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
)

// ContentFetcher reads a file from a repository at a ref, returning "" when
// the file does not exist. vcs.Client satisfies it.
type ContentFetcher interface {
	GetContentAsText(ctx context.Context, owner, repo, path, ref string) (string, error)
}

// Loader loads configuration from repositories.
type Loader struct {
	logger *slog.Logger
}

// NewLoader creates a new config loader.
func NewLoader(logger *slog.Logger) *Loader {
	return &Loader{logger: logger}
}

// Load fetches and parses the project config at ref. It never fails: a
// missing file yields the defaults, and an unreadable or invalid file yields
// the defaults plus a warning.
func (l *Loader) Load(ctx context.Context, client ContentFetcher, owner, repo, ref string) *ProjectConfig {
	for _, path := range []string{DefaultConfigPath, FallbackConfigPath} {
		content, err := client.GetContentAsText(ctx, owner, repo, path, ref)
		if err != nil {
			l.logger.Warn("failed to fetch config, using defaults",
				"repo", owner+"/"+repo, "path", path, "ref", ref, "error", err)
			return DefaultProjectConfig()
		}
		if content == "" {
			continue
		}

		config, err := Parse([]byte(content))
		if err != nil {
			// Wrap parse errors so the log distinguishes them from fetch errors
			perr := &ConfigParseError{Path: path, Err: err}
			l.logger.Warn("invalid config, using defaults", "repo", owner+"/"+repo, "error", perr)
			return DefaultProjectConfig()
		}
		return config
	}

	return DefaultProjectConfig()
}

// LoadFile reads a project config from the local filesystem. A missing file
// yields the defaults; an invalid one yields a *ConfigParseError.
func LoadFile(path string) (*ProjectConfig, error) {
	content, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return DefaultProjectConfig(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	config, err := Parse(content)
	if err != nil {
		return nil, &ConfigParseError{Path: path, Err: err}
	}
	return config, nil
}
