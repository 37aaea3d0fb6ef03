package config

import (
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/hay-kot/criterio"
)

// LLM providers selectable through LLM_PROVIDER.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
)

// ServerConfig holds process-wide settings, read once at startup.
type ServerConfig struct {
	Port string

	// DatabaseURL selects PostgreSQL; otherwise SQLitePath is used.
	DatabaseURL string
	SQLitePath  string

	GitHubToken      string
	GitHubAppID      int64
	GitHubPrivateKey string
	GitHubAPIURL     string

	GitLabToken string
	GitLabURL   string

	LLMProvider     string
	LLMModel        string
	AnthropicAPIKey string
	OpenAIAPIKey    string
	OpenAIBaseURL   string

	PushReviewEnabled bool
	// ForceReview re-reviews unchanged heads. Debugging only.
	ForceReview bool
	// ReviewTimeout bounds one webhook event's processing.
	ReviewTimeout time.Duration

	LogLevel  string
	LogFormat string
}

// LoadServerConfig reads settings through getenv (usually os.Getenv) and
// validates them.
func LoadServerConfig(getenv func(string) string) (*ServerConfig, error) {
	cfg := &ServerConfig{
		Port:             envOr(getenv, "PORT", "8080"),
		DatabaseURL:      getenv("DATABASE_URL"),
		SQLitePath:       envOr(getenv, "SQLITE_PATH", "reviewbot.db"),
		GitHubToken:      getenv("GITHUB_TOKEN"),
		GitHubPrivateKey: getenv("GITHUB_PRIVATE_KEY"),
		GitHubAPIURL:     getenv("GITHUB_API_URL"),
		GitLabToken:      getenv("GITLAB_TOKEN"),
		GitLabURL:        envOr(getenv, "GITLAB_URL", "https://gitlab.com"),
		LLMProvider:      strings.ToLower(envOr(getenv, "LLM_PROVIDER", ProviderAnthropic)),
		LLMModel:         getenv("LLM_MODEL"),
		AnthropicAPIKey:  getenv("ANTHROPIC_API_KEY"),
		OpenAIAPIKey:     getenv("OPENAI_API_KEY"),
		OpenAIBaseURL:    getenv("OPENAI_BASE_URL"),
		ReviewTimeout:    10 * time.Minute,
		LogLevel:         strings.ToLower(envOr(getenv, "LOG_LEVEL", "info")),
		LogFormat:        strings.ToLower(envOr(getenv, "LOG_FORMAT", "json")),
	}

	var errs criterio.FieldErrorsBuilder

	if v := getenv("GITHUB_APP_ID"); v != "" {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			errs = errs.Append("GITHUB_APP_ID", fmt.Errorf("invalid app id: %w", err))
		}
		cfg.GitHubAppID = id
	}

	for name, dst := range map[string]*bool{
		"PUSH_REVIEW_ENABLED": &cfg.PushReviewEnabled,
		"DEBUG_FORCE_REVIEW":  &cfg.ForceReview,
	} {
		v := getenv(name)
		if v == "" {
			continue
		}
		b, err := strconv.ParseBool(v)
		if err != nil {
			errs = errs.Append(name, fmt.Errorf("invalid boolean %q", v))
			continue
		}
		*dst = b
	}

	if v := getenv("REVIEW_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			errs = errs.Append("REVIEW_TIMEOUT", fmt.Errorf("invalid duration: %w", err))
		}
		cfg.ReviewTimeout = d
	}

	if err := errs.ToError(); err != nil {
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Validate checks the settings for consistency.
func (c *ServerConfig) Validate() error {
	return criterio.ValidateStruct(
		criterio.Run("PORT", c.Port, validPort),
		criterio.Run("LLM_PROVIDER", c.LLMProvider, oneOf(ProviderAnthropic, ProviderOpenAI)),
		criterio.Run("LOG_LEVEL", c.LogLevel, oneOf("debug", "info", "warn", "error")),
		criterio.Run("LOG_FORMAT", c.LogFormat, oneOf("json", "text")),
		c.validateCredentials(),
	)
}

func (c *ServerConfig) validateCredentials() error {
	var errs criterio.FieldErrorsBuilder

	switch c.LLMProvider {
	case ProviderAnthropic:
		if c.AnthropicAPIKey == "" {
			errs = errs.Append("ANTHROPIC_API_KEY", fmt.Errorf("required for provider %q", c.LLMProvider))
		}
	case ProviderOpenAI:
		if c.OpenAIAPIKey == "" {
			errs = errs.Append("OPENAI_API_KEY", fmt.Errorf("required for provider %q", c.LLMProvider))
		}
	}

	if c.GitHubAppID != 0 && c.GitHubPrivateKey == "" {
		errs = errs.Append("GITHUB_PRIVATE_KEY", fmt.Errorf("required when GITHUB_APP_ID is set"))
	}

	if c.DatabaseURL == "" && c.SQLitePath == "" {
		errs = errs.Append("DATABASE_URL", fmt.Errorf("either DATABASE_URL or SQLITE_PATH is required"))
	}

	if c.ReviewTimeout <= 0 {
		errs = errs.Append("REVIEW_TIMEOUT", fmt.Errorf("must be positive"))
	}

	return errs.ToError()
}

// GitHubEnabled reports whether any GitHub credentials are configured.
func (c *ServerConfig) GitHubEnabled() bool {
	return c.GitHubToken != "" || c.GitHubAppID != 0
}

// GitLabEnabled reports whether a GitLab token is configured.
func (c *ServerConfig) GitLabEnabled() bool {
	return c.GitLabToken != ""
}

// SlogLevel converts LogLevel for slog handlers.
func (c *ServerConfig) SlogLevel() slog.Level {
	switch c.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func envOr(getenv func(string) string, key, fallback string) string {
	if v := getenv(key); v != "" {
		return v
	}
	return fallback
}

func validPort(port string) error {
	n, err := strconv.Atoi(port)
	if err != nil || n <= 0 || n > 65535 {
		return fmt.Errorf("invalid port %q", port)
	}
	return nil
}

func oneOf(allowed ...string) func(string) error {
	return func(v string) error {
		for _, a := range allowed {
			if v == a {
				return nil
			}
		}
		return fmt.Errorf("must be one of %s, got %q", strings.Join(allowed, ", "), v)
	}
}
