package llm

import (
	"fmt"
	"strings"
)

// Provider names accepted by NewProvider.
const (
	ProviderAnthropic = "anthropic"
	ProviderOpenAI    = "openai"
)

// ProviderConfig selects and configures a provider.
type ProviderConfig struct {
	Name    string
	Model   string
	APIKey  string
	BaseURL string
}

// NewProvider builds the provider named in cfg.
func NewProvider(cfg ProviderConfig) (Provider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%s: API key is required", cfg.Name)
	}

	switch strings.ToLower(cfg.Name) {
	case ProviderAnthropic:
		return NewAnthropic(cfg.APIKey, cfg.Model), nil
	case ProviderOpenAI:
		return NewOpenAI(cfg.APIKey, cfg.Model, cfg.BaseURL), nil
	default:
		return nil, fmt.Errorf("unknown LLM provider %q (supported: %s, %s)", cfg.Name, ProviderAnthropic, ProviderOpenAI)
	}
}
