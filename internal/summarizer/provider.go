package summarizer

import (
	"context"
	"fmt"
	"io"
	"strings"
)

const (
	ProviderGemini    = "gemini"
	ProviderOpenAI    = "openai"
	ProviderAnthropic = "anthropic"
)

// Максимальная длина ответа в токенах
const defaultMaxTokens = 60

// ProviderConfig selects and configures one backend.
type ProviderConfig struct {
	Provider  string
	Model     string
	APIKey    string
	BaseURL   string // optional custom endpoint
	MaxTokens int
}

// NewProvider builds the backend named in cfg.Provider.
func NewProvider(ctx context.Context, cfg ProviderConfig) (Provider, error) {
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = defaultMaxTokens
	}

	switch strings.ToLower(cfg.Provider) {
	case ProviderGemini, "google":
		return NewGeminiProvider(ctx, cfg)
	case ProviderOpenAI:
		return NewOpenAIProvider(cfg)
	case ProviderAnthropic:
		return NewAnthropicProvider(cfg)
	case "":
		return nil, fmt.Errorf("provider is required")
	default:
		return nil, fmt.Errorf("unknown summarizer provider: %s", cfg.Provider)
	}
}

// CloseProvider releases the backend's connections when it holds any.
func CloseProvider(p Provider) error {
	if c, ok := p.(io.Closer); ok {
		return c.Close()
	}
	return nil
}
