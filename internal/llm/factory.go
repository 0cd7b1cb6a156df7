package llm

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Veraticus/dompet/internal/common"
)

// Supported providers.
const (
	ProviderOpenAI    = "openai"
	ProviderAzure     = "azure"
	ProviderAnthropic = "anthropic"
	ProviderGemini    = "gemini"
)

// NewClient creates a raw provider client based on the provided configuration.
func NewClient(ctx context.Context, cfg Config) (Client, error) {
	switch strings.ToLower(cfg.Provider) {
	case ProviderOpenAI:
		return newOpenAIClient(cfg)
	case ProviderAzure:
		return newAzureOpenAIClient(cfg)
	case ProviderAnthropic:
		return newAnthropicClient(cfg)
	case ProviderGemini:
		return newGeminiClient(ctx, cfg)
	default:
		return nil, fmt.Errorf("%w: unsupported LLM provider: %q", common.ErrInvalidConfig, cfg.Provider)
	}
}

// New creates a rate-limited, retrying oracle for the configured provider.
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Oracle, error) {
	client, err := NewClient(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create LLM client: %w", err)
	}
	return NewOracle(client, cfg, logger), nil
}
