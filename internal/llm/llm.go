package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/comigor/parley/internal/config"
)

// New builds the Model selected by cfg.Provider ("gemini" or "openai").
func New(ctx context.Context, cfg config.LLMConfig) (Model, error) {
	switch strings.ToLower(cfg.Provider) {
	case "", "gemini":
		return NewGeminiModel(ctx, cfg)
	case "openai":
		return NewOpenAIModel(NewClient(cfg), cfg), nil
	default:
		return nil, fmt.Errorf("unsupported llm provider %q", cfg.Provider)
	}
}
