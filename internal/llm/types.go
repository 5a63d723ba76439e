package llm

import (
	"context"
	"fmt"

	"github.com/papercast-labs/papercast-core/internal/config"
)

// Request describes a single text-generation call.
type Request struct {
	System      string
	Prompt      string
	MaxTokens   int
	Temperature float64
}

// Generator defines a pluggable text-generation backend.
type Generator interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// New selects a backend from config.
func New(cfg config.GeneratorConfig) (Generator, error) {
	switch cfg.Mode {
	case "mock":
		return NewMockGenerator(), nil
	case "openai":
		return NewOpenAIGenerator(cfg.APIKey, cfg.Endpoint, cfg.Model), nil
	case "ollama":
		return NewOllamaGenerator(cfg.Endpoint, cfg.Model), nil
	case "exec":
		return NewExecGenerator(cfg.Command)
	default:
		return nil, fmt.Errorf("unknown generator mode %q", cfg.Mode)
	}
}
