package transcript

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/papercast-labs/papercast-core/internal/config"
	"github.com/papercast-labs/papercast-core/internal/llm"
)

const systemPrompt = `You are an AI trained to convert academic papers into engaging podcast transcripts. Create a natural conversation between two speakers discussing the key points, implications, and insights from the provided paper.

Guidelines:
- Start with an introduction of the paper's topic and significance
- Break down complex concepts into digestible explanations
- Include relevant examples and real-world applications
- Discuss methodology and findings
- Address potential implications and future research directions
- Maintain a conversational, engaging tone
- Ensure balanced participation between speakers
- End with key takeaways

Write each turn on its own line, prefixed with the speaker role and a colon, alternating between "Host:" and "Guest:". Do not use any other labels or formatting.`

// Generator turns cleaned paper text into a validated Transcript. It owns
// truncation, prompt construction, and bounded regeneration on malformed
// output. Persistence belongs to the store, not here.
type Generator struct {
	backend llm.Generator
	cfg     config.GeneratorConfig
	roles   []Speaker
	logger  *slog.Logger
	clock   func() time.Time
}

func NewGenerator(backend llm.Generator, cfg config.GeneratorConfig, logger *slog.Logger) *Generator {
	return &Generator{
		backend: backend,
		cfg:     cfg,
		roles:   DefaultRoles,
		logger:  logger.With(slog.String("component", "transcript-generator")),
		clock:   time.Now,
	}
}

// Generate produces a Transcript for paperText. Malformed model output is
// regenerated up to cfg.MaxRetries extra attempts before the error surfaces;
// a partially valid dialogue is never returned.
func (g *Generator) Generate(ctx context.Context, paperText, sourceID string) (*Transcript, error) {
	if paperText == "" {
		return nil, errors.New("paper text must not be empty")
	}
	text := Truncate(paperText, g.cfg.MaxInputChars)
	if len(text) < len(paperText) {
		g.logger.Info("paper text truncated",
			slog.String("source_id", sourceID),
			slog.Int("budget_chars", g.cfg.MaxInputChars))
	}

	req := llm.Request{
		System:      systemPrompt,
		Prompt:      fmt.Sprintf("Convert this academic paper into a dialogue following the system guidelines.\n\nPaper content:\n%s", text),
		MaxTokens:   g.cfg.MaxTokens,
		Temperature: g.cfg.Temperature,
	}

	attempts := g.cfg.MaxRetries + 1
	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		raw, err := g.backend.Complete(ctx, req)
		if err != nil {
			lastErr = fmt.Errorf("generation request: %w", err)
			g.logger.Warn("generation request failed",
				slog.String("source_id", sourceID),
				slog.Int("attempt", attempt+1),
				slog.String("error", err.Error()))
			continue
		}
		utts, err := ParseDialogue(raw, g.roles, g.cfg.MinTurns)
		if err != nil {
			lastErr = err
			g.logger.Warn("generated dialogue is malformed",
				slog.String("source_id", sourceID),
				slog.Int("attempt", attempt+1),
				slog.String("error", err.Error()))
			continue
		}
		if !Alternates(utts) {
			g.logger.Warn("speakers do not strictly alternate",
				slog.String("source_id", sourceID))
		}
		return &Transcript{
			SourceID:   sourceID,
			Utterances: utts,
			CreatedAt:  g.clock().UTC(),
		}, nil
	}
	return nil, lastErr
}

// Truncate bounds text to a character budget, cutting back to the last word
// boundary so no turn of the prompt ends mid-word.
func Truncate(text string, maxChars int) string {
	runes := []rune(text)
	if len(runes) <= maxChars {
		return text
	}
	cut := string(runes[:maxChars])
	if idx := lastSpace(cut); idx > 0 {
		cut = cut[:idx]
	}
	return cut
}

func lastSpace(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] == ' ' || s[i] == '\n' || s[i] == '\t' {
			return i
		}
	}
	return -1
}
