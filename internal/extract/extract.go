// Package extract pulls plain text out of paper PDFs and optionally runs it
// through a language model to strip layout junk before generation.
package extract

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ledongthuc/pdf"

	"github.com/papercast-labs/papercast-core/internal/config"
	"github.com/papercast-labs/papercast-core/internal/llm"
	"github.com/papercast-labs/papercast-core/internal/transcript"
)

const cleanPrompt = `You clean text extracted from academic PDFs. Remove page headers, footers, page numbers, broken hyphenation, reference markers, and other extraction artifacts. Keep every sentence of actual content. Return only the cleaned text with no commentary.`

const slugPrompt = `You name documents. Given the opening of an academic paper, reply with a short descriptive title of at most six words. Reply with the title only.`

// Extractor converts PDFs to bounded plain text. The backend is optional;
// without one, Clean and Slug degrade to pass-through behavior.
type Extractor struct {
	cfg     config.ExtractConfig
	backend llm.Generator
	logger  *slog.Logger
}

func New(cfg config.ExtractConfig, backend llm.Generator, logger *slog.Logger) *Extractor {
	return &Extractor{
		cfg:     cfg,
		backend: backend,
		logger:  logger.With(slog.String("component", "pdf-extractor")),
	}
}

// Text reads every page of the PDF at path and returns its text, truncated
// to the configured character budget on a word boundary.
func (e *Extractor) Text(path string) (string, error) {
	f, reader, err := pdf.Open(path)
	if err != nil {
		return "", fmt.Errorf("open pdf %s: %w", path, err)
	}
	defer f.Close()

	r, err := reader.GetPlainText()
	if err != nil {
		return "", fmt.Errorf("extract text from %s: %w", path, err)
	}
	var buf bytes.Buffer
	if _, err := buf.ReadFrom(r); err != nil {
		return "", fmt.Errorf("read pdf text from %s: %w", path, err)
	}

	text := strings.TrimSpace(buf.String())
	if text == "" {
		return "", fmt.Errorf("no extractable text in %s", path)
	}
	return transcript.Truncate(text, e.cfg.MaxChars), nil
}

// Clean runs the text through the model one chunk at a time. A chunk whose
// cleanup call fails is kept raw, so a flaky model never loses content.
func (e *Extractor) Clean(ctx context.Context, text string) string {
	if !e.cfg.CleanModel || e.backend == nil {
		return text
	}

	chunks := chunk(text, e.cfg.ChunkSize)
	cleaned := make([]string, 0, len(chunks))
	for i, c := range chunks {
		out, err := e.backend.Complete(ctx, llm.Request{
			System: cleanPrompt,
			Prompt: c,
		})
		if err != nil || strings.TrimSpace(out) == "" {
			e.logger.Warn("chunk cleanup failed, keeping raw text",
				slog.Int("chunk", i),
				slog.Any("error", err))
			cleaned = append(cleaned, c)
			continue
		}
		cleaned = append(cleaned, strings.TrimSpace(out))
	}
	return strings.Join(cleaned, "\n\n")
}

// Slug asks the model for a short descriptive name and sanitizes it into a
// filesystem-safe identifier. fallback is used when the model is unavailable
// or returns nothing usable.
func (e *Extractor) Slug(ctx context.Context, text, fallback string) string {
	if e.backend == nil {
		return sanitizeSlug(fallback)
	}

	opening := transcript.Truncate(text, 2000)
	out, err := e.backend.Complete(ctx, llm.Request{
		System: slugPrompt,
		Prompt: opening,
	})
	if err != nil {
		e.logger.Warn("slug request failed, using file name",
			slog.String("error", err.Error()))
		return sanitizeSlug(fallback)
	}
	if slug := sanitizeSlug(out); slug != "" {
		return slug
	}
	return sanitizeSlug(fallback)
}

// chunk splits text into pieces of at most size characters, breaking on
// word boundaries so no word is split across chunks.
func chunk(text string, size int) []string {
	if size <= 0 || len(text) <= size {
		return []string{text}
	}

	var chunks []string
	words := strings.Fields(text)
	var b strings.Builder
	for _, w := range words {
		if b.Len() > 0 && b.Len()+1+len(w) > size {
			chunks = append(chunks, b.String())
			b.Reset()
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(w)
	}
	if b.Len() > 0 {
		chunks = append(chunks, b.String())
	}
	return chunks
}

// sanitizeSlug lowercases and reduces a name to alphanumerics and
// underscores, bounded to 60 characters.
func sanitizeSlug(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	var b strings.Builder
	lastUnderscore := true
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			b.WriteRune(r)
			lastUnderscore = false
		default:
			if !lastUnderscore {
				b.WriteByte('_')
				lastUnderscore = true
			}
		}
		if b.Len() >= 60 {
			break
		}
	}
	return strings.Trim(b.String(), "_")
}
