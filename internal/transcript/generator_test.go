package transcript

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"
	"testing"

	"github.com/papercast-labs/papercast-core/internal/config"
	"github.com/papercast-labs/papercast-core/internal/llm"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func genConfig() config.GeneratorConfig {
	cfg := config.Default().Generator
	cfg.MaxRetries = 2
	return cfg
}

// scriptedBackend returns canned responses in order, cycling on the last one.
type scriptedBackend struct {
	responses []string
	calls     int
}

func (s *scriptedBackend) Complete(ctx context.Context, req llm.Request) (string, error) {
	i := s.calls
	if i >= len(s.responses) {
		i = len(s.responses) - 1
	}
	s.calls++
	return s.responses[i], nil
}

func TestGenerateValidDialogue(t *testing.T) {
	backend := &scriptedBackend{responses: []string{
		"Host: Intro.\nGuest: Reply.\nHost: Method.\nGuest: Findings.",
	}}
	g := NewGenerator(backend, genConfig(), newLogger())

	tr, err := g.Generate(context.Background(), "paper text", "paper-1")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if tr.SourceID != "paper-1" {
		t.Fatalf("unexpected source id %q", tr.SourceID)
	}
	if len(tr.Utterances) != 4 {
		t.Fatalf("expected 4 utterances, got %d", len(tr.Utterances))
	}
	for i, u := range tr.Utterances {
		if u.Index != i {
			t.Fatalf("index gap at %d", i)
		}
	}
}

func TestGenerateRetriesMalformedThenSucceeds(t *testing.T) {
	backend := &scriptedBackend{responses: []string{
		"no labels here",
		"Host: Fixed on retry.\nGuest: Indeed.",
	}}
	g := NewGenerator(backend, genConfig(), newLogger())

	tr, err := g.Generate(context.Background(), "paper text", "paper-2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if backend.calls != 2 {
		t.Fatalf("expected 2 attempts, got %d", backend.calls)
	}
	if len(tr.Utterances) != 2 {
		t.Fatalf("expected 2 utterances, got %d", len(tr.Utterances))
	}
}

func TestGenerateSurfacesMalformedAfterRetries(t *testing.T) {
	backend := &scriptedBackend{responses: []string{"still no labels"}}
	cfg := genConfig()
	cfg.MaxRetries = 1
	g := NewGenerator(backend, cfg, newLogger())

	_, err := g.Generate(context.Background(), "paper text", "paper-3")
	var merr *MalformedTranscriptError
	if !errors.As(err, &merr) {
		t.Fatalf("expected MalformedTranscriptError, got %v", err)
	}
	if backend.calls != 2 {
		t.Fatalf("expected 2 attempts, got %d", backend.calls)
	}
}

func TestGenerateRejectsEmptyInput(t *testing.T) {
	g := NewGenerator(&scriptedBackend{responses: []string{""}}, genConfig(), newLogger())
	if _, err := g.Generate(context.Background(), "", "paper-4"); err == nil {
		t.Fatal("expected error for empty paper text")
	}
}

func TestGenerateTruncatesInput(t *testing.T) {
	backend := &scriptedBackend{responses: []string{"Host: A.\nGuest: B."}}
	cfg := genConfig()
	cfg.MaxInputChars = 50
	g := NewGenerator(backend, cfg, newLogger())

	long := strings.Repeat("word ", 100)
	if _, err := g.Generate(context.Background(), long, "paper-5"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestTruncateWordBoundary(t *testing.T) {
	got := Truncate("alpha beta gamma", 12)
	if got != "alpha beta" {
		t.Fatalf("expected cut at word boundary, got %q", got)
	}
	if Truncate("short", 100) != "short" {
		t.Fatal("short input must pass through unchanged")
	}
}
