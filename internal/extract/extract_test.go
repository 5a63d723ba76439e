package extract

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

type stubBackend struct {
	reply   string
	err     error
	prompts []string
}

func (b *stubBackend) Complete(ctx context.Context, req llm.Request) (string, error) {
	b.prompts = append(b.prompts, req.Prompt)
	if b.err != nil {
		return "", b.err
	}
	return b.reply, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestChunkRespectsWordBoundaries(t *testing.T) {
	text := "alpha beta gamma delta epsilon"
	chunks := chunk(text, 12)
	if len(chunks) != 3 {
		t.Fatalf("chunks = %v, want 3 pieces", chunks)
	}
	for _, c := range chunks {
		if len(c) > 12 {
			t.Fatalf("chunk %q exceeds size", c)
		}
		if strings.HasPrefix(c, " ") || strings.HasSuffix(c, " ") {
			t.Fatalf("chunk %q has boundary whitespace", c)
		}
	}
	if got := strings.Join(chunks, " "); got != text {
		t.Fatalf("rejoined chunks = %q, want %q", got, text)
	}
}

func TestChunkSingleWhenUnderSize(t *testing.T) {
	chunks := chunk("short text", 100)
	if len(chunks) != 1 || chunks[0] != "short text" {
		t.Fatalf("chunks = %v", chunks)
	}
}

func TestCleanKeepsRawChunkOnModelError(t *testing.T) {
	backend := &stubBackend{err: errors.New("model down")}
	e := New(config.ExtractConfig{MaxChars: 1000, ChunkSize: 10, CleanModel: true}, backend, testLogger())

	text := "first chunk words here second chunk words here"
	out := e.Clean(context.Background(), text)
	for _, w := range strings.Fields(text) {
		if !strings.Contains(out, w) {
			t.Fatalf("cleaned output lost word %q: %q", w, out)
		}
	}
}

func TestCleanDisabledPassesThrough(t *testing.T) {
	backend := &stubBackend{reply: "should not be used"}
	e := New(config.ExtractConfig{MaxChars: 1000, ChunkSize: 10, CleanModel: false}, backend, testLogger())

	if got := e.Clean(context.Background(), "untouched text"); got != "untouched text" {
		t.Fatalf("got %q", got)
	}
	if len(backend.prompts) != 0 {
		t.Fatalf("backend called %d times with cleanup disabled", len(backend.prompts))
	}
}

func TestSlugSanitizesModelReply(t *testing.T) {
	backend := &stubBackend{reply: "  Quantum Widgets: A Survey!  "}
	e := New(config.ExtractConfig{MaxChars: 1000}, backend, testLogger())

	if got := e.Slug(context.Background(), "paper text", "fallback"); got != "quantum_widgets_a_survey" {
		t.Fatalf("slug = %q", got)
	}
}

func TestSlugFallsBackOnError(t *testing.T) {
	backend := &stubBackend{err: errors.New("model down")}
	e := New(config.ExtractConfig{MaxChars: 1000}, backend, testLogger())

	if got := e.Slug(context.Background(), "paper text", "My Paper (v2).pdf"); got != "my_paper_v2_pdf" {
		t.Fatalf("slug = %q", got)
	}
}

func TestSanitizeSlugBoundsLength(t *testing.T) {
	long := strings.Repeat("word ", 40)
	got := sanitizeSlug(long)
	if len(got) > 60 {
		t.Fatalf("slug length = %d", len(got))
	}
	if strings.HasSuffix(got, "_") || strings.HasPrefix(got, "_") {
		t.Fatalf("slug has boundary underscore: %q", got)
	}
}
