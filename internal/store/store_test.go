package store

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"path/filepath"
	"testing"
	"time"

	"github.com/papercast-labs/papercast-core/internal/config"
	"github.com/papercast-labs/papercast-core/internal/transcript"
)

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func openStore(t *testing.T) *Store {
	t.Helper()
	cfg := config.StoreConfig{Path: filepath.Join(t.TempDir(), "transcripts.db")}
	s, err := Open(context.Background(), cfg, newLogger())
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleTranscript(sourceID string) *transcript.Transcript {
	return &transcript.Transcript{
		SourceID: sourceID,
		Utterances: []transcript.Utterance{
			{Speaker: transcript.RoleHost, Text: "Welcome.", Index: 0},
			{Speaker: transcript.RoleGuest, Text: "Thanks.", Index: 1},
		},
		CreatedAt: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC),
	}
}

func TestSaveLoadRoundTrip(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	original := sampleTranscript("paper-1")
	h, err := s.Save(ctx, original)
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if h.Version != 1 {
		t.Fatalf("expected first version, got %d", h.Version)
	}

	loaded, err := s.Load(ctx, h)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if loaded.SourceID != original.SourceID {
		t.Fatalf("source id mismatch: %q", loaded.SourceID)
	}
	if len(loaded.Utterances) != len(original.Utterances) {
		t.Fatalf("utterance count mismatch: %d", len(loaded.Utterances))
	}
	for i, u := range loaded.Utterances {
		if u != original.Utterances[i] {
			t.Fatalf("utterance %d mismatch: %+v vs %+v", i, u, original.Utterances[i])
		}
	}
}

func TestSaveCreatesNewVersions(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	first, err := s.Save(ctx, sampleTranscript("paper-1"))
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	second, err := s.Save(ctx, sampleTranscript("paper-1"))
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	if second.Version != first.Version+1 {
		t.Fatalf("expected incremented version, got %d then %d", first.Version, second.Version)
	}
	if first.ID == second.ID {
		t.Fatal("saves must produce distinct artifacts")
	}
}

func TestLoadPendingReturnsNewest(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	if _, _, err := s.LoadPending(ctx, "paper-1"); !errors.Is(err, ErrNoPending) {
		t.Fatalf("expected ErrNoPending, got %v", err)
	}

	if _, err := s.Save(ctx, sampleTranscript("paper-1")); err != nil {
		t.Fatalf("save: %v", err)
	}
	second, err := s.Save(ctx, sampleTranscript("paper-1"))
	if err != nil {
		t.Fatalf("save: %v", err)
	}

	h, loaded, err := s.LoadPending(ctx, "paper-1")
	if err != nil {
		t.Fatalf("load pending: %v", err)
	}
	if h.ID != second.ID {
		t.Fatalf("expected newest pending version, got %+v", h)
	}
	if loaded == nil || len(loaded.Utterances) != 2 {
		t.Fatalf("unexpected pending payload: %+v", loaded)
	}
}

func TestArchiveRemovesFromPendingSet(t *testing.T) {
	s := openStore(t)
	ctx := context.Background()

	stale, err := s.Save(ctx, sampleTranscript("paper-1"))
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	current, err := s.Save(ctx, sampleTranscript("paper-1"))
	if err != nil {
		t.Fatalf("save: %v", err)
	}
	other, err := s.Save(ctx, sampleTranscript("paper-2"))
	if err != nil {
		t.Fatalf("save: %v", err)
	}

	if err := s.Archive(ctx, current); err != nil {
		t.Fatalf("archive: %v", err)
	}

	pending, err := s.ListPending(ctx)
	if err != nil {
		t.Fatalf("list pending: %v", err)
	}
	if len(pending) != 1 || pending[0].ID != other.ID {
		t.Fatalf("expected only paper-2 pending, got %+v", pending)
	}

	// Archiving the consumed version also supersedes the stale one, so it
	// must not be archivable again.
	if err := s.Archive(ctx, stale); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for superseded version, got %v", err)
	}
	if err := s.Archive(ctx, current); !errors.Is(err, ErrNotFound) {
		t.Fatalf("double archive must not succeed, got %v", err)
	}
}

func TestLoadUnknownHandle(t *testing.T) {
	s := openStore(t)
	_, err := s.Load(context.Background(), Handle{ID: "missing"})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}
