package assemble

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-audio/wav"

	"github.com/papercast-labs/papercast-core/internal/config"
	"github.com/papercast-labs/papercast-core/internal/llm"
	"github.com/papercast-labs/papercast-core/internal/store"
	"github.com/papercast-labs/papercast-core/internal/synth"
	"github.com/papercast-labs/papercast-core/internal/transcript"
	"github.com/papercast-labs/papercast-core/internal/voice"
)

// scriptedBackend returns a fixed dialogue and counts invocations.
type scriptedBackend struct {
	dialogue string
	calls    atomic.Int32
}

func (b *scriptedBackend) Complete(ctx context.Context, req llm.Request) (string, error) {
	b.calls.Add(1)
	if b.dialogue == "" {
		return "", errors.New("model unavailable")
	}
	return b.dialogue, nil
}

// markerEngine emits four samples per utterance, each carrying a value taken
// from the utterance text, and staggers completion so later utterances tend
// to finish first.
type markerEngine struct {
	failOn string
	delays map[string]time.Duration
}

func (e *markerEngine) Speak(ctx context.Context, text string, voiceID voice.ID) ([]byte, error) {
	if d, ok := e.delays[text]; ok {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(d):
		}
	}
	if text == e.failOn {
		return nil, errors.New("speech service rejected request")
	}
	var value int16
	fmt.Sscanf(text, "segment %d", &value)
	pcm := make([]byte, 8)
	for i := 0; i < 4; i++ {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(value))
	}
	return pcm, nil
}

func testSynthConfig() config.SynthesisConfig {
	return config.SynthesisConfig{
		Mode:           "mock",
		Voices:         map[string]string{"Host": "voice-a", "Guest": "voice-b"},
		SampleRate:     8000,
		Channels:       1,
		MaxRetries:     1,
		RetryBackoffMS: 1,
		Concurrency:    4,
		OnFailure:      "abort",
		SilenceMS:      1000,
	}
}

func newTestAssembler(t *testing.T, backend llm.Generator, engine synth.Engine, synthCfg config.SynthesisConfig) (*Assembler, *store.Store, string) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	st, err := store.Open(context.Background(), config.StoreConfig{
		Path: filepath.Join(t.TempDir(), "transcripts.db"),
	}, logger)
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { st.Close() })

	gen := transcript.NewGenerator(backend, config.GeneratorConfig{
		MaxInputChars: 100000,
		MinTurns:      2,
		MaxRetries:    0,
	}, logger)

	registry, err := voice.NewRegistry(synthCfg.Voices)
	if err != nil {
		t.Fatalf("build registry: %v", err)
	}
	syn := synth.NewSynthesizer(engine, registry, synthCfg, logger)

	outDir := t.TempDir()
	asm, err := New(gen, st, syn, synthCfg, outDir, nil, logger)
	if err != nil {
		t.Fatalf("build assembler: %v", err)
	}
	return asm, st, outDir
}

func decodeSamples(t *testing.T, path string) []int {
	t.Helper()
	f, err := os.Open(path)
	if err != nil {
		t.Fatalf("open output: %v", err)
	}
	defer f.Close()
	dec := wav.NewDecoder(f)
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		t.Fatalf("decode output: %v", err)
	}
	return buf.Data
}

func TestRunConcatenatesInUtteranceOrder(t *testing.T) {
	backend := &scriptedBackend{dialogue: "Host: segment 1\nGuest: segment 2\nHost: segment 3\nGuest: segment 4"}
	// Earlier utterances sleep longest so completion order inverts
	// utterance order.
	engine := &markerEngine{delays: map[string]time.Duration{
		"segment 1": 40 * time.Millisecond,
		"segment 2": 30 * time.Millisecond,
		"segment 3": 20 * time.Millisecond,
		"segment 4": 0,
	}}
	asm, st, _ := newTestAssembler(t, backend, engine, testSynthConfig())

	res, err := asm.Run(context.Background(), "paper-1", "quantum widgets")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Segments != 4 || len(res.Degraded) != 0 {
		t.Fatalf("unexpected result: %+v", res)
	}

	samples := decodeSamples(t, res.OutputPath)
	want := []int{1, 1, 1, 1, 2, 2, 2, 2, 3, 3, 3, 3, 4, 4, 4, 4}
	if len(samples) != len(want) {
		t.Fatalf("sample count = %d, want %d", len(samples), len(want))
	}
	for i, s := range samples {
		if s != want[i] {
			t.Fatalf("sample %d = %d, want %d (segments out of order)", i, s, want[i])
		}
	}

	// A finished run consumes the pending transcript.
	if _, _, err := st.LoadPending(context.Background(), "paper-1"); !errors.Is(err, store.ErrNoPending) {
		t.Fatalf("pending after success: %v", err)
	}
}

func TestSkipWithSilenceSubstitutesFailedSegment(t *testing.T) {
	backend := &scriptedBackend{dialogue: "Host: segment 1\nGuest: segment 2\nHost: segment 3\nGuest: segment 4\nHost: segment 5"}
	engine := &markerEngine{failOn: "segment 3"}
	cfg := testSynthConfig()
	cfg.OnFailure = "skip-with-silence"
	asm, _, _ := newTestAssembler(t, backend, engine, cfg)

	res, err := asm.Run(context.Background(), "paper-2", "resilient pipelines")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if len(res.Degraded) != 1 || res.Degraded[0] != 2 {
		t.Fatalf("degraded = %v, want [2]", res.Degraded)
	}

	samples := decodeSamples(t, res.OutputPath)
	// 4 real segments of 4 samples plus one second of silence.
	silence := cfg.SampleRate * cfg.SilenceMS / 1000
	if len(samples) != 16+silence {
		t.Fatalf("sample count = %d, want %d", len(samples), 16+silence)
	}
	for i := 8; i < 8+silence; i++ {
		if samples[i] != 0 {
			t.Fatalf("sample %d in silence region = %d", i, samples[i])
		}
	}
	if samples[8+silence] != 4 {
		t.Fatalf("segment after silence starts with %d, want 4", samples[8+silence])
	}
}

func TestAbortLeavesNoOutputAndKeepsTranscript(t *testing.T) {
	backend := &scriptedBackend{dialogue: "Host: segment 1\nGuest: segment 2\nHost: segment 3"}
	engine := &markerEngine{failOn: "segment 2"}
	asm, st, _ := newTestAssembler(t, backend, engine, testSynthConfig())

	_, err := asm.Run(context.Background(), "paper-3", "doomed synthesis")
	var rerr *RunError
	if !errors.As(err, &rerr) {
		t.Fatalf("run error = %v, want RunError", err)
	}
	if rerr.Stage != StateSynthesizing || rerr.SourceID != "paper-3" {
		t.Fatalf("unexpected run error: %+v", rerr)
	}

	if _, statErr := os.Stat(asm.OutputPath("paper-3")); !os.IsNotExist(statErr) {
		t.Fatalf("output file exists after aborted run")
	}
	if _, statErr := os.Stat(asm.OutputPath("paper-3") + ".tmp"); !os.IsNotExist(statErr) {
		t.Fatalf("temp file left behind after aborted run")
	}

	// The persisted transcript stays pending so a rerun can resume it.
	if _, _, err := st.LoadPending(context.Background(), "paper-3"); err != nil {
		t.Fatalf("transcript not resumable after abort: %v", err)
	}
}

func TestRunResumesPendingWithoutRegenerating(t *testing.T) {
	// A backend with no dialogue fails every call; success proves the
	// run never reached generation.
	backend := &scriptedBackend{}
	engine := &markerEngine{}
	asm, st, _ := newTestAssembler(t, backend, engine, testSynthConfig())

	saved := &transcript.Transcript{
		SourceID: "paper-4",
		Utterances: []transcript.Utterance{
			{Speaker: transcript.RoleHost, Text: "segment 1", Index: 0},
			{Speaker: transcript.RoleGuest, Text: "segment 2", Index: 1},
		},
		CreatedAt: time.Now().UTC(),
	}
	if _, err := st.Save(context.Background(), saved); err != nil {
		t.Fatalf("seed transcript: %v", err)
	}

	res, err := asm.Run(context.Background(), "paper-4", "ignored text")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if backend.calls.Load() != 0 {
		t.Fatalf("backend called %d times during resume", backend.calls.Load())
	}
	if res.Segments != 2 {
		t.Fatalf("segments = %d, want 2", res.Segments)
	}
}

func TestRunFailsInGenerationStage(t *testing.T) {
	backend := &scriptedBackend{}
	asm, _, _ := newTestAssembler(t, backend, &markerEngine{}, testSynthConfig())

	_, err := asm.Run(context.Background(), "paper-5", "some text")
	var rerr *RunError
	if !errors.As(err, &rerr) {
		t.Fatalf("run error = %v, want RunError", err)
	}
	if rerr.Stage != StateGenerating {
		t.Fatalf("stage = %s, want %s", rerr.Stage, StateGenerating)
	}
}

func TestRunWithoutTextOrPendingFails(t *testing.T) {
	asm, _, _ := newTestAssembler(t, &scriptedBackend{dialogue: "Host: a\nGuest: b"}, &markerEngine{}, testSynthConfig())

	_, err := asm.Run(context.Background(), "paper-6", "")
	if err == nil {
		t.Fatal("expected error for empty text with no pending transcript")
	}
}
