// Package assemble orchestrates one paper's journey from cleaned text to a
// finished podcast file: generate, persist, synthesize per utterance, and
// concatenate in utterance order.
package assemble

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/papercast-labs/papercast-core/internal/bus"
	"github.com/papercast-labs/papercast-core/internal/config"
	"github.com/papercast-labs/papercast-core/internal/store"
	"github.com/papercast-labs/papercast-core/internal/synth"
	"github.com/papercast-labs/papercast-core/internal/transcript"
)

// State names one phase of the assembly state machine.
type State string

const (
	StateIdle          State = "idle"
	StateGenerating    State = "generating"
	StatePersisted     State = "persisted"
	StateSynthesizing  State = "synthesizing"
	StateConcatenating State = "concatenating"
	StateDone          State = "done"
)

// RunError reports which stage a failed run died in, alongside the paper it
// was processing.
type RunError struct {
	SourceID string
	Stage    State
	Err      error
}

func (e *RunError) Error() string {
	return fmt.Sprintf("podcast run for %q failed during %s: %v", e.SourceID, e.Stage, e.Err)
}

func (e *RunError) Unwrap() error { return e.Err }

// Result describes a completed run. Degraded lists utterance indices that
// were replaced with silence under the skip-with-silence policy.
type Result struct {
	SourceID   string
	OutputPath string
	Segments   int
	Degraded   []int
	AudioLen   time.Duration
}

// Assembler drives the pipeline for single papers. Runs for different papers
// may execute concurrently; the store serializes writes per source.
type Assembler struct {
	generator *transcript.Generator
	store     *store.Store
	synth     *synth.Synthesizer
	cfg       config.SynthesisConfig
	outputDir string
	events    *bus.Client
	logger    *slog.Logger
	metrics   *runMetrics
	tracer    trace.Tracer
}

func New(generator *transcript.Generator, st *store.Store, synthesizer *synth.Synthesizer, cfg config.SynthesisConfig, outputDir string, events *bus.Client, logger *slog.Logger) (*Assembler, error) {
	metrics, err := newRunMetrics()
	if err != nil {
		return nil, fmt.Errorf("init assembler metrics: %w", err)
	}
	return &Assembler{
		generator: generator,
		store:     st,
		synth:     synthesizer,
		cfg:       cfg,
		outputDir: outputDir,
		events:    events,
		logger:    logger.With(slog.String("component", "podcast-assembler")),
		metrics:   metrics,
		tracer:    otel.Tracer("papercast/assemble"),
	}, nil
}

// OutputPath returns the deterministic artifact location for a source.
func (a *Assembler) OutputPath(sourceID string) string {
	return filepath.Join(a.outputDir, fmt.Sprintf("podcast_%s.wav", sourceID))
}

// Run produces a podcast for one paper. A pending transcript left by an
// earlier interrupted run is resumed instead of regenerating; pass empty
// paperText to only resume. No partial file is ever visible at the output
// location.
func (a *Assembler) Run(ctx context.Context, sourceID, paperText string) (*Result, error) {
	ctx, span := a.tracer.Start(ctx, "assemble.run",
		trace.WithAttributes(attribute.String("source_id", sourceID)))
	defer span.End()

	handle, tr, err := a.obtainTranscript(ctx, sourceID, paperText)
	if err != nil {
		a.metrics.failed(ctx)
		return nil, err
	}

	if err := ctx.Err(); err != nil {
		return nil, a.fail(sourceID, StatePersisted, err)
	}
	a.transition(sourceID, StateSynthesizing, fmt.Sprintf("%d utterances", len(tr.Utterances)))
	segments, degraded, err := a.synthesizeAll(ctx, tr)
	if err != nil {
		a.metrics.failed(ctx)
		return nil, a.fail(sourceID, StateSynthesizing, err)
	}

	if err := ctx.Err(); err != nil {
		return nil, a.fail(sourceID, StateSynthesizing, err)
	}
	a.transition(sourceID, StateConcatenating, "")
	outPath, audioLen, err := a.concatenate(sourceID, segments)
	if err != nil {
		a.metrics.failed(ctx)
		return nil, a.fail(sourceID, StateConcatenating, err)
	}

	if err := a.store.Archive(ctx, handle); err != nil {
		a.metrics.failed(ctx)
		return nil, a.fail(sourceID, StateConcatenating, fmt.Errorf("archive transcript: %w", err))
	}

	a.transition(sourceID, StateDone, outPath)
	a.metrics.completed(ctx, len(segments), len(degraded))
	a.events.PublishReady(sourceID, outPath, len(segments), degraded)
	if len(degraded) > 0 {
		a.logger.Warn("podcast produced with degraded segments",
			slog.String("source_id", sourceID),
			slog.Any("utterance_indices", degraded))
	}
	return &Result{
		SourceID:   sourceID,
		OutputPath: outPath,
		Segments:   len(segments),
		Degraded:   degraded,
		AudioLen:   audioLen,
	}, nil
}

// obtainTranscript resumes the newest pending transcript for the source, or
// generates and persists a fresh one when none exists.
func (a *Assembler) obtainTranscript(ctx context.Context, sourceID, paperText string) (store.Handle, *transcript.Transcript, error) {
	handle, tr, err := a.store.LoadPending(ctx, sourceID)
	if err == nil {
		a.logger.Info("resuming pending transcript",
			slog.String("source_id", sourceID),
			slog.Int("version", handle.Version))
		a.transition(sourceID, StatePersisted, "resumed")
		return handle, tr, nil
	}
	if !errors.Is(err, store.ErrNoPending) {
		return store.Handle{}, nil, a.fail(sourceID, StateGenerating, err)
	}
	if paperText == "" {
		return store.Handle{}, nil, a.fail(sourceID, StateGenerating, errors.New("no paper text and no pending transcript"))
	}

	a.transition(sourceID, StateGenerating, "")
	tr, err = a.generator.Generate(ctx, paperText, sourceID)
	if err != nil {
		return store.Handle{}, nil, a.fail(sourceID, StateGenerating, err)
	}

	handle, err = a.store.Save(ctx, tr)
	if err != nil {
		return store.Handle{}, nil, a.fail(sourceID, StateGenerating, err)
	}
	a.transition(sourceID, StatePersisted, fmt.Sprintf("version %d", handle.Version))
	return handle, tr, nil
}

// synthesizeAll renders every utterance, dispatching up to the configured
// concurrency in parallel. Results land in their utterance's slot, so
// completion order never affects final ordering.
func (a *Assembler) synthesizeAll(ctx context.Context, tr *transcript.Transcript) ([]synth.Segment, []int, error) {
	n := len(tr.Utterances)
	segments := make([]synth.Segment, n)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	sem := make(chan struct{}, a.cfg.Concurrency)
	var (
		wg       sync.WaitGroup
		mu       sync.Mutex
		degraded []int
		firstErr error
	)

	for _, u := range tr.Utterances {
		if ctx.Err() != nil {
			break
		}
		sem <- struct{}{}
		wg.Add(1)
		go func(u transcript.Utterance) {
			defer wg.Done()
			defer func() { <-sem }()

			seg, err := a.synth.Synthesize(ctx, u)
			if err == nil {
				segments[u.Index] = seg
				return
			}

			var serr *synth.SynthesisError
			if a.cfg.OnFailure == "skip-with-silence" && errors.As(err, &serr) {
				a.logger.Warn("substituting silence for failed utterance",
					slog.String("source_id", tr.SourceID),
					slog.Int("utterance", u.Index),
					slog.String("error", err.Error()))
				segments[u.Index] = a.synth.Silence(u.Index)
				mu.Lock()
				degraded = append(degraded, u.Index)
				mu.Unlock()
				return
			}

			mu.Lock()
			if firstErr == nil {
				firstErr = err
				cancel()
			}
			mu.Unlock()
		}(u)
	}
	wg.Wait()

	if firstErr != nil {
		return nil, nil, firstErr
	}
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	for i := range segments {
		if len(segments[i].PCM) == 0 {
			return nil, nil, fmt.Errorf("no segment produced for utterance %d", i)
		}
	}
	sort.Ints(degraded)
	return segments, degraded, nil
}

// concatenate joins segments in ascending utterance order and publishes the
// artifact with write-to-temp-then-rename so a crash leaves nothing partial
// at the final location.
func (a *Assembler) concatenate(sourceID string, segments []synth.Segment) (string, time.Duration, error) {
	if err := os.MkdirAll(a.outputDir, 0o755); err != nil {
		return "", 0, fmt.Errorf("create output dir: %w", err)
	}

	var pcm []byte
	var audioLen time.Duration
	for _, seg := range segments {
		pcm = append(pcm, seg.PCM...)
		audioLen += seg.Duration()
	}

	finalPath := a.OutputPath(sourceID)
	tmpPath := finalPath + ".tmp"
	if err := writeWAV(tmpPath, pcm, a.cfg.SampleRate, a.cfg.Channels); err != nil {
		os.Remove(tmpPath)
		return "", 0, err
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return "", 0, fmt.Errorf("publish podcast file: %w", err)
	}
	return finalPath, audioLen, nil
}

func (a *Assembler) transition(sourceID string, state State, detail string) {
	a.logger.Info("pipeline stage",
		slog.String("source_id", sourceID),
		slog.String("stage", string(state)),
		slog.String("detail", detail))
	a.events.PublishStage(sourceID, string(state), detail)
}

func (a *Assembler) fail(sourceID string, stage State, err error) error {
	var rerr *RunError
	if errors.As(err, &rerr) {
		return err
	}
	a.events.PublishStage(sourceID, "failed", err.Error())
	a.logger.Error("pipeline run failed",
		slog.String("source_id", sourceID),
		slog.String("stage", string(stage)),
		slog.String("error", err.Error()))
	return &RunError{SourceID: sourceID, Stage: stage, Err: err}
}
