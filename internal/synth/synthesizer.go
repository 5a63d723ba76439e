package synth

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/papercast-labs/papercast-core/internal/config"
	"github.com/papercast-labs/papercast-core/internal/transcript"
	"github.com/papercast-labs/papercast-core/internal/voice"
)

// Synthesizer resolves an utterance's voice and calls the engine with
// bounded exponential backoff. Transient failures are retried here; invariant
// violations (unknown speaker) are not.
type Synthesizer struct {
	engine   Engine
	registry *voice.Registry
	cfg      config.SynthesisConfig
	logger   *slog.Logger
	sleep    func(context.Context, time.Duration) error
}

func NewSynthesizer(engine Engine, registry *voice.Registry, cfg config.SynthesisConfig, logger *slog.Logger) *Synthesizer {
	return &Synthesizer{
		engine:   engine,
		registry: registry,
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "segment-synthesizer")),
		sleep:    sleepCtx,
	}
}

// Synthesize renders one utterance. On exhausted retries the returned error
// is a SynthesisError carrying the utterance index.
func (s *Synthesizer) Synthesize(ctx context.Context, u transcript.Utterance) (Segment, error) {
	voiceID, err := s.registry.VoiceFor(u.Speaker)
	if err != nil {
		// Validation upstream guarantees known speakers; reaching this
		// is a bug, so it is surfaced immediately without retry.
		return Segment{}, err
	}

	attempts := s.cfg.MaxRetries
	if attempts < 1 {
		attempts = 1
	}
	backoff := time.Duration(s.cfg.RetryBackoffMS) * time.Millisecond

	var lastErr error
	for attempt := 0; attempt < attempts; attempt++ {
		if attempt > 0 {
			if err := s.sleep(ctx, backoff); err != nil {
				return Segment{}, err
			}
			backoff *= 2
		}
		pcm, err := s.engine.Speak(ctx, u.Text, voiceID)
		if err != nil {
			lastErr = err
			s.logger.Warn("speech request failed",
				slog.Int("utterance", u.Index),
				slog.Int("attempt", attempt+1),
				slog.String("error", err.Error()))
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				break
			}
			continue
		}
		if len(pcm) == 0 {
			lastErr = errors.New("speech service returned empty payload")
			continue
		}
		return Segment{
			UtteranceIndex: u.Index,
			PCM:            pcm,
			SampleRate:     s.cfg.SampleRate,
			Channels:       s.cfg.Channels,
		}, nil
	}
	return Segment{}, &SynthesisError{UtteranceIndex: u.Index, Err: lastErr}
}

// Silence builds a placeholder segment of the configured duration, used when
// the skip-with-silence policy is active.
func (s *Synthesizer) Silence(utteranceIndex int) Segment {
	samples := s.cfg.SampleRate * s.cfg.SilenceMS / 1000
	return Segment{
		UtteranceIndex: utteranceIndex,
		PCM:            make([]byte, samples*s.cfg.Channels*2),
		SampleRate:     s.cfg.SampleRate,
		Channels:       s.cfg.Channels,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
