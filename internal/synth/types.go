// Package synth renders single utterances into audio segments. Backends
// return raw PCM in the service's native rate; nothing here transcodes.
package synth

import (
	"context"
	"fmt"
	"time"

	"github.com/papercast-labs/papercast-core/internal/config"
	"github.com/papercast-labs/papercast-core/internal/voice"
)

// Segment is the rendered audio for exactly one utterance. UtteranceIndex is
// a back-reference used only for reordering during assembly.
type Segment struct {
	UtteranceIndex int
	PCM            []byte
	SampleRate     int
	Channels       int
}

// Duration derives playback length from the payload (16-bit samples).
func (s Segment) Duration() time.Duration {
	if s.SampleRate <= 0 || s.Channels <= 0 {
		return 0
	}
	samples := len(s.PCM) / 2 / s.Channels
	return time.Duration(samples) * time.Second / time.Duration(s.SampleRate)
}

// Engine is one speech-synthesis backend call: text plus voice in, PCM out.
type Engine interface {
	Speak(ctx context.Context, text string, voiceID voice.ID) ([]byte, error)
}

// SynthesisError reports a failed utterance after retries were exhausted. It
// carries the utterance index so the caller can decide between aborting the
// run and substituting silence.
type SynthesisError struct {
	UtteranceIndex int
	Err            error
}

func (e *SynthesisError) Error() string {
	return fmt.Sprintf("synthesize utterance %d: %v", e.UtteranceIndex, e.Err)
}

func (e *SynthesisError) Unwrap() error { return e.Err }

// NewEngine selects a backend from config.
func NewEngine(cfg config.SynthesisConfig) (Engine, error) {
	switch cfg.Mode {
	case "mock":
		return NewMockEngine(cfg.SampleRate, cfg.Channels), nil
	case "elevenlabs":
		return NewElevenLabsEngine(cfg.Endpoint, cfg.APIKey, cfg.SampleRate), nil
	case "exec":
		return NewExecEngine(cfg.Command, cfg.SampleRate, cfg.Channels)
	default:
		return nil, fmt.Errorf("unknown synthesis mode %q", cfg.Mode)
	}
}
