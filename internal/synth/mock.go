package synth

import (
	"context"
	"time"

	"github.com/papercast-labs/papercast-core/internal/voice"
)

type mockEngine struct {
	sampleRate int
	channels   int
}

// NewMockEngine produces deterministic PCM whose length scales with the text,
// so pipeline runs work without a speech service.
func NewMockEngine(sampleRate, channels int) Engine {
	return &mockEngine{sampleRate: sampleRate, channels: channels}
}

func (m *mockEngine) Speak(ctx context.Context, text string, voiceID voice.ID) ([]byte, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(10 * time.Millisecond):
	}
	// Roughly 50ms of audio per word keeps mock podcasts short but nonzero.
	words := 1
	for _, c := range text {
		if c == ' ' {
			words++
		}
	}
	samples := m.sampleRate * words / 20
	pcm := make([]byte, samples*m.channels*2)
	seed := byte(len(voiceID) + len(text))
	for i := range pcm {
		pcm[i] = seed + byte(i%31)
	}
	return pcm, nil
}
