package synth

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/papercast-labs/papercast-core/internal/voice"
)

type elevenLabsEngine struct {
	endpoint   string
	apiKey     string
	sampleRate int
	client     *http.Client
}

type elevenLabsRequest struct {
	Text          string                 `json:"text"`
	ModelID       string                 `json:"model_id"`
	VoiceSettings elevenLabsVoiceSetting `json:"voice_settings"`
}

type elevenLabsVoiceSetting struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Style           float64 `json:"style"`
	UseSpeakerBoost bool    `json:"use_speaker_boost"`
}

// NewElevenLabsEngine calls the ElevenLabs text-to-speech API, requesting raw
// PCM at the configured sample rate so segments can be concatenated without
// re-encoding.
func NewElevenLabsEngine(endpoint, apiKey string, sampleRate int) Engine {
	return &elevenLabsEngine{
		endpoint:   strings.TrimRight(endpoint, "/"),
		apiKey:     apiKey,
		sampleRate: sampleRate,
		client:     &http.Client{Timeout: 60 * time.Second},
	}
}

func (e *elevenLabsEngine) Speak(ctx context.Context, text string, voiceID voice.ID) ([]byte, error) {
	payload := elevenLabsRequest{
		Text:    text,
		ModelID: "eleven_turbo_v2_5",
		VoiceSettings: elevenLabsVoiceSetting{
			Stability:       0.5,
			SimilarityBoost: 0.75,
			Style:           0.0,
			UseSpeakerBoost: true,
		},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	url := fmt.Sprintf("%s/v1/text-to-speech/%s?output_format=pcm_%d", e.endpoint, voiceID, e.sampleRate)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("xi-api-key", e.apiKey)

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("elevenlabs returned status %s: %s", resp.Status, strings.TrimSpace(string(msg)))
	}
	return io.ReadAll(resp.Body)
}
