package synth

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"os/exec"
	"sync"

	"github.com/mattn/go-shellwords"
	"github.com/papercast-labs/papercast-core/internal/voice"
)

type execEngine struct {
	cmd        []string
	sampleRate int
	channels   int
	mu         sync.Mutex
}

type execSpeakRequest struct {
	Text       string `json:"text"`
	Voice      string `json:"voice"`
	SampleRate int    `json:"sample_rate"`
	Channels   int    `json:"channels"`
}

type execSpeakResponse struct {
	PCMBase64 string `json:"pcm_base64"`
}

// NewExecEngine runs a local TTS wrapper as a subprocess, JSON in on stdin,
// a single JSON object with base64 PCM on stdout.
func NewExecEngine(command string, sampleRate, channels int) (Engine, error) {
	parser := shellwords.NewParser()
	args, err := parser.Parse(command)
	if err != nil {
		return nil, fmt.Errorf("parse synthesis command: %w", err)
	}
	if len(args) == 0 {
		return nil, fmt.Errorf("synthesis command empty")
	}
	return &execEngine{cmd: args, sampleRate: sampleRate, channels: channels}, nil
}

func (e *execEngine) Speak(ctx context.Context, text string, voiceID voice.ID) ([]byte, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	input, err := json.Marshal(execSpeakRequest{
		Text:       text,
		Voice:      string(voiceID),
		SampleRate: e.sampleRate,
		Channels:   e.channels,
	})
	if err != nil {
		return nil, err
	}

	base := e.cmd[0]
	args := append([]string{}, e.cmd[1:]...)
	cmd := exec.CommandContext(ctx, base, args...)
	cmd.Stdin = bytes.NewReader(input)
	output, err := cmd.Output()
	if err != nil {
		return nil, fmt.Errorf("synthesis exec command failed: %w", err)
	}

	var resp execSpeakResponse
	if err := json.Unmarshal(output, &resp); err != nil {
		return nil, fmt.Errorf("decode synthesis exec response: %w", err)
	}
	pcm, err := base64.StdEncoding.DecodeString(resp.PCMBase64)
	if err != nil {
		return nil, fmt.Errorf("decode synthesis pcm: %w", err)
	}
	return pcm, nil
}
