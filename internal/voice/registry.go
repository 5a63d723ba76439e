// Package voice maps dialogue roles to synthesis voice identities. The
// table is fixed at startup and read-only afterwards.
package voice

import (
	"fmt"

	"github.com/papercast-labs/papercast-core/internal/transcript"
)

// ID identifies a voice at the speech service.
type ID string

// UnknownSpeakerError means a role reached synthesis that validation should
// have rejected. It signals a configuration/validation mismatch, not a
// recoverable runtime condition.
type UnknownSpeakerError struct {
	Speaker transcript.Speaker
}

func (e *UnknownSpeakerError) Error() string {
	return fmt.Sprintf("no voice configured for speaker %q", e.Speaker)
}

type Registry struct {
	voices map[transcript.Speaker]ID
}

// NewRegistry builds the registry from the configured role→voice table.
func NewRegistry(voices map[string]string) (*Registry, error) {
	if len(voices) == 0 {
		return nil, fmt.Errorf("voice table must not be empty")
	}
	table := make(map[transcript.Speaker]ID, len(voices))
	for role, id := range voices {
		if id == "" {
			return nil, fmt.Errorf("voice for role %q must not be empty", role)
		}
		table[transcript.Speaker(role)] = ID(id)
	}
	return &Registry{voices: table}, nil
}

// VoiceFor resolves a speaker role. Deterministic for the life of the
// registry.
func (r *Registry) VoiceFor(speaker transcript.Speaker) (ID, error) {
	id, ok := r.voices[speaker]
	if !ok {
		return "", &UnknownSpeakerError{Speaker: speaker}
	}
	return id, nil
}

// Roles returns the configured speaker roles.
func (r *Registry) Roles() []transcript.Speaker {
	roles := make([]transcript.Speaker, 0, len(r.voices))
	for role := range r.voices {
		roles = append(roles, role)
	}
	return roles
}
