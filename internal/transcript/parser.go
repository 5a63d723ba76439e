package transcript

import (
	"strings"
)

// ParseDialogue decomposes raw model output into ordered speaker turns.
//
// The expected convention is one "<Role>: text" label per turn; lines without
// a label continue the current turn, and anything before the first label
// (preamble like "Here is the dialogue:") is dropped. Labels are matched
// case-insensitively and tolerate markdown emphasis around the role name.
func ParseDialogue(raw string, roles []Speaker, minTurns int) ([]Utterance, error) {
	byName := make(map[string]Speaker, len(roles))
	for _, r := range roles {
		byName[strings.ToLower(string(r))] = r
	}

	var utts []Utterance
	var current *Utterance
	var text strings.Builder

	flush := func() error {
		if current == nil {
			return nil
		}
		trimmed := strings.TrimSpace(text.String())
		if trimmed == "" {
			return malformed("turn %d for speaker %s has no text", current.Index, current.Speaker)
		}
		current.Text = trimmed
		utts = append(utts, *current)
		current = nil
		text.Reset()
		return nil
	}

	for _, line := range strings.Split(raw, "\n") {
		line = strings.TrimSpace(line)
		if speaker, rest, ok := matchLabel(line, byName); ok {
			if err := flush(); err != nil {
				return nil, err
			}
			current = &Utterance{Speaker: speaker, Index: len(utts)}
			text.WriteString(rest)
			continue
		}
		if current != nil && line != "" {
			if text.Len() > 0 {
				text.WriteString(" ")
			}
			text.WriteString(line)
		}
	}
	if err := flush(); err != nil {
		return nil, err
	}

	if len(utts) == 0 {
		return nil, malformed("no recognizable speaker labels")
	}
	if len(utts) < minTurns {
		return nil, malformed("only %d turns, need at least %d", len(utts), minTurns)
	}
	return utts, nil
}

// matchLabel reports whether line starts with a known "<Role>:" label and
// returns the remainder of the line.
func matchLabel(line string, roles map[string]Speaker) (Speaker, string, bool) {
	trimmed := strings.TrimLeft(line, "*-# ")
	colon := strings.Index(trimmed, ":")
	if colon <= 0 {
		return "", "", false
	}
	name := strings.ToLower(strings.TrimSpace(strings.Trim(trimmed[:colon], "* ")))
	speaker, ok := roles[name]
	if !ok {
		return "", "", false
	}
	rest := strings.TrimSpace(strings.TrimLeft(trimmed[colon+1:], "* "))
	return speaker, rest, true
}
