package transcript

import "time"

// Speaker is a dialogue role. The set of valid roles is fixed per run and
// mirrors the voice table in config.
type Speaker string

const (
	RoleHost  Speaker = "Host"
	RoleGuest Speaker = "Guest"
)

// DefaultRoles is the two-party dialogue the generator asks for.
var DefaultRoles = []Speaker{RoleHost, RoleGuest}

// Utterance is one validated turn. Immutable once parsed.
type Utterance struct {
	Speaker Speaker `json:"speaker"`
	Text    string  `json:"text"`
	Index   int     `json:"index"`
}

// Transcript is the full ordered dialogue for one source paper. Utterance
// indices are contiguous from zero.
type Transcript struct {
	SourceID   string      `json:"source_id"`
	Utterances []Utterance `json:"utterances"`
	CreatedAt  time.Time   `json:"created_at"`
}

// Alternates reports whether consecutive utterances switch speakers. This is
// a soft expectation of two-party dialogue, checked but never enforced.
func Alternates(utts []Utterance) bool {
	for i := 1; i < len(utts); i++ {
		if utts[i].Speaker == utts[i-1].Speaker {
			return false
		}
	}
	return true
}
