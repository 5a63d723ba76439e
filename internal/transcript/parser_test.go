package transcript

import (
	"errors"
	"strings"
	"testing"
)

func TestParseDialogueOrdering(t *testing.T) {
	raw := strings.Join([]string{
		"Host: Welcome to the show.",
		"Guest: Glad to be here.",
		"Host: Let's talk about the method.",
		"Guest: It builds on prior work.",
	}, "\n")

	utts, err := ParseDialogue(raw, DefaultRoles, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(utts) != 4 {
		t.Fatalf("expected 4 utterances, got %d", len(utts))
	}
	for i, u := range utts {
		if u.Index != i {
			t.Fatalf("utterance %d has index %d", i, u.Index)
		}
	}
	if utts[0].Speaker != RoleHost || utts[1].Speaker != RoleGuest {
		t.Fatalf("unexpected speakers: %v %v", utts[0].Speaker, utts[1].Speaker)
	}
}

func TestParseDialogueContinuationAndPreamble(t *testing.T) {
	raw := strings.Join([]string{
		"Here is the dialogue you asked for:",
		"",
		"**Host:** Welcome back.",
		"This episode covers a dense paper,",
		"so bear with us.",
		"Guest: Happy to simplify it.",
	}, "\n")

	utts, err := ParseDialogue(raw, DefaultRoles, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(utts) != 2 {
		t.Fatalf("expected 2 utterances, got %d", len(utts))
	}
	want := "Welcome back. This episode covers a dense paper, so bear with us."
	if utts[0].Text != want {
		t.Fatalf("continuation not joined: %q", utts[0].Text)
	}
}

func TestParseDialogueNoLabels(t *testing.T) {
	_, err := ParseDialogue("just some prose with no speakers at all", DefaultRoles, 2)
	var merr *MalformedTranscriptError
	if !errors.As(err, &merr) {
		t.Fatalf("expected MalformedTranscriptError, got %v", err)
	}
}

func TestParseDialogueBelowMinTurns(t *testing.T) {
	_, err := ParseDialogue("Host: a lonely monologue", DefaultRoles, 2)
	var merr *MalformedTranscriptError
	if !errors.As(err, &merr) {
		t.Fatalf("expected MalformedTranscriptError, got %v", err)
	}
}

func TestParseDialogueEmptyTurn(t *testing.T) {
	raw := "Host: Something.\nGuest:\nHost: More."
	_, err := ParseDialogue(raw, DefaultRoles, 2)
	var merr *MalformedTranscriptError
	if !errors.As(err, &merr) {
		t.Fatalf("expected MalformedTranscriptError for empty turn, got %v", err)
	}
}

func TestParseDialogueCaseInsensitiveLabels(t *testing.T) {
	raw := "HOST: Loud greeting.\nguest: quiet reply."
	utts, err := ParseDialogue(raw, DefaultRoles, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if utts[0].Speaker != RoleHost || utts[1].Speaker != RoleGuest {
		t.Fatalf("labels not normalized: %v", utts)
	}
}

func TestAlternates(t *testing.T) {
	alt := []Utterance{{Speaker: RoleHost}, {Speaker: RoleGuest}, {Speaker: RoleHost}}
	if !Alternates(alt) {
		t.Fatal("expected alternation")
	}
	same := []Utterance{{Speaker: RoleHost}, {Speaker: RoleHost}}
	if Alternates(same) {
		t.Fatal("expected non-alternation")
	}
}
