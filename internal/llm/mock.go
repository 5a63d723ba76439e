package llm

import (
	"context"
	"strings"
	"time"
)

type mockGenerator struct{}

func NewMockGenerator() Generator { return &mockGenerator{} }

// Complete returns a short fixed dialogue so the full pipeline can run
// without external services.
func (m *mockGenerator) Complete(ctx context.Context, req Request) (string, error) {
	select {
	case <-ctx.Done():
		return "", ctx.Err()
	case <-time.After(20 * time.Millisecond):
	}
	topic := firstWords(req.Prompt, 6)
	lines := []string{
		"Host: Welcome back. Today we are looking at " + topic + ".",
		"Guest: Thanks for having me. The paper makes a surprisingly practical contribution.",
		"Host: Walk us through the method before we get into the findings.",
		"Guest: In short, the authors combine a simple baseline with a careful evaluation, and the results hold up.",
	}
	return strings.Join(lines, "\n"), nil
}

func firstWords(s string, n int) string {
	fields := strings.Fields(s)
	if len(fields) > n {
		fields = fields[:n]
	}
	if len(fields) == 0 {
		return "a new paper"
	}
	return strings.Join(fields, " ")
}
