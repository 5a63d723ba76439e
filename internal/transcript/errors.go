package transcript

import "fmt"

// MalformedTranscriptError reports model output that could not be parsed into
// a valid dialogue. The generator retries on it before surfacing.
type MalformedTranscriptError struct {
	Reason string
}

func (e *MalformedTranscriptError) Error() string {
	return fmt.Sprintf("malformed transcript: %s", e.Reason)
}

func malformed(format string, args ...any) *MalformedTranscriptError {
	return &MalformedTranscriptError{Reason: fmt.Sprintf(format, args...)}
}
