package protocol

import "time"

// StageEvent announces a pipeline state transition for one paper.
type StageEvent struct {
	SourceID  string    `json:"source_id"`
	Stage     string    `json:"stage"`
	Detail    string    `json:"detail,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// PodcastReady announces a finished podcast artifact. DegradedIndices lists
// utterances that were replaced with silence, if any.
type PodcastReady struct {
	SourceID        string    `json:"source_id"`
	OutputPath      string    `json:"output_path"`
	Segments        int       `json:"segments"`
	DegradedIndices []int     `json:"degraded_indices,omitempty"`
	Timestamp       time.Time `json:"timestamp"`
}

const (
	SubjectStage = "podcast.stage"
	SubjectReady = "podcast.ready"
)
