package transcribe

import (
	"context"
	"errors"
)

// Terminal errors surfaced by the engine layer and post-processor. The worker
// acks jobs that fail with these instead of requeueing them.
var (
	// ErrTranscriptInvalid means every segment matched a hallucination rule.
	ErrTranscriptInvalid = errors.New("transcript invalid: all segments are hallucinations")

	// ErrTranscriptTooShort means the surviving text is below the validity floor.
	ErrTranscriptTooShort = errors.New("transcript too short")

	// ErrFatalConfig means the selected engine family cannot be constructed
	// (missing credentials, missing binary). Startup should abort.
	ErrFatalConfig = errors.New("fatal engine configuration")
)

// Provider is the interface for speech-to-text backends.
type Provider interface {
	Transcribe(ctx context.Context, audioPath string, opts Options) (*Result, error)
	Name() string  // engine family, e.g. "openai", "deepgram"
	Model() string // model identifier for logs
}

// Options are per-request engine inputs, already specialized for the call's
// radio type by the shaper.
type Options struct {
	Language      string
	InitialPrompt string
	VadFilter     bool

	// Decode hints; zero values mean engine default.
	BeamSize                  int
	BestOf                    int
	CompressionRatioThreshold float64

	// Post-processing
	Cleanup      bool
	CleanupRules []CleanupRule
}

// Segment is one time-bounded piece of an engine result. Times are seconds.
type Segment struct {
	Start float64 `json:"start"`
	End   float64 `json:"end"`
	Text  string  `json:"text"`
}

// Result is the normalized transcription result from any provider.
// Segments are time-ordered and non-overlapping within float tolerance.
type Result struct {
	Text     string    `json:"text"`
	Segments []Segment `json:"segments"`
	Language string    `json:"language"`
}
