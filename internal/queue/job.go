package queue

import (
	"encoding/json"
	"fmt"

	"github.com/snarg/radioscribe/internal/calls"
	"github.com/snarg/radioscribe/internal/transcribe"
)

// Queue names. Retranscribe runs the same pipeline but always carries a call
// id, so completions update in place and never notify.
const (
	QueueTranscribe   = "transcribe"
	QueueRetranscribe = "retranscribe"
)

// Job is the unit of work placed on the broker: everything a worker needs to
// transcribe one call without talking back to the intake service.
type Job struct {
	AudioURL string             `json:"audio_url"`
	Metadata calls.Metadata     `json:"metadata"`
	Options  transcribe.Options `json:"options"`

	// WhisperKey optionally pins the engine ("<family>:<model>").
	WhisperKey string `json:"whisper_implementation,omitempty"`

	// ID is the call-store id. Present for persisted calls and all
	// retranscribe jobs; absent for ephemeral /tasks submissions.
	ID string `json:"id,omitempty"`

	// IndexName overrides the computed search index (reindex tooling).
	IndexName string `json:"index_name,omitempty"`

	// TaskID tracks intake task status for GET /tasks/{id}.
	TaskID string `json:"task_id,omitempty"`
}

// Encode serializes the job for the wire.
func (j *Job) Encode() ([]byte, error) {
	data, err := json.Marshal(j)
	if err != nil {
		return nil, fmt.Errorf("encode job: %w", err)
	}
	return data, nil
}

// DecodeJob parses a wire payload back into a job.
func DecodeJob(data []byte) (*Job, error) {
	var j Job
	if err := json.Unmarshal(data, &j); err != nil {
		return nil, fmt.Errorf("decode job: %w", err)
	}
	return &j, nil
}
