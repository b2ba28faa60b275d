package calls

import (
	"encoding/json"
	"fmt"
	"time"
)

// Audio types emitted by trunk-recorder in call metadata.
const (
	AudioTypeAnalog      = "analog"
	AudioTypeDigital     = "digital"
	AudioTypeDigitalTDMA = "digital tdma"
)

// Source is one radio transmission within a call, parsed from src_list.
type Source struct {
	Src              int     `json:"src"`
	Time             int64   `json:"time"`
	Pos              float64 `json:"pos"` // seconds offset into the audio
	Emergency        int     `json:"emergency,omitempty"`
	Signal           int     `json:"signal_system,omitempty"`
	Tag              string  `json:"tag"`
	TranscriptPrompt string  `json:"transcript_prompt,omitempty"`
}

// Freq is one frequency entry from the call's freq_list.
type Freq struct {
	Freq       float64 `json:"freq"`
	Time       int64   `json:"time"`
	Pos        float64 `json:"pos"`
	Len        float64 `json:"len"`
	ErrorCount int     `json:"error_count"`
	SpikeCount int     `json:"spike_count"`
}

// Metadata is the envelope describing a single recorded call.
type Metadata struct {
	Freq              int64    `json:"freq"`
	StartTime         int64    `json:"start_time"`
	StopTime          int64    `json:"stop_time"`
	CallLength        float64  `json:"call_length"`
	Talkgroup         int      `json:"talkgroup"`
	TalkgroupTag      string   `json:"talkgroup_tag"`
	TalkgroupDesc     string   `json:"talkgroup_description"`
	TalkgroupGroup    string   `json:"talkgroup_group"`
	TalkgroupGroupTag string   `json:"talkgroup_group_tag,omitempty"`
	AudioType         string   `json:"audio_type"`
	ShortName         string   `json:"short_name"`
	Emergency         int      `json:"emergency"`
	Encrypted         int      `json:"encrypted"`
	FreqList          []Freq   `json:"freqList"`
	SrcList           []Source `json:"srcList"`
}

// ParseMetadata decodes and validates a call_json payload.
func ParseMetadata(raw []byte) (*Metadata, error) {
	var m Metadata
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("decode call metadata: %w", err)
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

// Validate checks the structural invariants of the metadata envelope.
func (m *Metadata) Validate() error {
	if m.ShortName == "" {
		return fmt.Errorf("metadata: short_name is required")
	}
	if m.StartTime <= 0 {
		return fmt.Errorf("metadata: start_time is required")
	}
	if m.StopTime < m.StartTime {
		return fmt.Errorf("metadata: stop_time %d before start_time %d", m.StopTime, m.StartTime)
	}
	if m.IsDigital() {
		if len(m.SrcList) == 0 {
			return fmt.Errorf("metadata: digital call has empty srcList")
		}
		for i := 1; i < len(m.SrcList); i++ {
			if m.SrcList[i].Pos < m.SrcList[i-1].Pos {
				return fmt.Errorf("metadata: srcList positions not non-decreasing at index %d", i)
			}
		}
	}
	return nil
}

// IsDigital reports whether the call carries per-source metadata.
func (m *Metadata) IsDigital() bool {
	return m.AudioType == AudioTypeDigital || m.AudioType == AudioTypeDigitalTDMA
}

// IsAnalog reports whether the call is a flat analog recording.
func (m *Metadata) IsAnalog() bool {
	return m.AudioType == AudioTypeAnalog
}

// Start returns the call start as UTC wall time.
func (m *Metadata) Start() time.Time {
	return time.Unix(m.StartTime, 0).UTC()
}

// AudioKey builds the object-store key for the call's audio file:
// YYYY/MM/DD/HH/YYYYMMDD_HHMMSS_<short_name>_<talkgroup>.mp3
func (m *Metadata) AudioKey() string {
	t := m.Start()
	return fmt.Sprintf("%04d/%02d/%02d/%02d/%04d%02d%02d_%02d%02d%02d_%s_%d.mp3",
		t.Year(), t.Month(), t.Day(), t.Hour(),
		t.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(),
		m.ShortName, m.Talkgroup)
}
