package calls

import (
	"encoding/json"
	"fmt"
	"html"
	"strings"
)

// minTranscriptChars is the minimum concatenated text length for a transcript
// to be considered valid.
const minTranscriptChars = 4

// TranscriptSegment is one attributed piece of a transcript. Source is nil
// for analog calls where no per-radio attribution exists.
type TranscriptSegment struct {
	Source *Source
	Text   string
}

// Transcript is an ordered sequence of (source, text) pairs. It is built once
// by the worker and immutable afterward.
type Transcript struct {
	Segments []TranscriptSegment
}

// Append adds a segment. Used only during construction by the shaper.
func (t *Transcript) Append(src *Source, text string) {
	t.Segments = append(t.Segments, TranscriptSegment{Source: src, Text: text})
}

// Valid reports whether the transcript is non-empty and its concatenated
// text is at least four characters.
func (t *Transcript) Valid() bool {
	if len(t.Segments) == 0 {
		return false
	}
	var n int
	for _, s := range t.Segments {
		n += len(s.Text)
	}
	return n >= minTranscriptChars
}

// Plaintext renders the transcript as newline-joined segment text.
func (t *Transcript) Plaintext() string {
	parts := make([]string, 0, len(t.Segments))
	for _, s := range t.Segments {
		parts = append(parts, s.Text)
	}
	return strings.Join(parts, "\n")
}

// HTML renders the transcript with per-segment source tagging. Sourced
// segments are prefixed with an <i> label carrying the radio id so the
// search UI can highlight who said what.
func (t *Transcript) HTML() string {
	var b strings.Builder
	for i, s := range t.Segments {
		if i > 0 {
			b.WriteString("<br>")
		}
		if s.Source != nil {
			label := s.Source.Tag
			if label == "" {
				label = fmt.Sprintf("%d", s.Source.Src)
			}
			b.WriteString(fmt.Sprintf(`<i data-src="%d">%s:</i> `, s.Source.Src, html.EscapeString(label)))
		}
		b.WriteString(html.EscapeString(s.Text))
	}
	return b.String()
}

// rawSegment is the storage form of one segment: [src|null, text].
type rawSegment [2]any

// Raw serializes the transcript to its storage form, a JSON array of
// [source, text] pairs where source is the full source object or null.
func (t *Transcript) Raw() ([]byte, error) {
	out := make([]rawSegment, len(t.Segments))
	for i, s := range t.Segments {
		if s.Source != nil {
			out[i] = rawSegment{s.Source, s.Text}
		} else {
			out[i] = rawSegment{nil, s.Text}
		}
	}
	return json.Marshal(out)
}

// TranscriptFromRaw reconstructs a transcript from its Raw serialization.
func TranscriptFromRaw(raw []byte) (*Transcript, error) {
	var pairs []json.RawMessage
	if err := json.Unmarshal(raw, &pairs); err != nil {
		return nil, fmt.Errorf("decode raw transcript: %w", err)
	}
	t := &Transcript{}
	for i, p := range pairs {
		var pair [2]json.RawMessage
		if err := json.Unmarshal(p, &pair); err != nil {
			return nil, fmt.Errorf("decode raw transcript pair %d: %w", i, err)
		}
		var src *Source
		if string(pair[0]) != "null" {
			src = &Source{}
			if err := json.Unmarshal(pair[0], src); err != nil {
				return nil, fmt.Errorf("decode raw transcript source %d: %w", i, err)
			}
		}
		var text string
		if err := json.Unmarshal(pair[1], &text); err != nil {
			return nil, fmt.Errorf("decode raw transcript text %d: %w", i, err)
		}
		t.Append(src, text)
	}
	return t, nil
}
