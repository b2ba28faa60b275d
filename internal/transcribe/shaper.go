package transcribe

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/snarg/radioscribe/internal/calls"
)

// ErrUnsupportedAudioType marks calls whose audio_type has no shaping path.
// Terminal: retrying cannot help.
var ErrUnsupportedAudioType = errors.New("unsupported audio_type")

// ShaperConfig carries the per-radio-type engine switches.
type ShaperConfig struct {
	VadFilterDigital bool
	VadFilterAnalog  bool
}

// BuildOptions constructs engine options for a call. For digital calls the
// initial prompt is the concatenation of the distinct transcript_prompt
// strings from the source list in first-occurrence order. For analog calls
// the caller-supplied prompt passes through unchanged.
func (sc ShaperConfig) BuildOptions(meta *calls.Metadata, callerPrompt string, base Options) (Options, error) {
	opts := base
	switch {
	case meta.IsDigital():
		opts.InitialPrompt = digitalPrompt(meta.SrcList)
		opts.VadFilter = sc.VadFilterDigital
	case meta.IsAnalog():
		opts.InitialPrompt = callerPrompt
		opts.VadFilter = sc.VadFilterAnalog
	default:
		return Options{}, fmt.Errorf("%w: %q", ErrUnsupportedAudioType, meta.AudioType)
	}
	return opts, nil
}

func digitalPrompt(srcList []calls.Source) string {
	seen := make(map[string]bool)
	var parts []string
	for _, s := range srcList {
		p := strings.TrimSpace(s.TranscriptPrompt)
		if p == "" || seen[p] {
			continue
		}
		seen[p] = true
		parts = append(parts, p)
	}
	return strings.Join(parts, " ")
}

// BuildTranscript attributes an engine result back to the call's sources.
// Digital calls attribute each segment to the source whose pos is closest to
// the segment start, ties broken toward the earlier source. Analog calls get
// a flat transcript with no source.
//
// The result must already be post-processed; the returned transcript is
// checked for validity.
func (sc ShaperConfig) BuildTranscript(meta *calls.Metadata, res *Result) (*calls.Transcript, error) {
	t := &calls.Transcript{}

	if meta.IsDigital() {
		for _, seg := range res.Segments {
			text := strings.TrimSpace(seg.Text)
			if text == "" {
				continue
			}
			src := nearestSource(meta.SrcList, seg.Start)
			t.Append(src, text)
		}
	} else {
		for _, seg := range res.Segments {
			text := strings.TrimSpace(seg.Text)
			if text == "" {
				continue
			}
			t.Append(nil, text)
		}
	}

	if !t.Valid() {
		return nil, ErrTranscriptTooShort
	}
	return t, nil
}

// nearestSource picks the source whose pos minimizes |pos - start|. Earlier
// sources win ties because the list is position-sorted.
func nearestSource(srcList []calls.Source, start float64) *calls.Source {
	if len(srcList) == 0 {
		return nil
	}
	best := 0
	bestDist := math.Abs(srcList[0].Pos - start)
	for i := 1; i < len(srcList); i++ {
		d := math.Abs(srcList[i].Pos - start)
		if d < bestDist {
			bestDist = d
			best = i
		}
	}
	return &srcList[best]
}
