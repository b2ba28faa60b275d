package transcribe

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"
)

// Rule match types and actions.
const (
	MatchPartial = "partial"
	MatchFull    = "full"

	ActionDelete  = "delete"
	ActionReplace = "replace"
)

// CleanupRule repairs a predictable failure mode of generative speech
// models: injected boilerplate ("thanks for watching"), stuck loops, and
// known mis-hearings of unit designators.
type CleanupRule struct {
	Pattern         string `json:"pattern"`
	Replacement     string `json:"replacement,omitempty"`
	MatchType       string `json:"match_type"` // partial | full
	Action          string `json:"action"`     // delete | replace
	IsHallucination bool   `json:"is_hallucination"`
}

// matches tests the rule against a segment text.
func (r *CleanupRule) matches(text string) bool {
	switch r.MatchType {
	case MatchFull:
		return strings.EqualFold(strings.TrimSpace(text), strings.TrimSpace(r.Pattern))
	default: // partial
		return strings.Contains(strings.ToLower(text), strings.ToLower(r.Pattern))
	}
}

// apply rewrites a segment text for a replace rule. Partial rules substitute
// the matched span; full rules replace the whole text.
func (r *CleanupRule) apply(text string) string {
	if r.MatchType == MatchFull {
		return r.Replacement
	}
	return replaceFold(text, r.Pattern, r.Replacement)
}

// replaceFold replaces all case-insensitive occurrences of pattern in text.
// Offsets are tracked on the original string, never on a lowered copy: some
// runes change byte length under case folding, so lowered-string indexes do
// not line up with the original bytes.
func replaceFold(text, pattern, replacement string) string {
	want := []rune(strings.ToLower(pattern))
	if len(want) == 0 {
		return text
	}
	var b strings.Builder
	last := 0
	for i := 0; i < len(text); {
		n, ok := foldMatch(text[i:], want)
		if !ok {
			_, size := utf8.DecodeRuneInString(text[i:])
			i += size
			continue
		}
		b.WriteString(text[last:i])
		b.WriteString(replacement)
		i += n
		last = i
	}
	if last == 0 {
		return text
	}
	b.WriteString(text[last:])
	return b.String()
}

// foldMatch reports whether s begins with the lowered rune sequence and how
// many bytes of s the match covers.
func foldMatch(s string, want []rune) (int, bool) {
	n := 0
	for _, r := range want {
		got, size := utf8.DecodeRuneInString(s[n:])
		if size == 0 || unicode.ToLower(got) != r {
			return 0, false
		}
		n += size
	}
	return n, true
}

// Cleanup post-processes an engine result: first an ordered rule pass over
// every segment, then a repeat-run collapse pass, then reassembly. It
// returns a new Result; the input is not modified.
//
// Returns ErrTranscriptInvalid when every segment matched a hallucination
// rule, and ErrTranscriptTooShort when the surviving text falls below the
// validity floor. Applying Cleanup to its own output is a no-op.
func Cleanup(res *Result, rules []CleanupRule) (*Result, error) {
	n := len(res.Segments)
	if n == 0 {
		return nil, ErrTranscriptTooShort
	}

	segments := make([]Segment, n)
	copy(segments, res.Segments)
	deleted := make([]bool, n)
	hallucinations := 0

	// Pass 1: rules in order, first match wins per segment.
	for i := range segments {
		for _, r := range rules {
			if !r.matches(segments[i].Text) {
				continue
			}
			if r.IsHallucination {
				hallucinations++
			}
			if r.Action == ActionDelete {
				deleted[i] = true
			} else {
				segments[i].Text = strings.TrimSpace(r.apply(segments[i].Text))
				if segments[i].Text == "" {
					deleted[i] = true
				}
			}
			break
		}
	}
	if hallucinations == n {
		return nil, fmt.Errorf("%w (%d segments)", ErrTranscriptInvalid, n)
	}

	// Pass 2: collapse repeat runs among surviving segments. A run of two
	// identical texts is legitimate radio traffic ("copy" ... "copy") and is
	// kept; once a run reaches three the engine is looping, so exactly one
	// copy survives.
	var order []int
	for i := range segments {
		if !deleted[i] {
			order = append(order, i)
		}
	}
	for s := 0; s < len(order); {
		e := s + 1
		for e < len(order) && segments[order[e]].Text == segments[order[s]].Text {
			e++
		}
		if runLen := e - s; runLen > 2 {
			for j := s + 1; j < e; j++ {
				deleted[order[j]] = true
			}
		}
		s = e
	}

	out := &Result{Language: res.Language}
	var texts []string
	for i := range segments {
		if deleted[i] {
			continue
		}
		out.Segments = append(out.Segments, segments[i])
		texts = append(texts, segments[i].Text)
	}
	out.Text = strings.Join(texts, "\n")

	if len(out.Segments) == 0 {
		return nil, ErrTranscriptInvalid
	}
	if len(out.Text) < 4 {
		return nil, ErrTranscriptTooShort
	}
	return out, nil
}
