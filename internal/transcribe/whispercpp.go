package transcribe

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
)

// placeholder lines whisper.cpp emits for non-speech audio.
var whisperCppPlaceholders = map[string]bool{
	"[BLANK_AUDIO]": true,
	"[SOUND]":       true,
}

// WhisperCppClient invokes the whisper.cpp CLI binary as a subprocess and
// parses the CSV it writes next to the input file.
// Implements the Provider interface.
type WhisperCppClient struct {
	bin      string
	modelDir string
	model    string // e.g. "base.en" -> <modelDir>/ggml-base.en.bin
}

var _ Provider = (*WhisperCppClient)(nil)

// NewWhisperCppClient creates a subprocess engine around the whisper.cpp binary.
func NewWhisperCppClient(bin, modelDir, model string) *WhisperCppClient {
	return &WhisperCppClient{bin: bin, modelDir: modelDir, model: model}
}

func (wc *WhisperCppClient) Name() string  { return FamilyWhisperCpp }
func (wc *WhisperCppClient) Model() string { return wc.model }

func (wc *WhisperCppClient) modelPath() string {
	return filepath.Join(wc.modelDir, "ggml-"+wc.model+".bin")
}

// Transcribe runs the binary with explicit arguments and reads the produced
// CSV of (start_ms, end_ms, text). The CSV is deleted on all exit paths.
func (wc *WhisperCppClient) Transcribe(ctx context.Context, audioPath string, opts Options) (*Result, error) {
	lang := opts.Language
	if lang == "" {
		lang = "en"
	}

	args := []string{
		"-m", wc.modelPath(),
		"-l", lang,
		"--output-csv",
		"-f", audioPath,
	}
	if opts.InitialPrompt != "" {
		args = append(args, "--prompt", opts.InitialPrompt)
	}
	if opts.BeamSize > 0 {
		args = append(args, "--beam-size", strconv.Itoa(opts.BeamSize))
	}
	if opts.BestOf > 0 {
		args = append(args, "--best-of", strconv.Itoa(opts.BestOf))
	}

	cmd := exec.CommandContext(ctx, wc.bin, args...)
	out, err := cmd.CombinedOutput()
	csvPath := audioPath + ".csv"
	defer os.Remove(csvPath)
	if err != nil {
		return nil, fmt.Errorf("whisper.cpp: %w: %s", err, truncate(string(out), 512))
	}

	segments, err := parseWhisperCppCSV(csvPath)
	if err != nil {
		return nil, err
	}

	texts := make([]string, 0, len(segments))
	for _, s := range segments {
		texts = append(texts, s.Text)
	}

	return &Result{
		Text:     strings.Join(texts, "\n"),
		Segments: segments,
		Language: lang,
	}, nil
}

// parseWhisperCppCSV reads the whisper.cpp CSV output: start_ms,end_ms,text.
// Placeholder lines and empties are filtered.
func parseWhisperCppCSV(path string) ([]Segment, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open whisper.cpp csv: %w", err)
	}
	defer f.Close()

	r := csv.NewReader(f)
	r.FieldsPerRecord = -1

	var segments []Segment
	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse whisper.cpp csv: %w", err)
	}
	for _, rec := range records {
		if len(rec) < 3 {
			continue
		}
		startMs, err1 := strconv.ParseFloat(strings.TrimSpace(rec[0]), 64)
		endMs, err2 := strconv.ParseFloat(strings.TrimSpace(rec[1]), 64)
		if err1 != nil || err2 != nil {
			// header row or junk
			continue
		}
		text := strings.TrimSpace(rec[2])
		if text == "" || whisperCppPlaceholders[text] {
			continue
		}
		segments = append(segments, Segment{
			Start: startMs / 1000,
			End:   endMs / 1000,
			Text:  text,
		})
	}
	return segments, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "…"
}
