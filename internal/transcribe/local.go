package transcribe

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	whisperlib "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"
)

// LocalWhisper runs inference in-process through the whisper.cpp CGO
// bindings. The model is loaded once and kept for the life of the process;
// contexts are created per call because they are not safe for reuse.
// Implements the Provider interface.
type LocalWhisper struct {
	model whisperlib.Model
	name  string
}

var _ Provider = (*LocalWhisper)(nil)

// NewLocalWhisper loads the ggml model file from modelDir. A missing model
// file is a fatal configuration error, not a retryable one.
func NewLocalWhisper(modelDir, model string) (*LocalWhisper, error) {
	path := filepath.Join(modelDir, "ggml-"+model+".bin")
	if _, err := os.Stat(path); err != nil {
		return nil, fmt.Errorf("%w: whisper model %q not found: %v", ErrFatalConfig, path, err)
	}
	m, err := whisperlib.New(path)
	if err != nil {
		return nil, fmt.Errorf("%w: load whisper model %q: %v", ErrFatalConfig, path, err)
	}
	return &LocalWhisper{model: m, name: model}, nil
}

func (lw *LocalWhisper) Name() string  { return FamilyLocal }
func (lw *LocalWhisper) Model() string { return lw.name }

// Close releases the underlying model.
func (lw *LocalWhisper) Close() error {
	if lw.model != nil {
		return lw.model.Close()
	}
	return nil
}

// Transcribe decodes the 16 kHz mono PCM wav the worker prepared and runs a
// fresh whisper context over it.
func (lw *LocalWhisper) Transcribe(ctx context.Context, audioPath string, opts Options) (*Result, error) {
	samples, err := readWavMonoFloat32(audioPath)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	wctx, err := lw.model.NewContext()
	if err != nil {
		return nil, fmt.Errorf("whisper context: %w", err)
	}

	lang := opts.Language
	if lang == "" {
		lang = "en"
	}
	if err := wctx.SetLanguage(lang); err != nil {
		return nil, fmt.Errorf("whisper set language %q: %w", lang, err)
	}
	if opts.InitialPrompt != "" {
		wctx.SetInitialPrompt(opts.InitialPrompt)
	}

	if err := wctx.Process(samples, nil, nil, nil); err != nil {
		return nil, fmt.Errorf("whisper process: %w", err)
	}

	var (
		segments []Segment
		texts    []string
	)
	for {
		seg, err := wctx.NextSegment()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("whisper next segment: %w", err)
		}
		text := strings.TrimSpace(seg.Text)
		if text == "" || whisperCppPlaceholders[text] {
			continue
		}
		segments = append(segments, Segment{
			Start: seg.Start.Seconds(),
			End:   seg.End.Seconds(),
			Text:  text,
		})
		texts = append(texts, text)
	}

	return &Result{
		Text:     strings.Join(texts, "\n"),
		Segments: segments,
		Language: lang,
	}, nil
}

// readWavMonoFloat32 reads a 16-bit PCM RIFF wav and returns normalized
// float32 samples. The worker always converts audio to 16 kHz mono s16le
// before invoking the engine, so only that layout is supported.
func readWavMonoFloat32(path string) ([]float32, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read wav: %w", err)
	}
	if len(data) < 44 || string(data[0:4]) != "RIFF" || string(data[8:12]) != "WAVE" {
		return nil, errors.New("read wav: not a RIFF/WAVE file")
	}

	// Walk chunks to find "data"; ffmpeg sometimes inserts LIST chunks.
	off := 12
	for off+8 <= len(data) {
		id := string(data[off : off+4])
		size := int(binary.LittleEndian.Uint32(data[off+4 : off+8]))
		body := off + 8
		if body+size > len(data) {
			size = len(data) - body
		}
		if id == "data" {
			pcm := data[body : body+size]
			samples := make([]float32, len(pcm)/2)
			for i := range samples {
				s := int16(binary.LittleEndian.Uint16(pcm[i*2 : i*2+2]))
				samples[i] = float32(s) / 32768
			}
			return samples, nil
		}
		off = body + size
		if size%2 == 1 {
			off++
		}
	}
	return nil, errors.New("read wav: no data chunk")
}
