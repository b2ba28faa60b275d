package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// WhisperServerClient calls a remote HTTP ASR service (openai-whisper-asr-webservice
// style): options go in the query string, audio in a multipart body, and the
// returned JSON is used verbatim as the normalized result.
// Implements the Provider interface.
type WhisperServerClient struct {
	baseURL string
	model   string
	timeout time.Duration
	client  *http.Client
}

var _ Provider = (*WhisperServerClient)(nil)

// NewWhisperServerClient creates a remote ASR engine client.
func NewWhisperServerClient(baseURL, model string, timeout time.Duration) *WhisperServerClient {
	return &WhisperServerClient{
		baseURL: baseURL,
		model:   model,
		timeout: timeout,
		client:  &http.Client{Timeout: timeout},
	}
}

func (ws *WhisperServerClient) Name() string  { return FamilyWhisperServer }
func (ws *WhisperServerClient) Model() string { return ws.model }

// Transcribe POSTs the audio with query flags and decodes the response JSON
// directly into the normalized result shape.
func (ws *WhisperServerClient) Transcribe(ctx context.Context, audioPath string, opts Options) (*Result, error) {
	f, err := os.Open(audioPath)
	if err != nil {
		return nil, fmt.Errorf("open audio file: %w", err)
	}
	defer f.Close()

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	part, err := w.CreateFormFile("audio_file", filepath.Base(audioPath))
	if err != nil {
		return nil, fmt.Errorf("create form file: %w", err)
	}
	if _, err := io.Copy(part, f); err != nil {
		return nil, fmt.Errorf("copy audio data: %w", err)
	}
	w.Close()

	lang := opts.Language
	if lang == "" {
		lang = "en"
	}
	q := url.Values{}
	q.Set("task", "transcribe")
	q.Set("language", lang)
	q.Set("word_timestamps", "false")
	q.Set("output", "json")
	q.Set("vad_filter", strconv.FormatBool(opts.VadFilter))
	if opts.InitialPrompt != "" {
		q.Set("initial_prompt", opts.InitialPrompt)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, ws.baseURL+"/asr?"+q.Encode(), &buf)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := ws.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("whisper-server request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("whisper-server API error (status %d): %s", resp.StatusCode, truncate(string(body), 512))
	}

	var result Result
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &result, nil
}
