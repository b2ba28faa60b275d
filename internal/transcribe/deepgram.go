package transcribe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strings"
	"time"
)

const deepgramEndpoint = "https://api.deepgram.com/v1/listen"

// DeepgramClient calls Deepgram's prerecorded transcription API.
// Implements the Provider interface.
type DeepgramClient struct {
	apiKey   string
	model    string // e.g. "nova-2"
	endpoint string
	timeout  time.Duration
	client   *http.Client
}

var _ Provider = (*DeepgramClient)(nil)

// deepgramResponse is the subset of Deepgram's prerecorded response we use.
type deepgramResponse struct {
	Results struct {
		Utterances []deepgramUtterance `json:"utterances"`
		Channels   []struct {
			DetectedLanguage string `json:"detected_language"`
			Alternatives     []struct {
				Transcript string `json:"transcript"`
			} `json:"alternatives"`
		} `json:"channels"`
	} `json:"results"`
}

type deepgramUtterance struct {
	Start      float64 `json:"start"`
	End        float64 `json:"end"`
	Transcript string  `json:"transcript"`
}

// NewDeepgramClient creates a Deepgram prerecorded API client.
func NewDeepgramClient(apiKey, model string, timeout time.Duration) *DeepgramClient {
	return &DeepgramClient{
		apiKey:   apiKey,
		model:    model,
		endpoint: deepgramEndpoint,
		timeout:  timeout,
		client:   &http.Client{Timeout: timeout},
	}
}

func (dg *DeepgramClient) Name() string  { return FamilyDeepgram }
func (dg *DeepgramClient) Model() string { return dg.model }

// Transcribe submits the audio bytes with utterance segmentation enabled and
// maps returned utterances to segments. A response without utterances yields
// an empty result rather than an error; short clips of squelch noise
// legitimately produce nothing.
func (dg *DeepgramClient) Transcribe(ctx context.Context, audioPath string, opts Options) (*Result, error) {
	data, err := os.ReadFile(audioPath)
	if err != nil {
		return nil, fmt.Errorf("read audio file: %w", err)
	}

	q := url.Values{}
	q.Set("model", dg.model)
	q.Set("utterances", "true")
	q.Set("smart_format", "true")
	lang := opts.Language
	if lang == "" {
		lang = "en"
	}
	q.Set("language", lang)
	// Deepgram has no prompt parameter; prompt terms become keyword boosts.
	for _, kw := range promptKeywords(opts.InitialPrompt) {
		q.Add("keywords", kw)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, dg.endpoint+"?"+q.Encode(), bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Token "+dg.apiKey)
	req.Header.Set("Content-Type", "audio/wav")

	resp, err := dg.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("deepgram request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("deepgram API error (status %d): %s", resp.StatusCode, string(body))
	}

	var result deepgramResponse
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	out := &Result{Language: lang}
	if len(result.Results.Channels) > 0 {
		if dl := result.Results.Channels[0].DetectedLanguage; dl != "" {
			out.Language = dl
		}
	}
	if len(result.Results.Utterances) == 0 {
		return out, nil
	}

	var texts []string
	for _, u := range result.Results.Utterances {
		text := strings.TrimSpace(u.Transcript)
		if text == "" {
			continue
		}
		out.Segments = append(out.Segments, Segment{Start: u.Start, End: u.End, Text: text})
		texts = append(texts, text)
	}
	out.Text = strings.Join(texts, "\n")
	return out, nil
}

// promptKeywords splits an initial prompt into distinct keyword boost terms.
func promptKeywords(prompt string) []string {
	seen := make(map[string]bool)
	var out []string
	for _, f := range strings.Fields(prompt) {
		f = strings.Trim(f, ",.")
		if f == "" || seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	return out
}
