package transcribe

import (
	"context"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// openAIPromptPreamble primes the hosted model with domain context before the
// per-call prompt built from the source list.
const openAIPromptPreamble = "This is a public safety two-way radio transmission. "

// OpenAIClient calls a hosted OpenAI-compatible transcription API.
// Implements the Provider interface.
type OpenAIClient struct {
	client *openai.Client
	model  string
}

var _ Provider = (*OpenAIClient)(nil)

// NewOpenAIClient creates a hosted-API engine client. baseURL overrides the
// endpoint for OpenAI-compatible servers; empty means api.openai.com.
func NewOpenAIClient(apiKey, baseURL, model string) *OpenAIClient {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIClient{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
	}
}

func (c *OpenAIClient) Name() string  { return FamilyOpenAI }
func (c *OpenAIClient) Model() string { return c.model }

// Transcribe sends the audio in a single request and asks for verbose JSON
// so the response carries timed segments.
func (c *OpenAIClient) Transcribe(ctx context.Context, audioPath string, opts Options) (*Result, error) {
	req := openai.AudioRequest{
		Model:    c.model,
		FilePath: audioPath,
		Prompt:   openAIPromptPreamble + opts.InitialPrompt,
		Language: opts.Language,
		Format:   openai.AudioResponseFormatVerboseJSON,
	}

	resp, err := c.client.CreateTranscription(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("openai transcription: %w", err)
	}

	segments := make([]Segment, 0, len(resp.Segments))
	for _, s := range resp.Segments {
		segments = append(segments, Segment{
			Start: s.Start,
			End:   s.End,
			Text:  strings.TrimSpace(s.Text),
		})
	}

	return &Result{
		Text:     strings.TrimSpace(resp.Text),
		Segments: segments,
		Language: resp.Language,
	}, nil
}
