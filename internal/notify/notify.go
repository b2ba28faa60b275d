package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/snarg/radioscribe/internal/calls"
)

// Message is the payload pushed to each notification endpoint. Receivers do
// their own keyword and location matching to decide which channels fire.
type Message struct {
	Metadata   *calls.Metadata `json:"metadata"`
	Transcript string          `json:"transcript"`
	AudioURL   string          `json:"audio_url"`
	SearchURL  string          `json:"search_url,omitempty"`
	Geo        json.RawMessage `json:"geo,omitempty"`
}

// Dispatcher fans a finished call out to the configured webhook URLs.
type Dispatcher struct {
	urls []string
	http *http.Client
	log  zerolog.Logger
}

// NewDispatcher parses the comma-separated NOTIFY_URLS value. An empty value
// yields a dispatcher that does nothing.
func NewDispatcher(urls string, log zerolog.Logger) *Dispatcher {
	var out []string
	for _, u := range strings.Split(urls, ",") {
		if u = strings.TrimSpace(u); u != "" {
			out = append(out, u)
		}
	}
	return &Dispatcher{
		urls: out,
		http: &http.Client{Timeout: 10 * time.Second},
		log:  log.With().Str("component", "notify").Logger(),
	}
}

// Dispatch posts the message to every endpoint. Failures are logged and do
// not fail the call; notification delivery is best effort.
func (d *Dispatcher) Dispatch(ctx context.Context, msg *Message) {
	if len(d.urls) == 0 {
		return
	}
	body, err := json.Marshal(msg)
	if err != nil {
		d.log.Error().Err(err).Msg("marshal notification")
		return
	}
	for _, u := range d.urls {
		if err := d.post(ctx, u, body); err != nil {
			d.log.Warn().Err(err).Str("url", u).Msg("notification delivery failed")
		}
	}
}

func (d *Dispatcher) post(ctx context.Context, url string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := d.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("status %d", resp.StatusCode)
	}
	return nil
}
