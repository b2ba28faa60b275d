package vastai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

const defaultBaseURL = "https://console.vast.ai/api/v0"

// Client talks to the GPU spot/on-demand marketplace API.
type Client struct {
	apiKey  string
	baseURL string
	http    *http.Client
	log     zerolog.Logger
}

// NewClient builds a marketplace client.
func NewClient(apiKey string, log zerolog.Logger) *Client {
	return &Client{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		http:    &http.Client{Timeout: 30 * time.Second},
		log:     log.With().Str("component", "vastai").Logger(),
	}
}

// Offer is one rentable machine listing.
type Offer struct {
	ID          int64   `json:"id"`
	MachineID   int64   `json:"machine_id"`
	HostID      int64   `json:"host_id"`
	GPUName     string  `json:"gpu_name"`
	GPURAM      float64 `json:"gpu_ram"` // MB
	NumGPUs     int     `json:"num_gpus"`
	DPHTotal    float64 `json:"dph_total"` // $/hour
	MinBid      float64 `json:"min_bid"`
	CudaMaxGood float64 `json:"cuda_max_good"`
	Rentable    bool    `json:"rentable"`
	Hostname    string  `json:"-"` // derived, see FleetHostname
}

// Instance is one provisioned machine.
type Instance struct {
	ID           int64             `json:"id"`
	MachineID    int64             `json:"machine_id"`
	HostID       int64             `json:"host_id"`
	ActualStatus string            `json:"actual_status"` // loading | running | exited | stopped
	StatusMsg    string            `json:"status_msg"`
	DPHTotal     float64           `json:"dph_total"`
	GPUName      string            `json:"gpu_name"`
	DiskUsage    float64           `json:"disk_usage"`
	DiskSpace    float64           `json:"disk_space"`
	Label        string            `json:"label"`
	ExtraEnv     map[string]string `json:"-"`
	StartDate    float64           `json:"start_date"` // unix seconds
}

// FleetHostname is the stable worker identity for an instance or offer:
// celery-<git7>@<machine>.<host>.vendor. It doubles as the broker consumer
// tag, which is how the autoscaler matches instances to live consumers.
func FleetHostname(gitCommit string, machineID, hostID int64) string {
	git := gitCommit
	if len(git) > 7 {
		git = git[:7]
	}
	return fmt.Sprintf("celery-%s@%d.%d.vendor", git, machineID, hostID)
}

// Hostname returns the instance's fleet identity.
func (i *Instance) Hostname(gitCommit string) string {
	return FleetHostname(gitCommit, i.MachineID, i.HostID)
}

// DiskFull reports whether the instance's disk is above 90% used.
func (i *Instance) DiskFull() bool {
	return i.DiskSpace > 0 && i.DiskUsage/i.DiskSpace > 0.9
}

// Age returns how long the instance has existed.
func (i *Instance) Age(now time.Time) time.Duration {
	if i.StartDate == 0 {
		return 0
	}
	return now.Sub(time.Unix(int64(i.StartDate), 0))
}

// Instances lists the account's current instances.
func (c *Client) Instances(ctx context.Context) ([]Instance, error) {
	var out struct {
		Instances []Instance `json:"instances"`
	}
	if err := c.do(ctx, http.MethodGet, "/instances/", nil, &out); err != nil {
		return nil, err
	}
	return out.Instances, nil
}

// Offers searches rentable offers matching the raw query.
func (c *Client) Offers(ctx context.Context, query map[string]any) ([]Offer, error) {
	body := map[string]any{"q": query}
	var out struct {
		Offers []Offer `json:"offers"`
	}
	if err := c.do(ctx, http.MethodPost, "/bundles/", body, &out); err != nil {
		return nil, err
	}
	return out.Offers, nil
}

// CreateRequest provisions one offer.
type CreateRequest struct {
	OfferID    int64
	Image      string
	Env        map[string]string
	OnDemand   bool
	BidPrice   float64 // ignored when OnDemand
	DiskGB     float64
	Label      string
	OnStartCmd string
}

// Create rents the offer. Bid instances submit at the given price; on-demand
// instances pay the listed rate.
func (c *Client) Create(ctx context.Context, req CreateRequest) error {
	body := map[string]any{
		"client_id": "me",
		"image":     req.Image,
		"env":       req.Env,
		"disk":      req.DiskGB,
		"label":     req.Label,
		"onstart":   req.OnStartCmd,
		"runtype":   "args",
	}
	if req.OnDemand {
		body["price"] = nil
	} else {
		body["price"] = req.BidPrice
	}
	path := fmt.Sprintf("/asks/%d/", req.OfferID)
	if err := c.do(ctx, http.MethodPut, path, body, nil); err != nil {
		return fmt.Errorf("create instance from offer %d: %w", req.OfferID, err)
	}
	return nil
}

// Destroy deletes an instance. The reason is recorded in logs and metrics by
// the caller.
func (c *Client) Destroy(ctx context.Context, id int64) error {
	path := fmt.Sprintf("/instances/%d/", id)
	if err := c.do(ctx, http.MethodDelete, path, nil, nil); err != nil {
		return fmt.Errorf("destroy instance %d: %w", id, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("marketplace api: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("marketplace api %s %s: status %d: %s", method, path, resp.StatusCode, bytes.TrimSpace(msg))
	}
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode marketplace response: %w", err)
		}
	}
	return nil
}
