package autoscaler

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/snarg/radioscribe/internal/queue"
)

const samplePeriod = 2 * time.Second

// Telemetry polls the broker management API on a short cadence and keeps a
// sliding window of samples. The control loop reads averaged values, so a
// momentary rate spike does not trigger a scale-up.
type Telemetry struct {
	client *queue.TelemetryClient
	queue  string
	window int
	log    zerolog.Logger

	mu      sync.Mutex
	samples []sample
	latest  queue.QueueStats
}

type sample struct {
	ingress float64 // publish rate minus ack rate, msg/s
	depth   int
}

// NewTelemetry builds a poller whose window holds interval/2 samples (one
// sample every 2 seconds over half the control interval).
func NewTelemetry(client *queue.TelemetryClient, queueName string, interval time.Duration, log zerolog.Logger) *Telemetry {
	window := int(interval.Seconds()) / 2
	if window < 1 {
		window = 1
	}
	return &Telemetry{
		client: client,
		queue:  queueName,
		window: window,
		log:    log.With().Str("component", "telemetry").Logger(),
	}
}

// Run polls until the context is cancelled.
func (t *Telemetry) Run(ctx context.Context) {
	ticker := time.NewTicker(samplePeriod)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			stats, err := t.client.Queue(ctx, t.queue)
			if err != nil {
				t.log.Warn().Err(err).Msg("telemetry poll failed")
				continue
			}
			t.record(stats)
		}
	}
}

func (t *Telemetry) record(stats *queue.QueueStats) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.latest = *stats
	t.samples = append(t.samples, sample{
		ingress: stats.InRate - stats.AckRate,
		depth:   stats.Depth,
	})
	if len(t.samples) > t.window {
		t.samples = t.samples[len(t.samples)-t.window:]
	}
}

// Snapshot is the averaged view the control loop scales on.
type Snapshot struct {
	AvgIngress float64 // msg/s, negative when draining
	AvgDepth   float64
	Depth      int
	Consumers  int
	AckRate    float64
}

// Snapshot averages the current window. ok is false until at least one
// sample exists.
func (t *Telemetry) Snapshot() (Snapshot, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.samples) == 0 {
		return Snapshot{}, false
	}
	var in, depth float64
	for _, s := range t.samples {
		in += s.ingress
		depth += float64(s.depth)
	}
	n := float64(len(t.samples))
	return Snapshot{
		AvgIngress: in / n,
		AvgDepth:   depth / n,
		Depth:      t.latest.Depth,
		Consumers:  t.latest.Consumers,
		AckRate:    t.latest.AckRate,
	}, true
}
