package autoscaler

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/snarg/radioscribe/internal/config"
	"github.com/snarg/radioscribe/internal/metrics"
	"github.com/snarg/radioscribe/internal/queue"
	"github.com/snarg/radioscribe/internal/vastai"
)

// Deletion reasons recorded with every destroy call.
const (
	ReasonReduceReplicas = "reduce_replicas"
	ReasonDisconnected   = "disconnected"
	ReasonStuckLoading   = "stuck_loading"
	ReasonError          = "error"
	ReasonExited         = "exited"
	ReasonDiskFull       = "disk_space_full"
)

// Scaling thresholds.
const (
	ingressScaleUp   = 0.4   // avg msg/s growth that forces a new instance
	ingressScaleDown = -0.5  // avg msg/s drain that allows removal
	depthScaleUp     = 400   // backlog size that triggers drain-time check
	depthScaleDown   = 10    // backlog below which removal is allowed
	drainLimit       = 120.0 // seconds the backlog may take to clear

	loadingThreshold = 10 * time.Minute
)

// Scaler sizes the GPU worker fleet from broker telemetry.
type Scaler struct {
	cfg       *config.Config
	market    *vastai.Client
	telemetry *Telemetry
	broker    *queue.TelemetryClient
	forbidden *ForbiddenSet
	log       zerolog.Logger
	http      *http.Client

	// pending maps fleet hostname to planned concurrency for instances
	// created but not yet consuming.
	pending map[string]int
	running map[string]bool

	now func() time.Time
}

// New assembles the scaler.
func New(cfg *config.Config, market *vastai.Client, telemetry *Telemetry, broker *queue.TelemetryClient, forbidden *ForbiddenSet, log zerolog.Logger) *Scaler {
	return &Scaler{
		cfg:       cfg,
		market:    market,
		telemetry: telemetry,
		broker:    broker,
		forbidden: forbidden,
		log:       log.With().Str("component", "autoscaler").Logger(),
		http:      &http.Client{Timeout: 30 * time.Second},
		pending:   map[string]int{},
		running:   map[string]bool{},
		now:       time.Now,
	}
}

// Run executes the control loop every AUTOSCALE_INTERVAL until cancelled.
// Individual step failures are logged and the loop continues; a broken
// marketplace call must not stop cleanup of the existing fleet.
func (s *Scaler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.AutoscaleInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := s.Reconcile(ctx); err != nil {
				s.log.Error().Err(err).Msg("reconcile failed")
			}
		}
	}
}

// Reconcile runs one scaling pass: cleanup, measure, decide, act.
func (s *Scaler) Reconcile(ctx context.Context) error {
	instances, err := s.market.Instances(ctx)
	if err != nil {
		return fmt.Errorf("list instances: %w", err)
	}

	consumers, err := s.broker.ConsumerTags(ctx, queue.QueueTranscribe)
	if err != nil {
		s.log.Warn().Err(err).Msg("consumer list unavailable, skipping disconnect checks")
	}
	live := map[string]bool{}
	for _, tag := range consumers {
		live[tag] = true
	}

	instances = s.cleanup(ctx, instances, live)
	s.refreshSets(instances, live)

	snap, ok := s.telemetry.Snapshot()
	if !ok {
		s.log.Debug().Msg("no telemetry yet, holding")
		return nil
	}

	current := len(live) + len(s.pending)
	needed := Needed(snap, current)
	target := clamp(needed, s.cfg.MinInstances, s.cfg.MaxInstances)

	s.log.Info().
		Float64("avg_ingress", snap.AvgIngress).
		Int("depth", snap.Depth).
		Int("consumers", len(live)).
		Int("pending", len(s.pending)).
		Int("current", current).
		Int("target", target).
		Msg("scaling decision")
	metrics.InstancesRunning.Set(float64(len(instances)))

	switch {
	case target > current:
		return s.scaleUp(ctx, target-current)
	case target < current:
		return s.scaleDown(ctx, current-target, instances)
	default:
		return nil
	}
}

// Needed applies the scaling rules in precedence order.
func Needed(snap Snapshot, current int) int {
	switch {
	case snap.AvgIngress > ingressScaleUp || snap.Consumers == 0:
		return current + 1
	case snap.Depth > depthScaleUp && drainSeconds(snap) > drainLimit:
		return current + 1
	case snap.AvgIngress < ingressScaleDown && snap.Depth < depthScaleDown:
		return current - 1
	default:
		return current
	}
}

// drainSeconds estimates how long the backlog takes to clear at the current
// per-fleet ack rate.
func drainSeconds(snap Snapshot) float64 {
	if snap.AckRate <= 0 {
		return drainLimit + 1
	}
	return float64(snap.Depth) / snap.AckRate
}

func clamp(n, min, max int) int {
	if n < min {
		return min
	}
	if n > max {
		return max
	}
	return n
}

// cleanup destroys dead or broken instances and returns the survivors.
// Stuck and errored machines go on the forbidden list.
func (s *Scaler) cleanup(ctx context.Context, instances []vastai.Instance, live map[string]bool) []vastai.Instance {
	now := s.now()
	var kept []vastai.Instance
	for i := range instances {
		inst := &instances[i]
		hostname := inst.Hostname(s.cfg.GitCommit)

		var reason string
		switch {
		case inst.ActualStatus == "exited" || inst.ActualStatus == "stopped":
			reason = ReasonExited
		case strings.Contains(strings.ToLower(inst.StatusMsg), "error"):
			reason = ReasonError
		case inst.ActualStatus == "loading" && inst.Age(now) > loadingThreshold:
			reason = ReasonStuckLoading
		case inst.ActualStatus == "running" && inst.Age(now) > loadingThreshold+5*time.Minute && !live[hostname]:
			reason = ReasonDisconnected
		case inst.DiskFull():
			reason = ReasonDiskFull
		default:
			kept = append(kept, *inst)
			continue
		}

		if reason == ReasonStuckLoading || reason == ReasonError {
			if err := s.forbidden.Add(inst.MachineID); err != nil {
				s.log.Error().Err(err).Int64("machine", inst.MachineID).Msg("persisting forbidden set failed")
			}
		}
		s.destroy(ctx, inst, reason)
	}
	return kept
}

func (s *Scaler) destroy(ctx context.Context, inst *vastai.Instance, reason string) {
	if err := s.market.Destroy(ctx, inst.ID); err != nil {
		s.log.Error().Err(err).Int64("instance", inst.ID).Str("reason", reason).Msg("destroy failed")
		return
	}
	metrics.InstancesDeletedTotal.WithLabelValues(reason).Inc()
	s.log.Info().
		Int64("instance", inst.ID).
		Int64("machine", inst.MachineID).
		Str("reason", reason).
		Msg("instance deleted")
}

// refreshSets rebuilds the running set from the fleet and drops pending
// entries that have started consuming. A host never appears in both.
func (s *Scaler) refreshSets(instances []vastai.Instance, live map[string]bool) {
	s.running = map[string]bool{}
	for i := range instances {
		s.running[instances[i].Hostname(s.cfg.GitCommit)] = true
	}
	for hostname := range s.pending {
		if live[hostname] || !s.running[hostname] {
			delete(s.pending, hostname)
		}
	}
}

// scaleUp rents n new machines, cheapest offers first.
func (s *Scaler) scaleUp(ctx context.Context, n int) error {
	vram := vastai.VRAMRequired(s.cfg.WhisperImplementation, s.cfg.WhisperModel)
	offers, err := s.market.FindOffers(ctx, vastai.OfferFilter{
		VRAMRequired: vram,
		CudaVersion:  s.cfg.CUDAVersion,
	})
	if err != nil {
		return fmt.Errorf("find offers: %w", err)
	}

	image := vastai.ResolveImageDigest(ctx, s.http, s.cfg.VastImage)
	created := 0
	for i := range offers {
		if created >= n {
			break
		}
		offer := &offers[i]
		hostname := vastai.FleetHostname(s.cfg.GitCommit, offer.MachineID, offer.HostID)
		if s.forbidden.Contains(offer.MachineID) || s.running[hostname] || s.pending[hostname] > 0 {
			continue
		}

		concurrency := vastai.Concurrency(offer, vram)
		env := vastai.WorkerEnv(s.workerEnv(), s.cfg.BrokerURL, publicHostOf(s.cfg.APIBaseURL), hostname, concurrency)
		req := vastai.CreateRequest{
			OfferID:  offer.ID,
			Image:    image,
			Env:      env,
			OnDemand: s.cfg.VastOnDemand,
			BidPrice: vastai.BidPrice(offer.MinBid),
			DiskGB:   20,
			Label:    hostname,
		}
		if err := s.market.Create(ctx, req); err != nil {
			s.log.Error().Err(err).Int64("offer", offer.ID).Msg("create failed, trying next offer")
			continue
		}
		s.pending[hostname] = concurrency
		created++
		s.log.Info().
			Int64("offer", offer.ID).
			Str("gpu", offer.GPUName).
			Float64("dph", offer.DPHTotal).
			Int("concurrency", concurrency).
			Str("hostname", hostname).
			Msg("instance created")
	}
	if created < n {
		s.log.Warn().Int("wanted", n).Int("created", created).Msg("not enough usable offers")
	}
	return nil
}

// scaleDown removes n instances, most expensive first.
func (s *Scaler) scaleDown(ctx context.Context, n int, instances []vastai.Instance) error {
	sort.Slice(instances, func(i, j int) bool {
		return instances[i].DPHTotal > instances[j].DPHTotal
	})
	for i := 0; i < n && i < len(instances); i++ {
		s.destroy(ctx, &instances[i], ReasonReduceReplicas)
	}
	return nil
}

// workerEnv is the config every fleet instance receives.
func (s *Scaler) workerEnv() map[string]string {
	return map[string]string{
		"LOG_LEVEL":              s.cfg.LogLevel,
		"CELERY_QUEUES":          s.cfg.Queues,
		"WHISPER_IMPLEMENTATION": s.cfg.WhisperImplementation,
		"WHISPER_MODEL":          s.cfg.WhisperModel,
		"MEILI_URL":              s.cfg.MeiliURL,
		"MEILI_MASTER_KEY":       s.cfg.MeiliKey,
		"MEILI_INDEX":            s.cfg.MeiliIndex,
		"SEARCH_UI_URL":          s.cfg.SearchUIURL,
		"API_BASE_URL":           s.cfg.APIBaseURL,
		"GIT_COMMIT":             s.cfg.GitCommit,
	}
}

// publicHostOf extracts the hostname of the deployment's public API base.
func publicHostOf(apiBaseURL string) string {
	rest := apiBaseURL
	if i := strings.Index(rest, "://"); i >= 0 {
		rest = rest[i+3:]
	}
	if i := strings.IndexAny(rest, "/:"); i >= 0 {
		rest = rest[:i]
	}
	return rest
}
