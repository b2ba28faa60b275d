package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/snarg/radioscribe/internal/calls"
	"github.com/snarg/radioscribe/internal/config"
	"github.com/snarg/radioscribe/internal/database"
	"github.com/snarg/radioscribe/internal/metrics"
	"github.com/snarg/radioscribe/internal/notify"
	"github.com/snarg/radioscribe/internal/queue"
	"github.com/snarg/radioscribe/internal/search"
	"github.com/snarg/radioscribe/internal/transcribe"
)

// ErrUnhealthy is returned by Run when the health counters show the process
// cannot complete work and should be replaced.
var ErrUnhealthy = errors.New("worker unhealthy: no successes with persistent failures")

// Worker consumes transcription jobs, runs the engine pipeline, and writes
// results to the call store and search index.
type Worker struct {
	cfg      *config.Config
	log      zerolog.Logger
	broker   *queue.Broker
	registry *transcribe.Registry
	shaper   transcribe.ShaperConfig
	db       *database.DB // nil when no call store is configured
	indexer  *search.Indexer
	notifier *notify.Dispatcher
	health   *Health
	http     *http.Client

	// engineMu serializes engine invocation: one model instance per GPU,
	// not safe for concurrent use. I/O phases run outside it.
	engineMu sync.Mutex
}

// New assembles a worker. db may be nil for fleet instances that only index.
func New(cfg *config.Config, broker *queue.Broker, db *database.DB, indexer *search.Indexer, log zerolog.Logger) *Worker {
	return &Worker{
		cfg:      cfg,
		log:      log.With().Str("component", "worker").Logger(),
		broker:   broker,
		registry: transcribe.NewRegistry(cfg, log),
		shaper: transcribe.ShaperConfig{
			VadFilterDigital: cfg.VadFilterDigital,
			VadFilterAnalog:  cfg.VadFilterAnalog,
		},
		db:       db,
		indexer:  indexer,
		notifier: notify.NewDispatcher(cfg.NotifyURLs, log),
		health:   &Health{},
		http:     &http.Client{Timeout: 60 * time.Second},
	}
}

// Run pins the default engine, then consumes the configured queues until the
// context is cancelled or the health check trips.
func (w *Worker) Run(ctx context.Context) error {
	// Fail fast on misconfiguration and front-load the model download.
	if _, err := w.registry.Get(""); err != nil {
		return fmt.Errorf("engine init: %w", err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	unhealthy := make(chan struct{})
	var once sync.Once

	var streams []<-chan queue.Delivery
	for _, q := range strings.Split(w.cfg.Queues, ",") {
		q = strings.TrimSpace(q)
		if q == "" {
			continue
		}
		deliveries, err := w.broker.Consume(ctx, q, w.consumerTag(), w.cfg.Concurrency)
		if err != nil {
			return fmt.Errorf("consume %q: %w", q, err)
		}
		streams = append(streams, deliveries)
	}

	// Concurrency bounds the process, not each queue: all bindings feed one
	// handler pool so a multi-queue worker never runs more engine jobs than
	// the GPU was sized for.
	merged := mergeDeliveries(ctx, streams...)

	var wg sync.WaitGroup
	for i := 0; i < w.cfg.Concurrency; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for d := range merged {
				w.handle(ctx, &d)
				if w.health.ShouldTerminate() {
					once.Do(func() { close(unhealthy) })
					cancel()
					return
				}
			}
		}()
	}

	wg.Wait()
	select {
	case <-unhealthy:
		s, f, r := w.health.Counts()
		w.log.Error().Int("success", s).Int("failure", f).Int("retry", r).
			Msg("terminating: health check failed")
		return ErrUnhealthy
	default:
		return ctx.Err()
	}
}

// mergeDeliveries fans the per-queue streams into a single channel. The
// output closes once every stream has closed.
func mergeDeliveries(ctx context.Context, streams ...<-chan queue.Delivery) <-chan queue.Delivery {
	out := make(chan queue.Delivery)
	var wg sync.WaitGroup
	for _, s := range streams {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for d := range s {
				select {
				case out <- d:
				case <-ctx.Done():
					return
				}
			}
		}()
	}
	go func() {
		wg.Wait()
		close(out)
	}()
	return out
}

func (w *Worker) consumerTag() string {
	if w.cfg.WorkerHostname != "" {
		return w.cfg.WorkerHostname
	}
	host, _ := os.Hostname()
	return "celery-" + w.cfg.GitCommit + "@" + host
}

// handle runs one job end to end and settles the delivery.
func (w *Worker) handle(ctx context.Context, d *queue.Delivery) {
	job := d.Job
	log := w.log.With().
		Str("short_name", job.Metadata.ShortName).
		Int("talkgroup", job.Metadata.Talkgroup).
		Str("id", job.ID).
		Int("attempt", d.Attempt).
		Logger()

	w.setTaskStatus(ctx, job.TaskID, database.TaskStarted, nil)

	searchURL, err := w.process(ctx, job, log)
	switch {
	case err == nil:
		w.health.Success()
		metrics.JobsProcessedTotal.WithLabelValues("success").Inc()
		w.setTaskStatus(ctx, job.TaskID, database.TaskSuccess,
			json.RawMessage(fmt.Sprintf(`{"search_url":%q}`, searchURL)))
		if ackErr := d.Ack(); ackErr != nil {
			log.Error().Err(ackErr).Msg("ack failed")
		}

	case terminal(err):
		w.health.Failure()
		metrics.JobsProcessedTotal.WithLabelValues("failure").Inc()
		log.Error().Err(err).Msg("job failed terminally")
		w.setTaskStatus(ctx, job.TaskID, database.TaskFailure,
			json.RawMessage(fmt.Sprintf(`{"error":%q}`, err.Error())))
		if ackErr := d.Ack(); ackErr != nil {
			log.Error().Err(ackErr).Msg("ack failed")
		}

	default:
		log.Warn().Err(err).Msg("job failed, retrying")
		w.setTaskStatus(ctx, job.TaskID, database.TaskRetry, nil)
		if retryErr := d.Retry(ctx); retryErr != nil {
			// Attempts exhausted.
			w.health.Failure()
			metrics.JobsProcessedTotal.WithLabelValues("failure").Inc()
			log.Error().Err(retryErr).Msg("retries exhausted, dropping job")
			w.setTaskStatus(ctx, job.TaskID, database.TaskFailure,
				json.RawMessage(fmt.Sprintf(`{"error":%q}`, err.Error())))
			if rejErr := d.Reject(); rejErr != nil {
				log.Error().Err(rejErr).Msg("reject failed")
			}
			return
		}
		w.health.Retry()
		metrics.JobsProcessedTotal.WithLabelValues("retry").Inc()
	}
}

// terminal reports whether an error can never succeed on retry.
func terminal(err error) bool {
	return errors.Is(err, transcribe.ErrTranscriptInvalid) ||
		errors.Is(err, transcribe.ErrTranscriptTooShort) ||
		errors.Is(err, transcribe.ErrUnsupportedAudioType) ||
		errors.Is(err, transcribe.ErrFatalConfig)
}

// process runs the pipeline: download, convert, shape, transcribe, clean,
// persist, index, notify. Returns the search URL on success.
func (w *Worker) process(ctx context.Context, job *queue.Job, log zerolog.Logger) (string, error) {
	meta := &job.Metadata

	// Options are specialized here rather than at enqueue time so rule and
	// filter changes take effect on redelivery.
	opts, err := w.shaper.BuildOptions(meta, job.Options.InitialPrompt, job.Options)
	if err != nil {
		return "", err
	}

	provider, err := w.registry.Get(job.WhisperKey)
	if err != nil {
		return "", err
	}

	srcPath, err := downloadAudio(ctx, w.http, job.AudioURL)
	if err != nil {
		return "", err
	}
	defer os.Remove(srcPath)

	wavPath, err := convertToWav(ctx, srcPath)
	if err != nil {
		return "", err
	}
	defer os.Remove(wavPath)

	engineCtx, cancel := context.WithTimeout(ctx, w.cfg.EngineTimeout)
	defer cancel()

	w.engineMu.Lock()
	start := time.Now()
	res, err := provider.Transcribe(engineCtx, wavPath, opts)
	w.engineMu.Unlock()
	if err != nil {
		return "", fmt.Errorf("engine %s: %w", provider.Name(), err)
	}
	metrics.TranscribeDuration.WithLabelValues(provider.Name()).Observe(time.Since(start).Seconds())

	res, err = transcribe.Cleanup(res, opts.CleanupRules)
	if err != nil {
		return "", err
	}

	tr, err := w.shaper.BuildTranscript(meta, res)
	if err != nil {
		return "", err
	}

	id := job.ID
	if id == "" {
		id = calls.CallID(meta)
	}

	if job.ID != "" && w.db != nil {
		raw, err := tr.Raw()
		if err != nil {
			return "", err
		}
		if err := w.db.UpdateTranscript(ctx, job.ID, raw, tr.Plaintext()); err != nil {
			return "", err
		}
	}

	searchURL, err := w.indexer.IndexCall(id, meta, job.AudioURL, tr, nil, job.IndexName)
	if err != nil {
		return "", err
	}

	// Reprocessed calls (id present) already notified on first pass.
	if job.ID == "" {
		w.notifier.Dispatch(ctx, &notify.Message{
			Metadata:   meta,
			Transcript: tr.Plaintext(),
			AudioURL:   job.AudioURL,
			SearchURL:  searchURL,
		})
	}

	log.Info().Str("engine", provider.Name()).Int("segments", len(tr.Segments)).Msg("call transcribed")
	return searchURL, nil
}

func (w *Worker) setTaskStatus(ctx context.Context, taskID, status string, result json.RawMessage) {
	if taskID == "" || w.db == nil {
		return
	}
	if err := w.db.SetTaskStatus(ctx, taskID, status, result); err != nil {
		w.log.Warn().Err(err).Str("task_id", taskID).Msg("task status update failed")
	}
}
