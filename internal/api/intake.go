package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/snarg/radioscribe/internal/calls"
	"github.com/snarg/radioscribe/internal/config"
	"github.com/snarg/radioscribe/internal/database"
	"github.com/snarg/radioscribe/internal/metrics"
	"github.com/snarg/radioscribe/internal/queue"
	"github.com/snarg/radioscribe/internal/storage"
)

// minAudioBytes is the size of a bare WAV header; a payload at or below it
// carries no samples.
const minAudioBytes = 44

// IntakeHandler accepts call uploads, persists audio and the call row, and
// enqueues transcription jobs.
type IntakeHandler struct {
	cfg    *config.Config
	db     *database.DB
	store  *storage.AudioStore
	broker *queue.Broker
	log    zerolog.Logger
}

// NewIntakeHandler wires the intake pipeline.
func NewIntakeHandler(cfg *config.Config, db *database.DB, store *storage.AudioStore, broker *queue.Broker, log zerolog.Logger) *IntakeHandler {
	return &IntakeHandler{
		cfg:    cfg,
		db:     db,
		store:  store,
		broker: broker,
		log:    log.With().Str("handler", "intake").Logger(),
	}
}

// Routes registers the intake endpoints.
func (h *IntakeHandler) Routes(r chi.Router) {
	r.Post("/calls", h.PostCall)
	r.Post("/api/call-upload", h.PostSDRTrunk)
	r.Post("/tasks", h.PostTask)
	r.Get("/tasks/{id}", h.GetTask)
}

// PostCall handles POST /calls: multipart with a call_json metadata part and
// either a call_audio file or a call_audio_url pointing at already-stored
// audio.
func (h *IntakeHandler) PostCall(w http.ResponseWriter, r *http.Request) {
	h.acceptCall(w, r, true)
}

// PostTask handles POST /tasks: the same payload as /calls but nothing is
// persisted to the call store, so the worker indexes and notifies only.
func (h *IntakeHandler) PostTask(w http.ResponseWriter, r *http.Request) {
	h.acceptCall(w, r, false)
}

func (h *IntakeHandler) acceptCall(w http.ResponseWriter, r *http.Request, persist bool) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		WriteErrorDetail(w, http.StatusBadRequest, "invalid multipart form", err.Error())
		return
	}
	defer r.MultipartForm.RemoveAll()

	meta, err := calls.ParseMetadata([]byte(r.FormValue("call_json")))
	if err != nil {
		metrics.CallsRejectedTotal.WithLabelValues("bad_metadata").Inc()
		WriteErrorDetail(w, http.StatusBadRequest, "invalid call_json", err.Error())
		return
	}
	if meta.CallLength < h.cfg.MinCallLength {
		metrics.CallsRejectedTotal.WithLabelValues("too_short").Inc()
		WriteError(w, http.StatusBadRequest,
			fmt.Sprintf("call_length %.2fs below minimum %.2fs", meta.CallLength, h.cfg.MinCallLength))
		return
	}

	audioURL, status, err := h.resolveAudio(r.Context(), r, meta)
	if err != nil {
		metrics.CallsRejectedTotal.WithLabelValues("bad_audio").Inc()
		WriteError(w, status, err.Error())
		return
	}

	h.enqueue(r.Context(), w, meta, audioURL, r.FormValue("whisper_implementation"), persist)
}

// resolveAudio returns the blob-storage URL for the call's audio, uploading
// the multipart file when one was sent.
func (h *IntakeHandler) resolveAudio(ctx context.Context, r *http.Request, meta *calls.Metadata) (string, int, error) {
	if u := r.FormValue("call_audio_url"); u != "" {
		return u, 0, nil
	}

	file, _, err := r.FormFile("call_audio")
	if err != nil {
		return "", http.StatusBadRequest, errors.New("call_audio or call_audio_url is required")
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		return "", http.StatusBadRequest, fmt.Errorf("read call_audio: %w", err)
	}
	if len(data) <= minAudioBytes {
		return "", http.StatusExpectationFailed,
			fmt.Errorf("call_audio is %d bytes, not a playable recording", len(data))
	}

	url, err := h.store.Save(ctx, meta.AudioKey(), data)
	if err != nil {
		return "", http.StatusInternalServerError, fmt.Errorf("store audio: %w", err)
	}
	return url, 0, nil
}

// enqueue persists the call row when asked and publishes the job.
func (h *IntakeHandler) enqueue(ctx context.Context, w http.ResponseWriter, meta *calls.Metadata, audioURL, whisperKey string, persist bool) {
	taskID := uuid.NewString()
	job := &queue.Job{
		AudioURL:   audioURL,
		Metadata:   *meta,
		WhisperKey: whisperKey,
		TaskID:     taskID,
	}

	callID := ""
	if persist {
		callID = calls.CallID(meta)
		job.ID = callID
		rawMeta, err := json.Marshal(meta)
		if err != nil {
			WriteError(w, http.StatusInternalServerError, "encode metadata")
			return
		}
		rec := &database.CallRecord{
			ID:          callID,
			RawMetadata: rawMeta,
			RawAudioURL: audioURL,
			StartTime:   meta.Start(),
		}
		if err := h.db.InsertCall(ctx, rec); err != nil {
			h.log.Error().Err(err).Str("id", callID).Msg("call insert failed")
			WriteError(w, http.StatusInternalServerError, "persist call")
			return
		}
	}

	if err := h.db.SetTaskStatus(ctx, taskID, database.TaskPending, nil); err != nil {
		h.log.Warn().Err(err).Str("task_id", taskID).Msg("task status init failed")
	}
	if err := h.broker.Publish(ctx, queue.QueueTranscribe, job); err != nil {
		h.log.Error().Err(err).Msg("enqueue failed")
		WriteError(w, http.StatusServiceUnavailable, "queue unavailable")
		return
	}

	metrics.CallsReceivedTotal.WithLabelValues(meta.ShortName).Inc()
	WriteJSON(w, http.StatusOK, TaskResponse{TaskID: taskID, CallID: callID})
}

// GetTask handles GET /tasks/{id}.
func (h *IntakeHandler) GetTask(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	task, err := h.db.GetTask(r.Context(), id)
	if errors.Is(err, database.ErrTaskNotFound) {
		// Unknown ids report PENDING, matching task-queue result backends
		// where the row appears only on first state change.
		WriteJSON(w, http.StatusOK, TaskStatusResponse{
			TaskID:     id,
			TaskStatus: database.TaskPending,
			TaskResult: json.RawMessage("null"),
		})
		return
	}
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "task lookup failed")
		return
	}
	WriteJSON(w, http.StatusOK, TaskStatusResponse{
		TaskID:     task.ID,
		TaskStatus: task.Status,
		TaskResult: task.Result,
	})
}

// PostSDRTrunk handles POST /api/call-upload: the flat form encoding SDRTrunk
// speaks, translated into call metadata.
func (h *IntakeHandler) PostSDRTrunk(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		WriteErrorDetail(w, http.StatusBadRequest, "invalid multipart form", err.Error())
		return
	}
	defer r.MultipartForm.RemoveAll()

	// SDRTrunk probes with test=1 before streaming real calls.
	if r.FormValue("test") == "1" {
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, "incomplete call data: no talkgroup")
		return
	}

	meta, err := sdrtrunkMetadata(r)
	if err != nil {
		metrics.CallsRejectedTotal.WithLabelValues("bad_metadata").Inc()
		WriteErrorDetail(w, http.StatusBadRequest, "invalid call fields", err.Error())
		return
	}
	if meta.CallLength < h.cfg.MinCallLength {
		metrics.CallsRejectedTotal.WithLabelValues("too_short").Inc()
		WriteError(w, http.StatusBadRequest,
			fmt.Sprintf("call_length %.2fs below minimum %.2fs", meta.CallLength, h.cfg.MinCallLength))
		return
	}

	file, _, err := r.FormFile("audio")
	if err != nil {
		WriteError(w, http.StatusBadRequest, "audio file is required")
		return
	}
	defer file.Close()
	data, err := io.ReadAll(file)
	if err != nil {
		WriteError(w, http.StatusBadRequest, "read audio")
		return
	}
	if len(data) <= minAudioBytes {
		metrics.CallsRejectedTotal.WithLabelValues("bad_audio").Inc()
		WriteError(w, http.StatusExpectationFailed,
			fmt.Sprintf("audio is %d bytes, not a playable recording", len(data)))
		return
	}

	url, err := h.store.Save(r.Context(), meta.AudioKey(), data)
	if err != nil {
		WriteError(w, http.StatusInternalServerError, "store audio")
		return
	}

	h.enqueue(r.Context(), w, meta, url, "", true)
}

// sdrtrunkMetadata maps SDRTrunk's flat form fields onto call metadata.
func sdrtrunkMetadata(r *http.Request) (*calls.Metadata, error) {
	talkgroup, err := strconv.Atoi(r.FormValue("talkgroup"))
	if err != nil {
		return nil, fmt.Errorf("talkgroup: %w", err)
	}
	start, err := strconv.ParseInt(r.FormValue("dateTime"), 10, 64)
	if err != nil {
		return nil, fmt.Errorf("dateTime: %w", err)
	}

	system := strings.TrimSpace(r.FormValue("systemLabel"))
	if system == "" {
		system = "sdrtrunk-" + r.FormValue("system")
	}
	freq, _ := strconv.ParseInt(r.FormValue("frequency"), 10, 64)

	meta := &calls.Metadata{
		Freq:         freq,
		StartTime:    start,
		StopTime:     start,
		Talkgroup:    talkgroup,
		TalkgroupTag: r.FormValue("talkgroupLabel"),
		AudioType:    calls.AudioTypeAnalog,
		ShortName:    system,
	}
	// Without a source there is nothing to attribute, so the call shapes
	// as analog (flat transcript).
	if src, err := strconv.Atoi(r.FormValue("source")); err == nil && src > 0 {
		meta.AudioType = calls.AudioTypeDigital
		meta.SrcList = []calls.Source{{Src: src, Time: start, Pos: 0}}
	}

	if d, err := strconv.ParseFloat(r.FormValue("callDuration"), 64); err == nil {
		meta.CallLength = d
		meta.StopTime = start + int64(d)
	}

	return meta, meta.Validate()
}
