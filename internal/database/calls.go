package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// CallRecord is the persisted form of one radio call.
type CallRecord struct {
	ID                  string
	RawMetadata         json.RawMessage
	RawAudioURL         string
	RawTranscript       json.RawMessage
	TranscriptPlaintext string
	Geo                 json.RawMessage
	StartTime           time.Time
}

var ErrCallNotFound = errors.New("call not found")

// InsertCall stores a new call. The transcript columns start empty and are
// filled in when the worker reports back.
func (db *DB) InsertCall(ctx context.Context, rec *CallRecord) error {
	_, err := db.Pool.Exec(ctx, `
		INSERT INTO calls (id, raw_metadata, raw_audio_url, raw_transcript, transcript_plaintext, geo, start_time)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO UPDATE SET
			raw_metadata  = EXCLUDED.raw_metadata,
			raw_audio_url = EXCLUDED.raw_audio_url,
			start_time    = EXCLUDED.start_time`,
		rec.ID, rec.RawMetadata, rec.RawAudioURL, rec.RawTranscript,
		rec.TranscriptPlaintext, rec.Geo, rec.StartTime)
	if err != nil {
		return fmt.Errorf("insert call %s: %w", rec.ID, err)
	}
	return nil
}

// UpdateTranscript writes the transcript columns for an existing call,
// leaving metadata and audio untouched.
func (db *DB) UpdateTranscript(ctx context.Context, id string, rawTranscript json.RawMessage, plaintext string) error {
	tag, err := db.Pool.Exec(ctx, `
		UPDATE calls
		SET raw_transcript = $2, transcript_plaintext = $3
		WHERE id = $1`,
		id, rawTranscript, plaintext)
	if err != nil {
		return fmt.Errorf("update transcript %s: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update transcript %s: %w", id, ErrCallNotFound)
	}
	return nil
}

// GetCall fetches one call by id.
func (db *DB) GetCall(ctx context.Context, id string) (*CallRecord, error) {
	rec := &CallRecord{}
	err := db.Pool.QueryRow(ctx, `
		SELECT id, raw_metadata, raw_audio_url,
		       COALESCE(raw_transcript, 'null'::jsonb),
		       COALESCE(transcript_plaintext, ''),
		       COALESCE(geo, 'null'::jsonb),
		       start_time
		FROM calls WHERE id = $1`, id).
		Scan(&rec.ID, &rec.RawMetadata, &rec.RawAudioURL, &rec.RawTranscript,
			&rec.TranscriptPlaintext, &rec.Geo, &rec.StartTime)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrCallNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get call %s: %w", id, err)
	}
	return rec, nil
}
