package storage

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/rs/zerolog"

	"github.com/snarg/radioscribe/internal/config"
)

// AudioStore stores call audio in an S3-compatible object store and hands out
// public URLs. Workers fetch audio back through those URLs, so uploads carry
// a public-read ACL.
type AudioStore struct {
	client    *s3.Client
	bucket    string
	publicURL string
	log       zerolog.Logger
}

// NewAudioStore builds the store from config and verifies bucket access.
func NewAudioStore(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*AudioStore, error) {
	if cfg.S3Bucket == "" {
		return nil, fmt.Errorf("S3_BUCKET not configured")
	}

	opts := []func(*awsconfig.LoadOptions) error{
		awsconfig.WithRegion(cfg.S3Region),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.S3AccessKey, cfg.S3SecretKey, ""),
		),
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("aws config: %w", err)
	}

	var s3Opts []func(*s3.Options)
	if cfg.S3Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) {
			o.BaseEndpoint = aws.String(cfg.S3Endpoint)
			o.UsePathStyle = true
		})
	}

	store := &AudioStore{
		client:    s3.NewFromConfig(awsCfg, s3Opts...),
		bucket:    cfg.S3Bucket,
		publicURL: strings.TrimRight(cfg.S3PublicURL, "/"),
		log:       log.With().Str("component", "audio-store").Logger(),
	}

	if _, err := store.client.HeadBucket(ctx, &s3.HeadBucketInput{Bucket: &store.bucket}); err != nil {
		return nil, fmt.Errorf("S3 startup check failed (bucket=%q endpoint=%q): %w",
			cfg.S3Bucket, cfg.S3Endpoint, err)
	}
	log.Info().Str("bucket", cfg.S3Bucket).Str("endpoint", cfg.S3Endpoint).Msg("S3 connection verified")
	return store, nil
}

// Save uploads audio under the given key with a public-read ACL and returns
// the public URL.
func (s *AudioStore) Save(ctx context.Context, key string, data []byte) (string, error) {
	contentType := ContentType(key)
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      &s.bucket,
		Key:         &key,
		Body:        bytes.NewReader(data),
		ContentType: &contentType,
		ACL:         types.ObjectCannedACLPublicRead,
	})
	if err != nil {
		return "", fmt.Errorf("put %q: %w", key, err)
	}
	s.log.Debug().Str("key", key).Int("bytes", len(data)).Msg("audio stored")
	return s.URL(key), nil
}

// URL returns the public URL for a stored key.
func (s *AudioStore) URL(key string) string {
	if s.publicURL != "" {
		return s.publicURL + "/" + key
	}
	return fmt.Sprintf("https://%s.s3.amazonaws.com/%s", s.bucket, key)
}

// Open streams a stored object.
func (s *AudioStore) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: &s.bucket,
		Key:    &key,
	})
	if err != nil {
		return nil, fmt.Errorf("get %q: %w", key, err)
	}
	return out.Body, nil
}

// Download streams a stored object into a temp file and returns its path.
// The caller removes the file when done.
func (s *AudioStore) Download(ctx context.Context, key string) (string, error) {
	body, err := s.Open(ctx, key)
	if err != nil {
		return "", err
	}
	defer body.Close()

	f, err := os.CreateTemp("", "audio-*"+path.Ext(key))
	if err != nil {
		return "", fmt.Errorf("temp file: %w", err)
	}
	if _, err := io.Copy(f, body); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("download %q: %w", key, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}

// ContentType maps an audio file extension to its MIME type.
func ContentType(key string) string {
	switch strings.ToLower(path.Ext(key)) {
	case ".mp3":
		return "audio/mpeg"
	case ".wav":
		return "audio/wav"
	case ".m4a":
		return "audio/mp4"
	case ".ogg":
		return "audio/ogg"
	default:
		return "application/octet-stream"
	}
}
