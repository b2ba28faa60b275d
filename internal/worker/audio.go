package worker

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/exec"
	"path"
	"strings"
)

// downloadAudio streams the job's audio URL into a temp file and returns its
// path. The caller removes the file.
func downloadAudio(ctx context.Context, client *http.Client, audioURL string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, audioURL, nil)
	if err != nil {
		return "", fmt.Errorf("build audio request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return "", fmt.Errorf("fetch audio: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("fetch audio: status %d", resp.StatusCode)
	}

	ext := path.Ext(audioURL)
	if ext == "" || strings.ContainsAny(ext, "?&") {
		ext = ".mp3"
	}
	f, err := os.CreateTemp("", "call-*"+ext)
	if err != nil {
		return "", fmt.Errorf("temp file: %w", err)
	}
	if _, err := io.Copy(f, resp.Body); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("download audio: %w", err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}

// ffmpegArgs builds the deterministic conversion command line: 16 kHz mono
// signed 16-bit PCM wav, the input every engine backend expects.
func ffmpegArgs(src, dst string) []string {
	return []string{
		"-nostdin", "-hide_banner", "-loglevel", "error",
		"-y",
		"-i", src,
		"-ar", "16000",
		"-ac", "1",
		"-c:a", "pcm_s16le",
		dst,
	}
}

// convertToWav transcodes the downloaded audio and deletes the source on
// success. Returns the wav path; the caller removes it.
func convertToWav(ctx context.Context, src string) (string, error) {
	dst := strings.TrimSuffix(src, path.Ext(src)) + ".wav"
	cmd := exec.CommandContext(ctx, "ffmpeg", ffmpegArgs(src, dst)...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		os.Remove(dst)
		return "", fmt.Errorf("ffmpeg: %w: %s", err, strings.TrimSpace(string(out)))
	}
	os.Remove(src)
	return dst, nil
}
