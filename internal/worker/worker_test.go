package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/snarg/radioscribe/internal/queue"
	"github.com/snarg/radioscribe/internal/transcribe"
)

func TestHealth_ShouldTerminate(t *testing.T) {
	tests := []struct {
		name                     string
		success, failure, retry  int
		want                     bool
	}{
		{"fresh", 0, 0, 0, false},
		{"failures at threshold", 0, 5, 0, false},
		{"failures over threshold", 0, 6, 0, true},
		{"retries at threshold", 0, 0, 10, false},
		{"retries over threshold", 0, 0, 11, true},
		{"one success forgives failures", 1, 100, 0, false},
		{"one success forgives retries", 1, 0, 100, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := &Health{success: tt.success, failure: tt.failure, retry: tt.retry}
			if got := h.ShouldTerminate(); got != tt.want {
				t.Errorf("ShouldTerminate() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestHealth_Counters(t *testing.T) {
	h := &Health{}
	h.Success()
	h.Failure()
	h.Failure()
	h.Retry()
	s, f, r := h.Counts()
	if s != 1 || f != 2 || r != 1 {
		t.Errorf("Counts() = %d,%d,%d, want 1,2,1", s, f, r)
	}
}

func TestTerminal(t *testing.T) {
	terminalErrs := []error{
		transcribe.ErrTranscriptInvalid,
		transcribe.ErrTranscriptTooShort,
		transcribe.ErrUnsupportedAudioType,
		transcribe.ErrFatalConfig,
		fmt.Errorf("wrapped: %w", transcribe.ErrTranscriptInvalid),
	}
	for _, err := range terminalErrs {
		if !terminal(err) {
			t.Errorf("terminal(%v) = false, want true", err)
		}
	}
	for _, err := range []error{errors.New("connection refused"), context.DeadlineExceeded} {
		if terminal(err) {
			t.Errorf("terminal(%v) = true, want false", err)
		}
	}
}

func TestMergeDeliveries(t *testing.T) {
	a := make(chan queue.Delivery, 2)
	b := make(chan queue.Delivery, 3)
	for i := 0; i < 2; i++ {
		a <- queue.Delivery{Attempt: i}
	}
	for i := 0; i < 3; i++ {
		b <- queue.Delivery{Attempt: i}
	}
	close(a)
	close(b)

	merged := mergeDeliveries(context.Background(), (<-chan queue.Delivery)(a), (<-chan queue.Delivery)(b))
	n := 0
	for range merged {
		n++
	}
	if n != 5 {
		t.Errorf("received %d deliveries, want 5", n)
	}
	if _, ok := <-merged; ok {
		t.Error("merged channel still open after all streams closed")
	}
}

func TestMergeDeliveries_CancelUnblocksSenders(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	s := make(chan queue.Delivery, 1)
	s <- queue.Delivery{}
	close(s)

	merged := mergeDeliveries(ctx, (<-chan queue.Delivery)(s))
	cancel()
	// With no receiver, the fan-in goroutine must exit on cancel and close
	// the merged channel rather than block forever.
	for range merged {
	}
}

func TestDownloadAudio(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("fake mp3 bytes"))
	}))
	defer srv.Close()

	path, err := downloadAudio(context.Background(), srv.Client(), srv.URL+"/2026/01/01/00/x.mp3")
	if err != nil {
		t.Fatalf("downloadAudio: %v", err)
	}
	defer os.Remove(path)

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if string(data) != "fake mp3 bytes" {
		t.Errorf("content = %q", data)
	}
	if !strings.HasSuffix(path, ".mp3") {
		t.Errorf("path = %q, want .mp3 suffix", path)
	}
}

func TestDownloadAudio_Non200IsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer srv.Close()

	if _, err := downloadAudio(context.Background(), srv.Client(), srv.URL+"/x.mp3"); err == nil {
		t.Fatal("expected error for 404")
	}
}

func TestFfmpegArgs(t *testing.T) {
	args := strings.Join(ffmpegArgs("/tmp/in.mp3", "/tmp/in.wav"), " ")
	for _, want := range []string{"-ar 16000", "-ac 1", "-c:a pcm_s16le", "-i /tmp/in.mp3", "/tmp/in.wav"} {
		if !strings.Contains(args, want) {
			t.Errorf("args %q missing %q", args, want)
		}
	}
}
