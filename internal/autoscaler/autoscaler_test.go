package autoscaler

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/snarg/radioscribe/internal/queue"
)

func TestNeeded_Precedence(t *testing.T) {
	tests := []struct {
		name    string
		snap    Snapshot
		current int
		want    int
	}{
		{"high ingress scales up", Snapshot{AvgIngress: 0.5, Consumers: 3}, 3, 4},
		{"zero consumers scales up", Snapshot{AvgIngress: 0, Consumers: 0, Depth: 1}, 0, 1},
		{"deep slow backlog scales up", Snapshot{AvgIngress: 0.1, Consumers: 2, Depth: 500, AckRate: 1}, 2, 3},
		{"deep fast backlog holds", Snapshot{AvgIngress: 0.1, Consumers: 2, Depth: 500, AckRate: 10}, 2, 2},
		{"draining empty queue scales down", Snapshot{AvgIngress: -0.6, Consumers: 3, Depth: 5}, 3, 2},
		{"draining deep queue holds", Snapshot{AvgIngress: -0.6, Consumers: 3, Depth: 50}, 3, 3},
		{"steady state holds", Snapshot{AvgIngress: 0.1, Consumers: 2, Depth: 20, AckRate: 2}, 2, 2},
		// Ingress rule outranks the drain rule.
		{"ingress wins over drain depth", Snapshot{AvgIngress: 0.5, Consumers: 2, Depth: 5}, 2, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Needed(tt.snap, tt.current); got != tt.want {
				t.Errorf("Needed() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestClamp(t *testing.T) {
	if got := clamp(15, 0, 10); got != 10 {
		t.Errorf("clamp above max = %d", got)
	}
	if got := clamp(-1, 0, 10); got != 0 {
		t.Errorf("clamp below min = %d", got)
	}
	if got := clamp(5, 0, 10); got != 5 {
		t.Errorf("clamp in range = %d", got)
	}
}

func TestForbiddenSet_Persistence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state", "forbidden.json")

	fs, err := LoadForbiddenSet(path)
	if err != nil {
		t.Fatalf("LoadForbiddenSet (missing file): %v", err)
	}
	if fs.Len() != 0 {
		t.Fatalf("fresh set Len = %d", fs.Len())
	}

	if err := fs.Add(42); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := fs.Add(7); err != nil {
		t.Fatalf("Add: %v", err)
	}
	if err := fs.Add(42); err != nil { // idempotent
		t.Fatalf("Add dup: %v", err)
	}
	if !fs.Contains(42) || !fs.Contains(7) || fs.Contains(99) {
		t.Error("membership wrong after Add")
	}

	// A new process sees the persisted set.
	reloaded, err := LoadForbiddenSet(path)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if !reloaded.Contains(42) || !reloaded.Contains(7) || reloaded.Len() != 2 {
		t.Errorf("reloaded set wrong: len=%d", reloaded.Len())
	}

	// No stray temp file left behind.
	if _, err := os.Stat(path + ".tmp"); !os.IsNotExist(err) {
		t.Error("temp file left on disk")
	}
}

func TestForbiddenSet_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "forbidden.json")
	os.WriteFile(path, []byte("{broken"), 0o644)
	if _, err := LoadForbiddenSet(path); err == nil {
		t.Fatal("expected error for corrupt file")
	}
}

func TestTelemetry_WindowAveraging(t *testing.T) {
	tel := NewTelemetry(nil, "transcribe", 60*time.Second, zerolog.Nop())
	if tel.window != 30 {
		t.Errorf("window = %d, want interval/2 = 30", tel.window)
	}

	if _, ok := tel.Snapshot(); ok {
		t.Error("Snapshot ok before any sample")
	}

	tel.record(&queue.QueueStats{InRate: 2, AckRate: 1, Depth: 10, Consumers: 2})
	tel.record(&queue.QueueStats{InRate: 3, AckRate: 1, Depth: 20, Consumers: 2})

	snap, ok := tel.Snapshot()
	if !ok {
		t.Fatal("Snapshot not ok after samples")
	}
	if snap.AvgIngress != 1.5 {
		t.Errorf("AvgIngress = %v, want 1.5", snap.AvgIngress)
	}
	if snap.AvgDepth != 15 {
		t.Errorf("AvgDepth = %v, want 15", snap.AvgDepth)
	}
	if snap.Depth != 20 || snap.Consumers != 2 {
		t.Errorf("latest = %+v", snap)
	}
}

func TestTelemetry_WindowTrims(t *testing.T) {
	tel := NewTelemetry(nil, "transcribe", 4*time.Second, zerolog.Nop())
	if tel.window != 2 {
		t.Fatalf("window = %d", tel.window)
	}
	for i := 0; i < 5; i++ {
		tel.record(&queue.QueueStats{InRate: float64(i), Depth: i})
	}
	snap, _ := tel.Snapshot()
	// Only samples 3 and 4 remain.
	if snap.AvgIngress != 3.5 {
		t.Errorf("AvgIngress = %v, want 3.5", snap.AvgIngress)
	}
}

func TestPublicHostOf(t *testing.T) {
	tests := []struct{ in, want string }{
		{"https://api.example.com/v1", "api.example.com"},
		{"http://api.example.com:8080", "api.example.com"},
		{"api.example.com", "api.example.com"},
	}
	for _, tt := range tests {
		if got := publicHostOf(tt.in); got != tt.want {
			t.Errorf("publicHostOf(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestDrainSeconds(t *testing.T) {
	if got := drainSeconds(Snapshot{Depth: 500, AckRate: 2}); got != 250 {
		t.Errorf("drainSeconds = %v, want 250", got)
	}
	// No acks means the backlog never drains.
	if got := drainSeconds(Snapshot{Depth: 500}); got <= drainLimit {
		t.Errorf("zero ack rate drain = %v, want > limit", got)
	}
}
