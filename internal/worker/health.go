package worker

import "sync"

// Health tracks per-process job outcomes. A worker that has never succeeded
// but keeps failing or retrying is assumed broken (bad GPU, bad model file,
// unreachable dependency) and asks to be terminated; the broker re-delivers
// its in-flight jobs to peers.
type Health struct {
	mu      sync.Mutex
	success int
	failure int
	retry   int
}

func (h *Health) Success() {
	h.mu.Lock()
	h.success++
	h.mu.Unlock()
}

func (h *Health) Failure() {
	h.mu.Lock()
	h.failure++
	h.mu.Unlock()
}

func (h *Health) Retry() {
	h.mu.Lock()
	h.retry++
	h.mu.Unlock()
}

// Counts returns the current counters.
func (h *Health) Counts() (success, failure, retry int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.success, h.failure, h.retry
}

// ShouldTerminate reports whether the process has proven itself unable to
// complete work.
func (h *Health) ShouldTerminate() bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.success == 0 && (h.failure > 5 || h.retry > 10)
}
