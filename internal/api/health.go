package api

import (
	"net/http"
	"time"

	"github.com/snarg/radioscribe/internal/database"
)

// HealthHandler reports process liveness and dependency status.
type HealthHandler struct {
	db        *database.DB
	version   string
	startTime time.Time
}

func NewHealthHandler(db *database.DB, version string, startTime time.Time) *HealthHandler {
	return &HealthHandler{db: db, version: version, startTime: startTime}
}

type healthResponse struct {
	Status   string `json:"status"`
	Version  string `json:"version"`
	UptimeS  int64  `json:"uptime_seconds"`
	Database string `json:"database"`
}

func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	resp := healthResponse{
		Status:   "ok",
		Version:  h.version,
		UptimeS:  int64(time.Since(h.startTime).Seconds()),
		Database: "ok",
	}
	status := http.StatusOK

	if h.db != nil {
		if err := h.db.HealthCheck(r.Context()); err != nil {
			resp.Status = "degraded"
			resp.Database = err.Error()
			status = http.StatusServiceUnavailable
		}
	} else {
		resp.Database = "not configured"
	}

	WriteJSON(w, status, resp)
}
