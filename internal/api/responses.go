package api

import (
	"encoding/json"
	"net/http"
)

// WriteJSON writes a JSON response with the given status code.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// ErrorResponse is the standard error response body.
type ErrorResponse struct {
	Error  string `json:"error"`
	Detail string `json:"detail,omitempty"`
}

// WriteError writes a JSON error response.
func WriteError(w http.ResponseWriter, status int, msg string) {
	WriteJSON(w, status, ErrorResponse{Error: msg})
}

// WriteErrorDetail writes a JSON error response with detail.
func WriteErrorDetail(w http.ResponseWriter, status int, msg, detail string) {
	WriteJSON(w, status, ErrorResponse{Error: msg, Detail: detail})
}

// TaskResponse is the accepted-call acknowledgment.
type TaskResponse struct {
	TaskID string `json:"task_id"`
	CallID string `json:"call_id,omitempty"`
}

// TaskStatusResponse mirrors GET /tasks/{id}.
type TaskStatusResponse struct {
	TaskID     string          `json:"task_id"`
	TaskStatus string          `json:"task_status"`
	TaskResult json.RawMessage `json:"task_result"`
}
