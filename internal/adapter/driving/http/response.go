package httphandler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/ericfisherdev/shipit/internal/domain/model"
)

// writeJSON marshals v to JSON and writes it to the response with the given
// status code. If marshaling fails, a 500 error is written instead.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"internal server error"}`))
		return
	}

	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}

// writeError writes a JSON error response with the given status code and message.
func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// errorResponse is the standard error response body.
type errorResponse struct {
	Error string `json:"error"`
}

// RunResponse is the JSON representation of a journal run.
type RunResponse struct {
	ID           string          `json:"id"`
	PRNumber     int             `json:"pr_number"`
	Command      string          `json:"command"`
	Environment  string          `json:"environment"`
	DeploymentID int64           `json:"deployment_id,omitempty"`
	CommentID    int64           `json:"comment_id,omitempty"`
	CommentURL   string          `json:"comment_url,omitempty"`
	CommentBody  string          `json:"comment_body,omitempty"`
	State        string          `json:"state"`
	Finished     bool            `json:"finished"`
	Message      string          `json:"message,omitempty"`
	StartedAt    string          `json:"started_at"`
	FinishedAt   string          `json:"finished_at,omitempty"`
	Stages       []StageResponse `json:"stages"`
}

// StageResponse is the JSON representation of one stage of a run.
type StageResponse struct {
	Stage      string `json:"stage"`
	Outcome    string `json:"outcome"`
	Output     string `json:"output"`
	DurationMS int64  `json:"duration_ms"`
	StartedAt  string `json:"started_at"`
}

// HealthResponse is the JSON body of the health endpoint.
type HealthResponse struct {
	Status        string `json:"status"`
	Time          string `json:"time"`
	SchemaVersion uint   `json:"schema_version,omitempty"`
}

func toRunResponse(run model.Run) RunResponse {
	resp := RunResponse{
		ID:           run.ID,
		PRNumber:     run.PRNumber,
		Command:      run.Command,
		Environment:  run.Environment,
		DeploymentID: run.DeploymentID,
		CommentID:    run.CommentID,
		CommentURL:   run.CommentURL,
		CommentBody:  run.CommentBody,
		State:        string(run.State),
		Finished:     run.State.IsTerminal(),
		Message:      run.Message,
		StartedAt:    formatTime(run.StartedAt),
		FinishedAt:   formatTime(run.FinishedAt),
		Stages:       make([]StageResponse, 0, len(run.Stages)),
	}

	for _, s := range run.Stages {
		resp.Stages = append(resp.Stages, StageResponse{
			Stage:      s.Stage,
			Outcome:    string(s.Outcome),
			Output:     s.Output,
			DurationMS: s.Duration.Milliseconds(),
			StartedAt:  formatTime(s.Started),
		})
	}

	return resp
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}
