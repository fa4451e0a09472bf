package types

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// SubmitResponse is returned by POST /audit.
type SubmitResponse struct {
	JobID  uuid.UUID `json:"jobId"`
	Status JobStatus `json:"status"`
}

// JobView is the job snapshot served to pollers. Input files are not echoed back.
type JobView struct {
	ID           uuid.UUID  `json:"id"`
	Status       JobStatus  `json:"status"`
	AuditMode    AuditMode  `json:"auditMode"`
	ReportData   ReportData `json:"reportData"`
	ErrorMessage string     `json:"errorMessage,omitempty"`
	ResultURL    string     `json:"resultUrl,omitempty"`
	Progress     int        `json:"progress"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

// NewJobView projects job with the given progress.
func NewJobView(job *Job, progress int) JobView {
	return JobView{
		ID:           job.ID,
		Status:       job.Status,
		AuditMode:    job.InputData.Mode(),
		ReportData:   job.ReportData,
		ErrorMessage: job.ErrorMessage,
		ResultURL:    job.ResultURL,
		Progress:     progress,
		CreatedAt:    job.CreatedAt,
		UpdatedAt:    job.UpdatedAt,
	}
}

// LogsResponse is returned by GET /audit/{id}/logs.
type LogsResponse struct {
	JobID    uuid.UUID  `json:"jobId"`
	Status   JobStatus  `json:"status"`
	Logs     []LogEntry `json:"logs"`
	Progress int        `json:"progress"`
}

// ReportView is a completed report served by GET /reports/{id}.
type ReportView struct {
	JobID       uuid.UUID  `json:"jobId"`
	AuditMode   AuditMode  `json:"auditMode"`
	ResultURL   string     `json:"resultUrl"`
	CompletedAt time.Time  `json:"completedAt"`
	Report      ReportData `json:"report"`
}

// Stream event names.
const (
	StreamEventUpdate   = "update"
	StreamEventComplete = "complete"
	StreamEventError    = "error"
)

// UpdateEvent carries the report fields that appeared since the previous stream event.
type UpdateEvent struct {
	JobID       string                     `json:"jobId"`
	Status      string                     `json:"status"`
	Progress    int                        `json:"progress"`
	LastMessage string                     `json:"lastMessage,omitempty"`
	Data        map[string]json.RawMessage `json:"data,omitempty"`
}

// CompleteEvent is the final stream event of a completed job.
type CompleteEvent struct {
	JobID     string `json:"jobId"`
	Status    string `json:"status"`
	Progress  int    `json:"progress"`
	ResultURL string `json:"resultUrl,omitempty"`
}

// ErrorEvent is the final stream event of a failed job.
type ErrorEvent struct {
	JobID  string `json:"jobId,omitempty"`
	Status string `json:"status"`
	Error  string `json:"error"`
}
