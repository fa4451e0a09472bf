// Package types provides type definitions for structured data used throughout the ux-auditor system.
package types

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// JobStatus is the lifecycle state of an audit job.
type JobStatus string

const (
	StatusPending    JobStatus = "pending"
	StatusProcessing JobStatus = "processing"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
)

// IsTerminal reports whether no further transitions are allowed from s.
func (s JobStatus) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed
}

// CanTransitionTo reports whether moving from s to next is a forward transition.
// pending -> failed exists only for the stale sweep, which fails jobs that never
// started processing; the processor always goes through processing first.
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	switch s {
	case StatusPending:
		return next == StatusProcessing || next == StatusFailed
	case StatusProcessing:
		return next == StatusCompleted || next == StatusFailed
	default:
		return false
	}
}

// AuditMode selects the pipeline variant.
type AuditMode string

const (
	ModeStandard   AuditMode = "standard"
	ModeCompetitor AuditMode = "competitor"
)

// InputType is the kind of analysis target.
type InputType string

const (
	InputURL    InputType = "url"
	InputUpload InputType = "upload"
)

// InputRole tags an input in competitor mode.
type InputRole string

const (
	RolePrimary    InputRole = "primary"
	RoleCompetitor InputRole = "competitor"
)

// Input is one analysis target.
type Input struct {
	Type  InputType `json:"type" validate:"required,oneof=url upload"`
	URL   string    `json:"url,omitempty" validate:"required_if=Type url,omitempty,url"`
	Files []string  `json:"files,omitempty" validate:"required_if=Type upload,omitempty,dive,required,base64"`
	Role  InputRole `json:"role,omitempty" validate:"omitempty,oneof=primary competitor"`
}

// InputData is the immutable request snapshot stored on a job.
type InputData struct {
	Inputs    []Input   `json:"inputs" validate:"required,min=1,max=5,dive"`
	AuditMode AuditMode `json:"auditMode,omitempty" validate:"omitempty,oneof=standard competitor"`
}

// Mode returns the audit mode, defaulting to standard.
func (d InputData) Mode() AuditMode {
	if d.AuditMode == "" {
		return ModeStandard
	}
	return d.AuditMode
}

// RoleOf returns the effective role of the input at index i.
// Competitor mode treats untagged inputs as primary then competitor by position.
func (d InputData) RoleOf(i int) InputRole {
	if d.Inputs[i].Role != "" {
		return d.Inputs[i].Role
	}
	if i == 0 {
		return RolePrimary
	}
	return RoleCompetitor
}

// LogEntry is one append-only progress line.
type LogEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Message   string    `json:"message"`
}

// ReportData holds the accumulating named result fields of a job.
// Values are kept as raw JSON so the record round-trips without loss.
type ReportData map[string]json.RawMessage

// Logs decodes the "logs" field. A missing or malformed field yields nil.
func (r ReportData) Logs() []LogEntry {
	raw, ok := r[KeyLogs]
	if !ok {
		return nil
	}
	var entries []LogEntry
	if err := json.Unmarshal(raw, &entries); err != nil {
		return nil
	}
	return entries
}

// Decode unmarshals the named field into dst. It returns false when the field is absent.
func (r ReportData) Decode(key string, dst any) (bool, error) {
	raw, ok := r[key]
	if !ok {
		return false, nil
	}
	return true, json.Unmarshal(raw, dst)
}

// Clone returns a shallow copy safe to hand to readers.
func (r ReportData) Clone() ReportData {
	out := make(ReportData, len(r))
	for k, v := range r {
		out[k] = append(json.RawMessage(nil), v...)
	}
	return out
}

// Job is one end-to-end audit request and its accumulating result/state.
type Job struct {
	ID           uuid.UUID  `json:"id"`
	Status       JobStatus  `json:"status"`
	InputData    InputData  `json:"inputData"`
	ReportData   ReportData `json:"reportData"`
	ErrorMessage string     `json:"errorMessage,omitempty"`
	ResultURL    string     `json:"resultUrl,omitempty"`
	CreatedAt    time.Time  `json:"createdAt"`
	UpdatedAt    time.Time  `json:"updatedAt"`
}

// Screenshot is a captured or uploaded page image.
// Data stays inline only until an upload succeeds.
type Screenshot struct {
	URL         string `json:"url,omitempty"`
	Data        string `json:"data,omitempty"`
	IsMobile    bool   `json:"isMobile"`
	Path        string `json:"path,omitempty"`
	Source      string `json:"source,omitempty"`
	UploadError string `json:"uploadError,omitempty"`
}

// ExpertResult is the outcome of one analysis stage.
type ExpertResult struct {
	Key   string         `json:"key"`
	Data  map[string]any `json:"data"`
	Error string         `json:"error,omitempty"`
}

// Report field keys.
const (
	KeyLogs             = "logs"
	KeyURL              = "url"
	KeyScreenshots      = "screenshots"
	KeyMimeType         = "mimeType"
	KeyPerformance      = "performanceData"
	KeyPerformanceError = "performanceError"
	KeyUXExpert         = "UX Audit expert"
	KeyProductExpert    = "Product Audit expert"
	KeyVisualExpert     = "Visual Audit expert"
	KeyStrategyExpert   = "Strategy Audit expert"
	KeyA11yExpert       = "Accessibility Audit expert"
	KeyCompetitorExpert = "Competitor Analysis expert"
	KeyTop5Contextual   = "Top5ContextualIssues"
	KeyCompetitorURL    = "competitorUrl"
)
