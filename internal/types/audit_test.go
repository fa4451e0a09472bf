package types

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInputData_Validation(t *testing.T) {
	urlInput := Input{Type: InputURL, URL: "https://example.com"}
	tests := []struct {
		name    string
		data    InputData
		wantErr bool
		errMsg  string
	}{
		{
			name: "single url",
			data: InputData{Inputs: []Input{urlInput}},
		},
		{
			name: "upload input",
			data: InputData{Inputs: []Input{{Type: InputUpload, Files: []string{"aGVsbG8="}}}},
		},
		{
			name: "five inputs",
			data: InputData{Inputs: []Input{urlInput, urlInput, urlInput, urlInput, urlInput}},
		},
		{
			name:    "no inputs",
			data:    InputData{},
			wantErr: true,
			errMsg:  "required",
		},
		{
			name:    "six inputs",
			data:    InputData{Inputs: []Input{urlInput, urlInput, urlInput, urlInput, urlInput, urlInput}},
			wantErr: true,
			errMsg:  "at most 5",
		},
		{
			name:    "url input without url",
			data:    InputData{Inputs: []Input{{Type: InputURL}}},
			wantErr: true,
			errMsg:  "required for this input type",
		},
		{
			name:    "upload without files",
			data:    InputData{Inputs: []Input{{Type: InputUpload}}},
			wantErr: true,
			errMsg:  "required for this input type",
		},
		{
			name:    "unknown type",
			data:    InputData{Inputs: []Input{{Type: "ftp", URL: "ftp://x"}}},
			wantErr: true,
			errMsg:  "one of",
		},
		{
			name: "competitor pair",
			data: InputData{
				AuditMode: ModeCompetitor,
				Inputs: []Input{
					{Type: InputURL, URL: "https://a.example.com", Role: RolePrimary},
					{Type: InputURL, URL: "https://b.example.com", Role: RoleCompetitor},
				},
			},
		},
		{
			name: "competitor pair without roles",
			data: InputData{
				AuditMode: ModeCompetitor,
				Inputs: []Input{
					{Type: InputURL, URL: "https://a.example.com"},
					{Type: InputURL, URL: "https://b.example.com"},
				},
			},
		},
		{
			name:    "competitor with one url",
			data:    InputData{AuditMode: ModeCompetitor, Inputs: []Input{urlInput}},
			wantErr: true,
			errMsg:  "exactly two inputs",
		},
		{
			name: "competitor with two primaries",
			data: InputData{
				AuditMode: ModeCompetitor,
				Inputs: []Input{
					{Type: InputURL, URL: "https://a.example.com", Role: RolePrimary},
					{Type: InputURL, URL: "https://b.example.com", Role: RolePrimary},
				},
			},
			wantErr: true,
			errMsg:  "one primary and one competitor",
		},
		{
			name: "competitor with upload",
			data: InputData{
				AuditMode: ModeCompetitor,
				Inputs: []Input{
					urlInput,
					{Type: InputUpload, Files: []string{"aGVsbG8="}},
				},
			},
			wantErr: true,
			errMsg:  "two URL inputs",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.data.Validate()
			if !tt.wantErr {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, DescribeValidationError(err), tt.errMsg)
		})
	}
}

func TestJobStatus_Transitions(t *testing.T) {
	assert.True(t, StatusPending.CanTransitionTo(StatusProcessing))
	assert.True(t, StatusPending.CanTransitionTo(StatusFailed))
	assert.True(t, StatusProcessing.CanTransitionTo(StatusCompleted))
	assert.True(t, StatusProcessing.CanTransitionTo(StatusFailed))

	assert.False(t, StatusPending.CanTransitionTo(StatusCompleted))
	assert.False(t, StatusProcessing.CanTransitionTo(StatusPending))
	assert.False(t, StatusCompleted.CanTransitionTo(StatusFailed))
	assert.False(t, StatusFailed.CanTransitionTo(StatusCompleted))
	assert.False(t, StatusCompleted.CanTransitionTo(StatusCompleted))

	assert.True(t, StatusCompleted.IsTerminal())
	assert.True(t, StatusFailed.IsTerminal())
	assert.False(t, StatusProcessing.IsTerminal())
}

func TestJob_JSONRoundTrip(t *testing.T) {
	now := time.Now().UTC().Truncate(time.Second)
	logs, err := json.Marshal([]LogEntry{{Timestamp: now, Message: "Queued"}})
	require.NoError(t, err)

	job := Job{
		ID:     uuid.New(),
		Status: StatusProcessing,
		InputData: InputData{Inputs: []Input{
			{Type: InputUpload, Files: []string{"aGVsbG8="}},
		}},
		ReportData: ReportData{
			KeyLogs:        logs,
			KeyScreenshots: json.RawMessage(`[{"data":"aGVsbG8=","isMobile":false}]`),
		},
		CreatedAt: now,
		UpdatedAt: now,
	}

	b, err := json.Marshal(job)
	require.NoError(t, err)

	var decoded Job
	require.NoError(t, json.Unmarshal(b, &decoded))
	assert.Equal(t, job.ID, decoded.ID)
	assert.Equal(t, job.InputData, decoded.InputData)
	require.Len(t, decoded.ReportData.Logs(), 1)
	assert.Equal(t, "Queued", decoded.ReportData.Logs()[0].Message)

	var shots []Screenshot
	found, err := decoded.ReportData.Decode(KeyScreenshots, &shots)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "aGVsbG8=", shots[0].Data)
}

func TestInputData_RoleOf(t *testing.T) {
	data := InputData{Inputs: []Input{
		{Type: InputURL, URL: "https://a.example.com"},
		{Type: InputURL, URL: "https://b.example.com"},
	}}
	assert.Equal(t, RolePrimary, data.RoleOf(0))
	assert.Equal(t, RoleCompetitor, data.RoleOf(1))

	data.Inputs[0].Role = RoleCompetitor
	assert.Equal(t, RoleCompetitor, data.RoleOf(0))
	assert.Equal(t, ModeStandard, data.Mode())
}
