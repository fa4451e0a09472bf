package main

import (
	"bytes"
	"encoding/base64"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/ux-auditor/internal/client"
	"github.com/jonathan/ux-auditor/internal/config"
	"github.com/jonathan/ux-auditor/internal/observability"
	"github.com/jonathan/ux-auditor/internal/server"
	"github.com/jonathan/ux-auditor/internal/types"
)

func TestBuildInput(t *testing.T) {
	t.Run("urls and files", func(t *testing.T) {
		input, err := buildInput([]string{"https://a.example.com"}, [][]byte{[]byte("png")}, "")
		require.NoError(t, err)
		require.Len(t, input.Inputs, 2)
		assert.Equal(t, types.InputURL, input.Inputs[0].Type)
		assert.Equal(t, types.InputUpload, input.Inputs[1].Type)
		assert.Equal(t, base64.StdEncoding.EncodeToString([]byte("png")), input.Inputs[1].Files[0])
		assert.Equal(t, types.ModeStandard, input.Mode())
	})

	t.Run("competitor", func(t *testing.T) {
		input, err := buildInput([]string{"https://a.example.com"}, nil, "https://b.example.com")
		require.NoError(t, err)
		assert.Equal(t, types.ModeCompetitor, input.AuditMode)
		assert.Equal(t, types.RoleCompetitor, input.Inputs[1].Role)
	})

	t.Run("competitor needs one url", func(t *testing.T) {
		_, err := buildInput(nil, nil, "https://b.example.com")
		assert.Error(t, err)
	})

	t.Run("nothing to audit", func(t *testing.T) {
		_, err := buildInput(nil, nil, "")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "required")
	})
}

func TestRateLimitConfig(t *testing.T) {
	rl := rateLimitConfig(config.RateLimitConfig{
		Enabled:      true,
		SubmitLimit:  5,
		SubmitWindow: time.Hour,
		SubmitBurst:  2,
		Whitelist:    []string{"10.0.0.1"},
	})
	assert.True(t, rl.Enabled)
	assert.Equal(t, 600, rl.DefaultLimit)
	assert.True(t, rl.Whitelist["10.0.0.1"])
	require.NotEmpty(t, rl.EndpointConfigs)
	assert.Equal(t, 5, rl.EndpointConfigs[0].Limit)
}

func TestExplain(t *testing.T) {
	err := explain(&client.StatusError{StatusCode: 429, Message: "Rate limit exceeded"})
	assert.Contains(t, err.Error(), "Too many requests")

	plain := explain(assert.AnError)
	assert.Equal(t, assert.AnError, plain)
}

func TestWidgetKeyCommand(t *testing.T) {
	const secret = "cli-test-widget-secret-value"
	t.Setenv("UXA_WIDGET_SECRET", secret)

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{
		"widget-key",
		"--env-file", filepath.Join(t.TempDir(), "missing.env"),
		"--site", "acme",
		"--origin", "https://acme.example.com",
	})
	require.NoError(t, rootCmd.Execute())

	key := strings.TrimSpace(out.String())
	svc := server.NewWidgetKeyService(config.WidgetConfig{Secret: secret, KeyTTL: time.Hour})
	claims, err := svc.ValidateToken(key)
	require.NoError(t, err)
	assert.Equal(t, "acme", claims.SiteID)
	assert.Equal(t, []string{"https://acme.example.com"}, claims.AllowedOrigins)
}

func TestWatchCommand_NothingInFlight(t *testing.T) {
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs([]string{"watch", "--state-file", filepath.Join(t.TempDir(), "audits.json")})
	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, out.String(), "no audits in flight")
}

func TestTerminal_Finished(t *testing.T) {
	var out bytes.Buffer
	term := &terminal{out: &out, printer: observability.NewPrinter(&out)}
	id := uuid.New()
	view := &types.JobView{ID: id, Status: types.StatusCompleted, ReportData: types.ReportData{}}

	term.finished(view, client.CompletionAction(client.View{Screen: client.ScreenOther}, id), "https://audit.example.com/reports/"+id.String())
	assert.Contains(t, out.String(), "AUDIT READY")

	out.Reset()
	term.finished(view, client.CompletionAction(client.View{Screen: client.ScreenAnalysis, JobID: id}, id), "https://audit.example.com/reports/x")
	assert.Contains(t, out.String(), "AUDIT JOB")
	assert.Contains(t, out.String(), "https://audit.example.com/reports/x")
}
