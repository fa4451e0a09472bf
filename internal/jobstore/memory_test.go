package jobstore

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jonathan/ux-auditor/internal/types"
)

func urlInput() types.InputData {
	return types.InputData{Inputs: []types.Input{{Type: types.InputURL, URL: "https://example.com"}}}
}

func TestMemory_CreateAndGet(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()

	job, err := s.CreateJob(ctx, urlInput())
	require.NoError(t, err)
	assert.Equal(t, types.StatusPending, job.Status)
	assert.NotEqual(t, uuid.Nil, job.ID)

	got, err := s.GetJob(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.InputData, got.InputData)

	missing, err := s.GetJob(ctx, uuid.New())
	assert.NoError(t, err)
	assert.Nil(t, missing)

	logs, err := s.GetLogs(ctx, uuid.New())
	assert.NoError(t, err)
	assert.Nil(t, logs)
}

func TestMemory_AppendProgressMergesAndLogs(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	job, _ := s.CreateJob(ctx, urlInput())
	require.NoError(t, s.UpdateStatus(ctx, job.ID, StatusUpdate{Status: types.StatusProcessing, Message: "Processing started"}))

	require.NoError(t, s.AppendProgress(ctx, job.ID, "Scrape complete", map[string]any{
		types.KeyURL:  "https://example.com",
		types.KeyLogs: "ignored",
	}))
	require.NoError(t, s.AppendProgress(ctx, job.ID, "Running UX analysis", nil))
	require.NoError(t, s.AppendProgress(ctx, job.ID, "UX complete", map[string]any{
		types.KeyUXExpert: map[string]any{"score": 80},
	}))

	got, _ := s.GetJob(ctx, job.ID)
	var url string
	found, err := got.ReportData.Decode(types.KeyURL, &url)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "https://example.com", url)
	assert.Contains(t, got.ReportData, types.KeyUXExpert)

	logs := got.ReportData.Logs()
	require.Len(t, logs, 4)
	assert.Equal(t, "Processing started", logs[0].Message)
	assert.Equal(t, "UX complete", logs[3].Message)

	view, err := s.GetLogs(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, types.StatusProcessing, view.Status)
	assert.Len(t, view.Logs, 4)
}

func TestMemory_ConcurrentAppendsAreNotLost(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	job, _ := s.CreateJob(ctx, urlInput())

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			key := fmt.Sprintf("field-%d", i)
			assert.NoError(t, s.AppendProgress(ctx, job.ID, key, map[string]any{key: i}))
		}(i)
	}
	wg.Wait()

	got, _ := s.GetJob(ctx, job.ID)
	assert.Len(t, got.ReportData.Logs(), 50)
	assert.Len(t, got.ReportData, 51) // 50 fields + logs
}

func TestMemory_StatusTransitions(t *testing.T) {
	ctx := context.Background()
	s := NewMemory()
	job, _ := s.CreateJob(ctx, urlInput())

	err := s.UpdateStatus(ctx, job.ID, StatusUpdate{Status: types.StatusCompleted})
	assert.ErrorIs(t, err, ErrInvalidTransition)

	require.NoError(t, s.UpdateStatus(ctx, job.ID, StatusUpdate{Status: types.StatusProcessing}))
	require.NoError(t, s.UpdateStatus(ctx, job.ID, StatusUpdate{
		Status:      types.StatusCompleted,
		ResultURL:   "https://app.example.com/reports/" + job.ID.String(),
		ReportPatch: map[string]any{types.KeyScreenshots: []types.Screenshot{{URL: "https://cdn/x.png"}}},
		Message:     "Job complete",
	}))

	err = s.UpdateStatus(ctx, job.ID, StatusUpdate{Status: types.StatusFailed, ErrorMessage: "late"})
	assert.ErrorIs(t, err, ErrJobTerminal)
	assert.ErrorIs(t, s.AppendProgress(ctx, job.ID, "late", nil), ErrJobTerminal)

	got, _ := s.GetJob(ctx, job.ID)
	assert.Equal(t, types.StatusCompleted, got.Status)
	assert.Empty(t, got.ErrorMessage)
	assert.Contains(t, got.ResultURL, job.ID.String())
	logs := got.ReportData.Logs()
	assert.Equal(t, "Job complete", logs[len(logs)-1].Message)

	assert.ErrorIs(t, s.UpdateStatus(ctx, uuid.New(), StatusUpdate{Status: types.StatusFailed}), ErrNotFound)
	assert.True(t, errors.Is(s.AppendProgress(ctx, uuid.New(), "x", nil), ErrNotFound))
}

func TestMemory_SweepStale(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	s := NewMemory().WithClock(func() time.Time { return now })

	stale, _ := s.CreateJob(ctx, urlInput())
	_ = s.UpdateStatus(ctx, stale.ID, StatusUpdate{Status: types.StatusProcessing})
	stalePending, _ := s.CreateJob(ctx, urlInput())
	done, _ := s.CreateJob(ctx, urlInput())
	_ = s.UpdateStatus(ctx, done.ID, StatusUpdate{Status: types.StatusProcessing})
	_ = s.UpdateStatus(ctx, done.ID, StatusUpdate{Status: types.StatusCompleted})

	now = now.Add(time.Hour)
	fresh, _ := s.CreateJob(ctx, urlInput())

	n, err := s.SweepStale(ctx, 30*time.Minute, "")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	for _, id := range []uuid.UUID{stale.ID, stalePending.ID} {
		got, _ := s.GetJob(ctx, id)
		assert.Equal(t, types.StatusFailed, got.Status)
		assert.Equal(t, InterruptedMessage, got.ErrorMessage)
	}
	got, _ := s.GetJob(ctx, done.ID)
	assert.Equal(t, types.StatusCompleted, got.Status)
	got, _ = s.GetJob(ctx, fresh.ID)
	assert.Equal(t, types.StatusPending, got.Status)
}

func TestEncodePatch(t *testing.T) {
	patch, err := EncodePatch(map[string]any{
		"a":           1,
		types.KeyLogs: []string{"x"},
		"b":           map[string]any{"k": "v"},
	})
	require.NoError(t, err)
	assert.JSONEq(t, `1`, string(patch["a"]))
	assert.JSONEq(t, `{"k":"v"}`, string(patch["b"]))
	assert.NotContains(t, patch, types.KeyLogs)

	_, err = EncodePatch(map[string]any{"bad": make(chan int)})
	assert.Error(t, err)
}
