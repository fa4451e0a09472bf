package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/jonathan/ux-auditor/internal/types"
)

// scriptedJobs returns a fixed sequence of snapshots, repeating the last one.
type scriptedJobs struct {
	mu    sync.Mutex
	views []*types.JobView
	errs  []error
	calls int
}

func (s *scriptedJobs) GetJob(_ context.Context, _ uuid.UUID) (*types.JobView, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	i := s.calls
	s.calls++
	if i < len(s.errs) && s.errs[i] != nil {
		return nil, s.errs[i]
	}
	if i >= len(s.views) {
		i = len(s.views) - 1
	}
	return s.views[i], nil
}

func snapshot(id uuid.UUID, status types.JobStatus, pct int, fields map[string]string) *types.JobView {
	data := types.ReportData{}
	for k, v := range fields {
		data[k] = json.RawMessage(v)
	}
	return &types.JobView{ID: id, Status: status, Progress: pct, ReportData: data}
}

// collector records handler calls and signals when the subscription ended.
type collector struct {
	mu        sync.Mutex
	updates   []Update
	completed []Update
	errs      []error
	done      chan struct{}
	once      sync.Once
}

func newCollector() *collector {
	return &collector{done: make(chan struct{})}
}

func (c *collector) handlers() Handlers {
	return Handlers{
		OnUpdate: func(u Update) {
			c.mu.Lock()
			c.updates = append(c.updates, u)
			c.mu.Unlock()
		},
		OnComplete: func(u Update) {
			c.mu.Lock()
			c.completed = append(c.completed, u)
			c.mu.Unlock()
			c.once.Do(func() { close(c.done) })
		},
		OnError: func(err error) {
			c.mu.Lock()
			c.errs = append(c.errs, err)
			c.mu.Unlock()
			c.once.Do(func() { close(c.done) })
		},
	}
}

func (c *collector) wait(t *testing.T) {
	t.Helper()
	select {
	case <-c.done:
	case <-time.After(5 * time.Second):
		t.Fatal("subscription did not finish")
	}
}

func (c *collector) keyCounts() map[string]int {
	c.mu.Lock()
	defer c.mu.Unlock()
	counts := map[string]int{}
	for _, u := range c.updates {
		for k := range u.NewData {
			counts[k]++
		}
	}
	return counts
}

func TestPollingWatcher_EmitsEachKeyOnce(t *testing.T) {
	id := uuid.New()
	jobs := &scriptedJobs{views: []*types.JobView{
		snapshot(id, types.StatusPending, 5, nil),
		snapshot(id, types.StatusProcessing, 30, map[string]string{"url": `"https://a.example.com"`}),
		snapshot(id, types.StatusProcessing, 30, map[string]string{"url": `"https://a.example.com"`}),
		snapshot(id, types.StatusProcessing, 50, map[string]string{"url": `"https://a.example.com"`, types.KeyUXExpert: `{}`}),
		snapshot(id, types.StatusProcessing, 50, map[string]string{"url": `"https://a.example.com"`, types.KeyUXExpert: `{}`}),
		snapshot(id, types.StatusCompleted, 100, map[string]string{"url": `"https://a.example.com"`, types.KeyUXExpert: `{}`, types.KeyLogs: `[]`}),
	}}
	c := newCollector()
	w := NewPollingWatcher(jobs, time.Millisecond, zaptest.NewLogger(t))
	unsubscribe := w.Subscribe(context.Background(), id, c.handlers())
	defer unsubscribe()
	c.wait(t)

	assert.Equal(t, map[string]int{"url": 1, types.KeyUXExpert: 1}, c.keyCounts())
	require.Len(t, c.completed, 1)
	assert.Equal(t, 100, c.completed[0].Progress)
	assert.Empty(t, c.errs)

	// duplicate snapshots produce no update
	assert.Len(t, c.updates, 4)
	for i := 1; i < len(c.updates); i++ {
		assert.GreaterOrEqual(t, c.updates[i].Progress, c.updates[i-1].Progress)
	}
}

func TestPollingWatcher_FailedJob(t *testing.T) {
	id := uuid.New()
	failed := snapshot(id, types.StatusFailed, 30, nil)
	failed.ErrorMessage = "scrape https://a.example.com (desktop): timeout"
	c := newCollector()
	NewPollingWatcher(&scriptedJobs{views: []*types.JobView{failed}}, time.Millisecond, nil).
		Subscribe(context.Background(), id, c.handlers())
	c.wait(t)

	require.Len(t, c.errs, 1)
	var jf *JobFailedError
	require.ErrorAs(t, c.errs[0], &jf)
	assert.Contains(t, jf.Message, "timeout")
	assert.Empty(t, c.completed)
}

func TestPollingWatcher_TransientErrors(t *testing.T) {
	id := uuid.New()
	boom := errors.New("request failed: connection refused")

	t.Run("recovers", func(t *testing.T) {
		jobs := &scriptedJobs{
			errs:  []error{boom, boom},
			views: []*types.JobView{nil, nil, snapshot(id, types.StatusCompleted, 100, nil)},
		}
		c := newCollector()
		NewPollingWatcher(jobs, time.Millisecond, nil).Subscribe(context.Background(), id, c.handlers())
		c.wait(t)
		assert.Len(t, c.completed, 1)
		assert.Empty(t, c.errs)
	})

	t.Run("gives up", func(t *testing.T) {
		jobs := &scriptedJobs{errs: []error{boom, boom, boom}, views: []*types.JobView{nil}}
		c := newCollector()
		NewPollingWatcher(jobs, time.Millisecond, nil).WithMaxErrors(3).Subscribe(context.Background(), id, c.handlers())
		c.wait(t)
		require.Len(t, c.errs, 1)
		assert.ErrorIs(t, c.errs[0], boom)
	})

	t.Run("not found ends immediately", func(t *testing.T) {
		jobs := &scriptedJobs{errs: []error{&StatusError{StatusCode: http.StatusNotFound}}, views: []*types.JobView{nil}}
		c := newCollector()
		NewPollingWatcher(jobs, time.Millisecond, nil).Subscribe(context.Background(), id, c.handlers())
		c.wait(t)
		require.Len(t, c.errs, 1)
		assert.True(t, IsNotFound(c.errs[0]))
		assert.Equal(t, 1, jobs.calls)
	})
}

func TestPollingWatcher_Unsubscribe(t *testing.T) {
	id := uuid.New()
	jobs := &scriptedJobs{views: []*types.JobView{snapshot(id, types.StatusProcessing, 10, nil)}}
	c := newCollector()
	unsubscribe := NewPollingWatcher(jobs, time.Millisecond, nil).Subscribe(context.Background(), id, c.handlers())
	time.Sleep(20 * time.Millisecond)
	unsubscribe()
	time.Sleep(20 * time.Millisecond)

	jobs.mu.Lock()
	calls := jobs.calls
	jobs.mu.Unlock()
	time.Sleep(20 * time.Millisecond)
	jobs.mu.Lock()
	defer jobs.mu.Unlock()
	assert.Equal(t, calls, jobs.calls, "polling continued after unsubscribe")
	assert.Empty(t, c.completed)
	assert.Empty(t, c.errs)
}

func TestStreamWatcher_AgainstServer(t *testing.T) {
	ts, store, _ := newBackend(t)
	job, err := store.CreateJob(context.Background(), urlInput)
	require.NoError(t, err)

	c := newCollector()
	w := NewStreamWatcher(ts.URL, nil, zaptest.NewLogger(t))
	defer w.Subscribe(context.Background(), job.ID, c.handlers())()

	time.Sleep(50 * time.Millisecond)
	advance(t, store, job.ID, types.StatusCompleted)
	c.wait(t)

	require.Len(t, c.completed, 1)
	assert.Equal(t, 100, c.completed[0].Progress)
	assert.Contains(t, c.completed[0].ResultURL, job.ID.String())
	counts := c.keyCounts()
	assert.Equal(t, 1, counts[types.KeyURL])
	assert.Equal(t, 1, counts[types.KeyUXExpert])
}

func TestStreamWatcher_FailedJob(t *testing.T) {
	ts, store, _ := newBackend(t)
	job, err := store.CreateJob(context.Background(), urlInput)
	require.NoError(t, err)
	advance(t, store, job.ID, types.StatusFailed)

	c := newCollector()
	NewStreamWatcher(ts.URL, nil, nil).Subscribe(context.Background(), job.ID, c.handlers())
	c.wait(t)

	require.Len(t, c.errs, 1)
	var jf *JobFailedError
	require.ErrorAs(t, c.errs[0], &jf)
	assert.Equal(t, "scrape timed out", jf.Message)
}

func TestStreamWatcher_UnknownJob(t *testing.T) {
	ts, _, _ := newBackend(t)
	c := newCollector()
	NewStreamWatcher(ts.URL, nil, nil).Subscribe(context.Background(), uuid.New(), c.handlers())
	c.wait(t)

	require.Len(t, c.errs, 1)
	assert.True(t, IsNotFound(c.errs[0]))
}

func TestStreamWatcher_ReconnectDoesNotRepeatKeys(t *testing.T) {
	id := uuid.New()
	var connections atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		n := connections.Add(1)
		fmt.Fprintf(w, ": keep-alive\n\n")
		fmt.Fprintf(w, "event: update\ndata: {\"jobId\":%q,\"status\":\"processing\",\"progress\":30,\"data\":{\"url\":\"https://a.example.com\"}}\n\n", id)
		if n == 1 {
			return // drop before the terminal event
		}
		fmt.Fprintf(w, "event: update\ndata: {\"jobId\":%q,\"status\":\"completed\",\"progress\":100,\"data\":{\"url\":\"https://a.example.com\",\"Top5ContextualIssues\":{}}}\n\n", id)
		fmt.Fprintf(w, "event: complete\ndata: {\"jobId\":%q,\"status\":\"completed\",\"progress\":100}\n\n", id)
	}))
	defer ts.Close()

	c := newCollector()
	NewStreamWatcher(ts.URL, nil, nil).WithReconnects(2, time.Millisecond).Subscribe(context.Background(), id, c.handlers())
	c.wait(t)

	assert.Equal(t, int32(2), connections.Load())
	assert.Equal(t, map[string]int{"url": 1, types.KeyTop5Contextual: 1}, c.keyCounts())
	require.Len(t, c.completed, 1)
	assert.Empty(t, c.errs)
}

func TestStreamWatcher_GivesUpAfterReconnects(t *testing.T) {
	var connections atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		connections.Add(1)
		w.Header().Set("Content-Type", "text/event-stream")
	}))
	defer ts.Close()

	c := newCollector()
	NewStreamWatcher(ts.URL, nil, nil).WithReconnects(1, time.Millisecond).Subscribe(context.Background(), uuid.New(), c.handlers())
	c.wait(t)

	assert.Equal(t, int32(2), connections.Load())
	require.Len(t, c.errs, 1)
	assert.ErrorIs(t, c.errs[0], errStreamClosed)
}
