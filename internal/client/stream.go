package client

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jonathan/ux-auditor/internal/types"
)

const (
	// DefaultReconnects is how many times a dropped stream is reopened.
	DefaultReconnects = 3
	// DefaultReconnectDelay is the pause before reopening a dropped stream.
	DefaultReconnectDelay = time.Second

	maxEventBytes = 32 << 20
)

// errStreamClosed means the server closed the stream before a terminal event.
var errStreamClosed = errors.New("event stream closed before the job finished")

// StreamWatcher follows a job over the server-sent event stream.
type StreamWatcher struct {
	baseURL        string
	http           *http.Client
	reconnects     int
	reconnectDelay time.Duration
	logger         *zap.Logger
}

// NewStreamWatcher creates a watcher for the server at baseURL. The HTTP client
// must not carry a total request timeout.
func NewStreamWatcher(baseURL string, httpClient *http.Client, logger *zap.Logger) *StreamWatcher {
	if httpClient == nil {
		httpClient = &http.Client{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StreamWatcher{
		baseURL:        strings.TrimRight(baseURL, "/"),
		http:           httpClient,
		reconnects:     DefaultReconnects,
		reconnectDelay: DefaultReconnectDelay,
		logger:         logger,
	}
}

// WithReconnects overrides the reconnect budget and delay.
func (w *StreamWatcher) WithReconnects(n int, delay time.Duration) *StreamWatcher {
	w.reconnects = n
	w.reconnectDelay = delay
	return w
}

// Subscribe implements Watcher. Keys already delivered are not repeated after a reconnect.
func (w *StreamWatcher) Subscribe(ctx context.Context, jobID uuid.UUID, h Handlers) func() {
	return subscription(ctx, func(ctx context.Context) {
		w.run(ctx, jobID, h)
	})
}

func (w *StreamWatcher) run(ctx context.Context, jobID uuid.UUID, h Handlers) {
	log := w.logger.With(zap.String("job_id", jobID.String()))
	keys := NewKeyTracker()
	lastProgress := -1

	for attempt := 0; ; attempt++ {
		done, err := w.stream(ctx, jobID, keys, &lastProgress, h)
		if done || ctx.Err() != nil {
			return
		}
		if IsNotFound(err) || attempt >= w.reconnects {
			h.fail(err)
			return
		}
		log.Warn("event stream dropped, reconnecting", zap.Int("attempt", attempt+1), zap.Error(err))
		select {
		case <-ctx.Done():
			return
		case <-time.After(w.reconnectDelay):
		}
	}
}

// stream reads one connection. It returns true once a terminal event was delivered.
func (w *StreamWatcher) stream(ctx context.Context, jobID uuid.UUID, keys *KeyTracker, lastProgress *int, h Handlers) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/audit/%s/events", w.baseURL, jobID), nil)
	if err != nil {
		return false, err
	}
	req.Header.Set("Accept", "text/event-stream")
	resp, err := w.http.Do(req)
	if err != nil {
		return false, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return false, decodeStatusError(resp)
	}

	var last Update
	var finished bool
	err = readEvents(resp.Body, func(name string, data []byte) (bool, error) {
		if ctx.Err() != nil {
			return true, nil
		}
		switch name {
		case types.StreamEventUpdate:
			var ev types.UpdateEvent
			if err := json.Unmarshal(data, &ev); err != nil {
				return false, fmt.Errorf("malformed update event: %w", err)
			}
			last = Update{
				JobID:       jobID,
				Status:      types.JobStatus(ev.Status),
				Progress:    ev.Progress,
				LastMessage: ev.LastMessage,
				NewData:     keys.Diff(ev.Data),
			}
			if len(last.NewData) > 0 || last.Progress != *lastProgress {
				h.update(last)
				*lastProgress = last.Progress
			}
		case types.StreamEventComplete:
			var ev types.CompleteEvent
			if err := json.Unmarshal(data, &ev); err != nil {
				return false, fmt.Errorf("malformed complete event: %w", err)
			}
			last.JobID = jobID
			last.Status = types.StatusCompleted
			last.Progress = ev.Progress
			last.ResultURL = ev.ResultURL
			last.NewData = nil
			h.complete(last)
			finished = true
			return true, nil
		case types.StreamEventError:
			var ev types.ErrorEvent
			if err := json.Unmarshal(data, &ev); err != nil {
				return false, fmt.Errorf("malformed error event: %w", err)
			}
			h.fail(&JobFailedError{JobID: jobID, Message: ev.Error})
			finished = true
			return true, nil
		}
		return false, nil
	})
	switch {
	case finished || ctx.Err() != nil:
		return true, nil
	case err != nil:
		return false, err
	}
	return false, errStreamClosed
}

// readEvents parses an SSE body and calls fn per event until fn reports done
// or the body ends.
func readEvents(body io.Reader, fn func(name string, data []byte) (bool, error)) error {
	scanner := bufio.NewScanner(body)
	scanner.Buffer(make([]byte, 0, 64<<10), maxEventBytes)

	var name string
	var data []string
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if name == "" && len(data) == 0 {
				continue
			}
			if name == "" {
				name = "message"
			}
			done, err := fn(name, []byte(strings.Join(data, "\n")))
			if err != nil || done {
				return err
			}
			name, data = "", nil
		case strings.HasPrefix(line, ":"):
			// comment / keep-alive
		case strings.HasPrefix(line, "event:"):
			name = strings.TrimSpace(strings.TrimPrefix(line, "event:"))
		case strings.HasPrefix(line, "data:"):
			data = append(data, strings.TrimPrefix(strings.TrimPrefix(line, "data:"), " "))
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read event stream: %w", err)
	}
	return nil
}
