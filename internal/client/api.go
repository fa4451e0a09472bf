// Package client follows audit jobs from the consumer side: it submits jobs, watches
// them by polling or streaming, and keeps in-flight audit state across restarts.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jonathan/ux-auditor/internal/types"
)

// DefaultTimeout bounds a single non-streaming request.
const DefaultTimeout = 30 * time.Second

// JobSource reads job snapshots.
type JobSource interface {
	GetJob(ctx context.Context, id uuid.UUID) (*types.JobView, error)
}

// ReportSource reads completed reports.
type ReportSource interface {
	GetReport(ctx context.Context, id uuid.UUID) (*types.ReportView, error)
}

// StatusError is a non-2xx response from the audit API.
type StatusError struct {
	StatusCode int
	Message    string
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("server returned %d %s: %s", e.StatusCode, http.StatusText(e.StatusCode), e.Message)
}

// IsNotFound reports whether err is a 404 from the API.
func IsNotFound(err error) bool {
	var se *StatusError
	return errors.As(err, &se) && se.StatusCode == http.StatusNotFound
}

// API is an HTTP client for the audit REST endpoints.
type API struct {
	baseURL   string
	http      *http.Client
	logger    *zap.Logger
	widgetKey string
	origin    string
}

// Option configures an API.
type Option func(*API)

// WithHTTPClient replaces the default HTTP client.
func WithHTTPClient(c *http.Client) Option {
	return func(a *API) { a.http = c }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(a *API) { a.logger = l }
}

// WithWidgetKey submits through the widget endpoint with the given key and origin.
func WithWidgetKey(key, origin string) Option {
	return func(a *API) {
		a.widgetKey = key
		a.origin = origin
	}
}

// NewAPI creates a client for the server at baseURL.
func NewAPI(baseURL string, opts ...Option) *API {
	a := &API{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: DefaultTimeout},
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// BaseURL returns the server root the client talks to.
func (a *API) BaseURL() string {
	return a.baseURL
}

// Submit creates an audit job.
func (a *API) Submit(ctx context.Context, input types.InputData) (*types.SubmitResponse, error) {
	body, err := json.Marshal(input)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}
	path := "/audit"
	if a.widgetKey != "" {
		path = "/widget/audit"
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if a.widgetKey != "" {
		req.Header.Set("Authorization", "Bearer "+a.widgetKey)
		req.Header.Set("Origin", a.origin)
	}

	var resp types.SubmitResponse
	if err := a.do(req, &resp); err != nil {
		return nil, fmt.Errorf("submit audit: %w", err)
	}
	a.logger.Debug("audit submitted", zap.String("job_id", resp.JobID.String()))
	return &resp, nil
}

// GetJob fetches the job snapshot.
func (a *API) GetJob(ctx context.Context, id uuid.UUID) (*types.JobView, error) {
	var view types.JobView
	if err := a.get(ctx, "/audit/"+id.String(), &view); err != nil {
		return nil, fmt.Errorf("get job %s: %w", id, err)
	}
	return &view, nil
}

// GetLogs fetches only the status and log lines of a job.
func (a *API) GetLogs(ctx context.Context, id uuid.UUID) (*types.LogsResponse, error) {
	var logs types.LogsResponse
	if err := a.get(ctx, "/audit/"+id.String()+"/logs", &logs); err != nil {
		return nil, fmt.Errorf("get logs %s: %w", id, err)
	}
	return &logs, nil
}

// GetReport fetches a completed report.
func (a *API) GetReport(ctx context.Context, id uuid.UUID) (*types.ReportView, error) {
	var report types.ReportView
	if err := a.get(ctx, "/reports/"+id.String(), &report); err != nil {
		return nil, fmt.Errorf("get report %s: %w", id, err)
	}
	return &report, nil
}

func (a *API) get(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, a.baseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "application/json")
	return a.do(req, out)
}

func (a *API) do(req *http.Request, out any) error {
	resp, err := a.http.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return decodeStatusError(resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func decodeStatusError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	se := &StatusError{StatusCode: resp.StatusCode, Message: strings.TrimSpace(string(raw))}

	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
	}
	if json.Unmarshal(raw, &body) == nil {
		switch {
		case body.Message != "":
			se.Message = body.Message
		case body.Error != "":
			se.Message = body.Error
		}
	}
	if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs > 0 {
		se.RetryAfter = time.Duration(secs) * time.Second
	}
	return se
}
