package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/jonathan/ux-auditor/internal/jobstore"
	"github.com/jonathan/ux-auditor/internal/observability"
	"github.com/jonathan/ux-auditor/internal/server/middleware"
	"github.com/jonathan/ux-auditor/internal/server/ratelimit"
)

// JobStarter runs a created job in the background.
type JobStarter interface {
	Start(ctx context.Context, jobID uuid.UUID)
}

// waiter is implemented by starters that can drain their jobs on shutdown.
type waiter interface {
	Wait()
}

// Config holds server configuration
type Config struct {
	Port               int
	ReadTimeout        time.Duration
	WriteTimeout       time.Duration
	IdleTimeout        time.Duration
	ShutdownTimeout    time.Duration
	EventsInterval     time.Duration
	HeartbeatInterval  time.Duration
	MaxBodyBytes       int64
	StaleAfter         time.Duration
	StaleSweepInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 30 * time.Second
	}
	if c.EventsInterval <= 0 {
		c.EventsInterval = time.Second
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 15 * time.Second
	}
	if c.MaxBodyBytes <= 0 {
		c.MaxBodyBytes = 25 << 20
	}
	return c
}

// Deps are the collaborators of a Server. Widget, RateLimiter, Metrics and Gatherer
// may be nil.
type Deps struct {
	Store       jobstore.Store
	Jobs        JobStarter
	Widget      *WidgetKeyService
	RateLimiter *ratelimit.Limiter
	Logger      *zap.Logger
	Metrics     *observability.Metrics
	Gatherer    prometheus.Gatherer
}

// Server represents the HTTP server
type Server struct {
	cfg         Config
	store       jobstore.Store
	jobs        JobStarter
	widget      *WidgetKeyService
	rateLimiter *ratelimit.Limiter
	logger      *zap.Logger
	metrics     *observability.Metrics
	handler     http.Handler

	// jobCtx outlives request contexts; it is canceled only when shutdown gives up
	// waiting for in-flight jobs.
	jobCtx     context.Context
	cancelJobs context.CancelFunc

	addrMu sync.Mutex
	addr   string
}

// New creates a new server instance
func New(cfg Config, deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	s := &Server{
		cfg:         cfg.withDefaults(),
		store:       deps.Store,
		jobs:        deps.Jobs,
		widget:      deps.Widget,
		rateLimiter: deps.RateLimiter,
		logger:      deps.Logger,
		metrics:     deps.Metrics,
	}
	s.jobCtx, s.cancelJobs = context.WithCancel(context.Background())

	mux := http.NewServeMux()
	mux.HandleFunc("POST /audit", s.handleSubmit)
	mux.HandleFunc("GET /audit/{id}", s.handleGetJob)
	mux.HandleFunc("GET /audit/{id}/logs", s.handleGetLogs)
	mux.HandleFunc("GET /audit/{id}/events", s.handleEvents)
	mux.HandleFunc("GET /reports/{id}", s.handleReport)
	mux.HandleFunc("GET /health", s.handleHealth)

	if s.widget != nil {
		auth := middleware.WidgetAuth(s.widget.AsTokenValidator())
		mux.Handle("POST /widget/audit", auth(http.HandlerFunc(s.handleWidgetSubmit)))
	}
	if deps.Gatherer != nil {
		mux.Handle("GET /metrics", promhttp.HandlerFor(deps.Gatherer, promhttp.HandlerOpts{}))
	}

	var h http.Handler = s.withCORS(mux)
	h = s.withLogging(h)
	if s.rateLimiter != nil {
		h = s.withRateLimit(h)
	}
	s.handler = h
	return s
}

// Handler returns the root handler with middleware applied.
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Run serves until ctx is done, sweeping stale jobs on startup and on an interval.
// On shutdown it ends open event streams, drains HTTP connections, then waits for
// in-flight jobs.
func (s *Server) Run(ctx context.Context) error {
	// requestCtx is canceled before Shutdown so streaming handlers return.
	requestCtx, cancelRequests := context.WithCancel(context.Background())
	defer cancelRequests()

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.cfg.Port),
		Handler:      s.handler,
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout, // zero keeps SSE streams open
		IdleTimeout:  s.cfg.IdleTimeout,
		BaseContext:  func(net.Listener) context.Context { return requestCtx },
	}

	ln, err := net.Listen("tcp", httpServer.Addr)
	if err != nil {
		return fmt.Errorf("server error: %w", err)
	}
	s.addrMu.Lock()
	s.addr = ln.Addr().String()
	s.addrMu.Unlock()

	sweepCtx, stopSweep := context.WithCancel(ctx)
	defer stopSweep()
	go s.sweepLoop(sweepCtx)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", zap.String("addr", ln.Addr().String()))
		if err := httpServer.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if ok {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	s.logger.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	cancelRequests()
	shutdownErr := httpServer.Shutdown(shutdownCtx)
	s.drainJobs(shutdownCtx)

	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}
	if shutdownErr != nil {
		return fmt.Errorf("server shutdown failed: %w", shutdownErr)
	}
	s.logger.Info("server stopped")
	return nil
}

// Addr returns the address Run is listening on, or "" before it starts.
func (s *Server) Addr() string {
	s.addrMu.Lock()
	defer s.addrMu.Unlock()
	return s.addr
}

// drainJobs waits for in-flight jobs. When ctx expires the remaining jobs are
// canceled and record their own failure.
func (s *Server) drainJobs(ctx context.Context) {
	w, ok := s.jobs.(waiter)
	if !ok {
		s.cancelJobs()
		return
	}
	done := make(chan struct{})
	go func() {
		w.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn("in-flight jobs still running at shutdown deadline, canceling")
		s.cancelJobs()
		<-done
	}
	s.cancelJobs()
}

// SweepStale fails jobs interrupted before completion.
func (s *Server) SweepStale(ctx context.Context) (int, error) {
	n, err := s.store.SweepStale(ctx, s.cfg.StaleAfter, jobstore.InterruptedMessage)
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Warn("swept stale jobs", zap.Int("count", n), zap.Duration("older_than", s.cfg.StaleAfter))
		if s.metrics != nil {
			s.metrics.StaleSwept.Add(float64(n))
		}
	}
	return n, nil
}

func (s *Server) sweepLoop(ctx context.Context) {
	if s.cfg.StaleAfter <= 0 {
		return
	}
	if _, err := s.SweepStale(ctx); err != nil {
		s.logger.Error("stale sweep failed", zap.Error(err))
	}
	if s.cfg.StaleSweepInterval <= 0 {
		return
	}
	ticker := time.NewTicker(s.cfg.StaleSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.SweepStale(ctx); err != nil {
				s.logger.Error("stale sweep failed", zap.Error(err))
			}
		}
	}
}

// withCORS adds CORS headers
func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// withRateLimit adds rate limiting middleware
func (s *Server) withRateLimit(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		clientID := s.extractClientID(r)
		allowed, info := s.rateLimiter.Allow(clientID, r.URL.Path, r.Method)
		s.setRateLimitHeaders(w, info)
		if !allowed {
			s.rateLimitResponse(w, clientID, info)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// statusRecorder captures the response status for request logs.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Flush keeps SSE streaming working through the logging middleware.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// withLogging adds request logging
func (s *Server) withLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Info("request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("remote", r.RemoteAddr),
			zap.Int("status", rec.status),
			zap.Duration("elapsed", time.Since(start)))
	})
}

// handleHealth returns server health status
func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.jsonResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}

// jsonResponse writes a JSON response
func (s *Server) jsonResponse(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Warn("error encoding JSON response", zap.Error(err))
	}
}

// errorResponse writes an error JSON response
func (s *Server) errorResponse(w http.ResponseWriter, status int, message string) {
	s.jsonResponse(w, status, map[string]string{"error": message})
}

// writeError maps err to a status. Internal errors are logged and not echoed.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := HTTPStatus(err)
	if status == http.StatusInternalServerError {
		s.logger.Error("request failed", zap.String("path", r.URL.Path), zap.Error(err))
		s.errorResponse(w, status, "internal server error")
		return
	}
	s.errorResponse(w, status, err.Error())
}

// extractClientID extracts the client identifier from the request.
// This uses the IP address from RemoteAddr; proxies must terminate in front.
func (s *Server) extractClientID(r *http.Request) string {
	ip, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return ip
}

// setRateLimitHeaders sets standard rate limit headers on the response.
func (s *Server) setRateLimitHeaders(w http.ResponseWriter, info ratelimit.Info) {
	if info.Limit > 0 {
		w.Header().Set("X-RateLimit-Limit", strconv.Itoa(info.Limit))
		w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(info.Remaining))
		w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(info.ResetTime.Unix(), 10))
	}
}

// rateLimitResponse writes a 429 Too Many Requests response with rate limit information.
func (s *Server) rateLimitResponse(w http.ResponseWriter, clientID string, info ratelimit.Info) {
	response := map[string]any{
		"error":     "rate_limit_exceeded",
		"message":   "Rate limit exceeded. Please try again later.",
		"limit":     info.Limit,
		"remaining": info.Remaining,
		"reset_at":  info.ResetTime.Format(time.RFC3339),
	}

	if info.RetryAfter > 0 {
		secs := int(info.RetryAfter.Seconds())
		response["retry_after"] = secs
		w.Header().Set("Retry-After", strconv.Itoa(secs))
	}

	s.logger.Info("rate limit exceeded",
		zap.String("client", clientID),
		zap.Int("limit", info.Limit),
		zap.Time("reset", info.ResetTime))

	s.jsonResponse(w, http.StatusTooManyRequests, response)
}
