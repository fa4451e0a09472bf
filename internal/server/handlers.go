package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/jonathan/ux-auditor/internal/jobstore"
	"github.com/jonathan/ux-auditor/internal/progress"
	"github.com/jonathan/ux-auditor/internal/server/middleware"
	"github.com/jonathan/ux-auditor/internal/types"
)

// QueuedMessage is the first log line of every job.
const QueuedMessage = "Queued"

// handleSubmit creates an audit job and starts it.
func (s *Server) handleSubmit(w http.ResponseWriter, r *http.Request) {
	s.submit(w, r, "api")
}

// handleWidgetSubmit is handleSubmit behind widget key and origin checks.
func (s *Server) handleWidgetSubmit(w http.ResponseWriter, r *http.Request) {
	site, _ := middleware.GetSiteID(r)
	s.submit(w, r, "widget:"+site)
}

func (s *Server) submit(w http.ResponseWriter, r *http.Request, source string) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	var input types.InputData
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			s.errorResponse(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		s.writeError(w, r, &ErrValidation{Field: "body", Message: "invalid JSON"})
		return
	}
	if err := input.Validate(); err != nil {
		s.writeError(w, r, &ErrValidation{Message: types.DescribeValidationError(err)})
		return
	}

	job, err := s.store.CreateJob(r.Context(), input)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.store.AppendProgress(r.Context(), job.ID, QueuedMessage, nil); err != nil {
		s.logger.Warn("failed to log queued message", zap.String("job_id", job.ID.String()), zap.Error(err))
	}
	s.jobs.Start(s.jobCtx, job.ID)

	s.logger.Info("audit submitted",
		zap.String("job_id", job.ID.String()),
		zap.String("source", source),
		zap.String("mode", string(input.Mode())),
		zap.Int("inputs", len(input.Inputs)))
	s.jsonResponse(w, http.StatusAccepted, types.SubmitResponse{JobID: job.ID, Status: types.StatusPending})
}

// loadJob resolves the {id} path value to an existing job.
func (s *Server) loadJob(r *http.Request) (*types.Job, error) {
	raw := r.PathValue("id")
	id, err := uuid.Parse(raw)
	if err != nil {
		return nil, &ErrNotFound{Resource: "job", ID: raw}
	}
	job, err := s.store.GetJob(r.Context(), id)
	if err != nil {
		return nil, err
	}
	if job == nil {
		return nil, &ErrNotFound{Resource: "job", ID: raw}
	}
	return job, nil
}

// handleGetJob returns the job snapshot with derived progress.
func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.loadJob(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.jsonResponse(w, http.StatusOK, types.NewJobView(job, progress.ForJob(job)))
}

// handleGetLogs returns the status and log lines only.
func (s *Server) handleGetLogs(w http.ResponseWriter, r *http.Request) {
	raw := r.PathValue("id")
	id, err := uuid.Parse(raw)
	if err != nil {
		s.writeError(w, r, &ErrNotFound{Resource: "job", ID: raw})
		return
	}
	view, err := s.store.GetLogs(r.Context(), id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if view == nil {
		s.writeError(w, r, &ErrNotFound{Resource: "job", ID: raw})
		return
	}

	pct := progress.FromLogs(view.Logs)
	if view.Status == types.StatusCompleted {
		pct = progress.Complete
	}
	logs := view.Logs
	if logs == nil {
		logs = []types.LogEntry{}
	}
	s.jsonResponse(w, http.StatusOK, types.LogsResponse{JobID: id, Status: view.Status, Logs: logs, Progress: pct})
}

// handleReport serves a completed report.
func (s *Server) handleReport(w http.ResponseWriter, r *http.Request) {
	job, err := s.loadJob(r)
	if err != nil {
		var nf *ErrNotFound
		if errors.As(err, &nf) {
			nf.Resource = "report"
		}
		s.writeError(w, r, err)
		return
	}
	if job.Status != types.StatusCompleted {
		s.writeError(w, r, &ErrNotReady{ID: job.ID.String(), Status: string(job.Status)})
		return
	}

	report := job.ReportData.Clone()
	delete(report, types.KeyLogs)
	s.jsonResponse(w, http.StatusOK, types.ReportView{
		JobID:       job.ID,
		AuditMode:   job.InputData.Mode(),
		ResultURL:   job.ResultURL,
		CompletedAt: job.UpdatedAt,
		Report:      report,
	})
}

// isStoreMissing reports whether err means the job vanished between reads.
func isStoreMissing(err error) bool {
	return errors.Is(err, jobstore.ErrNotFound)
}
