package server

import (
	"encoding/json"
	"net/http"
	"time"

	"go.uber.org/zap"

	"github.com/jonathan/ux-auditor/internal/progress"
	"github.com/jonathan/ux-auditor/internal/types"
)

// handleEvents streams job changes as SSE. Each update carries only the report keys
// not sent before on this connection; the stream ends with complete or error.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	job, err := s.loadJob(r)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	sse, err := NewSSEWriter(w)
	if err != nil {
		s.errorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}

	ctx := r.Context()
	id := job.ID
	jobID := id.String()
	log := s.logger.With(zap.String("job_id", jobID))
	sent := make(map[string]bool)
	lastProgress := -1

	poll := time.NewTicker(s.cfg.EventsInterval)
	defer poll.Stop()
	heartbeat := time.NewTicker(s.cfg.HeartbeatInterval)
	defer heartbeat.Stop()

	for {
		if job != nil {
			pct := progress.ForJob(job)
			data := make(map[string]json.RawMessage)
			for key, raw := range job.ReportData {
				if key == types.KeyLogs || sent[key] {
					continue
				}
				data[key] = raw
				sent[key] = true
			}
			if len(data) > 0 || pct != lastProgress {
				ev := UpdateEvent{JobID: jobID, Status: string(job.Status), Progress: pct, Data: data}
				if logs := job.ReportData.Logs(); len(logs) > 0 {
					ev.LastMessage = logs[len(logs)-1].Message
				}
				if err := sse.WriteEvent(EventUpdate, ev); err != nil {
					log.Debug("event stream closed", zap.Error(err))
					return
				}
				lastProgress = pct
			}

			switch job.Status {
			case types.StatusCompleted:
				sse.WriteComplete(CompleteEvent{JobID: jobID, Status: string(job.Status), Progress: progress.Complete, ResultURL: job.ResultURL})
				return
			case types.StatusFailed:
				sse.WriteError(jobID, job.ErrorMessage)
				return
			}
		}

		select {
		case <-ctx.Done():
			return
		case <-heartbeat.C:
			if err := sse.WriteComment("keep-alive"); err != nil {
				return
			}
			job = nil
		case <-poll.C:
			next, err := s.store.GetJob(ctx, id)
			switch {
			case err != nil && ctx.Err() != nil:
				return
			case err != nil && !isStoreMissing(err):
				log.Warn("event stream read failed", zap.Error(err))
				job = nil
			case next == nil:
				sse.WriteError(jobID, "job not found")
				return
			default:
				job = next
			}
		}
	}
}
