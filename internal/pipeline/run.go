package pipeline

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/jonathan/ux-auditor/internal/progress"
	"github.com/jonathan/ux-auditor/internal/types"
)

// capture is one screenshot with the bytes kept out of the report.
type capture struct {
	shot  types.Screenshot
	image []byte
	mime  string
}

// target is the scraped context of one analyzed page.
type target struct {
	url               string
	liveText          string
	animationData     map[string]any
	accessibilityData map[string]any
	axeViolations     []map[string]any
}

// run is the in-memory state of one job while it is processed.
type run struct {
	p       *Processor
	job     *types.Job
	log     *zap.Logger
	started time.Time

	captures   []*capture
	mimeType   string
	primaryURL string
	targets    []target
	competitor *target

	performanceData  map[string]any
	performanceError string

	mu       sync.Mutex
	results  map[string]types.ExpertResult
	top5     map[string]any
	progress int
}

func newRun(p *Processor, job *types.Job) *run {
	return &run{
		p:       p,
		job:     job,
		log:     p.deps.Logger.With(zap.String("job_id", job.ID.String())),
		started: time.Now(),
		results: make(map[string]types.ExpertResult),
	}
}

// emit forwards a log line to the progress callback.
func (r *run) emit(message string) {
	r.mu.Lock()
	r.progress = progress.MessageToProgress(message, r.progress)
	pct := r.progress
	r.mu.Unlock()
	if r.p.opts.OnProgress != nil {
		r.p.opts.OnProgress(ProgressEvent{JobID: r.job.ID, Message: message, Progress: pct})
	}
}

// append writes one progress line with an optional partial report.
func (r *run) append(ctx context.Context, message string, partial map[string]any) error {
	if err := r.p.deps.Store.AppendProgress(ctx, r.job.ID, message, partial); err != nil {
		return err
	}
	r.emit(message)
	r.log.Debug("progress", zap.String("message", message))
	return nil
}

func (r *run) setResult(res types.ExpertResult) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.results[res.Key] = res
}

func (r *run) result(key string) (types.ExpertResult, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	res, ok := r.results[key]
	return res, ok
}

func (r *run) screenshots() []types.Screenshot {
	out := make([]types.Screenshot, len(r.captures))
	for i, c := range r.captures {
		out[i] = c.shot
	}
	return out
}

// images returns at most n captured images in capture order.
func (r *run) images(n int) [][]byte {
	out := make([][]byte, 0, n)
	for _, c := range r.captures {
		if len(out) == n {
			break
		}
		if len(c.image) > 0 {
			out = append(out, c.image)
		}
	}
	return out
}
