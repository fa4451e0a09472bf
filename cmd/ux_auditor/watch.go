package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/jonathan/ux-auditor/internal/client"
	"github.com/jonathan/ux-auditor/internal/observability"
	"github.com/jonathan/ux-auditor/internal/types"
)

var (
	watchServer       string
	watchStateFile    string
	watchPoll         bool
	watchPollInterval time.Duration
)

var watchCmd = &cobra.Command{
	Use:   "watch [job-id...]",
	Short: "Follow audits until they finish",
	Long: `Follow one or more audits and print their progress. Without arguments every audit
still in flight in the local state file is resumed, so an interrupted watch continues
where it left off.`,
	RunE: runWatch,
}

func init() {
	watchCmd.Flags().StringVar(&watchServer, "server", "http://localhost:8080", "Audit server base URL")
	watchCmd.Flags().BoolVar(&watchPoll, "poll", false, "Poll job snapshots instead of using the event stream")
	watchCmd.Flags().DurationVar(&watchPollInterval, "poll-interval", client.DefaultPollInterval, "Polling interval with --poll")
	rootCmd.PersistentFlags().StringVar(&watchStateFile, "state-file", defaultStateFile(), "File tracking audits in flight")
	rootCmd.AddCommand(watchCmd)
}

func defaultStateFile() string {
	dir, err := os.UserCacheDir()
	if err != nil {
		return filepath.Join(".ux-auditor", "audits.json")
	}
	return filepath.Join(dir, "ux-auditor", "audits.json")
}

// openTracker loads the persisted in-flight audits.
func openTracker(path string) (*client.Tracker, error) {
	tracker := client.NewTracker(client.FilePersister{Path: path}, nil)
	if err := tracker.Hydrate(); err != nil {
		return nil, fmt.Errorf("failed to load audit state: %w", err)
	}
	return tracker, nil
}

func runWatch(cmd *cobra.Command, args []string) error {
	tracker, err := openTracker(watchStateFile)
	if err != nil {
		return err
	}

	ids := make([]uuid.UUID, 0, len(args))
	for _, arg := range args {
		id, err := uuid.Parse(arg)
		if err != nil {
			return fmt.Errorf("invalid job id %q: %w", arg, err)
		}
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		for _, a := range tracker.InFlight() {
			ids = append(ids, a.JobID)
		}
	}
	if len(ids) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "no audits in flight")
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return watchJobs(ctx, cmd.OutOrStdout(), client.NewAPI(watchServer), tracker, ids...)
}

// watchJobs follows ids concurrently. The first id is treated as the one on screen;
// the others announce completion with a banner.
func watchJobs(ctx context.Context, out io.Writer, api *client.API, tracker *client.Tracker, ids ...uuid.UUID) error {
	var watcher client.Watcher = client.NewStreamWatcher(api.BaseURL(), nil, nil)
	if watchPoll {
		watcher = client.NewPollingWatcher(api, watchPollInterval, nil)
	}
	resumer := &client.Resumer{Jobs: api, Reports: api, Watcher: watcher, Tracker: tracker}
	view := client.View{Screen: client.ScreenAnalysis, JobID: ids[0]}
	term := &terminal{out: out, printer: observability.NewPrinter(out), multi: len(ids) > 1, tty: isTerminal(out)}

	nudgeCtx, stopNudge := context.WithCancel(ctx)
	defer stopNudge()

	var wg sync.WaitGroup
	errs := make([]error, len(ids))
	smoothers := make(map[uuid.UUID]*client.Smoother, len(ids))
	for _, id := range ids {
		smoothers[id] = client.NewSmoother(0, 0)
	}
	go tracker.RunNudger(nudgeCtx, client.DefaultNudgeInterval, func(id uuid.UUID, p int) {
		if s, ok := smoothers[id]; ok {
			s.SetTarget(p)
		}
	})

	for i, id := range ids {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = watchJob(ctx, resumer, term, smoothers[id], view, id)
		}()
	}
	wg.Wait()
	return errors.Join(errs...)
}

func watchJob(ctx context.Context, resumer *client.Resumer, term *terminal, smoother *client.Smoother, view client.View, id uuid.UUID) error {
	done := make(chan error, 1)
	var lastMessage string
	handlers := client.Handlers{
		OnUpdate: func(u client.Update) {
			smoother.SetTarget(u.Progress)
			if u.LastMessage != "" && u.LastMessage != lastMessage {
				lastMessage = u.LastMessage
				term.progress(id, u.Progress, u.LastMessage)
			}
		},
		OnComplete: func(client.Update) { done <- nil },
		OnError:    func(err error) { done <- err },
	}

	res, err := resumer.Resume(ctx, id, handlers)
	if err != nil {
		return explain(err)
	}
	defer res.Unsubscribe()

	switch res.Outcome {
	case client.OutcomeReport:
		term.finished(res.Job, client.CompletionAction(view, id), res.Report.ResultURL)
		return nil
	case client.OutcomeFailed:
		term.failed(id, res.ErrorMessage)
		return fmt.Errorf("audit %s failed", id)
	}

	smoothCtx, stopSmooth := context.WithCancel(ctx)
	defer stopSmooth()
	go smoother.Run(smoothCtx, func(v int) { term.bar(v) })

	select {
	case <-ctx.Done():
		return ctx.Err()
	case err := <-done:
		var jf *client.JobFailedError
		if errors.As(err, &jf) {
			term.failed(id, jf.Message)
			return fmt.Errorf("audit %s failed", id)
		}
		if err != nil {
			return explain(err)
		}
	}

	job, err := resumer.Jobs.GetJob(ctx, id)
	if err != nil {
		return explain(err)
	}
	term.finished(job, client.CompletionAction(view, id), job.ResultURL)
	return nil
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	info, err := f.Stat()
	return err == nil && info.Mode()&os.ModeCharDevice != 0
}

// terminal serializes output of concurrent watches. A single watch on a TTY also
// draws a smoothed progress bar below the log lines.
type terminal struct {
	mu      sync.Mutex
	out     io.Writer
	printer *observability.Printer
	multi   bool
	tty     bool
	drawn   bool
}

const barWidth = 40

// bar redraws the progress bar in place.
func (t *terminal) bar(pct int) {
	if !t.tty || t.multi {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	filled := pct * barWidth / 100
	fmt.Fprintf(t.out, "\r[%s%s] %3d%%", strings.Repeat("#", filled), strings.Repeat("-", barWidth-filled), pct) //nolint:errcheck
	t.drawn = true
}

// clearBar erases the bar before a full line is printed. Caller holds t.mu.
func (t *terminal) clearBar() {
	if t.drawn {
		fmt.Fprintf(t.out, "\r%s\r", strings.Repeat(" ", barWidth+8)) //nolint:errcheck
		t.drawn = false
	}
}

func (t *terminal) progress(id uuid.UUID, pct int, message string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.clearBar()
	if t.multi {
		message = id.String()[:8] + "  " + message
	}
	t.printer.PrintProgress(pct, message)
}

func (t *terminal) finished(view *types.JobView, action client.Action, resultURL string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.clearBar()
	job := &types.Job{
		ID:           view.ID,
		Status:       view.Status,
		ReportData:   view.ReportData,
		ErrorMessage: view.ErrorMessage,
		ResultURL:    resultURL,
	}
	if action.Kind == client.ActionRedirect {
		t.printer.PrintJobSummary(job)
		t.printer.PrintLogs(view.ReportData.Logs())
		return
	}
	t.printer.PrintNotice("audit ready", fmt.Sprintf("Audit %s finished.\nReport: %s", view.ID, resultURL))
}

func (t *terminal) failed(id uuid.UUID, message string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.clearBar()
	info := client.ClassifyError(message)
	body := fmt.Sprintf("Audit %s failed.\n%s", id, info.Guidance)
	if info.Category != client.CategoryOther {
		body += "\n" + message
	}
	t.printer.PrintNotice(info.Title, body)
}
