// Package progress projects free-form job log messages onto a 0-100 progress value.
// The server and the client share this table so both report the same number.
package progress

import (
	"strings"

	"github.com/jonathan/ux-auditor/internal/types"
)

// Complete is the value reported once a job has finished successfully.
const Complete = 100

// Rule maps a matching message to a progress target.
type Rule struct {
	Name   string
	Match  func(msg string) bool
	Target int
}

func contains(sub string) func(string) bool {
	return func(msg string) bool { return strings.Contains(msg, sub) }
}

func anyOf(subs ...string) func(string) bool {
	return func(msg string) bool {
		for _, s := range subs {
			if strings.Contains(msg, s) {
				return true
			}
		}
		return false
	}
}

// rules is the single ordered table. Messages are lowercased before matching.
var rules = []Rule{
	{"queued", contains("queued"), 5},
	{"processing", anyOf("processing started", "starting"), 10},
	{"scraping", anyOf("scraping", "capturing"), 15},
	{"scrape complete", contains("scrape complete"), 30},
	{"performance", contains("performance"), 35},
	{"competitor running", contains("running competitor"), 40},
	{"ux running", contains("running ux"), 40},
	{"ux done", anyOf("ux complete", "ux failed"), 50},
	{"product running", contains("running product"), 52},
	{"product done", anyOf("product complete", "product failed"), 55},
	{"visual running", contains("running visual"), 60},
	{"visual done", anyOf("visual complete", "visual failed"), 70},
	{"strategy running", contains("running strategy"), 72},
	{"strategy done", anyOf("strategy complete", "strategy failed"), 75},
	{"accessibility running", contains("running accessibility"), 80},
	{"accessibility done", anyOf("accessibility complete", "accessibility failed"), 85},
	{"competitor done", anyOf("competitor analysis complete", "competitor analysis failed"), 85},
	{"contextual", contains("contextual"), 90},
	{"contextual done", contains("contextual analysis complete"), 95},
	{"finalizing", contains("finalizing"), 98},
	{"job complete", func(msg string) bool {
		if strings.Contains(msg, "interrupted") || strings.Contains(msg, "failed") {
			return false
		}
		return strings.Contains(msg, "job") && strings.Contains(msg, "complete")
	}, Complete},
}

// Rules returns a copy of the rule table.
func Rules() []Rule {
	return append([]Rule(nil), rules...)
}

// headline drops the detail after the first ": " of a failure line. The detail can
// carry arbitrary error or model text that must not match other rules.
func headline(msg string) string {
	if i := strings.Index(msg, ": "); i >= 0 && strings.Contains(msg[:i], "failed") {
		return msg[:i]
	}
	return msg
}

// MessageToProgress returns the progress after message, never less than current.
// Failure lines are matched on their headline only.
func MessageToProgress(message string, current int) int {
	msg := headline(strings.ToLower(message))
	result := current
	for _, r := range rules {
		if r.Target > result && r.Match(msg) {
			result = r.Target
		}
	}
	if result > Complete {
		return Complete
	}
	return result
}

// FromLogs folds a log list into a progress value.
func FromLogs(entries []types.LogEntry) int {
	p := 0
	for _, e := range entries {
		p = MessageToProgress(e.Message, p)
	}
	return p
}

// ForJob returns the progress of a job snapshot. Completed jobs are always 100.
func ForJob(job *types.Job) int {
	if job == nil {
		return 0
	}
	if job.Status == types.StatusCompleted {
		return Complete
	}
	return FromLogs(job.ReportData.Logs())
}
