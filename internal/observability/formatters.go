package observability

import (
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/jonathan/ux-auditor/internal/types"
)

const (
	// boxWidth is the default width for formatted output boxes
	boxWidth = 60
	// maxItemsToShow is the default number of items to display in lists
	maxItemsToShow = 5
)

// Printer handles formatted output for CLI commands
type Printer struct {
	out io.Writer
}

// NewPrinter creates a new Printer that writes to the given writer
func NewPrinter(out io.Writer) *Printer {
	return &Printer{out: out}
}

// printBox prints a formatted box with a title and content
//
//nolint:errcheck // writing to stdout; errors are not recoverable
func (p *Printer) printBox(title string, content string) {
	border := strings.Repeat("─", boxWidth-2)
	fmt.Fprintf(p.out, "┌%s┐\n", border)
	fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, title)
	fmt.Fprintf(p.out, "├%s┤\n", border)

	lines := strings.Split(content, "\n")
	for _, line := range lines {
		// Truncate long lines
		if len(line) > boxWidth-4 {
			line = line[:boxWidth-7] + "..."
		}
		fmt.Fprintf(p.out, "│ %-*s │\n", boxWidth-4, line)
	}

	fmt.Fprintf(p.out, "└%s┘\n", border)
}

// PrintJobSummary outputs the status, result location and report keys of a job.
func (p *Printer) PrintJobSummary(job *types.Job) {
	if job == nil {
		return
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("Job:     %s\n", job.ID))
	sb.WriteString(fmt.Sprintf("Status:  %s\n", job.Status))
	if job.ResultURL != "" {
		sb.WriteString(fmt.Sprintf("Report:  %s\n", job.ResultURL))
	}
	if job.ErrorMessage != "" {
		sb.WriteString(fmt.Sprintf("Error:   %s\n", job.ErrorMessage))
	}

	keys := make([]string, 0, len(job.ReportData))
	for k := range job.ReportData {
		if k == types.KeyLogs {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)
	if len(keys) > 0 {
		sb.WriteString("\nReport fields:\n")
		for _, k := range keys {
			sb.WriteString(fmt.Sprintf("  • %s\n", k))
		}
	}

	p.printBox("AUDIT JOB", strings.TrimSuffix(sb.String(), "\n"))
}

// PrintLogs outputs the most recent log lines of a job.
func (p *Printer) PrintLogs(entries []types.LogEntry) {
	if len(entries) == 0 {
		return
	}

	start := 0
	if len(entries) > maxItemsToShow {
		start = len(entries) - maxItemsToShow
	}

	var sb strings.Builder
	if start > 0 {
		sb.WriteString(fmt.Sprintf("... %d earlier entries\n", start))
	}
	for _, e := range entries[start:] {
		sb.WriteString(fmt.Sprintf("%s  %s\n", e.Timestamp.Format("15:04:05"), e.Message))
	}

	p.printBox("RECENT LOGS", strings.TrimSuffix(sb.String(), "\n"))
}

// PrintProgress outputs one progress line.
func (p *Printer) PrintProgress(progress int, message string) {
	fmt.Fprintf(p.out, "[%3d%%] %s\n", progress, message) //nolint:errcheck
}

// PrintNotice outputs a titled message box.
func (p *Printer) PrintNotice(title, body string) {
	p.printBox(strings.ToUpper(title), body)
}
