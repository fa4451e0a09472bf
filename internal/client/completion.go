package client

import "github.com/google/uuid"

// Screen is what the user is currently looking at.
type Screen string

const (
	ScreenAnalysis Screen = "analysis"
	ScreenReport   Screen = "report"
	ScreenOther    Screen = "other"
)

// View identifies the user's current location. JobID is set on job-specific screens.
type View struct {
	Screen Screen
	JobID  uuid.UUID
}

// ActionKind is how a finished audit is surfaced.
type ActionKind string

const (
	ActionRedirect ActionKind = "redirect"
	ActionBanner   ActionKind = "banner"
)

// Action tells the UI how to surface a finished audit.
type Action struct {
	Kind        ActionKind
	ReportPath  string
	Dismissible bool
}

// ReportPath is the client route of a finished report.
func ReportPath(jobID uuid.UUID) string {
	return "/reports/" + jobID.String()
}

// CompletionAction redirects only a user watching the job's own analysis screen.
// Everyone else gets a dismissible banner.
func CompletionAction(view View, jobID uuid.UUID) Action {
	if view.Screen == ScreenAnalysis && view.JobID == jobID {
		return Action{Kind: ActionRedirect, ReportPath: ReportPath(jobID)}
	}
	return Action{Kind: ActionBanner, ReportPath: ReportPath(jobID), Dismissible: true}
}
