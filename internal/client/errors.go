package client

import "strings"

// ErrorCategory groups errors shown to the user.
type ErrorCategory string

const (
	CategoryConnectivity ErrorCategory = "connectivity"
	CategoryRateLimit    ErrorCategory = "rate_limit"
	CategoryServer       ErrorCategory = "server"
	CategoryOther        ErrorCategory = "other"
)

// ErrorInfo is a classified error with user-facing guidance.
type ErrorInfo struct {
	Category ErrorCategory
	Title    string
	Guidance string
	Message  string
}

var errorClasses = []struct {
	category ErrorCategory
	title    string
	guidance string
	markers  []string
}{
	{
		category: CategoryRateLimit,
		title:    "Too many requests",
		guidance: "The audit service is rate limiting requests. Wait a minute and try again.",
		markers:  []string{"429", "rate limit", "rate_limit", "too many requests", "quota"},
	},
	{
		category: CategoryConnectivity,
		title:    "Connection problem",
		guidance: "The audit service could not be reached. Check your network connection and try again.",
		markers: []string{
			"failed to fetch", "network", "connection refused", "connection reset",
			"no such host", "dial tcp", "i/o timeout", "deadline exceeded", "eof", "offline",
		},
	},
	{
		category: CategoryServer,
		title:    "Server error",
		guidance: "The audit service hit an internal error. Try again shortly; if it keeps happening, report the job id.",
		markers: []string{
			"500", "502", "503", "504", "internal server error", "bad gateway",
			"service unavailable", "gateway timeout",
		},
	},
}

// ClassifyError inspects an error message. Unrecognized messages keep the raw text
// as guidance.
func ClassifyError(msg string) ErrorInfo {
	lower := strings.ToLower(msg)
	for _, c := range errorClasses {
		for _, m := range c.markers {
			if strings.Contains(lower, m) {
				return ErrorInfo{Category: c.category, Title: c.title, Guidance: c.guidance, Message: msg}
			}
		}
	}
	return ErrorInfo{Category: CategoryOther, Title: "Audit failed", Guidance: msg, Message: msg}
}
