package retry

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// retriableMarkers are lowercase substrings that identify transient failures.
var retriableMarkers = []string{
	"rate limit",
	"ratelimit",
	"429",
	"too many requests",
	"resource has been exhausted",
	"resource_exhausted",
	"quota",
	"overloaded",
	"503",
	"unavailable",
	"timeout",
	"timed out",
	"deadline exceeded",
	"econnreset",
	"connection reset",
	"broken pipe",
	"socket hang up",
}

// IsRetriable reports whether err looks transient.
func IsRetriable(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	for _, marker := range retriableMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

var retryHintPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)retry[ _-]?after[:\s]*(\d+(?:\.\d+)?)\s*(?:s\b|sec|seconds?)`),
	regexp.MustCompile(`(?i)retry in\s*(\d+(?:\.\d+)?)\s*(?:s\b|sec|seconds?)`),
	regexp.MustCompile(`(?i)"?retryDelay"?\s*:\s*"?(\d+(?:\.\d+)?)s`),
}

// RetryAfterHint extracts a server-provided retry delay from an error message.
func RetryAfterHint(msg string) (time.Duration, bool) {
	for _, re := range retryHintPatterns {
		m := re.FindStringSubmatch(msg)
		if len(m) < 2 {
			continue
		}
		secs, err := strconv.ParseFloat(m[1], 64)
		if err != nil {
			continue
		}
		return time.Duration(secs * float64(time.Second)), true
	}
	return 0, false
}
