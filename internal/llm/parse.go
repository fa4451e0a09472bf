package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/kaptinlin/jsonrepair"
)

const rawPreviewLen = 500

// ParseError is returned when no strategy could turn a model response into a JSON object.
type ParseError struct {
	Reason string
	Raw    string
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("failed to parse AI response as JSON object: %s (raw: %q)", e.Reason, e.Raw)
}

var errNotObject = errors.New("response is not a JSON object")

// ParseResponse decodes a model response into a JSON object. Strategies are tried in
// order and the first success wins: fence stripping, repair of the stripped text,
// the outermost brace span, and repair of that span.
func ParseResponse(raw string) (map[string]any, error) {
	cleaned := CleanJSONBlock(raw)

	obj, firstErr := decodeObject(cleaned)
	if firstErr == nil {
		return obj, nil
	}

	if repaired, err := jsonrepair.JSONRepair(cleaned); err == nil {
		if obj, err := decodeObject(repaired); err == nil {
			return obj, nil
		}
	}

	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start >= 0 && end > start {
		span := raw[start : end+1]
		if obj, err := decodeObject(span); err == nil {
			return obj, nil
		}
		if repaired, err := jsonrepair.JSONRepair(span); err == nil {
			if obj, err := decodeObject(repaired); err == nil {
				return obj, nil
			}
		}
	}

	return nil, &ParseError{Reason: firstErr.Error(), Raw: truncate(raw, rawPreviewLen)}
}

func decodeObject(s string) (map[string]any, error) {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return nil, err
	}
	obj, ok := v.(map[string]any)
	if !ok || obj == nil {
		return nil, errNotObject
	}
	return obj, nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
