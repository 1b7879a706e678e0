package logging

import (
	"fmt"

	"github.com/goccy/go-json"
)

const (
	maxLogString = 500
	maxLogArray  = 10
)

// TruncateJSON produces a log-safe view of a JSON document: string values
// longer than 500 characters are elided with a marker, arrays longer than
// 10 items are replaced by a summary. Used for request-body snippets so a
// base64 image or a long transcript cannot flood the access log.
func TruncateJSON(data []byte) string {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		s := string(data)
		if len(s) > maxLogString {
			s = s[:maxLogString] + "...(truncated)"
		}
		return s
	}
	out, err := json.Marshal(truncateValue(v))
	if err != nil {
		return ""
	}
	return string(out)
}

func truncateValue(v any) any {
	switch val := v.(type) {
	case string:
		if len(val) > maxLogString {
			return val[:maxLogString] + "...(truncated)"
		}
		return val
	case []any:
		if len(val) > maxLogArray {
			return fmt.Sprintf("[array with %d items]", len(val))
		}
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = truncateValue(item)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = truncateValue(item)
		}
		return out
	default:
		return v
	}
}
