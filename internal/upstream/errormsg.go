package upstream

import (
	"strings"

	"github.com/goccy/go-json"
)

// ExtractErrorMessage pulls a human-readable message out of an upstream
// error body. Providers disagree on the envelope shape, so the probe is
// tolerant: nested {"error":{"message":...}}, flat {"error":"..."}, and
// finally the compact serialization of the whole body.
func ExtractErrorMessage(body []byte) string {
	var probe struct {
		Error json.RawMessage `json:"error"`
	}
	if err := json.Unmarshal(body, &probe); err == nil && len(probe.Error) > 0 {
		var nested struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal(probe.Error, &nested); err == nil && nested.Message != "" {
			return nested.Message
		}
		var flat string
		if err := json.Unmarshal(probe.Error, &flat); err == nil && flat != "" {
			return flat
		}
	}
	return strings.TrimSpace(string(body))
}
