// Package telemetry persists one record per completed request to a
// relational store, SQLite by default or Postgres by DSN, with monthly
// file rotation for the SQLite backend. Writes are fire-and-forget: a
// failed insert is logged and never affects the client response.
package telemetry

import (
	"net/http"
	"time"

	"github.com/goccy/go-json"
)

// Record is one row in the records table. Request, Response and Headers
// are stored as serialized JSON.
type Record struct {
	Time             string
	IP               string
	Model            string
	Type             string
	CompletionTokens int
	PromptTokens     int
	TotalTokens      int
	Tool             bool
	Multimodal       bool
	Headers          string
	Request          string
	Response         string
}

type usageProbe struct {
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
}

// Build assembles a Record from one completed exchange. Token counts are
// pulled from the response body's usage block; absent usage leaves them
// zero.
func Build(headers http.Header, ip, model, recordType string, tool, multimodal bool, requestBody, responseBody []byte) *Record {
	var probe usageProbe
	_ = json.Unmarshal(responseBody, &probe)

	flat := make(map[string]string, len(headers))
	for k := range headers {
		flat[k] = headers.Get(k)
	}
	headersJSON, _ := json.Marshal(flat)

	return &Record{
		Time:             time.Now().UTC().Format(time.RFC3339),
		IP:               ip,
		Model:            model,
		Type:             recordType,
		CompletionTokens: probe.Usage.CompletionTokens,
		PromptTokens:     probe.Usage.PromptTokens,
		TotalTokens:      probe.Usage.TotalTokens,
		Tool:             tool,
		Multimodal:       multimodal,
		Headers:          string(headersJSON),
		Request:          string(requestBody),
		Response:         string(responseBody),
	}
}
