package upstream

import (
	"sort"
	"strings"

	"github.com/goccy/go-json"
)

type toolCallState struct {
	index     int
	id        string
	typ       string
	name      string
	arguments strings.Builder
}

// Accumulator reconstructs a non-streaming-shaped response body from a
// live SSE stream, so streamed requests produce the same telemetry
// records as non-streamed ones. It is owned by a single goroutine per
// stream and fed serialized chunks over a channel.
type Accumulator struct {
	isChat    bool
	role      string
	content   strings.Builder
	reasoning strings.Builder
	toolCalls map[int]*toolCallState

	usage        json.RawMessage
	finishReason string
	first        map[string]any
	last         map[string]any
}

// NewAccumulator builds an accumulator for one stream.
func NewAccumulator(isChat bool) *Accumulator {
	return &Accumulator{
		isChat:    isChat,
		role:      "assistant",
		toolCalls: make(map[int]*toolCallState),
	}
}

// Consume folds one stream chunk into the accumulated state. Chunks that
// fail to parse are skipped; the stream relay already forwarded them.
func (a *Accumulator) Consume(chunk []byte) {
	var parsed map[string]any
	if err := json.Unmarshal(chunk, &parsed); err != nil {
		return
	}
	if a.first == nil {
		a.first = parsed
	}
	a.last = parsed

	// Usage usually arrives only on the final chunk.
	if _, ok := parsed["usage"].(map[string]any); ok {
		if raw, err := json.Marshal(parsed["usage"]); err == nil {
			a.usage = raw
		}
	}

	choices, ok := parsed["choices"].([]any)
	if !ok || len(choices) == 0 {
		return
	}
	choice, ok := choices[0].(map[string]any)
	if !ok {
		return
	}
	if fr, ok := choice["finish_reason"].(string); ok && fr != "" {
		a.finishReason = fr
	}

	if a.isChat {
		if delta, ok := choice["delta"].(map[string]any); ok {
			a.consumeDelta(delta)
		}
		return
	}
	if text, ok := choice["text"].(string); ok {
		a.content.WriteString(text)
	}
}

func (a *Accumulator) consumeDelta(delta map[string]any) {
	if r, ok := delta["role"].(string); ok && r != "" {
		a.role = r
	}
	if c, ok := delta["content"].(string); ok {
		a.content.WriteString(c)
	}
	if rc, ok := delta["reasoning_content"].(string); ok {
		a.reasoning.WriteString(rc)
	}
	tcs, ok := delta["tool_calls"].([]any)
	if !ok {
		return
	}
	for _, raw := range tcs {
		tc, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		idx, ok := tc["index"].(float64)
		if !ok {
			continue
		}
		index := int(idx)
		acc := a.toolCalls[index]
		if acc == nil {
			acc = &toolCallState{index: index}
			a.toolCalls[index] = acc
		}
		// id, type and function.name arrive exactly once per call; the
		// first value wins. arguments arrive as fragments and concatenate.
		if id, ok := tc["id"].(string); ok && acc.id == "" {
			acc.id = id
		}
		if t, ok := tc["type"].(string); ok && acc.typ == "" {
			acc.typ = t
		}
		if fn, ok := tc["function"].(map[string]any); ok {
			if name, ok := fn["name"].(string); ok && acc.name == "" {
				acc.name = name
			}
			if args, ok := fn["arguments"].(string); ok {
				acc.arguments.WriteString(args)
			}
		}
	}
}

// message assembles the final assistant message from accumulated state.
func (a *Accumulator) message() map[string]any {
	msg := map[string]any{"role": a.role}
	if a.content.Len() > 0 {
		msg["content"] = a.content.String()
	}
	if a.reasoning.Len() > 0 {
		msg["reasoning_content"] = a.reasoning.String()
	}
	if len(a.toolCalls) > 0 {
		indexes := make([]int, 0, len(a.toolCalls))
		for i := range a.toolCalls {
			indexes = append(indexes, i)
		}
		sort.Ints(indexes)
		calls := make([]any, 0, len(indexes))
		for _, i := range indexes {
			tc := a.toolCalls[i]
			typ := tc.typ
			if typ == "" {
				typ = "function"
			}
			calls = append(calls, map[string]any{
				"id":   tc.id,
				"type": typ,
				"function": map[string]any{
					"name":      tc.name,
					"arguments": tc.arguments.String(),
				},
			})
		}
		msg["tool_calls"] = calls
	}
	return msg
}

// Synthesize builds the non-streaming-shaped body for telemetry from the
// last chunk's envelope plus the accumulated message, usage and finish
// reason. A stream that produced no parseable chunks yields nil.
func (a *Accumulator) Synthesize() []byte {
	base := a.last
	if base == nil {
		return nil
	}
	if _, ok := base["choices"]; !ok && a.first != nil {
		base = a.first
	}

	choices, ok := base["choices"].([]any)
	if !ok || len(choices) == 0 {
		choices = []any{map[string]any{"index": 0}}
		base["choices"] = choices
	}
	choice, ok := choices[0].(map[string]any)
	if !ok {
		choice = map[string]any{"index": 0}
		choices[0] = choice
	}

	if a.isChat {
		choice["message"] = a.message()
		delete(choice, "delta")
	} else {
		choice["text"] = a.content.String()
	}
	if len(a.usage) > 0 {
		base["usage"] = a.usage
	}
	if a.finishReason != "" {
		choice["finish_reason"] = a.finishReason
	}

	out, err := json.Marshal(base)
	if err != nil {
		return nil
	}
	return out
}
