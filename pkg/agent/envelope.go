package agent

import (
	"encoding/json"
	"fmt"

	"lynus-agent/pkg/actions"
)

const fallbackReasoning = "unparseable action format"

// Envelope is the action the model selected for one iteration.
type Envelope struct {
	Action     string         `json:"action"`
	Parameters map[string]any `json:"parameters"`
	Reasoning  string         `json:"reasoning"`
}

// ParseEnvelope decodes the model's JSON answer. Anything that is not a JSON
// object becomes a write_document envelope carrying the raw text verbatim.
// Fields of the wrong type are tolerated so the chosen action still runs.
func ParseEnvelope(raw string) Envelope {
	var obj map[string]any
	if err := json.Unmarshal([]byte(raw), &obj); err != nil || obj == nil {
		return Envelope{
			Action:     actions.WriteDocument,
			Parameters: map[string]any{"content": raw},
			Reasoning:  fallbackReasoning,
		}
	}
	env := Envelope{Parameters: map[string]any{}}
	if action, ok := obj["action"].(string); ok {
		env.Action = action
	}
	if params, ok := obj["parameters"].(map[string]any); ok {
		env.Parameters = params
	}
	switch r := obj["reasoning"].(type) {
	case nil:
	case string:
		env.Reasoning = r
	default:
		env.Reasoning = fmt.Sprint(r)
	}
	return env
}

// Summary is the text recorded as the action step.
func (e Envelope) Summary() string {
	action := e.Action
	if action == "" {
		action = "unknown"
	}
	return fmt.Sprintf("Selected action: %s\nReasoning: %s", action, e.Reasoning)
}
