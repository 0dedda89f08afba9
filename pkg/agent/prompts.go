package agent

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"lynus-agent/pkg/actions"
	"lynus-agent/pkg/llm"
	"lynus-agent/pkg/model"
)

const thoughtSystemPrompt = `You are Lynus AI Agent, an autonomous assistant. Analyze the user's task and plan how to carry it out.

Your capabilities:
- image generation and editing
- slide decks
- web page design and development
- spreadsheet processing
- data visualization
- document writing
- code writing
- web page analysis

Think through what the task needs and lay out a detailed plan.`

func thoughtMessages(task model.Task, history string) []llm.Message {
	user := fmt.Sprintf(`Task type: %s
Task description: %s
Context: %s

Analyze this task and explain what actions are needed to complete it. Describe your reasoning and plan in detail.`,
		task.TaskType, task.Description, history)
	return []llm.Message{
		{Role: llm.RoleSystem, Content: thoughtSystemPrompt},
		{Role: llm.RoleUser, Content: user},
	}
}

func actionSystemPrompt() string {
	var b strings.Builder
	b.WriteString("You are Lynus AI Agent. Based on your analysis, choose the next concrete action.\n\nAvailable actions:\n")
	for i, name := range actions.Known {
		fmt.Fprintf(&b, "%d. %s - %s\n", i+1, name, actions.Describe(name))
	}
	b.WriteString(`
Choose exactly one action and supply the parameters it needs.

Reply with JSON only:
{
    "action": "action identifier",
    "parameters": {
        "key": "value"
    },
    "reasoning": "why this action"
}`)
	return b.String()
}

func actionMessages(task model.Task, thought string) []llm.Message {
	user := fmt.Sprintf(`Task description: %s
Task type: %s
My analysis: %s

Based on the above, choose the next action.`,
		task.Description, task.TaskType, thought)
	return []llm.Message{
		{Role: llm.RoleSystem, Content: actionSystemPrompt()},
		{Role: llm.RoleUser, Content: user},
	}
}

const observationSystemPrompt = "You are Lynus AI Agent. Review the result of the action that was just executed, judge whether it succeeded and whether further action is needed."

// outcomeJSON renders the outcome indented, leaving markup in results unescaped.
func outcomeJSON(outcome actions.Outcome) string {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(outcome); err != nil {
		return fmt.Sprintf("%+v", outcome)
	}
	return strings.TrimRight(buf.String(), "\n")
}

func observationMessages(outcome actions.Outcome) []llm.Message {
	user := fmt.Sprintf(`Execution result:
%s

Analyze this result:
1. Did the action execute successfully?
2. Does the result meet expectations?
3. Is further action needed?
4. If so, what should the next step be?`, outcomeJSON(outcome))
	return []llm.Message{
		{Role: llm.RoleSystem, Content: observationSystemPrompt},
		{Role: llm.RoleUser, Content: user},
	}
}
