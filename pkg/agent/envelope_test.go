package agent

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseEnvelope(t *testing.T) {
	env := ParseEnvelope(`{"action":"create_slides","parameters":{"topic":"Go","slides_count":3},"reasoning":"deck"}`)
	assert.Equal(t, "create_slides", env.Action)
	assert.Equal(t, "Go", env.Parameters["topic"])
	assert.Equal(t, "deck", env.Reasoning)
	assert.Equal(t, "Selected action: create_slides\nReasoning: deck", env.Summary())
}

func TestParseEnvelopeFallback(t *testing.T) {
	for _, raw := range []string{
		"I think we should write a document.",
		"```json\n{\"action\":\"write_code\"}\n```",
		`["generate_image"]`,
		"null",
		"",
	} {
		env := ParseEnvelope(raw)
		assert.Equal(t, "write_document", env.Action, raw)
		assert.Equal(t, map[string]any{"content": raw}, env.Parameters, raw)
		assert.Equal(t, fallbackReasoning, env.Reasoning)
	}
}

func TestEnvelopeSummaryWithoutAction(t *testing.T) {
	env := ParseEnvelope(`{"reasoning":"no idea"}`)
	assert.Empty(t, env.Action)
	assert.Equal(t, "Selected action: unknown\nReasoning: no idea", env.Summary())
}

func TestObservationSignalsCompletion(t *testing.T) {
	for _, s := range []string{
		"The task is COMPLETED.",
		"All Done",
		"finished rendering",
		"任務已完成",
		"執行成功",
	} {
		assert.True(t, ObservationSignalsCompletion(s), s)
	}
	for _, s := range []string{"", "needs another pass", "fail"} {
		assert.False(t, ObservationSignalsCompletion(s), s)
	}
}

func TestParseEnvelopeToleratesFieldTypes(t *testing.T) {
	env := ParseEnvelope(`{"action":"create_slides","parameters":{"topic":"go"},"reasoning":["a","b"]}`)
	assert.Equal(t, "create_slides", env.Action)
	assert.Equal(t, map[string]any{"topic": "go"}, env.Parameters)
	assert.Equal(t, "[a b]", env.Reasoning)

	env = ParseEnvelope(`{"action":"generate_image","parameters":"a cat","reasoning":7}`)
	assert.Equal(t, "generate_image", env.Action)
	assert.Empty(t, env.Parameters)
	assert.Equal(t, "7", env.Reasoning)

	env = ParseEnvelope(`{"action":42,"reasoning":"odd"}`)
	assert.Empty(t, env.Action)
	assert.NotNil(t, env.Parameters)
	assert.Equal(t, "Selected action: unknown\nReasoning: odd", env.Summary())
}
