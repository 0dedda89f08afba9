package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalizeTaskType(t *testing.T) {
	assert.Equal(t, TaskTypeSlides, NormalizeTaskType("slides"))
	assert.Equal(t, TaskTypeGeneral, NormalizeTaskType(""))
	assert.Equal(t, TaskTypeGeneral, NormalizeTaskType("video"))
}

func TestTaskStatusTerminal(t *testing.T) {
	assert.False(t, StatusPending.Terminal())
	assert.False(t, StatusRunning.Terminal())
	assert.True(t, StatusCompleted.Terminal())
	assert.True(t, StatusFailed.Terminal())
	assert.True(t, StatusCancelled.Terminal())
	assert.False(t, TaskStatus("paused").Valid())
}

func TestStepTypeValid(t *testing.T) {
	for _, s := range []StepType{StepThought, StepAction, StepObservation} {
		assert.True(t, s.Valid(), s)
	}
	assert.False(t, StepType("plan").Valid())
}
