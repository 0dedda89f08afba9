package model

import "time"

// StepType is the phase of the TAO loop a step was produced by.
type StepType string

const (
	StepThought     StepType = "thought"
	StepAction      StepType = "action"
	StepObservation StepType = "observation"
)

func (s StepType) Valid() bool {
	switch s {
	case StepThought, StepAction, StepObservation:
		return true
	}
	return false
}

// TaskStep is an append-only record of one phase's output.
// StepNumber starts at 1 and is gap-free per task.
type TaskStep struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	TaskID     uint      `gorm:"uniqueIndex:idx_task_step_number;not null" json:"task_id"`
	StepNumber int       `gorm:"uniqueIndex:idx_task_step_number;not null" json:"step_number"`
	StepType   StepType  `gorm:"size:20;not null" json:"step_type"`
	Content    string    `gorm:"type:text;not null" json:"content"`
	CreatedAt  time.Time `json:"created_at"`
}

func (TaskStep) TableName() string {
	return "task_steps"
}
