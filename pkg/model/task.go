package model

import "time"

// TaskType is the kind of content a task asks the agent to produce.
type TaskType string

const (
	TaskTypeImage         TaskType = "image"
	TaskTypeSlides        TaskType = "slides"
	TaskTypeWebpage       TaskType = "webpage"
	TaskTypeSpreadsheet   TaskType = "spreadsheet"
	TaskTypeVisualization TaskType = "visualization"
	TaskTypeGeneral       TaskType = "general"
)

// TaskTypes lists every accepted task type in display order.
var TaskTypes = []TaskType{
	TaskTypeImage,
	TaskTypeSlides,
	TaskTypeWebpage,
	TaskTypeSpreadsheet,
	TaskTypeVisualization,
	TaskTypeGeneral,
}

func (t TaskType) Valid() bool {
	for _, v := range TaskTypes {
		if v == t {
			return true
		}
	}
	return false
}

// NormalizeTaskType maps unknown or empty values to general.
func NormalizeTaskType(s string) TaskType {
	t := TaskType(s)
	if !t.Valid() {
		return TaskTypeGeneral
	}
	return t
}

// TaskStatus tracks a task through its execution.
type TaskStatus string

const (
	StatusPending   TaskStatus = "pending"
	StatusRunning   TaskStatus = "running"
	StatusCompleted TaskStatus = "completed"
	StatusFailed    TaskStatus = "failed"
	StatusCancelled TaskStatus = "cancelled"
)

var TaskStatuses = []TaskStatus{
	StatusPending,
	StatusRunning,
	StatusCompleted,
	StatusFailed,
	StatusCancelled,
}

func (s TaskStatus) Valid() bool {
	for _, v := range TaskStatuses {
		if v == s {
			return true
		}
	}
	return false
}

// Terminal reports whether no further execution happens in this status.
func (s TaskStatus) Terminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusCancelled
}

// Task is a unit of work submitted by a user and executed by the agent.
type Task struct {
	ID          uint       `gorm:"primaryKey" json:"id"`
	UserID      uint       `gorm:"index;not null" json:"user_id"`
	Title       string     `gorm:"size:200;not null" json:"title"`
	Description string     `gorm:"type:text;not null" json:"description"`
	TaskType    TaskType   `gorm:"size:20;index;not null;default:general" json:"task_type"`
	Status      TaskStatus `gorm:"size:20;index;not null;default:pending" json:"status"`
	Progress    int        `gorm:"not null;default:0" json:"progress"` // 0-100
	ResultData  *string    `gorm:"type:text" json:"result_data"`       // JSON blob
	CreatedAt   time.Time  `gorm:"index" json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

func (Task) TableName() string {
	return "tasks"
}
