package store

import (
	"context"
	"errors"

	"lynus-agent/pkg/model"
)

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
)

// Store is the persistence layer for users, tasks and their steps.
// Implementations must allocate step numbers atomically per task.
type Store interface {
	CreateUser(ctx context.Context, u model.User) (model.User, error)
	GetUser(ctx context.Context, id uint) (model.User, error)
	GetUserByEmail(ctx context.Context, email string) (model.User, error)
	// UserExists reports which of email and username are already taken.
	UserExists(ctx context.Context, email, username string) (emailTaken, usernameTaken bool, err error)

	CreateTask(ctx context.Context, t model.Task) (model.Task, error)
	GetTask(ctx context.Context, id uint) (model.Task, error)
	ListTasks(ctx context.Context, f TaskFilter) ([]model.Task, int64, error)
	UpdateTask(ctx context.Context, id uint, u TaskUpdate) (model.Task, error)
	// DeleteTask removes the task together with its steps.
	DeleteTask(ctx context.Context, id uint) error
	CountTasks(ctx context.Context, userID uint) (TaskStats, error)

	// AppendStep stores a step numbered max(existing)+1 for the task.
	AppendStep(ctx context.Context, taskID uint, stepType model.StepType, content string) (model.TaskStep, error)
	ListSteps(ctx context.Context, taskID uint) ([]model.TaskStep, error)
	MaxStepNumber(ctx context.Context, taskID uint) (int, error)

	Ping(ctx context.Context) error
}

// TaskFilter narrows ListTasks. Zero values match everything; Limit <= 0
// returns all rows. Results are newest first.
type TaskFilter struct {
	UserID   uint
	Status   model.TaskStatus
	TaskType model.TaskType
	Offset   int
	Limit    int
}

// TaskUpdate carries the mutable task fields; nil fields are left alone.
type TaskUpdate struct {
	Progress   *int
	Status     *model.TaskStatus
	ResultData *string
}

type TaskStats struct {
	Total    int64                      `json:"total"`
	ByStatus map[model.TaskStatus]int64 `json:"by_status"`
	ByType   map[model.TaskType]int64   `json:"by_type"`
}

func newTaskStats() TaskStats {
	s := TaskStats{
		ByStatus: make(map[model.TaskStatus]int64, len(model.TaskStatuses)),
		ByType:   make(map[model.TaskType]int64, len(model.TaskTypes)),
	}
	for _, st := range model.TaskStatuses {
		s.ByStatus[st] = 0
	}
	for _, tt := range model.TaskTypes {
		s.ByType[tt] = 0
	}
	return s
}

// NewMemory is a helper to construct the in-memory implementation without importing it directly.
func NewMemory() Store {
	return NewMemoryStore()
}
