package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"lynus-agent/pkg/model"
)

// MemoryStore is a simple in-memory implementation, intended for dev/demo and tests.
type MemoryStore struct {
	mu       sync.RWMutex
	users    map[uint]model.User
	tasks    map[uint]model.Task
	steps    map[uint][]model.TaskStep
	nextUser uint
	nextTask uint
	nextStep uint
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users: make(map[uint]model.User),
		tasks: make(map[uint]model.Task),
		steps: make(map[uint][]model.TaskStep),
	}
}

func (m *MemoryStore) CreateUser(_ context.Context, u model.User) (model.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.users {
		if existing.Email == u.Email || existing.Username == u.Username {
			return model.User{}, ErrConflict
		}
	}
	m.nextUser++
	now := time.Now()
	u.ID = m.nextUser
	u.CreatedAt, u.UpdatedAt = now, now
	m.users[u.ID] = u
	return u, nil
}

func (m *MemoryStore) GetUser(_ context.Context, id uint) (model.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return model.User{}, ErrNotFound
	}
	return u, nil
}

func (m *MemoryStore) GetUserByEmail(_ context.Context, email string) (model.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.users {
		if u.Email == email {
			return u, nil
		}
	}
	return model.User{}, ErrNotFound
}

func (m *MemoryStore) UserExists(_ context.Context, email, username string) (bool, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var emailTaken, usernameTaken bool
	for _, u := range m.users {
		if email != "" && u.Email == email {
			emailTaken = true
		}
		if username != "" && u.Username == username {
			usernameTaken = true
		}
	}
	return emailTaken, usernameTaken, nil
}

func (m *MemoryStore) CreateTask(_ context.Context, t model.Task) (model.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextTask++
	now := time.Now()
	t.ID = m.nextTask
	if t.Status == "" {
		t.Status = model.StatusPending
	}
	if t.TaskType == "" {
		t.TaskType = model.TaskTypeGeneral
	}
	t.CreatedAt, t.UpdatedAt = now, now
	m.tasks[t.ID] = t
	return t, nil
}

func (m *MemoryStore) GetTask(_ context.Context, id uint) (model.Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tasks[id]
	if !ok {
		return model.Task{}, ErrNotFound
	}
	return t, nil
}

func (m *MemoryStore) ListTasks(_ context.Context, f TaskFilter) ([]model.Task, int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := []model.Task{}
	for _, t := range m.tasks {
		if f.UserID != 0 && t.UserID != f.UserID {
			continue
		}
		if f.Status != "" && t.Status != f.Status {
			continue
		}
		if f.TaskType != "" && t.TaskType != f.TaskType {
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	total := int64(len(out))
	if f.Offset > 0 {
		if f.Offset >= len(out) {
			return []model.Task{}, total, nil
		}
		out = out[f.Offset:]
	}
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, total, nil
}

func (m *MemoryStore) UpdateTask(_ context.Context, id uint, u TaskUpdate) (model.Task, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[id]
	if !ok {
		return model.Task{}, ErrNotFound
	}
	if u.Progress != nil {
		t.Progress = *u.Progress
	}
	if u.Status != nil {
		t.Status = *u.Status
	}
	if u.ResultData != nil {
		v := *u.ResultData
		t.ResultData = &v
	}
	t.UpdatedAt = time.Now()
	m.tasks[id] = t
	return t, nil
}

func (m *MemoryStore) DeleteTask(_ context.Context, id uint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tasks[id]; !ok {
		return ErrNotFound
	}
	delete(m.tasks, id)
	delete(m.steps, id)
	return nil
}

func (m *MemoryStore) CountTasks(_ context.Context, userID uint) (TaskStats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	stats := newTaskStats()
	for _, t := range m.tasks {
		if userID != 0 && t.UserID != userID {
			continue
		}
		stats.Total++
		stats.ByStatus[t.Status]++
		stats.ByType[t.TaskType]++
	}
	return stats, nil
}

func (m *MemoryStore) AppendStep(_ context.Context, taskID uint, stepType model.StepType, content string) (model.TaskStep, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.tasks[taskID]; !ok {
		return model.TaskStep{}, ErrNotFound
	}
	list := m.steps[taskID]
	next := 1
	if n := len(list); n > 0 {
		next = list[n-1].StepNumber + 1
	}
	m.nextStep++
	step := model.TaskStep{
		ID:         m.nextStep,
		TaskID:     taskID,
		StepNumber: next,
		StepType:   stepType,
		Content:    content,
		CreatedAt:  time.Now(),
	}
	m.steps[taskID] = append(list, step)
	return step, nil
}

func (m *MemoryStore) ListSteps(_ context.Context, taskID uint) ([]model.TaskStep, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]model.TaskStep{}, m.steps[taskID]...), nil
}

func (m *MemoryStore) MaxStepNumber(_ context.Context, taskID uint) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	list := m.steps[taskID]
	if len(list) == 0 {
		return 0, nil
	}
	return list[len(list)-1].StepNumber, nil
}

// Ping reports readiness for health/info endpoints.
func (m *MemoryStore) Ping(context.Context) error { return nil }
