package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"unicode/utf8"

	"lynus-agent/pkg/model"
	"lynus-agent/pkg/store"
)

const (
	defaultPerPage = 20
	maxPerPage     = 100
	titleRunes     = 50
)

// TaskHandler serves task CRUD scoped to the calling user.
type TaskHandler struct {
	Store store.Store
	Auth  *AuthHandler
	Exec  Executor
	Hub   *StepHub
	Log   *slog.Logger
}

type createTaskRequest struct {
	Title       string `json:"title" validate:"max=200"`
	Description string `json:"description" validate:"required"`
	TaskType    string `json:"task_type"`
}

type addStepRequest struct {
	StepType string `json:"step_type" validate:"required"`
	Content  string `json:"content" validate:"required"`
}

type updateStatusRequest struct {
	Status     string          `json:"status" validate:"omitempty,oneof=pending running completed failed cancelled"`
	Progress   json.RawMessage `json:"progress"`
	ResultData json.RawMessage `json:"result_data"`
}

type pagination struct {
	Page    int   `json:"page"`
	PerPage int   `json:"per_page"`
	Total   int64 `json:"total"`
	Pages   int   `json:"pages"`
	HasNext bool  `json:"has_next"`
	HasPrev bool  `json:"has_prev"`
}

var createTaskMessages = map[string]string{
	"Description.required": "Task description is required",
	"Title.max":            "Title must be at most 200 characters long",
}

var addStepMessages = map[string]string{
	"StepType.required": "Step type and content are required",
	"Content.required":  "Step type and content are required",
}

func (h *TaskHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/tasks/create", h.Auth.RequireUser(h.handleCreate))
	mux.HandleFunc("GET /api/tasks/list", h.Auth.RequireUser(h.handleList))
	mux.HandleFunc("GET /api/tasks/stats", h.Auth.RequireUser(h.handleStats))
	mux.HandleFunc("GET /api/tasks/{id}", h.Auth.RequireUser(h.handleGet))
	mux.HandleFunc("DELETE /api/tasks/{id}", h.Auth.RequireUser(h.handleDelete))
	mux.HandleFunc("GET /api/tasks/{id}/steps", h.Auth.RequireUser(h.handleListSteps))
	mux.HandleFunc("POST /api/tasks/{id}/steps", h.Auth.RequireUser(h.handleAddStep))
	mux.HandleFunc("PUT /api/tasks/{id}/status", h.Auth.RequireUser(h.handleUpdateStatus))
}

func (h *TaskHandler) handleCreate(w http.ResponseWriter, r *http.Request, user model.User) {
	var req createTaskRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	task, msg := newTask(user, req.Title, req.Description, req.TaskType)
	if msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	task, err := h.Store.CreateTask(r.Context(), task)
	if err != nil {
		h.Log.Error("create task failed", "err", err)
		writeError(w, http.StatusInternalServerError, "Failed to create task")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"message": "Task created successfully", "task": task})
}

// newTask validates and fills defaults shared by task creation and execution.
func newTask(user model.User, title, description, taskType string) (model.Task, string) {
	req := createTaskRequest{
		Title:       strings.TrimSpace(title),
		Description: strings.TrimSpace(description),
		TaskType:    strings.TrimSpace(taskType),
	}
	if err := validate.Struct(req); err != nil {
		return model.Task{}, validationMessage(err, createTaskMessages)
	}
	if req.Title == "" {
		req.Title = defaultTitle(req.Description)
	}
	return model.Task{
		UserID:      user.ID,
		Title:       req.Title,
		Description: req.Description,
		TaskType:    model.NormalizeTaskType(req.TaskType),
		Status:      model.StatusPending,
	}, ""
}

func defaultTitle(description string) string {
	if utf8.RuneCountInString(description) <= titleRunes {
		return description
	}
	return string([]rune(description)[:titleRunes]) + "..."
}

func (h *TaskHandler) handleList(w http.ResponseWriter, r *http.Request, user model.User) {
	page := max(queryInt(r, "page", 1), 1)
	perPage := queryInt(r, "per_page", defaultPerPage)
	if perPage < 1 || perPage > maxPerPage {
		perPage = defaultPerPage
	}
	q := r.URL.Query()
	filter := store.TaskFilter{
		UserID:   user.ID,
		Status:   model.TaskStatus(q.Get("status")),
		TaskType: model.TaskType(q.Get("task_type")),
		Offset:   (page - 1) * perPage,
		Limit:    perPage,
	}
	tasks, total, err := h.Store.ListTasks(r.Context(), filter)
	if err != nil {
		h.Log.Error("list tasks failed", "err", err)
		writeError(w, http.StatusInternalServerError, "Failed to list tasks")
		return
	}
	pages := int((total + int64(perPage) - 1) / int64(perPage))
	writeJSON(w, http.StatusOK, map[string]any{
		"tasks": tasks,
		"pagination": pagination{
			Page:    page,
			PerPage: perPage,
			Total:   total,
			Pages:   pages,
			HasNext: page < pages,
			HasPrev: page > 1,
		},
	})
}

// ownedTask loads the path task and writes 404 unless the user owns it.
func (h *TaskHandler) ownedTask(w http.ResponseWriter, r *http.Request, user model.User) (model.Task, bool) {
	id, ok := pathID(r)
	if !ok {
		writeError(w, http.StatusNotFound, "Task not found")
		return model.Task{}, false
	}
	task, err := h.Store.GetTask(r.Context(), id)
	if errors.Is(err, store.ErrNotFound) || (err == nil && task.UserID != user.ID) {
		writeError(w, http.StatusNotFound, "Task not found")
		return model.Task{}, false
	}
	if err != nil {
		h.Log.Error("get task failed", "task_id", id, "err", err)
		writeError(w, http.StatusInternalServerError, "Failed to get task")
		return model.Task{}, false
	}
	return task, true
}

func (h *TaskHandler) handleGet(w http.ResponseWriter, r *http.Request, user model.User) {
	task, ok := h.ownedTask(w, r, user)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"task": task})
}

func (h *TaskHandler) handleListSteps(w http.ResponseWriter, r *http.Request, user model.User) {
	task, ok := h.ownedTask(w, r, user)
	if !ok {
		return
	}
	steps, err := h.Store.ListSteps(r.Context(), task.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "Failed to get steps")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"steps": steps})
}

func (h *TaskHandler) handleAddStep(w http.ResponseWriter, r *http.Request, user model.User) {
	task, ok := h.ownedTask(w, r, user)
	if !ok {
		return
	}
	var req addStepRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.StepType = strings.TrimSpace(req.StepType)
	req.Content = strings.TrimSpace(req.Content)
	if err := validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, validationMessage(err, addStepMessages))
		return
	}
	stepType := model.StepType(req.StepType)
	if !stepType.Valid() {
		writeError(w, http.StatusBadRequest, "Invalid step type")
		return
	}
	step, err := h.Store.AppendStep(r.Context(), task.ID, stepType, req.Content)
	if err != nil {
		h.Log.Error("add step failed", "task_id", task.ID, "err", err)
		writeError(w, http.StatusInternalServerError, "Failed to add step")
		return
	}
	if h.Hub != nil {
		h.Hub.Publish(step)
	}
	writeJSON(w, http.StatusCreated, map[string]any{"message": "Step added successfully", "step": step})
}

func (h *TaskHandler) handleUpdateStatus(w http.ResponseWriter, r *http.Request, user model.User) {
	task, ok := h.ownedTask(w, r, user)
	if !ok {
		return
	}
	var req updateStatusRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.Status = strings.TrimSpace(req.Status)
	if err := validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "Invalid status")
		return
	}

	var u store.TaskUpdate
	if req.Status != "" {
		status := model.TaskStatus(req.Status)
		u.Status = &status
	}
	if len(req.Progress) > 0 && !bytes.Equal(req.Progress, []byte("null")) {
		var p int
		if err := json.Unmarshal(req.Progress, &p); err != nil || p < 0 || p > 100 {
			writeError(w, http.StatusBadRequest, "Progress must be an integer between 0 and 100")
			return
		}
		u.Progress = &p
	}
	if result, ok := resultText(req.ResultData); ok {
		u.ResultData = &result
	}

	if u.Status != nil && *u.Status == model.StatusCancelled && h.Exec != nil {
		h.Exec.Cancel(task.ID)
	}
	updated, err := h.Store.UpdateTask(r.Context(), task.ID, u)
	if err != nil {
		h.Log.Error("update task failed", "task_id", task.ID, "err", err)
		writeError(w, http.StatusInternalServerError, "Failed to update task")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"message": "Task updated successfully", "task": updated})
}

// resultText stores strings verbatim and any other JSON value as compact JSON.
func resultText(raw json.RawMessage) (string, bool) {
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return "", false
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s, true
	}
	var buf bytes.Buffer
	if err := json.Compact(&buf, raw); err != nil {
		return string(raw), true
	}
	return buf.String(), true
}

func (h *TaskHandler) handleDelete(w http.ResponseWriter, r *http.Request, user model.User) {
	task, ok := h.ownedTask(w, r, user)
	if !ok {
		return
	}
	if h.Exec != nil {
		h.Exec.Cancel(task.ID)
	}
	if err := h.Store.DeleteTask(r.Context(), task.ID); err != nil && !errors.Is(err, store.ErrNotFound) {
		h.Log.Error("delete task failed", "task_id", task.ID, "err", err)
		writeError(w, http.StatusInternalServerError, "Failed to delete task")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"message": "Task deleted successfully"})
}

func (h *TaskHandler) handleStats(w http.ResponseWriter, r *http.Request, user model.User) {
	stats, err := h.Store.CountTasks(r.Context(), user.ID)
	if err != nil {
		h.Log.Error("task stats failed", "err", err)
		writeError(w, http.StatusInternalServerError, "Failed to get stats")
		return
	}
	out := map[string]any{"total": stats.Total, "by_type": stats.ByType}
	for status, n := range stats.ByStatus {
		out[string(status)] = n
	}
	writeJSON(w, http.StatusOK, map[string]any{"stats": out})
}
