package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"lynus-agent/pkg/agent"
	"lynus-agent/pkg/model"
	"lynus-agent/pkg/store"
	"lynus-agent/pkg/version"
)

const quickTitleRunes = 30

// Executor accepts runs for background execution. *agent.Pool satisfies it.
type Executor interface {
	Submit(taskID uint, credential string) error
	Cancel(taskID uint) bool
	Stats() agent.PoolStats
}

var _ Executor = (*agent.Pool)(nil)

// AgentHandler starts task runs and reports on the agent subsystem.
type AgentHandler struct {
	Store         store.Store
	Auth          *AuthHandler
	Exec          Executor
	Hub           *StepHub
	APIKey        string
	Model         string
	MaxIterations int
	Log           *slog.Logger
}

type executeRequest struct {
	Description string `json:"description"`
	Title       string `json:"title"`
	TaskType    string `json:"task_type"`
	APIKey      string `json:"api_key"`
}

type quickExecuteRequest struct {
	TaskType string `json:"task_type" validate:"required"`
	Prompt   string `json:"prompt" validate:"required"`
	APIKey   string `json:"api_key"`
}

var quickPrefixes = map[model.TaskType]string{
	model.TaskTypeImage:         "生成圖像：",
	model.TaskTypeSlides:        "創建簡報：",
	model.TaskTypeWebpage:       "構建網頁：",
	model.TaskTypeSpreadsheet:   "處理電子表格：",
	model.TaskTypeVisualization: "創建數據可視化：",
}

func (h *AgentHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/agent/execute", h.Auth.RequireUser(h.handleExecute))
	mux.HandleFunc("POST /api/agent/quick-execute", h.Auth.RequireUser(h.handleQuickExecute))
	mux.HandleFunc("GET /api/agent/capabilities", h.handleCapabilities)
	mux.HandleFunc("GET /api/agent/status", h.handleStatus)
	if h.Hub != nil {
		mux.HandleFunc("GET /api/agent/stream", h.Auth.RequireStreamUser(h.handleStream))
	}
}

// credential prefers the configured key over one supplied by the caller.
func (h *AgentHandler) credential(fromRequest string) string {
	if h.APIKey != "" {
		return h.APIKey
	}
	return strings.TrimSpace(fromRequest)
}

func (h *AgentHandler) handleExecute(w http.ResponseWriter, r *http.Request, user model.User) {
	var req executeRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Description) == "" {
		writeError(w, http.StatusBadRequest, "Task description is required")
		return
	}
	credential := h.credential(req.APIKey)
	if credential == "" {
		writeError(w, http.StatusBadRequest, "OpenRouter API key is required")
		return
	}
	task, msg := newTask(user, req.Title, req.Description, req.TaskType)
	if msg != "" {
		writeError(w, http.StatusBadRequest, msg)
		return
	}
	h.start(w, r, task, credential, "Task execution started")
}

func (h *AgentHandler) handleQuickExecute(w http.ResponseWriter, r *http.Request, user model.User) {
	var req quickExecuteRequest
	if !decodeJSON(w, r, &req) {
		return
	}
	req.TaskType = strings.TrimSpace(req.TaskType)
	req.Prompt = strings.TrimSpace(req.Prompt)
	if err := validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, "Task type and prompt are required")
		return
	}
	credential := h.credential(req.APIKey)
	if credential == "" {
		writeError(w, http.StatusBadRequest, "OpenRouter API key is required")
		return
	}
	taskType := model.NormalizeTaskType(req.TaskType)
	task := model.Task{
		UserID:      user.ID,
		Title:       quickTitle(req.TaskType, req.Prompt),
		Description: quickPrefixes[taskType] + req.Prompt,
		TaskType:    taskType,
		Status:      model.StatusPending,
	}
	h.start(w, r, task, credential, "Quick task execution started")
}

// start persists the task and hands it to the executor. A full queue fails
// the task immediately so it never sits pending without a run.
func (h *AgentHandler) start(w http.ResponseWriter, r *http.Request, task model.Task, credential, msg string) {
	task, err := h.Store.CreateTask(r.Context(), task)
	if err != nil {
		h.Log.Error("create task failed", "err", err)
		writeError(w, http.StatusInternalServerError, fmt.Sprintf("Failed to start task execution: %v", err))
		return
	}
	if err := h.Exec.Submit(task.ID, credential); err != nil {
		h.Log.Warn("submit task failed", "task_id", task.ID, "err", err)
		failed := model.StatusFailed
		if _, uerr := h.Store.UpdateTask(context.WithoutCancel(r.Context()), task.ID, store.TaskUpdate{Status: &failed}); uerr != nil {
			h.Log.Warn("mark task failed", "task_id", task.ID, "err", uerr)
		}
		status := http.StatusInternalServerError
		if errors.Is(err, agent.ErrQueueFull) || errors.Is(err, agent.ErrPoolClosed) {
			status = http.StatusServiceUnavailable
		}
		writeError(w, status, "Agent is busy, try again later")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{"message": msg, "task": task})
}

func quickTitle(taskType, prompt string) string {
	title := titleCase(taskType) + " - "
	if utf8.RuneCountInString(prompt) > quickTitleRunes {
		return title + string([]rune(prompt)[:quickTitleRunes]) + "..."
	}
	return title + prompt
}

// titleCase upper-cases the first letter of every word and lowers the rest,
// where a word starts after any non-letter.
func titleCase(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	prevLetter := false
	for _, r := range s {
		if prevLetter {
			b.WriteRune(unicode.ToLower(r))
		} else {
			b.WriteRune(unicode.ToUpper(r))
		}
		prevLetter = unicode.IsLetter(r)
	}
	return b.String()
}

type taskTypeInfo struct {
	ID          model.TaskType `json:"id"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Icon        string         `json:"icon"`
	Color       string         `json:"color"`
	Badge       string         `json:"badge,omitempty"`
}

var capabilityTypes = []taskTypeInfo{
	{ID: model.TaskTypeImage, Name: "Image", Description: "圖像生成和編輯", Icon: "🖼️", Color: "orange"},
	{ID: model.TaskTypeSlides, Name: "Slides", Description: "簡報製作", Icon: "📊", Color: "green"},
	{ID: model.TaskTypeWebpage, Name: "Webpage", Description: "網頁設計和開發", Icon: "🌐", Color: "red"},
	{ID: model.TaskTypeSpreadsheet, Name: "Spreadsheet", Description: "電子表格處理", Icon: "📈", Color: "blue", Badge: "New"},
	{ID: model.TaskTypeVisualization, Name: "Visualization", Description: "數據可視化", Icon: "📊", Color: "red"},
	{ID: model.TaskTypeGeneral, Name: "More", Description: "其他功能", Icon: "➕", Color: "green"},
}

var capabilityFeatures = []string{
	"TAO循環執行 (Thought-Action-Observation)",
	"多步驟任務規劃",
	"實時進度追蹤",
	"結果保存和下載",
	"任務歷史管理",
	"錯誤處理和恢復",
}

func (h *AgentHandler) handleCapabilities(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"task_types": capabilityTypes,
		"features":   capabilityFeatures,
		"model_info": map[string]string{
			"name":     h.Model,
			"provider": "OpenRouter",
		},
	})
}

func (h *AgentHandler) handleStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	dbStatus := "healthy"
	if err := h.Store.Ping(ctx); err != nil {
		h.Log.Warn("database ping failed", "err", err)
		dbStatus = "error"
	}
	keyStatus := "missing"
	if h.APIKey != "" {
		keyStatus = "configured"
	}
	overall := "operational"
	if dbStatus != "healthy" {
		overall = "degraded"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"agent_version":    version.Version,
		"database":         dbStatus,
		"api_key":          keyStatus,
		"supported_models": []string{h.Model},
		"max_iterations":   h.MaxIterations,
		"pool":             h.Exec.Stats(),
		"status":           overall,
	})
}

func (h *AgentHandler) handleStream(w http.ResponseWriter, r *http.Request, user model.User) {
	id, err := parseID(r.URL.Query().Get("task_id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "task_id is required")
		return
	}
	task, err := h.Store.GetTask(r.Context(), id)
	if err != nil || task.UserID != user.ID {
		writeError(w, http.StatusNotFound, "Task not found")
		return
	}
	h.Hub.Serve(w, r, task)
}
