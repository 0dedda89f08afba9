package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lynus-agent/pkg/agent"
	"lynus-agent/pkg/auth"
	"lynus-agent/pkg/logging"
	"lynus-agent/pkg/model"
	"lynus-agent/pkg/store"
)

type fakeExec struct {
	mu        sync.Mutex
	submitted map[uint]string
	cancelled []uint
	err       error
}

func newFakeExec() *fakeExec {
	return &fakeExec{submitted: map[uint]string{}}
}

func (f *fakeExec) Submit(taskID uint, credential string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.submitted[taskID] = credential
	return nil
}

func (f *fakeExec) Cancel(taskID uint) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cancelled = append(f.cancelled, taskID)
	_, ok := f.submitted[taskID]
	return ok
}

func (f *fakeExec) Stats() agent.PoolStats {
	return agent.PoolStats{Workers: 2, Capacity: 8}
}

type testServer struct {
	handler http.Handler
	store   *store.MemoryStore
	exec    *fakeExec
	hub     *StepHub
}

func newTestServer(t *testing.T, apiKey string) *testServer {
	t.Helper()
	st := store.NewMemoryStore()
	exec := newFakeExec()
	hub := NewStepHub(st, logging.Discard())
	h := NewRouter(Deps{
		Store:         st,
		Issuer:        auth.NewIssuer("test-secret", time.Hour),
		Exec:          exec,
		Hub:           hub,
		APIKey:        apiKey,
		Model:         "test/model",
		MaxIterations: 10,
		Log:           logging.Discard(),
	})
	return &testServer{handler: h, store: st, exec: exec, hub: hub}
}

func (s *testServer) do(t *testing.T, method, path, token string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if raw, ok := body.(string); ok {
			buf.WriteString(raw)
		} else {
			require.NoError(t, json.NewEncoder(&buf).Encode(body))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	out := map[string]any{}
	if rec.Body.Len() > 0 {
		_ = json.Unmarshal(rec.Body.Bytes(), &out)
	}
	return rec, out
}

func (s *testServer) register(t *testing.T, email string) (string, uint) {
	t.Helper()
	rec, body := s.do(t, http.MethodPost, "/api/auth/register", "", map[string]string{
		"email": email, "password": "secret123",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	user := body["user"].(map[string]any)
	return body["token"].(string), uint(user["id"].(float64))
}

func (s *testServer) createTask(t *testing.T, token, description string) uint {
	t.Helper()
	rec, body := s.do(t, http.MethodPost, "/api/tasks/create", token, map[string]string{"description": description})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	return uint(body["task"].(map[string]any)["id"].(float64))
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, "")
	rec, body := s.do(t, http.MethodGet, "/api/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "healthy", body["status"])
	assert.Equal(t, serviceName, body["service"])
}

func TestUnknownAPIPathIsJSON404(t *testing.T) {
	s := newTestServer(t, "")
	rec, body := s.do(t, http.MethodGet, "/api/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Endpoint not found", body["error"])
}

func TestBannerWithoutStaticDir(t *testing.T) {
	s := newTestServer(t, "")
	rec, body := s.do(t, http.MethodGet, "/", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, body, "endpoints")
}

func TestRegisterLoginMe(t *testing.T) {
	s := newTestServer(t, "")
	token, _ := s.register(t, "ada@example.com")

	rec, body := s.do(t, http.MethodGet, "/api/auth/me", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	user := body["user"].(map[string]any)
	assert.Equal(t, "ada", user["username"])
	assert.NotContains(t, user, "password_hash")

	rec, body = s.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{
		"email": "ada@example.com", "password": "secret123",
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, body["token"])

	rec, body = s.do(t, http.MethodPost, "/api/auth/login", "", map[string]string{
		"email": "ada@example.com", "password": "wrong-pass",
	})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Invalid email or password", body["error"])
}

func TestRegisterValidation(t *testing.T) {
	s := newTestServer(t, "")
	s.register(t, "ada@example.com")

	cases := []struct {
		name string
		body any
		code int
		msg  string
	}{
		{"empty body", "", http.StatusBadRequest, "No data provided"},
		{"bad json", "{", http.StatusBadRequest, "Invalid JSON payload"},
		{"missing password", map[string]string{"email": "x@example.com"}, http.StatusBadRequest, "Email and password are required"},
		{"bad email", map[string]string{"email": "nope", "password": "secret123"}, http.StatusBadRequest, "Invalid email format"},
		{"short password", map[string]string{"email": "x@example.com", "password": "123"}, http.StatusBadRequest, "Password must be at least 6 characters long"},
		{"duplicate email", map[string]string{"email": "ada@example.com", "password": "secret123"}, http.StatusConflict, "Email already registered"},
		{"duplicate username", map[string]string{"email": "ada@other.com", "password": "secret123"}, http.StatusConflict, "Username already taken"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec, body := s.do(t, http.MethodPost, "/api/auth/register", "", tc.body)
			assert.Equal(t, tc.code, rec.Code)
			assert.Equal(t, tc.msg, body["error"])
		})
	}
}

func TestCheckEmail(t *testing.T) {
	s := newTestServer(t, "")
	s.register(t, "ada@example.com")
	_, body := s.do(t, http.MethodPost, "/api/auth/check-email", "", map[string]string{"email": "ada@example.com"})
	assert.Equal(t, true, body["exists"])
	_, body = s.do(t, http.MethodPost, "/api/auth/check-email", "", map[string]string{"email": "bob@example.com"})
	assert.Equal(t, false, body["exists"])
}

func TestAuthRequired(t *testing.T) {
	s := newTestServer(t, "")
	rec, body := s.do(t, http.MethodGet, "/api/tasks/list", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Authentication required", body["error"])

	rec, body = s.do(t, http.MethodGet, "/api/tasks/list", "garbage", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Invalid or expired token", body["error"])
}

func TestInactiveUserRejected(t *testing.T) {
	s := newTestServer(t, "")
	ctx := context.Background()
	u, err := s.store.CreateUser(ctx, model.User{Username: "off", Email: "off@example.com", IsActive: false})
	require.NoError(t, err)
	token, err := auth.NewIssuer("test-secret", time.Hour).Generate(u.ID, u.Username)
	require.NoError(t, err)

	rec, body := s.do(t, http.MethodGet, "/api/auth/me", token, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "User not found or inactive", body["error"])
}

func TestCreateTaskDefaults(t *testing.T) {
	s := newTestServer(t, "")
	token, _ := s.register(t, "ada@example.com")
	long := "Build a landing page for a coffee shop with a menu, opening hours and a map"

	rec, body := s.do(t, http.MethodPost, "/api/tasks/create", token, map[string]string{
		"description": long, "task_type": "bogus",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "Task created successfully", body["message"])
	task := body["task"].(map[string]any)
	assert.Equal(t, long[:50]+"...", task["title"])
	assert.Equal(t, "general", task["task_type"])
	assert.Equal(t, "pending", task["status"])

	rec, body = s.do(t, http.MethodPost, "/api/tasks/create", token, map[string]string{"title": "x"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Task description is required", body["error"])
}

func TestListTasksPagination(t *testing.T) {
	s := newTestServer(t, "")
	token, _ := s.register(t, "ada@example.com")
	for i := 0; i < 5; i++ {
		s.createTask(t, token, fmt.Sprintf("task %d", i))
	}
	other, _ := s.register(t, "bob@example.com")
	s.createTask(t, other, "not yours")

	rec, body := s.do(t, http.MethodGet, "/api/tasks/list?page=2&per_page=2", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, body["tasks"], 2)
	p := body["pagination"].(map[string]any)
	assert.EqualValues(t, 5, p["total"])
	assert.EqualValues(t, 3, p["pages"])
	assert.Equal(t, true, p["has_next"])
	assert.Equal(t, true, p["has_prev"])

	_, body = s.do(t, http.MethodGet, "/api/tasks/list?status=completed", token, nil)
	assert.Len(t, body["tasks"], 0)
}

func TestTaskIsScopedToOwner(t *testing.T) {
	s := newTestServer(t, "")
	owner, _ := s.register(t, "ada@example.com")
	other, _ := s.register(t, "bob@example.com")
	id := s.createTask(t, owner, "private")

	rec, _ := s.do(t, http.MethodGet, fmt.Sprintf("/api/tasks/%d", id), owner, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	rec, body := s.do(t, http.MethodGet, fmt.Sprintf("/api/tasks/%d", id), other, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "Task not found", body["error"])
	rec, _ = s.do(t, http.MethodDelete, fmt.Sprintf("/api/tasks/%d", id), other, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestStepsEndpoints(t *testing.T) {
	s := newTestServer(t, "")
	token, _ := s.register(t, "ada@example.com")
	id := s.createTask(t, token, "steps")
	path := fmt.Sprintf("/api/tasks/%d/steps", id)

	rec, body := s.do(t, http.MethodPost, path, token, map[string]string{"step_type": "thought"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Step type and content are required", body["error"])

	rec, body = s.do(t, http.MethodPost, path, token, map[string]string{"step_type": "musing", "content": "hm"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid step type", body["error"])

	for _, st := range []string{"thought", "action"} {
		rec, body = s.do(t, http.MethodPost, path, token, map[string]string{"step_type": st, "content": "c"})
		require.Equal(t, http.StatusCreated, rec.Code)
		assert.Equal(t, "Step added successfully", body["message"])
	}

	rec, body = s.do(t, http.MethodGet, path, token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	steps := body["steps"].([]any)
	require.Len(t, steps, 2)
	assert.EqualValues(t, 1, steps[0].(map[string]any)["step_number"])
	assert.EqualValues(t, 2, steps[1].(map[string]any)["step_number"])
}

func TestUpdateStatus(t *testing.T) {
	s := newTestServer(t, "")
	token, _ := s.register(t, "ada@example.com")
	id := s.createTask(t, token, "status")
	path := fmt.Sprintf("/api/tasks/%d/status", id)

	rec, body := s.do(t, http.MethodPut, path, token, map[string]any{"status": "sleeping"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Invalid status", body["error"])

	for _, p := range []any{101, -1, "50", 12.5} {
		rec, body = s.do(t, http.MethodPut, path, token, map[string]any{"progress": p})
		assert.Equal(t, http.StatusBadRequest, rec.Code, "progress %v", p)
		assert.Equal(t, "Progress must be an integer between 0 and 100", body["error"])
	}

	rec, body = s.do(t, http.MethodPut, path, token, map[string]any{
		"status": "running", "progress": 40, "result_data": map[string]any{"type": "image"},
	})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Task updated successfully", body["message"])
	task := body["task"].(map[string]any)
	assert.Equal(t, "running", task["status"])
	assert.EqualValues(t, 40, task["progress"])

	stored, err := s.store.GetTask(context.Background(), id)
	require.NoError(t, err)
	require.NotNil(t, stored.ResultData)
	assert.JSONEq(t, `{"type":"image"}`, *stored.ResultData)

	rec, _ = s.do(t, http.MethodPut, path, token, map[string]any{"status": "cancelled"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, s.exec.cancelled, id)
}

func TestDeleteTaskCancelsRun(t *testing.T) {
	s := newTestServer(t, "")
	token, _ := s.register(t, "ada@example.com")
	id := s.createTask(t, token, "gone")

	rec, body := s.do(t, http.MethodDelete, fmt.Sprintf("/api/tasks/%d", id), token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Task deleted successfully", body["message"])
	assert.Contains(t, s.exec.cancelled, id)

	_, err := s.store.GetTask(context.Background(), id)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestTaskStats(t *testing.T) {
	s := newTestServer(t, "")
	token, _ := s.register(t, "ada@example.com")
	s.createTask(t, token, "one")
	s.createTask(t, token, "two")

	rec, body := s.do(t, http.MethodGet, "/api/tasks/stats", token, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	stats := body["stats"].(map[string]any)
	assert.EqualValues(t, 2, stats["total"])
	assert.EqualValues(t, 2, stats["pending"])
	assert.EqualValues(t, 0, stats["completed"])
}

func TestExecuteRequiresCredential(t *testing.T) {
	s := newTestServer(t, "")
	token, _ := s.register(t, "ada@example.com")

	rec, body := s.do(t, http.MethodPost, "/api/agent/execute", token, map[string]string{"description": "  "})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Task description is required", body["error"])

	rec, body = s.do(t, http.MethodPost, "/api/agent/execute", token, map[string]string{"description": "draw"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "OpenRouter API key is required", body["error"])

	tasks, total, err := s.store.ListTasks(context.Background(), store.TaskFilter{})
	require.NoError(t, err)
	assert.Zero(t, total, "no task is created without a credential")
	assert.Empty(t, tasks)
}

func TestExecuteSubmitsTask(t *testing.T) {
	s := newTestServer(t, "")
	token, _ := s.register(t, "ada@example.com")

	rec, body := s.do(t, http.MethodPost, "/api/agent/execute", token, map[string]string{
		"description": "draw a cat", "task_type": "image", "api_key": "sk-user",
	})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	assert.Equal(t, "Task execution started", body["message"])
	id := uint(body["task"].(map[string]any)["id"].(float64))
	assert.Equal(t, "sk-user", s.exec.submitted[id])
}

func TestExecutePrefersConfiguredKey(t *testing.T) {
	s := newTestServer(t, "sk-server")
	token, _ := s.register(t, "ada@example.com")

	_, body := s.do(t, http.MethodPost, "/api/agent/execute", token, map[string]string{
		"description": "draw a cat", "api_key": "sk-user",
	})
	id := uint(body["task"].(map[string]any)["id"].(float64))
	assert.Equal(t, "sk-server", s.exec.submitted[id])
}

func TestExecuteQueueFull(t *testing.T) {
	s := newTestServer(t, "sk-server")
	s.exec.err = agent.ErrQueueFull
	token, _ := s.register(t, "ada@example.com")

	rec, _ := s.do(t, http.MethodPost, "/api/agent/execute", token, map[string]string{"description": "busy"})
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)

	tasks, _, err := s.store.ListTasks(context.Background(), store.TaskFilter{})
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, model.StatusFailed, tasks[0].Status)
}

func TestQuickExecute(t *testing.T) {
	s := newTestServer(t, "sk-server")
	token, _ := s.register(t, "ada@example.com")

	rec, body := s.do(t, http.MethodPost, "/api/agent/quick-execute", token, map[string]string{"task_type": "image"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "Task type and prompt are required", body["error"])

	prompt := "a lighthouse on a cliff at sunset, oil painting"
	rec, body = s.do(t, http.MethodPost, "/api/agent/quick-execute", token, map[string]string{
		"task_type": "image", "prompt": prompt,
	})
	require.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "Quick task execution started", body["message"])
	task := body["task"].(map[string]any)
	assert.Equal(t, "Image - "+prompt[:30]+"...", task["title"])
	assert.Equal(t, "生成圖像："+prompt, task["description"])
}

func TestCapabilitiesAndStatus(t *testing.T) {
	s := newTestServer(t, "")

	rec, body := s.do(t, http.MethodGet, "/api/agent/capabilities", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, body["task_types"], len(model.TaskTypes))

	rec, body = s.do(t, http.MethodGet, "/api/agent/status", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "operational", body["status"])
	assert.Equal(t, "healthy", body["database"])
	assert.Equal(t, "missing", body["api_key"])
	assert.EqualValues(t, 10, body["max_iterations"])
	assert.EqualValues(t, 2, body["pool"].(map[string]any)["workers"])
}

func TestCORSPreflight(t *testing.T) {
	s := newTestServer(t, "")
	req := httptest.NewRequest(http.MethodOptions, "/api/tasks/list", nil)
	req.Header.Set("Origin", "http://localhost:3000")
	req.Header.Set("Access-Control-Request-Method", "GET")
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, "http://localhost:3000", rec.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", rec.Header().Get("Access-Control-Allow-Credentials"))
}

func TestRequestIDEchoed(t *testing.T) {
	s := newTestServer(t, "")
	req := httptest.NewRequest(http.MethodGet, "/api/health", nil)
	req.Header.Set("X-Request-ID", "abc-123")
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	assert.Equal(t, "abc-123", rec.Header().Get("X-Request-ID"))
}

func TestQueryTokenOnlyForStream(t *testing.T) {
	s := newTestServer(t, "")
	token, _ := s.register(t, "ada@example.com")

	rec, body := s.do(t, http.MethodGet, "/api/auth/me?token="+token, "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Authentication required", body["error"])

	rec, _ = s.do(t, http.MethodGet, "/api/agent/stream?task_id=999&token="+token, "", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code, "query token authenticates the stream route")
}

func TestTitleCase(t *testing.T) {
	cases := map[string]string{
		"image":        "Image",
		"IMAGE":        "Image",
		"data viz":     "Data Viz",
		"spread-sheet": "Spread-Sheet",
		"web page 2nd": "Web Page 2Nd",
		"":             "",
		"élan vital":   "Élan Vital",
	}
	for in, want := range cases {
		assert.Equal(t, want, titleCase(in), in)
	}
}
