package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/allvegetable/acp-bridge/internal/agent/manager"
	"github.com/allvegetable/acp-bridge/internal/common/config"
	"github.com/allvegetable/acp-bridge/internal/task"
)

func newTestHandler(t *testing.T) (*gin.Engine, *manager.Manager, *task.Scheduler) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	cfg := &config.Config{AskTimeout: 1000, Agents: map[string]config.AgentTypeOverride{}}
	mgr := manager.New(cfg, zap.NewNop())
	sched := task.NewScheduler(task.NewStore(0, 0), mgr, zap.NewNop(), nil, time.Second)

	router := gin.New()
	router.Use(Recovery(zap.NewNop()), RequestLogger(zap.NewNop()), ErrorHandler(zap.NewNop()))
	SetupRoutes(router, mgr, sched, zap.NewNop())
	return router, mgr, sched
}

func TestHealthEndpoint(t *testing.T) {
	router, _, _ := newTestHandler(t)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"ok":true`)
}

func TestDoctorEndpoint(t *testing.T) {
	router, _, _ := newTestHandler(t)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/doctor", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestCreateAgentRejectsEmptyName(t *testing.T) {
	router, _, _ := newTestHandler(t)
	w := httptest.NewRecorder()
	body := bytes.NewBufferString(`{"type": "opencode"}`)
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/agents", body))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetAgentNotFound(t *testing.T) {
	router, _, _ := newTestHandler(t)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/agents/ghost", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestListAgentsEmpty(t *testing.T) {
	router, _, _ := newTestHandler(t)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/agents", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, "[]", w.Body.String())
}

func TestApproveAgentNotFound(t *testing.T) {
	router, _, _ := newTestHandler(t)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/agents/ghost/approve", bytes.NewBufferString(`{}`)))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestDeleteUnknownAgentIsNotFound(t *testing.T) {
	router, _, _ := newTestHandler(t)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodDelete, "/agents/ghost", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCreateTaskAndFetchIt(t *testing.T) {
	router, _, _ := newTestHandler(t)

	createBody := bytes.NewBufferString(`{"name":"t","subtasks":[{"id":"a","agent":"agent-1","prompt":"hi"}]}`)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/tasks", createBody))
	require.Equal(t, http.StatusCreated, w.Code)

	var created struct {
		ID string `json:"id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &created))
	require.NotEmpty(t, created.ID)

	w2 := httptest.NewRecorder()
	router.ServeHTTP(w2, httptest.NewRequest(http.MethodGet, "/tasks/"+created.ID, nil))
	assert.Equal(t, http.StatusOK, w2.Code)
}

func TestCreateTaskRejectsInvalidSpec(t *testing.T) {
	router, _, _ := newTestHandler(t)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/tasks", bytes.NewBufferString(`{"name":"t","subtasks":[]}`)))
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestGetTaskNotFound(t *testing.T) {
	router, _, _ := newTestHandler(t)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/tasks/missing", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}
