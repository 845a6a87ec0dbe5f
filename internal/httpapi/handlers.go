package httpapi

import (
	stderrors "errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/allvegetable/acp-bridge/internal/agent/ask"
	"github.com/allvegetable/acp-bridge/internal/agent/manager"
	acperrors "github.com/allvegetable/acp-bridge/internal/common/errors"
	"github.com/allvegetable/acp-bridge/internal/task"
)

// Handler groups every route's implementation over the agent manager and
// task scheduler.
type Handler struct {
	mgr    *manager.Manager
	sched  *task.Scheduler
	logger *zap.Logger
}

// Health reports liveness and the current agent count.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"ok": true, "agents": h.mgr.Store().Len()})
}

// Doctor runs the no-spawn preflight checks for every known agent type.
func (h *Handler) Doctor(c *gin.Context) {
	results := h.mgr.Doctor(c.Request.Context())
	c.JSON(http.StatusOK, gin.H{"results": results})
}

// createAgentRequest is the POST /agents request body.
type createAgentRequest struct {
	Type    string            `json:"type"`
	Name    string            `json:"name"`
	Cwd     string            `json:"cwd"`
	Command string            `json:"command"`
	Args    []string          `json:"args"`
	Env     map[string]string `json:"env"`
}

// CreateAgent runs preflight, spawns the agent's child, and registers it.
func (h *Handler) CreateAgent(c *gin.Context) {
	var req createAgentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, acperrors.BadRequest(err.Error()))
		return
	}

	rec, err := h.mgr.StartAgent(c.Request.Context(), manager.StartSpec{
		Name: req.Name, Type: req.Type, Cwd: req.Cwd,
		Command: req.Command, Args: req.Args, Env: req.Env,
	})
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, rec.Snapshot())
}

// ListAgents returns every registered agent's status.
func (h *Handler) ListAgents(c *gin.Context) {
	recs := h.mgr.Store().List()
	out := make([]any, 0, len(recs))
	for _, r := range recs {
		out = append(out, r.Snapshot())
	}
	c.JSON(http.StatusOK, out)
}

// GetAgent returns one agent's status.
func (h *Handler) GetAgent(c *gin.Context) {
	rec := h.mgr.Store().Get(c.Param("name"))
	if rec == nil {
		fail(c, acperrors.NotFound("agent", c.Param("name")))
		return
	}
	c.JSON(http.StatusOK, rec.Snapshot())
}

// DiagnoseAgent returns a live agent's deep health report.
func (h *Handler) DiagnoseAgent(c *gin.Context) {
	report, err := h.mgr.Diagnose(c.Request.Context(), c.Param("name"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

type askRequest struct {
	Prompt string `json:"prompt"`
}

type askResponse struct {
	Name       string `json:"name"`
	State      string `json:"state"`
	StopReason string `json:"stopReason"`
	Response   string `json:"response"`
}

// AskAgent sends a single prompt to a live agent, either as a synchronous
// JSON response or as an SSE stream of chunks (spec §6).
func (h *Handler) AskAgent(c *gin.Context) {
	name := c.Param("name")
	var req askRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, acperrors.BadRequest(err.Error()))
		return
	}
	if req.Prompt == "" {
		fail(c, acperrors.BadRequest("prompt must be non-empty"))
		return
	}

	if c.Query("stream") == "true" {
		h.askStream(c, name, req.Prompt)
		return
	}

	result, err := h.mgr.Ask(c.Request.Context(), name, req.Prompt, ask.Options{Timeout: h.mgr.AskTimeout()})
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, askResponse{
		Name: result.Name, State: string(result.State), StopReason: result.StopReason, Response: result.Response,
	})
}

// askStream drives the same ask executor but fans chunks out over SSE
// (spec §6's `chunk`/`done`/`error` frame contract).
func (h *Handler) askStream(c *gin.Context, name, prompt string) {
	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")

	flusher, _ := c.Writer.(http.Flusher)
	onChunk := func(chunk string) {
		c.SSEvent("chunk", gin.H{"chunk": chunk})
		if flusher != nil {
			flusher.Flush()
		}
	}

	result, err := h.mgr.Ask(c.Request.Context(), name, prompt, ask.Options{OnChunk: onChunk, Timeout: h.mgr.AskTimeout()})
	if err != nil {
		status := acperrors.GetHTTPStatus(err)
		c.SSEvent("error", gin.H{"error": errorMessage(err), "statusCode": status})
		if flusher != nil {
			flusher.Flush()
		}
		return
	}
	c.SSEvent("done", askResponse{
		Name: result.Name, State: string(result.State), StopReason: result.StopReason, Response: result.Response,
	})
	if flusher != nil {
		flusher.Flush()
	}
}

func errorMessage(err error) string {
	var appErr *acperrors.AppError
	if stderrors.As(err, &appErr) {
		return appErr.Message
	}
	return err.Error()
}

type optionRequest struct {
	OptionID string `json:"optionId"`
}

// ApproveAgent resolves the head pending permission in favor of approval.
func (h *Handler) ApproveAgent(c *gin.Context) {
	var req optionRequest
	_ = c.ShouldBindJSON(&req)
	selected, err := h.mgr.Approve(c.Param("name"), req.OptionID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"optionId": selected})
}

// DenyAgent resolves the head pending permission in favor of denial.
func (h *Handler) DenyAgent(c *gin.Context) {
	var req optionRequest
	_ = c.ShouldBindJSON(&req)
	selected, err := h.mgr.Deny(c.Param("name"), req.OptionID)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"optionId": selected})
}

// CancelAgent issues an ACP cancel and drains pending permissions.
func (h *Handler) CancelAgent(c *gin.Context) {
	if err := h.mgr.CancelAgent(c.Request.Context(), c.Param("name")); err != nil {
		fail(c, err)
		return
	}
	rec := h.mgr.Store().Get(c.Param("name"))
	if rec == nil {
		fail(c, acperrors.NotFound("agent", c.Param("name")))
		return
	}
	c.JSON(http.StatusOK, rec.Snapshot())
}

// DeleteAgent stops and deregisters an agent.
func (h *Handler) DeleteAgent(c *gin.Context) {
	if err := h.mgr.StopAgent(c.Param("name")); err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"name": c.Param("name"), "state": "stopped"})
}
