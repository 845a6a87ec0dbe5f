package httpapi

import (
	"net/http"

	"github.com/gin-gonic/gin"

	acperrors "github.com/allvegetable/acp-bridge/internal/common/errors"
	"github.com/allvegetable/acp-bridge/internal/task"
)

// createSubtaskRequest is one subtask in a POST /tasks body.
type createSubtaskRequest struct {
	ID        string   `json:"id"`
	Agent     string   `json:"agent"`
	Prompt    string   `json:"prompt"`
	DependsOn []string `json:"dependsOn"`
}

// createTaskRequest is the POST /tasks request body.
type createTaskRequest struct {
	Name     string                 `json:"name"`
	Subtasks []createSubtaskRequest `json:"subtasks"`
}

// CreateTask validates and launches a subtask DAG (spec §4.6).
func (h *Handler) CreateTask(c *gin.Context) {
	var req createTaskRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, acperrors.BadRequest(err.Error()))
		return
	}

	spec := task.Spec{Name: req.Name}
	for _, st := range req.Subtasks {
		spec.Subtasks = append(spec.Subtasks, task.SubtaskSpec{
			ID: st.ID, Agent: st.Agent, Prompt: st.Prompt, DependsOn: st.DependsOn,
		})
	}

	t, err := h.sched.CreateTask(spec)
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, t.Snapshot())
}

// ListTasks returns every task's status.
func (h *Handler) ListTasks(c *gin.Context) {
	tasks := h.sched.Store().List()
	out := make([]any, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, t.Snapshot())
	}
	c.JSON(http.StatusOK, out)
}

// GetTask returns one task's status.
func (h *Handler) GetTask(c *gin.Context) {
	t, ok := h.sched.Store().Get(c.Param("id"))
	if !ok {
		fail(c, acperrors.NotFound("task", c.Param("id")))
		return
	}
	c.JSON(http.StatusOK, t.Snapshot())
}

// GetSubtask returns one subtask's status within its task.
func (h *Handler) GetSubtask(c *gin.Context) {
	t, ok := h.sched.Store().Get(c.Param("id"))
	if !ok {
		fail(c, acperrors.NotFound("task", c.Param("id")))
		return
	}
	sub, ok := t.Subtask(c.Param("subtaskId"))
	if !ok {
		fail(c, acperrors.NotFound("subtask", c.Param("subtaskId")))
		return
	}
	c.JSON(http.StatusOK, sub.Snapshot())
}

// CancelTask cancels a task and every non-terminal subtask within it.
func (h *Handler) CancelTask(c *gin.Context) {
	count, err := h.sched.CancelTask(c.Request.Context(), c.Param("id"))
	if err != nil {
		fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"cancelled": count})
}
