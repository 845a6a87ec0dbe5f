package httpapi

import (
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/allvegetable/acp-bridge/internal/agent/manager"
	"github.com/allvegetable/acp-bridge/internal/task"
)

// SetupRoutes registers every endpoint spec §6 specifies on router.
func SetupRoutes(router *gin.Engine, mgr *manager.Manager, sched *task.Scheduler, log *zap.Logger) {
	h := &Handler{mgr: mgr, sched: sched, logger: log}

	router.GET("/health", h.Health)
	router.GET("/doctor", h.Doctor)

	agents := router.Group("/agents")
	{
		agents.POST("", h.CreateAgent)
		agents.GET("", h.ListAgents)
		agents.GET("/:name", h.GetAgent)
		agents.GET("/:name/diagnose", h.DiagnoseAgent)
		agents.POST("/:name/ask", h.AskAgent)
		agents.POST("/:name/approve", h.ApproveAgent)
		agents.POST("/:name/deny", h.DenyAgent)
		agents.POST("/:name/cancel", h.CancelAgent)
		agents.DELETE("/:name", h.DeleteAgent)
	}

	tasks := router.Group("/tasks")
	{
		tasks.POST("", h.CreateTask)
		tasks.GET("", h.ListTasks)
		tasks.GET("/:id", h.GetTask)
		tasks.GET("/:id/subtasks/:subtaskId", h.GetSubtask)
		tasks.DELETE("/:id", h.CancelTask)
	}
}
